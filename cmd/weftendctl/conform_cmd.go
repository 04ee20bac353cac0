package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/diblac17-eng/WeftEnd-sub004/pack-devkit/harness"
)

// newConformCmd wires the evidence-evaluator conformance harness
// (pack-devkit/harness) into weftendctl: a directory of golden fixtures
// in, pass/fail plus plan-digest determinism results out.
func newConformCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conform <fixturesDir>",
		Short: "Run evidence-evaluator conformance fixtures from a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner := harness.NewRunner(args[0])
			results, err := runner.RunAll()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(results, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			for _, r := range results {
				if !r.Passed {
					return fmt.Errorf("conformance fixture %s failed", r.FixtureName)
				}
			}
			return nil
		},
	}
	return cmd
}
