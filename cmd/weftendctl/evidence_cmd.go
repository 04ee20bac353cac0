package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/canon"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/evidence"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/wconfig"
)

// evaluateInput is the on-disk JSON document `evidence evaluate` reads:
// a graph and its evidence set. The policy file to apply is named by the
// --policy flag, not by this document.
type evaluateInput struct {
	Graph    evidence.GraphManifest `json:"graph"`
	Evidence []model.EvidenceRecord `json:"evidence"`
}

func newEvidenceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "evidence", Short: "Evaluate evidence against a trust policy"}
	cmd.AddCommand(newEvidenceEvaluateCmd())
	return cmd
}

func newEvidenceEvaluateCmd() *cobra.Command {
	var policyPath string
	cmd := &cobra.Command{
		Use:   "evaluate <input.json>",
		Short: "Evaluate a graph + evidence set against a policy file and print the resulting plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var input evaluateInput
			if err := json.Unmarshal(raw, &input); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			policy, err := wconfig.LoadTrustPolicy(policyPath)
			if err != nil {
				return err
			}
			policyDigest, err := canon.Digest(canon.FamilySHA256, policy)
			if err != nil {
				return err
			}

			result, plan, err := evidence.Evaluate(input.Graph, input.Evidence, policy, policyDigest)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(struct {
				Trust evidence.TrustResult `json:"trust"`
				Plan  model.ExecutionPlan  `json:"plan"`
			}{result, plan}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&policyPath, "policy", "", "trust policy YAML file (required)")
	cmd.MarkFlagRequired("policy")
	return cmd
}
