package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/verify360"
)

func new360Cmd() *cobra.Command {
	cmd := &cobra.Command{Use: "360", Short: "Drive and inspect the Verify-360 gate"}
	cmd.AddCommand(new360RunCmd())
	return cmd
}

// stageResult is one named stage the gate is driven through, read from
// the input file in order; the CLI never invents a stage's outcome.
type stageResult struct {
	State verify360.State `json:"state"`
	OK    bool            `json:"ok"`
	Fail  []string        `json:"failReasons,omitempty"`
}

type runInput struct {
	RunID                  string        `json:"runId"`
	GateContextDigest      string        `json:"gateContextDigest"`
	PriorRunID             string        `json:"priorRunId,omitempty"`
	PriorReceiptFileDigest string        `json:"priorReceiptFileDigest,omitempty"`
	IsReplay               bool          `json:"isReplay"`
	Stages                 []stageResult `json:"stages"`
}

func new360RunCmd() *cobra.Command {
	var historyDir string
	var seq int
	cmd := &cobra.Command{
		Use:   "run <input.json>",
		Short: "Drive the Verify-360 gate through a sequence of staged results, persist history/run_<seq>/, and advance latest.txt on success",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var input runInput
			if err := json.Unmarshal(raw, &input); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			gate := verify360.NewGate(input.RunID, input.GateContextDigest, input.PriorRunID, input.PriorReceiptFileDigest)
			for _, stage := range input.Stages {
				if !gate.Advance(stage.State, stage.OK) {
					gate.Fail(stage.Fail...)
					break
				}
			}

			receipt, err := gate.Receipt(input.IsReplay)
			if err != nil {
				return err
			}
			out, err := verify360.MarshalReceipt(receipt)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if historyDir != "" {
				runDir, err := verify360.RunDir(historyDir, seq)
				if err != nil {
					return err
				}
				triple := verify360.StagedTriple{
					Receipt:        out,
					Report:         []byte(fmt.Sprintf("run %s: final state %s\n", receipt.RunID, receipt.FinalState)),
					OutputManifest: []byte("{}"),
				}
				if err := verify360.PersistRun(runDir, triple); err != nil {
					return err
				}
				if verify360.ShouldAdvancePointer(receipt) {
					if err := verify360.AdvanceLatest(historyDir, receipt.RunID); err != nil {
						return err
					}
				}
			}

			if !verify360.ShouldAdvancePointer(receipt) {
				return fmt.Errorf("run did not reach a pointer-advancing RECORDED state")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&historyDir, "history-dir", "", "directory to persist history/run_<seq>/ and latest.txt under (skipped if empty)")
	cmd.Flags().IntVar(&seq, "seq", 1, "run sequence number used to name history/run_<seq>/")
	return cmd
}
