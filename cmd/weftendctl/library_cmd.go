package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/packkit/lockfile"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/library"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
)

func newLibraryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "library", Short: "Compare runs against an explicitly accepted baseline"}
	cmd.AddCommand(newLibraryCompareCmd())
	cmd.AddCommand(newLibraryAcceptBaselineCmd())
	cmd.AddCommand(newLibraryRecordRunCmd())
	return cmd
}

type compareInput struct {
	Baseline         library.RunRecord `json:"baseline"`
	Candidate        library.RunRecord `json:"candidate"`
	BaselineFrozen   bool              `json:"baselineFrozen"`
	BaselineAccepted bool              `json:"baselineAccepted"`
}

func newLibraryCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <input.json>",
		Short: "Compare a candidate run against a baseline run and print the bucketed diff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var input compareInput
			if err := json.Unmarshal(raw, &input); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			buckets, verdict := library.Compare(input.Baseline, input.Candidate, input.BaselineFrozen, input.BaselineAccepted)
			out, err := json.MarshalIndent(struct {
				Verdict string   `json:"verdict"`
				Buckets []string `json:"buckets"`
			}{string(verdict), bucketStrings(buckets)}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	return cmd
}

func newLibraryAcceptBaselineCmd() *cobra.Command {
	var lockPath string
	cmd := &cobra.Command{
		Use:   "accept-baseline <targetKey> <releaseId> <artifactDigest>",
		Short: "Explicitly accept a release as a target's comparison baseline",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			lf, err := lockfile.Read(lockPath)
			if err != nil {
				return err
			}
			lf.Accept(args[0], args[1], args[2])
			if err := lockfile.Write(lockPath, lf); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "accepted %s as baseline for %s\n", args[1], args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&lockPath, "lockfile", "weftend.lock.json", "path to the accepted-baseline ledger")
	return cmd
}

// recordRunInput is the on-disk shape for `library record-run`: the
// run's comparable record plus its persisted receipt artifacts.
type recordRunInput struct {
	TargetKey        string            `json:"targetKey"`
	Run              library.RunRecord `json:"run"`
	BaselineFrozen   bool              `json:"baselineFrozen"`
	BaselineAccepted bool              `json:"baselineAccepted"`
	SafeRunReceipt   json.RawMessage   `json:"safeRunReceipt,omitempty"`
	OperatorReceipt  json.RawMessage   `json:"operatorReceipt,omitempty"`
	ReportCard       string            `json:"reportCard,omitempty"`
	ReportCardV0     json.RawMessage   `json:"reportCardV0,omitempty"`
}

func newLibraryRecordRunCmd() *cobra.Command {
	var libraryRoot string
	var lastNCap int
	cmd := &cobra.Command{
		Use:   "record-run <input.json>",
		Short: "Persist a run's receipts under runs/<runId>/, compare it against the target's accepted baseline, and update view_state.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var input recordRunInput
			if err := json.Unmarshal(raw, &input); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}
			targetKey := library.SanitizeTargetKey(input.TargetKey)

			artifacts := library.RunArtifacts{
				SafeRunReceipt:  []byte(input.SafeRunReceipt),
				OperatorReceipt: []byte(input.OperatorReceipt),
				ReportCard:      []byte(input.ReportCard),
				ReportCardV0:    []byte(input.ReportCardV0),
			}
			if err := library.PersistRun(libraryRoot, targetKey, input.Run.RunID, input.Run, artifacts); err != nil {
				return err
			}

			view, err := library.LoadViewState(libraryRoot, targetKey, lastNCap)
			if err != nil {
				return err
			}

			var verdict model.Verdict = model.VerdictSame
			var buckets []model.Bucket
			if view.State.BaselineRunID != "" && view.State.BaselineRunID != input.Run.RunID {
				baseline, err := library.LoadRunRecord(libraryRoot, targetKey, view.State.BaselineRunID)
				if err != nil {
					return fmt.Errorf("loading baseline run %s: %w", view.State.BaselineRunID, err)
				}
				buckets, verdict = library.Compare(baseline, input.Run, input.BaselineFrozen, input.BaselineAccepted)
			}

			view.RecordRun(model.RunEntry{
				RunID:             input.Run.RunID,
				VerdictVsBaseline: verdict,
				Buckets:           buckets,
			})
			if err := view.Save(libraryRoot, targetKey); err != nil {
				return err
			}

			out, err := json.MarshalIndent(struct {
				Verdict string   `json:"verdict"`
				Buckets []string `json:"buckets"`
			}{string(verdict), bucketStrings(buckets)}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&libraryRoot, "library-root", "library", "root directory the per-target runs/ and view/ trees live under")
	cmd.Flags().IntVar(&lastNCap, "last-n", 50, "number of most recent runs view_state.json retains")
	return cmd
}

func bucketStrings(buckets []model.Bucket) []string {
	out := make([]string, len(buckets))
	for i, b := range buckets {
		out[i] = string(b)
	}
	return out
}
