package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/evidence"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/examine"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/kernel"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/loader"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/store"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/validate"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/wconfig"
)

func newExamineCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "examine", Short: "Drive the capture, classify, observe, probe, and mint safe-run pipeline"}
	cmd.AddCommand(newExamineSafeRunCmd())
	return cmd
}

// examineRunInput is the on-disk JSON document `examine safe-run` reads:
// the artifact to load, its optional release binding, the raw kernel
// context this load is mediated through, and the examiner's capture
// tree and probe set. Kernel is kept as a raw message so it can be
// decoded onto a properly constructed kernel.NewContext() rather than a
// zero-value struct missing its unexported replay/consent state.
type examineRunInput struct {
	ArtifactDigest     string                 `json:"artifactDigest"`
	ArtifactPayload    []byte                 `json:"artifactPayload"`
	RecoveryCandidates []store.RecoverySource `json:"recoveryCandidates,omitempty"`
	Release            *examine.ReleaseInput  `json:"release,omitempty"`
	Kernel             json.RawMessage        `json:"kernel"`
	Tree               model.CaptureTree      `json:"captureTree"`
	Hint               model.ArtifactKind     `json:"hint,omitempty"`
	ExternalRefs       []string               `json:"externalRefs,omitempty"`
	Probes             []examine.Probe        `json:"probes,omitempty"`
	BaseMessage        kernel.Message         `json:"baseMessage"`
}

func newExamineSafeRunCmd() *cobra.Command {
	var storeRoot, keysDir, boundsPath, runDir string
	cmd := &cobra.Command{
		Use:   "safe-run <input.json>",
		Short: "Verify a release, strict-load an artifact, and mint a safe-run receipt, persisting the full on-disk receipt set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var input examineRunInput
			if err := json.Unmarshal(raw, &input); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			kernelCtx := kernel.NewContext()
			if len(input.Kernel) > 0 {
				if err := json.Unmarshal(input.Kernel, kernelCtx); err != nil {
					return fmt.Errorf("parsing %s kernel context: %w", args[0], err)
				}
			}

			s, err := store.New(storeRoot)
			if err != nil {
				return err
			}
			if _, err := s.Put(input.ArtifactPayload); err != nil {
				return fmt.Errorf("seeding artifact store: %w", err)
			}

			bounds := validate.DefaultBounds()
			if boundsPath != "" {
				bounds, err = wconfig.LoadBounds(boundsPath)
				if err != nil {
					return err
				}
			}

			if input.Release != nil {
				planDigest, err := evidence.PlanDigest(input.Release.Plan)
				if err != nil {
					return err
				}
				input.Release.PlanDigest = planDigest
				keys, err := loadTrustedKeys(keysDir)
				if err != nil {
					return err
				}
				input.Release.TrustedKeys = keys
			}

			receipts, err := examine.Run(examine.RunInput{
				Store:                  s,
				ExpectedArtifactDigest: input.ArtifactDigest,
				Payload:                input.ArtifactPayload,
				RecoveryCandidates:     input.RecoveryCandidates,
				Release:                input.Release,
				KernelCtx:              kernelCtx,
				Tree:                   input.Tree,
				Hint:                   input.Hint,
				ExternalRefs:           input.ExternalRefs,
				Probes:                 input.Probes,
				BaseMsg:                input.BaseMessage,
				Bounds:                 bounds,
			})
			if err != nil {
				return err
			}

			if runDir != "" {
				if err := examine.Persist(runDir, receipts); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(receipts.SafeRunReceipt))
			if receipts.LoadResult.Verdict != loader.VerdictAllow {
				return fmt.Errorf("safe-run did not reach ALLOW: %s", receipts.LoadResult.Verdict)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&storeRoot, "store", "store", "artifact store root the payload is seeded into before loading")
	cmd.Flags().StringVar(&keysDir, "keys", "", "directory of <keyId>.pub trusted key files (required when the input carries a release binding)")
	cmd.Flags().StringVar(&boundsPath, "bounds", "", "bounds YAML override (defaults to validate.DefaultBounds())")
	cmd.Flags().StringVar(&runDir, "run-dir", "", "directory to persist the safe_run_receipt.json/operator_receipt.json/report_card*/wrapper_result.txt set under (skipped if empty)")
	return cmd
}
