package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/evidence"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/release"
)

func newReleaseCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "release", Short: "Verify a release manifest against a plan and trusted keys"}
	cmd.AddCommand(newReleaseVerifyCmd())
	cmd.AddCommand(newSignCmd())
	cmd.AddCommand(newExportBundleCmd())
	cmd.AddCommand(newVerifyBundleCmd())
	return cmd
}

// releaseVerifyInput is the on-disk JSON document `release verify` reads.
type releaseVerifyInput struct {
	Manifest               model.ReleaseManifest `json:"manifest"`
	Plan                   model.ExecutionPlan   `json:"plan"`
	PresentArtifactDigests []string              `json:"presentArtifactDigests"`
}

func newReleaseVerifyCmd() *cobra.Command {
	var keysDir string
	cmd := &cobra.Command{
		Use:   "verify <input.json>",
		Short: "Verify a release manifest, printing OK, UNVERIFIED, or MAYBE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var input releaseVerifyInput
			if err := json.Unmarshal(raw, &input); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			planDigest, err := evidence.PlanDigest(input.Plan)
			if err != nil {
				return err
			}
			keys, err := loadTrustedKeys(keysDir)
			if err != nil {
				return err
			}

			verdict, err := release.Verify(input.Manifest, input.Plan, planDigest, input.PresentArtifactDigests, keys)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(verdict, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if verdict.Outcome != release.OutcomeOK {
				return fmt.Errorf("release verification did not pass: %s", verdict.Outcome)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keysDir, "keys", "", "directory of <keyId>.pub trusted key files (required)")
	cmd.MarkFlagRequired("keys")
	return cmd
}

// loadTrustedKeys reads every *.pub file in dir as a base64 Ed25519
// public key, keyed by its filename without the extension. A single
// unreadable key file does not abort the others; every failure is
// collected and reported together.
func loadTrustedKeys(dir string) (release.TrustedKeys, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	keys := make(release.TrustedKeys)
	var errs *multierror.Error
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".pub" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("reading %s: %w", entry.Name(), err))
			continue
		}
		keyID := entry.Name()[:len(entry.Name())-len(".pub")]
		keys[keyID] = string(raw)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return keys, nil
}
