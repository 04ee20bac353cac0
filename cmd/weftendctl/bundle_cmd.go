package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/packkit/proofbundle"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/evidence"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/release"
)

func newExportBundleCmd() *cobra.Command {
	var keysDir string
	cmd := &cobra.Command{
		Use:   "export-bundle <input.json>",
		Short: "Verify a release and export the verdict as a standalone, re-verifiable bundle",
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

			artifacts := make([]proofbundle.ArtifactDigest, len(input.PresentArtifactDigests))
			for i, d := range input.PresentArtifactDigests {
				artifacts[i] = proofbundle.ArtifactDigest{Name: d, Digest: d}
			}
			bundle, err := proofbundle.Export(proofbundle.ExportOptions{
				RunID:           input.Manifest.ReleaseID,
				EngineVersion:   "weftendctl",
				CreatedAt:       time.Now().UTC().Format(time.RFC3339),
				PlanDigest:      planDigest,
				PolicyDigest:    input.Manifest.ManifestBody.PolicyDigest,
				ArtifactDigests: artifacts,
				Verdict:         verdict,
			})
			if err != nil {
				return err
			}
			return proofbundle.Save(bundle, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&keysDir, "keys", "", "directory of <keyId>.pub trusted key files (required)")
	cmd.MarkFlagRequired("keys")
	return cmd
}

func newVerifyBundleCmd() *cobra.Command {
	var keysDir string
	cmd := &cobra.Command{
		Use:   "verify-bundle <bundle.json>",
		Short: "Independently re-verify a previously exported release bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			bundle, err := proofbundle.Parse(raw)
			if err != nil {
				return err
			}
			var keys map[string]string
			if keysDir != "" {
				trusted, err := loadTrustedKeys(keysDir)
				if err != nil {
					return err
				}
				keys = map[string]string(trusted)
			}
			result := proofbundle.Verify(bundle, keys)
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !result.Valid {
				return fmt.Errorf("bundle verification failed at step %s: %s", result.StepName, result.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keysDir, "keys", "", "directory of <keyId>.pub trusted key files (optional)")
	return cmd
}
