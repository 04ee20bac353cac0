package main

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/packkit/signing"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/canon"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/model"
	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/wconfig"
)

// newSignCmd wires the demo signing path: a file-backed Ed25519 key
// signer, gated behind WEFTEND_ALLOW_DEMO_CRYPTO (spec §6.5). Any
// deployment that has not explicitly opted into demo crypto refuses to
// sign at all here — operators must bring their own signing pipeline
// and call `release verify` against the result instead.
func newSignCmd() *cobra.Command {
	var keyDir, keyID string
	cmd := &cobra.Command{
		Use:   "sign <manifestBody.json>",
		Short: "Sign a manifest body with the demo file-backed Ed25519 signer (requires WEFTEND_ALLOW_DEMO_CRYPTO=true)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := wconfig.Load()
			if err != nil {
				return err
			}
			if !cfg.AllowDemoCrypto {
				return fmt.Errorf("demo crypto is disabled; set WEFTEND_ALLOW_DEMO_CRYPTO=true to use the file-backed signer")
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var body model.ManifestBody
			if err := json.Unmarshal(raw, &body); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			plugin, err := signing.FileKeySignerFromDir(keyDir)
			if err != nil {
				return err
			}
			fileSigner, ok := plugin.(*signing.FileKeySigner)
			if !ok {
				return fmt.Errorf("unexpected signer plugin type %T", plugin)
			}

			data, err := canon.Marshal(body)
			if err != nil {
				return err
			}
			sigBytes, err := fileSigner.Sign(data, string(signing.AlgorithmEd25519))
			if err != nil {
				return err
			}

			pubKeyBytes, err := hex.DecodeString(fileSigner.PublicKeyHex())
			if err != nil {
				return fmt.Errorf("decoding public key: %w", err)
			}

			sig := model.Signature{
				KeyID: keyID,
				Algo:  "ed25519",
				Sig:   base64.StdEncoding.EncodeToString(sigBytes),
			}
			out, err := json.MarshalIndent(struct {
				Signature model.Signature `json:"signature"`
				PublicKey string          `json:"publicKeyBase64"`
			}{sig, base64.StdEncoding.EncodeToString(pubKeyBytes)}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&keyDir, "key-dir", ".weftend/keys", "directory holding (or to generate) the demo signing key")
	cmd.Flags().StringVar(&keyID, "key-id", "default", "key id to record in the signature")
	return cmd
}
