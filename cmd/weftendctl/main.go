// Command weftendctl is the thin CLI host for WeftEnd's core library.
// Its argument parsing sits outside the deterministic C1–C11 core (an
// external collaborator, same as the rest of the CLI boundary); every
// subcommand's work is delegated to an internal/weft/* package.
// Grounded on reachctl's subcommand dispatch shape, rebuilt on
// github.com/spf13/cobra the way sigstore-policy-controller's
// cmd/localk8s root command is structured.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "weftendctl",
		Short:         "Evaluate, verify, and load WeftEnd artifacts",
		Long:          "weftendctl hosts WeftEnd's artifact evidence evaluator, release verifier, and capability-mediated loader as a command-line tool.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newStoreCmd())
	root.AddCommand(newEvidenceCmd())
	root.AddCommand(newReleaseCmd())
	root.AddCommand(newLibraryCmd())
	root.AddCommand(new360Cmd())
	root.AddCommand(newConformCmd())
	root.AddCommand(newExamineCmd())

	return root
}
