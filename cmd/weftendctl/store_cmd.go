package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diblac17-eng/WeftEnd-sub004/internal/weft/store"
)

func newStoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Read and write the content-addressed artifact store",
	}
	cmd.AddCommand(newStorePutCmd())
	cmd.AddCommand(newStoreGetCmd())
	return cmd
}

func newStorePutCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Write a file into the store and print its digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.New(root)
			if err != nil {
				return err
			}
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			digest, err := s.Put(payload)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), digest)
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", ".weftend/store", "store root directory")
	return cmd
}

func newStoreGetCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "get <digest>",
		Short: "Read an object's payload by digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.New(root)
			if err != nil {
				return err
			}
			result := s.Get(args[0])
			if !result.IsOK() {
				return fmt.Errorf("%s: %s", result.Issues[0].Code, result.Issues[0].Detail)
			}
			_, err = cmd.OutOrStdout().Write(result.Value)
			return err
		},
	}
	cmd.Flags().StringVar(&root, "root", ".weftend/store", "store root directory")
	return cmd
}
