package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/otaguard/otaguard/firmware/keystore"
	"github.com/otaguard/otaguard/firmware/pipeline"
	"github.com/otaguard/otaguard/util"
)

type keysOptions struct {
	keysDir string
	keyFile string
	keyBits int
}

func (o *keysOptions) path() string {
	return filepath.Join(o.keysDir, o.keyFile)
}

func newKeysCmd(root *rootOptions) *cobra.Command {
	opts := &keysOptions{}

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the firmware signing key",
	}

	cmd.PersistentFlags().StringVar(&opts.keysDir, "keys-dir", pipeline.DefaultKeysDir, "directory holding the signing key")
	cmd.PersistentFlags().StringVar(&opts.keyFile, "key-file", pipeline.DefaultKeyFile, "signing key file name inside --keys-dir")

	initCmd := &cobra.Command{
		Use:          "init",
		Short:        "Load the signing key, generating it if it does not exist",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()

			store, err := keystore.NewStore(opts.keyBits)
			if err != nil {
				return err
			}
			key, err := store.LoadOrCreate(ctx, opts.path())
			if err != nil {
				return err
			}
			cmd.Printf("Signing key %s (%d bits) at %s\n", key.ID(), key.Bits(), opts.path())
			return nil
		},
	}
	initCmd.Flags().IntVar(&opts.keyBits, "key-bits", keystore.DefaultKeyBits, "modulus size of a newly generated signing key")

	var output string
	exportCmd := &cobra.Command{
		Use:          "export",
		Short:        "Export the public half of the signing key for device provisioning",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keystore.Load(opts.path())
			if err != nil {
				return err
			}
			data, err := key.PublicKeyPEM()
			if err != nil {
				return fmt.Errorf("failed to encode public key: %w", err)
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := util.WriteBytesAtomic(cmd.Context(), output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write public key: %w", err)
			}
			cmd.Printf("Public key %s written to %s\n", key.ID(), output)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "file to write the public key to, stdout when empty")

	retireCmd := &cobra.Command{
		Use:          "retire",
		Short:        "Move the signing key aside so the next signing run generates a new one",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := keystore.NewStore(keystore.DefaultKeyBits)
			if err != nil {
				return err
			}
			retired, err := store.Retire(opts.path())
			if err != nil {
				return err
			}
			cmd.Printf("Signing key retired to %s\n", retired)
			return nil
		},
	}

	cmd.AddCommand(initCmd, exportCmd, retireCmd)
	return cmd
}
