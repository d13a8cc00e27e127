package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/otaguard/otaguard/firmware/artifact"
	"github.com/otaguard/otaguard/firmware/keystore"
	"github.com/otaguard/otaguard/firmware/pipeline"
	"github.com/otaguard/otaguard/firmware/sign"
	"github.com/otaguard/otaguard/status"
)

type verifyOptions struct {
	artifact  string
	publicKey string
	keyPath   string
}

func newVerifyCmd() *cobra.Command {
	opts := &verifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a signed artifact the way a device does",
		Long: `Checks the artifact against its manifest and verifies the RSA-PSS signature.
An artifact without a manifest is split at the modulus size of each trusted key.
With --public-key the PEM file may hold several keys; the one matching the artifact's
key id is used. Without it the public half of the signing key is used.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.artifact, "artifact", pipeline.DefaultOutputPath(pipeline.DefaultFirmwarePath), "signed artifact to verify")
	cmd.Flags().StringVar(&opts.publicKey, "public-key", "", "PEM file with one or more trusted public keys")
	cmd.Flags().StringVar(&opts.keyPath, "key", filepath.Join(pipeline.DefaultKeysDir, pipeline.DefaultKeyFile), "signing key used when --public-key is not set")

	return cmd
}

func runVerify(cmd *cobra.Command, opts *verifyOptions) error {
	a, manifest, err := artifact.ReadFile(opts.artifact)
	switch {
	case errors.Is(err, artifact.ErrNoManifest):
		return runVerifyBare(cmd, opts)
	case err != nil:
		return err
	}

	keys, err := opts.trustedKeys()
	if err != nil {
		return err
	}

	if len(keys) == 1 {
		err = sign.Verify(a, keys[0])
	} else {
		err = sign.VerifyKeyring(a, keys)
	}
	if err != nil {
		return err
	}

	cmd.Printf("Artifact %s verified with key %s\n", opts.artifact, a.KeyID)
	if manifest.FirmwareVersion != "" {
		cmd.Printf("Firmware version: %s\n", manifest.FirmwareVersion)
	}
	cmd.Printf("Signed at: %s\n", manifest.SignedAt.Format(time.RFC3339))
	return nil
}

// runVerifyBare checks an artifact copied without its manifest, splitting it at the
// modulus size of each trusted key
func runVerifyBare(cmd *cobra.Command, opts *verifyOptions) error {
	b, err := artifact.ReadBytes(opts.artifact)
	if err != nil {
		return err
	}

	keys, err := opts.trustedKeys()
	if err != nil {
		return err
	}

	log.Warnf("no manifest next to %s, verifying the raw artifact", opts.artifact)
	_, pub, err := sign.VerifyBare(b, keys)
	if err != nil {
		return err
	}

	cmd.Printf("Artifact %s verified with key %s (no manifest)\n", opts.artifact, pub.ID)
	return nil
}

func (o *verifyOptions) trustedKeys() ([]keystore.PublicKey, error) {
	if o.publicKey == "" {
		key, err := keystore.Load(o.keyPath)
		if err != nil {
			return nil, err
		}
		return []keystore.PublicKey{key.PublicKey()}, nil
	}

	data, err := os.ReadFile(o.publicKey)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.NewMissingInputError(o.publicKey, err)
		}
		return nil, fmt.Errorf("read public key: %w", err)
	}
	keys, err := keystore.ParsePublicKeyBundle(data)
	if err != nil {
		return nil, status.NewKeyLoadError(o.publicKey, err)
	}
	return keys, nil
}
