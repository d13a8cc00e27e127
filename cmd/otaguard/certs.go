package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/otaguard/otaguard/encryption"
	"github.com/otaguard/otaguard/util"
)

const (
	defaultCertFile = "ca_cert.pem"
	defaultKeyFile  = "ca_key.pem"
)

type selfSignedOptions struct {
	hosts    []string
	certFile string
	keyFile  string
	validFor time.Duration
	force    bool
}

func newCertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Manage TLS material for authenticated-network distribution",
	}
	cmd.AddCommand(newSelfSignedCmd())
	return cmd
}

func newSelfSignedCmd() *cobra.Command {
	opts := &selfSignedOptions{}

	cmd := &cobra.Command{
		Use:   "selfsigned",
		Short: "Generate a self-signed server certificate for lab networks",
		Long: `Generates an ECDSA P-256 self-signed certificate and key for serve --trust-level
authenticated-network. Devices must pin the printed fingerprint; use a certificate
from a real CA outside the lab.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelfSigned(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.hosts, "hosts", nil, "DNS names and IP addresses the certificate is valid for")
	cmd.Flags().StringVar(&opts.certFile, "cert-file", defaultCertFile, "certificate output file")
	cmd.Flags().StringVar(&opts.keyFile, "cert-key-file", defaultKeyFile, "private key output file")
	cmd.Flags().DurationVar(&opts.validFor, "valid-for", 365*24*time.Hour, "certificate validity")
	cmd.Flags().BoolVar(&opts.force, "force", false, "overwrite existing files")
	if err := cmd.MarkFlagRequired("hosts"); err != nil {
		panic(err)
	}

	return cmd
}

func runSelfSigned(cmd *cobra.Command, opts *selfSignedOptions) error {
	if !opts.force {
		for _, f := range []string{opts.certFile, opts.keyFile} {
			if util.FileExists(f) {
				return fmt.Errorf("%s already exists, use --force to overwrite", f)
			}
		}
	}

	pair, err := encryption.GenerateSelfSigned(opts.hosts, time.Now().Add(-time.Minute), opts.validFor)
	if err != nil {
		return fmt.Errorf("failed to generate certificate: %w", err)
	}

	if err := util.WriteBytesAtomic(cmd.Context(), opts.keyFile, pair.KeyPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	if err := util.WriteBytesAtomic(cmd.Context(), opts.certFile, pair.CertPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}

	tlsConfig, err := encryption.LoadTLSConfig(opts.certFile, opts.keyFile)
	if err != nil {
		return err
	}
	fingerprint, err := encryption.Fingerprint(tlsConfig)
	if err != nil {
		return err
	}

	cmd.Printf("Certificate: %s\n", opts.certFile)
	cmd.Printf("Private key: %s\n", opts.keyFile)
	cmd.Printf("SHA-256 fingerprint: %s\n", fingerprint)
	return nil
}
