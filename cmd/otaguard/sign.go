package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/otaguard/otaguard/firmware/keystore"
	"github.com/otaguard/otaguard/firmware/pipeline"
	"github.com/otaguard/otaguard/firmware/publish"
	"github.com/otaguard/otaguard/firmware/sign"
)

type signOptions struct {
	firmware        string
	keysDir         string
	keyFile         string
	output          string
	name            string
	firmwareVersion string
	allowDowngrade  bool
	keyBits         int
	publishDir      string
	s3              publish.S3Config
}

func newSignCmd(root *rootOptions) *cobra.Command {
	opts := &signOptions{}

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a firmware image and write the signed artifact",
		Long: `Signs the firmware image with the RSA-PSS signing key and writes payload||signature
next to it, together with a JSON manifest. The signing key is generated on first use.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()
			return runSign(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.firmware, "firmware", pipeline.DefaultFirmwarePath, "firmware image to sign")
	cmd.Flags().StringVar(&opts.keysDir, "keys-dir", pipeline.DefaultKeysDir, "directory holding the signing key")
	cmd.Flags().StringVar(&opts.keyFile, "key-file", pipeline.DefaultKeyFile, "signing key file name inside --keys-dir")
	cmd.Flags().StringVar(&opts.output, "output", "", "artifact path (default <firmware>.signed)")
	cmd.Flags().StringVar(&opts.name, "name", "", "artifact name recorded in the manifest (default firmware file name)")
	cmd.Flags().StringVar(&opts.firmwareVersion, "firmware-version", "", "firmware version recorded in the manifest")
	cmd.Flags().BoolVar(&opts.allowDowngrade, "allow-downgrade", false, "allow replacing an artifact with a lower firmware version")
	cmd.Flags().IntVar(&opts.keyBits, "key-bits", keystore.DefaultKeyBits, "modulus size of a newly generated signing key")
	cmd.Flags().StringVar(&opts.publishDir, "publish-dir", "", "directory to copy the artifact and manifest to")
	cmd.Flags().StringVar(&opts.s3.Bucket, "s3-bucket", "", "S3 bucket to upload the artifact and manifest to")
	cmd.Flags().StringVar(&opts.s3.Prefix, "s3-prefix", "", "key prefix inside --s3-bucket")
	cmd.Flags().StringVar(&opts.s3.Region, "s3-region", "", "S3 region")
	cmd.Flags().StringVar(&opts.s3.Endpoint, "s3-endpoint", "", "S3 compatible endpoint URL")

	return cmd
}

func runSign(ctx context.Context, cmd *cobra.Command, opts *signOptions) error {
	store, err := keystore.NewStore(opts.keyBits)
	if err != nil {
		return err
	}

	publishers, err := opts.publishers(ctx)
	if err != nil {
		return err
	}

	p := pipeline.New(store, sign.NewSigner(), publishers...)
	res, err := p.Run(ctx, pipeline.Config{
		FirmwarePath:    opts.firmware,
		KeyPath:         filepath.Join(opts.keysDir, opts.keyFile),
		OutputPath:      opts.output,
		Name:            opts.name,
		FirmwareVersion: opts.firmwareVersion,
		AllowDowngrade:  opts.allowDowngrade,
	})
	if res != nil {
		printSignResult(cmd, res)
	}
	return err
}

func (o *signOptions) publishers(ctx context.Context) ([]publish.Publisher, error) {
	var publishers []publish.Publisher
	if o.publishDir != "" {
		p, err := publish.NewDirPublisher(o.publishDir)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare publish dir: %w", err)
		}
		publishers = append(publishers, p)
	}
	if o.s3.Bucket != "" {
		p, err := publish.NewS3Publisher(ctx, o.s3)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 publisher: %w", err)
		}
		publishers = append(publishers, p)
	}
	return publishers, nil
}

func printSignResult(cmd *cobra.Command, res *pipeline.Result) {
	cmd.Printf("Signed artifact: %s\n", res.OutputPath)
	cmd.Printf("Key ID:          %s\n", res.Artifact.KeyID)
	cmd.Printf("Original size:   %d bytes\n", res.OriginalSize)
	cmd.Printf("Signed size:     %d bytes\n", res.SignedSize)
	for _, loc := range res.Published {
		cmd.Printf("Published:       %s\n", loc)
	}
}
