package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/otaguard/otaguard/distribution"
	"github.com/otaguard/otaguard/distribution/delivery"
	"github.com/otaguard/otaguard/firmware/pipeline"
	"github.com/otaguard/otaguard/shared/metrics"
)

const (
	defaultPort            = 8070
	metricsShutdownTimeout = 5 * time.Second
)

type serveOptions struct {
	trustLevel      string
	bindAddress     string
	port            int
	certFile        string
	keyFile         string
	trustedNetworks []string
	artifact        string
	urlPath         string
	watch           bool
	metricsAddress  string
}

func newServeCmd(_ *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the signed artifact to devices",
		Long: `Serves the signed artifact over plain HTTP on a locally controlled address
(--trust-level untrusted-network) or over HTTPS with the configured certificate
(--trust-level authenticated-network). There is no default trust level.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.trustLevel, "trust-level", "", "delivery network trust level: untrusted-network or authenticated-network")
	cmd.Flags().StringVar(&opts.bindAddress, "bind-address", "", "IP address or localhost to listen on")
	cmd.Flags().IntVar(&opts.port, "port", defaultPort, "TCP port to listen on")
	cmd.Flags().StringVar(&opts.certFile, "cert-file", "", "PEM server certificate chain (authenticated-network)")
	cmd.Flags().StringVar(&opts.keyFile, "cert-key-file", "", "PEM server private key (authenticated-network)")
	cmd.Flags().StringSliceVar(&opts.trustedNetworks, "trusted-networks", nil, "additional CIDRs treated as locally controlled")
	cmd.Flags().StringVar(&opts.artifact, "artifact", pipeline.DefaultOutputPath(pipeline.DefaultFirmwarePath), "signed artifact to serve")
	cmd.Flags().StringVar(&opts.urlPath, "url-path", "", "URL path of the artifact (default /<artifact file name>)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "reload the artifact when it is replaced on disk")
	cmd.Flags().StringVar(&opts.metricsAddress, "metrics-address", "", "address of the Prometheus metrics endpoint, disabled when empty")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *serveOptions) error {
	trust, err := distribution.ParseTrustLevel(opts.trustLevel)
	if err != nil {
		return err
	}

	policy, err := distribution.NewPolicy(distribution.Config{
		TrustLevel:      trust,
		BindAddress:     opts.bindAddress,
		Port:            opts.port,
		CertFile:        opts.certFile,
		KeyFile:         opts.keyFile,
		TrustedNetworks: opts.trustedNetworks,
	})
	if err != nil {
		return err
	}

	var (
		meter      metric.Meter
		metricsSrv *metrics.Metrics
	)
	if opts.metricsAddress != "" {
		metricsSrv, err = metrics.NewServer(opts.metricsAddress, "")
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		meter = metricsSrv.Meter
	}

	handler, err := delivery.NewHandler(delivery.Config{
		ArtifactPath: opts.artifact,
		URLPath:      opts.urlPath,
	}, meter)
	if err != nil {
		return err
	}

	session := distribution.NewSession(policy, handler)
	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open distribution session: %w", err)
	}

	if policy.Encrypted() {
		log.Infof("server certificate sha256 fingerprint: %s", policy.CertFingerprint())
	}
	cmd.Printf("Serving %s at %s\n", handler.ArtifactPath(), session.URL(handler.URLPath()))

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Serve(gCtx)
	})
	if opts.watch {
		g.Go(func() error {
			return handler.Watch(gCtx)
		})
	}
	if metricsSrv != nil {
		g.Go(metricsSrv.Serve)
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Infof("distribution session %s stopped", session.ID())
	return err
}
