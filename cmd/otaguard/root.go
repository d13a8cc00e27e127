package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/otaguard/otaguard/config"
	"github.com/otaguard/otaguard/status"
	"github.com/otaguard/otaguard/util"
)

type rootOptions struct {
	logLevel   string
	logFile    string
	logFormat  string
	configFile string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "otaguard",
		Short: "Sign firmware images and distribute them to devices",
		Long: `otaguard signs firmware images with RSA-PSS and serves the signed artifacts to devices
over a transport chosen by the network trust level.

Every flag can also be set through an OTAGUARD_<FLAG_NAME> environment variable
(for example OTAGUARD_TRUST_LEVEL) or in the YAML file passed with --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: panic, fatal, error, warn, info, debug, trace")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", util.LogConsole, "log file path, or console for stderr")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", util.LogFormatText, "log format: text or json")
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML configuration file")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall deadline for one-shot commands")

	cmd.AddCommand(
		newSignCmd(opts),
		newServeCmd(opts),
		newVerifyCmd(),
		newKeysCmd(opts),
		newCertsCmd(),
		newVersionCmd(),
	)
	return cmd
}

// setup fills flags not given on the command line from the environment, then fills the
// still unset ones from the config file, then initializes logging. Flags set from the
// environment count as changed, so the file never overrides them.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	util.SetFlagsFromEnvVars(cmd)

	if o.configFile != "" {
		f, err := config.Load(o.configFile)
		if err != nil {
			return err
		}
		if err := f.Apply(configSection(cmd), cmd.Flags()); err != nil {
			return err
		}
	}

	if err := util.InitLog(o.logLevel, o.logFile, o.logFormat); err != nil {
		return fmt.Errorf("failed to initialize log: %w", err)
	}
	log.Debugf("running %s", cmd.CommandPath())
	return nil
}

// configSection names the YAML section of a command: "sign", "serve", "keys init"
func configSection(cmd *cobra.Command) string {
	return strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name()+" ")
}

// exitCode maps error types to distinct exit codes so that build pipelines can tell them apart
func exitCode(err error) int {
	var sErr *status.Error
	if !errors.As(err, &sErr) {
		return 1
	}
	switch sErr.Type() {
	case status.MissingInput:
		return 3
	case status.KeyLoad:
		return 4
	case status.InvalidPayload:
		return 5
	case status.Signing:
		return 6
	case status.MalformedArtifact:
		return 7
	case status.TransportConfig:
		return 8
	case status.Verification:
		return 9
	default:
		return 1
	}
}
