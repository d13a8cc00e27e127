package util

import (
	"os"
	"path"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to the upper-cased flag name to build its environment variable
const EnvPrefix = "OTAGUARD_"

// SetFlagsFromEnvVars reads and updates flag values from environment variables with prefix OTAGUARD_.
// Both persistent and local flags of cmd are visited. Flags explicitly set on the command line win.
func SetFlagsFromEnvVars(cmd *cobra.Command) {
	// Fetch the credentials directory if it exists
	credsDir, present := os.LookupEnv("CREDENTIALS_DIRECTORY")

	apply := func(flags *pflag.FlagSet) {
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				return
			}
			name := flagNameToUpper(f.Name)

			// Try to get the value from the credential directory
			if present {
				data, e := os.ReadFile(path.Join(credsDir, name))
				if e == nil {
					err := flags.Set(f.Name, strings.TrimSuffix(string(data), "\n"))
					if err != nil {
						log.Infof("unable to configure flag %s using credential %s, err: %v", f.Name, name, err)
					} else {
						return
					}
				}
			}

			// Fallback to env variable, which is constructed by adding the required prefix
			// E.g. LISTEN_PORT -> OTAGUARD_LISTEN_PORT
			envName := EnvPrefix + name

			if value, varPresent := os.LookupEnv(envName); varPresent {
				err := flags.Set(f.Name, value)
				if err != nil {
					log.Infof("unable to configure flag %s using variable %s, err: %v", f.Name, envName, err)
				}
			}
		})
	}

	apply(cmd.PersistentFlags())
	apply(cmd.Flags())
}

// flagNameToUpper converts a flag name to its corresponding base env name
// replacing dashes by underscores and making the result uppercase
// E.g. listen-port -> LISTEN_PORT
func flagNameToUpper(cmdFlag string) string {
	return strings.ToUpper(strings.ReplaceAll(cmdFlag, "-", "_"))
}
