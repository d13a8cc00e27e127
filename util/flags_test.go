package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetFlagsFromEnvVars(t *testing.T) {
	var port int
	var keysDir, cert string

	cmd := &cobra.Command{Use: "serve"}
	cmd.PersistentFlags().StringVar(&keysDir, "keys-dir", "secure_keys", "")
	cmd.Flags().IntVar(&port, "listen-port", 8070, "")
	cmd.Flags().StringVar(&cert, "cert-file", "", "")

	t.Setenv("OTAGUARD_KEYS_DIR", "/var/lib/otaguard/keys")
	t.Setenv("OTAGUARD_LISTEN_PORT", "9443")
	t.Setenv("OTAGUARD_CERT_FILE", "/from/env.pem")

	credsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(credsDir, "CERT_FILE"), []byte("/from/creds.pem\n"), 0o600))
	t.Setenv("CREDENTIALS_DIRECTORY", credsDir)

	require.NoError(t, cmd.Flags().Set("listen-port", "8443"))

	SetFlagsFromEnvVars(cmd)

	assert.Equal(t, "/var/lib/otaguard/keys", keysDir)
	assert.Equal(t, 8443, port, "command line wins over environment")
	assert.Equal(t, "/from/creds.pem", cert, "credentials directory wins over environment")
}

func TestFlagNameToUpper(t *testing.T) {
	assert.Equal(t, "TRUSTED_NETWORKS", flagNameToUpper("trusted-networks"))
	assert.Equal(t, "PORT", flagNameToUpper("port"))
}
