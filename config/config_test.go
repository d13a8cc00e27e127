package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
log-level: debug
serve:
  trust-level: untrusted-network
  bind-address: 192.168.4.1
  port: 8070
  trusted-networks:
    - 192.168.4.0/24
    - 10.10.0.0/16
sign:
  firmware: build/app.bin
`

func serveFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.String("log-level", "info", "")
	fs.String("trust-level", "", "")
	fs.String("bind-address", "", "")
	fs.Int("port", 8070, "")
	fs.StringSlice("trusted-networks", nil, "")
	return fs
}

func TestApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otaguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	f, err := Load(path)
	require.NoError(t, err)

	fs := serveFlags()
	require.NoError(t, fs.Parse([]string{"--port", "9000"}))
	require.NoError(t, f.Apply("serve", fs))

	level, _ := fs.GetString("log-level")
	trust, _ := fs.GetString("trust-level")
	addr, _ := fs.GetString("bind-address")
	port, _ := fs.GetInt("port")
	nets, _ := fs.GetStringSlice("trusted-networks")

	assert.Equal(t, "debug", level)
	assert.Equal(t, "untrusted-network", trust)
	assert.Equal(t, "192.168.4.1", addr)
	assert.Equal(t, 9000, port, "command line wins over the file")
	assert.Equal(t, []string{"192.168.4.0/24", "10.10.0.0/16"}, nets)
}

func TestApplyUnknownOption(t *testing.T) {
	f, err := Parse("inline", []byte("serve:\n  listen: 1.2.3.4\n  port: 80\n"))
	require.NoError(t, err)

	err = f.Apply("serve", serveFlags())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown option serve.listen")
}

func TestApplyOtherCommandSectionIgnored(t *testing.T) {
	f, err := Parse("inline", []byte(sample))
	require.NoError(t, err)

	fs := pflag.NewFlagSet("version", pflag.ContinueOnError)
	fs.String("log-level", "info", "")
	require.NoError(t, f.Apply("version", fs))
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("inline", []byte("serve: [unclosed"))
	assert.Error(t, err)

	f, err := Parse("inline", []byte("port: abc\n"))
	require.NoError(t, err)
	assert.Error(t, f.Apply("serve", serveFlags()))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
