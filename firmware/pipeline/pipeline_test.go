package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otaguard/otaguard/firmware/artifact"
	"github.com/otaguard/otaguard/firmware/keystore"
	"github.com/otaguard/otaguard/firmware/publish"
	"github.com/otaguard/otaguard/firmware/sign"
	"github.com/otaguard/otaguard/status"
)

var (
	keyOnce  sync.Once
	fixedKey *keystore.SigningKey
)

type staticKeys struct {
	calls int
}

func (s *staticKeys) LoadOrCreate(context.Context, string) (*keystore.SigningKey, error) {
	s.calls++
	keyOnce.Do(func() {
		k, err := keystore.Generate(keystore.MinKeyBits)
		if err != nil {
			panic(err)
		}
		fixedKey = k
	})
	return fixedKey, nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string) (string, error) {
	return "", errors.New("bucket unreachable")
}

func writeFirmware(t *testing.T, dir string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, "build", "hello_world.bin")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestRunHelloWorld(t *testing.T) {
	dir := t.TempDir()
	fw := writeFirmware(t, dir, []byte("HELLOWORLDHELLOWRLD!"))
	keyPath := filepath.Join(dir, DefaultKeysDir, DefaultKeyFile)

	store, err := keystore.NewStore(0)
	require.NoError(t, err)
	publishDir := filepath.Join(dir, "www")
	dirPub, err := publish.NewDirPublisher(publishDir)
	require.NoError(t, err)

	p := New(store, sign.NewSigner(), dirPub)
	res, err := p.Run(context.Background(), Config{FirmwarePath: fw, KeyPath: keyPath})
	require.NoError(t, err)

	assert.Equal(t, fw+".signed", res.OutputPath)
	assert.Equal(t, 20, res.OriginalSize)
	assert.Equal(t, 404, res.SignedSize)
	assert.Equal(t, []string{filepath.Join(publishDir, "hello_world.bin.signed")}, res.Published)

	wire, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	require.Len(t, wire, 404)
	assert.Equal(t, []byte("HELLOWORLDHELLOWRLD!"), wire[:20])

	key, err := keystore.Load(keyPath)
	require.NoError(t, err)

	a, m, err := artifact.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "hello_world.bin", m.Name)
	assert.Equal(t, key.ID(), m.KeyID)
	require.NoError(t, sign.Verify(a, key.PublicKey()))

	published, err := os.ReadFile(res.Published[0])
	require.NoError(t, err)
	assert.Equal(t, wire, published)
}

func TestRunMissingFirmwareDoesNotTouchKeys(t *testing.T) {
	dir := t.TempDir()
	keys := &staticKeys{}

	_, err := New(keys, sign.NewSigner()).Run(context.Background(), Config{
		FirmwarePath: filepath.Join(dir, "build", "hello_world.bin"),
		KeyPath:      filepath.Join(dir, "key.pem"),
	})
	require.Error(t, err)
	sErr, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, status.MissingInput, sErr.Type())
	assert.Equal(t, filepath.Join(dir, "build", "hello_world.bin"), sErr.Path)
	assert.Zero(t, keys.calls, "no key is loaded or generated without firmware")
	assert.NoFileExists(t, filepath.Join(dir, "build", "hello_world.bin.signed"))
}

func TestRunEmptyFirmware(t *testing.T) {
	dir := t.TempDir()
	fw := writeFirmware(t, dir, nil)

	_, err := New(&staticKeys{}, sign.NewSigner()).Run(context.Background(), Config{FirmwarePath: fw, KeyPath: "k.pem"})
	assert.True(t, status.IsType(err, status.InvalidPayload))
	assert.NoFileExists(t, fw+".signed")
}

func TestRunKeyLoadFailure(t *testing.T) {
	dir := t.TempDir()
	fw := writeFirmware(t, dir, []byte("firmware"))
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0o600))

	store, err := keystore.NewStore(0)
	require.NoError(t, err)

	_, err = New(store, sign.NewSigner()).Run(context.Background(), Config{FirmwarePath: fw, KeyPath: keyPath})
	assert.True(t, status.IsType(err, status.KeyLoad))
	assert.NoFileExists(t, fw+".signed")
}

func TestRunRefusesDowngrade(t *testing.T) {
	dir := t.TempDir()
	fw := writeFirmware(t, dir, []byte("firmware v2"))
	p := New(&staticKeys{}, sign.NewSigner())

	_, err := p.Run(context.Background(), Config{FirmwarePath: fw, KeyPath: "k.pem", FirmwareVersion: "2.0.0"})
	require.NoError(t, err)
	before, err := os.ReadFile(fw + ".signed")
	require.NoError(t, err)

	_, err = p.Run(context.Background(), Config{FirmwarePath: fw, KeyPath: "k.pem", FirmwareVersion: "1.9.0"})
	require.Error(t, err)
	assert.True(t, status.IsType(err, status.InvalidPayload))
	after, err := os.ReadFile(fw + ".signed")
	require.NoError(t, err)
	assert.Equal(t, before, after, "refused run must not replace the artifact")

	res, err := p.Run(context.Background(), Config{FirmwarePath: fw, KeyPath: "k.pem", FirmwareVersion: "1.9.0", AllowDowngrade: true})
	require.NoError(t, err)
	assert.Equal(t, "1.9.0", res.Manifest.FirmwareVersion)

	_, err = p.Run(context.Background(), Config{FirmwarePath: fw, KeyPath: "k.pem", FirmwareVersion: "banana"})
	assert.True(t, status.IsType(err, status.InvalidPayload))
}

func TestRunPublishFailure(t *testing.T) {
	dir := t.TempDir()
	fw := writeFirmware(t, dir, []byte("firmware"))

	res, err := New(&staticKeys{}, sign.NewSigner(), failingPublisher{}).Run(context.Background(), Config{FirmwarePath: fw, KeyPath: "k.pem"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unreachable")
	require.NotNil(t, res)
	assert.FileExists(t, res.OutputPath)
}

func TestRunCanceled(t *testing.T) {
	dir := t.TempDir()
	fw := writeFirmware(t, dir, []byte("firmware"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(&staticKeys{}, sign.NewSigner()).Run(ctx, Config{FirmwarePath: fw, KeyPath: "k.pem"})
	require.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, fw+".signed")
}
