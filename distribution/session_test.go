package distribution

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hello = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("HELLOWORLDHELLOWRLD!"))
})

func serveInBackground(t *testing.T, s *Session) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx)
	}()
	return cancel, done
}

func waitServe(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestSessionPlaintext(t *testing.T) {
	p, err := NewPolicy(Config{TrustLevel: TrustUntrusted, BindAddress: "127.0.0.1", Port: freePort(t)})
	require.NoError(t, err)

	s := NewSession(p, hello)
	require.NotEmpty(t, s.ID())
	assert.Nil(t, s.Addr())
	require.NoError(t, s.Open())
	assert.ErrorIs(t, s.Open(), ErrSessionOpen)

	cancel, done := serveInBackground(t, s)

	resp, err := http.Get(s.URL("/hello_world.bin.signed"))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "HELLOWORLDHELLOWRLD!", string(body))

	cancel()
	waitServe(t, done)

	// listener released
	ln, err := net.Listen("tcp", p.Address())
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Open(), ErrSessionClosed)
}

func TestSessionTLS(t *testing.T) {
	certFile, keyFile := writeCert(t)
	p, err := NewPolicy(Config{
		TrustLevel:  TrustAuthenticated,
		BindAddress: "127.0.0.1",
		Port:        freePort(t),
		CertFile:    certFile,
		KeyFile:     keyFile,
	})
	require.NoError(t, err)

	s := NewSession(p, hello)
	require.NoError(t, s.Open())
	cancel, done := serveInBackground(t, s)
	defer func() {
		cancel()
		waitServe(t, done)
	}()

	certPEM, err := os.ReadFile(certFile)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(certPEM))

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}}}
	resp, err := client.Get(s.URL("/fw"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, resp.TLS)

	// plaintext requests are not answered with the artifact
	plain, err := http.Get("http://" + s.Addr().String() + "/fw")
	if err == nil {
		defer plain.Body.Close()
		assert.Equal(t, http.StatusBadRequest, plain.StatusCode)
	}
}

func TestSessionCloseWithoutServe(t *testing.T) {
	p, err := NewPolicy(Config{TrustLevel: TrustUntrusted, BindAddress: "127.0.0.1", Port: freePort(t)})
	require.NoError(t, err)

	s := NewSession(p, hello)
	require.NoError(t, s.Close(), "close before open")

	s = NewSession(p, hello)
	require.NoError(t, s.Open())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Serve(context.Background()), ErrSessionClosed)

	ln, err := net.Listen("tcp", p.Address())
	require.NoError(t, err)
	require.NoError(t, ln.Close())
}

func TestSessionServeBeforeOpen(t *testing.T) {
	p, err := NewPolicy(Config{TrustLevel: TrustUntrusted, BindAddress: "127.0.0.1", Port: freePort(t)})
	require.NoError(t, err)
	assert.ErrorIs(t, NewSession(p, hello).Serve(context.Background()), ErrSessionNotOpen)
}
