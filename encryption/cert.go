package encryption

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/otaguard/otaguard/status"
)

// LoadTLSConfig loads a TLS configuration from certificate and key files.
// Both files must exist and the leaf certificate must be inside its validity window.
// The returned config enforces TLS 1.2 or newer with AEAD cipher suites only.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	return loadTLSConfig(certFile, keyFile, time.Now())
}

func loadTLSConfig(certFile, keyFile string, now time.Time) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, status.NewTransportConfigError("", nil, "authenticated transport requires both a certificate and a private key")
	}
	for _, f := range []string{certFile, keyFile} {
		if _, err := os.Stat(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, status.NewTransportConfigError(f, err, "TLS material not found")
			}
			return nil, status.NewTransportConfigError(f, err, "TLS material not readable")
		}
	}

	serverCert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, status.NewTransportConfigError(certFile, err, "failed to load TLS certificate")
	}

	leaf, err := x509.ParseCertificate(serverCert.Certificate[0])
	if err != nil {
		return nil, status.NewTransportConfigError(certFile, err, "failed to parse TLS certificate")
	}
	if now.Before(leaf.NotBefore) {
		return nil, status.NewTransportConfigError(certFile, nil, "certificate is not valid before %s", leaf.NotBefore.UTC().Format(time.RFC3339))
	}
	if now.After(leaf.NotAfter) {
		return nil, status.NewTransportConfigError(certFile, nil, "certificate expired at %s", leaf.NotAfter.UTC().Format(time.RFC3339))
	}
	serverCert.Leaf = leaf

	if remaining := leaf.NotAfter.Sub(now); remaining < 14*24*time.Hour {
		log.Warnf("TLS certificate %s expires in %s", certFile, remaining.Round(time.Hour))
	}
	log.Debugf("loaded TLS certificate %s, subject %q, valid until %s", certFile, leaf.Subject.String(), leaf.NotAfter.UTC().Format(time.RFC3339))

	config := &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientAuth:   tls.NoClientCert,
		MinVersion:   tls.VersionTLS12,
		NextProtos: []string{
			"h2", "http/1.1", // enable HTTP/2
		},
		// TLS 1.2 only; TLS 1.3 suites are not configurable
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		},
	}
	return config, nil
}

// Fingerprint returns the hex SHA-256 fingerprint of the leaf certificate in config.
func Fingerprint(config *tls.Config) (string, error) {
	if config == nil || len(config.Certificates) == 0 || len(config.Certificates[0].Certificate) == 0 {
		return "", fmt.Errorf("no certificate configured")
	}
	return sha256Hex(config.Certificates[0].Certificate[0]), nil
}
