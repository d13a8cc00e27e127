package distribution

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/otaguard/otaguard/encryption"
	"github.com/otaguard/otaguard/status"
)

// TrustLevel classifies the delivery network. The zero value is unset and never accepted.
type TrustLevel string

const (
	TrustUnset         TrustLevel = ""
	TrustUntrusted     TrustLevel = "untrusted-network"
	TrustAuthenticated TrustLevel = "authenticated-network"
)

// ParseTrustLevel accepts the two named levels. Anything else, including the empty string, is an error.
func ParseTrustLevel(s string) (TrustLevel, error) {
	switch TrustLevel(strings.ToLower(strings.TrimSpace(s))) {
	case TrustUntrusted:
		return TrustUntrusted, nil
	case TrustAuthenticated:
		return TrustAuthenticated, nil
	case TrustUnset:
		return TrustUnset, status.NewTransportConfigError("", nil, "trust level is not set, choose %s or %s", TrustUntrusted, TrustAuthenticated)
	default:
		return TrustUnset, status.NewTransportConfigError("", nil, "unknown trust level %q, choose %s or %s", s, TrustUntrusted, TrustAuthenticated)
	}
}

// Config enumerates every option the policy recognizes:
//   - TrustLevel selects plaintext on a locally controlled address or TLS anywhere
//   - BindAddress is the literal IP or "localhost" to listen on; empty means all interfaces
//   - Port is the TCP port, 1..65535
//   - CertFile and KeyFile are the PEM server certificate chain and key (authenticated-network only)
//   - TrustedNetworks lists extra CIDRs the operator controls, for untrusted-network binds
type Config struct {
	TrustLevel      TrustLevel
	BindAddress     string
	Port            int
	CertFile        string
	KeyFile         string
	TrustedNetworks []string
}

// HasCertConfig reports whether certificate material was configured
func (c Config) HasCertConfig() bool {
	return c.CertFile != "" || c.KeyFile != ""
}

// Policy is the validated, immutable transport decision for a distribution session
type Policy struct {
	trust       TrustLevel
	host        string
	port        int
	tlsConfig   *tls.Config
	fingerprint string
}

// NewPolicy validates cfg and loads TLS material when required. It fails closed: every
// ambiguity is a status.TransportConfig error and nothing is bound.
func NewPolicy(cfg Config) (*Policy, error) {
	var errs error

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("port %d out of range 1-65535", cfg.Port))
	}

	trusted, err := parseTrustedNetworks(cfg.TrustedNetworks)
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	switch cfg.TrustLevel {
	case TrustUntrusted:
		if cfg.HasCertConfig() {
			errs = multierror.Append(errs, fmt.Errorf("certificate material is configured with %s, use %s to serve over TLS", TrustUntrusted, TrustAuthenticated))
		}
		if err := checkLocalAddress(cfg.BindAddress, trusted); err != nil {
			errs = multierror.Append(errs, err)
		}
	case TrustAuthenticated:
		if cfg.BindAddress != "" && cfg.BindAddress != "localhost" {
			if _, err := netip.ParseAddr(cfg.BindAddress); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("bind address %q is not an IP address", cfg.BindAddress))
			}
		}
	case TrustUnset:
		errs = multierror.Append(errs, fmt.Errorf("trust level is not set, choose %s or %s", TrustUntrusted, TrustAuthenticated))
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown trust level %q", cfg.TrustLevel))
	}

	if errs != nil {
		return nil, status.NewTransportConfigError("", errs, "refusing to start distribution")
	}

	p := &Policy{
		trust: cfg.TrustLevel,
		host:  cfg.BindAddress,
		port:  cfg.Port,
	}

	if cfg.TrustLevel == TrustAuthenticated {
		tlsConfig, err := encryption.LoadTLSConfig(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		fp, err := encryption.Fingerprint(tlsConfig)
		if err != nil {
			return nil, status.NewTransportConfigError(cfg.CertFile, err, "unusable certificate")
		}
		p.tlsConfig = tlsConfig
		p.fingerprint = fp
		log.Infof("distribution policy: %s on %s, certificate sha256 %s", p.trust, p.Address(), fp)
	} else {
		log.Warnf("distribution policy: %s, serving plaintext HTTP on %s; artifact authenticity relies on the embedded signature only", p.trust, p.Address())
	}

	return p, nil
}

// TrustLevel returns the level fixed at construction
func (p *Policy) TrustLevel() TrustLevel {
	return p.trust
}

// Address returns the host:port to bind
func (p *Policy) Address() string {
	return net.JoinHostPort(p.host, strconv.Itoa(p.port))
}

// Encrypted reports whether the policy requires TLS
func (p *Policy) Encrypted() bool {
	return p.tlsConfig != nil
}

// Scheme returns the URL scheme devices use
func (p *Policy) Scheme() string {
	if p.Encrypted() {
		return "https"
	}
	return "http"
}

// TLSConfig returns a copy of the server TLS configuration, nil for plaintext
func (p *Policy) TLSConfig() *tls.Config {
	if p.tlsConfig == nil {
		return nil
	}
	return p.tlsConfig.Clone()
}

// CertFingerprint returns the hex SHA-256 of the leaf certificate devices can pin
func (p *Policy) CertFingerprint() string {
	return p.fingerprint
}

func parseTrustedNetworks(cidrs []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	var errs error
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(c)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("invalid trusted network %q: %w", c, err))
			continue
		}
		if prefix.Bits() == 0 {
			errs = multierror.Append(errs, fmt.Errorf("trusted network %q covers every address", c))
			continue
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return prefixes, errs
}

// checkLocalAddress accepts only addresses under local control: loopback, private,
// link-local, "localhost" or an operator-trusted network. Hostnames are not resolved.
func checkLocalAddress(host string, trusted []netip.Prefix) error {
	if host == "" {
		return fmt.Errorf("plaintext distribution needs an explicit local bind address, not all interfaces")
	}
	if strings.EqualFold(host, "localhost") {
		return nil
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("bind address %q is not an IP address; hostnames are not accepted for plaintext distribution", host)
	}
	addr = addr.Unmap()

	switch {
	case addr.IsUnspecified():
		return fmt.Errorf("bind address %s listens on all interfaces", host)
	case addr.IsLoopback(), addr.IsPrivate(), addr.IsLinkLocalUnicast():
		return nil
	}

	for _, prefix := range trusted {
		if prefix.Contains(addr.WithZone("")) {
			return nil
		}
	}
	return fmt.Errorf("bind address %s is not a loopback, private or link-local address, nor inside a trusted network", host)
}
