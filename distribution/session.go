package distribution

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 10 * time.Second
)

var (
	ErrSessionClosed  = errors.New("distribution session closed")
	ErrSessionOpen    = errors.New("distribution session already open")
	ErrSessionNotOpen = errors.New("distribution session not open")
)

// Session owns the listener of one distribution run. The policy is copied in and cannot
// change for the session's lifetime. Close releases the listener on every exit path and
// may be called any number of times.
type Session struct {
	id      string
	policy  Policy
	handler http.Handler
	log     *log.Entry

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	closed   bool
}

// NewSession prepares a session; nothing is bound until Open
func NewSession(policy *Policy, handler http.Handler) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		policy:  *policy,
		handler: handler,
		log:     log.WithField("session", id),
	}
}

// ID identifies the session in logs
func (s *Session) ID() string {
	return s.id
}

// TrustLevel returns the session's fixed trust level
func (s *Session) TrustLevel() TrustLevel {
	return s.policy.trust
}

// Open binds the listener, wrapping it in TLS when the policy requires it
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.listener != nil {
		return ErrSessionOpen
	}

	ln, err := net.Listen("tcp", s.policy.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.policy.Address(), err)
	}
	if s.policy.Encrypted() {
		ln = tls.NewListener(ln, s.policy.TLSConfig())
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	s.log.Infof("listening on %s (%s)", ln.Addr(), s.policy.trust)
	return nil
}

// Addr returns the bound address, nil before Open
func (s *Session) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns the address devices fetch path from
func (s *Session) URL(path string) string {
	host := s.policy.Address()
	if addr := s.Addr(); addr != nil {
		host = addr.String()
	}
	u := url.URL{Scheme: s.policy.Scheme(), Host: host, Path: path}
	return u.String()
}

// Serve handles requests until ctx is done, then shuts down gracefully and closes the session.
func (s *Session) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.listener == nil {
		s.mu.Unlock()
		return ErrSessionNotOpen
	}
	srv, ln := s.server, s.listener
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		s.log.Infof("stopping distribution: %v", context.Cause(ctx))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("shutdown server: %w", err))
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = multierror.Append(errs, err)
		}
		if err := s.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		return errs
	case err := <-errCh:
		closeErr := s.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return multierror.Append(fmt.Errorf("serve: %w", err), closeErr).ErrorOrNil()
		}
		return closeErr
	}
}

// Close releases the listener. It is safe to call before Open, after Serve returned, and repeatedly.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs error
	if s.server != nil {
		if err := s.server.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierror.Append(errs, fmt.Errorf("close server: %w", err))
		}
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierror.Append(errs, fmt.Errorf("close listener: %w", err))
		}
	}
	s.log.Debugf("session closed")
	return errs
}
