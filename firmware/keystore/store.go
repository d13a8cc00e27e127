package keystore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/otaguard/otaguard/status"
)

const (
	dirPerm  = 0o700
	keyPerm  = 0o600
	retiredf = "%s.retired-%s"
)

// Store owns the signing key lifecycle on disk: generate once, persist, reload.
// A path is generated at most once, across goroutines through singleflight and
// across processes through a hard link that fails if the key already exists.
type Store struct {
	bits  int
	group singleflight.Group
}

// NewStore returns a Store that generates keys of bits (DefaultKeyBits when 0)
func NewStore(bits int) (*Store, error) {
	if bits == 0 {
		bits = DefaultKeyBits
	}
	if bits < MinKeyBits {
		return nil, fmt.Errorf("key size %d is below the minimum of %d bits", bits, MinKeyBits)
	}
	return &Store{bits: bits}, nil
}

// LoadOrCreate returns the key stored at path, generating and persisting one if none exists.
// Concurrent callers for one path share a single load; each waits on its own ctx, and a
// caller that gives up does not abort the load for the others.
func (s *Store) LoadOrCreate(ctx context.Context, path string) (*SigningKey, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, status.NewKeyLoadError(path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load key %s: %w", path, err)
	}

	ch := s.group.DoChan(abs, func() (interface{}, error) {
		return s.loadOrCreate(path)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load key %s: %w", path, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.Debugf("key load for %s coalesced with a concurrent caller", path)
		}
		return res.Val.(*SigningKey), nil
	}
}

func (s *Store) loadOrCreate(path string) (*SigningKey, error) {
	key, err := Load(path)
	if err == nil {
		log.Infof("loaded signing key %s from %s", key.ID(), path)
		return key, nil
	}
	if !status.IsType(err, status.MissingInput) {
		return nil, err
	}

	log.Infof("no signing key at %s, generating a new %d bit RSA key", path, s.bits)
	key, err = Generate(s.bits)
	if err != nil {
		return nil, status.NewKeyLoadError(path, err)
	}

	err = persist(path, key)
	switch {
	case errors.Is(err, fs.ErrExist):
		// another process created the key first
		log.Infof("signing key at %s was created concurrently, loading it", path)
		return Load(path)
	case err != nil:
		return nil, status.NewKeyLoadError(path, err)
	}

	log.Warnf("signing key %s written unencrypted to %s; access is guarded only by file permissions", key.ID(), path)
	return key, nil
}

// Load reads and parses the key at path. A missing file is reported as status.MissingInput,
// a file that does not hold a usable key as status.KeyLoad.
func Load(path string) (*SigningKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, status.NewMissingInputError(path, err)
		}
		return nil, status.NewKeyLoadError(path, err)
	}

	key, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, status.NewKeyLoadError(path, err)
	}

	if info, err := os.Stat(path); err == nil && info.Mode().Perm()&0o077 != 0 {
		log.Warnf("signing key %s is accessible by group or others (mode %v)", path, info.Mode().Perm())
	}
	return key, nil
}

// Retire renames the key at path out of the way so the next LoadOrCreate generates a
// fresh one. It returns the new location of the retired key.
func (s *Store) Retire(path string) (string, error) {
	key, err := Load(path)
	if err != nil {
		return "", err
	}

	retired := fmt.Sprintf(retiredf, path, key.ID())
	if _, err := os.Stat(retired); err == nil {
		return "", fmt.Errorf("retired key %s already exists", retired)
	}
	if err := os.Rename(path, retired); err != nil {
		return "", fmt.Errorf("retire key %s: %w", path, err)
	}

	log.Infof("retired signing key %s to %s", key.ID(), retired)
	return retired, nil
}

// persist writes key to a temp file and links it to path. The link fails with
// fs.ErrExist when path is already taken, leaving the existing key untouched.
func persist(path string, key *SigningKey) error {
	data, err := key.marshalPEM()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create key dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".signing-key-*")
	if err != nil {
		return fmt.Errorf("create temp key file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			log.Warnf("failed to remove temp key file %s: %v", tmpName, rmErr)
		}
	}()

	if err := tmp.Chmod(keyPerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp key file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp key file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp key file: %w", err)
	}

	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fs.ErrExist
		}
		return fmt.Errorf("link key file: %w", err)
	}
	return nil
}
