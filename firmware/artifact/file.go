package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/otaguard/otaguard/status"
	"github.com/otaguard/otaguard/util"
)

const filePerm = 0o644

// ErrNoManifest marks an artifact that has no sidecar manifest next to it
var ErrNoManifest = errors.New("artifact has no manifest")

// WriteFile atomically writes the serialized artifact to path and its manifest to
// ManifestPath(path). If the manifest cannot be written the new artifact is removed, so
// an artifact is never left on disk next to a manifest that does not describe it.
func WriteFile(ctx context.Context, path string, a *SignedArtifact, info Info) (*Manifest, error) {
	if len(a.Payload) == 0 {
		return nil, status.NewInvalidPayloadError("payload is empty")
	}
	if len(a.Signature) == 0 {
		return nil, status.NewMalformedArtifactError("artifact has no signature")
	}

	m := NewManifest(a, info)

	if err := util.WriteBytesAtomic(ctx, path, Serialize(a), filePerm); err != nil {
		return nil, fmt.Errorf("write artifact %s: %w", path, err)
	}

	if err := util.WriteJsonAtomic(ctx, ManifestPath(path), m, filePerm); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			log.Errorf("failed to remove artifact %s after manifest failure: %v", path, rmErr)
		}
		return nil, fmt.Errorf("write manifest for %s: %w", path, err)
	}

	return m, nil
}

// ReadManifest reads the sidecar of the artifact at path
func ReadManifest(path string) (*Manifest, error) {
	mPath := ManifestPath(path)
	m := &Manifest{}
	if err := util.ReadJson(mPath, m); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, status.NewMissingInputError(mPath, fmt.Errorf("%w: %w", ErrNoManifest, err))
		}
		return nil, status.Wrap(status.MalformedArtifact, mPath, err, "unreadable manifest")
	}
	if m.Format != Format {
		return nil, status.Wrap(status.MalformedArtifact, mPath, nil, "unsupported artifact format %q", m.Format)
	}
	return m, nil
}

// ReadFile loads the artifact at path, splitting it with the signature size from its manifest.
// Any disagreement between the manifest and the file is reported as status.MalformedArtifact.
// A missing manifest is reported as status.MissingInput wrapping ErrNoManifest.
func ReadFile(path string) (*SignedArtifact, *Manifest, error) {
	b, err := ReadBytes(path)
	if err != nil {
		return nil, nil, err
	}

	m, err := ReadManifest(path)
	if err != nil {
		return nil, nil, err
	}

	if m.PayloadSize+m.SignatureSize != len(b) {
		return nil, nil, status.Wrap(status.MalformedArtifact, path, nil,
			"file is %d bytes, manifest describes %d payload + %d signature bytes", len(b), m.PayloadSize, m.SignatureSize)
	}

	sum := sha256.Sum256(b)
	if got := hex.EncodeToString(sum[:]); got != m.SHA256 {
		return nil, nil, status.Wrap(status.MalformedArtifact, path, nil, "sha256 %s does not match manifest %s", got, m.SHA256)
	}

	a, err := Deserialize(b, m.SignatureSize)
	if err != nil {
		return nil, nil, err
	}
	a.KeyID = m.KeyID
	a.SignedAt = m.SignedAt
	return a, m, nil
}

// ReadBytes returns the raw artifact at path
func ReadBytes(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, status.NewMissingInputError(path, err)
		}
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	return b, nil
}

// ReadBare reads an artifact without consulting a manifest. The trailing sigLen bytes, the
// modulus size of the verifying key, are the signature. KeyID and SignedAt stay zero.
func ReadBare(path string, sigLen int) (*SignedArtifact, error) {
	b, err := ReadBytes(path)
	if err != nil {
		return nil, err
	}
	return Deserialize(b, sigLen)
}
