package artifact

import (
	"bytes"
	"hash"
	"time"

	"golang.org/x/crypto/blake2s"

	"github.com/otaguard/otaguard/firmware/keystore"
	"github.com/otaguard/otaguard/status"
)

// SignedArtifact binds a firmware payload to its signature and the identity of the signing key.
// It is built once per payload and treated read-only afterwards.
type SignedArtifact struct {
	Payload   []byte
	Signature []byte
	KeyID     keystore.KeyID
	SignedAt  time.Time
}

// Size is the length of the serialized artifact
func (a *SignedArtifact) Size() int {
	return len(a.Payload) + len(a.Signature)
}

// Serialize renders the wire format: payload immediately followed by the signature, no header.
func Serialize(a *SignedArtifact) []byte {
	out := make([]byte, 0, a.Size())
	out = append(out, a.Payload...)
	out = append(out, a.Signature...)
	return out
}

// Deserialize splits b into payload and trailing signature of sigLen bytes.
// The returned artifact does not alias b.
func Deserialize(b []byte, sigLen int) (*SignedArtifact, error) {
	if sigLen <= 0 {
		return nil, status.NewMalformedArtifactError("signature length must be positive, got %d", sigLen)
	}
	if len(b) < sigLen {
		return nil, status.NewMalformedArtifactError("%d bytes, need at least %d", len(b), sigLen)
	}
	if len(b) == sigLen {
		return nil, status.NewMalformedArtifactError("no payload before the %d byte signature", sigLen)
	}

	split := len(b) - sigLen
	return &SignedArtifact{
		Payload:   bytes.Clone(b[:split]),
		Signature: bytes.Clone(b[split:]),
	}, nil
}

// NewArtifactHash returns a BLAKE2s-256 hash used for content addressing
func NewArtifactHash() hash.Hash {
	h, err := blake2s.New256(nil)
	if err != nil {
		panic(err) // Should never happen with nil Key
	}
	return h
}
