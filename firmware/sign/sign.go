package sign

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/otaguard/otaguard/firmware/artifact"
	"github.com/otaguard/otaguard/firmware/keystore"
	"github.com/otaguard/otaguard/status"
)

// Key is the signing capability handed to the Signer. The private key stays behind crypto.Signer.
type Key interface {
	crypto.Signer
	ID() keystore.KeyID
}

// pssOptions signs with the maximum salt length and auto-detects it on verify
var pssOptions = &rsa.PSSOptions{
	SaltLength: rsa.PSSSaltLengthAuto,
	Hash:       crypto.SHA256,
}

// Signer produces signed artifacts from firmware payloads
type Signer struct {
	rand io.Reader
	now  func() time.Time
}

// NewSigner returns a Signer backed by crypto/rand
func NewSigner() *Signer {
	return &Signer{
		rand: rand.Reader,
		now:  time.Now,
	}
}

// Sign signs the full payload with RSASSA-PSS over SHA-256. The payload is copied into the
// returned artifact; the caller's slice is never modified.
func (s *Signer) Sign(payload []byte, key Key) (*artifact.SignedArtifact, error) {
	if len(payload) == 0 {
		return nil, status.NewInvalidPayloadError("payload is empty")
	}
	if key == nil {
		return nil, status.NewSigningError(fmt.Errorf("no signing key"))
	}

	pub, ok := key.Public().(*rsa.PublicKey)
	if !ok {
		return nil, status.NewSigningError(fmt.Errorf("unsupported key type %T", key.Public()))
	}
	if bits := pub.N.BitLen(); bits < keystore.MinKeyBits {
		return nil, status.NewSigningError(fmt.Errorf("RSA key is %d bits, need at least %d", bits, keystore.MinKeyBits))
	}

	digest := sha256.Sum256(payload)
	sig, err := key.Sign(s.rand, digest[:], pssOptions)
	if err != nil {
		return nil, status.NewSigningError(err)
	}
	if len(sig) != pub.Size() {
		return nil, status.NewSigningError(fmt.Errorf("signature is %d bytes, want %d", len(sig), pub.Size()))
	}

	log.Debugf("signed %d byte payload with key %s", len(payload), key.ID())

	return &artifact.SignedArtifact{
		Payload:   bytes.Clone(payload),
		Signature: sig,
		KeyID:     key.ID(),
		SignedAt:  s.now().UTC(),
	}, nil
}
