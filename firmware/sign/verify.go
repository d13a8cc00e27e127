package sign

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"

	"github.com/otaguard/otaguard/firmware/artifact"
	"github.com/otaguard/otaguard/firmware/keystore"
	"github.com/otaguard/otaguard/status"
)

// Verify checks a against pub the way a device does: SHA-256 over the payload,
// PSS with MGF1-SHA-256 and an auto-detected salt. A KeyID on the artifact must match pub.
func Verify(a *artifact.SignedArtifact, pub keystore.PublicKey) error {
	if a == nil || len(a.Payload) == 0 {
		return status.NewInvalidPayloadError("payload is empty")
	}
	if pub.Key == nil {
		return status.Errorf(status.Verification, "no public key")
	}
	if !a.KeyID.IsZero() && a.KeyID != pub.ID {
		return status.Errorf(status.Verification, "artifact signed by key %s, verifying with key %s", a.KeyID, pub.ID)
	}
	if len(a.Signature) != pub.Key.Size() {
		return status.Errorf(status.Verification, "signature is %d bytes, key %s produces %d", len(a.Signature), pub.ID, pub.Key.Size())
	}

	digest := sha256.Sum256(a.Payload)
	if err := rsa.VerifyPSS(pub.Key, crypto.SHA256, digest[:], a.Signature, pssOptions); err != nil {
		return status.Wrap(status.Verification, "", err, "signature does not verify with key %s", pub.ID)
	}
	return nil
}

// VerifyKeyring selects the key named by the artifact's KeyID and verifies with it.
// Artifacts without a KeyID, or naming a key not in keys, are rejected.
func VerifyKeyring(a *artifact.SignedArtifact, keys []keystore.PublicKey) error {
	if a == nil {
		return status.NewInvalidPayloadError("payload is empty")
	}
	if a.KeyID.IsZero() {
		return status.Errorf(status.Verification, "artifact carries no key id")
	}
	for _, k := range keys {
		if k.ID == a.KeyID {
			return Verify(a, k)
		}
	}
	return status.Errorf(status.Verification, "no trusted key with id %s", a.KeyID)
}

// VerifyBare verifies raw artifact bytes that come without a manifest. Each key splits the
// bytes at its own modulus size and the first key that verifies is returned, with its
// KeyID set on the artifact.
func VerifyBare(b []byte, keys []keystore.PublicKey) (*artifact.SignedArtifact, keystore.PublicKey, error) {
	if len(keys) == 0 {
		return nil, keystore.PublicKey{}, status.Errorf(status.Verification, "no trusted keys")
	}

	var splitErr error
	tried := 0
	for _, k := range keys {
		if k.Key == nil {
			continue
		}
		a, err := artifact.Deserialize(b, k.Key.Size())
		if err != nil {
			splitErr = err
			continue
		}
		tried++
		if err := Verify(a, k); err != nil {
			continue
		}
		a.KeyID = k.ID
		return a, k, nil
	}

	if tried == 0 && splitErr != nil {
		return nil, keystore.PublicKey{}, splitErr
	}
	return nil, keystore.PublicKey{}, status.Errorf(status.Verification, "signature does not verify with any of %d trusted keys", len(keys))
}
