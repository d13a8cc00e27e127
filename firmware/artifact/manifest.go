package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/otaguard/otaguard/firmware/keystore"
)

const (
	// Format names the wire layout recorded in every manifest
	Format = "payload+signature/v1"
	// Algorithm is the signature scheme
	Algorithm = "RSASSA-PSS-MGF1-SHA256"
	// HashAlgorithm is the digest signed over the payload
	HashAlgorithm = "SHA-256"

	manifestSuffix = ".json"
)

// Manifest is the JSON sidecar written next to every artifact file. Verifiers use
// SignatureSize to split the file and KeyID to pick the public key.
type Manifest struct {
	Format          string         `json:"format"`
	Algorithm       string         `json:"algorithm"`
	Hash            string         `json:"hash"`
	KeyID           keystore.KeyID `json:"key_id"`
	SignedAt        time.Time      `json:"signed_at"`
	PayloadSize     int            `json:"payload_size"`
	SignatureSize   int            `json:"signature_size"`
	SHA256          string         `json:"sha256"`
	BLAKE2s         string         `json:"blake2s"`
	FirmwareVersion string         `json:"firmware_version,omitempty"`
	Name            string         `json:"name,omitempty"`
}

// Info carries the descriptive manifest fields that are not derived from the artifact
type Info struct {
	Name            string
	FirmwareVersion string
}

// NewManifest describes a. Digests cover the serialized artifact.
func NewManifest(a *SignedArtifact, info Info) *Manifest {
	wire := Serialize(a)
	sum := sha256.Sum256(wire)

	h := NewArtifactHash()
	_, _ = h.Write(wire)

	return &Manifest{
		Format:          Format,
		Algorithm:       Algorithm,
		Hash:            HashAlgorithm,
		KeyID:           a.KeyID,
		SignedAt:        a.SignedAt.UTC(),
		PayloadSize:     len(a.Payload),
		SignatureSize:   len(a.Signature),
		SHA256:          hex.EncodeToString(sum[:]),
		BLAKE2s:         hex.EncodeToString(h.Sum(nil)),
		FirmwareVersion: info.FirmwareVersion,
		Name:            info.Name,
	}
}

// ManifestPath returns the sidecar path for an artifact file
func ManifestPath(artifactPath string) string {
	return artifactPath + manifestSuffix
}
