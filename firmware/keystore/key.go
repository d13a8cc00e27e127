package keystore

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

const (
	// MinKeyBits is the smallest accepted RSA modulus
	MinKeyBits = 3072
	// DefaultKeyBits is the modulus size used for newly generated keys
	DefaultKeyBits = 3072

	publicExponent = 65537

	tagPrivatePKCS8 = "PRIVATE KEY"
	tagPrivatePKCS1 = "RSA PRIVATE KEY"
	tagPublic       = "PUBLIC KEY"
)

var errNotRSA = errors.New("key is not an RSA key")

// KeyID is a unique identifier for a Key (first 8 bytes of SHA-256 of the PKIX encoded public key)
type KeyID [8]byte

func (k KeyID) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether the id is unset
func (k KeyID) IsZero() bool {
	return k == KeyID{}
}

// MarshalJSON implements json.Marshaler
func (k KeyID) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (k *KeyID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := ParseKeyID(s)
	if err != nil {
		return err
	}
	*k = id
	return nil
}

// ParseKeyID parses the 16 hex character form produced by KeyID.String
func ParseKeyID(s string) (KeyID, error) {
	var id KeyID
	if len(s) != 2*len(id) {
		return id, fmt.Errorf("invalid KeyID length: %d", len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return KeyID{}, fmt.Errorf("invalid KeyID %q: %w", s, err)
	}
	return id, nil
}

// ComputeKeyID derives the KeyID of an RSA public key
func ComputeKeyID(pub *rsa.PublicKey) (KeyID, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return KeyID{}, fmt.Errorf("marshal public key: %w", err)
	}
	h := sha256.Sum256(der)
	var id KeyID
	copy(id[:], h[:8])
	return id, nil
}

// SigningKey is an RSA signing key. The private half never leaves this type except
// through the key file written by Store.
type SigningKey struct {
	priv *rsa.PrivateKey
	id   KeyID
}

// NewSigningKey wraps priv after checking size, exponent and internal consistency
func NewSigningKey(priv *rsa.PrivateKey) (*SigningKey, error) {
	if priv == nil {
		return nil, errors.New("nil private key")
	}
	if bits := priv.N.BitLen(); bits < MinKeyBits {
		return nil, fmt.Errorf("RSA key is %d bits, need at least %d", bits, MinKeyBits)
	}
	if priv.E != publicExponent {
		return nil, fmt.Errorf("RSA public exponent is %d, want %d", priv.E, publicExponent)
	}
	if err := priv.Validate(); err != nil {
		return nil, fmt.Errorf("invalid RSA key: %w", err)
	}
	id, err := ComputeKeyID(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &SigningKey{priv: priv, id: id}, nil
}

// Generate creates a fresh key with a modulus of bits from crypto/rand
func Generate(bits int) (*SigningKey, error) {
	if bits < MinKeyBits {
		return nil, fmt.Errorf("refusing to generate %d bit key, minimum is %d", bits, MinKeyBits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}
	return NewSigningKey(priv)
}

// ID returns the key identifier
func (k *SigningKey) ID() KeyID {
	return k.id
}

// Public implements crypto.Signer
func (k *SigningKey) Public() crypto.PublicKey {
	return &k.priv.PublicKey
}

// PublicKey returns the public half with its identifier
func (k *SigningKey) PublicKey() PublicKey {
	return PublicKey{ID: k.id, Key: &k.priv.PublicKey}
}

// Bits returns the modulus size
func (k *SigningKey) Bits() int {
	return k.priv.N.BitLen()
}

// Sign implements crypto.Signer
func (k *SigningKey) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return k.priv.Sign(rand, digest, opts)
}

func (k *SigningKey) String() string {
	return fmt.Sprintf("SigningKey[ID=%s, Bits=%d, Private=REDACTED]", k.id, k.Bits())
}

// GoString keeps %#v from dumping the private key
func (k *SigningKey) GoString() string {
	return k.String()
}

// PublicKeyPEM encodes the public key as a PKIX "PUBLIC KEY" PEM block
func (k *SigningKey) PublicKeyPEM() ([]byte, error) {
	return k.PublicKey().PEM()
}

// marshalPEM encodes the private key as an unencrypted PKCS#8 PEM block
func (k *SigningKey) marshalPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: tagPrivatePKCS8, Bytes: der}), nil
}

// ParsePrivateKeyPEM parses a PKCS#8 or PKCS#1 PEM encoded RSA private key
func ParsePrivateKeyPEM(data []byte) (*SigningKey, error) {
	b, rest := pem.Decode(data)
	if b == nil {
		return nil, errors.New("failed to decode PEM data")
	}
	if len(bytes.TrimSpace(rest)) > 0 {
		return nil, errors.New("trailing PEM data")
	}

	var priv *rsa.PrivateKey
	switch b.Type {
	case tagPrivatePKCS8:
		parsed, err := x509.ParsePKCS8PrivateKey(b.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS#8 key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: got %T", errNotRSA, parsed)
		}
		priv = rsaKey
	case tagPrivatePKCS1:
		rsaKey, err := x509.ParsePKCS1PrivateKey(b.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS#1 key: %w", err)
		}
		priv = rsaKey
	default:
		return nil, fmt.Errorf("PEM type is %q, want %q", b.Type, tagPrivatePKCS8)
	}

	return NewSigningKey(priv)
}

// PublicKey wraps an RSA public key with its identifier
type PublicKey struct {
	ID  KeyID
	Key *rsa.PublicKey
}

// PEM encodes the key as a PKIX "PUBLIC KEY" block
func (p PublicKey) PEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(p.Key)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: tagPublic, Bytes: der}), nil
}

// ParsePublicKeyPEM parses a single PKIX encoded RSA public key
func ParsePublicKeyPEM(data []byte) (PublicKey, error) {
	pk, _, err := parsePublicKey(data)
	return pk, err
}

// ParsePublicKeyBundle parses one or more concatenated public key PEM blocks
func ParsePublicKeyBundle(bundle []byte) ([]PublicKey, error) {
	var keys []PublicKey
	for len(bytes.TrimSpace(bundle)) > 0 {
		keyInfo, rest, err := parsePublicKey(bundle)
		if err != nil {
			return nil, err
		}
		keys = append(keys, keyInfo)
		bundle = rest
	}
	if len(keys) == 0 {
		return nil, errors.New("no keys found in bundle")
	}
	return keys, nil
}

func parsePublicKey(data []byte) (PublicKey, []byte, error) {
	b, rest := pem.Decode(data)
	if b == nil {
		return PublicKey{}, nil, errors.New("failed to decode PEM data")
	}
	if b.Type != tagPublic {
		return PublicKey{}, nil, fmt.Errorf("PEM type is %q, want %q", b.Type, tagPublic)
	}

	parsed, err := x509.ParsePKIXPublicKey(b.Bytes)
	if err != nil {
		return PublicKey{}, nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return PublicKey{}, nil, fmt.Errorf("%w: got %T", errNotRSA, parsed)
	}
	if bits := pub.N.BitLen(); bits < MinKeyBits {
		return PublicKey{}, nil, fmt.Errorf("RSA key is %d bits, need at least %d", bits, MinKeyBits)
	}

	id, err := ComputeKeyID(pub)
	if err != nil {
		return PublicKey{}, nil, err
	}
	return PublicKey{ID: id, Key: pub}, rest, nil
}
