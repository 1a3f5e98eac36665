package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// multicodecEd25519Pub is the multicodec varint prefix for an Ed25519 public
// key (0xed01 in the multicodec table), encoded as its two-byte varint form.
var multicodecEd25519Pub = []byte{0xed, 0x01}

// DIDPrefix is the method prefix for every DID this package produces.
const DIDPrefix = "did:key:z"

// PrivateKey wraps an Ed25519 private key.
type PrivateKey struct {
	key ed25519.PrivateKey
}

// PublicKey wraps an Ed25519 public key.
type PublicKey struct {
	key ed25519.PublicKey
}

// GeneratePrivateKey creates a new random Ed25519 keypair.
func GeneratePrivateKey() (*PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: priv}, nil
}

// PrivateKeyFromSeed reconstructs a private key from its 32-byte seed.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &PrivateKey{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// PrivateKeyFromBytes reconstructs a private key from its full 64-byte
// encoding (seed || public key), matching ed25519.PrivateKey's layout.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	cloned := append([]byte(nil), b...)
	return &PrivateKey{key: ed25519.PrivateKey(cloned)}, nil
}

// Bytes returns the full private key encoding (seed || public key).
func (k *PrivateKey) Bytes() []byte {
	return append([]byte(nil), k.key...)
}

// Seed returns the 32-byte seed the key was derived from.
func (k *PrivateKey) Seed() []byte {
	return append([]byte(nil), k.key.Seed()...)
}

// PubKey returns the public half of this keypair.
func (k *PrivateKey) PubKey() *PublicKey {
	pub := k.key.Public().(ed25519.PublicKey)
	return &PublicKey{key: pub}
}

// Sign produces a detached 64-byte Ed25519 signature over message.
func (k *PrivateKey) Sign(message []byte) []byte {
	return ed25519.Sign(k.key, message)
}

// Bytes returns the raw 32-byte Ed25519 public key.
func (p *PublicKey) Bytes() []byte {
	return append([]byte(nil), p.key...)
}

// Verify reports whether sig is a valid Ed25519 signature over message under
// this public key.
func (p *PublicKey) Verify(message, sig []byte) bool {
	return ed25519.Verify(p.key, message, sig)
}

// Multibase returns the base58btc multibase encoding of the public key,
// prefixed with the Ed25519 multicodec, e.g. "z6Mk...".
func (p *PublicKey) Multibase() string {
	return EncodeMultibaseEd25519Pub(p.key)
}

// DID returns the did:key identifier derived from this public key.
func (p *PublicKey) DID() string {
	return "did:key:" + p.Multibase()
}

// EncodeMultibaseEd25519Pub encodes an Ed25519 public key as a base58btc
// multibase string carrying the Ed25519 multicodec prefix, per the did:key
// method: "z" + base58btc(0xed 0x01 || raw public key bytes).
func EncodeMultibaseEd25519Pub(pub ed25519.PublicKey) string {
	prefixed := make([]byte, 0, len(multicodecEd25519Pub)+len(pub))
	prefixed = append(prefixed, multicodecEd25519Pub...)
	prefixed = append(prefixed, pub...)
	return "z" + base58.Encode(prefixed)
}

// DecodeMultibaseEd25519Pub reverses EncodeMultibaseEd25519Pub.
func DecodeMultibaseEd25519Pub(mb string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(mb, "z") {
		return nil, fmt.Errorf("crypto: unsupported multibase prefix in %q", mb)
	}
	decoded, err := base58.Decode(mb[1:])
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid base58btc multibase: %w", err)
	}
	if len(decoded) != len(multicodecEd25519Pub)+ed25519.PublicKeySize {
		return nil, fmt.Errorf("crypto: decoded multibase has unexpected length %d", len(decoded))
	}
	if decoded[0] != multicodecEd25519Pub[0] || decoded[1] != multicodecEd25519Pub[1] {
		return nil, fmt.Errorf("crypto: decoded multibase is not an Ed25519 public key")
	}
	return ed25519.PublicKey(decoded[len(multicodecEd25519Pub):]), nil
}

// ParseDID parses a did:key identifier and returns the embedded public key.
func ParseDID(did string) (*PublicKey, error) {
	const prefix = "did:key:"
	if !strings.HasPrefix(did, prefix) {
		return nil, fmt.Errorf("crypto: %q is not a did:key identifier", did)
	}
	pub, err := DecodeMultibaseEd25519Pub(strings.TrimPrefix(did, prefix))
	if err != nil {
		return nil, err
	}
	return &PublicKey{key: pub}, nil
}
