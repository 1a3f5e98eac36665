// Package identity represents governance principals: a DID, an Ed25519
// keypair, and a small profile. It mirrors the shape of the teacher's
// alias records (clone-on-read, validated construction) but keys identities
// by did:key rather than by chain address.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"covm/crypto"
)

var (
	// ErrNoPrivateKey is returned when an operation requiring signing is
	// attempted on an identity known only by its public key.
	ErrNoPrivateKey = errors.New("identity: no private key available")
	// ErrInvalidUsername is returned when a profile's public username fails
	// validation.
	ErrInvalidUsername = errors.New("identity: invalid public username")
)

const (
	usernameMinLength = 3
	usernameMaxLength = 64
)

// Profile holds the public-facing attributes of an Identity.
type Profile struct {
	PublicUsername string                     `json:"public_username"`
	FullName       string                     `json:"full_name,omitempty"`
	Extra          map[string]json.RawMessage `json:"extra,omitempty"`
}

// Clone returns a deep copy of the profile.
func (p Profile) Clone() Profile {
	clone := Profile{PublicUsername: p.PublicUsername, FullName: p.FullName}
	if len(p.Extra) > 0 {
		clone.Extra = make(map[string]json.RawMessage, len(p.Extra))
		for k, v := range p.Extra {
			clone.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return clone
}

func validateUsername(username string) (string, error) {
	trimmed := strings.TrimSpace(username)
	if len(trimmed) < usernameMinLength || len(trimmed) > usernameMaxLength {
		return "", fmt.Errorf("%w: must be between %d and %d characters", ErrInvalidUsername, usernameMinLength, usernameMaxLength)
	}
	return trimmed, nil
}

// Identity is a principal: a DID derived from an Ed25519 public key, an
// optional private key (absent for identities known only by reference),
// a profile, and a caller-assigned identity type (e.g. "member", "service").
type Identity struct {
	did          string
	priv         *crypto.PrivateKey
	pub          *crypto.PublicKey
	profile      Profile
	identityType string
}

// New generates a fresh Ed25519 keypair and wraps it as a new Identity.
// Keypairs are created once at construction and are immutable thereafter.
func New(identityType string, profile Profile) (*Identity, error) {
	username, err := validateUsername(profile.PublicUsername)
	if err != nil {
		return nil, err
	}
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("identity: generate keypair: %w", err)
	}
	profile.PublicUsername = username
	return &Identity{
		did:          priv.PubKey().DID(),
		priv:         priv,
		pub:          priv.PubKey(),
		profile:      profile.Clone(),
		identityType: identityType,
	}, nil
}

// FromPublicKey wraps a known public key as a signing-less Identity, used
// when the AuthContext only needs to verify signatures or check membership
// for a principal whose private key lives elsewhere.
func FromPublicKey(pub *crypto.PublicKey, identityType string, profile Profile) (*Identity, error) {
	if pub == nil {
		return nil, errors.New("identity: nil public key")
	}
	username, err := validateUsername(profile.PublicUsername)
	if err != nil {
		return nil, err
	}
	profile.PublicUsername = username
	return &Identity{
		did:          pub.DID(),
		pub:          pub,
		profile:      profile.Clone(),
		identityType: identityType,
	}, nil
}

// DID returns the identity's decentralized identifier.
func (id *Identity) DID() string {
	return id.did
}

// IdentityType returns the caller-assigned type tag for this identity.
func (id *Identity) IdentityType() string {
	return id.identityType
}

// Profile returns a deep copy of the identity's profile.
func (id *Identity) Profile() Profile {
	return id.profile.Clone()
}

// PublicKey returns the identity's public key.
func (id *Identity) PublicKey() *crypto.PublicKey {
	return id.pub
}

// HasPrivateKey reports whether this Identity can sign messages.
func (id *Identity) HasPrivateKey() bool {
	return id.priv != nil
}

// Sign signs message with the identity's private key. Fails if the identity
// was constructed from a public key only.
func (id *Identity) Sign(message []byte) ([]byte, error) {
	if id.priv == nil {
		return nil, ErrNoPrivateKey
	}
	return id.priv.Sign(message), nil
}

// Verify checks a detached signature against this identity's public key.
func (id *Identity) Verify(message, signature []byte) bool {
	return id.pub.Verify(message, signature)
}

// Clone returns a copy of the Identity sharing the same keypair but with an
// independently mutable profile.
func (id *Identity) Clone() *Identity {
	if id == nil {
		return nil
	}
	clone := *id
	clone.profile = id.profile.Clone()
	return &clone
}

// PublicView is the wire-safe projection of an Identity: it never includes
// the private key.
type PublicView struct {
	DID                 string  `json:"did"`
	PublicKeyMultibase  string  `json:"public_key_multibase"`
	Profile             Profile `json:"profile"`
	IdentityType        string  `json:"identity_type"`
}

// PublicView projects the identity to its publishable form.
func (id *Identity) PublicView() PublicView {
	return PublicView{
		DID:                id.did,
		PublicKeyMultibase: id.pub.Multibase(),
		Profile:            id.profile.Clone(),
		IdentityType:       id.identityType,
	}
}
