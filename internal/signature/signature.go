// Package signature provides Ed25519 sign/verify over the canonical
// serialization of JSON-like message bodies, as used for pubsub
// envelopes and subfeed messages. Signatures and keys are hex-encoded.
package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/kachery-network/kachery-daemon/internal/canonical"
)

// Keypair holds an Ed25519 signing keypair.
type Keypair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeypair creates a fresh random Ed25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signature: generate keypair: %w", err)
	}
	return &Keypair{PublicKey: pub, PrivateKey: priv}, nil
}

// PublicKeyHex returns the keypair's public key as lowercase hex; this
// doubles as the feedId for subfeeds owned by this keypair.
func (kp *Keypair) PublicKeyHex() string {
	return hex.EncodeToString(kp.PublicKey)
}

// Sign canonically serializes body and signs it with priv, returning a
// hex-encoded signature.
func Sign(body any, priv ed25519.PrivateKey) (string, error) {
	msg, err := canonical.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCanonicalize, err)
	}
	sig := ed25519.Sign(priv, msg)
	return hex.EncodeToString(sig), nil
}

// Verify reports whether sigHex is a valid Ed25519 signature of body's
// canonical serialization under pubKeyHex. A malformed key or signature
// encoding is treated as verification failure, not a separate error,
// since callers (subfeed chain loads, pubsub acceptance) always collapse
// both into "reject".
func Verify(body any, pubKeyHex string, sigHex string) bool {
	pub, err := hex.DecodeString(pubKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	msg, err := canonical.Marshal(body)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

// PublicKeyFromHex decodes and validates a hex-encoded Ed25519 public key.
func PublicKeyFromHex(pubKeyHex string) (ed25519.PublicKey, error) {
	pub, err := hex.DecodeString(pubKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	return ed25519.PublicKey(pub), nil
}
