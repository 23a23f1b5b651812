package signature

import "errors"

var (
	// ErrInvalidPublicKey indicates a public key is not a valid hex-encoded
	// Ed25519 key of the expected length.
	ErrInvalidPublicKey = errors.New("signature: invalid public key")

	// ErrInvalidPrivateKey indicates a private key is not a valid hex-encoded
	// Ed25519 seed or expanded key.
	ErrInvalidPrivateKey = errors.New("signature: invalid private key")

	// ErrInvalidSignature indicates a signature is not valid hex of the
	// expected length.
	ErrInvalidSignature = errors.New("signature: invalid signature encoding")

	// ErrCanonicalize indicates the message body could not be canonically
	// serialized for signing or verification.
	ErrCanonicalize = errors.New("signature: canonicalize body")
)
