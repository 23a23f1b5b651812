package hub

import "errors"

var (
	// ErrUnknownChannel indicates an operation named a channel the
	// coordinator has no membership record for.
	ErrUnknownChannel = errors.New("hub: unknown channel")

	// ErrNotAuthorized indicates the membership's role or permission does
	// not allow the requested operation (spec §4.7).
	ErrNotAuthorized = errors.New("hub: not authorized")

	// ErrProtocol indicates a malformed or wrong-sub-channel message;
	// dropped with a warning rather than surfaced as fatal (spec §7).
	ErrProtocol = errors.New("hub: protocol violation")
)
