package subfeed

import "errors"

var (
	// ErrCorruptChain indicates initializeFromLocal found a signature,
	// messageNumber, or previousSignature inconsistency on load — fatal,
	// the subfeed is unusable until the inconsistency is resolved out of
	// band (spec §4.6).
	ErrCorruptChain = errors.New("subfeed: corrupt chain")

	// ErrOutOfOrder indicates addSignedMessages was called with a first
	// messageNumber that does not extend the existing log.
	ErrOutOfOrder = errors.New("subfeed: out-of-order append")

	// ErrRangeOutOfBounds indicates getSignedMessages was asked for a
	// range beyond the current length.
	ErrRangeOutOfBounds = errors.New("subfeed: range out of bounds")

	// ErrReplicationDiscarded indicates a consumer-side bucket replication
	// batch failed verification and was discarded whole (spec §4.6).
	ErrReplicationDiscarded = errors.New("subfeed: replication batch discarded")
)
