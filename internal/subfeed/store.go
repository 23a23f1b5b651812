// Package subfeed implements SubfeedStore (spec §4.6): the per-feed,
// per-subfeed append-only signed message log. One Store exists per
// (feedId, subfeedHash); it loads and verifies the hash chain from its
// backing LocalFeedManager on open, serializes appends behind a single
// writer mutex, and drives bucket replication in both directions.
package subfeed

import (
	"fmt"
	"sync"

	"github.com/kachery-network/kachery-daemon/internal/signature"
	"github.com/kachery-network/kachery-daemon/internal/types"
)

// LocalFeedManager is the backing-log collaborator a Store reads from at
// open and appends to (spec §6).
type LocalFeedManager interface {
	GetSignedSubfeedMessages(feedID, subfeedHash string) ([]types.SignedSubfeedMessage, error)
	AddSignedMessagesToSubfeed(feedID, subfeedHash string, startNumber int64, msgs []types.SignedSubfeedMessage) error
}

// Store is one (feedId, subfeedHash) subfeed's in-memory view, kept in
// lockstep with its backing log.
type Store struct {
	feedManager LocalFeedManager
	feedID      string
	subfeedHash string

	// mu is the single writer mutex serializing appends (spec §4.6);
	// readers take RLock.
	mu       sync.RWMutex
	messages []types.SignedSubfeedMessage
}

// Open loads (feedID, subfeedHash) from feedManager and verifies its
// chain. A subfeed with no backing messages yet opens empty rather than
// failing (spec §4.6: "for a remote-only subfeed, starts empty").
func Open(feedManager LocalFeedManager, feedID, subfeedHash string) (*Store, error) {
	s := &Store{feedManager: feedManager, feedID: feedID, subfeedHash: subfeedHash}
	if err := s.initializeFromLocal(); err != nil {
		return nil, err
	}
	return s, nil
}

// initializeFromLocal reads the whole backing log and verifies, for
// every message, the signature, the previousSignature linkage, and the
// monotonic messageNumber sequence (spec §4.6). Any violation is fatal:
// the subfeed is left unopened.
func (s *Store) initializeFromLocal() error {
	msgs, err := s.feedManager.GetSignedSubfeedMessages(s.feedID, s.subfeedHash)
	if err != nil {
		return err
	}
	if err := verifyChain(s.feedID, nil, -1, msgs); err != nil {
		return err
	}
	s.messages = msgs
	return nil
}

// verifyChain checks msgs as a contiguous extension of a log whose last
// accepted signature was prevSig (nil for an empty log) at
// prevMessageNumber, under the Ed25519 public key feedID.
func verifyChain(feedID string, prevSig *string, prevMessageNumber int64, msgs []types.SignedSubfeedMessage) error {
	for _, msg := range msgs {
		if !signature.Verify(msg.Body, feedID, msg.Signature) {
			return fmt.Errorf("%w: signature verification failed at messageNumber %d", ErrCorruptChain, msg.Body.MessageNumber)
		}
		if !sigPtrEqual(msg.Body.PreviousSignature, prevSig) {
			return fmt.Errorf("%w: previousSignature mismatch at messageNumber %d", ErrCorruptChain, msg.Body.MessageNumber)
		}
		if msg.Body.MessageNumber != prevMessageNumber+1 {
			return fmt.Errorf("%w: messageNumber %d out of sequence (expected %d)", ErrCorruptChain, msg.Body.MessageNumber, prevMessageNumber+1)
		}
		sig := msg.Signature
		prevSig = &sig
		prevMessageNumber = msg.Body.MessageNumber
	}
	return nil
}

func sigPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// GetNumMessages returns the subfeed's current length.
func (s *Store) GetNumMessages() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.messages))
}

// GetSignedMessages returns messages[start:end]. end==0 means "to the
// current end". Out-of-bounds ranges are rejected rather than clamped,
// so callers can distinguish "not there yet" from "asked wrong".
func (s *Store) GetSignedMessages(start, end int64) ([]types.SignedSubfeedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := int64(len(s.messages))
	if end == 0 {
		end = n
	}
	if start < 0 || end > n || start > end {
		return nil, fmt.Errorf("%w: [%d,%d) of %d", ErrRangeOutOfBounds, start, end, n)
	}
	out := make([]types.SignedSubfeedMessage, end-start)
	copy(out, s.messages[start:end])
	return out, nil
}

// AddSignedMessages persists and splices in msgs per spec §4.6: the
// first incoming messageNumber must be 0 (empty log) or at most
// lastExisting+1; within msgs, only the contiguous run starting at the
// current length is kept, so duplicate replays are dropped quietly
// rather than erroring. Held under the writer mutex for the whole
// operation, so appends to this subfeed never interleave.
func (s *Store) AddSignedMessages(msgs []types.SignedSubfeedMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := int64(len(s.messages))
	first := msgs[0].Body.MessageNumber
	if current == 0 {
		if first != 0 {
			return fmt.Errorf("%w: first messageNumber %d, expected 0", ErrOutOfOrder, first)
		}
	} else if first > current {
		return fmt.Errorf("%w: first messageNumber %d > %d", ErrOutOfOrder, first, current)
	}

	var toPersist []types.SignedSubfeedMessage
	want := current
	for _, msg := range msgs {
		if msg.Body.MessageNumber != want {
			continue // duplicate or out-of-order tail: drop quietly
		}
		toPersist = append(toPersist, msg)
		want++
	}
	if len(toPersist) == 0 {
		return nil
	}
	if err := s.feedManager.AddSignedMessagesToSubfeed(s.feedID, s.subfeedHash, current, toPersist); err != nil {
		return err
	}
	s.messages = append(s.messages, toPersist...)
	return nil
}

// FeedID and SubfeedHash identify this store; exported for collaborators
// (bucket replication, pubsub dispatch) that key off them.
func (s *Store) FeedID() string      { return s.feedID }
func (s *Store) SubfeedHash() string { return s.subfeedHash }

// lastSignature returns the signature of the most recent message, or nil
// for an empty log, used as the chain anchor for verifying a
// replication batch.
func (s *Store) lastSignature() (*string, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.messages)
	if n == 0 {
		return nil, -1
	}
	sig := s.messages[n-1].Signature
	return &sig, int64(n - 1)
}
