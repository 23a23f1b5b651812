// Package feedmanager implements the default LocalFeedManager collaborator
// (spec §4.6/§4.7): the on-disk backing log a SubfeedStore reads at open
// and appends to after a writer-mutex-serialized addSignedMessages call.
// The directory layout mirrors the bucket tree's fan-out so the producer
// replication path can walk both in lockstep; there is no side-car index,
// same discipline as the CAS.
package feedmanager

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/kachery-network/kachery-daemon/internal/types"
)

// Manager is the default filesystem-backed LocalFeedManager, rooted
// alongside the CAS's own storage directory.
type Manager struct {
	rootDir string
}

// New returns a Manager rooted at rootDir (typically the same storage
// directory the CAS uses, with feeds/ living beside sha1/).
func New(rootDir string) *Manager {
	return &Manager{rootDir: rootDir}
}

// GetSignedSubfeedMessages returns every message currently on disk for
// (feedId, subfeedHash), in message-number order. An empty, non-existent
// subfeed yields an empty slice and no error (spec §4.6: "or starts
// empty" for a remote-only subfeed).
func (m *Manager) GetSignedSubfeedMessages(feedID, subfeedHash string) ([]types.SignedSubfeedMessage, error) {
	dir, err := subfeedDir(m.rootDir, feedID, subfeedHash)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read subfeed dir: %w", ErrTransient, err)
	}

	indices := make([]int64, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || e.Name() == "subfeed.json" {
			continue
		}
		i, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil {
			continue // not a message file
		}
		indices = append(indices, i)
	}
	sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })

	msgs := make([]types.SignedSubfeedMessage, 0, len(indices))
	for _, i := range indices {
		data, err := os.ReadFile(messagePath(dir, i))
		if err != nil {
			return nil, fmt.Errorf("%w: read message %d: %w", ErrTransient, i, err)
		}
		var msg types.SignedSubfeedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("feedmanager: parse message %d: %w", i, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// AddSignedMessagesToSubfeed persists msgs starting at startNumber,
// either all or none landing on disk: every message is first written to
// a scratch tmp file, and only once every write+sync has succeeded are
// they renamed onto their final numbered paths (spec §4.6: "append
// atomically — either all or none of the new range is on disk").
// Callers (SubfeedStore) are responsible for the writer-mutex
// serialization this assumes; Manager itself does not lock.
func (m *Manager) AddSignedMessagesToSubfeed(feedID, subfeedHash string, startNumber int64, msgs []types.SignedSubfeedMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	dir, err := subfeedDir(m.rootDir, feedID, subfeedHash)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: mkdir subfeed dir: %w", ErrTransient, err)
	}

	type pending struct {
		tmp, final string
	}
	var staged []pending
	cleanup := func() {
		for _, p := range staged {
			_ = os.Remove(p.tmp)
		}
	}

	for i, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			cleanup()
			return fmt.Errorf("feedmanager: marshal message: %w", err)
		}
		final := messagePath(dir, startNumber+int64(i))
		tmp := filepath.Join(dir, fmt.Sprintf(".%d.%s.tmp", startNumber+int64(i), randSuffix(8)))
		f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			cleanup()
			return fmt.Errorf("%w: create temp: %w", ErrTransient, err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			cleanup()
			return fmt.Errorf("%w: write temp: %w", ErrTransient, err)
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			cleanup()
			return fmt.Errorf("%w: sync temp: %w", ErrTransient, err)
		}
		if err := f.Close(); err != nil {
			cleanup()
			return fmt.Errorf("%w: close temp: %w", ErrTransient, err)
		}
		staged = append(staged, pending{tmp: tmp, final: final})
	}

	for k, p := range staged {
		if err := os.Rename(p.tmp, p.final); err != nil {
			for _, done := range staged[:k] {
				_ = os.Remove(done.final)
			}
			cleanup()
			return fmt.Errorf("%w: rename message into place: %w", ErrTransient, err)
		}
	}
	return nil
}

const randAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = randAlphabet[rand.Intn(len(randAlphabet))] //nolint:gosec // non-cryptographic tmp-name disambiguator
	}
	return string(b)
}
