package cas

import (
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/kachery-network/kachery-daemon/internal/hashutil"
)

// contentPath returns <storageDir>/sha1/<aa>/<bb>/<cc>/<sha1>, the direct
// content path for sha1Hex, bit-exact per spec §6.
func (m *Manager) contentPath(sha1Hex string) (string, error) {
	aa, bb, cc, ok := hashutil.ShardPath(sha1Hex)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, sha1Hex)
	}
	return filepath.Join(m.storageDir, "sha1", aa, bb, cc, sha1Hex), nil
}

// linkPath returns the sidecar link-file path for sha1Hex.
func (m *Manager) linkPath(sha1Hex string) (string, error) {
	p, err := m.contentPath(sha1Hex)
	if err != nil {
		return "", err
	}
	return p + ".link", nil
}

// trashPath returns <storageDir>/sha1-trash/<aa>/<bb>/<cc>/<sha1>.
func (m *Manager) trashPath(sha1Hex string) (string, error) {
	aa, bb, cc, ok := hashutil.ShardPath(sha1Hex)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, sha1Hex)
	}
	return filepath.Join(m.storageDir, "sha1-trash", aa, bb, cc, sha1Hex), nil
}

// tmpPath returns a fresh scratch path under <storageDir>/tmp with the
// given prefix and a random 10-character suffix, per spec §6.
func (m *Manager) tmpPath(prefix string) string {
	return filepath.Join(m.storageDir, "tmp", fmt.Sprintf("%s-%s", prefix, randSuffix(10)))
}

const randAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = randAlphabet[rand.Intn(len(randAlphabet))] //nolint:gosec // non-cryptographic tmp-name disambiguator
	}
	return string(b)
}
