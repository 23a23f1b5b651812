package feedmanager

import (
	"fmt"
	"path/filepath"

	"github.com/kachery-network/kachery-daemon/internal/hashutil"
)

// subfeedDir mirrors the bucket tree's fan-out layout on local disk:
// feeds/<aa>/<bb>/<cc>/<feedId>/subfeeds/<aa>/<bb>/<cc>/<subfeedHash>.
func subfeedDir(rootDir, feedID, subfeedHash string) (string, error) {
	faa, fbb, fcc, ok := hashutil.ShardPrefix(feedID)
	if !ok {
		return "", fmt.Errorf("%w: feedId %q", ErrInvalidID, feedID)
	}
	saa, sbb, scc, ok := hashutil.ShardPrefix(subfeedHash)
	if !ok {
		return "", fmt.Errorf("%w: subfeedHash %q", ErrInvalidID, subfeedHash)
	}
	return filepath.Join(rootDir, "feeds", faa, fbb, fcc, feedID, "subfeeds", saa, sbb, scc, subfeedHash), nil
}

// messagePath is the on-disk path of message index i within a subfeed.
func messagePath(dir string, index int64) string {
	return filepath.Join(dir, fmt.Sprintf("%d", index))
}
