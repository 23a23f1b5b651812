package bucket

import (
	"fmt"

	"github.com/kachery-network/kachery-daemon/internal/hashutil"
)

// FileObjectPath returns the bucket object path for a whole file, bit-exact
// per spec §6: sha1/<aa>/<bb>/<cc>/<sha1>.
func FileObjectPath(sha1Hex string) (string, error) {
	aa, bb, cc, ok := hashutil.ShardPath(sha1Hex)
	if !ok {
		return "", fmt.Errorf("%w: bad sha1 %q", ErrFatal, sha1Hex)
	}
	return fmt.Sprintf("sha1/%s/%s/%s/%s", aa, bb, cc, sha1Hex), nil
}

// SubfeedDirPath returns the bucket directory path for a subfeed's tree,
// bit-exact per spec §6:
// feeds/<aa>/<bb>/<cc>/<feedId>/subfeeds/<aa>/<bb>/<cc>/<subfeedHash>
func SubfeedDirPath(feedID, subfeedHash string) (string, error) {
	faa, fbb, fcc, ok := hashutil.ShardPrefix(feedID)
	if !ok {
		return "", fmt.Errorf("%w: bad feedId %q", ErrFatal, feedID)
	}
	saa, sbb, scc, ok := hashutil.ShardPrefix(subfeedHash)
	if !ok {
		return "", fmt.Errorf("%w: bad subfeedHash %q", ErrFatal, subfeedHash)
	}
	return fmt.Sprintf("feeds/%s/%s/%s/%s/subfeeds/%s/%s/%s/%s",
		faa, fbb, fcc, feedID, saa, sbb, scc, subfeedHash), nil
}

// SubfeedJSONPath returns the bucket path of a subfeed's subfeed.json
// summary object.
func SubfeedJSONPath(feedID, subfeedHash string) (string, error) {
	dir, err := SubfeedDirPath(feedID, subfeedHash)
	if err != nil {
		return "", err
	}
	return dir + "/subfeed.json", nil
}

// SubfeedMessagePath returns the bucket path of message index i within a
// subfeed's tree.
func SubfeedMessagePath(feedID, subfeedHash string, index int64) (string, error) {
	dir, err := SubfeedDirPath(feedID, subfeedHash)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%d", dir, index), nil
}
