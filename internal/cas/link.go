package cas

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// linkStat is the {size, mtime} pair recorded in a link file, used to
// detect when the mirrored external file has moved or changed.
type linkStat struct {
	Size  int64 `json:"size"`
	Mtime int64 `json:"mtime"` // unix millis
}

// linkFile is the JSON sidecar written at <sha1>.link, per spec §3.
type linkFile struct {
	Path         string   `json:"path"`
	ManifestSha1 *string  `json:"manifestSha1"`
	Stat         linkStat `json:"stat"`
}

func readLinkFile(path string) (*linkFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lf linkFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("cas: parse link file %s: %w", path, err)
	}
	return &lf, nil
}

// valid reports whether the link's target still stats with a matching
// size. A link whose target is gone or has changed size is invalid and
// resolution falls through to "not found".
func (lf *linkFile) valid() bool {
	info, err := os.Stat(lf.Path)
	if err != nil {
		return false
	}
	return info.Size() == lf.Stat.Size
}

func statToLinkStat(info os.FileInfo) linkStat {
	return linkStat{Size: info.Size(), Mtime: info.ModTime().UnixMilli()}
}

func mtimeWithinTolerance(observed, declared int64, tolerance time.Duration) bool {
	diff := observed - declared
	if diff < 0 {
		diff = -diff
	}
	return time.Duration(diff) * time.Millisecond <= tolerance
}
