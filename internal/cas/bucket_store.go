package cas

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kachery-network/kachery-daemon/internal/bucket"
	"github.com/kachery-network/kachery-daemon/internal/hashutil"
	"github.com/kachery-network/kachery-daemon/internal/stream"
)

// NodeStats is the narrow slice of the NodeStats collaborator (spec §6)
// the CAS needs: per-channel byte accounting for bucket downloads.
type NodeStats interface {
	ReportBytesReceived(channelName string, n int64)
}

// StoreFileFromBucketURL starts an HTTP GET of url and streams it into a
// temp file while accumulating its SHA-1, returning a hot DataStream the
// caller observes for progress and errors. A hash mismatch against
// expectedSha1 is a hard IntegrityViolation: the temp file is deleted and
// nothing is installed (spec §4.4, E3).
func (m *Manager) StoreFileFromBucketURL(ctx context.Context, client *bucket.Client, url string, expectedSha1 string, channelName string, stats NodeStats) *stream.DataStream {
	body, contentLength, err := client.GetStream(ctx, url)
	s := stream.New(ctx, contentLength)
	if err != nil {
		s.Fail(err)
		return s
	}

	go func() {
		defer func() { _ = body.Close() }()

		tmpPath := m.tmpPath("bucket")
		if err := os.MkdirAll(filepath.Dir(tmpPath), 0755); err != nil {
			s.Fail(fmt.Errorf("%w: mkdir tmp: %w", ErrTransient, err))
			return
		}
		tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			s.Fail(fmt.Errorf("%w: create temp: %w", ErrTransient, err))
			return
		}
		cleanup := func() {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}

		digest := hashutil.NewDigest()
		buf := make([]byte, 256*1024)
		for {
			select {
			case <-s.Context().Done():
				cleanup()
				s.Cancel()
				return
			default:
			}

			n, readErr := body.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				digest.Write(chunk)
				if _, err := tmp.Write(chunk); err != nil {
					cleanup()
					s.Fail(fmt.Errorf("%w: write temp: %w", ErrTransient, err))
					return
				}
				if channelName != "" && stats != nil {
					stats.ReportBytesReceived(channelName, int64(n))
				}
				s.ReportProgress(int64(n))
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				cleanup()
				s.Fail(fmt.Errorf("%w: read bucket stream: %w", ErrTransient, readErr))
				return
			}
		}

		computed := digest.Hex()
		if !hashutil.EqualHex(computed, expectedSha1) {
			cleanup()
			s.Fail(fmt.Errorf("%w: bucket download hash %s != expected %s", ErrIntegrityViolation, computed, expectedSha1))
			return
		}

		if err := tmp.Sync(); err != nil {
			cleanup()
			s.Fail(fmt.Errorf("%w: sync temp: %w", ErrTransient, err))
			return
		}
		_ = tmp.Close()

		dest, err := m.contentPath(expectedSha1)
		if err != nil {
			_ = os.Remove(tmpPath)
			s.Fail(err)
			return
		}
		if err := m.installTempFile(tmpPath, dest); err != nil {
			s.Fail(err)
			return
		}

		m.fireStored(expectedSha1)
		s.Finish()
	}()

	return s
}
