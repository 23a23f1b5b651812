package cas

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kachery-network/kachery-daemon/internal/canonical"
	"github.com/kachery-network/kachery-daemon/internal/hashutil"
	"github.com/kachery-network/kachery-daemon/internal/types"
)

// ChunkSize is the fixed chunk boundary a large file is cut at (spec §3:
// "each chunk is <= 20,000,000 bytes; every chunk except possibly the
// last is exactly 20,000,000 bytes").
const ChunkSize = 20_000_000

// StoreOpts controls StoreFileFromStream.
type StoreOpts struct {
	// CalculateHashOnly skips installing the content file; used by
	// LinkLocalFile, which only wants the hash/manifest, not a copy.
	CalculateHashOnly bool
}

// StreamStoreResult is the outcome of a streamed ingest: the whole file's
// sha1, and its manifestSha1 if the file was split into more than one
// chunk (empty string otherwise, per spec §4.4 "manifestSha1 = null").
type StreamStoreResult struct {
	Sha1         string
	ManifestSha1 string
}

// manifestBuilder accumulates a streaming file's bytes into fixed-size
// chunks, emitting a ManifestChunk each time the window reaches ChunkSize
// and a trailing remainder (even if shorter than ChunkSize) on Finish.
// This mirrors spec §9(a)/(b): ordering of chunk indices is preserved,
// and boundary handling emits a chunk exactly at ChunkSize or at EOF.
type manifestBuilder struct {
	offset int64
	buf    []byte
	chunks []types.ManifestChunk
}

func (b *manifestBuilder) write(p []byte) {
	b.buf = append(b.buf, p...)
	for len(b.buf) >= ChunkSize {
		b.emit(b.buf[:ChunkSize])
		b.buf = b.buf[ChunkSize:]
	}
}

func (b *manifestBuilder) emit(chunk []byte) {
	start := b.offset
	end := start + int64(len(chunk))
	b.chunks = append(b.chunks, types.ManifestChunk{
		Start: start,
		End:   end,
		Sha1:  hashutil.SumHex(chunk),
	})
	b.offset = end
}

func (b *manifestBuilder) finish() []types.ManifestChunk {
	if len(b.buf) > 0 {
		b.emit(b.buf)
		b.buf = nil
	}
	return b.chunks
}

// StoreFileFromStream performs a single streaming pass over r: hashing
// the whole content, optionally teeing it to a temp file for install, and
// accumulating a manifest builder in lock step. Exactly one of (a) a
// single chunk with no manifest, or (b) a manifest with >1 chunks and a
// non-null manifestSha1, results.
func (m *Manager) StoreFileFromStream(r io.Reader, size int64, opts StoreOpts) (StreamStoreResult, error) {
	digest := hashutil.NewDigest()
	mb := &manifestBuilder{}

	var tmp *os.File
	var tmpPath string
	if !opts.CalculateHashOnly {
		tmpPath = m.tmpPath("store")
		if err := os.MkdirAll(filepath.Dir(tmpPath), 0755); err != nil {
			return StreamStoreResult{}, fmt.Errorf("%w: mkdir tmp: %w", ErrTransient, err)
		}
		f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return StreamStoreResult{}, fmt.Errorf("%w: create temp: %w", ErrTransient, err)
		}
		tmp = f
	}
	cleanupTmp := func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}

	buf := make([]byte, 1<<20)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			digest.Write(chunk)
			mb.write(chunk)
			if tmp != nil {
				if _, err := tmp.Write(chunk); err != nil {
					cleanupTmp()
					return StreamStoreResult{}, fmt.Errorf("%w: write temp: %w", ErrTransient, err)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			cleanupTmp()
			return StreamStoreResult{}, fmt.Errorf("%w: read source: %w", ErrTransient, readErr)
		}
	}

	sha1Hex := digest.Hex()
	chunks := mb.finish()

	var manifestSha1 string
	if len(chunks) > 1 {
		manifest := types.FileManifest{Size: size, Sha1: sha1Hex, Chunks: chunks}
		manifestBytes, err := canonical.Marshal(manifestToMap(manifest))
		if err != nil {
			cleanupTmp()
			return StreamStoreResult{}, fmt.Errorf("cas: marshal manifest: %w", err)
		}
		manifestSha1 = hashutil.SumHex(manifestBytes)
		if err := m.StoreFileFromBuffer(manifestSha1, manifestBytes); err != nil {
			cleanupTmp()
			return StreamStoreResult{}, err
		}
	}

	if opts.CalculateHashOnly {
		return StreamStoreResult{Sha1: sha1Hex, ManifestSha1: manifestSha1}, nil
	}

	if err := tmp.Sync(); err != nil {
		cleanupTmp()
		return StreamStoreResult{}, fmt.Errorf("%w: sync temp: %w", ErrTransient, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return StreamStoreResult{}, fmt.Errorf("%w: close temp: %w", ErrTransient, err)
	}

	dest, err := m.contentPath(sha1Hex)
	if err != nil {
		_ = os.Remove(tmpPath)
		return StreamStoreResult{}, err
	}
	if err := m.installTempFile(tmpPath, dest); err != nil {
		return StreamStoreResult{}, err
	}

	m.fireStored(sha1Hex)
	return StreamStoreResult{Sha1: sha1Hex, ManifestSha1: manifestSha1}, nil
}

// installTempFile atomically renames an already-written temp file onto
// dest, re-checking existence first so a concurrent installer of the same
// content converges on one final file.
func (m *Manager) installTempFile(tmpPath, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		_ = os.Remove(tmpPath)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: mkdir dest: %w", ErrTransient, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		if _, statErr := os.Stat(dest); statErr == nil {
			_ = os.Remove(tmpPath)
			return nil
		}
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: rename: %w", ErrTransient, err)
	}
	if err := os.Chmod(dest, 0644); err != nil {
		return fmt.Errorf("%w: chmod: %w", ErrTransient, err)
	}
	return waitForStableSize(dest)
}

// ConcatenateChunksAndStoreResult streams each chunk (each expected to be
// already present locally, as its own whole-file content under its own
// sha1) into a temp file in order, verifying the concatenation hashes to
// expectedSha1 before installing. Any mismatch aborts and deletes the
// temp file without installing (spec §4.4, invariant 2 and E3).
func (m *Manager) ConcatenateChunksAndStoreResult(expectedSha1 string, chunkSha1s []string) error {
	for _, c := range chunkSha1s {
		has, err := m.HasLocalFile(&types.FileKey{Sha1: c})
		if err != nil {
			return err
		}
		if !has {
			return fmt.Errorf("%w: chunk %s", ErrChunkNotLocal, c)
		}
	}

	tmpPath := m.tmpPath("concat")
	if err := os.MkdirAll(filepath.Dir(tmpPath), 0755); err != nil {
		return fmt.Errorf("%w: mkdir tmp: %w", ErrTransient, err)
	}
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: create temp: %w", ErrTransient, err)
	}

	digest := hashutil.NewDigest()
	for _, c := range chunkSha1s {
		rc, err := m.GetReadStream(&types.FileKey{Sha1: c}, 0, 0)
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return err
		}
		mw := io.MultiWriter(tmp, digestWriter{digest})
		_, err = io.Copy(mw, rc)
		_ = rc.Close()
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("%w: copy chunk %s: %w", ErrTransient, c, err)
		}
	}

	computed := digest.Hex()
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: sync temp: %w", ErrTransient, err)
	}
	_ = tmp.Close()

	if !hashutil.EqualHex(computed, expectedSha1) {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: concatenation hash %s != expected %s", ErrIntegrityViolation, computed, expectedSha1)
	}

	dest, err := m.contentPath(expectedSha1)
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := m.installTempFile(tmpPath, dest); err != nil {
		return err
	}
	m.fireStored(expectedSha1)
	return nil
}

type digestWriter struct{ d *hashutil.Digest }

func (w digestWriter) Write(p []byte) (int, error) { return w.d.Write(p) }

// manifestToMap converts a FileManifest into the map[string]any shape
// canonical.Marshal expects for a struct without round-tripping concerns
// about field order; keys are still sorted by Marshal regardless.
func manifestToMap(man types.FileManifest) map[string]any {
	chunks := make([]any, len(man.Chunks))
	for i, c := range man.Chunks {
		chunks[i] = map[string]any{
			"start": float64(c.Start),
			"end":   float64(c.End),
			"sha1":  c.Sha1,
		}
	}
	return map[string]any{
		"size":   float64(man.Size),
		"sha1":   man.Sha1,
		"chunks": chunks,
	}
}
