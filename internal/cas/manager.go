// Package cas implements the content-addressed store: the daemon's local
// on-disk SHA-1-keyed file store (spec §4.4). The filesystem layout is
// the index; there is no side-car database (spec §9), so a process
// restart is a no-op.
package cas

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kachery-network/kachery-daemon/internal/types"
)

// renameStatTimeout bounds the post-rename stat-loop that defends against
// buffered-write races on networked filesystems (spec §4.4).
const renameStatTimeout = 10 * time.Second

// mtimeTolerance is the maximum allowed drift between a link's declared
// mtime and the observed mtime of its target (spec §4.4, invariant 4).
const mtimeTolerance = 2 * time.Millisecond

// Manager is the local content-addressed store rooted at storageDir. It
// holds no in-memory index; every method re-derives paths from the key.
type Manager struct {
	storageDir string

	mu        sync.Mutex
	observers []func(sha1Hex string)
}

// NewManager creates a Manager rooted at storageDir, creating the
// sha1/, sha1-trash/, and tmp/ subdirectories if needed.
func NewManager(storageDir string) (*Manager, error) {
	m := &Manager{storageDir: storageDir}
	for _, sub := range []string{"sha1", "sha1-trash", "tmp"} {
		if err := os.MkdirAll(filepath.Join(storageDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("cas: create %s: %w", sub, err)
		}
	}
	return m, nil
}

// OnFileStored registers an observer invoked after any successful
// install (direct, streamed, bucket-fetched, or chunk-concatenated).
// Fired strictly after the file is readable at its content path.
func (m *Manager) OnFileStored(f func(sha1Hex string)) {
	m.mu.Lock()
	m.observers = append(m.observers, f)
	m.mu.Unlock()
}

func (m *Manager) fireStored(sha1Hex string) {
	m.mu.Lock()
	observers := append([]func(string){}, m.observers...)
	m.mu.Unlock()
	for _, f := range observers {
		f(sha1Hex)
	}
}

// FindResult is the outcome of resolving a FileKey against local storage.
type FindResult struct {
	Found     bool
	Size      int64
	LocalPath string // empty for chunkOf keys; caller must use GetReadStream
}

// FindFile resolves key against local storage. For a whole-file key it
// returns the direct or link path (direct preferred). For a chunkOf key
// it returns found=true with the chunk's computed size and no local
// path, since the chunk's bytes live inside the parent file.
func (m *Manager) FindFile(key *types.FileKey) (FindResult, error) {
	if key.IsChunk() {
		parent, err := m.FindFile(key.ChunkOf.FileKey)
		if err != nil || !parent.Found {
			return FindResult{Found: false}, err
		}
		return FindResult{
			Found: true,
			Size:  key.ChunkOf.EndByte - key.ChunkOf.StartByte,
		}, nil
	}

	sha1Hex := key.Sha1
	if sha1Hex == "" && key.ManifestSha1 != "" {
		sha1Hex = key.ManifestSha1
	}
	if sha1Hex == "" {
		return FindResult{}, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	direct, err := m.contentPath(sha1Hex)
	if err != nil {
		return FindResult{}, err
	}
	if info, err := os.Stat(direct); err == nil {
		return FindResult{Found: true, Size: info.Size(), LocalPath: direct}, nil
	}

	linkP, err := m.linkPath(sha1Hex)
	if err != nil {
		return FindResult{}, err
	}
	lf, err := readLinkFile(linkP)
	if err != nil {
		if os.IsNotExist(err) {
			return FindResult{Found: false}, nil
		}
		return FindResult{}, err
	}
	if !lf.valid() {
		return FindResult{Found: false}, nil
	}
	return FindResult{Found: true, Size: lf.Stat.Size, LocalPath: lf.Path}, nil
}

// HasLocalFile is the boolean form of FindFile.
func (m *Manager) HasLocalFile(key *types.FileKey) (bool, error) {
	r, err := m.FindFile(key)
	if err != nil {
		return false, err
	}
	return r.Found, nil
}

// atomicInstall lets write fill a temp file next to dest, then atomically
// renames it onto dest. It always
// re-checks dest's existence just before renaming so that concurrent
// installers of the same content converge on a single final file (spec
// §4.4, "Concurrent install of the same sha1"; invariant 6).
func (m *Manager) atomicInstall(dest string, write func(f *os.File) error) error {
	if _, err := os.Stat(dest); err == nil {
		return nil // already installed by someone else
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("%w: mkdir: %w", ErrTransient, err)
	}

	tmp := filepath.Join(filepath.Dir(dest), fmt.Sprintf(".%s.%s.tmp", filepath.Base(dest), randSuffix(8)))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: create temp: %w", ErrTransient, err)
	}

	writeErr := write(f)
	syncErr := f.Sync()
	closeErr := f.Close()
	if writeErr != nil {
		_ = os.Remove(tmp)
		return writeErr
	}
	if syncErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: flush temp: %w", ErrTransient, errors.Join(syncErr, closeErr))
	}

	// Re-check existence right before rename: another installer may have
	// finished while we were writing.
	if _, err := os.Stat(dest); err == nil {
		_ = os.Remove(tmp)
		return nil
	}

	if err := os.Rename(tmp, dest); err != nil {
		// The destination may have appeared between our re-check and the
		// rename (spec §9(c)): the spec keeps re-raising this as fatal
		// after logging "even though file exists", so we do the same
		// rather than silently treating destination-present as success.
		if _, statErr := os.Stat(dest); statErr == nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("%w: rename onto existing destination: %w", ErrTransient, err)
		}
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename: %w", ErrTransient, err)
	}

	if err := os.Chmod(dest, 0644); err != nil {
		return fmt.Errorf("%w: chmod: %w", ErrTransient, err)
	}

	return waitForStableSize(dest)
}

// waitForStableSize stat-loops dest until its size stops changing, up to
// renameStatTimeout, defending against buffered-write races on networked
// filesystems (spec §4.4).
func waitForStableSize(path string) error {
	deadline := time.Now().Add(renameStatTimeout)
	var last int64 = -1
	for {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("%w: stat after install: %w", ErrTransient, err)
		}
		if info.Size() == last {
			return nil
		}
		last = info.Size()
		if time.Now().After(deadline) {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// StoreFileFromBuffer writes data to the content path for sha1Hex,
// skipping if already present. Atomic install, mode 0644; emits
// OnFileStored on success.
func (m *Manager) StoreFileFromBuffer(sha1Hex string, data []byte) error {
	dest, err := m.contentPath(sha1Hex)
	if err != nil {
		return err
	}
	if err := m.atomicInstall(dest, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	}); err != nil {
		return err
	}
	m.fireStored(sha1Hex)
	return nil
}

// StoreLocalFile stats path, streams it through StoreFileFromStream, and
// installs it normally (as opposed to LinkLocalFile, which only records a
// pointer).
func (m *Manager) StoreLocalFile(path string) (StreamStoreResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return StreamStoreResult{}, fmt.Errorf("cas: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return StreamStoreResult{}, fmt.Errorf("cas: stat %s: %w", path, err)
	}
	return m.StoreFileFromStream(f, info.Size(), StoreOpts{})
}

// LinkLocalFileOpts declares the caller's expectation for the external
// file being linked.
type LinkLocalFileOpts struct {
	Size  int64
	Mtime time.Time
}

// LinkLocalFile records that the external file at path mirrors a given
// sha1 without copying its bytes. It rejects if the observed size or
// mtime disagree with the declared ones beyond tolerance (spec §4.4,
// invariant 4), then hashes the file (hash-only — no content copy) and
// writes a link sidecar via the same tmp+rename discipline as content
// files.
func (m *Manager) LinkLocalFile(path string, opts LinkLocalFileOpts) (StreamStoreResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return StreamStoreResult{}, fmt.Errorf("cas: stat %s: %w", path, err)
	}
	if info.Size() != opts.Size {
		return StreamStoreResult{}, fmt.Errorf("%w: size mismatch for %s: observed %d, declared %d",
			ErrPreconditionFailed, path, info.Size(), opts.Size)
	}
	if !mtimeWithinTolerance(info.ModTime().UnixMilli(), opts.Mtime.UnixMilli(), mtimeTolerance) {
		return StreamStoreResult{}, fmt.Errorf("%w: mtime mismatch for %s", ErrPreconditionFailed, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return StreamStoreResult{}, fmt.Errorf("cas: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	result, err := m.StoreFileFromStream(f, info.Size(), StoreOpts{CalculateHashOnly: true})
	if err != nil {
		return StreamStoreResult{}, err
	}

	lf := linkFile{
		Path:         path,
		ManifestSha1: nilIfEmpty(result.ManifestSha1),
		Stat:         statToLinkStat(info),
	}
	linkP, err := m.linkPath(result.Sha1)
	if err != nil {
		return StreamStoreResult{}, err
	}
	if err := m.installLinkFile(linkP, lf); err != nil {
		return StreamStoreResult{}, err
	}
	return result, nil
}

func (m *Manager) installLinkFile(linkP string, lf linkFile) error {
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("cas: marshal link file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(linkP), 0755); err != nil {
		return fmt.Errorf("%w: mkdir: %w", ErrTransient, err)
	}
	tmp := linkP + "." + randSuffix(8) + ".link.tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: write link temp: %w", ErrTransient, err)
	}
	if err := os.Rename(tmp, linkP); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename link: %w", ErrTransient, err)
	}
	return nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetReadStream opens a reader for key over [startByte, endByte) (the
// full file if both are zero/absent for a whole-file key). For a chunkOf
// key, the range is translated into an absolute offset in the parent
// file.
func (m *Manager) GetReadStream(key *types.FileKey, startByte, endByte int64) (io.ReadCloser, error) {
	if key.IsChunk() {
		absStart := key.ChunkOf.StartByte + startByte
		absEnd := key.ChunkOf.EndByte
		if endByte > 0 {
			absEnd = key.ChunkOf.StartByte + endByte
		}
		return m.GetReadStream(key.ChunkOf.FileKey, absStart, absEnd)
	}

	r, err := m.FindFile(key)
	if err != nil {
		return nil, err
	}
	if !r.Found || r.LocalPath == "" {
		return nil, ErrNotFound
	}
	f, err := os.Open(r.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("cas: open %s: %w", r.LocalPath, err)
	}
	if startByte > 0 {
		if _, err := f.Seek(startByte, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("cas: seek: %w", err)
		}
	}
	if endByte <= 0 {
		return f, nil
	}
	return &limitedReadCloser{f: f, remaining: endByte - startByte}, nil
}

type limitedReadCloser struct {
	f         *os.File
	remaining int64
}

func (l *limitedReadCloser) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.f.Read(p)
	l.remaining -= int64(n)
	return n, err
}

func (l *limitedReadCloser) Close() error { return l.f.Close() }

// MoveFileToTrash renames the content file for sha1Hex under sha1-trash/.
// If a file already exists there, the source is unlinked instead. Moving
// to trash is the only deletion primitive (spec §3).
func (m *Manager) MoveFileToTrash(sha1Hex string) error {
	src, err := m.contentPath(sha1Hex)
	if err != nil {
		return err
	}
	dst, err := m.trashPath(sha1Hex)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("%w: mkdir trash: %w", ErrTransient, err)
	}
	if _, err := os.Stat(dst); err == nil {
		return os.Remove(src)
	}
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: move to trash: %w", ErrTransient, err)
	}
	return nil
}

