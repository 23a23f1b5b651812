package downloader

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kachery-network/kachery-daemon/internal/bucket"
	"github.com/kachery-network/kachery-daemon/internal/cas"
	"github.com/kachery-network/kachery-daemon/internal/types"
)

type fakeMemberships struct {
	m map[string]types.ChannelMembership
}

func (f *fakeMemberships) Membership(name string) (types.ChannelMembership, bool) {
	v, ok := f.m[name]
	return v, ok
}

type fakeRequester struct {
	mu      sync.Mutex
	updates map[string]chan types.UploadStatus
}

func newFakeRequester() *fakeRequester {
	return &fakeRequester{updates: map[string]chan types.UploadStatus{}}
}

func (f *fakeRequester) RequestFile(ctx context.Context, channelName string, key *types.FileKey) (<-chan types.UploadStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan types.UploadStatus, 8)
	f.updates[key.Sha1] = ch
	return ch, nil
}

func (f *fakeRequester) push(sha1 string, status types.UploadStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.updates[sha1]; ok {
		ch <- status
	}
}

// fakeBucketServer serves object content at a fixed path so bucket.Head/
// GetStream can be exercised without any real bucket.
func fakeBucketServer(t *testing.T, objects map[string][]byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, data := range objects {
		data := data
		mux.HandleFunc("/"+path, func(w http.ResponseWriter, r *http.Request) {
			w.Write(data)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoadFile_LocalHitReturnsFinishedStream(t *testing.T) {
	dir := t.TempDir()
	m, err := cas.NewManager(dir)
	require.NoError(t, err)

	data := []byte("already here")
	result, err := m.StoreFileFromStream(bytesReader(data), int64(len(data)), cas.StoreOpts{})
	require.NoError(t, err)

	d := New(m, bucket.NewClient(), &fakeMemberships{}, newFakeRequester(), nil)
	s := d.LoadFile(context.Background(), &types.FileKey{Sha1: result.Sha1}, LoadOpts{})
	ev, err := s.Wait()
	require.NoError(t, err)
	require.Equal(t, 0, int(ev))
}

func TestDirectLoad_RequiresChannel(t *testing.T) {
	dir := t.TempDir()
	m, err := cas.NewManager(dir)
	require.NoError(t, err)
	d := New(m, bucket.NewClient(), &fakeMemberships{}, newFakeRequester(), nil)

	s := d.LoadFile(context.Background(), &types.FileKey{Sha1: "deadbeef00000000000000000000000000000000"}, LoadOpts{})
	_, err = s.Wait()
	require.ErrorIs(t, err, ErrChannelRequired)
}

func TestLoadFile_FiveChunkManifestKeyLocalHit(t *testing.T) {
	dir := t.TempDir()
	m, err := cas.NewManager(dir)
	require.NoError(t, err)

	// Build a manifest with 5 chunks directly through the CAS's real
	// chunker so chunk hashes and boundaries are realistic, keeping the
	// whole-file content in place.
	size := int64(cas.ChunkSize)*4 + 12345
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	whole, err := m.StoreFileFromStream(bytesReader(data), size, cas.StoreOpts{})
	require.NoError(t, err)
	require.NotEmpty(t, whole.ManifestSha1)

	d := New(m, bucket.NewClient(), &fakeMemberships{}, newFakeRequester(), nil)
	key := &types.FileKey{Sha1: whole.Sha1, ManifestSha1: whole.ManifestSha1}
	s := d.LoadFile(context.Background(), key, LoadOpts{})
	// Local hit: whole file already present, so this resolves immediately.
	ev, err := s.Wait()
	require.NoError(t, err)
	require.Equal(t, 0, int(ev))
}

func TestTrashedWholeFile_ManifestRemainsWholeFileNotLocal(t *testing.T) {
	dir := t.TempDir()
	m, err := cas.NewManager(dir)
	require.NoError(t, err)

	size := int64(cas.ChunkSize)*2 + 777
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i * 3) % 256)
	}
	whole, err := m.StoreFileFromStream(bytesReader(data), size, cas.StoreOpts{})
	require.NoError(t, err)
	require.NotEmpty(t, whole.ManifestSha1)

	// Move the whole-file content to trash. StoreFileFromStream stores
	// the manifest but not the individual chunks, so the manifest stays
	// readable while the whole file no longer resolves locally.
	require.NoError(t, m.MoveFileToTrash(whole.Sha1))

	manifestStream, err := m.GetReadStream(&types.FileKey{Sha1: whole.ManifestSha1}, 0, 0)
	require.NoError(t, err)
	_ = manifestStream.Close()

	found, err := m.HasLocalFile(&types.FileKey{Sha1: whole.Sha1})
	require.NoError(t, err)
	require.False(t, found)
}

func bytesReader(b []byte) *bytesReadSeeker { return &bytesReadSeeker{b: b} }

type bytesReadSeeker struct {
	b   []byte
	pos int
}

func (r *bytesReadSeeker) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	if r.pos >= len(r.b) {
		return n, nil
	}
	return n, nil
}
