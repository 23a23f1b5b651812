package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/kachery-network/kachery-daemon/internal/stream"
	"github.com/kachery-network/kachery-daemon/internal/types"
)

// manifestLoad implements spec §4.5's manifest-driven load: fetch the
// manifest file itself, then fan out a bounded-concurrency parallel fetch
// of each chunk (each chunk fetched as its own whole-file sha1), and
// finally reassemble via CAS.ConcatenateChunksAndStoreResult.
func (d *Downloader) manifestLoad(ctx context.Context, key *types.FileKey, opts LoadOpts) *stream.DataStream {
	s := stream.New(ctx, -1)

	go func() {
		manifestKey := &types.FileKey{Sha1: key.ManifestSha1}
		manifestResult, err := d.LoadFileAsync(s.Context(), manifestKey, opts)
		if err != nil {
			s.Fail(err)
			return
		}

		manifest, err := d.readManifest(manifestResult.LocalPath)
		if err != nil {
			s.Fail(err)
			return
		}
		if key.Sha1 != "" && manifest.Sha1 != key.Sha1 {
			s.Fail(fmt.Errorf("%w: manifest sha1 %s != expected %s", ErrManifestMismatch, manifest.Sha1, key.Sha1))
			return
		}

		if err := d.fetchChunks(s, manifest, opts); err != nil {
			s.Fail(err)
			return
		}

		chunkSha1s := make([]string, len(manifest.Chunks))
		for i, c := range manifest.Chunks {
			chunkSha1s[i] = c.Sha1
		}
		if err := d.CAS.ConcatenateChunksAndStoreResult(manifest.Sha1, chunkSha1s); err != nil {
			s.Fail(err)
			return
		}
		s.Finish()
	}()

	return s
}

func (d *Downloader) readManifest(path string) (*types.FileManifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var m types.FileManifest
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("downloader: parse manifest: %w", err)
	}
	return &m, nil
}

// fetchChunks fans out manifest.Chunks with bounded concurrency
// ChunkConcurrency, retrying each chunk up to ChunkRetries times, and
// aggregates per-chunk progress into the parent stream s. On the first
// fatal chunk error, or on s being cancelled, all outstanding chunk loads
// are cancelled exactly once.
func (d *Downloader) fetchChunks(s *stream.DataStream, manifest *types.FileManifest, opts LoadOpts) error {
	g, ctx := errgroup.WithContext(s.Context())
	g.SetLimit(ChunkConcurrency)

	parentKey := &types.FileKey{Sha1: manifest.Sha1}
	for _, c := range manifest.Chunks {
		chunk := c
		g.Go(func() error {
			chunkKey := &types.FileKey{
				Sha1: chunk.Sha1,
				ChunkOf: &types.ChunkRef{
					FileKey:   parentKey,
					StartByte: chunk.Start,
					EndByte:   chunk.End,
				},
			}
			var lastErr error
			for attempt := 0; attempt <= ChunkRetries; attempt++ {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				chunkStream := d.LoadFile(ctx, chunkKey, opts)
				var prevLoaded int64
				chunkStream.OnProgress(func(loaded, total int64) {
					delta := loaded - prevLoaded
					prevLoaded = loaded
					s.ReportProgress(delta)
				})
				ev, err := chunkStream.Wait()
				if ev == stream.EventFinished {
					return nil
				}
				if ev == stream.EventCancelled {
					return ErrCancelled
				}
				lastErr = err
			}
			return lastErr
		})
	}

	return g.Wait()
}
