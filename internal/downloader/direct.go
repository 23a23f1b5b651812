package downloader

import (
	"context"
	"fmt"
	"time"

	"github.com/kachery-network/kachery-daemon/internal/bucket"
	"github.com/kachery-network/kachery-daemon/internal/stream"
	"github.com/kachery-network/kachery-daemon/internal/types"
)

// directLoad implements spec §4.5's two-pass direct (non-manifest) load:
// probe the channel bucket, and if absent, ask the hub to request it from
// peers and wait through the pending/started/finished progression before
// probing again.
func (d *Downloader) directLoad(ctx context.Context, key *types.FileKey, opts LoadOpts) *stream.DataStream {
	s := stream.New(ctx, -1)

	if opts.ChannelName == "" {
		s.Fail(ErrChannelRequired)
		return s
	}
	membership, ok := d.Memberships.Membership(opts.ChannelName)
	if !ok {
		s.Fail(fmt.Errorf("%w: %s", ErrUnknownChannel, opts.ChannelName))
		return s
	}

	go func() {
		for pass := 0; pass < 2; pass++ {
			if pass > 0 {
				if err := d.awaitHubUpload(s.Context(), opts.ChannelName, key); err != nil {
					s.Fail(err)
					return
				}
			}

			found, url, err := d.probeBucket(s.Context(), membership, key)
			if err != nil {
				s.Fail(err)
				return
			}
			if found {
				d.streamFromBucket(s, url, key.Sha1, opts.ChannelName)
				return
			}
		}
		s.Fail(ErrFileNotFound)
	}()

	return s
}

// probeBucket issues a HEAD at the file's object URL within the channel's
// bucket.
func (d *Downloader) probeBucket(ctx context.Context, membership types.ChannelMembership, key *types.FileKey) (bool, string, error) {
	objPath, err := bucket.FileObjectPath(key.Sha1)
	if err != nil {
		return false, "", err
	}
	url, err := bucket.ObjectURL(membership.ChannelBucketURI, objPath)
	if err != nil {
		return false, "", err
	}
	exists, err := d.Bucket.Head(ctx, url)
	if err != nil {
		return false, "", err
	}
	return exists, url, nil
}

// streamFromBucket drives the CAS's bucket ingest to completion, relaying
// its DataStream events onto the parent stream s.
func (d *Downloader) streamFromBucket(s *stream.DataStream, url, expectedSha1, channelName string) {
	inner := d.CAS.StoreFileFromBucketURL(s.Context(), d.Bucket, url, expectedSha1, channelName, statsAdapter{d.Stats})
	var prevLoaded int64
	inner.OnProgress(func(loaded, total int64) {
		s.ReportProgress(loaded - prevLoaded)
		prevLoaded = loaded
	})
	ev, err := inner.Wait()
	switch ev {
	case stream.EventFinished:
		s.Finish()
	case stream.EventCancelled:
		s.Cancel()
	default:
		s.Fail(err)
	}
}

type statsAdapter struct{ s Stats }

func (a statsAdapter) ReportBytesReceived(channelName string, n int64) {
	if a.s != nil {
		a.s.ReportBytesReceived(channelName, n)
	}
}

// awaitHubUpload publishes requestFile and waits through the monotonic
// ''->pending->started->finished progression, applying the per-stage
// deadlines from spec §4.5/§5. Returns nil once 'finished' is observed.
func (d *Downloader) awaitHubUpload(ctx context.Context, channelName string, key *types.FileKey) error {
	updates, err := d.Requester.RequestFile(ctx, channelName, key)
	if err != nil {
		return err
	}

	stage := types.UploadStatusNone
	deadline := d.Deadlines.Initial
	for {
		timer := time.After(deadline)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer:
			return ErrFileNotFound
		case next, ok := <-updates:
			if !ok {
				return ErrFileNotFound
			}
			if !stage.Advances(next) {
				continue // stage only advances, never regresses (spec §4.7)
			}
			stage = next
			switch stage {
			case types.UploadStatusPending:
				deadline = d.Deadlines.Pending
			case types.UploadStatusStarted:
				deadline = d.Deadlines.Started
			case types.UploadStatusFinished:
				return nil
			}
		}
	}
}
