package hub

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/kachery-network/kachery-daemon/internal/types"
)

// RequestFile satisfies downloader.FileRequester: publishes requestFile
// on <channelName>-requestFiles and returns a channel of subsequent
// uploadFileStatus stages this coordinator observes for fileKey (spec
// §4.5/§4.7). The channel is never closed by RequestFile itself; the
// caller (Downloader's awaitHubUpload) times it out per its own
// deadlines and simply stops reading.
func (c *Coordinator) RequestFile(ctx context.Context, channelName string, fileKey *types.FileKey) (<-chan types.UploadStatus, error) {
	if _, ok := c.Membership(channelName); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channelName)
	}

	ch := make(chan types.UploadStatus, 8)
	c.mu.Lock()
	if c.pendingFiles[channelName] == nil {
		c.pendingFiles[channelName] = make(map[string]chan types.UploadStatus)
	}
	c.pendingFiles[channelName][fileKey.Sha1] = ch
	c.mu.Unlock()

	if err := c.publish(ctx, channelName+"-requestFiles", types.RequestFileBody{
		Type:    types.BodyTypeRequestFile,
		FileKey: fileKey,
	}); err != nil {
		c.clearPendingFile(channelName, fileKey.Sha1)
		return nil, err
	}
	return ch, nil
}

func (c *Coordinator) clearPendingFile(channelName, sha1 string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pendingFiles[channelName], sha1)
}

// onUploadFileStatus handles <ch>-provideFiles deliveries: relay the
// reported stage to whichever local RequestFile waiter is tracking that
// fileKey, if any.
func (c *Coordinator) onUploadFileStatus(ctx context.Context, subchannel string, env types.PubsubEnvelope) {
	channelName := strings.TrimSuffix(subchannel, "-provideFiles")
	if !verify(env) {
		log.Printf("hub: dropping unsigned uploadFileStatus on %s", subchannel)
		return
	}
	body, err := decodeBody[types.UploadFileStatusBody](env.Body)
	if err != nil || body.FileKey == nil {
		log.Printf("hub: dropping malformed uploadFileStatus on %s: %v", subchannel, err)
		return
	}

	c.mu.Lock()
	ch := c.pendingFiles[channelName][body.FileKey.Sha1]
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- body.Status:
	default:
	}
}

// onRequestFile handles <ch>-requestFiles deliveries: if this node
// provides files on the channel and holds the content, it PUTs it to the
// bucket and announces started/finished (spec §4.7).
func (c *Coordinator) onRequestFile(ctx context.Context, subchannel string, env types.PubsubEnvelope) {
	channelName := strings.TrimSuffix(subchannel, "-requestFiles")
	membership, ok := c.Membership(channelName)
	if !ok || !membership.Enabled(func(r types.ChannelRoles) bool { return r.ProvideFiles }) {
		return
	}
	if !verify(env) {
		log.Printf("hub: dropping unsigned requestFile on %s", subchannel)
		return
	}
	body, err := decodeBody[types.RequestFileBody](env.Body)
	if err != nil || body.FileKey == nil {
		log.Printf("hub: dropping malformed requestFile on %s: %v", subchannel, err)
		return
	}

	go c.provideFile(context.Background(), membership, body.FileKey)
}

func (c *Coordinator) provideFile(ctx context.Context, membership types.ChannelMembership, fileKey *types.FileKey) {
	channelName := membership.ChannelName
	found, err := c.cas.FindFile(fileKey)
	if err != nil || !found.Found {
		return // not ours to serve
	}

	if err := c.publish(ctx, channelName+"-provideFiles", types.UploadFileStatusBody{
		Type:    types.BodyTypeUploadFileStatus,
		FileKey: fileKey,
		Status:  types.UploadStatusStarted,
	}); err != nil {
		log.Printf("hub: publish started for %s: %v", fileKey, err)
		return
	}

	if err := c.putFileToBucket(ctx, fileKey, found.Size, channelName); err != nil {
		log.Printf("hub: put file %s to bucket: %v", fileKey, err)
		return
	}

	if err := c.publish(ctx, channelName+"-provideFiles", types.UploadFileStatusBody{
		Type:    types.BodyTypeUploadFileStatus,
		FileKey: fileKey,
		Status:  types.UploadStatusFinished,
	}); err != nil {
		log.Printf("hub: publish finished for %s: %v", fileKey, err)
	}
}

func (c *Coordinator) putFileToBucket(ctx context.Context, fileKey *types.FileKey, size int64, channelName string) error {
	r, err := c.cas.GetReadStream(fileKey, 0, 0)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	url, err := c.minter.MintFileUploadURL(ctx, channelName, fileKey.Sha1, size)
	if err != nil {
		return err
	}
	if err := c.bucket.PutSigned(ctx, url, data); err != nil {
		return err
	}
	if c.stats != nil {
		c.stats.ReportBytesSent(channelName, int64(len(data)))
	}
	return nil
}
