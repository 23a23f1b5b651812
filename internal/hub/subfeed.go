package hub

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/kachery-network/kachery-daemon/internal/types"
)

// RequestSubfeed publishes requestSubfeed on <channelName>-requestFeeds,
// asking peers to replicate this subfeed into the channel bucket from
// position onward (spec §4.6/§4.7). Responses arrive asynchronously as
// subfeedMessageCountUpdate deliveries on <channelName>-provideFeeds,
// already routed to the consumer path by onSubfeedMessageCountUpdate.
func (c *Coordinator) RequestSubfeed(ctx context.Context, channelName, feedID, subfeedHash string, position int64) error {
	if _, ok := c.Membership(channelName); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channelName)
	}
	return c.publish(ctx, channelName+"-requestFeeds", types.RequestSubfeedBody{
		Type:        types.BodyTypeRequestSubfeed,
		FeedID:      feedID,
		SubfeedHash: subfeedHash,
		Position:    position,
	})
}

// onRequestSubfeed handles <ch>-requestFeeds deliveries: if this node
// provides feeds on the channel, it runs the subfeed producer
// replication path and announces the resulting count (spec §4.6/§4.7).
func (c *Coordinator) onRequestSubfeed(ctx context.Context, subchannel string, env types.PubsubEnvelope) {
	channelName := strings.TrimSuffix(subchannel, "-requestFeeds")
	membership, ok := c.Membership(channelName)
	if !ok || !membership.Enabled(func(r types.ChannelRoles) bool { return r.ProvideFeeds }) {
		return
	}
	if !verify(env) {
		log.Printf("hub: dropping unsigned requestSubfeed on %s", subchannel)
		return
	}
	body, err := decodeBody[types.RequestSubfeedBody](env.Body)
	if err != nil {
		log.Printf("hub: dropping malformed requestSubfeed on %s: %v", subchannel, err)
		return
	}

	go c.provideSubfeed(context.Background(), membership, body.FeedID, body.SubfeedHash, body.Position)
}

func (c *Coordinator) provideSubfeed(ctx context.Context, membership types.ChannelMembership, feedID, subfeedHash string, fromIndex int64) {
	store, err := c.subfeeds.GetOrOpen(feedID, subfeedHash)
	if err != nil {
		log.Printf("hub: open subfeed %s/%s: %v", feedID, subfeedHash, err)
		return
	}
	count, err := store.PublishToBucket(ctx, c.bucket, c.minter, membership.ChannelName, fromIndex)
	if err != nil {
		log.Printf("hub: publish subfeed %s/%s to bucket: %v", feedID, subfeedHash, err)
		return
	}
	if err := c.publish(ctx, membership.ChannelName+"-provideFeeds", types.SubfeedMessageCountUpdateBody{
		Type:         types.BodyTypeSubfeedMessageCountUpdate,
		FeedID:       feedID,
		SubfeedHash:  subfeedHash,
		MessageCount: count,
	}); err != nil {
		log.Printf("hub: publish subfeedMessageCountUpdate for %s/%s: %v", feedID, subfeedHash, err)
	}
}

// onSubfeedMessageCountUpdate handles <ch>-provideFeeds deliveries: runs
// the subfeed consumer replication path against the channel bucket
// (spec §4.6/§4.7).
func (c *Coordinator) onSubfeedMessageCountUpdate(ctx context.Context, subchannel string, env types.PubsubEnvelope) {
	channelName := strings.TrimSuffix(subchannel, "-provideFeeds")
	membership, ok := c.Membership(channelName)
	if !ok {
		return
	}
	if !verify(env) {
		log.Printf("hub: dropping unsigned subfeedMessageCountUpdate on %s", subchannel)
		return
	}
	body, err := decodeBody[types.SubfeedMessageCountUpdateBody](env.Body)
	if err != nil {
		log.Printf("hub: dropping malformed subfeedMessageCountUpdate on %s: %v", subchannel, err)
		return
	}

	store, err := c.subfeeds.GetOrOpen(body.FeedID, body.SubfeedHash)
	if err != nil {
		log.Printf("hub: open subfeed %s/%s: %v", body.FeedID, body.SubfeedHash, err)
		return
	}
	if err := store.ReplicateFromBucket(context.Background(), c.bucket, membership.ChannelBucketURI, body.MessageCount); err != nil {
		log.Printf("hub: replicate subfeed %s/%s from bucket: %v", body.FeedID, body.SubfeedHash, err)
	}
}
