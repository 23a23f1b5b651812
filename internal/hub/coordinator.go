// Package hub implements HubCoordinator (spec §4.7): the pubsub-facing
// mediator that subscribes per channel membership's role×permission,
// answers incoming file/subfeed requests, and drives the outgoing
// requestFile waiter state machine Downloader's direct load consumes.
package hub

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kachery-network/kachery-daemon/internal/bucket"
	"github.com/kachery-network/kachery-daemon/internal/cas"
	"github.com/kachery-network/kachery-daemon/internal/pubsub"
	"github.com/kachery-network/kachery-daemon/internal/signature"
	"github.com/kachery-network/kachery-daemon/internal/stats"
	"github.com/kachery-network/kachery-daemon/internal/subfeed"
	"github.com/kachery-network/kachery-daemon/internal/types"
)

// Coordinator is the node's single HubCoordinator instance, shared
// across every channel membership (spec §9's "ambient singleton").
type Coordinator struct {
	nodeID  string
	privKey ed25519.PrivateKey

	transport pubsub.Transport
	bucket    *bucket.Client
	minter    bucket.SignedURLMinter
	cas       *cas.Manager
	subfeeds  *subfeed.Registry
	stats     *stats.NodeStats

	memberships map[string]types.ChannelMembership

	mu            sync.Mutex
	unsubscribers []func()
	pendingFiles  map[string]map[string]chan types.UploadStatus // channelName -> sha1 -> waiter
}

// New constructs a Coordinator. keypair signs every envelope this node
// publishes; its public key hex doubles as nodeID.
func New(
	keypair *signature.Keypair,
	transport pubsub.Transport,
	bc *bucket.Client,
	minter bucket.SignedURLMinter,
	casManager *cas.Manager,
	subfeeds *subfeed.Registry,
	nodeStats *stats.NodeStats,
	memberships []types.ChannelMembership,
) *Coordinator {
	m := make(map[string]types.ChannelMembership, len(memberships))
	for _, mem := range memberships {
		m[mem.ChannelName] = mem
	}
	return &Coordinator{
		nodeID:       keypair.PublicKeyHex(),
		privKey:      keypair.PrivateKey,
		transport:    transport,
		bucket:       bc,
		minter:       minter,
		cas:          casManager,
		subfeeds:     subfeeds,
		stats:        nodeStats,
		memberships:  m,
		pendingFiles: make(map[string]map[string]chan types.UploadStatus),
	}
}

// Membership satisfies downloader.MembershipProvider.
func (c *Coordinator) Membership(channelName string) (types.ChannelMembership, bool) {
	m, ok := c.memberships[channelName]
	return m, ok
}

func roleEnabled(m types.ChannelMembership, role func(types.ChannelRoles) bool) bool {
	return m.Enabled(role)
}

// Start subscribes to every pubsub sub-channel implied by each
// membership's role×permission table (spec §4.7).
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.memberships {
		ch := m.ChannelName
		if roleEnabled(m, func(r types.ChannelRoles) bool { return r.RequestFiles }) {
			c.subscribe(ch+"-provideFiles", c.onUploadFileStatus)
		}
		if roleEnabled(m, func(r types.ChannelRoles) bool { return r.ProvideFiles }) {
			c.subscribe(ch+"-requestFiles", c.onRequestFile)
		}
		if roleEnabled(m, func(r types.ChannelRoles) bool { return r.RequestFeeds }) {
			c.subscribe(ch+"-provideFeeds", c.onSubfeedMessageCountUpdate)
		}
		if roleEnabled(m, func(r types.ChannelRoles) bool { return r.ProvideFeeds }) {
			c.subscribe(ch+"-requestFeeds", c.onRequestSubfeed)
		}
	}
}

func (c *Coordinator) subscribe(subchannel string, handler pubsub.Handler) {
	unsub := c.transport.Subscribe(subchannel, handler)
	c.unsubscribers = append(c.unsubscribers, unsub)
}

// Stop unsubscribes from every sub-channel Start registered.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, unsub := range c.unsubscribers {
		unsub()
	}
	c.unsubscribers = nil
}

// publish signs body under the node's keypair and publishes it on
// subchannel.
func (c *Coordinator) publish(ctx context.Context, subchannel string, body any) error {
	sig, err := signature.Sign(body, c.privKey)
	if err != nil {
		return err
	}
	env := types.PubsubEnvelope{Body: body, FromNodeID: c.nodeID, Signature: sig}
	return c.transport.Publish(ctx, subchannel, env)
}

// verify checks env's signature against its own claimed sender, the
// only accountability a single pubsub envelope carries (spec §4.2: the
// sender's public key is the node's own identity, not a channel secret).
func verify(env types.PubsubEnvelope) bool {
	return signature.Verify(env.Body, env.FromNodeID, env.Signature)
}

// decodeBody round-trips body through JSON into T, uniformly handling
// both a same-process MemoryTransport delivery (body already typed) and
// a real transport's generically-decoded map[string]any (spec §9's
// "parse-or-reject at boundaries").
func decodeBody[T any](body any) (T, error) {
	var out T
	raw, err := json.Marshal(body)
	if err != nil {
		return out, fmt.Errorf("%w: re-marshal body: %w", ErrProtocol, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: decode body: %w", ErrProtocol, err)
	}
	return out, nil
}
