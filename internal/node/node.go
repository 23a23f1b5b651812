// Package node wires a single daemon instance's collaborators together
// explicitly (spec §9: "ambient singletons... carry them explicitly
// instead"): CAS, Downloader, the subfeed registry, and HubCoordinator
// share one Node value rather than package-level state.
package node

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kachery-network/kachery-daemon/internal/bucket"
	"github.com/kachery-network/kachery-daemon/internal/cas"
	"github.com/kachery-network/kachery-daemon/internal/config"
	"github.com/kachery-network/kachery-daemon/internal/downloader"
	"github.com/kachery-network/kachery-daemon/internal/feedmanager"
	"github.com/kachery-network/kachery-daemon/internal/hub"
	"github.com/kachery-network/kachery-daemon/internal/pubsub"
	"github.com/kachery-network/kachery-daemon/internal/signature"
	"github.com/kachery-network/kachery-daemon/internal/stats"
	"github.com/kachery-network/kachery-daemon/internal/subfeed"
	"github.com/kachery-network/kachery-daemon/internal/types"
)

func toMemberships(channels []config.ChannelConfig) []types.ChannelMembership {
	memberships := make([]types.ChannelMembership, len(channels))
	for i, ch := range channels {
		memberships[i] = ch.Membership()
	}
	return memberships
}

// Node holds one daemon instance's collaborators.
type Node struct {
	Keypair    *signature.Keypair
	CAS        *cas.Manager
	Subfeeds   *subfeed.Registry
	Stats      *stats.NodeStats
	Hub        *hub.Coordinator
	Downloader *downloader.Downloader
}

// Options configures New. Transport and Minter default to an in-memory
// transport and a minter that always errors, respectively, matching
// spec §6's framing of both as externally-supplied collaborators that a
// single-process deployment stands in for locally.
type Options struct {
	Transport pubsub.Transport
	Minter    bucket.SignedURLMinter
}

// New constructs a Node from cfg: loads or creates the node's Ed25519
// identity under cfg.StorageDir, opens the CAS at cfg.StorageDir, and
// wires Downloader/HubCoordinator with the channel memberships cfg lists.
func New(cfg config.Config, opts Options) (*Node, error) {
	kp, err := loadOrCreateKeypair(filepath.Join(cfg.StorageDir, "node_keypair"))
	if err != nil {
		return nil, err
	}

	casManager, err := cas.NewManager(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("node: open cas: %w", err)
	}

	feedManager := feedmanager.New(cfg.StorageDir)
	subfeeds := subfeed.NewRegistry(feedManager)
	nodeStats := stats.New()

	transport := opts.Transport
	if transport == nil {
		transport = pubsub.NewMemoryTransport()
	}
	minter := opts.Minter
	if minter == nil {
		minter = unconfiguredMinter{}
	}

	coordinator := hub.New(kp, transport, bucket.NewClient(), minter, casManager, subfeeds, nodeStats, toMemberships(cfg.Channels))

	dl := downloader.New(casManager, bucket.NewClient(), coordinator, coordinator, nodeStats)

	return &Node{
		Keypair:    kp,
		CAS:        casManager,
		Subfeeds:   subfeeds,
		Stats:      nodeStats,
		Hub:        coordinator,
		Downloader: dl,
	}, nil
}

// Start begins pubsub subscription per the wired HubCoordinator.
func (n *Node) Start() {
	n.Hub.Start()
}

// Shutdown stops pubsub subscriptions. Callers should ensure in-flight
// installs have drained (via context cancellation propagated to any
// outstanding Downloader/HubCoordinator calls) before calling Shutdown.
func (n *Node) Shutdown(ctx context.Context) {
	n.Hub.Stop()
}

type unconfiguredMinter struct{}

func (unconfiguredMinter) MintFileUploadURL(ctx context.Context, channelName, sha1 string, size int64) (string, error) {
	return "", fmt.Errorf("node: no SignedURLMinter configured")
}
func (unconfiguredMinter) MintSubfeedUploadURL(ctx context.Context, channelName, feedID, subfeedHash string, messageNumber int64) (string, error) {
	return "", fmt.Errorf("node: no SignedURLMinter configured")
}
func (unconfiguredMinter) MintSubfeedJSONUploadURL(ctx context.Context, channelName, feedID, subfeedHash string) (string, error) {
	return "", fmt.Errorf("node: no SignedURLMinter configured")
}

// loadOrCreateKeypair reads a hex-encoded Ed25519 private key from path,
// generating and persisting a fresh one on first run. The file is the
// node's long-term identity; losing it changes the node's public key and
// thus every feedId it has ever written under.
func loadOrCreateKeypair(path string) (*signature.Keypair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		raw, decErr := hex.DecodeString(string(trimNewline(data)))
		if decErr != nil || len(raw) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("node: corrupt keypair file %s", path)
		}
		priv := ed25519.PrivateKey(raw)
		pub := priv.Public().(ed25519.PublicKey)
		return &signature.Keypair{PublicKey: pub, PrivateKey: priv}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("node: read keypair file: %w", err)
	}

	kp, err := signature.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("node: create keypair directory: %w", err)
	}
	encoded := hex.EncodeToString(kp.PrivateKey)
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("node: write keypair file: %w", err)
	}
	return kp, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
