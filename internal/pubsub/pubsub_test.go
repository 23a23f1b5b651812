package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kachery-network/kachery-daemon/internal/types"
)

func TestMemoryTransport_PublishDeliversToSubscribers(t *testing.T) {
	tr := NewMemoryTransport()
	var got []types.PubsubEnvelope
	unsub := tr.Subscribe("ch-requestFiles", func(ctx context.Context, subchannel string, env types.PubsubEnvelope) {
		got = append(got, env)
	})
	defer unsub()

	env := types.PubsubEnvelope{Body: map[string]any{"type": "requestFile"}, FromNodeID: "node1"}
	require.NoError(t, tr.Publish(context.Background(), "ch-requestFiles", env))
	require.Len(t, got, 1)
	require.Equal(t, "node1", got[0].FromNodeID)
}

func TestMemoryTransport_UnsubscribeStopsDelivery(t *testing.T) {
	tr := NewMemoryTransport()
	count := 0
	unsub := tr.Subscribe("ch-requestFiles", func(ctx context.Context, subchannel string, env types.PubsubEnvelope) {
		count++
	})
	unsub()
	require.NoError(t, tr.Publish(context.Background(), "ch-requestFiles", types.PubsubEnvelope{}))
	require.Equal(t, 0, count)
}

func TestMemoryTransport_SubchannelIsolation(t *testing.T) {
	tr := NewMemoryTransport()
	count := 0
	unsub := tr.Subscribe("ch-provideFiles", func(ctx context.Context, subchannel string, env types.PubsubEnvelope) {
		count++
	})
	defer unsub()
	require.NoError(t, tr.Publish(context.Background(), "ch-requestFiles", types.PubsubEnvelope{}))
	require.Equal(t, 0, count)
}
