package subfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kachery-network/kachery-daemon/internal/bucket"
	"github.com/kachery-network/kachery-daemon/internal/types"
)

// ReplicateFromBucket implements the consumer side of bucket replication
// (spec §4.6): given a peer-announced remoteCount for this subfeed on
// channelBucketURI, confirm it against the bucket's subfeed.json, then
// download messages [local.length, remoteCount) one by one, verifying
// each against the running chain. Any failure discards the whole batch
// without partially applying it.
func (s *Store) ReplicateFromBucket(ctx context.Context, bc *bucket.Client, channelBucketURI string, remoteCount int64) error {
	local := s.GetNumMessages()
	if remoteCount <= local {
		return nil
	}

	jsonPath, err := bucket.SubfeedJSONPath(s.feedID, s.subfeedHash)
	if err != nil {
		return err
	}
	jsonURL, err := bucket.ObjectURL(channelBucketURI, jsonPath)
	if err != nil {
		return err
	}
	var summary types.SubfeedJSON
	found, err := bc.GetJSON(ctx, jsonURL, true, &summary)
	if err != nil {
		return err
	}
	if !found || summary.MessageCount < remoteCount {
		return fmt.Errorf("%w: subfeed.json reports %d, expected >= %d", ErrReplicationDiscarded, summary.MessageCount, remoteCount)
	}

	prevSig, prevNum := s.lastSignature()
	batch := make([]types.SignedSubfeedMessage, 0, remoteCount-local)
	for i := local; i < remoteCount; i++ {
		msg, err := fetchMessage(ctx, bc, channelBucketURI, s.feedID, s.subfeedHash, i)
		if err != nil {
			return fmt.Errorf("%w: fetch message %d: %w", ErrReplicationDiscarded, i, err)
		}
		if verifyErr := verifyChain(s.feedID, prevSig, prevNum, []types.SignedSubfeedMessage{msg}); verifyErr != nil {
			return fmt.Errorf("%w: %w", ErrReplicationDiscarded, verifyErr)
		}
		sig := msg.Signature
		prevSig = &sig
		prevNum = msg.Body.MessageNumber
		batch = append(batch, msg)
	}

	return s.AddSignedMessages(batch)
}

func fetchMessage(ctx context.Context, bc *bucket.Client, channelBucketURI, feedID, subfeedHash string, index int64) (types.SignedSubfeedMessage, error) {
	path, err := bucket.SubfeedMessagePath(feedID, subfeedHash, index)
	if err != nil {
		return types.SignedSubfeedMessage{}, err
	}
	url, err := bucket.ObjectURL(channelBucketURI, path)
	if err != nil {
		return types.SignedSubfeedMessage{}, err
	}
	body, _, err := bc.GetStream(ctx, url)
	if err != nil {
		return types.SignedSubfeedMessage{}, err
	}
	defer func() { _ = body.Close() }()

	var msg types.SignedSubfeedMessage
	data, err := io.ReadAll(body)
	if err != nil {
		return types.SignedSubfeedMessage{}, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return types.SignedSubfeedMessage{}, fmt.Errorf("subfeed: parse message %d: %w", index, err)
	}
	return msg, nil
}

// PublishToBucket implements the producer side of bucket replication
// (spec §4.6): PUT every message from fromIndex onward plus a refreshed
// subfeed.json to channelBucketURI via minter-obtained signed URLs.
// Returns the new total message count for the caller (HubCoordinator) to
// announce via subfeedMessageCountUpdate.
func (s *Store) PublishToBucket(ctx context.Context, bc *bucket.Client, minter bucket.SignedURLMinter, channelName string, fromIndex int64) (int64, error) {
	msgs, err := s.GetSignedMessages(fromIndex, 0)
	if err != nil {
		return 0, err
	}
	for i, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return 0, fmt.Errorf("subfeed: marshal message %d: %w", fromIndex+int64(i), err)
		}
		url, err := minter.MintSubfeedUploadURL(ctx, channelName, s.feedID, s.subfeedHash, fromIndex+int64(i))
		if err != nil {
			return 0, err
		}
		if err := bc.PutSigned(ctx, url, data); err != nil {
			return 0, err
		}
	}

	count := s.GetNumMessages()
	summary, err := json.Marshal(types.SubfeedJSON{MessageCount: count})
	if err != nil {
		return 0, fmt.Errorf("subfeed: marshal subfeed.json: %w", err)
	}
	jsonURL, err := minter.MintSubfeedJSONUploadURL(ctx, channelName, s.feedID, s.subfeedHash)
	if err != nil {
		return 0, err
	}
	if err := bc.PutSigned(ctx, jsonURL, summary); err != nil {
		return 0, err
	}

	return count, nil
}
