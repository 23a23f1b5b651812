// Package types holds the wire and domain types shared across the daemon:
// file keys, manifests, channel membership, and signed subfeed messages.
package types

import "fmt"

// ChunkRef identifies a byte range of another file by its key.
type ChunkRef struct {
	FileKey   *FileKey `json:"fileKey"`
	StartByte int64    `json:"startByte"`
	EndByte   int64    `json:"endByte"`
}

// FileKey identifies a file by exactly one of: a whole-file sha1, a
// chunk-of reference into another file, or a manifest sha1 for a large
// file delivered in chunks. Only the fields actually present matter for
// equality; compare keys by their canonical.Marshal serializations.
type FileKey struct {
	Sha1         string    `json:"sha1,omitempty"`
	ChunkOf      *ChunkRef `json:"chunkOf,omitempty"`
	ManifestSha1 string    `json:"manifestSha1,omitempty"`
}

// IsChunk reports whether k references a byte range of another file.
func (k *FileKey) IsChunk() bool {
	return k != nil && k.ChunkOf != nil
}

// IsManifest reports whether k is a manifest-backed large file.
func (k *FileKey) IsManifest() bool {
	return k != nil && k.ManifestSha1 != ""
}

// String renders a FileKey for logging/error messages.
func (k *FileKey) String() string {
	if k == nil {
		return "<nil>"
	}
	switch {
	case k.IsChunk():
		return fmt.Sprintf("chunkOf{%s,%d,%d}", k.ChunkOf.FileKey, k.ChunkOf.StartByte, k.ChunkOf.EndByte)
	case k.IsManifest():
		return fmt.Sprintf("manifest{%s,sha1=%s}", k.ManifestSha1, k.Sha1)
	default:
		return k.Sha1
	}
}

// ManifestChunk is one fixed-size (or trailing) slice of a manifest's
// parent file.
type ManifestChunk struct {
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	Sha1  string `json:"sha1"`
}

// FileManifest describes how a large file is decomposed into chunks.
// Stored as a regular file whose own sha1 is the manifest's identity.
type FileManifest struct {
	Size   int64           `json:"size"`
	Sha1   string          `json:"sha1"`
	Chunks []ManifestChunk `json:"chunks"`
}

// ChannelRoles lists the four role flags a node may hold on a channel.
type ChannelRoles struct {
	RequestFiles bool `json:"requestFiles,omitempty"`
	ProvideFiles bool `json:"provideFiles,omitempty"`
	RequestFeeds bool `json:"requestFeeds,omitempty"`
	ProvideFeeds bool `json:"provideFeeds,omitempty"`
}

// ChannelAuthorization carries the hub-side permission grants that must
// match a role flag for an operation to be enabled.
type ChannelAuthorization struct {
	Permissions ChannelRoles `json:"permissions"`
}

// ChannelMembership describes one channel a node participates in.
type ChannelMembership struct {
	ChannelName      string               `json:"channelName"`
	ChannelBucketURI string               `json:"channelBucketUri"`
	Roles            ChannelRoles         `json:"roles"`
	Authorization    ChannelAuthorization `json:"authorization"`
}

// Enabled reports whether the flag selected by role is allowed on this
// membership: both the role and the matching permission must be set.
func (m ChannelMembership) Enabled(role func(ChannelRoles) bool) bool {
	return role(m.Roles) && role(m.Authorization.Permissions)
}

// SignedMessageBody is the part of a subfeed message that gets signed.
type SignedMessageBody struct {
	Message           any     `json:"message"`
	MessageNumber     int64   `json:"messageNumber"`
	PreviousSignature *string `json:"previousSignature"`
	Timestamp         float64 `json:"timestamp"`
}

// SignedSubfeedMessage is one entry in a subfeed's append-only log.
type SignedSubfeedMessage struct {
	Body      SignedMessageBody `json:"body"`
	Signature string            `json:"signature"`
}

// UploadStatus is the tri-state progression of a requestFile response.
type UploadStatus string

const (
	UploadStatusNone    UploadStatus = ""
	UploadStatusPending UploadStatus = "pending"
	UploadStatusStarted UploadStatus = "started"
	UploadStatusFinished UploadStatus = "finished"
)

// stageOrder gives UploadStatus its total order for monotonic advancement.
var stageOrder = map[UploadStatus]int{
	UploadStatusNone:     0,
	UploadStatusPending:  1,
	UploadStatusStarted:  2,
	UploadStatusFinished: 3,
}

// Advances reports whether moving from s to next is a forward (or equal)
// transition in the pending->started->finished progression.
func (s UploadStatus) Advances(next UploadStatus) bool {
	return stageOrder[next] >= stageOrder[s]
}
