package downloader

import "errors"

var (
	// ErrFileNotFound indicates a direct load exhausted both bucket probing
	// passes without locating the file (spec §4.5: "Unable to find file").
	ErrFileNotFound = errors.New("downloader: unable to find file")

	// ErrChannelRequired indicates a direct (non-manifest) load was
	// requested without a channel name.
	ErrChannelRequired = errors.New("downloader: channel name required for direct load")

	// ErrManifestMismatch indicates a downloaded manifest's own sha1 does
	// not match the outer file key's expected sha1.
	ErrManifestMismatch = errors.New("downloader: manifest sha1 mismatch")

	// ErrCancelled indicates the caller cancelled the parent DataStream.
	ErrCancelled = errors.New("downloader: cancelled")

	// ErrUnknownChannel indicates the requested channel has no membership.
	ErrUnknownChannel = errors.New("downloader: unknown channel")
)
