package config

import "errors"

var (
	// ErrEmptyStorageDir indicates the storage directory path is empty.
	ErrEmptyStorageDir = errors.New("config: storage directory must not be empty")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")

	// ErrInvalidConfigLine indicates a line in the config file is malformed.
	ErrInvalidConfigLine = errors.New("config: invalid configuration line")

	// ErrChannelMissingName indicates a channel block has no name key.
	ErrChannelMissingName = errors.New("config: channel block missing name")

	// ErrChannelMissingBucketURI indicates a channel block has no bucketUri key.
	ErrChannelMissingBucketURI = errors.New("config: channel block missing bucketUri")

	// ErrDuplicateChannel indicates the same channel name appears twice.
	ErrDuplicateChannel = errors.New("config: duplicate channel name")

	// ErrUnterminatedChannel indicates a "channel" block was never closed.
	ErrUnterminatedChannel = errors.New("config: unterminated channel block")
)
