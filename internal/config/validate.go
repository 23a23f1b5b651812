package config

import "strings"

// validLogLevels lists the accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid.
func ValidateConfig(cfg Config) error {
	if cfg.StorageDir == "" {
		return ErrEmptyStorageDir
	}
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return ErrInvalidLogLevel
	}

	seen := make(map[string]bool, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		if ch.Name == "" {
			return ErrChannelMissingName
		}
		if ch.BucketURI == "" {
			return ErrChannelMissingBucketURI
		}
		if seen[ch.Name] {
			return ErrDuplicateChannel
		}
		seen[ch.Name] = true
	}
	return nil
}
