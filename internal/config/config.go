// Package config loads and saves the daemon's flat key=value configuration
// file, extended with repeated "channel { ... }" blocks for multi-channel
// membership (spec.md §3 ChannelMembership; SPEC_FULL.md's supplemented
// multi-channel loading path).
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kachery-network/kachery-daemon/internal/types"
)

// ChannelConfig describes one channel membership as read from a config
// file's "channel { ... }" block.
type ChannelConfig struct {
	Name         string
	BucketURI    string
	RequestFiles bool
	ProvideFiles bool
	RequestFeeds bool
	ProvideFeeds bool
}

// Membership converts c into the wire-level types.ChannelMembership this
// node advertises and enforces locally; Authorization mirrors Roles since
// the daemon has no separate hub-granted permission source (spec §4.7
// describes permissions as hub-issued, but this config-driven node grants
// itself exactly the roles it configures).
func (c ChannelConfig) Membership() types.ChannelMembership {
	roles := types.ChannelRoles{
		RequestFiles: c.RequestFiles,
		ProvideFiles: c.ProvideFiles,
		RequestFeeds: c.RequestFeeds,
		ProvideFeeds: c.ProvideFeeds,
	}
	return types.ChannelMembership{
		ChannelName:      c.Name,
		ChannelBucketURI: c.BucketURI,
		Roles:            roles,
		Authorization:    types.ChannelAuthorization{Permissions: roles},
	}
}

// Config is the daemon's full configuration.
type Config struct {
	StorageDir string
	LogLevel   string
	LogFile    string
	Channels   []ChannelConfig
}

// DefaultStorageDir returns "<home>/.kachery-storage".
func DefaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".kachery-storage")
}

// DefaultConfig returns a Config with the daemon's defaults and no channel
// memberships; callers append channels before ValidateConfig.
func DefaultConfig() Config {
	return Config{
		StorageDir: DefaultStorageDir(),
		LogLevel:   "info",
		LogFile:    "",
	}
}

// ConfigPath returns the config file path inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(filepath.Clean(dataDir), "config")
}

// SaveConfig writes cfg to path as a key=value file with repeated channel
// blocks, creating parent directories as needed.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# kachery-daemon Configuration\n")
	fmt.Fprintf(&b, "storagedir = %s\n", cfg.StorageDir)
	fmt.Fprintf(&b, "loglevel = %s\n", cfg.LogLevel)
	fmt.Fprintf(&b, "logfile = %s\n", cfg.LogFile)

	for _, ch := range cfg.Channels {
		b.WriteString("\nchannel {\n")
		fmt.Fprintf(&b, "  name = %s\n", ch.Name)
		fmt.Fprintf(&b, "  bucketUri = %s\n", ch.BucketURI)
		fmt.Fprintf(&b, "  requestFiles = %t\n", ch.RequestFiles)
		fmt.Fprintf(&b, "  provideFiles = %t\n", ch.ProvideFiles)
		fmt.Fprintf(&b, "  requestFeeds = %t\n", ch.RequestFeeds)
		fmt.Fprintf(&b, "  provideFeeds = %t\n", ch.ProvideFeeds)
		b.WriteString("}\n")
	}

	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("config: write file: %w", err)
	}
	return nil
}

// LoadConfig reads path, applying key=value lines on top of DefaultConfig
// and accumulating "channel { ... }" blocks into Channels. Unknown keys are
// ignored for forward compatibility; a line that is neither blank, a
// comment, a block delimiter, nor a key=value pair is rejected.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, ErrConfigNotFound
		}
		return Config{}, fmt.Errorf("config: open file: %w", err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	var inChannel bool
	var current ChannelConfig

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !inChannel && line == "channel {" {
			inChannel = true
			current = ChannelConfig{}
			continue
		}
		if inChannel && line == "}" {
			if current.Name == "" {
				return Config{}, ErrChannelMissingName
			}
			if current.BucketURI == "" {
				return Config{}, ErrChannelMissingBucketURI
			}
			for _, existing := range cfg.Channels {
				if existing.Name == current.Name {
					return Config{}, fmt.Errorf("%w: %s", ErrDuplicateChannel, current.Name)
				}
			}
			cfg.Channels = append(cfg.Channels, current)
			inChannel = false
			continue
		}

		key, value, err := parseKeyValue(line)
		if err != nil {
			return Config{}, err
		}

		if inChannel {
			applyChannelKey(&current, key, value)
			continue
		}
		applyTopLevelKey(&cfg, key, value)
	}
	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("config: read file: %w", err)
	}
	if inChannel {
		return Config{}, ErrUnterminatedChannel
	}
	return cfg, nil
}

// parseKeyValue splits line on its first '=', trimming whitespace around
// both halves; a line with no '=' is malformed.
func parseKeyValue(line string) (key, value string, err error) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidConfigLine, line)
	}
	key = strings.ToLower(strings.TrimSpace(line[:idx]))
	value = strings.TrimSpace(line[idx+1:])
	return key, value, nil
}

func applyTopLevelKey(cfg *Config, key, value string) {
	switch key {
	case "storagedir":
		cfg.StorageDir = value
	case "loglevel":
		cfg.LogLevel = value
	case "logfile":
		cfg.LogFile = value
	}
}

func applyChannelKey(ch *ChannelConfig, key, value string) {
	switch key {
	case "name":
		ch.Name = value
	case "bucketuri":
		ch.BucketURI = value
	case "requestfiles":
		ch.RequestFiles = parseBool(value)
	case "providefiles":
		ch.ProvideFiles = parseBool(value)
	case "requestfeeds":
		ch.RequestFeeds = parseBool(value)
	case "providefeeds":
		ch.ProvideFeeds = parseBool(value)
	}
}

func parseBool(value string) bool {
	b, _ := strconv.ParseBool(value)
	return b
}
