package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "", cfg.LogFile)
	require.NotEmpty(t, cfg.StorageDir)
	require.Empty(t, cfg.Channels)
}

func TestDefaultStorageDir_EndsWithKacheryStorage(t *testing.T) {
	require.True(t, strings.HasSuffix(DefaultStorageDir(), ".kachery-storage"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")

	original := Config{
		StorageDir: "/tmp/test-kachery",
		LogLevel:   "debug",
		LogFile:    "/tmp/kachery.log",
		Channels: []ChannelConfig{
			{Name: "lab-a", BucketURI: "gs://lab-a-bucket", RequestFiles: true, ProvideFeeds: true},
			{Name: "lab-b", BucketURI: "gs://lab-b-bucket", ProvideFiles: true, RequestFeeds: true},
		},
	}

	require.NoError(t, SaveConfig(path, original))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, original, loaded)
}

func TestSaveConfigCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "config")

	require.NoError(t, SaveConfig(path, DefaultConfig()))
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestLoadConfigNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config")
	require.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadConfigInvalidLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	require.NoError(t, os.WriteFile(path, []byte("this-is-not-key-value\n"), 0600))

	_, err := LoadConfig(path)
	require.ErrorIs(t, err, ErrInvalidConfigLine)
}

func TestLoadConfigCommentsAndBlanks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	content := `# comment
loglevel = debug

# another comment
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, DefaultStorageDir(), cfg.StorageDir)
}

func TestLoadConfigUnknownKeysIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	content := "futurekey = futurevalue\nloglevel = warn\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfig_ChannelBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	content := `storagedir = /data
channel {
  name = mychan
  bucketUri = gs://mychan-bucket
  requestFiles = true
  provideFeeds = true
}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Channels, 1)
	require.Equal(t, "mychan", cfg.Channels[0].Name)
	require.Equal(t, "gs://mychan-bucket", cfg.Channels[0].BucketURI)
	require.True(t, cfg.Channels[0].RequestFiles)
	require.True(t, cfg.Channels[0].ProvideFeeds)
	require.False(t, cfg.Channels[0].ProvideFiles)
}

func TestLoadConfig_MultipleChannelBlocks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	content := `channel {
  name = a
  bucketUri = gs://a
}
channel {
  name = b
  bucketUri = gs://b
}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Channels, 2)
	require.Equal(t, "a", cfg.Channels[0].Name)
	require.Equal(t, "b", cfg.Channels[1].Name)
}

func TestLoadConfig_ChannelMissingName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	content := "channel {\n  bucketUri = gs://x\n}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	_, err := LoadConfig(path)
	require.ErrorIs(t, err, ErrChannelMissingName)
}

func TestLoadConfig_ChannelMissingBucketURI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	content := "channel {\n  name = x\n}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	_, err := LoadConfig(path)
	require.ErrorIs(t, err, ErrChannelMissingBucketURI)
}

func TestLoadConfig_DuplicateChannelName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	content := `channel {
  name = dup
  bucketUri = gs://1
}
channel {
  name = dup
  bucketUri = gs://2
}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	_, err := LoadConfig(path)
	require.ErrorIs(t, err, ErrDuplicateChannel)
}

func TestLoadConfig_UnterminatedChannelBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	content := "channel {\n  name = x\n  bucketUri = gs://x\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	_, err := LoadConfig(path)
	require.ErrorIs(t, err, ErrUnterminatedChannel)
}

func TestLoadConfig_MultipleEquals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	require.NoError(t, os.WriteFile(path, []byte("logfile=/tmp/a=b.log\n"), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/a=b.log", cfg.LogFile)
}

func TestLoadConfig_WhitespaceAroundEquals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	require.NoError(t, os.WriteFile(path, []byte("  loglevel = warn  \n"), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.LogLevel)
}

func TestValidateConfigDefaults(t *testing.T) {
	require.NoError(t, ValidateConfig(DefaultConfig()))
}

func TestValidateConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{"empty_storagedir", func(c *Config) { c.StorageDir = "" }, ErrEmptyStorageDir},
		{"bad_loglevel", func(c *Config) { c.LogLevel = "verbose" }, ErrInvalidLogLevel},
		{
			"channel_missing_name",
			func(c *Config) { c.Channels = []ChannelConfig{{BucketURI: "gs://x"}} },
			ErrChannelMissingName,
		},
		{
			"channel_missing_bucket_uri",
			func(c *Config) { c.Channels = []ChannelConfig{{Name: "x"}} },
			ErrChannelMissingBucketURI,
		},
		{
			"duplicate_channel",
			func(c *Config) {
				c.Channels = []ChannelConfig{
					{Name: "dup", BucketURI: "gs://1"},
					{Name: "dup", BucketURI: "gs://2"},
				}
			},
			ErrDuplicateChannel,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			err := ValidateConfig(cfg)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestValidateConfig_LogLevelCaseInsensitive(t *testing.T) {
	for _, level := range []string{"INFO", "Debug", "WARN", "Error", "dEbUg"} {
		t.Run(level, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.LogLevel = level
			require.NoError(t, ValidateConfig(cfg))
		})
	}
}

func TestConfigPath(t *testing.T) {
	require.Equal(t, filepath.Join("/home/user/.kachery-storage", "config"), ConfigPath("/home/user/.kachery-storage"))
}

func TestChannelConfig_Membership(t *testing.T) {
	ch := ChannelConfig{Name: "ch1", BucketURI: "gs://ch1", RequestFiles: true, ProvideFeeds: true}
	m := ch.Membership()
	require.Equal(t, "ch1", m.ChannelName)
	require.Equal(t, "gs://ch1", m.ChannelBucketURI)
	require.True(t, m.Roles.RequestFiles)
	require.True(t, m.Roles.ProvideFeeds)
	require.False(t, m.Roles.ProvideFiles)
	require.Equal(t, m.Roles, m.Authorization.Permissions)
}
