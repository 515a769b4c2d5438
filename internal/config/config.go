package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "3s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Channel    ChannelConfig    `yaml:"channel"`
	Feed       FeedConfig       `yaml:"feed"`
	Recordings RecordingsConfig `yaml:"recordings"`
	Upload     UploadConfig     `yaml:"upload"`
	Journal    JournalConfig    `yaml:"journal"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig points at the CRM upload endpoint.
type ServerConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	UserID  string `yaml:"user_id"`
}

// ChannelConfig configures the duplex command channel.
type ChannelConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// FeedConfig locates the device shim that streams native call events.
type FeedConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RecordingsConfig drives the correlation heuristic. Directories is
// ordered and user-editable, pre-seeded with known manufacturer
// locations; order matters only for diagnostics, match selection is
// time-based.
type RecordingsConfig struct {
	Directories []string `yaml:"directories"`
	Window      Duration `yaml:"window"`
	Skew        Duration `yaml:"skew"`
	SettleDelay Duration `yaml:"settle_delay"`
	SessionTTL  Duration `yaml:"session_ttl"`
}

type UploadConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *FeedConfig) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// defaultDirectories are the candidate recorder output locations across
// common Android builds. A user-supplied list replaces, not appends.
func defaultDirectories() []string {
	return []string{
		"/storage/emulated/0/CallRecordings",
		"/storage/emulated/0/Recordings/Call",
		"/storage/emulated/0/Music/Call Recordings",
		"/storage/emulated/0/MIUI/sound_recorder/call_rec", // Xiaomi
		"/storage/emulated/0/VoiceRecorder",                // Samsung
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{
		Channel: ChannelConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "recsync",
			TopicPrefix: "crm",
		},
		Feed: FeedConfig{
			Host: "127.0.0.1",
			Port: 7379,
		},
		Recordings: RecordingsConfig{
			Directories: defaultDirectories(),
			Window:      Duration(2 * time.Minute),
			Skew:        Duration(5 * time.Second),
			SettleDelay: Duration(3 * time.Second),
			SessionTTL:  Duration(10 * time.Minute),
		},
		Upload: UploadConfig{
			MaxAttempts: 3,
			BaseDelay:   Duration(2 * time.Second),
			MaxDelay:    Duration(30 * time.Second),
		},
		Journal: JournalConfig{
			Path: "recsync.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Server.UserID == "" {
		return fmt.Errorf("server.user_id is required")
	}
	if c.Channel.Broker == "" {
		return fmt.Errorf("channel.broker is required")
	}
	if c.Channel.ClientID == "" {
		return fmt.Errorf("channel.client_id is required")
	}
	if c.Channel.TopicPrefix == "" {
		return fmt.Errorf("channel.topic_prefix is required")
	}
	if c.Feed.Host == "" {
		return fmt.Errorf("feed.host is required")
	}
	if c.Feed.Port < 1 || c.Feed.Port > 65535 {
		return fmt.Errorf("feed.port must be between 1 and 65535, got %d", c.Feed.Port)
	}
	if len(c.Recordings.Directories) == 0 {
		return fmt.Errorf("recordings.directories must not be empty")
	}
	if c.Recordings.Window <= 0 {
		return fmt.Errorf("recordings.window must be positive")
	}
	if c.Recordings.SettleDelay < 0 {
		return fmt.Errorf("recordings.settle_delay must not be negative")
	}
	if c.Upload.MaxAttempts < 1 {
		return fmt.Errorf("upload.max_attempts must be at least 1")
	}
	return nil
}
