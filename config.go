package gcslink

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Link           LinkConfig       `toml:"link" yaml:"link"`
	Dispatcher     DispatcherConfig `toml:"dispatcher" yaml:"dispatcher"`
	Log            LogConfig        `toml:"log" yaml:"log"`
	Forwarders     ForwardersConfig `toml:"forwarders" yaml:"forwarders"`
	Feed           FeedConfig       `toml:"feed" yaml:"feed"`
	StatusInterval time.Duration    `toml:"status_interval" yaml:"status_interval"`
}

type LinkConfig struct {
	Port string `toml:"port" yaml:"port"`
	Baud int    `toml:"baud" yaml:"baud"`

	HeartbeatTimeout time.Duration `toml:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	ReadTimeout      time.Duration `toml:"read_timeout" yaml:"read_timeout"`
	// consecutive read timeouts before a connected link is degraded
	MaxReadTimeouts int `toml:"max_read_timeouts" yaml:"max_read_timeouts"`

	BackoffInitial time.Duration `toml:"backoff_initial" yaml:"backoff_initial"`
	BackoffMax     time.Duration `toml:"backoff_max" yaml:"backoff_max"`

	// Best-effort rate negotiation after each connect. A negative value
	// skips the request.
	StreamRateHz   int     `toml:"stream_rate_hz" yaml:"stream_rate_hz"`
	AttitudeRateHz float64 `toml:"attitude_rate_hz" yaml:"attitude_rate_hz"`

	// our own MAVLink address
	SystemID    uint8 `toml:"system_id" yaml:"system_id"`
	ComponentID uint8 `toml:"component_id" yaml:"component_id"`
}

type DispatcherConfig struct {
	QueueDepth int `toml:"queue_depth" yaml:"queue_depth"`
}

type LogConfig struct {
	Level      string `toml:"level" yaml:"level"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" yaml:"compress"`
}

type ForwardersConfig struct {
	PositionLog PositionLogConfig `toml:"position_log" yaml:"position_log"`
	UDP         UDPConfig         `toml:"udp" yaml:"udp"`
	MQTT        MQTTConfig        `toml:"mqtt" yaml:"mqtt"`
	SQLite      SQLiteConfig      `toml:"sqlite" yaml:"sqlite"`
	CAN         CANConfig         `toml:"can" yaml:"can"`
}

type PositionLogConfig struct {
	Enable bool   `toml:"enable" yaml:"enable"`
	Path   string `toml:"path" yaml:"path"`
}

// UDPConfig addresses the UDP relay. When ConfigFile is set, server, port
// and interval are read from that TOML file instead; a relative path is
// resolved next to the binary.
type UDPConfig struct {
	Enable     bool          `toml:"enable" yaml:"enable"`
	ConfigFile string        `toml:"config_file" yaml:"config_file"`
	Server     string        `toml:"server" yaml:"server"`
	Port       int           `toml:"port" yaml:"port"`
	Interval   time.Duration `toml:"interval" yaml:"interval"`
}

type MQTTConfig struct {
	Enable      bool   `toml:"enable" yaml:"enable"`
	Broker      string `toml:"broker" yaml:"broker"`
	ClientID    string `toml:"client_id" yaml:"client_id"`
	TopicPrefix string `toml:"topic_prefix" yaml:"topic_prefix"`
}

type SQLiteConfig struct {
	Enable bool   `toml:"enable" yaml:"enable"`
	Path   string `toml:"path" yaml:"path"`
}

type CANConfig struct {
	Enable    bool   `toml:"enable" yaml:"enable"`
	Interface string `toml:"interface" yaml:"interface"`
}

type FeedConfig struct {
	Enable bool   `toml:"enable" yaml:"enable"`
	Addr   string `toml:"addr" yaml:"addr"`
}

func DefaultConfig() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a TOML or YAML file, chosen by extension.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "unable to open config %s", path)
	}
	defer f.Close()

	format := "toml"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	return LoadConfigFromReader(f, format)
}

func LoadConfigFromReader(r io.Reader, format string) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, errors.Wrap(err, "unable to read config")
	}
	cfg := Config{}
	switch format {
	case "toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, errors.Wrap(err, "unable to decode toml config")
		}
	case "yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrap(err, "unable to decode yaml config")
		}
	default:
		return Config{}, errors.Errorf("unknown config format %q", format)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Link.applyDefaults()
	if c.Dispatcher.QueueDepth <= 0 {
		c.Dispatcher.QueueDepth = defaultQueueDepth
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 32
	}
	if c.Forwarders.PositionLog.Path == "" {
		c.Forwarders.PositionLog.Path = "gps_log.txt"
	}
	if c.Forwarders.UDP.Interval <= 0 {
		c.Forwarders.UDP.Interval = 100 * time.Millisecond
	}
	if c.Forwarders.MQTT.Broker == "" {
		c.Forwarders.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.Forwarders.MQTT.ClientID == "" {
		c.Forwarders.MQTT.ClientID = "gcslink"
	}
	if c.Forwarders.MQTT.TopicPrefix == "" {
		c.Forwarders.MQTT.TopicPrefix = "gcs"
	}
	if c.Forwarders.SQLite.Path == "" {
		c.Forwarders.SQLite.Path = "track.db"
	}
	if c.Forwarders.CAN.Interface == "" {
		c.Forwarders.CAN.Interface = "can0"
	}
	if c.Feed.Addr == "" {
		c.Feed.Addr = ":8080"
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = 10 * time.Second
	}
}

func (c *LinkConfig) applyDefaults() {
	if c.Port == "" {
		c.Port = "/dev/ttyACM0"
	}
	if c.Baud == 0 {
		c.Baud = 115200
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 500 * time.Millisecond
	}
	if c.MaxReadTimeouts <= 0 {
		c.MaxReadTimeouts = 3
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = defaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = defaultBackoffMax
	}
	if c.StreamRateHz == 0 {
		c.StreamRateHz = 2
	}
	if c.AttitudeRateHz == 0 {
		c.AttitudeRateHz = 50
	}
	if c.SystemID == 0 {
		c.SystemID = 255
	}
	if c.ComponentID == 0 {
		c.ComponentID = 190
	}
}

func (c *Config) Validate() error {
	if c.Link.Baud < 0 {
		return errors.Errorf("link.baud must be positive, got %d", c.Link.Baud)
	}
	if c.Link.BackoffMax < c.Link.BackoffInitial {
		return errors.Errorf("link.backoff_max %v is below link.backoff_initial %v",
			c.Link.BackoffMax, c.Link.BackoffInitial)
	}
	if c.Link.StreamRateHz > 0xffff {
		return errors.Errorf("link.stream_rate_hz out of range: %d", c.Link.StreamRateHz)
	}
	udp := c.Forwarders.UDP
	if udp.Enable && udp.ConfigFile == "" && (udp.Server == "" || udp.Port <= 0) {
		return errors.New("forwarders.udp needs server and port or config_file")
	}
	return nil
}
