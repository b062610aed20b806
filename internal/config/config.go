// Package config loads node settings from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/datasync/internal/core/codec"
	"github.com/zeusync/datasync/internal/core/observability/log"
)

const (
	TransportUDP  = "udp"
	TransportQUIC = "quic"
)

var (
	ErrUnsupportedExtension = errors.New("unsupported config file extension")
	ErrInvalidConfig        = errors.New("invalid config")
)

type Config struct {
	Node      NodeConfig      `yaml:"node" toml:"node"`
	Messenger MessengerConfig `yaml:"messenger" toml:"messenger"`
	Discovery DiscoveryConfig `yaml:"discovery" toml:"discovery"`
	Inspector InspectorConfig `yaml:"inspector" toml:"inspector"`
	Log       LogConfig       `yaml:"log" toml:"log"`
}

type NodeConfig struct {
	// Hostname is advertised over discovery. Empty means os.Hostname.
	Hostname  string `yaml:"hostname" toml:"hostname"`
	Group     string `yaml:"group" toml:"group"`
	Bind      string `yaml:"bind" toml:"bind"`
	Port      uint16 `yaml:"port" toml:"port"`
	Transport string `yaml:"transport" toml:"transport"`
	Format    string `yaml:"format" toml:"format"`
	// Peers are contacted at startup in addition to discovered ones.
	Peers []string `yaml:"peers" toml:"peers"`
	// Objects names the documents every node in the group carries besides
	// the built-in "node" document.
	Objects []string `yaml:"objects" toml:"objects"`
}

type MessengerConfig struct {
	MaxRetries       uint32        `yaml:"max_retries" toml:"max_retries"`
	ReceiptRetention uint32        `yaml:"receipt_retention" toml:"receipt_retention"`
	PurgeInterval    uint32        `yaml:"purge_interval" toml:"purge_interval"`
	TickInterval     time.Duration `yaml:"tick_interval" toml:"tick_interval"`
	InboxSize        int           `yaml:"inbox_size" toml:"inbox_size"`
}

type DiscoveryConfig struct {
	Enabled          bool   `yaml:"enabled" toml:"enabled"`
	ScanDuration     uint32 `yaml:"scan_duration" toml:"scan_duration"`
	TimeBetweenScans uint32 `yaml:"time_between_scans" toml:"time_between_scans"`
	Domain           string `yaml:"domain" toml:"domain"`
}

type InspectorConfig struct {
	// Listen is the HTTP address. Empty disables the inspector.
	Listen string `yaml:"listen" toml:"listen"`
}

type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
}

func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Group:     "default",
			Bind:      "0.0.0.0",
			Port:      4210,
			Transport: TransportUDP,
			Format:    "msgpack",
		},
		Messenger: MessengerConfig{
			MaxRetries:       100,
			ReceiptRetention: 600,
			PurgeInterval:    16,
			TickInterval:     100 * time.Millisecond,
			InboxSize:        256,
		},
		Discovery: DiscoveryConfig{
			Enabled:          true,
			ScanDuration:     20,
			TimeBetweenScans: 600,
			Domain:           "local",
		},
		Inspector: InspectorConfig{
			Listen: "127.0.0.1:8421",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. The decoder is chosen by extension:
// .yaml and .yml for YAML, .toml for TOML.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	defer f.Close()

	var cfg *Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		cfg, err = LoadYAML(f)
	case ".toml":
		cfg, err = LoadTOML(f)
	default:
		return nil, fmt.Errorf("load config %s: %w: %q", path, ErrUnsupportedExtension, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadYAML decodes YAML from r over the defaults.
func LoadYAML(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(r).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML decodes TOML from r over the defaults.
func LoadTOML(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Node.Group) == "" {
		errs = append(errs, errors.New("node.group must not be empty"))
	}
	if _, err := netip.ParseAddr(c.Node.Bind); err != nil {
		errs = append(errs, fmt.Errorf("node.bind: %w", err))
	}
	switch c.Node.Transport {
	case TransportUDP, TransportQUIC:
	default:
		errs = append(errs, fmt.Errorf("node.transport: unknown transport %q", c.Node.Transport))
	}
	if _, err := c.Format(); err != nil {
		errs = append(errs, fmt.Errorf("node.format: %w", err))
	}
	for _, p := range c.Node.Peers {
		if _, err := netip.ParseAddrPort(p); err != nil {
			errs = append(errs, fmt.Errorf("node.peers: %w", err))
		}
	}
	if c.Messenger.MaxRetries == 0 {
		errs = append(errs, errors.New("messenger.max_retries must be positive"))
	}
	if c.Messenger.PurgeInterval == 0 {
		errs = append(errs, errors.New("messenger.purge_interval must be positive"))
	}
	if c.Messenger.TickInterval <= 0 {
		errs = append(errs, errors.New("messenger.tick_interval must be positive"))
	}
	if c.Messenger.InboxSize <= 0 {
		errs = append(errs, errors.New("messenger.inbox_size must be positive"))
	}
	if c.Discovery.Enabled && (c.Discovery.ScanDuration == 0 || c.Discovery.TimeBetweenScans == 0) {
		errs = append(errs, errors.New("discovery: scan_duration and time_between_scans must be positive"))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Format maps node.format to a wire format.
func (c *Config) Format() (codec.Format, error) {
	if strings.TrimSpace(c.Node.Format) == "" {
		return codec.MsgPack, nil
	}
	return codec.ParseFormat(c.Node.Format)
}

// LogLevel parses log.level, defaulting to info.
func (c *Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.LevelInfo
	}
	return level
}

// BindAddr is the local socket address for the transport.
func (c *Config) BindAddr() string {
	return netip.AddrPortFrom(netip.MustParseAddr(c.Node.Bind), c.Node.Port).String()
}
