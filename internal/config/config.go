package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/utils"
)

const (
	DefaultPort          = 5215
	DefaultHostname      = "127.0.0.1"
	DefaultMaxPacketSize = 1 << 20
)

var ErrConfigCreated = errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")

type DatabaseConfig struct {
	Host               string `json:"host" toml:"host"`
	Port               uint64 `json:"port" toml:"port"`
	Username           string `json:"username" toml:"username"`
	Password           string `json:"password" toml:"password"`
	Database           string `json:"database" toml:"database"`
	UseTLS             bool   `json:"use_tls" toml:"use_tls"`
	ConnectTimeout     string `json:"connect_timeout" toml:"connect_timeout"`
	SocketTimeout      string `json:"socket_timeout" toml:"socket_timeout"`
	ConnectIdleTimeout string `json:"connect_idle_timeout" toml:"connect_idle_timeout"`
	OperationTimeout   string `json:"operation_timeout" toml:"operation_timeout"`
	Heartbeat          string `json:"heartbeat" toml:"heartbeat"`
	MinPoolSize        uint64 `json:"min_pool_size" toml:"min_pool_size"`
	MaxPoolSize        uint64 `json:"max_pool_size" toml:"max_pool_size"`
}

// Enabled reports whether a session journal database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

type Config struct {
	Broker struct {
		Hostname      string `json:"hostname" toml:"hostname"`
		Port          int    `json:"port" toml:"port"`
		MaxPacketSize int    `json:"max_packet_size" toml:"max_packet_size"`
	} `json:"broker" toml:"broker"`
	Admin struct {
		Address string `json:"address" toml:"address"`
	} `json:"admin" toml:"admin"`
	Metrics struct {
		Address string `json:"address" toml:"address"`
	} `json:"metrics" toml:"metrics"`
	Database  DatabaseConfig `json:"database" toml:"database"`
	DebugMode bool           `json:"debug_mode" toml:"debug_mode"`
	AppName   string         `json:"app_name" toml:"app_name"`
	LogDir    string         `json:"log_dir" toml:"log_dir"`
}

// Default returns the configuration used when a file leaves a field unset.
// The broker hostname is the first private LAN address of this machine.
func Default() Config {
	var config Config
	config.Broker.Hostname = detectHostname()
	config.Broker.Port = DefaultPort
	config.Broker.MaxPacketSize = DefaultMaxPacketSize
	config.Database.Port = 27017
	config.Database.Database = "ws_broker"
	config.Database.ConnectTimeout = "10s"
	config.Database.SocketTimeout = "30s"
	config.Database.ConnectIdleTimeout = "5m"
	config.Database.OperationTimeout = "5s"
	config.Database.Heartbeat = "10s"
	config.Database.MinPoolSize = 1
	config.Database.MaxPoolSize = 10
	config.AppName = "ws-broker"
	config.LogDir = "logs"
	return config
}

// ReadConfig loads path over Default. Files ending in .toml are decoded as
// TOML, everything else as JSON. A missing file is created with the default
// values and ErrConfigCreated is returned.
func ReadConfig(path string) (Config, error) {
	config := Default()

	bytes, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return config, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := writeDefault(path, config); err != nil {
			return config, err
		}
		return config, ErrConfigCreated
	}

	if isTOML(path) {
		if _, err := toml.Decode(string(bytes), &config); err != nil {
			return config, fmt.Errorf("the configuration file does not contain valid TOML: %w", err)
		}
	} else if err := json.Unmarshal(bytes, &config); err != nil {
		return config, fmt.Errorf("the configuration file does not contain valid JSON: %w", err)
	}
	if config.Broker.Hostname == "" {
		config.Broker.Hostname = detectHostname()
	}

	return config, config.Validate()
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Broker.Hostname) == "" {
		return errors.New("broker hostname required and cannot be automatically detected")
	}
	if c.Broker.Port < 0 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker port %d out of range", c.Broker.Port)
	}
	if c.Broker.MaxPacketSize < 0 {
		return fmt.Errorf("broker max_packet_size %d must not be negative", c.Broker.MaxPacketSize)
	}
	if c.Database.Enabled() && c.Database.Database == "" {
		return errors.New("database name must be set when database host is set")
	}
	return nil
}

func detectHostname() string {
	if ip := utils.LocalIP(utils.PrivateLANPrefix); ip != "" {
		return ip
	}
	return DefaultHostname
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// writeDefault saves config with an empty broker hostname, which means
// detect it again on every start.
func writeDefault(path string, config Config) error {
	config.Broker.Hostname = ""
	writer, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create config %s: %w", path, err)
	}
	defer writer.Close()

	if isTOML(path) {
		return toml.NewEncoder(writer).Encode(config)
	}
	data, err := json.MarshalIndent(config, "", "\t")
	if err != nil {
		return err
	}
	_, err = writer.Write(data)
	return err
}
