// Package cliconfig loads mapper configuration via viper, grounded on the
// teacher's pkg/cli/cli.go.
package cliconfig

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Cli wraps a *viper.Viper with the mapper's accessor methods and default
// bindings, mirroring the teacher's Cli struct.
type Cli struct {
	ConfigFile string
	v          *viper.Viper
}

// NewCli constructs a Cli bound to a fresh viper instance.
func NewCli() *Cli {
	return &Cli{v: viper.New()}
}

// OnInit configures the search path, env binding, and defaults. It must be
// called once before any accessor, typically from cobra.OnInitialize.
func (c *Cli) OnInit() {
	if c.ConfigFile != "" {
		c.v.SetConfigFile(c.ConfigFile)
	} else {
		c.v.SetConfigName(".tedge-mapper")
		c.v.SetConfigType("yaml")
		c.v.AddConfigPath("$HOME")
		c.v.AddConfigPath(".")
	}

	c.v.SetEnvPrefix("TEDGE_MAPPER")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	c.setDefaults()

	if err := c.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file", "error", err)
		}
	}
}

func (c *Cli) setDefaults() {
	c.v.SetDefault("mqtt.client.host", "127.0.0.1")
	c.v.SetDefault("mqtt.client.port", 1883)
	c.v.SetDefault("mqtt.topic_root", "te")
	c.v.SetDefault("mqtt.device_topic_id", "device/main//")
	c.v.SetDefault("c8y.proxy.client.host", "127.0.0.1")
	c.v.SetDefault("c8y.proxy.client.port", 8001)
	c.v.SetDefault("c8y.proxy.bind.port", 8001)
	c.v.SetDefault("service_name", "tedge-mapper")
	c.v.SetDefault("log_level", "info")
	c.v.SetDefault("data_dir", "/var/tedge")
	c.v.SetDefault("run.lock_files", true)
}

// WatchConfig enables hot-reload of the config file via fsnotify, invoking
// onChange whenever the file is rewritten.
func (c *Cli) WatchConfig(onChange func(fsnotify.Event)) {
	c.v.OnConfigChange(onChange)
	c.v.WatchConfig()
}

// GetString returns a string setting.
func (c *Cli) GetString(key string) string { return c.v.GetString(key) }

// GetBool returns a bool setting.
func (c *Cli) GetBool(key string) bool { return c.v.GetBool(key) }

// GetInt returns an int setting.
func (c *Cli) GetInt(key string) int { return c.v.GetInt(key) }

// GetMQTTHost returns the local broker host.
func (c *Cli) GetMQTTHost() string { return c.v.GetString("mqtt.client.host") }

// GetMQTTPort returns the local broker port.
func (c *Cli) GetMQTTPort() int { return c.v.GetInt("mqtt.client.port") }

// GetTopicRoot returns the new-scheme topic root prefix.
func (c *Cli) GetTopicRoot() string { return c.v.GetString("mqtt.topic_root") }

// GetDeviceTopicID returns the main device's entity topic identifier.
func (c *Cli) GetDeviceTopicID() string { return c.v.GetString("mqtt.device_topic_id") }

// GetCumulocityHost returns the local Cumulocity proxy host.
func (c *Cli) GetCumulocityHost() string { return c.v.GetString("c8y.proxy.client.host") }

// GetCumulocityPort returns the local Cumulocity proxy port.
func (c *Cli) GetCumulocityPort() int { return c.v.GetInt("c8y.proxy.client.port") }

// GetServiceName returns the mapper's own service name (for its own health
// reporting topic).
func (c *Cli) GetServiceName() string { return c.v.GetString("service_name") }

// GetDataDir returns the root directory for the file-transfer store.
func (c *Cli) GetDataDir() string { return c.v.GetString("data_dir") }

// Config is the fully-typed configuration struct produced by Unmarshal.
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	LogLevel    string `mapstructure:"log_level"`
	DataDir     string `mapstructure:"data_dir"`
	MQTT        struct {
		TopicRoot     string `mapstructure:"topic_root"`
		DeviceTopicID string `mapstructure:"device_topic_id"`
		Client        struct {
			Host string `mapstructure:"host"`
			Port int    `mapstructure:"port"`
		} `mapstructure:"client"`
	} `mapstructure:"mqtt"`
	C8y struct {
		Proxy struct {
			Client struct {
				Host string `mapstructure:"host"`
				Port int    `mapstructure:"port"`
			} `mapstructure:"client"`
			Bind struct {
				Port int `mapstructure:"port"`
			} `mapstructure:"bind"`
		} `mapstructure:"proxy"`
	} `mapstructure:"c8y"`
}

// Unmarshal decodes the full configuration tree via mapstructure.
func (c *Cli) Unmarshal() (Config, error) {
	var cfg Config
	if err := c.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("cliconfig: decoding configuration: %w", err)
	}
	return cfg, nil
}
