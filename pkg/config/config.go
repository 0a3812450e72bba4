package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/gateway"
	"github.com/edgeflare/sensorhub/pkg/hook"
	"github.com/edgeflare/sensorhub/pkg/sink"
	"github.com/edgeflare/sensorhub/pkg/store"
	transportmqtt "github.com/edgeflare/sensorhub/pkg/transport/mqtt"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X .../pkg/config.Version=..."
var Version = "dev"

// EnvPrefix prefixes every environment override, e.g. SENSORHUB_SERVER_LISTENADDR.
const EnvPrefix = "SENSORHUB"

// Config holds application-wide configuration
type Config struct {
	Server  ServerConfig          `mapstructure:"server"`
	MQTT    transportmqtt.Options `mapstructure:"mqtt"`
	Store   store.Config          `mapstructure:"store"`
	Broker  broker.Config         `mapstructure:"broker"`
	Hooks   []hook.Spec           `mapstructure:"hooks"`
	Sinks   []sink.Config         `mapstructure:"sinks"`
	Metrics MetricsConfig         `mapstructure:"metrics"`
	Log     LogConfig             `mapstructure:"log"`
}

type ServerConfig struct {
	ListenAddr     string            `mapstructure:"listenAddr"`
	DefaultTable   string            `mapstructure:"defaultTable"`
	MaxBodyBytes   int64             `mapstructure:"maxBodyBytes"`
	KeepAlive      time.Duration     `mapstructure:"keepAlive"`
	AllowedOrigins []string          `mapstructure:"allowedOrigins"`
	BasicAuth      map[string]string `mapstructure:"basicAuth"`
	TLS            TLSConfig         `mapstructure:"tls"`
}

type TLSConfig struct {
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// SetDefaults registers the default value of every scalar key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listenAddr", ":9926")
	v.SetDefault("server.defaultTable", gateway.DefaultTable)
	v.SetDefault("server.maxBodyBytes", 1<<20)
	v.SetDefault("server.keepAlive", 15*time.Second)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.topics", transportmqtt.DefaultTopics)
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.keepAlive", 30*time.Second)
	v.SetDefault("mqtt.connectTimeout", 10*time.Second)

	v.SetDefault("store.driver", "memory")

	b := broker.DefaultConfig()
	v.SetDefault("broker.buffer", b.Buffer)
	v.SetDefault("broker.sendTimeout", b.SendTimeout)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// New returns a viper instance with defaults and environment overrides set.
// Command line flags are bound to it by the caller.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads cfgFile, or sensorhub.yaml from $HOME/.config or the working
// directory when cfgFile is empty, into a Config. A missing default file is
// not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if v == nil {
		v = New()
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("sensorhub")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration that cannot be served.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return errors.New("server.listenAddr is required")
	}
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		return errors.New("server.tls requires both certFile and keyFile")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.Enabled && len(c.MQTT.Topics) == 0 {
		return errors.New("mqtt.topics is empty")
	}
	names := make(map[string]struct{}, len(c.Sinks))
	for i, s := range c.Sinks {
		if s.Name == "" || s.Connector == "" {
			return fmt.Errorf("sinks[%d]: name and connector are required", i)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("sinks[%d]: duplicate name %q", i, s.Name)
		}
		names[s.Name] = struct{}{}
	}
	return nil
}
