package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	API       APIConfig       `mapstructure:"api"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Grafana   GrafanaConfig   `mapstructure:"grafana"`
	Energy    EnergyConfig    `mapstructure:"energy"`
	Overrides OverridesConfig `mapstructure:"overrides"`
	Collector CollectorConfig `mapstructure:"collector"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type APIConfig struct {
	Port    int  `mapstructure:"port"`
	Enabled bool `mapstructure:"enabled"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// GrafanaConfig is the fallback for dashboard settings missing from the
// settings table.
type GrafanaConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	Dashboard  string `mapstructure:"dashboard"`
	TimeParams string `mapstructure:"time_params"`
}

type EnergyConfig struct {
	Workers           int           `mapstructure:"workers"`
	MeterTimeout      time.Duration `mapstructure:"meter_timeout"`
	DefaultLimit      int           `mapstructure:"default_limit"`
	SyntheticFallback bool          `mapstructure:"synthetic_fallback"`
	DemoObjects       []int64       `mapstructure:"demo_objects"`
}

type OverridesConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file"`
}

type CollectorConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Objects   []int64       `mapstructure:"objects"`
	TimeRange string        `mapstructure:"time_range"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/netzwaechter")
	}

	v.SetEnvPrefix("NETZWAECHTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("api.port", 8045)
	v.SetDefault("api.enabled", true)
	v.SetDefault("database.path", "./netzwaechter.db")
	v.SetDefault("grafana.base_url", "https://graf.heatcare.one")
	v.SetDefault("grafana.dashboard", "d-solo/eelav0ybil2wwd/ws-heatcare")
	v.SetDefault("grafana.time_params", "from=now-7d&to=now")
	v.SetDefault("energy.workers", 8)
	v.SetDefault("energy.meter_timeout", "15s")
	v.SetDefault("energy.default_limit", 12)
	v.SetDefault("energy.synthetic_fallback", false)
	v.SetDefault("energy.demo_objects", []int64{207315038, 207315076, 999999999})
	v.SetDefault("overrides.enabled", true)
	v.SetDefault("overrides.file", "")
	v.SetDefault("collector.enabled", false)
	v.SetDefault("collector.interval", "15m")
	v.SetDefault("collector.objects", []int64{})
	v.SetDefault("collector.time_range", "now-1y")
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic_prefix", "netzwaechter")
	v.SetDefault("mqtt.client_id", "netzwaechter")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
