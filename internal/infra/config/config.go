package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const DefaultPath = "config.yaml"

type Config struct {
	Download  DownloadConfig  `mapstructure:"download" yaml:"download"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`

	Port string `mapstructure:"port" yaml:"port"`
}

type DownloadConfig struct {
	OutDir      string `mapstructure:"out_dir" yaml:"out_dir"`
	Connections int    `mapstructure:"connections" yaml:"connections"`
	MaxActive   int    `mapstructure:"max_active" yaml:"max_active"`
	UserAgent   string `mapstructure:"user_agent" yaml:"user_agent"`

	// How often progress snapshots are emitted and persisted
	ThrottleInterval time.Duration `mapstructure:"throttle_interval" yaml:"throttle_interval"`
	SpeedSamples     int           `mapstructure:"speed_samples" yaml:"speed_samples"`
	ResumeStagger    time.Duration `mapstructure:"resume_stagger" yaml:"resume_stagger"`

	// Bytes per second for a whole job, 0 disables the cap
	SpeedLimit int64 `mapstructure:"speed_limit" yaml:"speed_limit"`
}

type TransportConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxIdleConns int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("download.out_dir", "./downloads")
	v.SetDefault("download.connections", 8)
	v.SetDefault("download.max_active", 3)
	v.SetDefault("download.user_agent", "rangedl/1.0")
	v.SetDefault("download.throttle_interval", 100*time.Millisecond)
	v.SetDefault("download.speed_samples", 4)
	v.SetDefault("download.resume_stagger", time.Duration(0))
	v.SetDefault("download.speed_limit", 0)
	v.SetDefault("transport.timeout", 30*time.Second)
	v.SetDefault("transport.max_idle_conns", 64)
	v.SetDefault("log.path", "rangedl.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "./data/rangedl.db")
	v.SetDefault("store.postgres_dsn", "")
}

// Load reads the YAML file at path, layering defaults and RANGEDL_* environment
// variables. The default path may be absent, in which case only defaults and
// environment apply.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	v := viper.New()
	setDefaults(v)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Support Environment Variables
	v.SetEnvPrefix("RANGEDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Download.Connections <= 0 {
		return errors.New("download.connections must be positive")
	}

	if c.Download.MaxActive <= 0 {
		// Default to a sane value
		c.Download.MaxActive = 1
	}

	if c.Download.SpeedSamples <= 0 {
		c.Download.SpeedSamples = 4
	}

	if c.Download.ThrottleInterval <= 0 {
		c.Download.ThrottleInterval = 100 * time.Millisecond
	}

	if c.Download.SpeedLimit < 0 {
		return errors.New("download.speed_limit cannot be negative")
	}

	if c.Download.OutDir == "" {
		c.Download.OutDir = "./downloads"
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	return nil
}
