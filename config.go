package browsercore

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/inferedge/browsercore/internal/budget"
)

const (
	configName      = ".browsercore"
	configType      = "yaml"
	envPrefix       = "BROWSERCORE"
	envKeySeparator = "_"

	// DefaultTickInterval is the scheduler's default tick period.
	DefaultTickInterval = 2 * time.Second
	// DefaultMemoryLimitMB is the default soft kernel memory ceiling.
	DefaultMemoryLimitMB = 2048
	// DefaultCachePath is where downloaded model blobs are cached.
	DefaultCachePath = "./browsercore-cache"
	// DefaultRatePerSecond and DefaultBurst bound the per-workload throttle.
	DefaultRatePerSecond = 4
	DefaultBurst         = 8
)

// FileConfig is the top-level configuration a host or CLI loads from file,
// environment variables, and defaults, before turning it into per-Engine
// Config values via ToEngineConfig.
type FileConfig struct {
	ModelID       string        `mapstructure:"model_id"`
	ModelURL      string        `mapstructure:"model_url"`
	Device        string        `mapstructure:"device"`
	Priority      int           `mapstructure:"priority"`
	Profile       string        `mapstructure:"profile"`
	MemoryMB      int           `mapstructure:"memory_mb"`
	CachePath     string        `mapstructure:"cache_path"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	RatePerSecond int64         `mapstructure:"rate_per_second"`
	Burst         int64         `mapstructure:"burst"`
}

// Validate rejects configuration combinations that can never build a
// working Engine.
func (c *FileConfig) Validate() error {
	if c.ModelID == "" {
		return errors.New("model_id must be set")
	}
	switch Device(c.Device) {
	case DeviceAuto, DeviceCPU, DeviceGPU, "":
	default:
		return fmt.Errorf("unknown device %q", c.Device)
	}
	if c.MemoryMB <= 0 {
		return errors.New("memory_mb must be positive")
	}
	return nil
}

// ToEngineConfig projects the loaded file configuration onto a single
// Engine's Config.
func (c *FileConfig) ToEngineConfig() Config {
	device := Device(c.Device)
	if device == "" {
		device = DeviceAuto
	}
	profile := budget.Balanced
	switch strings.ToLower(c.Profile) {
	case "conservative":
		profile = budget.Conservative
	case "performance":
		profile = budget.Performance
	}
	return Config{
		ModelID:       c.ModelID,
		Device:        device,
		Priority:      c.Priority,
		Profile:       profile,
		TickInterval:  c.TickInterval,
		RatePerSecond: c.RatePerSecond,
		Burst:         c.Burst,
	}
}

// LoadConfig loads configuration from file, environment variables, and
// defaults. If configPath is non-empty it is used as the explicit config
// file path; otherwise the config file is searched in the working
// directory and $HOME. A missing config file is not an error.
func LoadConfig(configPath string) (*FileConfig, error) {
	v := viper.New()
	applyConfigDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyConfigDefaults(v *viper.Viper) {
	v.SetDefault("device", string(DeviceAuto))
	v.SetDefault("priority", 0)
	v.SetDefault("profile", "balanced")
	v.SetDefault("memory_mb", DefaultMemoryLimitMB)
	v.SetDefault("cache_path", DefaultCachePath)
	v.SetDefault("tick_interval", DefaultTickInterval)
	v.SetDefault("rate_per_second", DefaultRatePerSecond)
	v.SetDefault("burst", DefaultBurst)
}
