// Package config loads the service configuration from file, environment and
// defaults, in that order of increasing precedence for the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// DeliveryConfig holds the directory layout and external tool location the
// staging and delivery services operate on.
type DeliveryConfig struct {
	StagingDirectory        string `mapstructure:"staging_directory"`
	RunfolderDirectory      string `mapstructure:"runfolder_directory"`
	GeneralProjectDirectory string `mapstructure:"general_project_directory"`
	ProjectLinksDirectory   string `mapstructure:"project_links_directory"`
	PathToMover             string `mapstructure:"path_to_mover"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Store    StoreConfig    `mapstructure:"db"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
}

// EnvPrefix is the prefix for environment overrides, e.g.
// DELIVERY_SERVER_PORT=9000.
const EnvPrefix = "DELIVERY"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", true)
	v.SetDefault("db.path", "delivery.db")

	// Empty defaults so environment-only overrides reach Unmarshal; viper
	// ignores env values for keys it has never seen.
	v.SetDefault("delivery.staging_directory", "")
	v.SetDefault("delivery.runfolder_directory", "")
	v.SetDefault("delivery.general_project_directory", "")
	v.SetDefault("delivery.project_links_directory", "")
	v.SetDefault("delivery.path_to_mover", "")
}

// Load reads the configuration. A non-empty path names an explicit config
// file and must exist; otherwise app.yaml is looked up in the usual places
// and is optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("app")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/arteria-delivery")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the keys the serve command cannot run without.
func (c *Config) Validate() error {
	var missing []string
	for _, required := range []struct {
		key   string
		value string
	}{
		{"delivery.staging_directory", c.Delivery.StagingDirectory},
		{"delivery.runfolder_directory", c.Delivery.RunfolderDirectory},
		{"delivery.path_to_mover", c.Delivery.PathToMover},
	} {
		if required.value == "" {
			missing = append(missing, required.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config keys: %s", strings.Join(missing, ", "))
	}
	return nil
}
