package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	Secret     string        `mapstructure:"secret"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	ICEServers []string `mapstructure:"ice_servers"`

	// Coordinator timing. Consent and heartbeat are the only
	// time-bounded waits in the core; both resolve deterministically.
	ConsentTTL      time.Duration `mapstructure:"consent_ttl"`
	HeartbeatPeriod time.Duration `mapstructure:"heartbeat_period"`
	HeartbeatWindow time.Duration `mapstructure:"heartbeat_window"`
	AutoEndAfter    time.Duration `mapstructure:"auto_end_after"`

	ReconnectMin      time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax      time.Duration `mapstructure:"reconnect_max"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("consent_ttl", "45s")
	v.SetDefault("heartbeat_period", "10s")
	v.SetDefault("heartbeat_window", "30s")
	v.SetDefault("auto_end_after", "0")
	v.SetDefault("reconnect_min", "500ms")
	v.SetDefault("reconnect_max", "8s")
	v.SetDefault("reconnect_attempts", 6)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
