package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Addr    string `mapstructure:"addr"`
		DevMode bool   `mapstructure:"dev_mode"`
	} `mapstructure:"server"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	WebRTC struct {
		STUNServer string `mapstructure:"stun_server"`
		PublicIP   string `mapstructure:"public_ip"`
		// NegotiationTimeout bounds how long an unanswered offer may stay
		// outstanding before the media leg is abandoned.
		NegotiationTimeoutSeconds int `mapstructure:"negotiation_timeout_seconds"`
	} `mapstructure:"webrtc"`
	Limits struct {
		MessagesPerWindow int `mapstructure:"messages_per_window"`
		WindowSeconds     int `mapstructure:"window_seconds"`
	} `mapstructure:"limits"`
}

func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.Limits.WindowSeconds) * time.Second
}

func (c *Config) NegotiationTimeout() time.Duration {
	return time.Duration(c.WebRTC.NegotiationTimeoutSeconds) * time.Second
}

// Load reads config.yaml (when present) and PARLOR_* environment variables.
func Load() *Config {
	viper.SetEnvPrefix("PARLOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.BindEnv("server.addr")
	viper.BindEnv("server.dev_mode")
	viper.BindEnv("database.path")
	viper.BindEnv("webrtc.stun_server")
	viper.BindEnv("webrtc.public_ip")
	viper.BindEnv("webrtc.negotiation_timeout_seconds")
	viper.BindEnv("limits.messages_per_window")
	viper.BindEnv("limits.window_seconds")

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.dev_mode", false)
	viper.SetDefault("database.path", "parlor.db")
	viper.SetDefault("webrtc.stun_server", "stun:stun.l.google.com:19302")
	viper.SetDefault("webrtc.negotiation_timeout_seconds", 15)
	viper.SetDefault("limits.messages_per_window", 30)
	viper.SetDefault("limits.window_seconds", 1)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("config: %s", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("config: unable to decode: %v", err)
	}
	return &cfg
}
