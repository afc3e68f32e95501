/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the coupon claim service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisReplayPrefix       string `mapstructure:"REDIS_REPLAY_PREFIX"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	ClaimEventExchange      string `mapstructure:"CLAIM_EVENT_EXCHANGE"`
	ClaimEventRoutingKey    string `mapstructure:"CLAIM_EVENT_ROUTING_KEY"`
	WidgetSessionSecret     string `mapstructure:"WIDGET_SESSION_SECRET"`
	WidgetSessionTTLHours   int    `mapstructure:"WIDGET_SESSION_TTL_HOURS"`
	ClaimPeriod             string `mapstructure:"CLAIM_PERIOD"`
	ClaimRateLimitPerMinute int    `mapstructure:"CLAIM_RATE_LIMIT_PER_MINUTE"`
	ClaimMaxPickRetries     int    `mapstructure:"CLAIM_MAX_PICK_RETRIES"`
	InternalAPIKey          string `mapstructure:"INTERNAL_API_KEY"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_REPLAY_PREFIX", "coupon:replay")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "coupon:rate_limit")
	viper.SetDefault("CLAIM_EVENT_EXCHANGE", "coupon.events")
	viper.SetDefault("CLAIM_EVENT_ROUTING_KEY", "coupon.claimed")
	viper.SetDefault("WIDGET_SESSION_TTL_HOURS", 168)
	viper.SetDefault("CLAIM_PERIOD", "monthly")
	viper.SetDefault("CLAIM_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("CLAIM_MAX_PICK_RETRIES", 3)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT", "SERVER_PORT", "PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_REPLAY_PREFIX")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("CLAIM_EVENT_EXCHANGE")
	_ = viper.BindEnv("CLAIM_EVENT_ROUTING_KEY")
	_ = viper.BindEnv("WIDGET_SESSION_SECRET")
	_ = viper.BindEnv("WIDGET_SESSION_TTL_HOURS")
	_ = viper.BindEnv("CLAIM_PERIOD")
	_ = viper.BindEnv("CLAIM_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("CLAIM_MAX_PICK_RETRIES")
	_ = viper.BindEnv("INTERNAL_API_KEY")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return Config{}, err
	}
	return config, nil
}
