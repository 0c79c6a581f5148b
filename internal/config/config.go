/**
 * @description
 * This file handles configuration management for the subscription-service.
 * It uses the 'viper' library to load configuration from environment
 * variables, providing a centralized and consistent way to manage settings.
 */
package config

import (
	"errors"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	ClerkJWKSURL string `mapstructure:"CLERK_JWKS_URL"`

	RevenueCatWebhookSecret string `mapstructure:"REVENUECAT_WEBHOOK_SECRET"`

	PurchaseAPIURL string `mapstructure:"PURCHASE_API_URL"`
	PurchaseAPIKey string `mapstructure:"PURCHASE_API_KEY"`

	ReferralLinkBase     string `mapstructure:"REFERRAL_LINK_BASE"`
	ReferralRewardAmount int64  `mapstructure:"REFERRAL_REWARD_AMOUNT"`

	TrialDays int `mapstructure:"TRIAL_DAYS"`

	ReconcileJobSchedule string `mapstructure:"RECONCILE_JOB_SCHEDULE"`
	WebhookPruneSchedule string `mapstructure:"WEBHOOK_PRUNE_SCHEDULE"`

	WebhookRateLimit       int `mapstructure:"WEBHOOK_RATE_LIMIT"`
	TrackSignupRateLimit   int `mapstructure:"TRACK_SIGNUP_RATE_LIMIT"`
	RateLimitWindowSeconds int `mapstructure:"RATE_LIMIT_WINDOW_SECONDS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("REFERRAL_LINK_BASE", "https://glowcheck.app")
	viper.SetDefault("REFERRAL_REWARD_AMOUNT", 100)
	viper.SetDefault("TRIAL_DAYS", 3)
	viper.SetDefault("RECONCILE_JOB_SCHEDULE", "*/10 * * * *")
	viper.SetDefault("WEBHOOK_PRUNE_SCHEDULE", "0 3 * * *")
	viper.SetDefault("WEBHOOK_RATE_LIMIT", 120)
	viper.SetDefault("TRACK_SIGNUP_RATE_LIMIT", 10)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("REVENUECAT_WEBHOOK_SECRET")
	_ = viper.BindEnv("PURCHASE_API_URL")
	_ = viper.BindEnv("PURCHASE_API_KEY")
	_ = viper.BindEnv("REFERRAL_LINK_BASE")
	_ = viper.BindEnv("REFERRAL_REWARD_AMOUNT")
	_ = viper.BindEnv("TRIAL_DAYS")
	_ = viper.BindEnv("RECONCILE_JOB_SCHEDULE")
	_ = viper.BindEnv("WEBHOOK_PRUNE_SCHEDULE")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT")
	_ = viper.BindEnv("TRACK_SIGNUP_RATE_LIMIT")
	_ = viper.BindEnv("RATE_LIMIT_WINDOW_SECONDS")

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if config.DatabaseURL == "" {
		err = errors.New("DATABASE_URL is required")
		return
	}
	if config.TrialDays <= 0 {
		err = errors.New("TRIAL_DAYS must be positive")
		return
	}
	return
}
