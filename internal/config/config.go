/**
 * @description
 * Configuration management for the billing service. Settings are loaded from
 * environment variables via Viper, with defaults for the cron schedules and
 * outbox batch size. An optional .env file is honoured for local development.
 */

package config

import (
	"errors"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the billing service.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	MailAPIURL           string `mapstructure:"MAIL_API_URL"`
	MailAPIKey           string `mapstructure:"MAIL_API_KEY"`
	MailFromAddress      string `mapstructure:"MAIL_FROM_ADDRESS"`
	BillingSweepSchedule string `mapstructure:"BILLING_SWEEP_SCHEDULE"`
	OutboxDrainSchedule  string `mapstructure:"OUTBOX_DRAIN_SCHEDULE"`
	OutboxBatchSize      int    `mapstructure:"OUTBOX_BATCH_SIZE"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	// Best effort: a missing .env file is not an error.
	_ = godotenv.Load()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("BILLING_SWEEP_SCHEDULE", "0 2 * * *") // At 02:00 every day.
	viper.SetDefault("OUTBOX_DRAIN_SCHEDULE", "@every 1m")
	viper.SetDefault("OUTBOX_BATCH_SIZE", 100)
	viper.SetDefault("MAIL_API_URL", "https://api.resend.com/emails")
	viper.SetDefault("MAIL_FROM_ADDRESS", "billing@billflow.dev")
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("MAIL_API_URL")
	_ = viper.BindEnv("MAIL_API_KEY")
	_ = viper.BindEnv("MAIL_FROM_ADDRESS")
	_ = viper.BindEnv("BILLING_SWEEP_SCHEDULE")
	_ = viper.BindEnv("OUTBOX_DRAIN_SCHEDULE")
	_ = viper.BindEnv("OUTBOX_BATCH_SIZE")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	return &config, nil
}
