package config

import (
	"errors"

	"github.com/spf13/viper"
)

// Config holds everything the server reads from the environment. Gateway
// secrets are read once at startup and never logged.
type Config struct {
	Port        string `mapstructure:"PORT"`
	DBPath      string `mapstructure:"DB_PATH"`
	FrontendURL string `mapstructure:"FRONTEND_URL"`

	PaystackSecretKey string `mapstructure:"PAYSTACK_SECRET_KEY"`
	PaystackAPIURL    string `mapstructure:"PAYSTACK_API_URL"`

	PaypalClientID  string `mapstructure:"PAYPAL_CLIENT_ID"`
	PaypalSecretKey string `mapstructure:"PAYPAL_SECRET_KEY"`
	PaypalAPIURL    string `mapstructure:"PAYPAL_API_URL"`
	PaypalWebhookID string `mapstructure:"PAYPAL_WEBHOOK_ID"`
}

// Load reads an optional config.env file from the working directory and
// then the process environment, which takes precedence.
func Load() (Config, error) {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DB_PATH", "donations.db")
	viper.SetDefault("FRONTEND_URL", "http://localhost:3000")
	viper.SetDefault("PAYSTACK_API_URL", "https://api.paystack.co")
	viper.SetDefault("PAYPAL_API_URL", "https://api.sandbox.paypal.com")

	// AutomaticEnv alone does not surface env-only keys to Unmarshal.
	for _, key := range []string{
		"PAYSTACK_SECRET_KEY", "PAYPAL_CLIENT_ID",
		"PAYPAL_SECRET_KEY", "PAYPAL_WEBHOOK_ID",
	} {
		viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
