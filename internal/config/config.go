/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables (and an
 * optional .env file), providing a centralized and straightforward way to
 * manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the settlement-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	BaseURL    string `mapstructure:"BASE_URL"`

	SettlementFeePercent  float64 `mapstructure:"SETTLEMENT_FEE_PERCENT"`
	FeeRouting            string  `mapstructure:"FEE_ROUTING"`
	RevenueAccountID      string  `mapstructure:"REVENUE_ACCOUNT_ID"`
	IntermediaryAccountID string  `mapstructure:"INTERMEDIARY_ACCOUNT_ID"`

	AdapterTimeoutSeconds int  `mapstructure:"ADAPTER_TIMEOUT_SECONDS"`
	AdapterMaxRetries     int  `mapstructure:"ADAPTER_MAX_RETRIES"`
	AdapterSimulation     bool `mapstructure:"ADAPTER_SIMULATION"`

	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	TransferRateLimitPerMinute int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`

	MpesaBaseURL          string `mapstructure:"MPESA_BASE_URL"`
	MpesaConsumerKey      string `mapstructure:"MPESA_CONSUMER_KEY"`
	MpesaConsumerSecret   string `mapstructure:"MPESA_CONSUMER_SECRET"`
	MpesaShortCode        string `mapstructure:"MPESA_SHORT_CODE"`
	MpesaPassKey          string `mapstructure:"MPESA_PASS_KEY"`
	MpesaSettlementMSISDN string `mapstructure:"MPESA_SETTLEMENT_MSISDN"`

	AirtelBaseURL          string `mapstructure:"AIRTEL_MONEY_BASE_URL"`
	AirtelClientID         string `mapstructure:"AIRTEL_MONEY_CLIENT_ID"`
	AirtelClientSecret     string `mapstructure:"AIRTEL_MONEY_CLIENT_SECRET"`
	AirtelPIN              string `mapstructure:"AIRTEL_MONEY_PIN"`
	AirtelSettlementMSISDN string `mapstructure:"AIRTEL_SETTLEMENT_MSISDN"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
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
	viper.SetDefault("BASE_URL", "https://intermediary.com")
	viper.SetDefault("SETTLEMENT_FEE_PERCENT", 1.0)
	viper.SetDefault("FEE_ROUTING", "intermediary")
	viper.SetDefault("REVENUE_ACCOUNT_ID", "SETTLEMENT_REVENUE")
	viper.SetDefault("INTERMEDIARY_ACCOUNT_ID", "INTERMEDIARY_ACCOUNT")
	viper.SetDefault("ADAPTER_TIMEOUT_SECONDS", 10)
	viper.SetDefault("ADAPTER_MAX_RETRIES", 0)
	viper.SetDefault("ADAPTER_SIMULATION", true)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "settlement:rate_limit")
	viper.SetDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", 0)
	viper.SetDefault("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke")
	viper.SetDefault("MPESA_SHORT_CODE", "174379")
	viper.SetDefault("MPESA_SETTLEMENT_MSISDN", "254708374149")
	viper.SetDefault("AIRTEL_MONEY_BASE_URL", "https://openapiuat.airtel.africa")
	viper.SetDefault("AIRTEL_SETTLEMENT_MSISDN", "254733000000")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("BASE_URL")
	_ = viper.BindEnv("SETTLEMENT_FEE_PERCENT")
	_ = viper.BindEnv("FEE_ROUTING")
	_ = viper.BindEnv("REVENUE_ACCOUNT_ID")
	_ = viper.BindEnv("INTERMEDIARY_ACCOUNT_ID")
	_ = viper.BindEnv("ADAPTER_TIMEOUT_SECONDS")
	_ = viper.BindEnv("ADAPTER_MAX_RETRIES")
	_ = viper.BindEnv("ADAPTER_SIMULATION")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("MPESA_BASE_URL")
	_ = viper.BindEnv("MPESA_CONSUMER_KEY")
	_ = viper.BindEnv("MPESA_CONSUMER_SECRET")
	_ = viper.BindEnv("MPESA_SHORT_CODE")
	_ = viper.BindEnv("MPESA_PASS_KEY")
	_ = viper.BindEnv("MPESA_SETTLEMENT_MSISDN")
	_ = viper.BindEnv("AIRTEL_MONEY_BASE_URL")
	_ = viper.BindEnv("AIRTEL_MONEY_CLIENT_ID")
	_ = viper.BindEnv("AIRTEL_MONEY_CLIENT_SECRET")
	_ = viper.BindEnv("AIRTEL_MONEY_PIN")
	_ = viper.BindEnv("AIRTEL_SETTLEMENT_MSISDN")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	if config.SettlementFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative settlement fee percent configured; coercing to zero\" fee_percent=%f", config.SettlementFeePercent)
		config.SettlementFeePercent = 0
	}
	if config.SettlementFeePercent > 100 {
		log.Printf("level=warn component=config msg=\"settlement fee percent too high; capping at 100\" fee_percent=%f", config.SettlementFeePercent)
		config.SettlementFeePercent = 100
	}

	config.FeeRouting = strings.ToLower(strings.TrimSpace(config.FeeRouting))
	if config.FeeRouting != "revenue" {
		if config.FeeRouting != "" && config.FeeRouting != "intermediary" {
			log.Printf("level=warn component=config msg=\"unknown fee routing; defaulting to intermediary\" fee_routing=%q", config.FeeRouting)
		}
		config.FeeRouting = "intermediary"
	}

	if config.AdapterTimeoutSeconds <= 0 {
		config.AdapterTimeoutSeconds = 10
	}
	if config.AdapterMaxRetries < 0 {
		log.Printf("level=warn component=config msg=\"negative adapter retries configured; coercing to zero\" max_retries=%d", config.AdapterMaxRetries)
		config.AdapterMaxRetries = 0
	}
	if config.TransferRateLimitPerMinute < 0 {
		config.TransferRateLimitPerMinute = 0
	}

	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "settlement:rate_limit"
	}

	return
}
