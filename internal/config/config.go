/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
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

// Config holds all the configuration variables for the ledger service.
// These values are loaded from environment variables. Monetary values are
// decimal strings in the currency's smallest unit so they survive any size.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	SettlementQueue      string `mapstructure:"SETTLEMENT_QUEUE"`
	JWKSURL              string `mapstructure:"JWKS_URL"`

	ExchangeGatewayURL   string `mapstructure:"EXCHANGE_GATEWAY_URL"`
	ExchangeGatewayKey   string `mapstructure:"EXCHANGE_GATEWAY_KEY"`
	BlockchainGatewayURL string `mapstructure:"BLOCKCHAIN_GATEWAY_URL"`
	BlockchainGatewayKey string `mapstructure:"BLOCKCHAIN_GATEWAY_KEY"`
	KeysServiceURL       string `mapstructure:"KEYS_SERVICE_URL"`
	KeysServiceKey       string `mapstructure:"KEYS_SERVICE_KEY"`

	QuoteTTLSecs         int     `mapstructure:"QUOTE_TTL_SECS"`
	RateTolerancePercent float64 `mapstructure:"RATE_TOLERANCE_PERCENT"`

	LimitPeriodSecs int    `mapstructure:"LIMIT_PERIOD_SECS"`
	DailyLimitBTC   string `mapstructure:"DAILY_LIMIT_BTC"`
	DailyLimitETH   string `mapstructure:"DAILY_LIMIT_ETH"`
	DailyLimitSTQ   string `mapstructure:"DAILY_LIMIT_STQ"`

	BTCTransactionSize int64   `mapstructure:"BTC_TRANSACTION_SIZE"`
	ETHGasLimit        int64   `mapstructure:"ETH_GAS_LIMIT"`
	STQGasLimit        int64   `mapstructure:"STQ_GAS_LIMIT"`
	FeeUpside          float64 `mapstructure:"FEE_UPSIDE"`
	FeePriceBTC        string  `mapstructure:"FEE_PRICE_BTC"`
	FeePriceETH        string  `mapstructure:"FEE_PRICE_ETH"`
	InternalTransferFee string `mapstructure:"INTERNAL_TRANSFER_FEE"`

	SettlementMaxAttempts        int `mapstructure:"SETTLEMENT_MAX_ATTEMPTS"`
	SettlementPrefetch           int `mapstructure:"SETTLEMENT_PREFETCH"`
	SubmissionRateLimitPerMinute int `mapstructure:"SUBMISSION_RATE_LIMIT_PER_MINUTE"`

	LiquidityAccountBTC string `mapstructure:"LIQUIDITY_ACCOUNT_BTC"`
	LiquidityAccountETH string `mapstructure:"LIQUIDITY_ACCOUNT_ETH"`
	LiquidityAccountSTQ string `mapstructure:"LIQUIDITY_ACCOUNT_STQ"`
	FeesAccountBTC      string `mapstructure:"FEES_ACCOUNT_BTC"`
	FeesAccountETH      string `mapstructure:"FEES_ACCOUNT_ETH"`
	FeesAccountSTQ      string `mapstructure:"FEES_ACCOUNT_STQ"`
	TransferAccountBTC  string `mapstructure:"TRANSFER_ACCOUNT_BTC"`
	TransferAccountETH  string `mapstructure:"TRANSFER_ACCOUNT_ETH"`
	TransferAccountSTQ  string `mapstructure:"TRANSFER_ACCOUNT_STQ"`
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
	viper.SetDefault("SETTLEMENT_QUEUE", "ledger_service.settlement")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "wavepay:rate_limit")
	viper.SetDefault("QUOTE_TTL_SECS", 300)
	viper.SetDefault("RATE_TOLERANCE_PERCENT", 1.0)
	viper.SetDefault("LIMIT_PERIOD_SECS", 86400)
	// Smallest-unit ceilings: 1 btc, 20 eth, 200k stq.
	viper.SetDefault("DAILY_LIMIT_BTC", "100000000")
	viper.SetDefault("DAILY_LIMIT_ETH", "20000000000000000000")
	viper.SetDefault("DAILY_LIMIT_STQ", "200000000000000000000000")
	viper.SetDefault("BTC_TRANSACTION_SIZE", 250)
	viper.SetDefault("ETH_GAS_LIMIT", 21000)
	viper.SetDefault("STQ_GAS_LIMIT", 200000)
	viper.SetDefault("FEE_UPSIDE", 1.2)
	viper.SetDefault("FEE_PRICE_BTC", "25")           // satoshi per byte
	viper.SetDefault("FEE_PRICE_ETH", "20000000000")  // wei per gas unit
	viper.SetDefault("INTERNAL_TRANSFER_FEE", "0")
	viper.SetDefault("SETTLEMENT_MAX_ATTEMPTS", 10)
	viper.SetDefault("SETTLEMENT_PREFETCH", 8)
	viper.SetDefault("SUBMISSION_RATE_LIMIT_PER_MINUTE", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SETTLEMENT_QUEUE")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("EXCHANGE_GATEWAY_URL")
	_ = viper.BindEnv("EXCHANGE_GATEWAY_KEY")
	_ = viper.BindEnv("BLOCKCHAIN_GATEWAY_URL")
	_ = viper.BindEnv("BLOCKCHAIN_GATEWAY_KEY")
	_ = viper.BindEnv("KEYS_SERVICE_URL")
	_ = viper.BindEnv("KEYS_SERVICE_KEY")
	_ = viper.BindEnv("QUOTE_TTL_SECS")
	_ = viper.BindEnv("RATE_TOLERANCE_PERCENT")
	_ = viper.BindEnv("LIMIT_PERIOD_SECS")
	_ = viper.BindEnv("DAILY_LIMIT_BTC")
	_ = viper.BindEnv("DAILY_LIMIT_ETH")
	_ = viper.BindEnv("DAILY_LIMIT_STQ")
	_ = viper.BindEnv("BTC_TRANSACTION_SIZE")
	_ = viper.BindEnv("ETH_GAS_LIMIT")
	_ = viper.BindEnv("STQ_GAS_LIMIT")
	_ = viper.BindEnv("FEE_UPSIDE")
	_ = viper.BindEnv("FEE_PRICE_BTC")
	_ = viper.BindEnv("FEE_PRICE_ETH")
	_ = viper.BindEnv("INTERNAL_TRANSFER_FEE")
	_ = viper.BindEnv("SETTLEMENT_MAX_ATTEMPTS")
	_ = viper.BindEnv("SETTLEMENT_PREFETCH")
	_ = viper.BindEnv("SUBMISSION_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("LIQUIDITY_ACCOUNT_BTC")
	_ = viper.BindEnv("LIQUIDITY_ACCOUNT_ETH")
	_ = viper.BindEnv("LIQUIDITY_ACCOUNT_STQ")
	_ = viper.BindEnv("FEES_ACCOUNT_BTC")
	_ = viper.BindEnv("FEES_ACCOUNT_ETH")
	_ = viper.BindEnv("FEES_ACCOUNT_STQ")
	_ = viper.BindEnv("TRANSFER_ACCOUNT_BTC")
	_ = viper.BindEnv("TRANSFER_ACCOUNT_ETH")
	_ = viper.BindEnv("TRANSFER_ACCOUNT_STQ")

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
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "wavepay:rate_limit"
	}

	if config.QuoteTTLSecs <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive quote ttl; using default\" quote_ttl_secs=%d", config.QuoteTTLSecs)
		config.QuoteTTLSecs = 300
	}
	if config.RateTolerancePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative rate tolerance; coercing to zero\" tolerance=%f", config.RateTolerancePercent)
		config.RateTolerancePercent = 0
	}
	if config.LimitPeriodSecs <= 0 {
		config.LimitPeriodSecs = 86400
	}
	if config.FeeUpside < 1 {
		log.Printf("level=warn component=config msg=\"fee upside below 1; using default\" fee_upside=%f", config.FeeUpside)
		config.FeeUpside = 1.2
	}
	if config.SettlementMaxAttempts <= 0 {
		config.SettlementMaxAttempts = 10
	}
	if config.SettlementPrefetch <= 0 {
		config.SettlementPrefetch = 8
	}
	if config.SubmissionRateLimitPerMinute <= 0 {
		config.SubmissionRateLimitPerMinute = 30
	}

	return
}
