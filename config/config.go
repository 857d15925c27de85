package config

/*
 * Dual-licensed under Apache-2.0 and MIT.
 *
 * You can get a copy of the Apache License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * You can also get a copy of the MIT License at
 *
 * http://opensource.org/licenses/MIT
 *
 * @wcgcyx - https://github.com/wcgcyx
 */

import (
	"math/big"
	"os"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultAPIPort = 9424

	defaultFundsPerAllocation          = "1000000000000000000"
	defaultPaymentChannelFundingAmount = "10000000000000000"

	defaultEnsureAllocationsConcurrency = 8
	defaultCreateChunkSize               = 50
	defaultSyncConcurrencyPerPeer         = 4
	defaultSyncConcurrencyGroups          = 10
	defaultCloseChunkSize                 = 6
	defaultCloseConcurrency               = 6

	defaultChallengeDurationLedger  = time.Hour
	defaultChallengeDurationPayment = 10 * time.Minute

	defaultBackoffInitialDelay = time.Second
	defaultBackoffNumAttempts  = 5

	defaultSyncOpeningPollInterval = 2 * time.Second
	defaultSyncOpeningMaxAttempts  = 30
)

// Config is the process configuration for the channel gateway daemon. Each
// component that exposes an Opts struct gets one settings group here, loaded
// from a YAML file plus environment overrides via spf13/viper.
type Config struct {
	// API settings
	APIPort         uint64 `mapstructure:"API_PORT"`          // API port setting; the daemon opens no listener on it.
	APILoggingLevel string `mapstructure:"API_LOGGING_LEVEL"`  // Log Level: FATAL, PANIC, ERROR, WARN, INFO, DEBUG.

	// ChannelCache settings
	ChannelCacheLoggingLevel string `mapstructure:"CHANNELCACHE_LOGGING_LEVEL"` // Log Level: FATAL, PANIC, ERROR, WARN, INFO, DEBUG.
	ChannelCacheDSN           string `mapstructure:"CHANNELCACHE_DSN"`           // PostgreSQL connection string.
	ChannelCacheTxnTimeout    time.Duration `mapstructure:"CHANNELCACHE_TXN_TIMEOUT"` // Per-lease transaction timeout.

	// ChannelManager settings
	ChannelMgrLoggingLevel string `mapstructure:"CHANNELMGR_LOGGING_LEVEL"` // Log Level: FATAL, PANIC, ERROR, WARN, INFO, DEBUG.

	// Both parsed from decimal-string env/config values since mapstructure
	// has no native big.Int decode hook configured here.
	ChannelMgrFundsPerAllocation          *big.Int `mapstructure:"-"`
	ChannelMgrPaymentChannelFundingAmount *big.Int `mapstructure:"-"`

	ChannelMgrUseLedger       bool   `mapstructure:"CHANNELMGR_USE_LEDGER"`       // Whether payment channels are funded via a ledger.
	ChannelMgrFundingStrategy string `mapstructure:"CHANNELMGR_FUNDING_STRATEGY"` // "direct" or "fake".

	ChannelMgrEnsureAllocationsConcurrency int `mapstructure:"CHANNELMGR_ENSURE_ALLOCATIONS_CONCURRENCY"` // Unset or 0 selects the default (8); a negative value leaves it unbounded.

	ChannelMgrSyncOpeningChannelsPollInterval time.Duration `mapstructure:"CHANNELMGR_SYNC_OPENING_POLL_INTERVAL"`
	ChannelMgrSyncOpeningChannelsMaxAttempts  int           `mapstructure:"CHANNELMGR_SYNC_OPENING_MAX_ATTEMPTS"`

	ChannelMgrChallengeDurationLedger  time.Duration `mapstructure:"CHANNELMGR_CHALLENGE_DURATION_LEDGER"`
	ChannelMgrChallengeDurationPayment time.Duration `mapstructure:"CHANNELMGR_CHALLENGE_DURATION_PAYMENT"`

	ChannelMgrBackoffInitialDelay time.Duration `mapstructure:"CHANNELMGR_BACKOFF_INITIAL_DELAY"`
	ChannelMgrBackoffNumAttempts  int           `mapstructure:"CHANNELMGR_BACKOFF_NUM_ATTEMPTS"`

	ChannelMgrCreateChunkSize        int `mapstructure:"CHANNELMGR_CREATE_CHUNK_SIZE"`
	ChannelMgrSyncConcurrencyPerPeer int `mapstructure:"CHANNELMGR_SYNC_CONCURRENCY_PER_PEER"`
	ChannelMgrSyncConcurrencyGroups  int `mapstructure:"CHANNELMGR_SYNC_CONCURRENCY_GROUPS"`
	ChannelMgrCloseChunkSize         int `mapstructure:"CHANNELMGR_CLOSE_CHUNK_SIZE"`
	ChannelMgrCloseConcurrency       int `mapstructure:"CHANNELMGR_CLOSE_CONCURRENCY"`

	ChannelMgrChainID            uint64 `mapstructure:"CHANNELMGR_CHAIN_ID"`
	ChannelMgrAssetHolderAddress string `mapstructure:"CHANNELMGR_ASSET_HOLDER_ADDRESS"`
	ChannelMgrAppAddress         string `mapstructure:"CHANNELMGR_APP_ADDRESS"`

	// PayMgr settings
	PayMgrLoggingLevel string `mapstructure:"PAYMGR_LOGGING_LEVEL"` // Log Level: FATAL, PANIC, ERROR, WARN, INFO, DEBUG.

	// Insights settings
	InsightsLoggingLevel string `mapstructure:"INSIGHTS_LOGGING_LEVEL"` // Log Level: FATAL, PANIC, ERROR, WARN, INFO, DEBUG.
}

// NewConfig creates a new configuration, reading configFile (or the
// CHANNELGATEWAYD_CONFIG env var, or $HOME/.channelgatewayd/config.yaml if
// neither is set) and layering environment variable overrides on top.
//
// @input - config file path.
//
// @output - configuration, error.
func NewConfig(configFile string) (Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.channelgatewayd")
	viper.AutomaticEnv()
	if configFile == "" {
		configFile = os.Getenv("CHANNELGATEWAYD_CONFIG")
	}
	if configFile != "" {
		viper.SetConfigFile(configFile)
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	apiPort := viper.GetInt("API_PORT")
	if apiPort == 0 {
		apiPort = defaultAPIPort
	}

	fundsPerAllocation, ok := new(big.Int).SetString(orDefault(viper.GetString("CHANNELMGR_FUNDS_PER_ALLOCATION"), defaultFundsPerAllocation), 10)
	if !ok {
		fundsPerAllocation = new(big.Int).SetInt64(0)
	}
	paymentChannelFundingAmount, ok := new(big.Int).SetString(orDefault(viper.GetString("CHANNELMGR_PAYMENT_CHANNEL_FUNDING_AMOUNT"), defaultPaymentChannelFundingAmount), 10)
	if !ok {
		paymentChannelFundingAmount = new(big.Int).SetInt64(0)
	}

	ensureAllocationsConcurrency := viper.GetInt("CHANNELMGR_ENSURE_ALLOCATIONS_CONCURRENCY")
	if ensureAllocationsConcurrency == 0 {
		ensureAllocationsConcurrency = defaultEnsureAllocationsConcurrency
	}

	return Config{
		APIPort:         uint64(apiPort),
		APILoggingLevel: orDefault(viper.GetString("API_LOGGING_LEVEL"), "INFO"),

		ChannelCacheLoggingLevel: orDefault(viper.GetString("CHANNELCACHE_LOGGING_LEVEL"), "INFO"),
		ChannelCacheDSN:          viper.GetString("CHANNELCACHE_DSN"),
		ChannelCacheTxnTimeout:   durationOrDefault(viper.GetDuration("CHANNELCACHE_TXN_TIMEOUT"), 5*time.Second),

		ChannelMgrLoggingLevel: orDefault(viper.GetString("CHANNELMGR_LOGGING_LEVEL"), "INFO"),

		ChannelMgrFundsPerAllocation:          fundsPerAllocation,
		ChannelMgrPaymentChannelFundingAmount: paymentChannelFundingAmount,

		ChannelMgrUseLedger:       viper.GetBool("CHANNELMGR_USE_LEDGER"),
		ChannelMgrFundingStrategy: orDefault(viper.GetString("CHANNELMGR_FUNDING_STRATEGY"), "direct"),

		ChannelMgrEnsureAllocationsConcurrency: ensureAllocationsConcurrency,

		ChannelMgrSyncOpeningChannelsPollInterval: durationOrDefault(viper.GetDuration("CHANNELMGR_SYNC_OPENING_POLL_INTERVAL"), defaultSyncOpeningPollInterval),
		ChannelMgrSyncOpeningChannelsMaxAttempts:  intOrDefault(viper.GetInt("CHANNELMGR_SYNC_OPENING_MAX_ATTEMPTS"), defaultSyncOpeningMaxAttempts),

		ChannelMgrChallengeDurationLedger:  durationOrDefault(viper.GetDuration("CHANNELMGR_CHALLENGE_DURATION_LEDGER"), defaultChallengeDurationLedger),
		ChannelMgrChallengeDurationPayment: durationOrDefault(viper.GetDuration("CHANNELMGR_CHALLENGE_DURATION_PAYMENT"), defaultChallengeDurationPayment),

		ChannelMgrBackoffInitialDelay: durationOrDefault(viper.GetDuration("CHANNELMGR_BACKOFF_INITIAL_DELAY"), defaultBackoffInitialDelay),
		ChannelMgrBackoffNumAttempts:  intOrDefault(viper.GetInt("CHANNELMGR_BACKOFF_NUM_ATTEMPTS"), defaultBackoffNumAttempts),

		ChannelMgrCreateChunkSize:        intOrDefault(viper.GetInt("CHANNELMGR_CREATE_CHUNK_SIZE"), defaultCreateChunkSize),
		ChannelMgrSyncConcurrencyPerPeer: intOrDefault(viper.GetInt("CHANNELMGR_SYNC_CONCURRENCY_PER_PEER"), defaultSyncConcurrencyPerPeer),
		ChannelMgrSyncConcurrencyGroups:  intOrDefault(viper.GetInt("CHANNELMGR_SYNC_CONCURRENCY_GROUPS"), defaultSyncConcurrencyGroups),
		ChannelMgrCloseChunkSize:         intOrDefault(viper.GetInt("CHANNELMGR_CLOSE_CHUNK_SIZE"), defaultCloseChunkSize),
		ChannelMgrCloseConcurrency:       intOrDefault(viper.GetInt("CHANNELMGR_CLOSE_CONCURRENCY"), defaultCloseConcurrency),

		ChannelMgrChainID:            uint64(viper.GetInt64("CHANNELMGR_CHAIN_ID")),
		ChannelMgrAssetHolderAddress: viper.GetString("CHANNELMGR_ASSET_HOLDER_ADDRESS"),
		ChannelMgrAppAddress:         viper.GetString("CHANNELMGR_APP_ADDRESS"),

		PayMgrLoggingLevel: orDefault(viper.GetString("PAYMGR_LOGGING_LEVEL"), "INFO"),

		InsightsLoggingLevel: orDefault(viper.GetString("INSIGHTS_LOGGING_LEVEL"), "INFO"),
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intOrDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func durationOrDefault(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}
