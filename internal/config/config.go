// Package config loads runtime settings for the settled commands from config
// file, environment and flags, in that order of increasing precedence.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// AssetConfig is one asset registration entry from the config file. Ratios
// and rates are decimal strings at 1e18 scale.
type AssetConfig struct {
	Address          string `mapstructure:"address"`
	PriceFeed        string `mapstructure:"price-feed"`
	Price            int64  `mapstructure:"price"`
	Decimals         uint8  `mapstructure:"decimals"`
	DepositRatio     string `mapstructure:"deposit-ratio"`
	BorrowRatio      string `mapstructure:"borrow-ratio"`
	RateIntercept    string `mapstructure:"rate-intercept"`
	RateCoefficient  string `mapstructure:"rate-coefficient"`
	ReserveFactorBps uint64 `mapstructure:"reserve-factor-bps"`
}

// HubConfig holds configuration for the hub command.
type HubConfig struct {
	RPCURL            string
	Self              string
	FromBlock         uint64
	ToBlock           uint64
	Emitters          []string
	Topic0            string
	BatchSize         uint64
	Envelopes         string
	Journal           string
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	PGDSN             string
	MaxPortion        string
	MaxBonus          string
	Assets            []AssetConfig
	LogLevel          string
}

// LoadHub merges config file, environment variables, and flags into HubConfig.
func LoadHub(cfgFile string, flags *pflag.FlagSet) (HubConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return HubConfig{}, err
	}

	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("journal", "./data/settle.jsonl")
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("max-portion", "500000000000000000")
	v.SetDefault("max-bonus", "1050000000000000000")
	v.SetDefault("log-level", "info")

	cfg := HubConfig{
		RPCURL:            v.GetString("rpc"),
		Self:              v.GetString("self"),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		Emitters:          getStringSlice(v, "emitter"),
		Topic0:            v.GetString("topic0"),
		BatchSize:         v.GetUint64("batch-size"),
		Envelopes:         v.GetString("envelopes"),
		Journal:           v.GetString("journal"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		PGDSN:             v.GetString("pg-dsn"),
		MaxPortion:        v.GetString("max-portion"),
		MaxBonus:          v.GetString("max-bonus"),
		LogLevel:          v.GetString("log-level"),
	}
	if err := v.UnmarshalKey("assets", &cfg.Assets); err != nil {
		return HubConfig{}, fmt.Errorf("parse assets: %w", err)
	}
	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("SETTLED")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

// ParseBigInt parses a decimal string into a big.Int, rejecting empty and
// malformed values.
func ParseBigInt(input string) (*big.Int, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, fmt.Errorf("empty number")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", input)
	}
	return value, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
