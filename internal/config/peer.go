package config

import (
	"time"

	"github.com/spf13/pflag"
)

// PeerConfig holds configuration for the peer command.
type PeerConfig struct {
	RPCURL            string
	Self              string
	CollateralAsset   string
	BorrowAsset       string
	GracePeriod       time.Duration
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
	Assets            []AssetConfig
	LogLevel          string
}

// LoadPeer merges config file, environment variables, and flags into
// PeerConfig.
func LoadPeer(cfgFile string, flags *pflag.FlagSet) (PeerConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return PeerConfig{}, err
	}

	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("grace-period", time.Hour)
	v.SetDefault("journal", "./data/settle.jsonl")
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	cfg := PeerConfig{
		RPCURL:            v.GetString("rpc"),
		Self:              v.GetString("self"),
		CollateralAsset:   v.GetString("collateral-asset"),
		BorrowAsset:       v.GetString("borrow-asset"),
		GracePeriod:       v.GetDuration("grace-period"),
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
		LogLevel:          v.GetString("log-level"),
	}
	if err := v.UnmarshalKey("assets", &cfg.Assets); err != nil {
		return PeerConfig{}, err
	}
	return cfg, nil
}
