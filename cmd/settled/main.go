package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "settled",
		Short:        "Cross-chain collateralized lending settlement service",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	hubCmd := &cobra.Command{
		Use:   "hub",
		Short: "Run the hub settlement service",
		RunE:  runHub,
	}

	hubCmd.Flags().String("rpc", "", "EVM RPC URL of the attestation chain")
	hubCmd.Flags().String("self", "", "hub contract address")
	hubCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	hubCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	hubCmd.Flags().StringSlice("emitter", nil, "trusted emitters, chain:address (comma-separated)")
	hubCmd.Flags().String("topic0", "", "message log topic0")
	hubCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	hubCmd.Flags().String("envelopes", "", "offline envelope JSONL input (skips RPC)")
	hubCmd.Flags().String("journal", "./data/settle.jsonl", "settlement journal JSONL path")
	hubCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	hubCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	hubCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	hubCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	hubCmd.Flags().String("pg-dsn", "", "Postgres DSN for the consumed message set")
	hubCmd.Flags().String("max-portion", "500000000000000000", "liquidation portion cap at 1e18 scale")
	hubCmd.Flags().String("max-bonus", "1050000000000000000", "liquidation bonus cap at 1e18 scale")
	hubCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(hubCmd)

	peerCmd := &cobra.Command{
		Use:   "peer",
		Short: "Run the two-sided peer settlement service",
		RunE:  runPeer,
	}

	peerCmd.Flags().String("rpc", "", "EVM RPC URL of the attestation chain")
	peerCmd.Flags().String("self", "", "peer contract address")
	peerCmd.Flags().String("collateral-asset", "", "collateral asset address")
	peerCmd.Flags().String("borrow-asset", "", "borrow asset address")
	peerCmd.Flags().Duration("grace-period", time.Hour, "repay propagation grace period")
	peerCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	peerCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	peerCmd.Flags().StringSlice("emitter", nil, "trusted emitters, chain:address (comma-separated)")
	peerCmd.Flags().String("topic0", "", "message log topic0")
	peerCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	peerCmd.Flags().String("envelopes", "", "offline envelope JSONL input (skips RPC)")
	peerCmd.Flags().String("journal", "./data/settle.jsonl", "settlement journal JSONL path")
	peerCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	peerCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	peerCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	peerCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	peerCmd.Flags().String("pg-dsn", "", "Postgres DSN for the consumed message set")
	peerCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(peerCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw message payloads into typed records",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("in", "", "input envelope JSONL")
	decodeCmd.Flags().String("out", "./data/decoded.jsonl", "output decoded messages JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("variant", "hub", "payload dispatch space (hub or peer)")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
