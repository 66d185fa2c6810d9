package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crosslend/internal/config"
	"crosslend/internal/custody"
	"crosslend/internal/ledger"
	"crosslend/internal/oracle"
	"crosslend/internal/risk"
	"crosslend/internal/settle"
	"crosslend/internal/storage"
	"crosslend/internal/transport"
)

func runHub(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadHub(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	guard, closeGuard, err := newGuard(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer closeGuard()

	maxPortion, err := config.ParseBigInt(cfg.MaxPortion)
	if err != nil {
		return fmt.Errorf("max-portion: %w", err)
	}
	maxBonus, err := config.ParseBigInt(cfg.MaxBonus)
	if err != nil {
		return fmt.Errorf("max-bonus: %w", err)
	}

	journal := storage.NewJsonlJournal(cfg.Journal)
	publisher := &journalPublisher{journal: journal}

	l := ledger.New(ledger.NewMemoryStore())
	prices := oracle.NewStaticOracle()
	if err := registerAssets(l, prices, cfg.Assets, time.Now().Unix()); err != nil {
		return err
	}

	hub := settle.NewHub(settle.HubConfig{
		Self: common.HexToAddress(cfg.Self),
		Liquidation: risk.LiquidationParams{
			MaxPortion: maxPortion,
			MaxBonus:   maxBonus,
		},
	}, l, prices, guard, custody.NewAttestedBank(), publisher, logger)

	emitters, watchEmitter, err := parseEmitters(cfg.Emitters)
	if err != nil {
		return err
	}
	if emitters != nil {
		hub.RestrictEmitters(emitters)
	}

	handler := func(env transport.Envelope) error {
		if err := hub.HandleEnvelope(env); err != nil {
			// A rejected message is terminal for that message only; the
			// scan continues.
			logger.Warn("message rejected",
				zap.String("hash", env.Hash.Hex()),
				zap.Uint64("sequence", env.Sequence),
				zap.Error(err))
			return nil
		}
		return journal.Append([]storage.Record{{
			Kind:      "consumed",
			Hash:      env.Hash.Hex(),
			Sequence:  env.Sequence,
			Timestamp: time.Now().Unix(),
		}})
	}

	logger.Info("hub start",
		zap.String("self", cfg.Self),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Int("assets", len(cfg.Assets)),
		zap.Int("emitters", len(cfg.Emitters)),
		zap.String("journal", cfg.Journal),
	)

	return runWatch(ctx, cfg.RPCURL, cfg.Envelopes, transport.WatchConfig{
		FromBlock:         cfg.FromBlock,
		ToBlock:           cfg.ToBlock,
		Emitter:           watchEmitter,
		Topic0:            common.HexToHash(cfg.Topic0),
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
	}, handler, logger)
}
