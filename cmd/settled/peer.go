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
	"crosslend/internal/settle"
	"crosslend/internal/storage"
	"crosslend/internal/transport"
)

func runPeer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadPeer(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !common.IsHexAddress(cfg.CollateralAsset) {
		return fmt.Errorf("collateral-asset is required")
	}
	if !common.IsHexAddress(cfg.BorrowAsset) {
		return fmt.Errorf("borrow-asset is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	guard, closeGuard, err := newGuard(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer closeGuard()

	journal := storage.NewJsonlJournal(cfg.Journal)
	publisher := &journalPublisher{journal: journal}

	l := ledger.New(ledger.NewMemoryStore())
	prices := oracle.NewStaticOracle()
	if err := registerAssets(l, prices, cfg.Assets, time.Now().Unix()); err != nil {
		return err
	}

	peer := settle.NewPeer(settle.PeerConfig{
		Self:            common.HexToAddress(cfg.Self),
		CollateralAsset: common.HexToAddress(cfg.CollateralAsset),
		BorrowAsset:     common.HexToAddress(cfg.BorrowAsset),
		GracePeriod:     int64(cfg.GracePeriod / time.Second),
	}, l, prices, guard, custody.NewAttestedBank(), publisher, logger)

	emitters, watchEmitter, err := parseEmitters(cfg.Emitters)
	if err != nil {
		return err
	}
	if emitters != nil {
		peer.RestrictEmitters(emitters)
	}

	handler := func(env transport.Envelope) error {
		if err := peer.HandleEnvelope(env); err != nil {
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

	logger.Info("peer start",
		zap.String("self", cfg.Self),
		zap.String("collateral_asset", cfg.CollateralAsset),
		zap.String("borrow_asset", cfg.BorrowAsset),
		zap.Duration("grace_period", cfg.GracePeriod),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
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
