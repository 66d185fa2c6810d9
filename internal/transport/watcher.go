package transport

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"crosslend/internal/replay"
)

// WatchConfig holds runtime settings for the message watcher.
type WatchConfig struct {
	FromBlock         uint64
	ToBlock           uint64
	Emitter           common.Address
	Topic0            common.Hash
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
}

// Handler consumes one verified envelope. A handler error stops the watcher.
type Handler func(Envelope) error

// Watcher scans the attestation contract's logs for published messages and
// feeds them, in order, to the handler.
type Watcher struct {
	cfg        WatchConfig
	chain      *Client
	handler    Handler
	logger     *zap.Logger
	seen       map[string]struct{}
	checkpoint *CheckpointStore
}

func NewWatcher(cfg WatchConfig, chain *Client, handler Handler, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		cfg:        cfg,
		chain:      chain,
		handler:    handler,
		logger:     logger,
		seen:       make(map[string]struct{}),
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
	}
}

// Run executes the scan loop over the configured block range.
func (w *Watcher) Run(ctx context.Context) error {
	if w.chain == nil {
		return fmt.Errorf("chain client is nil")
	}
	if w.handler == nil {
		return fmt.Errorf("handler is nil")
	}
	if w.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}

	chainID, err := w.chain.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	emitterChain, err := emitterChainID(chainID)
	if err != nil {
		return err
	}

	from := w.cfg.FromBlock
	to := w.cfg.ToBlock
	if to == 0 {
		latest, err := w.chain.LatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}

	if w.checkpoint != nil {
		cp, ok, err := w.checkpoint.Load()
		if err != nil {
			return err
		}
		if ok && cp.LastProcessedBlock >= from {
			from = cp.LastProcessedBlock + 1
			w.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp.LastProcessedBlock), zap.Uint64("from", from))
		}
	}

	if from > to {
		w.logger.Info("nothing to scan", zap.Uint64("from", from), zap.Uint64("to", to))
		return nil
	}

	ranges, err := SplitRange(from, to, w.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		logs, err := w.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
		if err != nil {
			return fmt.Errorf("filter logs: %w", err)
		}

		for _, log := range logs {
			if w.isDuplicate(log) {
				continue
			}
			env := buildEnvelope(emitterChain, log)
			if err := w.handler(env); err != nil {
				return fmt.Errorf("handle message %s: %w", env.Hash.Hex(), err)
			}
		}

		if w.checkpoint != nil {
			if err := w.checkpoint.Save(blockRange.To); err != nil {
				return err
			}
		}

		w.logger.Info("batch complete", zap.Int("messages", len(logs)), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	}

	return nil
}

func (w *Watcher) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, w.cfg.MaxRetries, w.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = w.chain.FilterMessageLogs(ctx, fromBlock, toBlock, w.cfg.Emitter, w.cfg.Topic0)
		if err != nil {
			w.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (w *Watcher) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := w.seen[id]; ok {
		return true
	}
	w.seen[id] = struct{}{}
	return false
}

// emitterChainID narrows the node's chain id into the envelope's 16-bit
// emitter chain space. A wider id would silently alias two distinct chains in
// the emitter check, so it fails the run instead.
func emitterChainID(chainID *big.Int) (uint16, error) {
	if chainID == nil || !chainID.IsUint64() || chainID.Uint64() > math.MaxUint16 {
		return 0, fmt.Errorf("chain id %v does not fit the 16-bit emitter chain space", chainID)
	}
	return uint16(chainID.Uint64()), nil
}

func buildEnvelope(chainID uint16, log types.Log) Envelope {
	var sequence uint64
	if len(log.Topics) > 1 {
		sequence = log.Topics[1].Big().Uint64()
	}
	payload := append([]byte(nil), log.Data...)
	env := Envelope{
		EmitterChain:   chainID,
		EmitterAddress: log.Address,
		Sequence:       sequence,
		Payload:        payload,
		Valid:          true,
	}
	env.Hash = replay.MessageID(payload)
	return env
}

// ReadEnvelopeFile feeds envelopes from a jsonl file through the verifier,
// for offline runs and replays of recorded traffic.
func ReadEnvelopeFile(path string, verifier Verifier, handler Handler) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open envelope file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		env, err := verifier.ParseAndVerify(raw)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := handler(env); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return scanner.Err()
}
