package main

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"crosslend/internal/config"
	"crosslend/internal/fixedpoint"
	"crosslend/internal/ledger"
	"crosslend/internal/oracle"
	"crosslend/internal/replay"
	"crosslend/internal/storage"
	"crosslend/internal/storage/postgres"
	"crosslend/internal/transport"
)

// journalPublisher assigns sequence numbers and records outbound payloads in
// the settlement journal. The transport relayer picks them up from there.
type journalPublisher struct {
	journal storage.Journal
	mu      sync.Mutex
	seq     uint64
}

func (p *journalPublisher) Publish(payload []byte) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	record := storage.Record{
		Kind:      "outbound",
		Sequence:  p.seq,
		Payload:   hexutil.Encode(payload),
		Timestamp: time.Now().Unix(),
	}
	if err := p.journal.Append([]storage.Record{record}); err != nil {
		return 0, err
	}
	return p.seq, nil
}

// parseEmitters reads chain:address entries into an emitter set. The first
// address doubles as the log filter emitter.
func parseEmitters(entries []string) (*transport.EmitterSet, common.Address, error) {
	if len(entries) == 0 {
		return nil, common.Address{}, nil
	}
	set := transport.NewEmitterSet()
	var first common.Address
	for i, entry := range entries {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, common.Address{}, fmt.Errorf("emitter %q: want chain:address", entry)
		}
		chain, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 16)
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("emitter %q: %w", entry, err)
		}
		addr := strings.TrimSpace(parts[1])
		if !common.IsHexAddress(addr) {
			return nil, common.Address{}, fmt.Errorf("emitter %q: invalid address", entry)
		}
		address := common.HexToAddress(addr)
		set.Register(uint16(chain), address)
		if i == 0 {
			first = address
		}
	}
	return set, first, nil
}

// registerAssets applies the config file's asset entries to the ledger and
// seeds the static oracle with their quoted prices.
func registerAssets(l *ledger.Ledger, prices *oracle.StaticOracle, assets []config.AssetConfig, now int64) error {
	if len(assets) == 0 {
		return fmt.Errorf("at least one asset entry is required")
	}
	for _, entry := range assets {
		if !common.IsHexAddress(entry.Address) {
			return fmt.Errorf("asset %q: invalid address", entry.Address)
		}
		info, err := assetInfo(entry)
		if err != nil {
			return fmt.Errorf("asset %s: %w", entry.Address, err)
		}
		if err := l.RegisterAsset(common.HexToAddress(entry.Address), info, now); err != nil {
			return fmt.Errorf("asset %s: %w", entry.Address, err)
		}
		prices.SetPrice(info.PriceFeed, oracle.Price{
			Price:       entry.Price,
			PublishTime: now,
		})
	}
	return nil
}

func assetInfo(entry config.AssetConfig) (ledger.AssetInfo, error) {
	depositRatio, err := ratioOrDefault(entry.DepositRatio)
	if err != nil {
		return ledger.AssetInfo{}, fmt.Errorf("deposit-ratio: %w", err)
	}
	borrowRatio, err := ratioOrDefault(entry.BorrowRatio)
	if err != nil {
		return ledger.AssetInfo{}, fmt.Errorf("borrow-ratio: %w", err)
	}
	intercept, err := rateOrZero(entry.RateIntercept)
	if err != nil {
		return ledger.AssetInfo{}, fmt.Errorf("rate-intercept: %w", err)
	}
	coefficient, err := rateOrZero(entry.RateCoefficient)
	if err != nil {
		return ledger.AssetInfo{}, fmt.Errorf("rate-coefficient: %w", err)
	}
	return ledger.AssetInfo{
		CollateralizationRatioDeposit: depositRatio,
		CollateralizationRatioBorrow:  borrowRatio,
		PriceFeed:                     common.HexToHash(entry.PriceFeed),
		Decimals:                      entry.Decimals,
		RateIntercept:                 intercept,
		RateCoefficient:               coefficient,
		ReserveFactorBps:              entry.ReserveFactorBps,
	}, nil
}

func ratioOrDefault(input string) (*big.Int, error) {
	if strings.TrimSpace(input) == "" {
		return new(big.Int).Set(fixedpoint.RatioPrecision), nil
	}
	return config.ParseBigInt(input)
}

func rateOrZero(input string) (*big.Int, error) {
	if strings.TrimSpace(input) == "" {
		return big.NewInt(0), nil
	}
	return config.ParseBigInt(input)
}

// newGuard picks the replay guard backend: Postgres when a DSN is configured,
// in-memory otherwise.
func newGuard(ctx context.Context, dsn string) (replay.Guard, func(), error) {
	if dsn == "" {
		return replay.NewMemoryGuard(), func() {}, nil
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return store.Guard(ctx), store.Close, nil
}

// runWatch drives the handler from either a recorded envelope file or the
// attestation chain's logs.
func runWatch(ctx context.Context, rpcURL, envelopes string, watchCfg transport.WatchConfig, handler transport.Handler, logger *zap.Logger) error {
	if envelopes != "" {
		logger.Info("reading recorded envelopes", zap.String("path", envelopes))
		return transport.ReadEnvelopeFile(envelopes, transport.EnvelopeVerifier{}, handler)
	}
	if rpcURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	client, err := transport.NewClient(ctx, rpcURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	watcher := transport.NewWatcher(watchCfg, client, handler, logger)
	return watcher.Run(ctx)
}
