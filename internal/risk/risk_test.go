package risk

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/internal/fixedpoint"
	"crosslend/internal/ledger"
	"crosslend/internal/oracle"
)

var (
	assetA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	assetB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	feedA  = common.HexToHash("0x01")
	feedB  = common.HexToHash("0x02")
	vault1 = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func ratio(num, den int64) *big.Int {
	r := new(big.Int).Mul(big.NewInt(num), fixedpoint.RatioPrecision)
	return r.Quo(r, big.NewInt(den))
}

func newTestEngine(t *testing.T) (*Engine, *ledger.Ledger, *oracle.StaticOracle) {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore())
	for asset, feed := range map[common.Address]common.Hash{assetA: feedA, assetB: feedB} {
		info := ledger.AssetInfo{
			CollateralizationRatioDeposit: ratio(1, 1),
			CollateralizationRatioBorrow:  ratio(1, 1),
			PriceFeed:                     feed,
			Decimals:                      18,
			RateIntercept:                 big.NewInt(0),
			RateCoefficient:               big.NewInt(0),
		}
		if err := l.RegisterAsset(asset, info, 0); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	prices := oracle.NewStaticOracle()
	prices.SetPrice(feedA, oracle.Price{Price: 1, Expo: 0, PublishTime: 1})
	prices.SetPrice(feedB, oracle.Price{Price: 1, Expo: 0, PublishTime: 1})
	return NewEngine(l, prices), l, prices
}

func TestVaultNotionalsRatioAdjustment(t *testing.T) {
	engine, l, _ := newTestEngine(t)

	// Deposits shrink by 1.25x, borrows inflate by 1.25x.
	infoA, _ := l.AssetInfo(assetA)
	infoA.CollateralizationRatioDeposit = ratio(5, 4)
	l.Store().PutAssetInfo(assetA, infoA)
	infoB, _ := l.AssetInfo(assetB)
	infoB.CollateralizationRatioBorrow = ratio(5, 4)
	l.Store().PutAssetInfo(assetB, infoB)

	if err := l.CreditDeposit(vault1, assetA, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.CreditBorrow(vault1, assetB, big.NewInt(400)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	notionals, err := engine.VaultNotionals(vault1)
	if err != nil {
		t.Fatalf("notionals: %v", err)
	}
	if notionals.Deposited.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("deposited notional mismatch: %s", notionals.Deposited)
	}
	if notionals.Borrowed.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("borrowed notional mismatch: %s", notionals.Borrowed)
	}
}

func TestCheckWithdraw(t *testing.T) {
	engine, l, _ := newTestEngine(t)

	if err := l.CreditDeposit(vault1, assetA, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.CreditBorrow(vault1, assetA, big.NewInt(300)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := engine.CheckWithdraw(vault1, assetA, big.NewInt(700)); err != nil {
		t.Fatalf("boundary withdraw rejected: %v", err)
	}
	if err := engine.CheckWithdraw(vault1, assetA, big.NewInt(701)); err != ErrInsufficientVaultBalance {
		t.Fatalf("expected vault balance error, got %v", err)
	}
}

func TestCheckWithdrawGlobalLiquidity(t *testing.T) {
	engine, l, _ := newTestEngine(t)
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")

	if err := l.CreditDeposit(vault1, assetA, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.CreditDeposit(other, assetA, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Another vault borrowed most of the pool.
	if err := l.CreditBorrow(other, assetA, big.NewInt(450)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := engine.CheckWithdraw(vault1, assetA, big.NewInt(200)); err != ErrInsufficientGlobalLiquidity {
		t.Fatalf("expected global liquidity error, got %v", err)
	}
}

func TestCheckBorrow(t *testing.T) {
	engine, l, _ := newTestEngine(t)
	lender := common.HexToAddress("0x3333333333333333333333333333333333333333")

	if err := l.CreditDeposit(lender, assetB, big.NewInt(1000)); err != nil {
		t.Fatalf("pool deposit: %v", err)
	}
	if err := l.CreditDeposit(vault1, assetA, big.NewInt(500)); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}

	if err := engine.CheckBorrow(vault1, assetB, big.NewInt(500)); err != nil {
		t.Fatalf("boundary borrow rejected: %v", err)
	}
	if err := engine.CheckBorrow(vault1, assetB, big.NewInt(501)); err != ErrUndercollateralized {
		t.Fatalf("expected undercollateralized error, got %v", err)
	}
	if err := engine.CheckBorrow(vault1, assetB, big.NewInt(1100)); err != ErrInsufficientGlobalLiquidity {
		t.Fatalf("expected global liquidity error, got %v", err)
	}
}

func TestNonPositivePriceFatal(t *testing.T) {
	engine, l, prices := newTestEngine(t)
	prices.SetPrice(feedA, oracle.Price{Price: 0, Expo: 0, PublishTime: 1})

	if err := l.CreditDeposit(vault1, assetA, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.VaultNotionals(vault1); err != oracle.ErrNonPositivePrice {
		t.Fatalf("expected non-positive price error, got %v", err)
	}
}

func underwaterVault(t *testing.T) (*Engine, *ledger.Ledger) {
	t.Helper()
	engine, l, _ := newTestEngine(t)
	// Deposited value 900, borrowed value 1000: underwater by 100.
	if err := l.CreditDeposit(vault1, assetA, big.NewInt(900)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.CreditBorrow(vault1, assetB, big.NewInt(1000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	return engine, l
}

func liquidationParams() LiquidationParams {
	return LiquidationParams{
		MaxPortion: ratio(1, 2),   // 50%
		MaxBonus:   ratio(11, 10), // 110%
	}
}

func TestLiquidationHealthyVaultRejected(t *testing.T) {
	engine, l, _ := newTestEngine(t)
	if err := l.CreditDeposit(vault1, assetA, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.CreditBorrow(vault1, assetB, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	err := engine.CheckLiquidation(vault1,
		[]AssetAmount{{Asset: assetB, Amount: big.NewInt(100)}},
		[]AssetAmount{{Asset: assetA, Amount: big.NewInt(100)}},
		liquidationParams())
	if err != ErrVaultHealthy {
		t.Fatalf("expected healthy vault rejection, got %v", err)
	}
}

func TestLiquidationPortionCap(t *testing.T) {
	engine, _ := underwaterVault(t)

	// Borrowed value 1000 with a 50% cap: repaying 600 is rejected even
	// though the vault would remain underwater.
	err := engine.CheckLiquidation(vault1,
		[]AssetAmount{{Asset: assetB, Amount: big.NewInt(600)}},
		[]AssetAmount{{Asset: assetA, Amount: big.NewInt(600)}},
		liquidationParams())
	if err != ErrPortionCapExceeded {
		t.Fatalf("expected portion cap rejection, got %v", err)
	}

	err = engine.CheckLiquidation(vault1,
		[]AssetAmount{{Asset: assetB, Amount: big.NewInt(400)}},
		[]AssetAmount{{Asset: assetA, Amount: big.NewInt(430)}},
		liquidationParams())
	if err != nil {
		t.Fatalf("capped liquidation rejected: %v", err)
	}
}

func TestLiquidationBonusCap(t *testing.T) {
	engine, _ := underwaterVault(t)

	// Repaying 400 with a 110% bonus cap allows at most 440 received.
	err := engine.CheckLiquidation(vault1,
		[]AssetAmount{{Asset: assetB, Amount: big.NewInt(400)}},
		[]AssetAmount{{Asset: assetA, Amount: big.NewInt(441)}},
		liquidationParams())
	if err != ErrBonusCapExceeded {
		t.Fatalf("expected bonus cap rejection, got %v", err)
	}
}

func TestLiquidationOverRepayAndDuplicates(t *testing.T) {
	engine, _ := underwaterVault(t)

	err := engine.CheckLiquidation(vault1,
		[]AssetAmount{{Asset: assetB, Amount: big.NewInt(1100)}},
		nil,
		liquidationParams())
	if err != ErrRepayTooLarge {
		t.Fatalf("expected over-repay rejection, got %v", err)
	}

	err = engine.CheckLiquidation(vault1,
		[]AssetAmount{
			{Asset: assetB, Amount: big.NewInt(100)},
			{Asset: assetB, Amount: big.NewInt(100)},
		},
		nil,
		liquidationParams())
	if err != ErrDuplicateAsset {
		t.Fatalf("expected duplicate asset rejection, got %v", err)
	}

	err = engine.CheckLiquidation(vault1,
		[]AssetAmount{{Asset: assetB, Amount: big.NewInt(100)}},
		[]AssetAmount{{Asset: assetA, Amount: big.NewInt(901)}},
		liquidationParams())
	if err != ErrReceiveTooLarge {
		t.Fatalf("expected over-receive rejection, got %v", err)
	}
}
