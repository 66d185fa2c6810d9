package interest

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/internal/fixedpoint"
	"crosslend/internal/ledger"
)

var testAsset = common.HexToAddress("0x1111111111111111111111111111111111111111")

func newTestLedger(t *testing.T, reserveBps uint64) *ledger.Ledger {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore())
	info := ledger.AssetInfo{
		CollateralizationRatioDeposit: new(big.Int).Set(fixedpoint.RatioPrecision),
		CollateralizationRatioBorrow:  new(big.Int).Set(fixedpoint.RatioPrecision),
		Decimals:                      18,
		// 2% intercept, 10% coefficient.
		RateIntercept:    new(big.Int).Quo(new(big.Int).Mul(big.NewInt(2), fixedpoint.Precision), big.NewInt(100)),
		RateCoefficient:  new(big.Int).Quo(fixedpoint.Precision, big.NewInt(10)),
		ReserveFactorBps: reserveBps,
	}
	if err := l.RegisterAsset(testAsset, info, 0); err != nil {
		t.Fatalf("register asset: %v", err)
	}
	return l
}

func TestAccrueNoTimeElapsed(t *testing.T) {
	l := newTestLedger(t, 0)
	account := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	if err := l.CreditDeposit(account, testAsset, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.CreditBorrow(account, testAsset, big.NewInt(500_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := Accrue(l, testAsset, 0); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	indices, _ := l.Indices(testAsset)
	if indices.Deposited.Cmp(fixedpoint.Precision) != 0 || indices.Borrowed.Cmp(fixedpoint.Precision) != 0 {
		t.Fatalf("zero elapsed must be a no-op: %+v", indices)
	}
}

func TestAccrueNothingDeposited(t *testing.T) {
	l := newTestLedger(t, 0)

	if err := Accrue(l, testAsset, 3600); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	indices, _ := l.Indices(testAsset)
	if indices.Deposited.Cmp(fixedpoint.Precision) != 0 || indices.Borrowed.Cmp(fixedpoint.Precision) != 0 {
		t.Fatalf("empty pool must not accrue: %+v", indices)
	}
	if indices.LastUpdateTime != 3600 {
		t.Fatalf("last update time must still advance: %d", indices.LastUpdateTime)
	}
}

func TestAccrueMonotoneAndBorrowOutpacesDeposit(t *testing.T) {
	l := newTestLedger(t, 0)
	account := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	if err := l.CreditDeposit(account, testAsset, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.CreditBorrow(account, testAsset, big.NewInt(600_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	prev, _ := l.Indices(testAsset)
	for _, now := range []int64{60, 60, 3_600, 86_400, 86_400 + 1, 30 * 86_400} {
		if err := Accrue(l, testAsset, now); err != nil {
			t.Fatalf("accrue at %d: %v", now, err)
		}
		indices, _ := l.Indices(testAsset)
		if indices.Deposited.Cmp(prev.Deposited) < 0 || indices.Borrowed.Cmp(prev.Borrowed) < 0 {
			t.Fatalf("index decreased at %d", now)
		}
		prev = indices
	}

	final, _ := l.Indices(testAsset)
	if final.Borrowed.Cmp(fixedpoint.Precision) <= 0 {
		t.Fatalf("borrow index did not grow: %s", final.Borrowed)
	}
	borrowGrowth := new(big.Int).Sub(final.Borrowed, fixedpoint.Precision)
	depositGrowth := new(big.Int).Sub(final.Deposited, fixedpoint.Precision)
	if borrowGrowth.Cmp(depositGrowth) <= 0 {
		t.Fatalf("borrow index must outpace deposit index: %s vs %s", borrowGrowth, depositGrowth)
	}
}

func TestAccrueReserveFactorWithholdsSpread(t *testing.T) {
	withReserve := newTestLedger(t, 1_000) // 10%
	noReserve := newTestLedger(t, 0)
	account := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	deposit := new(big.Int).Mul(big.NewInt(1_000_000), fixedpoint.Precision)
	borrow := new(big.Int).Mul(big.NewInt(800_000), fixedpoint.Precision)
	for _, l := range []*ledger.Ledger{withReserve, noReserve} {
		if err := l.CreditDeposit(account, testAsset, deposit); err != nil {
			t.Fatalf("deposit: %v", err)
		}
		if err := l.CreditBorrow(account, testAsset, borrow); err != nil {
			t.Fatalf("borrow: %v", err)
		}
		if err := Accrue(l, testAsset, 365*86_400); err != nil {
			t.Fatalf("accrue: %v", err)
		}
	}

	full, _ := noReserve.Indices(testAsset)
	held, _ := withReserve.Indices(testAsset)
	if held.Deposited.Cmp(full.Deposited) >= 0 {
		t.Fatalf("reserve factor must slow the deposit index: %s vs %s", held.Deposited, full.Deposited)
	}
	if held.Borrowed.Cmp(full.Borrowed) != 0 {
		t.Fatalf("reserve factor must not change the borrow index")
	}
	if withReserve.Store().GetReserves(testAsset).Sign() <= 0 {
		t.Fatalf("withheld spread must accrue to reserves")
	}
}

func TestAccrueClockWentBackwards(t *testing.T) {
	l := newTestLedger(t, 0)
	if err := Accrue(l, testAsset, 100); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if err := Accrue(l, testAsset, 50); err != ErrClockWentBackwards {
		t.Fatalf("expected clock error, got %v", err)
	}
}

func TestRateModelLinear(t *testing.T) {
	model := RateModel{
		Intercept:   big.NewInt(100),
		Coefficient: new(big.Int).Set(fixedpoint.Precision),
	}
	rate := model.Rate(big.NewInt(500))
	if rate.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("rate mismatch: %s", rate)
	}
}
