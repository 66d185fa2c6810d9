package fixedpoint

import (
	"math/big"
	"testing"
)

func TestMulDivRounding(t *testing.T) {
	a := big.NewInt(10)
	num := big.NewInt(1)
	den := big.NewInt(3)

	down, err := MulDiv(a, num, den, RoundDown)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if down.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("round down mismatch: %s", down)
	}

	up, err := MulDiv(a, num, den, RoundUp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if up.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("round up mismatch: %s", up)
	}
}

func TestMulDivExactNoRoundUp(t *testing.T) {
	got, err := MulDiv(big.NewInt(6), big.NewInt(2), big.NewInt(4), RoundUp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("exact division must not round up: %s", got)
	}
}

func TestMulDivZeroDenominator(t *testing.T) {
	if _, err := MulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0), RoundDown); err == nil {
		t.Fatalf("expected error for zero denominator")
	}
}

func TestNormalizeDenormalizeBounds(t *testing.T) {
	index := new(big.Int).Add(Precision, big.NewInt(37_000_000_000_000_000)) // 1.037x
	amounts := []int64{1, 7, 999, 1_000_000, 123_456_789_123}

	for _, raw := range amounts {
		amount := big.NewInt(raw)

		normUp, err := Normalize(amount, index, RoundUp)
		if err != nil {
			t.Fatalf("normalize up: %v", err)
		}
		backUp, err := Denormalize(normUp, index, RoundDown)
		if err != nil {
			t.Fatalf("denormalize: %v", err)
		}
		if backUp.Cmp(amount) < 0 {
			t.Fatalf("round-up normalize lost value: %s -> %s", amount, backUp)
		}

		normDown, err := Normalize(amount, index, RoundDown)
		if err != nil {
			t.Fatalf("normalize down: %v", err)
		}
		backDown, err := Denormalize(normDown, index, RoundDown)
		if err != nil {
			t.Fatalf("denormalize: %v", err)
		}
		if backDown.Cmp(amount) > 0 {
			t.Fatalf("round-down normalize created value: %s -> %s", amount, backDown)
		}
	}
}

func TestApplyRemoveRatio(t *testing.T) {
	ratio := new(big.Int).Mul(big.NewInt(11), new(big.Int).Quo(RatioPrecision, big.NewInt(10))) // 1.1x
	value := big.NewInt(1000)

	applied, err := ApplyRatio(value, ratio, RoundDown)
	if err != nil {
		t.Fatalf("apply ratio: %v", err)
	}
	if applied.Cmp(big.NewInt(1100)) != 0 {
		t.Fatalf("apply ratio mismatch: %s", applied)
	}

	removed, err := RemoveRatio(value, ratio, RoundDown)
	if err != nil {
		t.Fatalf("remove ratio: %v", err)
	}
	if removed.Cmp(big.NewInt(909)) != 0 {
		t.Fatalf("remove ratio mismatch: %s", removed)
	}
}
