package math_test

import (
	stdmath "math"
	"testing"

	fpmath "CoffeeClear/internal/math"
)

func TestCheckedAddU64(t *testing.T) {
	got, err := fpmath.CheckedAddU64(1, 2)
	if err != nil || got != 3 {
		t.Errorf("1+2: got %d, err %v", got, err)
	}

	_, err = fpmath.CheckedAddU64(stdmath.MaxUint64, 1)
	if err == nil {
		t.Error("expected overflow on MaxUint64+1")
	}
}

func TestCheckedSubU64_Underflow(t *testing.T) {
	if _, err := fpmath.CheckedSubU64(1, 2); err == nil {
		t.Error("expected underflow on 1-2")
	}
	got, err := fpmath.CheckedSubU64(10, 3)
	if err != nil || got != 7 {
		t.Errorf("10-3: got %d, err %v", got, err)
	}
}

func TestCheckedMulU64(t *testing.T) {
	got, err := fpmath.CheckedMulU64(1_000_000, 1_000_000)
	if err != nil || got != 1_000_000_000_000 {
		t.Errorf("got %d, err %v", got, err)
	}

	if _, err := fpmath.CheckedMulU64(stdmath.MaxUint64, 2); err == nil {
		t.Error("expected overflow")
	}

	// Zero operand short-circuits
	if got, _ := fpmath.CheckedMulU64(0, stdmath.MaxUint64); got != 0 {
		t.Errorf("0*max: got %d", got)
	}
}

func TestBpsOfU64(t *testing.T) {
	// 5% of 1_000_000
	got, err := fpmath.BpsOfU64(1_000_000, 500)
	if err != nil || got != 50_000 {
		t.Errorf("got %d, err %v", got, err)
	}

	// Floor division: 1 bps of 9999 = 0
	got, err = fpmath.BpsOfU64(9_999, 1)
	if err != nil || got != 0 {
		t.Errorf("floor: got %d, err %v", got, err)
	}

	// Result wider than u64 overflows
	if _, err := fpmath.BpsOfU64(stdmath.MaxUint64, 20_000); err == nil {
		t.Error("expected overflow for 200% of MaxUint64")
	}
}

func TestSignedMulDiff_Long(t *testing.T) {
	// mark above agreed: buyer wins
	pnl := fpmath.SignedMulDiff(100, 150, 10, fpmath.RoleLong)
	if pnl.Int64() != 500 {
		t.Errorf("long pnl: got %s, want 500", pnl)
	}

	// mark below agreed: buyer loses
	pnl = fpmath.SignedMulDiff(100, 80, 10, fpmath.RoleLong)
	if pnl.Int64() != -200 {
		t.Errorf("long pnl: got %s, want -200", pnl)
	}

	// short is the negation
	pnl = fpmath.SignedMulDiff(100, 80, 10, fpmath.RoleShort)
	if pnl.Int64() != 200 {
		t.Errorf("short pnl: got %s, want 200", pnl)
	}
}

func TestPriceBandOK(t *testing.T) {
	// 10% delta within 20% cap
	if !fpmath.PriceBandOK(1000, 1100, 2000) {
		t.Error("10% move should pass a 20% cap")
	}

	// 100% delta rejected by 5% cap
	if fpmath.PriceBandOK(1000, 2000, 500) {
		t.Error("100% move should fail a 5% cap")
	}

	// Exact boundary accepts
	if !fpmath.PriceBandOK(1000, 1200, 2000) {
		t.Error("20% move should pass a 20% cap")
	}

	// No reference price disables the check
	if !fpmath.PriceBandOK(0, 5000, 1) {
		t.Error("zero prev should always pass")
	}

	// Downward moves use the same band
	if fpmath.PriceBandOK(1000, 100, 500) {
		t.Error("-90% move should fail a 5% cap")
	}
}
