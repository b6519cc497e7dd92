package cpmm

import (
	"testing"

	"github.com/shopspring/decimal"
)

// n is a test helper for creating whole-number decimals.
func n(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// --- Seed split ---

func TestSplitSeed_Even(t *testing.T) {
	yes, no := SplitSeed(n(1000))
	if !yes.Equal(n(500)) || !no.Equal(n(500)) {
		t.Errorf("expected 500/500, got %s/%s", yes, no)
	}
}

func TestSplitSeed_OddRemainderGoesToNo(t *testing.T) {
	yes, no := SplitSeed(n(1001))
	if !yes.Equal(n(500)) || !no.Equal(n(501)) {
		t.Errorf("expected 500/501, got %s/%s", yes, no)
	}
}

// --- Fees ---

func TestFee_RoundsUp(t *testing.T) {
	// 100 * 20 / 10_000 = 0.2 -> 1
	fee, err := Fee(n(100), 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fee.Equal(n(1)) {
		t.Errorf("expected fee 1 for 100 @ 20bps, got %s", fee)
	}
}

func TestFee_ZeroRate(t *testing.T) {
	fee, _ := Fee(n(100), 0)
	if !fee.IsZero() {
		t.Errorf("expected zero fee at 0 bps, got %s", fee)
	}
}

func TestFee_Exact(t *testing.T) {
	fee, _ := Fee(n(1_000_000), 20)
	if !fee.Equal(n(2000)) {
		t.Errorf("expected fee 2000, got %s", fee)
	}
}

// --- Buy / sell pricing ---

func TestSharesOut_ReferenceScenario(t *testing.T) {
	// 1,000 seed -> 500/500; buy YES with 100 at 20 bps -> fee 1, net 99.
	// 99 * 500 / (500 + 99) = 82.6 -> 82.
	shares, err := SharesOut(n(500), n(500), n(99))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shares.Equal(n(82)) {
		t.Errorf("expected 82 shares, got %s", shares)
	}

	shares, _ = SharesOut(n(500), n(500), n(100))
	if !shares.Equal(n(83)) {
		t.Errorf("expected 83 shares for 100 net, got %s", shares)
	}
}

func TestSharesOut_AlwaysBelowReserve(t *testing.T) {
	tests := []struct {
		in, out, amount int64
	}{
		{1, 1, 1_000_000},
		{500, 500, 1_000_000_000},
		{10, 1_000_000, 1},
		{1_000_000, 10, 1_000_000_000_000},
	}
	for _, tt := range tests {
		s, err := SharesOut(n(tt.in), n(tt.out), n(tt.amount))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !s.LessThan(n(tt.out)) {
			t.Errorf("shares %s must stay below reserve %d", s, tt.out)
		}
	}
}

func TestSharesOut_ProductNeverDecreases(t *testing.T) {
	x, y := n(500), n(500)
	k0, _ := Product(x, y)
	for _, amount := range []int64{1, 7, 99, 250, 10_000} {
		s, err := SharesOut(x, y, n(amount))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		x = x.Add(n(amount))
		y = y.Sub(s)
		k1, _ := Product(x, y)
		if k1.LessThan(k0) {
			t.Fatalf("k decreased: before=%s after=%s", k0, k1)
		}
		k0 = k1
	}
}

func TestSellPayout_InverseOfBuy(t *testing.T) {
	// Buy then immediately sell the same shares: payout never exceeds what was paid.
	shares, _ := SharesOut(n(500), n(500), n(100))
	yes, no := n(500).Sub(shares), n(600)
	payout, err := SellPayout(yes, no, shares)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payout.GreaterThan(n(100)) {
		t.Errorf("round trip paid out %s, more than the 100 paid in", payout)
	}
	if payout.LessThan(n(98)) {
		t.Errorf("round trip payout %s lost more than rounding", payout)
	}
}

func TestSharesOut_ZeroReserve(t *testing.T) {
	if _, err := SharesOut(n(0), n(500), n(10)); err != ErrZeroReserve {
		t.Errorf("expected ErrZeroReserve, got %v", err)
	}
}

func TestSharesOut_RejectsFractional(t *testing.T) {
	if _, err := SharesOut(n(500), n(500), decimal.NewFromFloat(1.5)); err != ErrAmountRange {
		t.Errorf("expected ErrAmountRange, got %v", err)
	}
}

func TestSharesOut_NoOverflowNear128Bits(t *testing.T) {
	big := MaxAmount.Div(n(4)).Floor()
	s, err := SharesOut(big, big, big)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// big*big/(2*big) = big/2
	if !s.Equal(big.Div(n(2)).Floor()) {
		t.Errorf("expected %s, got %s", big.Div(n(2)).Floor(), s)
	}
}

// --- Liquidity ---

func TestLPMint_Proportional(t *testing.T) {
	minted, _ := LPMint(n(500), n(1000), n(1000))
	if !minted.Equal(n(500)) {
		t.Errorf("expected 500 LP, got %s", minted)
	}
}

func TestProportionalSplit_PreservesRatio(t *testing.T) {
	yesAdd, noAdd, err := ProportionalSplit(n(1000), n(418), n(599))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !yesAdd.Add(noAdd).Equal(n(1000)) {
		t.Errorf("split must sum to deposit: %s + %s", yesAdd, noAdd)
	}
	// 1000 * 418 / 1017 = 411.01 -> 411
	if !yesAdd.Equal(n(411)) {
		t.Errorf("expected yes addition 411, got %s", yesAdd)
	}
}

func TestWithdrawal_Floors(t *testing.T) {
	w, _ := Withdrawal(n(1), n(3), n(2))
	if !w.Equal(n(1)) {
		t.Errorf("expected 1, got %s", w)
	}
}

// --- Odds ---

func TestOddsBps_FreshPoolIsEven(t *testing.T) {
	yes, no, _ := OddsBps(n(500), n(500))
	if yes != 5000 || no != 5000 {
		t.Errorf("expected 5000/5000, got %d/%d", yes, no)
	}
}

func TestOddsBps_BuyingYesRaisesYes(t *testing.T) {
	yes, no, _ := OddsBps(n(418), n(599))
	if yes <= 5000 {
		t.Errorf("YES odds should rise above 50%% after YES buy, got %d", yes)
	}
	if yes+no != BpsDenominator {
		t.Errorf("odds must sum to 10000, got %d", yes+no)
	}
}

func TestPrice_SumsToOne(t *testing.T) {
	one := decimal.NewFromInt(1)
	tolerance := decimal.NewFromFloat(0.00000002)
	pairs := [][2]int64{{500, 500}, {418, 599}, {1, 1_000_000}, {7, 3}}
	for _, p := range pairs {
		sum := Price(n(p[0]), n(p[1]), true).Add(Price(n(p[0]), n(p[1]), false))
		if sum.Sub(one).Abs().GreaterThan(tolerance) {
			t.Errorf("prices should sum to 1 for %v, got %s", p, sum)
		}
	}
}

// --- Fee accumulator ---

func TestFeeGrowth_AccruesProRata(t *testing.T) {
	delta, err := FeeGrowthDelta(n(30), n(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := Pending(n(600), delta, decimal.Zero)
	b := Pending(n(400), delta, decimal.Zero)
	if !a.Equal(n(18)) || !b.Equal(n(12)) {
		t.Errorf("expected 18/12 split, got %s/%s", a, b)
	}
}

func TestPending_NeverExceedsCollected(t *testing.T) {
	// 10 fee units over 3 LP tokens: nobody may be owed more than 10 in total.
	delta, _ := FeeGrowthDelta(n(10), n(3))
	total := decimal.Zero
	for i := 0; i < 3; i++ {
		total = total.Add(Pending(n(1), delta, decimal.Zero))
	}
	if total.GreaterThan(n(10)) {
		t.Errorf("pending fees %s exceed collected 10", total)
	}
	if !total.Equal(n(9)) {
		t.Errorf("expected 9 (dust stays in custody), got %s", total)
	}
}

func TestPending_SinceCheckpoint(t *testing.T) {
	g1, _ := FeeGrowthDelta(n(50), n(100))
	debt := Checkpoint(n(100), g1)
	if p := Pending(n(100), g1, debt); !p.IsZero() {
		t.Errorf("expected nothing pending at checkpoint, got %s", p)
	}
	g2 := g1.Add(g1)
	if p := Pending(n(100), g2, debt); !p.Equal(n(50)) {
		t.Errorf("expected 50 pending, got %s", p)
	}
}

// --- Rebalance ---

func TestRebalance_InsideBandUnchanged(t *testing.T) {
	_, _, changed, err := Rebalance(n(500), n(600))
	if err != nil || changed {
		t.Errorf("expected no change, changed=%v err=%v", changed, err)
	}
}

func TestRebalance_ClampsToUpperEdge(t *testing.T) {
	yes, no, changed, err := Rebalance(n(900), n(100))
	if err != nil || !changed {
		t.Fatalf("expected rebalance, changed=%v err=%v", changed, err)
	}
	if !yes.Equal(n(750)) || !no.Equal(n(250)) {
		t.Errorf("expected 750/250, got %s/%s", yes, no)
	}
}

func TestRebalance_ClampsToLowerEdge(t *testing.T) {
	yes, no, changed, _ := Rebalance(n(100), n(1200))
	if !changed {
		t.Fatal("expected rebalance")
	}
	if !yes.Equal(n(300)) || !no.Equal(n(1000)) {
		t.Errorf("expected 300/1000, got %s/%s", yes, no)
	}
}

func TestRebalance_ResultIsInsideBand(t *testing.T) {
	for _, tc := range [][2]int64{{3, 1048}, {1048, 3}, {1, 999}, {7, 10_000}, {999_999, 2}} {
		yes, no, changed, err := Rebalance(n(tc[0]), n(tc[1]))
		if err != nil || !changed {
			t.Fatalf("%v: changed=%v err=%v", tc, changed, err)
		}
		if Drifted(yes, no) {
			t.Errorf("%v: rebalanced to %s/%s, still drifted", tc, yes, no)
		}
		if !yes.Add(no).Equal(n(tc[0] + tc[1])) {
			t.Errorf("%v: total not preserved: %s/%s", tc, yes, no)
		}
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		name string
		v    decimal.Decimal
		want bool
	}{
		{"zero", n(0), true},
		{"positive", n(42), true},
		{"negative", n(-1), false},
		{"fractional", decimal.NewFromFloat(0.5), false},
		{"max", MaxAmount, true},
		{"over max", MaxAmount.Add(n(1)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidAmount(tt.v); got != tt.want {
				t.Errorf("ValidAmount(%s) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}
}
