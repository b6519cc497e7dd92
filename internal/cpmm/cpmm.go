// Package cpmm implements the constant-product market maker (CPMM) math for
// binary outcome pools.
//
// A pool holds a YES reserve and a NO reserve whose product k = yes * no is
// structurally stable across trades (modulo rounding and fees). Buying an
// outcome removes shares from that outcome's reserve and adds the net payment
// to the opposite reserve; selling is the mirror image.
//
// All monetary values use shopspring/decimal at the package boundary, never
// float64 for money. Internally every quantity is converted to a 256-bit
// unsigned integer (holiman/uint256) so that a*b/c is computed exactly with a
// 512-bit intermediate and always floors. Inputs must be whole numbers below
// 2^128.
package cpmm

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// BpsDenominator is the basis-point scale: 10_000 bps = 100%.
const BpsDenominator = 10_000

// Reserve ratio band (yes/no, in bps) outside which a pool counts as drifted.
const (
	MinRatioBps = 3_000  // 0.3
	MaxRatioBps = 30_000 // 3.0
)

var (
	// ErrAmountRange is returned for negative, fractional or >= 2^128 inputs.
	ErrAmountRange = errors.New("cpmm: amount must be a whole number in [0, 2^128)")

	// ErrOverflow is returned when a result does not fit the 128-bit range.
	ErrOverflow = errors.New("cpmm: arithmetic overflow")

	// ErrZeroReserve is returned when a reserve or divisor is zero.
	ErrZeroReserve = errors.New("cpmm: reserves must be positive")

	// MaxAmount is the largest representable quantity (2^128 - 1).
	MaxAmount = decimal.NewFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)), 0)

	// FeeGrowthScale is the fixed-point scale of the LP fee-growth accumulator.
	FeeGrowthScale = decimal.New(1, 18)

	// PriceScale is the number of decimal places for prices and probabilities.
	PriceScale int32 = 8

	feeGrowthScaleU = uint256.NewInt(1_000_000_000_000_000_000)
	bpsU            = uint256.NewInt(BpsDenominator)
)

// ValidAmount reports whether d is a whole number in [0, 2^128).
func ValidAmount(d decimal.Decimal) bool {
	return d.Sign() >= 0 && d.IsInteger() && d.LessThanOrEqual(MaxAmount)
}

func toU(d decimal.Decimal) (*uint256.Int, error) {
	if d.Sign() < 0 || !d.IsInteger() {
		return nil, ErrAmountRange
	}
	v, overflow := uint256.FromBig(d.BigInt())
	if overflow {
		return nil, ErrAmountRange
	}
	return v, nil
}

func fromU(v *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v.ToBig(), 0)
}

// mulDiv computes floor(x*y/d) and rejects results outside the 128-bit range.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrZeroReserve
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow || z.BitLen() > 128 {
		return nil, ErrOverflow
	}
	return z, nil
}

func convert(ds ...decimal.Decimal) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(ds))
	for i, d := range ds {
		v, err := toU(d)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// SplitSeed splits a seed deposit 50/50; the odd unit goes to NO.
func SplitSeed(seed decimal.Decimal) (yes, no decimal.Decimal) {
	yes = seed.Div(decimal.NewFromInt(2)).Floor()
	return yes, seed.Sub(yes)
}

// Product returns k = yes * no. Both inputs fit 128 bits so k always fits 256.
func Product(yes, no decimal.Decimal) (decimal.Decimal, error) {
	v, err := convert(yes, no)
	if err != nil {
		return decimal.Zero, err
	}
	return fromU(new(uint256.Int).Mul(v[0], v[1])), nil
}

// Fee returns ceil(amount * bps / 10_000). Fees round in the pool's favour,
// so any non-zero rate on a non-zero amount charges at least one unit.
func Fee(amount decimal.Decimal, bps uint32) (decimal.Decimal, error) {
	a, err := toU(amount)
	if err != nil {
		return decimal.Zero, err
	}
	prod := new(uint256.Int).Mul(a, uint256.NewInt(uint64(bps)))
	f := new(uint256.Int).Div(prod, bpsU)
	if !new(uint256.Int).Mod(prod, bpsU).IsZero() {
		f.AddUint64(f, 1)
	}
	return fromU(f), nil
}

// SharesOut computes the CPMM buy payout:
//
//	shares_out = amountNet * reserveOut / (reserveIn + amountNet)
//
// reserveOut is the reserve of the outcome being bought and reserveIn the
// reserve of the other outcome. The result is always < reserveOut.
func SharesOut(reserveIn, reserveOut, amountNet decimal.Decimal) (decimal.Decimal, error) {
	v, err := convert(reserveIn, reserveOut, amountNet)
	if err != nil {
		return decimal.Zero, err
	}
	in, out, net := v[0], v[1], v[2]
	if in.IsZero() || out.IsZero() {
		return decimal.Zero, ErrZeroReserve
	}
	denom, overflow := new(uint256.Int).AddOverflow(in, net)
	if overflow {
		return decimal.Zero, ErrOverflow
	}
	s, err := mulDiv(net, out, denom)
	if err != nil {
		return decimal.Zero, err
	}
	return fromU(s), nil
}

// SellPayout computes the gross CPMM sell payout, the inverse of SharesOut:
//
//	payout = shares * reserveOther / (reserveSold + shares)
//
// reserveSold is the reserve of the outcome being sold back into the pool.
// The result is always < reserveOther.
func SellPayout(reserveSold, reserveOther, shares decimal.Decimal) (decimal.Decimal, error) {
	return SharesOut(reserveSold, reserveOther, shares)
}

// LPMint returns floor(amount * lpSupply / totalLiquidity).
func LPMint(amount, lpSupply, totalLiquidity decimal.Decimal) (decimal.Decimal, error) {
	v, err := convert(amount, lpSupply, totalLiquidity)
	if err != nil {
		return decimal.Zero, err
	}
	m, err := mulDiv(v[0], v[1], v[2])
	if err != nil {
		return decimal.Zero, err
	}
	return fromU(m), nil
}

// ProportionalSplit splits a deposit in the current yes:no ratio so the
// deposit leaves the price unchanged; rounding remainder goes to NO.
func ProportionalSplit(amount, yes, no decimal.Decimal) (yesAdd, noAdd decimal.Decimal, err error) {
	v, err := convert(amount, yes, no)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	total, overflow := new(uint256.Int).AddOverflow(v[1], v[2])
	if overflow {
		return decimal.Zero, decimal.Zero, ErrOverflow
	}
	y, err := mulDiv(v[0], v[1], total)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	yesAdd = fromU(y)
	return yesAdd, amount.Sub(yesAdd), nil
}

// Withdrawal returns floor(lpTokens * reserve / lpSupply).
func Withdrawal(lpTokens, reserve, lpSupply decimal.Decimal) (decimal.Decimal, error) {
	return LPMint(lpTokens, reserve, lpSupply)
}

// OddsBps returns the implied probabilities in bps. The price of an outcome
// is the share of the pool held on the opposite side, so buying YES (which
// shrinks the YES reserve) raises the YES odds. yes + no == 10_000.
func OddsBps(yes, no decimal.Decimal) (yesBps, noBps uint32, err error) {
	v, err := convert(yes, no)
	if err != nil {
		return 0, 0, err
	}
	total, overflow := new(uint256.Int).AddOverflow(v[0], v[1])
	if overflow {
		return 0, 0, ErrOverflow
	}
	y, err := mulDiv(v[1], bpsU, total)
	if err != nil {
		return 0, 0, err
	}
	yesBps = uint32(y.Uint64())
	return yesBps, BpsDenominator - yesBps, nil
}

// Price returns the marginal probability of outcome o as a decimal in [0, 1].
func Price(yes, no decimal.Decimal, yesOutcome bool) decimal.Decimal {
	total := yes.Add(no)
	if total.IsZero() {
		return decimal.NewFromFloat(0.5)
	}
	if yesOutcome {
		return no.Div(total).Round(PriceScale)
	}
	return yes.Div(total).Round(PriceScale)
}

// FeeGrowthDelta returns fee * FeeGrowthScale / lpSupply, the per-LP-token
// increase of the fee accumulator when fee is collected.
func FeeGrowthDelta(fee, lpSupply decimal.Decimal) (decimal.Decimal, error) {
	v, err := convert(fee, lpSupply)
	if err != nil {
		return decimal.Zero, err
	}
	if v[1].IsZero() {
		return decimal.Zero, ErrZeroReserve
	}
	z, overflow := new(uint256.Int).MulDivOverflow(v[0], feeGrowthScaleU, v[1])
	if overflow {
		return decimal.Zero, ErrOverflow
	}
	return fromU(z), nil
}

// Checkpoint returns balance * feeGrowth, the unscaled fee debt recorded
// for an LP position when its balance changes.
func Checkpoint(balance, feeGrowth decimal.Decimal) decimal.Decimal {
	return balance.Mul(feeGrowth)
}

// Pending returns floor((balance * feeGrowth - debt) / FeeGrowthScale), the
// fees earned by an LP position since its last checkpoint. Sub-unit dust is
// dropped and stays in custody.
func Pending(balance, feeGrowth, debt decimal.Decimal) decimal.Decimal {
	p := Checkpoint(balance, feeGrowth).Sub(debt)
	if p.Sign() <= 0 {
		return decimal.Zero
	}
	return p.Div(FeeGrowthScale).Floor()
}

// Drifted reports whether yes/no lies outside [MinRatioBps, MaxRatioBps].
func Drifted(yes, no decimal.Decimal) bool {
	scaled := yes.Mul(decimal.NewFromInt(BpsDenominator))
	return scaled.LessThan(no.Mul(decimal.NewFromInt(MinRatioBps))) ||
		scaled.GreaterThan(no.Mul(decimal.NewFromInt(MaxRatioBps)))
}

// RatioBps returns yes/no expressed in bps (floor).
func RatioBps(yes, no decimal.Decimal) decimal.Decimal {
	if no.IsZero() {
		return decimal.Zero
	}
	return yes.Mul(decimal.NewFromInt(BpsDenominator)).Div(no).Floor()
}

// Rebalance re-splits yes + no so that yes/no sits on the nearest edge of the
// ratio band. The total is preserved exactly. changed is false when the pool
// is already inside the band.
func Rebalance(yes, no decimal.Decimal) (newYes, newNo decimal.Decimal, changed bool, err error) {
	if !Drifted(yes, no) {
		return yes, no, false, nil
	}
	target := uint64(MinRatioBps)
	if yes.GreaterThan(no) {
		target = MaxRatioBps
	}
	v, err := convert(yes, no)
	if err != nil {
		return decimal.Zero, decimal.Zero, false, err
	}
	total, overflow := new(uint256.Int).AddOverflow(v[0], v[1])
	if overflow {
		return decimal.Zero, decimal.Zero, false, ErrOverflow
	}
	// newYes / newNo = target / 10_000  =>  newYes = total * target / (target + 10_000)
	y, err := mulDiv(total, uint256.NewInt(target), uint256.NewInt(target+BpsDenominator))
	if err != nil {
		return decimal.Zero, decimal.Zero, false, err
	}
	// Round towards the inside of the band so the result is never drifted.
	if target == MinRatioBps {
		num := new(uint256.Int).Mul(total, uint256.NewInt(target))
		if !new(uint256.Int).Mod(num, uint256.NewInt(target+BpsDenominator)).IsZero() {
			y.AddUint64(y, 1)
		}
	}
	newYes = fromU(y)
	newNo = yes.Add(no).Sub(newYes)
	if newYes.Sign() <= 0 || newNo.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, false, ErrZeroReserve
	}
	return newYes, newNo, true, nil
}
