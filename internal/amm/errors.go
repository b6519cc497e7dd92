package amm

import "github.com/atmx/outcome-engine/internal/model"

// Authorization.
var (
	ErrUnauthorized = model.NewError(model.KindAuthorization, "amm: caller is not authorized")
)

// Validation.
var (
	ErrInvalidAmount   = model.NewError(model.KindValidation, "amm: amount must be a positive whole number")
	ErrAmountRange     = model.NewError(model.KindValidation, "amm: amount out of range")
	ErrInvalidOutcome  = model.NewError(model.KindValidation, "amm: outcome must be 0 (NO) or 1 (YES)")
	ErrInvalidMarketID = model.NewError(model.KindValidation, "amm: invalid market id")
	ErrInvalidSlippage = model.NewError(model.KindValidation, "amm: slippage tolerance must be within [10, 500] bps")
	ErrInvalidConfig   = model.NewError(model.KindValidation, "amm: invalid configuration")
)

// State conflict.
var (
	ErrPoolExists         = model.NewError(model.KindConflict, "amm: pool already exists")
	ErrMarketClosed       = model.NewError(model.KindConflict, "amm: market is not open for trading")
	ErrInsufficientShares = model.NewError(model.KindConflict, "amm: insufficient shares")
	ErrInsufficientLP     = model.NewError(model.KindConflict, "amm: insufficient LP tokens")
	ErrNothingToClaim     = model.NewError(model.KindConflict, "amm: no fees to claim")
	ErrNoDrift            = model.NewError(model.KindConflict, "amm: pool ratio is within band")
)

// Economic guard.
var (
	ErrSlippageExceeded     = model.NewError(model.KindEconomic, "amm: slippage exceeded")
	ErrAmountTooSmall       = model.NewError(model.KindEconomic, "amm: amount too small")
	ErrMaxLiquidityExceeded = model.NewError(model.KindEconomic, "amm: max liquidity exceeded")
	ErrPoolDrainForbidden   = model.NewError(model.KindEconomic, "amm: withdrawal would drain pool")
)

// Dependency absence.
var (
	ErrMissingConfig     = model.NewError(model.KindDependency, "amm: missing configuration")
	ErrMissingDependency = model.NewError(model.KindDependency, "amm: missing dependency")
	ErrAssetMismatch     = model.NewError(model.KindDependency, "amm: custodian asset does not match configuration")
)

// Not found.
var (
	ErrPoolNotFound   = model.NewError(model.KindNotFound, "amm: pool not found")
	ErrMarketNotFound = model.NewError(model.KindNotFound, "amm: market not found")
)
