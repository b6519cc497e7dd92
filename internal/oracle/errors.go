package oracle

import "github.com/atmx/outcome-engine/internal/model"

// Authorization.
var (
	ErrUnauthorized  = model.NewError(model.KindAuthorization, "oracle: caller is not authorized")
	ErrNotRegistered = model.NewError(model.KindAuthorization, "oracle: oracle is not registered")
)

// Validation.
var (
	ErrInvalidOracle         = model.NewError(model.KindValidation, "oracle: oracle id must not be empty")
	ErrInvalidMarketID       = model.NewError(model.KindValidation, "oracle: invalid market id")
	ErrInvalidOutcome        = model.NewError(model.KindValidation, "oracle: outcome must be 0 (NO) or 1 (YES)")
	ErrInvalidDataHash       = model.NewError(model.KindValidation, "oracle: data hash must be 32 hex-encoded bytes")
	ErrInvalidThreshold      = model.NewError(model.KindValidation, "oracle: threshold must be between 1 and the number of active oracles")
	ErrInvalidResolutionTime = model.NewError(model.KindValidation, "oracle: resolution time must be set")
	ErrInvalidConfig         = model.NewError(model.KindValidation, "oracle: invalid configuration")
)

// State conflict.
var (
	ErrAlreadyRegistered    = model.NewError(model.KindConflict, "oracle: oracle already registered")
	ErrLimitReached         = model.NewError(model.KindConflict, "oracle: oracle limit reached")
	ErrTooEarly             = model.NewError(model.KindConflict, "oracle: resolution time not reached")
	ErrDuplicateAttestation = model.NewError(model.KindConflict, "oracle: duplicate attestation")
)

// Dependency absence.
var (
	ErrMissingConfig     = model.NewError(model.KindDependency, "oracle: missing configuration")
	ErrMissingDependency = model.NewError(model.KindDependency, "oracle: missing dependency")
)

// Not found.
var (
	ErrMarketNotRegistered = model.NewError(model.KindNotFound, "oracle: market not registered")
	ErrOracleNotFound      = model.NewError(model.KindNotFound, "oracle: oracle not found")
	ErrAttestationNotFound = model.NewError(model.KindNotFound, "oracle: attestation not found")
)
