package state

import (
	"errors"

	fpmath "CoffeeClear/internal/math"
)

// Stable error kinds surfaced by every clearing operation. Callers match
// with errors.Is; wrapping adds context without changing the kind.
var (
	// Arithmetic — all checked multiply/add/subtract failures collapse here.
	ErrMathOverflow = fpmath.ErrOverflow

	// Input validation
	ErrZeroPrice            = errors.New("zero price")
	ErrZeroQty              = errors.New("zero quantity")
	ErrZeroAmount           = errors.New("zero amount")
	ErrBadMarginParams      = errors.New("initial margin must be >= maintenance margin")
	ErrInvalidAssetBasket   = errors.New("invalid asset basket")
	ErrTooManyAssets        = errors.New("too many assets in basket")
	ErrProofTooLarge        = errors.New("proof too large")
	ErrInvalidTwapWindow    = errors.New("invalid twap window")
	ErrQtyExceedsLimit      = errors.New("deal quantity exceeds limit")
	ErrNotionalExceedsLimit = errors.New("deal notional exceeds limit")

	// Authorization
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidCounterparty = errors.New("invalid counterparty")

	// State consistency
	ErrMarketPaused                   = errors.New("market paused")
	ErrNotYetSettleTime               = errors.New("not yet settlement time")
	ErrDealAlreadySettled             = errors.New("deal already settled")
	ErrDealNotSettled                 = errors.New("deal not settled")
	ErrSettlementInFlight             = errors.New("settlement already in flight")
	ErrOverDelivery                   = errors.New("delivered quantity exceeds deal quantity")
	ErrCannotCancelAfterBothDeposited = errors.New("cannot cancel after both sides deposited")
	ErrAlreadyDeposited               = errors.New("margin already deposited")
	ErrDeadlinePassed                 = errors.New("deadline passed")
	ErrRotationNotEffective           = errors.New("rotation not yet effective")
	ErrNoPendingRotation              = errors.New("no pending rotation")
	ErrMarketNotFound                 = errors.New("market not found")
	ErrDealNotFound                   = errors.New("deal not found")
	ErrCertDecimalsMismatch           = errors.New("certificate asset decimals mismatch")
	ErrCertAssetNotRegistered         = errors.New("certificate asset not registered")

	// Oracle integrity
	ErrOracleStale       = errors.New("oracle price stale")
	ErrPriceBandExceeded = errors.New("oracle price band exceeded")
	ErrReplayOrStale     = errors.New("replayed or stale price nonce")

	// Proof
	ErrMerkleProofMissing = errors.New("merkle proof missing")
	ErrMerkleProofInvalid = errors.New("merkle proof invalid")

	// Schema
	ErrVersionMismatch = errors.New("schema version mismatch")
)
