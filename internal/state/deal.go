package state

import (
	"github.com/google/uuid"

	"CoffeeClear/internal/merkle"
)

const (
	// MaxBasketAssets caps the per-deal delivery basket.
	MaxBasketAssets = 4

	// MaxProofHashes caps the Merkle proof length accepted on delivery.
	MaxProofHashes = 16
)

// SettlementPhase is the deal's settlement state machine. Settling is the
// single-writer reentrancy guard: a settlement or delivery operation refuses
// entry while another is in flight, and PhaseSettled is terminal.
type SettlementPhase uint8

const (
	PhaseIdle SettlementPhase = iota
	PhaseSettling
	PhaseSettled
)

func (p SettlementPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSettling:
		return "settling"
	case PhaseSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// BasketEntry is one (asset, quantity) pair in a deal's delivery basket.
type BasketEntry struct {
	Asset string
	Qty   uint64
}

// Deal is a single bilateral forward contract: farmer short, buyer long.
type Deal struct {
	ID      uuid.UUID
	Version uint8

	MarketID uuid.UUID
	Farmer   uuid.UUID
	Buyer    uuid.UUID

	AgreedPricePerKg  uint64
	QuantityKg        uint64
	InitialMarginEach uint64

	PhysicalDelivery bool
	DeliveredKgTotal uint64
	Liquidated       bool
	Phase            SettlementPhase
	FarmerDeposited  bool
	BuyerDeposited   bool

	DeadlineTS         int64
	MarginCallTS       int64
	MarginCallGraceSec uint64

	Referrer    uuid.UUID
	FeeSplitBps uint16

	Basket     []BasketEntry
	MerkleRoot merkle.Hash
}

// ValidateBasket checks basket shape at deal opening.
func ValidateBasket(basket []BasketEntry) error {
	if len(basket) > MaxBasketAssets {
		return ErrTooManyAssets
	}
	for _, e := range basket {
		if e.Asset == "" {
			return ErrInvalidAssetBasket
		}
	}
	return nil
}

// Settled reports whether the deal reached its terminal state.
func (d *Deal) Settled() bool {
	return d.Phase == PhaseSettled
}

// VersionGuard rejects operations against a record written by a different
// schema version.
func (d *Deal) VersionGuard() error {
	if d.Version != SchemaVersion {
		return ErrVersionMismatch
	}
	return nil
}

// StartSettling arms the reentrancy guard. Fails if a settlement is already
// in flight or the deal is terminal.
func (d *Deal) StartSettling() error {
	switch d.Phase {
	case PhaseSettled:
		return ErrDealAlreadySettled
	case PhaseSettling:
		return ErrSettlementInFlight
	}
	d.Phase = PhaseSettling
	return nil
}

// AbortSettling clears the guard after a failed settlement attempt so the
// caller can retry. Terminal state is never rolled back.
func (d *Deal) AbortSettling() {
	if d.Phase == PhaseSettling {
		d.Phase = PhaseIdle
	}
}

// MarkSettled is the terminal transition: settled is monotonic and the
// settling guard is cleared with it.
func (d *Deal) MarkSettled() {
	d.Phase = PhaseSettled
}

// IsCounterparty reports whether who is one of the two named parties.
func (d *Deal) IsCounterparty(who uuid.UUID) bool {
	return who == d.Farmer || who == d.Buyer
}

// HasCertAsset reports whether the basket lists the given certificate asset.
func (d *Deal) HasCertAsset(asset string) bool {
	for _, e := range d.Basket {
		if e.Asset == asset {
			return true
		}
	}
	return false
}
