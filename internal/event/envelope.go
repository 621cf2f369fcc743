package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeWalletFunded
	EventTypeCertAssetRegistered
	EventTypeMarketCreated
	EventTypePricePublished
	EventTypeDealOpened
	EventTypeMarginDeposited
	EventTypeMarginToppedUp
	EventTypeMarginCalled
	EventTypeLiquidationFlagged
	EventTypeCashSettled
	EventTypePhysicalSettled
	EventTypeDealCanceled
	EventTypeDealClosed
	EventTypeOracleRotationProposed
	EventTypeOracleRotationActivated
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Market context (uuid.Nil for global events)
	MarketID uuid.UUID

	// Deal context (uuid.Nil for market-level events)
	DealID uuid.UUID

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// MarketID returns the market context (uuid.Nil for global events)
	MarketID() uuid.UUID

	// DealID returns the deal context (uuid.Nil for market-level events)
	DealID() uuid.UUID
}

func (et EventType) String() string {
	switch et {
	case EventTypeWalletFunded:
		return "WalletFunded"
	case EventTypeCertAssetRegistered:
		return "CertAssetRegistered"
	case EventTypeMarketCreated:
		return "MarketCreated"
	case EventTypePricePublished:
		return "PricePublished"
	case EventTypeDealOpened:
		return "DealOpened"
	case EventTypeMarginDeposited:
		return "MarginDeposited"
	case EventTypeMarginToppedUp:
		return "MarginToppedUp"
	case EventTypeMarginCalled:
		return "MarginCalled"
	case EventTypeLiquidationFlagged:
		return "LiquidationFlagged"
	case EventTypeCashSettled:
		return "CashSettled"
	case EventTypePhysicalSettled:
		return "PhysicalSettled"
	case EventTypeDealCanceled:
		return "DealCanceled"
	case EventTypeDealClosed:
		return "DealClosed"
	case EventTypeOracleRotationProposed:
		return "OracleRotationProposed"
	case EventTypeOracleRotationActivated:
		return "OracleRotationActivated"
	default:
		return "Unknown"
	}
}

// Subject returns the NATS routing token for the event type.
func (et EventType) Subject() string {
	switch et {
	case EventTypeWalletFunded:
		return "wallet_funded"
	case EventTypeCertAssetRegistered:
		return "cert_registered"
	case EventTypeMarketCreated:
		return "market_created"
	case EventTypePricePublished:
		return "price_published"
	case EventTypeDealOpened:
		return "deal_opened"
	case EventTypeMarginDeposited:
		return "margin_deposited"
	case EventTypeMarginToppedUp:
		return "margin_topped_up"
	case EventTypeMarginCalled:
		return "margin_called"
	case EventTypeLiquidationFlagged:
		return "liquidation_flagged"
	case EventTypeCashSettled:
		return "settled_cash"
	case EventTypePhysicalSettled:
		return "settled_physical"
	case EventTypeDealCanceled:
		return "deal_canceled"
	case EventTypeDealClosed:
		return "deal_closed"
	case EventTypeOracleRotationProposed:
		return "rotation_proposed"
	case EventTypeOracleRotationActivated:
		return "rotation_activated"
	default:
		return "unknown"
	}
}
