// internal/event/risk.go
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// MarginCalled marks a deal whose losing side slipped below maintenance.
// The grace clock starts at CalledTS.
type MarginCalled struct {
	Market    uuid.UUID
	Deal      uuid.UUID
	Party     uuid.UUID
	Shortfall uint64
	CalledTS  int64
	GraceSec  uint32
	MarkPrice uint64
}

func (m *MarginCalled) IdempotencyKey() string {
	return fmt.Sprintf("%s:margin_call:%d", m.Deal, m.CalledTS)
}

func (m *MarginCalled) EventType() EventType {
	return EventTypeMarginCalled
}

func (m *MarginCalled) MarketID() uuid.UUID {
	return m.Market
}

func (m *MarginCalled) DealID() uuid.UUID {
	return m.Deal
}

// LiquidationFlagged marks a deal whose grace window expired unmet.
// The flag is advisory: settlement itself still runs the normal waterfall.
type LiquidationFlagged struct {
	Market    uuid.UUID
	Deal      uuid.UUID
	Party     uuid.UUID
	FlaggedTS int64
	MarkPrice uint64
}

func (l *LiquidationFlagged) IdempotencyKey() string {
	return fmt.Sprintf("%s:liquidation:%d", l.Deal, l.FlaggedTS)
}

func (l *LiquidationFlagged) EventType() EventType {
	return EventTypeLiquidationFlagged
}

func (l *LiquidationFlagged) MarketID() uuid.UUID {
	return l.Market
}

func (l *LiquidationFlagged) DealID() uuid.UUID {
	return l.Deal
}
