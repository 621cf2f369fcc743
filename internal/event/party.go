// internal/event/party.go
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// WalletFunded records an external deposit landing in a party wallet.
// The reference string comes from the upstream payment rail and is the
// dedup key for redeliveries.
type WalletFunded struct {
	Party  uuid.UUID
	Asset  string
	Amount uint64
	Ref    string
}

func (w *WalletFunded) IdempotencyKey() string {
	return fmt.Sprintf("fund:%s", w.Ref)
}

func (w *WalletFunded) EventType() EventType {
	return EventTypeWalletFunded
}

func (w *WalletFunded) MarketID() uuid.UUID {
	return uuid.Nil
}

func (w *WalletFunded) DealID() uuid.UUID {
	return uuid.Nil
}
