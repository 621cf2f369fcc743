// internal/event/deal.go
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// DealOpened records a bilateral deal with both margins escrowed.
type DealOpened struct {
	Market           uuid.UUID
	Deal             uuid.UUID
	Farmer           uuid.UUID
	Buyer            uuid.UUID
	AgreedPricePerKg uint64
	QuantityKg       uint64
	MarginEach       uint64
	Physical         bool
	DeadlineTS       int64
}

func (d *DealOpened) IdempotencyKey() string {
	return fmt.Sprintf("deal:%s", d.Deal)
}

func (d *DealOpened) EventType() EventType {
	return EventTypeDealOpened
}

func (d *DealOpened) MarketID() uuid.UUID {
	return d.Market
}

func (d *DealOpened) DealID() uuid.UUID {
	return d.Deal
}

// MarginDeposited records one party's initial escrow arriving in its vault.
type MarginDeposited struct {
	Market uuid.UUID
	Deal   uuid.UUID
	Party  uuid.UUID
	Amount uint64
}

func (m *MarginDeposited) IdempotencyKey() string {
	return fmt.Sprintf("%s:deposit:%s", m.Deal, m.Party)
}

func (m *MarginDeposited) EventType() EventType {
	return EventTypeMarginDeposited
}

func (m *MarginDeposited) MarketID() uuid.UUID {
	return m.Market
}

func (m *MarginDeposited) DealID() uuid.UUID {
	return m.Deal
}

// MarginToppedUp records additional margin posted to one side's vault.
type MarginToppedUp struct {
	Market  uuid.UUID
	Deal    uuid.UUID
	Party   uuid.UUID
	Amount  uint64
	TopUpTS int64
}

func (m *MarginToppedUp) IdempotencyKey() string {
	return fmt.Sprintf("%s:topup:%s:%d", m.Deal, m.Party, m.TopUpTS)
}

func (m *MarginToppedUp) EventType() EventType {
	return EventTypeMarginToppedUp
}

func (m *MarginToppedUp) MarketID() uuid.UUID {
	return m.Market
}

func (m *MarginToppedUp) DealID() uuid.UUID {
	return m.Deal
}

// DealCanceled records a pre-funding cancellation with refunds.
type DealCanceled struct {
	Market       uuid.UUID
	Deal         uuid.UUID
	CanceledBy   uuid.UUID
	FarmerRefund uint64
	BuyerRefund  uint64
}

func (d *DealCanceled) IdempotencyKey() string {
	return fmt.Sprintf("%s:cancel", d.Deal)
}

func (d *DealCanceled) EventType() EventType {
	return EventTypeDealCanceled
}

func (d *DealCanceled) MarketID() uuid.UUID {
	return d.Market
}

func (d *DealCanceled) DealID() uuid.UUID {
	return d.Deal
}

// DealClosed records the final teardown of a settled deal.
type DealClosed struct {
	Market uuid.UUID
	Deal   uuid.UUID
}

func (d *DealClosed) IdempotencyKey() string {
	return fmt.Sprintf("%s:close", d.Deal)
}

func (d *DealClosed) EventType() EventType {
	return EventTypeDealClosed
}

func (d *DealClosed) MarketID() uuid.UUID {
	return d.Market
}

func (d *DealClosed) DealID() uuid.UUID {
	return d.Deal
}
