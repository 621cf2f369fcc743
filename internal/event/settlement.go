// internal/event/settlement.go
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// CashSettled records the full cash waterfall of a deal: fees, insurance
// accrual, PnL transfer (with any insurance draw), and residual sweep.
type CashSettled struct {
	Market         uuid.UUID
	Deal           uuid.UUID
	SettlePrice    uint64
	FarmerFee      uint64
	BuyerFee       uint64
	ProtocolFee    uint64
	InsuranceAccr  uint64
	PnL            uint64
	PnLToFarmer    bool
	InsuranceDraw  uint64
	FarmerResidual uint64
	BuyerResidual  uint64
	SettledTS      int64
}

func (c *CashSettled) IdempotencyKey() string {
	return fmt.Sprintf("%s:settle_cash", c.Deal)
}

func (c *CashSettled) EventType() EventType {
	return EventTypeCashSettled
}

func (c *CashSettled) MarketID() uuid.UUID {
	return c.Market
}

func (c *CashSettled) DealID() uuid.UUID {
	return c.Deal
}

// PhysicalSettled records one verified partial delivery: proof accepted,
// payout released, certificates minted, and whether the fill completed
// the deal.
type PhysicalSettled struct {
	Market           uuid.UUID
	Deal             uuid.UUID
	DeliveredKg      uint64
	DeliveredTotalKg uint64
	Payout           uint64
	CertMinted       uint64
	Completed        bool
	FarmerResidual   uint64
	BuyerResidual    uint64
	SettledTS        int64
}

func (p *PhysicalSettled) IdempotencyKey() string {
	return fmt.Sprintf("%s:delivery:%d", p.Deal, p.DeliveredTotalKg)
}

func (p *PhysicalSettled) EventType() EventType {
	return EventTypePhysicalSettled
}

func (p *PhysicalSettled) MarketID() uuid.UUID {
	return p.Market
}

func (p *PhysicalSettled) DealID() uuid.UUID {
	return p.Deal
}
