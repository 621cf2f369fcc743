// internal/event/market.go
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// CertAssetRegistered records a delivery certificate asset joining the registry.
type CertAssetRegistered struct {
	Asset    string
	Decimals uint8
}

func (c *CertAssetRegistered) IdempotencyKey() string {
	return fmt.Sprintf("cert:%s", c.Asset)
}

func (c *CertAssetRegistered) EventType() EventType {
	return EventTypeCertAssetRegistered
}

func (c *CertAssetRegistered) MarketID() uuid.UUID {
	return uuid.Nil // Global event
}

func (c *CertAssetRegistered) DealID() uuid.UUID {
	return uuid.Nil
}

// MarketCreated records a new market with its full parameter set.
type MarketCreated struct {
	Market          uuid.UUID
	Authority       uuid.UUID
	Verifier        uuid.UUID
	OraclePublisher uuid.UUID
	CertAsset       string
	QuoteAsset      string
	SettlementTS    int64
	ContractSizeKg  uint64
}

func (m *MarketCreated) IdempotencyKey() string {
	return fmt.Sprintf("market:%s", m.Market)
}

func (m *MarketCreated) EventType() EventType {
	return EventTypeMarketCreated
}

func (m *MarketCreated) MarketID() uuid.UUID {
	return m.Market
}

func (m *MarketCreated) DealID() uuid.UUID {
	return uuid.Nil
}

// PricePublished records an accepted oracle price update.
// Idempotency key: "{market}:{nonce}" — unique per accepted publish, used
// for the durable-log unique index. Replay rejection itself comes from the
// nonce check, not from dedup.
type PricePublished struct {
	Market      uuid.UUID
	PricePerKg  uint64
	Nonce       uint64
	PublishedTS int64
	TwapTimeAcc uint64
}

func (p *PricePublished) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", p.Market, p.Nonce)
}

func (p *PricePublished) EventType() EventType {
	return EventTypePricePublished
}

func (p *PricePublished) MarketID() uuid.UUID {
	return p.Market
}

func (p *PricePublished) DealID() uuid.UUID {
	return uuid.Nil
}

// OracleRotationProposed starts the rotation timelock.
type OracleRotationProposed struct {
	Market      uuid.UUID
	NewOracle   uuid.UUID
	EffectiveTS int64
}

func (o *OracleRotationProposed) IdempotencyKey() string {
	return fmt.Sprintf("%s:rotate:%s:%d", o.Market, o.NewOracle, o.EffectiveTS)
}

func (o *OracleRotationProposed) EventType() EventType {
	return EventTypeOracleRotationProposed
}

func (o *OracleRotationProposed) MarketID() uuid.UUID {
	return o.Market
}

func (o *OracleRotationProposed) DealID() uuid.UUID {
	return uuid.Nil
}

// OracleRotationActivated completes a matured rotation.
type OracleRotationActivated struct {
	Market    uuid.UUID
	OldOracle uuid.UUID
	NewOracle uuid.UUID
}

func (o *OracleRotationActivated) IdempotencyKey() string {
	return fmt.Sprintf("%s:rotated:%s", o.Market, o.NewOracle)
}

func (o *OracleRotationActivated) EventType() EventType {
	return EventTypeOracleRotationActivated
}

func (o *OracleRotationActivated) MarketID() uuid.UUID {
	return o.Market
}

func (o *OracleRotationActivated) DealID() uuid.UUID {
	return uuid.Nil
}
