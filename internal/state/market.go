package state

import (
	"math/big"

	"github.com/google/uuid"
)

// SchemaVersion is stamped into every Market and Deal record at creation and
// checked on every operation.
const SchemaVersion uint8 = 1

const (
	// MinTwapWindowSec is the smallest accepted TWAP window.
	MinTwapWindowSec uint64 = 1

	// MaxPriceDeltaBps caps the relative move between consecutive oracle
	// prices (2500 bps = 25%).
	MaxPriceDeltaBps uint64 = 2_500
)

// PriceMode selects the effective settlement price source.
type PriceMode uint8

const (
	PriceModeLast PriceMode = 0
	PriceModeTWAP PriceMode = 1
)

// MarketParams is the admin-supplied parameter set for CreateMarket.
type MarketParams struct {
	SettlementTS              int64
	ContractSizeKg            uint64
	InitialMarginBps          uint16
	MaintenanceMarginBps      uint16
	FeeBps                    uint16
	FarmerFeeBps              uint16
	BuyerFeeBps               uint16
	InsuranceBps              uint16
	MaxNotionalPerDeal        uint64
	MaxQtyPerDeal             uint64
	MaxOracleAgeSec           uint64
	TwapWindowSec             uint64
	MinTransferAmount         uint64
	DefaultMarginCallGraceSec uint64
}

// Market is one contract series sharing settlement date, commodity, and risk
// parameters. Created once by the series authority, mutated by price
// publication and role rotation, never destroyed.
type Market struct {
	ID      uuid.UUID
	Version uint8

	Authority       uuid.UUID
	Verifier        uuid.UUID
	OraclePublisher uuid.UUID

	// pending oracle rotation; zero PendingOracle means none
	PendingOracle            uuid.UUID
	PendingOracleEffectiveTS int64

	CertAsset  string // delivery certificate, minted 1:1 with verified kg
	QuoteAsset string

	SettlementTS   int64
	ContractSizeKg uint64

	InitialMarginBps          uint16
	MaintenanceMarginBps      uint16
	FeeBps                    uint16
	FarmerFeeBps              uint16
	BuyerFeeBps               uint16
	InsuranceBps              uint16
	DefaultMarginCallGraceSec uint64

	MaxNotionalPerDeal uint64
	MaxQtyPerDeal      uint64

	LastPricePerKg     uint64
	PrevPricePerKg     uint64
	LastPriceNonce     uint64
	LastOracleUpdateTS int64
	MaxOracleAgeSec    uint64

	// TWAP accumulator: TwapAcc = Σ(price × seconds), TwapTimeAcc = Σ(seconds),
	// clamped to TwapWindowSec by proportional rescale.
	TwapAcc       *big.Int
	TwapTimeAcc   uint64
	TwapWindowSec uint64
	PriceMode     PriceMode

	Paused            bool
	MinTransferAmount uint64
}

// NewMarket validates params and builds a Market record.
func NewMarket(id, authority, verifier, oraclePublisher uuid.UUID, certAsset, quoteAsset string, p MarketParams) (*Market, error) {
	if p.InitialMarginBps < p.MaintenanceMarginBps {
		return nil, ErrBadMarginParams
	}
	if p.ContractSizeKg == 0 {
		return nil, ErrZeroQty
	}
	if p.TwapWindowSec < MinTwapWindowSec {
		return nil, ErrInvalidTwapWindow
	}

	return &Market{
		ID:                        id,
		Version:                   SchemaVersion,
		Authority:                 authority,
		Verifier:                  verifier,
		OraclePublisher:           oraclePublisher,
		CertAsset:                 certAsset,
		QuoteAsset:                quoteAsset,
		SettlementTS:              p.SettlementTS,
		ContractSizeKg:            p.ContractSizeKg,
		InitialMarginBps:          p.InitialMarginBps,
		MaintenanceMarginBps:      p.MaintenanceMarginBps,
		FeeBps:                    p.FeeBps,
		FarmerFeeBps:              p.FarmerFeeBps,
		BuyerFeeBps:               p.BuyerFeeBps,
		InsuranceBps:              p.InsuranceBps,
		DefaultMarginCallGraceSec: p.DefaultMarginCallGraceSec,
		MaxNotionalPerDeal:        p.MaxNotionalPerDeal,
		MaxQtyPerDeal:             p.MaxQtyPerDeal,
		MaxOracleAgeSec:           p.MaxOracleAgeSec,
		TwapAcc:                   new(big.Int),
		TwapWindowSec:             p.TwapWindowSec,
		PriceMode:                 PriceModeLast,
		MinTransferAmount:         p.MinTransferAmount,
	}, nil
}

// VersionGuard rejects operations against a record written by a different
// schema version.
func (m *Market) VersionGuard() error {
	if m.Version != SchemaVersion {
		return ErrVersionMismatch
	}
	return nil
}

// ProposeOracleRotation records a pending oracle publisher. Proposing again
// overwrites the prior proposal; there is no rollback operation.
func (m *Market) ProposeOracleRotation(newOracle uuid.UUID, effectiveAfterTS int64) {
	m.PendingOracle = newOracle
	m.PendingOracleEffectiveTS = effectiveAfterTS
}

// ActivateOracleRotation swaps the active publisher once the timelock has
// elapsed and clears the pending fields.
func (m *Market) ActivateOracleRotation(now int64) (uuid.UUID, error) {
	if m.PendingOracle == uuid.Nil {
		return uuid.Nil, ErrNoPendingRotation
	}
	if now < m.PendingOracleEffectiveTS {
		return uuid.Nil, ErrRotationNotEffective
	}
	m.OraclePublisher = m.PendingOracle
	m.PendingOracle = uuid.Nil
	m.PendingOracleEffectiveTS = 0
	return m.OraclePublisher, nil
}
