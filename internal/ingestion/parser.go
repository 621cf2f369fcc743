package ingestion

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"CoffeeClear/internal/merkle"
)

// Command kinds carried over JetStream.
const (
	KindPriceSubmission = "PriceSubmission"
	KindDepositNotice   = "DepositNotice"
	KindDeliveryReport  = "DeliveryReport"
)

// Command is one validated inbound message, ready for the dispatcher to
// apply to the clearing engine.
type Command interface {
	CommandKind() string
}

// PriceSubmission is an oracle publisher's signed price update.
type PriceSubmission struct {
	Publisher   uuid.UUID
	Market      uuid.UUID
	PricePerKg  uint64
	Nonce       uint64
	PublishedTS int64
}

func (PriceSubmission) CommandKind() string { return KindPriceSubmission }

// DepositNotice reports a confirmed custody transfer into a party wallet.
// Ref is the upstream payment identifier and dedups redeliveries.
type DepositNotice struct {
	Party      uuid.UUID
	Asset      string
	Amount     uint64
	Ref        string
	ObservedTS int64
}

func (DepositNotice) CommandKind() string { return KindDepositNotice }

// DeliveryReport is a warehouse verifier's attestation of one delivery
// tranche, with the Merkle material proving basket eligibility.
type DeliveryReport struct {
	Verifier    uuid.UUID
	Deal        uuid.UUID
	DeliveredKg uint64
	Leaf        *merkle.Hash
	Proof       []merkle.Hash
	ReportedTS  int64
}

func (DeliveryReport) CommandKind() string { return KindDeliveryReport }

// ParseRawCommand converts a RawCommand (JSON bytes + kind) into a typed
// Command. The shell validates and parses before anything reaches the
// deterministic core.
func ParseRawCommand(raw RawCommand) (Command, error) {
	switch raw.Kind {
	case KindPriceSubmission:
		return parsePriceSubmission(raw.Data)
	case KindDepositNotice:
		return parseDepositNotice(raw.Data)
	case KindDeliveryReport:
		return parseDeliveryReport(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command kind: %s", raw.Kind)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type priceSubmissionJSON struct {
	Publisher   string `json:"publisher"`
	Market      string `json:"market"`
	PricePerKg  uint64 `json:"price_per_kg"`
	Nonce       uint64 `json:"nonce"`
	PublishedTS int64  `json:"published_ts"`
}

func parsePriceSubmission(data []byte) (*PriceSubmission, error) {
	var j priceSubmissionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceSubmission: %w", err)
	}
	publisher, err := uuid.Parse(j.Publisher)
	if err != nil {
		return nil, fmt.Errorf("parse publisher: %w", err)
	}
	market, err := uuid.Parse(j.Market)
	if err != nil {
		return nil, fmt.Errorf("parse market: %w", err)
	}
	return &PriceSubmission{
		Publisher:   publisher,
		Market:      market,
		PricePerKg:  j.PricePerKg,
		Nonce:       j.Nonce,
		PublishedTS: j.PublishedTS,
	}, nil
}

type depositNoticeJSON struct {
	Party      string `json:"party"`
	Asset      string `json:"asset"`
	Amount     uint64 `json:"amount"`
	Ref        string `json:"ref"`
	ObservedTS int64  `json:"observed_ts"`
}

func parseDepositNotice(data []byte) (*DepositNotice, error) {
	var j depositNoticeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositNotice: %w", err)
	}
	party, err := uuid.Parse(j.Party)
	if err != nil {
		return nil, fmt.Errorf("parse party: %w", err)
	}
	if j.Ref == "" {
		return nil, fmt.Errorf("parse DepositNotice: empty ref")
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("parse DepositNotice: empty asset")
	}
	return &DepositNotice{
		Party:      party,
		Asset:      j.Asset,
		Amount:     j.Amount,
		Ref:        j.Ref,
		ObservedTS: j.ObservedTS,
	}, nil
}

type deliveryReportJSON struct {
	Verifier    string   `json:"verifier"`
	Deal        string   `json:"deal"`
	DeliveredKg uint64   `json:"delivered_kg"`
	Leaf        string   `json:"leaf,omitempty"`
	Proof       []string `json:"proof,omitempty"`
	ReportedTS  int64    `json:"reported_ts"`
}

func parseDeliveryReport(data []byte) (*DeliveryReport, error) {
	var j deliveryReportJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DeliveryReport: %w", err)
	}
	verifier, err := uuid.Parse(j.Verifier)
	if err != nil {
		return nil, fmt.Errorf("parse verifier: %w", err)
	}
	deal, err := uuid.Parse(j.Deal)
	if err != nil {
		return nil, fmt.Errorf("parse deal: %w", err)
	}

	report := &DeliveryReport{
		Verifier:    verifier,
		Deal:        deal,
		DeliveredKg: j.DeliveredKg,
		ReportedTS:  j.ReportedTS,
	}

	if j.Leaf != "" {
		leaf, err := parseHash(j.Leaf)
		if err != nil {
			return nil, fmt.Errorf("parse leaf: %w", err)
		}
		report.Leaf = &leaf
	}
	for i, p := range j.Proof {
		h, err := parseHash(p)
		if err != nil {
			return nil, fmt.Errorf("parse proof[%d]: %w", i, err)
		}
		report.Proof = append(report.Proof, h)
	}

	return report, nil
}

func parseHash(s string) (merkle.Hash, error) {
	var h merkle.Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}
