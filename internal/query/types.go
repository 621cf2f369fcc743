package query

import "github.com/google/uuid"

// DealResponse represents projected deal state for API queries.
type DealResponse struct {
	DealID           uuid.UUID `json:"deal_id"`
	MarketID         uuid.UUID `json:"market_id"`
	Farmer           uuid.UUID `json:"farmer"`
	Buyer            uuid.UUID `json:"buyer"`
	AgreedPricePerKg int64     `json:"agreed_price_per_kg"`
	QuantityKg       int64     `json:"quantity_kg"`
	MarginEach       int64     `json:"margin_each"`
	Physical         bool      `json:"physical"`
	DeadlineTS       int64     `json:"deadline_ts"`
	Status           string    `json:"status"`
	DeliveredKgTotal int64     `json:"delivered_kg_total"`
	SettlePrice      *int64    `json:"settle_price,omitempty"`
	MarginCallTS     *int64    `json:"margin_call_ts,omitempty"`
	SettledTS        *int64    `json:"settled_ts,omitempty"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// PricePoint represents one accepted oracle price for API queries.
type PricePoint struct {
	MarketID     uuid.UUID `json:"market_id"`
	Nonce        int64     `json:"nonce"`
	PricePerKg   int64     `json:"price_per_kg"`
	TwapTimeAcc  int64     `json:"twap_time_acc"`
	PublishedTS  int64     `json:"published_ts"`
	Sequence     int64     `json:"sequence"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// EventResponse represents a persisted event for API queries.
type EventResponse struct {
	Sequence       int64   `json:"sequence"`
	EventType      string  `json:"event_type"`
	IdempotencyKey string  `json:"idempotency_key"`
	MarketID       *string `json:"market_id,omitempty"`
	DealID         *string `json:"deal_id,omitempty"`
	Payload        string  `json:"payload"`
	StateHash      string  `json:"state_hash"`
	PrevHash       string  `json:"prev_hash"`
	Timestamp      int64   `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
