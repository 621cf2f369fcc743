package query

import (
	"github.com/google/uuid"
)

// AccountBalance is one projected sub-account balance.
type AccountBalance struct {
	AccountPath string `json:"account_path"`
	AssetID     uint16 `json:"asset_id"`
	Balance     int64  `json:"balance"`
}

// PartyBalancesResponse groups all of a party's sub-accounts: wallet,
// receive, and any deal-scoped vaults the party appears in.
type PartyBalancesResponse struct {
	Party    uuid.UUID        `json:"party"`
	Accounts []AccountBalance `json:"accounts"`

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last applied event sequence
}

// TreasuryBalancesResponse reports the market-scoped system accounts.
type TreasuryBalancesResponse struct {
	MarketID     uuid.UUID        `json:"market_id"`
	Accounts     []AccountBalance `json:"accounts"`
	AsOfSequence int64            `json:"as_of_sequence"`
}
