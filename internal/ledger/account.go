package ledger

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeParty AccountScope = iota
	AccountScopeDeal
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Party sub-types
	SubTypeWallet AccountSubType = iota
	SubTypeReceive

	// Deal sub-types
	SubTypeFarmerVault
	SubTypeBuyerVault

	// System sub-types
	SubTypeFeeTreasury
	SubTypeInsuranceTreasury

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
	SubTypeCertIssuance
)

// AssetID maps asset symbols to numeric IDs for performance
type AssetID uint16

// AssetRegistry assigns stable numeric IDs to asset symbols. Cert
// assets are registered at runtime, so the mapping has to grow rather
// than being a compile-time table.
type AssetRegistry struct {
	mu     sync.RWMutex
	toID   map[string]AssetID
	toName map[AssetID]string
	nextID AssetID
}

func NewAssetRegistry() *AssetRegistry {
	r := &AssetRegistry{
		toID:   make(map[string]AssetID),
		toName: make(map[AssetID]string),
		nextID: 1,
	}
	// Quote currencies every deployment carries.
	r.Register("USDC")
	r.Register("USDT")
	return r
}

// Register returns the ID for a symbol, assigning one on first sight.
func (r *AssetRegistry) Register(symbol string) AssetID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.toID[symbol]; ok {
		return id
	}
	id := r.nextID
	r.nextID++
	r.toID[symbol] = id
	r.toName[id] = symbol
	return id
}

func (r *AssetRegistry) Lookup(symbol string) (AssetID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.toID[symbol]
	return id, ok
}

func (r *AssetRegistry) Name(id AssetID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.toName[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (20 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for parties, deals and markets; zero for external
	SubType  AccountSubType
	AssetID  AssetID
}

// NewPartyAccountKey creates a key for party accounts
func NewPartyAccountKey(partyID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeParty,
		EntityID: partyID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewDealAccountKey creates a key for per-deal vault accounts
func NewDealAccountKey(dealID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeDeal,
		EntityID: dealID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for per-market system accounts
func NewSystemAccountKey(marketID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: marketID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeParty:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("party:%s:%s:%d", uid.String(), k.subTypeName(), k.AssetID)
	case AccountScopeDeal:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("deal:%s:%s:%d", uid.String(), k.subTypeName(), k.AssetID)
	case AccountScopeSystem:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("system:%s:%s:%d", uid.String(), k.subTypeName(), k.AssetID)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%d", k.subTypeName(), k.AssetID)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeReceive:
		return "receive"
	case SubTypeFarmerVault:
		return "farmer_vault"
	case SubTypeBuyerVault:
		return "buyer_vault"
	case SubTypeFeeTreasury:
		return "fee_treasury"
	case SubTypeInsuranceTreasury:
		return "insurance_treasury"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	case SubTypeCertIssuance:
		return "cert_issuance"
	default:
		return "unknown"
	}
}
