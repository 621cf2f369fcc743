package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Leg is one computed movement of a multi-leg settlement batch. The
// clearing core decides the amounts; the generator only turns legs
// into balanced journals.
type Leg struct {
	From   AccountKey
	To     AccountKey
	Amount int64
	Type   JournalType
}

// JournalGenerator creates balanced journal batches from clearing operations
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// Sequence returns the next sequence number the generator will assign.
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

// Reset repositions the sequence counter, used when rebuilding from a replay.
func (jg *JournalGenerator) Reset(sequence int64) {
	jg.sequence = sequence
}

// GenerateDeposit creates journals for an external deposit arriving in a
// party wallet. Moves funds: external:deposits → party:wallet
func (jg *JournalGenerator) GenerateDeposit(
	partyID uuid.UUID,
	eventRef string,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive: %d", amount)
	}

	leg := Leg{
		From:   NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		To:     NewPartyAccountKey(partyID, SubTypeWallet, assetID),
		Amount: amount,
		Type:   JournalTypeDeposit,
	}
	return jg.GenerateBatch(eventRef, timestamp, []Leg{leg})
}

// GenerateMarginDeposit locks a party's wallet funds into a deal vault.
// Pre-check: the wallet must cover the amount.
func (jg *JournalGenerator) GenerateMarginDeposit(
	dealID uuid.UUID,
	partyID uuid.UUID,
	vault AccountSubType,
	eventRef string,
	amount int64,
	assetID AssetID,
	timestamp int64,
	topUp bool,
) (*Batch, error) {
	wallet := NewPartyAccountKey(partyID, SubTypeWallet, assetID)
	if err := jg.balanceTracker.ValidateSufficient(wallet, amount); err != nil {
		return nil, fmt.Errorf("margin pre-check failed: %w", err)
	}

	jt := JournalTypeMarginDeposit
	if topUp {
		jt = JournalTypeMarginTopUp
	}
	leg := Leg{
		From:   wallet,
		To:     NewDealAccountKey(dealID, vault, assetID),
		Amount: amount,
		Type:   jt,
	}
	return jg.GenerateBatch(eventRef, timestamp, []Leg{leg})
}

// RefundLeg returns a vault balance to a party wallet (cancel path).
// Callers append it into a larger batch so both sides of a deal unwind
// atomically.
func RefundLeg(dealID, partyID uuid.UUID, vault AccountSubType, amount int64, assetID AssetID) Leg {
	return Leg{
		From:   NewDealAccountKey(dealID, vault, assetID),
		To:     NewPartyAccountKey(partyID, SubTypeWallet, assetID),
		Amount: amount,
		Type:   JournalTypeRefund,
	}
}

// CertMintLeg issues certificate tokens into a party's receive account.
// The issuance boundary account is the source, so the books stay
// zero-sum even though supply grows.
func CertMintLeg(partyID uuid.UUID, amount int64, certAssetID AssetID) Leg {
	return Leg{
		From:   NewExternalAccountKey(SubTypeCertIssuance, certAssetID),
		To:     NewPartyAccountKey(partyID, SubTypeReceive, certAssetID),
		Amount: amount,
		Type:   JournalTypeCertMint,
	}
}

// GenerateBatch turns a computed leg list into one balanced batch.
// Zero-amount legs are skipped so callers can pass the full waterfall
// without filtering. Every non-external source account is pre-checked
// against the running balance as legs apply in order, so a batch that
// would overdraw a vault mid-waterfall is refused before any leg lands.
func (jg *JournalGenerator) GenerateBatch(eventRef string, timestamp int64, legs []Leg) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(legs)),
	}

	running := make(map[AccountKey]int64)
	for _, leg := range legs {
		if leg.Amount == 0 {
			continue
		}
		if leg.Amount < 0 {
			return nil, fmt.Errorf("leg amount must be non-negative: %d", leg.Amount)
		}

		if leg.From.Scope != AccountScopeExternal {
			have := jg.balanceTracker.GetBalance(leg.From) + running[leg.From]
			if have < leg.Amount {
				return nil, fmt.Errorf("leg pre-check failed on %s: have=%d, need=%d",
					leg.From.AccountPath(), have, leg.Amount)
			}
		}
		running[leg.From] -= leg.Amount
		running[leg.To] += leg.Amount

		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  leg.To,
			CreditAccount: leg.From,
			AssetID:       leg.From.AssetID,
			Amount:        leg.Amount,
			JournalType:   leg.Type,
			Timestamp:     timestamp,
		})
	}

	if len(batch.Journals) == 0 {
		return nil, fmt.Errorf("batch %s has no non-zero legs", eventRef)
	}

	jg.sequence++
	return batch, nil
}
