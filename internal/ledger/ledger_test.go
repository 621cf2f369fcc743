package ledger

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestAssetRegistry_AssignsStableIDs(t *testing.T) {
	r := NewAssetRegistry()

	usdc, ok := r.Lookup("USDC")
	if !ok {
		t.Fatal("USDC should be pre-registered")
	}

	cft := r.Register("CFT-BRZ-24")
	if cft == usdc {
		t.Error("distinct symbols must get distinct IDs")
	}
	if again := r.Register("CFT-BRZ-24"); again != cft {
		t.Errorf("re-register changed ID: %d != %d", again, cft)
	}

	name, ok := r.Name(cft)
	if !ok || name != "CFT-BRZ-24" {
		t.Errorf("reverse lookup: got %q, want CFT-BRZ-24", name)
	}
}

func TestGenerateDeposit_CreditsWallet(t *testing.T) {
	tracker := NewBalanceTracker()
	gen := NewJournalGenerator(1, tracker)
	party := uuid.New()

	batch, err := gen.GenerateDeposit(party, "dep-1", 1_000, 1, 100)
	if err != nil {
		t.Fatalf("GenerateDeposit: %v", err)
	}
	if err := tracker.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	if got := tracker.GetPartyWallet(party, 1); got != 1_000 {
		t.Errorf("wallet: got %d, want 1000", got)
	}
	if got := tracker.GetBalance(NewExternalAccountKey(SubTypeExternalDeposits, 1)); got != -1_000 {
		t.Errorf("external deposits: got %d, want -1000", got)
	}
}

func TestGenerateMarginDeposit_InsufficientWallet(t *testing.T) {
	tracker := NewBalanceTracker()
	gen := NewJournalGenerator(1, tracker)
	party := uuid.New()
	deal := uuid.New()

	_, err := gen.GenerateMarginDeposit(deal, party, SubTypeFarmerVault, "m-1", 500, 1, 100, false)
	if err == nil {
		t.Fatal("empty wallet should fail the margin pre-check")
	}
	if !strings.Contains(err.Error(), "insufficient") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGenerateMarginDeposit_MovesWalletToVault(t *testing.T) {
	tracker := NewBalanceTracker()
	gen := NewJournalGenerator(1, tracker)
	party := uuid.New()
	deal := uuid.New()

	dep, _ := gen.GenerateDeposit(party, "dep-1", 1_000, 1, 100)
	if err := tracker.ApplyBatch(dep); err != nil {
		t.Fatalf("apply deposit: %v", err)
	}

	batch, err := gen.GenerateMarginDeposit(deal, party, SubTypeBuyerVault, "m-1", 600, 1, 101, false)
	if err != nil {
		t.Fatalf("GenerateMarginDeposit: %v", err)
	}
	if err := tracker.ApplyBatch(batch); err != nil {
		t.Fatalf("apply margin: %v", err)
	}

	if got := tracker.GetPartyWallet(party, 1); got != 400 {
		t.Errorf("wallet: got %d, want 400", got)
	}
	if got := tracker.GetBuyerVault(deal, 1); got != 600 {
		t.Errorf("buyer vault: got %d, want 600", got)
	}
}

func TestGenerateBatch_RunningBalancePreCheck(t *testing.T) {
	tracker := NewBalanceTracker()
	gen := NewJournalGenerator(1, tracker)
	party := uuid.New()
	deal := uuid.New()
	market := uuid.New()

	dep, _ := gen.GenerateDeposit(party, "dep-1", 100, 1, 100)
	_ = tracker.ApplyBatch(dep)
	margin, _ := gen.GenerateMarginDeposit(deal, party, SubTypeFarmerVault, "m-1", 100, 1, 100, false)
	_ = tracker.ApplyBatch(margin)

	vault := NewDealAccountKey(deal, SubTypeFarmerVault, 1)
	fees := NewSystemAccountKey(market, SubTypeFeeTreasury, 1)
	receive := NewPartyAccountKey(party, SubTypeReceive, 1)

	// Two legs from the same vault: 60 then 50 overdraws mid-batch.
	_, err := gen.GenerateBatch("s-1", 101, []Leg{
		{From: vault, To: fees, Amount: 60, Type: JournalTypeFee},
		{From: vault, To: receive, Amount: 50, Type: JournalTypePnLPayout},
	})
	if err == nil {
		t.Fatal("overdrawing batch should be refused")
	}

	// 60 then 40 exactly drains the vault.
	batch, err := gen.GenerateBatch("s-2", 101, []Leg{
		{From: vault, To: fees, Amount: 60, Type: JournalTypeFee},
		{From: vault, To: receive, Amount: 40, Type: JournalTypePnLPayout},
	})
	if err != nil {
		t.Fatalf("exact-drain batch: %v", err)
	}
	if err := tracker.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := tracker.GetBalance(vault); got != 0 {
		t.Errorf("vault after drain: got %d, want 0", got)
	}
}

func TestGenerateBatch_SkipsZeroLegs(t *testing.T) {
	tracker := NewBalanceTracker()
	gen := NewJournalGenerator(1, tracker)
	party := uuid.New()

	batch, err := gen.GenerateBatch("z-1", 100, []Leg{
		{From: NewExternalAccountKey(SubTypeExternalDeposits, 1), To: NewPartyAccountKey(party, SubTypeWallet, 1), Amount: 0, Type: JournalTypeDeposit},
		{From: NewExternalAccountKey(SubTypeExternalDeposits, 1), To: NewPartyAccountKey(party, SubTypeWallet, 1), Amount: 10, Type: JournalTypeDeposit},
	})
	if err != nil {
		t.Fatalf("GenerateBatch: %v", err)
	}
	if len(batch.Journals) != 1 {
		t.Errorf("journals: got %d, want 1 (zero leg skipped)", len(batch.Journals))
	}

	if _, err := gen.GenerateBatch("z-2", 100, []Leg{
		{From: NewExternalAccountKey(SubTypeExternalDeposits, 1), To: NewPartyAccountKey(party, SubTypeWallet, 1), Amount: 0, Type: JournalTypeDeposit},
	}); err == nil {
		t.Error("all-zero batch should be refused")
	}
}

func TestCertMintLeg_ZeroSum(t *testing.T) {
	tracker := NewBalanceTracker()
	gen := NewJournalGenerator(1, tracker)
	buyer := uuid.New()

	batch, err := gen.GenerateBatch("mint-1", 100, []Leg{CertMintLeg(buyer, 250, 7)})
	if err != nil {
		t.Fatalf("mint batch: %v", err)
	}
	_ = tracker.ApplyBatch(batch)

	if got := tracker.GetPartyReceive(buyer, 7); got != 250 {
		t.Errorf("receive: got %d, want 250", got)
	}

	v := NewInvariantValidator(tracker)
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("mint broke zero-sum: %v", err)
	}
}

func TestBatchValidate_RejectsMalformed(t *testing.T) {
	id := uuid.New()
	key1 := NewPartyAccountKey(uuid.New(), SubTypeWallet, 1)
	key2 := NewPartyAccountKey(uuid.New(), SubTypeWallet, 1)

	empty := &Batch{BatchID: id}
	if err := empty.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}

	selfTransfer := &Batch{BatchID: id, Journals: []Journal{{
		JournalID: uuid.New(), BatchID: id, DebitAccount: key1, CreditAccount: key1, Amount: 10,
	}}}
	if err := selfTransfer.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}

	negative := &Batch{BatchID: id, Journals: []Journal{{
		JournalID: uuid.New(), BatchID: id, DebitAccount: key1, CreditAccount: key2, Amount: -5,
	}}}
	if err := negative.Validate(); err == nil {
		t.Error("negative amount should fail validation")
	}
}

func TestInvariantValidator_VaultsDrained(t *testing.T) {
	tracker := NewBalanceTracker()
	gen := NewJournalGenerator(1, tracker)
	party := uuid.New()
	deal := uuid.New()

	dep, _ := gen.GenerateDeposit(party, "dep-1", 100, 1, 100)
	_ = tracker.ApplyBatch(dep)
	margin, _ := gen.GenerateMarginDeposit(deal, party, SubTypeFarmerVault, "m-1", 100, 1, 100, false)
	_ = tracker.ApplyBatch(margin)

	v := NewInvariantValidator(tracker)
	if err := v.ValidateVaultsDrained(deal, 1); err == nil {
		t.Error("funded vault should not report drained")
	}

	refund, err := gen.GenerateBatch("r-1", 101, []Leg{RefundLeg(deal, party, SubTypeFarmerVault, 100, 1)})
	if err != nil {
		t.Fatalf("refund batch: %v", err)
	}
	_ = tracker.ApplyBatch(refund)

	if err := v.ValidateVaultsDrained(deal, 1); err != nil {
		t.Errorf("drained vaults: %v", err)
	}
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("global balance: %v", err)
	}
}
