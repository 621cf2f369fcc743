package core

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"CoffeeClear/internal/auth"
	"CoffeeClear/internal/merkle"
	"CoffeeClear/internal/state"
)

const (
	t0       = int64(1_700_000_000)
	settleTS = t0 + 86_400
	deadline = t0 + 86_400
)

type fixture struct {
	e         *ClearingEngine
	authority uuid.UUID
	verifier  uuid.UUID
	oraclePub uuid.UUID
	farmer    uuid.UUID
	buyer     uuid.UUID
	market    uuid.UUID
	persist   chan CoreOutput
}

func defaultParams() state.MarketParams {
	return state.MarketParams{
		SettlementTS:              settleTS,
		ContractSizeKg:            1000,
		InitialMarginBps:          1000, // 10%
		MaintenanceMarginBps:      500,  // 5%
		FeeBps:                    100,  // 1% of notional
		FarmerFeeBps:              4000, // shares of the fee
		BuyerFeeBps:               4000,
		InsuranceBps:              1000,
		MaxNotionalPerDeal:        10_000_000,
		MaxQtyPerDeal:             100_000,
		MaxOracleAgeSec:           0,
		TwapWindowSec:             60,
		MinTransferAmount:         10,
		DefaultMarginCallGraceSec: 3600,
	}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		authority: uuid.New(),
		verifier:  uuid.New(),
		oraclePub: uuid.New(),
		farmer:    uuid.New(),
		buyer:     uuid.New(),
		persist:   make(chan CoreOutput, 1024),
	}
	f.e = NewClearingEngine(cfg, f.persist, nil, nil, auth.NewKeyEquality(), nil)

	if err := f.e.RegisterCertAsset("COFFEE-CERT", 0, t0); err != nil {
		t.Fatalf("RegisterCertAsset: %v", err)
	}
	market, err := f.e.CreateMarket(f.authority, f.verifier, f.oraclePub, "COFFEE-CERT", "USDC", defaultParams(), t0)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	f.market = market

	f.fund(t, f.farmer, 1_000_000, "fund-farmer")
	f.fund(t, f.buyer, 1_000_000, "fund-buyer")
	return f
}

func (f *fixture) fund(t *testing.T, party uuid.UUID, amount uint64, ref string) {
	t.Helper()
	if err := f.e.Deposit(party, "USDC", amount, ref, t0); err != nil {
		t.Fatalf("Deposit %s: %v", ref, err)
	}
}

// openDeal opens a cash deal: 1000 kg at 100/kg, 10% margin = 10_000 each.
func (f *fixture) openDeal(t *testing.T, p OpenDealParams) uuid.UUID {
	t.Helper()
	if p.Market == uuid.Nil {
		p.Market = f.market
	}
	if p.Farmer == uuid.Nil {
		p.Farmer = f.farmer
	}
	if p.Buyer == uuid.Nil {
		p.Buyer = f.buyer
	}
	if p.AgreedPricePerKg == 0 {
		p.AgreedPricePerKg = 100
	}
	if p.QuantityKg == 0 {
		p.QuantityKg = 1000
	}
	if p.DeadlineTS == 0 {
		p.DeadlineTS = deadline
	}
	id, err := f.e.OpenDeal(p, t0)
	if err != nil {
		t.Fatalf("OpenDeal: %v", err)
	}
	return id
}

func (f *fixture) wallet(party uuid.UUID) int64 {
	return f.e.Balances().GetPartyWallet(party, f.e.assetID("USDC"))
}

func (f *fixture) receive(party uuid.UUID) int64 {
	return f.e.Balances().GetPartyReceive(party, f.e.assetID("USDC"))
}

func (f *fixture) farmerVault(deal uuid.UUID) int64 {
	return f.e.Balances().GetFarmerVault(deal, f.e.assetID("USDC"))
}

func (f *fixture) buyerVault(deal uuid.UUID) int64 {
	return f.e.Balances().GetBuyerVault(deal, f.e.assetID("USDC"))
}

func (f *fixture) feeTreasury() int64 {
	return f.e.Balances().GetFeeTreasury(f.market, f.e.assetID("USDC"))
}

func (f *fixture) insuranceTreasury() int64 {
	return f.e.Balances().GetInsuranceTreasury(f.market, f.e.assetID("USDC"))
}

func (f *fixture) publish(t *testing.T, price, nonce uint64, now int64) {
	t.Helper()
	if err := f.e.PublishPrice(f.oraclePub, f.market, price, nonce, now); err != nil {
		t.Fatalf("PublishPrice(%d, nonce %d): %v", price, nonce, err)
	}
}

func (f *fixture) assertConservation(t *testing.T) {
	t.Helper()
	for asset, total := range f.e.Balances().ComputeGlobalBalance() {
		if total != 0 {
			t.Fatalf("global balance for asset %d = %d, want 0", asset, total)
		}
	}
}

func TestDepositCreditsWalletAndAbsorbsRedelivery(t *testing.T) {
	f := newFixture(t, Config{})

	if got := f.wallet(f.farmer); got != 1_000_000 {
		t.Fatalf("farmer wallet = %d, want 1000000", got)
	}

	// same upstream ref redelivered: absorbed, no double credit
	if err := f.e.Deposit(f.farmer, "USDC", 1_000_000, "fund-farmer", t0+5); err != nil {
		t.Fatalf("redelivered deposit: %v", err)
	}
	if got := f.wallet(f.farmer); got != 1_000_000 {
		t.Fatalf("farmer wallet after redelivery = %d, want 1000000", got)
	}

	if err := f.e.Deposit(f.farmer, "USDC", 0, "fund-zero", t0); !errors.Is(err, state.ErrZeroAmount) {
		t.Fatalf("zero deposit: got %v, want ErrZeroAmount", err)
	}
	f.assertConservation(t)
}

func TestCreateMarketRequiresRegisteredCert(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.e.CreateMarket(f.authority, f.verifier, f.oraclePub, "UNKNOWN-CERT", "USDC", defaultParams(), t0)
	if !errors.Is(err, state.ErrCertAssetNotRegistered) {
		t.Fatalf("got %v, want ErrCertAssetNotRegistered", err)
	}
}

func TestOpenDealEscrowsBothMargins(t *testing.T) {
	f := newFixture(t, Config{})
	deal := f.openDeal(t, OpenDealParams{})

	if got := f.wallet(f.farmer); got != 990_000 {
		t.Fatalf("farmer wallet = %d, want 990000", got)
	}
	if got := f.wallet(f.buyer); got != 990_000 {
		t.Fatalf("buyer wallet = %d, want 990000", got)
	}
	if got := f.farmerVault(deal); got != 10_000 {
		t.Fatalf("farmer vault = %d, want 10000", got)
	}
	if got := f.buyerVault(deal); got != 10_000 {
		t.Fatalf("buyer vault = %d, want 10000", got)
	}
	f.assertConservation(t)
}

func TestOpenDealValidation(t *testing.T) {
	f := newFixture(t, Config{})

	if _, err := f.e.OpenDeal(OpenDealParams{Market: uuid.New(), Farmer: f.farmer, Buyer: f.buyer, AgreedPricePerKg: 100, QuantityKg: 10, DeadlineTS: deadline}, t0); !errors.Is(err, state.ErrMarketNotFound) {
		t.Fatalf("unknown market: got %v, want ErrMarketNotFound", err)
	}
	if _, err := f.e.OpenDeal(OpenDealParams{Market: f.market, Farmer: f.farmer, Buyer: f.buyer, QuantityKg: 10, DeadlineTS: deadline}, t0); !errors.Is(err, state.ErrZeroPrice) {
		t.Fatalf("zero price: got %v, want ErrZeroPrice", err)
	}
	if _, err := f.e.OpenDeal(OpenDealParams{Market: f.market, Farmer: f.farmer, Buyer: f.buyer, AgreedPricePerKg: 100, DeadlineTS: deadline}, t0); !errors.Is(err, state.ErrZeroQty) {
		t.Fatalf("zero qty: got %v, want ErrZeroQty", err)
	}
	if _, err := f.e.OpenDeal(OpenDealParams{Market: f.market, Farmer: f.farmer, Buyer: f.buyer, AgreedPricePerKg: 100, QuantityKg: 200_000, DeadlineTS: deadline}, t0); !errors.Is(err, state.ErrQtyExceedsLimit) {
		t.Fatalf("qty cap: got %v, want ErrQtyExceedsLimit", err)
	}
	if _, err := f.e.OpenDeal(OpenDealParams{Market: f.market, Farmer: f.farmer, Buyer: f.buyer, AgreedPricePerKg: 1_000_000, QuantityKg: 99_000, DeadlineTS: deadline}, t0); !errors.Is(err, state.ErrNotionalExceedsLimit) {
		t.Fatalf("notional cap: got %v, want ErrNotionalExceedsLimit", err)
	}
}

func TestCancelAfterBothFundedRefused(t *testing.T) {
	f := newFixture(t, Config{})
	deal := f.openDeal(t, OpenDealParams{})

	err := f.e.CancelDeal(f.farmer, deal, t0+10)
	if !errors.Is(err, state.ErrCannotCancelAfterBothDeposited) {
		t.Fatalf("got %v, want ErrCannotCancelAfterBothDeposited", err)
	}
}

func TestDealOpsRejectStaleMarketSchema(t *testing.T) {
	f := newFixture(t, Config{})
	open := f.openDeal(t, OpenDealParams{DeferFunding: true})
	canceled := f.openDeal(t, OpenDealParams{DeferFunding: true})
	if err := f.e.CancelDeal(f.farmer, canceled, t0+1); err != nil {
		t.Fatalf("CancelDeal: %v", err)
	}

	market, err := f.e.markets.Get(f.market)
	if err != nil {
		t.Fatalf("markets.Get: %v", err)
	}
	market.Version = state.SchemaVersion + 1

	if err := f.e.DepositMargin(f.farmer, open, t0+2); !errors.Is(err, state.ErrVersionMismatch) {
		t.Fatalf("DepositMargin: got %v, want ErrVersionMismatch", err)
	}
	if err := f.e.TopUpMargin(f.farmer, open, 100, t0+2); !errors.Is(err, state.ErrVersionMismatch) {
		t.Fatalf("TopUpMargin: got %v, want ErrVersionMismatch", err)
	}
	if err := f.e.CancelDeal(f.farmer, open, t0+2); !errors.Is(err, state.ErrVersionMismatch) {
		t.Fatalf("CancelDeal: got %v, want ErrVersionMismatch", err)
	}
	if err := f.e.CloseDeal(canceled, t0+2); !errors.Is(err, state.ErrVersionMismatch) {
		t.Fatalf("CloseDeal: got %v, want ErrVersionMismatch", err)
	}
}

func TestDeferredFundingAndCancel(t *testing.T) {
	f := newFixture(t, Config{})
	deal := f.openDeal(t, OpenDealParams{DeferFunding: true})

	// nothing escrowed at open
	if got := f.farmerVault(deal); got != 0 {
		t.Fatalf("farmer vault at open = %d, want 0", got)
	}

	if err := f.e.DepositMargin(f.farmer, deal, t0+10); err != nil {
		t.Fatalf("farmer DepositMargin: %v", err)
	}
	if got := f.farmerVault(deal); got != 10_000 {
		t.Fatalf("farmer vault = %d, want 10000", got)
	}
	if err := f.e.DepositMargin(f.farmer, deal, t0+11); !errors.Is(err, state.ErrAlreadyDeposited) {
		t.Fatalf("second deposit: got %v, want ErrAlreadyDeposited", err)
	}
	if err := f.e.DepositMargin(uuid.New(), deal, t0+12); !errors.Is(err, state.ErrInvalidCounterparty) {
		t.Fatalf("stranger deposit: got %v, want ErrInvalidCounterparty", err)
	}

	// buyer never funds; farmer walks away before the deadline
	if err := f.e.CancelDeal(f.buyer, deal, t0+100); err != nil {
		t.Fatalf("CancelDeal: %v", err)
	}
	if got := f.wallet(f.farmer); got != 1_000_000 {
		t.Fatalf("farmer wallet after refund = %d, want 1000000", got)
	}
	if got := f.farmerVault(deal); got != 0 {
		t.Fatalf("farmer vault after refund = %d, want 0", got)
	}

	// canceled deals are terminal
	if err := f.e.DepositMargin(f.buyer, deal, t0+101); !errors.Is(err, state.ErrDealAlreadySettled) {
		t.Fatalf("deposit after cancel: got %v, want ErrDealAlreadySettled", err)
	}
	if err := f.e.CancelDeal(f.farmer, deal, t0+102); !errors.Is(err, state.ErrDealAlreadySettled) {
		t.Fatalf("double cancel: got %v, want ErrDealAlreadySettled", err)
	}
	f.assertConservation(t)
}

func TestCancelAfterDeadlineRefused(t *testing.T) {
	f := newFixture(t, Config{})
	deal := f.openDeal(t, OpenDealParams{DeferFunding: true})

	err := f.e.CancelDeal(f.farmer, deal, deadline)
	if !errors.Is(err, state.ErrDeadlinePassed) {
		t.Fatalf("got %v, want ErrDeadlinePassed", err)
	}
}

func TestPublishPriceAuthNonceAndBand(t *testing.T) {
	f := newFixture(t, Config{})

	if err := f.e.PublishPrice(uuid.New(), f.market, 100, 1, t0); !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("stranger publish: got %v, want ErrUnauthorized", err)
	}

	f.publish(t, 100, 1, t0)
	f.publish(t, 110, 2, t0+10)

	// replaying an applied nonce always fails, even with the same value
	if err := f.e.PublishPrice(f.oraclePub, f.market, 110, 2, t0+11); !errors.Is(err, state.ErrReplayOrStale) {
		t.Fatalf("redelivered nonce: got %v, want ErrReplayOrStale", err)
	}
	// an applied nonce with a different price must not report success
	if err := f.e.PublishPrice(f.oraclePub, f.market, 999, 1, t0+11); !errors.Is(err, state.ErrReplayOrStale) {
		t.Fatalf("conflicting replay: got %v, want ErrReplayOrStale", err)
	}
	// authorization runs before any replay handling
	if err := f.e.PublishPrice(uuid.New(), f.market, 110, 2, t0+11); !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("stranger replay: got %v, want ErrUnauthorized", err)
	}
	// a genuinely stale nonce that was never applied is an error
	if err := f.e.PublishPrice(f.oraclePub, f.market, 111, 0, t0+12); !errors.Is(err, state.ErrReplayOrStale) {
		t.Fatalf("stale nonce: got %v, want ErrReplayOrStale", err)
	}

	// band check runs against the previous price, which lags one update:
	// after (100, 110) the reference is 100, so 126 is a >25% move
	if err := f.e.PublishPrice(f.oraclePub, f.market, 126, 3, t0+20); !errors.Is(err, state.ErrPriceBandExceeded) {
		t.Fatalf("band: got %v, want ErrPriceBandExceeded", err)
	}
	f.publish(t, 125, 3, t0+20)
}

func TestSettleCashWaterfall(t *testing.T) {
	f := newFixture(t, Config{})
	deal := f.openDeal(t, OpenDealParams{})

	f.publish(t, 100, 1, t0)
	f.publish(t, 105, 2, t0+10)

	if err := f.e.SettleCash(deal, t0+100); !errors.Is(err, state.ErrNotYetSettleTime) {
		t.Fatalf("early settle: got %v, want ErrNotYetSettleTime", err)
	}

	if err := f.e.SettleCash(deal, settleTS); err != nil {
		t.Fatalf("SettleCash: %v", err)
	}

	// notional 100_000 at 1% fee = 1000: farmer 400 + protocol 100 out of
	// the farmer vault, buyer 400 out of the buyer vault, insurance 100
	// out of the buyer vault. PnL for the long at 105 = +5000 from the
	// farmer vault. Residuals sweep clean.
	if got := f.feeTreasury(); got != 900 {
		t.Fatalf("fee treasury = %d, want 900", got)
	}
	if got := f.insuranceTreasury(); got != 100 {
		t.Fatalf("insurance treasury = %d, want 100", got)
	}
	if got := f.receive(f.buyer); got != 14_500 {
		t.Fatalf("buyer receive = %d, want 14500 (5000 pnl + 9500 residual)", got)
	}
	if got := f.receive(f.farmer); got != 4_500 {
		t.Fatalf("farmer receive = %d, want 4500", got)
	}
	if got := f.farmerVault(deal); got != 0 {
		t.Fatalf("farmer vault = %d, want 0", got)
	}
	if got := f.buyerVault(deal); got != 0 {
		t.Fatalf("buyer vault = %d, want 0", got)
	}

	if err := f.e.SettleCash(deal, settleTS+1); !errors.Is(err, state.ErrDealAlreadySettled) {
		t.Fatalf("double settle: got %v, want ErrDealAlreadySettled", err)
	}
	f.assertConservation(t)
}

func TestSettleCashShortfallRejected(t *testing.T) {
	f := newFixture(t, Config{})
	deal := f.openDeal(t, OpenDealParams{})

	// pre-fund insurance via a flat-price deal settled first
	other := f.openDeal(t, OpenDealParams{})
	f.publish(t, 100, 1, t0)
	if err := f.e.SettleCash(other, settleTS); err != nil {
		t.Fatalf("settle other: %v", err)
	}
	if got := f.insuranceTreasury(); got != 100 {
		t.Fatalf("insurance treasury = %d, want 100", got)
	}

	// long PnL 20_000 far exceeds the farmer vault; with a funded
	// insurance treasury the default policy refuses to settle
	f.publish(t, 120, 2, t0+10)

	err := f.e.SettleCash(deal, settleTS)
	if !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("shortfall: got %v, want ErrUnauthorized", err)
	}

	// the refused settlement moved nothing and left the deal retryable
	if got := f.farmerVault(deal); got != 10_000 {
		t.Fatalf("farmer vault after refusal = %d, want 10000", got)
	}
	if got := f.buyerVault(deal); got != 10_000 {
		t.Fatalf("buyer vault after refusal = %d, want 10000", got)
	}
	if err := f.e.TopUpMargin(f.farmer, deal, 1, settleTS); err != nil {
		t.Fatalf("deal should remain live after refusal: %v", err)
	}
	f.assertConservation(t)
}

func TestSettleCashShortfallDrawPolicy(t *testing.T) {
	f := newFixture(t, Config{ShortfallPolicy: ShortfallDraw})
	deal := f.openDeal(t, OpenDealParams{})

	other := f.openDeal(t, OpenDealParams{})
	f.publish(t, 100, 1, t0)
	if err := f.e.SettleCash(other, settleTS); err != nil {
		t.Fatalf("settle other: %v", err)
	}
	f.publish(t, 120, 2, t0+10)

	if err := f.e.SettleCash(deal, settleTS); err != nil {
		t.Fatalf("SettleCash with draw: %v", err)
	}

	// fees drain the vaults to 9500 each, insurance 100 comes from the
	// buyer. PnL capped at the 9500 farmer vault, then 100 drawn from
	// insurance toward the 10_500 shortfall. Buyer residual 9500 sweeps.
	if got := f.insuranceTreasury(); got != 100 {
		// 100 accrued from the first deal, 100 from this one, 100 drawn
		t.Fatalf("insurance treasury = %d, want 100", got)
	}
	wantBuyer := int64(9_500 + 100 + 9_500 + 9_500) // pnl + draw + residual + residual from other deal
	if got := f.receive(f.buyer); got != wantBuyer {
		t.Fatalf("buyer receive = %d, want %d", got, wantBuyer)
	}
	f.assertConservation(t)
}

func TestCloseDealSweepsVaultDust(t *testing.T) {
	f := newFixture(t, Config{})

	if err := f.e.CloseDeal(uuid.New(), t0); !errors.Is(err, state.ErrDealNotFound) {
		t.Fatalf("unknown deal: got %v, want ErrDealNotFound", err)
	}

	deal := f.openDeal(t, OpenDealParams{})
	if err := f.e.CloseDeal(deal, t0+1); !errors.Is(err, state.ErrDealNotSettled) {
		t.Fatalf("close live deal: got %v, want ErrDealNotSettled", err)
	}

	// a market with a high dust threshold leaves the post-settlement
	// residuals in the vaults; CloseDeal sweeps them out
	params := defaultParams()
	params.MinTransferAmount = 50_000
	dusty, err := f.e.CreateMarket(f.authority, f.verifier, f.oraclePub, "COFFEE-CERT", "USDC", params, t0)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	dustyDeal := f.openDeal(t, OpenDealParams{Market: dusty})
	if err := f.e.PublishPrice(f.oraclePub, dusty, 100, 1, t0); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := f.e.SettleCash(dustyDeal, settleTS); err != nil {
		t.Fatalf("SettleCash: %v", err)
	}

	// flat price: no PnL, fees only; residuals stayed behind
	fv := f.e.Balances().GetFarmerVault(dustyDeal, f.e.assetID("USDC"))
	bv := f.e.Balances().GetBuyerVault(dustyDeal, f.e.assetID("USDC"))
	if fv != 9_500 || bv != 9_500 {
		t.Fatalf("vaults after settle = %d/%d, want 9500/9500", fv, bv)
	}

	if err := f.e.CloseDeal(dustyDeal, settleTS+10); err != nil {
		t.Fatalf("CloseDeal: %v", err)
	}
	if got := f.e.Balances().GetFarmerVault(dustyDeal, f.e.assetID("USDC")); got != 0 {
		t.Fatalf("farmer vault after close = %d, want 0", got)
	}
	if got := f.receive(f.farmer); got != 9_500 {
		t.Fatalf("farmer receive = %d, want 9500", got)
	}
	if got := f.receive(f.buyer); got != 9_500 {
		t.Fatalf("buyer receive = %d, want 9500", got)
	}
	f.assertConservation(t)
}

func TestPhysicalDeliveryLifecycle(t *testing.T) {
	f := newFixture(t, Config{})

	leaf1 := merkle.HashLeaf([]byte("lot-1"))
	leaf2 := merkle.HashLeaf([]byte("lot-2"))
	root := merkle.Combine(leaf1, leaf2)

	deal := f.openDeal(t, OpenDealParams{
		Physical:   true,
		Basket:     []state.BasketEntry{{Asset: "COFFEE-CERT", Qty: 1000}},
		MerkleRoot: root,
	})

	proof := DeliveryProof{Leaf: &leaf1, Hashes: []merkle.Hash{leaf2}}

	if err := f.e.VerifyAndSettlePhysical(uuid.New(), deal, 400, proof, t0+10); !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("stranger delivery: got %v, want ErrUnauthorized", err)
	}
	if err := f.e.VerifyAndSettlePhysical(f.verifier, deal, 400, DeliveryProof{}, t0+10); !errors.Is(err, state.ErrMerkleProofMissing) {
		t.Fatalf("missing proof: got %v, want ErrMerkleProofMissing", err)
	}
	badLeaf := merkle.HashLeaf([]byte("lot-bogus"))
	if err := f.e.VerifyAndSettlePhysical(f.verifier, deal, 400, DeliveryProof{Leaf: &badLeaf, Hashes: []merkle.Hash{leaf2}}, t0+10); !errors.Is(err, state.ErrMerkleProofInvalid) {
		t.Fatalf("bad proof: got %v, want ErrMerkleProofInvalid", err)
	}
	huge := DeliveryProof{Leaf: &leaf1, Hashes: make([]merkle.Hash, state.MaxProofHashes+1)}
	if err := f.e.VerifyAndSettlePhysical(f.verifier, deal, 400, huge, t0+10); !errors.Is(err, state.ErrProofTooLarge) {
		t.Fatalf("oversized proof: got %v, want ErrProofTooLarge", err)
	}

	// first tranche: payout 400×100 = 40_000 capped at the 10_000 buyer
	// vault; 400 certificates minted to the buyer
	if err := f.e.VerifyAndSettlePhysical(f.verifier, deal, 400, proof, t0+20); err != nil {
		t.Fatalf("tranche 1: %v", err)
	}
	if got := f.receive(f.farmer); got != 10_000 {
		t.Fatalf("farmer receive after tranche 1 = %d, want 10000", got)
	}
	if got := f.buyerVault(deal); got != 0 {
		t.Fatalf("buyer vault after tranche 1 = %d, want 0", got)
	}
	certID := f.e.assetID("COFFEE-CERT")
	if got := f.e.Balances().GetPartyReceive(f.buyer, certID); got != 400 {
		t.Fatalf("buyer certificates = %d, want 400", got)
	}

	// over-delivery leaves the running total untouched
	if err := f.e.VerifyAndSettlePhysical(f.verifier, deal, 601, proof, t0+30); !errors.Is(err, state.ErrOverDelivery) {
		t.Fatalf("over-delivery: got %v, want ErrOverDelivery", err)
	}

	// exact fill: buyer vault is empty so the payout is zero, the farmer
	// vault residual sweeps, and the deal terminates
	if err := f.e.VerifyAndSettlePhysical(f.verifier, deal, 600, proof, t0+40); err != nil {
		t.Fatalf("tranche 2: %v", err)
	}
	if got := f.e.Balances().GetPartyReceive(f.buyer, certID); got != 1000 {
		t.Fatalf("buyer certificates = %d, want 1000", got)
	}
	if got := f.receive(f.farmer); got != 20_000 {
		t.Fatalf("farmer receive after completion = %d, want 20000", got)
	}
	if got := f.farmerVault(deal); got != 0 {
		t.Fatalf("farmer vault after completion = %d, want 0", got)
	}

	if err := f.e.VerifyAndSettlePhysical(f.verifier, deal, 1, proof, t0+50); !errors.Is(err, state.ErrDealAlreadySettled) {
		t.Fatalf("delivery after completion: got %v, want ErrDealAlreadySettled", err)
	}
	f.assertConservation(t)
}

func TestPhysicalDeliveryWithoutRootSkipsProof(t *testing.T) {
	f := newFixture(t, Config{})

	deal := f.openDeal(t, OpenDealParams{Physical: true})

	// no Merkle root on the deal: the verifier's signature is the gate
	if err := f.e.VerifyAndSettlePhysical(f.verifier, deal, 1000, DeliveryProof{}, t0+10); err != nil {
		t.Fatalf("delivery without root: %v", err)
	}
	// no cert asset in the basket: nothing minted
	if got := f.e.Balances().GetPartyReceive(f.buyer, f.e.assetID("COFFEE-CERT")); got != 0 {
		t.Fatalf("buyer certificates = %d, want 0", got)
	}
	if got := f.receive(f.farmer); got != 20_000 {
		// 10_000 payout (capped at buyer vault) + 10_000 residual
		t.Fatalf("farmer receive = %d, want 20000", got)
	}
	f.assertConservation(t)
}

func TestMarkToMarketCallPersistsUntilSettlement(t *testing.T) {
	f := newFixture(t, Config{})
	deal := f.openDeal(t, OpenDealParams{})

	f.publish(t, 100, 1, t0)
	res, err := f.e.MarkToMarket(deal, t0+10)
	if err != nil {
		t.Fatalf("MarkToMarket: %v", err)
	}
	if !res.FarmerOK || !res.BuyerOK || res.CallArmed {
		t.Fatalf("healthy deal flagged: %+v", res)
	}

	// 250/kg puts maintenance at 12_500, above both 10_000 vaults
	f.publish(t, 250, 2, t0+20)
	res, err = f.e.MarkToMarket(deal, t0+30)
	if err != nil {
		t.Fatalf("MarkToMarket: %v", err)
	}
	if !res.CallArmed || res.FarmerOK || res.BuyerOK {
		t.Fatalf("expected auto margin call: %+v", res)
	}
	if res.Maintenance != 12_500 {
		t.Fatalf("maintenance = %d, want 12500", res.Maintenance)
	}

	// inside the grace window nothing moves
	res, err = f.e.MarkToMarket(deal, t0+40)
	if err != nil {
		t.Fatalf("MarkToMarket: %v", err)
	}
	if res.CallArmed || res.Liquidated {
		t.Fatalf("in-grace check should be a no-op: %+v", res)
	}

	// one-sided top-up leaves the farmer short
	if err := f.e.TopUpMargin(f.buyer, deal, 5_000, t0+50); err != nil {
		t.Fatalf("buyer top-up: %v", err)
	}
	res, err = f.e.MarkToMarket(deal, t0+60)
	if err != nil {
		t.Fatalf("MarkToMarket: %v", err)
	}
	if res.FarmerOK || res.Liquidated {
		t.Fatalf("farmer still short inside grace: %+v", res)
	}

	// both sides restored: healthy again, but the call is not rescinded
	if err := f.e.TopUpMargin(f.farmer, deal, 5_000, t0+70); err != nil {
		t.Fatalf("farmer top-up: %v", err)
	}
	res, err = f.e.MarkToMarket(deal, t0+80)
	if err != nil {
		t.Fatalf("MarkToMarket: %v", err)
	}
	if !res.FarmerOK || !res.BuyerOK || res.CallArmed || res.Liquidated {
		t.Fatalf("expected healthy after top-ups: %+v", res)
	}

	// a fresh shortfall past the original grace end liquidates at once:
	// the recovery above never stopped the grace clock
	f.publish(t, 125, 3, t0+90)
	f.publish(t, 310, 4, t0+100) // maintenance 15_500, above both 15_000 vaults
	res, err = f.e.MarkToMarket(deal, t0+30+3600)
	if err != nil {
		t.Fatalf("MarkToMarket: %v", err)
	}
	if !res.Liquidated || res.CallArmed {
		t.Fatalf("expected immediate liquidation after grace end: %+v", res)
	}
	f.assertConservation(t)
}

func TestMarkToMarketLiquidatesAfterGrace(t *testing.T) {
	f := newFixture(t, Config{})
	deal := f.openDeal(t, OpenDealParams{})

	f.publish(t, 100, 1, t0)
	f.publish(t, 250, 2, t0+20)

	res, err := f.e.MarkToMarket(deal, t0+30)
	if err != nil {
		t.Fatalf("MarkToMarket: %v", err)
	}
	if !res.CallArmed {
		t.Fatalf("expected call armed: %+v", res)
	}

	// default grace is 3600s; one second short stays in grace
	res, err = f.e.MarkToMarket(deal, t0+30+3599)
	if err != nil {
		t.Fatalf("MarkToMarket: %v", err)
	}
	if res.Liquidated {
		t.Fatalf("liquidated inside grace window")
	}

	res, err = f.e.MarkToMarket(deal, t0+30+3600)
	if err != nil {
		t.Fatalf("MarkToMarket: %v", err)
	}
	if !res.Liquidated {
		t.Fatalf("expected liquidation after grace: %+v", res)
	}
}

func TestManualMarginCallRequiresAuthority(t *testing.T) {
	f := newFixture(t, Config{})
	deal := f.openDeal(t, OpenDealParams{})

	if err := f.e.MarginCall(f.farmer, deal, 600, t0+10); !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("non-authority call: got %v, want ErrUnauthorized", err)
	}
	if err := f.e.MarginCall(f.authority, deal, 600, t0+10); err != nil {
		t.Fatalf("authority call: %v", err)
	}
}

func TestOracleRotationTimelock(t *testing.T) {
	f := newFixture(t, Config{})
	newOracle := uuid.New()
	effective := t0 + 7200

	if err := f.e.ProposeRotateOracle(f.farmer, f.market, newOracle, effective, t0); !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("non-authority propose: got %v, want ErrUnauthorized", err)
	}
	if err := f.e.ProposeRotateOracle(f.authority, f.market, newOracle, effective, t0); err != nil {
		t.Fatalf("propose: %v", err)
	}

	if err := f.e.ActivateRotateOracle(f.market, effective-1); !errors.Is(err, state.ErrRotationNotEffective) {
		t.Fatalf("early activate: got %v, want ErrRotationNotEffective", err)
	}
	if err := f.e.ActivateRotateOracle(f.market, effective); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := f.e.ActivateRotateOracle(f.market, effective+1); !errors.Is(err, state.ErrNoPendingRotation) {
		t.Fatalf("double activate: got %v, want ErrNoPendingRotation", err)
	}

	// publishing authority has moved
	if err := f.e.PublishPrice(f.oraclePub, f.market, 100, 1, effective+10); !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("old oracle publish: got %v, want ErrUnauthorized", err)
	}
	if err := f.e.PublishPrice(newOracle, f.market, 100, 1, effective+10); err != nil {
		t.Fatalf("new oracle publish: %v", err)
	}
}

func TestHashChainLinksEnvelopes(t *testing.T) {
	f := newFixture(t, Config{})
	f.openDeal(t, OpenDealParams{})

	var outputs []CoreOutput
	for {
		select {
		case out := <-f.persist:
			outputs = append(outputs, out)
			continue
		default:
		}
		break
	}
	if len(outputs) < 4 {
		t.Fatalf("expected at least 4 envelopes, got %d", len(outputs))
	}

	for i, out := range outputs {
		env := out.Envelope
		if env.Sequence != int64(i) {
			t.Fatalf("envelope %d has sequence %d", i, env.Sequence)
		}
		if env.StateHash == env.PrevHash {
			t.Fatalf("envelope %d: state hash equals prev hash", i)
		}
		if i > 0 && env.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Fatalf("envelope %d prev hash does not chain", i)
		}
	}
}

func TestTopUpValidation(t *testing.T) {
	f := newFixture(t, Config{})
	deal := f.openDeal(t, OpenDealParams{})

	if err := f.e.TopUpMargin(f.farmer, deal, 0, t0+1); !errors.Is(err, state.ErrZeroAmount) {
		t.Fatalf("zero top-up: got %v, want ErrZeroAmount", err)
	}
	if err := f.e.TopUpMargin(uuid.New(), deal, 100, t0+1); !errors.Is(err, state.ErrInvalidCounterparty) {
		t.Fatalf("stranger top-up: got %v, want ErrInvalidCounterparty", err)
	}
	if err := f.e.TopUpMargin(f.farmer, deal, 100, t0+1); err != nil {
		t.Fatalf("top-up: %v", err)
	}
	if got := f.farmerVault(deal); got != 10_100 {
		t.Fatalf("farmer vault = %d, want 10100", got)
	}
}
