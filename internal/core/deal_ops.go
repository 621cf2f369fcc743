package core

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"CoffeeClear/internal/event"
	"CoffeeClear/internal/ledger"
	fpmath "CoffeeClear/internal/math"
	"CoffeeClear/internal/merkle"
	"CoffeeClear/internal/state"
)

// OpenDealParams carries the negotiated terms of a bilateral deal.
type OpenDealParams struct {
	Market           uuid.UUID
	Farmer           uuid.UUID
	Buyer            uuid.UUID
	AgreedPricePerKg uint64
	QuantityKg       uint64
	Physical         bool
	DeadlineTS       int64
	Basket           []state.BasketEntry
	MerkleRoot       merkle.Hash
	Referrer         uuid.UUID
	FeeSplitBps      uint16

	// DeferFunding creates the deal without moving margin; each party
	// then calls DepositMargin separately. The default (immediate) path
	// escrows both margins atomically with deal creation.
	DeferFunding bool
}

// OpenDeal validates terms, creates the deal record, and (unless funding
// is deferred) escrows both initial margins. All validation runs before
// any funds move.
func (e *ClearingEngine) OpenDeal(p OpenDealParams, now int64) (uuid.UUID, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.EventTypeDealOpened.String()

	market, err := e.markets.Get(p.Market)
	if err != nil {
		return uuid.Nil, e.reject(op, err)
	}
	if err := market.VersionGuard(); err != nil {
		return uuid.Nil, e.reject(op, err)
	}
	if market.Paused {
		return uuid.Nil, e.reject(op, state.ErrMarketPaused)
	}
	if p.AgreedPricePerKg == 0 {
		return uuid.Nil, e.reject(op, state.ErrZeroPrice)
	}
	if p.QuantityKg == 0 {
		return uuid.Nil, e.reject(op, state.ErrZeroQty)
	}
	if err := state.ValidateBasket(p.Basket); err != nil {
		return uuid.Nil, e.reject(op, err)
	}
	if p.QuantityKg > market.MaxQtyPerDeal {
		return uuid.Nil, e.reject(op, state.ErrQtyExceedsLimit)
	}

	notional := fpmath.MulWide(p.AgreedPricePerKg, p.QuantityKg)
	if notional.Cmp(new(big.Int).SetUint64(market.MaxNotionalPerDeal)) > 0 {
		return uuid.Nil, e.reject(op, state.ErrNotionalExceedsLimit)
	}

	margin, err := fpmath.NarrowToU64(fpmath.BpsMulWide(notional, market.InitialMarginBps))
	if err != nil {
		return uuid.Nil, e.reject(op, err)
	}

	id := uuid.New()
	deal := &state.Deal{
		ID:                id,
		Version:           state.SchemaVersion,
		MarketID:          p.Market,
		Farmer:            p.Farmer,
		Buyer:             p.Buyer,
		AgreedPricePerKg:  p.AgreedPricePerKg,
		QuantityKg:        p.QuantityKg,
		InitialMarginEach: margin,
		PhysicalDelivery:  p.Physical,
		DeadlineTS:        p.DeadlineTS,
		Referrer:          p.Referrer,
		FeeSplitBps:       p.FeeSplitBps,
		Basket:            append([]state.BasketEntry(nil), p.Basket...),
		MerkleRoot:        p.MerkleRoot,
	}

	var batch *ledger.Batch
	if !p.DeferFunding {
		marginAmt, err := toLedgerAmount(margin)
		if err != nil {
			return uuid.Nil, e.reject(op, err)
		}
		quote := e.assetID(market.QuoteAsset)
		batch, err = e.journalGen.GenerateBatch("deal:"+id.String(), now, []ledger.Leg{
			{
				From:   ledger.NewPartyAccountKey(p.Farmer, ledger.SubTypeWallet, quote),
				To:     ledger.NewDealAccountKey(id, ledger.SubTypeFarmerVault, quote),
				Amount: marginAmt,
				Type:   ledger.JournalTypeMarginDeposit,
			},
			{
				From:   ledger.NewPartyAccountKey(p.Buyer, ledger.SubTypeWallet, quote),
				To:     ledger.NewDealAccountKey(id, ledger.SubTypeBuyerVault, quote),
				Amount: marginAmt,
				Type:   ledger.JournalTypeMarginDeposit,
			},
		})
		if err != nil {
			return uuid.Nil, e.reject(op, err)
		}
		deal.FarmerDeposited = true
		deal.BuyerDeposited = true
	}

	e.deals.Put(deal)

	evt := &event.DealOpened{
		Market:           p.Market,
		Deal:             id,
		Farmer:           p.Farmer,
		Buyer:            p.Buyer,
		AgreedPricePerKg: p.AgreedPricePerKg,
		QuantityKg:       p.QuantityKg,
		MarginEach:       margin,
		Physical:         p.Physical,
		DeadlineTS:       p.DeadlineTS,
	}
	e.commit(evt, batch, now, start)

	if e.metrics != nil {
		e.metrics.DealsOpened.WithLabelValues(p.Market.String()).Inc()
	}
	return id, nil
}

// DepositMargin escrows the caller's initial margin on a deferred-funding
// deal. Each side deposits exactly once.
func (e *ClearingEngine) DepositMargin(caller, dealID uuid.UUID, now int64) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.EventTypeMarginDeposited.String()

	deal, release, err := e.deals.Acquire(dealID)
	if err != nil {
		return e.reject(op, err)
	}
	defer release()

	if err := deal.VersionGuard(); err != nil {
		return e.reject(op, err)
	}
	if deal.Settled() {
		return e.reject(op, state.ErrDealAlreadySettled)
	}
	if !deal.IsCounterparty(caller) {
		return e.reject(op, state.ErrInvalidCounterparty)
	}

	market, err := e.markets.Get(deal.MarketID)
	if err != nil {
		return e.reject(op, err)
	}
	if err := market.VersionGuard(); err != nil {
		return e.reject(op, err)
	}

	vault := ledger.SubTypeFarmerVault
	alreadyDeposited := deal.FarmerDeposited
	if caller == deal.Buyer {
		vault = ledger.SubTypeBuyerVault
		alreadyDeposited = deal.BuyerDeposited
	}
	if alreadyDeposited {
		return e.reject(op, state.ErrAlreadyDeposited)
	}

	amt, err := toLedgerAmount(deal.InitialMarginEach)
	if err != nil {
		return e.reject(op, err)
	}
	batch, err := e.journalGen.GenerateMarginDeposit(
		dealID, caller, vault, "deposit:"+dealID.String()+":"+caller.String(),
		amt, e.assetID(market.QuoteAsset), now, false,
	)
	if err != nil {
		return e.reject(op, err)
	}

	if caller == deal.Farmer {
		deal.FarmerDeposited = true
	} else {
		deal.BuyerDeposited = true
	}

	evt := &event.MarginDeposited{Market: deal.MarketID, Deal: dealID, Party: caller, Amount: deal.InitialMarginEach}
	e.commit(evt, batch, now, start)
	return nil
}

// TopUpMargin adds margin to the caller's vault. An active margin call
// stays armed even when the top-up restores both vaults above
// maintenance; the grace clock is only stopped by settlement.
func (e *ClearingEngine) TopUpMargin(caller, dealID uuid.UUID, amount uint64, now int64) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.EventTypeMarginToppedUp.String()

	deal, release, err := e.deals.Acquire(dealID)
	if err != nil {
		return e.reject(op, err)
	}
	defer release()

	if err := deal.VersionGuard(); err != nil {
		return e.reject(op, err)
	}
	if deal.Settled() {
		return e.reject(op, state.ErrDealAlreadySettled)
	}
	if amount == 0 {
		return e.reject(op, state.ErrZeroAmount)
	}
	if !deal.IsCounterparty(caller) {
		return e.reject(op, state.ErrInvalidCounterparty)
	}

	market, err := e.markets.Get(deal.MarketID)
	if err != nil {
		return e.reject(op, err)
	}
	if err := market.VersionGuard(); err != nil {
		return e.reject(op, err)
	}

	vault := ledger.SubTypeFarmerVault
	if caller == deal.Buyer {
		vault = ledger.SubTypeBuyerVault
	}

	amt, err := toLedgerAmount(amount)
	if err != nil {
		return e.reject(op, err)
	}
	batch, err := e.journalGen.GenerateMarginDeposit(
		dealID, caller, vault, "topup:"+dealID.String()+":"+caller.String(),
		amt, e.assetID(market.QuoteAsset), now, true,
	)
	if err != nil {
		return e.reject(op, err)
	}

	evt := &event.MarginToppedUp{Market: deal.MarketID, Deal: dealID, Party: caller, Amount: amount, TopUpTS: now}
	e.commit(evt, batch, now, start)
	return nil
}

// CancelDeal unwinds a deal whose funding never completed. Refunds both
// vaults in full and terminates the deal.
func (e *ClearingEngine) CancelDeal(caller, dealID uuid.UUID, now int64) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.EventTypeDealCanceled.String()

	deal, release, err := e.deals.Acquire(dealID)
	if err != nil {
		return e.reject(op, err)
	}
	defer release()

	if err := deal.VersionGuard(); err != nil {
		return e.reject(op, err)
	}
	if deal.Settled() {
		return e.reject(op, state.ErrDealAlreadySettled)
	}
	if !deal.IsCounterparty(caller) {
		return e.reject(op, state.ErrInvalidCounterparty)
	}
	if deal.FarmerDeposited && deal.BuyerDeposited {
		return e.reject(op, state.ErrCannotCancelAfterBothDeposited)
	}
	if now >= deal.DeadlineTS {
		return e.reject(op, state.ErrDeadlinePassed)
	}

	market, err := e.markets.Get(deal.MarketID)
	if err != nil {
		return e.reject(op, err)
	}
	if err := market.VersionGuard(); err != nil {
		return e.reject(op, err)
	}
	quote := e.assetID(market.QuoteAsset)

	fv := e.balanceTracker.GetFarmerVault(dealID, quote)
	bv := e.balanceTracker.GetBuyerVault(dealID, quote)

	var legs []ledger.Leg
	if fv > 0 {
		legs = append(legs, ledger.RefundLeg(dealID, deal.Farmer, ledger.SubTypeFarmerVault, fv, quote))
	}
	if bv > 0 {
		legs = append(legs, ledger.RefundLeg(dealID, deal.Buyer, ledger.SubTypeBuyerVault, bv, quote))
	}

	var batch *ledger.Batch
	if len(legs) > 0 {
		batch, err = e.journalGen.GenerateBatch("cancel:"+dealID.String(), now, legs)
		if err != nil {
			return e.reject(op, err)
		}
	}

	evt := &event.DealCanceled{
		Market:       deal.MarketID,
		Deal:         dealID,
		CanceledBy:   caller,
		FarmerRefund: uint64(fv),
		BuyerRefund:  uint64(bv),
	}

	deal.MarkSettled()
	e.commit(evt, batch, now, start)

	if e.metrics != nil {
		e.metrics.DealsCanceled.WithLabelValues(deal.MarketID.String()).Inc()
	}
	return nil
}

// CloseDeal tears down a settled deal, sweeping any vault dust left below
// the residual threshold out to the parties.
func (e *ClearingEngine) CloseDeal(dealID uuid.UUID, now int64) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.EventTypeDealClosed.String()

	deal, release, err := e.deals.Acquire(dealID)
	if err != nil {
		return e.reject(op, err)
	}
	defer release()

	if err := deal.VersionGuard(); err != nil {
		return e.reject(op, err)
	}
	if !deal.Settled() {
		return e.reject(op, state.ErrDealNotSettled)
	}

	market, err := e.markets.Get(deal.MarketID)
	if err != nil {
		return e.reject(op, err)
	}
	if err := market.VersionGuard(); err != nil {
		return e.reject(op, err)
	}
	quote := e.assetID(market.QuoteAsset)

	var legs []ledger.Leg
	if fv := e.balanceTracker.GetFarmerVault(dealID, quote); fv > 0 {
		legs = append(legs, ledger.Leg{
			From:   ledger.NewDealAccountKey(dealID, ledger.SubTypeFarmerVault, quote),
			To:     ledger.NewPartyAccountKey(deal.Farmer, ledger.SubTypeReceive, quote),
			Amount: fv,
			Type:   ledger.JournalTypeResidualSweep,
		})
	}
	if bv := e.balanceTracker.GetBuyerVault(dealID, quote); bv > 0 {
		legs = append(legs, ledger.Leg{
			From:   ledger.NewDealAccountKey(dealID, ledger.SubTypeBuyerVault, quote),
			To:     ledger.NewPartyAccountKey(deal.Buyer, ledger.SubTypeReceive, quote),
			Amount: bv,
			Type:   ledger.JournalTypeResidualSweep,
		})
	}

	var batch *ledger.Batch
	if len(legs) > 0 {
		batch, err = e.journalGen.GenerateBatch("close:"+dealID.String(), now, legs)
		if err != nil {
			return e.reject(op, err)
		}
	}

	evt := &event.DealClosed{Market: deal.MarketID, Deal: dealID}
	e.commit(evt, batch, now, start)
	return nil
}

// maintenanceRequired computes the maintenance margin per vault at the
// market's current effective price.
func (e *ClearingEngine) maintenanceRequired(market *state.Market, deal *state.Deal) (int64, error) {
	price, err := e.effectivePrice(market)
	if err != nil {
		return 0, err
	}
	notionalNow := fpmath.MulWide(price, deal.QuantityKg)
	maint, err := fpmath.NarrowToU64(fpmath.BpsMulWide(notionalNow, market.MaintenanceMarginBps))
	if err != nil {
		return 0, err
	}
	return toLedgerAmount(maint)
}
