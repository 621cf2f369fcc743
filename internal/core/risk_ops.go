package core

import (
	"time"

	"github.com/google/uuid"

	"CoffeeClear/internal/auth"
	"CoffeeClear/internal/event"
	"CoffeeClear/internal/oracle"
	"CoffeeClear/internal/state"
)

// effectivePrice selects the market's settlement/mark price by mode.
func (e *ClearingEngine) effectivePrice(market *state.Market) (uint64, error) {
	return oracle.EffectivePrice(market)
}

// MarginCall explicitly arms the margin-call clock on a deal with the
// given grace window. Authority only. Calling again restarts the clock.
func (e *ClearingEngine) MarginCall(caller, dealID uuid.UUID, graceSec uint64, now int64) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.EventTypeMarginCalled.String()

	deal, release, err := e.deals.Acquire(dealID)
	if err != nil {
		return e.reject(op, err)
	}
	defer release()

	market, err := e.markets.Get(deal.MarketID)
	if err != nil {
		return e.reject(op, err)
	}
	if err := market.VersionGuard(); err != nil {
		return e.reject(op, err)
	}
	if err := e.authz.Authorize(caller, market.Authority, auth.RoleAuthority); err != nil {
		return e.reject(op, err)
	}
	if deal.Settled() {
		return e.reject(op, state.ErrDealAlreadySettled)
	}

	deal.MarginCallTS = now
	deal.MarginCallGraceSec = graceSec

	evt := &event.MarginCalled{
		Market:   deal.MarketID,
		Deal:     dealID,
		CalledTS: now,
		GraceSec: uint32(graceSec),
	}
	e.commit(evt, nil, now, start)

	if e.metrics != nil {
		e.metrics.MarginCalls.WithLabelValues(deal.MarketID.String(), "manual").Inc()
	}
	return nil
}

// MarkResult reports the outcome of a mark-to-market check.
type MarkResult struct {
	Price       uint64
	Maintenance uint64
	FarmerOK    bool
	BuyerOK     bool
	CallArmed   bool
	Liquidated  bool
}

// MarkToMarket revalues both vaults at the effective price. An unhealthy
// deal with no active margin call is auto-called with the market's
// default grace; one whose grace has expired is flagged liquidated. An
// armed margin call is never cleared, not even by recovery: the grace
// clock keeps running until settlement ends the deal. Permissionless by
// design: keepers run this on a timer.
func (e *ClearingEngine) MarkToMarket(dealID uuid.UUID, now int64) (*MarkResult, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	op := "MarkToMarket"

	deal, release, err := e.deals.Acquire(dealID)
	if err != nil {
		return nil, e.reject(op, err)
	}
	defer release()

	market, err := e.markets.Get(deal.MarketID)
	if err != nil {
		return nil, e.reject(op, err)
	}
	if err := market.VersionGuard(); err != nil {
		return nil, e.reject(op, err)
	}
	if err := deal.VersionGuard(); err != nil {
		return nil, e.reject(op, err)
	}
	if deal.Settled() {
		return nil, e.reject(op, state.ErrDealAlreadySettled)
	}

	price, err := e.effectivePrice(market)
	if err != nil {
		return nil, e.reject(op, err)
	}
	maint, err := e.maintenanceRequired(market, deal)
	if err != nil {
		return nil, e.reject(op, err)
	}

	quote := e.assetID(market.QuoteAsset)
	res := &MarkResult{
		Price:       price,
		Maintenance: uint64(maint),
		FarmerOK:    e.balanceTracker.GetFarmerVault(dealID, quote) >= maint,
		BuyerOK:     e.balanceTracker.GetBuyerVault(dealID, quote) >= maint,
	}

	outcome := "healthy"
	switch {
	case res.FarmerOK && res.BuyerOK:
		// an armed call stays armed; only settlement retires it

	case deal.MarginCallTS == 0:
		// unhealthy with no active call: arm automatically
		deal.MarginCallTS = now
		deal.MarginCallGraceSec = market.DefaultMarginCallGraceSec
		res.CallArmed = true
		outcome = "call_armed"

		party := shortParty(deal, res)
		evt := &event.MarginCalled{
			Market:    deal.MarketID,
			Deal:      dealID,
			Party:     party,
			CalledTS:  now,
			GraceSec:  uint32(deal.MarginCallGraceSec),
			MarkPrice: price,
		}
		e.commit(evt, nil, now, start)
		if e.metrics != nil {
			e.metrics.MarginCalls.WithLabelValues(deal.MarketID.String(), "auto").Inc()
		}

	default:
		graceEnd := deal.MarginCallTS + int64(deal.MarginCallGraceSec)
		if now >= graceEnd {
			deal.Liquidated = true
			res.Liquidated = true
			outcome = "liquidated"

			evt := &event.LiquidationFlagged{
				Market:    deal.MarketID,
				Deal:      dealID,
				Party:     shortParty(deal, res),
				FlaggedTS: now,
				MarkPrice: price,
			}
			e.commit(evt, nil, now, start)
			if e.metrics != nil {
				e.metrics.LiquidationsFlagged.WithLabelValues(deal.MarketID.String()).Inc()
			}
		} else {
			outcome = "in_grace"
		}
	}

	if e.metrics != nil {
		e.metrics.MarkToMarketChecks.WithLabelValues(deal.MarketID.String(), outcome).Inc()
	}
	return res, nil
}

// shortParty names the side below maintenance, or Nil when both are.
func shortParty(deal *state.Deal, res *MarkResult) uuid.UUID {
	switch {
	case !res.FarmerOK && res.BuyerOK:
		return deal.Farmer
	case res.FarmerOK && !res.BuyerOK:
		return deal.Buyer
	default:
		return uuid.Nil
	}
}
