package core

import (
	"math"
	"time"

	"github.com/google/uuid"

	"CoffeeClear/internal/auth"
	"CoffeeClear/internal/event"
	"CoffeeClear/internal/oracle"
	"CoffeeClear/internal/state"
)

// toLedgerAmount narrows a domain amount to the signed ledger representation.
func toLedgerAmount(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, state.ErrMathOverflow
	}
	return int64(v), nil
}

// Deposit credits an external transfer into a party wallet. The ref is
// the upstream payment identifier and dedups redeliveries.
func (e *ClearingEngine) Deposit(party uuid.UUID, asset string, amount uint64, ref string, now int64) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	evt := &event.WalletFunded{Party: party, Asset: asset, Amount: amount, Ref: ref}
	op := evt.EventType().String()

	if e.idempotency.IsDuplicate(op, evt.IdempotencyKey()) {
		return nil
	}
	if amount == 0 {
		return e.reject(op, state.ErrZeroAmount)
	}
	amt, err := toLedgerAmount(amount)
	if err != nil {
		return e.reject(op, err)
	}

	batch, err := e.journalGen.GenerateDeposit(party, evt.IdempotencyKey(), amt, e.assetID(asset), now)
	if err != nil {
		return e.reject(op, err)
	}

	e.commit(evt, batch, now, start)
	return nil
}

// RegisterCertAsset adds a delivery-certificate asset to the registry.
// Certificates track whole-kilogram deliveries at a fixed scale, so the
// decimals are pinned.
func (e *ClearingEngine) RegisterCertAsset(asset string, decimals uint8, now int64) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	evt := &event.CertAssetRegistered{Asset: asset, Decimals: decimals}
	op := evt.EventType().String()

	if e.idempotency.IsDuplicate(op, evt.IdempotencyKey()) {
		return nil
	}
	if err := e.certs.Register(asset, decimals); err != nil {
		return e.reject(op, err)
	}
	e.assets.Register(asset)

	e.commit(evt, nil, now, start)
	return nil
}

// CreateMarket builds a new contract series. The cert asset must have
// been registered first so physical deals can mint against it.
func (e *ClearingEngine) CreateMarket(
	authority, verifier, oraclePublisher uuid.UUID,
	certAsset, quoteAsset string,
	params state.MarketParams,
	now int64,
) (uuid.UUID, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.EventTypeMarketCreated.String()

	if !e.certs.Registered(certAsset) {
		return uuid.Nil, e.reject(op, state.ErrCertAssetNotRegistered)
	}

	id := uuid.New()
	market, err := state.NewMarket(id, authority, verifier, oraclePublisher, certAsset, quoteAsset, params)
	if err != nil {
		return uuid.Nil, e.reject(op, err)
	}

	e.markets.Put(market)
	e.assets.Register(quoteAsset)

	evt := &event.MarketCreated{
		Market:          id,
		Authority:       authority,
		Verifier:        verifier,
		OraclePublisher: oraclePublisher,
		CertAsset:       certAsset,
		QuoteAsset:      quoteAsset,
		SettlementTS:    params.SettlementTS,
		ContractSizeKg:  params.ContractSizeKg,
	}
	e.commit(evt, nil, now, start)
	return id, nil
}

// PublishPrice applies one oracle submission: nonce, staleness, and band
// checks, then the TWAP accrual. No idempotency lookup here: the strictly
// increasing nonce is the replay protection, and a redelivered submission
// must surface ErrReplayOrStale rather than report success.
func (e *ClearingEngine) PublishPrice(caller, marketID uuid.UUID, pricePerKg, nonce uint64, now int64) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.EventTypePricePublished.String()

	market, err := e.markets.Get(marketID)
	if err != nil {
		return e.reject(op, err)
	}

	if err := e.authz.Authorize(caller, market.OraclePublisher, auth.RoleOracle); err != nil {
		return e.reject(op, err)
	}

	evt := &event.PricePublished{Market: marketID, PricePerKg: pricePerKg, Nonce: nonce, PublishedTS: now}

	if err := oracle.Publish(market, pricePerKg, nonce, now); err != nil {
		if e.metrics != nil {
			e.metrics.PricesRejected.WithLabelValues(marketID.String(), errReason(err)).Inc()
		}
		return e.reject(op, err)
	}
	evt.TwapTimeAcc = market.TwapTimeAcc

	if e.metrics != nil {
		e.metrics.PricesAccepted.WithLabelValues(marketID.String()).Inc()
		e.metrics.LastPrice.WithLabelValues(marketID.String()).Set(float64(pricePerKg))
		e.metrics.TwapTimeAcc.WithLabelValues(marketID.String()).Set(float64(market.TwapTimeAcc))
	}

	e.commit(evt, nil, now, start)
	return nil
}

// ProposeRotateOracle starts the rotation timelock. Authority only.
// Proposing again overwrites the pending rotation.
func (e *ClearingEngine) ProposeRotateOracle(caller, marketID, newOracle uuid.UUID, effectiveAfterTS, now int64) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.EventTypeOracleRotationProposed.String()

	market, err := e.markets.Get(marketID)
	if err != nil {
		return e.reject(op, err)
	}
	if err := market.VersionGuard(); err != nil {
		return e.reject(op, err)
	}
	if err := e.authz.Authorize(caller, market.Authority, auth.RoleAuthority); err != nil {
		return e.reject(op, err)
	}

	market.ProposeOracleRotation(newOracle, effectiveAfterTS)

	evt := &event.OracleRotationProposed{Market: marketID, NewOracle: newOracle, EffectiveTS: effectiveAfterTS}
	e.commit(evt, nil, now, start)
	return nil
}

// ActivateRotateOracle completes a matured rotation. Deliberately
// permissionless: once the timelock elapses anyone may finalize, which
// keeps a departed authority from wedging the oracle.
func (e *ClearingEngine) ActivateRotateOracle(marketID uuid.UUID, now int64) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.EventTypeOracleRotationActivated.String()

	market, err := e.markets.Get(marketID)
	if err != nil {
		return e.reject(op, err)
	}
	if err := market.VersionGuard(); err != nil {
		return e.reject(op, err)
	}

	oldOracle := market.OraclePublisher
	newOracle, err := market.ActivateOracleRotation(now)
	if err != nil {
		return e.reject(op, err)
	}

	evt := &event.OracleRotationActivated{Market: marketID, OldOracle: oldOracle, NewOracle: newOracle}
	e.commit(evt, nil, now, start)
	return nil
}
