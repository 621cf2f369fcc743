// Package oracle applies publisher price submissions to market state and
// maintains the time-weighted average accumulator.
//
// The TWAP is a sliding-window approximation, not an exact ring buffer:
// once the accumulated time exceeds the window, both accumulators are
// rescaled proportionally. Under irregular publish intervals this drifts
// from a true windowed average; the arithmetic is kept as-is for
// compatibility with downstream consumers that reproduce it.
package oracle

import (
	"math/big"

	fpmath "CoffeeClear/internal/math"
	"CoffeeClear/internal/state"
)

// Publish validates and applies one price submission. The caller has
// already authenticated the publisher; timestamps are versioned inputs,
// never wall-clock reads.
func Publish(m *state.Market, pricePerKg, nonce uint64, now int64) error {
	if err := m.VersionGuard(); err != nil {
		return err
	}
	if nonce <= m.LastPriceNonce {
		return state.ErrReplayOrStale
	}
	if pricePerKg == 0 {
		return state.ErrZeroPrice
	}

	// staleness: if a prior update exists, ensure its age is within tolerance
	if m.LastOracleUpdateTS > 0 && m.MaxOracleAgeSec > 0 {
		age := absDiff(now, m.LastOracleUpdateTS)
		if age > m.MaxOracleAgeSec {
			return state.ErrOracleStale
		}
	}

	// price-band check against previous price (if present)
	if m.PrevPricePerKg > 0 {
		if !fpmath.PriceBandOK(m.PrevPricePerKg, pricePerKg, state.MaxPriceDeltaBps) {
			return state.ErrPriceBandExceeded
		}
	}

	// TWAP must absorb the outgoing last_price before it is overwritten
	updateTwap(m, now)

	m.PrevPricePerKg = m.LastPricePerKg
	m.LastPricePerKg = pricePerKg
	m.LastOracleUpdateTS = now
	m.LastPriceNonce = nonce

	return nil
}

// updateTwap accrues last_price over the elapsed interval and clamps the
// accumulators back to the window by proportional rescale.
func updateTwap(m *state.Market, now int64) {
	// first-ever update establishes the baseline, no accumulation
	if m.LastOracleUpdateTS == 0 {
		m.LastOracleUpdateTS = now
		return
	}

	dt := now - m.LastOracleUpdateTS
	if dt <= 0 {
		m.LastOracleUpdateTS = now
		return
	}

	add := fpmath.MinU64(uint64(dt), m.TwapWindowSec)

	contrib := fpmath.MulWide(m.LastPricePerKg, add)
	m.TwapAcc.Add(m.TwapAcc, contrib)
	m.TwapTimeAcc += add

	if m.TwapTimeAcc > m.TwapWindowSec {
		window := new(big.Int).SetUint64(m.TwapWindowSec)
		elapsed := new(big.Int).SetUint64(m.TwapTimeAcc)
		m.TwapAcc.Mul(m.TwapAcc, window)
		m.TwapAcc.Quo(m.TwapAcc, elapsed)
		m.TwapTimeAcc = m.TwapWindowSec
	}

	m.LastOracleUpdateTS = now
}

// EffectivePrice selects the settlement/mark price by the market's price
// mode. Mode TWAP fails when no time has accumulated; unknown modes fall
// back to last price.
func EffectivePrice(m *state.Market) (uint64, error) {
	var price uint64
	switch m.PriceMode {
	case state.PriceModeTWAP:
		if m.TwapTimeAcc == 0 {
			return 0, state.ErrZeroPrice
		}
		q := new(big.Int).Quo(m.TwapAcc, new(big.Int).SetUint64(m.TwapTimeAcc))
		narrowed, err := fpmath.NarrowToU64(q)
		if err != nil {
			return 0, err
		}
		price = narrowed
	default:
		price = m.LastPricePerKg
	}
	if price == 0 {
		return 0, state.ErrZeroPrice
	}
	return price, nil
}

func absDiff(a, b int64) uint64 {
	if a >= b {
		return uint64(a - b)
	}
	return uint64(b - a)
}
