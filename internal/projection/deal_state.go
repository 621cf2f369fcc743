package projection

import (
	"context"
	"database/sql"
	"encoding/json"

	"CoffeeClear/internal/event"
)

// Deal lifecycle states as stored in projections.deals.status.
const (
	DealStatusOpen               = "open"
	DealStatusMarginCalled       = "margin_called"
	DealStatusLiquidationFlagged = "liquidation_flagged"
	DealStatusDelivering         = "delivering"
	DealStatusSettledCash        = "settled_cash"
	DealStatusSettledPhysical    = "settled_physical"
	DealStatusCanceled           = "canceled"
	DealStatusClosed             = "closed"
)

// applyDealProjection folds a deal lifecycle event into projections.deals.
func applyDealProjection(ctx context.Context, tx *sql.Tx, env *event.EventEnvelope) error {
	switch env.EventType {
	case event.EventTypeDealOpened:
		var p event.DealOpened
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.deals
				(deal_id, market_id, farmer, buyer, agreed_price_per_kg, quantity_kg,
				 margin_each, physical, deadline_ts, status, delivered_kg_total, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11)
			ON CONFLICT (deal_id) DO NOTHING
		`, p.Deal, p.Market, p.Farmer, p.Buyer, int64(p.AgreedPricePerKg), int64(p.QuantityKg),
			int64(p.MarginEach), p.Physical, p.DeadlineTS, DealStatusOpen, env.Sequence)
		return err

	case event.EventTypeMarginCalled:
		var p event.MarginCalled
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.deals
			SET status = $2, margin_call_ts = $3, last_sequence = $4
			WHERE deal_id = $1
		`, p.Deal, DealStatusMarginCalled, p.CalledTS, env.Sequence)
		return err

	case event.EventTypeLiquidationFlagged:
		var p event.LiquidationFlagged
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.deals
			SET status = $2, last_sequence = $3
			WHERE deal_id = $1
		`, p.Deal, DealStatusLiquidationFlagged, env.Sequence)
		return err

	case event.EventTypeCashSettled:
		var p event.CashSettled
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.deals
			SET status = $2, settle_price = $3, settled_ts = $4, last_sequence = $5
			WHERE deal_id = $1
		`, p.Deal, DealStatusSettledCash, int64(p.SettlePrice), p.SettledTS, env.Sequence)
		return err

	case event.EventTypePhysicalSettled:
		var p event.PhysicalSettled
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		status := DealStatusDelivering
		var settledTS *int64
		if p.Completed {
			status = DealStatusSettledPhysical
			settledTS = &p.SettledTS
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.deals
			SET status = $2, delivered_kg_total = $3, settled_ts = $4, last_sequence = $5
			WHERE deal_id = $1
		`, p.Deal, status, int64(p.DeliveredTotalKg), settledTS, env.Sequence)
		return err

	case event.EventTypeDealCanceled:
		var p event.DealCanceled
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.deals
			SET status = $2, last_sequence = $3
			WHERE deal_id = $1
		`, p.Deal, DealStatusCanceled, env.Sequence)
		return err

	case event.EventTypeDealClosed:
		var p event.DealClosed
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.deals
			SET status = $2, last_sequence = $3
			WHERE deal_id = $1
		`, p.Deal, DealStatusClosed, env.Sequence)
		return err
	}

	return nil
}
