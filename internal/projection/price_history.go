package projection

import (
	"context"
	"database/sql"
	"encoding/json"

	"CoffeeClear/internal/event"
)

// applyPriceProjection appends accepted oracle prices to
// projections.price_history. The (market_id, nonce) key makes replays
// idempotent.
func applyPriceProjection(ctx context.Context, tx *sql.Tx, env *event.EventEnvelope) error {
	if env.EventType != event.EventTypePricePublished {
		return nil
	}

	var p event.PricePublished
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.price_history
			(market_id, nonce, price_per_kg, twap_time_acc, published_ts, sequence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market_id, nonce) DO NOTHING
	`, p.Market, int64(p.Nonce), int64(p.PricePerKg), int64(p.TwapTimeAcc), p.PublishedTS, env.Sequence)
	return err
}
