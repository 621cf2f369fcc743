package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// QueryService provides read-only access to the projection tables and the
// durable event log. All responses include as_of_sequence so callers can
// reason about freshness relative to the engine's published sequence.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetPartyBalances returns the projected wallet and receive balances for a
// party. Deal vaults are deal-scoped accounts and show up under the deal,
// not the party.
func (qs *QueryService) GetPartyBalances(
	ctx context.Context,
	party uuid.UUID,
) (*PartyBalancesResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	prefix := fmt.Sprintf("party:%s:%%", party)
	accounts, err := qs.listBalances(ctx, prefix)
	if err != nil {
		return nil, err
	}

	return &PartyBalancesResponse{
		Party:        party,
		Accounts:     accounts,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetTreasuryBalances returns the fee and insurance treasury balances for a
// market.
func (qs *QueryService) GetTreasuryBalances(
	ctx context.Context,
	marketID uuid.UUID,
) (*TreasuryBalancesResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	prefix := fmt.Sprintf("system:%s:%%", marketID)
	accounts, err := qs.listBalances(ctx, prefix)
	if err != nil {
		return nil, err
	}

	return &TreasuryBalancesResponse{
		MarketID:     marketID,
		Accounts:     accounts,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetDeal returns the projected state of a single deal.
func (qs *QueryService) GetDeal(
	ctx context.Context,
	dealID uuid.UUID,
) (*DealResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	row := qs.db.QueryRowContext(ctx, `
		SELECT deal_id, market_id, farmer, buyer, agreed_price_per_kg, quantity_kg,
		       margin_each, physical, deadline_ts, status, delivered_kg_total,
		       settle_price, margin_call_ts, settled_ts
		FROM projections.deals
		WHERE deal_id = $1
	`, dealID)

	var d DealResponse
	if err := row.Scan(
		&d.DealID, &d.MarketID, &d.Farmer, &d.Buyer, &d.AgreedPricePerKg, &d.QuantityKg,
		&d.MarginEach, &d.Physical, &d.DeadlineTS, &d.Status, &d.DeliveredKgTotal,
		&d.SettlePrice, &d.MarginCallTS, &d.SettledTS,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	d.AsOfSequence = asOfSeq
	return &d, nil
}

// ListDeals returns deals in a market, optionally filtered by status.
// Supports cursor-based pagination on deadline_ts descending.
func (qs *QueryService) ListDeals(
	ctx context.Context,
	marketID uuid.UUID,
	status *string,
	limit int,
) ([]DealResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT deal_id, market_id, farmer, buyer, agreed_price_per_kg, quantity_kg,
		       margin_each, physical, deadline_ts, status, delivered_kg_total,
		       settle_price, margin_call_ts, settled_ts
		FROM projections.deals
		WHERE market_id = $1
	`
	args := []interface{}{marketID}
	argIdx := 2

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *status)
		argIdx++
	}

	query += " ORDER BY deadline_ts DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []DealResponse
	for rows.Next() {
		var d DealResponse
		d.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&d.DealID, &d.MarketID, &d.Farmer, &d.Buyer, &d.AgreedPricePerKg, &d.QuantityKg,
			&d.MarginEach, &d.Physical, &d.DeadlineTS, &d.Status, &d.DeliveredKgTotal,
			&d.SettlePrice, &d.MarginCallTS, &d.SettledTS,
		); err != nil {
			return nil, err
		}
		deals = append(deals, d)
	}

	return deals, rows.Err()
}

// GetPriceHistory returns accepted oracle prices for a market, newest first.
func (qs *QueryService) GetPriceHistory(
	ctx context.Context,
	marketID uuid.UUID,
	limit int,
	beforeNonce *int64,
) ([]PricePoint, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT market_id, nonce, price_per_kg, twap_time_acc, published_ts, sequence
		FROM projections.price_history
		WHERE market_id = $1
	`
	args := []interface{}{marketID}
	argIdx := 2

	if beforeNonce != nil {
		query += fmt.Sprintf(" AND nonce < $%d", argIdx)
		args = append(args, *beforeNonce)
		argIdx++
	}

	query += " ORDER BY nonce DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []PricePoint
	for rows.Next() {
		var p PricePoint
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.MarketID, &p.Nonce, &p.PricePerKg, &p.TwapTimeAcc, &p.PublishedTS, &p.Sequence,
		); err != nil {
			return nil, err
		}
		points = append(points, p)
	}

	return points, rows.Err()
}

// GetJournalHistory returns journal entries touching a party's accounts,
// with cursor-based pagination on sequence descending.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	party uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("party:%s:%%", party)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM clearing.journal
		WHERE debit_account LIKE $1 OR credit_account LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetEvents returns persisted events from a sequence onward, oldest first.
func (qs *QueryService) GetEvents(
	ctx context.Context,
	fromSequence int64,
	limit int,
) ([]EventResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, market_id, deal_id, payload,
		       state_hash, prev_hash, EXTRACT(EPOCH FROM timestamp)::BIGINT
		FROM clearing.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventResponse
	for rows.Next() {
		var e EventResponse
		var payload, stateHash, prevHash []byte
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.MarketID, &e.DealID,
			&payload, &stateHash, &prevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Payload = string(payload)
		e.StateHash = hex.EncodeToString(stateHash)
		e.PrevHash = hex.EncodeToString(prevHash)
		events = append(events, e)
	}

	return events, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain and global balance invariants.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM clearing.events e1
		LEFT JOIN clearing.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Check global balance (should sum to zero across all accounts per asset)
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) as total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) listBalances(ctx context.Context, pathPrefix string) ([]AccountBalance, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset_id, balance
		FROM projections.balances
		WHERE account_path LIKE $1
		ORDER BY account_path, asset_id
	`, pathPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []AccountBalance
	for rows.Next() {
		var a AccountBalance
		if err := rows.Scan(&a.AccountPath, &a.AssetID, &a.Balance); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}

	return accounts, rows.Err()
}
