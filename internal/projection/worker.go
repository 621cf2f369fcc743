package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"CoffeeClear/internal/core"
)

// Worker updates projection tables from engine outputs. The projection
// channel is non-blocking with drop on the engine side: if projections fall
// behind they can be rebuilt from the event log, so a dropped output is an
// acceptable trade for never stalling the engine.
type Worker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	log       zerolog.Logger
}

func NewWorker(db *sql.DB, inputChan <-chan core.CoreOutput, log zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		log:       log,
	}
}

// Run starts the projection worker loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			if err := w.processOutput(ctx, output); err != nil {
				// Continue: projections are eventually consistent and can be
				// rebuilt from the event log.
				w.log.Warn().
					Err(err).
					Int64("sequence", output.Envelope.Sequence).
					Msg("projection update failed")
			}

			w.lastSeq = output.Envelope.Sequence
		}
	}
}

func (w *Worker) processOutput(ctx context.Context, output core.CoreOutput) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := output.Envelope.Sequence

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := w.updateBalanceProjection(ctx, tx, seq,
				j.DebitAccount.AccountPath(), j.CreditAccount.AccountPath(),
				uint16(j.AssetID), j.Amount); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}

	if err := applyDealProjection(ctx, tx, output.Envelope); err != nil {
		return fmt.Errorf("deal projection: %w", err)
	}

	if err := applyPriceProjection(ctx, tx, output.Envelope); err != nil {
		return fmt.Errorf("price projection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalanceProjection mirrors the ledger convention: a debit increases
// the account balance, a credit decreases it.
func (w *Worker) updateBalanceProjection(
	ctx context.Context,
	tx *sql.Tx,
	seq int64,
	debitAccount, creditAccount string,
	assetID uint16,
	amount int64,
) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, debitAccount, assetID, amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, creditAccount, assetID, amount, seq); err != nil {
		return err
	}

	return nil
}

// RebuildProjections rebuilds the balance projection from the journal and
// truncates the derived tables so the worker repopulates them on replay.
func RebuildProjections(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.deals`,
		`TRUNCATE projections.price_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debits increase balances
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM clearing.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	// Credits decrease balances
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM clearing.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	log.Info().Msg("balance projection rebuilt from journal")
	return nil
}
