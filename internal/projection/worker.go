package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"LendLedger/internal/core"
	"LendLedger/internal/observability"
	"LendLedger/internal/state"
)

// ProjectionWorker updates projection tables from processed operations.
// The projection channel is non-blocking with drop: if projections fall
// behind, they can be rebuilt from the operation log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Envelope.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the operation log
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
			}

			pw.lastSeq = output.Envelope.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := output.Envelope.Sequence

	// Balance projections follow the journal entries
	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := pw.updateBalanceProjection(ctx, tx, seq,
				j.DebitAccount.AccountPath(), j.CreditAccount.AccountPath(),
				uint16(j.AssetID), j.Amount); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}

	for _, rec := range output.Escrows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.escrows (asset, total_lent, total_borrowed, active, last_sequence)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (asset) DO UPDATE SET
				total_lent = $2, total_borrowed = $3, active = $4, last_sequence = $5
		`, rec.Asset, int64(rec.TotalLent), int64(rec.TotalBorrowed), rec.Active, seq); err != nil {
			return fmt.Errorf("escrow projection: %w", err)
		}
	}

	if output.Vault != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.native_vault (asset, balance, active, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (asset) DO UPDATE SET
				balance = $2, active = $3, last_sequence = $4
		`, output.Vault.Asset, int64(output.Vault.Balance), output.Vault.Active, seq); err != nil {
			return fmt.Errorf("vault projection: %w", err)
		}
	}

	for _, pos := range output.Lenders {
		if err := pw.upsertLendPosition(ctx, tx, seq, pos); err != nil {
			return fmt.Errorf("lend position projection: %w", err)
		}
	}
	for _, pos := range output.Borrowers {
		if err := pw.upsertBorrowPosition(ctx, tx, seq, pos); err != nil {
			return fmt.Errorf("borrow position projection: %w", err)
		}
	}

	for _, pos := range output.RemovedLenders {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM projections.lend_positions WHERE lender = $1 AND asset = $2
		`, pos.Lender, pos.Asset); err != nil {
			return fmt.Errorf("lend position delete: %w", err)
		}
	}
	for _, pos := range output.RemovedBorrowers {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM projections.borrow_positions WHERE borrower = $1 AND borrow_asset = $2
		`, pos.Borrower, pos.BorrowAsset); err != nil {
			return fmt.Errorf("borrow position delete: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalanceProjection applies one journal entry. A debit increases
// the account balance, a credit decreases it, matching the in-memory
// balance tracker.
func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, seq int64, debitPath, creditPath string, assetID uint16, amount int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, debitPath, assetID, amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, creditPath, assetID, amount, seq); err != nil {
		return err
	}

	return nil
}

func (pw *ProjectionWorker) upsertLendPosition(ctx context.Context, tx *sql.Tx, seq int64, pos state.LenderPosition) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.lend_positions
			(position_id, lender, asset, amount, interest_rate_bps, duration_seconds,
			 matched, interest_accumulated, created_at, version, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (lender, asset) DO UPDATE SET
			position_id = $1, amount = $4, interest_rate_bps = $5, duration_seconds = $6,
			matched = $7, interest_accumulated = $8, version = $10, last_sequence = $11
	`, int64(pos.PositionID), pos.Lender, pos.Asset, int64(pos.Amount),
		int64(pos.Terms.InterestRateBps), int64(pos.Terms.DurationSeconds),
		pos.Matched, int64(pos.InterestAccumulated), pos.CreatedAt, pos.Version, seq)
	return err
}

func (pw *ProjectionWorker) upsertBorrowPosition(ctx context.Context, tx *sql.Tx, seq int64, pos state.BorrowerPosition) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.borrow_positions
			(position_id, borrower, borrow_asset, collateral_asset, borrow_amount,
			 collateral_amount, interest_rate_bps, duration_seconds, matched,
			 started_at, version, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (borrower, borrow_asset) DO UPDATE SET
			position_id = $1, collateral_asset = $4, borrow_amount = $5,
			collateral_amount = $6, interest_rate_bps = $7, duration_seconds = $8,
			matched = $9, version = $11, last_sequence = $12
	`, int64(pos.PositionID), pos.Borrower, pos.BorrowAsset, pos.CollateralAsset,
		int64(pos.BorrowAmount), int64(pos.CollateralAmount),
		int64(pos.Terms.InterestRateBps), int64(pos.Terms.DurationSeconds),
		pos.Matched, pos.StartedAt, pos.Version, seq)
	return err
}

// RebuildProjections rebuilds the balance projection from the journal
// and clears the rest; position and escrow tables refill as operations
// flow through again or via warm-restart replay.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.lend_positions`,
		`TRUNCATE projections.borrow_positions`,
		`TRUNCATE projections.escrows`,
		`TRUNCATE projections.native_vault`,
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
		FROM lend_ledger.journal
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
		FROM lend_ledger.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
