package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables and the
// operation log. All responses include as_of_sequence for freshness
// semantics: the last sequence the projection worker has applied.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetEscrow returns the escrow totals for one asset.
func (qs *QueryService) GetEscrow(ctx context.Context, asset string) (*EscrowResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &EscrowResponse{Asset: asset, AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT total_lent, total_borrowed, active
		FROM projections.escrows
		WHERE asset = $1
	`, asset).Scan(&resp.TotalLent, &resp.TotalBorrowed, &resp.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetEscrows returns escrow totals for every whitelisted asset.
func (qs *QueryService) GetEscrows(ctx context.Context) ([]EscrowResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT asset, total_lent, total_borrowed, active
		FROM projections.escrows
		ORDER BY asset
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []EscrowResponse
	for rows.Next() {
		var e EscrowResponse
		e.AsOfSequence = asOfSeq
		if err := rows.Scan(&e.Asset, &e.TotalLent, &e.TotalBorrowed, &e.Active); err != nil {
			return nil, err
		}
		escrows = append(escrows, e)
	}
	return escrows, rows.Err()
}

// GetNativeVault returns the native collateral vault state.
func (qs *QueryService) GetNativeVault(ctx context.Context) (*VaultResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &VaultResponse{AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT asset, balance, active FROM projections.native_vault LIMIT 1
	`).Scan(&resp.Asset, &resp.Balance, &resp.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetLendPositions returns all open lend orders for a user.
func (qs *QueryService) GetLendPositions(ctx context.Context, userID uuid.UUID) ([]LendPositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT position_id, asset, amount, interest_rate_bps, duration_seconds,
		       matched, interest_accumulated, created_at, version
		FROM projections.lend_positions
		WHERE lender = $1
		ORDER BY asset
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []LendPositionResponse
	for rows.Next() {
		var p LendPositionResponse
		p.Lender = userID
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.PositionID, &p.Asset, &p.Amount, &p.InterestRateBps, &p.DurationSeconds,
			&p.Matched, &p.InterestAccumulated, &p.CreatedAt, &p.Version,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetBorrowPositions returns all open borrow orders for a user.
func (qs *QueryService) GetBorrowPositions(ctx context.Context, userID uuid.UUID) ([]BorrowPositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT position_id, borrow_asset, collateral_asset, borrow_amount,
		       collateral_amount, interest_rate_bps, duration_seconds,
		       matched, started_at, version
		FROM projections.borrow_positions
		WHERE borrower = $1
		ORDER BY borrow_asset
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []BorrowPositionResponse
	for rows.Next() {
		var p BorrowPositionResponse
		p.Borrower = userID
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.PositionID, &p.BorrowAsset, &p.CollateralAsset, &p.BorrowAmount,
			&p.CollateralAmount, &p.InterestRateBps, &p.DurationSeconds,
			&p.Matched, &p.StartedAt, &p.Version,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetWalletBalance returns a user's boundary wallet balance for one asset.
func (qs *QueryService) GetWalletBalance(ctx context.Context, userID uuid.UUID, asset string) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	accountPath := fmt.Sprintf("user:%s:wallet:%s", userID, asset)

	var balance int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	return &BalanceResponse{
		UserID:       userID,
		Asset:        asset,
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetOperations returns rows of the operation log with cursor-based
// pagination, newest first.
func (qs *QueryService) GetOperations(ctx context.Context, limit int, beforeSequence *int64) ([]OperationResponse, error) {
	query := `
		SELECT sequence, command_type, idempotency_key, asset,
		       (EXTRACT(EPOCH FROM timestamp) * 1000000)::BIGINT
		FROM lend_ledger.operations
	`
	args := []interface{}{}
	argIdx := 1

	if beforeSequence != nil {
		query += fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
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

	var ops []OperationResponse
	for rows.Next() {
		var op OperationResponse
		if err := rows.Scan(
			&op.Sequence, &op.CommandType, &op.IdempotencyKey, &op.Asset, &op.Timestamp,
		); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// GetJournalHistory returns journal entries touching a user's accounts
// with cursor-based pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, op_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM lend_ledger.journal
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
			&e.JournalID, &e.BatchID, &e.OpRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity over the operation log
// and the global zero-sum invariant over the balance projection.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT o1.sequence
		FROM lend_ledger.operations o1
		LEFT JOIN lend_ledger.operations o2 ON o2.sequence = o1.sequence - 1
		WHERE o1.sequence > 0 AND o1.prev_hash != COALESCE(o2.state_hash, o1.prev_hash)
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

	// Every journal entry moves value between two accounts, so balances
	// must sum to zero per asset
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
