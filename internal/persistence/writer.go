package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OperationLogWriter writes operations and journals to Postgres using
// batch inserts. This implementation uses multi-row INSERT as a
// portable alternative; switch to pgx CopyFrom for production-grade
// throughput.
type OperationLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// OperationRow represents a row in lend_ledger.operations
type OperationRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	Asset          *string
	Payload        []byte // JSON-encoded command payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// JournalRow represents a row in lend_ledger.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	OpRef         string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
	Timestamp     int64
}

func NewOperationLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *OperationLogWriter {
	return &OperationLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// execContext is satisfied by both *sql.DB and *sql.Tx.
type execContext interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WriteOperationBatch writes a batch of operations to
// lend_ledger.operations using multi-row INSERT. If tx is non-nil the
// write joins that transaction.
func (w *OperationLogWriter) WriteOperationBatch(ctx context.Context, operations []OperationRow, tx *sql.Tx) error {
	if len(operations) == 0 {
		return nil
	}

	// Build multi-row INSERT
	query := `INSERT INTO lend_ledger.operations
		(sequence, command_type, idempotency_key, asset, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(operations))
	args := make([]interface{}, 0, len(operations)*9)

	for i, op := range operations {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			op.Sequence, op.CommandType, op.IdempotencyKey, op.Asset,
			op.Payload, op.StateHash, op.PrevHash, op.Timestamp, op.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	var ex execContext = w.db
	if tx != nil {
		ex = tx
	}
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to lend_ledger.journal.
func (w *OperationLogWriter) WriteJournalBatch(ctx context.Context, journals []JournalRow, tx *sql.Tx) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO lend_ledger.journal
		(journal_id, batch_id, op_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*10)

	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.OpRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	var ex execContext = w.db
	if tx != nil {
		ex = tx
	}
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// MarshalOperationPayload serializes a command payload to JSON for storage.
func MarshalOperationPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
