package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"LendLedger/internal/core"
	"LendLedger/internal/ledger"
	"LendLedger/internal/oracle"
	"LendLedger/internal/state"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for
// recovery. A snapshot contains balances, escrow records, positions,
// roles, oracle quotes, sequence partitions and recent idempotency keys
// so a warm restart only replays operations written after the snapshot.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serializable form of core.SnapshotState. Balance
// map keys are structs, so they are flattened into BalanceSnapshot rows.
type SnapshotData struct {
	Sequence        int64                     `json:"sequence"`
	StateHash       []byte                    `json:"state_hash"`
	Balances        []BalanceSnapshot         `json:"balances"`
	Assets          []ledger.RegisteredAsset  `json:"assets"`
	Escrows         []*ledger.EscrowRecord    `json:"escrows"`
	Vault           *ledger.NativeVault       `json:"vault"`
	Lenders         []*state.LenderPosition   `json:"lenders"`
	Borrowers       []*state.BorrowerPosition `json:"borrowers"`
	LenderCounter   state.PositionCounter     `json:"lender_counter"`
	BorrowerCounter state.PositionCounter     `json:"borrower_counter"`
	Roles           *state.RoleSet            `json:"roles"`
	Whitelist       []string                  `json:"whitelist"`
	Registry        *state.PriceFeedRegistry  `json:"registry"`
	Quotes          []oracle.FeedQuote        `json:"quotes"`
	SequenceState   map[string]int64          `json:"sequence_state"`
	IdempotencyKeys []string                  `json:"idempotency_keys"`
	CreatedAt       time.Time                 `json:"created_at"`
}

// BalanceSnapshot is one flattened account balance.
type BalanceSnapshot struct {
	Scope    uint8  `json:"scope"`
	EntityID string `json:"entity_id"` // hex-encoded 16 bytes
	SubType  uint8  `json:"sub_type"`
	AssetID  uint16 `json:"asset_id"`
	Balance  int64  `json:"balance"`
}

// FromCoreState converts the core's in-memory snapshot into the
// serializable form.
func FromCoreState(snap *core.SnapshotState, createdAt time.Time) *SnapshotData {
	balances := make([]BalanceSnapshot, 0, len(snap.Balances))
	for key, balance := range snap.Balances {
		balances = append(balances, BalanceSnapshot{
			Scope:    uint8(key.Scope),
			EntityID: hex.EncodeToString(key.EntityID[:]),
			SubType:  uint8(key.SubType),
			AssetID:  uint16(key.AssetID),
			Balance:  balance,
		})
	}

	return &SnapshotData{
		Sequence:        snap.Sequence,
		StateHash:       snap.StateHash[:],
		Balances:        balances,
		Assets:          snap.Assets,
		Escrows:         snap.Escrows,
		Vault:           snap.Vault,
		Lenders:         snap.Lenders,
		Borrowers:       snap.Borrowers,
		LenderCounter:   snap.LenderCounter,
		BorrowerCounter: snap.BorrowerCounter,
		Roles:           snap.Roles,
		Whitelist:       snap.Whitelist,
		Registry:        snap.Registry,
		Quotes:          snap.Quotes,
		SequenceState:   snap.SequenceState,
		IdempotencyKeys: snap.IdempotencyKeys,
		CreatedAt:       createdAt,
	}
}

// ToCoreState rebuilds a core.SnapshotState from the serialized form.
func (sd *SnapshotData) ToCoreState() (*core.SnapshotState, error) {
	balances := make(map[ledger.AccountKey]int64, len(sd.Balances))
	for _, b := range sd.Balances {
		raw, err := hex.DecodeString(b.EntityID)
		if err != nil || len(raw) != 16 {
			return nil, fmt.Errorf("invalid entity ID in snapshot: %q", b.EntityID)
		}
		key := ledger.AccountKey{
			Scope:   ledger.AccountScope(b.Scope),
			SubType: ledger.AccountSubType(b.SubType),
			AssetID: ledger.AssetID(b.AssetID),
		}
		copy(key.EntityID[:], raw)
		balances[key] = b.Balance
	}

	if len(sd.StateHash) != 32 {
		return nil, fmt.Errorf("invalid state hash length %d in snapshot", len(sd.StateHash))
	}

	snap := &core.SnapshotState{
		Sequence:        sd.Sequence,
		Balances:        balances,
		Assets:          sd.Assets,
		Escrows:         sd.Escrows,
		Vault:           sd.Vault,
		Lenders:         sd.Lenders,
		Borrowers:       sd.Borrowers,
		LenderCounter:   sd.LenderCounter,
		BorrowerCounter: sd.BorrowerCounter,
		Roles:           sd.Roles,
		Whitelist:       sd.Whitelist,
		Registry:        sd.Registry,
		Quotes:          sd.Quotes,
		SequenceState:   sd.SequenceState,
		IdempotencyKeys: sd.IdempotencyKeys,
	}
	copy(snap.StateHash[:], sd.StateHash)
	return snap, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified by replaying operations from the snapshot
// sequence forward before being trusted for restarts.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO lend_ledger.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. Returns
// (nil, nil) when no snapshot exists — a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM lend_ledger.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE lend_ledger.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadOperationsFrom loads operations from a given sequence for replay.
// Used for warm restart (replay from snapshot) and cold restart
// (replay all).
func (sm *SnapshotManager) LoadOperationsFrom(ctx context.Context, fromSequence int64, limit int) ([]OperationRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, asset, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM lend_ledger.operations
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []OperationRow
	for rows.Next() {
		var op OperationRow
		if err := rows.Scan(
			&op.Sequence, &op.CommandType, &op.IdempotencyKey, &op.Asset,
			&op.Payload, &op.StateHash, &op.PrevHash, &op.Timestamp, &op.SourceSequence,
		); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}

	return ops, rows.Err()
}

// GetLatestSequence returns the highest sequence in the operation log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM lend_ledger.operations
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty operation log
	}
	return seq.Int64, nil
}
