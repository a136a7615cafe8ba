package query

import "github.com/google/uuid"

// EscrowResponse represents one asset's escrow totals for API queries.
type EscrowResponse struct {
	Asset         string `json:"asset"`
	TotalLent     int64  `json:"total_lent"`
	TotalBorrowed int64  `json:"total_borrowed"`
	Active        bool   `json:"active"`
	AsOfSequence  int64  `json:"as_of_sequence"`
}

// VaultResponse represents the native collateral vault for API queries.
type VaultResponse struct {
	Asset        string `json:"asset"`
	Balance      int64  `json:"balance"`
	Active       bool   `json:"active"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// LendPositionResponse represents an open lend order for API queries.
type LendPositionResponse struct {
	PositionID          int64     `json:"position_id"`
	Lender              uuid.UUID `json:"lender"`
	Asset               string    `json:"asset"`
	Amount              int64     `json:"amount"`
	InterestRateBps     int64     `json:"interest_rate_bps"`
	DurationSeconds     int64     `json:"duration_seconds"`
	Matched             bool      `json:"matched"`
	InterestAccumulated int64     `json:"interest_accumulated"`
	CreatedAt           int64     `json:"created_at"`
	Version             int64     `json:"version"`
	AsOfSequence        int64     `json:"as_of_sequence"`
}

// BorrowPositionResponse represents an open borrow order for API queries.
type BorrowPositionResponse struct {
	PositionID       int64     `json:"position_id"`
	Borrower         uuid.UUID `json:"borrower"`
	BorrowAsset      string    `json:"borrow_asset"`
	CollateralAsset  string    `json:"collateral_asset"`
	BorrowAmount     int64     `json:"borrow_amount"`
	CollateralAmount int64     `json:"collateral_amount"`
	InterestRateBps  int64     `json:"interest_rate_bps"`
	DurationSeconds  int64     `json:"duration_seconds"`
	Matched          bool      `json:"matched"`
	StartedAt        int64     `json:"started_at"`
	Version          int64     `json:"version"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// BalanceResponse represents a user's boundary wallet balance for one
// asset. Wallet balances go negative as tokens move into custody.
type BalanceResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	Asset        string    `json:"asset"`
	Balance      int64     `json:"balance"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// OperationResponse represents one row of the operation log.
type OperationResponse struct {
	Sequence       int64   `json:"sequence"`
	CommandType    string  `json:"command_type"`
	IdempotencyKey string  `json:"idempotency_key"`
	Asset          *string `json:"asset,omitempty"`
	Timestamp      int64   `json:"timestamp"` // epoch microseconds
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	OpRef         string `json:"op_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
