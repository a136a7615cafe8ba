package state

import (
	"errors"
	"sort"

	lmath "LendLedger/internal/math"

	"github.com/google/uuid"
)

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionExists   = errors.New("position already exists for this asset")
	ErrNotPositionOwner = errors.New("caller does not own this position")
	ErrAlreadyMatched   = errors.New("order is already matched")
)

// PositionKey identifies one user's position in one asset. A user holds
// at most one open lend order and one open borrow order per asset.
type PositionKey struct {
	Owner uuid.UUID
	Asset string
}

// PositionCounter issues monotonically increasing position IDs. IDs are
// never reused: a cancelled position's ID stays burned.
type PositionCounter struct {
	Count   uint64 `json:"count"`
	Version int64  `json:"version"`
}

// Next returns the ID for a new position. The counter starts at zero,
// so the first assigned ID is 1.
func (pc *PositionCounter) Next() (uint64, error) {
	next, err := lmath.IncrementU64(pc.Count)
	if err != nil {
		return 0, err
	}
	pc.Count = next
	pc.Version++
	return next, nil
}

// PositionManager manages lender and borrower position state. It only
// ever runs on the core goroutine.
type PositionManager struct {
	lenders         map[PositionKey]*LenderPosition
	borrowers       map[PositionKey]*BorrowerPosition
	lenderCounter   PositionCounter
	borrowerCounter PositionCounter
}

func NewPositionManager() *PositionManager {
	return &PositionManager{
		lenders:   make(map[PositionKey]*LenderPosition),
		borrowers: make(map[PositionKey]*BorrowerPosition),
	}
}

// === Lender positions ===

// GetLenderPosition returns the open lend order for (owner, asset).
func (pm *PositionManager) GetLenderPosition(owner uuid.UUID, asset string) (*LenderPosition, error) {
	pos, ok := pm.lenders[PositionKey{Owner: owner, Asset: asset}]
	if !ok {
		return nil, ErrPositionNotFound
	}
	return pos, nil
}

// CreateLenderPosition opens a lend order, assigning the next lender
// position ID.
func (pm *PositionManager) CreateLenderPosition(
	owner uuid.UUID,
	asset string,
	amount uint64,
	terms LoanTerms,
	createdAt int64,
) (*LenderPosition, error) {
	key := PositionKey{Owner: owner, Asset: asset}
	if _, exists := pm.lenders[key]; exists {
		return nil, ErrPositionExists
	}

	id, err := pm.lenderCounter.Next()
	if err != nil {
		return nil, err
	}

	pos := &LenderPosition{
		PositionID: id,
		Lender:     owner,
		Asset:      asset,
		Amount:     amount,
		Terms:      terms,
		CreatedAt:  createdAt,
	}
	pm.lenders[key] = pos
	return pos, nil
}

// RemoveLenderPosition destroys a cancelled lend order. The position ID
// is not returned to the counter.
func (pm *PositionManager) RemoveLenderPosition(owner uuid.UUID, asset string) {
	delete(pm.lenders, PositionKey{Owner: owner, Asset: asset})
}

// === Borrower positions ===

// GetBorrowerPosition returns the open borrow order for (owner, asset).
func (pm *PositionManager) GetBorrowerPosition(owner uuid.UUID, borrowAsset string) (*BorrowerPosition, error) {
	pos, ok := pm.borrowers[PositionKey{Owner: owner, Asset: borrowAsset}]
	if !ok {
		return nil, ErrPositionNotFound
	}
	return pos, nil
}

// CreateBorrowerPosition opens a borrow order, assigning the next
// borrower position ID.
func (pm *PositionManager) CreateBorrowerPosition(
	owner uuid.UUID,
	borrowAsset string,
	collateralAsset string,
	borrowAmount uint64,
	collateralAmount uint64,
	terms LoanTerms,
	startedAt int64,
) (*BorrowerPosition, error) {
	key := PositionKey{Owner: owner, Asset: borrowAsset}
	if _, exists := pm.borrowers[key]; exists {
		return nil, ErrPositionExists
	}

	id, err := pm.borrowerCounter.Next()
	if err != nil {
		return nil, err
	}

	pos := &BorrowerPosition{
		PositionID:       id,
		Borrower:         owner,
		BorrowAsset:      borrowAsset,
		CollateralAsset:  collateralAsset,
		BorrowAmount:     borrowAmount,
		CollateralAmount: collateralAmount,
		Terms:            terms,
		StartedAt:        startedAt,
	}
	pm.borrowers[key] = pos
	return pos, nil
}

// RemoveBorrowerPosition destroys a cancelled borrow order.
func (pm *PositionManager) RemoveBorrowerPosition(owner uuid.UUID, borrowAsset string) {
	delete(pm.borrowers, PositionKey{Owner: owner, Asset: borrowAsset})
}

// === Matching ===

// MarkMatched flips both sides of a match. Fails without mutating if
// either position is missing or already matched.
func (pm *PositionManager) MarkMatched(lender, borrower uuid.UUID, asset string) error {
	lendPos, err := pm.GetLenderPosition(lender, asset)
	if err != nil {
		return err
	}
	borrowPos, err := pm.GetBorrowerPosition(borrower, asset)
	if err != nil {
		return err
	}
	if lendPos.Matched || borrowPos.Matched {
		return ErrAlreadyMatched
	}

	lendPos.Matched = true
	lendPos.Version++
	borrowPos.Matched = true
	borrowPos.Version++
	return nil
}

// === Snapshot / iteration ===

// Counters returns copies of both counters (for snapshots).
func (pm *PositionManager) Counters() (lender, borrower PositionCounter) {
	return pm.lenderCounter, pm.borrowerCounter
}

// RestoreCounters reloads the counters from a snapshot.
func (pm *PositionManager) RestoreCounters(lender, borrower PositionCounter) {
	pm.lenderCounter = lender
	pm.borrowerCounter = borrower
}

// SetLenderPosition directly sets a position (snapshot restore).
func (pm *PositionManager) SetLenderPosition(pos *LenderPosition) {
	pm.lenders[PositionKey{Owner: pos.Lender, Asset: pos.Asset}] = pos
}

// SetBorrowerPosition directly sets a position (snapshot restore).
func (pm *PositionManager) SetBorrowerPosition(pos *BorrowerPosition) {
	pm.borrowers[PositionKey{Owner: pos.Borrower, Asset: pos.BorrowAsset}] = pos
}

// AllLenderPositions returns lender positions sorted by position ID.
func (pm *PositionManager) AllLenderPositions() []*LenderPosition {
	result := make([]*LenderPosition, 0, len(pm.lenders))
	for _, pos := range pm.lenders {
		result = append(result, pos)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PositionID < result[j].PositionID })
	return result
}

// AllBorrowerPositions returns borrower positions sorted by position ID.
func (pm *PositionManager) AllBorrowerPositions() []*BorrowerPosition {
	result := make([]*BorrowerPosition, 0, len(pm.borrowers))
	for _, pos := range pm.borrowers {
		result = append(result, pos)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PositionID < result[j].PositionID })
	return result
}

// UserLenderPositions returns all of a user's open lend orders.
func (pm *PositionManager) UserLenderPositions(owner uuid.UUID) []*LenderPosition {
	result := make([]*LenderPosition, 0)
	for key, pos := range pm.lenders {
		if key.Owner == owner {
			result = append(result, pos)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PositionID < result[j].PositionID })
	return result
}

// UserBorrowerPositions returns all of a user's open borrow orders.
func (pm *PositionManager) UserBorrowerPositions(owner uuid.UUID) []*BorrowerPosition {
	result := make([]*BorrowerPosition, 0)
	for key, pos := range pm.borrowers {
		if key.Owner == owner {
			result = append(result, pos)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PositionID < result[j].PositionID })
	return result
}
