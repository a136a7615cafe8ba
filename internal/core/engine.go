package core

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"LendLedger/internal/command"
	"LendLedger/internal/ledger"
	lmath "LendLedger/internal/math"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/pricing"
	"LendLedger/internal/state"

	"github.com/google/uuid"
)

var (
	// ErrZeroAmount rejects orders that move no tokens.
	ErrZeroAmount = errors.New("order amount must be positive")

	// ErrUntrustedSubmitter rejects matched-order reports from
	// entities the admin never authorized.
	ErrUntrustedSubmitter = errors.New("submitter is not a trusted entity")

	// ErrSameAssetCollateral rejects borrow orders collateralized by
	// the asset being borrowed.
	ErrSameAssetCollateral = errors.New("collateral asset must differ from borrow asset")
)

// LendingCore is the single-threaded command processor
type LendingCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	escrows           *ledger.EscrowManager
	positions         *state.PositionManager
	registry          *state.PriceFeedRegistry
	roles             *state.RoleSet
	whitelist         *state.TokenWhitelist
	quotes            *oracle.QuoteCache
	pricer            *pricing.CollateralPricer
	accruer           InterestAccruer
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput carries one processed command to the persistence and
// projection workers: the envelope, its journal batch, and value
// copies of every state row the command touched.
type CoreOutput struct {
	Envelope   *command.OperationEnvelope
	Batch      *ledger.Batch
	StateDelta []byte

	Lenders          []state.LenderPosition
	Borrowers        []state.BorrowerPosition
	RemovedLenders   []state.LenderPosition
	RemovedBorrowers []state.BorrowerPosition
	Escrows          []ledger.EscrowRecord
	Vault            *ledger.NativeVault
}

// operation is a handler's result: a fully validated journal batch plus
// a commit closure that mutates in-memory state. Nothing is mutated
// until the batch has been accepted, so a rejected command leaves every
// record untouched.
type operation struct {
	batch  *ledger.Batch
	commit func(out *CoreOutput)
}

func NewLendingCore(
	startSequence int64,
	nativeAsset string,
	admin uuid.UUID,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *LendingCore {
	balanceTracker := ledger.NewBalanceTracker()
	escrows := ledger.NewEscrowManager(nativeAsset)
	validator := ledger.NewInvariantValidator(balanceTracker, escrows)
	journalGen := ledger.NewJournalGenerator(startSequence, balanceTracker)
	registry := state.NewPriceFeedRegistry(admin)
	quotes := oracle.NewQuoteCache()

	// Initialize with capacity of 1M entries (configurable)
	idempotencyChecker := NewIdempotencyChecker(1_000_000, dbChecker)
	sequenceValidator := NewSequenceValidator()

	return &LendingCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        journalGen,
		validator:         validator,
		escrows:           escrows,
		positions:         state.NewPositionManager(),
		registry:          registry,
		roles:             state.NewRoleSet(admin),
		whitelist:         state.NewTokenWhitelist(),
		quotes:            quotes,
		pricer:            pricing.NewCollateralPricer(registry, quotes),
		accruer:           FlatAccruer{},
		idempotency:       idempotencyChecker,
		sequenceValidator: sequenceValidator,
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// SetAccruer replaces the interest accrual hook.
func (c *LendingCore) SetAccruer(accruer InterestAccruer) {
	c.accruer = accruer
}

// ProcessCommand is the main processing pipeline
func (c *LendingCore) ProcessCommand(cmd command.Command) error {
	start := time.Now()
	commandType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(commandType, idempotencyKey)

	// Step 2: Sequence validation
	// Price updates run gap-tolerant per-asset partitions; everything
	// else is strictly ordered.
	if priceCmd, ok := cmd.(*command.PriceUpdate); ok {
		if err := c.sequenceValidator.ValidatePriceSequence(priceCmd.FeedAsset, priceCmd.Sequence); err != nil {
			return err
		}
	} else {
		partition := c.getPartition(cmd)
		if err := c.sequenceValidator.ValidateSequence(partition, cmd.SourceSequence(), idempotencyKey, isDuplicate); err != nil {
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreCommandsRejected.WithLabelValues(commandType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Dispatch - validate and build the operation
	op, err := c.dispatch(cmd)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreCommandsRejected.WithLabelValues(commandType, "rejected").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Validate and apply the journal batch. State-only commands
	// (price updates, admin commands, matches) carry an empty batch but
	// still get an envelope in the operation log.
	if len(op.batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(op.batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(op.batch); err != nil {
			return fmt.Errorf("apply batch failed: %w", err)
		}
	}

	// Step 5: Commit state mutations (positions, escrow totals)
	output := CoreOutput{Batch: op.batch}
	if op.commit != nil {
		op.commit(&output)
	}

	// Step 6: Compute state digest and hash. ComputeHash advances the
	// hasher, so the predecessor's hash must be read first to link the
	// chain.
	stateDigest := c.computeStateDigest(op.batch, &output)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	payload, err := command.EncodeCommand(cmd)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode %s payload: %v", commandType, err))
	}

	output.Envelope = &command.OperationEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		CommandType:    cmd.CommandType(),
		Asset:          cmd.Asset(),
		Timestamp:      c.getCommandTimestamp(cmd),
		SourceSequence: cmd.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output.StateDelta = stateDigest
	c.sequence++

	// Step 7: Post-checks
	if err := c.postCheckInvariants(cmd); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 8: Emit output. Persistence uses a BLOCKING send
	// (backpressure, no command is ever lost); projections use a
	// NON-BLOCKING send and rebuild from the operation log if they
	// fall behind.
	c.persistChan <- output

	select {
	case c.projectionChan <- output:
	default:
		// Silently dropped — projection will catch up via rebuild
	}

	// Step 9: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(commandType, idempotencyKey)

	// Record metrics
	if c.metrics != nil {
		c.metrics.CoreCommandsApplied.WithLabelValues(commandType).Inc()
		c.metrics.CoreCommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return nil
}

// getPartition determines partition key for sequence validation
func (c *LendingCore) getPartition(cmd command.Command) string {
	if asset := cmd.Asset(); asset != nil {
		return fmt.Sprintf("asset:%s", *asset)
	}
	return "global"
}

// getCommandTimestamp extracts the versioned timestamp from a command.
// The core never calls time.Now(); all timestamps are inputs.
func (c *LendingCore) getCommandTimestamp(cmd command.Command) time.Time {
	switch e := cmd.(type) {
	case *command.LendOrderCreate:
		return e.Timestamp
	case *command.LendOrderModify:
		return e.Timestamp
	case *command.LendOrderCancel:
		return e.Timestamp
	case *command.BorrowOrderCreate:
		return e.Timestamp
	case *command.BorrowOrderModify:
		return e.Timestamp
	case *command.BorrowOrderCancel:
		return e.Timestamp
	case *command.OrderMatched:
		return e.Timestamp
	case *command.PriceUpdate:
		return time.Unix(e.PublishTime, 0)
	case *command.AssetWhitelist:
		return e.Timestamp
	case *command.PriceFeedRegister:
		return e.Timestamp
	case *command.TrustedEntityAdd:
		return e.Timestamp
	case *command.SetWhitelister:
		return e.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getCommandTimestamp called with unhandled command type %T", cmd))
	}
}

// computeStateDigest creates canonical bytes for the state hash:
// affected account balances, touched escrow totals, and touched
// position records, all in deterministic order.
func (c *LendingCore) computeStateDigest(batch *ledger.Batch, out *CoreOutput) []byte {
	// Collect all affected accounts
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	// Sort by AccountPath (deterministic string ordering)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)

	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, balance)
	}

	for _, rec := range out.Escrows {
		digest = append(digest, byte(len(rec.Asset)))
		digest = append(digest, []byte(rec.Asset)...)
		digest = appendUint64LE(digest, rec.TotalLent)
		digest = appendUint64LE(digest, rec.TotalBorrowed)
	}
	if out.Vault != nil {
		digest = append(digest, byte(len(out.Vault.Asset)))
		digest = append(digest, []byte(out.Vault.Asset)...)
		digest = appendUint64LE(digest, out.Vault.Balance)
	}

	for i := range out.Lenders {
		digest = append(digest, out.Lenders[i].CanonicalBytes()...)
	}
	for i := range out.Borrowers {
		digest = append(digest, out.Borrowers[i].CanonicalBytes()...)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return appendUint64LE(buf, uint64(v))
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after a command commits
func (c *LendingCore) postCheckInvariants(cmd command.Command) error {
	switch cmd.(type) {
	case *command.LendOrderCreate, *command.LendOrderModify, *command.LendOrderCancel,
		*command.BorrowOrderCreate, *command.BorrowOrderModify, *command.BorrowOrderCancel:
		if err := c.validator.ValidateEscrowConsistency(); err != nil {
			return fmt.Errorf("post-check escrow consistency: %w", err)
		}
	}

	// Periodic global zero-sum check
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check global balance (at seq %d): %w", c.sequence, err)
		}
	}

	return nil
}

func (c *LendingCore) dispatch(cmd command.Command) (*operation, error) {
	switch e := cmd.(type) {
	case *command.LendOrderCreate:
		return c.handleLendOrderCreate(e)
	case *command.LendOrderModify:
		return c.handleLendOrderModify(e)
	case *command.LendOrderCancel:
		return c.handleLendOrderCancel(e)
	case *command.BorrowOrderCreate:
		return c.handleBorrowOrderCreate(e)
	case *command.BorrowOrderModify:
		return c.handleBorrowOrderModify(e)
	case *command.BorrowOrderCancel:
		return c.handleBorrowOrderCancel(e)
	case *command.OrderMatched:
		return c.handleOrderMatched(e)
	case *command.PriceUpdate:
		return c.handlePriceUpdate(e)
	case *command.AssetWhitelist:
		return c.handleAssetWhitelist(e)
	case *command.PriceFeedRegister:
		return c.handlePriceFeedRegister(e)
	case *command.TrustedEntityAdd:
		return c.handleTrustedEntityAdd(e)
	case *command.SetWhitelister:
		return c.handleSetWhitelister(e)
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

// emptyBatch builds a journal-free batch for state-only commands.
func (c *LendingCore) emptyBatch(opRef string, timestamp int64) *ledger.Batch {
	return &ledger.Batch{
		BatchID:   uuid.New(),
		OpRef:     opRef,
		Sequence:  c.sequence,
		Timestamp: timestamp,
		Journals:  []ledger.Journal{},
	}
}

func (c *LendingCore) mustApplyDeltas(deltas []ledger.EscrowDelta) {
	if err := c.escrows.Apply(deltas); err != nil {
		panic(fmt.Sprintf("FATAL: staged escrow delta rejected at commit: %v", err))
	}
}

// --- Lender lifecycle ---

func (c *LendingCore) handleLendOrderCreate(cmd *command.LendOrderCreate) (*operation, error) {
	if cmd.Amount == 0 {
		return nil, ErrZeroAmount
	}
	if !c.whitelist.Contains(cmd.LendAsset) {
		return nil, fmt.Errorf("asset %s: %w", cmd.LendAsset, state.ErrTokenNotAllowed)
	}

	terms := state.LoanTerms{InterestRateBps: cmd.InterestRateBps, DurationSeconds: cmd.DurationSeconds}
	if err := terms.Validate(); err != nil {
		return nil, err
	}

	assetID, ok := ledger.GetAssetID(cmd.LendAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", cmd.LendAsset)
	}
	record, err := c.escrows.GetRecord(assetID)
	if err != nil {
		return nil, err
	}
	if _, err := c.positions.GetLenderPosition(cmd.Lender, cmd.LendAsset); err == nil {
		return nil, fmt.Errorf("lend order for %s: %w", cmd.LendAsset, state.ErrPositionExists)
	}

	batch, err := c.journalGen.GenerateLendDeposit(
		cmd.Lender, cmd.RequestID.String(), cmd.LendAsset, assetID, cmd.Amount, cmd.Timestamp.UnixMicro(),
	)
	if err != nil {
		return nil, err
	}
	delta, err := c.escrows.StageCredit(assetID, ledger.FieldTotalLent, cmd.Amount)
	if err != nil {
		return nil, err
	}

	createdAt := cmd.Timestamp.Unix()
	return &operation{
		batch: batch,
		commit: func(out *CoreOutput) {
			pos, err := c.positions.CreateLenderPosition(cmd.Lender, cmd.LendAsset, cmd.Amount, terms, createdAt)
			if err != nil {
				panic(fmt.Sprintf("FATAL: lender position create failed after pre-check: %v", err))
			}
			c.mustApplyDeltas([]ledger.EscrowDelta{delta})
			out.Lenders = append(out.Lenders, *pos)
			out.Escrows = append(out.Escrows, *record)
		},
	}, nil
}

func (c *LendingCore) handleLendOrderModify(cmd *command.LendOrderModify) (*operation, error) {
	pos, err := c.positions.GetLenderPosition(cmd.Lender, cmd.LendAsset)
	if err != nil {
		return nil, err
	}
	if pos.Matched {
		return nil, state.ErrAlreadyMatched
	}

	// Terms are re-validated only when they change.
	newTerms := state.LoanTerms{InterestRateBps: cmd.InterestRateBps, DurationSeconds: cmd.DurationSeconds}
	if newTerms != pos.Terms {
		if err := newTerms.Validate(); err != nil {
			return nil, err
		}
	}

	assetID, ok := ledger.GetAssetID(cmd.LendAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", cmd.LendAsset)
	}
	record, err := c.escrows.GetRecord(assetID)
	if err != nil {
		return nil, err
	}

	accrued := c.accruer.Accrue(pos, cmd.Timestamp.Unix())
	newInterest, err := lmath.AddU64(pos.InterestAccumulated, accrued)
	if err != nil {
		return nil, err
	}

	newAmount := pos.Amount
	var batch *ledger.Batch
	var deltas []ledger.EscrowDelta

	if cmd.TopUpAmount > 0 {
		newAmount, err = lmath.AddU64(pos.Amount, cmd.TopUpAmount)
		if err != nil {
			return nil, err
		}
		batch, err = c.journalGen.GenerateLendTopUp(
			cmd.Lender, cmd.RequestID.String(), cmd.LendAsset, assetID, cmd.TopUpAmount, cmd.Timestamp.UnixMicro(),
		)
		if err != nil {
			return nil, err
		}
		delta, err := c.escrows.StageCredit(assetID, ledger.FieldTotalLent, cmd.TopUpAmount)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, delta)
	} else {
		batch = c.emptyBatch(cmd.RequestID.String(), cmd.Timestamp.UnixMicro())
	}

	return &operation{
		batch: batch,
		commit: func(out *CoreOutput) {
			c.mustApplyDeltas(deltas)
			pos.Amount = newAmount
			pos.Terms = newTerms
			pos.InterestAccumulated = newInterest
			pos.Version++
			out.Lenders = append(out.Lenders, *pos)
			if len(deltas) > 0 {
				out.Escrows = append(out.Escrows, *record)
			}
		},
	}, nil
}

func (c *LendingCore) handleLendOrderCancel(cmd *command.LendOrderCancel) (*operation, error) {
	pos, err := c.positions.GetLenderPosition(cmd.Lender, cmd.LendAsset)
	if err != nil {
		return nil, err
	}
	if pos.Matched {
		return nil, state.ErrAlreadyMatched
	}

	assetID, ok := ledger.GetAssetID(cmd.LendAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", cmd.LendAsset)
	}
	record, err := c.escrows.GetRecord(assetID)
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateLendRefund(
		cmd.Lender, cmd.RequestID.String(), cmd.LendAsset, assetID, pos.Amount,
		ledger.DeriveEscrowAuthority(cmd.LendAsset), cmd.Timestamp.UnixMicro(),
	)
	if err != nil {
		return nil, err
	}
	delta, err := c.escrows.StageDebit(assetID, ledger.FieldTotalLent, pos.Amount)
	if err != nil {
		return nil, err
	}

	return &operation{
		batch: batch,
		commit: func(out *CoreOutput) {
			c.mustApplyDeltas([]ledger.EscrowDelta{delta})
			c.positions.RemoveLenderPosition(cmd.Lender, cmd.LendAsset)
			out.RemovedLenders = append(out.RemovedLenders, *pos)
			out.Escrows = append(out.Escrows, *record)
		},
	}, nil
}

// --- Borrower lifecycle ---

// resolveCollateral verifies the collateral asset is usable and
// returns its ID plus whether it is the native asset. Non-native
// collateral must itself be whitelisted with an escrow record.
func (c *LendingCore) resolveCollateral(collateralAsset string) (ledger.AssetID, bool, error) {
	collateralID, ok := ledger.GetAssetID(collateralAsset)
	if !ok {
		return 0, false, fmt.Errorf("collateral asset %s: %w", collateralAsset, state.ErrTokenNotAllowed)
	}
	if c.escrows.IsNative(collateralID) {
		return collateralID, true, nil
	}
	if !c.whitelist.Contains(collateralAsset) {
		return 0, false, fmt.Errorf("collateral asset %s: %w", collateralAsset, state.ErrTokenNotAllowed)
	}
	if _, err := c.escrows.GetRecord(collateralID); err != nil {
		return 0, false, err
	}
	return collateralID, false, nil
}

// stageCollateralCredit stages the collateral-side escrow credit: the
// native vault balance for native collateral, the collateral asset's
// total_lent otherwise (locked collateral is that asset's supplied
// side).
func (c *LendingCore) stageCollateralCredit(collateralID ledger.AssetID, isNative bool, amount uint64) (ledger.EscrowDelta, error) {
	if isNative {
		return c.escrows.StageCredit(collateralID, ledger.FieldVaultBalance, amount)
	}
	return c.escrows.StageCredit(collateralID, ledger.FieldTotalLent, amount)
}

func (c *LendingCore) stageCollateralDebit(collateralID ledger.AssetID, isNative bool, amount uint64) (ledger.EscrowDelta, error) {
	if isNative {
		return c.escrows.StageDebit(collateralID, ledger.FieldVaultBalance, amount)
	}
	return c.escrows.StageDebit(collateralID, ledger.FieldTotalLent, amount)
}

func (c *LendingCore) collateralOutputs(out *CoreOutput, collateralID ledger.AssetID, isNative bool) {
	if isNative {
		vault := *c.escrows.Vault()
		out.Vault = &vault
		return
	}
	if rec, err := c.escrows.GetRecord(collateralID); err == nil {
		out.Escrows = append(out.Escrows, *rec)
	}
}

func (c *LendingCore) handleBorrowOrderCreate(cmd *command.BorrowOrderCreate) (*operation, error) {
	if cmd.BorrowAmount == 0 {
		return nil, ErrZeroAmount
	}
	if cmd.CollateralAsset == cmd.BorrowAsset {
		return nil, ErrSameAssetCollateral
	}
	if !c.whitelist.Contains(cmd.BorrowAsset) {
		return nil, fmt.Errorf("asset %s: %w", cmd.BorrowAsset, state.ErrTokenNotAllowed)
	}

	terms := state.LoanTerms{InterestRateBps: cmd.InterestRateBps, DurationSeconds: cmd.DurationSeconds}
	if err := terms.Validate(); err != nil {
		return nil, err
	}

	borrowID, ok := ledger.GetAssetID(cmd.BorrowAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", cmd.BorrowAsset)
	}
	borrowRec, err := c.escrows.GetRecord(borrowID)
	if err != nil {
		return nil, err
	}
	collateralID, isNative, err := c.resolveCollateral(cmd.CollateralAsset)
	if err != nil {
		return nil, err
	}
	if _, err := c.positions.GetBorrowerPosition(cmd.Borrower, cmd.BorrowAsset); err == nil {
		return nil, fmt.Errorf("borrow order for %s: %w", cmd.BorrowAsset, state.ErrPositionExists)
	}

	// Size the collateral from fresh oracle quotes, priced at the
	// command's own timestamp.
	collateral, err := c.pricer.RequiredCollateral(cmd.BorrowAsset, cmd.CollateralAsset, cmd.BorrowAmount, cmd.Timestamp.Unix())
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateBorrowDisbursement(
		cmd.Borrower, cmd.RequestID.String(),
		cmd.BorrowAsset, borrowID, cmd.BorrowAmount,
		cmd.CollateralAsset, collateralID, collateral, isNative,
		ledger.DeriveEscrowAuthority(cmd.BorrowAsset), cmd.Timestamp.UnixMicro(),
	)
	if err != nil {
		return nil, err
	}

	borrowDelta, err := c.escrows.StageCredit(borrowID, ledger.FieldTotalBorrowed, cmd.BorrowAmount)
	if err != nil {
		return nil, err
	}
	collateralDelta, err := c.stageCollateralCredit(collateralID, isNative, collateral)
	if err != nil {
		return nil, err
	}

	startedAt := cmd.Timestamp.Unix()
	return &operation{
		batch: batch,
		commit: func(out *CoreOutput) {
			pos, err := c.positions.CreateBorrowerPosition(
				cmd.Borrower, cmd.BorrowAsset, cmd.CollateralAsset,
				cmd.BorrowAmount, collateral, terms, startedAt,
			)
			if err != nil {
				panic(fmt.Sprintf("FATAL: borrower position create failed after pre-check: %v", err))
			}
			c.mustApplyDeltas([]ledger.EscrowDelta{borrowDelta, collateralDelta})
			out.Borrowers = append(out.Borrowers, *pos)
			out.Escrows = append(out.Escrows, *borrowRec)
			c.collateralOutputs(out, collateralID, isNative)
		},
	}, nil
}

func (c *LendingCore) handleBorrowOrderModify(cmd *command.BorrowOrderModify) (*operation, error) {
	pos, err := c.positions.GetBorrowerPosition(cmd.Borrower, cmd.BorrowAsset)
	if err != nil {
		return nil, err
	}
	if pos.Matched {
		return nil, state.ErrAlreadyMatched
	}

	// Terms are replaced unconditionally on modify.
	newTerms := state.LoanTerms{InterestRateBps: cmd.InterestRateBps, DurationSeconds: cmd.DurationSeconds}
	if err := newTerms.Validate(); err != nil {
		return nil, err
	}

	if cmd.AdditionalAmount == 0 {
		batch := c.emptyBatch(cmd.RequestID.String(), cmd.Timestamp.UnixMicro())
		return &operation{
			batch: batch,
			commit: func(out *CoreOutput) {
				pos.Terms = newTerms
				pos.Version++
				out.Borrowers = append(out.Borrowers, *pos)
			},
		}, nil
	}

	borrowID, ok := ledger.GetAssetID(cmd.BorrowAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", cmd.BorrowAsset)
	}
	borrowRec, err := c.escrows.GetRecord(borrowID)
	if err != nil {
		return nil, err
	}
	collateralID, isNative, err := c.resolveCollateral(pos.CollateralAsset)
	if err != nil {
		return nil, err
	}

	// The growth is priced on its own; the extra collateral stacks on
	// what the order already locked.
	extraCollateral, err := c.pricer.RequiredCollateral(cmd.BorrowAsset, pos.CollateralAsset, cmd.AdditionalAmount, cmd.Timestamp.Unix())
	if err != nil {
		return nil, err
	}
	newBorrow, err := lmath.AddU64(pos.BorrowAmount, cmd.AdditionalAmount)
	if err != nil {
		return nil, err
	}
	newCollateral, err := lmath.AddU64(pos.CollateralAmount, extraCollateral)
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateBorrowDisbursement(
		cmd.Borrower, cmd.RequestID.String(),
		cmd.BorrowAsset, borrowID, cmd.AdditionalAmount,
		pos.CollateralAsset, collateralID, extraCollateral, isNative,
		ledger.DeriveEscrowAuthority(cmd.BorrowAsset), cmd.Timestamp.UnixMicro(),
	)
	if err != nil {
		return nil, err
	}

	borrowDelta, err := c.escrows.StageCredit(borrowID, ledger.FieldTotalBorrowed, cmd.AdditionalAmount)
	if err != nil {
		return nil, err
	}
	collateralDelta, err := c.stageCollateralCredit(collateralID, isNative, extraCollateral)
	if err != nil {
		return nil, err
	}

	return &operation{
		batch: batch,
		commit: func(out *CoreOutput) {
			c.mustApplyDeltas([]ledger.EscrowDelta{borrowDelta, collateralDelta})
			pos.BorrowAmount = newBorrow
			pos.CollateralAmount = newCollateral
			pos.Terms = newTerms
			pos.Version++
			out.Borrowers = append(out.Borrowers, *pos)
			out.Escrows = append(out.Escrows, *borrowRec)
			c.collateralOutputs(out, collateralID, isNative)
		},
	}, nil
}

func (c *LendingCore) handleBorrowOrderCancel(cmd *command.BorrowOrderCancel) (*operation, error) {
	pos, err := c.positions.GetBorrowerPosition(cmd.Borrower, cmd.BorrowAsset)
	if err != nil {
		return nil, err
	}
	if pos.Matched {
		return nil, state.ErrAlreadyMatched
	}

	borrowID, ok := ledger.GetAssetID(cmd.BorrowAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", cmd.BorrowAsset)
	}
	borrowRec, err := c.escrows.GetRecord(borrowID)
	if err != nil {
		return nil, err
	}
	collateralID, isNative, err := c.resolveCollateral(pos.CollateralAsset)
	if err != nil {
		return nil, err
	}

	// The borrower returns the full outstanding amount and the full
	// collateral comes back. Partial repayment is not a cancel.
	batch, err := c.journalGen.GenerateBorrowClose(
		cmd.Borrower, cmd.RequestID.String(),
		cmd.BorrowAsset, borrowID, pos.BorrowAmount,
		pos.CollateralAsset, collateralID, pos.CollateralAmount, isNative,
		ledger.DeriveVaultAuthority(pos.CollateralAsset), cmd.Timestamp.UnixMicro(),
	)
	if err != nil {
		return nil, err
	}

	borrowDelta, err := c.escrows.StageDebit(borrowID, ledger.FieldTotalBorrowed, pos.BorrowAmount)
	if err != nil {
		return nil, err
	}
	collateralDelta, err := c.stageCollateralDebit(collateralID, isNative, pos.CollateralAmount)
	if err != nil {
		return nil, err
	}

	return &operation{
		batch: batch,
		commit: func(out *CoreOutput) {
			c.mustApplyDeltas([]ledger.EscrowDelta{borrowDelta, collateralDelta})
			c.positions.RemoveBorrowerPosition(cmd.Borrower, cmd.BorrowAsset)
			out.RemovedBorrowers = append(out.RemovedBorrowers, *pos)
			out.Escrows = append(out.Escrows, *borrowRec)
			c.collateralOutputs(out, collateralID, isNative)
		},
	}, nil
}

// --- Matching ---

// handleOrderMatched records a match reported by an external matching
// engine. The core validates and flips the matched flags; it never
// pairs orders itself.
func (c *LendingCore) handleOrderMatched(cmd *command.OrderMatched) (*operation, error) {
	if !c.roles.IsTrusted(cmd.SubmittedBy) {
		return nil, ErrUntrustedSubmitter
	}

	lendPos, err := c.positions.GetLenderPosition(cmd.Lender, cmd.MatchAsset)
	if err != nil {
		return nil, fmt.Errorf("lender side: %w", err)
	}
	borrowPos, err := c.positions.GetBorrowerPosition(cmd.Borrower, cmd.MatchAsset)
	if err != nil {
		return nil, fmt.Errorf("borrower side: %w", err)
	}
	if lendPos.Matched || borrowPos.Matched {
		return nil, state.ErrAlreadyMatched
	}

	batch := c.emptyBatch(cmd.MatchID.String(), cmd.Timestamp.UnixMicro())
	return &operation{
		batch: batch,
		commit: func(out *CoreOutput) {
			if err := c.positions.MarkMatched(cmd.Lender, cmd.Borrower, cmd.MatchAsset); err != nil {
				panic(fmt.Sprintf("FATAL: match failed after pre-check: %v", err))
			}
			out.Lenders = append(out.Lenders, *lendPos)
			out.Borrowers = append(out.Borrowers, *borrowPos)
		},
	}, nil
}

// --- Oracle and admin commands ---

// handlePriceUpdate caches a quote. No journals; unregistered feeds
// are cached too and stay inert until some asset binds to them.
func (c *LendingCore) handlePriceUpdate(cmd *command.PriceUpdate) (*operation, error) {
	c.quotes.Update(cmd.FeedID, oracle.PriceQuote{
		Mantissa:    cmd.Mantissa,
		Exponent:    cmd.Exponent,
		PublishTime: cmd.PublishTime,
		Sequence:    cmd.Sequence,
	})

	return &operation{batch: c.emptyBatch(cmd.IdempotencyKey(), cmd.PublishTime*1_000_000)}, nil
}

// handleAssetWhitelist admits a token and initializes its escrow
// record in the same unit of work.
func (c *LendingCore) handleAssetWhitelist(cmd *command.AssetWhitelist) (*operation, error) {
	if err := c.whitelist.Add(c.roles, cmd.Caller, cmd.Token); err != nil {
		return nil, err
	}
	record, err := c.escrows.InitRecord(cmd.Token)
	if err != nil {
		// A token passes the whitelist duplicate check iff it has no
		// escrow record; the two are only ever written together.
		panic(fmt.Sprintf("FATAL: escrow init failed for freshly whitelisted %s: %v", cmd.Token, err))
	}

	batch := c.emptyBatch(cmd.RequestID.String(), cmd.Timestamp.UnixMicro())
	return &operation{
		batch: batch,
		commit: func(out *CoreOutput) {
			out.Escrows = append(out.Escrows, *record)
		},
	}, nil
}

func (c *LendingCore) handlePriceFeedRegister(cmd *command.PriceFeedRegister) (*operation, error) {
	if err := c.registry.AddFeed(cmd.Caller, cmd.FeedAsset, cmd.FeedID); err != nil {
		return nil, err
	}
	return &operation{batch: c.emptyBatch(cmd.RequestID.String(), cmd.Timestamp.UnixMicro())}, nil
}

func (c *LendingCore) handleTrustedEntityAdd(cmd *command.TrustedEntityAdd) (*operation, error) {
	if err := c.roles.AddTrustedEntity(cmd.Caller, cmd.Entity); err != nil {
		return nil, err
	}
	return &operation{batch: c.emptyBatch(cmd.RequestID.String(), cmd.Timestamp.UnixMicro())}, nil
}

func (c *LendingCore) handleSetWhitelister(cmd *command.SetWhitelister) (*operation, error) {
	if err := c.roles.SetWhitelister(cmd.Caller, cmd.Whitelister); err != nil {
		return nil, err
	}
	return &operation{batch: c.emptyBatch(cmd.RequestID.String(), cmd.Timestamp.UnixMicro())}, nil
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence  int64
	StateHash [32]byte

	Balances map[ledger.AccountKey]int64
	Assets   []ledger.RegisteredAsset
	Escrows  []*ledger.EscrowRecord
	Vault    *ledger.NativeVault

	Lenders         []*state.LenderPosition
	Borrowers       []*state.BorrowerPosition
	LenderCounter   state.PositionCounter
	BorrowerCounter state.PositionCounter

	Roles     *state.RoleSet
	Whitelist []string
	Registry  *state.PriceFeedRegistry
	Quotes    []oracle.FeedQuote

	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state. On warm
// restart, the latest snapshot loads first, then the operation log
// replays on top.
func (c *LendingCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.hasher.SetPrevHash(snap.StateHash)

	ledger.RestoreAssets(snap.Assets)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	c.escrows.Restore(snap.Escrows, snap.Vault)

	for _, pos := range snap.Lenders {
		c.positions.SetLenderPosition(pos)
	}
	for _, pos := range snap.Borrowers {
		c.positions.SetBorrowerPosition(pos)
	}
	c.positions.RestoreCounters(snap.LenderCounter, snap.BorrowerCounter)

	// Mutate role records in place; the pricer holds the registry.
	if snap.Roles != nil {
		*c.roles = *snap.Roles
	}
	c.whitelist.Tokens = append(c.whitelist.Tokens[:0], snap.Whitelist...)
	if snap.Registry != nil {
		c.registry.Authority = snap.Registry.Authority
		c.registry.Feeds = append(c.registry.Feeds[:0], snap.Registry.Feeds...)
	}
	c.quotes.Restore(snap.Quotes)

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}

	c.journalGen.SetSequence(snap.Sequence)
}

// WarmLRU loads recent idempotency keys into the LRU cache so warm
// restarts skip the cold-path DB lookups.
func (c *LendingCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *LendingCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *LendingCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// Escrows exposes the escrow manager for read-only callers.
func (c *LendingCore) Escrows() *ledger.EscrowManager {
	return c.escrows
}

// Positions exposes the position manager for read-only callers.
func (c *LendingCore) Positions() *state.PositionManager {
	return c.positions
}

// Balances exposes the balance tracker for read-only callers.
func (c *LendingCore) Balances() *ledger.BalanceTracker {
	return c.balanceTracker
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *LendingCore) CreateSnapshotState() *SnapshotState {
	lenderCounter, borrowerCounter := c.positions.Counters()
	roles := *c.roles
	registry := *c.registry

	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Assets:          ledger.ExportAssets(),
		Escrows:         c.escrows.AllRecords(),
		Vault:           c.escrows.Vault(),
		Lenders:         c.positions.AllLenderPositions(),
		Borrowers:       c.positions.AllBorrowerPositions(),
		LenderCounter:   lenderCounter,
		BorrowerCounter: borrowerCounter,
		Roles:           &roles,
		Whitelist:       append([]string(nil), c.whitelist.Tokens...),
		Registry:        &registry,
		Quotes:          c.quotes.Export(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
