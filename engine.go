package ledgerxgo

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	ActionTransferCompleted    = "TRANSFER_COMPLETED"
	ActionTransferFailed       = "TRANSFER_FAILED"
	ActionTransferRejected     = "TRANSFER_REJECTED"
	ActionCompensate           = "COMPENSATE"
	ActionAccountStatusChanged = "ACCOUNT_STATUS_CHANGED"
	ActionComplianceFlag       = "COMPLIANCE_FLAG"
)

// Auditor records ledger actions. Implementations never fail the caller.
type Auditor interface {
	Record(ctx context.Context, entry AuditEntry)
}

type FeeSchedule map[TxnType]decimal.Decimal

func (f FeeSchedule) For(t TxnType) decimal.Decimal {
	if fee, ok := f[t]; ok {
		return fee
	}
	return decimal.Zero
}

func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{TxnInternationalTransfer: decimal.NewFromInt(15)}
}

type EngineConfig struct {
	MaxRetries   int
	RetryBackoff time.Duration
	Fees         FeeSchedule
}

type TransferCmd struct {
	TransactionID string
	From          snowflake.ID
	To            snowflake.ID
	Amount        decimal.Decimal
	Type          TxnType
	Description   string
	// Reference is generated when empty.
	Reference string
	Actor     Actor
}

// Engine executes funds movements as atomic, idempotent, balanced postings.
type Engine struct {
	repo       Repository
	audit      Auditor
	node       *snowflake.Node
	sys        SystemAccounts
	fees       FeeSchedule
	maxRetries int
	backoff    time.Duration
	log        *zerolog.Logger
}

func NewEngine(
	repo Repository,
	audit Auditor,
	node *snowflake.Node,
	sys SystemAccounts,
	cfg EngineConfig,
	log *zerolog.Logger,
) (*Engine, error) {
	for _, id := range []snowflake.ID{sys.Suspense, sys.Fees} {
		if _, err := repo.GetAccount(context.Background(), id); err != nil {
			return nil, fmt.Errorf("system account %d: %w", id, err)
		}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 10 * time.Millisecond
	}
	if cfg.Fees == nil {
		cfg.Fees = DefaultFeeSchedule()
	}
	return &Engine{
		repo:       repo,
		audit:      audit,
		node:       node,
		sys:        sys,
		fees:       cfg.Fees,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		log:        log,
	}, nil
}

func (e *Engine) SystemAccounts() SystemAccounts {
	return e.sys
}

func (e *Engine) NewTransactionID() string {
	return "TXN_" + e.node.Generate().String()
}

// ExecuteTransfer moves cmd.Amount from cmd.From to cmd.To. A transaction ID that was
// already used returns the stored outcome without touching any balance.
func (e *Engine) ExecuteTransfer(ctx context.Context, cmd TransferCmd) (*TransactionResult, error) {
	if err := e.validate(cmd); err != nil {
		e.Reject(ctx, cmd, err, nil)
		return nil, err
	}

	if cmd.TransactionID == "" {
		cmd.TransactionID = e.NewTransactionID()
	}
	if cmd.Reference == "" {
		cmd.Reference = generateReference()
	}
	txn := Transaction{
		ID:          cmd.TransactionID,
		Reference:   cmd.Reference,
		Type:        cmd.Type,
		From:        cmd.From,
		To:          cmd.To,
		Subject:     e.subject(cmd),
		Amount:      cmd.Amount,
		Fee:         e.fees.For(cmd.Type),
		Description: cmd.Description,
		ActorID:     cmd.Actor.ID,
	}

	stored, created, err := e.repo.ClaimTransaction(ctx, txn)
	if err != nil {
		e.log.Err(err).Str("txn", txn.ID).Msg("error claiming transaction")
		e.audit.Record(ctx, e.entryFor(&txn, ActionTransferFailed, nil, nil, map[string]string{
			"failure_code": CodePersistenceFailure,
		}))
		return nil, ErrPersistence{Op: "claim transaction", Err: err}
	}
	if !created {
		return e.replay(ctx, &txn, stored)
	}

	posting, err := e.post(ctx, &txn)
	if err != nil {
		return nil, e.fail(ctx, &txn, err)
	}

	e.audit.Record(ctx, e.entryFor(&posting.Transaction, ActionTransferCompleted, posting.Before, posting.After, nil))
	e.log.Info().
		Str("txn", txn.ID).
		Str("type", string(txn.Type)).
		Str("amount", txn.Amount.String()).
		Msg("transaction completed")
	return posting.Transaction.Result(), nil
}

// Reject audits a movement that was refused before any transaction was claimed.
func (e *Engine) Reject(ctx context.Context, cmd TransferCmd, cause error, extra map[string]string) {
	e.audit.Record(ctx, rejectionEntry(cmd, cause, extra))
}

func rejectionEntry(cmd TransferCmd, cause error, extra map[string]string) AuditEntry {
	md := map[string]string{
		"type":         string(cmd.Type),
		"reason":       cause.Error(),
		"failure_code": FailureCode(cause),
	}
	if cmd.To != 0 {
		md["to"] = cmd.To.String()
	}
	for k, v := range extra {
		md[k] = v
	}
	return AuditEntry{
		TransactionID: cmd.TransactionID,
		AcctID:        cmd.From,
		Action:        ActionTransferRejected,
		ActorID:       cmd.Actor.ID,
		Amount:        cmd.Amount,
		Severity:      SeverityLow,
		Metadata:      md,
	}
}

func (e *Engine) validate(cmd TransferCmd) error {
	if err := ValidateAmount(cmd.Amount); err != nil {
		return err
	}
	if !cmd.Type.Valid() {
		return ErrBadRequest{Fields: map[string]string{"type": "unrecognized transaction type"}}
	}
	if cmd.From == cmd.To {
		return ErrBadRequest{Fields: map[string]string{"to": "must differ from source account"}}
	}
	return nil
}

// subject is the account whose balances the caller gets back.
func (e *Engine) subject(cmd TransferCmd) snowflake.ID {
	if e.sys.Contains(cmd.From) {
		return cmd.To
	}
	return cmd.From
}

func (e *Engine) replay(ctx context.Context, txn, stored *Transaction) (*TransactionResult, error) {
	if !stored.SamePayload(txn) {
		return nil, ErrDuplicateTransaction{TransactionID: txn.ID}
	}
	var err error
	for attempt := 1; stored.Status == TxnPending; attempt++ {
		if attempt > e.maxRetries {
			return nil, ErrDuplicateTransaction{TransactionID: txn.ID, InProgress: true}
		}
		if err = e.sleep(ctx, attempt); err != nil {
			return nil, err
		}
		if stored, err = e.repo.GetTransaction(ctx, txn.ID); err != nil {
			return nil, ErrPersistence{Op: "get transaction", Err: err}
		}
	}

	e.log.Info().
		Str("txn", txn.ID).
		Str("status", string(stored.Status)).
		Msg("replaying stored transaction")
	if stored.Status == TxnFailed {
		return nil, failureFromCode(stored)
	}
	res := stored.Result()
	res.Replayed = true
	return res, nil
}

func (e *Engine) post(ctx context.Context, txn *Transaction) (*Posting, error) {
	accts := []snowflake.ID{txn.From, txn.To}
	if txn.Fee.IsPositive() {
		accts = append(accts, e.sys.Fees)
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}
		posting, err := e.repo.PostTransaction(ctx, txn.ID, accts, e.postFunc(txn))
		if err == nil {
			return posting, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) {
			return nil, err
		}
		lastErr = err
		e.log.Warn().
			Str("txn", txn.ID).
			Int("attempt", attempt+1).
			Msg("posting conflicted, retrying")
	}
	return nil, ErrPersistence{Op: "post transaction", Err: lastErr}
}

func (e *Engine) postFunc(txn *Transaction) PostFunc {
	return func(accts map[snowflake.ID]Account) ([]LedgerEntry, error) {
		from, ok := accts[txn.From]
		if !ok {
			return nil, ErrAccountNotFound{ID: txn.From.Int64()}
		}
		to, ok := accts[txn.To]
		if !ok {
			return nil, ErrAccountNotFound{ID: txn.To.Int64()}
		}
		for _, acct := range []Account{from, to} {
			if !e.sys.Contains(acct.AcctID) && acct.Status != StatusActive {
				return nil, ErrAccountInactive{ID: acct.AcctID.Int64(), Status: acct.Status}
			}
		}

		total := txn.Amount.Add(txn.Fee)
		if txn.Type.Bounded() && !e.sys.Contains(from.AcctID) && from.Balance.LessThan(total) {
			return nil, ErrInsufficientFunds{
				ID:       from.AcctID.Int64(),
				Balance:  from.Balance.String(),
				Required: total.String(),
			}
		}

		entries := []LedgerEntry{
			{AcctID: from.AcctID, Amount: total.Neg()},
			{AcctID: to.AcctID, Amount: txn.Amount},
		}
		if txn.Fee.IsPositive() {
			if _, ok := accts[e.sys.Fees]; !ok {
				return nil, ErrAccountNotFound{ID: e.sys.Fees.Int64()}
			}
			entries = append(entries, LedgerEntry{AcctID: e.sys.Fees, Amount: txn.Fee})
		}
		if sum := SumEntries(entries); !sum.IsZero() {
			return nil, fmt.Errorf("unbalanced posting for %s: entries sum to %s", txn.ID, sum)
		}
		return entries, nil
	}
}

// fail settles a claimed transaction as failed and returns the error the caller sees.
func (e *Engine) fail(ctx context.Context, txn *Transaction, cause error) error {
	ctx = context.WithoutCancel(ctx)
	failed := *txn
	failed.Status = TxnFailed
	failed.FailureCode = FailureCode(cause)
	failed.FailureReason = cause.Error()
	failed.FailureDetail = failureDetail(cause)
	var insufficient ErrInsufficientFunds
	if errors.As(cause, &insufficient) {
		if bal, err := decimal.NewFromString(insufficient.Balance); err == nil {
			failed.BalanceBefore, failed.BalanceAfter = bal, bal
		}
	}
	if err := e.repo.FailTransaction(ctx, failed); err != nil {
		e.log.Err(err).Str("txn", txn.ID).Msg("error marking transaction failed")
	}

	var compensated ErrCompensated
	if errors.As(cause, &compensated) {
		e.log.Warn().
			Err(compensated.Err).
			Str("txn", txn.ID).
			Msg("posting compensated")
		e.audit.Record(ctx, e.entryFor(&failed, ActionCompensate, compensated.Accounts, compensated.Accounts, map[string]string{
			"reason": compensated.Err.Error(),
		}))
	}

	e.audit.Record(ctx, e.entryFor(&failed, ActionTransferFailed, nil, nil, map[string]string{
		"failure_code":   failed.FailureCode,
		"failure_reason": failed.FailureReason,
	}))

	if failed.FailureCode == CodePersistenceFailure {
		e.log.Err(cause).Str("txn", txn.ID).Msg("transaction failed")
		var perr ErrPersistence
		if errors.As(cause, &perr) {
			return perr
		}
		return ErrPersistence{Op: "post transaction", Err: cause}
	}
	return cause
}

func (e *Engine) entryFor(txn *Transaction, action string, before, after []AccountSnapshot, extra map[string]string) AuditEntry {
	md := map[string]string{
		"type":      string(txn.Type),
		"reference": txn.Reference,
		"from":      txn.From.String(),
		"to":        txn.To.String(),
		"fee":       txn.Fee.String(),
	}
	if txn.Description != "" {
		md["description"] = txn.Description
	}
	for k, v := range extra {
		md[k] = v
	}
	severity := SeverityInfo
	if action != ActionTransferCompleted {
		severity = SeverityMedium
	}
	if action == ActionCompensate {
		severity = SeverityHigh
	}
	return AuditEntry{
		TransactionID: txn.ID,
		AcctID:        txn.Subject,
		Action:        action,
		ActorID:       txn.ActorID,
		Before:        before,
		After:         after,
		Amount:        txn.Amount,
		Metadata:      md,
		Severity:      severity,
	}
}

func (e *Engine) sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(e.backoff * time.Duration(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetAccountStatus is the one direct administrative account mutation. Balances are
// never touched here.
func (e *Engine) SetAccountStatus(ctx context.Context, id snowflake.ID, status AccountStatus, actor Actor) (*Account, error) {
	if !status.Valid() {
		return nil, ErrBadRequest{Fields: map[string]string{"status": "must be active, inactive or frozen"}}
	}
	if e.sys.Contains(id) {
		return nil, ErrForbidden{Reason: "system accounts cannot change status"}
	}
	before, after, err := e.repo.UpdateAccountStatus(ctx, id, status)
	if err != nil {
		if errors.As(err, &ErrAccountNotFound{}) {
			return nil, err
		}
		return nil, ErrPersistence{Op: "update account status", Err: err}
	}
	e.audit.Record(ctx, AuditEntry{
		AcctID:   id,
		Action:   ActionAccountStatusChanged,
		ActorID:  actor.ID,
		Before:   []AccountSnapshot{before.Snapshot()},
		After:    []AccountSnapshot{after.Snapshot()},
		Amount:   decimal.Zero,
		Severity: SeverityMedium,
		Metadata: map[string]string{
			"from_status": string(before.Status),
			"to_status":   string(after.Status),
		},
	})
	return after, nil
}

// Balance reads the committed balance.
func (e *Engine) Balance(ctx context.Context, id snowflake.ID) (decimal.Decimal, error) {
	acct, err := e.repo.GetAccount(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Balance, nil
}

// History returns the account's transactions, newest first, as seen from that account.
func (e *Engine) History(ctx context.Context, id snowflake.ID, limit int) ([]Transaction, error) {
	if _, err := e.repo.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	txns, err := e.repo.ListTransactions(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	for i := range txns {
		txns[i] = txns[i].ViewFor(id)
	}
	return txns, nil
}

func generateReference() string {
	return fmt.Sprintf("TX%d", 1_000_000_000+rand.Int64N(9_000_000_000))
}
