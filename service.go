package ledgerxgo

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=mocks/service.go -package=mocks . Service

type TransferReq struct {
	TransactionID string          `json:"transaction_id" validate:"omitempty,max=64"`
	From          snowflake.ID    `json:"from_account_id" validate:"required"`
	To            snowflake.ID    `json:"to_account_id" validate:"omitempty,nefield=From"`
	ToNumber      string          `json:"to_account_number" validate:"required_without=To,max=34"`
	Amount        decimal.Decimal `json:"amount"`
	Type          TxnType         `json:"type" validate:"omitempty,oneof=transfer international_transfer"`
	Description   string          `json:"description" validate:"max=255"`
	Actor         Actor           `json:"-"`
}

// ChargeReq moves money between one account and the outside world. Type defaults to
// deposit or withdrawal depending on the operation.
type ChargeReq struct {
	TransactionID string          `json:"transaction_id" validate:"omitempty,max=64"`
	AcctID        snowflake.ID    `json:"-" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Type          TxnType         `json:"type" validate:"omitempty,oneof=deposit interest bonus refund withdrawal fee card_purchase"`
	Description   string          `json:"description" validate:"max=255"`
	Actor         Actor           `json:"-"`
}

type ManualReq struct {
	TransactionID string          `json:"transaction_id" validate:"omitempty,max=64"`
	AcctID        snowflake.ID    `json:"account_id" validate:"required"`
	OwnerID       string          `json:"user_id" validate:"required"`
	Type          TxnType         `json:"type" validate:"required,oneof=deposit interest bonus refund withdrawal fee adjustment"`
	Direction     string          `json:"direction" validate:"omitempty,oneof=credit debit"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description" validate:"max=255"`
	Actor         Actor           `json:"-"`
}

type BulkReq struct {
	BatchID string    `json:"batch_id" validate:"omitempty,max=32,alphanum"`
	Rows    []BulkRow `json:"rows" validate:"required_without=CSV"`
	CSV     string    `json:"csv_data" validate:"required_without=Rows"`
	Actor   Actor     `json:"-"`
}

type BalanceReq struct {
	AcctID snowflake.ID `validate:"required"`
	Actor  Actor
}

type HistoryReq struct {
	AcctID snowflake.ID `validate:"required"`
	Limit  int          `validate:"min=0,max=500"`
	Actor  Actor
}

type StatementReq struct {
	AcctID snowflake.ID `validate:"required"`
	Actor  Actor
}

type StatusReq struct {
	AcctID snowflake.ID  `json:"-" validate:"required"`
	Status AccountStatus `json:"status" validate:"required,oneof=active inactive frozen"`
	Actor  Actor         `json:"-"`
}

type Service interface {
	Transfer(ctx context.Context, req TransferReq) (*TransactionResult, error)
	Deposit(ctx context.Context, req ChargeReq) (*TransactionResult, error)
	Withdraw(ctx context.Context, req ChargeReq) (*TransactionResult, error)
	ManualTransaction(ctx context.Context, req ManualReq) (*TransactionResult, error)
	ImportBatch(ctx context.Context, req BulkReq) (*BatchResult, error)
	Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error)
	History(ctx context.Context, req HistoryReq) ([]Transaction, error)
	Statement(ctx context.Context, w io.Writer, req StatementReq) error
	SetAccountStatus(ctx context.Context, req StatusReq) (*Account, error)
}

const defaultHistoryLimit = 50

func NewService(engine *Engine, gate *ComplianceGate, bulk *BulkProcessor, repo Repository, log *zerolog.Logger) *serviceImpl {
	return &serviceImpl{
		engine: engine,
		gate:   gate,
		bulk:   bulk,
		repo:   repo,
		log:    log,
		now:    time.Now,
	}
}

type serviceImpl struct {
	engine *Engine
	gate   *ComplianceGate
	bulk   *BulkProcessor
	repo   Repository
	log    *zerolog.Logger
	now    func() time.Time
}

func (s *serviceImpl) Transfer(ctx context.Context, req TransferReq) (*TransactionResult, error) {
	if req.Type == "" {
		req.Type = TxnTransfer
	}
	if req.TransactionID == "" {
		req.TransactionID = s.engine.NewTransactionID()
	}
	cmd := TransferCmd{
		TransactionID: req.TransactionID,
		From:          req.From,
		To:            req.To,
		Amount:        req.Amount,
		Type:          req.Type,
		Description:   req.Description,
		Actor:         req.Actor,
	}
	to, err := ResolveRecipient(ctx, s.repo, req)
	if err != nil {
		return nil, s.reject(ctx, cmd, err)
	}
	cmd.To = to
	from, err := s.repo.GetAccount(ctx, req.From)
	if err != nil {
		return nil, s.reject(ctx, cmd, err)
	}
	if err = s.screen(ctx, req.TransactionID, from, req.Type, req.Amount, req.Actor); err != nil {
		return nil, s.reject(ctx, cmd, err)
	}
	res, err := s.engine.ExecuteTransfer(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !res.Replayed {
		s.gate.Record(ctx, from.OwnerID, req.Amount)
	}
	return res, nil
}

func (s *serviceImpl) Deposit(ctx context.Context, req ChargeReq) (*TransactionResult, error) {
	if req.Type == "" {
		req.Type = TxnDeposit
	}
	from, to := s.engine.SystemAccounts().Legs(req.Type, req.AcctID, false)
	cmd := TransferCmd{
		TransactionID: req.TransactionID,
		From:          from,
		To:            to,
		Amount:        req.Amount,
		Type:          req.Type,
		Description:   req.Description,
		Actor:         req.Actor,
	}
	if !req.Type.Credits() {
		cmd.From, cmd.To = req.AcctID, 0
		return nil, s.reject(ctx, cmd, ErrBadRequest{Fields: map[string]string{"type": "not a deposit type"}})
	}
	return s.engine.ExecuteTransfer(ctx, cmd)
}

func (s *serviceImpl) Withdraw(ctx context.Context, req ChargeReq) (*TransactionResult, error) {
	if req.Type == "" {
		req.Type = TxnWithdrawal
	}
	if req.TransactionID == "" {
		req.TransactionID = s.engine.NewTransactionID()
	}
	from, to := s.engine.SystemAccounts().Legs(req.Type, req.AcctID, true)
	cmd := TransferCmd{
		TransactionID: req.TransactionID,
		From:          from,
		To:            to,
		Amount:        req.Amount,
		Type:          req.Type,
		Description:   req.Description,
		Actor:         req.Actor,
	}
	if !req.Type.Debits() {
		cmd.From, cmd.To = req.AcctID, 0
		return nil, s.reject(ctx, cmd, ErrBadRequest{Fields: map[string]string{"type": "not a withdrawal type"}})
	}
	acct, err := s.repo.GetAccount(ctx, req.AcctID)
	if err != nil {
		return nil, s.reject(ctx, cmd, err)
	}
	if req.Type != TxnFee {
		if err = s.screen(ctx, req.TransactionID, acct, req.Type, req.Amount, req.Actor); err != nil {
			return nil, s.reject(ctx, cmd, err)
		}
	}
	res, err := s.engine.ExecuteTransfer(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !res.Replayed && req.Type != TxnFee {
		s.gate.Record(ctx, acct.OwnerID, req.Amount)
	}
	return res, nil
}

// ManualTransaction is a back-office movement on a single account. It bypasses the
// compliance gate.
func (s *serviceImpl) ManualTransaction(ctx context.Context, req ManualReq) (*TransactionResult, error) {
	ref := "MANUAL_" + s.engine.node.Generate().String()
	if req.TransactionID == "" {
		req.TransactionID = ref
	}
	if req.Description == "" {
		req.Description = "Manual " + string(req.Type)
	}
	from, to := s.engine.SystemAccounts().Legs(req.Type, req.AcctID, req.Direction == "debit")
	cmd := TransferCmd{
		TransactionID: req.TransactionID,
		Reference:     ref,
		From:          from,
		To:            to,
		Amount:        req.Amount,
		Type:          req.Type,
		Description:   req.Description,
		Actor:         req.Actor,
	}
	acct, err := s.repo.GetAccount(ctx, req.AcctID)
	if err != nil {
		return nil, s.reject(ctx, cmd, err)
	}
	if acct.OwnerID != req.OwnerID {
		return nil, s.reject(ctx, cmd, ErrAccountNotFound{ID: req.AcctID.Int64()})
	}
	return s.engine.ExecuteTransfer(ctx, cmd)
}

func (s *serviceImpl) ImportBatch(ctx context.Context, req BulkReq) (*BatchResult, error) {
	rows := req.Rows
	if len(rows) == 0 {
		parsed, err := ParseBulkCSV(strings.NewReader(req.CSV))
		if err != nil {
			return nil, err
		}
		rows = parsed
	}
	return s.bulk.ImportBatch(ctx, req.BatchID, rows, req.Actor), nil
}

func (s *serviceImpl) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	bal, err := s.engine.Balance(ctx, req.AcctID)
	if err != nil {
		return nil, err
	}
	return &bal, nil
}

func (s *serviceImpl) History(ctx context.Context, req HistoryReq) ([]Transaction, error) {
	limit := req.Limit
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	return s.engine.History(ctx, req.AcctID, limit)
}

func (s *serviceImpl) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	acct, err := s.repo.GetAccount(ctx, req.AcctID)
	if err != nil {
		return err
	}
	txns, err := s.engine.History(ctx, req.AcctID, 0)
	if err != nil {
		return err
	}
	return WriteStatement(w, acct, txns, s.now())
}

func (s *serviceImpl) SetAccountStatus(ctx context.Context, req StatusReq) (*Account, error) {
	return s.engine.SetAccountStatus(ctx, req.AcctID, req.Status, req.Actor)
}

// reject audits a movement refused before it reached the engine and returns cause.
func (s *serviceImpl) reject(ctx context.Context, cmd TransferCmd, cause error) error {
	s.engine.Reject(ctx, cmd, cause, nil)
	return cause
}

// screen runs the compliance gate unless the transaction ID was already claimed, in which
// case the engine replays it and no new movement happens.
func (s *serviceImpl) screen(ctx context.Context, txnID string, acct *Account, typ TxnType, amount decimal.Decimal, actor Actor) error {
	if _, err := s.repo.GetTransaction(ctx, txnID); err == nil {
		return nil
	} else if !errors.As(err, &ErrNotFound{}) {
		return ErrPersistence{Op: "get transaction", Err: err}
	}
	_, err := s.gate.Evaluate(ctx, Intent{
		TransactionID: txnID,
		OwnerID:       acct.OwnerID,
		AcctID:        acct.AcctID,
		Type:          typ,
		Amount:        amount,
		Actor:         actor,
	})
	return err
}

// ResolveRecipient returns the destination account ID, looking it up by account
// number when only to_account_number was given.
func ResolveRecipient(ctx context.Context, repo Repository, req TransferReq) (snowflake.ID, error) {
	if req.ToNumber == "" {
		return req.To, nil
	}
	acct, err := repo.GetAccountByNumber(ctx, req.ToNumber)
	if err != nil {
		return 0, err
	}
	if req.To != 0 && req.To != acct.AcctID {
		return 0, ErrBadRequest{Fields: map[string]string{"to_account_number": "does not match to_account_id"}}
	}
	return acct.AcctID, nil
}
