package ledgerxgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
)

var (
	_ Service = (*validationMiddleware)(nil)
)

type Middleware func(Service) Service

// Chain applies mws so that the first one is outermost.
func Chain(svc Service, mws ...Middleware) Service {
	for i := len(mws) - 1; i >= 0; i-- {
		svc = mws[i](svc)
	}
	return svc
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ErrBadRequest{Fields: map[string]string{"request": err.Error()}}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		fields[fe.Field()] = msg
	}
	return ErrBadRequest{Fields: fields}
}

// validationMiddleware checks request shape and that the actor may touch the account.
// Customers only reach their own accounts; admin operations need the admin role;
// nobody reaches system accounts through the service.
type validationMiddleware struct {
	next     Service
	repo     Repository
	sys      SystemAccounts
	audit    Auditor
	validate *validator.Validate
}

// NewValidationMiddleware audits refused money movements to audit, which may be nil.
func NewValidationMiddleware(repo Repository, sys SystemAccounts, audit Auditor) Middleware {
	return func(svc Service) Service {
		return &validationMiddleware{
			next:     svc,
			repo:     repo,
			sys:      sys,
			audit:    audit,
			validate: newValidator(),
		}
	}
}

func (v *validationMiddleware) reject(ctx context.Context, cmd TransferCmd, cause error) error {
	if v.audit != nil {
		v.audit.Record(ctx, rejectionEntry(cmd, cause, map[string]string{"stage": "validation"}))
	}
	return cause
}

// check validates req, including its embedded Actor.
func (v *validationMiddleware) check(req any) error {
	if err := v.validate.Struct(req); err != nil {
		return validationError(err)
	}
	return nil
}

func (v *validationMiddleware) authorize(ctx context.Context, id snowflake.ID, actor Actor) (*Account, error) {
	if v.sys.Contains(id) {
		return nil, ErrForbidden{Reason: "system account"}
	}
	acct, err := v.repo.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && acct.OwnerID != actor.ID {
		return nil, ErrForbidden{Reason: "account not owned by actor"}
	}
	return acct, nil
}

func requireAdmin(actor Actor) error {
	if !actor.IsAdmin() {
		return ErrForbidden{Reason: "admin role required"}
	}
	return nil
}

func (v *validationMiddleware) Transfer(ctx context.Context, req TransferReq) (*TransactionResult, error) {
	if err := v.checkTransfer(ctx, req); err != nil {
		return nil, v.reject(ctx, TransferCmd{
			TransactionID: req.TransactionID,
			From:          req.From,
			To:            req.To,
			Amount:        req.Amount,
			Type:          req.Type,
			Actor:         req.Actor,
		}, err)
	}
	return v.next.Transfer(ctx, req)
}

func (v *validationMiddleware) checkTransfer(ctx context.Context, req TransferReq) error {
	if err := v.check(req); err != nil {
		return err
	}
	if err := ValidateAmount(req.Amount); err != nil {
		return err
	}
	to, err := ResolveRecipient(ctx, v.repo, req)
	if err != nil {
		return err
	}
	if v.sys.Contains(to) {
		return ErrForbidden{Reason: "system account"}
	}
	_, err = v.authorize(ctx, req.From, req.Actor)
	return err
}

func (v *validationMiddleware) checkCharge(ctx context.Context, req ChargeReq) error {
	if err := v.check(req); err != nil {
		return err
	}
	if err := ValidateAmount(req.Amount); err != nil {
		return err
	}
	_, err := v.authorize(ctx, req.AcctID, req.Actor)
	return err
}

func chargeCmd(req ChargeReq) TransferCmd {
	return TransferCmd{
		TransactionID: req.TransactionID,
		From:          req.AcctID,
		Amount:        req.Amount,
		Type:          req.Type,
		Actor:         req.Actor,
	}
}

func (v *validationMiddleware) Deposit(ctx context.Context, req ChargeReq) (*TransactionResult, error) {
	if err := v.checkCharge(ctx, req); err != nil {
		return nil, v.reject(ctx, chargeCmd(req), err)
	}
	return v.next.Deposit(ctx, req)
}

func (v *validationMiddleware) Withdraw(ctx context.Context, req ChargeReq) (*TransactionResult, error) {
	if err := v.checkCharge(ctx, req); err != nil {
		return nil, v.reject(ctx, chargeCmd(req), err)
	}
	return v.next.Withdraw(ctx, req)
}

func (v *validationMiddleware) ManualTransaction(ctx context.Context, req ManualReq) (*TransactionResult, error) {
	err := v.check(req)
	if err == nil {
		err = requireAdmin(req.Actor)
	}
	if err == nil {
		err = ValidateAmount(req.Amount)
	}
	if err == nil && v.sys.Contains(req.AcctID) {
		err = ErrForbidden{Reason: "system account"}
	}
	if err != nil {
		return nil, v.reject(ctx, TransferCmd{
			TransactionID: req.TransactionID,
			From:          req.AcctID,
			Amount:        req.Amount,
			Type:          req.Type,
			Actor:         req.Actor,
		}, err)
	}
	return v.next.ManualTransaction(ctx, req)
}

func (v *validationMiddleware) ImportBatch(ctx context.Context, req BulkReq) (*BatchResult, error) {
	if err := v.check(req); err != nil {
		return nil, err
	}
	if err := requireAdmin(req.Actor); err != nil {
		return nil, err
	}
	return v.next.ImportBatch(ctx, req)
}

func (v *validationMiddleware) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	if err := v.check(req); err != nil {
		return nil, err
	}
	if _, err := v.authorize(ctx, req.AcctID, req.Actor); err != nil {
		return nil, err
	}
	return v.next.Balance(ctx, req)
}

func (v *validationMiddleware) History(ctx context.Context, req HistoryReq) ([]Transaction, error) {
	if err := v.check(req); err != nil {
		return nil, err
	}
	if _, err := v.authorize(ctx, req.AcctID, req.Actor); err != nil {
		return nil, err
	}
	return v.next.History(ctx, req)
}

func (v *validationMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	if err := v.check(req); err != nil {
		return err
	}
	if _, err := v.authorize(ctx, req.AcctID, req.Actor); err != nil {
		return err
	}
	return v.next.Statement(ctx, w, req)
}

func (v *validationMiddleware) SetAccountStatus(ctx context.Context, req StatusReq) (*Account, error) {
	if err := v.check(req); err != nil {
		return nil, err
	}
	if err := requireAdmin(req.Actor); err != nil {
		return nil, err
	}
	return v.next.SetAccountStatus(ctx, req)
}

//
// Rate limiting middlewares
//

// limitMiddleware limits the number of in-flight requests to the service by using
// a weighted semaphore per operation with an acquisition timeout. A request that
// cannot get a token in time is shed with ErrServiceBusy.
type limitMiddleware struct {
	next   Service
	limits *ServiceLimits
}

var (
	_ Service = (*limitMiddleware)(nil)
)

type ServiceLimits struct {
	Transfer          *semaphore.Weighted
	Deposit           *semaphore.Weighted
	Withdraw          *semaphore.Weighted
	ManualTransaction *semaphore.Weighted
	ImportBatch       *semaphore.Weighted
	Balance           *semaphore.Weighted
	History           *semaphore.Weighted
	Statement         *semaphore.Weighted
	SetAccountStatus  *semaphore.Weighted
	AcquireTimeout    time.Duration
}

// NewServiceLimits gives every operation n tokens, except bulk imports which get one.
func NewServiceLimits(n int64, timeout time.Duration) *ServiceLimits {
	return &ServiceLimits{
		Transfer:          semaphore.NewWeighted(n),
		Deposit:           semaphore.NewWeighted(n),
		Withdraw:          semaphore.NewWeighted(n),
		ManualTransaction: semaphore.NewWeighted(n),
		ImportBatch:       semaphore.NewWeighted(1),
		Balance:           semaphore.NewWeighted(n),
		History:           semaphore.NewWeighted(n),
		Statement:         semaphore.NewWeighted(n),
		SetAccountStatus:  semaphore.NewWeighted(n),
		AcquireTimeout:    timeout,
	}
}

func NewLimitMiddleware(limits *ServiceLimits) Middleware {
	return func(next Service) Service {
		return &limitMiddleware{
			next:   next,
			limits: limits,
		}
	}
}

func (l *limitMiddleware) acquire(ctx context.Context, sem *semaphore.Weighted) (func(), error) {
	if sem == nil {
		return func() {}, nil
	}
	actx := ctx
	if l.limits.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, l.limits.AcquireTimeout)
		defer cancel()
	}
	if err := sem.Acquire(actx, 1); err != nil {
		return nil, ErrServiceBusy
	}
	return func() { sem.Release(1) }, nil
}

func (l *limitMiddleware) Transfer(ctx context.Context, req TransferReq) (*TransactionResult, error) {
	release, err := l.acquire(ctx, l.limits.Transfer)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Transfer(ctx, req)
}

func (l *limitMiddleware) Deposit(ctx context.Context, req ChargeReq) (*TransactionResult, error) {
	release, err := l.acquire(ctx, l.limits.Deposit)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Deposit(ctx, req)
}

func (l *limitMiddleware) Withdraw(ctx context.Context, req ChargeReq) (*TransactionResult, error) {
	release, err := l.acquire(ctx, l.limits.Withdraw)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Withdraw(ctx, req)
}

func (l *limitMiddleware) ManualTransaction(ctx context.Context, req ManualReq) (*TransactionResult, error) {
	release, err := l.acquire(ctx, l.limits.ManualTransaction)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.ManualTransaction(ctx, req)
}

func (l *limitMiddleware) ImportBatch(ctx context.Context, req BulkReq) (*BatchResult, error) {
	release, err := l.acquire(ctx, l.limits.ImportBatch)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.ImportBatch(ctx, req)
}

func (l *limitMiddleware) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	release, err := l.acquire(ctx, l.limits.Balance)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Balance(ctx, req)
}

func (l *limitMiddleware) History(ctx context.Context, req HistoryReq) ([]Transaction, error) {
	release, err := l.acquire(ctx, l.limits.History)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.History(ctx, req)
}

func (l *limitMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	release, err := l.acquire(ctx, l.limits.Statement)
	if err != nil {
		return err
	}
	defer release()
	return l.next.Statement(ctx, w, req)
}

func (l *limitMiddleware) SetAccountStatus(ctx context.Context, req StatusReq) (*Account, error) {
	release, err := l.acquire(ctx, l.limits.SetAccountStatus)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.SetAccountStatus(ctx, req)
}

// ServiceBreaker groups operations by the storage path they share. Only persistence
// failures count against a breaker; business rejections are successes.
type ServiceBreaker struct {
	Ledger *gobreaker.TwoStepCircuitBreaker[any]
	Admin  *gobreaker.TwoStepCircuitBreaker[any]
	Read   *gobreaker.TwoStepCircuitBreaker[any]
}

func NewServiceBreaker(maxFailures uint32, openTimeout time.Duration) *ServiceBreaker {
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
		}
	}
	return &ServiceBreaker{
		Ledger: gobreaker.NewTwoStepCircuitBreaker[any](settings("ledger")),
		Admin:  gobreaker.NewTwoStepCircuitBreaker[any](settings("admin")),
		Read:   gobreaker.NewTwoStepCircuitBreaker[any](settings("read")),
	}
}

// circuitBreakMiddleware is a middleware that implements the circuit breaker pattern.
// It works in conjunction with limitMiddleware: when storage keeps failing the breaker
// opens and requests are refused before they take a limit token.
type circuitBreakMiddleware struct {
	next  Service
	brkrs *ServiceBreaker
}

var (
	_ Service = (*circuitBreakMiddleware)(nil)
)

func NewCircuitBreakMiddleware(brkrs *ServiceBreaker) Middleware {
	return func(next Service) Service {
		return &circuitBreakMiddleware{
			next:  next,
			brkrs: brkrs,
		}
	}
}

func allow(brkr *gobreaker.TwoStepCircuitBreaker[any]) (func(error), error) {
	done, err := brkr.Allow()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceBusy, err)
	}
	return func(err error) {
		done(err == nil || !errors.As(err, &ErrPersistence{}))
	}, nil
}

func (c *circuitBreakMiddleware) Transfer(ctx context.Context, req TransferReq) (*TransactionResult, error) {
	done, err := allow(c.brkrs.Ledger)
	if err != nil {
		return nil, err
	}
	res, err := c.next.Transfer(ctx, req)
	done(err)
	return res, err
}

func (c *circuitBreakMiddleware) Deposit(ctx context.Context, req ChargeReq) (*TransactionResult, error) {
	done, err := allow(c.brkrs.Ledger)
	if err != nil {
		return nil, err
	}
	res, err := c.next.Deposit(ctx, req)
	done(err)
	return res, err
}

func (c *circuitBreakMiddleware) Withdraw(ctx context.Context, req ChargeReq) (*TransactionResult, error) {
	done, err := allow(c.brkrs.Ledger)
	if err != nil {
		return nil, err
	}
	res, err := c.next.Withdraw(ctx, req)
	done(err)
	return res, err
}

func (c *circuitBreakMiddleware) ManualTransaction(ctx context.Context, req ManualReq) (*TransactionResult, error) {
	done, err := allow(c.brkrs.Admin)
	if err != nil {
		return nil, err
	}
	res, err := c.next.ManualTransaction(ctx, req)
	done(err)
	return res, err
}

func (c *circuitBreakMiddleware) ImportBatch(ctx context.Context, req BulkReq) (*BatchResult, error) {
	done, err := allow(c.brkrs.Admin)
	if err != nil {
		return nil, err
	}
	res, err := c.next.ImportBatch(ctx, req)
	done(err)
	return res, err
}

func (c *circuitBreakMiddleware) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	done, err := allow(c.brkrs.Read)
	if err != nil {
		return nil, err
	}
	res, err := c.next.Balance(ctx, req)
	done(err)
	return res, err
}

func (c *circuitBreakMiddleware) History(ctx context.Context, req HistoryReq) ([]Transaction, error) {
	done, err := allow(c.brkrs.Read)
	if err != nil {
		return nil, err
	}
	res, err := c.next.History(ctx, req)
	done(err)
	return res, err
}

func (c *circuitBreakMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	done, err := allow(c.brkrs.Read)
	if err != nil {
		return err
	}
	err = c.next.Statement(ctx, w, req)
	done(err)
	return err
}

func (c *circuitBreakMiddleware) SetAccountStatus(ctx context.Context, req StatusReq) (*Account, error) {
	done, err := allow(c.brkrs.Admin)
	if err != nil {
		return nil, err
	}
	res, err := c.next.SetAccountStatus(ctx, req)
	done(err)
	return res, err
}
