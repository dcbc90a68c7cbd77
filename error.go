package ledgerxgo

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInternalServer = errors.New("internal server error")
	// ErrConcurrencyConflict is retried by the engine and never reaches callers.
	ErrConcurrencyConflict = errors.New("concurrent modification of account")
	ErrServiceBusy         = errors.New("service busy")
)

// Failure codes persisted on failed transactions so a replayed
// request gets back the same outcome.
const (
	CodeInvalidAmount      = "INVALID_AMOUNT"
	CodeBadRequest         = "BAD_REQUEST"
	CodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	CodeAccountInactive    = "ACCOUNT_INACTIVE"
	CodeInsufficientFunds  = "INSUFFICIENT_FUNDS"
	CodeComplianceBlocked  = "COMPLIANCE_BLOCKED"
	CodeForbidden          = "FORBIDDEN"
	CodePersistenceFailure = "PERSISTENCE_FAILURE"
)

type ErrBadRequest struct {
	Fields map[string]string `json:"fields"`
}

func (e ErrBadRequest) Error() string {
	return fmt.Sprintf("missing/invalid params: %v", e.Fields)
}

type ErrNotFound struct {
	ID string `json:"id"`
}

func (e ErrNotFound) Error() string {
	return "record not found"
}

type ErrForbidden struct {
	Reason string `json:"reason"`
}

func (e ErrForbidden) Error() string {
	return "forbidden: " + e.Reason
}

type ErrInvalidAmount struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

func (e ErrInvalidAmount) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Amount, e.Reason)
}

type ErrAccountNotFound struct {
	ID     int64  `json:"id,omitempty"`
	Number string `json:"account_number,omitempty"`
}

func (e ErrAccountNotFound) Error() string {
	if e.Number != "" {
		return fmt.Sprintf("account %s not found", e.Number)
	}
	return fmt.Sprintf("account %d not found", e.ID)
}

type ErrAccountInactive struct {
	ID     int64         `json:"id"`
	Status AccountStatus `json:"status"`
}

func (e ErrAccountInactive) Error() string {
	return fmt.Sprintf("account %d is %s", e.ID, e.Status)
}

type ErrInsufficientFunds struct {
	ID       int64  `json:"id"`
	Balance  string `json:"balance"`
	Required string `json:"required"`
}

func (e ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("account %d has insufficient funds: balance %s, required %s", e.ID, e.Balance, e.Required)
}

type ErrDuplicateTransaction struct {
	TransactionID string `json:"transaction_id"`
	InProgress    bool   `json:"in_progress,omitempty"`
}

func (e ErrDuplicateTransaction) Error() string {
	if e.InProgress {
		return fmt.Sprintf("transaction %s is still being processed", e.TransactionID)
	}
	return fmt.Sprintf("transaction %s already exists with a different payload", e.TransactionID)
}

type ErrComplianceBlocked struct {
	Flags []Flag `json:"flags"`
}

func (e ErrComplianceBlocked) Error() string {
	return fmt.Sprintf("blocked pending compliance review: %d flag(s)", len(e.Flags))
}

// ErrPersistence is what callers see of storage failures: the detail is logged, not returned.
type ErrPersistence struct {
	Op  string
	Err error
}

func (e ErrPersistence) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e ErrPersistence) Unwrap() error {
	return e.Err
}

// ErrCompensated is returned by a store that had applied balance changes for a
// posting and then reverted them because a later step failed.
type ErrCompensated struct {
	Accounts []AccountSnapshot
	Err      error
}

func (e ErrCompensated) Error() string {
	return fmt.Sprintf("posting compensated: %v", e.Err)
}

func (e ErrCompensated) Unwrap() error {
	return e.Err
}

// FailureCode maps an engine error to the code stored on the failed transaction.
func FailureCode(err error) string {
	switch {
	case errors.As(err, &ErrInvalidAmount{}):
		return CodeInvalidAmount
	case errors.As(err, &ErrBadRequest{}):
		return CodeBadRequest
	case errors.As(err, &ErrAccountNotFound{}):
		return CodeAccountNotFound
	case errors.As(err, &ErrAccountInactive{}):
		return CodeAccountInactive
	case errors.As(err, &ErrInsufficientFunds{}):
		return CodeInsufficientFunds
	case errors.As(err, &ErrComplianceBlocked{}):
		return CodeComplianceBlocked
	case errors.As(err, &ErrForbidden{}):
		return CodeForbidden
	default:
		return CodePersistenceFailure
	}
}

// failureDetail encodes the fields of a business error so a replay can return it unchanged.
func failureDetail(err error) string {
	var (
		ia  ErrInvalidAmount
		br  ErrBadRequest
		anf ErrAccountNotFound
		ai  ErrAccountInactive
		isf ErrInsufficientFunds
		v   any
	)
	switch {
	case errors.As(err, &ia):
		v = ia
	case errors.As(err, &br):
		v = br
	case errors.As(err, &anf):
		v = anf
	case errors.As(err, &ai):
		v = ai
	case errors.As(err, &isf):
		v = isf
	default:
		return ""
	}
	bits, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(bits)
}

// failureFromCode rebuilds the error a failed transaction originally returned.
// Transactions failed before FailureDetail was stored fall back to what the
// transaction row itself says.
func failureFromCode(txn *Transaction) error {
	decode := func(dst any) bool {
		return txn.FailureDetail != "" && json.Unmarshal([]byte(txn.FailureDetail), dst) == nil
	}
	switch txn.FailureCode {
	case CodeInvalidAmount:
		e := ErrInvalidAmount{}
		if !decode(&e) {
			e = ErrInvalidAmount{Amount: txn.Amount.String(), Reason: txn.FailureReason}
		}
		return e
	case CodeBadRequest:
		e := ErrBadRequest{}
		if !decode(&e) {
			e = ErrBadRequest{Fields: map[string]string{"transaction": txn.FailureReason}}
		}
		return e
	case CodeAccountNotFound:
		e := ErrAccountNotFound{}
		if !decode(&e) {
			e = ErrAccountNotFound{ID: txn.From.Int64()}
		}
		return e
	case CodeAccountInactive:
		e := ErrAccountInactive{}
		if !decode(&e) {
			e = ErrAccountInactive{ID: txn.From.Int64(), Status: StatusInactive}
		}
		return e
	case CodeInsufficientFunds:
		e := ErrInsufficientFunds{}
		if !decode(&e) {
			e = ErrInsufficientFunds{
				ID:       txn.From.Int64(),
				Balance:  txn.BalanceBefore.String(),
				Required: txn.Amount.Add(txn.Fee).String(),
			}
		}
		return e
	default:
		return ErrPersistence{Op: "transaction " + txn.ID, Err: errors.New(txn.FailureReason)}
	}
}
