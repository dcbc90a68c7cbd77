package ledgerxgo

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=mocks/repository.go -package=mocks . Repository

// PostFunc receives the accounts of a posting, locked and read at their latest committed
// state, and returns the entries to write. Returning an error aborts the posting.
type PostFunc func(accts map[snowflake.ID]Account) ([]LedgerEntry, error)

// SealFunc computes a record's hash given the hash of the record before it.
type SealFunc func(prevHash string) string

// Posting is what a successful PostTransaction committed.
type Posting struct {
	Transaction Transaction
	Before      []AccountSnapshot
	After       []AccountSnapshot
}

type Repository interface {
	CreateAccount(ctx context.Context, acct Account) error
	GetAccount(ctx context.Context, id snowflake.ID) (*Account, error)
	GetAccountByNumber(ctx context.Context, number string) (*Account, error)
	// UpdateAccountStatus changes status only and returns the account before and after.
	UpdateAccountStatus(ctx context.Context, id snowflake.ID, status AccountStatus) (before, after *Account, err error)

	// ClaimTransaction inserts txn as pending unless its ID is taken, in which case the
	// stored transaction is returned with created=false.
	ClaimTransaction(ctx context.Context, txn Transaction) (stored *Transaction, created bool, err error)
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	// PostTransaction atomically applies the entries returned by fn and completes the
	// pending transaction txnID; on any error nothing is applied.
	PostTransaction(ctx context.Context, txnID string, accts []snowflake.ID, fn PostFunc) (*Posting, error)
	// FailTransaction moves a pending transaction to failed, recording why.
	FailTransaction(ctx context.Context, txn Transaction) error
	// ListTransactions returns transactions touching the account, newest first.
	ListTransactions(ctx context.Context, acctID snowflake.ID, limit int) ([]Transaction, error)
	// OutboundTotal sums completed outbound movements of an owner's accounts since a time.
	OutboundTotal(ctx context.Context, ownerID string, since time.Time) (decimal.Decimal, error)

	// AppendAudit stores rec with its hash chained to the previous record.
	// Audit records cannot be updated or deleted.
	AppendAudit(ctx context.Context, rec *AuditRecord, seal SealFunc) error
	ListAudit(ctx context.Context, limit int) ([]AuditRecord, error)
}
