package ledgerxgo

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
	AccountBusiness AccountType = "business"
	AccountSystem   AccountType = "system"
)

type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
	StatusFrozen   AccountStatus = "frozen"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusFrozen:
		return true
	}
	return false
}

type Account struct {
	AcctID    snowflake.ID    `json:"id"`
	Number    string          `json:"account_number"`
	OwnerID   string          `json:"owner_id"`
	Email     string          `json:"email"`
	Type      AccountType     `json:"type"`
	Balance   decimal.Decimal `json:"balance"`
	Status    AccountStatus   `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (a Account) Snapshot() AccountSnapshot {
	return AccountSnapshot{
		AcctID:  a.AcctID,
		Balance: a.Balance,
		Status:  a.Status,
	}
}

// AccountSnapshot is the part of an account captured by audit records.
type AccountSnapshot struct {
	AcctID  snowflake.ID    `json:"account_id"`
	Balance decimal.Decimal `json:"balance"`
	Status  AccountStatus   `json:"status"`
}

// SystemAccounts are the ledger's own accounts. Suspense stands for the world outside the
// ledger: every deposit, withdrawal, card settlement and adjustment posts its second leg there.
type SystemAccounts struct {
	Suspense snowflake.ID
	Fees     snowflake.ID
}

func (s SystemAccounts) Contains(id snowflake.ID) bool {
	return id == s.Suspense || id == s.Fees
}

// Legs returns the source and destination of a single-account movement of type t on acct.
// debit only matters for adjustments, which can go either way.
func (s SystemAccounts) Legs(t TxnType, acct snowflake.ID, debit bool) (from, to snowflake.ID) {
	switch {
	case t == TxnFee:
		return acct, s.Fees
	case t.Debits():
		return acct, s.Suspense
	case t == TxnAdjustment && debit:
		return acct, s.Suspense
	default:
		return s.Suspense, acct
	}
}

type TxnType string

const (
	TxnTransfer              TxnType = "transfer"
	TxnInternationalTransfer TxnType = "international_transfer"
	TxnDeposit               TxnType = "deposit"
	TxnInterest              TxnType = "interest"
	TxnBonus                 TxnType = "bonus"
	TxnRefund                TxnType = "refund"
	TxnWithdrawal            TxnType = "withdrawal"
	TxnFee                   TxnType = "fee"
	TxnCardPurchase          TxnType = "card_purchase"
	TxnAdjustment            TxnType = "adjustment"
)

func (t TxnType) Valid() bool {
	switch t {
	case TxnTransfer, TxnInternationalTransfer, TxnDeposit, TxnInterest, TxnBonus, TxnRefund,
		TxnWithdrawal, TxnFee, TxnCardPurchase, TxnAdjustment:
		return true
	}
	return false
}

// Credits reports whether the type moves money into a customer account from outside the ledger.
func (t TxnType) Credits() bool {
	switch t {
	case TxnDeposit, TxnInterest, TxnBonus, TxnRefund:
		return true
	}
	return false
}

// Debits reports whether the type moves money out of a customer account to outside the ledger.
func (t TxnType) Debits() bool {
	switch t {
	case TxnWithdrawal, TxnFee, TxnCardPurchase:
		return true
	}
	return false
}

// Bounded types may not take the debited account below zero. Adjustments are the only
// unbounded class; they exist so back-office corrections can land on overdrawn accounts.
func (t TxnType) Bounded() bool {
	return t != TxnAdjustment
}

type TxnStatus string

const (
	TxnPending   TxnStatus = "pending"
	TxnCompleted TxnStatus = "completed"
	TxnFailed    TxnStatus = "failed"
	TxnReversed  TxnStatus = "reversed"
)

func (s TxnStatus) Terminal() bool {
	return s != TxnPending
}

type Transaction struct {
	ID            string          `json:"transaction_id"`
	Reference     string          `json:"reference"`
	Type          TxnType         `json:"type"`
	Status        TxnStatus       `json:"status"`
	From          snowflake.ID    `json:"from_account_id"`
	To            snowflake.ID    `json:"to_account_id"`
	Subject       snowflake.ID    `json:"subject_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	// NetAmount is the signed movement on the account a history was listed for.
	NetAmount     decimal.Decimal `json:"net_amount"`
	Description   string          `json:"description"`
	ActorID       string          `json:"actor_id"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	FailureCode   string          `json:"failure_code,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	FailureDetail string          `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Entries       []LedgerEntry   `json:"entries,omitempty"`
}

// SamePayload reports whether other asks for the same movement. Retries are
// compared on what moves money, not on bookkeeping fields.
func (t *Transaction) SamePayload(other *Transaction) bool {
	return t.Type == other.Type &&
		t.From == other.From &&
		t.To == other.To &&
		t.Amount.Equal(other.Amount)
}

func (t *Transaction) Result() *TransactionResult {
	return &TransactionResult{
		TransactionID:   t.ID,
		Status:          t.Status,
		Reference:       t.Reference,
		NewBalance:      t.BalanceAfter,
		PreviousBalance: t.BalanceBefore,
		Fee:             t.Fee,
	}
}

// ViewFor returns txn as the holder of acct may see it. Balances are acct's own, taken
// from its entry, and entries of other accounts are dropped.
func (t Transaction) ViewFor(acct snowflake.ID) Transaction {
	v := t
	v.Entries = nil
	for _, e := range t.Entries {
		if e.AcctID == acct {
			v.Entries = append(v.Entries, e)
		}
	}
	switch {
	case len(v.Entries) > 0:
		own := SumEntries(v.Entries)
		v.NetAmount = own
		v.BalanceAfter = v.Entries[len(v.Entries)-1].BalanceAfter
		v.BalanceBefore = v.BalanceAfter.Sub(own)
	case t.From == acct:
		v.NetAmount = t.Amount.Add(t.Fee).Neg()
	default:
		v.NetAmount = t.Amount
	}
	if len(v.Entries) == 0 && t.Subject != acct {
		v.BalanceBefore, v.BalanceAfter = decimal.Zero, decimal.Zero
	}
	return v
}

type LedgerEntry struct {
	ID            int64           `json:"id"`
	TransactionID string          `json:"transaction_id"`
	AcctID        snowflake.ID    `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SumEntries returns the net of all entry amounts. A balanced transaction nets to zero.
func SumEntries(entries []LedgerEntry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	return sum
}

type TransactionResult struct {
	TransactionID   string          `json:"transaction_id"`
	Status          TxnStatus       `json:"status"`
	Reference       string          `json:"reference"`
	NewBalance      decimal.Decimal `json:"new_balance"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	Fee             decimal.Decimal `json:"fee"`
	Replayed        bool            `json:"replayed"`
}

type AuditRecord struct {
	ID            uuid.UUID         `json:"id"`
	Seq           int64             `json:"seq"`
	TransactionID string            `json:"transaction_id,omitempty"`
	AcctID        snowflake.ID      `json:"account_id"`
	Action        string            `json:"action"`
	ActorID       string            `json:"actor_id"`
	Before        []AccountSnapshot `json:"before"`
	After         []AccountSnapshot `json:"after"`
	Amount        decimal.Decimal   `json:"amount"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	PrevHash      string            `json:"prev_hash"`
	Hash          string            `json:"hash"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Actor is the identity the authentication layer has already verified.
type Actor struct {
	ID   string `json:"actor_id" validate:"required"`
	Role string `json:"role"`
}

const RoleAdmin = "admin"

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// ValidateAmount enforces positive amounts with at most two decimal places.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount{Amount: amount.String(), Reason: "must be greater than zero"}
	}
	if amount.Exponent() < -2 && !amount.Equal(amount.Truncate(2)) {
		return ErrInvalidAmount{Amount: amount.String(), Reason: "at most 2 decimal places"}
	}
	return nil
}
