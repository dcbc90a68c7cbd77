package ledgerxgo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	pgAcctCols = `id, account_number, owner_id, email, typ, balance, status, created_at, updated_at`
	pgTxnCols  = `id, reference, typ, status, from_acct, to_acct, subject_acct, amount, fee, description,
		actor_id, balance_before, balance_after, failure_code, failure_reason, failure_detail, created_at, completed_at`
	pgAuditCols = `seq, id, tx_id, acct_id, action, actor_id, before, after, amount, metadata,
		prev_hash, hash, created_at`

	// arbitrary key serializing audit appends across connections
	pgAuditLockKey = 7_240_101
)

var (
	pgInsertAcctSQL = `
		INSERT INTO accounts (id, account_number, owner_id, email, typ, balance, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now());
	`

	pgSelectAcctSQL = `
		SELECT ` + pgAcctCols + `
		FROM accounts
		WHERE id = $1;
	`

	pgSelectAcctByNumberSQL = `
		SELECT ` + pgAcctCols + `
		FROM accounts
		WHERE account_number = $1;
	`

	pgSelectForUpdateAcctSQL = `
		SELECT ` + pgAcctCols + `
		FROM accounts
		WHERE id = $1
		FOR UPDATE;
	`

	pgSelectForUpdateAcctsSQL = `
		SELECT ` + pgAcctCols + `
		FROM accounts
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE;
	`

	pgUpdateAcctStatusSQL = `
		UPDATE accounts
		SET status = $1, updated_at = now()
		WHERE id = $2
		RETURNING updated_at;
	`

	pgUpdateAcctBalanceSQL = `
		UPDATE accounts
		SET balance = $1, updated_at = $2
		WHERE id = $3;
	`

	pgClaimTxnSQL = `
		INSERT INTO transactions (id, reference, typ, status, from_acct, to_acct, subject_acct,
			amount, fee, description, actor_id, created_at)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at;
	`

	pgSelectTxnSQL = `
		SELECT ` + pgTxnCols + `
		FROM transactions
		WHERE id = $1;
	`

	pgSelectForUpdateTxnSQL = `
		SELECT status, subject_acct
		FROM transactions
		WHERE id = $1
		FOR UPDATE;
	`

	pgCompleteTxnSQL = `
		UPDATE transactions
		SET status = 'completed', balance_before = $1, balance_after = $2, completed_at = $3
		WHERE id = $4;
	`

	pgFailTxnSQL = `
		UPDATE transactions
		SET status = 'failed', failure_code = $1, failure_reason = $2, failure_detail = $3,
			balance_before = $4, balance_after = $5, completed_at = now()
		WHERE id = $6 AND status = 'pending';
	`

	pgListTxnsSQL = `
		SELECT t.id, t.reference, t.typ, t.status, t.from_acct, t.to_acct, t.subject_acct, t.amount,
			t.fee, t.description, t.actor_id, t.balance_before, t.balance_after, t.failure_code,
			t.failure_reason, t.failure_detail, t.created_at, t.completed_at,
			e.id, e.amount, e.balance_after, e.created_at
		FROM transactions t
		LEFT JOIN LATERAL (
			SELECT id, amount, balance_after, created_at
			FROM ledger_entries
			WHERE tx_id = t.id AND acct_id = $1
			ORDER BY id DESC
			LIMIT 1
		) e ON true
		WHERE t.from_acct = $1 OR t.to_acct = $1
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $2;
	`

	pgInsertEntrySQL = `
		INSERT INTO ledger_entries (tx_id, acct_id, amount, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id;
	`

	pgSelectEntriesSQL = `
		SELECT id, tx_id, acct_id, amount, balance_after, created_at
		FROM ledger_entries
		WHERE tx_id = $1
		ORDER BY id;
	`

	pgOutboundTotalSQL = `
		SELECT COALESCE(SUM(t.amount), 0)
		FROM transactions t
		JOIN accounts a ON a.id = t.from_acct
		WHERE a.owner_id = $1 AND t.status = 'completed' AND t.created_at >= $2;
	`

	pgLastAuditHashSQL = `
		SELECT hash
		FROM audit_records
		ORDER BY seq DESC
		LIMIT 1;
	`

	pgInsertAuditSQL = `
		INSERT INTO audit_records (id, tx_id, acct_id, action, actor_id, before, after, amount,
			metadata, prev_hash, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq;
	`

	pgListAuditSQL = `
		SELECT ` + pgAuditCols + `
		FROM (
			SELECT ` + pgAuditCols + `
			FROM audit_records
			ORDER BY seq DESC
			LIMIT $1
		) latest
		ORDER BY seq ASC;
	`
)

type PostgresEndpoint struct {
	pool        *pgxpool.Pool
	log         *zerolog.Logger
	lockTimeout time.Duration
}

var (
	_ Repository = (*PostgresEndpoint)(nil)
)

func NewPostgresEndpoint(connStr string, log *zerolog.Logger) (*PostgresEndpoint, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	if err = pool.Ping(context.Background()); err != nil {
		return nil, err
	}

	endpt := &PostgresEndpoint{
		pool:        pool,
		log:         log,
		lockTimeout: 2 * time.Second,
	}
	return endpt, err
}

func (pg *PostgresEndpoint) Close() {
	pg.pool.Close()
}

// pgError maps lock contention to ErrConcurrencyConflict so the engine retries it.
func pgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", ErrConcurrencyConflict, pgErr.Message)
		}
	}
	return err
}

func (pg *PostgresEndpoint) rollback(ctx context.Context, tx pgx.Tx, what string) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		pg.log.Err(err).Msgf("%s rollback fail", what)
	}
}

func scanAccount(row pgx.Row) (*Account, error) {
	acct := &Account{}
	err := row.Scan(
		&acct.AcctID,
		&acct.Number,
		&acct.OwnerID,
		&acct.Email,
		&acct.Type,
		&acct.Balance,
		&acct.Status,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	return acct, err
}

func scanTxn(row pgx.Row) (*Transaction, error) {
	txn := &Transaction{}
	err := row.Scan(
		&txn.ID,
		&txn.Reference,
		&txn.Type,
		&txn.Status,
		&txn.From,
		&txn.To,
		&txn.Subject,
		&txn.Amount,
		&txn.Fee,
		&txn.Description,
		&txn.ActorID,
		&txn.BalanceBefore,
		&txn.BalanceAfter,
		&txn.FailureCode,
		&txn.FailureReason,
		&txn.FailureDetail,
		&txn.CreatedAt,
		&txn.CompletedAt,
	)
	return txn, err
}

func (pg *PostgresEndpoint) CreateAccount(ctx context.Context, acct Account) error {
	if acct.Status == "" {
		acct.Status = StatusActive
	}
	_, err := pg.pool.Exec(ctx, pgInsertAcctSQL,
		acct.AcctID, acct.Number, acct.OwnerID, acct.Email, acct.Type, acct.Balance, acct.Status)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrBadRequest{Fields: map[string]string{pgErr.ConstraintName: "already exists"}}
	}
	return err
}

func (pg *PostgresEndpoint) GetAccount(ctx context.Context, id snowflake.ID) (*Account, error) {
	acct, err := scanAccount(pg.pool.QueryRow(ctx, pgSelectAcctSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound{ID: id.Int64()}
		}
		return nil, err
	}
	return acct, nil
}

func (pg *PostgresEndpoint) GetAccountByNumber(ctx context.Context, number string) (*Account, error) {
	acct, err := scanAccount(pg.pool.QueryRow(ctx, pgSelectAcctByNumberSQL, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound{Number: number}
		}
		return nil, err
	}
	return acct, nil
}

func (pg *PostgresEndpoint) UpdateAccountStatus(ctx context.Context, id snowflake.ID, status AccountStatus) (*Account, *Account, error) {
	tx, err := pg.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, nil, err
	}
	defer pg.rollback(ctx, tx, "account status")

	before, err := scanAccount(tx.QueryRow(ctx, pgSelectForUpdateAcctSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrAccountNotFound{ID: id.Int64()}
		}
		return nil, nil, pgError(err)
	}
	after := *before
	after.Status = status
	if err = tx.QueryRow(ctx, pgUpdateAcctStatusSQL, status, id).Scan(&after.UpdatedAt); err != nil {
		return nil, nil, pgError(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, nil, pgError(err)
	}
	return before, &after, nil
}

func (pg *PostgresEndpoint) ClaimTransaction(ctx context.Context, txn Transaction) (*Transaction, bool, error) {
	row := pg.pool.QueryRow(ctx, pgClaimTxnSQL,
		txn.ID, txn.Reference, txn.Type, txn.From, txn.To, txn.Subject,
		txn.Amount, txn.Fee, txn.Description, txn.ActorID)
	if err := row.Scan(&txn.CreatedAt); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, err
		}
		stored, err := pg.GetTransaction(ctx, txn.ID)
		if err != nil {
			return nil, false, err
		}
		return stored, false, nil
	}
	txn.Status = TxnPending
	return &txn, true, nil
}

func (pg *PostgresEndpoint) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	txn, err := scanTxn(pg.pool.QueryRow(ctx, pgSelectTxnSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound{ID: id}
		}
		return nil, err
	}

	rows, err := pg.pool.Query(ctx, pgSelectEntriesSQL, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e LedgerEntry
		if err = rows.Scan(&e.ID, &e.TransactionID, &e.AcctID, &e.Amount, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		txn.Entries = append(txn.Entries, e)
	}
	return txn, rows.Err()
}

func (pg *PostgresEndpoint) PostTransaction(ctx context.Context, txnID string, ids []snowflake.ID, fn PostFunc) (*Posting, error) {
	ids = sortedUnique(ids)
	conn, err := pg.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	defer pg.rollback(ctx, tx, "transaction "+txnID)

	if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", pg.lockTimeout.Milliseconds())); err != nil {
		return nil, err
	}

	var (
		status  TxnStatus
		subject snowflake.ID
	)
	if err = tx.QueryRow(ctx, pgSelectForUpdateTxnSQL, txnID).Scan(&status, &subject); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound{ID: txnID}
		}
		return nil, pgError(err)
	}
	if status != TxnPending {
		return nil, fmt.Errorf("transaction %s is not pending", txnID)
	}

	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = id.Int64()
	}
	rows, err := tx.Query(ctx, pgSelectForUpdateAcctsSQL, raw)
	if err != nil {
		return nil, pgError(err)
	}
	accts := make(map[snowflake.ID]Account, len(ids))
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		accts[acct.AcctID] = *acct
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, pgError(err)
	}

	entries, err := fn(accts)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	balances := make(map[snowflake.ID]decimal.Decimal, len(accts))
	for id, acct := range accts {
		balances[id] = acct.Balance
	}
	for i := range entries {
		id := entries[i].AcctID
		bal, ok := balances[id]
		if !ok {
			return nil, fmt.Errorf("entry references unlocked account %d", id)
		}
		balances[id] = bal.Add(entries[i].Amount)
		entries[i].TransactionID = txnID
		entries[i].BalanceAfter = balances[id]
		entries[i].CreatedAt = now
	}

	posting := &Posting{}
	for _, id := range ids {
		acct, ok := accts[id]
		if !ok {
			continue
		}
		posting.Before = append(posting.Before, acct.Snapshot())
		acct.Balance = balances[id]
		posting.After = append(posting.After, acct.Snapshot())
	}
	var before, after decimal.Decimal
	for i, snap := range posting.Before {
		if snap.AcctID == subject {
			before, after = snap.Balance, posting.After[i].Balance
		}
	}

	batch := &pgx.Batch{}
	for _, snap := range posting.After {
		batch.Queue(pgUpdateAcctBalanceSQL, snap.Balance, now, snap.AcctID)
	}
	for i := range entries {
		e := &entries[i]
		batch.Queue(pgInsertEntrySQL, txnID, e.AcctID, e.Amount, e.BalanceAfter, e.CreatedAt).
			QueryRow(func(row pgx.Row) error {
				return row.Scan(&e.ID)
			})
	}
	batch.Queue(pgCompleteTxnSQL, before, after, now, txnID)
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, pgError(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, pgError(err)
	}

	committed, err := scanTxn(conn.QueryRow(ctx, pgSelectTxnSQL, txnID))
	if err != nil {
		return nil, err
	}
	committed.Entries = entries
	posting.Transaction = *committed
	return posting, nil
}

func (pg *PostgresEndpoint) FailTransaction(ctx context.Context, txn Transaction) error {
	tag, err := pg.pool.Exec(ctx, pgFailTxnSQL,
		txn.FailureCode, txn.FailureReason, txn.FailureDetail, txn.BalanceBefore, txn.BalanceAfter, txn.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s is not pending", txn.ID)
	}
	return nil
}

func (pg *PostgresEndpoint) ListTransactions(ctx context.Context, acctID snowflake.ID, limit int) ([]Transaction, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := pg.pool.Query(ctx, pgListTxnsSQL, acctID, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		var (
			txn     Transaction
			entryID *int64
			amount  decimal.NullDecimal
			balance decimal.NullDecimal
			at      *time.Time
		)
		err = rows.Scan(
			&txn.ID, &txn.Reference, &txn.Type, &txn.Status, &txn.From, &txn.To, &txn.Subject,
			&txn.Amount, &txn.Fee, &txn.Description, &txn.ActorID, &txn.BalanceBefore, &txn.BalanceAfter,
			&txn.FailureCode, &txn.FailureReason, &txn.FailureDetail, &txn.CreatedAt, &txn.CompletedAt,
			&entryID, &amount, &balance, &at,
		)
		if err != nil {
			return nil, err
		}
		if entryID != nil {
			txn.Entries = []LedgerEntry{{
				ID:            *entryID,
				TransactionID: txn.ID,
				AcctID:        acctID,
				Amount:        amount.Decimal,
				BalanceAfter:  balance.Decimal,
				CreatedAt:     *at,
			}}
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func (pg *PostgresEndpoint) OutboundTotal(ctx context.Context, ownerID string, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := pg.pool.QueryRow(ctx, pgOutboundTotalSQL, ownerID, since).Scan(&total)
	return total, err
}

func (pg *PostgresEndpoint) AppendAudit(ctx context.Context, rec *AuditRecord, seal SealFunc) error {
	tx, err := pg.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer pg.rollback(ctx, tx, "audit append")

	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1);", pgAuditLockKey); err != nil {
		return err
	}
	var prev string
	if err = tx.QueryRow(ctx, pgLastAuditHashSQL).Scan(&prev); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	rec.PrevHash = prev
	rec.Hash = seal(prev)

	err = tx.QueryRow(ctx, pgInsertAuditSQL,
		rec.ID, rec.TransactionID, rec.AcctID, rec.Action, rec.ActorID,
		rec.Before, rec.After, rec.Amount, rec.Metadata,
		rec.PrevHash, rec.Hash, rec.CreatedAt,
	).Scan(&rec.Seq)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (pg *PostgresEndpoint) ListAudit(ctx context.Context, limit int) ([]AuditRecord, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := pg.pool.Query(ctx, pgListAuditSQL, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		err = rows.Scan(
			&rec.Seq, &rec.ID, &rec.TransactionID, &rec.AcctID, &rec.Action, &rec.ActorID,
			&rec.Before, &rec.After, &rec.Amount, &rec.Metadata,
			&rec.PrevHash, &rec.Hash, &rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
