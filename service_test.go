package ledgerxgo_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arhyth/ledgerxgo"
)

func newTestService(t *testing.T, tl *testLedger) ledgerxgo.Service {
	t.Helper()
	gate := ledgerxgo.NewComplianceGate(ledgerxgo.NewPostgresCounter(tl.store), tl.trail, ledgerxgo.DefaultComplianceConfig(), &tl.log)
	bulk := ledgerxgo.NewBulkProcessor(tl.engine, tl.store, 1, &tl.log)
	return ledgerxgo.NewService(tl.engine, gate, bulk, tl.store, &tl.log)
}

func TestServiceTransfer(t *testing.T) {
	ctx := context.Background()
	actor := ledgerxgo.Actor{ID: "alice"}

	t.Run("blocks a large transfer before any funds move", func(tt *testing.T) {
		as := assert.New(tt)
		tl := newTestLedger(tt)
		alice := tl.openAccount(tt, "alice", 20000)
		bob := tl.openAccount(tt, "bob", 0)
		svc := newTestService(tt, tl)

		res, err := svc.Transfer(ctx, ledgerxgo.TransferReq{
			TransactionID: "big-1",
			From:          alice.AcctID,
			To:            bob.AcctID,
			Amount:        decimal.NewFromInt(15000),
			Actor:         actor,
		})
		as.Nil(res)
		as.ErrorAs(err, &ledgerxgo.ErrComplianceBlocked{})
		as.Equal("20000", tl.balance(tt, alice.AcctID))
		_, err = tl.store.GetTransaction(ctx, "big-1")
		as.ErrorAs(err, &ledgerxgo.ErrNotFound{})
		as.Contains(tl.actions(tt), ledgerxgo.ActionComplianceFlag)
	})

	t.Run("enforces the daily limit but still replays earlier transfers", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		tl := newTestLedger(tt)
		alice := tl.openAccount(tt, "alice", 60000)
		bob := tl.openAccount(tt, "bob", 0)
		svc := newTestService(tt, tl)

		req := func(n int) ledgerxgo.TransferReq {
			return ledgerxgo.TransferReq{
				TransactionID: fmt.Sprintf("daily-%d", n),
				From:          alice.AcctID,
				To:            bob.AcctID,
				Amount:        decimal.NewFromInt(9000),
				Actor:         actor,
			}
		}
		for i := 1; i <= 5; i++ {
			res, err := svc.Transfer(ctx, req(i))
			reqrd.Nil(err, "transfer %d", i)
			as.Equal(ledgerxgo.TxnCompleted, res.Status)
		}

		_, err := svc.Transfer(ctx, req(6))
		blocked := ledgerxgo.ErrComplianceBlocked{}
		reqrd.ErrorAs(err, &blocked)
		as.Equal(ledgerxgo.FlagDailyLimitExceeded, blocked.Flags[0].Type)

		res, err := svc.Transfer(ctx, req(5))
		reqrd.Nil(err)
		as.True(res.Replayed)
		as.Equal("15000", tl.balance(tt, alice.AcctID))
	})

	t.Run("audits a transfer from an unknown account", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		tl := newTestLedger(tt)
		bob := tl.openAccount(tt, "bob", 0)
		svc := newTestService(tt, tl)
		ghost := tl.node.Generate()

		_, err := svc.Transfer(ctx, ledgerxgo.TransferReq{
			TransactionID: "ghost-1",
			From:          ghost,
			To:            bob.AcctID,
			Amount:        decimal.NewFromInt(5),
			Actor:         actor,
		})
		as.ErrorAs(err, &ledgerxgo.ErrAccountNotFound{})

		var found bool
		for _, rec := range tl.audits(tt) {
			if rec.Action != ledgerxgo.ActionTransferRejected {
				continue
			}
			found = true
			as.Equal("ghost-1", rec.TransactionID)
			as.Equal(ghost, rec.AcctID)
			as.Equal(bob.AcctID.String(), rec.Metadata["to"])
			as.Equal(ledgerxgo.CodeAccountNotFound, rec.Metadata["failure_code"])
		}
		reqrd.True(found)
	})

	t.Run("resolves the recipient by account number", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		tl := newTestLedger(tt)
		alice := tl.openAccount(tt, "alice", 100)
		bob := tl.openAccount(tt, "bob", 0)
		svc := newTestService(tt, tl)

		res, err := svc.Transfer(ctx, ledgerxgo.TransferReq{
			TransactionID: "by-number-1",
			From:          alice.AcctID,
			ToNumber:      bob.Number,
			Amount:        decimal.NewFromInt(25),
			Actor:         actor,
		})
		reqrd.Nil(err)
		as.Equal(ledgerxgo.TxnCompleted, res.Status)
		as.Equal("25", tl.balance(tt, bob.AcctID))
		txn, err := tl.store.GetTransaction(ctx, "by-number-1")
		reqrd.Nil(err)
		as.Equal(bob.AcctID, txn.To)

		_, err = svc.Transfer(ctx, ledgerxgo.TransferReq{
			From:     alice.AcctID,
			ToNumber: "000000000000",
			Amount:   decimal.NewFromInt(1),
			Actor:    actor,
		})
		nf := ledgerxgo.ErrAccountNotFound{}
		reqrd.ErrorAs(err, &nf)
		as.Equal("000000000000", nf.Number)

		_, err = svc.Transfer(ctx, ledgerxgo.TransferReq{
			From:     alice.AcctID,
			To:       alice.AcctID,
			ToNumber: bob.Number,
			Amount:   decimal.NewFromInt(1),
			Actor:    actor,
		})
		as.ErrorAs(err, &ledgerxgo.ErrBadRequest{})
		as.Equal("75", tl.balance(tt, alice.AcctID))
	})

	t.Run("defaults the type to transfer", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		tl := newTestLedger(tt)
		alice := tl.openAccount(tt, "alice", 100)
		bob := tl.openAccount(tt, "bob", 0)
		svc := newTestService(tt, tl)

		res, err := svc.Transfer(ctx, ledgerxgo.TransferReq{
			From:   alice.AcctID,
			To:     bob.AcctID,
			Amount: decimal.NewFromInt(10),
			Actor:  actor,
		})
		reqrd.Nil(err)
		txn, err := tl.store.GetTransaction(ctx, res.TransactionID)
		reqrd.Nil(err)
		as.Equal(ledgerxgo.TxnTransfer, txn.Type)
		as.Equal("alice", txn.ActorID)
	})
}

func TestServiceCharges(t *testing.T) {
	ctx := context.Background()
	actor := ledgerxgo.Actor{ID: "alice"}

	t.Run("deposits from the suspense account", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		tl := newTestLedger(tt)
		alice := tl.openAccount(tt, "alice", 0)
		svc := newTestService(tt, tl)

		res, err := svc.Deposit(ctx, ledgerxgo.ChargeReq{
			AcctID: alice.AcctID,
			Amount: decimal.RequireFromString("1234.50"),
			Actor:  actor,
		})
		reqrd.Nil(err)
		as.Equal("1234.5", res.NewBalance.String())
		as.Equal("0", res.PreviousBalance.String())
		as.Equal("-1234.5", tl.balance(tt, tl.sys.Suspense))
	})

	t.Run("rejects a debit type on deposit", func(tt *testing.T) {
		as := assert.New(tt)
		tl := newTestLedger(tt)
		alice := tl.openAccount(tt, "alice", 0)
		svc := newTestService(tt, tl)

		_, err := svc.Deposit(ctx, ledgerxgo.ChargeReq{
			AcctID: alice.AcctID,
			Amount: decimal.NewFromInt(1),
			Type:   ledgerxgo.TxnWithdrawal,
			Actor:  actor,
		})
		as.ErrorAs(err, &ledgerxgo.ErrBadRequest{})
	})

	t.Run("withdraws and counts toward the daily total", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		tl := newTestLedger(tt)
		alice := tl.openAccount(tt, "alice", 60000)
		svc := newTestService(tt, tl)

		for i := 0; i < 5; i++ {
			_, err := svc.Withdraw(ctx, ledgerxgo.ChargeReq{
				AcctID: alice.AcctID,
				Amount: decimal.NewFromInt(10000),
				Type:   ledgerxgo.TxnCardPurchase,
				Actor:  actor,
			})
			reqrd.Nil(err)
		}
		_, err := svc.Withdraw(ctx, ledgerxgo.ChargeReq{
			AcctID: alice.AcctID,
			Amount: decimal.NewFromInt(1),
			Actor:  actor,
		})
		as.ErrorAs(err, &ledgerxgo.ErrComplianceBlocked{})

		res, err := svc.Withdraw(ctx, ledgerxgo.ChargeReq{
			AcctID: alice.AcctID,
			Amount: decimal.NewFromInt(1),
			Type:   ledgerxgo.TxnFee,
			Actor:  actor,
		})
		reqrd.Nil(err)
		as.Equal("9999", res.NewBalance.String())
		as.Equal("1", tl.balance(tt, tl.sys.Fees))
	})
}

func TestServiceManualTransaction(t *testing.T) {
	ctx := context.Background()
	admin := ledgerxgo.Actor{ID: "ops", Role: ledgerxgo.RoleAdmin}

	t.Run("debits an adjustment past zero", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		tl := newTestLedger(tt)
		alice := tl.openAccount(tt, "alice", 10)
		svc := newTestService(tt, tl)

		res, err := svc.ManualTransaction(ctx, ledgerxgo.ManualReq{
			AcctID:    alice.AcctID,
			OwnerID:   "alice",
			Type:      ledgerxgo.TxnAdjustment,
			Direction: "debit",
			Amount:    decimal.NewFromInt(25),
			Actor:     admin,
		})
		reqrd.Nil(err)
		as.Equal("-15", res.NewBalance.String())
		as.Regexp(`^MANUAL_\d+$`, res.Reference)

		txn, err := tl.store.GetTransaction(ctx, res.TransactionID)
		reqrd.Nil(err)
		as.Equal("Manual adjustment", txn.Description)
		as.Equal("ops", txn.ActorID)
	})

	t.Run("rejects an account not owned by the given user", func(tt *testing.T) {
		as := assert.New(tt)
		tl := newTestLedger(tt)
		alice := tl.openAccount(tt, "alice", 10)
		svc := newTestService(tt, tl)

		_, err := svc.ManualTransaction(ctx, ledgerxgo.ManualReq{
			AcctID:  alice.AcctID,
			OwnerID: "bob",
			Type:    ledgerxgo.TxnBonus,
			Amount:  decimal.NewFromInt(5),
			Actor:   admin,
		})
		as.ErrorAs(err, &ledgerxgo.ErrAccountNotFound{})
		as.Equal("10", tl.balance(tt, alice.AcctID))
	})

	t.Run("skips compliance screening", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		tl := newTestLedger(tt)
		alice := tl.openAccount(tt, "alice", 100000)
		svc := newTestService(tt, tl)

		_, err := svc.ManualTransaction(ctx, ledgerxgo.ManualReq{
			AcctID:  alice.AcctID,
			OwnerID: "alice",
			Type:    ledgerxgo.TxnWithdrawal,
			Amount:  decimal.NewFromInt(60000),
			Actor:   admin,
		})
		reqrd.Nil(err)
		as.Equal("40000", tl.balance(tt, alice.AcctID))
	})
}

func TestServiceImportBatch(t *testing.T) {
	t.Run("imports CSV data", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		tl := newTestLedger(tt)
		alice := tl.openAccount(tt, "alice", 0)
		svc := newTestService(tt, tl)

		csv := "email,account_number,type,amount\n" +
			alice.Email + "," + alice.Number + ",deposit,70\n" +
			alice.Email + "," + alice.Number + ",withdrawal,20\n"
		res, err := svc.ImportBatch(context.Background(), ledgerxgo.BulkReq{
			BatchID: "csv1",
			CSV:     csv,
			Actor:   ledgerxgo.Actor{ID: "ops", Role: ledgerxgo.RoleAdmin},
		})
		reqrd.Nil(err)
		as.Equal(2, res.Successful)
		as.Equal("50", tl.balance(tt, alice.AcctID))
	})
}

func TestServiceReads(t *testing.T) {
	ctx := context.Background()
	actor := ledgerxgo.Actor{ID: "alice"}

	t.Run("returns balance and newest-first history", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		tl := newTestLedger(tt)
		alice := tl.openAccount(tt, "alice", 100)
		bob := tl.openAccount(tt, "bob", 0)
		svc := newTestService(tt, tl)

		for i := 1; i <= 3; i++ {
			_, err := svc.Transfer(ctx, ledgerxgo.TransferReq{
				TransactionID: fmt.Sprintf("read-%d", i),
				From:          alice.AcctID,
				To:            bob.AcctID,
				Amount:        decimal.NewFromInt(int64(i)),
				Actor:         actor,
			})
			reqrd.Nil(err)
		}

		bal, err := svc.Balance(ctx, ledgerxgo.BalanceReq{AcctID: alice.AcctID, Actor: actor})
		reqrd.Nil(err)
		as.Equal("94", bal.String())

		txns, err := svc.History(ctx, ledgerxgo.HistoryReq{AcctID: alice.AcctID, Limit: 2, Actor: actor})
		reqrd.Nil(err)
		reqrd.Len(txns, 2)
		as.Equal("read-3", txns[0].ID)
		as.Equal("read-2", txns[1].ID)

		all, err := svc.History(ctx, ledgerxgo.HistoryReq{AcctID: alice.AcctID, Actor: actor})
		reqrd.Nil(err)
		as.Len(all, 4)
	})

	t.Run("renders a PDF statement", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		tl := newTestLedger(tt)
		alice := tl.openAccount(tt, "alice", 100)
		svc := newTestService(tt, tl)

		buf := new(bytes.Buffer)
		err := svc.Statement(ctx, buf, ledgerxgo.StatementReq{AcctID: alice.AcctID, Actor: actor})
		reqrd.Nil(err)
		as.True(bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
	})

	t.Run("returns not found for an unknown account", func(tt *testing.T) {
		as := assert.New(tt)
		tl := newTestLedger(tt)
		svc := newTestService(tt, tl)

		_, err := svc.Balance(ctx, ledgerxgo.BalanceReq{AcctID: tl.node.Generate(), Actor: actor})
		as.ErrorAs(err, &ledgerxgo.ErrAccountNotFound{})
	})
}
