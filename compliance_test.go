package ledgerxgo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/arhyth/ledgerxgo"
	"github.com/arhyth/ledgerxgo/mocks"
)

func TestComplianceEvaluate(t *testing.T) {
	ctx := context.Background()
	nooplog := zerolog.Nop()
	intent := func(amount int64) ledgerxgo.Intent {
		return ledgerxgo.Intent{
			TransactionID: "TXN_1",
			OwnerID:       "alice",
			Type:          ledgerxgo.TxnTransfer,
			Amount:        decimal.NewFromInt(amount),
			Actor:         ledgerxgo.Actor{ID: "alice"},
		}
	}

	t.Run("passes an ordinary movement without flags", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		counter := mocks.NewMockDailyCounter(ctrl)
		audit := mocks.NewMockAuditor(ctrl)
		counter.EXPECT().
			Total(gomock.Any(), "alice", gomock.AssignableToTypeOf(time.Time{})).
			Return(decimal.NewFromInt(1000), nil)
		gate := ledgerxgo.NewComplianceGate(counter, audit, ledgerxgo.DefaultComplianceConfig(), &nooplog)

		flags, err := gate.Evaluate(ctx, intent(5000))
		as.Nil(err)
		as.Empty(flags)
	})

	t.Run("does not flag an amount equal to the threshold", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		counter := mocks.NewMockDailyCounter(ctrl)
		audit := mocks.NewMockAuditor(ctrl)
		counter.EXPECT().
			Total(gomock.Any(), "alice", gomock.Any()).
			Return(decimal.NewFromInt(40000), nil)
		gate := ledgerxgo.NewComplianceGate(counter, audit, ledgerxgo.DefaultComplianceConfig(), &nooplog)

		flags, err := gate.Evaluate(ctx, intent(10000))
		as.Nil(err)
		as.Empty(flags)
	})

	t.Run("blocks a large transaction pending review", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		counter := mocks.NewMockDailyCounter(ctrl)
		audit := mocks.NewMockAuditor(ctrl)
		counter.EXPECT().
			Total(gomock.Any(), "alice", gomock.Any()).
			Return(decimal.Zero, nil)
		audit.EXPECT().
			Record(gomock.Any(), gomock.AssignableToTypeOf(ledgerxgo.AuditEntry{})).
			Do(func(_ context.Context, entry ledgerxgo.AuditEntry) {
				as.Equal(ledgerxgo.ActionComplianceFlag, entry.Action)
				as.Equal(ledgerxgo.FlagLargeTransaction, entry.Metadata["flag"])
				as.Equal("TXN_1", entry.TransactionID)
			})
		gate := ledgerxgo.NewComplianceGate(counter, audit, ledgerxgo.DefaultComplianceConfig(), &nooplog)

		flags, err := gate.Evaluate(ctx, intent(15000))
		blocked := ledgerxgo.ErrComplianceBlocked{}
		reqrd.ErrorAs(err, &blocked)
		reqrd.Len(flags, 1)
		as.Equal(ledgerxgo.FlagLargeTransaction, flags[0].Type)
		as.True(flags[0].RequiresReview)
		as.Equal(flags, blocked.Flags)
	})

	t.Run("flags a movement that takes the owner over the daily limit", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		counter := mocks.NewMockDailyCounter(ctrl)
		audit := mocks.NewMockAuditor(ctrl)
		counter.EXPECT().
			Total(gomock.Any(), "alice", gomock.Any()).
			Return(decimal.NewFromInt(46000), nil)
		audit.EXPECT().Record(gomock.Any(), gomock.Any()).Times(1)
		gate := ledgerxgo.NewComplianceGate(counter, audit, ledgerxgo.DefaultComplianceConfig(), &nooplog)

		flags, err := gate.Evaluate(ctx, intent(5000))
		as.ErrorAs(err, &ledgerxgo.ErrComplianceBlocked{})
		reqrd.Len(flags, 1)
		as.Equal(ledgerxgo.FlagDailyLimitExceeded, flags[0].Type)
		reqrd.NotNil(flags[0].DailyTotal)
		as.Equal("46000", flags[0].DailyTotal.String())
	})

	t.Run("raises both flags together", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		counter := mocks.NewMockDailyCounter(ctrl)
		audit := mocks.NewMockAuditor(ctrl)
		counter.EXPECT().
			Total(gomock.Any(), "alice", gomock.Any()).
			Return(decimal.NewFromInt(45000), nil)
		audit.EXPECT().Record(gomock.Any(), gomock.Any()).Times(2)
		gate := ledgerxgo.NewComplianceGate(counter, audit, ledgerxgo.DefaultComplianceConfig(), &nooplog)

		flags, err := gate.Evaluate(ctx, intent(12000))
		as.ErrorAs(err, &ledgerxgo.ErrComplianceBlocked{})
		as.Len(flags, 2)
	})

	t.Run("skips the daily check when the counter cannot be read", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		counter := mocks.NewMockDailyCounter(ctrl)
		audit := mocks.NewMockAuditor(ctrl)
		counter.EXPECT().
			Total(gomock.Any(), "alice", gomock.Any()).
			Return(decimal.Zero, errors.New("connection refused"))
		gate := ledgerxgo.NewComplianceGate(counter, audit, ledgerxgo.DefaultComplianceConfig(), &nooplog)

		flags, err := gate.Evaluate(ctx, intent(9000))
		as.Nil(err)
		as.Empty(flags)
	})

	t.Run("returns flags without blocking when review does not block", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		counter := mocks.NewMockDailyCounter(ctrl)
		audit := mocks.NewMockAuditor(ctrl)
		counter.EXPECT().
			Total(gomock.Any(), "alice", gomock.Any()).
			Return(decimal.Zero, nil)
		audit.EXPECT().Record(gomock.Any(), gomock.Any()).Times(1)
		cfg := ledgerxgo.DefaultComplianceConfig()
		cfg.BlockOnReview = false
		gate := ledgerxgo.NewComplianceGate(counter, audit, cfg, &nooplog)

		flags, err := gate.Evaluate(ctx, intent(20000))
		as.Nil(err)
		as.Len(flags, 1)
	})
}

func TestComplianceRecord(t *testing.T) {
	ctx := context.Background()
	nooplog := zerolog.Nop()

	t.Run("adds the amount to the daily counter", func(tt *testing.T) {
		ctrl := gomock.NewController(tt)
		counter := mocks.NewMockDailyCounter(ctrl)
		audit := mocks.NewMockAuditor(ctrl)
		amount := decimal.RequireFromString("250.75")
		counter.EXPECT().
			Add(gomock.Any(), "alice", gomock.Any(), amount).
			Return(nil)
		gate := ledgerxgo.NewComplianceGate(counter, audit, ledgerxgo.DefaultComplianceConfig(), &nooplog)
		gate.Record(ctx, "alice", amount)
	})

	t.Run("swallows counter failures", func(tt *testing.T) {
		ctrl := gomock.NewController(tt)
		counter := mocks.NewMockDailyCounter(ctrl)
		audit := mocks.NewMockAuditor(ctrl)
		counter.EXPECT().
			Add(gomock.Any(), "alice", gomock.Any(), gomock.Any()).
			Return(errors.New("connection refused"))
		gate := ledgerxgo.NewComplianceGate(counter, audit, ledgerxgo.DefaultComplianceConfig(), &nooplog)
		gate.Record(ctx, "alice", decimal.NewFromInt(1))
	})
}

func TestPostgresCounter(t *testing.T) {
	t.Run("sums outbound movements since the start of the UTC day", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		loc := time.FixedZone("UTC+8", 8*60*60)
		day := time.Date(2024, 3, 9, 5, 30, 0, 0, loc)
		repo.EXPECT().
			OutboundTotal(gomock.Any(), "alice", time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)).
			Return(decimal.NewFromInt(321), nil)

		counter := ledgerxgo.NewPostgresCounter(repo)
		total, err := counter.Total(context.Background(), "alice", day)
		as.Nil(err)
		as.Equal("321", total.String())
		as.Nil(counter.Add(context.Background(), "alice", day, decimal.NewFromInt(5)))
	})
}
