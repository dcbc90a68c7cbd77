package ledgerxgo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/arhyth/ledgerxgo"
)

func TestRedisCounter(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 8, 13, 0, 0, 0, time.UTC)

	t.Run("keys totals by owner and UTC day", func(tt *testing.T) {
		as := assert.New(tt)
		as.Equal("compliance:daily:alice:2024-03-08", ledgerxgo.DailyCounterKey("alice", day))
		late := time.Date(2024, 3, 9, 1, 0, 0, 0, time.FixedZone("UTC+8", 8*60*60))
		as.Equal("compliance:daily:alice:2024-03-08", ledgerxgo.DailyCounterKey("alice", late))
	})

	t.Run("reads a missing key as zero", func(tt *testing.T) {
		as := assert.New(tt)
		rdb, mock := redismock.NewClientMock()
		mock.ExpectGet(ledgerxgo.DailyCounterKey("alice", day)).RedisNil()

		total, err := ledgerxgo.NewRedisCounter(rdb).Total(ctx, "alice", day)
		as.Nil(err)
		as.True(total.IsZero())
		as.Nil(mock.ExpectationsWereMet())
	})

	t.Run("reads minor units back as a decimal", func(tt *testing.T) {
		as := assert.New(tt)
		rdb, mock := redismock.NewClientMock()
		mock.ExpectGet(ledgerxgo.DailyCounterKey("alice", day)).SetVal("1250050")

		total, err := ledgerxgo.NewRedisCounter(rdb).Total(ctx, "alice", day)
		as.Nil(err)
		as.Equal("12500.5", total.String())
		as.Nil(mock.ExpectationsWereMet())
	})

	t.Run("returns read errors", func(tt *testing.T) {
		as := assert.New(tt)
		rdb, mock := redismock.NewClientMock()
		mock.ExpectGet(ledgerxgo.DailyCounterKey("alice", day)).SetErr(errors.New("connection refused"))

		_, err := ledgerxgo.NewRedisCounter(rdb).Total(ctx, "alice", day)
		as.NotNil(err)
	})

	t.Run("increments and expires the key in one transaction", func(tt *testing.T) {
		as := assert.New(tt)
		rdb, mock := redismock.NewClientMock()
		key := ledgerxgo.DailyCounterKey("alice", day)
		mock.ExpectTxPipeline()
		mock.ExpectIncrBy(key, 1275).SetVal(1275)
		mock.ExpectExpire(key, 48*time.Hour).SetVal(true)
		mock.ExpectTxPipelineExec()

		err := ledgerxgo.NewRedisCounter(rdb).Add(ctx, "alice", day, decimal.RequireFromString("12.75"))
		as.Nil(err)
		as.Nil(mock.ExpectationsWereMet())
	})
}
