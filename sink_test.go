package ledgerxgo_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/arhyth/ledgerxgo"
	"github.com/arhyth/ledgerxgo/mocks"
)

func testEvent() ledgerxgo.Event {
	return ledgerxgo.Event{
		Source:    "ledgerxgo",
		EventType: ledgerxgo.ActionTransferCompleted,
		Severity:  ledgerxgo.SeverityInfo,
		Data:      map[string]any{"transaction_id": "TXN_1", "amount": "10"},
		Timestamp: time.Date(2024, 3, 8, 13, 0, 0, 0, time.UTC),
	}
}

func TestHTTPSink(t *testing.T) {
	nooplog := zerolog.Nop()

	t.Run("posts the event with a bearer token", func(tt *testing.T) {
		as := assert.New(tt)
		var got ledgerxgo.Event
		var auth, ctype string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			ctype = r.Header.Get("Content-Type")
			json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		sink := ledgerxgo.NewHTTPSink(ledgerxgo.HTTPSinkConfig{
			Endpoint: srv.URL,
			APIKey:   "secret",
		}, &nooplog)
		err := sink.Send(context.Background(), testEvent())
		as.Nil(err)
		as.Equal("Bearer secret", auth)
		as.Equal("application/json", ctype)
		as.Equal(ledgerxgo.ActionTransferCompleted, got.EventType)
		as.Equal("TXN_1", got.Data["transaction_id"])
	})

	t.Run("opens the breaker after repeated failures", func(tt *testing.T) {
		as := assert.New(tt)
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		sink := ledgerxgo.NewHTTPSink(ledgerxgo.HTTPSinkConfig{
			Endpoint:    srv.URL,
			MaxFailures: 2,
			OpenTimeout: time.Minute,
		}, &nooplog)
		for i := 0; i < 2; i++ {
			err := sink.Send(context.Background(), testEvent())
			as.NotNil(err)
			as.Contains(err.Error(), "500")
		}
		err := sink.Send(context.Background(), testEvent())
		as.ErrorIs(err, gobreaker.ErrOpenState)
		as.Equal(int32(2), atomic.LoadInt32(&hits))
	})
}

func TestMultiSink(t *testing.T) {
	t.Run("delivers to every sink even when one fails", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		failing := mocks.NewMockSink(ctrl)
		healthy := mocks.NewMockSink(ctrl)
		failing.EXPECT().
			Send(gomock.Any(), gomock.Any()).
			Return(errors.New("unreachable"))
		healthy.EXPECT().
			Send(gomock.Any(), gomock.Any()).
			Return(nil)

		err := ledgerxgo.NewMultiSink(failing, healthy).Send(context.Background(), testEvent())
		as.NotNil(err)
	})

	t.Run("succeeds when every sink succeeds", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		first := mocks.NewMockSink(ctrl)
		second := mocks.NewMockSink(ctrl)
		first.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
		second.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)

		as.Nil(ledgerxgo.NewMultiSink(first, second).Send(context.Background(), testEvent()))
	})
}

func TestKafkaSink(t *testing.T) {
	brokers := os.Getenv("TEST_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("TEST_KAFKA_BROKERS not set")
	}
	reqrd := require.New(t)
	nooplog := zerolog.Nop()
	sink := ledgerxgo.NewKafkaSink(strings.Split(brokers, ","), "ledger-audit-test", &nooplog)
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reqrd.Nil(sink.Send(ctx, testEvent()))
}
