package ledgerxgo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
)

//go:generate mockgen -destination=mocks/sink.go -package=mocks . Sink

const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// Event is the body delivered to external security monitoring.
type Event struct {
	Source    string         `json:"source"`
	EventType string         `json:"event_type"`
	Severity  string         `json:"severity"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

type Sink interface {
	Send(ctx context.Context, ev Event) error
}

type NopSink struct{}

func (NopSink) Send(context.Context, Event) error { return nil }

type HTTPSinkConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	// consecutive failures before the breaker opens
	MaxFailures uint32
	OpenTimeout time.Duration
}

// HTTPSink posts events as JSON to a SIEM endpoint. Repeated failures open a circuit
// breaker so a dead endpoint is not hammered on every ledger action.
type HTTPSink struct {
	endpoint string
	apiKey   string
	client   *http.Client
	brkr     *gobreaker.CircuitBreaker[struct{}]
	log      *zerolog.Logger
}

var (
	_ Sink = (*HTTPSink)(nil)
	_ Sink = (*KafkaSink)(nil)
	_ Sink = (*MultiSink)(nil)
	_ Sink = NopSink{}
)

func NewHTTPSink(cfg HTTPSinkConfig, log *zerolog.Logger) *HTTPSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	brkr := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "siem",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("sink breaker state changed")
		},
	})
	return &HTTPSink{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
		brkr:     brkr,
		log:      log,
	}
}

func (h *HTTPSink) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = h.brkr.Execute(func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		if h.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+h.apiKey)
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 300 {
			return struct{}{}, fmt.Errorf("siem responded %d", resp.StatusCode)
		}
		return struct{}{}, nil
	})
	return err
}

// KafkaSink publishes events keyed by transaction so one transaction's events stay ordered.
type KafkaSink struct {
	writer *kafka.Writer
	log    *zerolog.Logger
}

func NewKafkaSink(brokers []string, topic string, log *zerolog.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Msgf(msg, args...)
		}),
	}
	// the audit topic is created on first write in fresh environments
	writer.AllowAutoTopicCreation = true
	return &KafkaSink{
		writer: writer,
		log:    log,
	}
}

func (k *KafkaSink) Send(ctx context.Context, ev Event) error {
	val, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key, _ := ev.Data["transaction_id"].(string)
	if key == "" {
		key = ev.EventType
	}
	if err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: val,
		Time:  ev.Timestamp,
	}); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// MultiSink delivers to all sinks in parallel. A failing sink does not cancel the others;
// the first error is returned once all have finished.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Send(ctx context.Context, ev Event) error {
	var g errgroup.Group
	for _, s := range m.sinks {
		s := s
		g.Go(func() error {
			return s.Send(ctx, ev)
		})
	}
	return g.Wait()
}
