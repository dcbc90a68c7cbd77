package ledgerxgo

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=mocks/compliance.go -package=mocks . DailyCounter

const (
	FlagLargeTransaction   = "AML_LARGE_TRANSACTION"
	FlagDailyLimitExceeded = "DAILY_LIMIT_EXCEEDED"
)

type Flag struct {
	Type           string           `json:"type"`
	Amount         decimal.Decimal  `json:"amount"`
	DailyTotal     *decimal.Decimal `json:"daily_total,omitempty"`
	Limit          decimal.Decimal  `json:"limit"`
	RequiresReview bool             `json:"requires_review"`
}

// Intent is an outbound movement about to be submitted to the engine.
type Intent struct {
	TransactionID string
	OwnerID       string
	AcctID        snowflake.ID
	Type          TxnType
	Amount        decimal.Decimal
	Actor         Actor
}

// DailyCounter keeps the per-owner total of outbound movements for a UTC day.
type DailyCounter interface {
	Total(ctx context.Context, ownerID string, day time.Time) (decimal.Decimal, error)
	Add(ctx context.Context, ownerID string, day time.Time, amount decimal.Decimal) error
}

type ComplianceConfig struct {
	LargeTransactionThreshold decimal.Decimal
	DailyLimit                decimal.Decimal
	BlockOnReview             bool
}

func DefaultComplianceConfig() ComplianceConfig {
	return ComplianceConfig{
		LargeTransactionThreshold: decimal.NewFromInt(10_000),
		DailyLimit:                decimal.NewFromInt(50_000),
		BlockOnReview:             true,
	}
}

type ComplianceGate struct {
	counter DailyCounter
	audit   Auditor
	cfg     ComplianceConfig
	log     *zerolog.Logger
	now     func() time.Time
}

func NewComplianceGate(counter DailyCounter, audit Auditor, cfg ComplianceConfig, log *zerolog.Logger) *ComplianceGate {
	return &ComplianceGate{
		counter: counter,
		audit:   audit,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Evaluate returns the flags raised by in. With blocking enabled, a flag that
// requires review also returns ErrComplianceBlocked.
func (g *ComplianceGate) Evaluate(ctx context.Context, in Intent) ([]Flag, error) {
	var flags []Flag
	if in.Amount.GreaterThan(g.cfg.LargeTransactionThreshold) {
		flags = append(flags, Flag{
			Type:           FlagLargeTransaction,
			Amount:         in.Amount,
			Limit:          g.cfg.LargeTransactionThreshold,
			RequiresReview: true,
		})
	}

	total, err := g.counter.Total(ctx, in.OwnerID, g.now())
	if err != nil {
		// an unreadable counter never blocks a movement
		g.log.Warn().
			Err(err).
			Str("owner", in.OwnerID).
			Msg("error reading daily total, skipping daily limit check")
	} else if total.Add(in.Amount).GreaterThan(g.cfg.DailyLimit) {
		flags = append(flags, Flag{
			Type:           FlagDailyLimitExceeded,
			Amount:         in.Amount,
			DailyTotal:     &total,
			Limit:          g.cfg.DailyLimit,
			RequiresReview: true,
		})
	}

	review := false
	for _, f := range flags {
		review = review || f.RequiresReview
		md := map[string]string{
			"flag":            f.Type,
			"type":            string(in.Type),
			"limit":           f.Limit.String(),
			"requires_review": boolString(f.RequiresReview),
		}
		if f.DailyTotal != nil {
			md["daily_total"] = f.DailyTotal.String()
		}
		g.audit.Record(ctx, AuditEntry{
			TransactionID: in.TransactionID,
			AcctID:        in.AcctID,
			Action:        ActionComplianceFlag,
			ActorID:       in.Actor.ID,
			Amount:        in.Amount,
			Metadata:      md,
			Severity:      SeverityHigh,
		})
	}

	if review && g.cfg.BlockOnReview {
		return flags, ErrComplianceBlocked{Flags: flags}
	}
	return flags, nil
}

// Record adds a committed movement to the owner's daily total.
func (g *ComplianceGate) Record(ctx context.Context, ownerID string, amount decimal.Decimal) {
	if err := g.counter.Add(ctx, ownerID, g.now(), amount); err != nil {
		g.log.Warn().
			Err(err).
			Str("owner", ownerID).
			Msg("error recording daily total")
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// PostgresCounter derives daily totals from committed transactions, so Add is a no-op.
type PostgresCounter struct {
	repo Repository
}

var (
	_ DailyCounter = (*PostgresCounter)(nil)
)

func NewPostgresCounter(repo Repository) *PostgresCounter {
	return &PostgresCounter{repo: repo}
}

func (p *PostgresCounter) Total(ctx context.Context, ownerID string, day time.Time) (decimal.Decimal, error) {
	return p.repo.OutboundTotal(ctx, ownerID, startOfDay(day))
}

func (p *PostgresCounter) Add(context.Context, string, time.Time, decimal.Decimal) error {
	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
