package ledgerxgo

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/chacha20poly1305"
)

//go:generate mockgen -destination=mocks/audit.go -package=mocks . Auditor

// AuditEntry is what a component hands to the audit trail. Chain fields are assigned on append.
type AuditEntry struct {
	TransactionID string
	AcctID        snowflake.ID
	Action        string
	ActorID       string
	Before        []AccountSnapshot
	After         []AccountSnapshot
	Amount        decimal.Decimal
	Metadata      map[string]string
	Severity      string
}

type ErrAuditTampered struct {
	Seq int64
	ID  uuid.UUID
}

func (e ErrAuditTampered) Error() string {
	return fmt.Sprintf("audit record %d (%s) does not match its hash chain", e.Seq, e.ID)
}

type AuditConfig struct {
	Salt string
	// EncryptionKey seals fallback log entries when the store is unavailable. Must be
	// chacha20poly1305.KeySize bytes; empty leaves them in the clear.
	EncryptionKey []byte
	SinkTimeout   time.Duration
	Source        string
}

// AuditTrail appends hash-chained audit records and forwards each one to a Sink.
// Record never fails its caller: storage failures go to the fallback log and sink
// failures are only logged.
type AuditTrail struct {
	repo    Repository
	sink    Sink
	salt    string
	aead    cipher.AEAD
	timeout time.Duration
	source  string
	log     *zerolog.Logger
	wg      sync.WaitGroup
	now     func() time.Time
}

var (
	_ Auditor = (*AuditTrail)(nil)
)

func NewAuditTrail(repo Repository, sink Sink, cfg AuditConfig, log *zerolog.Logger) (*AuditTrail, error) {
	at := &AuditTrail{
		repo:    repo,
		sink:    sink,
		salt:    cfg.Salt,
		timeout: cfg.SinkTimeout,
		source:  cfg.Source,
		log:     log,
		now:     time.Now,
	}
	if at.sink == nil {
		at.sink = NopSink{}
	}
	if at.timeout <= 0 {
		at.timeout = 5 * time.Second
	}
	if at.source == "" {
		at.source = "ledgerxgo"
	}
	if len(cfg.EncryptionKey) > 0 {
		aead, err := chacha20poly1305.New(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("audit encryption key: %w", err)
		}
		at.aead = aead
	}
	return at, nil
}

func (a *AuditTrail) Record(ctx context.Context, entry AuditEntry) {
	rec := AuditRecord{
		ID:            uuid.New(),
		TransactionID: entry.TransactionID,
		AcctID:        entry.AcctID,
		Action:        entry.Action,
		ActorID:       entry.ActorID,
		Before:        entry.Before,
		After:         entry.After,
		Amount:        entry.Amount,
		Metadata:      entry.Metadata,
		CreatedAt:     a.now().UTC().Truncate(time.Microsecond),
	}
	payload, err := auditPayload(&rec)
	if err != nil {
		a.log.Err(err).Str("action", rec.Action).Msg("error encoding audit payload")
		return
	}

	seal := func(prev string) string {
		return chainHash(prev, payload, a.salt)
	}
	if err = a.repo.AppendAudit(context.WithoutCancel(ctx), &rec, seal); err != nil {
		a.backup(&rec, payload, err)
	}
	a.forward(&rec, entry.Severity)
}

// backup writes a record the store refused to the process log so it can be replayed later.
func (a *AuditTrail) backup(rec *AuditRecord, payload []byte, cause error) {
	evt := a.log.Error().
		Err(cause).
		Str("marker", "AUDIT_BACKUP").
		Str("audit_id", rec.ID.String()).
		Str("action", rec.Action)
	if a.aead == nil {
		evt.RawJSON("record", payload).Msg("audit store unavailable")
		return
	}
	nonce := make([]byte, a.aead.NonceSize(), a.aead.NonceSize()+len(payload)+a.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		evt.Str("nonce_error", err.Error()).Msg("audit store unavailable, record not sealed")
		return
	}
	sealed := a.aead.Seal(nonce, nonce, payload, []byte(rec.ID.String()))
	evt.Str("sealed", base64.StdEncoding.EncodeToString(sealed)).Msg("audit store unavailable")
}

// OpenBackup decrypts a sealed fallback entry written by an AuditTrail with the same key.
func OpenBackup(key []byte, auditID, sealed string) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed backup too short")
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	return aead.Open(nil, nonce, ct, []byte(auditID))
}

func (a *AuditTrail) forward(rec *AuditRecord, severity string) {
	if severity == "" {
		severity = SeverityInfo
	}
	data := map[string]any{
		"audit_id":   rec.ID.String(),
		"account_id": rec.AcctID.String(),
		"actor_id":   rec.ActorID,
		"amount":     rec.Amount.String(),
		"hash":       rec.Hash,
	}
	if rec.TransactionID != "" {
		data["transaction_id"] = rec.TransactionID
	}
	for k, v := range rec.Metadata {
		if _, ok := data[k]; !ok {
			data[k] = v
		}
	}
	ev := Event{
		Source:    a.source,
		EventType: rec.Action,
		Severity:  severity,
		Data:      data,
		Timestamp: rec.CreatedAt,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.sink.Send(ctx, ev); err != nil {
			a.log.Warn().
				Err(err).
				Str("action", ev.EventType).
				Msg("error forwarding audit event")
		}
	}()
}

// Close waits for in-flight forwards.
func (a *AuditTrail) Close() {
	a.wg.Wait()
}

// Verify checks the hash chain of the latest limit records.
func (a *AuditTrail) Verify(ctx context.Context, limit int) (int, error) {
	recs, err := a.repo.ListAudit(ctx, limit)
	if err != nil {
		return 0, ErrPersistence{Op: "list audit", Err: err}
	}
	return len(recs), VerifyAuditChain(recs, a.salt)
}

// VerifyAuditChain recomputes every hash in recs, which must be consecutive and in
// sequence order. The first record's PrevHash is taken as given.
func VerifyAuditChain(recs []AuditRecord, salt string) error {
	for i := range recs {
		rec := &recs[i]
		if i > 0 && rec.PrevHash != recs[i-1].Hash {
			return ErrAuditTampered{Seq: rec.Seq, ID: rec.ID}
		}
		payload, err := auditPayload(rec)
		if err != nil {
			return err
		}
		if chainHash(rec.PrevHash, payload, salt) != rec.Hash {
			return ErrAuditTampered{Seq: rec.Seq, ID: rec.ID}
		}
	}
	return nil
}

type auditContent struct {
	ID            uuid.UUID         `json:"id"`
	TransactionID string            `json:"transaction_id"`
	AcctID        snowflake.ID      `json:"account_id"`
	Action        string            `json:"action"`
	ActorID       string            `json:"actor_id"`
	Before        []AccountSnapshot `json:"before"`
	After         []AccountSnapshot `json:"after"`
	Amount        decimal.Decimal   `json:"amount"`
	Metadata      map[string]string `json:"metadata"`
	CreatedAt     string            `json:"created_at"`
}

func auditPayload(rec *AuditRecord) ([]byte, error) {
	return json.Marshal(auditContent{
		ID:            rec.ID,
		TransactionID: rec.TransactionID,
		AcctID:        rec.AcctID,
		Action:        rec.Action,
		ActorID:       rec.ActorID,
		Before:        rec.Before,
		After:         rec.After,
		Amount:        rec.Amount,
		Metadata:      rec.Metadata,
		CreatedAt:     rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func chainHash(prev string, payload []byte, salt string) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(payload)
	h.Write([]byte(salt))
	return hex.EncodeToString(h.Sum(nil))
}
