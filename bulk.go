package ledgerxgo

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type BulkRow struct {
	Email         string `json:"email" validate:"required,email"`
	AccountNumber string `json:"account_number" validate:"required,numeric"`
	Type          string `json:"type" validate:"required,oneof=deposit interest bonus refund withdrawal fee adjustment"`
	Amount        string `json:"amount" validate:"required"`
	Description   string `json:"description"`
}

type RowError struct {
	Row     int     `json:"row"`
	Message string  `json:"message"`
	Data    BulkRow `json:"data"`
}

type BatchResult struct {
	BatchID    string     `json:"batch_id"`
	Total      int        `json:"total"`
	Successful int        `json:"successful"`
	Failed     int        `json:"failed"`
	Errors     []RowError `json:"errors"`
}

var bulkHeaders = []string{"email", "account_number", "type", "amount", "description"}

// ParseBulkCSV reads rows from CSV with a header line naming at least the bulk columns,
// in any order.
func ParseBulkCSV(r io.Reader) ([]BulkRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, ErrBadRequest{Fields: map[string]string{"csv": "missing header line"}}
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	missing := map[string]string{}
	for _, h := range bulkHeaders[:4] {
		if _, ok := idx[h]; !ok {
			missing[h] = "missing header"
		}
	}
	if len(missing) > 0 {
		return nil, ErrBadRequest{Fields: missing}
	}

	cell := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	var rows []BulkRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, ErrBadRequest{Fields: map[string]string{"csv": err.Error()}}
		}
		rows = append(rows, BulkRow{
			Email:         cell(rec, "email"),
			AccountNumber: cell(rec, "account_number"),
			Type:          strings.ToLower(cell(rec, "type")),
			Amount:        cell(rec, "amount"),
			Description:   cell(rec, "description"),
		})
	}
	return rows, nil
}

// BulkProcessor posts each row of a batch as its own transaction. A row failing never
// affects the others, and resubmitting a batch with the same ID replays instead of reposting.
type BulkProcessor struct {
	engine   *Engine
	repo     Repository
	validate *validator.Validate
	workers  int
	log      *zerolog.Logger
}

func NewBulkProcessor(engine *Engine, repo Repository, workers int, log *zerolog.Logger) *BulkProcessor {
	if workers <= 0 {
		workers = 1
	}
	return &BulkProcessor{
		engine:   engine,
		repo:     repo,
		validate: newValidator(),
		workers:  workers,
		log:      log,
	}
}

// ImportBatch processes rows numbered from 1. Results are reported in row order
// whatever the worker count.
func (b *BulkProcessor) ImportBatch(ctx context.Context, batchID string, rows []BulkRow, actor Actor) *BatchResult {
	if batchID == "" {
		batchID = b.engine.node.Generate().String()
	}
	errs := make([]error, len(rows))
	g := new(errgroup.Group)
	g.SetLimit(b.workers)
	for i := range rows {
		i := i
		g.Go(func() error {
			errs[i] = b.importRow(ctx, batchID, i+1, rows[i], actor)
			return nil
		})
	}
	g.Wait()

	res := &BatchResult{
		BatchID: batchID,
		Total:   len(rows),
		Errors:  []RowError{},
	}
	for i, err := range errs {
		if err == nil {
			res.Successful++
			continue
		}
		res.Failed++
		res.Errors = append(res.Errors, RowError{
			Row:     i + 1,
			Message: err.Error(),
			Data:    rows[i],
		})
	}
	b.log.Info().
		Str("batch", batchID).
		Int("total", res.Total).
		Int("failed", res.Failed).
		Msg("bulk import finished")
	return res
}

func (b *BulkProcessor) importRow(ctx context.Context, batchID string, n int, row BulkRow, actor Actor) error {
	id := fmt.Sprintf("BULK_%s_%d", batchID, n)
	cmd, err := b.rowCommand(ctx, id, row, actor)
	if err != nil {
		b.engine.Reject(ctx, cmd, err, map[string]string{
			"batch_id":       batchID,
			"row":            strconv.Itoa(n),
			"account_number": row.AccountNumber,
		})
		return err
	}
	_, err = b.engine.ExecuteTransfer(ctx, cmd)
	return err
}

// rowCommand validates row and resolves its account. On error the returned command
// carries whatever was resolved so far.
func (b *BulkProcessor) rowCommand(ctx context.Context, id string, row BulkRow, actor Actor) (TransferCmd, error) {
	row.Type = strings.ToLower(strings.TrimSpace(row.Type))
	cmd := TransferCmd{
		TransactionID: id,
		Reference:     id,
		Type:          TxnType(row.Type),
		Description:   row.Description,
		Actor:         actor,
	}
	if cmd.Description == "" {
		cmd.Description = "Bulk " + row.Type
	}
	if err := b.validate.Struct(row); err != nil {
		return cmd, validationError(err)
	}
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return cmd, ErrInvalidAmount{Amount: row.Amount, Reason: "not a number"}
	}
	cmd.Amount = amount
	if err = ValidateAmount(amount); err != nil {
		return cmd, err
	}

	acct, err := b.repo.GetAccountByNumber(ctx, row.AccountNumber)
	if err != nil {
		return cmd, err
	}
	cmd.From = acct.AcctID
	if !strings.EqualFold(acct.Email, row.Email) {
		return cmd, ErrAccountNotFound{Number: row.AccountNumber}
	}
	sys := b.engine.SystemAccounts()
	if sys.Contains(acct.AcctID) {
		return cmd, ErrForbidden{Reason: "system account"}
	}
	cmd.From, cmd.To = sys.Legs(cmd.Type, acct.AcctID, false)
	return cmd, nil
}
