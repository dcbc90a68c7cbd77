package ledgerxgo

import (
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
)

var statementCols = []struct {
	title string
	width float64
	align string
}{
	{"Date", 34, "L"},
	{"Reference", 36, "L"},
	{"Type", 34, "L"},
	{"Status", 24, "L"},
	{"Amount", 30, "R"},
	{"Balance", 32, "R"},
}

// WriteStatement renders txns, newest first and viewed from acct, as a PDF statement.
func WriteStatement(w io.Writer, acct *Account, txns []Transaction, now time.Time) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Account statement "+acct.Number, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, "Account statement", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, "Account: "+acct.Number, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Holder: "+acct.Email, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Balance: "+acct.Balance.StringFixed(2), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Generated: "+now.UTC().Format(time.RFC1123), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for _, c := range statementCols {
		pdf.CellFormat(c.width, 7, c.title, "1", 0, c.align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for i := range txns {
		txn := &txns[i]
		balance := ""
		if txn.Status == TxnCompleted {
			balance = txn.BalanceAfter.StringFixed(2)
		}
		cells := []string{
			txn.CreatedAt.UTC().Format("2006-01-02 15:04"),
			txn.Reference,
			string(txn.Type),
			string(txn.Status),
			txn.NetAmount.StringFixed(2),
			balance,
		}
		for j, c := range statementCols {
			pdf.CellFormat(c.width, 6, cells[j], "1", 0, c.align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	if len(txns) == 0 {
		pdf.CellFormat(0, 6, "No transactions.", "", 1, "L", false, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render statement: %w", err)
	}
	return nil
}
