package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"strconv"

	"cobranca/internal/core"
)

var csvHeader = []string{"id", "data", "devedor", "tipo", "categoria", "descricao", "valor"}

// WriteCSV writes the entries as CSV with a header row.
func WriteCSV(w io.Writer, entries iter.Seq[core.HistoryEntry]) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for e := range entries {
		name := e.DebtorName
		if name == "" {
			name = core.UnknownDebtorName
		}
		record := []string{
			e.ID,
			e.Date.String(),
			name,
			string(e.Type),
			string(e.Category),
			e.Description,
			strconv.FormatFloat(e.Amount, 'f', 2, 64),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %s: %w", e.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
