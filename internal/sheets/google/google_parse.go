package google

import (
	"fmt"
	"strconv"
	"strings"

	"cobranca/internal/core"
)

// Column layout of the history sheet, A through G.
var historyHeader = []any{"ID", "Data", "Devedor", "Tipo", "Categoria", "Descrição", "Valor"}

func entryRow(e core.HistoryEntry) []any {
	name := strings.TrimSpace(e.DebtorName)
	if name == "" {
		name = core.UnknownDebtorName
	}
	return []any{e.ID, e.Date.String(), name, string(e.Type), string(e.Category), e.Description, e.Amount}
}

// rowOf returns the 1-based row whose first column equals id, or 0.
func rowOf(values [][]any, id string) int {
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == id {
			return i + 1
		}
	}
	return 0
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
