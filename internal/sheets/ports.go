package sheets

import (
	"context"

	"cobranca/internal/core"
)

// Ports for outbound adapters.
type (
	// HistoryWriter mirrors one ledger entry as a spreadsheet row. Appending
	// an entry that is already present returns the existing row reference.
	HistoryWriter interface {
		Append(ctx context.Context, e core.HistoryEntry) (rowRef string, err error)
	}
)
