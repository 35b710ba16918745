// Package storage defines the durable record store the registry and ledger
// run against, and its SQLite implementation.
package storage

import (
	"context"

	"cobranca/internal/core"
)

// Reader exposes the read side of every collection. Listing methods return
// records in insertion order.
type Reader interface {
	ListDebtors(ctx context.Context) ([]core.Debtor, error)
	GetDebtor(ctx context.Context, id string) (core.Debtor, error)
	ListHistory(ctx context.Context) ([]core.HistoryEntry, error)
	GetHistoryEntry(ctx context.Context, id string) (core.HistoryEntry, error)
	GetSettings(ctx context.Context) (core.Settings, error)
}

// Tx is the write side, only reachable inside Store.WithinTx. Every method
// may fail with core.ErrStoreUnavailable or core.ErrConflict.
type Tx interface {
	Reader

	// InsertDebtor stores the debtor and its debts, returning it at version 1.
	InsertDebtor(ctx context.Context, d core.Debtor) (core.Debtor, error)
	// UpdateDebtor writes the debtor's own fields (not its debts) if d.Version
	// still matches, returning the record at its new version.
	UpdateDebtor(ctx context.Context, d core.Debtor) (core.Debtor, error)
	DeleteDebtor(ctx context.Context, id string) error

	InsertDebt(ctx context.Context, debtorID string, item core.DebtItem) error
	// DeleteDebts removes every debt of the debtor and reports how many went.
	DeleteDebts(ctx context.Context, debtorID string) (int, error)

	// InsertHistory fails with core.ErrDuplicateID when the id is taken.
	InsertHistory(ctx context.Context, e core.HistoryEntry) error
	DeleteHistory(ctx context.Context, debtorID string) (int, error)

	SaveSettings(ctx context.Context, s core.Settings) error
	DeleteSettings(ctx context.Context) error
}

// Store is a record store with all-or-nothing units of work.
type Store interface {
	Reader

	// WithinTx runs fn as one unit of work. If fn returns an error nothing it
	// wrote is kept.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// ExportTracker records which history entries were mirrored to the
// spreadsheet by the ledger worker.
type ExportTracker interface {
	PendingExport(ctx context.Context, limit int) ([]core.HistoryEntry, error)
	MarkExported(ctx context.Context, id string) error
	MarkExportError(ctx context.Context, id string) error
}
