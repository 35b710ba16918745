// Package ledger is the append-only history of debt and payment events. It is
// the source every aggregate figure is computed from.
package ledger

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"

	"cobranca/internal/core"
	"cobranca/internal/storage"
)

// Filter selects entries; zero-valued fields match everything. From and To
// are inclusive.
type Filter struct {
	Type     core.EntryType
	Category core.Category
	From     core.Date
	To       core.Date
	DebtorID string
}

func (f Filter) match(e core.HistoryEntry) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.DebtorID != "" && e.DebtorID != f.DebtorID {
		return false
	}
	if !f.From.IsZero() && e.Date.IsBefore(f.From) {
		return false
	}
	if !f.To.IsZero() && f.To.IsBefore(e.Date) {
		return false
	}
	return true
}

// Ledger reads history from a store or from inside a unit of work.
type Ledger struct {
	r storage.Reader
}

func New(r storage.Reader) *Ledger {
	return &Ledger{r: r}
}

// Query returns the entries matching f, newest date first. Entries sharing a
// date keep the order they were appended in. The sequence is a snapshot and
// may be ranged over any number of times.
func (l *Ledger) Query(ctx context.Context, f Filter) (iter.Seq[core.HistoryEntry], error) {
	all, err := l.r.ListHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	matched := make([]core.HistoryEntry, 0, len(all))
	for _, e := range all {
		if f.match(e) {
			matched = append(matched, e)
		}
	}
	slices.SortStableFunc(matched, func(a, b core.HistoryEntry) int {
		return cmp.Compare(b.Date.String(), a.Date.String())
	})
	return slices.Values(matched), nil
}

// Entries is Query collected into a slice.
func (l *Ledger) Entries(ctx context.Context, f Filter) ([]core.HistoryEntry, error) {
	seq, err := l.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

func (l *Ledger) Count(ctx context.Context, f Filter) (int, error) {
	seq, err := l.Query(ctx, f)
	if err != nil {
		return 0, err
	}
	n := 0
	for range seq {
		n++
	}
	return n, nil
}

// Writer appends to the ledger inside a unit of work.
type Writer struct {
	*Ledger
	tx storage.Tx
}

func Bind(tx storage.Tx) *Writer {
	return &Writer{Ledger: New(tx), tx: tx}
}

// Append validates and stores e. A taken id fails with core.ErrDuplicateID.
func (w *Writer) Append(ctx context.Context, e core.HistoryEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if err := w.tx.InsertHistory(ctx, e); err != nil {
		return fmt.Errorf("append %s entry %s: %w", e.Type, e.ID, err)
	}
	return nil
}

// PurgeForDebtor removes every entry recorded for the debtor. Only account
// deletion calls it.
func (w *Writer) PurgeForDebtor(ctx context.Context, debtorID string) (int, error) {
	n, err := w.tx.DeleteHistory(ctx, debtorID)
	if err != nil {
		return 0, fmt.Errorf("purge history of %s: %w", debtorID, err)
	}
	return n, nil
}
