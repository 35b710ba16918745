// Package memory is an in-process HistoryWriter used in development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"cobranca/internal/core"
	ports "cobranca/internal/sheets"
)

type Writer struct {
	mu    sync.Mutex
	rows  []core.HistoryEntry
	index map[string]int
	fail  error
}

var _ ports.HistoryWriter = (*Writer)(nil)

func New() *Writer {
	return &Writer{index: map[string]int{}}
}

// Append stores the entry once and returns a synthetic row reference.
func (w *Writer) Append(_ context.Context, e core.HistoryEntry) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return "", w.fail
	}
	if i, ok := w.index[e.ID]; ok {
		return fmt.Sprintf("mem:%d", i+1), nil
	}
	w.rows = append(w.rows, e)
	w.index[e.ID] = len(w.rows) - 1
	return fmt.Sprintf("mem:%d", len(w.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (w *Writer) Rows() []core.HistoryEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.rows)
}

// FailWith makes every following Append return err; nil restores normal behavior.
func (w *Writer) FailWith(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fail = err
}
