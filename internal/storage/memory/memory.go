// Package memory is an in-process storage.Store used for local runs and tests.
//
// A unit of work holds the store lock for its whole duration and records an
// undo step for every write; when the unit fails the steps run in reverse so
// no partial write survives.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"cobranca/internal/core"
	"cobranca/internal/storage"
)

const (
	exportPending = "pending"
	exportDone    = "exported"
	exportError   = "error"
)

type Store struct {
	mu       sync.RWMutex
	closed   bool
	debtors  map[string]core.Debtor
	order    []string
	history  []core.HistoryEntry
	histIdx  map[string]int
	exports  map[string]string
	settings *core.Settings
}

// Ensure interface conformance
var (
	_ storage.Store         = (*Store)(nil)
	_ storage.ExportTracker = (*Store)(nil)
)

func New() *Store {
	return &Store{
		debtors: map[string]core.Debtor{},
		histIdx: map[string]int{},
		exports: map[string]string{},
	}
}

// seedFile is the JSON layout accepted by NewFromFile.
type seedFile struct {
	Debtors []core.Debtor       `json:"debtors"`
	History []core.HistoryEntry `json:"history"`
}

// StatusFunc recomputes a seeded debtor's status.
type StatusFunc func(core.Debtor) core.Status

// NewFromFile seeds a store from a JSON file holding "debtors" and "history".
// A missing file yields an empty store. Every record is validated; when derive
// is non-nil it replaces each debtor's stored status.
func NewFromFile(path string, derive StatusFunc) (*Store, error) {
	s := New()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	err = s.WithinTx(context.Background(), func(tx storage.Tx) error {
		for _, d := range seed.Debtors {
			if derive != nil {
				d.Status = derive(d)
			}
			if !d.Status.IsValid() {
				return fmt.Errorf("seed debtor %s: status %q: %w", d.ID, d.Status, core.ErrValidation)
			}
			if err := d.Validate(); err != nil {
				return fmt.Errorf("seed debtor %s: %w", d.ID, err)
			}
			if _, err := tx.InsertDebtor(context.Background(), d); err != nil {
				return fmt.Errorf("seed debtor %s: %w", d.ID, err)
			}
		}
		for _, e := range seed.History {
			if err := e.Validate(); err != nil {
				return fmt.Errorf("seed history %s: %w", e.ID, err)
			}
			if err := tx.InsertHistory(context.Background(), e); err != nil {
				return fmt.Errorf("seed history %s: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return core.ErrStoreUnavailable
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) ListDebtors(_ context.Context) ([]core.Debtor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, core.ErrStoreUnavailable
	}
	return s.listDebtors(), nil
}

func (s *Store) GetDebtor(_ context.Context, id string) (core.Debtor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return core.Debtor{}, core.ErrStoreUnavailable
	}
	return s.getDebtor(id)
}

func (s *Store) ListHistory(_ context.Context) ([]core.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, core.ErrStoreUnavailable
	}
	return append([]core.HistoryEntry(nil), s.history...), nil
}

func (s *Store) GetHistoryEntry(_ context.Context, id string) (core.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return core.HistoryEntry{}, core.ErrStoreUnavailable
	}
	return s.getHistoryEntry(id)
}

func (s *Store) GetSettings(_ context.Context) (core.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return core.Settings{}, core.ErrStoreUnavailable
	}
	if s.settings == nil {
		return core.Settings{}, nil
	}
	return *s.settings, nil
}

// WithinTx implements storage.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrStoreUnavailable
	}

	t := &tx{s: s}
	if err := fn(t); err != nil {
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		return err
	}
	return nil
}

// PendingExport implements storage.ExportTracker.
func (s *Store) PendingExport(_ context.Context, limit int) ([]core.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, core.ErrStoreUnavailable
	}
	var out []core.HistoryEntry
	for _, e := range s.history {
		if s.exports[e.ID] != exportDone {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) MarkExported(_ context.Context, id string) error {
	return s.markExport(id, exportDone)
}

func (s *Store) MarkExportError(_ context.Context, id string) error {
	return s.markExport(id, exportError)
}

func (s *Store) markExport(id, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrStoreUnavailable
	}
	if _, ok := s.histIdx[id]; !ok {
		return fmt.Errorf("history entry %s: %w", id, core.ErrNotFound)
	}
	s.exports[id] = state
	return nil
}

func (s *Store) listDebtors() []core.Debtor {
	out := make([]core.Debtor, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.debtors[id].Clone())
	}
	return out
}

func (s *Store) getDebtor(id string) (core.Debtor, error) {
	d, ok := s.debtors[id]
	if !ok {
		return core.Debtor{}, fmt.Errorf("debtor %s: %w", id, core.ErrNotFound)
	}
	return d.Clone(), nil
}

func (s *Store) getHistoryEntry(id string) (core.HistoryEntry, error) {
	i, ok := s.histIdx[id]
	if !ok {
		return core.HistoryEntry{}, fmt.Errorf("history entry %s: %w", id, core.ErrNotFound)
	}
	return s.history[i], nil
}

func (s *Store) removeFromOrder(id string) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Store) reindexHistory() {
	s.histIdx = make(map[string]int, len(s.history))
	for i, e := range s.history {
		s.histIdx[e.ID] = i
	}
}
