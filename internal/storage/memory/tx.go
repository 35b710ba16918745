package memory

import (
	"context"
	"fmt"

	"cobranca/internal/core"
)

// tx runs with Store.mu held for writing, so it reaches the maps directly.
type tx struct {
	s    *Store
	undo []func()
}

func (t *tx) onRollback(fn func()) { t.undo = append(t.undo, fn) }

func (t *tx) ListDebtors(_ context.Context) ([]core.Debtor, error) {
	return t.s.listDebtors(), nil
}

func (t *tx) GetDebtor(_ context.Context, id string) (core.Debtor, error) {
	return t.s.getDebtor(id)
}

func (t *tx) ListHistory(_ context.Context) ([]core.HistoryEntry, error) {
	return append([]core.HistoryEntry(nil), t.s.history...), nil
}

func (t *tx) GetHistoryEntry(_ context.Context, id string) (core.HistoryEntry, error) {
	return t.s.getHistoryEntry(id)
}

func (t *tx) GetSettings(_ context.Context) (core.Settings, error) {
	if t.s.settings == nil {
		return core.Settings{}, nil
	}
	return *t.s.settings, nil
}

func (t *tx) InsertDebtor(_ context.Context, d core.Debtor) (core.Debtor, error) {
	if _, ok := t.s.debtors[d.ID]; ok {
		return core.Debtor{}, fmt.Errorf("debtor %s: %w", d.ID, core.ErrDuplicateID)
	}
	for _, item := range d.Debts {
		if t.debtExists(item.ID) {
			return core.Debtor{}, fmt.Errorf("debt %s: %w", item.ID, core.ErrDuplicateID)
		}
	}
	d = d.Clone()
	d.Version = 1
	t.s.debtors[d.ID] = d
	t.s.order = append(t.s.order, d.ID)
	t.onRollback(func() {
		delete(t.s.debtors, d.ID)
		t.s.removeFromOrder(d.ID)
	})
	return d.Clone(), nil
}

func (t *tx) UpdateDebtor(_ context.Context, d core.Debtor) (core.Debtor, error) {
	prev, ok := t.s.debtors[d.ID]
	if !ok {
		return core.Debtor{}, fmt.Errorf("debtor %s: %w", d.ID, core.ErrNotFound)
	}
	if prev.Version != d.Version {
		return core.Debtor{}, fmt.Errorf("debtor %s at version %d, have %d: %w", d.ID, prev.Version, d.Version, core.ErrConflict)
	}
	next := prev.Clone()
	next.Name = d.Name
	next.Email = d.Email
	next.Phone = d.Phone
	next.Avatar = d.Avatar
	next.Status = d.Status
	next.Version = prev.Version + 1
	t.s.debtors[d.ID] = next
	t.onRollback(func() { t.s.debtors[d.ID] = prev })
	return next.Clone(), nil
}

func (t *tx) DeleteDebtor(_ context.Context, id string) error {
	prev, ok := t.s.debtors[id]
	if !ok {
		return fmt.Errorf("debtor %s: %w", id, core.ErrNotFound)
	}
	prevOrder := append([]string(nil), t.s.order...)
	delete(t.s.debtors, id)
	t.s.removeFromOrder(id)
	t.onRollback(func() {
		t.s.debtors[id] = prev
		t.s.order = prevOrder
	})
	return nil
}

func (t *tx) InsertDebt(_ context.Context, debtorID string, item core.DebtItem) error {
	prev, ok := t.s.debtors[debtorID]
	if !ok {
		return fmt.Errorf("debtor %s: %w", debtorID, core.ErrNotFound)
	}
	if t.debtExists(item.ID) {
		return fmt.Errorf("debt %s: %w", item.ID, core.ErrDuplicateID)
	}
	next := prev.Clone()
	next.Debts = append(next.Debts, item)
	t.s.debtors[debtorID] = next
	t.onRollback(func() { t.s.debtors[debtorID] = prev })
	return nil
}

func (t *tx) DeleteDebts(_ context.Context, debtorID string) (int, error) {
	prev, ok := t.s.debtors[debtorID]
	if !ok {
		return 0, fmt.Errorf("debtor %s: %w", debtorID, core.ErrNotFound)
	}
	next := prev.Clone()
	next.Debts = nil
	t.s.debtors[debtorID] = next
	t.onRollback(func() { t.s.debtors[debtorID] = prev })
	return len(prev.Debts), nil
}

func (t *tx) InsertHistory(_ context.Context, e core.HistoryEntry) error {
	if _, ok := t.s.histIdx[e.ID]; ok {
		return fmt.Errorf("history entry %s: %w", e.ID, core.ErrDuplicateID)
	}
	t.s.history = append(t.s.history, e)
	t.s.histIdx[e.ID] = len(t.s.history) - 1
	t.s.exports[e.ID] = exportPending
	t.onRollback(func() {
		t.s.history = t.s.history[:len(t.s.history)-1]
		delete(t.s.histIdx, e.ID)
		delete(t.s.exports, e.ID)
	})
	return nil
}

func (t *tx) DeleteHistory(_ context.Context, debtorID string) (int, error) {
	prevHistory := t.s.history
	prevExports := make(map[string]string, len(t.s.exports))
	for k, v := range t.s.exports {
		prevExports[k] = v
	}

	kept := make([]core.HistoryEntry, 0, len(prevHistory))
	removed := 0
	for _, e := range prevHistory {
		if e.DebtorID == debtorID {
			delete(t.s.exports, e.ID)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed == 0 {
		return 0, nil
	}
	t.s.history = kept
	t.s.reindexHistory()
	t.onRollback(func() {
		t.s.history = prevHistory
		t.s.exports = prevExports
		t.s.reindexHistory()
	})
	return removed, nil
}

func (t *tx) SaveSettings(_ context.Context, s core.Settings) error {
	prev := t.s.settings
	t.s.settings = &s
	t.onRollback(func() { t.s.settings = prev })
	return nil
}

func (t *tx) DeleteSettings(_ context.Context) error {
	prev := t.s.settings
	t.s.settings = nil
	t.onRollback(func() { t.s.settings = prev })
	return nil
}

func (t *tx) debtExists(id string) bool {
	for _, d := range t.s.debtors {
		for _, item := range d.Debts {
			if item.ID == id {
				return true
			}
		}
	}
	return false
}
