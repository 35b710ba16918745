// Package services provides business logic and orchestration services.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"cobranca/internal/core"
	"cobranca/internal/ledger"
	"cobranca/internal/storage"

	"github.com/google/uuid"
)

// Clock supplies the current instant; "today" is derived from it.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// IDGenerator hands out record ids.
type IDGenerator interface {
	NewID() string
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.NewString() }

// Publisher receives every ledger entry once its unit of work has committed.
type Publisher interface {
	PublishEntry(ctx context.Context, e core.HistoryEntry) error
}

// Option configures a Registry.
type Option func(*Registry)

func WithClock(c Clock) Option { return func(r *Registry) { r.clock = c } }

func WithIDGenerator(g IDGenerator) Option { return func(r *Registry) { r.ids = g } }

func WithPublisher(p Publisher) Option { return func(r *Registry) { r.publisher = p } }

// OnChange registers a hook run after every committed mutation.
func OnChange(fn func()) Option {
	return func(r *Registry) { r.onChange = append(r.onChange, fn) }
}

// Registry owns debtors and their debts. Every operation runs as one unit of
// work against the store and mutations of the same debtor are serialized.
type Registry struct {
	store     storage.Store
	clock     Clock
	ids       IDGenerator
	publisher Publisher
	onChange  []func()
	locks     *keyedMutex
}

func NewRegistry(store storage.Store, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		clock: ClockFunc(time.Now),
		ids:   uuidGenerator{},
		locks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDebtorInput is what a caller supplies to register a debtor.
type NewDebtorInput struct {
	Name        string        `json:"name"`
	Email       string        `json:"email"`
	Phone       string        `json:"phone"`
	Avatar      string        `json:"avatar"`
	InitialDebt core.DebtItem `json:"initialDebt"`
}

// DebtorFilter narrows ListDebtors. Search matches a name substring ignoring case.
type DebtorFilter struct {
	Status core.Status
	Search string
}

// AccountDeletion reports what DeleteAccount removed.
type AccountDeletion struct {
	Debtors int `json:"debtors"`
	Debts   int `json:"debts"`
	Entries int `json:"entries"`
}

// Today is the calendar day of the injected clock.
func (r *Registry) Today() core.Date {
	return core.DateOf(r.clock.Now().UTC())
}

// prepareDebt fills the defaults of a debt about to be stored and validates it.
func (r *Registry) prepareDebt(item core.DebtItem, defaultDescription string) (core.DebtItem, error) {
	if item.ID == "" {
		item.ID = r.ids.NewID()
	}
	if item.Category == "" {
		item.Category = core.CategoryOther
	}
	item.Description = strings.TrimSpace(item.Description)
	if item.Description == "" {
		item.Description = defaultDescription
	}
	if item.Date.IsZero() {
		item.Date = r.Today()
	}
	if err := item.Validate(); err != nil {
		return core.DebtItem{}, err
	}
	return item, nil
}

// CreateDebtor registers a debtor with its first debt and records the
// matching ledger entry.
func (r *Registry) CreateDebtor(ctx context.Context, in NewDebtorInput) (core.Debtor, error) {
	item, err := r.prepareDebt(in.InitialDebt, core.InitialDebtDescription)
	if err != nil {
		return core.Debtor{}, fmt.Errorf("initial debt: %w", err)
	}
	d, err := core.NewDebtor(r.ids.NewID(), in.Name, in.Email, in.Phone, in.Avatar, item)
	if err != nil {
		return core.Debtor{}, err
	}
	d.Status = DeriveStatus(d.Debts, r.Today(), core.StatusActive)

	entry := core.HistoryEntry{
		ID:          r.ids.NewID(),
		DebtorID:    d.ID,
		DebtorName:  d.Name,
		Type:        core.EntryDebt,
		Category:    item.Category,
		Amount:      item.Amount,
		Date:        item.Date,
		Description: core.InitialEntryPrefix + item.Description,
	}

	var created core.Debtor
	err = r.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		if created, err = tx.InsertDebtor(ctx, d); err != nil {
			return err
		}
		return ledger.Bind(tx).Append(ctx, entry)
	})
	if err != nil {
		return core.Debtor{}, fmt.Errorf("create debtor: %w", err)
	}

	slog.InfoContext(ctx, "Debtor created",
		"debtor_id", created.ID,
		"status", created.Status,
		"amount", item.Amount)
	r.committed(ctx, entry)
	return created, nil
}

// AddDebt appends a debt to an existing debtor and recomputes its status.
// Adding a debt to a Paid debtor reactivates it.
func (r *Registry) AddDebt(ctx context.Context, debtorID string, item core.DebtItem) (core.Debtor, error) {
	item, err := r.prepareDebt(item, core.NewDebtDescription)
	if err != nil {
		return core.Debtor{}, err
	}

	unlock := r.locks.Lock(debtorID)
	defer unlock()

	var (
		updated core.Debtor
		entry   core.HistoryEntry
	)
	err = r.store.WithinTx(ctx, func(tx storage.Tx) error {
		d, err := tx.GetDebtor(ctx, debtorID)
		if err != nil {
			return err
		}
		if err := tx.InsertDebt(ctx, debtorID, item); err != nil {
			return err
		}
		d.Debts = append(d.Debts, item)

		current := d.Status
		if current == core.StatusPaid {
			current = core.StatusActive
		}
		d.Status = DeriveStatus(d.Debts, r.Today(), current)
		if updated, err = tx.UpdateDebtor(ctx, d); err != nil {
			return err
		}

		entry = core.HistoryEntry{
			ID:          r.ids.NewID(),
			DebtorID:    d.ID,
			DebtorName:  d.Name,
			Type:        core.EntryDebt,
			Category:    item.Category,
			Amount:      item.Amount,
			Date:        item.Date,
			Description: item.Description,
		}
		return ledger.Bind(tx).Append(ctx, entry)
	})
	if err != nil {
		return core.Debtor{}, fmt.Errorf("add debt to %s: %w", debtorID, err)
	}

	slog.InfoContext(ctx, "Debt added",
		"debtor_id", debtorID,
		"debt_id", item.ID,
		"amount", item.Amount,
		"status", updated.Status)
	r.committed(ctx, entry)
	return updated, nil
}

// SettleDebt clears every debt of the debtor, marks it Paid and records the
// payment. The amount is taken as given; it is not compared with the debts.
func (r *Registry) SettleDebt(ctx context.Context, debtorID string, amount float64, description string) (core.HistoryEntry, error) {
	if !(amount > 0) {
		return core.HistoryEntry{}, core.NewValidationError("payment amount must be positive")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = core.PaymentDescription
	}

	unlock := r.locks.Lock(debtorID)
	defer unlock()

	var entry core.HistoryEntry
	err := r.store.WithinTx(ctx, func(tx storage.Tx) error {
		d, err := tx.GetDebtor(ctx, debtorID)
		if err != nil {
			return err
		}
		if _, err := tx.DeleteDebts(ctx, debtorID); err != nil {
			return err
		}
		d.Debts = nil
		d.Status = core.StatusPaid
		if _, err := tx.UpdateDebtor(ctx, d); err != nil {
			return err
		}

		entry = core.HistoryEntry{
			ID:          r.ids.NewID(),
			DebtorID:    d.ID,
			DebtorName:  d.Name,
			Type:        core.EntryPayment,
			Category:    core.CategoryOther,
			Amount:      amount,
			Date:        r.Today(),
			Description: description,
		}
		return ledger.Bind(tx).Append(ctx, entry)
	})
	if err != nil {
		return core.HistoryEntry{}, fmt.Errorf("settle %s: %w", debtorID, err)
	}

	slog.InfoContext(ctx, "Debt settled", "debtor_id", debtorID, "amount", amount)
	r.committed(ctx, entry)
	return entry, nil
}

// SweepOverdue recomputes every debtor against ref and persists the ones whose
// status moved. Running it twice with the same ref changes nothing the second
// time.
func (r *Registry) SweepOverdue(ctx context.Context, ref core.Date) ([]core.Debtor, error) {
	snapshot, err := r.store.ListDebtors(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	var candidates []string
	for _, d := range snapshot {
		if DeriveStatus(d.Debts, ref, d.Status) != d.Status {
			candidates = append(candidates, d.ID)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Sorted acquisition keeps concurrent sweeps from deadlocking.
	slices.Sort(candidates)
	for _, id := range candidates {
		defer r.locks.Lock(id)()
	}

	var changed []core.Debtor
	err = r.store.WithinTx(ctx, func(tx storage.Tx) error {
		changed = changed[:0]
		for _, id := range candidates {
			d, err := tx.GetDebtor(ctx, id)
			if err != nil {
				if errors.Is(err, core.ErrNotFound) {
					continue
				}
				return err
			}
			next := DeriveStatus(d.Debts, ref, d.Status)
			if next == d.Status {
				continue
			}
			d.Status = next
			updated, err := tx.UpdateDebtor(ctx, d)
			if err != nil {
				return err
			}
			changed = append(changed, updated)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}

	if len(changed) > 0 {
		slog.InfoContext(ctx, "Overdue sweep complete",
			"reference_date", ref.String(),
			"changed", len(changed))
		r.committed(ctx)
	}
	return changed, nil
}

func (r *Registry) GetDebtor(ctx context.Context, id string) (core.Debtor, error) {
	d, err := r.store.GetDebtor(ctx, id)
	if err != nil {
		return core.Debtor{}, fmt.Errorf("get debtor: %w", err)
	}
	return d, nil
}

func (r *Registry) ListDebtors(ctx context.Context, f DebtorFilter) ([]core.Debtor, error) {
	all, err := r.store.ListDebtors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list debtors: %w", err)
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]core.Debtor, 0, len(all))
	for _, d := range all {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(d.Name), search) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// History returns ledger entries matching f in canonical order.
func (r *Registry) History(ctx context.Context, f ledger.Filter) ([]core.HistoryEntry, error) {
	return ledger.New(r.store).Entries(ctx, f)
}

// DeleteDebtor removes the debtor and its debts. Its ledger entries stay.
func (r *Registry) DeleteDebtor(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	err := r.store.WithinTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.DeleteDebts(ctx, id); err != nil {
			return err
		}
		return tx.DeleteDebtor(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete debtor %s: %w", id, err)
	}
	slog.InfoContext(ctx, "Debtor deleted", "debtor_id", id)
	r.committed(ctx)
	return nil
}

// DeleteAccount wipes everything: history first, then debts, debtors and
// settings.
func (r *Registry) DeleteAccount(ctx context.Context) (AccountDeletion, error) {
	var res AccountDeletion
	err := r.store.WithinTx(ctx, func(tx storage.Tx) error {
		res = AccountDeletion{}
		debtors, err := tx.ListDebtors(ctx)
		if err != nil {
			return err
		}
		history, err := tx.ListHistory(ctx)
		if err != nil {
			return err
		}

		// Debtors deleted earlier may still own entries.
		owners := make([]string, 0, len(debtors))
		seen := map[string]bool{}
		for _, d := range debtors {
			owners = append(owners, d.ID)
			seen[d.ID] = true
		}
		for _, e := range history {
			if !seen[e.DebtorID] {
				owners = append(owners, e.DebtorID)
				seen[e.DebtorID] = true
			}
		}

		w := ledger.Bind(tx)
		for _, id := range owners {
			n, err := w.PurgeForDebtor(ctx, id)
			if err != nil {
				return err
			}
			res.Entries += n
		}
		for _, d := range debtors {
			n, err := tx.DeleteDebts(ctx, d.ID)
			if err != nil {
				return err
			}
			res.Debts += n
		}
		for _, d := range debtors {
			if err := tx.DeleteDebtor(ctx, d.ID); err != nil {
				return err
			}
			res.Debtors++
		}
		return tx.DeleteSettings(ctx)
	})
	if err != nil {
		return AccountDeletion{}, fmt.Errorf("delete account: %w", err)
	}

	slog.WarnContext(ctx, "Account deleted",
		"debtors", res.Debtors,
		"debts", res.Debts,
		"entries", res.Entries)
	r.committed(ctx)
	return res, nil
}

func (r *Registry) Settings(ctx context.Context) (core.Settings, error) {
	s, err := r.store.GetSettings(ctx)
	if err != nil {
		return core.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return s, nil
}

// SaveSettings stores s, replacing whatever was there.
func (r *Registry) SaveSettings(ctx context.Context, s core.Settings) (core.Settings, error) {
	if err := s.Validate(); err != nil {
		return core.Settings{}, err
	}
	err := r.store.WithinTx(ctx, func(tx storage.Tx) error {
		return tx.SaveSettings(ctx, s)
	})
	if err != nil {
		return core.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	r.committed(ctx)
	return s, nil
}

// committed runs the change hooks and publishes the entries. Neither can
// undo the unit that already committed, so failures are only logged.
func (r *Registry) committed(ctx context.Context, entries ...core.HistoryEntry) {
	for _, fn := range r.onChange {
		fn()
	}
	if r.publisher == nil {
		return
	}
	for _, e := range entries {
		if err := r.publisher.PublishEntry(ctx, e); err != nil {
			slog.ErrorContext(ctx, "Failed to publish ledger entry",
				"entry_id", e.ID,
				"debtor_id", e.DebtorID,
				"error", err)
		}
	}
}

// Ping reports whether the backing store is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}
