package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cobranca/internal/core"
	"cobranca/internal/ledger"
	"cobranca/internal/storage"
	"cobranca/internal/storage/memory"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}

type recordingPublisher struct {
	mu      sync.Mutex
	entries []core.HistoryEntry
	err     error
}

func (p *recordingPublisher) PublishEntry(_ context.Context, e core.HistoryEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, e)
	return p.err
}

// faultyStore fails the named Tx method while otherwise delegating to memory.
type faultyStore struct {
	*memory.Store
	failOn string
}

func (s *faultyStore) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.Store.WithinTx(ctx, func(tx storage.Tx) error {
		return fn(&faultyTx{Tx: tx, failOn: s.failOn})
	})
}

type faultyTx struct {
	storage.Tx
	failOn string
}

var errInjected = fmt.Errorf("injected: %w", core.ErrStoreUnavailable)

func (t *faultyTx) UpdateDebtor(ctx context.Context, d core.Debtor) (core.Debtor, error) {
	if t.failOn == "UpdateDebtor" {
		return core.Debtor{}, errInjected
	}
	return t.Tx.UpdateDebtor(ctx, d)
}

func (t *faultyTx) InsertHistory(ctx context.Context, e core.HistoryEntry) error {
	if t.failOn == "InsertHistory" {
		return errInjected
	}
	return t.Tx.InsertHistory(ctx, e)
}

func (t *faultyTx) DeleteSettings(ctx context.Context) error {
	if t.failOn == "DeleteSettings" {
		return errInjected
	}
	return t.Tx.DeleteSettings(ctx)
}

func fixedClock(y, m, d int) Clock {
	return ClockFunc(func() time.Time { return time.Date(y, time.Month(m), d, 15, 30, 0, 0, time.UTC) })
}

func newTestRegistry(t *testing.T, store storage.Store, clock Clock, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{WithClock(clock), WithIDGenerator(&seqIDs{})}, opts...)
	return NewRegistry(store, opts...)
}

func acmeInput() NewDebtorInput {
	return NewDebtorInput{
		Name:  "Acme",
		Email: "financeiro@acmecorp.com",
		InitialDebt: core.DebtItem{
			Category:    core.CategoryProduct,
			Description: "Lote de Hardware",
			Amount:      12500,
			Date:        core.NewDate(2023, 10, 24),
			DueDate:     core.NewDate(2023, 11, 24),
		},
	}
}

func history(t *testing.T, r *Registry) []core.HistoryEntry {
	t.Helper()
	entries, err := r.History(context.Background(), ledger.Filter{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return entries
}

func TestCreateDebtorOverdueOnCreation(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, memory.New(), fixedClock(2023, 12, 1))

	d, err := r.CreateDebtor(ctx, acmeInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.Status != core.StatusOverdue {
		t.Fatalf("status = %s, want %s", d.Status, core.StatusOverdue)
	}
	if d.Version != 1 || d.Avatar != core.DefaultAvatar("Acme") {
		t.Fatalf("unexpected debtor %+v", d)
	}

	entries := history(t, r)
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Type != core.EntryDebt || !strings.HasPrefix(e.Description, "Cadastro Inicial:") {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.Date.String() != "2023-10-24" || e.DebtorName != "Acme" || e.Amount != 12500 {
		t.Fatalf("entry not taken from the initial debt: %+v", e)
	}
}

func TestCreateDebtorDefaults(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, memory.New(), fixedClock(2024, 5, 10))

	in := acmeInput()
	in.InitialDebt.Description = "  "
	in.InitialDebt.Date = core.Date{}
	in.InitialDebt.DueDate = core.NewDate(2024, 6, 1)
	d, err := r.CreateDebtor(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.Status != core.StatusActive {
		t.Fatalf("status = %s", d.Status)
	}
	debt := d.Debts[0]
	if debt.Description != core.InitialDebtDescription || debt.Date.String() != "2024-05-10" || debt.ID == "" {
		t.Fatalf("defaults not applied: %+v", debt)
	}
	if got := history(t, r)[0].Description; got != "Cadastro Inicial: Dívida Inicial" {
		t.Fatalf("entry description = %q", got)
	}
}

func TestCreateDebtorValidation(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, memory.New(), fixedClock(2024, 5, 10))

	cases := map[string]func(*NewDebtorInput){
		"blank name":       func(in *NewDebtorInput) { in.Name = " " },
		"zero amount":      func(in *NewDebtorInput) { in.InitialDebt.Amount = 0 },
		"missing due date": func(in *NewDebtorInput) { in.InitialDebt.DueDate = core.Date{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := acmeInput()
			mutate(&in)
			if _, err := r.CreateDebtor(ctx, in); !errors.Is(err, core.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
	if n := len(history(t, r)); n != 0 {
		t.Fatalf("failed creations left %d entries", n)
	}
}

func TestAddDebtFlipsToOverdue(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, memory.New(), fixedClock(2024, 5, 10))

	in := acmeInput()
	in.InitialDebt.DueDate = core.NewDate(2024, 6, 1)
	d, err := r.CreateDebtor(ctx, in)
	if err != nil || d.Status != core.StatusActive {
		t.Fatalf("create: %+v, %v", d, err)
	}

	updated, err := r.AddDebt(ctx, d.ID, core.DebtItem{
		Category:    core.CategoryService,
		Description: "Manutenção",
		Amount:      300,
		Date:        core.NewDate(2024, 4, 1),
		DueDate:     core.NewDate(2024, 5, 1),
	})
	if err != nil {
		t.Fatalf("add debt: %v", err)
	}
	if updated.Status != core.StatusOverdue || len(updated.Debts) != 2 || updated.Version != 2 {
		t.Fatalf("unexpected debtor %+v", updated)
	}

	entries := history(t, r)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	var added core.HistoryEntry
	for _, e := range entries {
		if e.Amount == 300 {
			added = e
		}
	}
	if added.Type != core.EntryDebt || added.Description != "Manutenção" {
		t.Fatalf("unexpected entry %+v", added)
	}
}

func TestAddDebtUnknownDebtor(t *testing.T) {
	r := newTestRegistry(t, memory.New(), fixedClock(2024, 5, 10))
	_, err := r.AddDebt(context.Background(), "ghost", core.DebtItem{Amount: 1, DueDate: core.NewDate(2024, 6, 1)})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := len(history(t, r)); n != 0 {
		t.Fatalf("ledger grew: %d", n)
	}
}

func TestSettleDebt(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, memory.New(), fixedClock(2023, 12, 1))
	d, _ := r.CreateDebtor(ctx, acmeInput())

	entry, err := r.SettleDebt(ctx, d.ID, 12500, "Liquidação via PIX")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if entry.Type != core.EntryPayment || entry.Amount != 12500 || entry.Category != core.CategoryOther {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Date.String() != "2023-12-01" {
		t.Fatalf("payment not dated today: %s", entry.Date)
	}

	got, _ := r.GetDebtor(ctx, d.ID)
	if len(got.Debts) != 0 || got.Status != core.StatusPaid {
		t.Fatalf("unexpected debtor after settle %+v", got)
	}
	if n := len(history(t, r)); n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}

	if _, err := r.SettleDebt(ctx, d.ID, 0, ""); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected ErrValidation for zero payment, got %v", err)
	}
	if _, err := r.SettleDebt(ctx, "ghost", 10, ""); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSettleEmptyDebtorStillPaid(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, memory.New(), fixedClock(2023, 12, 1))
	d, _ := r.CreateDebtor(ctx, acmeInput())
	if _, err := r.SettleDebt(ctx, d.ID, 100, ""); err != nil {
		t.Fatal(err)
	}
	entry, err := r.SettleDebt(ctx, d.ID, 50, "")
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if entry.Description != core.PaymentDescription {
		t.Fatalf("default description = %q", entry.Description)
	}
	got, _ := r.GetDebtor(ctx, d.ID)
	if got.Status != core.StatusPaid || len(got.Debts) != 0 {
		t.Fatalf("unexpected %+v", got)
	}
}

func TestPaidIsStickyUntilNewDebt(t *testing.T) {
	ctx := context.Background()
	clock := fixedClock(2023, 12, 1)
	r := newTestRegistry(t, memory.New(), clock)
	d, _ := r.CreateDebtor(ctx, acmeInput())
	if _, err := r.SettleDebt(ctx, d.ID, 12500, ""); err != nil {
		t.Fatal(err)
	}

	changed, err := r.SweepOverdue(ctx, core.NewDate(2030, 1, 1))
	if err != nil || len(changed) != 0 {
		t.Fatalf("sweep touched a paid debtor: %+v, %v", changed, err)
	}

	reopened, err := r.AddDebt(ctx, d.ID, core.DebtItem{Amount: 10, DueDate: core.NewDate(2023, 11, 1)})
	if err != nil {
		t.Fatalf("add debt: %v", err)
	}
	if reopened.Status != core.StatusOverdue {
		t.Fatalf("paid debtor with late debt = %s, want %s", reopened.Status, core.StatusOverdue)
	}

	r2 := newTestRegistry(t, memory.New(), clock)
	d2, _ := r2.CreateDebtor(ctx, acmeInput())
	_, _ = r2.SettleDebt(ctx, d2.ID, 1, "")
	reopened, _ = r2.AddDebt(ctx, d2.ID, core.DebtItem{Amount: 10, DueDate: core.NewDate(2024, 1, 1)})
	if reopened.Status != core.StatusActive {
		t.Fatalf("paid debtor with future debt = %s, want %s", reopened.Status, core.StatusActive)
	}
}

func TestSweepOverdueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, memory.New(), fixedClock(2024, 1, 1))

	for i, due := range []core.Date{core.NewDate(2024, 1, 15), core.NewDate(2024, 2, 15), core.NewDate(2024, 3, 15)} {
		in := acmeInput()
		in.Name = fmt.Sprintf("Debtor %d", i)
		in.InitialDebt.DueDate = due
		if _, err := r.CreateDebtor(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	ref := core.NewDate(2024, 2, 20)
	changed, err := r.SweepOverdue(ctx, ref)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(changed) != 2 {
		t.Fatalf("expected 2 debtors to turn overdue, got %d", len(changed))
	}
	for _, d := range changed {
		if d.Status != core.StatusOverdue {
			t.Fatalf("unexpected status %s", d.Status)
		}
	}

	again, err := r.SweepOverdue(ctx, ref)
	if err != nil || len(again) != 0 {
		t.Fatalf("second sweep changed %d debtors, err %v", len(again), err)
	}

	overdue, _ := r.ListDebtors(ctx, DebtorFilter{Status: core.StatusOverdue})
	if len(overdue) != 2 {
		t.Fatalf("expected 2 overdue debtors listed, got %d", len(overdue))
	}
	if n := len(history(t, r)); n != 3 {
		t.Fatalf("sweep must not write history, got %d entries", n)
	}
}

func TestFailedOperationsLeaveNoPartialState(t *testing.T) {
	ctx := context.Background()
	base := memory.New()
	good := newTestRegistry(t, base, fixedClock(2024, 5, 10))
	in := acmeInput()
	in.InitialDebt.DueDate = core.NewDate(2024, 6, 1)
	d, err := good.CreateDebtor(ctx, in)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		failOn string
		op     func(r *Registry) error
	}{
		{"create", "InsertHistory", func(r *Registry) error {
			_, err := r.CreateDebtor(ctx, acmeInput())
			return err
		}},
		{"add debt", "UpdateDebtor", func(r *Registry) error {
			_, err := r.AddDebt(ctx, d.ID, core.DebtItem{Amount: 5, DueDate: core.NewDate(2024, 1, 1)})
			return err
		}},
		{"add debt", "InsertHistory", func(r *Registry) error {
			_, err := r.AddDebt(ctx, d.ID, core.DebtItem{Amount: 5, DueDate: core.NewDate(2024, 1, 1)})
			return err
		}},
		{"settle", "UpdateDebtor", func(r *Registry) error {
			_, err := r.SettleDebt(ctx, d.ID, 100, "")
			return err
		}},
		{"settle", "InsertHistory", func(r *Registry) error {
			_, err := r.SettleDebt(ctx, d.ID, 100, "")
			return err
		}},
		{"delete account", "DeleteSettings", func(r *Registry) error {
			_, err := r.DeleteAccount(ctx)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.failOn, func(t *testing.T) {
			before, _ := base.ListDebtors(ctx)
			beforeHistory, _ := base.ListHistory(ctx)

			pub := &recordingPublisher{}
			r := newTestRegistry(t, &faultyStore{Store: base, failOn: tt.failOn}, fixedClock(2024, 5, 10), WithPublisher(pub))
			err := tt.op(r)
			if !errors.Is(err, core.ErrStoreUnavailable) {
				t.Fatalf("expected ErrStoreUnavailable, got %v", err)
			}

			after, _ := base.ListDebtors(ctx)
			afterHistory, _ := base.ListHistory(ctx)
			if len(after) != len(before) || len(afterHistory) != len(beforeHistory) {
				t.Fatalf("partial state: debtors %d->%d, history %d->%d",
					len(before), len(after), len(beforeHistory), len(afterHistory))
			}
			for i := range before {
				if before[i].Status != after[i].Status || len(before[i].Debts) != len(after[i].Debts) ||
					before[i].Version != after[i].Version {
					t.Fatalf("debtor changed: %+v -> %+v", before[i], after[i])
				}
			}
			if len(pub.entries) != 0 {
				t.Fatalf("published %d entries for a failed operation", len(pub.entries))
			}
		})
	}
}

func TestStaleVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := newTestRegistry(t, store, fixedClock(2024, 5, 10))
	d, _ := r.CreateDebtor(ctx, acmeInput())

	err := store.WithinTx(ctx, func(tx storage.Tx) error {
		stale := d
		stale.Version = 0
		_, err := tx.UpdateDebtor(ctx, stale)
		return err
	})
	if !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPublishesAfterCommit(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("broker down")}
	changes := 0
	r := newTestRegistry(t, memory.New(), fixedClock(2023, 12, 1), WithPublisher(pub), OnChange(func() { changes++ }))

	d, err := r.CreateDebtor(ctx, acmeInput())
	if err != nil {
		t.Fatalf("publish failure must not fail the operation: %v", err)
	}
	if _, err := r.SettleDebt(ctx, d.ID, 10, ""); err != nil {
		t.Fatal(err)
	}
	if len(pub.entries) != 2 || pub.entries[1].Type != core.EntryPayment {
		t.Fatalf("published %+v", pub.entries)
	}
	if changes != 2 {
		t.Fatalf("expected 2 change notifications, got %d", changes)
	}
}

func TestLedgerCountMatchesOperations(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, memory.New(), fixedClock(2024, 5, 10))
	d, _ := r.CreateDebtor(ctx, acmeInput())
	for i := 0; i < 3; i++ {
		if _, err := r.AddDebt(ctx, d.ID, core.DebtItem{Amount: 1, DueDate: core.NewDate(2024, 6, 1)}); err != nil {
			t.Fatal(err)
		}
	}
	_, _ = r.SettleDebt(ctx, d.ID, 3, "")
	if n := len(history(t, r)); n != 5 {
		t.Fatalf("expected 5 entries, got %d", n)
	}
}

func TestConcurrentAddDebtSerialized(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, memory.New(), fixedClock(2024, 5, 10))
	d, _ := r.CreateDebtor(ctx, acmeInput())

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.AddDebt(ctx, d.ID, core.DebtItem{Amount: 1, DueDate: core.NewDate(2024, 6, 1)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent add: %v", err)
		}
	}
	got, _ := r.GetDebtor(ctx, d.ID)
	if len(got.Debts) != 21 || got.Version != 21 {
		t.Fatalf("debts %d version %d", len(got.Debts), got.Version)
	}
}

func TestConcurrentAddDebtDistinctDebtorsSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "cobranca.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	r := newTestRegistry(t, store, fixedClock(2024, 5, 10))

	ids := make([]string, 8)
	for i := range ids {
		in := acmeInput()
		in.Name = fmt.Sprintf("Devedor %d", i)
		d, err := r.CreateDebtor(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = d.ID
	}

	const rounds = 10
	for round := 0; round < rounds; round++ {
		var wg sync.WaitGroup
		errs := make(chan error, len(ids))
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := r.AddDebt(ctx, id, core.DebtItem{Amount: 1, DueDate: core.NewDate(2024, 6, 1)})
				errs <- err
			}(id)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("round %d: concurrent add: %v", round, err)
			}
		}
	}

	for _, id := range ids {
		got, err := r.GetDebtor(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Debts) != rounds+1 {
			t.Errorf("debtor %s has %d debts, want %d", id, len(got.Debts), rounds+1)
		}
	}
}

func TestListDebtorsFilterAndDelete(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, memory.New(), fixedClock(2024, 5, 10))
	for _, name := range []string{"Acme Corp", "João Silva", "Maria Souza"} {
		in := acmeInput()
		in.Name = name
		in.InitialDebt.DueDate = core.NewDate(2024, 6, 1)
		if _, err := r.CreateDebtor(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := r.ListDebtors(ctx, DebtorFilter{Search: "SOUZA"})
	if len(got) != 1 || got[0].Name != "Maria Souza" {
		t.Fatalf("search = %+v", got)
	}
	got, _ = r.ListDebtors(ctx, DebtorFilter{Status: core.StatusOverdue})
	if len(got) != 0 {
		t.Fatalf("expected no overdue debtors, got %d", len(got))
	}

	all, _ := r.ListDebtors(ctx, DebtorFilter{})
	if err := r.DeleteDebtor(ctx, all[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetDebtor(ctx, all[0].ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := len(history(t, r)); n != 3 {
		t.Fatalf("debtor deletion must keep history, got %d entries", n)
	}
	if err := r.DeleteDebtor(ctx, all[0].ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, memory.New(), fixedClock(2024, 5, 10))
	a, _ := r.CreateDebtor(ctx, acmeInput())
	b, _ := r.CreateDebtor(ctx, acmeInput())
	_, _ = r.AddDebt(ctx, a.ID, core.DebtItem{Amount: 1, DueDate: core.NewDate(2024, 6, 1)})
	_ = r.DeleteDebtor(ctx, b.ID)
	if _, err := r.SaveSettings(ctx, core.Settings{InterestRate: 2.5, InstallmentFee: 1}); err != nil {
		t.Fatal(err)
	}

	res, err := r.DeleteAccount(ctx)
	if err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if res.Debtors != 1 || res.Debts != 2 || res.Entries != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if n := len(history(t, r)); n != 0 {
		t.Fatalf("history left: %d", n)
	}
	if list, _ := r.ListDebtors(ctx, DebtorFilter{}); len(list) != 0 {
		t.Fatalf("debtors left: %d", len(list))
	}
	if s, _ := r.Settings(ctx); s != (core.Settings{}) {
		t.Fatalf("settings left: %+v", s)
	}
}

func TestSaveSettingsValidation(t *testing.T) {
	r := newTestRegistry(t, memory.New(), fixedClock(2024, 5, 10))
	if _, err := r.SaveSettings(context.Background(), core.Settings{InterestRate: -1}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
