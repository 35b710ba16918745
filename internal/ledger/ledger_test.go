package ledger

import (
	"context"
	"errors"
	"slices"
	"testing"

	"cobranca/internal/core"
	"cobranca/internal/storage"
	"cobranca/internal/storage/memory"
)

func entry(id string, typ core.EntryType, cat core.Category, date core.Date, debtor string) core.HistoryEntry {
	return core.HistoryEntry{
		ID: id, DebtorID: debtor, DebtorName: "Debtor " + debtor,
		Type: typ, Category: cat, Amount: 10, Date: date,
	}
}

func seed(t *testing.T, entries ...core.HistoryEntry) *memory.Store {
	t.Helper()
	s := memory.New()
	err := s.WithinTx(context.Background(), func(tx storage.Tx) error {
		w := Bind(tx)
		for _, e := range entries {
			if err := w.Append(context.Background(), e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func ids(seq []core.HistoryEntry) []string {
	out := make([]string, len(seq))
	for i, e := range seq {
		out[i] = e.ID
	}
	return out
}

func TestQueryOrderIsDescendingAndStable(t *testing.T) {
	s := seed(t,
		entry("h1", core.EntryDebt, core.CategoryProduct, core.NewDate(2024, 1, 5), "a"),
		entry("h2", core.EntryDebt, core.CategoryService, core.NewDate(2024, 3, 1), "a"),
		entry("h3", core.EntryPayment, core.CategoryOther, core.NewDate(2024, 1, 5), "b"),
		entry("h4", core.EntryPayment, core.CategoryOther, core.NewDate(2024, 2, 1), "b"),
	)
	got, err := New(s).Entries(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	want := []string{"h2", "h4", "h1", "h3"}
	if !slices.Equal(ids(got), want) {
		t.Fatalf("order = %v, want %v", ids(got), want)
	}
}

func TestQueryFilters(t *testing.T) {
	s := seed(t,
		entry("h1", core.EntryDebt, core.CategoryProduct, core.NewDate(2024, 1, 5), "a"),
		entry("h2", core.EntryDebt, core.CategoryService, core.NewDate(2024, 3, 1), "a"),
		entry("h3", core.EntryPayment, core.CategoryOther, core.NewDate(2024, 1, 31), "b"),
		entry("h4", core.EntryPayment, core.CategoryOther, core.NewDate(2024, 2, 1), "b"),
	)
	l := New(s)

	cases := []struct {
		name string
		f    Filter
		want []string
	}{
		{"type", Filter{Type: core.EntryPayment}, []string{"h4", "h3"}},
		{"category", Filter{Category: core.CategoryProduct}, []string{"h1"}},
		{"debtor", Filter{DebtorID: "a"}, []string{"h2", "h1"}},
		{"inclusive range", Filter{From: core.NewDate(2024, 1, 5), To: core.NewDate(2024, 2, 1)}, []string{"h4", "h3", "h1"}},
		{"from only", Filter{From: core.NewDate(2024, 2, 1)}, []string{"h2", "h4"}},
		{"combined", Filter{Type: core.EntryDebt, To: core.NewDate(2024, 2, 1)}, []string{"h1"}},
		{"nothing", Filter{DebtorID: "zzz"}, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := l.Entries(context.Background(), tc.f)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if !slices.Equal(ids(got), tc.want) {
				t.Fatalf("got %v, want %v", ids(got), tc.want)
			}
			n, _ := l.Count(context.Background(), tc.f)
			if n != len(tc.want) {
				t.Fatalf("count = %d, want %d", n, len(tc.want))
			}
		})
	}
}

func TestQueryIsRestartable(t *testing.T) {
	s := seed(t, entry("h1", core.EntryDebt, core.CategoryProduct, core.NewDate(2024, 1, 5), "a"))
	seq, err := New(s).Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected the sequence to replay, got %d then %d", len(first), len(second))
	}
}

func TestAppendRejectsDuplicatesAndInvalid(t *testing.T) {
	s := seed(t, entry("h1", core.EntryDebt, core.CategoryProduct, core.NewDate(2024, 1, 5), "a"))
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		return Bind(tx).Append(ctx, entry("h1", core.EntryPayment, core.CategoryOther, core.NewDate(2024, 1, 6), "a"))
	})
	if !errors.Is(err, core.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	bad := entry("h2", core.EntryPayment, core.CategoryOther, core.NewDate(2024, 1, 6), "a")
	bad.Amount = -1
	err = s.WithinTx(ctx, func(tx storage.Tx) error { return Bind(tx).Append(ctx, bad) })
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if n, _ := New(s).Count(ctx, Filter{}); n != 1 {
		t.Fatalf("ledger grew on failed appends: %d", n)
	}
}

func TestPurgeForDebtor(t *testing.T) {
	s := seed(t,
		entry("h1", core.EntryDebt, core.CategoryProduct, core.NewDate(2024, 1, 5), "a"),
		entry("h2", core.EntryDebt, core.CategoryProduct, core.NewDate(2024, 1, 6), "b"),
		entry("h3", core.EntryPayment, core.CategoryOther, core.NewDate(2024, 1, 7), "a"),
	)
	ctx := context.Background()
	var purged int
	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		purged, err = Bind(tx).PurgeForDebtor(ctx, "a")
		return err
	})
	if err != nil || purged != 2 {
		t.Fatalf("purge = %d, %v", purged, err)
	}
	got, _ := New(s).Entries(ctx, Filter{})
	if !slices.Equal(ids(got), []string{"h2"}) {
		t.Fatalf("remaining = %v", ids(got))
	}
}
