package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cobranca/internal/core"
	"cobranca/internal/storage"
)

func sampleDebtor(id string) core.Debtor {
	return core.Debtor{
		ID:     id,
		Name:   "Acme Corp",
		Status: core.StatusActive,
		Debts: []core.DebtItem{{
			ID:       id + "-d1",
			Category: core.CategoryProduct,
			Amount:   100,
			Date:     core.NewDate(2024, 1, 1),
			DueDate:  core.NewDate(2024, 2, 1),
		}},
	}
}

func TestInsertAndUpdateVersioning(t *testing.T) {
	ctx := context.Background()
	s := New()

	var stored core.Debtor
	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		stored, err = tx.InsertDebtor(ctx, sampleDebtor("a"))
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if stored.Version != 1 {
		t.Fatalf("expected version 1, got %d", stored.Version)
	}

	stored.Status = core.StatusOverdue
	err = s.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		stored, err = tx.UpdateDebtor(ctx, stored)
		return err
	})
	if err != nil || stored.Version != 2 {
		t.Fatalf("update: version %d, err %v", stored.Version, err)
	}

	stale := stored
	stale.Version = 1
	err = s.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := tx.UpdateDebtor(ctx, stale)
		return err
	})
	if !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	err = s.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := tx.UpdateDebtor(ctx, core.Debtor{ID: "missing", Version: 1})
		return err
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFailedUnitLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := tx.InsertDebtor(ctx, sampleDebtor("a"))
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.InsertDebtor(ctx, sampleDebtor("b")); err != nil {
			return err
		}
		if _, err := tx.DeleteDebts(ctx, "a"); err != nil {
			return err
		}
		if err := tx.InsertHistory(ctx, core.HistoryEntry{ID: "h1", DebtorID: "a"}); err != nil {
			return err
		}
		if _, err := tx.DeleteHistory(ctx, "a"); err != nil {
			return err
		}
		if err := tx.SaveSettings(ctx, core.Settings{InterestRate: 2}); err != nil {
			return err
		}
		if err := tx.DeleteDebtor(ctx, "a"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	debtors, _ := s.ListDebtors(ctx)
	if len(debtors) != 1 || debtors[0].ID != "a" || len(debtors[0].Debts) != 1 {
		t.Fatalf("debtors not restored: %+v", debtors)
	}
	history, _ := s.ListHistory(ctx)
	if len(history) != 0 {
		t.Fatalf("history not restored: %+v", history)
	}
	if _, err := s.GetHistoryEntry(ctx, "h1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected h1 gone, got %v", err)
	}
	settings, _ := s.GetSettings(ctx)
	if settings != (core.Settings{}) {
		t.Fatalf("settings not restored: %+v", settings)
	}
}

func TestDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.InsertDebtor(ctx, sampleDebtor("a")); err != nil {
			return err
		}
		if err := tx.InsertHistory(ctx, core.HistoryEntry{ID: "h1", DebtorID: "a"}); err != nil {
			return err
		}
		return tx.InsertHistory(ctx, core.HistoryEntry{ID: "h1", DebtorID: "a"})
	})
	if !errors.Is(err, core.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	err = s.WithinTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.InsertDebtor(ctx, sampleDebtor("a")); err != nil {
			return err
		}
		return tx.InsertDebt(ctx, "a", core.DebtItem{ID: "a-d1"})
	})
	if !errors.Is(err, core.ErrDuplicateID) {
		t.Fatalf("expected duplicate debt id, got %v", err)
	}
}

func TestExportTracking(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.WithinTx(ctx, func(tx storage.Tx) error {
		for _, id := range []string{"h1", "h2", "h3"} {
			if err := tx.InsertHistory(ctx, core.HistoryEntry{ID: id, DebtorID: "a"}); err != nil {
				return err
			}
		}
		return nil
	})

	pending, err := s.PendingExport(ctx, 2)
	if err != nil || len(pending) != 2 || pending[0].ID != "h1" {
		t.Fatalf("pending = %+v, %v", pending, err)
	}
	if err := s.MarkExported(ctx, "h1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.MarkExportError(ctx, "h2"); err != nil {
		t.Fatalf("mark error: %v", err)
	}
	pending, _ = s.PendingExport(ctx, 0)
	if len(pending) != 2 || pending[0].ID != "h2" || pending[1].ID != "h3" {
		t.Fatalf("pending after marks = %+v", pending)
	}
	if err := s.MarkExported(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Close()
	if err := s.Ping(ctx); !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("ping: %v", err)
	}
	if _, err := s.ListDebtors(ctx); !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("list: %v", err)
	}
	err := s.WithinTx(ctx, func(storage.Tx) error { return nil })
	if !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("tx: %v", err)
	}
}

func TestNewFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.json")
	seed := `{
  "debtors": [{"id":"49201","name":"Acme Corp","status":"Atrasado","debts":[
    {"id":"d1","category":"Produto","description":"Lote","amount":12500,"date":"2023-10-24","dueDate":"2023-11-24"}]}],
  "history": [{"id":"h1","debtorId":"49201","debtorName":"Acme Corp","type":"Divida","category":"Produto","amount":12500,"date":"2023-10-24"}]
}`
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := NewFromFile(path, nil)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	d, err := s.GetDebtor(context.Background(), "49201")
	if err != nil || d.Total() != 12500 || d.Status != core.StatusOverdue {
		t.Fatalf("seeded debtor = %+v, %v", d, err)
	}

	empty, err := NewFromFile(filepath.Join(dir, "missing.json"), nil)
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if list, _ := empty.ListDebtors(context.Background()); len(list) != 0 {
		t.Fatalf("expected empty store")
	}
}

func TestNewFromFileRejectsInvalidRecords(t *testing.T) {
	tests := []struct {
		name   string
		seed   string
		derive StatusFunc
	}{
		{"blank name", `{"debtors":[{"id":"1","status":"Ativo","debts":[]}]}`, nil},
		{"blank status", `{"debtors":[{"id":"1","name":"Acme","debts":[]}]}`, nil},
		{"unknown status", `{"debtors":[{"id":"1","name":"Acme","status":"Perdido","debts":[]}]}`, nil},
		{"debt without amount", `{"debtors":[{"id":"1","name":"Acme","status":"Ativo","debts":[
			{"id":"d1","category":"Produto","date":"2024-01-01","dueDate":"2024-02-01"}]}]}`, nil},
		{"history without debtor", `{"history":[{"id":"h1","type":"Divida","category":"Produto","amount":1,"date":"2024-01-01"}]}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "seed.json")
			if err := os.WriteFile(path, []byte(tt.seed), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := NewFromFile(path, tt.derive); !errors.Is(err, core.ErrValidation) {
				t.Errorf("NewFromFile() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestNewFromFileDerivesStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	seed := `{"debtors":[{"id":"1","name":"Acme","debts":[]}]}`
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := NewFromFile(path, func(core.Debtor) core.Status { return core.StatusPending })
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if d, _ := s.GetDebtor(context.Background(), "1"); d.Status != core.StatusPending {
		t.Errorf("status = %q, want %q", d.Status, core.StatusPending)
	}
}
