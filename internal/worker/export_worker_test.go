package worker

import (
	"context"
	"errors"
	"testing"

	"cobranca/internal/amqp"
	"cobranca/internal/core"
	sheetsmem "cobranca/internal/sheets/memory"
	"cobranca/internal/storage"
	storemem "cobranca/internal/storage/memory"
)

func seedHistory(t *testing.T, s *storemem.Store, ids ...string) {
	t.Helper()
	ctx := context.Background()
	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		for _, id := range ids {
			if err := tx.InsertHistory(ctx, core.HistoryEntry{
				ID: id, DebtorID: "d1", DebtorName: "Bruno", Type: core.EntryDebt,
				Category: core.CategoryFee, Amount: 42, Date: core.NewDate(2024, 7, 1),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestHandleEntryMessage(t *testing.T) {
	ctx := context.Background()
	store := storemem.New()
	seedHistory(t, store, "h1", "h2")
	writer := sheetsmem.New()
	w := NewExportWorker(store, writer, 0)

	if err := w.HandleEntryMessage(ctx, &amqp.LedgerEntryMessage{EntryID: "h1"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	rows := writer.Rows()
	if len(rows) != 1 || rows[0].ID != "h1" || rows[0].DebtorName != "Bruno" {
		t.Fatalf("rows = %+v", rows)
	}
	pending, _ := store.PendingExport(ctx, 10)
	if len(pending) != 1 || pending[0].ID != "h2" {
		t.Fatalf("pending = %+v", pending)
	}

	// Entries purged with the account are acknowledged without exporting.
	if err := w.HandleEntryMessage(ctx, &amqp.LedgerEntryMessage{EntryID: "gone"}); err != nil {
		t.Fatalf("missing entry should be dropped, got %v", err)
	}
}

func TestExportFailureIsRetriedByPendingPass(t *testing.T) {
	ctx := context.Background()
	store := storemem.New()
	seedHistory(t, store, "h1", "h2", "h3")
	writer := sheetsmem.New()
	w := NewExportWorker(store, writer, 2)

	writer.FailWith(errors.New("sheets down"))
	if err := w.HandleEntryMessage(ctx, &amqp.LedgerEntryMessage{EntryID: "h1"}); err == nil {
		t.Fatal("expected handler error so the message is requeued")
	}
	n, err := w.ProcessPending(ctx)
	if err != nil || n != 0 {
		t.Fatalf("ProcessPending while failing = %d, %v", n, err)
	}
	if pending, _ := store.PendingExport(ctx, 10); len(pending) != 3 {
		t.Fatalf("failed entries must stay pending, got %d", len(pending))
	}

	writer.FailWith(nil)
	n, err = w.ProcessPending(ctx)
	if err != nil || n != 2 {
		t.Fatalf("ProcessPending = %d, %v; want 2 (batch size)", n, err)
	}
	if err := w.StartupExportCheck(ctx); err != nil {
		t.Fatalf("startup check: %v", err)
	}
	if pending, _ := store.PendingExport(ctx, 10); len(pending) != 0 {
		t.Fatalf("pending after recovery = %+v", pending)
	}
	if len(writer.Rows()) != 3 {
		t.Fatalf("rows = %d, want 3", len(writer.Rows()))
	}
}

func TestProcessPendingStoreError(t *testing.T) {
	store := storemem.New()
	_ = store.Close()
	w := NewExportWorker(store, sheetsmem.New(), 5)
	if _, err := w.ProcessPending(context.Background()); !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
