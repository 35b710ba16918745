// Package worker mirrors committed ledger entries into the history
// spreadsheet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cobranca/internal/amqp"
	"cobranca/internal/core"
	"cobranca/internal/sheets"
	"cobranca/internal/storage"
)

// Source is the slice of the store the worker reads and annotates.
type Source interface {
	GetHistoryEntry(ctx context.Context, id string) (core.HistoryEntry, error)
	storage.ExportTracker
}

// ExportWorker appends ledger entries to the spreadsheet and records the
// outcome on the entry's export status.
type ExportWorker struct {
	source    Source
	sheets    sheets.HistoryWriter
	batchSize int
}

func NewExportWorker(source Source, writer sheets.HistoryWriter, batchSize int) *ExportWorker {
	if batchSize < 1 {
		batchSize = 10
	}
	return &ExportWorker{source: source, sheets: writer, batchSize: batchSize}
}

// HandleEntryMessage processes a single ledger entry message from AMQP.
// A message for an entry that no longer exists is acknowledged and dropped.
func (w *ExportWorker) HandleEntryMessage(ctx context.Context, msg *amqp.LedgerEntryMessage) error {
	slog.InfoContext(ctx, "Processing ledger entry message",
		"entry_id", msg.EntryID,
		"debtor_id", msg.DebtorID,
		"type", msg.Type)

	entry, err := w.source.GetHistoryEntry(ctx, msg.EntryID)
	if errors.Is(err, core.ErrNotFound) {
		slog.WarnContext(ctx, "Ledger entry no longer exists, skipping export", "entry_id", msg.EntryID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get history entry: %w", err)
	}

	return w.export(ctx, entry)
}

// ProcessPending exports entries still pending or previously failed. It
// covers messages lost while the broker or worker was down.
func (w *ExportWorker) ProcessPending(ctx context.Context) (exported int, err error) {
	return w.processBatch(ctx, w.batchSize)
}

// StartupExportCheck runs a larger pending pass when the worker boots.
func (w *ExportWorker) StartupExportCheck(ctx context.Context) error {
	n, err := w.processBatch(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup export check: %w", err)
	}
	slog.InfoContext(ctx, "Startup export check completed", "exported", n)
	return nil
}

func (w *ExportWorker) processBatch(ctx context.Context, limit int) (int, error) {
	pending, err := w.source.PendingExport(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("get pending entries: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Processing pending ledger entries", "count", len(pending))

	exported := 0
	for _, entry := range pending {
		if ctx.Err() != nil {
			return exported, ctx.Err()
		}
		if err := w.export(ctx, entry); err != nil {
			slog.ErrorContext(ctx, "Failed to export entry", "entry_id", entry.ID, "error", err)
			continue
		}
		exported++
	}
	return exported, nil
}

// RunPeriodic calls ProcessPending on every tick until ctx is cancelled.
func (w *ExportWorker) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessPending(ctx); err != nil {
				slog.ErrorContext(ctx, "Periodic export failed", "error", err)
			}
		}
	}
}

func (w *ExportWorker) export(ctx context.Context, entry core.HistoryEntry) error {
	ref, err := w.sheets.Append(ctx, entry)
	if err != nil {
		if markErr := w.source.MarkExportError(ctx, entry.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error", "entry_id", entry.ID, "error", markErr)
		}
		return fmt.Errorf("append to sheets: %w", err)
	}

	// The row is written; a failed mark only means a later pass appends it
	// again, which the writer treats as a no-op.
	if err := w.source.MarkExported(ctx, entry.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark as exported", "entry_id", entry.ID, "error", err)
	}

	slog.InfoContext(ctx, "Exported ledger entry",
		"entry_id", entry.ID,
		"sheets_ref", ref,
		"type", entry.Type,
		"amount", entry.Amount)
	return nil
}
