package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"cobranca/internal/core"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLiteStore struct {
	db *sql.DB
	reader
}

// Ensure interface conformance
var (
	_ Store         = (*SQLiteStore)(nil)
	_ ExportTracker = (*SQLiteStore)(nil)
)

// DSN builds the modernc connection string with foreign keys, WAL and a busy
// timeout enabled. Transactions begin IMMEDIATE so writers queue on the busy
// timeout instead of failing when a read lock cannot be upgraded.
func DSN(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// applies pending migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", mapError(err))
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", mapError(err))
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, reader: reader{q: db}}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", mapError(err))
	}
	return nil
}

// WithinTx implements Store.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", mapError(err))
	}
	if err := fn(&sqliteTx{reader: reader{q: sqlTx}}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.WarnContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", mapError(err))
	}
	return nil
}

// PendingExport implements ExportTracker. A non-positive limit means all.
func (s *SQLiteStore) PendingExport(ctx context.Context, limit int) ([]core.HistoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, historySelect+` WHERE export_status != 'exported' ORDER BY rowid LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending exports: %w", mapError(err))
	}
	return scanHistory(rows)
}

func (s *SQLiteStore) MarkExported(ctx context.Context, id string) error {
	return s.markExport(ctx, id, "exported")
}

func (s *SQLiteStore) MarkExportError(ctx context.Context, id string) error {
	return s.markExport(ctx, id, "error")
}

func (s *SQLiteStore) markExport(ctx context.Context, id, state string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE history_entries SET export_status = ? WHERE id = ?`, state, id)
	if err != nil {
		return fmt.Errorf("mark history entry %s %s: %w", id, state, mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("history entry %s: %w", id, core.ErrNotFound)
	}
	return nil
}

type reader struct {
	q querier
}

func (r reader) ListDebtors(ctx context.Context) ([]core.Debtor, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, name, email, phone, avatar, status, version FROM debtors ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list debtors: %w", mapError(err))
	}
	defer rows.Close()

	var out []core.Debtor
	index := map[string]int{}
	for rows.Next() {
		var d core.Debtor
		if err := rows.Scan(&d.ID, &d.Name, &d.Email, &d.Phone, &d.Avatar, &d.Status, &d.Version); err != nil {
			return nil, fmt.Errorf("scan debtor: %w", mapError(err))
		}
		index[d.ID] = len(out)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list debtors: %w", mapError(err))
	}
	rows.Close()

	debts, err := r.q.QueryContext(ctx, debtSelect+` ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list debts: %w", mapError(err))
	}
	defer debts.Close()
	for debts.Next() {
		debtorID, item, err := scanDebt(debts)
		if err != nil {
			return nil, err
		}
		if i, ok := index[debtorID]; ok {
			out[i].Debts = append(out[i].Debts, item)
		}
	}
	if err := debts.Err(); err != nil {
		return nil, fmt.Errorf("list debts: %w", mapError(err))
	}
	return out, nil
}

func (r reader) GetDebtor(ctx context.Context, id string) (core.Debtor, error) {
	var d core.Debtor
	err := r.q.QueryRowContext(ctx,
		`SELECT id, name, email, phone, avatar, status, version FROM debtors WHERE id = ?`, id,
	).Scan(&d.ID, &d.Name, &d.Email, &d.Phone, &d.Avatar, &d.Status, &d.Version)
	if err != nil {
		return core.Debtor{}, fmt.Errorf("debtor %s: %w", id, mapError(err))
	}

	rows, err := r.q.QueryContext(ctx, debtSelect+` WHERE debtor_id = ? ORDER BY rowid`, id)
	if err != nil {
		return core.Debtor{}, fmt.Errorf("debts of %s: %w", id, mapError(err))
	}
	defer rows.Close()
	for rows.Next() {
		_, item, err := scanDebt(rows)
		if err != nil {
			return core.Debtor{}, err
		}
		d.Debts = append(d.Debts, item)
	}
	if err := rows.Err(); err != nil {
		return core.Debtor{}, fmt.Errorf("debts of %s: %w", id, mapError(err))
	}
	return d, nil
}

func (r reader) ListHistory(ctx context.Context) ([]core.HistoryEntry, error) {
	rows, err := r.q.QueryContext(ctx, historySelect+` ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", mapError(err))
	}
	return scanHistory(rows)
}

func (r reader) GetHistoryEntry(ctx context.Context, id string) (core.HistoryEntry, error) {
	rows, err := r.q.QueryContext(ctx, historySelect+` WHERE id = ?`, id)
	if err != nil {
		return core.HistoryEntry{}, fmt.Errorf("history entry %s: %w", id, mapError(err))
	}
	entries, err := scanHistory(rows)
	if err != nil {
		return core.HistoryEntry{}, err
	}
	if len(entries) == 0 {
		return core.HistoryEntry{}, fmt.Errorf("history entry %s: %w", id, core.ErrNotFound)
	}
	return entries[0], nil
}

func (r reader) GetSettings(ctx context.Context) (core.Settings, error) {
	var s core.Settings
	err := r.q.QueryRowContext(ctx, `SELECT interest_rate, installment_fee FROM user_settings WHERE id = 1`).
		Scan(&s.InterestRate, &s.InstallmentFee)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Settings{}, nil
	}
	if err != nil {
		return core.Settings{}, fmt.Errorf("get settings: %w", mapError(err))
	}
	return s, nil
}

type sqliteTx struct {
	reader
}

func (t *sqliteTx) InsertDebtor(ctx context.Context, d core.Debtor) (core.Debtor, error) {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO debtors (id, name, email, phone, avatar, status, version) VALUES (?, ?, ?, ?, ?, ?, 1)`,
		d.ID, d.Name, d.Email, d.Phone, d.Avatar, string(d.Status))
	if err != nil {
		return core.Debtor{}, fmt.Errorf("insert debtor %s: %w", d.ID, mapError(err))
	}
	for _, item := range d.Debts {
		if err := t.InsertDebt(ctx, d.ID, item); err != nil {
			return core.Debtor{}, err
		}
	}
	d = d.Clone()
	d.Version = 1
	return d, nil
}

func (t *sqliteTx) UpdateDebtor(ctx context.Context, d core.Debtor) (core.Debtor, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE debtors SET name = ?, email = ?, phone = ?, avatar = ?, status = ?,
		        version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND version = ?`,
		d.Name, d.Email, d.Phone, d.Avatar, string(d.Status), d.ID, d.Version)
	if err != nil {
		return core.Debtor{}, fmt.Errorf("update debtor %s: %w", d.ID, mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either gone or moved on since it was read.
		if _, err := t.GetDebtor(ctx, d.ID); err != nil {
			return core.Debtor{}, err
		}
		return core.Debtor{}, fmt.Errorf("debtor %s at stale version %d: %w", d.ID, d.Version, core.ErrConflict)
	}
	return t.GetDebtor(ctx, d.ID)
}

func (t *sqliteTx) DeleteDebtor(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM debtors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete debtor %s: %w", id, mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("debtor %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) InsertDebt(ctx context.Context, debtorID string, item core.DebtItem) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO debts (id, debtor_id, category, description, amount, date, due_date) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, debtorID, string(item.Category), item.Description, item.Amount, item.Date.String(), item.DueDate.String())
	if err != nil {
		return fmt.Errorf("insert debt %s for %s: %w", item.ID, debtorID, mapError(err))
	}
	return nil
}

func (t *sqliteTx) DeleteDebts(ctx context.Context, debtorID string) (int, error) {
	var exists int
	if err := t.q.QueryRowContext(ctx, `SELECT 1 FROM debtors WHERE id = ?`, debtorID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("debtor %s: %w", debtorID, mapError(err))
	}
	res, err := t.q.ExecContext(ctx, `DELETE FROM debts WHERE debtor_id = ?`, debtorID)
	if err != nil {
		return 0, fmt.Errorf("delete debts of %s: %w", debtorID, mapError(err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (t *sqliteTx) InsertHistory(ctx context.Context, e core.HistoryEntry) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO history_entries (id, debtor_id, debtor_name, type, category, amount, date, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DebtorID, e.DebtorName, string(e.Type), string(e.Category), e.Amount, e.Date.String(), e.Description)
	if err != nil {
		return fmt.Errorf("insert history entry %s: %w", e.ID, mapError(err))
	}
	return nil
}

func (t *sqliteTx) DeleteHistory(ctx context.Context, debtorID string) (int, error) {
	res, err := t.q.ExecContext(ctx, `DELETE FROM history_entries WHERE debtor_id = ?`, debtorID)
	if err != nil {
		return 0, fmt.Errorf("delete history of %s: %w", debtorID, mapError(err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (t *sqliteTx) SaveSettings(ctx context.Context, s core.Settings) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO user_settings (id, interest_rate, installment_fee) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET interest_rate = excluded.interest_rate,
		     installment_fee = excluded.installment_fee, updated_at = CURRENT_TIMESTAMP`,
		s.InterestRate, s.InstallmentFee)
	if err != nil {
		return fmt.Errorf("save settings: %w", mapError(err))
	}
	return nil
}

func (t *sqliteTx) DeleteSettings(ctx context.Context) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM user_settings`); err != nil {
		return fmt.Errorf("delete settings: %w", mapError(err))
	}
	return nil
}

const (
	debtSelect    = `SELECT debtor_id, id, category, description, amount, date, due_date FROM debts`
	historySelect = `SELECT id, debtor_id, debtor_name, type, category, amount, date, description FROM history_entries`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanDebt(row scanner) (string, core.DebtItem, error) {
	var (
		debtorID      string
		item          core.DebtItem
		date, dueDate string
	)
	if err := row.Scan(&debtorID, &item.ID, &item.Category, &item.Description, &item.Amount, &date, &dueDate); err != nil {
		return "", core.DebtItem{}, fmt.Errorf("scan debt: %w", mapError(err))
	}
	var err error
	if date != "" {
		if item.Date, err = core.ParseDate(date); err != nil {
			return "", core.DebtItem{}, fmt.Errorf("debt %s date: %w", item.ID, err)
		}
	}
	if item.DueDate, err = core.ParseDate(dueDate); err != nil {
		return "", core.DebtItem{}, fmt.Errorf("debt %s due date: %w", item.ID, err)
	}
	return debtorID, item, nil
}

func scanHistory(rows *sql.Rows) ([]core.HistoryEntry, error) {
	defer rows.Close()
	var out []core.HistoryEntry
	for rows.Next() {
		var (
			e    core.HistoryEntry
			date string
		)
		if err := rows.Scan(&e.ID, &e.DebtorID, &e.DebtorName, &e.Type, &e.Category, &e.Amount, &date, &e.Description); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", mapError(err))
		}
		d, err := core.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("history entry %s date: %w", e.ID, err)
		}
		e.Date = d
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", mapError(err))
	}
	return out, nil
}

// mapError translates driver failures into the core error kinds while keeping
// the original error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return core.ErrNotFound
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, driver.ErrBadConn),
		// database/sql does not export its closed-pool error.
		err.Error() == "sql: database is closed":
		return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}

	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	switch code := se.Code(); {
	case code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, code == sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return fmt.Errorf("%w: %w", core.ErrDuplicateID, err)
	case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return fmt.Errorf("%w: %w", core.ErrNotFound, err)
	case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", core.ErrConflict, err)
	case code&0xff == sqlite3.SQLITE_CANTOPEN, code&0xff == sqlite3.SQLITE_IOERR,
		code&0xff == sqlite3.SQLITE_READONLY, code&0xff == sqlite3.SQLITE_FULL:
		return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}
	return err
}
