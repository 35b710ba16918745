// Package google mirrors ledger entries into a Google Sheets spreadsheet,
// one sheet per year.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"cobranca/internal/core"
	ports "cobranca/internal/sheets"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const defaultSheetName = "Histórico"

// Config selects the spreadsheet and the credentials used to reach it.
// Credentials are tried in order: inline JSON, then the file path.
type Config struct {
	SpreadsheetID      string
	SheetName          string
	ServiceAccountJSON string
	ServiceAccountFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string

	// Serializes find-then-write so concurrent appends cannot claim the same row.
	mu sync.Mutex
}

var _ ports.HistoryWriter = (*Client)(nil)

// New creates a Sheets client. Extra options are passed to the Sheets
// service after the credentials, which lets tests point it at a fake endpoint.
func New(ctx context.Context, cfg Config, opts ...goption.ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if len(opts) == 0 {
		creds, err := credentials(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = []goption.ClientOption{
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = defaultSheetName
	}
	slog.InfoContext(ctx, "Google Sheets client ready",
		"spreadsheet_id", cfg.SpreadsheetID,
		"sheet_base", base)
	return &Client{svc: svc, spreadsheetID: cfg.SpreadsheetID, sheetBase: base}, nil
}

// NewFromEnv builds the Config from GOOGLE_SPREADSHEET_ID, GOOGLE_SHEET_NAME
// and the service account variables.
func NewFromEnv(ctx context.Context) (*Client, error) {
	return New(ctx, Config{
		SpreadsheetID:      os.Getenv("GOOGLE_SPREADSHEET_ID"),
		SheetName:          os.Getenv("GOOGLE_SHEET_NAME"),
		ServiceAccountJSON: os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"),
		ServiceAccountFile: os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"),
	})
}

func credentials(ctx context.Context, cfg Config) ([]byte, error) {
	inline := strings.TrimSpace(cfg.ServiceAccountJSON)
	file := strings.TrimSpace(cfg.ServiceAccountFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		slog.InfoContext(ctx, "Using inline service account credentials")
		return []byte(inline), nil
	case file != "":
		slog.InfoContext(ctx, "Reading service account credentials", "path", file)
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

func (c *Client) sheetName(year int) string {
	return yearPrefixedName(c.sheetBase, year)
}

// Append writes the entry on the first free row of its year's sheet. The
// header row is written when the sheet is empty.
func (c *Client) Append(ctx context.Context, e core.HistoryEntry) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sheet := c.sheetName(e.Date.Year())
	rng := fmt.Sprintf("%s!A:A", sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if isMissingSheet(err) {
		if err := c.addSheet(ctx, sheet); err != nil {
			return "", err
		}
		resp, err = &gsheet.ValueRange{}, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read ids from %s: %w", sheet, err)
	}

	if row := rowOf(resp.Values, e.ID); row > 0 {
		slog.DebugContext(ctx, "Entry already exported", "entry_id", e.ID, "row", row)
		return fmt.Sprintf("%s!A%d:G%d", sheet, row, row), nil
	}

	values := [][]any{entryRow(e)}
	nextRow := len(resp.Values) + 1
	start := nextRow
	if len(resp.Values) == 0 {
		values = [][]any{historyHeader, entryRow(e)}
		nextRow = 2
	}

	dataRange := fmt.Sprintf("%s!A%d:G%d", sheet, start, nextRow)
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, dataRange, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to update %s: %w", dataRange, err)
	}

	return fmt.Sprintf("%s!A%d:G%d", sheet, nextRow, nextRow), nil
}

// isMissingSheet reports the 400 the API answers with for a range on a sheet
// that does not exist yet.
func isMissingSheet(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusBadRequest && strings.Contains(gerr.Message, "Unable to parse range")
}

func (c *Client) addSheet(ctx context.Context, title string) error {
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("create sheet %s: %w", title, err)
	}
	slog.InfoContext(ctx, "Created history sheet", "sheet", title)
	return nil
}
