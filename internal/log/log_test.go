package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestLoggerComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelDebug, Component: ComponentRegistry, Format: "json", Output: &buf})

	l.LogFields(context.Background(), slog.LevelInfo, "debt settled", NewFields().
		WithDebtor("d1", "paid").
		WithOperation(OpSettle).
		WithError(errors.New("late publish")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec[FieldComponent] != ComponentRegistry || rec[FieldDebtorID] != "d1" || rec[FieldStatus] != "paid" {
		t.Errorf("record = %v", rec)
	}
	if rec[FieldError] != "late publish" || rec[FieldOperation] != OpSettle {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	l.WithComponent(ComponentSweeper).Info("tick")
	if strings.Count(buf.String(), `"component"`) != 1 || !strings.Contains(buf.String(), ComponentSweeper) {
		t.Errorf("component not replaced: %s", buf.String())
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: "json", Output: &buf})

	var fromCtx *Logger
	h := middleware.RequestID(RequestLogger(l, func(*http.Request) string { return "203.0.113.9" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fromCtx = FromContext(r.Context())
			w.WriteHeader(http.StatusNotFound)
		})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/debtors/x?full=1", nil))

	if fromCtx == nil || fromCtx.Component() != ComponentHTTP {
		t.Fatalf("request logger missing from context: %+v", fromCtx)
	}
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["level"] != "WARN" || rec[FieldStatusCode] != float64(404) || rec[FieldClientIP] != "203.0.113.9" {
		t.Errorf("record = %v", rec)
	}
	if rec[FieldRequestID] == "" || rec[FieldPath] != "/api/debtors/x" {
		t.Errorf("record = %v", rec)
	}

	if FromContext(context.Background()).Component() != "unknown" {
		t.Error("expected fallback logger")
	}
}
