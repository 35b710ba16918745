// Package http serves the debtor registry, ledger and reports as a JSON API.
//
// This file parses request bodies and query strings into domain values.
// Bodies may be JSON objects or form-encoded.

package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"cobranca/internal/core"
	"cobranca/internal/ledger"
)

const maxBodyBytes = 1 << 20

// RequestBodyParser reads the body once and serves fields from either the
// JSON object or the form values.
type RequestBodyParser struct {
	body     []byte
	jsonData map[string]any
	formData url.Values
	parsed   bool
	err      error
}

func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{}
	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	return p
}

// Parse decodes the body. A body starting with '{' is JSON; anything else
// is treated as form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true
	if p.err != nil {
		return p.err
	}

	trimmed := strings.TrimSpace(string(p.body))
	if trimmed == "" {
		p.formData = url.Values{}
		return nil
	}
	if trimmed[0] == '{' {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal([]byte(trimmed), &p.jsonData); err != nil {
			p.err = core.NewValidationError("malformed JSON body")
		}
		return p.err
	}
	if p.formData, p.err = url.ParseQuery(trimmed); p.err != nil {
		p.err = core.NewValidationError("malformed form body")
	}
	return p.err
}

// Get returns the sanitized string value of key, or "".
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// Has reports whether key was sent at all.
func (p *RequestBodyParser) Has(key string) bool {
	if p.jsonData != nil {
		_, ok := p.jsonData[key]
		return ok
	}
	return p.formData != nil && p.formData.Has(key)
}

func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// Amount parses key as a positive money amount.
func (p *RequestBodyParser) Amount(key string) (float64, error) {
	v, err := core.ParseAmount(p.Get(key))
	if err != nil {
		return 0, fieldError(key, err)
	}
	return v, nil
}

// Number parses key as a non-negative decimal; missing means 0.
func (p *RequestBodyParser) Number(key string) (float64, error) {
	s := strings.ReplaceAll(p.Get(key), ",", ".")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fieldError(key, fmt.Errorf("must be a number"))
	}
	return v, nil
}

// Date parses key as an ISO date; missing means the zero date.
func (p *RequestBodyParser) Date(key string) (core.Date, error) {
	s := p.Get(key)
	if s == "" {
		return core.Date{}, nil
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return core.Date{}, fieldError(key, fmt.Errorf("must be a YYYY-MM-DD date"))
	}
	return d, nil
}

// DebtItem reads the debt fields shared by debtor creation and AddDebt.
// Defaults for blank fields are filled by the registry.
func (p *RequestBodyParser) DebtItem() (core.DebtItem, error) {
	amount, err := p.Amount("amount")
	if err != nil {
		return core.DebtItem{}, err
	}
	date, err := p.Date("date")
	if err != nil {
		return core.DebtItem{}, err
	}
	due, err := p.Date("dueDate")
	if err != nil {
		return core.DebtItem{}, err
	}
	return core.DebtItem{
		Category:    core.Category(p.Get("category")),
		Description: p.Get("description"),
		Amount:      amount,
		Date:        date,
		DueDate:     due,
	}, nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

func fieldError(key string, err error) error {
	return core.NewValidationError(key + ": " + err.Error())
}

// ParseHistoryFilter reads type, category, from, to and debtor from the query.
func ParseHistoryFilter(q url.Values) (ledger.Filter, error) {
	f := ledger.Filter{
		Type:     core.EntryType(strings.TrimSpace(q.Get("type"))),
		Category: core.Category(strings.TrimSpace(q.Get("category"))),
		DebtorID: strings.TrimSpace(q.Get("debtor")),
	}
	if f.Type != "" && !f.Type.IsValid() {
		return ledger.Filter{}, fieldError("type", fmt.Errorf("unknown entry type %q", f.Type))
	}
	if f.Category != "" && !f.Category.IsValid() && f.Category != core.CategorySystem {
		return ledger.Filter{}, fieldError("category", fmt.Errorf("unknown category %q", f.Category))
	}
	var err error
	for key, dst := range map[string]*core.Date{"from": &f.From, "to": &f.To} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			if *dst, err = core.ParseDate(v); err != nil {
				return ledger.Filter{}, fieldError(key, fmt.Errorf("must be a YYYY-MM-DD date"))
			}
		}
	}
	return f, nil
}

// ParseMonths reads the trend window, defaulting to def and capped at 24.
func ParseMonths(q url.Values, def int) (int, error) {
	v := strings.TrimSpace(q.Get("months"))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 24 {
		return 0, fieldError("months", fmt.Errorf("must be between 1 and 24"))
	}
	return n, nil
}
