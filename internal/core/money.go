// Package core defines the debtor, debt and ledger entities and the error
// kinds shared by every layer.
//
// This file parses and formats monetary amounts typed by users. Amounts are
// plain float64 values; only parsing rounds, to whole cents.
package core

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned for amounts that are not positive decimals.
var ErrInvalidAmount = &ValidationError{Err: errors.New("invalid amount")}

// ParseAmount converts a user-typed decimal into a positive amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. When both
// appear, the last one is the decimal separator and the other is a thousands
// separator, so "12.500,75" and "12,500.75" are both 12500.75. Digits past the
// second decimal place are rounded half-up.
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0 && lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastDot >= 0 && lastComma >= 0:
		s = strings.ReplaceAll(s, ",", "")
	default:
		s = strings.ReplaceAll(s, ",", ".")
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	// ASCII only: the cents arithmetic below works on bytes.
	for _, r := range intPart + fracPart {
		if r < '0' || r > '9' {
			return 0, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil || iv > math.MaxInt64/100 {
		return 0, ErrInvalidAmount
	}
	var fracCents int64
	if len(fracPart) > 0 {
		fracCents = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			fracCents += int64(fracPart[1] - '0')
		}
		if len(fracPart) > 2 && fracPart[2] >= '5' {
			fracCents++
		}
	}
	cents := iv*100 + fracCents
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return float64(cents) / 100, nil
}

// FormatBRL renders an amount the way the dashboard shows it, e.g. "R$ 12.500,00".
func FormatBRL(amount float64) string {
	neg := amount < 0
	cents := int64(math.Round(math.Abs(amount) * 100))
	whole := strconv.FormatInt(cents/100, 10)

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	frac := strconv.FormatInt(cents%100, 10)
	if len(frac) == 1 {
		frac = "0" + frac
	}
	out := "R$ " + b.String() + "," + frac
	if neg {
		return "-" + out
	}
	return out
}
