// Package convert parses and formats the scalar values that cross the text
// boundaries of bizgraph: CSV cells on the way in and GraphML attributes on
// the way out and back.
//
// Parsing is lenient about presentation (surrounding spaces, a leading
// currency sign, thousands separators) and strict about content: anything
// that is not a number or a recognised timestamp is reported with ok=false
// so the caller decides whether a bad cell is fatal.
//
// Example:
//
//	if amount, ok := convert.ToFloat64(" $1,299.50 "); ok {
//		// amount == 1299.5
//	}
//
//	ts, ok := convert.ParseTime("2024-03-01 14:05:00")
//
// ELI12:
//
// Spreadsheets write numbers the way people like to read them, with dollar
// signs and commas. Computers want plain digits. This package is the
// translator in the middle, and it owns up when it cannot translate.
package convert

import (
	"strconv"
	"strings"
)

var numberCleaner = strings.NewReplacer(",", "", "_", "")

func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "$€£")
	return numberCleaner.Replace(s)
}

// ToFloat64 parses a decimal cell such as "3.14", "1.5e-3" or "$1,200".
// Returns (0, false) for empty or malformed input.
func ToFloat64(s string) (float64, bool) {
	s = cleanNumber(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ToInt64 parses an integer cell. A decimal value is truncated toward zero,
// so "3.0" and "3.7" both give 3.
func ToInt64(s string) (int64, bool) {
	s = cleanNumber(s)
	if s == "" {
		return 0, false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	return 0, false
}

// FormatFloat renders f with the fewest digits that parse back to f.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FormatInt renders i in base 10.
func FormatInt(i int) string {
	return strconv.Itoa(i)
}
