package convert

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToFloat64(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected float64
		ok       bool
	}{
		{"decimal", "3.14", 3.14, true},
		{"negative", "-2.5", -2.5, true},
		{"scientific", "1.5e-3", 0.0015, true},
		{"integer", "42", 42.0, true},
		{"padded", "  7.5 ", 7.5, true},
		{"currency", "$1,299.50", 1299.5, true},
		{"euro", "€12", 12, true},

		{"invalid", "hello", 0, false},
		{"empty", "", 0, false},
		{"blank", "   ", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToFloat64(tt.input)
			assert.Equal(t, tt.ok, ok, "ok mismatch")
			if ok {
				assert.InDelta(t, tt.expected, got, 0.0001, "value mismatch")
			}
		})
	}

	t.Run("NaN", func(t *testing.T) {
		got, ok := ToFloat64("NaN")
		assert.True(t, ok)
		assert.True(t, math.IsNaN(got))
	})
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
		ok       bool
	}{
		{"integer", "123", 123, true},
		{"negative", "-5", -5, true},
		{"decimal truncated", "3.7", 3, true},
		{"thousands", "1,000", 1000, true},
		{"invalid", "abc", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToInt64(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0.1", FormatFloat(0.1))
	assert.Equal(t, "1500", FormatFloat(1500))
	assert.Equal(t, "-3", FormatInt(-3))

	f, ok := ToFloat64(FormatFloat(2.0 / 3.0))
	assert.True(t, ok)
	assert.Equal(t, 2.0/3.0, f)
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 14, 5, 0, 0, time.UTC)
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2024-03-01T14:05:00Z", want},
		{"2024-03-01T16:05:00+02:00", want},
		{"2024-03-01T14:05:00", want},
		{"2024-03-01 14:05:00", want},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"03/01/2024 14:05", want},
		{"1709301900", want},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseTime(tt.input)
			assert.True(t, ok)
			assert.True(t, tt.want.Equal(got), "got %v", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, ok := ParseTime("yesterday")
	assert.False(t, ok)
	_, ok = ParseTime("")
	assert.False(t, ok)
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "", FormatTime(time.Time{}))

	ts := time.Date(2024, 3, 1, 16, 5, 0, 123, time.FixedZone("x", 2*3600))
	s := FormatTime(ts)
	assert.Equal(t, "2024-03-01T14:05:00.000000123Z", s)

	back, ok := ParseTime(s)
	assert.True(t, ok)
	assert.True(t, ts.Equal(back))
}

func BenchmarkToFloat64(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ToFloat64("$3,141.59")
	}
}

func BenchmarkParseTime(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ParseTime("2024-03-01 14:05:00")
	}
}
