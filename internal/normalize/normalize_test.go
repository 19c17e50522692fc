package normalize

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
		want float64
	}{
		{"plain float", 1500.5, 1500.5},
		{"int", 200, 200},
		{"numeric string", "1500.50", 1500.5},
		{"grouped string", "1,500.50", 1500.5},
		{"spaced string", " 1 500 ", 1500},
		{"empty string", "", 0},
		{"garbage string", "abc", 0},
		{"nil", nil, 0},
		{"negative float", -42.0, 0},
		{"negative string", "-42", 0},
		{"nan", math.NaN(), 0},
		{"inf", math.Inf(1), 0},
		{"unsupported type", []string{"x"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAmount(tt.raw))
		})
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2024-03-01 14:30:00", time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)},
		{"2024-03-01T14:30:00", time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)},
		{"2024/03/01 14:30:00", time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)},
		{"2024-03-01 14:30", time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)},
		{"01/03/2024 14:30:00", time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := ParseTimestamp(tt.raw)
			require.NotNil(t, got)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
		})
	}
}

func TestParseTimestampBadInput(t *testing.T) {
	assert.Nil(t, ParseTimestamp(nil))
	assert.Nil(t, ParseTimestamp(""))
	assert.Nil(t, ParseTimestamp("   "))
	assert.Nil(t, ParseTimestamp("not a date"))
	assert.Nil(t, ParseTimestamp(12345))
	assert.Nil(t, ParseTimestamp(time.Time{}))
}

func TestHoursBetween(t *testing.T) {
	a := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	b := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	hours, ok := HoursBetween(&a, &b)
	require.True(t, ok)
	assert.InDelta(t, 2.5, hours, 1e-9)

	// Order must not matter.
	hours, ok = HoursBetween(&b, &a)
	require.True(t, ok)
	assert.InDelta(t, 2.5, hours, 1e-9)

	_, ok = HoursBetween(nil, &b)
	assert.False(t, ok)
	_, ok = HoursBetween(&a, nil)
	assert.False(t, ok)
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "user01", NormalizeKey("  user01  "))
	assert.Equal(t, "", NormalizeKey(nil))
	assert.Equal(t, "", NormalizeKey("   "))
	assert.Equal(t, "42", NormalizeKey(42))
}

func TestFieldMapDecodeTransaction(t *testing.T) {
	row := models.RawRecord{
		"Member Name": "user01",
		"Money":       "2,000.00",
		"Bank No":     "ACC123",
		"Order Time":  "2024-03-01 10:00:00",
	}

	fields := FieldMapFor(row)
	rec, ok := fields.DecodeTransaction(row)
	require.True(t, ok)
	assert.Equal(t, "user01", rec.Username)
	assert.Equal(t, 2000.0, rec.Amount)
	assert.Equal(t, "ACC123", rec.Instrument)
	require.NotNil(t, rec.Timestamp)
}

func TestFieldMapSkipsRowsWithoutUsername(t *testing.T) {
	row := models.RawRecord{"amount": 100}
	fields := FieldMapFor(row)

	_, ok := fields.DecodeTransaction(row)
	assert.False(t, ok)

	_, ok = fields.DecodeMember(row)
	assert.False(t, ok)
}

func TestFieldMapDecodeMember(t *testing.T) {
	row := models.RawRecord{
		"username": "user02",
		"Last IP":  "10.0.0.9",
		"VIP":      "3",
		"Status":   "active",
	}

	fields := FieldMapFor(row)
	rec, ok := fields.DecodeMember(row)
	require.True(t, ok)
	assert.Equal(t, "user02", rec.Username)
	assert.Equal(t, "10.0.0.9", rec.NetworkOrigin)
	assert.Equal(t, "3", rec.VIPTier)
	assert.Equal(t, "active", rec.AccountStatus)
}

func TestFieldMapAliasPriority(t *testing.T) {
	// When both a primary and a fallback alias are present, the primary wins.
	row := models.RawRecord{
		"username": "primary",
		"member":   "fallback",
	}
	fields := FieldMapFor(row)
	rec, ok := fields.DecodeTransaction(row)
	require.True(t, ok)
	assert.Equal(t, "primary", rec.Username)
}
