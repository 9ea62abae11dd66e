package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 15, 14, 30, 0, 0, time.Local)

func TestParseNewsDate_AbsoluteForms(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"2025-06-14 09:15:30", time.Date(2025, 6, 14, 9, 15, 30, 0, time.Local)},
		{"2025-06-14 09:15", time.Date(2025, 6, 14, 9, 15, 0, 0, time.Local)},
		{"2025/06/14 09:15", time.Date(2025, 6, 14, 9, 15, 0, 0, time.Local)},
		{"2025年06月14日 09:15", time.Date(2025, 6, 14, 9, 15, 0, 0, time.Local)},
		{"2025-06-14", time.Date(2025, 6, 14, 0, 0, 0, 0, time.Local)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseNewsDate(tt.input, testNow)
			require.True(t, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseNewsDate_BareTime(t *testing.T) {
	got, ok := ParseNewsDate("09:45", testNow)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 15, 9, 45, 0, 0, time.Local), got)

	got, ok = ParseNewsDate("09:45:30", testNow)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 15, 9, 45, 30, 0, time.Local), got)
}

func TestParseNewsDate_MonthDay(t *testing.T) {
	got, ok := ParseNewsDate("06-14 10:00", testNow)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 14, 10, 0, 0, 0, time.Local), got)

	// A month-day more than a day in the future belongs to last year.
	got, ok = ParseNewsDate("12-25 10:00", testNow)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 12, 25, 10, 0, 0, 0, time.Local), got)
}

func TestParseNewsDate_Relative(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"5 分钟前", testNow.Add(-5 * time.Minute)},
		{"5 minutes ago", testNow.Add(-5 * time.Minute)},
		{"1 minute ago", testNow.Add(-1 * time.Minute)},
		{"2 小时前", testNow.Add(-2 * time.Hour)},
		{"3 hours ago", testNow.Add(-3 * time.Hour)},
		{"2 天前", testNow.AddDate(0, 0, -2)},
		{"1 week ago", testNow.AddDate(0, 0, -7)},
		{"2 个月前", testNow.AddDate(0, -2, 0)},
		{"1 年前", testNow.AddDate(-1, 0, 0)},
		{"刚刚", testNow},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseNewsDate(tt.input, testNow)
			require.True(t, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseNewsDate_Contextual(t *testing.T) {
	got, ok := ParseNewsDate("昨天 20:15", testNow)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 14, 20, 15, 0, 0, time.Local), got)

	got, ok = ParseNewsDate("yesterday", testNow)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 14, 0, 0, 0, 0, time.Local), got)

	got, ok = ParseNewsDate("今天 08:00", testNow)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 15, 8, 0, 0, 0, time.Local), got)
}

func TestParseNewsDate_Timestamps(t *testing.T) {
	got, ok := ParseNewsDate("1750000000", testNow)
	require.True(t, ok)
	assert.Equal(t, time.Unix(1750000000, 0).In(time.Local), got)

	got, ok = ParseNewsDate("1750000000000", testNow)
	require.True(t, ok)
	assert.Equal(t, time.UnixMilli(1750000000000).In(time.Local), got)
}

func TestParseNewsDate_Unparseable(t *testing.T) {
	got, ok := ParseNewsDate("not a date at all", testNow)
	assert.False(t, ok)
	assert.WithinDuration(t, testNow, got, time.Second)

	got, ok = ParseNewsDate("", testNow)
	assert.False(t, ok)
	assert.Equal(t, testNow, got)
}
