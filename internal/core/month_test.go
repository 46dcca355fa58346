package core

import (
	"testing"
	"time"
)

func TestMonthBounds(t *testing.T) {
	start, end := MonthBounds(2024, 1, time.UTC) // February 2024
	if !start.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start %v", start)
	}
	if end.Day() != 29 || end.Hour() != 23 || end.Month() != time.February {
		t.Errorf("unexpected end %v", end)
	}
}

func TestShiftMonth(t *testing.T) {
	tests := []struct {
		year, month, delta int
		wantYear, wantMon  int
	}{
		{2024, 4, -1, 2024, 3},
		{2024, 0, -1, 2023, 11},
		{2024, 1, -14, 2022, 11},
		{2024, 11, 1, 2025, 0},
		{2024, 5, 0, 2024, 5},
	}
	for _, tt := range tests {
		y, m := ShiftMonth(tt.year, tt.month, tt.delta)
		if y != tt.wantYear || m != tt.wantMon {
			t.Errorf("ShiftMonth(%d, %d, %d) = (%d, %d), want (%d, %d)",
				tt.year, tt.month, tt.delta, y, m, tt.wantYear, tt.wantMon)
		}
	}
}

func TestWholeDaysBetween(t *testing.T) {
	a := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := WholeDaysBetween(a, a.Add(36*time.Hour)); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
	if got := WholeDaysBetween(a, a.Add(-36*time.Hour)); got != -2 {
		t.Errorf("expected -2, got %d", got)
	}
}
