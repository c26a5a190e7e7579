package risk

import (
	"testing"
	"time"
)

func at(hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return time.Date(2025, 6, 2, t.Hour(), t.Minute(), 0, 0, time.UTC)
}

func TestTradingHoursSameDay(t *testing.T) {
	w, err := ParseTradingHours("09:30", "16:00")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		now  string
		want bool
	}{
		{"09:29", false},
		{"09:30", true}, // 边界含
		{"12:00", true},
		{"16:00", true}, // 边界含
		{"16:01", false},
	}
	for _, tt := range tests {
		if got := w.Contains(at(tt.now)); got != tt.want {
			t.Errorf("Contains(%s) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestTradingHoursOvernight(t *testing.T) {
	w, err := ParseTradingHours("22:00", "02:00")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		now  string
		want bool
	}{
		{"23:30", true},
		{"00:30", true},
		{"10:00", false},
		{"02:01", false},
		{"22:00", true}, // 边界含
		{"02:00", true}, // 边界含
		{"21:59", false},
	}
	for _, tt := range tests {
		if got := w.Contains(at(tt.now)); got != tt.want {
			t.Errorf("Contains(%s) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestParseTradingHoursRejectsGarbage(t *testing.T) {
	if _, err := ParseTradingHours("25:00", "02:00"); err == nil {
		t.Fatal("expected error for 25:00")
	}
	if _, err := ParseTradingHours("22:00", "2pm"); err == nil {
		t.Fatal("expected error for 2pm")
	}
}
