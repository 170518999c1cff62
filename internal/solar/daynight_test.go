package solar

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		when time.Time
		want DayState
	}{
		{"2am is night year-round", time.Date(2024, 7, 1, 2, 0, 0, 0, time.UTC), Night},
		{"rainy season dawn", time.Date(2024, 7, 1, 5, 0, 0, 0, time.UTC), Transition},
		{"rainy season mid-morning", time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC), Day},
		{"rainy season noon", time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC), Day},
		{"rainy season dusk", time.Date(2024, 7, 1, 17, 0, 0, 0, time.UTC), Transition},
		{"rainy season after dusk", time.Date(2024, 7, 1, 18, 0, 0, 0, time.UTC), Night},
		{"cool dry dawn at six", time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC), Transition},
		{"cool dry five am still night", time.Date(2024, 1, 10, 5, 0, 0, 0, time.UTC), Night},
		{"cool dry dusk", time.Date(2024, 1, 10, 18, 0, 0, 0, time.UTC), Transition},
		{"hot dry dawn", time.Date(2024, 4, 20, 5, 0, 0, 0, time.UTC), Transition},
		{"hot dry late afternoon", time.Date(2024, 4, 20, 17, 0, 0, 0, time.UTC), Day},
		{"hot dry dusk", time.Date(2024, 4, 20, 18, 0, 0, 0, time.UTC), Transition},
		{"hot dry evening", time.Date(2024, 4, 20, 19, 0, 0, 0, time.UTC), Night},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.when); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.when, got, tt.want)
			}
		})
	}
}

func TestIsPeak(t *testing.T) {
	tests := []struct {
		hour int
		want bool
	}{
		{10, false}, {11, true}, {12, true}, {13, true}, {14, false}, {2, false},
	}
	for _, tt := range tests {
		when := time.Date(2024, 5, 1, tt.hour, 30, 0, 0, time.UTC)
		if got := IsPeak(when); got != tt.want {
			t.Errorf("IsPeak(hour %d) = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestDayStateString(t *testing.T) {
	if Night.String() != "night" || Transition.String() != "transition" || Day.String() != "day" {
		t.Errorf("unexpected DayState strings: %q %q %q", Night, Transition, Day)
	}
}
