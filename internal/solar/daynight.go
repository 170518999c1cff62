package solar

import "time"

// DayState classifies a timestamp for forecast adjustment purposes.
type DayState int

const (
	Night DayState = iota
	Transition
	Day
)

func (s DayState) String() string {
	switch s {
	case Day:
		return "day"
	case Transition:
		return "transition"
	default:
		return "night"
	}
}

// seasonBand carries the sunrise/sunset hour boundaries for one part of the
// year. DawnHour and DuskHour are themselves single-hour transition bands;
// full daylight runs from DawnHour+1 through DuskHour-1.
type seasonBand struct {
	Months   []time.Month
	DawnHour int
	DuskHour int
}

// Hour boundaries observed for Davao (7°N): day length barely moves across
// the year, but the rainy season loses usable light earlier in the evening.
var seasonBands = []seasonBand{
	{Months: []time.Month{time.December, time.January, time.February}, DawnHour: 6, DuskHour: 18},
	{Months: []time.Month{time.March, time.April, time.May}, DawnHour: 5, DuskHour: 18},
	{Months: []time.Month{time.June, time.July, time.August, time.September, time.October, time.November}, DawnHour: 5, DuskHour: 17},
}

func bandFor(m time.Month) seasonBand {
	for _, b := range seasonBands {
		for _, bm := range b.Months {
			if bm == m {
				return b
			}
		}
	}
	return seasonBands[0]
}

// Classify returns the day/night/transition state for a local timestamp under
// the site's seasonal rule.
func Classify(t time.Time) DayState {
	band := bandFor(t.Month())
	h := t.Hour()
	switch {
	case h == band.DawnHour || h == band.DuskHour:
		return Transition
	case h > band.DawnHour && h < band.DuskHour:
		return Day
	default:
		return Night
	}
}

// IsPeak reports whether the local timestamp falls in the peak-solar window
// (11:00-13:00) that the calibration engine weights specially.
func IsPeak(t time.Time) bool {
	h := t.Hour()
	return h >= 11 && h <= 13
}
