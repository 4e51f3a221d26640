package orchestrator

import "time"

// Mode is what a scheduled invocation does besides routine processing.
type Mode string

const (
	ModeMorningBrief Mode = "morning_brief"
	ModeMiddayCheck  Mode = "midday_check"
	ModeEODReport    Mode = "eod_report"
	ModeRoutine      Mode = "routine"
)

// Schedule holds the local hours that select the non-routine modes.
type Schedule struct {
	Location     *time.Location
	BriefingHour int
	CheckHour    int
	ReportHour   int
}

// DefaultSchedule is 07:00, 13:00 and 17:00 in America/New_York, or UTC if
// the zone database is unavailable.
func DefaultSchedule() Schedule {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Schedule{Location: loc, BriefingHour: 7, CheckHour: 13, ReportHour: 17}
}

// SelectMode maps the local hour of now to a mode.
func SelectMode(now time.Time, s Schedule) Mode {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	switch now.In(loc).Hour() {
	case s.BriefingHour:
		return ModeMorningBrief
	case s.CheckHour:
		return ModeMiddayCheck
	case s.ReportHour:
		return ModeEODReport
	default:
		return ModeRoutine
	}
}

// HasDigest reports whether the mode produces a digest.
func (m Mode) HasDigest() bool {
	return m == ModeMorningBrief || m == ModeMiddayCheck || m == ModeEODReport
}

// Title is the digest heading for the mode.
func (m Mode) Title() string {
	switch m {
	case ModeMorningBrief:
		return "Morning brief"
	case ModeMiddayCheck:
		return "Midday check"
	case ModeEODReport:
		return "End of day report"
	default:
		return "Routine run"
	}
}

// IsValidMode reports whether s names a mode.
func IsValidMode(s string) bool {
	switch Mode(s) {
	case ModeMorningBrief, ModeMiddayCheck, ModeEODReport, ModeRoutine:
		return true
	}
	return false
}
