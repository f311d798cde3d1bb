package stats

import (
	"fmt"
	"strings"
)

// Period is the lookback window the dashboard asks for.
type Period string

const (
	PeriodToday  Period = "today"
	PeriodWeek   Period = "7"
	PeriodMonth  Period = "30"
	PeriodSeason Period = "90"
)

func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodToday, PeriodWeek, PeriodMonth, PeriodSeason:
		return p, nil
	case "":
		return PeriodWeek, nil
	default:
		return "", fmt.Errorf("unknown period [%s], use one of: today, 7, 30, 90", s)
	}
}

// Days is the number of calendar days in the window, today included.
func (p Period) Days() int {
	switch p {
	case PeriodToday:
		return 1
	case PeriodMonth:
		return 30
	case PeriodSeason:
		return 90
	default:
		return 7
	}
}
