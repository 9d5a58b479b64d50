package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const dateLayout = "2006-01-02"

// Yesterday returns the calendar day before now in loc as YYYY-MM-DD.
func Yesterday(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return now.In(loc).AddDate(0, 0, -1).Format(dateLayout)
}

// MakePeriodID creates a period_id from start and end dates.
// If start == end, returns just the date (e.g., "2025-12-06").
// Otherwise returns a range (e.g., "2025-12-01..2025-12-06").
func MakePeriodID(start, end string) string {
	if start == end || end == "" {
		return start
	}
	return start + ".." + end
}

// FormatPeriodDisplay formats a period_id for human-readable display.
// Single day: "Dec 06, 2025"
// Range: "Dec 01 - Dec 06, 2025"
func FormatPeriodDisplay(periodID string) string {
	if strings.Contains(periodID, "..") {
		parts := strings.SplitN(periodID, "..", 2)
		start, err := time.Parse(dateLayout, parts[0])
		if err != nil {
			return periodID
		}
		end, err := time.Parse(dateLayout, parts[1])
		if err != nil {
			return periodID
		}
		return fmt.Sprintf("%s - %s", start.Format("Jan 02"), end.Format("Jan 02, 2006"))
	}

	d, err := time.Parse(dateLayout, periodID)
	if err != nil {
		return periodID
	}
	return d.Format("Jan 02, 2006")
}

// DatesBetween lists every date from start to end inclusive.
func DatesBetween(start, end string) ([]string, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid start date %q", start)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid end date %q", end)
	}
	if e.Before(s) {
		return nil, eris.Errorf("end date %s is before start date %s", end, start)
	}
	var out []string
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(dateLayout))
	}
	return out, nil
}
