// Package timeaxis parses human-written time axes ("10:00:00-11:30:00; 23:30
// 至 00:30") and selects the messages that fall inside them. Every
// aggregation level goes through Match, so it must stay pure.
package timeaxis

import (
	"regexp"
	"strings"
	"time"

	"github.com/TobiSchelling/topicheat/internal/topic"
)

// AxisSeparator joins segments when an axis is written back out.
const AxisSeparator = "; "

var segmentRe = regexp.MustCompile(
	`(\d{1,2}[:：]\d{1,2}(?:[:：]\d{1,2})?)\s*(?:-|－|—|–|~|～|〜|至|到|to|TO)\s*(\d{1,2}[:：]\d{1,2}(?:[:：]\d{1,2})?)`,
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-1-2",
	"2006/1/2",
	"2006.1.2",
	"2006年1月2日",
	"20060102",
}

// Segment is one inclusive window in seconds since midnight. End < Start
// means the window wraps past midnight.
type Segment struct {
	Start int
	End   int
}

// Wraps reports whether the segment crosses midnight.
func (s Segment) Wraps() bool {
	return s.End < s.Start
}

// Contains reports whether clock (seconds since midnight) is inside s.
func (s Segment) Contains(clock int) bool {
	if clock < 0 {
		return false
	}
	if s.Wraps() {
		return clock >= s.Start || clock <= s.End
	}
	return clock >= s.Start && clock <= s.End
}

func (s Segment) String() string {
	return topic.FormatClock(s.Start) + "-" + topic.FormatClock(s.End)
}

// ParseAxis extracts every valid segment from axis. Separators between
// segments are not interpreted, so any delimiter works. Segments with
// impossible clock values are skipped.
func ParseAxis(axis string) []Segment {
	var out []Segment
	for _, m := range segmentRe.FindAllStringSubmatch(axis, -1) {
		start := topic.ParseClock(normalizeColons(m[1]))
		end := topic.ParseClock(normalizeColons(m[2]))
		if start < 0 || end < 0 {
			continue
		}
		out = append(out, Segment{Start: start, End: end})
	}
	return out
}

func normalizeColons(s string) string {
	return strings.ReplaceAll(s, "：", ":")
}

// Format writes segments in canonical HH:MM:SS-HH:MM:SS form.
func Format(segs []Segment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.String()
	}
	return strings.Join(parts, AxisSeparator)
}

// Canonical rewrites an axis in canonical form. Unparseable input yields "".
func Canonical(axis string) string {
	return Format(ParseAxis(axis))
}

// Union merges several axes, keeping first-seen order and dropping repeated
// segments.
func Union(axes ...string) string {
	seen := make(map[Segment]bool)
	var segs []Segment
	for _, a := range axes {
		for _, s := range ParseAxis(a) {
			if !seen[s] {
				seen[s] = true
				segs = append(segs, s)
			}
		}
	}
	return Format(segs)
}

// Span builds a single-segment axis covering the given messages' times.
// It returns "" when no message has a valid time.
func Span(msgs []topic.Message) string {
	lo, hi := -1, -1
	for _, m := range msgs {
		c := m.Clock()
		if c < 0 {
			continue
		}
		if lo < 0 || c < lo {
			lo = c
		}
		if c > hi {
			hi = c
		}
	}
	if lo < 0 {
		return ""
	}
	return Segment{Start: lo, End: hi}.String()
}

// NormalizeDate converts common date spellings to YYYY-MM-DD. It returns ""
// when s is not a date.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return ""
}

// Match returns the messages dated date whose time lies in at least one
// segment of axis, each at most once, in input order. Empty or unparseable
// input yields an empty result; zero matches is a valid outcome.
func Match(date, axis string, msgs []topic.Message) []topic.Message {
	day := NormalizeDate(date)
	if day == "" {
		return nil
	}
	segs := ParseAxis(axis)
	if len(segs) == 0 {
		return nil
	}

	seen := make(map[int]bool)
	var out []topic.Message
	for _, m := range msgs {
		if m.Date != day || seen[m.Seq] {
			continue
		}
		clock := m.Clock()
		for _, s := range segs {
			if s.Contains(clock) {
				seen[m.Seq] = true
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// MatchAll runs Match for several placements and unions the results by Seq.
func MatchAll(placements []topic.Placement, msgs []topic.Message) []topic.Message {
	seen := make(map[int]bool)
	var out []topic.Message
	for _, p := range placements {
		for _, m := range Match(p.Date, p.TimeAxis, msgs) {
			if !seen[m.Seq] {
				seen[m.Seq] = true
				out = append(out, m)
			}
		}
	}
	return out
}
