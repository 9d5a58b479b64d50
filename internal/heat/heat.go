// Package heat scores engagement: distinct speakers × sqrt(message count).
package heat

import (
	"math"

	"github.com/TobiSchelling/topicheat/internal/topic"
)

// Stats is the engagement of one message subset.
type Stats struct {
	Speakers int
	Messages int
	Heat     float64
}

// Score returns u × sqrt(m) rounded to two decimals, or 0 when either factor
// is zero.
func Score(u, m int) float64 {
	if u <= 0 || m <= 0 {
		return 0
	}
	return Round2(float64(u) * math.Sqrt(float64(m)))
}

// Round2 rounds to two decimal places.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// Measure counts distinct speakers and messages in msgs and scores them.
// Messages are counted as given; callers dedupe by Seq beforehand.
func Measure(msgs []topic.Message) Stats {
	speakers := make(map[string]bool)
	for _, m := range msgs {
		speakers[m.SpeakerID] = true
	}
	u, n := len(speakers), len(msgs)
	return Stats{Speakers: u, Messages: n, Heat: Score(u, n)}
}

// Sum adds already-computed stats. Heat is summed, not recomputed from the
// summed counts.
func Sum(parts ...Stats) Stats {
	var total Stats
	var h float64
	for _, p := range parts {
		total.Speakers += p.Speakers
		total.Messages += p.Messages
		h += p.Heat
	}
	total.Heat = Round2(h)
	return total
}
