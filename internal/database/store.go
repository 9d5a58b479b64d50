// Package database persists ranked daily clusters between the daily and the
// version aggregation. Both backends are append-only and assume a single
// writer: ids are derived from a full read just before each append.
package database

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/TobiSchelling/topicheat/internal/timeaxis"
	"github.com/TobiSchelling/topicheat/internal/topic"
)

// Store is the accumulator of daily records.
type Store interface {
	// Append persists clusters and returns them with their generated idx,
	// daily_top_id and run_id. Re-running a date appends new rows.
	Append(clusters []topic.DailyCluster) ([]topic.DailyRecord, error)
	// ReadAll returns every persisted record in idx order.
	ReadAll() ([]topic.DailyRecord, error)
	Close() error
}

// Backends accepted by Open.
const (
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
)

// Open opens the accumulator for the given backend.
func Open(backend, path string, logger *zerolog.Logger) (Store, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	switch strings.ToLower(backend) {
	case "", BackendJSONL:
		return OpenJSONL(path, logger)
	case BackendSQLite:
		return OpenSQLite(path, logger)
	default:
		return nil, eris.Errorf("unknown store backend %q", backend)
	}
}

// DailyTopID formats the day-scoped ordinal of a persisted cluster.
func DailyTopID(date string, ordinal int) string {
	return fmt.Sprintf("%s_T%02d", date, ordinal)
}

// stamp numbers clusters for one append. maxIdx is the highest idx already
// stored and perDate the number of rows already stored for each date.
func stamp(clusters []topic.DailyCluster, maxIdx int, perDate map[string]int) []topic.DailyRecord {
	runID := uuid.NewString()
	out := make([]topic.DailyRecord, 0, len(clusters))
	for _, c := range clusters {
		maxIdx++
		perDate[c.Date]++
		out = append(out, topic.DailyRecord{
			Idx:          maxIdx,
			DailyTopID:   DailyTopID(c.Date, perDate[c.Date]),
			RunID:        runID,
			DailyCluster: c,
		})
	}
	return out
}

// LatestRuns keeps, for every date, only the records written by the most
// recent append for that date. It is the caller-side dedup for re-runs.
func LatestRuns(records []topic.DailyRecord) []topic.DailyRecord {
	latest := make(map[string]string)
	best := make(map[string]int)
	for _, r := range records {
		if idx, ok := best[r.Date]; !ok || r.Idx > idx {
			best[r.Date] = r.Idx
			latest[r.Date] = r.RunID
		}
	}
	var out []topic.DailyRecord
	for _, r := range records {
		if latest[r.Date] == r.RunID {
			out = append(out, r)
		}
	}
	return out
}

// InRange keeps records dated within [from, to]. An empty bound is open.
func InRange(records []topic.DailyRecord, from, to string) []topic.DailyRecord {
	from, to = timeaxis.NormalizeDate(from), timeaxis.NormalizeDate(to)
	var out []topic.DailyRecord
	for _, r := range records {
		d := timeaxis.NormalizeDate(r.Date)
		if d == "" {
			continue
		}
		if (from != "" && d < from) || (to != "" && d > to) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Summary counts records per date, in date order.
type Summary struct {
	Date    string
	Records int
	Runs    int
}

// Summarize groups records by date for status output.
func Summarize(records []topic.DailyRecord) []Summary {
	byDate := make(map[string]*Summary)
	runs := make(map[string]map[string]bool)
	for _, r := range records {
		s, ok := byDate[r.Date]
		if !ok {
			s = &Summary{Date: r.Date}
			byDate[r.Date] = s
			runs[r.Date] = make(map[string]bool)
		}
		s.Records++
		runs[r.Date][r.RunID] = true
	}
	out := make([]Summary, 0, len(byDate))
	for d, s := range byDate {
		s.Runs = len(runs[d])
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
