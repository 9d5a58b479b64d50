package aggregate

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/width"

	"github.com/TobiSchelling/topicheat/internal/heat"
	"github.com/TobiSchelling/topicheat/internal/issue"
	"github.com/TobiSchelling/topicheat/internal/timeaxis"
	"github.com/TobiSchelling/topicheat/internal/topic"
)

const versionStage = "version"

// VersionInput is everything the multi-day ranking needs.
type VersionInput struct {
	Records    []topic.DailyRecord
	Messages   []topic.Message
	Candidates []topic.VersionCandidate
	TopK       int
}

// VersionResult holds the ranked clusters of a version window.
type VersionResult struct {
	Status   string
	Clusters []topic.VersionCluster
}

// refIndex resolves sub-cluster ids and daily_top_ids to the windows and
// detail they stand for.
type refIndex struct {
	placements map[string][]topic.Placement
	points     map[string][]topic.DiscussionPoint
}

func buildIndex(records []topic.DailyRecord) *refIndex {
	idx := &refIndex{
		placements: make(map[string][]topic.Placement),
		points:     make(map[string][]topic.DiscussionPoint),
	}
	for _, rec := range records {
		recDate := timeaxis.NormalizeDate(rec.Date)
		for _, p := range rec.DiscussionPoints {
			date := timeaxis.NormalizeDate(p.Date)
			if date == "" {
				date = recDate
			}
			axis := timeaxis.Canonical(p.TimeAxis)
			if axis == "" {
				axis = timeaxis.Canonical(rec.TimeAxis)
			}
			if p.SubClusterID == "" || date == "" || axis == "" {
				continue
			}
			pl := topic.Placement{Date: date, TimeAxis: axis}
			idx.placements[p.SubClusterID] = append(idx.placements[p.SubClusterID], pl)
			idx.points[p.SubClusterID] = append(idx.points[p.SubClusterID], p)
		}
		if rec.DailyTopID != "" && recDate != "" {
			if axis := timeaxis.Canonical(rec.TimeAxis); axis != "" {
				idx.placements[rec.DailyTopID] = append(idx.placements[rec.DailyTopID], topic.Placement{Date: recDate, TimeAxis: axis})
			}
			idx.points[rec.DailyTopID] = append(idx.points[rec.DailyTopID], rec.DiscussionPoints...)
		}
	}
	return idx
}

// Version resolves each candidate's discussion points to concrete day
// windows, scores every point on the full message corpus and ranks clusters
// by the sum of their points' heat.
func Version(in VersionInput, log *issue.Log) *VersionResult {
	topK := in.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	idx := buildIndex(in.Records)

	var built []topic.VersionCluster
	for _, cand := range in.Candidates {
		if vc, ok := buildVersion(cand, idx, in.Messages, log); ok {
			built = append(built, vc)
		}
	}

	sort.SliceStable(built, func(i, j int) bool {
		return built[i].TotalHeatScore > built[j].TotalHeatScore
	})
	if len(built) > topK {
		built = built[:topK]
	}

	res := &VersionResult{Status: StatusOK, Clusters: built}
	if len(built) == 0 {
		res.Status = StatusNoData
	}
	return res
}

func buildVersion(cand topic.VersionCandidate, idx *refIndex, msgs []topic.Message, log *issue.Log) (topic.VersionCluster, bool) {
	vc := topic.VersionCluster{TopicTitle: cand.TopicTitle}
	var stats []heat.Stats
	days := make(map[string]bool)

	for _, cp := range cand.Points {
		p := topic.VersionPoint{
			Text:           cp.Text,
			PlayerOpinions: cp.PlayerOpinions,
			ExampleQuotes:  cp.ExampleQuotes,
			Refs:           cp.Refs,
		}
		seen := make(map[topic.Placement]bool)
		for _, ref := range cp.Refs {
			pls, ok := idx.placements[ref]
			if !ok {
				log.Addf(versionStage, issue.KindUnknownRef, 0, "cluster %q references unknown id %s", cand.TopicTitle, ref)
				continue
			}
			for _, pl := range pls {
				if !seen[pl] {
					seen[pl] = true
					p.Placements = append(p.Placements, pl)
				}
			}
			if len(cp.PlayerOpinions) == 0 && len(cp.ExampleQuotes) == 0 {
				for _, dp := range idx.points[ref] {
					p.PlayerOpinions = appendNew(p.PlayerOpinions, dp.PlayerOpinions...)
					p.ExampleQuotes = appendNew(p.ExampleQuotes, dp.ExampleQuotes...)
				}
			}
		}
		if len(p.Placements) == 0 {
			log.Addf(versionStage, issue.KindMissingField, 0, "point %q of %q has no resolvable window", cp.Text, cand.TopicTitle)
			continue
		}

		p.Dates = placementDates(p.Placements)
		for _, d := range p.Dates {
			days[d] = true
		}
		s := heat.Measure(timeaxis.MatchAll(p.Placements, msgs))
		p.SpeakerCount, p.MessageCount, p.HeatScore = s.Speakers, s.Messages, s.Heat
		stats = append(stats, s)
		vc.Points = append(vc.Points, p)
	}

	if len(vc.Points) == 0 {
		log.Addf(versionStage, issue.KindMissingField, 0, "cluster %q has no placeable points", cand.TopicTitle)
		return vc, false
	}

	total := heat.Sum(stats...)
	vc.TotalSpeakerCount = total.Speakers
	vc.TotalMessageCount = total.Messages
	vc.TotalHeatScore = total.Heat
	vc.Coverage = coverage(days)
	return vc, true
}

func placementDates(pls []topic.Placement) []string {
	seen := make(map[string]bool)
	var out []string
	for _, pl := range pls {
		if !seen[pl.Date] {
			seen[pl.Date] = true
			out = append(out, pl.Date)
		}
	}
	sort.Strings(out)
	return out
}

func coverage(days map[string]bool) topic.Coverage {
	if len(days) == 0 {
		return topic.Coverage{}
	}
	list := make([]string, 0, len(days))
	for d := range days {
		list = append(list, d)
	}
	sort.Strings(list)
	return topic.Coverage{Days: len(list), First: list[0], Last: list[len(list)-1]}
}

// CandidatesByTitle groups daily records whose titles normalize to the same
// text. Each record becomes one point referencing its daily_top_id. It stands
// in for the multi-day clustering pass.
func CandidatesByTitle(records []topic.DailyRecord) []topic.VersionCandidate {
	var out []topic.VersionCandidate
	pos := make(map[string]int)
	for _, rec := range records {
		if rec.DailyTopID == "" {
			continue
		}
		key := NormalizeTitle(rec.TopicTitle)
		i, ok := pos[key]
		if !ok {
			i = len(out)
			pos[key] = i
			out = append(out, topic.VersionCandidate{TopicTitle: rec.TopicTitle})
		}
		out[i].Points = append(out[i].Points, topic.CandidatePoint{
			Text: rec.TopicTitle,
			Refs: []string{rec.DailyTopID},
		})
	}
	return out
}

// NormalizeTitle folds full-width forms, case, whitespace and punctuation so
// that "【活动】奖励太少！" and "活动 奖励太少!" compare equal.
func NormalizeTitle(s string) string {
	s = strings.ToLower(width.Fold.String(s))
	var b strings.Builder
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
