// Package aggregate merges sub-clusters into ranked daily clusters and daily
// records into ranked multi-day version clusters.
package aggregate

import (
	"sort"

	"github.com/TobiSchelling/topicheat/internal/heat"
	"github.com/TobiSchelling/topicheat/internal/issue"
	"github.com/TobiSchelling/topicheat/internal/timeaxis"
	"github.com/TobiSchelling/topicheat/internal/topic"
)

// DefaultTopK is how many clusters a ranking keeps when no limit is set.
const DefaultTopK = 5

// Run statuses.
const (
	StatusOK     = "ok"
	StatusNoData = "no_data"
)

const dailyStage = "daily"

// DailyInput is everything the daily ranking needs for one date.
type DailyInput struct {
	Date        string
	Messages    []topic.Message
	SubClusters []topic.SubCluster
	Candidates  []topic.DayCandidate
	TopK        int
}

// DailyResult holds the ranked clusters of one day.
type DailyResult struct {
	Status     string
	Candidates int
	Dropped    int
	Clusters   []topic.DailyCluster
}

// Daily resolves every candidate against its member sub-clusters, scores it
// on the day's messages and keeps the TopK hottest. Candidates whose date or
// time axis cannot be resolved are dropped and recorded in log.
func Daily(in DailyInput, log *issue.Log) *DailyResult {
	topK := in.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	byID := make(map[string]topic.SubCluster, len(in.SubClusters))
	for _, s := range in.SubClusters {
		byID[s.ClusterID] = s
	}

	res := &DailyResult{Candidates: len(in.Candidates)}
	var built []topic.DailyCluster
	for _, cand := range in.Candidates {
		dc, ok := buildDaily(cand, in, byID, log)
		if !ok {
			res.Dropped++
			continue
		}
		built = append(built, dc)
	}

	sort.SliceStable(built, func(i, j int) bool {
		return built[i].HeatScore > built[j].HeatScore
	})
	if len(built) > topK {
		built = built[:topK]
	}

	res.Clusters = built
	res.Status = StatusOK
	if len(built) == 0 {
		res.Status = StatusNoData
	}
	return res
}

func buildDaily(cand topic.DayCandidate, in DailyInput, byID map[string]topic.SubCluster, log *issue.Log) (topic.DailyCluster, bool) {
	var members []topic.SubCluster
	for _, id := range cand.MemberIDs {
		s, ok := byID[id]
		if !ok {
			log.Addf(dailyStage, issue.KindUnknownRef, 0, "cluster %q references unknown sub-cluster %s", cand.TopicTitle, id)
			continue
		}
		members = append(members, s)
	}

	date := timeaxis.NormalizeDate(cand.Date)
	if date == "" {
		for _, m := range members {
			if date = timeaxis.NormalizeDate(m.Date); date != "" {
				break
			}
		}
	}

	axes := make([]string, 0, len(members))
	for _, m := range members {
		axes = append(axes, m.TimeAxis)
	}
	axis := timeaxis.Union(axes...)
	if axis == "" {
		axis = timeaxis.Canonical(cand.TimeAxis)
	}

	if date == "" || axis == "" {
		log.Addf(dailyStage, issue.KindMissingField, 0, "cluster %q has no resolvable date or time axis", cand.TopicTitle)
		return topic.DailyCluster{}, false
	}

	stats := heat.Measure(timeaxis.Match(date, axis, in.Messages))
	dc := topic.DailyCluster{
		TopicTitle:       cand.TopicTitle,
		Date:             date,
		TimeAxis:         axis,
		MemberClusterIDs: make([]string, 0, len(members)),
		SpeakerCount:     stats.Speakers,
		MessageCount:     stats.Messages,
		HeatScore:        stats.Heat,
	}

	pointFor := make(map[string]int, len(members))
	for _, m := range members {
		if _, dup := pointFor[m.ClusterID]; dup {
			continue
		}
		p := memberPoint(m, in.Messages)
		pointFor[m.ClusterID] = len(dc.DiscussionPoints)
		dc.MemberClusterIDs = append(dc.MemberClusterIDs, m.ClusterID)
		dc.DiscussionPoints = append(dc.DiscussionPoints, p)
	}

	for _, cp := range cand.Points {
		attached := false
		for _, ref := range cp.Refs {
			i, ok := pointFor[ref]
			if !ok {
				continue
			}
			p := &dc.DiscussionPoints[i]
			p.PlayerOpinions = appendNew(p.PlayerOpinions, cp.PlayerOpinions...)
			p.ExampleQuotes = appendNew(p.ExampleQuotes, cp.ExampleQuotes...)
			attached = true
		}
		if !attached && cp.Text != "" {
			dc.DiscussionPoints = append(dc.DiscussionPoints, topic.DiscussionPoint{
				Text:           cp.Text,
				PlayerOpinions: cp.PlayerOpinions,
				ExampleQuotes:  cp.ExampleQuotes,
				Date:           date,
			})
		}
	}
	return dc, true
}

func memberPoint(s topic.SubCluster, msgs []topic.Message) topic.DiscussionPoint {
	stats := heat.Measure(timeaxis.Match(s.Date, s.TimeAxis, msgs))
	text := s.CoreSubject
	if text == "" {
		text = s.TopicTitle
	}
	return topic.DiscussionPoint{
		SubClusterID: s.ClusterID,
		Text:         text,
		Date:         s.Date,
		TimeAxis:     s.TimeAxis,
		SpeakerCount: stats.Speakers,
		MessageCount: stats.Messages,
		HeatScore:    stats.Heat,
	}
}

// SingletonCandidates turns every sub-cluster into its own day candidate. It
// stands in for the day-level clustering pass when that pass fails.
func SingletonCandidates(subs []topic.SubCluster) []topic.DayCandidate {
	out := make([]topic.DayCandidate, 0, len(subs))
	for _, s := range subs {
		out = append(out, topic.DayCandidate{
			TopicTitle: s.TopicTitle,
			Date:       s.Date,
			TimeAxis:   s.TimeAxis,
			MemberIDs:  []string{s.ClusterID},
		})
	}
	return out
}

// AttachDetails merges opinion and quote data, keyed by sub-cluster id, into
// the discussion points of clusters.
func AttachDetails(clusters []topic.DailyCluster, details map[string]topic.Detail) int {
	attached := 0
	for i := range clusters {
		for j := range clusters[i].DiscussionPoints {
			p := &clusters[i].DiscussionPoints[j]
			d, ok := details[p.SubClusterID]
			if !ok || p.SubClusterID == "" {
				continue
			}
			p.PlayerOpinions = appendNew(p.PlayerOpinions, d.PlayerOpinions...)
			p.ExampleQuotes = appendNew(p.ExampleQuotes, d.ExampleQuotes...)
			attached++
		}
	}
	return attached
}

func appendNew(list []string, items ...string) []string {
	seen := make(map[string]bool, len(list))
	for _, s := range list {
		seen[s] = true
	}
	for _, s := range items {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		list = append(list, s)
	}
	return list
}
