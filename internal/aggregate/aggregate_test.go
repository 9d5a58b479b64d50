package aggregate

import (
	"math"
	"testing"

	"github.com/TobiSchelling/topicheat/internal/heat"
	"github.com/TobiSchelling/topicheat/internal/issue"
	"github.com/TobiSchelling/topicheat/internal/topic"
)

const day = "2025-12-17"

func msg(seq int, date, clock, speaker string) topic.Message {
	return topic.Message{Seq: seq, Date: date, Time: clock, SpeakerID: speaker, Text: "t"}
}

func dayMessages() []topic.Message {
	return []topic.Message{
		msg(1, day, "10:00:00", "A"),
		msg(2, day, "10:05:00", "B"),
		msg(3, day, "23:00:00", "C"),
		msg(4, day, "14:00:00", "A"),
		msg(5, day, "14:10:00", "D"),
		msg(6, day, "14:20:00", "E"),
		msg(7, day, "14:30:00", "F"),
	}
}

func daySubClusters() []topic.SubCluster {
	return []topic.SubCluster{
		{ClusterID: day + "_B01_01", TopicTitle: "activity", CoreSubject: "rewards too low", Date: day, TimeAxis: "09:00:00-11:00:00"},
		{ClusterID: day + "_B01_02", TopicTitle: "bug", Date: day, TimeAxis: "14:00:00-14:30:00"},
		{ClusterID: day + "_B02_01", TopicTitle: "late", Date: day, TimeAxis: "22:30:00-23:30:00"},
	}
}

func TestDailyRanksAndResolves(t *testing.T) {
	log := issue.NewLog(nil)
	res := Daily(DailyInput{
		Date:        day,
		Messages:    dayMessages(),
		SubClusters: daySubClusters(),
		Candidates: []topic.DayCandidate{
			{TopicTitle: "活动", MemberIDs: []string{day + "_B01_01", day + "_B02_01"}},
			{TopicTitle: "Bug", MemberIDs: []string{day + "_B01_02"}, Points: []topic.CandidatePoint{
				{Text: "crash", Refs: []string{day + "_B01_02"}, PlayerOpinions: []string{"fix it"}},
			}},
			{TopicTitle: "ghost", MemberIDs: []string{"nope"}},
		},
	}, log)

	if res.Status != StatusOK {
		t.Fatalf("expected ok status, got %s", res.Status)
	}
	if len(res.Clusters) != 2 || res.Dropped != 1 {
		t.Fatalf("expected 2 clusters and 1 dropped, got %d/%d", len(res.Clusters), res.Dropped)
	}
	if log.Count(issue.KindUnknownRef) != 1 || log.Count(issue.KindMissingField) != 1 {
		t.Errorf("unexpected issues %v", log.Issues())
	}

	first, second := res.Clusters[0], res.Clusters[1]
	if first.TopicTitle != "Bug" || first.HeatScore != 8 {
		t.Errorf("expected Bug first with heat 8, got %s %v", first.TopicTitle, first.HeatScore)
	}
	if len(first.DiscussionPoints) != 1 || first.DiscussionPoints[0].PlayerOpinions[0] != "fix it" {
		t.Errorf("expected opinion attached to member point, got %+v", first.DiscussionPoints)
	}

	if second.TimeAxis != "09:00:00-11:00:00; 22:30:00-23:30:00" {
		t.Errorf("expected union axis, got %q", second.TimeAxis)
	}
	if second.Date != day {
		t.Errorf("expected date back-filled from members, got %q", second.Date)
	}
	if second.SpeakerCount != 3 || second.MessageCount != 3 || second.HeatScore != heat.Score(3, 3) {
		t.Errorf("unexpected stats U=%d M=%d H=%v", second.SpeakerCount, second.MessageCount, second.HeatScore)
	}
	if len(second.DiscussionPoints) != 2 {
		t.Fatalf("expected 2 points, got %d", len(second.DiscussionPoints))
	}
	p := second.DiscussionPoints[0]
	if p.Text != "rewards too low" || p.HeatScore != 2.83 || p.SubClusterID != day+"_B01_01" {
		t.Errorf("unexpected point %+v", p)
	}
}

func TestDailyDropsCandidateWithoutDate(t *testing.T) {
	log := issue.NewLog(nil)
	res := Daily(DailyInput{
		Date:     day,
		Messages: dayMessages(),
		Candidates: []topic.DayCandidate{
			{TopicTitle: "orphan", TimeAxis: "09:00:00-11:00:00", MemberIDs: []string{"nope"}},
		},
	}, log)
	if len(res.Clusters) != 0 || res.Dropped != 1 {
		t.Fatalf("expected the candidate dropped, got %d clusters, %d dropped", len(res.Clusters), res.Dropped)
	}
	if log.Count(issue.KindMissingField) != 1 {
		t.Errorf("expected a missing-field issue, got %v", log.Issues())
	}
}

func TestDailyTopKAndStableTies(t *testing.T) {
	subs := daySubClusters()
	cands := []topic.DayCandidate{
		{TopicTitle: "first", MemberIDs: []string{subs[0].ClusterID}},
		{TopicTitle: "second", MemberIDs: []string{subs[0].ClusterID}},
		{TopicTitle: "hot", MemberIDs: []string{subs[1].ClusterID}},
	}
	res := Daily(DailyInput{Date: day, Messages: dayMessages(), SubClusters: subs, Candidates: cands, TopK: 2}, nil)
	if len(res.Clusters) != 2 {
		t.Fatalf("expected top 2, got %d", len(res.Clusters))
	}
	if res.Clusters[0].TopicTitle != "hot" || res.Clusters[1].TopicTitle != "first" {
		t.Errorf("unexpected order %s, %s", res.Clusters[0].TopicTitle, res.Clusters[1].TopicTitle)
	}
}

func TestDailyNoData(t *testing.T) {
	res := Daily(DailyInput{Date: day}, nil)
	if res.Status != StatusNoData || len(res.Clusters) != 0 {
		t.Errorf("expected no_data, got %+v", res)
	}
}

func TestDailyZeroMatchesIsValid(t *testing.T) {
	subs := []topic.SubCluster{{ClusterID: day + "_B01_01", TopicTitle: "quiet", Date: day, TimeAxis: "03:00:00-04:00:00"}}
	res := Daily(DailyInput{
		Date:        day,
		Messages:    dayMessages(),
		SubClusters: subs,
		Candidates:  SingletonCandidates(subs),
	}, nil)
	if len(res.Clusters) != 1 || res.Clusters[0].HeatScore != 0 {
		t.Errorf("expected one zero-heat cluster, got %+v", res.Clusters)
	}
}

func TestSingletonCandidates(t *testing.T) {
	cands := SingletonCandidates(daySubClusters())
	if len(cands) != 3 || cands[1].MemberIDs[0] != day+"_B01_02" || cands[1].TopicTitle != "bug" {
		t.Errorf("unexpected candidates %+v", cands)
	}
}

func TestAttachDetails(t *testing.T) {
	clusters := []topic.DailyCluster{{DiscussionPoints: []topic.DiscussionPoint{
		{SubClusterID: "a", PlayerOpinions: []string{"x"}},
		{SubClusterID: "b"},
		{Text: "no id"},
	}}}
	n := AttachDetails(clusters, map[string]topic.Detail{
		"a": {PlayerOpinions: []string{"x", "y"}, ExampleQuotes: []string{"q"}},
	})
	if n != 1 {
		t.Errorf("expected 1 point updated, got %d", n)
	}
	p := clusters[0].DiscussionPoints[0]
	if len(p.PlayerOpinions) != 2 || len(p.ExampleQuotes) != 1 {
		t.Errorf("expected deduplicated merge, got %+v", p)
	}
}

func versionRecords() []topic.DailyRecord {
	return []topic.DailyRecord{
		{Idx: 1, DailyTopID: "2025-12-17_T01", DailyCluster: topic.DailyCluster{
			TopicTitle: "活动", Date: "2025-12-17", TimeAxis: "09:00:00-11:00:00",
			DiscussionPoints: []topic.DiscussionPoint{{
				SubClusterID: "2025-12-17_B01_01", Text: "rewards", Date: "2025-12-17",
				TimeAxis: "09:00:00-11:00:00", PlayerOpinions: []string{"too few"},
			}},
		}},
		{Idx: 2, DailyTopID: "2025-12-18_T01", DailyCluster: topic.DailyCluster{
			TopicTitle: "活动！", Date: "2025-12-18", TimeAxis: "20:00:00-21:00:00",
			DiscussionPoints: []topic.DiscussionPoint{{
				SubClusterID: "2025-12-18_B01_01", Text: "rewards again", Date: "2025-12-18",
				TimeAxis: "20:00:00-21:00:00",
			}},
		}},
	}
}

func versionMessages() []topic.Message {
	return []topic.Message{
		msg(1, "2025-12-17", "10:00:00", "A"),
		msg(2, "2025-12-17", "10:05:00", "B"),
		msg(3, "2025-12-18", "20:10:00", "A"),
		msg(4, "2025-12-18", "20:20:00", "C"),
		msg(5, "2025-12-18", "20:30:00", "D"),
	}
}

func TestVersionAdditiveHeat(t *testing.T) {
	log := issue.NewLog(nil)
	res := Version(VersionInput{
		Records:  versionRecords(),
		Messages: versionMessages(),
		Candidates: []topic.VersionCandidate{{
			TopicTitle: "活动",
			Points: []topic.CandidatePoint{
				{Text: "rewards", Refs: []string{"2025-12-17_B01_01", "2025-12-18_B01_01"}},
				{Text: "other", Refs: []string{"2025-12-18_T01"}},
			},
		}},
	}, log)

	if res.Status != StatusOK || len(res.Clusters) != 1 {
		t.Fatalf("expected one cluster, got %+v", res)
	}
	vc := res.Clusters[0]
	if len(vc.Points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(vc.Points))
	}
	p1, p2 := vc.Points[0], vc.Points[1]
	if p1.SpeakerCount != 4 || p1.MessageCount != 5 || p1.HeatScore != 8.94 {
		t.Errorf("unexpected first point stats %+v", p1)
	}
	if len(p1.PlayerOpinions) != 1 || p1.PlayerOpinions[0] != "too few" {
		t.Errorf("expected opinions carried from daily points, got %v", p1.PlayerOpinions)
	}
	if p2.HeatScore != heat.Score(3, 3) {
		t.Errorf("unexpected second point heat %v", p2.HeatScore)
	}

	want := heat.Round2(p1.HeatScore + p2.HeatScore)
	if math.Abs(vc.TotalHeatScore-want) > 1e-9 {
		t.Errorf("expected total heat %v, got %v", want, vc.TotalHeatScore)
	}
	if vc.TotalHeatScore == heat.Score(vc.TotalSpeakerCount, vc.TotalMessageCount) {
		t.Error("total heat should not be recomputed from summed counts")
	}
	if vc.TotalSpeakerCount != 7 || vc.TotalMessageCount != 8 {
		t.Errorf("unexpected totals U=%d M=%d", vc.TotalSpeakerCount, vc.TotalMessageCount)
	}
	if vc.Coverage.Days != 2 || vc.Coverage.First != "2025-12-17" || vc.Coverage.Last != "2025-12-18" {
		t.Errorf("unexpected coverage %+v", vc.Coverage)
	}
	if log.Len() != 0 {
		t.Errorf("expected no issues, got %v", log.Issues())
	}
}

func TestVersionDedupesPlacements(t *testing.T) {
	res := Version(VersionInput{
		Records:  versionRecords(),
		Messages: versionMessages(),
		Candidates: []topic.VersionCandidate{{
			TopicTitle: "x",
			Points:     []topic.CandidatePoint{{Text: "p", Refs: []string{"2025-12-18_B01_01", "2025-12-18_T01"}}},
		}},
	}, nil)
	p := res.Clusters[0].Points[0]
	if len(p.Placements) != 1 {
		t.Errorf("expected one placement, got %v", p.Placements)
	}
	if p.MessageCount != 3 {
		t.Errorf("expected 3 messages, got %d", p.MessageCount)
	}
}

func TestVersionUnknownRefs(t *testing.T) {
	log := issue.NewLog(nil)
	res := Version(VersionInput{
		Records:    versionRecords(),
		Messages:   versionMessages(),
		Candidates: []topic.VersionCandidate{{TopicTitle: "x", Points: []topic.CandidatePoint{{Text: "p", Refs: []string{"missing"}}}}},
	}, log)
	if res.Status != StatusNoData {
		t.Errorf("expected no_data, got %s", res.Status)
	}
	if log.Count(issue.KindUnknownRef) != 1 {
		t.Errorf("expected unknown ref issue, got %v", log.Issues())
	}
}

func TestCandidatesByTitle(t *testing.T) {
	cands := CandidatesByTitle(versionRecords())
	if len(cands) != 1 || len(cands[0].Points) != 2 {
		t.Fatalf("expected titles to group, got %+v", cands)
	}
	res := Version(VersionInput{Records: versionRecords(), Messages: versionMessages(), Candidates: cands}, nil)
	if got := res.Clusters[0].TotalHeatScore; got != heat.Round2(heat.Score(2, 2)+heat.Score(3, 3)) {
		t.Errorf("unexpected total heat %v", got)
	}
}

func TestNormalizeTitle(t *testing.T) {
	if NormalizeTitle("【活动】奖励太少！") != NormalizeTitle("活动 奖励太少!") {
		t.Error("expected titles to normalize equal")
	}
	if NormalizeTitle("ＡＢＣ") != "abc" {
		t.Errorf("expected full-width fold, got %q", NormalizeTitle("ＡＢＣ"))
	}
}
