package cluster

import (
	"github.com/TobiSchelling/topicheat/internal/issue"
	"github.com/TobiSchelling/topicheat/internal/timeaxis"
	"github.com/TobiSchelling/topicheat/internal/topic"
)

// ToSubClusters converts batch-level records. A record without a usable time
// axis gets one rebuilt from the messages it references; if that is not
// possible it is dropped. Date may stay empty here and is filled by Assign.
func ToSubClusters(records []Record, batch int, msgs []topic.Message, log *issue.Log) []topic.SubCluster {
	bySeq := make(map[int]topic.Message, len(msgs))
	for _, m := range msgs {
		bySeq[m.Seq] = m
	}

	var out []topic.SubCluster
	for _, rec := range records {
		title := rec.String(KeyTopicTitle)
		if title == "" {
			log.Add(issue.Issue{Stage: stage, Kind: issue.KindMissingField, Batch: batch, Msg: "sub-cluster without topic title", Text: rec.compact()})
			continue
		}
		ids := rec.Ints(KeyMessageIDs)
		axis := timeaxis.Canonical(rec.String(KeyTimeAxis))
		if axis == "" && len(ids) > 0 {
			var ref []topic.Message
			for _, id := range ids {
				if m, ok := bySeq[id]; ok {
					ref = append(ref, m)
				}
			}
			axis = timeaxis.Span(ref)
		}
		if axis == "" {
			log.Addf(stage, issue.KindMissingField, batch, "sub-cluster %q has no time axis", title)
			continue
		}
		core := rec.String(KeyCoreSubject)
		if core == "" {
			core = title
		}
		out = append(out, topic.SubCluster{
			TopicTitle:  title,
			CoreSubject: core,
			Date:        timeaxis.NormalizeDate(rec.String(KeyDate)),
			TimeAxis:    axis,
			Batch:       batch,
			MessageIDs:  ids,
		})
	}
	return out
}

// ToDayCandidates converts the records of a day-level clustering pass.
func ToDayCandidates(records []Record, rules []KeyRule) []topic.DayCandidate {
	var out []topic.DayCandidate
	for _, rec := range records {
		c := topic.DayCandidate{
			TopicTitle: rec.String(KeyTopicTitle),
			Date:       timeaxis.NormalizeDate(rec.String(KeyDate)),
			TimeAxis:   timeaxis.Canonical(rec.String(KeyTimeAxis)),
			MemberIDs:  rec.IDs(KeySubClusters, rules),
			Points:     toPoints(rec, rules),
		}
		for _, p := range c.Points {
			c.MemberIDs = appendUnique(c.MemberIDs, p.Refs...)
		}
		out = append(out, c)
	}
	return out
}

// ToVersionCandidates converts the records of a multi-day clustering pass.
// A cluster without explicit points becomes one point referencing the
// cluster's own member list.
func ToVersionCandidates(records []Record, rules []KeyRule) []topic.VersionCandidate {
	var out []topic.VersionCandidate
	for _, rec := range records {
		c := topic.VersionCandidate{
			TopicTitle: rec.String(KeyTopicTitle),
			Points:     toPoints(rec, rules),
		}
		if len(c.Points) == 0 {
			if refs := rec.IDs(KeySubClusters, rules); len(refs) > 0 {
				c.Points = []topic.CandidatePoint{{Text: c.TopicTitle, Refs: refs}}
			}
		}
		out = append(out, c)
	}
	return out
}

// ToDetails maps cluster id to the opinions and quotes the model produced
// for it.
func ToDetails(records []Record) map[string]topic.Detail {
	out := make(map[string]topic.Detail)
	for _, rec := range records {
		id := rec.String(KeyClusterID)
		if id == "" {
			continue
		}
		d := out[id]
		d.PlayerOpinions = append(d.PlayerOpinions, rec.Strings(KeyPlayerOpinions)...)
		d.ExampleQuotes = append(d.ExampleQuotes, rec.Strings(KeyExampleQuotes)...)
		out[id] = d
	}
	return out
}

func toPoints(rec Record, rules []KeyRule) []topic.CandidatePoint {
	var out []topic.CandidatePoint
	for _, p := range rec.Objects(KeyDiscussionPoints, rules) {
		text := p.String(KeyCoreSubject)
		if text == "" {
			text = p.String(KeyTopicTitle)
		}
		refs := p.IDs(KeySubClusters, rules)
		refs = appendUnique(refs, p.IDs(KeyClusterID, rules)...)
		out = append(out, topic.CandidatePoint{
			Text:           text,
			Refs:           refs,
			PlayerOpinions: p.Strings(KeyPlayerOpinions),
			ExampleQuotes:  p.Strings(KeyExampleQuotes),
		})
	}
	// Points written as plain strings carry text only.
	for _, s := range rec.Strings(KeyDiscussionPoints) {
		out = append(out, topic.CandidatePoint{Text: s})
	}
	return out
}

func appendUnique(list []string, items ...string) []string {
	seen := make(map[string]bool, len(list))
	for _, s := range list {
		seen[s] = true
	}
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			list = append(list, s)
		}
	}
	return list
}
