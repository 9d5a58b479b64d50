// Package synthesize runs the model passes that sit on top of the batch
// classification: grouping a day's sub-clusters, writing per-point opinions
// and quotes, and grouping daily records across a version window.
package synthesize

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/TobiSchelling/topicheat/internal/batch"
	"github.com/TobiSchelling/topicheat/internal/cluster"
	"github.com/TobiSchelling/topicheat/internal/issue"
	"github.com/TobiSchelling/topicheat/internal/timeaxis"
	"github.com/TobiSchelling/topicheat/internal/topic"
)

const (
	dayPrompt = `You merge topic clusters found in separate parts of one day's game community chat.
Clusters about the same subject become one day-level cluster. For each output one JSON object with:
"聚合话题簇" (short title), "日期" (YYYY-MM-DD), "子话题簇" (list of the merged cluster ids),
"讨论点" (list of objects with "核心讨论点" and "子话题簇").
Every input cluster id should appear in exactly one output object. Output only the JSON objects.`

	detailPrompt = `You read chat messages belonging to one hot topic of a game community.
For each listed cluster id output one JSON object with:
"话题簇ID", "玩家观点" (list of short opinion summaries), "典型发言" (list of verbatim quotes from the messages).
Output only the JSON objects.`

	versionPrompt = `You merge daily hot topics of a game community across several days.
Topics about the same subject become one version-level topic. For each output one JSON object with:
"聚合话题簇" (short title), "讨论点" (list of objects with "核心讨论点" and "子话题簇", the referenced daily topic ids or cluster ids).
Output only the JSON objects.`

	// maxDetailMessages caps the messages quoted into one detail prompt.
	maxDetailMessages = 300

	stage = "synthesize"
)

var errNoProvider = eris.New("no LLM provider available")

// Classifier is the model call the passes need. llm.Provider satisfies it.
type Classifier interface {
	Classify(ctx context.Context, system, user string) (string, error)
}

// Result holds the counts of one pass.
type Result struct {
	Calls  int
	Parsed int
	Errors int
}

type pass struct {
	provider Classifier
	parser   *cluster.Parser
	system   string
	logger   *zerolog.Logger
}

func newPass(provider Classifier, parser *cluster.Parser, system string, logger *zerolog.Logger) pass {
	if parser == nil {
		parser = cluster.NewParser(nil)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return pass{provider: provider, parser: parser, system: system, logger: logger}
}

func (p pass) call(ctx context.Context, user string, log *issue.Log) (string, error) {
	if p.provider == nil {
		return "", errNoProvider
	}
	raw, err := p.provider.Classify(ctx, p.system, user)
	if err != nil {
		log.Add(issue.Issue{Stage: stage, Kind: issue.KindCall, Msg: err.Error()})
		return "", err
	}
	return raw, nil
}

// DayClusterer groups the sub-clusters of one day into day-level candidates.
type DayClusterer struct {
	pass
}

// NewDayClusterer creates a day pass. schemaHint appends the JSON schema of
// the expected objects to the prompt.
func NewDayClusterer(provider Classifier, parser *cluster.Parser, schemaHint bool, logger *zerolog.Logger) *DayClusterer {
	system := dayPrompt
	if schemaHint {
		system = WithSchema[DayClusterSchema](system)
	}
	return &DayClusterer{newPass(provider, parser, system, logger)}
}

// Cluster asks the model to group subs. It fails when the call fails or no
// usable candidate comes back, so the caller can fall back to singletons.
func (d *DayClusterer) Cluster(ctx context.Context, date string, subs []topic.SubCluster, log *issue.Log) ([]topic.DayCandidate, error) {
	if len(subs) == 0 {
		return nil, nil
	}
	raw, err := d.call(ctx, FormatSubClusters(date, subs), log)
	if err != nil {
		return nil, eris.Wrapf(err, "day clustering for %s", date)
	}
	cands := cluster.ToDayCandidates(d.parser.Clusters(raw, 0, log), d.parser.Rules())
	if len(cands) == 0 {
		return nil, eris.Errorf("day clustering for %s returned no clusters", date)
	}
	d.logger.Info().Str("date", date).Int("sub_clusters", len(subs)).Int("candidates", len(cands)).Msg("day clustering complete")
	return cands, nil
}

// FormatSubClusters renders one line per sub-cluster for the day prompt.
func FormatSubClusters(date string, subs []topic.SubCluster) string {
	var b strings.Builder
	fmt.Fprintf(&b, "日期: %s\n", date)
	for _, s := range subs {
		fmt.Fprintf(&b, "- %s | %s | %s | %s\n", s.ClusterID, s.TopicTitle, s.CoreSubject, s.TimeAxis)
	}
	return b.String()
}

// Detailer writes opinions and quotes for the points of ranked clusters.
type Detailer struct {
	pass
}

// NewDetailer creates a detail pass.
func NewDetailer(provider Classifier, parser *cluster.Parser, schemaHint bool, logger *zerolog.Logger) *Detailer {
	system := detailPrompt
	if schemaHint {
		system = WithSchema[DetailSchema](system)
	}
	return &Detailer{newPass(provider, parser, system, logger)}
}

// Detail makes one call per cluster with the messages inside its points'
// windows. A failed cluster is counted and skipped.
func (d *Detailer) Detail(ctx context.Context, clusters []topic.DailyCluster, msgs []topic.Message, log *issue.Log) (map[string]topic.Detail, *Result) {
	res := &Result{}
	out := make(map[string]topic.Detail)
	if d.provider == nil {
		d.logger.Warn().Msg("no LLM provider available for details")
		return out, res
	}
	for _, c := range clusters {
		if err := ctx.Err(); err != nil {
			break
		}
		user, ok := detailInput(c, msgs)
		if !ok {
			continue
		}
		res.Calls++
		raw, err := d.call(ctx, user, log)
		if err != nil {
			res.Errors++
			d.logger.Warn().Err(err).Str("topic", c.TopicTitle).Msg("detail pass failed")
			continue
		}
		for id, det := range cluster.ToDetails(d.parser.Objects(raw, 0, log)) {
			prev := out[id]
			prev.PlayerOpinions = append(prev.PlayerOpinions, det.PlayerOpinions...)
			prev.ExampleQuotes = append(prev.ExampleQuotes, det.ExampleQuotes...)
			out[id] = prev
			res.Parsed++
		}
	}
	d.logger.Info().Int("calls", res.Calls).Int("details", res.Parsed).Int("errors", res.Errors).Msg("detail pass complete")
	return out, res
}

func detailInput(c topic.DailyCluster, msgs []topic.Message) (string, bool) {
	var b strings.Builder
	fmt.Fprintf(&b, "话题: %s\n", c.TopicTitle)
	var quoted []topic.Message
	seen := make(map[int]bool)
	ids := 0
	for _, p := range c.DiscussionPoints {
		if p.SubClusterID == "" {
			continue
		}
		ids++
		fmt.Fprintf(&b, "- %s: %s\n", p.SubClusterID, p.Text)
		for _, m := range timeaxis.Match(p.Date, p.TimeAxis, msgs) {
			if !seen[m.Seq] && len(quoted) < maxDetailMessages {
				seen[m.Seq] = true
				quoted = append(quoted, m)
			}
		}
	}
	if ids == 0 || len(quoted) == 0 {
		return "", false
	}
	b.WriteString("\n消息:\n")
	b.WriteString(batch.FormatMessages(quoted))
	return b.String(), true
}

// VersionClusterer groups persisted daily records across a window.
type VersionClusterer struct {
	pass
}

// NewVersionClusterer creates a version pass.
func NewVersionClusterer(provider Classifier, parser *cluster.Parser, schemaHint bool, logger *zerolog.Logger) *VersionClusterer {
	system := versionPrompt
	if schemaHint {
		system = WithSchema[VersionClusterSchema](system)
	}
	return &VersionClusterer{newPass(provider, parser, system, logger)}
}

// Cluster asks the model to group records. Like DayClusterer it fails on an
// empty answer so the caller can fall back to title grouping.
func (v *VersionClusterer) Cluster(ctx context.Context, records []topic.DailyRecord, log *issue.Log) ([]topic.VersionCandidate, error) {
	if len(records) == 0 {
		return nil, nil
	}
	raw, err := v.call(ctx, FormatRecords(records), log)
	if err != nil {
		return nil, eris.Wrap(err, "version clustering")
	}
	cands := cluster.ToVersionCandidates(v.parser.Clusters(raw, 0, log), v.parser.Rules())
	if len(cands) == 0 {
		return nil, eris.New("version clustering returned no clusters")
	}
	v.logger.Info().Int("records", len(records)).Int("candidates", len(cands)).Msg("version clustering complete")
	return cands, nil
}

// FormatRecords condenses daily records into the version prompt: one line per
// record and one indented line per point.
func FormatRecords(records []topic.DailyRecord) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "- %s | %s | %s | heat %.2f\n", r.DailyTopID, r.Date, r.TopicTitle, r.HeatScore)
		for _, p := range r.DiscussionPoints {
			if p.SubClusterID == "" {
				continue
			}
			fmt.Fprintf(&b, "  - %s: %s\n", p.SubClusterID, p.Text)
		}
	}
	return b.String()
}
