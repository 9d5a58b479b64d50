package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/TobiSchelling/topicheat/internal/aggregate"
	"github.com/TobiSchelling/topicheat/internal/batch"
	"github.com/TobiSchelling/topicheat/internal/chatlog"
	"github.com/TobiSchelling/topicheat/internal/cluster"
	"github.com/TobiSchelling/topicheat/internal/config"
	"github.com/TobiSchelling/topicheat/internal/database"
	"github.com/TobiSchelling/topicheat/internal/issue"
	"github.com/TobiSchelling/topicheat/internal/llm"
	"github.com/TobiSchelling/topicheat/internal/synthesize"
	"github.com/TobiSchelling/topicheat/internal/topic"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// DayReport holds the outcome of one daily run.
type DayReport struct {
	Date        string
	Status      string
	Steps       []StepResult
	Messages    int
	SubClusters []topic.SubCluster
	Clusters    []topic.DailyCluster
	Records     []topic.DailyRecord
	Issues      []issue.Issue
}

// VersionReport holds the outcome of one multi-day run.
type VersionReport struct {
	From     string
	To       string
	Status   string
	Steps    []StepResult
	Records  int
	Clusters []topic.VersionCluster
	Issues   []issue.Issue
}

// Pipeline runs the daily and version flows.
type Pipeline struct {
	cfg      *config.Config
	provider llm.Provider
	store    database.Store
	parser   *cluster.Parser
	logger   *zerolog.Logger
}

// New creates a pipeline. provider may be nil, in which case every model
// step fails or falls back. store may be nil for runs that must not persist.
func New(cfg *config.Config, provider llm.Provider, store database.Store, logger *zerolog.Logger) *Pipeline {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Pipeline{
		cfg:      cfg,
		provider: provider,
		store:    store,
		parser:   cluster.NewParser(cfg.Pipeline.PlaceholderTokens),
		logger:   logger,
	}
}

// ResolveInputs expands the configured chat glob, sorted by name.
func ResolveInputs(pattern string) ([]string, error) {
	if pattern == "" {
		return nil, eris.New("no chat input configured")
	}
	matches, err := filepath.Glob(config.ExpandHome(pattern))
	if err != nil {
		return nil, eris.Wrapf(err, "bad chat glob %q", pattern)
	}
	sort.Strings(matches)
	return matches, nil
}

func (p *Pipeline) loadMessages(paths []string, log *issue.Log) ([]topic.Message, error) {
	opts := chatlog.Options{
		NoiseSenders: p.cfg.Input.NoiseSenders,
		FillerWords:  p.cfg.Input.FillerWords,
	}
	if f := config.ExpandHome(p.cfg.Input.IdentityFile); f != "" {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			p.logger.Debug().Str("path", f).Msg("no identity file, every speaker counts as player")
		} else {
			ids, err := chatlog.LoadIdentities(f)
			if err != nil {
				return nil, err
			}
			opts.Identities = ids
		}
	}
	return chatlog.ParseFiles(paths, opts, log)
}

// RunDay executes Normalize, Classify, Parse, Cluster, Aggregate, Detail and
// Persist for one date. An empty date selects the latest date in the input.
func (p *Pipeline) RunDay(ctx context.Context, date string, paths []string) *DayReport {
	log := issue.NewLog(p.logger)
	r := &DayReport{Date: date, Status: aggregate.StatusNoData}
	defer func() { r.Issues = log.Issues() }()

	// Step 1: Normalize
	msgs, step := p.runNormalize(paths, &r.Date, log)
	r.Steps = append(r.Steps, step)
	if step.Err != nil || len(msgs) == 0 {
		return r
	}
	r.Messages = len(msgs)

	// Step 2: Classify
	classified := p.runClassify(ctx, msgs)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Classify",
		Summary: fmt.Sprintf("Classified %d batches, %d failed", classified.Processed, classified.Failed),
	})
	if classified.Processed == 0 {
		r.Steps[len(r.Steps)-1].Err = eris.New("no batch was classified")
		return r
	}

	// Step 3: Parse
	r.SubClusters, step = p.runParse(classified, log)
	r.Steps = append(r.Steps, step)
	if len(r.SubClusters) == 0 {
		return r
	}

	// Step 4: Cluster
	cands, step := p.runCluster(ctx, r.Date, r.SubClusters, log)
	r.Steps = append(r.Steps, step)

	// Step 5: Aggregate
	daily := aggregate.Daily(aggregate.DailyInput{
		Date:        r.Date,
		Messages:    msgs,
		SubClusters: r.SubClusters,
		Candidates:  cands,
		TopK:        p.cfg.Pipeline.TopK,
	}, log)
	r.Status = daily.Status
	r.Clusters = daily.Clusters
	r.Steps = append(r.Steps, StepResult{
		Name:    "Aggregate",
		Summary: fmt.Sprintf("Ranked %d of %d clusters (%d dropped), status %s", len(daily.Clusters), daily.Candidates, daily.Dropped, daily.Status),
	})
	if daily.Status != aggregate.StatusOK {
		return r
	}

	// Step 6: Detail
	if p.cfg.Pipeline.Details && p.provider != nil {
		r.Steps = append(r.Steps, p.runDetail(ctx, r.Clusters, msgs, log))
	}

	// Step 7: Persist
	if p.store != nil {
		records, err := p.store.Append(r.Clusters)
		if err != nil {
			log.Add(issue.Issue{Stage: "persist", Kind: issue.KindStore, Msg: err.Error()})
			r.Steps = append(r.Steps, StepResult{Name: "Persist", Err: err})
			return r
		}
		r.Records = records
		r.Steps = append(r.Steps, StepResult{
			Name:    "Persist",
			Summary: fmt.Sprintf("Appended %d records", len(records)),
		})
	}
	return r
}

func (p *Pipeline) runNormalize(paths []string, date *string, log *issue.Log) ([]topic.Message, StepResult) {
	p.logger.Info().Int("files", len(paths)).Msg("Step 1/7: normalizing chat logs")
	all, err := p.loadMessages(paths, log)
	if err != nil {
		return nil, StepResult{Name: "Normalize", Err: err}
	}
	if *date == "" {
		if dates := chatlog.Dates(all); len(dates) > 0 {
			*date = dates[len(dates)-1]
		}
	}
	msgs := chatlog.FilterDate(all, *date)
	return msgs, StepResult{
		Name:    "Normalize",
		Summary: fmt.Sprintf("Kept %d messages for %s (%d in input)", len(msgs), *date, len(all)),
	}
}

func (p *Pipeline) classifyPrompt() string {
	if p.cfg.LLM.SchemaHint {
		return synthesize.WithSchema[synthesize.SubClusterSchema](batch.DefaultPrompt)
	}
	return batch.DefaultPrompt
}

func (p *Pipeline) runClassify(ctx context.Context, msgs []topic.Message) *batch.Result {
	p.logger.Info().Int("messages", len(msgs)).Msg("Step 2/7: classifying batches")
	runner := batch.NewRunner(p.provider, p.classifyPrompt(), p.cfg.Pipeline.BatchSize, p.cfg.Pipeline.BatchDelay(), p.logger)
	return runner.Run(ctx, msgs)
}

// runParse turns every successful batch response into stamped sub-clusters.
// A batch whose date cannot be inferred is abandoned on its own.
func (p *Pipeline) runParse(res *batch.Result, log *issue.Log) ([]topic.SubCluster, StepResult) {
	p.logger.Info().Int("responses", len(res.Responses)).Msg("Step 3/7: parsing clusters")
	var out []topic.SubCluster
	abandoned := 0
	for _, resp := range res.Responses {
		if resp.Err != nil {
			continue
		}
		b := resp.Batch
		records := p.parser.Clusters(resp.Raw, b.Index, log)
		subs := cluster.ToSubClusters(records, b.Index, b.Messages, log)
		if len(subs) == 0 {
			continue
		}
		date, err := cluster.InferDate(records, b.Messages, b.Index)
		if err != nil {
			log.Add(issue.Issue{Stage: "parse", Kind: issue.KindDateInference, Batch: b.Index, Msg: err.Error()})
			abandoned++
			continue
		}
		if err := cluster.Assign(subs, date, b.Tag); err != nil {
			log.Add(issue.Issue{Stage: "parse", Kind: issue.KindMissingField, Batch: b.Index, Msg: err.Error()})
			abandoned++
			continue
		}
		out = append(out, subs...)
	}
	return out, StepResult{
		Name:    "Parse",
		Summary: fmt.Sprintf("Parsed %d sub-clusters, %d batches abandoned", len(out), abandoned),
	}
}

func (p *Pipeline) runCluster(ctx context.Context, date string, subs []topic.SubCluster, log *issue.Log) ([]topic.DayCandidate, StepResult) {
	p.logger.Info().Int("sub_clusters", len(subs)).Msg("Step 4/7: clustering the day")
	d := synthesize.NewDayClusterer(p.provider, p.parser, p.cfg.LLM.SchemaHint, p.logger)
	cands, err := d.Cluster(ctx, date, subs, log)
	if err != nil {
		p.logger.Warn().Err(err).Msg("day clustering failed, ranking sub-clusters on their own")
		cands = aggregate.SingletonCandidates(subs)
		return cands, StepResult{
			Name:    "Cluster",
			Summary: fmt.Sprintf("Fell back to %d single sub-cluster topics", len(cands)),
		}
	}
	return cands, StepResult{
		Name:    "Cluster",
		Summary: fmt.Sprintf("Grouped %d sub-clusters into %d topics", len(subs), len(cands)),
	}
}

func (p *Pipeline) runDetail(ctx context.Context, clusters []topic.DailyCluster, msgs []topic.Message, log *issue.Log) StepResult {
	p.logger.Info().Int("clusters", len(clusters)).Msg("Step 6/7: writing opinions and quotes")
	d := synthesize.NewDetailer(p.provider, p.parser, p.cfg.LLM.SchemaHint, p.logger)
	details, res := d.Detail(ctx, clusters, msgs, log)
	n := aggregate.AttachDetails(clusters, details)
	return StepResult{
		Name:    "Detail",
		Summary: fmt.Sprintf("Attached details to %d points (%d calls, %d errors)", n, res.Calls, res.Errors),
	}
}

// RunVersion ranks topics across [from, to] from the accumulator, re-matching
// every point against the chat corpus in paths.
func (p *Pipeline) RunVersion(ctx context.Context, from, to string, paths []string) *VersionReport {
	log := issue.NewLog(p.logger)
	r := &VersionReport{From: from, To: to, Status: aggregate.StatusNoData}
	defer func() { r.Issues = log.Issues() }()

	// Step 1: Load
	records, msgs, step := p.runLoad(from, to, paths, log)
	r.Steps = append(r.Steps, step)
	if step.Err != nil || len(records) == 0 {
		return r
	}
	r.Records = len(records)

	// Step 2: Cluster
	v := synthesize.NewVersionClusterer(p.provider, p.parser, p.cfg.LLM.SchemaHint, p.logger)
	cands, err := v.Cluster(ctx, records, log)
	if err != nil {
		p.logger.Warn().Err(err).Msg("version clustering failed, grouping by title")
		cands = aggregate.CandidatesByTitle(records)
		r.Steps = append(r.Steps, StepResult{
			Name:    "Cluster",
			Summary: fmt.Sprintf("Grouped %d records into %d topics by title", len(records), len(cands)),
		})
	} else {
		r.Steps = append(r.Steps, StepResult{
			Name:    "Cluster",
			Summary: fmt.Sprintf("Grouped %d records into %d topics", len(records), len(cands)),
		})
	}

	// Step 3: Aggregate
	res := aggregate.Version(aggregate.VersionInput{
		Records:    records,
		Messages:   msgs,
		Candidates: cands,
		TopK:       p.cfg.Pipeline.TopK,
	}, log)
	r.Status = res.Status
	r.Clusters = res.Clusters
	r.Steps = append(r.Steps, StepResult{
		Name:    "Aggregate",
		Summary: fmt.Sprintf("Ranked %d topics, status %s", len(res.Clusters), res.Status),
	})
	return r
}

func (p *Pipeline) runLoad(from, to string, paths []string, log *issue.Log) ([]topic.DailyRecord, []topic.Message, StepResult) {
	p.logger.Info().Str("from", from).Str("to", to).Msg("Step 1/3: loading daily records")
	if p.store == nil {
		return nil, nil, StepResult{Name: "Load", Err: eris.New("no store configured")}
	}
	if from != "" && to != "" {
		if _, err := database.DatesBetween(from, to); err != nil {
			return nil, nil, StepResult{Name: "Load", Err: err}
		}
	}
	all, err := p.store.ReadAll()
	if err != nil {
		return nil, nil, StepResult{Name: "Load", Err: err}
	}
	if p.cfg.Pipeline.DedupeReruns {
		all = database.LatestRuns(all)
	}
	records := database.InRange(all, from, to)
	if len(records) == 0 {
		return nil, nil, StepResult{Name: "Load", Summary: "No daily records in range"}
	}
	msgs, err := p.loadMessages(paths, log)
	if err != nil {
		return nil, nil, StepResult{Name: "Load", Err: err}
	}
	msgs = onRecordDates(msgs, records)
	return records, msgs, StepResult{
		Name:    "Load",
		Summary: fmt.Sprintf("Loaded %d records and %d messages", len(records), len(msgs)),
	}
}

// onRecordDates keeps the messages of the dates records were ranked on, in
// date order.
func onRecordDates(msgs []topic.Message, records []topic.DailyRecord) []topic.Message {
	byDate := chatlog.ByDate(msgs)
	seen := make(map[string]bool)
	var dates []string
	for _, r := range records {
		if !seen[r.Date] {
			seen[r.Date] = true
			dates = append(dates, r.Date)
		}
	}
	sort.Strings(dates)
	var out []topic.Message
	for _, d := range dates {
		out = append(out, byDate[d]...)
	}
	return out
}

// DryRun shows what a daily run would process without calling the model or
// writing anything.
func (p *Pipeline) DryRun(date string, paths []string) *DayReport {
	log := issue.NewLog(p.logger)
	r := &DayReport{Date: date, Status: aggregate.StatusNoData}
	defer func() { r.Issues = log.Issues() }()

	msgs, step := p.runNormalize(paths, &r.Date, log)
	step.Summary = "[dry-run] " + step.Summary
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}
	r.Messages = len(msgs)

	batches := batch.Split(msgs, p.cfg.Pipeline.BatchSize)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Classify",
		Summary: fmt.Sprintf("[dry-run] %d batches of up to %d messages", len(batches), p.cfg.Pipeline.BatchSize),
	})

	if p.store != nil {
		existing, err := p.store.ReadAll()
		if err != nil {
			r.Steps = append(r.Steps, StepResult{Name: "Persist", Err: err})
			return r
		}
		n := len(database.InRange(existing, r.Date, r.Date))
		summary := fmt.Sprintf("[dry-run] Would append to an accumulator holding %d records for %s", n, r.Date)
		r.Steps = append(r.Steps, StepResult{Name: "Persist", Summary: summary})
	}
	return r
}
