package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/TobiSchelling/topicheat/internal/aggregate"
	"github.com/TobiSchelling/topicheat/internal/batch"
	"github.com/TobiSchelling/topicheat/internal/config"
	"github.com/TobiSchelling/topicheat/internal/database"
	"github.com/TobiSchelling/topicheat/internal/topic"
)

const chatExport = `2025-12-06 10:00:00 小明(111)
更新后好卡

2025-12-06 10:01:00 小红(222)
我也卡

2025-12-06 10:03:00 小刚(333)
卡成ppt

2025-12-06 10:04:00 小明(111)
求优化

2025-12-06 20:00:30 小红(222)
抽卡又歪了

2025-12-05 09:00:00 小明(111)
前一天的消息
`

const classifyAnswer = "```json\n" + `{"话题簇":"更新卡顿","核心讨论点":"更新后卡顿","日期":"2025-12-06","时间轴":"10:00:00-10:05:00","消息序号":[1,2,3]}
{"话题簇":"抽卡","核心讨论点":"抽卡概率","时间轴":"20:00:00-极轴20:01:00"}` + "\n```"

// mockProvider answers each pass by looking at its system prompt.
type mockProvider struct {
	day     string
	version string
	calls   map[string]int
}

func (m *mockProvider) Classify(_ context.Context, system, user string) (string, error) {
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	switch {
	case strings.HasPrefix(system, batch.DefaultPrompt):
		m.calls["classify"]++
		return classifyAnswer, nil
	case strings.Contains(system, "separate parts of one day"):
		m.calls["day"]++
		return m.day, nil
	case strings.Contains(system, "belonging to one hot topic"):
		m.calls["detail"]++
		if strings.Contains(user, "2025-12-06_B01_01") {
			return `{"话题簇ID":"2025-12-06_B01_01","玩家观点":["优化差"],"典型发言":["卡成ppt"]}`, nil
		}
		return "", nil
	default:
		m.calls["version"]++
		return m.version, nil
	}
}

func (m *mockProvider) IsConfigured() bool { return true }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Pipeline.BatchDelaySeconds = 0
	cfg.Input.IdentityFile = ""
	cfg.LLM.SchemaHint = false
	return cfg
}

func writeExport(t *testing.T) []string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.txt")
	if err := os.WriteFile(path, []byte(chatExport), 0o644); err != nil {
		t.Fatalf("failed to write chat export: %v", err)
	}
	return []string{path}
}

func openStore(t *testing.T) database.Store {
	t.Helper()
	store, err := database.Open(database.BackendJSONL, filepath.Join(t.TempDir(), "daily_top.jsonl"), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunDayFallsBackToSingletons(t *testing.T) {
	store := openStore(t)
	mock := &mockProvider{day: "no clusters today"}
	p := New(testConfig(), mock, store, nil)

	r := p.RunDay(context.Background(), "2025-12-06", writeExport(t))
	for _, s := range r.Steps {
		if s.Err != nil {
			t.Fatalf("step %s failed: %v", s.Name, s.Err)
		}
	}
	if r.Status != aggregate.StatusOK {
		t.Fatalf("expected ok status, got %s", r.Status)
	}
	if r.Messages != 5 {
		t.Errorf("expected 5 messages for the day, got %d", r.Messages)
	}
	if len(r.SubClusters) != 2 || r.SubClusters[1].ClusterID != "2025-12-06_B01_02" {
		t.Fatalf("unexpected sub-clusters %+v", r.SubClusters)
	}
	if r.SubClusters[1].TimeAxis != "20:00:00-20:01:00" {
		t.Errorf("placeholder not repaired: %q", r.SubClusters[1].TimeAxis)
	}
	if len(r.Clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(r.Clusters))
	}
	top := r.Clusters[0]
	if top.TopicTitle != "更新卡顿" || top.SpeakerCount != 3 || top.MessageCount != 4 || top.HeatScore != 6 {
		t.Errorf("unexpected top cluster %+v", top)
	}
	if ops := top.DiscussionPoints[0].PlayerOpinions; len(ops) != 1 || ops[0] != "优化差" {
		t.Errorf("expected attached opinions, got %v", ops)
	}
	if len(r.Records) != 2 || r.Records[0].DailyTopID != "2025-12-06_T01" || r.Records[1].Idx != 2 {
		t.Errorf("unexpected records %+v", r.Records)
	}
	if mock.calls["classify"] != 1 || mock.calls["day"] != 1 || mock.calls["detail"] != 2 {
		t.Errorf("unexpected call counts %v", mock.calls)
	}
}

func TestRunDayMergesWithDayPass(t *testing.T) {
	mock := &mockProvider{day: `{"聚合话题簇":"版本体验","子话题簇":["2025-12-06_B01_01","2025-12-06_B01_02"]}`}
	cfg := testConfig()
	cfg.Pipeline.Details = false
	p := New(cfg, mock, nil, nil)

	r := p.RunDay(context.Background(), "2025-12-06", writeExport(t))
	if len(r.Clusters) != 1 {
		t.Fatalf("expected 1 merged cluster, got %d", len(r.Clusters))
	}
	c := r.Clusters[0]
	if c.TimeAxis != "10:00:00-10:05:00; 20:00:00-20:01:00" {
		t.Errorf("expected union axis, got %q", c.TimeAxis)
	}
	if c.SpeakerCount != 3 || c.MessageCount != 5 || c.HeatScore != 6.71 {
		t.Errorf("unexpected stats %+v", c)
	}
	if len(c.DiscussionPoints) != 2 {
		t.Errorf("expected one point per member, got %d", len(c.DiscussionPoints))
	}
	if mock.calls["detail"] != 0 {
		t.Error("detail pass should be off")
	}
	if r.Records != nil {
		t.Error("nothing should be persisted without a store")
	}
}

func TestRunDayWithoutProvider(t *testing.T) {
	store := openStore(t)
	p := New(testConfig(), nil, store, nil)

	r := p.RunDay(context.Background(), "2025-12-06", writeExport(t))
	if r.Status != aggregate.StatusNoData {
		t.Errorf("expected no_data, got %s", r.Status)
	}
	last := r.Steps[len(r.Steps)-1]
	if last.Name != "Classify" || last.Err == nil {
		t.Errorf("expected failing classify step, got %+v", last)
	}
	records, _ := store.ReadAll()
	if len(records) != 0 {
		t.Errorf("expected empty store, got %d records", len(records))
	}
}

func TestRunDayPicksLatestDate(t *testing.T) {
	p := New(testConfig(), &mockProvider{}, nil, nil)
	r := p.RunDay(context.Background(), "", writeExport(t))
	if r.Date != "2025-12-06" {
		t.Errorf("expected latest date, got %q", r.Date)
	}
}

func TestRunDayNoMessages(t *testing.T) {
	mock := &mockProvider{}
	p := New(testConfig(), mock, nil, nil)
	r := p.RunDay(context.Background(), "2025-12-31", writeExport(t))
	if r.Status != aggregate.StatusNoData || len(r.Steps) != 1 {
		t.Errorf("expected a single normalize step and no_data, got %+v", r)
	}
	if len(mock.calls) != 0 {
		t.Errorf("provider should not be called, got %v", mock.calls)
	}
}

func TestRunVersionAfterRerun(t *testing.T) {
	store := openStore(t)
	paths := writeExport(t)
	mock := &mockProvider{day: "none", version: "none"}
	p := New(testConfig(), mock, store, nil)

	p.RunDay(context.Background(), "2025-12-06", paths)
	rerun := p.RunDay(context.Background(), "2025-12-06", paths)
	if rerun.Records[0].DailyTopID != "2025-12-06_T03" {
		t.Errorf("rerun should continue numbering, got %s", rerun.Records[0].DailyTopID)
	}

	r := p.RunVersion(context.Background(), "2025-12-01", "2025-12-07", paths)
	if r.Status != aggregate.StatusOK {
		t.Fatalf("expected ok, got %s (%+v)", r.Status, r.Steps)
	}
	if r.Records != 2 {
		t.Errorf("expected rerun dedupe to keep 2 records, got %d", r.Records)
	}
	if len(r.Clusters) != 2 {
		t.Fatalf("expected 2 version clusters, got %d", len(r.Clusters))
	}
	top := r.Clusters[0]
	if top.TopicTitle != "更新卡顿" || top.TotalHeatScore != 6 || top.Coverage.Days != 1 {
		t.Errorf("unexpected top version cluster %+v", top)
	}
	if mock.calls["version"] != 1 {
		t.Errorf("expected one version call, got %v", mock.calls)
	}
}

func TestRunVersionMergedByModel(t *testing.T) {
	store := openStore(t)
	_, err := store.Append([]topic.DailyCluster{
		{TopicTitle: "卡顿", Date: "2025-12-06", TimeAxis: "10:00:00-10:05:00", DiscussionPoints: []topic.DiscussionPoint{
			{SubClusterID: "2025-12-06_B01_01", Text: "卡顿", Date: "2025-12-06", TimeAxis: "10:00:00-10:05:00"},
		}},
		{TopicTitle: "抽卡", Date: "2025-12-06", TimeAxis: "20:00:00-20:01:00", DiscussionPoints: []topic.DiscussionPoint{
			{SubClusterID: "2025-12-06_B01_02", Text: "抽卡", Date: "2025-12-06", TimeAxis: "20:00:00-20:01:00"},
		}},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	mock := &mockProvider{version: `{"聚合话题簇":"版本","讨论点":[{"核心讨论点":"卡顿","子话题簇":["2025-12-06_B01_01"]},{"核心讨论点":"抽卡","子话题簇":["2025-12-06_T02"]}]}`}
	p := New(testConfig(), mock, store, nil)

	r := p.RunVersion(context.Background(), "2025-12-06", "2025-12-06", writeExport(t))
	if len(r.Clusters) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(r.Clusters))
	}
	c := r.Clusters[0]
	if len(c.Points) != 2 || c.TotalMessageCount != 5 || c.TotalHeatScore != 7 {
		t.Errorf("unexpected cluster %+v", c)
	}
}

func TestRunVersionEmptyStore(t *testing.T) {
	p := New(testConfig(), &mockProvider{}, openStore(t), nil)
	r := p.RunVersion(context.Background(), "", "", nil)
	if r.Status != aggregate.StatusNoData || len(r.Steps) != 1 {
		t.Errorf("expected no_data after load, got %+v", r)
	}
}

func TestRunVersionRejectsReversedWindow(t *testing.T) {
	mock := &mockProvider{}
	p := New(testConfig(), mock, openStore(t), nil)
	r := p.RunVersion(context.Background(), "2025-12-07", "2025-12-01", nil)
	if len(r.Steps) != 1 || r.Steps[0].Err == nil {
		t.Fatalf("expected a load error, got %+v", r.Steps)
	}
	if len(mock.calls) != 0 {
		t.Errorf("provider should not be called, got %v", mock.calls)
	}
}

func TestOnRecordDates(t *testing.T) {
	msgs := []topic.Message{
		{Seq: 1, Date: "2025-12-07"},
		{Seq: 2, Date: "2025-12-05"},
		{Seq: 3, Date: "2025-12-06"},
		{Seq: 4, Date: "2025-12-07"},
	}
	records := []topic.DailyRecord{
		{DailyCluster: topic.DailyCluster{Date: "2025-12-07"}},
		{DailyCluster: topic.DailyCluster{Date: "2025-12-05"}},
		{DailyCluster: topic.DailyCluster{Date: "2025-12-07"}},
	}
	got := onRecordDates(msgs, records)
	var seqs []int
	for _, m := range got {
		seqs = append(seqs, m.Seq)
	}
	if !reflect.DeepEqual(seqs, []int{2, 1, 4}) {
		t.Errorf("unexpected messages %v", seqs)
	}
}

func TestDryRun(t *testing.T) {
	p := New(testConfig(), nil, openStore(t), nil)
	r := p.DryRun("2025-12-06", writeExport(t))
	if len(r.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(r.Steps))
	}
	for _, s := range r.Steps {
		if s.Err != nil || !strings.HasPrefix(s.Summary, "[dry-run]") {
			t.Errorf("unexpected step %+v", s)
		}
	}
	if !strings.Contains(r.Steps[1].Summary, "1 batches") {
		t.Errorf("expected one batch, got %q", r.Steps[1].Summary)
	}
}

func TestResolveInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt", "c.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	paths, err := ResolveInputs(filepath.Join(dir, "*.txt"))
	if err != nil {
		t.Fatalf("ResolveInputs: %v", err)
	}
	if len(paths) != 2 || filepath.Base(paths[0]) != "a.txt" {
		t.Errorf("unexpected paths %v", paths)
	}
	if _, err := ResolveInputs(""); err == nil {
		t.Error("expected error for empty pattern")
	}
}
