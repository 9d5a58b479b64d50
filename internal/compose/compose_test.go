package compose

import (
	"strings"
	"testing"

	"github.com/TobiSchelling/topicheat/internal/topic"
)

func TestDailyMarkdown(t *testing.T) {
	clusters := []topic.DailyCluster{{
		TopicTitle:   "卡顿|掉帧",
		Date:         "2025-12-06",
		TimeAxis:     "10:00:00-10:30:00",
		SpeakerCount: 4,
		MessageCount: 5,
		HeatScore:    8.94,
		DiscussionPoints: []topic.DiscussionPoint{{
			Text: "更新后卡顿", TimeAxis: "10:00:00-10:30:00", SpeakerCount: 4, MessageCount: 5, HeatScore: 8.94,
			PlayerOpinions: []string{"优化差"}, ExampleQuotes: []string{"又卡了"},
		}},
	}}

	out := DailyMarkdown("2025-12-06", clusters)
	for _, want := range []string{
		"# 每日热点 Dec 06, 2025",
		"| 1 | 卡顿\\|掉帧 | 10:00:00-10:30:00 | 4 | 5 | 8.94 |",
		"## 1. 卡顿|掉帧",
		"- **更新后卡顿**",
		"  - 优化差",
		"  - > 又卡了",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestDailyMarkdownEmpty(t *testing.T) {
	out := DailyMarkdown("2025-12-06", nil)
	if !strings.Contains(out, "No hot topics") {
		t.Errorf("expected empty notice, got:\n%s", out)
	}
}

func TestVersionMarkdown(t *testing.T) {
	clusters := []topic.VersionCluster{{
		TopicTitle:        "性能",
		TotalSpeakerCount: 7,
		TotalMessageCount: 8,
		TotalHeatScore:    14.14,
		Coverage:          topic.Coverage{Days: 2, First: "2025-12-06", Last: "2025-12-07"},
		Points: []topic.VersionPoint{
			{Text: "卡顿", Dates: []string{"2025-12-06"}, SpeakerCount: 4, MessageCount: 5, HeatScore: 8.94},
		},
	}}
	out := VersionMarkdown("2025-12-01", "2025-12-07", clusters)
	for _, want := range []string{
		"# 版本热点 Dec 01 - Dec 07, 2025",
		"| 1 | 性能 | 2 | 7 | 8 | 14.14 |",
		"2025-12-06 至 2025-12-07，共 2 天",
		"- **卡顿** (2025-12-06, 4 人 / 5 条, 热度 8.94)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML("Daily <Top>", "# Title\n\n| a | b |\n|---|---|\n| 1 | 2 |\n")
	if err != nil {
		t.Fatalf("RenderHTML: %v", err)
	}
	if !strings.Contains(html, "<h1>Title</h1>") {
		t.Errorf("expected heading, got:\n%s", html)
	}
	if !strings.Contains(html, "<table>") {
		t.Errorf("expected table extension output, got:\n%s", html)
	}
	if !strings.Contains(html, "<title>Daily &lt;Top&gt;</title>") {
		t.Errorf("expected escaped title, got:\n%s", html)
	}
}
