// Package compose renders daily and version results as Markdown reports, and
// Markdown as a standalone HTML page.
package compose

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/topicheat/internal/database"
	"github.com/TobiSchelling/topicheat/internal/topic"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

var page = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="zh">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "PingFang SC", "Microsoft YaHei", sans-serif; max-width: 860px; margin: 2em auto; padding: 0 1em; line-height: 1.6; color: #222; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 4px 10px; }
blockquote { color: #555; border-left: 3px solid #ddd; margin-left: 0; padding-left: 1em; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// DailyMarkdown renders the ranked clusters of one day.
func DailyMarkdown(date string, clusters []topic.DailyCluster) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 每日热点 %s\n\n", database.FormatPeriodDisplay(date))
	if len(clusters) == 0 {
		b.WriteString("No hot topics for this day.\n")
		return b.String()
	}

	b.WriteString("| # | 话题 | 时间轴 | 发言人数 | 消息数 | 热度 |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for i, c := range clusters {
		fmt.Fprintf(&b, "| %d | %s | %s | %d | %d | %.2f |\n",
			i+1, cell(c.TopicTitle), cell(c.TimeAxis), c.SpeakerCount, c.MessageCount, c.HeatScore)
	}

	for i, c := range clusters {
		fmt.Fprintf(&b, "\n## %d. %s\n\n", i+1, c.TopicTitle)
		fmt.Fprintf(&b, "热度 %.2f，%d 人参与，%d 条消息\n\n", c.HeatScore, c.SpeakerCount, c.MessageCount)
		for _, p := range c.DiscussionPoints {
			fmt.Fprintf(&b, "- **%s** (%s, %d 人 / %d 条, 热度 %.2f)\n", p.Text, p.TimeAxis, p.SpeakerCount, p.MessageCount, p.HeatScore)
			writeDetails(&b, p.PlayerOpinions, p.ExampleQuotes)
		}
	}
	return b.String()
}

// VersionMarkdown renders the ranked clusters of a multi-day window.
func VersionMarkdown(from, to string, clusters []topic.VersionCluster) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 版本热点 %s\n\n", database.FormatPeriodDisplay(database.MakePeriodID(from, to)))
	if len(clusters) == 0 {
		b.WriteString("No hot topics in this window.\n")
		return b.String()
	}

	b.WriteString("| # | 话题 | 天数 | 发言人数 | 消息数 | 总热度 |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for i, c := range clusters {
		fmt.Fprintf(&b, "| %d | %s | %d | %d | %d | %.2f |\n",
			i+1, cell(c.TopicTitle), c.Coverage.Days, c.TotalSpeakerCount, c.TotalMessageCount, c.TotalHeatScore)
	}

	for i, c := range clusters {
		fmt.Fprintf(&b, "\n## %d. %s\n\n", i+1, c.TopicTitle)
		if c.Coverage.Days > 0 {
			fmt.Fprintf(&b, "%s 至 %s，共 %d 天\n\n", c.Coverage.First, c.Coverage.Last, c.Coverage.Days)
		}
		for _, p := range c.Points {
			fmt.Fprintf(&b, "- **%s** (%s, %d 人 / %d 条, 热度 %.2f)\n",
				p.Text, strings.Join(p.Dates, ", "), p.SpeakerCount, p.MessageCount, p.HeatScore)
			writeDetails(&b, p.PlayerOpinions, p.ExampleQuotes)
		}
	}
	return b.String()
}

func writeDetails(b *strings.Builder, opinions, quotes []string) {
	for _, o := range opinions {
		fmt.Fprintf(b, "  - %s\n", o)
	}
	for _, q := range quotes {
		fmt.Fprintf(b, "  - > %s\n", q)
	}
}

// cell keeps a value from breaking the table row.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

// RenderHTML converts Markdown into a complete HTML page.
func RenderHTML(title, markdown string) (string, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(markdown), &body); err != nil {
		return "", eris.Wrap(err, "rendering markdown")
	}
	var out bytes.Buffer
	err := page.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{Title: title, Body: template.HTML(body.String())})
	if err != nil {
		return "", eris.Wrap(err, "rendering page")
	}
	return out.String(), nil
}
