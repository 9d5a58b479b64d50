// Package batch cuts a day's messages into fixed-size windows and sends each
// one to the classifier, strictly one after another.
package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/TobiSchelling/topicheat/internal/llm"
	"github.com/TobiSchelling/topicheat/internal/topic"
)

// DefaultPrompt asks the model to drop chatter and group the remaining player
// discussion into topic clusters.
const DefaultPrompt = `You analyse a game community chat log. Ignore greetings, memes, trading and off-topic chatter.
Group the remaining player discussion into topic clusters. For each cluster output one JSON object with:
"话题簇" (short title), "核心讨论点" (one sentence), "日期" (YYYY-MM-DD), "时间轴" (HH:MM:SS-HH:MM:SS, several segments joined by "; "), "消息序号" (list of message numbers).
Output only the JSON objects.`

var errNoProvider = eris.New("no LLM provider available")

// Batch is one window of consecutive messages.
type Batch struct {
	Index    int
	Tag      string
	Messages []topic.Message
}

// Tag formats the batch tag used inside cluster ids.
func Tag(index int) string {
	return fmt.Sprintf("B%02d", index)
}

// Split cuts msgs into batches of at most size messages, numbered from 1.
func Split(msgs []topic.Message, size int) []Batch {
	if size <= 0 {
		size = len(msgs)
	}
	var out []Batch
	for start := 0; start < len(msgs); start += size {
		end := min(start+size, len(msgs))
		idx := len(out) + 1
		out = append(out, Batch{Index: idx, Tag: Tag(idx), Messages: msgs[start:end]})
	}
	return out
}

// FormatMessages renders messages as numbered prompt lines:
// [seq] date time nickname(role): text
func FormatMessages(msgs []topic.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		name := m.Nickname
		if name == "" {
			name = m.SpeakerID
		}
		text := strings.ReplaceAll(m.Text, "\n", " / ")
		fmt.Fprintf(&b, "[%d] %s %s %s(%s): %s\n", m.Seq, m.Date, m.Time, name, m.Role, text)
	}
	return b.String()
}

// Response is the raw classifier output for one batch. Err is set when the
// call failed after all retries.
type Response struct {
	Batch Batch
	Raw   string
	Err   error
}

// Result holds the results of a classification run.
type Result struct {
	Processed int
	Failed    int
	Responses []Response
}

// Runner sends batches to a provider with a fixed pause between calls.
type Runner struct {
	provider llm.Provider
	system   string
	size     int
	delay    time.Duration
	logger   *zerolog.Logger

	// sleep waits between batches; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner. An empty system prompt selects DefaultPrompt.
func NewRunner(provider llm.Provider, system string, size int, delay time.Duration, logger *zerolog.Logger) *Runner {
	if system == "" {
		system = DefaultPrompt
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Runner{
		provider: provider,
		system:   system,
		size:     size,
		delay:    delay,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Run splits msgs and classifies every batch in order. A failed batch is
// logged and kept with its error; the remaining batches still run. A
// cancelled context stops the run between batches.
func (r *Runner) Run(ctx context.Context, msgs []topic.Message) *Result {
	res := &Result{}
	batches := Split(msgs, r.size)
	if len(batches) == 0 {
		r.logger.Info().Msg("no messages to classify")
		return res
	}
	if r.provider == nil {
		r.logger.Error().Msg("no LLM provider available for classification")
		for _, b := range batches {
			res.Responses = append(res.Responses, Response{Batch: b, Err: errNoProvider})
			res.Failed++
		}
		return res
	}

	for i, b := range batches {
		if i > 0 {
			if err := r.sleep(ctx, r.delay); err != nil {
				r.logger.Warn().Err(err).Int("remaining", len(batches)-i).Msg("classification interrupted")
				break
			}
		}
		raw, err := r.provider.Classify(ctx, r.system, FormatMessages(b.Messages))
		res.Responses = append(res.Responses, Response{Batch: b, Raw: raw, Err: err})
		if err != nil {
			res.Failed++
			r.logger.Warn().Err(err).Str("batch", b.Tag).Int("messages", len(b.Messages)).Msg("batch failed")
			continue
		}
		res.Processed++
		r.logger.Info().Str("batch", b.Tag).Int("messages", len(b.Messages)).Int("chars", len(raw)).Msg("batch classified")
	}

	r.logger.Info().Int("processed", res.Processed).Int("failed", res.Failed).Msg("classification complete")
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
