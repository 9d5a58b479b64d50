package chatlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/TobiSchelling/topicheat/internal/issue"
	"github.com/TobiSchelling/topicheat/internal/topic"
)

const maxLineSize = 1024 * 1024

const stage = "normalize"

var (
	// A line that looks like a message header. The date and time are
	// validated separately so malformed headers can be reported.
	headerRe = regexp.MustCompile(`^(\d{4}-\d{1,2}-\d{1,2})\s+(\d{1,2}:\S*)\s+(.+)$`)
	senderRe = regexp.MustCompile(`^(.*?)\s*[(（<]([^()（）<>]+)[)）>]\s*$`)
)

var systemSenders = map[string]bool{
	"系统消息":    true,
	"10000":   true,
	"1000000": true,
}

var recallMarkers = []string{"撤回了一条消息", "撤回了一条成员消息"}

// Options controls which messages survive normalization.
type Options struct {
	Identities   *Identities
	NoiseSenders []string
	FillerWords  []string
}

// Parse reads an exported chat log and returns its messages in file order,
// numbered from 1.
func Parse(r io.Reader, opts Options, log *issue.Log) ([]topic.Message, error) {
	n := newNormalizer(opts, log)
	if err := n.read(r); err != nil {
		return nil, err
	}
	return n.out, nil
}

// ParseFiles parses several exports in order. Sequence numbers continue
// across files so they stay unique for the whole corpus.
func ParseFiles(paths []string, opts Options, log *issue.Log) ([]topic.Message, error) {
	n := newNormalizer(opts, log)
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, eris.Wrapf(err, "open chat log %s", p)
		}
		err = n.read(f)
		f.Close()
		if err != nil {
			return nil, eris.Wrapf(err, "read chat log %s", p)
		}
	}
	return n.out, nil
}

type normalizer struct {
	opts   Options
	log    *issue.Log
	noise  map[string]bool
	filler map[string]bool
	out    []topic.Message
	seq    int
}

func newNormalizer(opts Options, log *issue.Log) *normalizer {
	n := &normalizer{
		opts:   opts,
		log:    log,
		noise:  make(map[string]bool),
		filler: make(map[string]bool),
	}
	for _, s := range opts.NoiseSenders {
		n.noise[foldName(s)] = true
	}
	for _, w := range opts.FillerWords {
		n.filler[strings.TrimSpace(w)] = true
	}
	return n
}

type pending struct {
	date, clock   string
	speaker, nick string
	body          []string
	skip          bool
}

func (n *normalizer) read(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var cur *pending
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if lineNum == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}

		if m := headerRe.FindStringSubmatch(line); m != nil {
			n.flush(cur)
			cur = n.header(m, line, lineNum)
			continue
		}
		if cur != nil {
			cur.body = append(cur.body, line)
		}
	}
	n.flush(cur)
	return scanner.Err()
}

func (n *normalizer) header(m []string, line string, lineNum int) *pending {
	d, err := time.Parse("2006-1-2", m[1])
	clock := topic.ParseClock(m[2])
	if err != nil || clock < 0 || strings.Count(m[2], ":") != 2 {
		n.log.Add(issue.Issue{
			Stage: stage,
			Kind:  issue.KindParse,
			Msg:   fmt.Sprintf("unparseable timestamp on line %d", lineNum),
			Text:  line,
		})
		return &pending{skip: true}
	}

	nick, id := splitSender(m[3])
	return &pending{
		date:    d.Format("2006-01-02"),
		clock:   topic.FormatClock(clock),
		speaker: id,
		nick:    nick,
	}
}

func (n *normalizer) flush(p *pending) {
	if p == nil || p.skip {
		return
	}
	if systemSenders[p.speaker] || systemSenders[p.nick] {
		return
	}
	if n.noise[foldName(p.speaker)] || n.noise[foldName(p.nick)] {
		return
	}

	text := strings.TrimSpace(strings.Join(p.body, "\n"))
	if text == "" || n.filler[text] {
		return
	}
	for _, marker := range recallMarkers {
		if strings.Contains(text, marker) {
			return
		}
	}

	n.seq++
	n.out = append(n.out, topic.Message{
		Seq:       n.seq,
		Date:      p.date,
		Time:      p.clock,
		SpeakerID: p.speaker,
		Nickname:  p.nick,
		Role:      n.opts.Identities.Role(p.speaker, p.nick),
		Text:      text,
	})
}

// splitSender separates "nick(id)" or "nick<id>" into its parts. Without a
// bracketed id the whole sender is used for both.
func splitSender(sender string) (nick, id string) {
	sender = strings.TrimSpace(sender)
	if m := senderRe.FindStringSubmatch(sender); m != nil {
		nick = strings.TrimSpace(m[1])
		id = strings.TrimSpace(m[2])
		if nick == "" {
			nick = id
		}
		return nick, id
	}
	return sender, sender
}

// FilterDate returns the messages of a single day.
func FilterDate(msgs []topic.Message, date string) []topic.Message {
	var out []topic.Message
	for _, m := range msgs {
		if m.Date == date {
			out = append(out, m)
		}
	}
	return out
}

// Dates returns the distinct dates present in msgs, sorted.
func Dates(msgs []topic.Message) []string {
	seen := make(map[string]bool)
	var dates []string
	for _, m := range msgs {
		if !seen[m.Date] {
			seen[m.Date] = true
			dates = append(dates, m.Date)
		}
	}
	sort.Strings(dates)
	return dates
}

// ByDate groups messages by their date.
func ByDate(msgs []topic.Message) map[string][]topic.Message {
	out := make(map[string][]topic.Message)
	for _, m := range msgs {
		out[m.Date] = append(out[m.Date], m)
	}
	return out
}
