package cluster

import (
	"regexp"
	"strings"
)

// DefaultPlaceholderTokens are strings the upstream model is known to leak
// into date and time-axis fields.
var DefaultPlaceholderTokens = []string{"极轴"}

// Keys whose values the placeholder corruption shows up in.
const corruptibleKeys = `((?:日期|发言日期|讨论日期|时间轴|时间段|时间范围|date|time_axis|timeAxis|time_range)\d*)`

// RepairRule rewrites one known defect in raw model text.
type RepairRule struct {
	Name string
	Re   *regexp.Regexp
	Repl string
	// Repeat applies the rule until the text stops changing, for defects
	// that can occur several times inside one value.
	Repeat bool
}

// Repairer applies an ordered list of text repairs before JSON decoding.
type Repairer struct {
	rules []RepairRule
}

// NewRepairer builds the default repair chain for the given placeholder
// tokens. Token rules run before the generic comma rules.
func NewRepairer(tokens []string) *Repairer {
	if len(tokens) == 0 {
		tokens = DefaultPlaceholderTokens
	}

	rules := []RepairRule{
		{
			Name: "invisible_chars",
			Re:   regexp.MustCompile("[\ufeff\u200b\u200c\u200d\u2060]"),
			Repl: "",
		},
	}
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		q := regexp.QuoteMeta(tok)
		rules = append(rules,
			// "日期":"极轴":"2025-12-06" -> "日期":"2025-12-06"
			RepairRule{
				Name: "placeholder_injected_key",
				Re:   regexp.MustCompile(`"` + corruptibleKeys + `"\s*:\s*"` + q + `"\s*:\s*`),
				Repl: `"${1}":`,
			},
			// "日期":"极轴" -> "日期":""
			RepairRule{
				Name: "placeholder_replaced_value",
				Re:   regexp.MustCompile(`"` + corruptibleKeys + `"\s*:\s*"` + q + `"(\s*[,}\]])`),
				Repl: `"${1}":""${2}`,
			},
			// "时间轴":"10:00:00-极轴11:00:00" -> "时间轴":"10:00:00-11:00:00"
			RepairRule{
				Name:   "placeholder_embedded",
				Re:     regexp.MustCompile(`"` + corruptibleKeys + `"\s*:\s*"([^"]*?)` + q + `([^"]*)"`),
				Repl:   `"${1}":"${2}${3}"`,
				Repeat: true,
			},
			// "日期":"2025-12-06","极轴":"2025-12-06" -> "日期":"2025-12-06"
			RepairRule{
				Name: "placeholder_duplicate_pair",
				Re:   regexp.MustCompile(`,\s*"` + q + `"\s*:\s*"[^"]*"`),
				Repl: "",
			},
		)
	}
	rules = append(rules,
		RepairRule{Name: "trailing_comma_object", Re: regexp.MustCompile(`,\s*}`), Repl: "}"},
		RepairRule{Name: "trailing_comma_array", Re: regexp.MustCompile(`,\s*]`), Repl: "]"},
	)
	return &Repairer{rules: rules}
}

// Rules returns the repair chain in application order.
func (r *Repairer) Rules() []RepairRule {
	return r.rules
}

// Apply runs every rule in order and returns the repaired text together
// with the names of the rules that changed something.
func (r *Repairer) Apply(text string) (string, []string) {
	var applied []string
	for _, rule := range r.rules {
		out := rule.Re.ReplaceAllString(text, rule.Repl)
		for i := 0; rule.Repeat && i < 8; i++ {
			next := rule.Re.ReplaceAllString(out, rule.Repl)
			if next == out {
				break
			}
			out = next
		}
		if out != text {
			applied = append(applied, rule.Name)
		}
		text = out
	}
	return text, applied
}
