// Package cluster turns raw model responses into cluster records: it finds
// JSON objects in free text, repairs known corruption, normalizes drifting
// key names and stamps batch-scoped ids.
package cluster

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/TobiSchelling/topicheat/internal/issue"
)

const stage = "parse"

// Parser extracts cluster records from model output.
type Parser struct {
	repairer *Repairer
	rules    []KeyRule
}

// NewParser creates a parser with the default key rules and a repair chain
// for the given placeholder tokens.
func NewParser(tokens []string) *Parser {
	return &Parser{repairer: NewRepairer(tokens), rules: DefaultKeyRules}
}

// Rules returns the key normalization table in use.
func (p *Parser) Rules() []KeyRule {
	return p.rules
}

// Objects returns every JSON object found in text, repaired and
// key-normalized. Wrapper objects holding a list of clusters are replaced by
// their elements. A candidate that does not decode is recorded in log and
// skipped.
func (p *Parser) Objects(text string, batch int, log *issue.Log) []Record {
	var out []Record
	candidates, tail := scanObjects(text)
	for _, cand := range candidates {
		rec, ok := p.decode(cand, batch, log)
		if !ok {
			continue
		}
		out = append(out, expand(rec)...)
	}
	if strings.TrimSpace(tail) != "" {
		log.Add(issue.Issue{
			Stage: stage,
			Kind:  issue.KindUnterminated,
			Batch: batch,
			Msg:   "object not closed before end of response",
			Text:  tail,
		})
	}
	return out
}

// Clusters is Objects restricted to records that carry a topic title.
func (p *Parser) Clusters(text string, batch int, log *issue.Log) []Record {
	var out []Record
	for _, rec := range p.Objects(text, batch, log) {
		if rec.String(KeyTopicTitle) == "" {
			log.Add(issue.Issue{
				Stage: stage,
				Kind:  issue.KindMissingField,
				Batch: batch,
				Msg:   "object has no topic title",
				Text:  rec.compact(),
			})
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (p *Parser) decode(cand string, batch int, log *issue.Log) (Record, bool) {
	fixed, _ := p.repairer.Apply(cand)
	if !json.Valid([]byte(fixed)) {
		log.Add(issue.Issue{
			Stage: stage,
			Kind:  issue.KindParse,
			Batch: batch,
			Msg:   "invalid JSON object",
			Text:  cand,
		})
		return nil, false
	}
	v, err := p.decodeValue([]byte(fixed))
	if err != nil {
		log.Add(issue.Issue{Stage: stage, Kind: issue.KindParse, Batch: batch, Msg: err.Error(), Text: cand})
		return nil, false
	}
	rec, ok := v.(Record)
	if !ok {
		return nil, false
	}
	return rec, true
}

// decodeValue decodes raw JSON walking object members in source order. A key
// the model repeats, verbatim or as a synonym, reaches mergeValue once per
// occurrence.
func (p *Parser) decodeValue(raw []byte) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	switch raw[0] {
	case '{':
		rec := make(Record)
		err := jsonparser.ObjectEach(raw, func(key, value []byte, dt jsonparser.ValueType, _ int) error {
			v, err := p.decodeMember(value, dt)
			if err != nil {
				return err
			}
			canon := CanonicalKey(p.rules, string(key))
			if prev, ok := rec[canon]; ok {
				rec[canon] = mergeValue(prev, v)
			} else {
				rec[canon] = v
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return rec, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			v, err := p.decodeValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func (p *Parser) decodeMember(value []byte, dt jsonparser.ValueType) (any, error) {
	switch dt {
	case jsonparser.String:
		return jsonparser.ParseString(value)
	case jsonparser.Object, jsonparser.Array:
		return p.decodeValue(value)
	default:
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// expand replaces a wrapper object by the objects in its cluster list.
func expand(rec Record) []Record {
	list, ok := rec[KeyClusters].([]any)
	if !ok || rec.String(KeyTopicTitle) != "" {
		return []Record{rec}
	}
	var out []Record
	for _, item := range list {
		if r, ok := item.(Record); ok {
			out = append(out, expand(r)...)
		}
	}
	if len(out) == 0 {
		return []Record{rec}
	}
	return out
}

// scanObjects walks text line by line and cuts out top-level {...} spans by
// brace depth. Braces inside string literals are ignored. A string is never
// carried over a line break, so a stray quote cannot swallow the rest of the
// response. A line opening an object while the open span holds no string
// restarts the span there. Code fence lines are skipped. Text of an object
// still open at the end is returned as tail.
func scanObjects(text string) (objects []string, tail string) {
	var cur strings.Builder
	depth := 0
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			continue
		}
		// An open span with no string in it yet was a stray brace in prose.
		if depth > 0 && strings.HasPrefix(trimmed, "{") && !strings.Contains(cur.String(), `"`) {
			depth = 0
			cur.Reset()
		}
		inString, escaped := false, false
		start := 0
		for i, r := range line {
			if depth == 0 {
				if r == '{' {
					depth = 1
					start = i
				}
				continue
			}
			switch {
			case escaped:
				escaped = false
			case inString && r == '\\':
				escaped = true
			case r == '"':
				inString = !inString
			case inString:
			case r == '{' || r == '[':
				depth++
			case r == '}' || r == ']':
				depth--
				if depth == 0 {
					cur.WriteString(line[start : i+1])
					if obj := cur.String(); strings.Contains(obj, `"`) {
						objects = append(objects, obj)
					}
					cur.Reset()
					start = i + 1
				}
			}
		}
		if depth > 0 {
			cur.WriteString(line[start:])
			cur.WriteByte('\n')
		}
	}
	return objects, cur.String()
}
