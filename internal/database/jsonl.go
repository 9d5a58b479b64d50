package database

import (
	"bufio"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/TobiSchelling/topicheat/internal/topic"
)

// JSONLStore keeps one record per line in an append-only file.
type JSONLStore struct {
	path   string
	logger *zerolog.Logger
}

// OpenJSONL prepares a JSONL accumulator at path. The file is created on the
// first append.
func OpenJSONL(path string, logger *zerolog.Logger) (*JSONLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "creating data directory")
	}
	return &JSONLStore{path: path, logger: logger}, nil
}

// Path returns the accumulator file path.
func (s *JSONLStore) Path() string {
	return s.path
}

// ReadAll reads every record. Lines that do not decode are skipped and
// logged.
func (s *JSONLStore) ReadAll() ([]topic.DailyRecord, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "opening accumulator")
	}
	defer f.Close()

	var out []topic.DailyRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec topic.DailyRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			s.logger.Warn().Err(err).Str("path", s.path).Int("line", line).Msg("skipping malformed accumulator line")
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "reading accumulator")
	}
	return out, nil
}

// Append numbers clusters against the current file content and appends them.
func (s *JSONLStore) Append(clusters []topic.DailyCluster) ([]topic.DailyRecord, error) {
	if len(clusters) == 0 {
		return nil, nil
	}
	existing, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	maxIdx := 0
	perDate := make(map[string]int)
	for _, r := range existing {
		maxIdx = max(maxIdx, r.Idx)
		perDate[r.Date]++
	}
	records := stamp(clusters, maxIdx, perDate)

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, eris.Wrap(err, "opening accumulator for append")
	}
	w := bufio.NewWriter(f)
	// A cut-off earlier write leaves no trailing newline.
	torn, err := endsMidLine(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if torn {
		w.WriteByte('\n')
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			f.Close()
			return nil, eris.Wrapf(err, "encoding record %s", r.DailyTopID)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return nil, eris.Wrap(err, "writing accumulator")
	}
	if err := f.Close(); err != nil {
		return nil, eris.Wrap(err, "closing accumulator")
	}
	s.logger.Info().Int("records", len(records)).Str("run_id", records[0].RunID).Str("path", s.path).Msg("appended daily records")
	return records, nil
}

func endsMidLine(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, eris.Wrap(err, "stat accumulator")
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, eris.Wrap(err, "reading accumulator tail")
	}
	return last[0] != '\n', nil
}

// Close is a no-op; the file is opened per call.
func (s *JSONLStore) Close() error {
	return nil
}
