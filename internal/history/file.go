package history

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// legacyDateLayout is the date-only format of older history.json files.
const legacyDateLayout = "2006-01-02"

// LineFile persists history as one entry per line: the ID, optionally
// followed by a tab and an RFC 3339 send time. Plain ID-per-line files
// written by earlier tooling load as entries with an unknown send time.
//
// IDs that would not survive the line format verbatim (surrounding
// whitespace, control characters, a leading quote) are written as Go
// quoted strings.
type LineFile struct {
	Path string
}

// NewLineFile returns a line-delimited file backend.
func NewLineFile(path string) *LineFile {
	return &LineFile{Path: path}
}

// Load reads the file. A missing file is an empty history. A send time
// that does not parse leaves the entry with an unknown send time; a line
// whose quoted ID does not parse is skipped.
func (f *LineFile) Load(ctx context.Context) ([]Entry, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}

	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, ok := parseLine(line)
		if !ok {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", f.Path, err)
	}
	return entries, nil
}

// Save atomically replaces the file with the given entries.
func (f *LineFile) Save(ctx context.Context, entries []Entry) error {
	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(encodeLineID(e.ID))
		if !e.SentAt.IsZero() {
			buf.WriteByte('\t')
			buf.WriteString(e.SentAt.UTC().Format(time.RFC3339Nano))
		}
		buf.WriteByte('\n')
	}
	return writeFileAtomic(f.Path, buf.Bytes())
}

func parseLine(line string) (Entry, bool) {
	var (
		e    Entry
		rest string
	)
	if strings.HasPrefix(line, `"`) {
		quoted, err := strconv.QuotedPrefix(line)
		if err != nil {
			return e, false
		}
		if e.ID, err = strconv.Unquote(quoted); err != nil {
			return e, false
		}
		rest = strings.TrimPrefix(line[len(quoted):], "\t")
	} else {
		e.ID, rest, _ = strings.Cut(line, "\t")
	}
	if ts := strings.TrimSpace(rest); ts != "" {
		if at, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.SentAt = at
		}
	}
	return e, e.ID != ""
}

func encodeLineID(id string) string {
	q := strconv.Quote(id)
	if strings.HasPrefix(id, `"`) || strings.TrimSpace(id) != id || q != `"`+id+`"` {
		return q
	}
	return id
}

// JSONFile persists history as an indented JSON array of records.
type JSONFile struct {
	Path string
}

// NewJSONFile returns a JSON file backend.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{Path: path}
}

// Load reads the file. A missing file is an empty history.
func (f *JSONFile) Load(ctx context.Context) ([]Entry, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	entries, err := decodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return entries, nil
}

// Save atomically replaces the file with the given entries.
func (f *JSONFile) Save(ctx context.Context, entries []Entry) error {
	data, err := encodeJSON(entries)
	if err != nil {
		return err
	}
	return writeFileAtomic(f.Path, data)
}

// jsonRecord is the on-disk shape. Legacy files keyed by filename/date_sent
// are accepted on read.
type jsonRecord struct {
	ID       string `json:"id,omitempty"`
	SentAt   string `json:"sent_at,omitempty"`
	Filename string `json:"filename,omitempty"`
	DateSent string `json:"date_sent,omitempty"`
}

func encodeJSON(entries []Entry) ([]byte, error) {
	records := make([]jsonRecord, 0, len(entries))
	for _, e := range entries {
		r := jsonRecord{ID: e.ID}
		if !e.SentAt.IsZero() {
			r.SentAt = e.SentAt.UTC().Format(time.RFC3339Nano)
		}
		records = append(records, r)
	}
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	return append(data, '\n'), nil
}

func decodeJSON(data []byte) ([]Entry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var records []jsonRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}

	entries := make([]Entry, 0, len(records))
	for i, r := range records {
		e := Entry{ID: r.ID}
		if e.ID == "" {
			e.ID = r.Filename
		}
		switch {
		case r.SentAt != "":
			at, err := time.Parse(time.RFC3339Nano, r.SentAt)
			if err != nil {
				return nil, fmt.Errorf("record %d: parse sent_at: %w", i, err)
			}
			e.SentAt = at
		case r.DateSent != "":
			at, err := time.Parse(legacyDateLayout, r.DateSent)
			if err != nil {
				return nil, fmt.Errorf("record %d: parse date_sent: %w", i, err)
			}
			e.SentAt = at
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
