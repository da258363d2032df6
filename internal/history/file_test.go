package history

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLineFile_MissingFileIsEmpty(t *testing.T) {
	f := NewLineFile(filepath.Join(t.TempDir(), "history.txt"))

	entries, err := f.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestLineFile_ReadsLegacyIDList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.txt")
	if err := os.WriteFile(path, []byte("12345\n67890\n\n12345\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := Load(context.Background(), NewLineFile(path), KeepForever{})

	if s.LoadErr() != nil {
		t.Fatalf("unexpected load error: %v", s.LoadErr())
	}
	if s.Len() != 2 || !s.Contains("12345") || !s.Contains("67890") {
		t.Errorf("unexpected entries: %+v", s.Entries())
	}
}

func TestLineFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.txt")
	f := NewLineFile(path)
	in := []Entry{
		{ID: "legacy"},
		{ID: "dated", SentAt: time.Date(2026, 10, 18, 9, 30, 0, 123, time.UTC)},
	}

	if err := f.Save(context.Background(), in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := f.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(out))
	}
	for i := range in {
		if out[i].ID != in[i].ID || !out[i].SentAt.Equal(in[i].SentAt) {
			t.Errorf("entry %d: expected %+v, got %+v", i, in[i], out[i])
		}
	}
}

func TestLineFile_CorruptTimeKeepsID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.txt")
	if err := os.WriteFile(path, []byte("1\n2\n3\n4\tnot-a-time\n\"unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := Load(context.Background(), NewLineFile(path), KeepForever{})

	if s.LoadErr() != nil {
		t.Fatalf("unexpected load error: %v", s.LoadErr())
	}
	if s.Len() != 4 {
		t.Fatalf("expected 4 entries, got %+v", s.Entries())
	}
	for _, id := range []string{"1", "2", "3", "4"} {
		if !s.Contains(id) {
			t.Errorf("expected %q to be kept", id)
		}
	}
	for _, e := range s.Entries() {
		if e.ID == "4" && !e.SentAt.IsZero() {
			t.Errorf("expected unknown send time for 4, got %v", e.SentAt)
		}
	}
}

func TestLineFile_RoundTripsAwkwardIDs(t *testing.T) {
	at := time.Date(2026, 10, 18, 16, 0, 0, 0, time.UTC)
	ids := []string{
		" clip.mp4",
		"clip.mp4 ",
		"a\tb.mp4",
		"line\nbreak.mp4",
		`"quoted".mp4`,
		`back\slash.mp4`,
		"café river.mp4",
		"12345",
	}
	path := filepath.Join(t.TempDir(), "history.txt")
	f := NewLineFile(path)

	s := Load(context.Background(), f, nil)
	for i, id := range ids {
		if i%2 == 0 {
			s.Record(id, at)
		} else {
			s.Record(id, time.Time{})
		}
	}
	if err := s.Persist(context.Background()); err != nil {
		t.Fatalf("persist: %v", err)
	}

	reloaded := Load(context.Background(), f, nil)
	if reloaded.LoadErr() != nil {
		t.Fatalf("unexpected load error: %v", reloaded.LoadErr())
	}
	if reloaded.Len() != len(ids) {
		t.Fatalf("expected %d entries, got %+v", len(ids), reloaded.Entries())
	}
	for _, id := range ids {
		if !reloaded.Contains(id) {
			t.Errorf("%q did not round-trip", id)
		}
	}
	if reloaded.Contains("clip.mp4") {
		t.Error("trimmed ID should not be present")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("\n12345\n")) && !bytes.HasPrefix(data, []byte("12345\n")) {
		t.Errorf("plain IDs should be written unquoted:\n%s", data)
	}
}

func TestLineFile_PersistIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.txt")
	if err := os.WriteFile(path, []byte("300\n100\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := Load(context.Background(), NewLineFile(path), nil)
	s.Record("200", time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC))
	s.Record(" spaced", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))

	if err := s.Persist(context.Background()); err != nil {
		t.Fatalf("first persist: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Persist(context.Background()); err != nil {
		t.Fatalf("second persist: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("persist is not idempotent:\n%s\n---\n%s", first, second)
	}

	want := "100\n300\n\" spaced\"\t2026-10-01T00:00:00Z\n200\t2026-10-02T00:00:00Z\n"
	if string(first) != want {
		t.Errorf("unexpected file content:\n%q\nwant\n%q", first, want)
	}
}

func TestJSONFile_ReadsLegacyRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	legacy := `[
    {"filename": "river.mp4", "date_sent": "2026-10-01"},
    {"filename": "forest walk.mp4", "date_sent": "2026-10-10"}
]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	s := Load(context.Background(), NewJSONFile(path), MaxAge(DefaultRetention))
	if s.LoadErr() != nil {
		t.Fatalf("unexpected load error: %v", s.LoadErr())
	}

	removed := s.EvictExpired(time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC))
	if len(removed) != 1 || removed[0].ID != "river.mp4" {
		t.Errorf("expected river.mp4 to expire, got %+v", removed)
	}
	if !s.Contains("forest walk.mp4") {
		t.Error("expected forest walk.mp4 to remain")
	}
}

func TestJSONFile_CorruptFileLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := Load(context.Background(), NewJSONFile(path), nil)
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d", s.Len())
	}
	if s.LoadErr() == nil {
		t.Error("expected absorbed load error")
	}
}

func TestJSONFile_PersistIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.json")
	s := Load(context.Background(), NewJSONFile(path), nil)
	s.Record("b.mp4", time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC))
	s.Record("a.mp4", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))

	if err := s.Persist(context.Background()); err != nil {
		t.Fatalf("first persist: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Persist(context.Background()); err != nil {
		t.Fatalf("second persist: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("persist is not idempotent:\n%s\n---\n%s", first, second)
	}

	reloaded := Load(context.Background(), NewJSONFile(path), nil)
	if reloaded.Len() != 2 {
		t.Errorf("expected 2 entries after reload, got %d", reloaded.Len())
	}
}

func TestWriteFileAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.txt")

	if err := writeFileAtomic(path, []byte("one\n")); err != nil {
		t.Fatal(err)
	}
	if err := writeFileAtomic(path, []byte("two\n")); err != nil {
		t.Fatal(err)
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(files))
	}
	data, _ := os.ReadFile(path)
	if string(data) != "two\n" {
		t.Errorf("unexpected content %q", data)
	}
}
