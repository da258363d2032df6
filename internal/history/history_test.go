package history

import (
	"context"
	"errors"
	"testing"
	"time"
)

// memBackend is an in-memory Backend for store tests.
type memBackend struct {
	entries []Entry
	loadErr error
	saveErr error
	saves   int
}

func (m *memBackend) Load(ctx context.Context) ([]Entry, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]Entry(nil), m.entries...), nil
}

func (m *memBackend) Save(ctx context.Context, entries []Entry) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.entries = append([]Entry(nil), entries...)
	return nil
}

var baseTime = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func TestLoad_UnavailableBackendIsEmpty(t *testing.T) {
	b := &memBackend{loadErr: errors.New("disk on fire")}

	s := Load(context.Background(), b, nil)

	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d entries", s.Len())
	}
	if !errors.Is(s.LoadErr(), ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", s.LoadErr())
	}
}

func TestLoad_DeduplicatesIDs(t *testing.T) {
	b := &memBackend{entries: []Entry{
		{ID: "a", SentAt: baseTime},
		{ID: "b", SentAt: baseTime},
		{ID: "a", SentAt: baseTime.Add(time.Hour)},
		{ID: ""},
	}}

	s := Load(context.Background(), b, nil)

	if s.LoadErr() != nil {
		t.Fatalf("unexpected load error: %v", s.LoadErr())
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}
	for _, e := range s.Entries() {
		if e.ID == "a" && !e.SentAt.Equal(baseTime.Add(time.Hour)) {
			t.Errorf("expected later duplicate to win, got %v", e.SentAt)
		}
	}
}

func TestRecord_UpsertsWithoutDuplicates(t *testing.T) {
	s := Load(context.Background(), &memBackend{}, nil)

	s.Record("clip-1", baseTime)
	s.Record("clip-1", baseTime.Add(time.Minute))
	s.Record("clip-2", baseTime)

	if !s.Contains("clip-1") || !s.Contains("clip-2") {
		t.Fatal("expected both ids to be present")
	}
	if s.Contains("clip-3") {
		t.Error("unexpected id clip-3")
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", s.Len())
	}
}

func TestEvictExpired_MaxAge(t *testing.T) {
	retention := 15 * 24 * time.Hour
	now := baseTime.Add(30 * 24 * time.Hour)
	b := &memBackend{entries: []Entry{
		{ID: "exactly-at-retention", SentAt: now.Add(-retention)},
		{ID: "older", SentAt: now.Add(-retention - time.Second)},
		{ID: "just-inside", SentAt: now.Add(-retention + time.Second)},
		{ID: "fresh", SentAt: now},
		{ID: "legacy"},
	}}
	s := Load(context.Background(), b, MaxAge(retention))
	before := s.Entries()

	removed := s.EvictExpired(now)

	gotRemoved := map[string]bool{}
	for _, e := range removed {
		gotRemoved[e.ID] = true
	}
	if len(removed) != 2 || !gotRemoved["exactly-at-retention"] || !gotRemoved["older"] {
		t.Errorf("unexpected removed set: %+v", removed)
	}

	for _, e := range before {
		if gotRemoved[e.ID] {
			if s.Contains(e.ID) {
				t.Errorf("%s should have been evicted", e.ID)
			}
			continue
		}
		var found bool
		for _, after := range s.Entries() {
			if after.ID == e.ID {
				found = true
				if after != e {
					t.Errorf("entry %s changed: %+v -> %+v", e.ID, e, after)
				}
			}
		}
		if !found {
			t.Errorf("entry %s missing after eviction", e.ID)
		}
	}
}

func TestEvictExpired_KeepForever(t *testing.T) {
	b := &memBackend{entries: []Entry{{ID: "old", SentAt: baseTime.AddDate(-5, 0, 0)}}}
	s := Load(context.Background(), b, KeepForever{})

	if removed := s.EvictExpired(baseTime); len(removed) != 0 {
		t.Errorf("expected nothing removed, got %+v", removed)
	}
	if !s.Contains("old") {
		t.Error("expected entry to be kept")
	}
}

func TestPersist_WritesExactSet(t *testing.T) {
	b := &memBackend{entries: []Entry{{ID: "stale", SentAt: baseTime}}}
	s := Load(context.Background(), b, MaxAge(time.Hour))
	s.EvictExpired(baseTime.Add(2 * time.Hour))
	s.Record("new", baseTime.Add(2*time.Hour))

	if err := s.Persist(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.entries) != 1 || b.entries[0].ID != "new" {
		t.Errorf("unexpected persisted entries: %+v", b.entries)
	}
}

func TestPersist_PropagatesSaveError(t *testing.T) {
	b := &memBackend{saveErr: errors.New("read-only")}
	s := Load(context.Background(), b, nil)
	s.Record("x", baseTime)

	if err := s.Persist(context.Background()); err == nil {
		t.Error("expected error from failing backend")
	}
}

func TestPersist_RefusesAfterFailedLoad(t *testing.T) {
	b := &memBackend{loadErr: errors.New("throttled")}
	s := Load(context.Background(), b, nil)
	s.Record("x", baseTime)

	err := s.Persist(context.Background())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if b.saves != 0 {
		t.Errorf("expected no save, got %d", b.saves)
	}
}

func TestEntries_StableOrder(t *testing.T) {
	s := Load(context.Background(), &memBackend{}, nil)
	s.Record("b", baseTime)
	s.Record("a", baseTime)
	s.Record("c", baseTime.Add(-time.Hour))

	got := s.Entries()
	want := []string{"c", "a", "b"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}
