// Package history tracks which content identifiers have already been
// published and when, so a run can avoid re-sending the same clip.
//
// A Store is loaded once at the start of a run from a Backend, mutated in
// memory, and persisted once at the end. Two retention policies share the
// same Store type:
//
//   - KeepForever: append-only ID list (remote stock clip IDs).
//   - MaxAge: dated entries that expire after a retention period (local
//     library files, which the caller deletes once their entry expires).
//
// The store never logs and never touches anything outside its own data;
// load failures are absorbed and reported through LoadErr.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// DefaultRetention is the retention period of the dated library history.
const DefaultRetention = 15 * 24 * time.Hour

// ErrStoreUnavailable wraps any failure to read the backing store. It is
// never returned from Load; callers inspect Store.LoadErr instead. Persist
// returns it for a store whose load failed, so the persisted history is
// never replaced by a partial view.
var ErrStoreUnavailable = errors.New("history store unavailable")

// Entry records one published item.
// SentAt is the zero time for entries read from a legacy ID-only list.
type Entry struct {
	ID     string    `json:"id" dynamodbav:"id"`
	SentAt time.Time `json:"sent_at" dynamodbav:"sentAt"`
}

// Backend reads and writes the persisted form of a history.
//
// Load returns (nil, nil) when nothing has been persisted yet. Save must
// replace the persisted state with exactly the given entries.
type Backend interface {
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
}

// Policy decides whether an entry has expired at a given instant.
type Policy interface {
	Expired(e Entry, now time.Time) bool
}

// KeepForever never expires anything.
type KeepForever struct{}

// Expired always reports false.
func (KeepForever) Expired(Entry, time.Time) bool { return false }

// MaxAge expires entries whose age is at least the duration. Entries with
// an unknown send time are kept.
type MaxAge time.Duration

// Expired reports whether now - e.SentAt >= the retention period.
func (m MaxAge) Expired(e Entry, now time.Time) bool {
	if e.SentAt.IsZero() {
		return false
	}
	return now.Sub(e.SentAt) >= time.Duration(m)
}

// Store is the in-memory history for a single run.
// It is not safe for concurrent use.
type Store struct {
	backend Backend
	policy  Policy
	entries map[string]Entry
	loadErr error
}

// Load reads the history from backend. Any read failure produces an empty
// store (a cold start) and is available from LoadErr.
// A nil policy means KeepForever.
func Load(ctx context.Context, backend Backend, policy Policy) *Store {
	if policy == nil {
		policy = KeepForever{}
	}
	s := &Store{
		backend: backend,
		policy:  policy,
		entries: make(map[string]Entry),
	}

	loaded, err := backend.Load(ctx)
	if err != nil {
		s.loadErr = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		return s
	}
	for _, e := range loaded {
		if e.ID == "" {
			continue
		}
		// Later duplicates win, matching an append-only log.
		s.entries[e.ID] = e
	}
	return s
}

// LoadErr returns the absorbed load failure, or nil after a clean load.
func (s *Store) LoadErr() error {
	return s.loadErr
}

// Contains reports whether id has been recorded.
func (s *Store) Contains(id string) bool {
	_, ok := s.entries[id]
	return ok
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// Record upserts id with the given send time.
func (s *Store) Record(id string, at time.Time) {
	s.entries[id] = Entry{ID: id, SentAt: at}
}

// Entries returns a snapshot of all entries, oldest first (ties by ID).
func (s *Store) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

// EvictExpired removes every entry the policy reports as expired at now and
// returns them so the caller can release anything tied to them.
func (s *Store) EvictExpired(now time.Time) []Entry {
	var removed []Entry
	for id, e := range s.entries {
		if s.policy.Expired(e, now) {
			removed = append(removed, e)
			delete(s.entries, id)
		}
	}
	sortEntries(removed)
	return removed
}

// Persist writes the in-memory entries to the backend. It refuses to
// write after a failed load and returns the load error instead.
func (s *Store) Persist(ctx context.Context) error {
	if s.loadErr != nil {
		return fmt.Errorf("persist history: %w", s.loadErr)
	}
	if err := s.backend.Save(ctx, s.Entries()); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].SentAt.Equal(entries[j].SentAt) {
			return entries[i].SentAt.Before(entries[j].SentAt)
		}
		return entries[i].ID < entries[j].ID
	})
}
