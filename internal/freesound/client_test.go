package freesound

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fpang/nature-reels/internal/httpretry"
)

func newTestClient(server *httptest.Server) *Client {
	return &Client{
		httpClient:     server.Client(),
		downloadClient: server.Client(),
		token:          "test-token",
		baseURL:        server.URL + "/apiv2",
		retry:          httpretry.Policy{MaxAttempts: 1},
	}
}

func TestSearch_SendsFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/apiv2/search/text/" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("filter") != "duration:[10 TO 60]" {
			t.Errorf("unexpected filter: %q", q.Get("filter"))
		}
		if q.Get("token") != "test-token" {
			t.Errorf("unexpected token: %q", q.Get("token"))
		}
		json.NewEncoder(w).Encode(searchResponse{Count: 1, Results: []Sound{
			{ID: 1, Name: "birds", Previews: map[string]string{previewHQ: "https://cdn/birds.mp3"}},
		}})
	}))
	defer server.Close()

	sounds, err := newTestClient(server).Search(context.Background(), SearchOptions{Query: "nature", MinDuration: 10, MaxDuration: 60})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sounds) != 1 || sounds[0].PreviewURL() != "https://cdn/birds.mp3" {
		t.Errorf("unexpected sounds: %+v", sounds)
	}
}

func TestSearchOptionsFilter(t *testing.T) {
	tests := []struct {
		opts SearchOptions
		want string
	}{
		{SearchOptions{}, ""},
		{SearchOptions{MinDuration: 10}, "duration:[10 TO *]"},
		{SearchOptions{MaxDuration: 60}, "duration:[* TO 60]"},
		{SearchOptions{MinDuration: 10, MaxDuration: 60}, "duration:[10 TO 60]"},
	}
	for _, tt := range tests {
		if got := tt.opts.filter(); got != tt.want {
			t.Errorf("filter(%+v) = %q, want %q", tt.opts, got, tt.want)
		}
	}
}

func TestRandomTrack_SkipsSoundsWithoutPreview(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchResponse{Results: []Sound{
			{ID: 1, Name: "no preview"},
			{ID: 2, Name: "rain", Previews: map[string]string{previewHQ: "https://cdn/rain.mp3"}},
		}})
	}))
	defer server.Close()

	s, err := newTestClient(server).RandomTrack(context.Background(), SearchOptions{Query: "nature"}, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID != 2 {
		t.Errorf("expected sound 2, got %d", s.ID)
	}
}

func TestRandomTrack_NoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":0,"results":[]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server).RandomTrack(context.Background(), SearchOptions{Query: "nature"}, rand.New(rand.NewPCG(1, 2)))
	if !errors.Is(err, ErrNoResults) {
		t.Errorf("expected ErrNoResults, got %v", err)
	}
}

func TestDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ID3"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "input_audio.mp3")
	s := Sound{ID: 9, Previews: map[string]string{previewHQ: server.URL + "/9.mp3"}}
	if _, err := newTestClient(server).Download(context.Background(), s, dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "ID3" {
		t.Errorf("unexpected content %q", data)
	}

	if _, err := newTestClient(server).Download(context.Background(), Sound{ID: 10}, dest); err == nil {
		t.Error("expected error for sound without preview")
	}
}
