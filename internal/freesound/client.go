// Package freesound provides a client for the Freesound text search API,
// used to find an optional ambient audio track for a clip.
//
// Reference: https://freesound.org/docs/api/resources_apiv2.html#search-resources
package freesound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/nature-reels/internal/httpretry"
)

const (
	// defaultBaseURL is the Freesound API v2 base URL.
	defaultBaseURL = "https://freesound.org/apiv2"

	// defaultTimeout is the HTTP client timeout for search calls.
	defaultTimeout = 30 * time.Second

	// defaultFields limits the search response to what we use.
	defaultFields = "id,name,duration,previews"

	// previewHQ is the preview key used for overlay audio.
	previewHQ = "preview-hq-mp3"
)

// ErrNoResults means the search matched nothing.
var ErrNoResults = errors.New("freesound: no results")

// Client searches and downloads Freesound previews.
type Client struct {
	httpClient     *http.Client
	downloadClient *http.Client
	token          string
	baseURL        string
	retry          httpretry.Policy
}

// NewClient creates a Freesound client authenticated with an API token.
func NewClient(token string) *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: defaultTimeout},
		downloadClient: &http.Client{},
		token:          token,
		baseURL:        defaultBaseURL,
		retry:          httpretry.DefaultPolicy(),
	}
}

// Sound is a single search result.
type Sound struct {
	ID       int64             `json:"id"`
	Name     string            `json:"name"`
	Duration float64           `json:"duration"`
	Previews map[string]string `json:"previews"`
}

// PreviewURL returns the high-quality MP3 preview URL, if any.
func (s Sound) PreviewURL() string {
	return s.Previews[previewHQ]
}

type searchResponse struct {
	Count   int     `json:"count"`
	Results []Sound `json:"results"`
}

// SearchOptions narrows a text search. Durations are in seconds; zero
// means unbounded.
type SearchOptions struct {
	Query       string
	MinDuration int
	MaxDuration int
}

// filter renders the Solr-style duration filter, e.g. "duration:[10 TO 60]".
func (o SearchOptions) filter() string {
	if o.MinDuration <= 0 && o.MaxDuration <= 0 {
		return ""
	}
	lo, hi := "*", "*"
	if o.MinDuration > 0 {
		lo = fmt.Sprint(o.MinDuration)
	}
	if o.MaxDuration > 0 {
		hi = fmt.Sprint(o.MaxDuration)
	}
	return fmt.Sprintf("duration:[%s TO %s]", lo, hi)
}

// Search returns the first page of sounds matching opts.
func (c *Client) Search(ctx context.Context, opts SearchOptions) ([]Sound, error) {
	params := url.Values{
		"query":  {opts.Query},
		"fields": {defaultFields},
		"token":  {c.token},
	}
	if f := opts.filter(); f != "" {
		params.Set("filter", f)
	}
	endpoint := c.baseURL + "/search/text/?" + params.Encode()

	resp, err := httpretry.Do(ctx, c.httpClient, c.retry, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("freesound search: %w", err)
	}
	defer resp.Body.Close()

	if err := httpretry.CheckStatus(resp, "freesound"); err != nil {
		return nil, fmt.Errorf("freesound search: %w", err)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("freesound search: parse response: %w", err)
	}
	log.Debug().Int("results", len(body.Results)).Int("count", body.Count).Str("query", opts.Query).Msg("Freesound search complete")
	return body.Results, nil
}

// RandomTrack searches and picks one result with a preview uniformly at
// random. Returns ErrNoResults when nothing usable matched.
func (c *Client) RandomTrack(ctx context.Context, opts SearchOptions, rng *rand.Rand) (Sound, error) {
	results, err := c.Search(ctx, opts)
	if err != nil {
		return Sound{}, err
	}
	usable := results[:0:0]
	for _, s := range results {
		if s.PreviewURL() != "" {
			usable = append(usable, s)
		}
	}
	if len(usable) == 0 {
		return Sound{}, ErrNoResults
	}
	return usable[rng.IntN(len(usable))], nil
}

// Download saves the sound's HQ preview to destPath.
func (c *Client) Download(ctx context.Context, s Sound, destPath string) (int64, error) {
	if s.PreviewURL() == "" {
		return 0, fmt.Errorf("freesound: sound %d has no %s preview", s.ID, previewHQ)
	}
	n, err := httpretry.Download(ctx, c.downloadClient, c.retry, "freesound download", s.PreviewURL(), destPath)
	if err != nil {
		return 0, err
	}
	log.Info().Int64("soundId", s.ID).Str("name", s.Name).Int64("bytes", n).Msg("Audio downloaded")
	return n, nil
}
