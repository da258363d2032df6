// Package pixabay provides a client for the Pixabay video search API,
// used as the candidate source for stock nature clips.
//
// Search returns one page of hits; the caller picks a random page so that
// repeated runs see a spread of results. Download streams a rendition to a
// local file.
//
// Reference: https://pixabay.com/api/docs/#api_search_videos
package pixabay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/nature-reels/internal/httpretry"
)

const (
	// defaultBaseURL is the Pixabay API base URL.
	defaultBaseURL = "https://pixabay.com/api"

	// defaultTimeout is the HTTP client timeout for search calls. Downloads
	// use the request context instead.
	defaultTimeout = 30 * time.Second

	// DefaultPerPage matches the page size the automation has always used.
	DefaultPerPage = 10

	// MaxPage is the highest page picked at random for a search.
	MaxPage = 20
)

// ErrNoRendition means a hit has no downloadable video URL.
var ErrNoRendition = errors.New("pixabay: hit has no downloadable rendition")

// Client searches and downloads Pixabay videos.
type Client struct {
	httpClient     *http.Client
	downloadClient *http.Client
	apiKey         string
	baseURL        string
	retry          httpretry.Policy
}

// NewClient creates a Pixabay client.
func NewClient(apiKey string) *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: defaultTimeout},
		downloadClient: &http.Client{},
		apiKey:         apiKey,
		baseURL:        defaultBaseURL,
		retry:          httpretry.DefaultPolicy(),
	}
}

// --- API response types ---

// Rendition is one encoded size of a video.
type Rendition struct {
	URL       string `json:"url"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Size      int64  `json:"size"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// Renditions holds the sizes Pixabay encodes for each video.
type Renditions struct {
	Large  Rendition `json:"large"`
	Medium Rendition `json:"medium"`
	Small  Rendition `json:"small"`
	Tiny   Rendition `json:"tiny"`
}

// Video is a single search hit.
type Video struct {
	ID        int64      `json:"id"`
	PageURL   string     `json:"pageURL"`
	Tags      string     `json:"tags"`
	Duration  int        `json:"duration"`
	Videos    Renditions `json:"videos"`
	User      string     `json:"user"`
	Downloads int        `json:"downloads"`
}

// IDString returns the hit ID as used in the history.
func (v Video) IDString() string {
	return strconv.FormatInt(v.ID, 10)
}

// BestRendition returns the largest rendition that has a URL.
func (v Video) BestRendition() (Rendition, error) {
	for _, r := range []Rendition{v.Videos.Large, v.Videos.Medium, v.Videos.Small} {
		if r.URL != "" {
			return r, nil
		}
	}
	return Rendition{}, ErrNoRendition
}

type searchResponse struct {
	Total     int     `json:"total"`
	TotalHits int     `json:"totalHits"`
	Hits      []Video `json:"hits"`
}

// SearchOptions narrows a video search.
type SearchOptions struct {
	Query   string
	Page    int
	PerPage int
}

// Search returns one page of video hits for the query.
func (c *Client) Search(ctx context.Context, opts SearchOptions) ([]Video, error) {
	if opts.PerPage <= 0 {
		opts.PerPage = DefaultPerPage
	}
	if opts.Page <= 0 {
		opts.Page = 1
	}
	params := url.Values{
		"key":      {c.apiKey},
		"q":        {opts.Query},
		"per_page": {strconv.Itoa(opts.PerPage)},
		"page":     {strconv.Itoa(opts.Page)},
	}
	endpoint := c.baseURL + "/videos/?" + params.Encode()

	log.Debug().Str("query", opts.Query).Int("page", opts.Page).Int("perPage", opts.PerPage).Msg("Pixabay video search")

	resp, err := httpretry.Do(ctx, c.httpClient, c.retry, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("pixabay search: %w", err)
	}
	defer resp.Body.Close()

	if err := httpretry.CheckStatus(resp, "pixabay"); err != nil {
		return nil, fmt.Errorf("pixabay search: %w", err)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("pixabay search: parse response: %w", err)
	}

	log.Info().Int("hits", len(body.Hits)).Int("totalHits", body.TotalHits).Int("page", opts.Page).Msg("Pixabay search complete")
	return body.Hits, nil
}

// Download streams the rendition at rawURL into destPath and returns the
// number of bytes written.
func (c *Client) Download(ctx context.Context, rawURL, destPath string) (int64, error) {
	n, err := httpretry.Download(ctx, c.downloadClient, c.retry, "pixabay download", rawURL, destPath)
	if err != nil {
		return 0, err
	}
	log.Info().Str("path", destPath).Int64("bytes", n).Msg("Video downloaded")
	return n, nil
}
