package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/nature-reels/internal/caption"
	"github.com/fpang/nature-reels/internal/freesound"
	"github.com/fpang/nature-reels/internal/history"
	"github.com/fpang/nature-reels/internal/httpretry"
	"github.com/fpang/nature-reels/internal/media"
	"github.com/fpang/nature-reels/internal/metrics"
	"github.com/fpang/nature-reels/internal/picker"
	"github.com/fpang/nature-reels/internal/pixabay"
	"github.com/fpang/nature-reels/internal/telegram"
	"github.com/fpang/nature-reels/internal/upload"
	"github.com/fpang/nature-reels/internal/webhook"
)

// Background audio bounds in seconds.
const (
	audioMinSeconds = 10
	audioMaxSeconds = 60
)

// Stock publishes one Pixabay clip as a vertical reel.
type Stock struct {
	Videos   VideoSource
	Audio    AudioSource // nil disables the audio overlay
	Render   RenderFunc
	Uploader upload.Uploader
	Telegram VideoSender // nil disables Telegram
	Webhook  Notifier    // nil disables the webhook
	History  history.Backend
	Metrics  *metrics.Recorder

	Query   string
	Caption caption.Config
	Reel    media.ReelOptions
	// WorkDir holds per-run temp files; empty means os.TempDir.
	WorkDir string

	Rand *rand.Rand
	Now  func() time.Time
}

// Run executes one stock pass.
func (s *Stock) Run(ctx context.Context) (res Result, err error) {
	start := time.Now()
	res.RunID = uuid.NewString()
	logger := log.With().Str("runId", res.RunID).Str("mode", "stock").Logger()
	candidates := 0
	defer func() {
		flushMetrics(s.Metrics, "stock", res, candidates, start, err)
	}()

	store := history.Load(ctx, s.History, history.KeepForever{})
	if lerr := store.LoadErr(); lerr != nil {
		logger.Warn().Err(lerr).Msg("History unavailable, starting empty without persisting")
	}

	hits, err := s.search(ctx, logger)
	if err != nil {
		return res, err
	}
	candidates = len(hits)

	pool := make([]picker.Candidate, len(hits))
	for i, h := range hits {
		pool[i] = picker.Candidate{ID: h.IDString(), Tags: h.Tags}
	}
	sel, err := picker.Pick(pool, store, s.Rand, picker.Options{})
	if err != nil {
		return res, fmt.Errorf("pick stock clip: %w", err)
	}
	hit := hits[sel.Index]
	res.ItemID, res.Fallback = sel.Candidate.ID, sel.Fallback
	logger.Info().
		Str("videoId", res.ItemID).
		Int("unused", sel.Unused).
		Bool("fallback", sel.Fallback).
		Str("tags", hit.Tags).
		Msg("Stock clip selected")

	// The ID list is append-only and persisted right away, so a failed
	// render does not hand out the same clip next time.
	store.Record(res.ItemID, s.Now())
	persistHistory(ctx, store, logger)

	runDir, err := os.MkdirTemp(s.WorkDir, "reel-"+res.RunID[:8]+"-")
	if err != nil {
		return res, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(runDir)

	videoPath := filepath.Join(runDir, "input_video.mp4")
	if err := s.downloadVideo(ctx, hit, videoPath); err != nil {
		return res, err
	}
	audioPath := s.fetchAudio(ctx, logger, filepath.Join(runDir, "input_audio.mp3"))

	outPath := filepath.Join(runDir, "final_output.mp4")
	if err := s.Render(ctx, videoPath, audioPath, outPath, s.Reel); err != nil {
		return res, fmt.Errorf("render reel: %w", err)
	}
	if fi, serr := os.Stat(outPath); serr == nil && s.Metrics != nil {
		s.Metrics.Metric(metrics.ReelBytes, float64(fi.Size()), metrics.UnitBytes)
	}

	spec := caption.Synthesize(hit.Tags, s.Caption, s.Rand)
	res.Caption = spec.Text()

	res.VideoURL, err = s.Uploader.Upload(ctx, outPath)
	if err != nil {
		return res, fmt.Errorf("upload reel: %w", err)
	}

	var d deliveries
	if s.Telegram != nil {
		id, terr := s.Telegram.SendVideo(ctx, telegram.VideoMessage{Path: outPath, Caption: res.Caption})
		res.MessageID = id
		d.add("telegram", terr)
	}
	if s.Webhook != nil {
		d.add("webhook", s.Webhook.Send(ctx, webhook.Payload{
			VideoURL: res.VideoURL,
			Title:    spec.Title,
			Caption:  res.Caption,
			Hashtags: spec.HashtagLine(),
			Source:   SourceStock,
			RunID:    res.RunID,
		}))
	}
	res.Delivered = d.ok
	if derr := d.err(); derr != nil {
		logger.Error().Err(derr).Strs("delivered", d.ok).Msg("Delivery failed")
		return res, derr
	}

	logger.Info().
		Str("videoId", res.ItemID).
		Str("videoUrl", res.VideoURL).
		Strs("delivered", res.Delivered).
		Dur("elapsed", time.Since(start)).
		Msg("Stock run complete")
	return res, nil
}

// search fetches a random results page. Pixabay answers 400 for a page
// past the last result, so that case retries page 1.
func (s *Stock) search(ctx context.Context, logger zerolog.Logger) ([]pixabay.Video, error) {
	page := 1 + s.Rand.IntN(pixabay.MaxPage)
	opts := pixabay.SearchOptions{Query: s.Query, Page: page, PerPage: pixabay.DefaultPerPage}

	hits, err := s.Videos.Search(ctx, opts)
	if err != nil && page > 1 && httpretry.IsStatus(err, http.StatusBadRequest) {
		logger.Warn().Int("page", page).Msg("Search page out of range, retrying page 1")
		opts.Page = 1
		hits, err = s.Videos.Search(ctx, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("search stock clips: %w", err)
	}
	if len(hits) == 0 && opts.Page > 1 {
		opts.Page = 1
		if hits, err = s.Videos.Search(ctx, opts); err != nil {
			return nil, fmt.Errorf("search stock clips: %w", err)
		}
	}

	usable := hits[:0:0]
	for _, h := range hits {
		if _, err := h.BestRendition(); err == nil {
			usable = append(usable, h)
		}
	}
	return usable, nil
}

// downloadVideo tries the renditions from largest to smallest.
func (s *Stock) downloadVideo(ctx context.Context, v pixabay.Video, dest string) error {
	var errs []error
	for _, r := range []pixabay.Rendition{v.Videos.Large, v.Videos.Medium, v.Videos.Small} {
		if r.URL == "" {
			continue
		}
		if _, err := s.Videos.Download(ctx, r.URL, dest); err != nil {
			errs = append(errs, err)
			continue
		}
		return nil
	}
	if len(errs) == 0 {
		return fmt.Errorf("download clip %d: %w", v.ID, pixabay.ErrNoRendition)
	}
	return fmt.Errorf("download clip %d: %w", v.ID, errors.Join(errs...))
}

// fetchAudio returns the downloaded track path, or "" when audio is
// disabled or unavailable. Audio problems never fail the run.
func (s *Stock) fetchAudio(ctx context.Context, logger zerolog.Logger, dest string) string {
	if s.Audio == nil {
		return ""
	}
	track, err := s.Audio.RandomTrack(ctx, freesound.SearchOptions{
		Query:       s.Query,
		MinDuration: audioMinSeconds,
		MaxDuration: audioMaxSeconds,
	}, s.Rand)
	if err != nil {
		logger.Warn().Err(err).Msg("No background audio, keeping source track")
		return ""
	}
	if _, err := s.Audio.Download(ctx, track, dest); err != nil {
		logger.Warn().Err(err).Int64("soundId", track.ID).Msg("Audio download failed, keeping source track")
		return ""
	}
	return dest
}
