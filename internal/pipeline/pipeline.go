// Package pipeline runs one publishing pass end to end: choose a clip the
// history has not seen, build its caption, deliver it to Telegram and the
// webhook, and persist the history.
//
// Two pipelines share the same core:
//
//   - Stock searches Pixabay, renders a 9:16 reel with optional Freesound
//     audio and uploads it. Its history is an append-only ID list.
//   - Library posts files from a local folder. Its history is dated; entries
//     older than the retention window are evicted and their files deleted.
package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/fpang/nature-reels/internal/freesound"
	"github.com/fpang/nature-reels/internal/history"
	"github.com/fpang/nature-reels/internal/media"
	"github.com/fpang/nature-reels/internal/metrics"
	"github.com/fpang/nature-reels/internal/picker"
	"github.com/fpang/nature-reels/internal/pixabay"
	"github.com/fpang/nature-reels/internal/telegram"
	"github.com/fpang/nature-reels/internal/webhook"
)

// Source values carried in webhook payloads.
const (
	SourceStock   = "nature-reels/stock"
	SourceLibrary = "nature-reels/library"
)

// VideoSource finds and downloads stock clips. *pixabay.Client satisfies it.
type VideoSource interface {
	Search(ctx context.Context, opts pixabay.SearchOptions) ([]pixabay.Video, error)
	Download(ctx context.Context, rawURL, destPath string) (int64, error)
}

// AudioSource finds and downloads background audio. *freesound.Client
// satisfies it.
type AudioSource interface {
	RandomTrack(ctx context.Context, opts freesound.SearchOptions, rng *rand.Rand) (freesound.Sound, error)
	Download(ctx context.Context, s freesound.Sound, destPath string) (int64, error)
}

// RenderFunc produces the final reel. media.RenderReel is the production
// implementation.
type RenderFunc func(ctx context.Context, videoPath, audioPath, outPath string, opts media.ReelOptions) error

// VideoSender delivers a video file to a chat. *telegram.Client satisfies it.
type VideoSender interface {
	SendVideo(ctx context.Context, msg telegram.VideoMessage) (int64, error)
}

// Notifier delivers a webhook payload. *webhook.Sender satisfies it.
type Notifier interface {
	Send(ctx context.Context, p webhook.Payload) error
}

// Result summarises one run.
type Result struct {
	RunID     string
	ItemID    string
	VideoURL  string
	Caption   string
	Fallback  bool
	Evicted   int
	MessageID int64
	Delivered []string
}

// Skipped reports whether err means there was nothing to publish.
func Skipped(err error) bool {
	return errors.Is(err, picker.ErrNoCandidates)
}

// deliveries tracks which channels succeeded and which failed.
type deliveries struct {
	attempted int
	ok        []string
	errs      []error
}

func (d *deliveries) add(channel string, err error) {
	d.attempted++
	if err != nil {
		d.errs = append(d.errs, err)
		return
	}
	d.ok = append(d.ok, channel)
}

// allFailed is true when at least one channel was tried and none worked.
func (d *deliveries) allFailed() bool {
	return d.attempted > 0 && len(d.ok) == 0
}

func (d *deliveries) err() error {
	return errors.Join(d.errs...)
}

// persistHistory saves store, logging instead of failing. A store whose
// load failed is left untouched so the stored history survives.
func persistHistory(ctx context.Context, store *history.Store, logger zerolog.Logger) {
	err := store.Persist(ctx)
	switch {
	case err == nil:
	case errors.Is(err, history.ErrStoreUnavailable):
		logger.Warn().Err(err).Msg("History was not readable, leaving stored history untouched")
	default:
		logger.Error().Err(err).Msg("Failed to persist history")
	}
}

// flushMetrics emits the run metrics. It runs on every exit path; a skip
// is not counted as a failure.
func flushMetrics(rec *metrics.Recorder, mode string, res Result, candidates int, start time.Time, err error) {
	if rec == nil {
		return
	}
	fallback, failed := 0, 0
	if res.Fallback {
		fallback = 1
	}
	if err != nil && !Skipped(err) {
		failed = 1
	}
	rec.Dimension("Mode", mode).
		Count(metrics.CandidatesSeen, candidates).
		Count(metrics.FallbackPicks, fallback).
		Count(metrics.EvictedEntries, res.Evicted).
		Count(metrics.Published, len(res.Delivered)).
		Count(metrics.FailedRuns, failed).
		Duration(metrics.RunDurationMs, time.Since(start)).
		Property("runId", res.RunID).
		Property("itemId", res.ItemID).
		Flush()
}
