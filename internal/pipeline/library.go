package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/nature-reels/internal/caption"
	"github.com/fpang/nature-reels/internal/history"
	"github.com/fpang/nature-reels/internal/media"
	"github.com/fpang/nature-reels/internal/metrics"
	"github.com/fpang/nature-reels/internal/picker"
	"github.com/fpang/nature-reels/internal/telegram"
	"github.com/fpang/nature-reels/internal/upload"
	"github.com/fpang/nature-reels/internal/webhook"
)

// PlatformTags are fixed hashtag blocks forwarded to the webhook so the
// downstream automation can post per-platform captions.
type PlatformTags struct {
	Fixed     string
	Instagram string
	YouTube   string
	Facebook  string
}

// DefaultPlatformTags returns the hashtag blocks used for library posts.
func DefaultPlatformTags() PlatformTags {
	return PlatformTags{
		Fixed:     "#nature #naturelovers #reels #shorts #explore #peaceful #calm #relaxing",
		Instagram: "#instanature #reelsinstagram #explorepage #naturephotography",
		YouTube:   "#youtubeshorts #shorts #naturesounds #relaxingvideo",
		Facebook:  "#facebookreels #fbreels #reelsvideo #naturereels",
	}
}

// Library publishes one unsent file from a local folder.
type Library struct {
	Folder string
	// PublicBaseURL is where Folder is served from (for example a raw
	// GitHub URL). When empty the file is uploaded instead.
	PublicBaseURL string
	Uploader      upload.Uploader
	Telegram      VideoSender // nil disables Telegram
	Webhook       Notifier    // nil disables the webhook
	History       history.Backend
	Retention     time.Duration
	Metrics       *metrics.Recorder

	Caption caption.Config
	Tags    PlatformTags

	Rand *rand.Rand
	Now  func() time.Time
}

// Run executes one library pass.
func (l *Library) Run(ctx context.Context) (res Result, err error) {
	start := time.Now()
	now := l.Now()
	res.RunID = uuid.NewString()
	logger := log.With().Str("runId", res.RunID).Str("mode", "library").Logger()
	candidates := 0
	defer func() {
		flushMetrics(l.Metrics, "library", res, candidates, start, err)
	}()

	store := history.Load(ctx, l.History, history.MaxAge(l.Retention))
	if lerr := store.LoadErr(); lerr != nil {
		logger.Warn().Err(lerr).Msg("History unavailable, starting empty without persisting")
	}

	evicted := store.EvictExpired(now)
	res.Evicted = len(evicted)
	if len(evicted) > 0 {
		RemoveExpiredFiles(l.Folder, evicted)
		persistHistory(ctx, store, logger)
	}

	files, err := media.ScanLibrary(l.Folder)
	if err != nil {
		return res, fmt.Errorf("scan library: %w", err)
	}
	candidates = len(files)

	pool := make([]picker.Candidate, len(files))
	for i, f := range files {
		pool[i] = picker.Candidate{ID: f.Name, Tags: media.TagsFromName(f.Name)}
	}
	sel, err := picker.Pick(pool, store, l.Rand, picker.Options{Exclusive: true})
	if err != nil {
		logger.Warn().Int("files", len(files)).Int("history", store.Len()).Msg("No new videos to send")
		return res, fmt.Errorf("pick library file: %w", err)
	}
	file := files[sel.Index]
	res.ItemID = file.Name
	logger.Info().Str("file", file.Name).Int("unused", sel.Unused).Msg("Library file selected")

	spec := caption.Synthesize(sel.Candidate.Tags, l.Caption, l.Rand)
	res.Caption = spec.Text()

	var d deliveries
	if l.Telegram != nil {
		id, terr := l.Telegram.SendVideo(ctx, telegram.VideoMessage{
			Path:      file.Path,
			Caption:   telegram.TimestampCaption(now),
			ParseMode: telegram.ParseModeHTML,
		})
		res.MessageID = id
		d.add("telegram", terr)
	}
	if l.Webhook != nil {
		link, uerr := l.videoURL(ctx, file)
		res.VideoURL = link
		if uerr != nil {
			d.add("webhook", uerr)
		} else {
			d.add("webhook", l.Webhook.Send(ctx, webhook.Payload{
				VideoURL:         res.VideoURL,
				Title:            spec.Title,
				Caption:          res.Caption,
				Hashtags:         joinNonEmpty(spec.HashtagLine(), l.Tags.Fixed),
				InstaHashtags:    l.Tags.Instagram,
				YoutubeHashtags:  l.Tags.YouTube,
				FacebookHashtags: l.Tags.Facebook,
				Source:           SourceLibrary,
				RunID:            res.RunID,
			}))
		}
	}
	res.Delivered = d.ok

	if d.allFailed() {
		logger.Error().Err(d.err()).Str("file", file.Name).Msg("All deliveries failed, file stays unsent")
		return res, d.err()
	}

	store.Record(file.Name, now)
	if perr := store.Persist(ctx); perr != nil {
		logger.Error().Err(perr).Str("file", file.Name).Msg("Delivered but history not persisted")
		return res, perr
	}

	if derr := d.err(); derr != nil {
		logger.Error().Err(derr).Strs("delivered", d.ok).Msg("Partial delivery")
		return res, derr
	}
	logger.Info().
		Str("file", file.Name).
		Int("evicted", res.Evicted).
		Strs("delivered", res.Delivered).
		Dur("elapsed", time.Since(start)).
		Msg("Library run complete")
	return res, nil
}

// videoURL links the file under PublicBaseURL, or uploads it.
func (l *Library) videoURL(ctx context.Context, f media.VideoFile) (string, error) {
	if l.PublicBaseURL != "" {
		return strings.TrimSuffix(l.PublicBaseURL, "/") + "/" + url.PathEscape(f.Name), nil
	}
	if l.Uploader == nil {
		return "", fmt.Errorf("no public base URL or uploader for %s", f.Name)
	}
	link, err := l.Uploader.Upload(ctx, f.Path)
	if err != nil {
		return "", fmt.Errorf("upload library file: %w", err)
	}
	return link, nil
}

// RemoveExpiredFiles deletes the library files that evicted entries refer
// to and returns how many were removed. Entry IDs are bare file names;
// anything else is left alone.
func RemoveExpiredFiles(folder string, evicted []history.Entry) int {
	removed := 0
	for _, e := range evicted {
		if e.ID != filepath.Base(e.ID) {
			log.Warn().Str("id", e.ID).Msg("Evicted entry is not a file name, skipping delete")
			continue
		}
		switch err := os.Remove(filepath.Join(folder, e.ID)); {
		case err == nil:
			removed++
			log.Info().Str("file", e.ID).Time("sentAt", e.SentAt).Msg("Deleted expired video")
		case os.IsNotExist(err):
			log.Debug().Str("file", e.ID).Msg("Expired video already gone")
		default:
			log.Warn().Err(err).Str("file", e.ID).Msg("Failed to delete expired video")
		}
	}
	return removed
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
