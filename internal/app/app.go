// Package app assembles a configured pipeline from a config.Config. The
// CLI and the Lambda handler share it so both run identical wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fpang/nature-reels/internal/awsboot"
	"github.com/fpang/nature-reels/internal/caption"
	"github.com/fpang/nature-reels/internal/config"
	"github.com/fpang/nature-reels/internal/freesound"
	"github.com/fpang/nature-reels/internal/history"
	"github.com/fpang/nature-reels/internal/logging"
	"github.com/fpang/nature-reels/internal/media"
	"github.com/fpang/nature-reels/internal/metrics"
	"github.com/fpang/nature-reels/internal/pipeline"
	"github.com/fpang/nature-reels/internal/pixabay"
	"github.com/fpang/nature-reels/internal/telegram"
	"github.com/fpang/nature-reels/internal/webhook"
)

// Pipeline modes.
const (
	ModeStock   = "stock"
	ModeLibrary = "library"
)

// ErrMissingKey means a required API key is neither in the environment
// nor in SSM.
var ErrMissingKey = errors.New("required API key not configured")

// Runtime is a resolved configuration plus the AWS clients it needs.
type Runtime struct {
	Config  config.Config
	AWS     *awsboot.Clients
	Startup *logging.StartupLogger
	start   time.Time
}

// Setup creates AWS clients when needed and resolves secrets from SSM.
func Setup(ctx context.Context, name string, cfg config.Config) (*Runtime, error) {
	rt := &Runtime{
		Config:  cfg,
		Startup: logging.NewStartupLogger(name),
		start:   time.Now(),
	}
	clients, err := awsboot.Init(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.AWS = clients
	if err := awsboot.ResolveSecrets(ctx, clients, &rt.Config, rt.Startup); err != nil {
		return nil, err
	}
	return rt, nil
}

// Fork returns a copy of rt with a fresh StartupLogger, so a long-lived
// runtime can log one configuration summary per run.
func (rt *Runtime) Fork(name string) *Runtime {
	c := *rt
	c.Startup = logging.NewStartupLogger(name)
	c.start = time.Now()
	return &c
}

// HistoryDefaults returns the history name and default storage for mode.
func HistoryDefaults(mode string) awsboot.HistoryDefaults {
	if mode == ModeLibrary {
		return awsboot.HistoryDefaults{Name: ModeLibrary, Backend: config.BackendJSON, File: "history.json"}
	}
	return awsboot.HistoryDefaults{Name: ModeStock, Backend: config.BackendFile, File: "history.txt"}
}

// HistoryPolicy returns the eviction policy for mode: stock IDs are kept
// forever, library entries expire after the retention window.
func (rt *Runtime) HistoryPolicy(mode string) history.Policy {
	if mode == ModeLibrary {
		return history.MaxAge(rt.Config.Retention())
	}
	return history.KeepForever{}
}

// History returns the history backend for mode.
func (rt *Runtime) History(mode string) (history.Backend, error) {
	return awsboot.HistoryBackend(rt.AWS, rt.Config, HistoryDefaults(mode), rt.Startup)
}

// Stock builds the stock pipeline. It requires PIXABAY_KEY and ffmpeg.
func (rt *Runtime) Stock(rng *rand.Rand) (*pipeline.Stock, error) {
	cfg := rt.Config
	if cfg.PixabayKey == "" {
		return nil, fmt.Errorf("PIXABAY_KEY: %w", ErrMissingKey)
	}
	if err := media.CheckFFmpegAvailable(); err != nil {
		return nil, err
	}
	backend, err := rt.History(ModeStock)
	if err != nil {
		return nil, err
	}
	uploader, err := awsboot.Uploader(rt.AWS, cfg, rt.Startup)
	if err != nil {
		return nil, err
	}

	reel := media.DefaultReelOptions()
	reel.MaxDuration = cfg.MaxClip

	s := &pipeline.Stock{
		Videos:   pixabay.NewClient(cfg.PixabayKey),
		Render:   media.RenderReel,
		Uploader: uploader,
		History:  backend,
		Metrics:  metrics.New(metrics.Namespace),
		Query:    cfg.SearchQuery,
		Caption:  caption.DefaultConfig(),
		Reel:     reel,
		Rand:     rng,
		Now:      time.Now,
	}
	if cfg.FreesoundKey != "" {
		s.Audio = freesound.NewClient(cfg.FreesoundKey)
	}
	if cfg.TelegramEnabled() {
		s.Telegram = telegram.NewClient(cfg.TelegramToken, cfg.TelegramChatID)
	}
	if cfg.WebhookURL != "" {
		s.Webhook = webhook.NewSender(cfg.WebhookURL, cfg.WebhookSecret)
	}

	rt.Startup.Mode(ModeStock).
		Feature("audio", s.Audio != nil).
		Feature("telegram", s.Telegram != nil).
		Feature("webhook", s.Webhook != nil).
		Feature("signedWebhook", cfg.WebhookSecret != "").
		Config("query", cfg.SearchQuery).
		Config("maxClip", cfg.MaxClip.String())
	return s, nil
}

// Library builds the local library pipeline.
func (rt *Runtime) Library(rng *rand.Rand) (*pipeline.Library, error) {
	cfg := rt.Config
	backend, err := rt.History(ModeLibrary)
	if err != nil {
		return nil, err
	}

	l := &pipeline.Library{
		Folder:        cfg.VideoFolder,
		PublicBaseURL: cfg.PublicBaseURL,
		History:       backend,
		Retention:     cfg.Retention(),
		Metrics:       metrics.New(metrics.Namespace),
		Caption:       caption.DefaultConfig(),
		Tags:          pipeline.DefaultPlatformTags(),
		Rand:          rng,
		Now:           time.Now,
	}
	if cfg.PublicBaseURL == "" {
		if l.Uploader, err = awsboot.Uploader(rt.AWS, cfg, rt.Startup); err != nil {
			return nil, err
		}
	}
	if cfg.TelegramEnabled() {
		l.Telegram = telegram.NewClient(cfg.TelegramToken, cfg.TelegramChatID)
	}
	if cfg.WebhookURL != "" {
		l.Webhook = webhook.NewSender(cfg.WebhookURL, cfg.WebhookSecret)
	}

	rt.Startup.Mode(ModeLibrary).
		Feature("telegram", l.Telegram != nil).
		Feature("webhook", l.Webhook != nil).
		Feature("signedWebhook", cfg.WebhookSecret != "").
		Config("videoFolder", cfg.VideoFolder).
		Config("retentionDays", fmt.Sprint(cfg.RetentionDays))
	return l, nil
}

// LogStartup emits the run configuration summary.
func (rt *Runtime) LogStartup() {
	rt.Startup.InitDuration(time.Since(rt.start)).Log()
}

// NewRand returns an entropy-seeded generator.
func NewRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}
