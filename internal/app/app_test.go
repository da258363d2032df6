package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/nature-reels/internal/config"
	"github.com/fpang/nature-reels/internal/history"
	"github.com/fpang/nature-reels/internal/upload"
)

func newRuntime(t *testing.T, cfg config.Config) *Runtime {
	t.Helper()
	if cfg.UploadTarget == "" {
		cfg.UploadTarget = config.UploadCatbox
	}
	rt, err := Setup(context.Background(), "test", cfg)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return rt
}

func TestHistoryDefaults(t *testing.T) {
	if d := HistoryDefaults(ModeStock); d.Backend != config.BackendFile || d.File != "history.txt" {
		t.Errorf("unexpected stock defaults %+v", d)
	}
	if d := HistoryDefaults(ModeLibrary); d.Backend != config.BackendJSON || d.File != "history.json" {
		t.Errorf("unexpected library defaults %+v", d)
	}
}

func TestHistoryPolicy(t *testing.T) {
	rt := newRuntime(t, config.Config{RetentionDays: 15})
	now := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	old := history.Entry{ID: "a", SentAt: now.Add(-16 * 24 * time.Hour)}

	if rt.HistoryPolicy(ModeStock).Expired(old, now) {
		t.Error("stock history should never expire")
	}
	if !rt.HistoryPolicy(ModeLibrary).Expired(old, now) {
		t.Error("library entry older than 15 days should expire")
	}
}

func TestStock_RequiresPixabayKey(t *testing.T) {
	rt := newRuntime(t, config.Config{})
	if _, err := rt.Stock(NewRand()); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
}

func TestLibrary_Wiring(t *testing.T) {
	dir := t.TempDir()
	rt := newRuntime(t, config.Config{
		VideoFolder:    filepath.Join(dir, "videos"),
		HistoryFile:    filepath.Join(dir, "history.json"),
		RetentionDays:  15,
		TelegramToken:  "t",
		TelegramChatID: "c",
	})

	l, err := rt.Library(NewRand())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Telegram == nil || l.Webhook != nil {
		t.Errorf("expected telegram only, got telegram=%v webhook=%v", l.Telegram, l.Webhook)
	}
	if _, ok := l.Uploader.(*upload.Catbox); !ok {
		t.Errorf("expected catbox uploader without a public base URL, got %T", l.Uploader)
	}
	if _, ok := l.History.(*history.JSONFile); !ok {
		t.Errorf("expected JSON history, got %T", l.History)
	}
	if l.Retention != 15*24*time.Hour {
		t.Errorf("unexpected retention %v", l.Retention)
	}
}

func TestLibrary_PublicBaseURLSkipsUploader(t *testing.T) {
	rt := newRuntime(t, config.Config{PublicBaseURL: "https://example.com/videos", WebhookURL: "https://hook"})
	l, err := rt.Library(NewRand())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Uploader != nil {
		t.Errorf("expected no uploader, got %T", l.Uploader)
	}
	if l.Webhook == nil {
		t.Error("expected webhook sender")
	}
}

func TestFork_KeepsRunSummariesSeparate(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = orig }()

	dir := t.TempDir()
	rt := newRuntime(t, config.Config{
		VideoFolder:   filepath.Join(dir, "videos"),
		HistoryFile:   filepath.Join(dir, "history.json"),
		RetentionDays: 15,
	})

	for range 2 {
		run := rt.Fork("test")
		if run.Startup == rt.Startup {
			t.Fatal("fork must not share the startup logger")
		}
		if _, err := run.Library(NewRand()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	buf.Reset()
	rt.LogStartup()

	var event map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &event); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if _, ok := event["mode"]; ok {
		t.Errorf("per-run mode leaked into the base summary: %v", event)
	}
	if _, ok := event["features"]; ok {
		t.Errorf("per-run features leaked into the base summary: %v", event)
	}
	if !strings.Contains(buf.String(), "Run configuration") {
		t.Errorf("unexpected output %s", buf.String())
	}
}
