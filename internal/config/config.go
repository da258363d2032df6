// Package config builds the run configuration from the process
// environment, optional .env files and, for secrets, AWS SSM Parameter
// Store.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// History backends.
const (
	BackendFile   = "file"
	BackendJSON   = "json"
	BackendDynamo = "dynamodb"
	BackendS3     = "s3"
)

// Upload targets.
const (
	UploadCatbox = "catbox"
	UploadS3     = "s3"
)

// Defaults.
const (
	DefaultSearchQuery   = "nature"
	DefaultVideoFolder   = "videos"
	DefaultRetentionDays = 15
	DefaultMaxClip       = 7500 * time.Millisecond
	DefaultHistoryKey    = "history/history.json"
)

// Config is the full run configuration. Secrets are never logged.
type Config struct {
	PixabayKey     string
	FreesoundKey   string
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string
	WebhookSecret  string

	// HistoryBackend is empty when unset; each command picks its own
	// default (line file for stock runs, JSON for library runs).
	HistoryBackend string
	HistoryFile    string
	HistoryTable   string
	HistoryBucket  string
	HistoryKey     string
	RetentionDays  int

	UploadTarget string
	UploadBucket string

	VideoFolder   string
	PublicBaseURL string
	SearchQuery   string
	MaxClip       time.Duration

	SSMPrefix string
	LogLevel  string
}

// DefaultEnvFiles are loaded, when present, before reading the environment.
var DefaultEnvFiles = []string{".env", ".env.local"}

// Load reads .env files (values already in the environment win) and then
// the environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = DefaultEnvFiles
	}
	var loaded []string
	for _, file := range envFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			log.Warn().Err(err).Str("file", file).Msg("Failed to load env file")
			continue
		}
		loaded = append(loaded, file)
	}
	if len(loaded) > 0 {
		log.Debug().Strs("files", loaded).Msg("Loaded env files")
	}
	return FromEnv()
}

// FromEnv reads the configuration from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		PixabayKey:     os.Getenv("PIXABAY_KEY"),
		FreesoundKey:   os.Getenv("FREESOUND_KEY"),
		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID: os.Getenv("TELEGRAM_CHAT_ID"),
		WebhookURL:     os.Getenv("WEBHOOK_URL"),
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),

		HistoryBackend: strings.ToLower(os.Getenv("HISTORY_BACKEND")),
		HistoryFile:    os.Getenv("HISTORY_FILE"),
		HistoryTable:   os.Getenv("HISTORY_TABLE"),
		HistoryBucket:  os.Getenv("HISTORY_BUCKET"),
		HistoryKey:     getEnv("HISTORY_KEY", DefaultHistoryKey),

		UploadTarget: strings.ToLower(getEnv("UPLOAD_TARGET", UploadCatbox)),
		UploadBucket: os.Getenv("UPLOAD_BUCKET"),

		VideoFolder:   getEnv("VIDEO_FOLDER", DefaultVideoFolder),
		PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),
		SearchQuery:   getEnv("SEARCH_QUERY", DefaultSearchQuery),

		SSMPrefix: strings.TrimSuffix(os.Getenv("SSM_PREFIX"), "/"),
		LogLevel:  os.Getenv("REELS_LOG_LEVEL"),
	}

	var errs []error

	cfg.RetentionDays = DefaultRetentionDays
	if v := os.Getenv("HISTORY_RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs = append(errs, fmt.Errorf("HISTORY_RETENTION_DAYS: want a positive integer, got %q", v))
		} else {
			cfg.RetentionDays = n
		}
	}

	cfg.MaxClip = DefaultMaxClip
	if v := os.Getenv("MAX_CLIP_SECONDS"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || secs <= 0 {
			errs = append(errs, fmt.Errorf("MAX_CLIP_SECONDS: want a positive number, got %q", v))
		} else {
			cfg.MaxClip = time.Duration(secs * float64(time.Second))
		}
	}

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	return cfg, errors.Join(errs...)
}

// Validate checks enum values and the settings each backend needs.
func (c Config) Validate() error {
	var errs []error
	switch c.HistoryBackend {
	case "", BackendFile, BackendJSON:
	case BackendDynamo:
		if c.HistoryTable == "" {
			errs = append(errs, errors.New("HISTORY_TABLE is required for the dynamodb history backend"))
		}
	case BackendS3:
		if c.HistoryBucket == "" {
			errs = append(errs, errors.New("HISTORY_BUCKET is required for the s3 history backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("HISTORY_BACKEND: unknown backend %q (want file, json, dynamodb or s3)", c.HistoryBackend))
	}

	switch c.UploadTarget {
	case UploadCatbox:
	case UploadS3:
		if c.UploadBucket == "" {
			errs = append(errs, errors.New("UPLOAD_BUCKET is required for the s3 upload target"))
		}
	default:
		errs = append(errs, fmt.Errorf("UPLOAD_TARGET: unknown target %q (want catbox or s3)", c.UploadTarget))
	}
	return errors.Join(errs...)
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c Config) NeedsAWS() bool {
	return c.SSMPrefix != "" ||
		c.HistoryBackend == BackendDynamo ||
		c.HistoryBackend == BackendS3 ||
		c.UploadTarget == UploadS3
}

// TelegramEnabled reports whether both bot credentials are present.
func (c Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

// Retention returns the library history retention window.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
