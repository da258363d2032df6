package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/nature-reels/internal/app"
	"github.com/fpang/nature-reels/internal/config"
	"github.com/fpang/nature-reels/internal/logging"
	"github.com/fpang/nature-reels/internal/pipeline"
)

// CLI flags
var (
	envFilesFlag []string
	logLevelFlag string

	queryFlag          string
	maxClipFlag        float64
	historyFileFlag    string
	historyBackendFlag string

	folderFlag        string
	baseURLFlag       string
	retentionDaysFlag int
)

// rootCmd is the main Cobra command for the nature-reels CLI.
var rootCmd = &cobra.Command{
	Use:   "nature-reels",
	Short: "Publish short nature reels to Telegram and a webhook",
	Long: `Nature Reels picks a clip that has not been posted before, builds a caption
from its tags and delivers it to a Telegram chat and an automation webhook.

Configuration comes from the environment (optionally seeded from .env files) and,
when SSM_PREFIX is set, secrets are read from AWS SSM Parameter Store.

Examples:
  nature-reels stock                      # Pixabay clip rendered as a 9:16 reel
  nature-reels stock --query ocean --max-clip 6
  nature-reels library --folder ./videos  # post one unsent local file
  nature-reels history list --mode library
  nature-reels history prune --mode library`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevelFlag != "" {
			os.Setenv("REELS_LOG_LEVEL", logLevelFlag)
		}
		return nil
	},
}

var stockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Render and publish a Pixabay stock clip",
	Long: `Searches a random Pixabay results page, picks a clip not in the history,
overlays Freesound audio when FREESOUND_KEY is set, renders a vertical reel
with ffmpeg, uploads it and notifies Telegram and the webhook.`,
	RunE: runStock,
}

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Publish one unsent video from a local folder",
	Long: `Deletes videos whose history entry is older than the retention window,
then sends one file that has never been sent. Exits cleanly when every file
has already been sent.`,
	RunE: runLibrary,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFilesFlag, "env-file", nil, "Env files to load (default .env, .env.local)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (overrides REELS_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&historyFileFlag, "history-file", "", "History file path (overrides HISTORY_FILE)")
	rootCmd.PersistentFlags().StringVar(&historyBackendFlag, "history-backend", "", "History backend: file, json, dynamodb, s3 (overrides HISTORY_BACKEND)")

	stockCmd.Flags().StringVarP(&queryFlag, "query", "q", "", "Search query (overrides SEARCH_QUERY)")
	stockCmd.Flags().Float64Var(&maxClipFlag, "max-clip", 0, "Maximum reel length in seconds (overrides MAX_CLIP_SECONDS)")

	libraryCmd.Flags().StringVarP(&folderFlag, "folder", "f", "", "Video folder (overrides VIDEO_FOLDER)")
	libraryCmd.Flags().StringVar(&baseURLFlag, "base-url", "", "Public URL the folder is served from (overrides PUBLIC_BASE_URL)")
	libraryCmd.Flags().IntVar(&retentionDaysFlag, "retention-days", 0, "Days before a sent video is deleted (overrides HISTORY_RETENTION_DAYS)")

	rootCmd.AddCommand(stockCmd, libraryCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(envFilesFlag...)
	logging.Init()
	if err != nil {
		return cfg, err
	}

	if queryFlag != "" {
		cfg.SearchQuery = queryFlag
	}
	if maxClipFlag > 0 {
		cfg.MaxClip = secondsToDuration(maxClipFlag)
	}
	if historyFileFlag != "" {
		cfg.HistoryFile = historyFileFlag
	}
	if historyBackendFlag != "" {
		cfg.HistoryBackend = historyBackendFlag
	}
	if folderFlag != "" {
		cfg.VideoFolder = folderFlag
	}
	if baseURLFlag != "" {
		cfg.PublicBaseURL = baseURLFlag
	}
	if retentionDaysFlag > 0 {
		cfg.RetentionDays = retentionDaysFlag
	}
	return cfg, cfg.Validate()
}

// setup loads configuration and resolves secrets.
func setup(ctx context.Context) (*app.Runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Setup(ctx, "nature-reels", cfg)
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runStock(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := setup(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Setup failed")
		return err
	}
	stock, err := rt.Stock(app.NewRand())
	if err != nil {
		log.Error().Err(err).Msg("Stock pipeline unavailable")
		return err
	}
	rt.LogStartup()

	res, err := stock.Run(ctx)
	return finish(res, err)
}

func runLibrary(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := setup(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Setup failed")
		return err
	}
	lib, err := rt.Library(app.NewRand())
	if err != nil {
		log.Error().Err(err).Msg("Library pipeline unavailable")
		return err
	}
	rt.LogStartup()

	res, err := lib.Run(ctx)
	return finish(res, err)
}

// finish maps a run result to the process outcome. Nothing to publish is a
// clean exit.
func finish(res pipeline.Result, err error) error {
	switch {
	case pipeline.Skipped(err):
		log.Warn().Str("runId", res.RunID).Msg("Nothing to publish, skipping run")
		return nil
	case err != nil:
		log.Error().Err(err).Str("runId", res.RunID).Msg("Run failed")
		return err
	}
	log.Info().
		Str("runId", res.RunID).
		Str("item", res.ItemID).
		Str("videoUrl", res.VideoURL).
		Msg("Automation complete")
	return nil
}
