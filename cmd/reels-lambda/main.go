// Package main provides a Lambda entry point that runs one publishing pass
// per EventBridge schedule invocation.
//
// The schedule rule's input selects the pipeline:
//
//	{"detail": {"mode": "library"}}
//
// and defaults to REELS_MODE (or "stock"). The history must live in
// DynamoDB or S3 since /tmp does not survive between invocations; secrets are
// read from SSM under SSM_PREFIX at cold start.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/nature-reels/internal/app"
	"github.com/fpang/nature-reels/internal/config"
	"github.com/fpang/nature-reels/internal/logging"
	"github.com/fpang/nature-reels/internal/pipeline"
)

var (
	runtime     *app.Runtime
	defaultMode string
)

func init() {
	logging.Init()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.HistoryBackend != config.BackendDynamo && cfg.HistoryBackend != config.BackendS3 {
		log.Warn().Str("backend", cfg.HistoryBackend).Msg("History is not durable across invocations, set HISTORY_BACKEND to dynamodb or s3")
	}

	runtime, err = app.Setup(context.Background(), "reels-lambda", cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise runtime")
	}

	defaultMode = os.Getenv("REELS_MODE")
	if defaultMode == "" {
		defaultMode = app.ModeStock
	}
	runtime.Startup.Config("defaultMode", defaultMode)
	runtime.LogStartup()
}

// scheduleDetail is the optional detail of the schedule event.
type scheduleDetail struct {
	Mode string `json:"mode"`
}

// Response is returned to the invoker and shows up in the Lambda console.
type Response struct {
	Mode      string   `json:"mode"`
	RunID     string   `json:"runId"`
	Item      string   `json:"item,omitempty"`
	VideoURL  string   `json:"videoUrl,omitempty"`
	Delivered []string `json:"delivered,omitempty"`
	Skipped   bool     `json:"skipped,omitempty"`
}

// modeFromEvent returns the mode named in the event detail, or def.
func modeFromEvent(event events.CloudWatchEvent, def string) string {
	if len(event.Detail) == 0 {
		return def
	}
	var d scheduleDetail
	if err := json.Unmarshal(event.Detail, &d); err != nil || d.Mode == "" {
		return def
	}
	return d.Mode
}

func handler(ctx context.Context, event events.CloudWatchEvent) (Response, error) {
	mode := modeFromEvent(event, defaultMode)
	log.Info().Str("mode", mode).Str("eventId", event.ID).Time("eventTime", event.Time).Msg("Scheduled run")

	var (
		res pipeline.Result
		err error
	)
	rng := app.NewRand()
	run := runtime.Fork("reels-lambda")
	switch mode {
	case app.ModeStock:
		var s *pipeline.Stock
		if s, err = run.Stock(rng); err == nil {
			run.LogStartup()
			res, err = s.Run(ctx)
		}
	case app.ModeLibrary:
		var l *pipeline.Library
		if l, err = run.Library(rng); err == nil {
			run.LogStartup()
			res, err = l.Run(ctx)
		}
	default:
		return Response{Mode: mode}, fmt.Errorf("unknown mode %q", mode)
	}

	resp := Response{
		Mode:      mode,
		RunID:     res.RunID,
		Item:      res.ItemID,
		VideoURL:  res.VideoURL,
		Delivered: res.Delivered,
	}
	if pipeline.Skipped(err) {
		log.Warn().Str("runId", res.RunID).Msg("Nothing to publish, skipping run")
		resp.Skipped = true
		return resp, nil
	}
	if err != nil {
		log.Error().Err(err).Str("runId", res.RunID).Msg("Run failed")
		return resp, err
	}
	return resp, nil
}

func main() {
	lambda.Start(withTimeoutLog(handler))
}

// withTimeoutLog warns when a run ends close to the Lambda deadline, the
// usual sign that ffmpeg or an upload needs more time or memory.
func withTimeoutLog(h func(context.Context, events.CloudWatchEvent) (Response, error)) func(context.Context, events.CloudWatchEvent) (Response, error) {
	return func(ctx context.Context, e events.CloudWatchEvent) (Response, error) {
		resp, err := h(ctx, e)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < 10*time.Second {
			log.Warn().Dur("remaining", time.Until(deadline)).Msg("Run finished close to the Lambda deadline")
		}
		return resp, err
	}
}
