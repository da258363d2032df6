// Package media turns a downloaded stock clip into a short vertical reel
// by shelling out to ffmpeg, and scans the local video library.
package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Reel defaults: 9:16 portrait, 1280px tall, at most 7.5 seconds.
const (
	DefaultMaxDuration = 7500 * time.Millisecond
	DefaultHeight      = 1280
	DefaultAspectW     = 9
	DefaultAspectH     = 16

	// DefaultPreset favours encode speed; the clip is short.
	DefaultPreset  = "ultrafast"
	DefaultThreads = 4
)

// ReelOptions controls the render.
type ReelOptions struct {
	MaxDuration time.Duration
	Height      int
	AspectW     int
	AspectH     int
	Preset      string
	Threads     int
}

// DefaultReelOptions returns the standard vertical reel settings.
func DefaultReelOptions() ReelOptions {
	return ReelOptions{
		MaxDuration: DefaultMaxDuration,
		Height:      DefaultHeight,
		AspectW:     DefaultAspectW,
		AspectH:     DefaultAspectH,
		Preset:      DefaultPreset,
		Threads:     DefaultThreads,
	}
}

// CheckFFmpegAvailable checks if ffmpeg is available in the system PATH.
func CheckFFmpegAvailable() error {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: install FFmpeg with: brew install ffmpeg (macOS) or apt install ffmpeg (Linux)")
	}
	log.Debug().Str("path", path).Msg("ffmpeg found")
	return nil
}

// RenderReel center-crops videoPath to the target aspect when it is wider,
// scales it to opts.Height, trims it to opts.MaxDuration and writes H.264/AAC
// to outPath. When audioPath is set that track replaces the original audio.
func RenderReel(ctx context.Context, videoPath, audioPath, outPath string, opts ReelOptions) error {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	args := buildReelArgs(videoPath, audioPath, outPath, opts)
	log.Debug().Strs("args", args).Msg("Running FFmpeg reel render")

	start := time.Now()
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start)
	if err != nil {
		_ = os.Remove(outPath)
		log.Warn().
			Err(err).
			Str("input_path", videoPath).
			Str("ffmpeg_output", tail(string(output), 2000)).
			Dur("duration", elapsed).
			Msg("FFmpeg reel render failed")
		return fmt.Errorf("ffmpeg render failed: %w", err)
	}

	var outSize int64
	if fi, err := os.Stat(outPath); err == nil {
		outSize = fi.Size()
	}
	log.Info().
		Str("output_path", outPath).
		Int64("output_size_bytes", outSize).
		Bool("with_audio", audioPath != "").
		Dur("render_time", elapsed).
		Msg("Reel render complete")
	return nil
}

// buildReelArgs constructs the ffmpeg command line for RenderReel.
func buildReelArgs(videoPath, audioPath, outPath string, opts ReelOptions) []string {
	if opts.AspectW <= 0 || opts.AspectH <= 0 {
		opts.AspectW, opts.AspectH = DefaultAspectW, DefaultAspectH
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Preset == "" {
		opts.Preset = DefaultPreset
	}

	args := []string{"-y", "-i", videoPath}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}
	if opts.MaxDuration > 0 {
		args = append(args, "-t", strconv.FormatFloat(opts.MaxDuration.Seconds(), 'f', 3, 64))
	}

	// Crop width to ih*W/H (even) only when the source is wider; ffmpeg
	// centers the crop by default. scale=-2 keeps the width even.
	vf := fmt.Sprintf("crop='min(iw,trunc(ih*%d/%d/2)*2)':ih,scale=-2:%d,format=yuv420p",
		opts.AspectW, opts.AspectH, opts.Height)
	args = append(args, "-vf", vf)

	args = append(args, "-map", "0:v:0")
	if audioPath != "" {
		// -shortest stops at the clip's end when the track runs longer.
		args = append(args, "-map", "1:a:0", "-shortest")
	} else {
		args = append(args, "-map", "0:a?")
	}

	args = append(args, "-c:v", "libx264", "-preset", opts.Preset)
	args = append(args, "-c:a", "aac")
	if opts.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(opts.Threads))
	}
	args = append(args, "-movflags", "+faststart", outPath)
	return args
}

// tail returns the last n bytes of s; ffmpeg puts the error at the end.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
