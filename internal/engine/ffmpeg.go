package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
)

// ExtractAudio decodes the audio track of videoPath into a mono 44.1kHz WAV at outputPath.
func (e *ProcessEngine) ExtractAudio(ctx context.Context, videoPath, outputPath, projectID string) (string, error) {
	ctx, done := e.track(ctx, projectID, musicGroup)
	defer done()

	logger := e.logger.With("project", projectID, "stage", "extract")

	if _, err := os.Stat(videoPath); err != nil {
		return "", fmt.Errorf("%w: source video: %v", shared.ErrInvalidInput, err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	duration, err := e.probeDuration(ctx, videoPath)
	if err != nil {
		logger.Warn("could not probe duration, progress will be coarse", "error", err)
	}

	rep := newReporter(e.bus, models.ExtractProgress, projectID, e.cfg.Tools.ProgressRate)
	rep.report(0, "extracting audio")

	err = runTool(ctx, logger, toolRun{
		name: e.cfg.Tools.FFmpeg,
		args: []string{
			"-y", "-hide_banner", "-nostats",
			"-i", videoPath,
			"-vn", "-ac", "1", "-ar", "44100", "-acodec", "pcm_s16le",
			"-progress", "pipe:1",
			outputPath,
		},
		stdout: func(line string) {
			if p, ok := ffmpegProgress(line, duration); ok {
				rep.span(0, 0.99).report(p, "extracting audio")
			}
		},
	})
	if err != nil {
		return "", err
	}

	if !nonEmpty(outputPath) {
		return "", fmt.Errorf("%w: ffmpeg produced no audio at %s", shared.ErrInvalidOutput, outputPath)
	}

	rep.span(0, 1).report(1, "audio extracted")
	return outputPath, nil
}

// probeDuration returns the container duration of path in seconds.
func (e *ProcessEngine) probeDuration(ctx context.Context, path string) (float64, error) {
	var out string
	err := runTool(ctx, e.logger, toolRun{
		name: e.cfg.Tools.FFprobe,
		args: []string{"-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", path},
		stdout: func(line string) {
			if out == "" {
				out = line
			}
		},
	})
	if err != nil {
		return 0, err
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: unexpected duration %q", shared.ErrInvalidOutput, out)
	}
	return d, nil
}

// ffmpegProgress converts one "-progress" key=value line into a fraction of duration.
//
// out_time_us and out_time_ms both carry microseconds. "progress=end" reports completion.
func ffmpegProgress(line string, duration float64) (float64, bool) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return 0, false
	}

	switch key {
	case "progress":
		if value == "end" {
			return 1, true
		}
	case "out_time_us", "out_time_ms":
		if duration <= 0 {
			return 0, false
		}
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		p := float64(us) / 1e6 / duration
		if p > 1 {
			p = 1
		}
		return p, true
	}
	return 0, false
}
