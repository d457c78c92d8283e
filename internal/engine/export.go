package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
)

type timeRange struct {
	start, end float64
}

// keptRanges returns the ranges of every segment not marked removed, clamped to
// [0, duration] and sorted by start. With merge set, overlapping ranges are joined.
func keptRanges(segments []models.Segment, duration float64, merge bool) []timeRange {
	out := make([]timeRange, 0, len(segments))
	for _, s := range segments {
		if s.Status == models.SegmentRemoved {
			continue
		}
		r := timeRange{start: max(s.StartTime, 0), end: s.EndTime}
		if duration > 0 {
			r.end = min(r.end, duration)
		}
		if r.start < r.end {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b timeRange) int {
		switch {
		case a.start < b.start:
			return -1
		case a.start > b.start:
			return 1
		default:
			return 0
		}
	})

	if !merge || len(out) < 2 {
		return out
	}
	merged := out[:1]
	for _, r := range out[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end {
			last.end = max(last.end, r.end)
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// ExportVideo re-encodes the kept segments of req's video.
//
// By default the ranges are merged and concatenated into the single file req.Output. With
// req.Separate set, every range becomes its own file under the directory req.Output. Export
// runs in the music group, so [ProcessEngine.CancelProcessing] stops it.
func (e *ProcessEngine) ExportVideo(ctx context.Context, req models.VideoExport) ([]string, error) {
	ctx, done := e.track(ctx, req.ProjectID, musicGroup)
	defer done()

	logger := e.logger.With("project", req.ProjectID, "stage", "export")

	if _, err := os.Stat(req.VideoPath); err != nil {
		return nil, fmt.Errorf("%w: source video: %v", shared.ErrInvalidInput, err)
	}
	if req.Output == "" {
		return nil, fmt.Errorf("%w: export output is required", shared.ErrMissingArgument)
	}

	duration, err := e.probeDuration(ctx, req.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", req.VideoPath, err)
	}

	ranges := keptRanges(req.Segments, duration, !req.Separate)
	if len(ranges) == 0 {
		return nil, fmt.Errorf("%w: project %s has no segments to export", shared.ErrInvalidInput, req.ProjectID)
	}
	logger.Info("exporting video", "segments", len(req.Segments), "ranges", len(ranges), "separate", req.Separate)

	rep := newReporter(e.bus, models.ExportProgress, req.ProjectID, e.cfg.Tools.ProgressRate)
	rep.report(0, "exporting video")

	var files []string
	if req.Separate {
		files, err = e.exportClips(ctx, logger, rep, req, ranges)
	} else {
		files, err = e.exportMerged(ctx, logger, rep, req, ranges)
	}
	if err != nil {
		return nil, err
	}

	rep.span(0, 1).report(1, "export complete")
	logger.Info("export complete", "files", len(files))
	return files, nil
}

func (e *ProcessEngine) exportMerged(ctx context.Context, logger *log.Logger, rep *reporter, req models.VideoExport, ranges []timeRange) ([]string, error) {
	if err := os.MkdirAll(filepath.Dir(req.Output), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.MkdirTemp("", "cutline-export-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	var list strings.Builder
	for i, r := range ranges {
		part := filepath.Join(tmp, fmt.Sprintf("segment_%04d.ts", i))
		if err := e.encodeRange(ctx, logger, req.VideoPath, part, r, "mpegts"); err != nil {
			return nil, err
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(filepath.ToSlash(part), "'", `'\''`))
		rep.span(0, 0.95).report(float64(i+1)/float64(len(ranges)), fmt.Sprintf("encoded %d of %d", i+1, len(ranges)))
	}

	listPath := filepath.Join(tmp, "concat_list.txt")
	if err := os.WriteFile(listPath, []byte(list.String()), 0644); err != nil {
		return nil, fmt.Errorf("failed to write concat list: %w", err)
	}

	err = runTool(ctx, logger, toolRun{
		name: e.cfg.Tools.FFmpeg,
		args: []string{"-y", "-hide_banner", "-nostats", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", req.Output},
	})
	if err != nil {
		os.Remove(req.Output)
		return nil, err
	}
	if !nonEmpty(req.Output) {
		return nil, fmt.Errorf("%w: ffmpeg produced no video at %s", shared.ErrInvalidOutput, req.Output)
	}
	return []string{req.Output}, nil
}

func (e *ProcessEngine) exportClips(ctx context.Context, logger *log.Logger, rep *reporter, req models.VideoExport, ranges []timeRange) ([]string, error) {
	if err := os.MkdirAll(req.Output, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	ext := filepath.Ext(req.VideoPath)
	if ext == "" {
		ext = ".mp4"
	}

	files := make([]string, 0, len(ranges))
	for i, r := range ranges {
		name := fmt.Sprintf("%s_%03d_%s-%s%s", req.ProjectID, i+1, clipTime(r.start), clipTime(r.end), ext)
		path := filepath.Join(req.Output, name)
		if err := e.encodeRange(ctx, logger, req.VideoPath, path, r, ""); err != nil {
			return files, err
		}
		files = append(files, path)
		rep.span(0, 0.99).report(float64(i+1)/float64(len(ranges)), fmt.Sprintf("exported %d of %d", i+1, len(ranges)))
	}
	return files, nil
}

// encodeRange re-encodes one range so the output starts on a keyframe. A partial file is
// removed when encoding fails or is cancelled.
func (e *ProcessEngine) encodeRange(ctx context.Context, logger *log.Logger, input, output string, r timeRange, format string) error {
	args := []string{
		"-y", "-hide_banner", "-nostats",
		"-ss", formatFloat(r.start),
		"-i", input,
		"-t", formatFloat(r.end - r.start),
		"-c:v", "libx264", "-preset", "fast", "-crf", "18",
		"-c:a", "aac", "-b:a", "192k",
		"-avoid_negative_ts", "make_zero",
	}
	if format != "" {
		args = append(args, "-f", format)
	}
	args = append(args, output)

	if err := runTool(ctx, logger, toolRun{name: e.cfg.Tools.FFmpeg, args: args}); err != nil {
		os.Remove(output)
		return err
	}
	return nil
}

// clipTime renders seconds as a file-name safe timestamp, e.g. 75.5 → "01m15s500".
func clipTime(sec float64) string {
	ms := int64(sec*1000 + 0.5)
	return fmt.Sprintf("%02dm%02ds%03d", ms/60000, ms/1000%60, ms%1000)
}
