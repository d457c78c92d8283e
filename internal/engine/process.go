package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
	"golang.org/x/sync/semaphore"
)

type group int

const (
	musicGroup group = iota
	detectionGroup
)

type callKey struct {
	projectID string
	group     group
}

// Options configures a [ProcessEngine].
type Options struct {
	Config *shared.Config
	Bus    *Bus
	Logger *log.Logger
}

// ProcessEngine implements the processing engine on top of external command-line tools.
type ProcessEngine struct {
	cfg    *shared.Config
	bus    *Bus
	logger *log.Logger

	separationSlots *semaphore.Weighted
	detectionSlots  *semaphore.Weighted

	mu     sync.Mutex
	nextID int
	calls  map[callKey]map[int]context.CancelFunc
}

// NewProcessEngine creates a ProcessEngine, filling unset options with defaults.
func NewProcessEngine(opts Options) *ProcessEngine {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Bus == nil {
		opts.Bus = NewBus()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	return &ProcessEngine{
		cfg:             opts.Config,
		bus:             opts.Bus,
		logger:          shared.WithLogger(opts.Logger, "component", "engine"),
		separationSlots: semaphore.NewWeighted(slots(opts.Config.Separation.MaxConcurrent)),
		detectionSlots:  semaphore.NewWeighted(slots(opts.Config.Detection.MaxConcurrent)),
		calls:           make(map[callKey]map[int]context.CancelFunc),
	}
}

func slots(n int) int64 {
	if n <= 0 {
		return 1
	}
	return int64(n)
}

// Bus returns the event bus progress is published on.
func (e *ProcessEngine) Bus() *Bus { return e.bus }

// Subscribe registers handler for events of kind.
func (e *ProcessEngine) Subscribe(kind models.EventKind, handler func(models.Event)) func() {
	return e.bus.Subscribe(kind, handler)
}

// track derives a cancellable context for one call and registers it under the project and group.
func (e *ProcessEngine) track(ctx context.Context, projectID string, g group) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	key := callKey{projectID, g}
	id := e.nextID
	e.nextID++
	if e.calls[key] == nil {
		e.calls[key] = make(map[int]context.CancelFunc)
	}
	e.calls[key][id] = cancel
	e.mu.Unlock()

	return ctx, func() {
		e.mu.Lock()
		delete(e.calls[key], id)
		if len(e.calls[key]) == 0 {
			delete(e.calls, key)
		}
		e.mu.Unlock()
		cancel()
	}
}

// stop cancels every in-flight call of group for projectID, or for all projects when projectID is empty.
func (e *ProcessEngine) stop(projectID string, g group) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for key, calls := range e.calls {
		if key.group != g || (projectID != "" && key.projectID != projectID) {
			continue
		}
		for _, cancel := range calls {
			cancel()
			n++
		}
	}
	return n
}

// CancelProcessing kills the music pipeline tools running for projectID (all projects if empty).
func (e *ProcessEngine) CancelProcessing(projectID string) error {
	n := e.stop(projectID, musicGroup)
	e.logger.Info("processing cancel requested", "project", projectID, "calls", n)
	return nil
}

// CancelDetection kills the detector running for projectID.
func (e *ProcessEngine) CancelDetection(projectID string) error {
	if projectID == "" {
		return fmt.Errorf("%w: project id is required", shared.ErrMissingArgument)
	}
	n := e.stop(projectID, detectionGroup)
	e.logger.Info("detection cancel requested", "project", projectID, "calls", n)
	return nil
}

// acquire takes one slot, publishing a queued event first when none is free.
func acquire(ctx context.Context, sem *semaphore.Weighted, onQueued func()) error {
	if sem.TryAcquire(1) {
		return nil
	}
	onQueued()
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: while queued: %v", shared.ErrCancelled, err)
	}
	return nil
}

// SeparateVocals splits audioPath into vocals and accompaniment stems under outputDir.
func (e *ProcessEngine) SeparateVocals(ctx context.Context, audioPath, outputDir, accel, projectID string) (models.Separation, error) {
	ctx, done := e.track(ctx, projectID, musicGroup)
	defer done()

	logger := e.logger.With("project", projectID, "stage", "separate")

	if !nonEmpty(audioPath) {
		return models.Separation{}, fmt.Errorf("%w: audio file missing or empty: %s", shared.ErrInvalidInput, audioPath)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return models.Separation{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	model, known := LookupModel(e.cfg.Separation.SelectedModelID)
	if !known {
		logger.Warn("unknown separation model, using default", "model", e.cfg.Separation.SelectedModelID, "fallback", model.ID)
	}

	rep := newReporter(e.bus, models.SeparationProgress, projectID, e.cfg.Tools.ProgressRate)
	if err := acquire(ctx, e.separationSlots, func() {
		rep.queued(models.SeparationQueued, "waiting for a free separation slot")
	}); err != nil {
		return models.Separation{}, err
	}
	defer e.separationSlots.Release(1)

	format := e.cfg.Separation.OutputFormat
	if format == "" {
		format = "wav"
	}

	run := toolRun{
		name: e.cfg.Separation.Command,
		args: []string{
			audioPath,
			"--model_filename", model.Filename,
			"--output_dir", outputDir,
			"--output_format", format,
			"--model_file_dir", e.cfg.Separation.ModelDir,
		},
		stderr: func(line string) {
			if p, ok := parsePercent(line); ok {
				rep.span(0, 0.99).report(p, line)
			}
		},
	}
	if strings.EqualFold(accel, "cpu") {
		run.env = append(run.env, "CUDA_VISIBLE_DEVICES=-1")
	}

	rep.report(0, "starting separator")
	logger.Info("separating vocals", "model", model.ID, "accel", accel)
	if err := runTool(ctx, logger, run); err != nil {
		return models.Separation{}, err
	}

	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	found, ok := findStems(outputDir, stem, model, format)
	if !ok {
		return models.Separation{}, fmt.Errorf("%w: separator produced no stems in %s", shared.ErrInvalidOutput, outputDir)
	}

	rep.span(0, 1).report(1, "separation complete")
	return models.Separation{VocalsPath: found.vocals, AccompanimentPath: found.instrumental}, nil
}

type matchResult struct {
	Segments []struct {
		MusicID    string  `json:"music_id"`
		MusicTitle string  `json:"music_title"`
		StartTime  float64 `json:"start_time"`
		EndTime    float64 `json:"end_time"`
		Confidence float64 `json:"confidence"`
	} `json:"segments"`
}

// MatchSegments fingerprints the accompaniment against the music library.
//
// musicIDs restricts the library when non-empty; minConfidence overrides the configured threshold.
func (e *ProcessEngine) MatchSegments(ctx context.Context, accompanimentPath, projectID string, minConfidence *float64, musicIDs []string) ([]models.Segment, error) {
	ctx, done := e.track(ctx, projectID, musicGroup)
	defer done()

	logger := e.logger.With("project", projectID, "stage", "match")

	conf := e.cfg.Matching.MinConfidence
	if minConfidence != nil {
		conf = *minConfidence
	}

	output := filepath.Join(filepath.Dir(accompanimentPath), projectID+"_matches.json")
	mc := e.cfg.Matching
	args := []string{
		"--audio", accompanimentPath,
		"--library", mc.LibraryDir,
		"--output_json", output,
		"--min_confidence", formatFloat(conf),
		"--window_size", formatFloat(mc.WindowSize),
		"--hop_size", formatFloat(mc.HopSize),
		"--min_segment_duration", formatFloat(mc.MinSegmentDuration),
		"--max_gap_duration", formatFloat(mc.MaxGapDuration),
	}
	if len(musicIDs) > 0 {
		args = append(args, "--music_ids", strings.Join(musicIDs, ","))
	}

	if err := clearOutput(output); err != nil {
		return nil, err
	}

	rep := newReporter(e.bus, models.MatchingProgress, projectID, e.cfg.Tools.ProgressRate)
	rep.report(0, "matching")
	logger.Info("matching segments", "min_confidence", conf, "library_filter", len(musicIDs))

	err := runTool(ctx, logger, toolRun{
		name: mc.Command,
		args: args,
		stderr: func(line string) {
			if p, ok := parsePercent(line); ok {
				rep.span(0, 0.99).report(p, line)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	var result matchResult
	if err := readJSON(output, &result); err != nil {
		return nil, err
	}

	segments := make([]models.Segment, 0, len(result.Segments))
	for _, s := range result.Segments {
		segments = append(segments, models.Segment{
			ProjectID:  projectID,
			MusicID:    s.MusicID,
			MusicTitle: s.MusicTitle,
			StartTime:  s.StartTime,
			EndTime:    s.EndTime,
			Confidence: s.Confidence,
			Status:     models.SegmentDetected,
			Type:       models.SegmentMusic,
		})
	}

	rep.span(0, 1).report(1, "matching complete")
	logger.Info("matching complete", "segments", len(segments))
	return segments, nil
}

type detectionResult struct {
	Segments []struct {
		StartTime  float64 `json:"start_time"`
		EndTime    float64 `json:"end_time"`
		Confidence float64 `json:"confidence"`
	} `json:"segments"`
	TotalFrames     int `json:"total_frames"`
	ProcessedFrames int `json:"processed_frames"`
	DetectionFrames int `json:"detection_frames"`
}

// DetectPersons runs the person detector over videoPath, writing its report under outputDir.
func (e *ProcessEngine) DetectPersons(ctx context.Context, projectID, videoPath, outputDir, accel string) ([]models.Segment, error) {
	ctx, done := e.track(ctx, projectID, detectionGroup)
	defer done()

	logger := e.logger.With("project", projectID, "stage", "detect")

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	rep := newReporter(e.bus, models.DetectionProgress, projectID, e.cfg.Tools.ProgressRate)
	if err := acquire(ctx, e.detectionSlots, func() {
		rep.queued(models.DetectionProgress, "waiting for a free detection slot")
	}); err != nil {
		return nil, err
	}
	defer e.detectionSlots.Release(1)

	dc := e.cfg.Detection
	output := filepath.Join(outputDir, "detection.json")
	args := []string{
		"--video_path", videoPath,
		"--model_path", dc.ModelPath,
		"--output_json", output,
		"--confidence", formatFloat(dc.Confidence),
		"--frame_interval", strconv.Itoa(dc.FrameInterval),
		"--device", detectorDevice(accel),
		"--max_gap_duration", formatFloat(dc.MaxGapDuration),
		"--min_segment_duration", formatFloat(dc.MinSegmentDuration),
	}

	if err := clearOutput(output); err != nil {
		return nil, err
	}

	rep.report(0, "detecting persons")
	logger.Info("detecting persons", "device", detectorDevice(accel))

	err := runTool(ctx, logger, toolRun{
		name: dc.Command,
		args: args,
		stderr: func(line string) {
			if p, ok := parsePercent(line); ok {
				rep.span(0, 0.99).report(p, line)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	var result detectionResult
	if err := readJSON(output, &result); err != nil {
		return nil, err
	}

	segments := make([]models.Segment, 0, len(result.Segments))
	for _, s := range result.Segments {
		segments = append(segments, models.Segment{
			ProjectID:  projectID,
			StartTime:  s.StartTime,
			EndTime:    s.EndTime,
			Confidence: s.Confidence,
			Status:     models.SegmentDetected,
			Type:       models.SegmentPerson,
		})
	}

	rep.span(0, 1).report(1, "detection complete")
	logger.Info("detection complete", "segments", len(segments), "frames", result.ProcessedFrames, "hits", result.DetectionFrames)
	return segments, nil
}

func detectorDevice(accel string) string {
	switch strings.ToLower(accel) {
	case "cpu":
		return "cpu"
	case "", "auto":
		return "auto"
	default:
		return "gpu"
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// clearOutput removes a result file left by an earlier run so it is never read back.
func clearOutput(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale output %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: failed to read %s: %v", shared.ErrInvalidOutput, path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: failed to parse %s: %v", shared.ErrInvalidOutput, path, err)
	}
	return nil
}
