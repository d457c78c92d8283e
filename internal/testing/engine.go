package testing

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/desertthunder/cutline/internal/engine"
	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
)

// Engine step names used by [FakeEngine] for errors, holds and the call log.
const (
	StepCheck    = "check"
	StepExtract  = "extract"
	StepSeparate = "separate"
	StepMatch    = "match"
	StepDetect   = "detect"
	StepExport   = "export"
)

// FakeEngine is a test double for the processing engine.
//
// Every step publishes a 0.5 progress event on its own bus, optionally blocks until released
// or cancelled, then fails with the configured error or publishes a completion event.
type FakeEngine struct {
	*engine.Bus

	mu       sync.Mutex
	cache    models.CacheStatus
	cacheErr error
	segments []models.Segment
	persons  []models.Segment
	errs     map[string]error
	stopErr  error
	holds    map[string]chan struct{}
	calls    []string
	musicIDs [][]string
	exports  []models.VideoExport
	entered  chan string
}

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		Bus:     engine.NewBus(),
		errs:    make(map[string]error),
		holds:   make(map[string]chan struct{}),
		entered: make(chan string, 64),
	}
}

// SetCache sets the precheck result and error.
func (f *FakeEngine) SetCache(status models.CacheStatus, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache, f.cacheErr = status, err
}

// SetSegments sets the music matches and person detections returned by later calls.
func (f *FakeEngine) SetSegments(music, persons []models.Segment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments, f.persons = music, persons
}

// Fail makes step return err.
func (f *FakeEngine) Fail(step string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[step] = err
}

// FailStop makes both cancel requests return err.
func (f *FakeEngine) FailStop(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopErr = err
}

// Hold blocks later calls of step until [FakeEngine.Release] or their context ends.
func (f *FakeEngine) Hold(step string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holds[step] = make(chan struct{})
}

// Release unblocks calls held at step.
func (f *FakeEngine) Release(step string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.holds[step]; ok {
		close(ch)
		delete(f.holds, step)
	}
}

// Entered receives the name of every step once its first progress event is published.
func (f *FakeEngine) Entered() <-chan string {
	return f.entered
}

// Calls returns the call log, e.g. "extract:p1" or "cancel-processing:p1".
func (f *FakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Called reports how many calls to step were logged.
func (f *FakeEngine) Called(step string) int {
	n := 0
	for _, c := range f.Calls() {
		if len(c) > len(step) && c[:len(step)+1] == step+":" {
			n++
		}
	}
	return n
}

// MusicIDs returns the library filters passed to each match call.
func (f *FakeEngine) MusicIDs() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.musicIDs)
}

func (f *FakeEngine) step(ctx context.Context, step, projectID string, kind models.EventKind) error {
	f.mu.Lock()
	f.calls = append(f.calls, step+":"+projectID)
	hold := f.holds[step]
	err := f.errs[step]
	f.mu.Unlock()

	f.Publish(models.Event{Kind: kind, ProjectID: projectID, Progress: 0.5})
	select {
	case f.entered <- step:
	default:
	}

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", shared.ErrCancelled, step, ctx.Err())
		}
	}
	if err != nil {
		return err
	}
	f.Publish(models.Event{Kind: kind, ProjectID: projectID, Progress: 1, Completed: true})
	return nil
}

func (f *FakeEngine) CheckCache(ctx context.Context, projectID, videoPath, modelID string) (models.CacheStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, StepCheck+":"+projectID)
	return f.cache, f.cacheErr
}

func (f *FakeEngine) ExtractAudio(ctx context.Context, videoPath, outputPath, projectID string) (string, error) {
	if err := f.step(ctx, StepExtract, projectID, models.ExtractProgress); err != nil {
		return "", err
	}
	return outputPath, nil
}

func (f *FakeEngine) SeparateVocals(ctx context.Context, audioPath, outputDir, accel, projectID string) (models.Separation, error) {
	if err := f.step(ctx, StepSeparate, projectID, models.SeparationProgress); err != nil {
		return models.Separation{}, err
	}
	return models.Separation{
		VocalsPath:        outputDir + "/vocals.wav",
		AccompanimentPath: outputDir + "/instrumental.wav",
	}, nil
}

func (f *FakeEngine) MatchSegments(ctx context.Context, accompanimentPath, projectID string, minConfidence *float64, musicIDs []string) ([]models.Segment, error) {
	f.mu.Lock()
	f.musicIDs = append(f.musicIDs, slices.Clone(musicIDs))
	f.mu.Unlock()

	if err := f.step(ctx, StepMatch, projectID, models.MatchingProgress); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return withProject(f.segments, projectID), nil
}

func (f *FakeEngine) DetectPersons(ctx context.Context, projectID, videoPath, outputDir, accel string) ([]models.Segment, error) {
	if err := f.step(ctx, StepDetect, projectID, models.DetectionProgress); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return withProject(f.persons, projectID), nil
}

// ExportVideo records req and returns one file per kept segment with Separate set, else req.Output.
func (f *FakeEngine) ExportVideo(ctx context.Context, req models.VideoExport) ([]string, error) {
	f.mu.Lock()
	f.exports = append(f.exports, req)
	f.mu.Unlock()

	if err := f.step(ctx, StepExport, req.ProjectID, models.ExportProgress); err != nil {
		return nil, err
	}
	if !req.Separate {
		return []string{req.Output}, nil
	}
	var files []string
	for _, s := range req.Segments {
		if s.Status != models.SegmentRemoved {
			files = append(files, fmt.Sprintf("%s/%s_%03d.mp4", req.Output, req.ProjectID, len(files)+1))
		}
	}
	return files, nil
}

// Exports returns every export request received.
func (f *FakeEngine) Exports() []models.VideoExport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.exports)
}

func (f *FakeEngine) CancelProcessing(projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "cancel-processing:"+projectID)
	return f.stopErr
}

func (f *FakeEngine) CancelDetection(projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "cancel-detection:"+projectID)
	return f.stopErr
}

func withProject(segments []models.Segment, projectID string) []models.Segment {
	out := slices.Clone(segments)
	for i := range out {
		out[i].ProjectID = projectID
	}
	return out
}
