package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
)

// BatchOpts configures [Coordinator.RunBatch].
type BatchOpts struct {
	Kind         Kind                // Run kind applied to every project
	NumWorkers   int                 // Concurrent runs (default: 2, max: 8)
	Filter       *models.MusicFilter // Optional library filter for music runs
	ManifestPath string              // Optional JSON manifest written when the batch ends
}

// BatchUpdate reports one settled project of a batch.
type BatchUpdate struct {
	Done    int
	Total   int
	Outcome BatchOutcome
}

// BatchOutcome is the result of one project in a batch.
type BatchOutcome struct {
	ProjectID string        `json:"project_id"`
	Name      string        `json:"name"`
	Segments  int           `json:"segments"`
	Status    string        `json:"status"` // ok, cancelled, conflict or failed
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// BatchResult summarizes a batch.
type BatchResult struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Outcomes  []BatchOutcome `json:"outcomes"`
}

// RunBatch runs one kind of job over many projects with a bounded worker pool.
//
// Each project goes through the same start guard as a single run, so a project that is already
// busy is reported as a conflict rather than started twice. Cancelling ctx stops dispatch and
// cancels the in-flight runs.
func (c *Coordinator) RunBatch(ctx context.Context, progress chan<- BatchUpdate, projects []*models.Project, opts BatchOpts) (*BatchResult, error) {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 2
	}
	if opts.NumWorkers > 8 {
		opts.NumWorkers = 8
	}

	result := &BatchResult{Total: len(projects), Outcomes: make([]BatchOutcome, 0, len(projects))}

	jobs := make(chan *models.Project)
	outcomes := make(chan BatchOutcome, len(projects))

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go c.batchWorker(ctx, &wg, jobs, outcomes, opts)
	}

	go func() {
		defer close(jobs)
		for _, p := range projects {
			select {
			case <-ctx.Done():
				return
			case jobs <- p:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for o := range outcomes {
		result.Outcomes = append(result.Outcomes, o)
		if o.Status == "ok" {
			result.Succeeded++
		} else {
			result.Failed++
		}
		sendProgress(progress, BatchUpdate{Done: len(result.Outcomes), Total: result.Total, Outcome: o})
	}

	if opts.ManifestPath != "" {
		if err := writeManifest(result, opts.ManifestPath); err != nil {
			return result, fmt.Errorf("batch completed but failed to write manifest: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("%w: batch stopped after %d of %d projects", shared.ErrCancelled, len(result.Outcomes), result.Total)
	}
	return result, nil
}

func (c *Coordinator) batchWorker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan *models.Project, outcomes chan<- BatchOutcome, opts BatchOpts) {
	defer wg.Done()

	for p := range jobs {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		var (
			segments []models.Segment
			err      error
		)
		switch opts.Kind {
		case KindDetection:
			segments, err = c.RunDetection(ctx, p.ID, p.SourceVideoPath)
		default:
			segments, err = c.RunPipeline(ctx, p.ID, p.SourceVideoPath, opts.Filter)
		}

		o := BatchOutcome{ProjectID: p.ID, Name: p.Name, Segments: len(segments), Status: "ok", Elapsed: time.Since(start)}
		switch {
		case err == nil:
		case errors.Is(err, shared.ErrCancelled):
			o.Status = "cancelled"
		case errors.Is(err, shared.ErrTaskConflict):
			o.Status = "conflict"
		default:
			o.Status = "failed"
		}
		if err != nil {
			o.Error = err.Error()
		}
		outcomes <- o
	}
}

// sendProgress sends an update through the channel without blocking.
func sendProgress(progress chan<- BatchUpdate, update BatchUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func writeManifest(result *BatchResult, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
