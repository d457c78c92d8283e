package tasks

import (
	"context"
	"errors"

	"github.com/desertthunder/cutline/internal/formatter"
	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
)

// RunPipeline runs extract, separate and match for projectID in order and persists the
// matched segments as the project's segment list.
//
// Stages whose artifacts are still valid are skipped. A start while the project is running
// either kind, or has a pending cancellation, fails with [shared.ErrTaskConflict] before any
// engine call. A cancelled run returns an error wrapping [shared.ErrCancelled]; any other
// failure, including a failed save, is a [*StageError].
func (c *Coordinator) RunPipeline(ctx context.Context, projectID, videoPath string, filter *models.MusicFilter) ([]models.Segment, error) {
	runCtx, err := c.begin(ctx, projectID, KindMusic, filter)
	if err != nil {
		return nil, err
	}
	return c.pipeline(runCtx, projectID, videoPath, filter)
}

// StartPipeline applies the start guard synchronously and runs the pipeline in the background.
// The outcome is delivered to listeners as a [Result].
func (c *Coordinator) StartPipeline(ctx context.Context, projectID, videoPath string, filter *models.MusicFilter) error {
	runCtx, err := c.begin(ctx, projectID, KindMusic, filter)
	if err != nil {
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pipeline(runCtx, projectID, videoPath, filter)
	}()
	return nil
}

func (c *Coordinator) pipeline(ctx context.Context, projectID, videoPath string, filter *models.MusicFilter) ([]models.Segment, error) {
	logger := c.logger.With("project", projectID, "kind", KindMusic)

	cache, err := c.engine.CheckCache(ctx, projectID, videoPath, c.cfg.Separation.SelectedModelID)
	if err != nil {
		logger.Warn("cache precheck failed, running every stage", "error", err)
		cache = models.CacheStatus{}
	}

	audioPath := cache.AudioPath
	if cache.AudioValid && audioPath != "" {
		logger.Info("reusing extracted audio", "path", audioPath)
		c.update(projectID, func(s *models.ProcessingState) {
			s.AudioPath = audioPath
			s.ProcessingProgress = overall(models.ExtractProgress, 1)
			s.ProcessingMessage = formatter.Cached(models.StageExtracting)
		})
	} else {
		cache.SeparationValid = false
		audioPath, err = c.engine.ExtractAudio(ctx, videoPath, c.cfg.AudioPath(projectID), projectID)
		if err != nil {
			return c.settle(projectID, KindMusic, StepExtract, nil, err)
		}
		c.update(projectID, func(s *models.ProcessingState) { s.AudioPath = audioPath })
	}

	sep := models.Separation{VocalsPath: cache.VocalsPath, AccompanimentPath: cache.AccompanimentPath}
	if cache.SeparationValid && sep.AccompanimentPath != "" {
		logger.Info("reusing separated stems", "accompaniment", sep.AccompanimentPath)
		c.update(projectID, func(s *models.ProcessingState) {
			s.VocalsPath = sep.VocalsPath
			s.AccompanimentPath = sep.AccompanimentPath
			s.ProcessingProgress = overall(models.SeparationProgress, 1)
			s.ProcessingMessage = formatter.Cached(models.StageSeparating)
		})
	} else {
		sep, err = c.engine.SeparateVocals(ctx, audioPath, c.cfg.SeparatedDir(projectID), c.cfg.Separation.Acceleration, projectID)
		if err != nil {
			return c.settle(projectID, KindMusic, StepSeparate, nil, err)
		}
		c.update(projectID, func(s *models.ProcessingState) {
			s.VocalsPath = sep.VocalsPath
			s.AccompanimentPath = sep.AccompanimentPath
		})
	}

	segments, err := c.engine.MatchSegments(ctx, sep.AccompanimentPath, projectID, nil, filter.IDs())
	if err != nil {
		return c.settle(projectID, KindMusic, StepMatch, nil, err)
	}

	if err := c.persist(projectID, segments); err != nil {
		return c.settle(projectID, KindMusic, StepPersist, nil, err)
	}
	return c.settle(projectID, KindMusic, StepMatch, segments, nil)
}

// isCancellation reports whether err carries a structured cancellation signal.
func isCancellation(err error) bool {
	return errors.Is(err, shared.ErrCancelled) || errors.Is(err, context.Canceled)
}
