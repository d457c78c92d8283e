package tasks

import (
	"context"

	"github.com/desertthunder/cutline/internal/models"
)

// RunDetection runs the person detector over videoPath and replaces projectID's entire segment
// list with the result. The start guard and cancellation follow [Coordinator.RunPipeline]; a
// detection cannot start while a music pipeline runs on the same project, and vice versa.
func (c *Coordinator) RunDetection(ctx context.Context, projectID, videoPath string) ([]models.Segment, error) {
	runCtx, err := c.begin(ctx, projectID, KindDetection, nil)
	if err != nil {
		return nil, err
	}
	return c.detection(runCtx, projectID, videoPath)
}

// StartDetection applies the start guard synchronously and runs detection in the background.
func (c *Coordinator) StartDetection(ctx context.Context, projectID, videoPath string) error {
	runCtx, err := c.begin(ctx, projectID, KindDetection, nil)
	if err != nil {
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.detection(runCtx, projectID, videoPath)
	}()
	return nil
}

func (c *Coordinator) detection(ctx context.Context, projectID, videoPath string) ([]models.Segment, error) {
	segments, err := c.engine.DetectPersons(ctx, projectID, videoPath, c.cfg.DetectionDir(projectID), c.cfg.Detection.Acceleration)
	if err != nil {
		return c.settle(projectID, KindDetection, StepDetect, nil, err)
	}

	if err := c.persist(projectID, segments); err != nil {
		return c.settle(projectID, KindDetection, StepPersist, nil, err)
	}

	c.restoreStatus(projectID)
	return c.settle(projectID, KindDetection, StepDetect, segments, nil)
}
