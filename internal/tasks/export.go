package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/cutline/internal/formatter"
	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
)

// RunExport re-encodes the stored segments of projectID that are not marked removed into
// output, or into one file per segment under the directory output when separate is set.
//
// Export occupies the project's music slot: it is refused while either kind runs and is
// stopped by [Coordinator.CancelPipeline]. It returns the written files.
func (c *Coordinator) RunExport(ctx context.Context, projectID, output string, separate bool) ([]string, error) {
	project, err := c.loadForExport(projectID)
	if err != nil {
		return nil, err
	}
	runCtx, err := c.begin(ctx, projectID, KindMusic, nil)
	if err != nil {
		return nil, err
	}
	return c.export(runCtx, project, output, separate)
}

// StartExport applies the start guard synchronously and exports in the background.
func (c *Coordinator) StartExport(ctx context.Context, projectID, output string, separate bool) error {
	project, err := c.loadForExport(projectID)
	if err != nil {
		return err
	}
	runCtx, err := c.begin(ctx, projectID, KindMusic, nil)
	if err != nil {
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.export(runCtx, project, output, separate)
	}()
	return nil
}

func (c *Coordinator) loadForExport(projectID string) (*models.Project, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", shared.ErrMissingArgument)
	}
	return c.store.LoadProject(projectID)
}

func (c *Coordinator) export(ctx context.Context, project *models.Project, output string, separate bool) ([]string, error) {
	c.update(project.ID, func(s *models.ProcessingState) {
		s.ProcessingMessage = formatter.Progress(models.StageExporting, 0)
	})

	files, err := c.engine.ExportVideo(ctx, models.VideoExport{
		ProjectID: project.ID,
		VideoPath: project.SourceVideoPath,
		Output:    output,
		Separate:  separate,
		Segments:  project.Segments,
	})
	if err != nil {
		files = nil
	}

	err = c.finish(project.ID, KindMusic, StepExport, formatter.Exported(len(files)), err)
	c.notifyResult(Result{ProjectID: project.ID, Kind: KindMusic, Files: files, Err: err})
	if err != nil {
		return nil, err
	}
	return files, nil
}
