package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertthunder/cutline/internal/formatter"
	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
	"github.com/desertthunder/cutline/internal/tasks"
	"github.com/urfave/cli/v3"
)

// ProjectAdd creates a project bound to a source video.
func (r *Runner) ProjectAdd(ctx context.Context, cmd *cli.Command) error {
	video := cmd.StringArg("video")
	if video == "" {
		return fmt.Errorf("%w: video path is required", shared.ErrMissingArgument)
	}

	path, err := filepath.Abs(video)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s is not a readable file", shared.ErrInvalidInput, video)
	}

	name := cmd.String("name")
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if err := r.open(); err != nil {
		return err
	}

	project := models.NewProject(name, path)
	if err := r.store.Create(project); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	r.logger.Info("project created", "id", project.ID, "video", path)
	r.writePlain("✓ Created project %s (%s)\n", project.Name, project.ID)
	return nil
}

// ProjectList lists projects with their segment counts.
func (r *Runner) ProjectList(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	projects, err := r.store.GetProjects()
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(projects, cmd.Bool("pretty"))
	}

	if len(projects) == 0 {
		r.writePlain("No projects. Create one with 'cutline project add <video>'\n")
		return nil
	}

	r.writePlainHeader(fmt.Sprintf("Projects (%d)", len(projects)))
	for _, p := range projects {
		r.writePlain("%-36s  %-24s  %3d music  %3d persons\n",
			p.ID, p.Name, p.CountByType(models.SegmentMusic), p.CountByType(models.SegmentPerson))
	}
	return nil
}

// ProjectShow prints a project's segments.
func (r *Runner) ProjectShow(ctx context.Context, cmd *cli.Command) error {
	project, err := r.loadProject(cmd.StringArg("id"))
	if err != nil {
		return err
	}

	r.writePlainHeader(project.Name)
	r.writePlain("Video: %s\n", project.SourceVideoPath)
	r.writePlain("Segments: %d\n\n", len(project.Segments))
	for i, s := range project.Segments {
		r.writePlain("%3d. [%s] %s\n", i+1, s.Type, formatter.SegmentLine(s))
	}
	return nil
}

// ProjectRemove deletes a project. It refuses while the project is processing.
func (r *Runner) ProjectRemove(ctx context.Context, cmd *cli.Command) error {
	project, err := r.loadProject(cmd.StringArg("id"))
	if err != nil {
		return err
	}

	if err := r.coord.Forget(project.ID); err != nil {
		return err
	}
	if err := r.store.Delete(project.ID); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	r.logger.Info("project deleted", "id", project.ID)
	r.writePlain("✓ Deleted project %s\n", project.Name)
	return nil
}

// ProjectExport writes a project's segments as csv, markdown, text or json. With --video it
// re-encodes the kept segments of the source video instead.
func (r *Runner) ProjectExport(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("video") {
		return r.exportVideo(ctx, cmd)
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	project, err := r.loadProject(cmd.StringArg("id"))
	if err != nil {
		return err
	}

	path, err := formatter.WriteExport(project, format, cmd.String("output"))
	if err != nil {
		return err
	}

	r.logger.Info("project exported", "id", project.ID, "format", format, "path", path)
	r.writePlain("✓ Exported %d segments to %s\n", len(project.Segments), path)
	return nil
}

func (r *Runner) exportVideo(ctx context.Context, cmd *cli.Command) error {
	project, err := r.loadProject(cmd.StringArg("id"))
	if err != nil {
		return err
	}

	separate := cmd.Bool("separate")
	output := cmd.String("output")
	if output == "" {
		output = videoExportPath(project.SourceVideoPath, separate)
	}

	r.coord.SwitchForeground(project.ID)
	printer := &livePrinter{r: r, kind: tasks.KindMusic}
	sub := r.coord.Subscribe(tasks.Listener{OnLive: printer.print})
	defer sub.Close()

	stop := r.cancelOnInterrupt(project.ID, tasks.KindMusic)
	defer stop()

	r.writePlainHeader(fmt.Sprintf("%s: video export", project.Name))
	files, err := r.coord.RunExport(ctx, project.ID, output, separate)
	if errors.Is(err, shared.ErrCancelled) {
		r.writePlainln("Cancelled. No video was exported.")
		return nil
	}
	if err != nil {
		return err
	}

	r.logger.Info("video exported", "id", project.ID, "files", len(files), "output", output)
	r.writePlainln("✓ %s", formatter.Exported(len(files)))
	for _, f := range files {
		r.writePlain("  %s\n", f)
	}
	return nil
}

// videoExportPath places a video export next to its source: "<stem>_cut<ext>", or the
// directory "<stem>_clips" for separate files.
func videoExportPath(source string, separate bool) string {
	ext := filepath.Ext(source)
	stem := strings.TrimSuffix(source, ext)
	if separate {
		return stem + "_clips"
	}
	return stem + "_cut" + ext
}

func (r *Runner) loadProject(id string) (*models.Project, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: project id is required", shared.ErrMissingArgument)
	}
	if err := r.open(); err != nil {
		return nil, err
	}

	project, err := r.store.LoadProject(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", id, err)
	}
	return project, nil
}
