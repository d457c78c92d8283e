package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/desertthunder/cutline/internal/formatter"
	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
	"github.com/desertthunder/cutline/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Run runs the music pipeline for one project, or for every project with --all.
func (r *Runner) Run(ctx context.Context, cmd *cli.Command) error {
	filter := musicFilter(cmd.StringSlice("music-id"))
	if cmd.Bool("all") {
		return r.runBatch(ctx, cmd, tasks.KindMusic, filter)
	}

	project, err := r.loadProject(cmd.StringArg("id"))
	if err != nil {
		return err
	}
	return r.runOne(ctx, project, tasks.KindMusic, filter)
}

// Detect runs person detection for one project, or for every project with --all.
func (r *Runner) Detect(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("all") {
		return r.runBatch(ctx, cmd, tasks.KindDetection, nil)
	}

	project, err := r.loadProject(cmd.StringArg("id"))
	if err != nil {
		return err
	}
	return r.runOne(ctx, project, tasks.KindDetection, nil)
}

// runOne runs a single job in the foreground, printing live progress. An interrupt requests
// cancellation instead of killing the process.
func (r *Runner) runOne(ctx context.Context, project *models.Project, kind tasks.Kind, filter *models.MusicFilter) error {
	r.coord.SwitchForeground(project.ID)

	printer := &livePrinter{r: r, kind: kind}
	sub := r.coord.Subscribe(tasks.Listener{OnLive: printer.print})
	defer sub.Close()

	stop := r.cancelOnInterrupt(project.ID, kind)
	defer stop()

	r.writePlainHeader(fmt.Sprintf("%s: %s", project.Name, kind))

	var (
		segments []models.Segment
		err      error
	)
	switch kind {
	case tasks.KindDetection:
		segments, err = r.coord.RunDetection(ctx, project.ID, project.SourceVideoPath)
	default:
		segments, err = r.coord.RunPipeline(ctx, project.ID, project.SourceVideoPath, filter)
	}

	if errors.Is(err, shared.ErrCancelled) {
		r.writePlainln("Cancelled. %s keeps its previous segments.", project.Name)
		return nil
	}
	if err != nil {
		return err
	}

	segType := models.SegmentMusic
	if kind == tasks.KindDetection {
		segType = models.SegmentPerson
	}
	r.writePlainln("✓ %s", formatter.Done(len(segments), segType))
	for i, s := range segments {
		r.writePlain("%3d. %s\n", i+1, formatter.SegmentLine(s))
	}
	return nil
}

// runBatch runs kind over every stored project.
func (r *Runner) runBatch(ctx context.Context, cmd *cli.Command, kind tasks.Kind, filter *models.MusicFilter) error {
	if err := r.open(); err != nil {
		return err
	}

	projects, err := r.store.GetProjects()
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}
	if len(projects) == 0 {
		r.writePlain("No projects to run\n")
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := make(chan tasks.BatchUpdate, len(projects))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range progress {
			o := u.Outcome
			line := fmt.Sprintf("[%d/%d] %s: %s", u.Done, u.Total, o.Name, o.Status)
			if o.Error != "" {
				line += " (" + o.Error + ")"
			}
			r.writePlain("%s\n", line)
		}
	}()

	r.writePlainHeader(fmt.Sprintf("Batch %s run over %d projects", kind, len(projects)))
	result, err := r.coord.RunBatch(ctx, progress, projects, tasks.BatchOpts{
		Kind:         kind,
		NumWorkers:   cmd.Int("workers"),
		Filter:       filter,
		ManifestPath: cmd.String("manifest"),
	})
	close(progress)
	<-done

	if result != nil {
		r.writePlainln("%d succeeded, %d failed", result.Succeeded, result.Failed)
	}
	if errors.Is(err, shared.ErrCancelled) {
		r.logger.Warn("batch interrupted", "error", err)
		return nil
	}
	return err
}

// cancelOnInterrupt forwards SIGINT and SIGTERM to the coordinator as a cancel request for
// projectID. The returned func stops listening.
func (r *Runner) cancelOnInterrupt(projectID string, kind tasks.Kind) func() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sig:
				r.logger.Warn("interrupt received, cancelling", "project", projectID, "kind", kind)
				cancel := r.coord.CancelPipeline
				if kind == tasks.KindDetection {
					cancel = r.coord.CancelDetection
				}
				if err := cancel(projectID); err != nil {
					r.logger.Error("cancel failed", "project", projectID, "error", err)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sig)
		close(done)
	}
}

// livePrinter writes each new foreground message once.
type livePrinter struct {
	r    *Runner
	kind tasks.Kind
	mu   sync.Mutex
	last string
}

func (p *livePrinter) print(st models.ProcessingState) {
	msg := st.ProcessingMessage
	if p.kind == tasks.KindDetection {
		msg = st.DetectionMessage
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if msg == "" || msg == p.last {
		return
	}
	p.last = msg
	p.r.writePlain("  %s\n", msg)
}

func musicFilter(ids []string) *models.MusicFilter {
	if len(ids) == 0 {
		return nil
	}
	return &models.MusicFilter{UseCustomLibrary: true, MusicIDs: ids}
}
