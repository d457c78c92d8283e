package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/cutline/internal/shared"
	"github.com/desertthunder/cutline/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive status board.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(r.config.Logging.File)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	shared.SetLogLevel(fileLogger, shared.ParseLogLevel(r.config.Logging.Level))
	r.SetLogger(fileLogger)

	if err := r.open(); err != nil {
		return err
	}

	model := ui.NewModel(ctx, r.coord, r.store, musicFilter(cmd.StringSlice("music-id")))
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	r.cancelAll()
	return nil
}

// cancelAll requests cancellation of every run still active so the process can exit.
func (r *Runner) cancelAll() {
	projects, err := r.store.GetProjects()
	if err != nil {
		r.logger.Warn("failed to list projects for shutdown", "error", err)
		return
	}
	for _, p := range projects {
		for _, cancel := range []func(string) error{r.coord.CancelPipeline, r.coord.CancelDetection} {
			if err := cancel(p.ID); err != nil && !errors.Is(err, shared.ErrNoActiveTask) {
				r.logger.Warn("failed to cancel run on exit", "project", p.ID, "error", err)
			}
		}
	}
}
