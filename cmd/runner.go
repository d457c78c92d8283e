package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cutline/internal/engine"
	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/repositories"
	"github.com/desertthunder/cutline/internal/shared"
	"github.com/desertthunder/cutline/internal/tasks"
	"github.com/urfave/cli/v3"
)

// ProjectStore is the project storage the CLI needs beyond what the coordinator persists.
type ProjectStore interface {
	tasks.ProjectStore
	Create(project *models.Project) error
	GetByPath(path string) (*models.Project, error)
	Delete(id string) error
}

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Storage, the engine and the coordinator are opened lazily so commands like setup never touch them.
type Runner struct {
	config     *shared.Config
	configPath string
	configured bool
	logger     *log.Logger
	output     io.Writer
	store      ProjectStore
	engine     tasks.Engine
	events     tasks.EventSource
	coord      *tasks.Coordinator
	db         *sql.DB
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	Store      ProjectStore
	Engine     tasks.Engine
	Events     tasks.EventSource
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	configured := opts.Config != nil
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		configured: configured,
		logger:     opts.Logger,
		output:     opts.Output,
		store:      opts.Store,
		engine:     opts.Engine,
		events:     opts.Events,
	}
}

// Before loads the configuration file named by --config unless a config was injected, and
// applies the log level.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if path := cmd.String("config"); path != "" {
		r.configPath = path
	}

	if !r.configured && r.configPath != "" {
		if _, err := os.Stat(r.configPath); err == nil {
			config, err := shared.LoadConfig(r.configPath)
			if err != nil {
				return ctx, err
			}
			r.config = config
		}
	}

	level := r.config.Logging.Level
	if l := cmd.String("log-level"); l != "" {
		level = l
	}
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(level))
	return ctx, nil
}

// SetLogger replaces the logger. It must be called before the coordinator is opened.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// open wires the store, engine and coordinator on first use.
func (r *Runner) open() error {
	if r.coord != nil {
		return nil
	}

	if r.store == nil {
		db, err := shared.OpenDatabase(r.config.Database)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		r.db = db
		r.store = repositories.NewProjectRepository(db)
	}

	if r.engine == nil {
		eng := engine.NewProcessEngine(engine.Options{Config: r.config, Logger: r.logger})
		r.engine, r.events = eng, eng
	}

	r.coord = tasks.NewCoordinator(tasks.Options{
		Engine: r.engine,
		Events: r.events,
		Store:  r.store,
		Config: r.config,
		Logger: r.logger,
	})
	return nil
}

// Close waits for started runs, then releases the coordinator and database.
func (r *Runner) Close() {
	if r.coord != nil {
		r.coord.Close()
		r.coord = nil
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			r.logger.Warn("failed to close database", "error", err)
		}
		r.db = nil
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, projectCommand, runCommand, detectCommand, modelsCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
