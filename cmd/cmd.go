// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand handles setup operations for the database and configuration file.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:  "config",
				Usage: "Write a config.toml populated with defaults",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output path for the config file",
						Value:   "config.toml",
					},
				},
				Action: r.SetupConfig,
			},
		},
	}
}

// projectCommand handles project management
func projectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "project",
		Aliases: []string{"p"},
		Usage:   "Manage projects",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Create a project for a source video",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "video"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "Project name (default: video file name)",
					},
				},
				Action: r.ProjectAdd,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List projects",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
					},
				},
				Action: r.ProjectList,
			},
			{
				Name:  "show",
				Usage: "Show a project's segments",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.ProjectShow,
			},
			{
				Name:    "rm",
				Aliases: []string{"delete"},
				Usage:   "Delete a project and its segments",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.ProjectRemove,
			},
			{
				Name:  "export",
				Usage: "Export a project's segments",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format: csv, md, txt or json",
						Value:   "csv",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path (default: <id>_segments.<format>)",
					},
					&cli.BoolFlag{
						Name:  "video",
						Usage: "Re-encode the kept segments of the source video instead of writing a segment list",
					},
					&cli.BoolFlag{
						Name:  "separate",
						Usage: "With --video, write one file per segment into the --output directory",
					},
				},
				Action: r.ProjectExport,
			},
		},
	}
}

// runCommand runs the music pipeline
func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Extract audio, separate vocals and match music for a project",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id"},
		},
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "music-id",
				Usage: "Restrict matching to these library tracks (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Run every project with a worker pool",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Concurrent runs with --all (max 8)",
				Value: 2,
			},
			&cli.StringFlag{
				Name:  "manifest",
				Usage: "Write a JSON manifest of batch outcomes to this path",
			},
		},
		Action: r.Run,
	}
}

// detectCommand runs person detection
func detectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "detect",
		Usage: "Detect people in a project's video, replacing its segments",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id"},
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Run every project with a worker pool",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Concurrent runs with --all (max 8)",
				Value: 2,
			},
			&cli.StringFlag{
				Name:  "manifest",
				Usage: "Write a JSON manifest of batch outcomes to this path",
			},
		},
		Action: r.Detect,
	}
}

// modelsCommand lists separation models
func modelsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "models",
		Usage:  "List known vocal separation models",
		Action: r.Models,
	}
}

// tuiCommand returns the top-level TUI command for the interactive status board.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"watch", "ui"},
		Usage:   "Launch the interactive status board",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "music-id",
				Usage: "Restrict music runs started from the board to these library tracks",
			},
		},
		Action: r.TUI,
	}
}
