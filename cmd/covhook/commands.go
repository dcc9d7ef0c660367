package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/schaermu/covhook/internal/config"
	"github.com/schaermu/covhook/internal/coverage"
	"github.com/schaermu/covhook/internal/entrypoint"
	"github.com/schaermu/covhook/internal/fileset"
	"github.com/schaermu/covhook/internal/hook"
	"github.com/schaermu/covhook/internal/python"
	"github.com/schaermu/covhook/internal/ui"
)

// Seams for tests
var (
	executable      = os.Executable
	newRuntime      = func(interpreter string) python.Runtime { return python.NewClient(interpreter) }
	newCoverageTool = func(interpreter string, s coverage.Settings) coverage.Tool {
		return coverage.NewCLITool(interpreter, s)
	}
)

// app holds everything one command invocation works with
type app struct {
	cfg     *config.Config
	files   fileset.FileSet
	patcher *entrypoint.Patcher
	engine  *hook.Engine
	logger  *slog.Logger
}

func newApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, err
	}

	runtime := newRuntime(cfg.Python.Interpreter)

	siteDir := cfg.Python.SiteDir
	if siteDir == "" {
		siteDir, err = runtime.SiteDir(ctx)
		if err != nil {
			return nil, err
		}
		logger.Debug("site directory reported by interpreter", "dir", siteDir)
	}

	self, err := executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate covhook executable: %w", err)
	}

	files, err := fileset.Resolve(self, siteDir, cfg.HookFileName(), fileset.Overrides{
		SourceHook:   cfg.Hook.Source,
		Requirements: cfg.Hook.Requirements,
	})
	if err != nil {
		return nil, err
	}

	roots := append([]string{files.SiteDir()}, cfg.EntryPoints.SearchPaths...)
	resolver := entrypoint.NewResolver(roots, cfg.EntryPoints.Modules)
	patcher := entrypoint.NewPatcher(entrypoint.TargetsFromConfig(cfg.EntryPoints), resolver, cfg.Hook.Module, logger)
	engine := hook.NewEngine(files, cfg.Hook.Module, cfg.Coverage.Root, runtime, patcher, logger)

	return &app{
		cfg:     cfg,
		files:   files,
		patcher: patcher,
		engine:  engine,
		logger:  logger,
	}, nil
}

// withApp runs fn with a signal-aware context and a fully wired app
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app, out *ui.Printer) error) error {
	logger := setupLogger()

	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := newApp(ctx, logger)
	if err != nil {
		return err
	}
	return fn(ctx, a, ui.NewPrinter(cmd.OutOrStdout()))
}

func newInstallCmd() *cobra.Command {
	var opts hook.Options

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the coverage hook and patch entry files",
		Long: `Copy the bundled hook into the Python site directory, prepare the shared
runtime data directory and add the activation statement to every entry file.

A hook file with different content is only replaced with --force.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, out *ui.Printer) error {
				res, err := a.engine.Install(ctx, opts)
				if err != nil {
					return err
				}
				switch res.Outcome {
				case hook.OutcomeUnchanged:
					out.OK("coverage hook already installed at %s", a.files.TargetHook)
				case hook.OutcomeReinstalled:
					out.OK("coverage hook reinstalled at %s", a.files.TargetHook)
				default:
					out.OK("coverage hook installed at %s", a.files.TargetHook)
				}
				printPatch(out, res.Patch)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "replace a hook file covhook did not install")
	cmd.Flags().BoolVar(&opts.WithDeps, "deps", false, "also pip install the hook requirements")
	return cmd
}

func newUninstallCmd() *cobra.Command {
	var opts hook.Options

	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the coverage hook and unpatch entry files",
		Long: `Remove the shared hook file and its compiled variants, then strip the
activation statement from every entry file.

A hook file covhook did not install is left in place unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, out *ui.Printer) error {
				res, err := a.engine.Uninstall(ctx, opts)
				if err != nil {
					return err
				}
				switch res.Outcome {
				case hook.OutcomeNotInstalled:
					out.OK("coverage hook is not installed, nothing to do")
				case hook.OutcomeSkippedForeign:
					out.Warn("%s was not installed by covhook, leaving it in place (use --force to remove)", a.files.TargetHook)
				default:
					out.OK("coverage hook removed from %s", a.files.SiteDir())
					for _, f := range res.Removed {
						out.Info("removed %s", f)
					}
				}
				printPatch(out, res.Patch)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "remove the hook file even if covhook did not install it")
	cmd.Flags().BoolVar(&opts.WithDeps, "deps", false, "also pip uninstall the hook requirements")
	return cmd
}

func newReportCmd() *cobra.Command {
	var opts coverage.ReportOptions

	cmd := &cobra.Command{
		Use:   "report <output_directory>",
		Short: "Combine collected coverage data and write reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, out *ui.Printer) error {
				settings := coverage.NewSettings(a.cfg.Coverage)
				tool := newCoverageTool(a.cfg.Python.Interpreter, settings)
				reporter := coverage.NewReporter(tool, a.engine, a.logger)

				if err := reporter.Generate(ctx, args[0], opts); err != nil {
					return err
				}
				out.OK("coverage report written to %s", args[0])
				if opts.HTML {
					out.Info("html: %s", coverage.HTMLDirName)
				}
				if opts.XML {
					out.Info("xml: %s", coverage.XMLFileName)
				}
				if opts.Erase {
					out.Info("collected data erased")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&opts.HTML, "html", false, "also write an HTML report")
	cmd.Flags().BoolVar(&opts.XML, "xml", false, "also write a Cobertura XML report")
	cmd.Flags().BoolVar(&opts.Erase, "erase", false, "erase collected data after reporting")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the hook install state and entry file patches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, out *ui.Printer) error {
				state, err := a.engine.State()
				if err != nil {
					return err
				}
				switch state {
				case hook.StateInstalled:
					out.OK("hook installed at %s", a.files.TargetHook)
				case hook.StateForeign:
					out.Warn("%s exists but differs from %s", a.files.TargetHook, a.files.SourceHook)
				default:
					out.Warn("hook not installed (%s)", a.files.TargetHook)
				}
				out.Info("source hook:  %s", a.files.SourceHook)
				out.Info("requirements: %s", a.files.Requirements)
				settings := coverage.NewSettings(a.cfg.Coverage)
				out.Info("data file:    %s", a.cfg.DataFilePath())
				out.Info("packages:     %s", strings.Join(settings.Packages(), ", "))

				statuses, err := a.patcher.Status()
				if err != nil {
					return err
				}
				for _, s := range statuses {
					switch {
					case s.Warning != nil:
						out.Warn("%s", s.Warning.String())
					case s.Present:
						out.Info("%s: activated (%s)", s.Target.String(), s.File)
					default:
						out.Info("%s: not activated (%s)", s.Target.String(), s.File)
					}
				}
				return nil
			})
		},
	}
}

func printPatch(out *ui.Printer, res *entrypoint.Result) {
	if res == nil {
		return
	}
	for _, f := range res.Changed {
		out.Info("patched %s", f)
	}
	for _, w := range res.Unresolved {
		out.Warn("%s", w.String())
	}
}
