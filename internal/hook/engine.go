// Package hook installs and removes the shared coverage hook.
package hook

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/schaermu/covhook/internal/entrypoint"
	"github.com/schaermu/covhook/internal/fileset"
	"github.com/schaermu/covhook/internal/fsutil"
	"github.com/schaermu/covhook/internal/python"
)

// Patcher keeps entry files in sync with the install state
type Patcher interface {
	Apply(desired bool) (*entrypoint.Result, error)
}

// Engine runs the install and uninstall state machines
type Engine struct {
	files   fileset.FileSet
	module  string
	dataDir string
	runtime python.Runtime
	patcher Patcher
	logger  *slog.Logger
}

// NewEngine creates a new hook engine. module is the hook's import name and
// dataDir the runtime directory the hook writes coverage fragments to.
func NewEngine(files fileset.FileSet, module, dataDir string, runtime python.Runtime, patcher Patcher, logger *slog.Logger) *Engine {
	return &Engine{
		files:   files,
		module:  module,
		dataDir: dataDir,
		runtime: runtime,
		patcher: patcher,
		logger:  logger,
	}
}

// State compares the shared hook file with the bundled source. A target
// whose source is missing counts as foreign.
func (e *Engine) State() (State, error) {
	exists, err := fsutil.Exists(e.files.TargetHook)
	if err != nil {
		return StateAbsent, fmt.Errorf("failed to stat %s: %w", e.files.TargetHook, err)
	}
	if !exists {
		return StateAbsent, nil
	}

	// Without the bundled source ownership cannot be proven.
	haveSource, err := fsutil.Exists(e.files.SourceHook)
	if err != nil {
		return StateAbsent, fmt.Errorf("failed to stat %s: %w", e.files.SourceHook, err)
	}
	if !haveSource {
		return StateForeign, nil
	}

	same, err := fsutil.SameContent(e.files.SourceHook, e.files.TargetHook)
	if err != nil {
		return StateAbsent, err
	}
	if same {
		return StateInstalled, nil
	}
	return StateForeign, nil
}

// Installed reports whether a hook file is present in the shared location
func (e *Engine) Installed() (bool, error) {
	return fsutil.Exists(e.files.TargetHook)
}

// Install copies the bundled hook into the site directory and activates it.
// A foreign hook file is only replaced with Force; in that case nothing is
// modified and a *ConflictError is returned.
func (e *Engine) Install(ctx context.Context, opts Options) (*Result, error) {
	e.logger.Info("starting install",
		"source", e.files.SourceHook,
		"target", e.files.TargetHook,
		"force", opts.Force,
		"deps", opts.WithDeps)

	ok, err := fsutil.Exists(e.files.SourceHook)
	if err != nil {
		return nil, fmt.Errorf("failed to stat bundled hook file: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("bundled hook file %s not found", e.files.SourceHook)
	}

	if opts.WithDeps {
		e.logger.Info("installing hook dependencies", "requirements", e.files.Requirements)
		if err := e.runtime.PipInstall(ctx, e.files.Requirements); err != nil {
			return nil, err
		}
	}

	state, err := e.State()
	if err != nil {
		return nil, err
	}
	e.logger.Debug("current hook state", "state", state.String())

	outcome := OutcomeInstalled
	switch state {
	case StateForeign:
		if !opts.Force {
			return nil, &ConflictError{Target: e.files.TargetHook}
		}
		e.logger.Warn("overwriting foreign hook file", "target", e.files.TargetHook)
		outcome = OutcomeReinstalled
	case StateInstalled:
		if !opts.Force {
			e.logger.Info("hook already installed, nothing to do", "target", e.files.TargetHook)
			return &Result{Outcome: OutcomeUnchanged}, nil
		}
		outcome = OutcomeReinstalled
	}

	e.logger.Info("copying hook file", "dest", e.files.TargetHook)
	if err := fsutil.CopyFile(e.files.SourceHook, e.files.TargetHook); err != nil {
		return nil, fmt.Errorf("failed to copy hook file: %w", err)
	}

	if err := e.verifyImportable(ctx); err != nil {
		return nil, err
	}

	e.logger.Info("preparing runtime data directory", "dir", e.dataDir)
	if err := fsutil.EnsureSharedDir(e.dataDir); err != nil {
		return nil, fmt.Errorf("failed to prepare runtime data directory: %w", err)
	}

	patch, err := e.patcher.Apply(true)
	if err != nil {
		return nil, fmt.Errorf("failed to patch entry files: %w", err)
	}

	e.logger.Info("install completed", "outcome", string(outcome), "patched", len(patch.Changed))
	return &Result{Outcome: outcome, Patch: patch}, nil
}

// Uninstall removes the shared hook and its compiled variants, then strips
// the activation statement from entry files. A foreign hook file is left in
// place unless Force is set; that case is reported, not treated as an error.
func (e *Engine) Uninstall(ctx context.Context, opts Options) (*Result, error) {
	e.logger.Info("starting uninstall",
		"target", e.files.TargetHook,
		"force", opts.Force,
		"deps", opts.WithDeps)

	exists, err := fsutil.Exists(e.files.TargetHook)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", e.files.TargetHook, err)
	}
	if !exists {
		e.logger.Info("hook not installed, nothing to do", "target", e.files.TargetHook)
		return &Result{Outcome: OutcomeNotInstalled}, nil
	}

	// Force removes whatever is there, so ownership is not checked at all.
	if opts.Force {
		e.logger.Warn("removing hook file without ownership check", "target", e.files.TargetHook)
	} else {
		state, err := e.State()
		if err != nil {
			return nil, err
		}
		if state == StateForeign {
			e.logger.Warn("hook file was not installed by covhook, leaving it in place (use --force to remove)",
				"target", e.files.TargetHook)
			return &Result{Outcome: OutcomeSkippedForeign}, nil
		}
	}

	removed, err := e.removeArtifacts()
	if err != nil {
		return nil, err
	}

	patch, err := e.patcher.Apply(false)
	if err != nil {
		return nil, fmt.Errorf("failed to patch entry files: %w", err)
	}

	if opts.WithDeps {
		e.logger.Info("removing hook dependencies", "requirements", e.files.Requirements)
		if err := e.runtime.PipUninstall(ctx, e.files.Requirements); err != nil {
			return nil, err
		}
	}

	e.logger.Info("uninstall completed", "removed", len(removed), "patched", len(patch.Changed))
	return &Result{Outcome: OutcomeRemoved, Removed: removed, Patch: patch}, nil
}

// artifactPatterns match the hook file and everything derived from it:
// hook.pyc, hook.pyo and __pycache__/hook.cpython-*.pyc
func (e *Engine) artifactPatterns() []string {
	return []string{
		e.module + ".py*",
		"__pycache__/" + e.module + ".*",
	}
}

func (e *Engine) removeArtifacts() ([]string, error) {
	siteDir := e.files.SiteDir()
	fsys := os.DirFS(siteDir)

	var matches []string
	for _, pattern := range e.artifactPatterns() {
		m, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("failed to list hook artifacts: %w", err)
		}
		matches = append(matches, m...)
	}

	removed := make([]string, 0, len(matches))
	for _, m := range matches {
		path := filepath.Join(siteDir, filepath.FromSlash(m))
		e.logger.Info("removing file", "path", path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// verifyImportable checks the interpreter now resolves the hook module to
// the file just installed.
func (e *Engine) verifyImportable(ctx context.Context) error {
	origin, err := e.runtime.LocateModule(ctx, e.module)
	if err != nil {
		return fmt.Errorf("failed to verify hook module: %w", err)
	}
	if origin == "" {
		return fmt.Errorf("hook module %s is not importable after install", e.module)
	}
	if !samePath(origin, e.files.TargetHook) {
		return fmt.Errorf("hook module %s resolves to %s instead of %s", e.module, origin, e.files.TargetHook)
	}
	e.logger.Debug("hook module verified", "module", e.module, "origin", origin)
	return nil
}

func samePath(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	return errA == nil && errB == nil && ra == rb
}
