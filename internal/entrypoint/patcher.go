// Package entrypoint keeps the activation statement in the service entry
// files that do not pick up the shared startup hook on their own.
package entrypoint

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/schaermu/covhook/internal/fsutil"
)

// Patcher synchronizes a fixed list of entry targets with the install state
type Patcher struct {
	targets  []Target
	resolver *Resolver
	module   string
	logger   *slog.Logger
}

// NewPatcher creates a patcher injecting "import <module>" into targets
func NewPatcher(targets []Target, resolver *Resolver, module string, logger *slog.Logger) *Patcher {
	return &Patcher{
		targets:  append([]Target(nil), targets...),
		resolver: resolver,
		module:   module,
		logger:   logger,
	}
}

// Result summarizes one Apply run
type Result struct {
	Changed    []string
	Unchanged  []string
	Unresolved []ResolutionWarning
}

// TargetStatus is the current patch state of one target
type TargetStatus struct {
	Target  Target
	File    string
	Present bool
	Warning *ResolutionWarning
}

// Apply inserts (desired=true) or removes (desired=false) the activation
// statement. Unresolvable targets are skipped with a warning; a read or
// write failure aborts the batch without undoing files already rewritten.
func (p *Patcher) Apply(desired bool) (*Result, error) {
	res := &Result{}
	seen := make(map[string]bool)

	for _, t := range p.targets {
		file, warn := p.resolve(t)
		if warn != nil {
			res.Unresolved = append(res.Unresolved, *warn)
			continue
		}
		if seen[file] {
			continue
		}
		seen[file] = true

		changed, err := p.patchFile(file, desired)
		if err != nil {
			return res, fmt.Errorf("failed to patch %s: %w", file, err)
		}
		if changed {
			p.logger.Info("patched entry file", "file", file, "target", t.String(), "activated", desired)
			res.Changed = append(res.Changed, file)
		} else {
			p.logger.Debug("entry file already in desired state", "file", file, "activated", desired)
			res.Unchanged = append(res.Unchanged, file)
		}
	}

	return res, nil
}

// Status reports the patch state of every target without writing anything
func (p *Patcher) Status() ([]TargetStatus, error) {
	statuses := make([]TargetStatus, 0, len(p.targets))
	for _, t := range p.targets {
		file, warn := p.resolve(t)
		if warn != nil {
			statuses = append(statuses, TargetStatus{Target: t, Warning: warn})
			continue
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		lines, _ := splitLines(data)
		statuses = append(statuses, TargetStatus{
			Target:  t,
			File:    file,
			Present: HasActivation(lines, p.module),
		})
	}
	return statuses, nil
}

func (p *Patcher) resolve(t Target) (string, *ResolutionWarning) {
	file, err := p.resolver.Resolve(t)
	if err == nil {
		return file, nil
	}
	p.logger.Warn("entry target not resolved, skipping", "target", t.String(), "error", err)
	return "", &ResolutionWarning{Target: t, Reason: err.Error()}
}

func (p *Patcher) patchFile(file string, desired bool) (bool, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return false, err
	}

	lines, trailing := splitLines(data)
	out, changed := Transform(lines, p.module, desired)
	if !changed {
		return false, nil
	}

	if err := fsutil.RewriteInPlace(file, joinLines(out, trailing)); err != nil {
		return false, err
	}
	return true, nil
}
