package entrypoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/schaermu/covhook/internal/config"
)

// ErrUnresolved is returned when a target has no backing file on this machine
var ErrUnresolved = errors.New("entry target not found")

// Kind tells how a Target is located
type Kind int

const (
	KindModule Kind = iota // dotted import name
	KindPath               // literal file path
)

// Target is an entry file that needs the activation statement
type Target struct {
	Kind Kind
	Name string
}

// Module returns a module-form target
func Module(name string) Target { return Target{Kind: KindModule, Name: name} }

// Path returns a path-form target
func Path(p string) Target { return Target{Kind: KindPath, Name: p} }

func (t Target) String() string {
	if t.Kind == KindModule {
		return "module " + t.Name
	}
	return "path " + t.Name
}

// TargetsFromConfig converts the configured entry points, keeping their order
func TargetsFromConfig(cfg config.EntryPointConfig) []Target {
	targets := make([]Target, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		if t.Module != "" {
			targets = append(targets, Module(t.Module))
		} else {
			targets = append(targets, Path(t.Path))
		}
	}
	return targets
}

// Resolver maps targets to files. Module names are looked up in an explicit
// override table first, then as source files under the search roots.
type Resolver struct {
	overrides map[string]string
	roots     []string
}

// NewResolver builds a resolver; roots are searched in order
func NewResolver(roots []string, overrides map[string]string) *Resolver {
	o := make(map[string]string, len(overrides))
	for k, v := range overrides {
		o[k] = v
	}
	return &Resolver{
		overrides: o,
		roots:     append([]string(nil), roots...),
	}
}

// Resolve returns the file backing t, or an error wrapping ErrUnresolved
func (r *Resolver) Resolve(t Target) (string, error) {
	switch t.Kind {
	case KindPath:
		if isFile(t.Name) {
			return t.Name, nil
		}
		return "", fmt.Errorf("%w: %s does not exist", ErrUnresolved, t.Name)

	case KindModule:
		if p, ok := r.overrides[t.Name]; ok {
			if isFile(p) {
				return p, nil
			}
			return "", fmt.Errorf("%w: override for %s points to missing file %s", ErrUnresolved, t.Name, p)
		}
		rel := filepath.Join(strings.Split(t.Name, ".")...)
		for _, root := range r.roots {
			// A package directory shadows a same-named module file, as in Python's import system.
			for _, candidate := range []string{
				filepath.Join(root, rel, "__init__.py"),
				filepath.Join(root, rel+".py"),
			} {
				if isFile(candidate) {
					return candidate, nil
				}
			}
		}
		return "", fmt.Errorf("%w: module %s is not installed", ErrUnresolved, t.Name)

	default:
		return "", fmt.Errorf("unknown target kind %d", t.Kind)
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// ResolutionWarning records a target that was skipped because it could not be located
type ResolutionWarning struct {
	Target Target
	Reason string
}

func (w ResolutionWarning) String() string {
	return fmt.Sprintf("skipping %s: %s", w.Target, w.Reason)
}
