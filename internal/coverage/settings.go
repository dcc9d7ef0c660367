// Package coverage drives the external coverage tool to combine and report
// the data fragments the installed hook collects.
package coverage

import (
	"path/filepath"
	"strings"

	"github.com/schaermu/covhook/internal/config"
)

// Settings describes the data store the hook writes to. It is built once
// per process and read-only afterwards.
type Settings struct {
	root     string
	dataFile string
	packages []string
}

// NewSettings builds Settings from the coverage configuration
func NewSettings(cfg config.CoverageConfig) Settings {
	return Settings{
		root:     cfg.Root,
		dataFile: filepath.Join(cfg.Root, cfg.DataFile),
		packages: append([]string(nil), cfg.Packages...),
	}
}

// Root returns the runtime data directory
func (s Settings) Root() string { return s.root }

// DataFile returns the combined data file path
func (s Settings) DataFile() string { return s.dataFile }

// Packages returns a copy of the monitored package names
func (s Settings) Packages() []string { return append([]string(nil), s.packages...) }

// IncludePatterns turns package names into file patterns for the report
// filter, e.g. pulp.server -> */pulp/server/*
func (s Settings) IncludePatterns() []string {
	patterns := make([]string, 0, len(s.packages))
	for _, p := range s.packages {
		patterns = append(patterns, "*/"+strings.ReplaceAll(p, ".", "/")+"/*")
	}
	return patterns
}
