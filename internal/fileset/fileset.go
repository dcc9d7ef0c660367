// Package fileset resolves the well-known paths install and uninstall work on.
package fileset

import (
	"fmt"
	"path/filepath"
)

// RequirementsFileName is the dependency manifest shipped next to the binary
const RequirementsFileName = "requirements.txt"

// FileSet is the immutable set of paths for one invocation
type FileSet struct {
	SourceHook   string // hook file shipped with covhook
	Requirements string // pip requirements for the hook
	TargetHook   string // shared hook location in the site directory
	Self         string // this executable
}

// Overrides replaces the bundled defaults with explicit paths
type Overrides struct {
	SourceHook   string
	Requirements string
}

// Resolve computes the FileSet from the executable location and the site
// directory. Bundled files default to the executable's directory.
func Resolve(self, siteDir, hookFile string, o Overrides) (FileSet, error) {
	if siteDir == "" {
		return FileSet{}, fmt.Errorf("site directory could not be determined")
	}
	if hookFile == "" || filepath.Base(hookFile) != hookFile {
		return FileSet{}, fmt.Errorf("invalid hook file name %q", hookFile)
	}

	absSelf, err := filepath.Abs(self)
	if err != nil {
		return FileSet{}, fmt.Errorf("resolve executable path: %w", err)
	}
	absSite, err := filepath.Abs(siteDir)
	if err != nil {
		return FileSet{}, fmt.Errorf("resolve site directory: %w", err)
	}

	bundleDir := filepath.Dir(absSelf)
	fs := FileSet{
		SourceHook:   filepath.Join(bundleDir, hookFile),
		Requirements: filepath.Join(bundleDir, RequirementsFileName),
		TargetHook:   filepath.Join(absSite, hookFile),
		Self:         absSelf,
	}
	if o.SourceHook != "" {
		fs.SourceHook = o.SourceHook
	}
	if o.Requirements != "" {
		fs.Requirements = o.Requirements
	}

	return fs, nil
}

// SiteDir returns the directory holding the shared hook
func (f FileSet) SiteDir() string {
	return filepath.Dir(f.TargetHook)
}
