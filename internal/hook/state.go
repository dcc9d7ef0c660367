package hook

import (
	"fmt"

	"github.com/schaermu/covhook/internal/entrypoint"
)

// State is the install state derived from the filesystem on every run
type State int

const (
	StateAbsent    State = iota // no shared hook file
	StateInstalled              // shared hook matches the bundled source
	StateForeign                // shared hook exists with other content
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateInstalled:
		return "installed"
	case StateForeign:
		return "foreign"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome describes what an install or uninstall run did
type Outcome string

const (
	OutcomeInstalled      Outcome = "installed"
	OutcomeReinstalled    Outcome = "reinstalled"
	OutcomeUnchanged      Outcome = "unchanged"
	OutcomeRemoved        Outcome = "removed"
	OutcomeNotInstalled   Outcome = "not-installed"
	OutcomeSkippedForeign Outcome = "skipped-foreign"
)

// Options are the operator flags shared by install and uninstall
type Options struct {
	Force    bool
	WithDeps bool
}

// Result is returned by a successful Install or Uninstall
type Result struct {
	Outcome Outcome
	Removed []string           // files deleted by uninstall
	Patch   *entrypoint.Result // nil when entry files were not visited
}

// ConflictError means the shared hook location holds a file covhook did not put there
type ConflictError struct {
	Target string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s exists and differs from the bundled hook; use --force to overwrite it", e.Target)
}
