// Package python talks to the Python interpreter the covered services run on.
package python

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runtime provides the interpreter operations the installer depends on
type Runtime interface {
	// SiteDir returns the platform site-packages directory
	SiteDir(ctx context.Context) (string, error)
	// LocateModule returns the file backing an importable module, or "" if
	// the module cannot be imported
	LocateModule(ctx context.Context, module string) (string, error)
	// PipInstall installs the packages listed in a requirements file
	PipInstall(ctx context.Context, requirements string) error
	// PipUninstall removes the packages listed in a requirements file
	PipUninstall(ctx context.Context, requirements string) error
}

const (
	siteDirScript = `import sysconfig; print(sysconfig.get_paths()["purelib"])`

	locateScript = `import importlib.util, sys
try:
    spec = importlib.util.find_spec(sys.argv[1])
except Exception:
    spec = None
print(spec.origin if spec is not None and spec.origin else "")`
)

// Client implements Runtime by shelling out to the interpreter
type Client struct {
	interpreter string
}

// NewClient creates a client for the given interpreter binary
func NewClient(interpreter string) *Client {
	return &Client{interpreter: interpreter}
}

// SiteDir asks the interpreter for its purelib directory
func (c *Client) SiteDir(ctx context.Context) (string, error) {
	out, err := c.output(ctx, "-I", "-c", siteDirScript)
	if err != nil {
		return "", fmt.Errorf("failed to determine site directory: %w", err)
	}
	dir := strings.TrimSpace(out)
	if dir == "" {
		return "", fmt.Errorf("failed to determine site directory: interpreter returned nothing")
	}
	return dir, nil
}

// LocateModule resolves module through the interpreter's import machinery
// without executing it. Isolated mode keeps the caller's cwd and PYTHON*
// variables out of the lookup.
func (c *Client) LocateModule(ctx context.Context, module string) (string, error) {
	out, err := c.output(ctx, "-I", "-c", locateScript, module)
	if err != nil {
		return "", fmt.Errorf("failed to locate module %s: %w", module, err)
	}
	return strings.TrimSpace(out), nil
}

// PipInstall runs pip install -r requirements
func (c *Client) PipInstall(ctx context.Context, requirements string) error {
	if err := c.run(ctx, "-m", "pip", "install", "-r", requirements); err != nil {
		return fmt.Errorf("pip install failed: %w", err)
	}
	return nil
}

// PipUninstall runs pip uninstall -y -r requirements
func (c *Client) PipUninstall(ctx context.Context, requirements string) error {
	if err := c.run(ctx, "-m", "pip", "uninstall", "-y", "-r", requirements); err != nil {
		return fmt.Errorf("pip uninstall failed: %w", err)
	}
	return nil
}

func (c *Client) output(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.interpreter, args...)
	cmd.Dir = "/"
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", c.interpreter, err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// run executes a command and returns an error with its output on failure
func (c *Client) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, c.interpreter, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
