package coverage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Tool is the subset of the coverage tool the reporter needs
type Tool interface {
	// Combine merges the parallel data fragments into the data file
	Combine(ctx context.Context) error
	// Report returns the plain-text report
	Report(ctx context.Context) ([]byte, error)
	// HTMLReport writes an HTML report tree into dir
	HTMLReport(ctx context.Context, dir string) error
	// XMLReport writes a Cobertura XML report to file
	XMLReport(ctx context.Context, file string) error
	// Erase deletes all collected data
	Erase(ctx context.Context) error
}

// CLITool implements Tool by running "<interpreter> -m coverage"
type CLITool struct {
	interpreter string
	settings    Settings
}

// NewCLITool creates a coverage CLI client bound to settings
func NewCLITool(interpreter string, settings Settings) *CLITool {
	return &CLITool{interpreter: interpreter, settings: settings}
}

// Combine merges the fragments found under the data root
func (c *CLITool) Combine(ctx context.Context) error {
	_, err := c.run(ctx, "combine", c.settings.Root())
	return err
}

// Report returns the text report for the monitored packages
func (c *CLITool) Report(ctx context.Context) ([]byte, error) {
	return c.run(ctx, c.withInclude("report")...)
}

// HTMLReport writes the HTML report into dir
func (c *CLITool) HTMLReport(ctx context.Context, dir string) error {
	_, err := c.run(ctx, append(c.withInclude("html"), "-d", dir)...)
	return err
}

// XMLReport writes the XML report to file
func (c *CLITool) XMLReport(ctx context.Context, file string) error {
	_, err := c.run(ctx, append(c.withInclude("xml"), "-o", file)...)
	return err
}

// Erase removes the data file and any fragments
func (c *CLITool) Erase(ctx context.Context) error {
	_, err := c.run(ctx, "erase")
	return err
}

func (c *CLITool) withInclude(sub string) []string {
	args := []string{sub}
	if patterns := c.settings.IncludePatterns(); len(patterns) > 0 {
		args = append(args, "--include="+strings.Join(patterns, ","))
	}
	return args
}

// run executes the coverage module and returns its stdout
func (c *CLITool) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.interpreter, append([]string{"-m", "coverage"}, args...)...)
	cmd.Env = append(os.Environ(), "COVERAGE_FILE="+c.settings.DataFile())
	cmd.Dir = c.settings.Root()
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("coverage %s failed: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}
