//go:build integration

package tier1

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/covhook/internal/fsutil"
	"github.com/schaermu/covhook/internal/testutil"
)

const (
	defaultTimeout = 5 * time.Minute
	hookModule     = "pulp_coverage"
)

// Harness builds covhook and runs it against a throwaway Python virtualenv
type Harness struct {
	t          *testing.T
	workDir    string
	binary     string
	venv       string
	keepOnFail bool
}

// NewHarness creates a new test harness rooted in a fresh work directory
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	workDir, err := os.MkdirTemp("", "covhook-tier1-")
	if err != nil {
		t.Fatalf("create work dir: %v", err)
	}

	return &Harness{
		t:          t,
		workDir:    workDir,
		binary:     filepath.Join(workDir, "bin", "covhook"),
		venv:       filepath.Join(workDir, "venv"),
		keepOnFail: os.Getenv("INTEGRATION_KEEP_WORKDIR") == "1",
	}
}

// Path joins elements onto the work directory
func (h *Harness) Path(elem ...string) string {
	return filepath.Join(append([]string{h.workDir}, elem...)...)
}

// Python returns the virtualenv interpreter
func (h *Harness) Python() string {
	return filepath.Join(h.venv, "bin", "python")
}

// Build compiles covhook and installs the shipped hook files next to the binary
func (h *Harness) Build(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.t.Logf("Building covhook into %s", h.binary)
	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/covhook")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}

	for _, name := range []string{hookModule + ".py", "requirements.txt"} {
		src := filepath.Join(projectRoot, "hook", name)
		if err := fsutil.CopyFile(src, filepath.Join(filepath.Dir(h.binary), name)); err != nil {
			return fmt.Errorf("install %s: %w", name, err)
		}
	}
	return nil
}

// HookContent returns the hook file shipped next to the binary
func (h *Harness) HookContent() string {
	h.t.Helper()
	return testutil.ReadFile(h.t, filepath.Join(filepath.Dir(h.binary), hookModule+".py"))
}

// CreateVenv creates the virtualenv whose site directory receives the hook
func (h *Harness) CreateVenv(ctx context.Context) error {
	h.t.Helper()

	python, err := exec.LookPath("python3")
	if err != nil {
		h.t.Skip("python3 not found in PATH")
	}

	h.t.Logf("Creating virtualenv %s", h.venv)
	cmd := exec.CommandContext(ctx, python, "-m", "venv", "--without-pip", h.venv)
	cmd.Stdout = &testWriter{t: h.t, prefix: "[venv] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[venv] "}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("python3 -m venv: %w", err)
	}
	return nil
}

// Cleanup removes the work directory
func (h *Harness) Cleanup() {
	h.t.Helper()

	if h.keepOnFail && h.t.Failed() {
		h.t.Logf("Test failed and INTEGRATION_KEEP_WORKDIR=1, keeping %s", h.workDir)
		return
	}
	if err := os.RemoveAll(h.workDir); err != nil {
		h.t.Logf("Warning: failed to remove work dir: %v", err)
	}
}

// Run executes covhook with the harness config
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()

	full := append([]string{"--config", h.Path("config.yaml"), "--log-level", "debug"}, args...)
	cmd := exec.CommandContext(ctx, h.binary, full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes covhook and fails the test if it returns non-zero
func (h *Harness) MustRun(ctx context.Context, args ...string) string {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("covhook failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout
}

// SiteDir asks the virtualenv interpreter for its purelib directory
func (h *Harness) SiteDir(ctx context.Context) string {
	h.t.Helper()
	out, err := exec.CommandContext(ctx, h.Python(), "-I", "-c",
		"import sysconfig; print(sysconfig.get_paths()['purelib'])").Output()
	if err != nil {
		h.t.Fatalf("query site dir: %v", err)
	}
	return strings.TrimSpace(string(out))
}

// WriteFile writes a file below the work directory
func (h *Harness) WriteFile(rel, content string) string {
	h.t.Helper()
	path := h.Path(rel)
	testutil.WriteFile(h.t, path, content, 0644)
	return path
}

// ReadFile reads a file, failing the test on error
func (h *Harness) ReadFile(path string) string {
	h.t.Helper()
	return testutil.ReadFile(h.t, path)
}

// FileExists checks if a regular file exists
func (h *Harness) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
