package hook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/covhook/internal/entrypoint"
	"github.com/schaermu/covhook/internal/fileset"
	"github.com/schaermu/covhook/internal/fsutil"
	"github.com/schaermu/covhook/internal/testutil"
)

const (
	hookModule  = "pulp_coverage"
	hookContent = "import coverage\ncov = coverage.Coverage(data_suffix=True)\ncov.start()\n"
)

// mockRuntime implements python.Runtime for testing.
type mockRuntime struct {
	siteDir         string
	locateOverride  *string
	locateErr       error
	pipInstallErr   error
	installCalls    []string
	uninstallCalls  []string
	locateCallCount int
}

func (m *mockRuntime) SiteDir(_ context.Context) (string, error) {
	return m.siteDir, nil
}

func (m *mockRuntime) LocateModule(_ context.Context, module string) (string, error) {
	m.locateCallCount++
	if m.locateErr != nil {
		return "", m.locateErr
	}
	if m.locateOverride != nil {
		return *m.locateOverride, nil
	}
	path := filepath.Join(m.siteDir, module+".py")
	if _, err := os.Stat(path); err != nil {
		return "", nil
	}
	return path, nil
}

func (m *mockRuntime) PipInstall(_ context.Context, requirements string) error {
	m.installCalls = append(m.installCalls, requirements)
	return m.pipInstallErr
}

func (m *mockRuntime) PipUninstall(_ context.Context, requirements string) error {
	m.uninstallCalls = append(m.uninstallCalls, requirements)
	return nil
}

// mockPatcher implements Patcher for testing.
type mockPatcher struct {
	calls []bool
	err   error
}

func (m *mockPatcher) Apply(desired bool) (*entrypoint.Result, error) {
	m.calls = append(m.calls, desired)
	if m.err != nil {
		return nil, m.err
	}
	return &entrypoint.Result{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	files   fileset.FileSet
	dataDir string
	runtime *mockRuntime
	patcher *mockPatcher
	engine  *Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	bundle := t.TempDir()
	site := t.TempDir()

	files, err := fileset.Resolve(filepath.Join(bundle, "covhook"), site, hookModule+".py", fileset.Overrides{})
	require.NoError(t, err)
	testutil.WriteFile(t, files.SourceHook, hookContent, 0644)
	testutil.WriteFile(t, files.Requirements, "coverage>=7\n", 0644)

	e := &env{
		files:   files,
		dataDir: filepath.Join(t.TempDir(), "var", "lib", "pulp", "coverage"),
		runtime: &mockRuntime{siteDir: site},
		patcher: &mockPatcher{},
	}
	e.engine = NewEngine(files, hookModule, e.dataDir, e.runtime, e.patcher, testLogger())
	return e
}

func TestState(t *testing.T) {
	e := newEnv(t)

	state, err := e.engine.State()
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, state)

	testutil.WriteFile(t, e.files.TargetHook, hookContent, 0644)
	state, err = e.engine.State()
	require.NoError(t, err)
	assert.Equal(t, StateInstalled, state)

	testutil.WriteFile(t, e.files.TargetHook, "# someone else's hook\n", 0644)
	state, err = e.engine.State()
	require.NoError(t, err)
	assert.Equal(t, StateForeign, state)
	assert.Equal(t, "foreign", state.String())
}

func TestInstall_Fresh(t *testing.T) {
	e := newEnv(t)

	res, err := e.engine.Install(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeInstalled, res.Outcome)

	assert.Equal(t, hookContent, testutil.ReadFile(t, e.files.TargetHook))
	assert.Equal(t, []bool{true}, e.patcher.calls)
	assert.Equal(t, 1, e.runtime.locateCallCount)
	assert.Empty(t, e.runtime.installCalls, "deps are only installed on request")

	info, err := os.Stat(e.dataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0777), info.Mode().Perm())
	assert.NotZero(t, info.Mode()&os.ModeSticky)
}

func TestInstall_Idempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.engine.Install(ctx, Options{})
	require.NoError(t, err)
	first := testutil.ReadFile(t, e.files.TargetHook)

	res, err := e.engine.Install(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, first, testutil.ReadFile(t, e.files.TargetHook))
	assert.Equal(t, []bool{true}, e.patcher.calls, "no-op install does not visit entry files")
}

func TestInstall_ForceReinstallsMatching(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.engine.Install(ctx, Options{})
	require.NoError(t, err)

	res, err := e.engine.Install(ctx, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReinstalled, res.Outcome)
	assert.Equal(t, []bool{true, true}, e.patcher.calls)
}

func TestInstall_ConflictLeavesTargetUntouched(t *testing.T) {
	e := newEnv(t)
	foreign := "# foreign sitecustomize\nprint('hi')\n"
	testutil.WriteFile(t, e.files.TargetHook, foreign, 0600)

	_, err := e.engine.Install(context.Background(), Options{})
	require.Error(t, err)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, e.files.TargetHook, conflict.Target)
	assert.Contains(t, err.Error(), "--force")

	assert.Equal(t, foreign, testutil.ReadFile(t, e.files.TargetHook))
	info, err := os.Stat(e.files.TargetHook)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.Empty(t, e.patcher.calls)
	_, err = os.Stat(e.dataDir)
	assert.True(t, os.IsNotExist(err), "data dir must not be created on conflict")
}

func TestInstall_ForceOverwritesForeign(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.files.TargetHook, "# foreign\n", 0644)

	res, err := e.engine.Install(context.Background(), Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReinstalled, res.Outcome)

	same, err := fsutil.SameContent(e.files.SourceHook, e.files.TargetHook)
	require.NoError(t, err)
	assert.True(t, same)
}

func TestInstall_WithDeps(t *testing.T) {
	e := newEnv(t)

	_, err := e.engine.Install(context.Background(), Options{WithDeps: true})
	require.NoError(t, err)
	assert.Equal(t, []string{e.files.Requirements}, e.runtime.installCalls)
}

func TestInstall_DepsFailureIsFatal(t *testing.T) {
	e := newEnv(t)
	e.runtime.pipInstallErr = errors.New("pip exploded")

	_, err := e.engine.Install(context.Background(), Options{WithDeps: true})
	require.Error(t, err)
	_, statErr := os.Stat(e.files.TargetHook)
	assert.True(t, os.IsNotExist(statErr))
}

func TestInstall_MissingSource(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.Remove(e.files.SourceHook))

	_, err := e.engine.Install(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestInstall_VerifyFailures(t *testing.T) {
	t.Run("not importable", func(t *testing.T) {
		e := newEnv(t)
		empty := ""
		e.runtime.locateOverride = &empty

		_, err := e.engine.Install(context.Background(), Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not importable")
		assert.Empty(t, e.patcher.calls)
	})

	t.Run("shadowed by another file", func(t *testing.T) {
		e := newEnv(t)
		other := "/usr/lib/python3/dist-packages/pulp_coverage.py"
		e.runtime.locateOverride = &other

		_, err := e.engine.Install(context.Background(), Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), other)
	})

	t.Run("interpreter error", func(t *testing.T) {
		e := newEnv(t)
		e.runtime.locateErr = errors.New("python3: not found")

		_, err := e.engine.Install(context.Background(), Options{})
		require.Error(t, err)
	})
}

func TestInstall_PatchFailure(t *testing.T) {
	e := newEnv(t)
	e.patcher.err = errors.New("permission denied")

	_, err := e.engine.Install(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestUninstall_NotInstalled(t *testing.T) {
	e := newEnv(t)

	res, err := e.engine.Uninstall(context.Background(), Options{WithDeps: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotInstalled, res.Outcome)
	assert.Empty(t, e.patcher.calls)
	assert.Empty(t, e.runtime.uninstallCalls)
}

func TestUninstall_ForeignWithoutForceIsNoop(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.files.TargetHook, "# foreign\n", 0644)

	res, err := e.engine.Uninstall(context.Background(), Options{})
	require.NoError(t, err, "uninstall never fails on a foreign file")
	assert.Equal(t, OutcomeSkippedForeign, res.Outcome)
	assert.Equal(t, "# foreign\n", testutil.ReadFile(t, e.files.TargetHook))
	assert.Empty(t, e.patcher.calls)
}

func TestUninstall_ForeignWithForce(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.files.TargetHook, "# foreign\n", 0644)

	res, err := e.engine.Uninstall(context.Background(), Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRemoved, res.Outcome)
	_, err = os.Stat(e.files.TargetHook)
	assert.True(t, os.IsNotExist(err))
}

func TestUninstall_RemovesDerivedArtifacts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.engine.Install(ctx, Options{})
	require.NoError(t, err)

	site := e.files.SiteDir()
	testutil.WriteFile(t, filepath.Join(site, "pulp_coverage.pyc"), "bytecode", 0644)
	testutil.WriteFile(t, filepath.Join(site, "__pycache__", "pulp_coverage.cpython-39.pyc"), "bytecode", 0644)
	unrelated := []string{
		filepath.Join(site, "coverage.py"),
		filepath.Join(site, "pulp_coverage_extra", "__init__.py"),
		filepath.Join(site, "__pycache__", "other.cpython-39.pyc"),
	}
	for _, p := range unrelated {
		testutil.WriteFile(t, p, "keep", 0644)
	}

	res, err := e.engine.Uninstall(ctx, Options{WithDeps: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRemoved, res.Outcome)
	assert.Len(t, res.Removed, 3)

	for _, p := range []string{
		e.files.TargetHook,
		filepath.Join(site, "pulp_coverage.pyc"),
		filepath.Join(site, "__pycache__", "pulp_coverage.cpython-39.pyc"),
	} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "%s should be removed", p)
	}
	for _, p := range unrelated {
		assert.FileExists(t, p)
	}

	assert.Equal(t, []bool{true, false}, e.patcher.calls)
	assert.Equal(t, []string{e.files.Requirements}, e.runtime.uninstallCalls)

	// runtime data directory survives uninstall
	assert.DirExists(t, e.dataDir)
}

func TestInstallUninstall_RoundTripWithEntryFiles(t *testing.T) {
	e := newEnv(t)
	entry := filepath.Join(t.TempDir(), "webservices.wsgi")
	original := "# -*- coding: utf-8 -*-\nfrom pulp.server.webservices.application import wsgi_application\n"
	testutil.WriteFile(t, entry, original, 0644)

	patcher := entrypoint.NewPatcher(
		[]entrypoint.Target{entrypoint.Path(entry), entrypoint.Module("not.installed")},
		entrypoint.NewResolver([]string{e.files.SiteDir()}, nil),
		hookModule,
		testLogger(),
	)
	engine := NewEngine(e.files, hookModule, e.dataDir, e.runtime, patcher, testLogger())
	ctx := context.Background()

	res, err := engine.Install(ctx, Options{})
	require.NoError(t, err)
	assert.Len(t, res.Patch.Unresolved, 1)
	assert.Contains(t, testutil.ReadFile(t, entry), "import pulp_coverage")

	_, err = engine.Uninstall(ctx, Options{})
	require.NoError(t, err)

	assert.NoFileExists(t, e.files.TargetHook)
	assert.Equal(t, original, testutil.ReadFile(t, entry))
}

func TestInstalled(t *testing.T) {
	e := newEnv(t)

	ok, err := e.engine.Installed()
	require.NoError(t, err)
	assert.False(t, ok)

	testutil.WriteFile(t, e.files.TargetHook, "# foreign\n", 0644)
	ok, err = e.engine.Installed()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUninstall_MissingSource(t *testing.T) {
	t.Run("without force leaves the hook in place", func(t *testing.T) {
		e := newEnv(t)
		testutil.WriteFile(t, e.files.TargetHook, hookContent, 0644)
		require.NoError(t, os.Remove(e.files.SourceHook))

		res, err := e.engine.Uninstall(context.Background(), Options{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkippedForeign, res.Outcome)
		assert.FileExists(t, e.files.TargetHook)
		assert.Empty(t, e.patcher.calls)
	})

	t.Run("force removes the hook", func(t *testing.T) {
		e := newEnv(t)
		testutil.WriteFile(t, e.files.TargetHook, hookContent, 0644)
		require.NoError(t, os.Remove(e.files.SourceHook))

		res, err := e.engine.Uninstall(context.Background(), Options{Force: true})
		require.NoError(t, err)
		assert.Equal(t, OutcomeRemoved, res.Outcome)
		assert.NoFileExists(t, e.files.TargetHook)
		assert.Equal(t, []bool{false}, e.patcher.calls)
	})
}

func TestState_MissingSourceIsForeign(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.files.TargetHook, hookContent, 0644)
	require.NoError(t, os.Remove(e.files.SourceHook))

	state, err := e.engine.State()
	require.NoError(t, err)
	assert.Equal(t, StateForeign, state)
}
