package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the configuration is looked up when --config is not given
const DefaultPath = "/etc/covhook/config.yaml"

const (
	DefaultHookModule  = "pulp_coverage"
	DefaultInterpreter = "python3"
	DefaultRoot        = "/var/lib/pulp/coverage"
	DefaultDataFile    = "coverage"
)

// Config represents the complete covhook configuration
type Config struct {
	Hook        HookConfig       `yaml:"hook"`
	Python      PythonConfig     `yaml:"python"`
	Coverage    CoverageConfig   `yaml:"coverage"`
	EntryPoints EntryPointConfig `yaml:"entry_points"`
}

// HookConfig configures the shared interception file
type HookConfig struct {
	Module       string `yaml:"module"`
	Source       string `yaml:"source"`
	Requirements string `yaml:"requirements"`
}

// PythonConfig configures the interpreter used for site lookups and pip
type PythonConfig struct {
	Interpreter string `yaml:"interpreter"`
	SiteDir     string `yaml:"site_dir"`
}

// CoverageConfig configures the runtime data store the hook writes to
type CoverageConfig struct {
	Root     string   `yaml:"root"`
	DataFile string   `yaml:"data_file"`
	Packages []string `yaml:"packages"`
}

// EntryPointConfig lists the entry files that need the activation statement
type EntryPointConfig struct {
	Targets     []EntryTarget     `yaml:"targets"`
	SearchPaths []string          `yaml:"search_paths"`
	Modules     map[string]string `yaml:"modules"` // module name -> file override
}

// EntryTarget is either an importable module name or a file path
type EntryTarget struct {
	Module string `yaml:"module,omitempty"`
	Path   string `yaml:"path,omitempty"`
}

var (
	identRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	dottedRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// Default returns the built-in configuration used when no file exists
func Default() *Config {
	cfg := &Config{
		EntryPoints: EntryPointConfig{
			Targets: []EntryTarget{
				{Module: "pulp.server.webservices.application"},
				{Path: "/srv/pulp/webservices.wsgi"},
				{Path: "/srv/pulp/repo_auth.wsgi"},
				{Path: "/usr/bin/celery"},
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads path, falling back to Default when path is the
// default location and does not exist. An explicit path must exist.
func LoadOrDefault(path string) (*Config, bool, error) {
	if path == "" {
		path = DefaultPath
	}
	if path == DefaultPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return Default(), false, nil
		}
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// expandEnv expands environment variables in all path fields
func (c *Config) expandEnv() {
	c.Hook.Source = os.ExpandEnv(c.Hook.Source)
	c.Hook.Requirements = os.ExpandEnv(c.Hook.Requirements)
	c.Python.Interpreter = os.ExpandEnv(c.Python.Interpreter)
	c.Python.SiteDir = os.ExpandEnv(c.Python.SiteDir)
	c.Coverage.Root = os.ExpandEnv(c.Coverage.Root)
	for i := range c.EntryPoints.Targets {
		c.EntryPoints.Targets[i].Path = os.ExpandEnv(c.EntryPoints.Targets[i].Path)
	}
	for i, p := range c.EntryPoints.SearchPaths {
		c.EntryPoints.SearchPaths[i] = os.ExpandEnv(p)
	}
	for name, p := range c.EntryPoints.Modules {
		c.EntryPoints.Modules[name] = os.ExpandEnv(p)
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Hook.Module == "" {
		c.Hook.Module = DefaultHookModule
	}
	if c.Python.Interpreter == "" {
		c.Python.Interpreter = DefaultInterpreter
	}
	if c.Coverage.Root == "" {
		c.Coverage.Root = DefaultRoot
	}
	if c.Coverage.DataFile == "" {
		c.Coverage.DataFile = DefaultDataFile
	}
	if len(c.Coverage.Packages) == 0 {
		c.Coverage.Packages = []string{"pulp"}
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if !identRe.MatchString(c.Hook.Module) {
		return fmt.Errorf("hook.module must be a plain module name: %q", c.Hook.Module)
	}

	for name, p := range map[string]string{
		"hook.source":       c.Hook.Source,
		"hook.requirements": c.Hook.Requirements,
		"python.site_dir":   c.Python.SiteDir,
	} {
		if p != "" && !filepath.IsAbs(p) {
			return fmt.Errorf("%s must be an absolute path: %s", name, p)
		}
	}

	if !filepath.IsAbs(c.Coverage.Root) {
		return fmt.Errorf("coverage.root must be an absolute path: %s", c.Coverage.Root)
	}
	if strings.ContainsRune(c.Coverage.DataFile, filepath.Separator) {
		return fmt.Errorf("coverage.data_file must be a file name, not a path: %s", c.Coverage.DataFile)
	}
	for _, pkg := range c.Coverage.Packages {
		if !dottedRe.MatchString(pkg) {
			return fmt.Errorf("invalid coverage package name: %q", pkg)
		}
	}

	for i, t := range c.EntryPoints.Targets {
		switch {
		case t.Module != "" && t.Path != "":
			return fmt.Errorf("entry_points.targets[%d]: only one of module or path may be set", i)
		case t.Module == "" && t.Path == "":
			return fmt.Errorf("entry_points.targets[%d]: one of module or path is required", i)
		case t.Module != "" && !dottedRe.MatchString(t.Module):
			return fmt.Errorf("entry_points.targets[%d]: invalid module name %q", i, t.Module)
		case t.Path != "" && !filepath.IsAbs(t.Path):
			return fmt.Errorf("entry_points.targets[%d]: path must be absolute: %s", i, t.Path)
		}
	}
	for _, p := range c.EntryPoints.SearchPaths {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("entry_points.search_paths must be absolute: %s", p)
		}
	}
	for name, p := range c.EntryPoints.Modules {
		if !dottedRe.MatchString(name) {
			return fmt.Errorf("entry_points.modules: invalid module name %q", name)
		}
		if !filepath.IsAbs(p) {
			return fmt.Errorf("entry_points.modules[%s] must be an absolute path: %s", name, p)
		}
	}

	return nil
}

// HookFileName returns the file name of the hook inside the site directory
func (c *Config) HookFileName() string {
	return c.Hook.Module + ".py"
}

// DataFilePath returns the coverage data file the hook writes fragments next to
func (c *Config) DataFilePath() string {
	return filepath.Join(c.Coverage.Root, c.Coverage.DataFile)
}
