package coverage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schaermu/covhook/internal/fsutil"
)

const (
	// ReportFileName is the plain-text report written on every run
	ReportFileName = "report"
	// HTMLDirName is the HTML report directory inside the output directory
	HTMLDirName = "html"
	// XMLFileName is the XML report inside the output directory
	XMLFileName = "coverage.xml"
)

// InstallChecker tells the reporter whether the hook was ever installed
type InstallChecker interface {
	Installed() (bool, error)
}

// NotInstalledError is returned when a report is requested before install
type NotInstalledError struct{}

func (e *NotInstalledError) Error() string {
	return `coverage hook is not installed; run "covhook install" first`
}

// ReportOptions selects the optional outputs
type ReportOptions struct {
	HTML  bool
	XML   bool
	Erase bool
}

// Reporter combines collected data and writes reports
type Reporter struct {
	tool    Tool
	checker InstallChecker
	logger  *slog.Logger
}

// NewReporter creates a reporter
func NewReporter(tool Tool, checker InstallChecker, logger *slog.Logger) *Reporter {
	return &Reporter{tool: tool, checker: checker, logger: logger}
}

// Generate writes the text report (and optional HTML/XML reports) into
// outDir. The install check runs before anything is created, so a
// *NotInstalledError leaves no trace on disk.
func (r *Reporter) Generate(ctx context.Context, outDir string, opts ReportOptions) error {
	installed, err := r.checker.Installed()
	if err != nil {
		return fmt.Errorf("failed to check hook installation: %w", err)
	}
	if !installed {
		return &NotInstalledError{}
	}

	outDir, err = filepath.Abs(outDir)
	if err != nil {
		return fmt.Errorf("invalid output directory: %w", err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	r.logger.Info("combining coverage data")
	if err := r.tool.Combine(ctx); err != nil {
		return err
	}

	text, err := r.tool.Report(ctx)
	if err != nil {
		return err
	}
	reportPath := filepath.Join(outDir, ReportFileName)
	if err := fsutil.AtomicWriteFile(reportPath, text, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	r.logger.Info("wrote text report", "path", reportPath)

	if opts.HTML {
		dir := filepath.Join(outDir, HTMLDirName)
		if err := r.tool.HTMLReport(ctx, dir); err != nil {
			return err
		}
		r.logger.Info("wrote html report", "dir", dir)
	}

	if opts.XML {
		file := filepath.Join(outDir, XMLFileName)
		if err := r.tool.XMLReport(ctx, file); err != nil {
			return err
		}
		r.logger.Info("wrote xml report", "path", file)
	}

	if opts.Erase {
		r.logger.Info("erasing coverage data")
		if err := r.tool.Erase(ctx); err != nil {
			return err
		}
	}

	return nil
}
