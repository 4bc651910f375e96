// Package localfs archives run reports as JSON files on local disk.
package localfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

type ReportArchive struct {
	basePath string
}

func NewReportArchive(basePath string) (*ReportArchive, error) {
	if basePath == "" {
		basePath = "./data/reports"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	return &ReportArchive{basePath: basePath}, nil
}

// Save writes the report to <project>/<run id>.json and returns the path.
// The file is written under a temporary name and renamed into place.
func (a *ReportArchive) Save(_ context.Context, report *domain.RunReport) (string, error) {
	if report == nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "archive report", errors.New("report is nil"))
	}
	projectDir, err := a.safeJoin(report.Summary.ProjectID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return "", fmt.Errorf("create project dir: %w", err)
	}
	name, err := safeName(report.Summary.RunID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(projectDir, name+".json")

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename report: %w", err)
	}
	return path, nil
}

func (a *ReportArchive) Load(_ context.Context, projectID, runID string) (*domain.RunReport, error) {
	projectDir, err := a.safeJoin(projectID)
	if err != nil {
		return nil, err
	}
	name, err := safeName(runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(projectDir, name+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrNotFound, "load report", fmt.Errorf("run %s", runID))
		}
		return nil, fmt.Errorf("read report: %w", err)
	}
	var report domain.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}

func (a *ReportArchive) safeJoin(projectID string) (string, error) {
	name, err := safeName(projectID)
	if err != nil {
		return "", err
	}
	return filepath.Join(a.basePath, name), nil
}

func safeName(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" || v == "." || v == ".." || strings.ContainsAny(v, `/\`) {
		return "", domain.WrapError(domain.ErrInvalidInput, "archive path", fmt.Errorf("unsafe name %q", v))
	}
	return v, nil
}
