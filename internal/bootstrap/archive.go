package bootstrap

import (
	"context"
	"log/slog"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
	"github.com/kirillkom/opinion-analyzer/internal/core/ports"
)

// ArchivingRunner saves every successful report. Archive failures are logged
// and never change the run result.
type ArchivingRunner struct {
	next    ports.AnalysisRunner
	archive ports.ReportArchive
}

func NewArchivingRunner(next ports.AnalysisRunner, archive ports.ReportArchive) *ArchivingRunner {
	return &ArchivingRunner{next: next, archive: archive}
}

func (r *ArchivingRunner) Run(ctx context.Context, req domain.RunRequest) (*domain.RunReport, error) {
	report, err := r.next.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	path, archiveErr := r.archive.Save(context.WithoutCancel(ctx), report)
	if archiveErr != nil {
		slog.Warn("analysis_report_archive_failed",
			"run_id", report.Summary.RunID,
			"project_id", report.Summary.ProjectID,
			"error", archiveErr,
		)
		return report, nil
	}
	slog.Info("analysis_report_archived", "run_id", report.Summary.RunID, "path", path)
	return report, nil
}
