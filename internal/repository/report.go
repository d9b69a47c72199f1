package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/pgx-lims-server/internal/domain"
)

// ReportRepository handles report persistence
type ReportRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *pgxpool.Pool, logger *logrus.Logger) *ReportRepository {
	return &ReportRepository{
		db:  db,
		log: logger,
	}
}

// Create inserts a new report row. DocumentPath stays NULL until the
// first render.
func (r *ReportRepository) Create(ctx context.Context, report *domain.Report) error {
	query := `
		INSERT INTO reports (
			report_id, request_id, genotype, phenotype,
			genotype_summary, recommendation, activity_score,
			document_path, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		report.ReportID,
		report.RequestID,
		report.Genotype,
		report.Phenotype,
		report.GenotypeSummary,
		report.Recommendation,
		report.ActivityScore,
		report.DocumentPath,
		report.CreatedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"report_id":  report.ReportID,
			"request_id": report.RequestID,
			"error":      err,
		}).Error("Failed to create report")
		return fmt.Errorf("creating report: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"report_id":  report.ReportID,
		"request_id": report.RequestID,
		"genotype":   report.Genotype,
	}).Info("Report created")

	return nil
}

// GetByRequest retrieves the report for a request
func (r *ReportRepository) GetByRequest(ctx context.Context, requestID uuid.UUID) (*domain.Report, error) {
	query := `
		SELECT report_id, request_id, genotype, phenotype, genotype_summary,
		       recommendation, activity_score, document_path, created_at
		FROM reports
		WHERE request_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var report domain.Report
	err := r.db.QueryRow(ctx, query, requestID).Scan(
		&report.ReportID,
		&report.RequestID,
		&report.Genotype,
		&report.Phenotype,
		&report.GenotypeSummary,
		&report.Recommendation,
		&report.ActivityScore,
		&report.DocumentPath,
		&report.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("report for request %s: %w", requestID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting report: %w", err)
	}

	return &report, nil
}

// UpdateDocumentPath records the latest rendered document reference.
// The previous document is superseded, not deleted.
func (r *ReportRepository) UpdateDocumentPath(ctx context.Context, reportID uuid.UUID, path string) error {
	result, err := r.db.Exec(ctx,
		`UPDATE reports SET document_path = $2 WHERE report_id = $1`,
		reportID, path,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"report_id": reportID,
			"error":     err,
		}).Error("Failed to update report document path")
		return fmt.Errorf("updating report document path: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("report %s: %w", reportID, domain.ErrNotFound)
	}

	return nil
}

// Delete removes a single report row.
func (r *ReportRepository) Delete(ctx context.Context, reportID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM reports WHERE report_id = $1`, reportID); err != nil {
		return fmt.Errorf("deleting report: %w", err)
	}
	return nil
}

// DeleteByRequest removes all report rows for a request
func (r *ReportRepository) DeleteByRequest(ctx context.Context, requestID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM reports WHERE request_id = $1`, requestID); err != nil {
		return fmt.Errorf("deleting reports for request: %w", err)
	}
	return nil
}
