package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/pgx-lims-server/internal/domain"
)

const requestColumns = `
	request_id, patient_id, assay_type, specimen_type, observed_alleles,
	status, requested_at,
	confirmed_by_1, confirmed_by_1_id, confirmed_at_1,
	confirmed_by_2, confirmed_by_2_id, confirmed_at_2,
	rejected_by, rejected_by_id, rejected_at, rejection_reason`

// RequestRepository handles test request persistence
type RequestRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewRequestRepository creates a new test request repository
func NewRequestRepository(db *pgxpool.Pool, logger *logrus.Logger) *RequestRepository {
	return &RequestRepository{
		db:  db,
		log: logger,
	}
}

// Create inserts a new test request in pending status
func (r *RequestRepository) Create(ctx context.Context, req *domain.TestRequest) error {
	if req.ObservedAlleles == nil {
		req.ObservedAlleles = map[string]string{}
	}
	alleles, err := json.Marshal(req.ObservedAlleles)
	if err != nil {
		return fmt.Errorf("encoding observed alleles: %w", err)
	}

	query := `
		INSERT INTO test_requests (
			request_id, patient_id, assay_type, specimen_type,
			observed_alleles, status, requested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.Exec(ctx, query,
		req.RequestID,
		req.PatientID,
		req.AssayType,
		req.SpecimenType,
		alleles,
		req.Status,
		req.RequestedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": req.RequestID,
			"patient_id": req.PatientID,
			"error":      err,
		}).Error("Failed to create test request")
		return fmt.Errorf("creating test request: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"assay_type": req.AssayType,
	}).Info("Test request created")

	return nil
}

// GetByID retrieves a test request by its ID
func (r *RequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.TestRequest, error) {
	query := `SELECT` + requestColumns + ` FROM test_requests WHERE request_id = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("test request %s: %w", id, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"request_id": id,
			"error":      err,
		}).Error("Failed to get test request")
		return nil, fmt.Errorf("getting test request: %w", err)
	}

	return req, nil
}

// List returns all test requests, newest first
func (r *RequestRepository) List(ctx context.Context) ([]*domain.TestRequest, error) {
	query := `SELECT` + requestColumns + ` FROM test_requests ORDER BY requested_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing test requests: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

// Search returns requests whose patient id or patient name contains the
// term, newest first.
func (r *RequestRepository) Search(ctx context.Context, term string) ([]*domain.TestRequest, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return r.List(ctx)
	}

	query := `
		SELECT` + requestColumns + `
		FROM test_requests tr
		WHERE EXISTS (
			SELECT 1 FROM patients p
			WHERE p.patient_id = tr.patient_id
			  AND (p.patient_id::text ILIKE '%' || $1 || '%'
			    OR p.first_name ILIKE '%' || $1 || '%'
			    OR p.last_name ILIKE '%' || $1 || '%'
			    OR (p.first_name || ' ' || p.last_name) ILIKE '%' || $1 || '%')
		)
		ORDER BY tr.requested_at DESC`

	rows, err := r.db.Query(ctx, query, term)
	if err != nil {
		return nil, fmt.Errorf("searching test requests: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

// Stats counts requests per status, optionally restricted to requests
// created at or after since.
func (r *RequestRepository) Stats(ctx context.Context, since *time.Time) (domain.RequestStats, error) {
	query := `
		SELECT status, COUNT(*)
		FROM test_requests
		WHERE $1::timestamptz IS NULL OR requested_at >= $1
		GROUP BY status`

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return domain.RequestStats{}, fmt.Errorf("counting test requests: %w", err)
	}
	defer rows.Close()

	var stats domain.RequestStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return domain.RequestStats{}, fmt.Errorf("scanning status count: %w", err)
		}
		stats.All += count
		switch domain.RequestStatus(status) {
		case domain.StatusPending:
			stats.Pending = count
		case domain.StatusNeedTwoConfirmation:
			stats.NeedTwoConfirmation = count
		case domain.StatusNeedOneConfirmation:
			stats.NeedOneConfirmation = count
		case domain.StatusDone:
			stats.Done = count
		case domain.StatusReject:
			stats.Reject = count
		}
	}
	if err := rows.Err(); err != nil {
		return domain.RequestStats{}, fmt.Errorf("iterating status counts: %w", err)
	}

	return stats, nil
}

// UpdateAlleles records a partial allele entry without a status change
func (r *RequestRepository) UpdateAlleles(ctx context.Context, id uuid.UUID, alleles map[string]string) error {
	payload, err := json.Marshal(alleles)
	if err != nil {
		return fmt.Errorf("encoding observed alleles: %w", err)
	}

	result, err := r.db.Exec(ctx,
		`UPDATE test_requests SET observed_alleles = $2 WHERE request_id = $1`,
		id, payload,
	)
	if err != nil {
		return fmt.Errorf("updating observed alleles: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("test request %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

// CompleteAlleles records the final allele set and advances pending to
// need_2_confirmation. Returns false if the request was not pending.
func (r *RequestRepository) CompleteAlleles(ctx context.Context, id uuid.UUID, alleles map[string]string) (bool, error) {
	payload, err := json.Marshal(alleles)
	if err != nil {
		return false, fmt.Errorf("encoding observed alleles: %w", err)
	}

	result, err := r.db.Exec(ctx, `
		UPDATE test_requests
		SET observed_alleles = $2, status = $3
		WHERE request_id = $1 AND status = $4`,
		id, payload, domain.StatusNeedTwoConfirmation, domain.StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("completing alleles: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ClaimFirstConfirmation atomically fills confirmation slot 1. The
// guard clause makes concurrent confirmers race safely: only one
// UPDATE can observe the slot empty.
func (r *RequestRepository) ClaimFirstConfirmation(ctx context.Context, id, userID uuid.UUID, displayName string, at time.Time) (bool, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE test_requests
		SET confirmed_by_1 = $2, confirmed_by_1_id = $3, confirmed_at_1 = $4, status = $5
		WHERE request_id = $1
		  AND confirmed_by_1_id IS NULL
		  AND status = $6`,
		id, displayName, userID, at,
		domain.StatusNeedOneConfirmation, domain.StatusNeedTwoConfirmation,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": id,
			"user_id":    userID,
			"error":      err,
		}).Error("Failed to claim first confirmation slot")
		return false, fmt.Errorf("claiming first confirmation: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ClaimSecondConfirmation atomically fills confirmation slot 2 and
// completes the request. The slot-1 holder is excluded in the guard so
// the same identity can never occupy both slots.
func (r *RequestRepository) ClaimSecondConfirmation(ctx context.Context, id, userID uuid.UUID, displayName string, at time.Time) (bool, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE test_requests
		SET confirmed_by_2 = $2, confirmed_by_2_id = $3, confirmed_at_2 = $4, status = $5
		WHERE request_id = $1
		  AND confirmed_by_2_id IS NULL
		  AND confirmed_by_1_id IS NOT NULL
		  AND confirmed_by_1_id <> $3
		  AND status = $6`,
		id, displayName, userID, at,
		domain.StatusDone, domain.StatusNeedOneConfirmation,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": id,
			"user_id":    userID,
			"error":      err,
		}).Error("Failed to claim second confirmation slot")
		return false, fmt.Errorf("claiming second confirmation: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// Reject marks the request rejected unless already terminal
func (r *RequestRepository) Reject(ctx context.Context, id, userID uuid.UUID, displayName, reason string, at time.Time) (bool, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE test_requests
		SET status = $2, rejected_by = $3, rejected_by_id = $4,
		    rejected_at = $5, rejection_reason = $6
		WHERE request_id = $1 AND status NOT IN ($7, $8)`,
		id, domain.StatusReject, displayName, userID, at, reason,
		domain.StatusDone, domain.StatusReject,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": id,
			"user_id":    userID,
			"error":      err,
		}).Error("Failed to reject test request")
		return false, fmt.Errorf("rejecting test request: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// Delete removes the request and its dependent report rows, report
// rows first, in one transaction.
func (r *RequestRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM reports WHERE request_id = $1`, id); err != nil {
		return fmt.Errorf("deleting dependent reports: %w", err)
	}

	result, err := tx.Exec(ctx, `DELETE FROM test_requests WHERE request_id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting test request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("test request %s: %w", id, domain.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing delete transaction: %w", err)
	}

	r.log.WithField("request_id", id).Info("Test request deleted")
	return nil
}

func scanRequest(row pgx.Row) (*domain.TestRequest, error) {
	var req domain.TestRequest
	var alleles []byte

	err := row.Scan(
		&req.RequestID,
		&req.PatientID,
		&req.AssayType,
		&req.SpecimenType,
		&alleles,
		&req.Status,
		&req.RequestedAt,
		&req.ConfirmedBy1,
		&req.ConfirmedBy1ID,
		&req.ConfirmedAt1,
		&req.ConfirmedBy2,
		&req.ConfirmedBy2ID,
		&req.ConfirmedAt2,
		&req.RejectedBy,
		&req.RejectedByID,
		&req.RejectedAt,
		&req.RejectionReason,
	)
	if err != nil {
		return nil, err
	}

	if len(alleles) > 0 {
		if err := json.Unmarshal(alleles, &req.ObservedAlleles); err != nil {
			return nil, fmt.Errorf("decoding observed alleles: %w", err)
		}
	}
	if req.ObservedAlleles == nil {
		req.ObservedAlleles = map[string]string{}
	}

	return &req, nil
}

func collectRequests(rows pgx.Rows) ([]*domain.TestRequest, error) {
	var requests []*domain.TestRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning test request row: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating test request rows: %w", err)
	}
	return requests, nil
}
