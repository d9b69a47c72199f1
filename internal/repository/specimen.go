package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// SLARepository reads specimen turnaround targets. Specimen types are
// matched case-insensitively.
type SLARepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewSLARepository creates a new specimen SLA repository
func NewSLARepository(db *pgxpool.Pool, logger *logrus.Logger) *SLARepository {
	return &SLARepository{
		db:  db,
		log: logger,
	}
}

// Get returns the turnaround target for one specimen type. The second
// return value is false when no SLA entry is defined.
func (r *SLARepository) Get(ctx context.Context, specimenType string) (time.Duration, bool, error) {
	var hours float64
	err := r.db.QueryRow(ctx,
		`SELECT turnaround_hours FROM specimen_sla WHERE LOWER(specimen_type) = LOWER($1)`,
		strings.TrimSpace(specimenType),
	).Scan(&hours)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("getting specimen SLA: %w", err)
	}

	return time.Duration(hours * float64(time.Hour)), true, nil
}

// All returns every SLA entry keyed by lower-cased specimen type
func (r *SLARepository) All(ctx context.Context) (map[string]time.Duration, error) {
	rows, err := r.db.Query(ctx, `SELECT specimen_type, turnaround_hours FROM specimen_sla`)
	if err != nil {
		return nil, fmt.Errorf("listing specimen SLAs: %w", err)
	}
	defer rows.Close()

	slas := map[string]time.Duration{}
	for rows.Next() {
		var specimenType string
		var hours float64
		if err := rows.Scan(&specimenType, &hours); err != nil {
			return nil, fmt.Errorf("scanning specimen SLA row: %w", err)
		}
		slas[strings.ToLower(strings.TrimSpace(specimenType))] = time.Duration(hours * float64(time.Hour))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating specimen SLA rows: %w", err)
	}

	return slas, nil
}
