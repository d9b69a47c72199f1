package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/pgx-lims-server/internal/domain"
)

// PatientRepository handles patient persistence
type PatientRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *pgxpool.Pool, logger *logrus.Logger) *PatientRepository {
	return &PatientRepository{
		db:  db,
		log: logger,
	}
}

// Create inserts a new patient
func (r *PatientRepository) Create(ctx context.Context, patient *domain.Patient) error {
	query := `
		INSERT INTO patients (
			patient_id, hospital_id, first_name, last_name, age, gender, phone, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		patient.PatientID,
		patient.HospitalID,
		patient.FirstName,
		patient.LastName,
		patient.Age,
		patient.Gender,
		patient.Phone,
		patient.CreatedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": patient.PatientID,
			"error":      err,
		}).Error("Failed to create patient")
		return fmt.Errorf("creating patient: %w", err)
	}

	r.log.WithField("patient_id", patient.PatientID).Info("Patient created")
	return nil
}

// GetByID retrieves a patient by ID
func (r *PatientRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Patient, error) {
	query := `
		SELECT patient_id, hospital_id, first_name, last_name, age, gender, phone, created_at
		FROM patients
		WHERE patient_id = $1`

	var patient domain.Patient
	err := r.db.QueryRow(ctx, query, id).Scan(
		&patient.PatientID,
		&patient.HospitalID,
		&patient.FirstName,
		&patient.LastName,
		&patient.Age,
		&patient.Gender,
		&patient.Phone,
		&patient.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting patient: %w", err)
	}

	return &patient, nil
}

// Search returns patients whose id, hospital id, or name contains the term
func (r *PatientRepository) Search(ctx context.Context, term string) ([]*domain.Patient, error) {
	term = strings.TrimSpace(term)

	query := `
		SELECT patient_id, hospital_id, first_name, last_name, age, gender, phone, created_at
		FROM patients
		WHERE $1 = ''
		   OR patient_id::text ILIKE '%' || $1 || '%'
		   OR hospital_id ILIKE '%' || $1 || '%'
		   OR first_name ILIKE '%' || $1 || '%'
		   OR last_name ILIKE '%' || $1 || '%'
		   OR (first_name || ' ' || last_name) ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, term)
	if err != nil {
		return nil, fmt.Errorf("searching patients: %w", err)
	}
	defer rows.Close()

	var patients []*domain.Patient
	for rows.Next() {
		var patient domain.Patient
		err := rows.Scan(
			&patient.PatientID,
			&patient.HospitalID,
			&patient.FirstName,
			&patient.LastName,
			&patient.Age,
			&patient.Gender,
			&patient.Phone,
			&patient.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning patient row: %w", err)
		}
		patients = append(patients, &patient)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating patient rows: %w", err)
	}

	return patients, nil
}
