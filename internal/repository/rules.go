package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/pgx-lims-server/internal/domain"
)

// RulesRepository reads the genotype-determination rule table. Each row
// stores the full rule payload for one assay type as JSON, in the same
// shape the bundled snapshot uses.
type RulesRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewRulesRepository creates a new rules repository
func NewRulesRepository(db *pgxpool.Pool, logger *logrus.Logger) *RulesRepository {
	return &RulesRepository{
		db:  db,
		log: logger,
	}
}

// FetchRuleSet loads the complete rule table from the backing store
func (r *RulesRepository) FetchRuleSet(ctx context.Context) (domain.RuleSet, error) {
	rows, err := r.db.Query(ctx, `SELECT assay_type, payload FROM rulebook ORDER BY assay_type`)
	if err != nil {
		return nil, fmt.Errorf("fetching rulebook: %w", err)
	}
	defer rows.Close()

	set := domain.RuleSet{}
	for rows.Next() {
		var assayType string
		var payload []byte
		if err := rows.Scan(&assayType, &payload); err != nil {
			return nil, fmt.Errorf("scanning rulebook row: %w", err)
		}

		var rules domain.AssayRules
		if err := json.Unmarshal(payload, &rules); err != nil {
			r.log.WithFields(logrus.Fields{
				"assay_type": assayType,
				"error":      err,
			}).Error("Skipping malformed rulebook payload")
			continue
		}
		rules.AssayType = assayType
		set[assayType] = &rules
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rulebook rows: %w", err)
	}

	return set, nil
}

// Upsert replaces the stored payload for one assay type
func (r *RulesRepository) Upsert(ctx context.Context, rules *domain.AssayRules) error {
	payload, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("encoding rulebook payload: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO rulebook (assay_type, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (assay_type) DO UPDATE SET payload = $2, updated_at = NOW()`,
		rules.AssayType, payload,
	)
	if err != nil {
		return fmt.Errorf("upserting rulebook payload: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"assay_type": rules.AssayType,
		"rules":      len(rules.Rules),
	}).Info("Rulebook payload stored")

	return nil
}

// DiplotypeRepository reads the diplotype reference table
type DiplotypeRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewDiplotypeRepository creates a new diplotype repository
func NewDiplotypeRepository(db *pgxpool.Pool, logger *logrus.Logger) *DiplotypeRepository {
	return &DiplotypeRepository{
		db:  db,
		log: logger,
	}
}

// Find looks up one diplotype row by gene symbol and diplotype string.
// Callers strip any trailing " or ..." alternative before calling.
func (r *DiplotypeRepository) Find(ctx context.Context, geneSymbol, diplotype string) (*domain.Diplotype, error) {
	query := `
		SELECT genesymbol, diplotype, description, consultationtext, totalactivityscore
		FROM diplotypes
		WHERE genesymbol = $1 AND diplotype = $2
		LIMIT 1`

	var d domain.Diplotype
	err := r.db.QueryRow(ctx, query, geneSymbol, diplotype).Scan(
		&d.GeneSymbol,
		&d.Diplotype,
		&d.Description,
		&d.ConsultationText,
		&d.TotalActivityScore,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("diplotype %s %s: %w", geneSymbol, diplotype, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("finding diplotype: %w", err)
	}

	return &d, nil
}
