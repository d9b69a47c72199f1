package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pgx-lims-server/internal/domain"
)

// Predictor matches observed allele calls against the rule table to
// determine genotype, phenotype, activity score, and recommendation.
type Predictor struct {
	rulebook *Rulebook
	log      *logrus.Logger
}

// NewPredictor creates a new genotype/phenotype predictor
func NewPredictor(rulebook *Rulebook, logger *logrus.Logger) *Predictor {
	return &Predictor{
		rulebook: rulebook,
		log:      logger,
	}
}

// Predict finds the first rule, in stored order, whose defined slots
// all equal the corresponding observed values. A rule omitting a slot
// does not constrain that slot. When no rule matches, the assay type's
// default is returned with Matched=false; an unmatched result must not
// be finalized by callers without explicit override.
func (p *Predictor) Predict(ctx context.Context, assayType string, observed map[string]string) (domain.Prediction, error) {
	set := p.rulebook.Load(ctx, false)

	rules, ok := set[assayType]
	if !ok {
		p.log.WithField("assay_type", assayType).Warn("Prediction requested for unknown assay type")
		return domain.Prediction{Matched: false}, fmt.Errorf("assay type %q: %w", assayType, domain.ErrUnknownAssayType)
	}

	for _, rule := range rules.Rules {
		if ruleMatches(rule, observed) {
			p.log.WithFields(logrus.Fields{
				"assay_type": assayType,
				"genotype":   rule.Genotype,
				"phenotype":  rule.Phenotype,
			}).Debug("Rule matched")
			return domain.Prediction{
				Genotype:       rule.Genotype,
				Phenotype:      rule.Phenotype,
				ActivityScore:  rule.ActivityScore,
				Recommendation: rule.Recommendation,
				Matched:        true,
			}, nil
		}
	}

	p.log.WithFields(logrus.Fields{
		"assay_type": assayType,
		"observed":   observed,
	}).Warn("No rule matched, using assay default")

	return domain.Prediction{
		Genotype:      rules.Default.Genotype,
		Phenotype:     rules.Default.Phenotype,
		ActivityScore: rules.Default.ActivityScore,
		Matched:       false,
		Warning:       "no exact match found in rulebook, using default values",
	}, nil
}

// PossibleValues returns the distinct values appearing in one allele
// slot across all rules of an assay type.
func (p *Predictor) PossibleValues(ctx context.Context, assayType, slot string) ([]string, error) {
	set := p.rulebook.Load(ctx, false)

	rules, ok := set[assayType]
	if !ok {
		return nil, fmt.Errorf("assay type %q: %w", assayType, domain.ErrUnknownAssayType)
	}

	seen := map[string]bool{}
	var values []string
	for _, rule := range rules.Rules {
		if value, ok := rule.Alleles[slot]; ok && !seen[value] {
			seen[value] = true
			values = append(values, value)
		}
	}

	return values, nil
}

// AllelesComplete reports whether observed covers every allele slot of
// the assay type with a non-empty value.
func (p *Predictor) AllelesComplete(ctx context.Context, assayType string, observed map[string]string) (bool, error) {
	fields, err := p.rulebook.AlleleFields(ctx, assayType)
	if err != nil {
		return false, err
	}

	for _, field := range fields {
		if observed[field] == "" {
			return false, nil
		}
	}
	return true, nil
}

// ruleMatches reports whether every observed slot is either undefined
// by the rule or equal to the rule's value for that slot. An empty
// observed set therefore matches every rule; callers enforce the
// all-slots-filled policy before predicting.
func ruleMatches(rule domain.Rule, observed map[string]string) bool {
	for slot, value := range observed {
		if want, ok := rule.Alleles[slot]; ok && want != value {
			return false
		}
	}
	return true
}
