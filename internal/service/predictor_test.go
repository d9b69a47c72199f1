package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgx-lims-server/internal/domain"
)

func newTestPredictor(t *testing.T) *Predictor {
	t.Helper()
	source := &stubRuleSource{set: testRuleSet()}
	return NewPredictor(newTestRulebook(source), testLogger())
}

func TestPredictor_Predict(t *testing.T) {
	predictor := newTestPredictor(t)
	ctx := context.Background()

	tests := []struct {
		name          string
		observed      map[string]string
		wantGenotype  string
		wantPhenotype string
		wantScore     float64
		wantMatched   bool
	}{
		{
			name:          "all negative matches first rule",
			observed:      map[string]string{"*4": "negative", "*10": "negative", "*41": "negative"},
			wantGenotype:  "*1/*1",
			wantPhenotype: "Normal Metabolizer",
			wantScore:     2.0,
			wantMatched:   true,
		},
		{
			name:          "wildcard slots do not constrain",
			observed:      map[string]string{"*4": "homozygous", "*10": "negative", "*41": "heterozygous"},
			wantGenotype:  "*4/*4",
			wantPhenotype: "Poor Metabolizer",
			wantScore:     0.0,
			wantMatched:   true,
		},
		{
			name:          "first match wins over later rule",
			observed:      map[string]string{"*4": "heterozygous", "*10": "heterozygous", "*41": "negative"},
			wantGenotype:  "*4/*10 or *1/*4",
			wantPhenotype: "Intermediate Metabolizer",
			wantScore:     1.0,
			wantMatched:   true,
		},
		{
			name:          "no match falls back to default",
			observed:      map[string]string{"*4": "unexpected", "*10": "negative", "*41": "negative"},
			wantGenotype:  "*1/*1",
			wantPhenotype: "Normal Metabolizer",
			wantScore:     2.0,
			wantMatched:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := predictor.Predict(ctx, "CYP2D6", tt.observed)
			require.NoError(t, err)

			assert.Equal(t, tt.wantGenotype, pred.Genotype)
			assert.Equal(t, tt.wantPhenotype, pred.Phenotype)
			assert.Equal(t, tt.wantScore, pred.ActivityScore)
			assert.Equal(t, tt.wantMatched, pred.Matched)
			if !tt.wantMatched {
				assert.NotEmpty(t, pred.Warning)
			}
		})
	}
}

func TestPredictor_PredictUnknownAssay(t *testing.T) {
	predictor := newTestPredictor(t)

	pred, err := predictor.Predict(context.Background(), "CYP9X9", map[string]string{"*4": "negative"})
	require.ErrorIs(t, err, domain.ErrUnknownAssayType)
	assert.False(t, pred.Matched)
}

func TestPredictor_PossibleValues(t *testing.T) {
	predictor := newTestPredictor(t)
	ctx := context.Background()

	values, err := predictor.PossibleValues(ctx, "CYP2D6", "*4")
	require.NoError(t, err)
	assert.Equal(t, []string{"negative", "homozygous", "heterozygous"}, values)

	// Distinct even though *10 appears in several rules.
	values, err = predictor.PossibleValues(ctx, "CYP2D6", "*10")
	require.NoError(t, err)
	assert.Equal(t, []string{"negative", "heterozygous"}, values)

	_, err = predictor.PossibleValues(ctx, "CYP9X9", "*4")
	assert.ErrorIs(t, err, domain.ErrUnknownAssayType)
}

func TestPredictor_AllelesComplete(t *testing.T) {
	predictor := newTestPredictor(t)
	ctx := context.Background()

	complete, err := predictor.AllelesComplete(ctx, "CYP2D6", map[string]string{
		"*4": "negative", "*10": "negative", "*41": "negative",
	})
	require.NoError(t, err)
	assert.True(t, complete)

	complete, err = predictor.AllelesComplete(ctx, "CYP2D6", map[string]string{
		"*4": "negative", "*10": "",
	})
	require.NoError(t, err)
	assert.False(t, complete)
}
