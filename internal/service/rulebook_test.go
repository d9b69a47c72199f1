package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgx-lims-server/internal/domain"
)

func TestRulebook_LoadCachesWithinWindow(t *testing.T) {
	source := &stubRuleSource{set: testRuleSet()}
	rb := newTestRulebook(source)
	ctx := context.Background()

	set := rb.Load(ctx, false)
	require.Contains(t, set, "CYP2D6")
	assert.Equal(t, 1, source.callCount())

	// Fresh cache serves repeated loads without refetching.
	for i := 0; i < 5; i++ {
		rb.Load(ctx, false)
	}
	assert.Equal(t, 1, source.callCount())
	assert.False(t, rb.Degraded())
}

func TestRulebook_RefreshBypassesCache(t *testing.T) {
	source := &stubRuleSource{set: testRuleSet()}
	rb := newTestRulebook(source)
	ctx := context.Background()

	rb.Load(ctx, false)
	rb.Refresh(ctx)
	assert.Equal(t, 2, source.callCount())
}

func TestRulebook_FallsBackToBundledSnapshot(t *testing.T) {
	source := &stubRuleSource{err: errors.New("connection refused")}
	rb := newTestRulebook(source)

	set := rb.Load(context.Background(), false)
	require.NotEmpty(t, set, "bundled snapshot should serve when primary fails")
	assert.Contains(t, set, "CYP2D6")
	assert.True(t, rb.Degraded())
}

func TestRulebook_EmptyPrimaryTreatedAsFailure(t *testing.T) {
	source := &stubRuleSource{set: domain.RuleSet{}}
	rb := newTestRulebook(source)

	set := rb.Load(context.Background(), false)
	assert.NotEmpty(t, set)
	assert.True(t, rb.Degraded())
}

func TestRulebook_RecoversAfterPrimaryReturns(t *testing.T) {
	source := &stubRuleSource{err: errors.New("down")}
	rb := NewRulebook(source, domain.RulebookConfig{
		CacheTTL:     time.Millisecond,
		FetchTimeout: time.Second,
	}, testLogger())
	ctx := context.Background()

	rb.Load(ctx, false)
	require.True(t, rb.Degraded())

	source.mu.Lock()
	source.err = nil
	source.set = testRuleSet()
	source.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	rb.Load(ctx, false)
	assert.False(t, rb.Degraded())
}

func TestRulebook_AlleleFields(t *testing.T) {
	rb := newTestRulebook(&stubRuleSource{set: testRuleSet()})
	ctx := context.Background()

	fields, err := rb.AlleleFields(ctx, "CYP2D6")
	require.NoError(t, err)
	assert.Equal(t, []string{"*4", "*10", "*41"}, fields)

	_, err = rb.AlleleFields(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrUnknownAssayType)
}

func TestParseSnapshot(t *testing.T) {
	set, err := parseSnapshot(bundledSnapshot)
	require.NoError(t, err)
	require.Contains(t, set, "CYP2D6")

	rules := set["CYP2D6"]
	assert.Equal(t, "CYP2D6", rules.AssayType)
	assert.NotEmpty(t, rules.AlleleFields)
	assert.NotEmpty(t, rules.Rules)
	assert.NotEmpty(t, rules.Default.Genotype)
}
