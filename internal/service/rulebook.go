package service

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/pgx-lims-server/internal/domain"
)

//go:embed rulebook_snapshot.json
var bundledSnapshot []byte

// ruleSnapshot pairs a rule set with its fetch time. The Rulebook swaps
// whole snapshots atomically so readers never observe a partial cache.
type ruleSnapshot struct {
	set       domain.RuleSet
	fetchedAt time.Time
	degraded  bool
}

// Rulebook loads and caches the genotype-determination rule table. The
// primary source is the backing store; when it is unreachable or empty
// the bundled static snapshot is used instead. Load never fails on
// fallback; an empty rule set is returned only when both sources fail.
type Rulebook struct {
	source       domain.RuleSource
	log          *logrus.Logger
	cacheTTL     time.Duration
	fetchTimeout time.Duration
	breaker      *gobreaker.CircuitBreaker
	snapshot     atomic.Pointer[ruleSnapshot]
}

// NewRulebook creates a rule repository with the given cache freshness
// window and primary-fetch timeout.
func NewRulebook(source domain.RuleSource, cfg domain.RulebookConfig, logger *logrus.Logger) *Rulebook {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "rulebook-primary",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Rulebook circuit breaker state changed")
		},
	})

	return &Rulebook{
		source:       source,
		log:          logger,
		cacheTTL:     cfg.CacheTTL,
		fetchTimeout: cfg.FetchTimeout,
		breaker:      breaker,
	}
}

// Load returns the cached rule set while it is fresh, unless
// forceRefresh is set. A stale or missing cache triggers a fetch from
// the primary store, falling back to the bundled snapshot on failure.
func (rb *Rulebook) Load(ctx context.Context, forceRefresh bool) domain.RuleSet {
	if !forceRefresh {
		if snap := rb.snapshot.Load(); snap != nil && time.Since(snap.fetchedAt) < rb.cacheTTL {
			return snap.set
		}
	}

	set, degraded := rb.fetch(ctx)
	rb.snapshot.Store(&ruleSnapshot{set: set, fetchedAt: time.Now(), degraded: degraded})
	return set
}

// Refresh invalidates the cache and returns the new snapshot
func (rb *Rulebook) Refresh(ctx context.Context) domain.RuleSet {
	return rb.Load(ctx, true)
}

// Degraded reports whether the current snapshot came from the fallback
func (rb *Rulebook) Degraded() bool {
	snap := rb.snapshot.Load()
	return snap != nil && snap.degraded
}

// AssayTypes lists the assay types the current rule set supports
func (rb *Rulebook) AssayTypes(ctx context.Context) []string {
	set := rb.Load(ctx, false)
	types := make([]string, 0, len(set))
	for assayType := range set {
		types = append(types, assayType)
	}
	return types
}

// AlleleFields returns the ordered allele slot names for an assay type
func (rb *Rulebook) AlleleFields(ctx context.Context, assayType string) ([]string, error) {
	set := rb.Load(ctx, false)
	rules, ok := set[assayType]
	if !ok {
		return nil, fmt.Errorf("assay type %q: %w", assayType, domain.ErrUnknownAssayType)
	}
	return rules.AlleleFields, nil
}

// fetch tries the primary store through the circuit breaker, then the
// bundled snapshot. Both failing yields an empty set, logged as a
// degraded condition.
func (rb *Rulebook) fetch(ctx context.Context) (domain.RuleSet, bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, rb.fetchTimeout)
	defer cancel()

	result, err := rb.breaker.Execute(func() (interface{}, error) {
		set, err := rb.source.FetchRuleSet(fetchCtx)
		if err != nil {
			return nil, err
		}
		if len(set) == 0 {
			return nil, fmt.Errorf("primary rule store returned no assay types")
		}
		return set, nil
	})
	if err == nil {
		set := result.(domain.RuleSet)
		rb.log.WithField("assay_types", len(set)).Info("Rulebook loaded from primary store")
		return set, false
	}

	rb.log.WithError(err).Warn("Primary rule store unavailable, falling back to bundled snapshot")

	set, parseErr := parseSnapshot(bundledSnapshot)
	if parseErr != nil {
		rb.log.WithError(parseErr).Error("Bundled rulebook snapshot unusable, serving empty rule set")
		return domain.RuleSet{}, true
	}

	rb.log.WithField("assay_types", len(set)).Info("Rulebook loaded from bundled snapshot")
	return set, true
}

// parseSnapshot decodes a rule table keyed by assay type
func parseSnapshot(data []byte) (domain.RuleSet, error) {
	var raw map[string]*domain.AssayRules
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding rulebook snapshot: %w", err)
	}

	set := domain.RuleSet{}
	for assayType, rules := range raw {
		rules.AssayType = assayType
		set[assayType] = rules
	}
	return set, nil
}
