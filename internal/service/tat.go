package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pgx-lims-server/internal/domain"
)

// TAT classification thresholds as portions of the SLA window. Exactly
// at the warning threshold classifies as warning; exactly at 100%
// remains warning, not overdue.
const (
	tatWarningRatio = 0.8
	tatOverdueRatio = 1.0
)

// TATEvaluator classifies turnaround time against specimen SLAs. It is
// a read-side projection, independent of the confirmation state machine.
type TATEvaluator struct {
	slas domain.SLAStore
	log  *logrus.Logger
	now  func() time.Time
}

// NewTATEvaluator creates a new turnaround-time evaluator
func NewTATEvaluator(slas domain.SLAStore, logger *logrus.Logger) *TATEvaluator {
	return &TATEvaluator{
		slas: slas,
		log:  logger,
		now:  time.Now,
	}
}

// Classify computes elapsed-time-vs-SLA for one request. Terminal and
// rejected requests are not classified; their clock has stopped.
// Unknown specimen types produce no classification so callers never
// badge a request without a defined SLA.
func (e *TATEvaluator) Classify(ctx context.Context, requestedAt time.Time, specimenType string, status domain.RequestStatus) (domain.TATResult, error) {
	if status.Terminal() {
		return domain.TATResult{}, nil
	}

	sla, ok, err := e.slas.Get(ctx, specimenType)
	if err != nil {
		return domain.TATResult{}, err
	}
	if !ok || sla <= 0 {
		e.log.WithField("specimen_type", specimenType).Debug("No SLA defined, skipping TAT classification")
		return domain.TATResult{}, nil
	}

	return ClassifyRatio(e.now().Sub(requestedAt), sla), nil
}

// ClassifyRatio classifies an elapsed duration against an SLA window
func ClassifyRatio(elapsed, sla time.Duration) domain.TATResult {
	ratio := float64(elapsed) / float64(sla)
	if ratio < 0 {
		ratio = 0
	}

	result := domain.TATResult{
		Classified:   true,
		ElapsedRatio: ratio,
	}

	switch {
	case ratio > tatOverdueRatio:
		result.Class = domain.TATOverdue
	case ratio >= tatWarningRatio:
		result.Class = domain.TATWarning
	default:
		result.Class = domain.TATNormal
	}

	return result
}
