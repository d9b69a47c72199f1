package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pgx-lims-server/internal/domain"
)

// ConfirmationService drives the test-request lifecycle: allele entry
// completion, the two-party confirmation handshake, and rejection.
// Slot writes go through the store's conditional updates, so two
// concurrent confirmers can never land in the same slot.
type ConfirmationService struct {
	requests  domain.RequestStore
	users     domain.UserStore
	predictor *Predictor
	reports   *ReportAssembler
	audit     domain.AuditRecorder
	log       *logrus.Logger
	now       func() time.Time
}

// NewConfirmationService creates a new confirmation service
func NewConfirmationService(
	requests domain.RequestStore,
	users domain.UserStore,
	predictor *Predictor,
	reports *ReportAssembler,
	audit domain.AuditRecorder,
	logger *logrus.Logger,
) *ConfirmationService {
	return &ConfirmationService{
		requests:  requests,
		users:     users,
		predictor: predictor,
		reports:   reports,
		audit:     audit,
		log:       logger,
		now:       time.Now,
	}
}

// CompleteAlleles records the final observed allele set for a pending
// request, runs the predictor, creates the report, and advances the
// request to need_2_confirmation. An unmatched prediction blocks the
// transition unless force is set.
func (s *ConfirmationService) CompleteAlleles(ctx context.Context, requestID uuid.UUID, alleles map[string]string, actor domain.Identity, force bool) (domain.Outcome, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return domain.FailedOutcome(err), fmt.Errorf("loading request %s: %w", requestID, err)
	}
	if req.Status != domain.StatusPending {
		if req.Status.Terminal() {
			return domain.FailedOutcome(domain.ErrAlreadyFinalized), domain.ErrAlreadyFinalized
		}
		return domain.Outcome{Success: false, Message: "allele entry already completed"}, nil
	}

	complete, err := s.predictor.AllelesComplete(ctx, req.AssayType, alleles)
	if err != nil {
		return domain.FailedOutcome(err), err
	}
	if !complete {
		return domain.FailedOutcome(domain.ErrAllelesIncomplete), domain.ErrAllelesIncomplete
	}

	pred, err := s.predictor.Predict(ctx, req.AssayType, alleles)
	if err != nil {
		return domain.FailedOutcome(err), err
	}
	if !pred.Matched && !force {
		return domain.Outcome{
			Success: false,
			Message: "no rule matched the observed alleles; review the entry or force the default result",
			Warning: pred.Warning,
		}, nil
	}

	// The report row goes in before the status transition. If it
	// fails, the request is still pending and the call can be retried;
	// the inverse order could leave a completed request with no report.
	report, err := s.reports.CreateReport(ctx, req, pred)
	if err != nil {
		return domain.FailedOutcome(err), fmt.Errorf("creating report for %s: %w", requestID, err)
	}

	moved, err := s.requests.CompleteAlleles(ctx, requestID, alleles)
	if err != nil {
		s.discardReport(ctx, requestID, report.ReportID)
		return domain.FailedOutcome(err), fmt.Errorf("completing alleles for %s: %w", requestID, err)
	}
	if !moved {
		// Another writer advanced or rejected the request first; their
		// report stands, ours goes.
		s.discardReport(ctx, requestID, report.ReportID)
		return domain.Outcome{Success: false, Message: "request is no longer pending"}, nil
	}
	req.ObservedAlleles = alleles
	req.Status = domain.StatusNeedTwoConfirmation

	s.recordAudit(ctx, actor, "complete_alleles", requestID, pred.Genotype)
	s.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"assay_type": req.AssayType,
		"genotype":   pred.Genotype,
		"matched":    pred.Matched,
	}).Info("Allele entry completed, awaiting confirmations")

	outcome := domain.Outcome{
		Success:   true,
		Message:   "alleles recorded, report created",
		NewStatus: domain.StatusNeedTwoConfirmation,
		Matched:   pred.Matched,
		AssayType: req.AssayType,
	}
	if !pred.Matched {
		outcome.Warning = pred.Warning
	}
	return outcome, nil
}

// Confirm fills the next free confirmation slot for the caller. The
// first confirmation moves the request to need_1_confirmation, the
// second to done. A report re-render failure after a successful slot
// claim is reported as a warning, never rolled back.
func (s *ConfirmationService) Confirm(ctx context.Context, requestID uuid.UUID, actor domain.Identity) (domain.Outcome, error) {
	user, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		return domain.FailedOutcome(err), fmt.Errorf("loading confirmer %s: %w", actor.UserID, err)
	}

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return domain.FailedOutcome(err), fmt.Errorf("loading request %s: %w", requestID, err)
	}

	if outcome, err := s.checkConfirmable(req, user.UserID); err != nil {
		return outcome, err
	}

	at := s.now().UTC()
	name := user.DisplayName()

	var newStatus domain.RequestStatus
	if req.ConfirmedBy1ID == nil {
		claimed, err := s.requests.ClaimFirstConfirmation(ctx, requestID, user.UserID, name, at)
		if err != nil {
			return domain.FailedOutcome(err), fmt.Errorf("claiming first confirmation on %s: %w", requestID, err)
		}
		if !claimed {
			// Lost the race for slot 1; re-read and try slot 2 once.
			return s.retrySecondSlot(ctx, requestID, user.UserID, name, at)
		}
		newStatus = domain.StatusNeedOneConfirmation
	} else {
		claimed, err := s.requests.ClaimSecondConfirmation(ctx, requestID, user.UserID, name, at)
		if err != nil {
			return domain.FailedOutcome(err), fmt.Errorf("claiming second confirmation on %s: %w", requestID, err)
		}
		if !claimed {
			return s.lostSecondSlot(ctx, requestID, user.UserID)
		}
		newStatus = domain.StatusDone
	}

	return s.finishConfirmation(ctx, requestID, actor, newStatus)
}

// Reject moves a non-terminal request to the rejected state. The
// reason is mandatory and the transition is terminal; the existing
// report and confirmations stay recorded for the audit trail.
func (s *ConfirmationService) Reject(ctx context.Context, requestID uuid.UUID, actor domain.Identity, reason string) (domain.Outcome, error) {
	if reason == "" {
		return domain.FailedOutcome(domain.ErrReasonRequired), domain.ErrReasonRequired
	}

	user, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		return domain.FailedOutcome(err), fmt.Errorf("loading rejecter %s: %w", actor.UserID, err)
	}

	rejected, err := s.requests.Reject(ctx, requestID, user.UserID, user.DisplayName(), reason, s.now().UTC())
	if err != nil {
		return domain.FailedOutcome(err), fmt.Errorf("rejecting request %s: %w", requestID, err)
	}
	if !rejected {
		return domain.FailedOutcome(domain.ErrAlreadyFinalized), domain.ErrAlreadyFinalized
	}

	s.recordAudit(ctx, actor, "reject", requestID, reason)
	s.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"user_id":    user.UserID,
		"reason":     reason,
	}).Info("Request rejected")

	return domain.Outcome{
		Success:   true,
		Message:   "request rejected",
		NewStatus: domain.StatusReject,
	}, nil
}

// checkConfirmable validates the confirmation preconditions against a
// freshly loaded request. The store's conditional updates re-check
// these, so a stale read here can only produce a clearer error message,
// never a wrong slot write.
func (s *ConfirmationService) checkConfirmable(req *domain.TestRequest, userID uuid.UUID) (domain.Outcome, error) {
	switch {
	case req.Status == domain.StatusPending:
		return domain.FailedOutcome(domain.ErrAllelesIncomplete), domain.ErrAllelesIncomplete
	case req.Status.Terminal():
		return domain.FailedOutcome(domain.ErrAlreadyFinalized), domain.ErrAlreadyFinalized
	case req.ConfirmedBy(userID):
		return domain.FailedOutcome(domain.ErrAlreadyConfirmed), domain.ErrAlreadyConfirmed
	case req.ConfirmedBy1ID != nil && req.ConfirmedBy2ID != nil:
		return domain.FailedOutcome(domain.ErrFullyConfirmed), domain.ErrFullyConfirmed
	}
	return domain.Outcome{}, nil
}

// retrySecondSlot handles losing the slot-1 race: someone else became
// the first confirmer between our read and our write, so the caller may
// still be eligible for slot 2.
func (s *ConfirmationService) retrySecondSlot(ctx context.Context, requestID, userID uuid.UUID, name string, at time.Time) (domain.Outcome, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return domain.FailedOutcome(err), fmt.Errorf("reloading request %s: %w", requestID, err)
	}
	if outcome, err := s.checkConfirmable(req, userID); err != nil {
		return outcome, err
	}

	claimed, err := s.requests.ClaimSecondConfirmation(ctx, requestID, userID, name, at)
	if err != nil {
		return domain.FailedOutcome(err), fmt.Errorf("claiming second confirmation on %s: %w", requestID, err)
	}
	if !claimed {
		return s.lostSecondSlot(ctx, requestID, userID)
	}

	return s.finishConfirmation(ctx, requestID, domain.Identity{UserID: userID, DisplayName: name}, domain.StatusDone)
}

// lostSecondSlot maps a failed slot-2 claim to the precise precondition
// error for the caller.
func (s *ConfirmationService) lostSecondSlot(ctx context.Context, requestID, userID uuid.UUID) (domain.Outcome, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return domain.FailedOutcome(err), fmt.Errorf("reloading request %s: %w", requestID, err)
	}
	if outcome, err := s.checkConfirmable(req, userID); err != nil {
		return outcome, err
	}
	return domain.FailedOutcome(domain.ErrFullyConfirmed), domain.ErrFullyConfirmed
}

// finishConfirmation re-renders the report with the updated signature
// set. The slot claim is already durable at this point, so render and
// storage failures degrade to a warning on a successful outcome.
func (s *ConfirmationService) finishConfirmation(ctx context.Context, requestID uuid.UUID, actor domain.Identity, newStatus domain.RequestStatus) (domain.Outcome, error) {
	outcome := domain.Outcome{
		Success:   true,
		Message:   "confirmation recorded",
		NewStatus: newStatus,
	}

	s.recordAudit(ctx, actor, "confirm", requestID, string(newStatus))
	s.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"user_id":    actor.UserID,
		"new_status": newStatus,
	}).Info("Confirmation recorded")

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		outcome.Warning = appendWarning(outcome.Warning, "report document not refreshed: "+err.Error())
		return outcome, nil
	}
	report, err := s.reports.LatestReport(ctx, requestID)
	if err != nil {
		outcome.Warning = appendWarning(outcome.Warning, "report document not refreshed: "+err.Error())
		return outcome, nil
	}

	_, warning, err := s.reports.RenderAndStore(ctx, report, req)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err,
		}).Warn("Report re-render failed after confirmation")
		outcome.Warning = appendWarning(outcome.Warning, "report document not refreshed: "+err.Error())
		return outcome, nil
	}
	outcome.Warning = appendWarning(outcome.Warning, warning)

	return outcome, nil
}

func (s *ConfirmationService) discardReport(ctx context.Context, requestID, reportID uuid.UUID) {
	if err := s.reports.DiscardReport(ctx, reportID); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"report_id":  reportID,
			"error":      err,
		}).Warn("Failed to discard unused report")
	}
}

func (s *ConfirmationService) recordAudit(ctx context.Context, actor domain.Identity, action string, requestID uuid.UUID, detail string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, actor.UserID.String(), action, "test_request:"+requestID.String(), detail); err != nil {
		s.log.WithError(err).Warn("Audit record failed")
	}
}
