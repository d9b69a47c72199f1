package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/pgx-lims-server/internal/domain"
)

// genotype strings in reference data may carry a trailing alternative
// form ("*1/*4 or *4/*10"); the suffix is stripped before diplotype
// comparison.
var genotypeAltSuffix = regexp.MustCompile(`(?i)\s+or.*`)

// diplotypeQueryTimeout bounds each diplotype reference lookup
const diplotypeQueryTimeout = 2 * time.Second

// ReportAssembler combines predictor output, request data, and
// confirmer signatures into persisted report records and rendered
// documents.
type ReportAssembler struct {
	reports    domain.ReportStore
	diplotypes domain.DiplotypeStore
	patients   domain.PatientStore
	users      domain.UserStore
	blobs      domain.BlobStore
	renderer   domain.DocumentRenderer
	signatures domain.SignatureFetcher
	rulebook   *Rulebook
	log        *logrus.Logger

	diplotypeCache *lru.LRU[string, *domain.Diplotype]
}

// NewReportAssembler creates a new report assembler
func NewReportAssembler(
	reports domain.ReportStore,
	diplotypes domain.DiplotypeStore,
	patients domain.PatientStore,
	users domain.UserStore,
	blobs domain.BlobStore,
	renderer domain.DocumentRenderer,
	signatures domain.SignatureFetcher,
	rulebook *Rulebook,
	logger *logrus.Logger,
) *ReportAssembler {
	return &ReportAssembler{
		reports:        reports,
		diplotypes:     diplotypes,
		patients:       patients,
		users:          users,
		blobs:          blobs,
		renderer:       renderer,
		signatures:     signatures,
		rulebook:       rulebook,
		log:            logger,
		diplotypeCache: lru.NewLRU[string, *domain.Diplotype](256, nil, time.Hour),
	}
}

// CleanGenotype strips a trailing " or ..." alternative form
func CleanGenotype(genotype string) string {
	return genotypeAltSuffix.ReplaceAllString(genotype, "")
}

// CreateReport persists the report row for a request once the
// predictor has produced a match. The document is rendered separately.
func (a *ReportAssembler) CreateReport(ctx context.Context, req *domain.TestRequest, pred domain.Prediction) (*domain.Report, error) {
	report := &domain.Report{
		ReportID:        uuid.New(),
		RequestID:       req.RequestID,
		Genotype:        pred.Genotype,
		Phenotype:       pred.Phenotype,
		GenotypeSummary: fmt.Sprintf("Genotype %s for %s", pred.Genotype, req.AssayType),
		Recommendation:  pred.Recommendation,
		ActivityScore:   pred.ActivityScore,
		CreatedAt:       time.Now().UTC(),
	}

	// The diplotype reference table, when it knows this genotype, has
	// richer consultation text than the rule entry.
	if d := a.lookupDiplotype(ctx, req.AssayType, pred.Genotype); d != nil {
		if d.ConsultationText != "" {
			report.Recommendation = d.ConsultationText
		}
		if d.Description != "" {
			report.GenotypeSummary = d.Description
		}
	}

	if err := a.reports.Create(ctx, report); err != nil {
		return nil, fmt.Errorf("persisting report: %w", err)
	}

	return report, nil
}

// RenderAndStore regenerates the report document with the current
// confirmation signatures and uploads it, recording the new reference
// on the report. Signature fetch failures degrade to an empty slot.
// The returned warning is non-empty when any slot degraded.
func (a *ReportAssembler) RenderAndStore(ctx context.Context, report *domain.Report, req *domain.TestRequest) (string, string, error) {
	patient, err := a.patients.GetByID(ctx, req.PatientID)
	if err != nil {
		return "", "", fmt.Errorf("loading patient for render: %w", err)
	}

	payload := &domain.ReportPayload{
		PatientName:     patient.FullName(),
		HospitalID:      patient.HospitalID,
		Age:             patient.Age,
		Gender:          patient.Gender,
		AssayType:       req.AssayType,
		SpecimenType:    req.SpecimenType,
		RequestedAt:     req.RequestedAt,
		AlleleRows:      a.alleleRows(ctx, req),
		Genotype:        report.Genotype,
		Phenotype:       report.Phenotype,
		GenotypeSummary: report.GenotypeSummary,
		ActivityScore:   report.ActivityScore,
		Recommendation:  report.Recommendation,
	}

	var warning string

	// First confirmer's signature always occupies position 1 (left),
	// second confirmer's position 2 (right); assignment never changes
	// retroactively.
	if req.ConfirmedBy1ID != nil {
		payload.Signature1Name = deref(req.ConfirmedBy1)
		payload.Signature1Date = req.ConfirmedAt1
		if img, err := a.fetchSignature(ctx, *req.ConfirmedBy1ID); err != nil {
			warning = appendWarning(warning, fmt.Sprintf("signature for %s unavailable", deref(req.ConfirmedBy1)))
		} else {
			payload.Signature1 = img
		}
	}
	if req.ConfirmedBy2ID != nil {
		payload.Signature2Name = deref(req.ConfirmedBy2)
		payload.Signature2Date = req.ConfirmedAt2
		if img, err := a.fetchSignature(ctx, *req.ConfirmedBy2ID); err != nil {
			warning = appendWarning(warning, fmt.Sprintf("signature for %s unavailable", deref(req.ConfirmedBy2)))
		} else {
			payload.Signature2 = img
		}
	}

	document, err := a.renderer.Render(payload)
	if err != nil {
		return "", warning, fmt.Errorf("rendering report document: %w", err)
	}

	// Timestamped name so the old reference is superseded, not replaced
	// in place behind caches.
	name := fmt.Sprintf("reports/%s_%d.png", report.RequestID, time.Now().UnixNano())
	ref, err := a.blobs.Upload(ctx, name, document, "image/png")
	if err != nil {
		return "", warning, fmt.Errorf("storing report document: %w", err)
	}

	if err := a.reports.UpdateDocumentPath(ctx, report.ReportID, ref); err != nil {
		return "", warning, fmt.Errorf("recording report document path: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"report_id":  report.ReportID,
		"request_id": report.RequestID,
		"document":   ref,
	}).Info("Report document rendered and stored")

	return ref, warning, nil
}

// lookupDiplotype finds the reference row for a genotype, memoized.
// Lookup failures are non-fatal; the report falls back to rule text.
func (a *ReportAssembler) lookupDiplotype(ctx context.Context, geneSymbol, genotype string) *domain.Diplotype {
	cleaned := CleanGenotype(genotype)
	key := geneSymbol + "|" + cleaned

	if d, ok := a.diplotypeCache.Get(key); ok {
		return d
	}

	queryCtx, cancel := context.WithTimeout(ctx, diplotypeQueryTimeout)
	defer cancel()

	d, err := a.diplotypes.Find(queryCtx, geneSymbol, cleaned)
	if err != nil {
		a.log.WithFields(logrus.Fields{
			"gene_symbol": geneSymbol,
			"diplotype":   cleaned,
			"error":       err,
		}).Debug("Diplotype lookup missed")
		return nil
	}

	a.diplotypeCache.Add(key, d)
	return d
}

// fetchSignature resolves a confirmer's stored signature reference and
// downloads the image bytes.
func (a *ReportAssembler) fetchSignature(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading confirmer: %w", err)
	}
	if user.SignaturePath == "" {
		return nil, fmt.Errorf("confirmer %s has no signature on file", user.Username)
	}

	img, err := a.signatures.Fetch(ctx, user.SignaturePath)
	if err != nil {
		a.log.WithFields(logrus.Fields{
			"user_id": userID,
			"path":    user.SignaturePath,
			"error":   err,
		}).Warn("Signature image fetch failed, slot renders empty")
		return nil, err
	}

	return img, nil
}

// alleleRows lays out the observed alleles in the assay's declared slot
// order, falling back to lexical order when the assay is unknown.
func (a *ReportAssembler) alleleRows(ctx context.Context, req *domain.TestRequest) [][2]string {
	slots, err := a.rulebook.AlleleFields(ctx, req.AssayType)
	if err != nil {
		slots = make([]string, 0, len(req.ObservedAlleles))
		for slot := range req.ObservedAlleles {
			slots = append(slots, slot)
		}
		sort.Strings(slots)
	}

	rows := make([][2]string, 0, len(slots))
	for _, slot := range slots {
		rows = append(rows, [2]string{slot, req.ObservedAlleles[slot]})
	}
	return rows
}

// DiscardReport removes a report row whose request never left pending,
// so stray rows from a lost completion race cannot surface later.
func (a *ReportAssembler) DiscardReport(ctx context.Context, reportID uuid.UUID) error {
	return a.reports.Delete(ctx, reportID)
}

// LatestReport returns the most recent report record for a request.
func (a *ReportAssembler) LatestReport(ctx context.Context, requestID uuid.UUID) (*domain.Report, error) {
	return a.reports.GetByRequest(ctx, requestID)
}

func appendWarning(existing, add string) string {
	if add == "" {
		return existing
	}
	if existing == "" {
		return add
	}
	return existing + "; " + add
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
