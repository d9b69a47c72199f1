package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pgx-lims-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

// stubRuleSource serves a fixed rule set, optionally failing.
type stubRuleSource struct {
	mu    sync.Mutex
	set   domain.RuleSet
	err   error
	calls int
}

func (s *stubRuleSource) FetchRuleSet(ctx context.Context) (domain.RuleSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.set, nil
}

func (s *stubRuleSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testRuleSet() domain.RuleSet {
	return domain.RuleSet{
		"CYP2D6": {
			AssayType:    "CYP2D6",
			AlleleFields: []string{"*4", "*10", "*41"},
			Rules: []domain.Rule{
				{
					Alleles:       map[string]string{"*4": "negative", "*10": "negative", "*41": "negative"},
					Genotype:      "*1/*1",
					Phenotype:     "Normal Metabolizer",
					ActivityScore: 2.0,
				},
				{
					Alleles:       map[string]string{"*4": "homozygous"},
					Genotype:      "*4/*4",
					Phenotype:     "Poor Metabolizer",
					ActivityScore: 0.0,
				},
				{
					Alleles:       map[string]string{"*4": "heterozygous", "*10": "heterozygous"},
					Genotype:      "*4/*10 or *1/*4",
					Phenotype:     "Intermediate Metabolizer",
					ActivityScore: 1.0,
				},
				{
					Alleles:       map[string]string{"*10": "heterozygous"},
					Genotype:      "*1/*10",
					Phenotype:     "Normal Metabolizer",
					ActivityScore: 1.5,
				},
			},
			Default: domain.DefaultRule{
				Genotype:      "*1/*1",
				Phenotype:     "Normal Metabolizer",
				ActivityScore: 2.0,
			},
		},
	}
}

func newTestRulebook(source domain.RuleSource) *Rulebook {
	return NewRulebook(source, domain.RulebookConfig{
		CacheTTL:     5 * time.Minute,
		FetchTimeout: time.Second,
	}, testLogger())
}

// memRequestStore is an in-memory RequestStore with the same
// conditional-update semantics as the Postgres repository.
type memRequestStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*domain.TestRequest
}

func newMemRequestStore() *memRequestStore {
	return &memRequestStore{requests: make(map[uuid.UUID]*domain.TestRequest)}
}

func (s *memRequestStore) Create(ctx context.Context, req *domain.TestRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *req
	s.requests[req.RequestID] = &clone
	return nil
}

func (s *memRequestStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.TestRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *req
	return &clone, nil
}

func (s *memRequestStore) List(ctx context.Context) ([]*domain.TestRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.TestRequest, 0, len(s.requests))
	for _, req := range s.requests {
		clone := *req
		out = append(out, &clone)
	}
	return out, nil
}

func (s *memRequestStore) Search(ctx context.Context, term string) ([]*domain.TestRequest, error) {
	return s.List(ctx)
}

func (s *memRequestStore) Stats(ctx context.Context, since *time.Time) (domain.RequestStats, error) {
	return domain.RequestStats{}, nil
}

func (s *memRequestStore) UpdateAlleles(ctx context.Context, id uuid.UUID, alleles map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	req.ObservedAlleles = alleles
	return nil
}

func (s *memRequestStore) CompleteAlleles(ctx context.Context, id uuid.UUID, alleles map[string]string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if req.Status != domain.StatusPending {
		return false, nil
	}
	req.ObservedAlleles = alleles
	req.Status = domain.StatusNeedTwoConfirmation
	return true, nil
}

func (s *memRequestStore) ClaimFirstConfirmation(ctx context.Context, id, userID uuid.UUID, displayName string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if req.ConfirmedBy1ID != nil || req.Status != domain.StatusNeedTwoConfirmation {
		return false, nil
	}
	req.ConfirmedBy1 = &displayName
	req.ConfirmedBy1ID = &userID
	req.ConfirmedAt1 = &at
	req.Status = domain.StatusNeedOneConfirmation
	return true, nil
}

func (s *memRequestStore) ClaimSecondConfirmation(ctx context.Context, id, userID uuid.UUID, displayName string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if req.ConfirmedBy2ID != nil || req.ConfirmedBy1ID == nil ||
		*req.ConfirmedBy1ID == userID || req.Status != domain.StatusNeedOneConfirmation {
		return false, nil
	}
	req.ConfirmedBy2 = &displayName
	req.ConfirmedBy2ID = &userID
	req.ConfirmedAt2 = &at
	req.Status = domain.StatusDone
	return true, nil
}

func (s *memRequestStore) Reject(ctx context.Context, id, userID uuid.UUID, displayName, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if req.Status.Terminal() {
		return false, nil
	}
	req.RejectedBy = &displayName
	req.RejectedByID = &userID
	req.RejectedAt = &at
	req.RejectionReason = &reason
	req.Status = domain.StatusReject
	return true, nil
}

func (s *memRequestStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, id)
	return nil
}

// memReportStore keeps report rows per request; GetByRequest returns
// the most recently created one, like the Postgres repository.
// createErr, when set, fails the next Create once and then clears.
type memReportStore struct {
	mu        sync.Mutex
	reports   map[uuid.UUID][]*domain.Report
	createErr error
}

func newMemReportStore() *memReportStore {
	return &memReportStore{reports: make(map[uuid.UUID][]*domain.Report)}
}

func (s *memReportStore) failNextCreate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = err
}

func (s *memReportStore) Create(ctx context.Context, report *domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		err := s.createErr
		s.createErr = nil
		return err
	}
	clone := *report
	s.reports[report.RequestID] = append(s.reports[report.RequestID], &clone)
	return nil
}

func (s *memReportStore) GetByRequest(ctx context.Context, requestID uuid.UUID) (*domain.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.reports[requestID]
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}
	clone := *rows[len(rows)-1]
	return &clone, nil
}

func (s *memReportStore) UpdateDocumentPath(ctx context.Context, reportID uuid.UUID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rows := range s.reports {
		for _, report := range rows {
			if report.ReportID == reportID {
				report.DocumentPath = &path
				return nil
			}
		}
	}
	return domain.ErrNotFound
}

func (s *memReportStore) Delete(ctx context.Context, reportID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for requestID, rows := range s.reports {
		for i, report := range rows {
			if report.ReportID == reportID {
				s.reports[requestID] = append(rows[:i], rows[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (s *memReportStore) DeleteByRequest(ctx context.Context, requestID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reports, requestID)
	return nil
}

type memUserStore struct {
	users map[uuid.UUID]*domain.User
}

func newMemUserStore(users ...*domain.User) *memUserStore {
	s := &memUserStore{users: make(map[uuid.UUID]*domain.User)}
	for _, u := range users {
		s.users[u.UserID] = u
	}
	return s
}

func (s *memUserStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (s *memUserStore) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, domain.ErrNotFound
}

type memPatientStore struct {
	patients map[uuid.UUID]*domain.Patient
}

func newMemPatientStore(patients ...*domain.Patient) *memPatientStore {
	s := &memPatientStore{patients: make(map[uuid.UUID]*domain.Patient)}
	for _, p := range patients {
		s.patients[p.PatientID] = p
	}
	return s
}

func (s *memPatientStore) Create(ctx context.Context, patient *domain.Patient) error {
	s.patients[patient.PatientID] = patient
	return nil
}

func (s *memPatientStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Patient, error) {
	p, ok := s.patients[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPatientStore) Search(ctx context.Context, term string) ([]*domain.Patient, error) {
	out := make([]*domain.Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, p)
	}
	return out, nil
}

// stubDiplotypeStore records lookups and serves a fixed table keyed by
// "gene|diplotype".
type stubDiplotypeStore struct {
	mu      sync.Mutex
	entries map[string]*domain.Diplotype
	queried []string
}

func (s *stubDiplotypeStore) Find(ctx context.Context, geneSymbol, diplotype string) (*domain.Diplotype, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := geneSymbol + "|" + diplotype
	s.queried = append(s.queried, key)
	d, ok := s.entries[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

type stubSLAStore struct {
	slas map[string]time.Duration
}

func (s *stubSLAStore) Get(ctx context.Context, specimenType string) (time.Duration, bool, error) {
	d, ok := s.slas[specimenType]
	return d, ok, nil
}

func (s *stubSLAStore) All(ctx context.Context) (map[string]time.Duration, error) {
	return s.slas, nil
}

// stubRenderer records payloads and returns fixed bytes.
type stubRenderer struct {
	mu       sync.Mutex
	payloads []*domain.ReportPayload
	err      error
}

func (r *stubRenderer) Render(payload *domain.ReportPayload) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.payloads = append(r.payloads, payload)
	return []byte("rendered"), nil
}

func (r *stubRenderer) lastPayload() *domain.ReportPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.payloads) == 0 {
		return nil
	}
	return r.payloads[len(r.payloads)-1]
}

// stubSignatureFetcher serves image bytes per ref, failing for refs in
// the broken set.
type stubSignatureFetcher struct {
	images map[string][]byte
	broken map[string]bool
}

func (f *stubSignatureFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if f.broken[ref] {
		return nil, fmt.Errorf("fetch %s: connection refused", ref)
	}
	img, ok := f.images[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return img, nil
}

type memBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (s *memBlobStore) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[name] = data
	return name, nil
}

func (s *memBlobStore) Download(ctx context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

type nopAudit struct{}

func (nopAudit) Record(ctx context.Context, actor, action, entity, detail string) error { return nil }
