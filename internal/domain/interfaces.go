package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RequestStore persists test requests. Confirmation and rejection
// writes are atomic conditional updates: they succeed only when the
// guarded slot is still free and the status still permits the
// transition, and report false (not an error) when another writer won.
type RequestStore interface {
	Create(ctx context.Context, req *TestRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestRequest, error)
	List(ctx context.Context) ([]*TestRequest, error)
	Search(ctx context.Context, term string) ([]*TestRequest, error)
	Stats(ctx context.Context, since *time.Time) (RequestStats, error)
	UpdateAlleles(ctx context.Context, id uuid.UUID, alleles map[string]string) error

	// CompleteAlleles moves pending -> need_2_confirmation, recording the
	// final allele set. Returns false if the request was not pending.
	CompleteAlleles(ctx context.Context, id uuid.UUID, alleles map[string]string) (bool, error)

	// ClaimFirstConfirmation fills slot 1 and advances the status, only
	// if slot 1 is still empty and the request is in need_2_confirmation.
	ClaimFirstConfirmation(ctx context.Context, id, userID uuid.UUID, displayName string, at time.Time) (bool, error)

	// ClaimSecondConfirmation fills slot 2 and moves to done, only if
	// slot 2 is empty, slot 1 is held by a different user, and the
	// request is in need_1_confirmation.
	ClaimSecondConfirmation(ctx context.Context, id, userID uuid.UUID, displayName string, at time.Time) (bool, error)

	// Reject marks the request rejected unless it is already terminal.
	Reject(ctx context.Context, id, userID uuid.UUID, displayName, reason string, at time.Time) (bool, error)

	// Delete removes the request and its report rows, report first.
	Delete(ctx context.Context, id uuid.UUID) error
}

// ReportStore persists report records.
type ReportStore interface {
	Create(ctx context.Context, report *Report) error
	GetByRequest(ctx context.Context, requestID uuid.UUID) (*Report, error)
	UpdateDocumentPath(ctx context.Context, reportID uuid.UUID, path string) error
	Delete(ctx context.Context, reportID uuid.UUID) error
	DeleteByRequest(ctx context.Context, requestID uuid.UUID) error
}

// PatientStore persists patient records.
type PatientStore interface {
	Create(ctx context.Context, patient *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Search(ctx context.Context, term string) ([]*Patient, error)
}

// UserStore reads staff accounts.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
}

// RuleSource is the primary backing store for the rule table.
type RuleSource interface {
	FetchRuleSet(ctx context.Context) (RuleSet, error)
}

// DiplotypeStore looks up reference diplotype rows for report summaries.
type DiplotypeStore interface {
	Find(ctx context.Context, geneSymbol, diplotype string) (*Diplotype, error)
}

// SLAStore reads specimen turnaround targets.
type SLAStore interface {
	Get(ctx context.Context, specimenType string) (time.Duration, bool, error)
	All(ctx context.Context) (map[string]time.Duration, error)
}

// BlobStore uploads and downloads binary artifacts by reference.
type BlobStore interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, ref string) ([]byte, error)
}

// SignatureFetcher retrieves a signature image by its stored reference.
type SignatureFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// ReportPayload is the structured input handed to the document
// renderer. Signature slots are optional; a nil slot renders empty.
type ReportPayload struct {
	PatientName  string
	HospitalID   string
	Age          int
	Gender       string
	AssayType    string
	SpecimenType string
	RequestedAt  time.Time

	AlleleRows [][2]string // slot name, observed value, in field order

	Genotype        string
	Phenotype       string
	GenotypeSummary string
	ActivityScore   float64
	Recommendation  string

	Signature1      []byte
	Signature1Name  string
	Signature1Date  *time.Time
	Signature2      []byte
	Signature2Name  string
	Signature2Date  *time.Time
}

// DocumentRenderer produces the report document from a payload. Each
// call fully regenerates the document.
type DocumentRenderer interface {
	Render(payload *ReportPayload) ([]byte, error)
}

// AuditRecorder appends audit events.
type AuditRecorder interface {
	Record(ctx context.Context, actor, action, entity, detail string) error
}
