package domain

import (
	"time"

	"github.com/google/uuid"
)

// Core Enums and Types

// RequestStatus represents the lifecycle state of a test request
type RequestStatus string

const (
	StatusPending             RequestStatus = "pending"
	StatusNeedTwoConfirmation RequestStatus = "need_2_confirmation"
	StatusNeedOneConfirmation RequestStatus = "need_1_confirmation"
	StatusDone                RequestStatus = "done"
	StatusReject              RequestStatus = "reject"
)

// Terminal reports whether no further transitions are accepted from s.
func (s RequestStatus) Terminal() bool {
	return s == StatusDone || s == StatusReject
}

// Valid reports whether s is a known status value.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusNeedTwoConfirmation, StatusNeedOneConfirmation, StatusDone, StatusReject:
		return true
	}
	return false
}

// TATClass represents the turnaround-time classification of a request
type TATClass string

const (
	TATNormal  TATClass = "normal"
	TATWarning TATClass = "warning"
	TATOverdue TATClass = "overdue"
)

// Role represents a staff role in the system
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleMedtech  Role = "medtech"
	RolePharmacy Role = "pharmacy"
)

// Rule Table Models

// Rule is one genotype-determination rule. Alleles maps allele slot
// names to the observed value the rule requires; a slot absent from the
// map is a wildcard for that slot.
type Rule struct {
	Alleles        map[string]string `json:"alleles"`
	Genotype       string            `json:"genotype"`
	Phenotype      string            `json:"phenotype"`
	ActivityScore  float64           `json:"activity_score"`
	Recommendation string            `json:"therapeutic_recommendation,omitempty"`
}

// DefaultRule is the fallback returned when no rule matches.
type DefaultRule struct {
	Genotype      string  `json:"genotype"`
	Phenotype     string  `json:"phenotype"`
	ActivityScore float64 `json:"activity_score"`
}

// AssayRules holds the ordered rule sequence for one assay type.
// Rule lookup is first-match-wins over Rules.
type AssayRules struct {
	AssayType    string      `json:"assay_type"`
	AlleleFields []string    `json:"alleles"`
	Rules        []Rule      `json:"rules"`
	Default      DefaultRule `json:"default"`
}

// RuleSet is the full rule table, keyed by assay type.
type RuleSet map[string]*AssayRules

// Prediction is the predictor output for one request.
type Prediction struct {
	Genotype       string  `json:"genotype"`
	Phenotype      string  `json:"phenotype"`
	ActivityScore  float64 `json:"activity_score"`
	Recommendation string  `json:"therapeutic_recommendation,omitempty"`
	Matched        bool    `json:"matched"`
	Warning        string  `json:"warning,omitempty"`
}

// Persistent Entities

// Patient is the intake record a test request references.
type Patient struct {
	PatientID  uuid.UUID `json:"patient_id"`
	HospitalID string    `json:"hospital_id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Age        int       `json:"age"`
	Gender     string    `json:"gender"`
	Phone      string    `json:"phone"`
	CreatedAt  time.Time `json:"created_at"`
}

// FullName returns the display name used on rendered reports.
func (p *Patient) FullName() string {
	if p.FirstName == "" {
		return p.LastName
	}
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// TestRequest is a single PGx test request moving through the
// confirmation lifecycle. Confirmer display names are kept for
// rendering; duplicate detection uses the stable *ID columns.
type TestRequest struct {
	RequestID       uuid.UUID         `json:"request_id"`
	PatientID       uuid.UUID         `json:"patient_id"`
	AssayType       string            `json:"assay_type"`
	SpecimenType    string            `json:"specimen_type"`
	ObservedAlleles map[string]string `json:"observed_alleles"`
	Status          RequestStatus     `json:"status"`
	RequestedAt     time.Time         `json:"requested_at"`

	ConfirmedBy1   *string    `json:"confirmed_by_1,omitempty"`
	ConfirmedBy1ID *uuid.UUID `json:"confirmed_by_1_id,omitempty"`
	ConfirmedAt1   *time.Time `json:"confirmed_at_1,omitempty"`
	ConfirmedBy2   *string    `json:"confirmed_by_2,omitempty"`
	ConfirmedBy2ID *uuid.UUID `json:"confirmed_by_2_id,omitempty"`
	ConfirmedAt2   *time.Time `json:"confirmed_at_2,omitempty"`

	RejectedBy      *string    `json:"rejected_by,omitempty"`
	RejectedByID    *uuid.UUID `json:"rejected_by_id,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
}

// ConfirmedBy reports whether userID already occupies a confirmation slot.
func (r *TestRequest) ConfirmedBy(userID uuid.UUID) bool {
	if r.ConfirmedBy1ID != nil && *r.ConfirmedBy1ID == userID {
		return true
	}
	if r.ConfirmedBy2ID != nil && *r.ConfirmedBy2ID == userID {
		return true
	}
	return false
}

// Report is the persisted result record for a request. DocumentPath is
// nil until the first render; each re-render supersedes it in place.
type Report struct {
	ReportID        uuid.UUID `json:"report_id"`
	RequestID       uuid.UUID `json:"request_id"`
	Genotype        string    `json:"genotype"`
	Phenotype       string    `json:"phenotype"`
	GenotypeSummary string    `json:"genotype_summary"`
	Recommendation  string    `json:"recommendation"`
	ActivityScore   float64   `json:"activity_score"`
	DocumentPath    *string   `json:"document_path,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Diplotype is a reference-table row used to enrich report summaries.
type Diplotype struct {
	GeneSymbol         string  `json:"genesymbol"`
	Diplotype          string  `json:"diplotype"`
	Description        string  `json:"description"`
	ConsultationText   string  `json:"consultationtext"`
	TotalActivityScore float64 `json:"totalactivityscore"`
}

// SpecimenSLA maps a specimen type to its expected turnaround duration.
type SpecimenSLA struct {
	SpecimenType string        `json:"specimen_type"`
	Turnaround   time.Duration `json:"turnaround"`
}

// User is a staff account.
type User struct {
	UserID        uuid.UUID `json:"user_id"`
	Username      string    `json:"username"`
	PasswordHash  string    `json:"-"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Role          Role      `json:"role"`
	SignaturePath string    `json:"signature_path,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DisplayName returns the "First Last" form recorded on confirmations.
func (u *User) DisplayName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Identity is the authenticated caller passed into state-machine calls.
type Identity struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
}

// Operation Results

// Outcome is the result value every public state-machine operation
// returns. A side-channel failure after a durable state change is
// reported through Warning with Success still true.
type Outcome struct {
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Warning   string        `json:"warning,omitempty"`
	NewStatus RequestStatus `json:"new_status,omitempty"`
	// Matched and AssayType are set on allele-completion outcomes only.
	Matched   bool   `json:"matched,omitempty"`
	AssayType string `json:"assay_type,omitempty"`
}

// TATResult is the turnaround classification for one request.
// Classified is false when the request is terminal or no SLA is defined
// for its specimen type; callers must not badge unclassified requests.
type TATResult struct {
	Classified   bool     `json:"classified"`
	ElapsedRatio float64  `json:"elapsed_ratio"`
	Class        TATClass `json:"class,omitempty"`
}

// RequestStats are status counts over an intake time window.
type RequestStats struct {
	All                 int `json:"all"`
	Pending             int `json:"pending"`
	NeedTwoConfirmation int `json:"need_2_confirmation"`
	NeedOneConfirmation int `json:"need_1_confirmation"`
	Done                int `json:"done"`
	Reject              int `json:"reject"`
}
