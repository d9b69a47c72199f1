package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pgx-lims-server/internal/audit"
	"github.com/pgx-lims-server/internal/domain"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	token, identity, err := s.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": domain.ErrRateLimited.Error()})
		case errors.Is(err, domain.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": domain.ErrInvalidCredentials.Error()})
		default:
			s.log.WithError(err).Error("Login failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "identity": identity})
}

type createPatientRequest struct {
	HospitalID string `json:"hospital_id" binding:"required"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name" binding:"required"`
	Age        int    `json:"age"`
	Gender     string `json:"gender"`
	Phone      string `json:"phone"`
}

func (s *Server) handleCreatePatient(c *gin.Context) {
	var req createPatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	patient := &domain.Patient{
		PatientID:  uuid.New(),
		HospitalID: req.HospitalID,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Age:        req.Age,
		Gender:     req.Gender,
		Phone:      req.Phone,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.patients.Create(c.Request.Context(), patient); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, patient)
}

func (s *Server) handleSearchPatients(c *gin.Context) {
	term := c.Query("q")
	if term == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
		return
	}

	patients, err := s.patients.Search(c.Request.Context(), term)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patients": patients})
}

type createRequestRequest struct {
	PatientID    uuid.UUID `json:"patient_id" binding:"required"`
	AssayType    string    `json:"assay_type" binding:"required"`
	SpecimenType string    `json:"specimen_type" binding:"required"`
}

func (s *Server) handleCreateRequest(c *gin.Context) {
	var req createRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.patients.GetByID(c.Request.Context(), req.PatientID); err != nil {
		s.fail(c, err)
		return
	}

	request := &domain.TestRequest{
		RequestID:       uuid.New(),
		PatientID:       req.PatientID,
		AssayType:       req.AssayType,
		SpecimenType:    req.SpecimenType,
		ObservedAlleles: map[string]string{},
		Status:          domain.StatusPending,
		RequestedAt:     time.Now().UTC(),
	}

	if err := s.requests.Create(c.Request.Context(), request); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, request)
}

func (s *Server) handleListRequests(c *gin.Context) {
	requests, err := s.requests.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

func (s *Server) handleSearchRequests(c *gin.Context) {
	term := c.Query("q")
	if term == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
		return
	}

	requests, err := s.requests.Search(c.Request.Context(), term)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

// handleRequestStats returns status counts for a named intake window:
// today, week, month, or all (default).
func (s *Server) handleRequestStats(c *gin.Context) {
	window := c.DefaultQuery("window", "all")

	var since *time.Time
	now := time.Now().UTC()
	switch window {
	case "today":
		t := now.Truncate(24 * time.Hour)
		since = &t
	case "week":
		t := now.AddDate(0, 0, -7)
		since = &t
	case "month":
		t := now.AddDate(0, -1, 0)
		since = &t
	case "all":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "window must be today, week, month or all"})
		return
	}

	stats, err := s.requests.Stats(c.Request.Context(), since)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"window": window, "stats": stats})
}

func (s *Server) handleGetRequest(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	request, err := s.requests.GetByID(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

type allelesRequest struct {
	Alleles map[string]string `json:"alleles" binding:"required"`
	Force   bool              `json:"force"`
}

// handleSaveAlleles stores a partial allele entry without advancing the
// request.
func (s *Server) handleSaveAlleles(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	var req allelesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.requests.UpdateAlleles(c.Request.Context(), id, req.Alleles); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleCompleteAlleles(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	var req allelesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	identity := callerIdentity(c)
	outcome, err := s.confirmations.CompleteAlleles(c.Request.Context(), id, req.Alleles, identity, req.Force)
	if err != nil {
		s.failOutcome(c, outcome, err)
		return
	}

	if outcome.Success {
		s.metrics.Predictions.WithLabelValues(outcome.AssayType, strconv.FormatBool(outcome.Matched)).Inc()
	}

	c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleConfirm(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	identity := callerIdentity(c)
	outcome, err := s.confirmations.Confirm(c.Request.Context(), id, identity)
	if err != nil {
		s.failOutcome(c, outcome, err)
		return
	}

	s.metrics.Confirmations.Inc()
	if outcome.Warning != "" {
		s.metrics.RenderWarnings.Inc()
	}
	c.JSON(http.StatusOK, outcome)
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) handleReject(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrReasonRequired.Error()})
		return
	}

	identity := callerIdentity(c)
	outcome, err := s.confirmations.Reject(c.Request.Context(), id, identity, req.Reason)
	if err != nil {
		s.failOutcome(c, outcome, err)
		return
	}

	s.metrics.Rejections.Inc()
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleDeleteRequest(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	if err := s.requests.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleGetReport(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	report, err := s.reports.LatestReport(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleGetReportDocument(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	report, err := s.reports.LatestReport(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if report.DocumentPath == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "report document not yet rendered"})
		return
	}

	data, err := s.blobs.Download(c.Request.Context(), *report.DocumentPath)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

func (s *Server) handleTAT(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	request, err := s.requests.GetByID(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}

	result, err := s.tat.Classify(c.Request.Context(), request.RequestedAt, request.SpecimenType, request.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleAssayTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"assay_types": s.rulebook.AssayTypes(c.Request.Context())})
}

func (s *Server) handlePossibleValues(c *gin.Context) {
	values, err := s.predictor.PossibleValues(c.Request.Context(), c.Param("assay"), c.Param("slot"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"values": values})
}

// handleAuditTrail lists audit events, optionally filtered by actor,
// action, entity, and an RFC 3339 time range.
func (s *Server) handleAuditTrail(c *gin.Context) {
	if s.audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit trail not enabled"})
		return
	}

	filter := audit.Filter{
		Actor:  c.Query("actor"),
		Action: c.Query("action"),
		Entity: c.Query("entity"),
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC 3339"})
			return
		}
		filter.Since = t
	}
	if v := c.Query("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "until must be RFC 3339"})
			return
		}
		filter.Until = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = n
	}

	events, err := s.audit.List(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleRefreshRulebook(c *gin.Context) {
	set := s.rulebook.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"assay_types": len(set),
		"degraded":    s.rulebook.Degraded(),
	})
}

// pathID parses the :id path parameter, writing the error response on
// failure.
func (s *Server) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return uuid.Nil, false
	}
	return id, true
}

// fail maps a service error to an HTTP response.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
			return
		}
		s.log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// failOutcome maps state-machine precondition failures to 409s while
// keeping the outcome body, so clients see the same shape either way.
func (s *Server) failOutcome(c *gin.Context, outcome domain.Outcome, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, outcome)
	case errors.Is(err, domain.ErrAllelesIncomplete),
		errors.Is(err, domain.ErrAlreadyConfirmed),
		errors.Is(err, domain.ErrAlreadyFinalized),
		errors.Is(err, domain.ErrFullyConfirmed):
		c.JSON(http.StatusConflict, outcome)
	case errors.Is(err, domain.ErrReasonRequired), errors.Is(err, domain.ErrUnknownAssayType):
		c.JSON(http.StatusBadRequest, outcome)
	default:
		s.log.WithError(err).WithField("path", c.FullPath()).Error("Operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
