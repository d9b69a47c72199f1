package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgx-lims-server/internal/domain"
	"github.com/pgx-lims-server/internal/service"
)

type stubUserStore struct {
	users map[uuid.UUID]*domain.User
}

func (s *stubUserStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (s *stubUserStore) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, domain.ErrNotFound
}

type stubRequestStore struct {
	domain.RequestStore
	requests map[uuid.UUID]*domain.TestRequest
}

func (s *stubRequestStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.TestRequest, error) {
	req, ok := s.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return req, nil
}

func (s *stubRequestStore) List(ctx context.Context) ([]*domain.TestRequest, error) {
	out := make([]*domain.TestRequest, 0, len(s.requests))
	for _, req := range s.requests {
		out = append(out, req)
	}
	return out, nil
}

type stubRuleSource struct{}

func (stubRuleSource) FetchRuleSet(ctx context.Context) (domain.RuleSet, error) {
	return domain.RuleSet{
		"CYP2D6": {
			AssayType:    "CYP2D6",
			AlleleFields: []string{"*4"},
			Rules: []domain.Rule{
				{Alleles: map[string]string{"*4": "negative"}, Genotype: "*1/*1", Phenotype: "Normal Metabolizer", ActivityScore: 2.0},
			},
			Default: domain.DefaultRule{Genotype: "*1/*1", Phenotype: "Normal Metabolizer", ActivityScore: 2.0},
		},
	}, nil
}

type stubSLAStore struct{}

func (stubSLAStore) Get(ctx context.Context, specimenType string) (time.Duration, bool, error) {
	if specimenType == "blood" {
		return 120 * time.Hour, true, nil
	}
	return 0, false, nil
}

func (stubSLAStore) All(ctx context.Context) (map[string]time.Duration, error) {
	return map[string]time.Duration{"blood": 120 * time.Hour}, nil
}

type apiFixture struct {
	server  *Server
	user    *domain.User
	request *domain.TestRequest
	token   string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	hash, err := service.HashPassword("open sesame")
	require.NoError(t, err)
	user := &domain.User{
		UserID:       uuid.New(),
		Username:     "medtech1",
		PasswordHash: hash,
		FirstName:    "Alice",
		LastName:     "Srisuk",
		Role:         domain.RoleMedtech,
	}
	users := &stubUserStore{users: map[uuid.UUID]*domain.User{user.UserID: user}}

	request := &domain.TestRequest{
		RequestID:    uuid.New(),
		PatientID:    uuid.New(),
		AssayType:    "CYP2D6",
		SpecimenType: "blood",
		Status:       domain.StatusNeedTwoConfirmation,
		RequestedAt:  time.Now().UTC().Add(-24 * time.Hour),
	}
	requests := &stubRequestStore{requests: map[uuid.UUID]*domain.TestRequest{request.RequestID: request}}

	auth := service.NewAuthService(users, domain.AuthConfig{
		TokenSecret: "api-test-secret-api-test-secret",
		TokenTTL:    time.Hour,
		LoginRate:   100,
		LoginBurst:  100,
	}, logger)

	rulebook := service.NewRulebook(stubRuleSource{}, domain.RulebookConfig{
		CacheTTL:     time.Minute,
		FetchTimeout: time.Second,
	}, logger)
	predictor := service.NewPredictor(rulebook, logger)
	tat := service.NewTATEvaluator(stubSLAStore{}, logger)

	cfg := &domain.Config{
		Server:  domain.ServerConfig{Host: "127.0.0.1", Port: 0},
		Logging: domain.LoggingConfig{Level: "warn"},
	}

	server := NewServer(cfg, Deps{
		Auth:      auth,
		Predictor: predictor,
		Rulebook:  rulebook,
		TAT:       tat,
		Requests:  requests,
	}, logger)

	f := &apiFixture{server: server, user: user, request: request}

	token, _, err := auth.Login(context.Background(), "medtech1", "open sesame")
	require.NoError(t, err)
	f.token = token

	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_Login(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"username": "medtech1", "password": "open sesame"}, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Token)

	rec = f.do(t, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"username": "medtech1", "password": "wrong"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_ProtectedRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/requests", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/requests", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RoleGate(t *testing.T) {
	f := newAPIFixture(t)

	// A medtech cannot delete requests.
	rec := f.do(t, http.MethodDelete, "/api/v1/requests/"+f.request.RequestID.String(), nil, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_TATBadge(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/requests/"+f.request.RequestID.String()+"/tat", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.TATResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Classified)
	assert.Equal(t, domain.TATNormal, result.Class)
}

func TestServer_GetRequest(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/requests/"+f.request.RequestID.String(), nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/requests/"+uuid.NewString(), nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/requests/not-a-uuid", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_PossibleValues(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/rulebook/assays/CYP2D6/slots/*4/values", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Values []string `json:"values"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"negative"}, body.Values)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/metrics", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
