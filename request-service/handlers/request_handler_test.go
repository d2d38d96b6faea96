package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"log/slog"

	"fuelfix/auth"
	"fuelfix/request-service/domain"
	"fuelfix/request-service/service"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func testRouter(t *testing.T) (*mux.Router, *domain.MemoryRepository) {
	t.Helper()
	repo := domain.NewMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewService(repo, logger)
	handler := NewRequestHandler(svc, nil, logger)

	r := mux.NewRouter()
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(auth.Middleware(testSecret, logger))
	apiRouter.HandleFunc("/requests", handler.Submit).Methods("POST")
	apiRouter.HandleFunc("/requests", handler.ListMine).Methods("GET")
	apiRouter.HandleFunc("/requests/open", handler.ListOpen).Methods("GET")
	apiRouter.HandleFunc("/requests/{requestID}/accept", handler.Accept).Methods("POST")
	apiRouter.HandleFunc("/requests/{requestID}/cancel", handler.Cancel).Methods("POST")
	apiRouter.HandleFunc("/requests/{requestID}/complete", handler.Complete).Methods("POST")
	return r, repo
}

func tokenFor(t *testing.T, userID, userType string) string {
	t.Helper()
	token, err := auth.GenerateToken(userID, userID+"@example.com", userType, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, r *mux.Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeRequest(t *testing.T, rr *httptest.ResponseRecorder) domain.Request {
	t.Helper()
	var req domain.Request
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&req))
	return req
}

func validSubmitBody() map[string]string {
	return map[string]string{
		"vehicleType": "car",
		"serviceType": "fuel",
		"description": "ran out of fuel on the highway",
	}
}

func TestSubmitEndpoint(t *testing.T) {
	r, _ := testRouter(t)
	token := tokenFor(t, "user-1", "user")

	rr := doRequest(t, r, "POST", "/api/requests", token, validSubmitBody())
	require.Equal(t, http.StatusCreated, rr.Code)

	created := decodeRequest(t, rr)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "user-1", created.Owner)
	assert.Equal(t, domain.StatusPending, created.Status)
}

func TestSubmitRejectsMissingToken(t *testing.T) {
	r, _ := testRouter(t)

	rr := doRequest(t, r, "POST", "/api/requests", "", validSubmitBody())
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSubmitRejectsBadToken(t *testing.T) {
	r, _ := testRouter(t)

	rr := doRequest(t, r, "POST", "/api/requests", "not-a-token", validSubmitBody())
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestSubmitValidationErrors(t *testing.T) {
	r, _ := testRouter(t)
	token := tokenFor(t, "user-1", "user")

	tests := []struct {
		name string
		body map[string]string
	}{
		{"bad vehicle type", map[string]string{"vehicleType": "truck", "serviceType": "fuel", "description": "ran out of fuel on the highway"}},
		{"bad service type", map[string]string{"vehicleType": "car", "serviceType": "wash", "description": "ran out of fuel on the highway"}},
		{"short description", map[string]string{"vehicleType": "car", "serviceType": "fuel", "description": "help"}},
		{"missing fields", map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, r, "POST", "/api/requests", token, tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestSubmitForbiddenForMechanics(t *testing.T) {
	r, _ := testRouter(t)
	token := tokenFor(t, "mech-1", "mechanic")

	rr := doRequest(t, r, "POST", "/api/requests", token, validSubmitBody())
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAcceptEndpoint(t *testing.T) {
	r, _ := testRouter(t)
	userToken := tokenFor(t, "user-1", "user")
	mechToken := tokenFor(t, "mech-1", "mechanic")

	created := decodeRequest(t, doRequest(t, r, "POST", "/api/requests", userToken, validSubmitBody()))

	rr := doRequest(t, r, "POST", "/api/requests/"+created.ID+"/accept", mechToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	accepted := decodeRequest(t, rr)
	assert.Equal(t, domain.StatusAccepted, accepted.Status)
	assert.Equal(t, "mech-1", accepted.AssignedTo)
}

func TestAcceptConflictOnSecondMechanic(t *testing.T) {
	r, _ := testRouter(t)
	userToken := tokenFor(t, "user-1", "user")
	firstToken := tokenFor(t, "mech-1", "mechanic")
	secondToken := tokenFor(t, "mech-2", "mechanic")

	created := decodeRequest(t, doRequest(t, r, "POST", "/api/requests", userToken, validSubmitBody()))

	rr := doRequest(t, r, "POST", "/api/requests/"+created.ID+"/accept", firstToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, r, "POST", "/api/requests/"+created.ID+"/accept", secondToken, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestAcceptForbiddenForUsers(t *testing.T) {
	r, _ := testRouter(t)
	userToken := tokenFor(t, "user-1", "user")

	created := decodeRequest(t, doRequest(t, r, "POST", "/api/requests", userToken, validSubmitBody()))

	rr := doRequest(t, r, "POST", "/api/requests/"+created.ID+"/accept", userToken, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAcceptUnknownRequestIs404(t *testing.T) {
	r, _ := testRouter(t)
	mechToken := tokenFor(t, "mech-1", "mechanic")

	rr := doRequest(t, r, "POST", "/api/requests/missing/accept", mechToken, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancelByStrangerIsForbidden(t *testing.T) {
	r, _ := testRouter(t)
	userToken := tokenFor(t, "user-1", "user")
	strangerToken := tokenFor(t, "user-2", "user")

	created := decodeRequest(t, doRequest(t, r, "POST", "/api/requests", userToken, validSubmitBody()))

	rr := doRequest(t, r, "POST", "/api/requests/"+created.ID+"/cancel", strangerToken, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestCompleteFlowThroughEndpoints(t *testing.T) {
	r, _ := testRouter(t)
	userToken := tokenFor(t, "user-1", "user")
	mechToken := tokenFor(t, "mech-1", "mechanic")

	created := decodeRequest(t, doRequest(t, r, "POST", "/api/requests", userToken, validSubmitBody()))

	rr := doRequest(t, r, "POST", "/api/requests/"+created.ID+"/accept", mechToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, r, "POST", "/api/requests/"+created.ID+"/complete", userToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, domain.StatusUserCompleted, decodeRequest(t, rr).Status)

	// confirming twice conflicts
	rr = doRequest(t, r, "POST", "/api/requests/"+created.ID+"/complete", userToken, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = doRequest(t, r, "POST", "/api/requests/"+created.ID+"/complete", mechToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, domain.StatusCompleted, decodeRequest(t, rr).Status)
}

func TestListEndpointsVisibility(t *testing.T) {
	r, _ := testRouter(t)
	aliceToken := tokenFor(t, "user-1", "user")
	bobToken := tokenFor(t, "user-2", "user")
	mechToken := tokenFor(t, "mech-1", "mechanic")

	created := decodeRequest(t, doRequest(t, r, "POST", "/api/requests", aliceToken, validSubmitBody()))

	// users cannot browse the open pool
	rr := doRequest(t, r, "GET", "/api/requests/open", aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// mechanics see the pending request
	rr = doRequest(t, r, "GET", "/api/requests/open", mechToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var open []domain.Request
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&open))
	require.Len(t, open, 1)
	assert.Equal(t, created.ID, open[0].ID)

	// bob does not see alice's request in his own list
	rr = doRequest(t, r, "GET", "/api/requests", bobToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestListMineEmptyIsJSONArray(t *testing.T) {
	r, _ := testRouter(t)
	token := tokenFor(t, "user-1", "user")

	rr := doRequest(t, r, "GET", "/api/requests", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestHealthCheck(t *testing.T) {
	r, _ := testRouter(t)

	rr := doRequest(t, r, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}
