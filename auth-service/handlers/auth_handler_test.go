package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"log/slog"

	"fuelfix/auth"
	"fuelfix/auth-service/domain"
	"fuelfix/auth-service/service"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func testRouter(t *testing.T) *mux.Router {
	t.Helper()
	repo := domain.NewMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewService(repo, nil, logger)
	handler := NewAuthHandler(svc, testSecret, logger)

	r := mux.NewRouter()
	r.HandleFunc("/api/signup", handler.Signup).Methods("POST")
	r.HandleFunc("/api/login", handler.Login).Methods("POST")
	r.HandleFunc("/api/verify", handler.VerifyEmail).Methods("POST")
	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(auth.Middleware(testSecret, logger))
	protected.HandleFunc("/profile", handler.Profile).Methods("GET")
	return r
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

func validSignupBody(email, userType string) map[string]string {
	return map[string]string{
		"name":        "Jamie",
		"email":       email,
		"password":    "s3cret-pass",
		"address":     "12 Main St",
		"phoneNumber": "555-0100",
		"userType":    userType,
	}
}

type authResponse struct {
	Message string         `json:"message"`
	Token   string         `json:"token"`
	User    map[string]any `json:"user"`
}

func TestSignupEndpoint(t *testing.T) {
	r := testRouter(t)

	rr := doRequest(t, r, "POST", "/api/signup", "", validSignupBody("a@example.com", "user"))
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp authResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "a@example.com", resp.User["email"])
	assert.Equal(t, "user", resp.User["userType"])
	assert.NotContains(t, resp.User, "password")

	claims, err := auth.ValidateToken(resp.Token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, resp.User["id"], claims.UserID)
	assert.Equal(t, "user", claims.UserType)
}

func TestSignupValidationErrors(t *testing.T) {
	r := testRouter(t)

	tests := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{"bad email", func(m map[string]string) { m["email"] = "not-an-email" }},
		{"short password", func(m map[string]string) { m["password"] = "abc" }},
		{"bad user type", func(m map[string]string) { m["userType"] = "admin" }},
		{"missing name", func(m map[string]string) { delete(m, "name") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := validSignupBody("a@example.com", "user")
			tt.mutate(body)
			rr := doRequest(t, r, "POST", "/api/signup", "", body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	r := testRouter(t)

	rr := doRequest(t, r, "POST", "/api/signup", "", validSignupBody("a@example.com", "user"))
	require.Equal(t, http.StatusCreated, rr.Code)

	// the same email cannot register again, even as a mechanic
	rr = doRequest(t, r, "POST", "/api/signup", "", validSignupBody("a@example.com", "mechanic"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLoginEndpoint(t *testing.T) {
	r := testRouter(t)
	require.Equal(t, http.StatusCreated,
		doRequest(t, r, "POST", "/api/signup", "", validSignupBody("a@example.com", "mechanic")).Code)

	rr := doRequest(t, r, "POST", "/api/login", "", map[string]string{
		"email":    "a@example.com",
		"password": "s3cret-pass",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp authResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	claims, err := auth.ValidateToken(resp.Token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "mechanic", claims.UserType)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	r := testRouter(t)
	require.Equal(t, http.StatusCreated,
		doRequest(t, r, "POST", "/api/signup", "", validSignupBody("a@example.com", "user")).Code)

	rr := doRequest(t, r, "POST", "/api/login", "", map[string]string{
		"email":    "a@example.com",
		"password": "wrong-pass",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doRequest(t, r, "POST", "/api/login", "", map[string]string{
		"email":    "unknown@example.com",
		"password": "s3cret-pass",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestProfileEndpoint(t *testing.T) {
	r := testRouter(t)

	rr := doRequest(t, r, "POST", "/api/signup", "", validSignupBody("a@example.com", "user"))
	require.Equal(t, http.StatusCreated, rr.Code)
	var resp authResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))

	rr = doRequest(t, r, "GET", "/api/profile", resp.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var profile map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&profile))
	assert.Equal(t, "a@example.com", profile["email"])

	// profile requires a token
	rr = doRequest(t, r, "GET", "/api/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestVerifyEndpointValidation(t *testing.T) {
	r := testRouter(t)

	rr := doRequest(t, r, "POST", "/api/verify", "", map[string]string{
		"email": "a@example.com",
		"code":  "123",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, r, "POST", "/api/verify", "", map[string]string{
		"email": "a@example.com",
		"code":  "123456",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
