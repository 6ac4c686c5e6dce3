package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"carestream.org/internal/authz"
	"carestream.org/internal/desk"
	"carestream.org/internal/docstore"
	"carestream.org/internal/identity"
	"carestream.org/internal/records"
)

const (
	testSecret = "test-secret"
	testIssuer = "carestream-idp"
)

type apiClient struct {
	t      *testing.T
	srv    *httptest.Server
	store  *docstore.InMemory
	client *http.Client
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	store := docstore.NewInMemory()
	verifier, err := identity.NewVerifier(testSecret, testIssuer)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	api := New(desk.Deps{
		Store:       store,
		Gate:        authz.MustNewGate(),
		Log:         zerolog.Nop(),
		PhoneRegion: "PK",
	}, verifier, ReadyProbe{}, Options{Version: "test", RatePerSecond: 1000, RateBurst: 1000}, zerolog.Nop())

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &apiClient{t: t, srv: srv, store: store, client: srv.Client()}
}

func (c *apiClient) token(subject string) string {
	c.t.Helper()
	now := time.Now()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, identity.Claims{
		Email: subject + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		c.t.Fatalf("sign: %v", err)
	}
	return tok
}

// user seeds a profile and returns a bearer token for it.
func (c *apiClient) user(id string, role records.Role) string {
	c.t.Helper()
	if err := c.store.Set(context.Background(), records.KindUser, id, records.Fields(records.User{ID: id, Name: id, Role: role})); err != nil {
		c.t.Fatalf("seed user: %v", err)
	}
	return c.token(id)
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.srv.URL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body.String())
	}
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)
	expectStatus(t, c.do(http.MethodGet, "/healthz", "", nil), http.StatusOK)
	expectStatus(t, c.do(http.MethodGet, "/readyz", "", nil), http.StatusOK)
	info := decodeJSON[map[string]any](t, c.do(http.MethodGet, "/v1/info", "", nil))
	if info["version"] != "test" {
		t.Fatalf("info = %v", info)
	}
}

func TestReadyReportsProbeFailure(t *testing.T) {
	api := New(desk.Deps{Store: docstore.NewInMemory(), Gate: authz.MustNewGate(), Log: zerolog.Nop()}, nil,
		ReadyProbe{Ping: func(context.Context) error { return errors.New("db down") }}, Options{}, zerolog.Nop())
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	c := newTestAPI(t)
	expectStatus(t, c.do(http.MethodGet, "/v1/session", "", nil), http.StatusUnauthorized)
	expectStatus(t, c.do(http.MethodGet, "/v1/session", "not-a-jwt", nil), http.StatusUnauthorized)
}

func TestSessionReportsSections(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodGet, "/v1/session", c.user("A1", records.RoleAdmin), nil)
	expectStatus(t, resp, http.StatusOK)
	s := decodeJSON[sessionResponse](t, resp)
	if s.Role != records.RoleAdmin || s.Degraded {
		t.Fatalf("unexpected session: %+v", s)
	}
	if len(s.Sections) != 4 || s.Sections[len(s.Sections)-1] != authz.SectionAdmin {
		t.Fatalf("sections = %v", s.Sections)
	}

	resp = c.do(http.MethodGet, "/v1/session", c.token("nobody"), nil)
	expectStatus(t, resp, http.StatusOK)
	if s := decodeJSON[sessionResponse](t, resp); s.Role != records.RolePatient || !s.Degraded {
		t.Fatalf("profile-less identity should be a degraded patient: %+v", s)
	}
}

func TestRegisterWritesProfile(t *testing.T) {
	c := newTestAPI(t)
	tok := c.token("new-user")
	resp := c.do(http.MethodPost, "/v1/register", tok, map[string]any{"name": "Meera"})
	expectStatus(t, resp, http.StatusCreated)
	u := decodeJSON[records.User](t, resp)
	if u.ID != "new-user" || u.Role != records.RolePatient || u.Email != "new-user@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}
	s := decodeJSON[sessionResponse](t, c.do(http.MethodGet, "/v1/session", tok, nil))
	if s.Name != "Meera" || s.Degraded {
		t.Fatalf("session after register: %+v", s)
	}
}

func TestRegisterTwiceConflicts(t *testing.T) {
	c := newTestAPI(t)
	tok := c.token("U1")
	expectStatus(t, c.do(http.MethodPost, "/v1/register", tok, map[string]any{"name": "Ravi"}), http.StatusCreated)

	resp := c.do(http.MethodPost, "/v1/register", tok, map[string]any{"name": "Ravi", "role": "admin"})
	expectStatus(t, resp, http.StatusConflict)

	s := decodeJSON[sessionResponse](t, c.do(http.MethodGet, "/v1/session", tok, nil))
	if s.Role != records.RolePatient {
		t.Fatalf("role after second register = %s, want patient", s.Role)
	}
}

func TestPatientFlow(t *testing.T) {
	c := newTestAPI(t)
	rec := c.user("R1", records.RoleReceptionist)
	doc := c.user("D1", records.RoleDoctor)

	resp := c.do(http.MethodPost, "/v1/patients", rec, map[string]any{"name": "Asha Rao", "age": 34})
	expectStatus(t, resp, http.StatusCreated)
	pid := decodeJSON[map[string]string](t, resp)["id"]
	if pid == "" {
		t.Fatalf("missing patient id")
	}

	expectStatus(t, c.do(http.MethodPost, "/v1/patients", doc, map[string]any{"name": "X"}), http.StatusForbidden)
	expectStatus(t, c.do(http.MethodPost, "/v1/patients", rec, map[string]any{"name": ""}), http.StatusBadRequest)

	found := decodeJSON[map[string][]records.Patient](t, c.do(http.MethodGet, "/v1/patients?q=asha", doc, nil))
	if len(found["patients"]) != 1 || found["patients"][0].ID != pid {
		t.Fatalf("search = %+v", found)
	}

	expectStatus(t, c.do(http.MethodDelete, "/v1/patients/"+pid, doc, nil), http.StatusForbidden)
	expectStatus(t, c.do(http.MethodDelete, "/v1/patients/"+pid, rec, nil), http.StatusNoContent)
}

func TestAppointmentTransitions(t *testing.T) {
	c := newTestAPI(t)
	rec := c.user("R1", records.RoleReceptionist)

	resp := c.do(http.MethodPost, "/v1/appointments", rec, map[string]any{
		"patientId": "P1", "doctorName": "Dr. Rana", "date": "2025-06-02", "time": "10:00",
	})
	expectStatus(t, resp, http.StatusCreated)
	id := decodeJSON[map[string]string](t, resp)["id"]

	resp = c.do(http.MethodPost, "/v1/appointments/"+id+"/confirm", rec, nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decodeJSON[map[string]any](t, resp)["status"]; got != "confirmed" {
		t.Fatalf("status = %v", got)
	}
	expectStatus(t, c.do(http.MethodPost, "/v1/appointments/"+id+"/reschedule", rec, nil), http.StatusBadRequest)
	expectStatus(t, c.do(http.MethodPost, "/v1/appointments/missing/cancel", rec, nil), http.StatusNotFound)
	expectStatus(t, c.do(http.MethodPost, "/v1/appointments/"+id+"/cancel", c.token("P1"), nil), http.StatusForbidden)
}

func TestPrescriptionExportAndHistory(t *testing.T) {
	c := newTestAPI(t)
	rec := c.user("R1", records.RoleReceptionist)
	doc := c.user("D1", records.RoleDoctor)

	pid := decodeJSON[map[string]string](t, c.do(http.MethodPost, "/v1/patients", rec, map[string]any{"name": "Asha Rao"}))["id"]
	resp := c.do(http.MethodPost, "/v1/prescriptions", doc, map[string]any{
		"patientId": pid,
		"medicines": []map[string]string{{"name": "Amoxicillin", "dosage": "500mg", "notes": "after meals"}},
	})
	expectStatus(t, resp, http.StatusCreated)
	rxID := decodeJSON[map[string]string](t, resp)["id"]

	expectStatus(t, c.do(http.MethodPost, "/v1/prescriptions", doc, map[string]any{"patientId": pid}), http.StatusBadRequest)

	resp = c.do(http.MethodGet, "/v1/prescriptions/"+rxID+"/pdf", doc, nil)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "Report_Asha Rao_") {
		t.Fatalf("content disposition = %q", cd)
	}
	expectStatus(t, c.do(http.MethodGet, "/v1/prescriptions/"+rxID+"/pdf", rec, nil), http.StatusForbidden)

	resp = c.do(http.MethodGet, "/v1/patients/"+pid+"/history", doc, nil)
	expectStatus(t, resp, http.StatusOK)
	hist := decodeJSON[map[string][]historyEntry](t, resp)
	if len(hist["entries"]) != 1 || hist["entries"][0].PatientName != "Asha Rao" || !hist["entries"][0].Resolved {
		t.Fatalf("history = %+v", hist)
	}
}

func TestChangeRole(t *testing.T) {
	c := newTestAPI(t)
	admin := c.user("A1", records.RoleAdmin)
	c.user("U2", records.RolePatient)

	expectStatus(t, c.do(http.MethodPut, "/v1/users/U2/role", admin, map[string]any{"role": "doctor"}), http.StatusNoContent)
	expectStatus(t, c.do(http.MethodPut, "/v1/users/U2/role", admin, map[string]any{"role": "owner"}), http.StatusBadRequest)
	expectStatus(t, c.do(http.MethodPut, "/v1/users/ghost/role", admin, map[string]any{"role": "doctor"}), http.StatusNotFound)
	expectStatus(t, c.do(http.MethodPut, "/v1/users/A1/role", c.token("U2"), map[string]any{"role": "patient"}), http.StatusForbidden)
}
