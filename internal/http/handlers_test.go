package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/directory"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/match"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/negotiation"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/storage"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := directory.New(store, store, logger)
	index := geo.NewIndex(store)
	ws := notify.NewWSGateway()
	return NewServer(Deps{
		Logger:      logger,
		Geo:         index,
		Directory:   dir,
		Matcher:     match.NewEngine(index, dir, 10*time.Minute, 10),
		Negotiation: negotiation.NewEngine(store, dir, ws, logger, "SAR"),
		WS:          ws,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func registerDriver(t *testing.T, s *Server, channel string) string {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/v1/drivers", map[string]any{
		"display_name":    "Ahmed",
		"contact_channel": channel,
		"attributes": map[string]string{
			"nationality": "Egyptian", "vehicle_type": "sedan", "gender": "male", "phone": "0501",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp["driver_id"]
}

func TestHealthz(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestSetRole(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/users/role", map[string]string{
		"user_id": "u1", "display_name": "Sara", "role": "client",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, s, http.MethodPost, "/api/v1/users/role", map[string]string{
		"user_id": "u1", "role": "admin",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad role: status %d", rec.Code)
	}
}

func TestDriverLocationAndCandidates(t *testing.T) {
	s := testServer(t)
	id := registerDriver(t, s, "chat-1")

	rec := doJSON(t, s, http.MethodPost, "/api/v1/drivers/"+id+"/location",
		map[string]float64{"lat": 24.71, "lon": 46.67})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("location: status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/drivers/"+id+"/location",
		map[string]float64{"lat": 99, "lon": 46.67})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid coords: status %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/candidates", map[string]any{
		"location":    map[string]float64{"lat": 24.70, "lon": 46.68},
		"nationality": "egyptian",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("candidates: status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Candidates []models.MatchCandidate `json:"candidates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Candidates) != 1 || resp.Candidates[0].Driver.ID != id {
		t.Fatalf("candidates: %+v", resp.Candidates)
	}
	if resp.Candidates[0].DistanceKm == nil {
		t.Error("distance missing despite a client location")
	}
}

func TestStopSharingHidesDriver(t *testing.T) {
	s := testServer(t)
	id := registerDriver(t, s, "chat-1")
	doJSON(t, s, http.MethodPost, "/api/v1/drivers/"+id+"/location",
		map[string]float64{"lat": 24.71, "lon": 46.67})

	rec := doJSON(t, s, http.MethodPost, "/api/v1/drivers/"+id+"/stop", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("stop: status %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/candidates", map[string]any{})
	var resp struct {
		Candidates []models.MatchCandidate `json:"candidates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Candidates) != 0 {
		t.Fatalf("stopped driver still matchable: %+v", resp.Candidates)
	}

	if rec := doJSON(t, s, http.MethodPost, "/api/v1/drivers/Dmissing/stop", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown driver stop: status %d", rec.Code)
	}
}

func TestOrderLifecycle(t *testing.T) {
	s := testServer(t)
	id := registerDriver(t, s, "chat-1")

	rec := doJSON(t, s, http.MethodPost, "/api/v1/orders", map[string]any{
		"client_id": "client-1", "driver_id": id, "proposed_price": 25,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", rec.Code, rec.Body.String())
	}
	var o models.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatal(err)
	}
	if o.Status != models.StatusPending {
		t.Fatalf("created order status %s", o.Status)
	}

	// Wrong driver is forbidden, right driver commits.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/orders/"+o.ID+"/accept",
		map[string]string{"driver_id": "Dother"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong driver: status %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPost, "/api/v1/orders/"+o.ID+"/accept",
		map[string]string{"driver_id": id})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("accept: status %d: %s", rec.Code, rec.Body.String())
	}

	// A second response hits a terminal order.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/orders/"+o.ID+"/reject",
		map[string]string{"driver_id": id})
	if rec.Code != http.StatusConflict {
		t.Fatalf("reject after accept: status %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/orders/"+o.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatal(err)
	}
	if o.Status != models.StatusAccepted || o.DriverPrice != 25 {
		t.Fatalf("final order: %+v", o)
	}
}

func TestCounterLifecycleOverHTTP(t *testing.T) {
	s := testServer(t)
	id := registerDriver(t, s, "chat-1")

	rec := doJSON(t, s, http.MethodPost, "/api/v1/orders", map[string]any{
		"client_id": "client-1", "driver_id": id, "proposed_price": 25,
	})
	var o models.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/orders/"+o.ID+"/counter",
		map[string]string{"driver_id": id})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("begin counter: status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/drivers/"+id+"/counter-reply",
		map[string]string{"text": "not a number"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed reply: status %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPost, "/api/v1/drivers/"+id+"/counter-reply",
		map[string]string{"text": "30"})
	if rec.Code != http.StatusOK {
		t.Fatalf("counter reply: status %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatal(err)
	}
	if o.Status != models.StatusCounterProposed || o.CounterPrice != 30 {
		t.Fatalf("after counter: %+v", o)
	}

	// Stale value is refused, matching value commits.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/orders/"+o.ID+"/counter/accept",
		map[string]any{"client_id": "client-1", "counter_price": 28})
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale counter accept: status %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPost, "/api/v1/orders/"+o.ID+"/counter/accept",
		map[string]any{"client_id": "client-1", "counter_price": 30})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("counter accept: status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	s := testServer(t)
	id := registerDriver(t, s, "chat-1")

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown order", http.MethodGet, "/api/v1/orders/Omissing", nil, http.StatusNotFound},
		{"unknown driver order", http.MethodPost, "/api/v1/orders",
			map[string]any{"client_id": "c", "driver_id": "Dmissing", "proposed_price": 25},
			http.StatusUnprocessableEntity},
		{"bad price", http.MethodPost, "/api/v1/orders",
			map[string]any{"client_id": "c", "driver_id": id, "proposed_price": -1},
			http.StatusBadRequest},
		{"reply with no pending", http.MethodPost, "/api/v1/drivers/" + id + "/counter-reply",
			map[string]string{"text": "30"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := doJSON(t, s, tc.method, tc.path, tc.body)
		if rec.Code != tc.want {
			t.Errorf("%s: status %d, want %d (%s)", tc.name, rec.Code, tc.want, rec.Body.String())
		}
	}
}
