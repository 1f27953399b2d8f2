package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okCheck(_ context.Context) error { return nil }

func failCheck(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func doReadyz(t *testing.T, h *Handler) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body response
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec, body
}

func TestHealthzAlwaysOK(t *testing.T) {
	h := New(Checker{Name: "redis", Check: failCheck("down")})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body response
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyzAllBackendsUp(t *testing.T) {
	h := New(
		Checker{Name: "redis", Check: okCheck, Optional: true},
		Checker{Name: "cold-index", Check: okCheck},
	)

	rec, body := doReadyz(t, h)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	for _, name := range []string{"redis", "cold-index"} {
		res, ok := body.Checks[name]
		if !ok {
			t.Fatalf("check %q missing from response", name)
		}
		if res.Status != "ok" {
			t.Errorf("%s status = %q, want ok", name, res.Status)
		}
		if res.Latency == "" {
			t.Errorf("%s latency missing", name)
		}
	}
}

func TestReadyzRequiredBackendDown(t *testing.T) {
	h := New(
		Checker{Name: "redis", Check: okCheck, Optional: true},
		Checker{Name: "cold-index", Check: failCheck("connection refused")},
	)

	rec, body := doReadyz(t, h)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want fail", body.Status)
	}
	if got := body.Checks["cold-index"].Error; got != "connection refused" {
		t.Errorf("cold-index error = %q", got)
	}
	if body.Checks["redis"].Status != "ok" {
		t.Errorf("redis status = %q, want ok", body.Checks["redis"].Status)
	}
}

func TestReadyzOptionalBackendDownDegrades(t *testing.T) {
	h := New(
		Checker{Name: "redis", Check: failCheck("dial tcp: refused"), Optional: true},
		Checker{Name: "cold-index", Check: okCheck},
	)

	rec, body := doReadyz(t, h)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when only optional backends fail", rec.Code)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if body.Checks["redis"].Status != "fail" {
		t.Errorf("redis status = %q, want fail", body.Checks["redis"].Status)
	}
}

func TestReadyzRequiredFailureOutranksDegraded(t *testing.T) {
	h := New(
		Checker{Name: "redis", Check: failCheck("down"), Optional: true},
		Checker{Name: "cold-index", Check: failCheck("down")},
	)

	rec, body := doReadyz(t, h)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want fail", body.Status)
	}
}

func TestReadyzNoCheckers(t *testing.T) {
	rec, body := doReadyz(t, New())
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyzPropagatesRequestContext(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRegisterRoutes(t *testing.T) {
	mux := http.NewServeMux()
	New(Checker{Name: "redis", Check: okCheck}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}
