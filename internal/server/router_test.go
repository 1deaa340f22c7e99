package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/faultgate/internal/breaker"
	"github.com/loykin/faultgate/internal/failure"
	"github.com/loykin/faultgate/internal/store/memory"
	"github.com/loykin/faultgate/internal/supervisor"
	"github.com/loykin/faultgate/internal/timeout"
)

func newTestHandler(t *testing.T, cfg supervisor.Config) (http.Handler, *supervisor.Supervisor) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sup, err := supervisor.New(context.Background(), memory.New(), func(context.Context) error { return nil }, cfg)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	return NewRouter(sup, "/api").Handler(), sup
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	out := map[string]any{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			// Array responses land under "list".
			var arr []any
			if aerr := json.Unmarshal(w.Body.Bytes(), &arr); aerr != nil {
				t.Fatalf("decode %s %s: %v", method, path, err)
			}
			out["list"] = arr
		}
	}
	return w, out
}

func TestStatusEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, supervisor.Config{})
	w, body := doJSON(t, h, http.MethodGet, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["status"] != "healthy" || body["circuit_state"] != "closed" {
		t.Fatalf("body = %v", body)
	}
}

func TestCheckAllowsAndComputesTimeout(t *testing.T) {
	h, _ := newTestHandler(t, supervisor.Config{})
	w, body := doJSON(t, h, http.MethodPost, "/api/check", `{"category":"query"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %v", w.Code, body)
	}
	if body["allowed"] != true {
		t.Fatalf("fresh circuit refused: %v", body)
	}
	if body["timeout_ms"] != float64(10000) {
		t.Fatalf("timeout_ms = %v, want 10000", body["timeout_ms"])
	}
}

func TestCheckHonorsOverride(t *testing.T) {
	h, _ := newTestHandler(t, supervisor.Config{})
	_, body := doJSON(t, h, http.MethodPost, "/api/check", `{"category":"query","override":"7s"}`)
	if body["timeout_ms"] != float64(7000) {
		t.Fatalf("override ignored: %v", body)
	}
}

func TestCheckRejectsBadInput(t *testing.T) {
	h, _ := newTestHandler(t, supervisor.Config{})

	w, _ := doJSON(t, h, http.MethodPost, "/api/check", `{"category":"bogus"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown category accepted: %d", w.Code)
	}
	w, _ = doJSON(t, h, http.MethodPost, "/api/check", `{"category":"query","override":"-5s"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("negative override accepted: %d", w.Code)
	}
	w, _ = doJSON(t, h, http.MethodPost, "/api/check", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body accepted: %d", w.Code)
	}
}

func TestCheckRefusesWhenOpen(t *testing.T) {
	h, sup := newTestHandler(t, supervisor.Config{
		Breaker: breaker.Config{FailureThreshold: 2, OpenDuration: time.Hour},
	})
	sup.RecordFailure("svc", timeout.Query, time.Second, failure.CommandError)
	sup.RecordFailure("svc", timeout.Query, time.Second, failure.CommandError)

	w, body := doJSON(t, h, http.MethodPost, "/api/check", `{"category":"query"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["allowed"] != false {
		t.Fatalf("open circuit allowed: %v", body)
	}
	if _, ok := body["timeout_ms"]; ok {
		t.Fatalf("refusal must not compute a timeout: %v", body)
	}
}

func TestStatsEndpoint(t *testing.T) {
	h, sup := newTestHandler(t, supervisor.Config{})
	sup.RecordSuccess("svc", timeout.Query, 100*time.Millisecond)

	w, body := doJSON(t, h, http.MethodGet, "/api/stats?window=1h", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	cats, ok := body["categories"].([]any)
	if !ok || len(cats) != 1 {
		t.Fatalf("categories: %v", body)
	}

	w, _ = doJSON(t, h, http.MethodGet, "/api/stats?window=banana", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid window accepted: %d", w.Code)
	}
}

func TestFailuresEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, supervisor.Config{})
	w, body := doJSON(t, h, http.MethodGet, "/api/failures", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	list, ok := body["list"].([]any)
	if !ok || len(list) != 7 {
		t.Fatalf("failure taxonomy: %v", body)
	}
	first, _ := list[0].(map[string]any)
	if first["kind"] != "timeout" || first["hint"] == "" {
		t.Fatalf("entry = %v", first)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, supervisor.Config{})
	w, body := doJSON(t, h, http.MethodGet, "/api/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["status"] != "healthy" {
		t.Fatalf("body = %v", body)
	}
}

func TestMetricsMountedAtRoot(t *testing.T) {
	h, _ := newTestHandler(t, supervisor.Config{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":      "",
		"/":     "",
		"api":   "/api",
		"/api":  "/api",
		"/api/": "/api",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Fatalf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}
