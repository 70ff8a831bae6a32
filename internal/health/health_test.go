package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/mnemo/internal/health"
)

type body struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func serve(t *testing.T, h *health.Handler, path string) (int, body) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var b body
	if err := json.NewDecoder(rec.Body).Decode(&b); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, b
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	failing := health.Checker{Name: "store", Check: func(context.Context) error { return errors.New("down") }}
	code, b := serve(t, health.New(failing), "/healthz")
	if code != http.StatusOK || b.Status != "ok" {
		t.Errorf("healthz = %d %+v, want 200 ok regardless of checkers", code, b)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		checkers   []health.Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all pass",
			checkers: []health.Checker{
				{Name: "store", Check: ok},
				{Name: "capture", Check: ok},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"store": "ok", "capture": "ok"},
		},
		{
			name: "one fails",
			checkers: []health.Checker{
				{Name: "store", Check: fail},
				{Name: "capture", Check: ok},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"store": "fail: connection refused", "capture": "ok"},
		},
		{
			name:       "ping checker",
			checkers:   []health.Checker{health.PingChecker("store", pingFunc(fail))},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"store": "fail: connection refused"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, b := serve(t, health.New(tc.checkers...), "/readyz")
			if code != tc.wantCode || b.Status != tc.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, b.Status, tc.wantCode, tc.wantStatus)
			}
			if len(b.Checks) != len(tc.wantChecks) {
				t.Fatalf("checks = %v, want %v", b.Checks, tc.wantChecks)
			}
			for k, v := range tc.wantChecks {
				if b.Checks[k] != v {
					t.Errorf("checks[%q] = %q, want %q", k, b.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_CheckDeadline(t *testing.T) {
	t.Parallel()
	var deadline time.Time
	h := health.New(health.Checker{Name: "slow", Check: func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	}})
	if code, _ := serve(t, h, "/readyz"); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if deadline.IsZero() || time.Until(deadline) > 5*time.Second {
		t.Errorf("deadline = %v, want one at most 5s away", deadline)
	}
}

func TestReadyz_RequestCancellation(t *testing.T) {
	t.Parallel()
	h := health.New(health.Checker{Name: "store", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "context canceled") {
		t.Errorf("readyz = %d %s", rec.Code, rec.Body.String())
	}
}
