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

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/health"
)

func serve(t *testing.T, h *health.Handler, path string) (*httptest.ResponseRecorder, health.Report) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var rep health.Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec, rep
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := health.New([]health.Checker{health.Func("provider", func() error { return errors.New("down") })})
	rec, rep := serve(t, h, "/healthz")
	if rec.Code != http.StatusOK || rep.Status != "ok" {
		t.Errorf("healthz = %d %+v, want 200 ok", rec.Code, rep)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := func() error { return nil }
	tests := []struct {
		name       string
		checkers   []health.Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []health.Checker{health.Func("provider", ok), health.Func("audio", ok)},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"provider": "ok", "audio": "ok"},
		},
		{
			name: "one fails",
			checkers: []health.Checker{
				health.Func("provider", ok),
				health.Func("audio", func() error { return errors.New("no input device") }),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"provider": "ok", "audio": "fail: no input device"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec, rep := serve(t, health.New(tc.checkers), "/readyz")
			if rec.Code != tc.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tc.wantCode)
			}
			if rep.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", rep.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := rep.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_Timeout(t *testing.T) {
	t.Parallel()

	slow := health.Checker{Name: "provider", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	h := health.New([]health.Checker{slow}, health.WithTimeout(10*time.Millisecond))

	start := time.Now()
	rec, rep := serve(t, h, "/readyz")
	if time.Since(start) > 2*time.Second {
		t.Error("check was not bounded by the timeout")
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
	if !strings.Contains(rep.Checks["provider"], "deadline exceeded") {
		t.Errorf("provider check = %q", rep.Checks["provider"])
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	waiter := health.Checker{Name: "a", Check: func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}
	releaser := health.Func("b", func() error { close(release); return nil })

	rep := health.New([]health.Checker{waiter, releaser}).Check(context.Background())
	if rep.Status != "ok" {
		t.Errorf("report = %+v, want ok", rep)
	}
}
