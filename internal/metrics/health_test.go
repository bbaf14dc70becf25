package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
)

type fixedRoutes int

func (f fixedRoutes) Len() int { return int(f) }

func TestHealthCheckerHandler(t *testing.T) {
	t.Parallel()

	auditErr := errors.New("check rule -C FORWARD: exit status 4")

	tests := []struct {
		name       string
		routes     RouteCounter
		configure  func(h *HealthChecker)
		wantStatus int
		want       HealthStatus
		expectWarn bool
	}{
		{
			name:       "fresh server",
			configure:  func(*HealthChecker) {},
			wantStatus: http.StatusOK,
			want:       HealthStatus{Status: "ok", Mode: "live"},
		},
		{
			name:       "reports routes and drift",
			routes:     fixedRoutes(3),
			configure:  func(h *HealthChecker) { h.ObserveAudit([]string{"203.0.113.1:9090"}, nil) },
			wantStatus: http.StatusOK,
			want:       HealthStatus{Status: "ok", Mode: "live", Routes: 3, Drifted: []string{"203.0.113.1:9090"}},
		},
		{
			name:   "failing audit keeps last drift",
			routes: fixedRoutes(1),
			configure: func(h *HealthChecker) {
				h.ObserveAudit([]string{"203.0.113.1:8080"}, nil)
				h.ObserveAudit(nil, auditErr)
			},
			wantStatus: http.StatusServiceUnavailable,
			want: HealthStatus{
				Status:     "audit_failing",
				Mode:       "live",
				Routes:     1,
				Drifted:    []string{"203.0.113.1:8080"},
				AuditError: auditErr.Error(),
			},
			expectWarn: true,
		},
		{
			name:   "route check failure replaces drift",
			routes: fixedRoutes(2),
			configure: func(h *HealthChecker) {
				h.ObserveAudit([]string{"203.0.113.1:8080"}, nil)
				h.ObserveAudit([]string{"203.0.113.1:9090"}, auditErr)
			},
			wantStatus: http.StatusServiceUnavailable,
			want: HealthStatus{
				Status:     "audit_failing",
				Mode:       "live",
				Routes:     2,
				Drifted:    []string{"203.0.113.1:9090"},
				AuditError: auditErr.Error(),
			},
			expectWarn: true,
		},
		{
			name: "audit recovers",
			configure: func(h *HealthChecker) {
				h.ObserveAudit(nil, auditErr)
				h.ObserveAudit(nil, nil)
			},
			wantStatus: http.StatusOK,
			want:       HealthStatus{Status: "ok", Mode: "live"},
		},
		{
			name: "draining wins over audit failure",
			configure: func(h *HealthChecker) {
				h.ObserveAudit(nil, auditErr)
				h.SetDraining()
			},
			wantStatus: http.StatusServiceUnavailable,
			want:       HealthStatus{Status: "draining", Mode: "live", AuditError: auditErr.Error()},
			expectWarn: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h, buf := newHealthCheckerForTest("live", tc.routes)
			tc.configure(h)

			rec := httptest.NewRecorder()
			h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if rec.Code != tc.wantStatus {
				t.Fatalf("unexpected status: got %d want %d", rec.Code, tc.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
				t.Fatalf("unexpected content type: %q", ct)
			}

			var got HealthStatus
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode body %q: %v", rec.Body.String(), err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("unexpected body: got %+v want %+v", got, tc.want)
			}
			if healthy := tc.wantStatus == http.StatusOK; h.IsHealthy() != healthy {
				t.Fatalf("IsHealthy() = %v, want %v", h.IsHealthy(), healthy)
			}

			logs := buf.String()
			if tc.expectWarn != strings.Contains(logs, "health check not passing") {
				t.Fatalf("unexpected warning state (want %v), logs %q", tc.expectWarn, logs)
			}
		})
	}
}

func TestHealthCheckerObserveAuditCopiesInput(t *testing.T) {
	t.Parallel()

	h, _ := newHealthCheckerForTest("live", nil)
	drifted := []string{"203.0.113.1:8080"}
	h.ObserveAudit(drifted, nil)
	drifted[0] = "mutated"

	if got := h.Status().Drifted; !reflect.DeepEqual(got, []string{"203.0.113.1:8080"}) {
		t.Fatalf("drifted set shares caller storage: %v", got)
	}
}

func TestHealthCheckerConcurrentAccess(t *testing.T) {
	t.Parallel()

	h, _ := newHealthCheckerForTest("live", fixedRoutes(2))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				h.ObserveAudit([]string{"203.0.113.1:8080"}, nil)
			} else {
				_ = h.Status()
			}
			_ = h.IsHealthy()
		}(i)
	}
	wg.Wait()

	if !h.IsHealthy() {
		t.Fatal("expected healthy state after successful audits")
	}
	h.SetDraining()
	if h.IsHealthy() {
		t.Fatal("expected unhealthy state while draining")
	}
}

func newHealthCheckerForTest(mode string, routes RouteCounter) (*HealthChecker, *syncBuffer) {
	h := NewHealthChecker(mode, routes)
	buf := &syncBuffer{}
	h.logger = slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return h, buf
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
