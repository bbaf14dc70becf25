package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denniswebb/natgate/internal/gateway"
	"github.com/denniswebb/natgate/internal/iptables"
	"github.com/denniswebb/natgate/internal/metrics"
	"github.com/denniswebb/natgate/internal/route"
)

// acceptAll is an Executor that reports every command and chain as successful.
type acceptAll struct{}

func (acceptAll) Run(context.Context, string, ...string) error { return nil }

func (acceptAll) ChainExists(context.Context, string, string) (bool, error) { return true, nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T, mode iptables.Mode, opts *Options) (http.Handler, *route.Registry) {
	t.Helper()

	runner, err := iptables.NewRunner(iptables.RunnerConfig{
		Executor: acceptAll{},
		Mode:     mode,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	registry := route.NewRegistry()
	gw, err := gateway.New(gateway.Config{
		PublicIP: "203.0.113.1",
		Registry: registry,
		Runner:   runner,
		Executor: acceptAll{},
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	if opts == nil {
		opts = &Options{Logger: discardLogger()}
	}
	return NewHandler(gw, opts), registry
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestCreateRoute(t *testing.T) {
	t.Parallel()

	h, registry := newTestHandler(t, iptables.DryRun, nil)

	rec, body := do(t, h, http.MethodPost, "/create",
		`{"public_port":8080,"inner_port":80,"inner_ip":"10.0.0.5","protocol":"tcp"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["code"])

	data := body["data"].(map[string]any)
	assert.Equal(t, "dry-run", data["mode"])
	assert.NotContains(t, data, "replaced")
	assert.Equal(t, map[string]any{
		"public_ip":   "203.0.113.1",
		"public_port": float64(8080),
		"inner_ip":    "10.0.0.5",
		"inner_port":  float64(80),
		"protocol":    "tcp",
	}, data["route"])

	install := data["install"].([]any)
	require.Len(t, install, 3)
	first := install[0].(map[string]any)
	assert.Equal(t, "iptables", first["program"])
	assert.Equal(t, `-I FORWARD -d 10.0.0.5 -m comment --comment "Accept to forward traffic" -m tcp -p tcp --dport 8080 -j ACCEPT`, first["args"])
	assert.Equal(t, false, first["attempted"])

	assert.Equal(t, 1, registry.Len())
}

func TestCreateRouteReplacesExisting(t *testing.T) {
	t.Parallel()

	h, registry := newTestHandler(t, iptables.DryRun, nil)

	rec, _ := do(t, h, http.MethodPost, "/create", `{"public_port":8080,"inner_port":80,"inner_ip":"10.0.0.5","protocol":"tcp"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, http.MethodPost, "/create", `{"public_port":8080,"inner_port":80,"inner_ip":"10.0.0.6","protocol":"tcp"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]any)
	replaced := data["replaced"].(map[string]any)
	assert.Equal(t, "10.0.0.5", replaced["inner_ip"])

	uninstall := data["uninstall"].([]any)
	require.Len(t, uninstall, 3)
	assert.True(t, strings.HasPrefix(uninstall[0].(map[string]any)["args"].(string), "-D FORWARD -d 10.0.0.5 "))
	assert.Equal(t, 1, registry.Len())
}

func TestCreateRouteRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"public_port":`},
		{name: "port out of range", body: `{"public_port":70000,"inner_port":80,"inner_ip":"10.0.0.5"}`},
		{name: "negative port", body: `{"public_port":-1,"inner_port":80,"inner_ip":"10.0.0.5"}`},
		{name: "zero port", body: `{"public_port":0,"inner_port":80,"inner_ip":"10.0.0.5"}`},
		{name: "bad inner ip", body: `{"public_port":8080,"inner_port":80,"inner_ip":"10.0.0.300"}`},
		{name: "unknown protocol", body: `{"public_port":8080,"inner_port":80,"inner_ip":"10.0.0.5","protocol":"icmp"}`},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h, registry := newTestHandler(t, iptables.DryRun, nil)
			rec, body := do(t, h, http.MethodPost, "/create", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.EqualValues(t, ErrCodeInvalid, body["code"])
			assert.NotEmpty(t, body["msg"])
			assert.Equal(t, 0, registry.Len())
		})
	}
}

func TestRemoveRoute(t *testing.T) {
	t.Parallel()

	h, registry := newTestHandler(t, iptables.DryRun, nil)

	rec, _ := do(t, h, http.MethodPost, "/create", `{"public_port":8080,"inner_port":80,"inner_ip":"10.0.0.5","protocol":"tcp"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, http.MethodPost, "/remove", `{"public_port":8080}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	uninstall := data["uninstall"].([]any)
	require.Len(t, uninstall, 3)
	assert.Equal(t, `-t nat -D PREROUTING -m tcp -p tcp --dport 8080 -m comment --comment "redirect pkts to homeserver" -j DNAT --to-destination 10.0.0.5:80`,
		uninstall[2].(map[string]any)["args"])
	assert.Equal(t, 0, registry.Len())
}

func TestRemoveMissingRoute(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, iptables.DryRun, nil)

	rec, body := do(t, h, http.MethodPost, "/remove", `{"public_port":9999}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.EqualValues(t, ErrCodeNotFound, body["code"])
	assert.Contains(t, body["msg"], "203.0.113.1:9999")
}

func TestGetRouteList(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, iptables.DryRun, nil)

	for _, payload := range []string{
		`{"public_port":9090,"inner_port":443,"inner_ip":"10.0.0.7"}`,
		`{"public_port":8080,"inner_port":80,"inner_ip":"10.0.0.5"}`,
	} {
		rec, _ := do(t, h, http.MethodPost, "/create", payload)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, body := do(t, h, http.MethodGet, "/routes", "")
	require.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]any)
	assert.EqualValues(t, 2, data["count"])
	list := data["list"].([]any)
	assert.EqualValues(t, 8080, list[0].(map[string]any)["public_port"])
	assert.EqualValues(t, 9090, list[1].(map[string]any)["public_port"])
}

func TestGetAudit(t *testing.T) {
	t.Parallel()

	t.Run("dry run", func(t *testing.T) {
		t.Parallel()

		h, _ := newTestHandler(t, iptables.DryRun, nil)
		rec, body := do(t, h, http.MethodGet, "/audit", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.EqualValues(t, ErrCodeInvalid, body["code"])
	})

	t.Run("live", func(t *testing.T) {
		t.Parallel()

		h, _ := newTestHandler(t, iptables.Live, nil)
		rec, _ := do(t, h, http.MethodPost, "/create", `{"public_port":8080,"inner_port":80,"inner_ip":"10.0.0.5"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec, body := do(t, h, http.MethodGet, "/audit", "")
		require.Equal(t, http.StatusOK, rec.Code)
		data := body["data"].(map[string]any)
		assert.EqualValues(t, 1, data["count"])
		assert.EqualValues(t, 0, data["drifted"])
		entry := data["list"].([]any)[0].(map[string]any)
		assert.Equal(t, true, entry["in_sync"])
		rules := entry["rules"].([]any)
		require.Len(t, rules, 3)
		assert.True(t, strings.HasPrefix(rules[0].(map[string]any)["args"].(string), "-C FORWARD"))
	})
}

func TestRequestIDAndAccessLog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h, _ := newTestHandler(t, iptables.DryRun, &Options{AccessLog: true, Logger: logger})

	rec, _ := do(t, h, http.MethodGet, "/routes", "")
	id := rec.Header().Get("X-Request-Id")
	require.NotEmpty(t, id)
	assert.Contains(t, buf.String(), "api request")
	assert.Contains(t, buf.String(), "request_id="+id)

	req := httptest.NewRequest(http.MethodGet, "/routes", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "caller-supplied", rec.Header().Get("X-Request-Id"))
}

func TestHealthAndMetricsMounted(t *testing.T) {
	t.Parallel()

	health := metrics.NewHealthChecker(iptables.DryRun.String(), nil)
	m := metrics.NewMetrics()
	m.SetRoutesActive(2)

	h, _ := newTestHandler(t, iptables.DryRun, &Options{Logger: discardLogger(), Health: health.Handler(), Metrics: m.Handler()})

	rec, body := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "dry-run", body["mode"])

	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "natgate_routes_active 2")
}

func TestRoutesNotMountedWithoutHandlers(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, iptables.DryRun, nil)
	rec, _ := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerServesAndShutsDown(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, iptables.DryRun, nil)
	srv, err := NewServer("tcp", "127.0.0.1:0", h)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	resp, err := http.Get("http://" + srv.Addr().String() + "/routes")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.NoError(t, <-done)
}

func TestServerCloseReleasesUnservedListener(t *testing.T) {
	t.Parallel()

	srv, err := NewServer("tcp", "127.0.0.1:0", http.NotFoundHandler())
	require.NoError(t, err)
	addr := srv.Addr().String()

	require.NoError(t, srv.Close())

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err, "address must be free once Close returns")
	require.NoError(t, ln.Close())
}

func TestErrorStatusCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusOK, getStatusCode(nil))
	assert.Equal(t, http.StatusBadRequest, getStatusCode(ErrNotFound))
	assert.Equal(t, http.StatusInternalServerError, getStatusCode(io.EOF))
	assert.Equal(t, `{"code":40001,"msg":"object invalid"}`, ErrInvalid.Error())
}
