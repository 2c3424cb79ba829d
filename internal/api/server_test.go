package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hibiken/asynq"

	"github.com/dunamismax/solarprep/internal/config"
	"github.com/dunamismax/solarprep/internal/domain"
	"github.com/dunamismax/solarprep/internal/queue"
	"github.com/dunamismax/solarprep/internal/ratelimit"
	"github.com/dunamismax/solarprep/internal/store"
)

type fakeEnqueuer struct {
	payloads []queue.RunPayload
	err      error
}

func (f *fakeEnqueuer) EnqueueRun(_ context.Context, payload queue.RunPayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{ID: payload.RunID, Queue: "default"}, nil
}

func newTestServer(enq *fakeEnqueuer, runs store.RunStore, opts ...Option) *httptest.Server {
	s := NewServer(log.New(io.Discard), enq, runs, opts...)
	return httptest.NewServer(s.Handler())
}

func postRun(t *testing.T, srv *httptest.Server, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/runs", strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	enq := &fakeEnqueuer{}
	runs := store.NewMemoryRunStore()
	srv := newTestServer(enq, runs)
	defer srv.Close()

	resp := postRun(t, srv, `{"source":"s3://frames/raw","destination":"s3://frames/tiles","effects":{"kernel_size":5,"amplitude":2,"frequency":10,"contrast_factor":0.5,"enable_turbulence":true},"output":{"tile":true,"max_outputs":100}}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var created struct {
		RunID     string `json:"run_id"`
		Status    string `json:"status"`
		StatusURL string `json:"status_url"`
	}
	decodeBody(t, resp, &created)
	if created.Status != domain.RunStatusQueued || created.RunID == "" {
		t.Fatalf("unexpected response %+v", created)
	}
	if len(enq.payloads) != 1 || enq.payloads[0].RunID != created.RunID {
		t.Fatalf("expected one enqueued payload for %s, got %+v", created.RunID, enq.payloads)
	}
	if !enq.payloads[0].Request.Effects.Turbulence || enq.payloads[0].Request.Output.Limit() != 100 {
		t.Fatalf("unexpected enqueued request %+v", enq.payloads[0].Request)
	}

	get, err := srv.Client().Get(srv.URL + created.StatusURL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if get.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", get.StatusCode)
	}
	var run domain.Run
	decodeBody(t, get, &run)
	if run.ID != created.RunID || run.Status != domain.RunStatusQueued {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestCreateRunAppliesDefaults(t *testing.T) {
	enq := &fakeEnqueuer{}
	defaults := config.TurbulenceConfig{
		Effects: domain.DefaultEffectConfig(),
		Output:  domain.OutputOptions{TileSize: 128},
		Workers: 2,
	}
	srv := newTestServer(enq, store.NewMemoryRunStore(), WithDefaults(defaults))
	defer srv.Close()

	resp := postRun(t, srv, `{"source":"/data/in","destination":"/data/out","output":{"tile":true,"tile_size":128}}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	got := enq.payloads[0].Request
	if got.Effects.KernelSize != domain.DefaultKernelSize || got.Workers != 2 {
		t.Fatalf("expected defaults to fill the request, got %+v", got)
	}
	if !got.Output.Tile {
		t.Fatal("expected the submitted output options to win")
	}
}

func TestCreateRunExplicitZeroCapLeavesDefaultAlone(t *testing.T) {
	enq := &fakeEnqueuer{}
	defaults := config.TurbulenceConfig{
		Effects: domain.DefaultEffectConfig(),
		Output:  domain.OutputOptions{MaxOutputs: domain.Cap(10)},
	}
	srv := newTestServer(enq, store.NewMemoryRunStore(), WithDefaults(defaults))
	defer srv.Close()

	for _, body := range []string{
		`{"source":"/data/in","destination":"/data/out","output":{"max_outputs":0}}`,
		`{"source":"/data/in","destination":"/data/out"}`,
	} {
		resp := postRun(t, srv, body, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", resp.StatusCode)
		}
	}

	if got := enq.payloads[0].Request.Output.Limit(); got != 0 {
		t.Fatalf("expected an explicit zero cap, got %d", got)
	}
	if got := enq.payloads[1].Request.Output.Limit(); got != 10 {
		t.Fatalf("expected the default cap of 10, got %d", got)
	}
	if *defaults.Output.MaxOutputs != 10 {
		t.Fatalf("expected the server default to stay 10, got %d", *defaults.Output.MaxOutputs)
	}
}

func TestCreateRunRejectsBadRequests(t *testing.T) {
	srv := newTestServer(&fakeEnqueuer{}, store.NewMemoryRunStore())
	defer srv.Close()

	for name, body := range map[string]string{
		"unknown field":  `{"source":"a","destination":"b","colour":true}`,
		"even kernel":    `{"source":"a","destination":"b","effects":{"kernel_size":4}}`,
		"no destination": `{"source":"a"}`,
		"two documents":  `{"source":"a","destination":"b"}{}`,
	} {
		resp := postRun(t, srv, body, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
}

func TestCreateRunEnqueueFailureMarksRunFailed(t *testing.T) {
	runs := store.NewMemoryRunStore()
	srv := newTestServer(&fakeEnqueuer{err: errors.New("redis down")}, runs)
	defer srv.Close()

	resp := postRun(t, srv, `{"source":"a","destination":"b"}`, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)

	run, ok, err := runs.Get(context.Background(), body["run_id"])
	if err != nil || !ok {
		t.Fatalf("expected the run to be stored, ok=%v err=%v", ok, err)
	}
	if run.Status != domain.RunStatusFailed || !strings.Contains(run.Error, "redis down") {
		t.Fatalf("expected a failed run, got %+v", run)
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv := newTestServer(&fakeEnqueuer{}, store.NewMemoryRunStore())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/v1/runs/does-not-exist")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	limiter, err := ratelimit.NewLocal(2, time.Hour)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	srv := newTestServer(&fakeEnqueuer{}, store.NewMemoryRunStore(), WithRateLimiter(limiter, ""))
	defer srv.Close()

	client := map[string]string{DefaultClientHeader: "observatory-a"}
	for i := 0; i < 2; i++ {
		resp := postRun(t, srv, `{"source":"a","destination":"b"}`, client)
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i, resp.StatusCode)
		}
	}

	resp := postRun(t, srv, `{"source":"a","destination":"b"}`, client)
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header")
	}

	other := postRun(t, srv, `{"source":"a","destination":"b"}`, map[string]string{DefaultClientHeader: "observatory-b"})
	other.Body.Close()
	if other.StatusCode != http.StatusAccepted {
		t.Fatalf("expected another client to pass, got %d", other.StatusCode)
	}

	health, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("expected reads to bypass the limiter, got %d", health.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&fakeEnqueuer{}, store.NewMemoryRunStore())
	defer srv.Close()

	for _, body := range []string{
		`{"source":"a","destination":"b","output":{"max_outputs":100}}`,
		`{"source":"a","destination":"b"}`,
		`{"source":"","destination":"b"}`,
	} {
		resp := postRun(t, srv, body, nil)
		resp.Body.Close()
	}
	resp, err := srv.Client().Get(srv.URL + "/v1/runs/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	resp, err = srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		`solarprep_api_run_submissions_total{outcome="accepted"} 2`,
		`solarprep_api_run_submissions_total{outcome="invalid"} 1`,
		`solarprep_api_run_submissions_total{outcome="throttled"} 0`,
		`solarprep_api_run_lookups_total{result="not_found"} 1`,
		// only the capped run is observed
		`solarprep_api_accepted_output_cap_count 1`,
		`solarprep_api_request_duration_seconds_count{class="4xx",route="/v1/runs/{id}"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %s in:\n%s", want, body)
		}
	}
}

func TestRateLimitCountsThrottledSubmissions(t *testing.T) {
	limiter, err := ratelimit.NewLocal(1, time.Hour)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	srv := newTestServer(&fakeEnqueuer{}, store.NewMemoryRunStore(), WithRateLimiter(limiter, ""))
	defer srv.Close()

	client := map[string]string{DefaultClientHeader: "observatory-b"}
	for i := 0; i < 3; i++ {
		resp := postRun(t, srv, `{"source":"a","destination":"b"}`, client)
		resp.Body.Close()
	}

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		`solarprep_api_run_submissions_total{outcome="accepted"} 1`,
		`solarprep_api_run_submissions_total{outcome="throttled"} 2`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %s in:\n%s", want, body)
		}
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/v1/runs":          "/v1/runs",
		"/v1/runs/abc-123":  "/v1/runs/{id}",
		"/healthz":          "/healthz",
		"/metrics":          "/metrics",
		"/wp-admin/install": "other",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
