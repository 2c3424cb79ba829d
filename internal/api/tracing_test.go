package api

import (
	"net/http"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dunamismax/solarprep/internal/store"
)

func TestTracingContinuesCallerTrace(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(t.Context())

	srv := newTestServer(&fakeEnqueuer{}, store.NewMemoryRunStore(), WithTracer(tp.Tracer("test")))
	defer srv.Close()

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	resp := postRun(t, srv, `{"destination":"out"}`, map[string]string{
		"traceparent":       "00-" + traceID + "-00f067aa0ba902b7-01",
		DefaultClientHeader: "nightly",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "POST /v1/runs" {
		t.Fatalf("unexpected span name %q", span.Name())
	}
	if got := span.SpanContext().TraceID().String(); got != traceID {
		t.Fatalf("expected trace %s to continue, got %s", traceID, got)
	}

	attrs := map[string]any{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["http.response.status_code"] != int64(http.StatusBadRequest) {
		t.Fatalf("expected status attribute 400, got %v", attrs["http.response.status_code"])
	}
	if attrs["solarprep.client"] != "nightly" {
		t.Fatalf("expected client attribute, got %v", attrs["solarprep.client"])
	}
}
