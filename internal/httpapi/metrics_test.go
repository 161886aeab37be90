package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/parleyhq/parley/internal/observe"
	"github.com/parleyhq/parley/pkg/provider/stt"
	sttmock "github.com/parleyhq/parley/pkg/provider/stt/mock"
	"github.com/parleyhq/parley/pkg/provider/tts"
	ttsmock "github.com/parleyhq/parley/pkg/provider/tts/mock"
)

// newCapturedMetrics builds a Metrics instance readable through a
// ManualReader so handler-side instrumentation can be asserted on.
func newCapturedMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// counterTotal sums the data points of a counter, filtered by one attribute.
func counterTotal(t *testing.T, rm metricdata.ResourceMetrics, name, attrKey, attrValue string) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
			for _, dp := range sum.DataPoints {
				for _, kv := range dp.Attributes.ToSlice() {
					if string(kv.Key) == attrKey && kv.Value.AsString() == attrValue {
						total += dp.Value
					}
				}
			}
		}
	}
	return total
}

func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", name)
			}
			var n uint64
			for _, dp := range hist.DataPoints {
				n += dp.Count
			}
			return n
		}
	}
	return 0
}

func TestTTS_RecordsProviderMetrics(t *testing.T) {
	t.Parallel()

	m, reader := newCapturedMetrics(t)
	mock := &ttsmock.Provider{Result: &tts.Audio{Data: []byte("wav"), MIMEType: "audio/wav"}}
	h := newTestServer(t, WithTTS("coqui", mock), WithMetrics(m)).Handler()

	body, _ := json.Marshal(ttsRequest{Text: "hello"})
	req := httptest.NewRequest("POST", "/api/tts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	rm := collectMetrics(t, reader)
	if got := counterTotal(t, rm, "parley.provider.requests", "provider", "coqui"); got != 1 {
		t.Errorf("provider requests (coqui) = %d, want 1", got)
	}
	if got := counterTotal(t, rm, "parley.provider.requests", "status", "ok"); got != 1 {
		t.Errorf("provider requests (ok) = %d, want 1", got)
	}
	if got := histogramCount(t, rm, "parley.tts.duration"); got != 1 {
		t.Errorf("tts duration samples = %d, want 1", got)
	}
	if got := counterTotal(t, rm, "parley.provider.errors", "provider", "coqui"); got != 0 {
		t.Errorf("provider errors = %d, want 0", got)
	}
}

func TestTTS_RecordsProviderError(t *testing.T) {
	t.Parallel()

	m, reader := newCapturedMetrics(t)
	mock := &ttsmock.Provider{Err: errors.New("synth backend down")}
	h := newTestServer(t, WithTTS("coqui", mock), WithMetrics(m)).Handler()

	body, _ := json.Marshal(ttsRequest{Text: "hello"})
	req := httptest.NewRequest("POST", "/api/tts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	rm := collectMetrics(t, reader)
	if got := counterTotal(t, rm, "parley.provider.errors", "provider", "coqui"); got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}
	if got := counterTotal(t, rm, "parley.provider.requests", "status", "error"); got != 1 {
		t.Errorf("provider requests (error) = %d, want 1", got)
	}
}

func TestSTT_RecordsProviderMetrics(t *testing.T) {
	t.Parallel()

	m, reader := newCapturedMetrics(t)
	mock := &sttmock.Provider{Result: &stt.Transcript{Text: "hello"}}
	h := newTestServer(t, WithSTT("whisper", mock), WithMetrics(m)).Handler()

	req := httptest.NewRequest("POST", "/api/stt", bytes.NewReader(buildWAV([]byte{0, 0}, 16000, 1)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	rm := collectMetrics(t, reader)
	if got := counterTotal(t, rm, "parley.provider.requests", "provider", "whisper"); got != 1 {
		t.Errorf("provider requests (whisper) = %d, want 1", got)
	}
	if got := histogramCount(t, rm, "parley.stt.duration"); got != 1 {
		t.Errorf("stt duration samples = %d, want 1", got)
	}
}

func TestSTT_RecordsProviderError(t *testing.T) {
	t.Parallel()

	m, reader := newCapturedMetrics(t)
	mock := &sttmock.Provider{Err: errors.New("whisper down")}
	h := newTestServer(t, WithSTT("whisper", mock), WithMetrics(m)).Handler()

	req := httptest.NewRequest("POST", "/api/stt", bytes.NewReader(buildWAV([]byte{0, 0}, 16000, 1)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	rm := collectMetrics(t, reader)
	if got := counterTotal(t, rm, "parley.provider.errors", "provider", "whisper"); got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}
}
