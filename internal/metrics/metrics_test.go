package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesConversionMetrics(t *testing.T) {
	Init()
	Init()

	ObserveConversion("success", 16, 250*time.Millisecond)
	ObserveConversion("invalid", 0, 0)
	IncJob("dlq")
	SetQueueDepth("stream", 7)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`debooklet_conversions_total{result="success"}`,
		`debooklet_conversions_total{result="invalid"}`,
		`debooklet_pages_extracted_total`,
		`debooklet_conversion_duration_seconds_count`,
		`debooklet_jobs_processed_total{result="dlq"}`,
		`debooklet_queue_depth{type="stream"} 7`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
