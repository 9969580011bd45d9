package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.QuestionFinished("essay", "filled")
	m.LLMRequest("ok", time.Second)
	m.RetrievalDegraded("rerank")
	m.DocumentIngested(3)
	if m.Registry() != nil {
		t.Fatalf("nil metrics should have no registry")
	}
}

func TestCountersAreExposed(t *testing.T) {
	m := New()
	m.QuestionFinished("single_choice", "filled")
	m.QuestionFinished("single_choice", "filled")
	m.FillError("dropdown")
	if got := testutil.ToFloat64(m.questions.WithLabelValues("single_choice", "filled")); got != 2 {
		t.Fatalf("questions counter: want=2 got=%v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "autosurvey_fill_errors_total") {
		t.Fatalf("metrics output missing fill errors counter")
	}
}
