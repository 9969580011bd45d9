package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autosurvey/internal/logger"
)

// Metrics holds the collectors of one process. All methods are safe on a
// nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	questions         *prometheus.CounterVec
	fillErrors        *prometheus.CounterVec
	llmRequests       *prometheus.CounterVec
	llmLatency        prometheus.Histogram
	retrievalLatency  prometheus.Histogram
	retrievalDegraded *prometheus.CounterVec
	sessions          *prometheus.CounterVec
	documents         prometheus.Counter
	chunks            prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		questions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autosurvey_questions_total",
				Help: "Questions reaching a terminal state",
			},
			[]string{"type", "state"},
		),
		fillErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autosurvey_fill_errors_total",
				Help: "DOM fill failures by question type",
			},
			[]string{"type"},
		),
		llmRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autosurvey_llm_requests_total",
				Help: "LLM completions by outcome",
			},
			[]string{"outcome"},
		),
		llmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "autosurvey_llm_request_duration_seconds",
			Help:    "Duration of LLM completions",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 60},
		}),
		retrievalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "autosurvey_retrieval_duration_seconds",
			Help:    "Duration of knowledge retrieval",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),
		retrievalDegraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autosurvey_retrieval_degraded_total",
				Help: "Retrievals that fell back to a lower quality path",
			},
			[]string{"reason"},
		),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autosurvey_sessions_total",
				Help: "Answering sessions by final status",
			},
			[]string{"status"},
		),
		documents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autosurvey_documents_ingested_total",
			Help: "Documents added to the knowledge base",
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autosurvey_chunks_indexed_total",
			Help: "Chunks embedded and indexed",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.questions, m.fillErrors, m.llmRequests, m.llmLatency,
		m.retrievalLatency, m.retrievalDegraded, m.sessions, m.documents, m.chunks,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) QuestionFinished(qtype, state string) {
	if m == nil {
		return
	}
	m.questions.WithLabelValues(qtype, state).Inc()
}

func (m *Metrics) FillError(qtype string) {
	if m == nil {
		return
	}
	m.fillErrors.WithLabelValues(qtype).Inc()
}

func (m *Metrics) LLMRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(outcome).Inc()
	m.llmLatency.Observe(d.Seconds())
}

func (m *Metrics) Retrieval(d time.Duration) {
	if m == nil {
		return
	}
	m.retrievalLatency.Observe(d.Seconds())
}

func (m *Metrics) RetrievalDegraded(reason string) {
	if m == nil {
		return
	}
	m.retrievalDegraded.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionFinished(status string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(status).Inc()
}

func (m *Metrics) DocumentIngested(chunks int) {
	if m == nil {
		return
	}
	m.documents.Inc()
	m.chunks.Add(float64(chunks))
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log *logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
