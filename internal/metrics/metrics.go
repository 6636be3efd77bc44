// Package metrics holds the Prometheus collectors for recall, verification
// and repair sessions, and the optional /metrics listener.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// RecallTotal counts recall calls by mode (lexical or hybrid).
	RecallTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinymem_recall_total",
		Help: "Total recall calls by mode",
	}, []string{"mode"})

	// RecallDuration tracks recall latency.
	RecallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tinymem_recall_duration_seconds",
		Help:    "Recall duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	// RecallItems tracks how many items a recall returned.
	RecallItems = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tinymem_recall_items",
		Help:    "Items returned per recall",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})

	// EmbeddingErrors counts failed embedding calls.
	EmbeddingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinymem_embedding_errors_total",
		Help: "Total failed embedding requests",
	})

	// CoVeCandidates counts verified candidates by outcome (kept or discarded).
	CoVeCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinymem_cove_candidates_total",
		Help: "Candidates evaluated by verification, by outcome",
	}, []string{"mode", "outcome"})

	// CoVeErrors counts verification runs that failed open.
	CoVeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinymem_cove_errors_total",
		Help: "Verification runs that failed and were bypassed",
	}, []string{"mode"})

	// RalphSessions counts repair sessions by final status.
	RalphSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinymem_ralph_sessions_total",
		Help: "Repair sessions by final status",
	}, []string{"status"})

	// RalphIterations tracks repair iterations per session.
	RalphIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tinymem_ralph_iterations",
		Help:    "Repair iterations per session",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
	})

	// ToolCalls counts MCP tool calls by tool and result.
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinymem_tool_calls_total",
		Help: "MCP tool calls by tool and result",
	}, []string{"tool", "result"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled. The listener is
// bound before Serve returns, so address errors surface immediately.
func Serve(ctx context.Context, addr string, log *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics listener stopped", zap.Error(err))
		}
	}()
	log.Info("metrics listening", zap.String("addr", ln.Addr().String()))
	return nil
}
