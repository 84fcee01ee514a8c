// Package metrics publishes the process's ambient diagnostics surface:
// prometheus gauges/counters via promauto, served on a loopback-only
// go-chi mux alongside a liveness endpoint. This is not the domain's
// request API (that is out of scope); it exists purely so an operator
// can scrape grant/tool/limit activity the way the teacher's pkg/ipc
// exposes /metrics.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GrantsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "warden",
		Name:      "grants_active_total",
		Help:      "Number of non-expired permission grants across all sessions.",
	})
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "tool_calls_total",
		Help:      "Tool calls handled by the runner, labeled by tool and outcome (success, denied, not_found, worker_failure).",
	}, []string{"tool", "outcome"})
	LimitBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "limit_blocks_total",
		Help:      "Calls denied by the run limiter, labeled by the tool whose call was blocked.",
	}, []string{"tool"})
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "warden",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of finished runs.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Server hosts the loopback-only diagnostics mux.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

// NewServer binds the diagnostics mux to addr (use "127.0.0.1:0" to pick a
// free port for tests). It does not start serving until Serve is called.
func NewServer(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Get("/metrics", promhttp.Handler().ServeHTTP)
	router.Get("/healthz", handleHealthz)

	return &Server{
		httpServer: &http.Server{Handler: router},
		listener:   ln,
	}, nil
}

// Addr returns the bound address, useful when the server was started on
// port 0.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks, serving until the context is canceled or Shutdown is called.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
