package aegisprobe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/ghalamif/AegisProbe/internal/ports"
)

type metricsServer struct {
	srv *http.Server
	ln  net.Listener
}

// metricsHandler serves /metrics and /healthz. A nil registry falls back to
// the process-wide default gatherer.
func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	if reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	// scrapers that speak prior-knowledge HTTP/2 skip the upgrade
	return h2c.NewHandler(mux, &http2.Server{})
}

func startMetricsServer(addr string, reg *prometheus.Registry, obs ports.Observability) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	m := &metricsServer{
		srv: &http.Server{
			Handler:           metricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln: ln,
	}
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.LogError("metrics_server_exited", err)
		}
	}()
	obs.LogInfo("metrics_server_listening", ports.F("addr", ln.Addr().String()))
	return m, nil
}

func (m *metricsServer) addr() string { return m.ln.Addr().String() }

func (m *metricsServer) shutdown(ctx context.Context) error {
	if err := m.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
