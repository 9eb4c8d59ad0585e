package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/cloudflare/tableflip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omalloc/crateproxy/conf"
	"github.com/omalloc/crateproxy/contrib/log"
	"github.com/omalloc/crateproxy/contrib/transport"
	"github.com/omalloc/crateproxy/httpfront"
	xhttp "github.com/omalloc/crateproxy/pkg/x/http"
	"github.com/omalloc/crateproxy/pkg/x/runtime"
	"github.com/omalloc/crateproxy/server/mod"
)

// HTTPServer is the mirror's public HTTP front end: crate downloads
// under httpfront.Handler, plus the usual internal routes (metrics,
// version, health probes, pprof) on the same listener.
type HTTPServer struct {
	*http.Server

	flip     *tableflip.Upgrader
	config   *conf.HTTPServer
	listener net.Listener
}

// NewServer builds the mirror's HTTPServer. flip may be nil, in which
// case listen falls back to a plain net.Listen (no zero-downtime restart).
func NewServer(flip *tableflip.Upgrader, config *conf.HTTPServer, front *httpfront.Handler) transport.Server {
	s := &HTTPServer{
		Server: &http.Server{
			Addr:              config.Addr,
			ReadTimeout:       config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
			MaxHeaderBytes:    config.MaxHeaderBytes,
		},
		flip:   flip,
		config: config,
	}

	mux := http.NewServeMux()
	mod.HandlePProf(config.PProf, mux)
	mux.Handle("/favicon.ico", http.NotFoundHandler())
	mux.Handle("/version", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := json.Marshal(runtime.BuildInfo)
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	}))
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.Handle("/healthz/startup-probe", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	mux.Handle("/healthz/liveness-probe", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	mux.Handle("/healthz/readiness-probe", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	mux.Handle(httpfront.DownloadPrefix, mod.Recovery(mod.AccessLog(front)))

	xhttp.PrintRoutes(
		"/favicon.ico", "/version", "/metrics",
		"/healthz/startup-probe", "/healthz/liveness-probe", "/healthz/readiness-probe",
		"/debug/pprof/*", httpfront.DownloadPrefix+"*",
	)
	s.Handler = mux

	return s
}

func (s *HTTPServer) Start(ctx context.Context) error {
	s.BaseContext = func(ln net.Listener) context.Context {
		return ctx
	}

	if err := s.listen(); err != nil {
		return err
	}

	log.Infof("mirror HTTP server listening on %s", s.config.Addr)

	if err := s.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.Shutdown(ctx)
}

func (s *HTTPServer) listen() error {
	if s.flip != nil {
		ln, err := s.flip.Listen("tcp", s.config.Addr)
		if err != nil {
			return err
		}
		s.listener = ln
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}
