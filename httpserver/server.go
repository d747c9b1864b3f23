package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/ruteri/wallet-recovery-vault/metrics"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

type HTTPServerConfig struct {
	ListenAddr  string
	MetricsAddr string
	EnablePprof bool
	Log         *slog.Logger

	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration

	// Store, when set, is probed by /readyz.
	Store interfaces.SecureStore

	// RateLimit is the sustained requests per second allowed per client.
	// Zero disables the limiter.
	RateLimit float64
	RateBurst int
}

type Server struct {
	cfg     *HTTPServerConfig
	isReady atomic.Bool
	log     *slog.Logger
	clock   clock.Clock

	srv        *http.Server
	metricsSrv *metrics.Server
	handler    *Handler
	limiter    *clientLimiter
}

func New(cfg *HTTPServerConfig, handler *Handler) (srv *Server, err error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if handler == nil {
		return nil, errors.New("httpserver requires a handler")
	}

	srv = &Server{
		cfg:     cfg,
		log:     cfg.Log,
		handler: handler,
		clock:   clock.New(),
	}
	if cfg.MetricsAddr != "" {
		srv.metricsSrv = metrics.New(cfg.MetricsAddr)
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		srv.limiter = newClientLimiter(rate.Limit(cfg.RateLimit), burst, 10*time.Minute)
	}
	srv.isReady.Store(true)

	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.getRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return srv, nil
}

// Handler returns the root HTTP handler, for tests and embedding.
func (srv *Server) Handler() http.Handler {
	return srv.srv.Handler
}

func (srv *Server) getRouter() http.Handler {
	mux := chi.NewRouter()

	mux.Group(func(r chi.Router) {
		r.Use(srv.httpLogger, srv.countRequests)
		if srv.limiter != nil {
			r.Use(srv.limiter.middleware)
		}
		srv.handler.Routes(r)
	})

	// Health and diagnostic endpoints
	mux.With(srv.httpLogger).Get("/livez", srv.handleLivenessCheck)
	mux.With(srv.httpLogger).Get("/readyz", srv.handleReadinessCheck)
	mux.With(srv.httpLogger).Get("/drain", srv.handleDrain)
	mux.With(srv.httpLogger).Get("/undrain", srv.handleUndrain)

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

// countRequests labels requests by route pattern, never by raw path, so that
// recovery and key ids do not end up in metric labels.
func (srv *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "alive"})
}

// handleReadinessCheck fails while draining or while the configured store
// does not answer, since no vault or recovery call can succeed without it.
func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	switch {
	case !srv.isReady.Load():
		writeJSON(w, http.StatusServiceUnavailable, StatusResponse{Status: "not ready"})
	case srv.cfg.Store != nil && !srv.cfg.Store.Available(r.Context()):
		writeJSON(w, http.StatusServiceUnavailable, StatusResponse{Status: "store unavailable"})
	default:
		writeJSON(w, http.StatusOK, StatusResponse{Status: "ready"})
	}
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Swap(false) {
		writeJSON(w, http.StatusOK, StatusResponse{Status: "already draining"})
		return
	}

	srv.log.Info("Server marked as not ready", "drainDuration", srv.cfg.DrainDuration)
	srv.clock.AfterFunc(srv.cfg.DrainDuration, func() {
		srv.log.Info("Drain period completed")
	})
	writeJSON(w, http.StatusOK, StatusResponse{Status: "draining"})
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if srv.isReady.Swap(true) {
		writeJSON(w, http.StatusOK, StatusResponse{Status: "already ready"})
		return
	}

	srv.log.Info("Server marked as ready")
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ready"})
}

// listener is either the API server or the metrics server.
type listener interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

func (srv *Server) listeners() map[string]listener {
	ls := map[string]listener{"api": srv.srv}
	if srv.metricsSrv != nil {
		ls["metrics"] = srv.metricsSrv
	}
	return ls
}

func (srv *Server) RunInBackground() {
	srv.log.Info("Starting HTTP server", "listenAddress", srv.cfg.ListenAddr, "metricsAddress", srv.cfg.MetricsAddr)
	for name, l := range srv.listeners() {
		go func(name string, l listener) {
			if err := l.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("HTTP server failed", "server", name, "err", err)
			}
		}(name, l)
	}
}

// Shutdown stops the API first so in-flight vault calls finish while metrics
// are still scraped.
func (srv *Server) Shutdown() {
	for _, name := range []string{"api", "metrics"} {
		l, ok := srv.listeners()[name]
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
		if err := l.Shutdown(ctx); err != nil {
			srv.log.Error("Graceful shutdown failed", "server", name, "err", err)
		} else {
			srv.log.Info("Server gracefully stopped", "server", name)
		}
		cancel()
	}
}
