package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/election-ceremony-console/metrics"
	"go.uber.org/atomic"
)

// Server hosts the console API, the health endpoints and the metrics listener.
type Server struct {
	cfg     *HTTPServerConfig
	isReady atomic.Bool
	log     *slog.Logger

	srv        *http.Server
	metricsSrv *metrics.MetricsServer
	handler    *Handler
}

func New(cfg *HTTPServerConfig, handler *Handler) *Server {
	gatherer := cfg.MetricsGatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	srv := &Server{
		cfg:        cfg,
		log:        cfg.Log,
		metricsSrv: metrics.New(cfg.MetricsAddr, gatherer),
		handler:    handler,
	}
	srv.isReady.Store(true)

	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return srv
}

// Router returns the complete route tree of the server.
func (srv *Server) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(srv.httpLogger)

	srv.handler.RegisterRoutes(mux)

	mux.Get("/livez", srv.handleLivenessCheck)
	mux.Get("/readyz", srv.handleReadinessCheck)
	mux.Get("/drain", srv.handleDrain)
	mux.Get("/undrain", srv.handleUndrain)

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

// ceremonyStage names the current ceremony stage, or "" when the server has
// no controller attached.
func (srv *Server) ceremonyStage() string {
	if srv.handler == nil || srv.handler.controller == nil {
		return ""
	}
	return srv.handler.controller.Stage().String()
}

func (srv *Server) writeHealth(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(HealthResponse{Status: status, Stage: srv.ceremonyStage()}); err != nil {
		srv.log.Error("Could not encode health response", "err", err)
	}
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	srv.writeHealth(w, http.StatusOK, "alive")
}

// handleReadinessCheck reports whether the console accepts operator traffic.
// Draining takes it out of rotation whatever the ceremony stage.
func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Load() {
		srv.writeHealth(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	srv.writeHealth(w, http.StatusOK, "ready")
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Swap(false) {
		srv.writeHealth(w, http.StatusOK, "already draining")
		return
	}

	srv.log.Info("Console marked as not ready", "stage", srv.ceremonyStage())
	time.AfterFunc(srv.cfg.DrainDuration, func() {
		srv.log.Info("Drain period completed")
	})
	srv.writeHealth(w, http.StatusOK, "draining")
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if srv.isReady.Swap(true) {
		srv.writeHealth(w, http.StatusOK, "already ready")
		return
	}

	srv.log.Info("Console marked as ready", "stage", srv.ceremonyStage())
	srv.writeHealth(w, http.StatusOK, "ready")
}

func (srv *Server) RunInBackground() {
	// metrics
	if srv.cfg.MetricsAddr != "" {
		go func() {
			srv.log.With("metricsAddress", srv.cfg.MetricsAddr).Info("Starting metrics server")
			err := srv.metricsSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("Metrics server failed", "err", err)
			}
		}()
	}

	// api
	go func() {
		srv.log.Info("Starting HTTP server", "listenAddress", srv.cfg.ListenAddr)
		if err := srv.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error("HTTP server failed", "err", err)
		}
	}()
}

func (srv *Server) Shutdown() {
	// api
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", "err", err)
	} else {
		srv.log.Info("HTTP server gracefully stopped")
	}

	// metrics
	if len(srv.cfg.MetricsAddr) != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
		defer cancel()

		if err := srv.metricsSrv.Shutdown(ctx); err != nil {
			srv.log.Error("Graceful metrics server shutdown failed", "err", err)
		} else {
			srv.log.Info("Metrics server gracefully stopped")
		}
	}
}
