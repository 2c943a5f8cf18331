// Package server exposes the request pipeline to the browser extension over
// a local HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/killer-ai/killer/pkg/models"
	"github.com/killer-ai/killer/pkg/pipeline"
)

const (
	HeaderRequestID = "X-Killer-Request-ID"
	HeaderCache     = "X-Killer-Cache"

	maxBodyBytes = 1 << 20
)

// Extension origins are accepted unless WithExtensionIDs pins specific IDs.
var extensionSchemes = []string{"chrome-extension://", "moz-extension://"}

// Server is the local HTTP surface.
type Server struct {
	listen     string
	pipeline   *pipeline.Pipeline
	log        *zap.Logger
	mux        *http.ServeMux
	origins    map[string]bool
	extensions map[string]bool
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins accepts requests from the given web origins in
// addition to browser extensions.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		for _, o := range origins {
			s.origins[strings.TrimSuffix(o, "/")] = true
		}
	}
}

// WithExtensionIDs restricts extension origins to the given extension IDs.
// With no IDs any extension origin is accepted.
func WithExtensionIDs(ids ...string) Option {
	return func(s *Server) {
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				s.extensions[id] = true
			}
		}
	}
}

// New creates a Server. gatherer backs /metrics; nil leaves it unmounted.
func New(listen string, p *pipeline.Pipeline, gatherer prometheus.Gatherer, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		listen:     listen,
		pipeline:   p,
		log:        log,
		mux:        http.NewServeMux(),
		origins:    make(map[string]bool),
		extensions: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("/v1/requests", s.handleRequests)
	s.mux.HandleFunc("/v1/settings", s.handleSettings)
	s.mux.HandleFunc("/v1/quota", s.handleQuota)
	s.mux.HandleFunc("/v1/cache", s.handleCache)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// ServeHTTP implements http.Handler. Requests under /v1/ must name a
// loopback host and come from an allowed origin, and request bodies must
// be JSON.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/v1/") {
		if !s.hostAllowed(r.Host) {
			s.log.Warn("rejected non-local host", zap.String("host", r.Host), zap.String("path", r.URL.Path))
			writeJSONError(w, http.StatusMisdirectedRequest, "host not allowed")
			return
		}
		if origin := r.Header.Get("Origin"); !s.originAllowed(origin) {
			s.log.Warn("rejected foreign origin", zap.String("origin", origin), zap.String("path", r.URL.Path))
			writeJSONError(w, http.StatusForbidden, "origin not allowed")
			return
		}
		if hasBody(r.Method) && !isJSON(r.Header.Get("Content-Type")) {
			writeJSONError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

// originAllowed accepts an absent Origin, which non-browser clients omit.
func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, scheme := range extensionSchemes {
		id, ok := strings.CutPrefix(origin, scheme)
		if !ok || id == "" {
			continue
		}
		return len(s.extensions) == 0 || s.extensions[id]
	}
	return s.origins[origin]
}

// hostAllowed accepts loopback names and the configured listen host. A
// rebound DNS name pointing at 127.0.0.1 still carries its own Host header.
func (s *Server) hostAllowed(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	if listenHost, _, err := net.SplitHostPort(s.listen); err == nil && listenHost != "" {
		if ip := net.ParseIP(listenHost); ip == nil || !ip.IsUnspecified() {
			return strings.EqualFold(host, strings.Trim(listenHost, "[]"))
		}
	}
	return false
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("killer listening", zap.String("addr", s.listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("shutting down")
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := r.Header.Get("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(HeaderRequestID, id)

	var req models.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.pipeline.Handle(pipeline.ContextWithRequestID(r.Context(), id), req)
	if err != nil {
		code, msg := errorStatus(err)
		writeJSONError(w, code, msg)
		return
	}

	if res.Cached {
		w.Header().Set(HeaderCache, "hit")
	} else {
		w.Header().Set(HeaderCache, "miss")
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		current := s.pipeline.Settings(r.Context())
		writeJSON(w, http.StatusOK, models.SettingsView{
			APIKey:      models.MaskAPIKey(current.APIKey),
			APIEndpoint: current.APIEndpoint,
			APIKeySet:   current.APIKey != "",
		})
	case http.MethodPut:
		var settings models.Settings
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&settings); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		// A masked key echoed back from GET keeps the stored key.
		if current := s.pipeline.Settings(r.Context()); settings.APIKey != "" && settings.APIKey == models.MaskAPIKey(current.APIKey) {
			settings.APIKey = current.APIKey
		}
		if err := s.pipeline.SaveSettings(r.Context(), settings); err != nil {
			s.log.Error("save settings failed", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.QuotaStatus(r.Context()))
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.pipeline.CacheStats())
	case http.MethodDelete:
		if err := s.pipeline.ClearCache(r.Context()); err != nil {
			s.log.Error("clear cache failed", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "failed to clear cache")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorStatus maps a pipeline failure to an HTTP status and display message.
func errorStatus(err error) (int, string) {
	var e *pipeline.Error
	if !errors.As(err, &e) {
		return http.StatusServiceUnavailable, "request canceled"
	}
	switch e.Kind {
	case pipeline.KindInvalidRequest:
		return http.StatusBadRequest, e.Message
	case pipeline.KindConfigMissing, pipeline.KindConfigInvalid:
		return http.StatusPreconditionFailed, e.Message
	case pipeline.KindTimeout:
		return http.StatusGatewayTimeout, e.Message
	case pipeline.KindRemoteRejected:
		if e.Status == http.StatusTooManyRequests {
			return http.StatusTooManyRequests, e.Message
		}
		return http.StatusBadGateway, e.Message
	default:
		return http.StatusBadGateway, e.Message
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, models.ErrorResult{Error: message})
}
