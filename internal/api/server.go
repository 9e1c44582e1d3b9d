package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikindex/internal/crawler"
	"github.com/JakeFAU/wikindex/internal/metrics"
	"github.com/JakeFAU/wikindex/internal/pipeline"
	"github.com/JakeFAU/wikindex/internal/postings"
	"github.com/JakeFAU/wikindex/internal/store"
)

// maxReduceBody caps the partial postings accepted by /v1/reduce.
const maxReduceBody = 64 << 20

// Runner is the slice of the pipeline the server drives.
type Runner interface {
	Crawl(ctx context.Context, req pipeline.CrawlRequest) (crawler.Result, error)
	Index(ctx context.Context, req pipeline.IndexRequest) (pipeline.IndexResult, error)
	Reduce(in io.Reader, out io.Writer) (postings.ConsumeStats, error)
}

// Server wires HTTP handlers to the pipeline.
type Server struct {
	router chi.Router
	runner Runner
	runs   store.RunReader
	logger *zap.Logger

	maxLimit int
}

// Option customizes a Server.
type Option func(*serverOptions)

type serverOptions struct {
	requestTimeout time.Duration
	maxLimit       int
	runs           store.RunReader
	throttle       Throttle
}

// Throttle decides whether a client may issue another request now.
// *ratelimit.Limiter satisfies it.
type Throttle interface {
	Allow(client string) bool
}

// WithThrottle rejects /v1 requests with 429 when t denies the caller.
func WithThrottle(t Throttle) Option {
	return func(o *serverOptions) { o.throttle = t }
}

// WithRequestTimeout aborts handlers that run longer than d.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *serverOptions) { o.requestTimeout = d }
}

// WithMaxLimit rejects crawl and index requests asking for more than n URLs.
// Requests that leave limit at zero use the configured crawl limit.
func WithMaxLimit(n int) Option {
	return func(o *serverOptions) { o.maxLimit = n }
}

// WithRuns exposes the run ledger under /v1/runs.
func WithRuns(runs store.RunReader) Option {
	return func(o *serverOptions) { o.runs = runs }
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, logger *zap.Logger, opts ...Option) *Server {
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{runner: runner, runs: o.runs, logger: logger.Named("api"), maxLimit: o.maxLimit}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	if o.requestTimeout > 0 {
		r.Use(timeoutMiddleware(o.requestTimeout))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if o.throttle != nil {
			r.Use(s.throttleMiddleware(o.throttle))
		}
		r.Post("/crawl", s.crawl)
		r.Post("/index", s.index)
		r.Post("/reduce", s.reduce)
		if s.runs != nil {
			r.Get("/runs", s.listRuns)
			r.Get("/runs/{runID}", s.getRun)
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.runner == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	Seed      string `json:"seed"`
	Limit     int    `json:"limit"`
	WaveWidth int    `json:"wave_width"`
}

func (c crawlRequest) validate(maxLimit int) error {
	if strings.TrimSpace(c.Seed) == "" {
		return errors.New("seed required")
	}
	if c.Limit < 0 {
		return errors.New("limit must be >= 0")
	}
	if maxLimit > 0 && c.Limit > maxLimit {
		return fmt.Errorf("limit must be <= %d", maxLimit)
	}
	if c.WaveWidth < 0 {
		return errors.New("wave_width must be >= 0")
	}
	return nil
}

func (c crawlRequest) toPipeline() pipeline.CrawlRequest {
	return pipeline.CrawlRequest{Seed: c.Seed, Limit: c.Limit, WaveWidth: c.WaveWidth}
}

type crawlResponse struct {
	Visited  []string `json:"visited"`
	Waves    int      `json:"waves"`
	Failures int      `json:"failures"`
}

type indexRequest struct {
	crawlRequest
	Vocabulary []string `json:"vocabulary"`
}

type indexResponse struct {
	RunID     string              `json:"run_id"`
	Visited   []string            `json:"visited"`
	Failures  int                 `json:"failures"`
	Postings  map[string][]string `json:"postings"`
	Artifacts pipeline.Artifacts  `json:"artifacts"`
	MessageID string              `json:"message_id,omitempty"`
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.validate(s.maxLimit); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.runner.Crawl(r.Context(), req.toPipeline())
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, crawlResponse{Visited: res.Visited, Waves: res.Waves, Failures: res.Failures})
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.validate(s.maxLimit); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	vocab := postings.NewVocabulary(req.Vocabulary...)
	if len(vocab) == 0 {
		s.writeError(w, http.StatusBadRequest, "vocabulary required")
		return
	}
	res, err := s.runner.Index(r.Context(), pipeline.IndexRequest{
		CrawlRequest: req.toPipeline(),
		Vocabulary:   vocab,
	})
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, indexResponse{
		RunID:     res.RunID.String(),
		Visited:   res.Visited,
		Failures:  res.Failures,
		Postings:  res.Postings,
		Artifacts: res.Artifacts,
		MessageID: res.MessageID,
	})
}

func (s *Server) reduce(w http.ResponseWriter, r *http.Request) {
	var out bytes.Buffer
	stats, err := s.runner.Reduce(http.MaxBytesReader(w, r.Body, maxReduceBody), &out)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/tab-separated-values")
	w.Header().Set("X-Skipped-Lines", strconv.Itoa(stats.Skipped))
	w.WriteHeader(http.StatusOK)
	if _, err := out.WriteTo(w); err != nil {
		s.logger.Warn("write reduce response failed", zap.Error(err))
	}
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	s.logger.Warn("run failed", zap.Int("status", status), zap.Error(err))
	s.writeError(w, status, err.Error())
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("panic", rec),
				)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) throttleMiddleware(t Throttle) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientHost(r)
			if !t.Allow(client) {
				metrics.ObserveThrottled(r.Method)
				s.logger.Debug("request throttled",
					zap.String("request_id", RequestID(r.Context())),
					zap.String("client", client),
				)
				w.Header().Set("Retry-After", "1")
				s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
