// Package api exposes the campaign service over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/sells-group/lead-mailer/internal/campaign"
	"github.com/sells-group/lead-mailer/internal/metrics"
	"github.com/sells-group/lead-mailer/internal/model"
	"github.com/sells-group/lead-mailer/internal/parser"
	"github.com/sells-group/lead-mailer/internal/store"
)

// Service is the campaign surface the HTTP layer needs.
type Service interface {
	Prepare(ctx context.Context, uploads []parser.Upload, tone string) (*campaign.PrepareResult, error)
	Send(ctx context.Context, req campaign.SendRequest) (*campaign.SendResult, error)
	DirectSend(ctx context.Context, req campaign.DirectRequest) (*model.DirectSendResult, error)
	Job(ctx context.Context, id string) (*model.Job, error)
	Unsubscribe(ctx context.Context, email string) (bool, error)
}

// Options configures the router.
type Options struct {
	// APIToken enables bearer authentication on campaign routes when set.
	APIToken string
	Version  string
	// MaxUploadBytes caps multipart bodies on /prepare. Default 32 MiB.
	MaxUploadBytes int64
	Metrics        *metrics.Metrics
}

const defaultMaxUpload = 32 << 20

type server struct {
	svc          Service
	opts         Options
	directSchema *jsonschema.Schema
}

// NewRouter builds the HTTP handler. Health, unsubscribe, and metrics stay
// open; everything else requires the bearer token when one is configured.
func NewRouter(svc Service, opts Options) (http.Handler, error) {
	schema, err := compileDirectSendSchema()
	if err != nil {
		return nil, err
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	s := &server{svc: svc, opts: opts, directSchema: schema}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.Get("/health", s.handleHealth)
	r.Get("/unsubscribe", s.handleUnsubscribe)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(opts.APIToken))
		r.Post("/prepare", s.handlePrepare)
		r.Post("/send", s.handleSend)
		r.Get("/status/{job_id}", s.handleStatus)
		r.Post("/direct_send", s.handleDirectSend)
	})

	return r, nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	var unsupported *parser.UnsupportedFileTypeError
	switch {
	case errors.As(err, &unsupported):
		return http.StatusBadRequest, unsupported.Error()
	case errors.Is(err, parser.ErrUnsupportedFileType),
		errors.Is(err, parser.ErrMalformedCSV):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrJobNotFound):
		return http.StatusNotFound, "Job not found"
	case errors.Is(err, campaign.ErrNoFiles):
		return http.StatusBadRequest, "No files uploaded"
	case errors.Is(err, campaign.ErrEmptyRecipientSet):
		return http.StatusBadRequest, "No leads available to send"
	case errors.Is(err, campaign.ErrEmptyBody):
		return http.StatusUnprocessableEntity, "body_html must not be blank"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "Invalid job status transition"
	case errors.Is(err, store.ErrEmptyEmail):
		return http.StatusBadRequest, "email is required"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := statusFor(err)
	if status >= 500 {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, detail)
}
