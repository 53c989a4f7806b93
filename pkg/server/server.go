// Package server exposes the question pipeline and the report registry over
// HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alitto/pond/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/txlens/txlens/pkg/catalog"
	"github.com/txlens/txlens/pkg/metrics"
	"github.com/txlens/txlens/pkg/pipeline"
	"github.com/txlens/txlens/pkg/reports"
)

const DefaultWorkers = 8

// Pipeline is the part of pipeline.Pipeline the server calls.
type Pipeline interface {
	Ask(ctx context.Context, req pipeline.AskRequest) (*pipeline.Answer, error)
	Reply(ctx context.Context, conversationID, text string) (*pipeline.Answer, error)
	RunReport(ctx context.Context, req pipeline.ReportRequest) (*pipeline.Answer, error)
}

type Config struct {
	Logger   *slog.Logger
	Pipeline Pipeline
	Reports  *reports.Registry
	Catalogs catalog.Set

	// Workers bounds how many pipeline calls run at once.
	Workers        int
	AllowedOrigins []string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pipeline == nil {
		return errors.New("pipeline is required")
	}
	if cfg.Reports == nil {
		return errors.New("reports registry is required")
	}
	if cfg.Catalogs == nil {
		return errors.New("catalogs are required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return nil
}

type Server struct {
	log    *slog.Logger
	cfg    *Config
	pool   pond.ResultPool[*pipeline.Answer]
	Router chi.Router
}

func New(cfg *Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		log:  cfg.Logger,
		cfg:  cfg,
		pool: pond.NewResultPool[*pipeline.Answer](cfg.Workers),
	}
	s.Router = s.routes()
	return s, nil
}

// Close waits for running pipeline calls and rejects new ones.
func (s *Server) Close() {
	s.pool.StopAndWait()
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/catalogs", s.handleCatalogs)
		r.Get("/reports", s.handleReports)
		r.Post("/reports/{id}/run", s.handleRunReport)
		r.Post("/ask", s.handleAsk)
		r.Post("/reply", s.handleReply)
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("server: failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuestion),
		errors.Is(err, pipeline.ErrUnknownSchemaType),
		errors.Is(err, pipeline.ErrIncompatible):
		status = http.StatusBadRequest
	case errors.Is(err, reports.ErrReportNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pond.ErrPoolStopped):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("server: request failed", "path", r.URL.Path, "error", err)
		s.writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// run executes fn on the worker pool and writes its answer.
func (s *Server) run(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) (*pipeline.Answer, error)) {
	ctx := r.Context()
	answer, err := s.pool.SubmitErr(func() (*pipeline.Answer, error) {
		return fn(ctx)
	}).Wait()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req pipeline.AskRequest
	if err := decode(w, r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	s.log.Debug("[/api/ask]", "conversation", req.ConversationID, "schema_type", req.SchemaType)
	s.run(w, r, func(ctx context.Context) (*pipeline.Answer, error) {
		return s.cfg.Pipeline.Ask(ctx, req)
	})
}

type replyRequest struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := decode(w, r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "conversationId is required"})
		return
	}
	s.log.Debug("[/api/reply]", "conversation", req.ConversationID)
	s.run(w, r, func(ctx context.Context) (*pipeline.Answer, error) {
		return s.cfg.Pipeline.Reply(ctx, req.ConversationID, req.Text)
	})
}

type runReportRequest struct {
	SchemaType string          `json:"schemaType,omitempty"`
	Params     reports.Params  `json:"params"`
	Filters    reports.Filters `json:"filters"`
}

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	var body runReportRequest
	if err := decode(w, r, &body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	req := pipeline.ReportRequest{
		ID:         chi.URLParam(r, "id"),
		SchemaType: body.SchemaType,
		Params:     body.Params,
		Filters:    body.Filters,
	}
	s.log.Debug("[/api/reports/run]", "report", req.ID, "schema_type", req.SchemaType)
	s.run(w, r, func(ctx context.Context) (*pipeline.Answer, error) {
		return s.cfg.Pipeline.RunReport(ctx, req)
	})
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list := s.cfg.Reports.ListForSchemaType(q.Get("schemaType"))
	if search := q.Get("q"); search != "" {
		found := map[string]bool{}
		for _, m := range s.cfg.Reports.Search(search) {
			found[m.ID] = true
		}
		filtered := list[:0]
		for _, m := range list {
			if found[m.ID] {
				filtered = append(filtered, m)
			}
		}
		list = filtered
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCatalogs(w http.ResponseWriter, r *http.Request) {
	if schemaType := r.URL.Query().Get("schemaType"); schemaType != "" {
		cat, ok := s.cfg.Catalogs.Get(schemaType)
		if !ok {
			s.writeError(w, r, pipeline.ErrUnknownSchemaType)
			return
		}
		s.writeJSON(w, http.StatusOK, cat)
		return
	}
	out := make([]*catalog.Catalog, 0, len(s.cfg.Catalogs))
	for _, t := range s.cfg.Catalogs.SchemaTypes() {
		cat, _ := s.cfg.Catalogs.Get(t)
		out = append(out, cat)
	}
	s.writeJSON(w, http.StatusOK, out)
}
