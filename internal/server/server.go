// Package server exposes verification over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/state"
)

const (
	minClaimLen  = 3
	maxBodyBytes = 64 << 10
	maxQuotes    = 5
)

// Decision strings returned by POST /verify
const (
	DecisionSupport = "SUPPORT"
	DecisionRefute  = "REFUTE"
	DecisionNEI     = "NOT ENOUGH INFO"
)

// Verifier runs one claim through the pipeline
type Verifier interface {
	Verify(ctx context.Context, claim string) (*model.Result, *state.Run)
}

// Server serves the verification API
type Server struct {
	verifier Verifier
	cfg      model.ServerConfig
	logger   *zap.Logger
}

// New creates a server around a verifier
func New(v Verifier, cfg model.ServerConfig) *Server {
	return &Server{
		verifier: v,
		cfg:      cfg,
		logger:   zap.L().Named("server"),
	}
}

// VerifyRequest is the body of POST /verify
type VerifyRequest struct {
	Claim   string `json:"claim"`
	Explain bool   `json:"explain"`
	Trace   bool   `json:"trace"`
}

// VerifyResponse is the reply to POST /verify
type VerifyResponse struct {
	Decision    string         `json:"decision"`
	Explanation string         `json:"explanation,omitempty"`
	Trace       []state.Action `json:"trace,omitempty"`
	Result      *model.Result  `json:"result"`
}

// Routes builds the HTTP handler
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Post("/verify", s.handleVerify)
	return r
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight requests
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	s.logger.Info("starting server", zap.String("addr", s.cfg.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	claim := strings.TrimSpace(req.Claim)
	if len([]rune(claim)) < minClaimLen {
		writeError(w, http.StatusBadRequest, "claim must be at least 3 characters")
		return
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.RequestTimeout)*time.Second)
		defer cancel()
	}

	start := time.Now()
	result, run := s.verifier.Verify(ctx, claim)
	decision := Decision(result)

	s.logger.Info("verified claim",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("decision", decision),
		zap.Duration("elapsed", time.Since(start)),
	)

	resp := VerifyResponse{Decision: decision, Result: result}
	if req.Explain {
		resp.Explanation = Explain(decision, run)
	}
	if req.Trace && run != nil {
		resp.Trace = run.History
		if resp.Trace == nil {
			resp.Trace = []state.Action{}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Decision maps a result onto the API's three-way decision
func Decision(r *model.Result) string {
	if r == nil {
		return DecisionNEI
	}
	switch r.Decision() {
	case model.LabelRefuted:
		return DecisionRefute
	case model.LabelSupported:
		return DecisionSupport
	default:
		return DecisionNEI
	}
}

// Explain quotes the selected evidence behind a decision
func Explain(decision string, run *state.Run) string {
	var quotes []string
	if run != nil {
		seen := make(map[string]bool)
		for _, sel := range run.Selected {
			if len(quotes) == maxQuotes {
				break
			}
			if seen[sel.EvidenceID] {
				continue
			}
			ev, ok := run.EvidenceByID(sel.EvidenceID)
			if !ok || strings.TrimSpace(ev.Text) == "" {
				continue
			}
			seen[sel.EvidenceID] = true
			quotes = append(quotes, `"`+strings.TrimSpace(ev.Text)+`"`)
		}
	}
	if len(quotes) == 0 {
		return decision + ". Evidence is insufficient."
	}
	return decision + ". Evidence: " + strings.Join(quotes, " ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
