package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlab/oracle/internal/cascade"
	"github.com/lumenlab/oracle/internal/models"
)

// Answerer is the orchestrator surface the API depends on.
type Answerer interface {
	Handle(ctx context.Context, q models.Query) (models.Answer, error)
}

// QueryRequest is the wire shape of one question.
type QueryRequest struct {
	Query       string   `json:"query"`
	SessionID   string   `json:"session_id,omitempty"`
	Intent      string   `json:"intent,omitempty"`
	Tier        string   `json:"tier,omitempty"`
	Language    string   `json:"language,omitempty"`
	SourceID    string   `json:"source_id,omitempty"`
	TopicTags   []string `json:"topic_tags,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// QueryResponse carries the answer and its provenance.
type QueryResponse struct {
	Answer     string            `json:"answer"`
	Provenance models.Provenance `json:"provenance"`
}

// Handler serves the query endpoint.
type Handler struct {
	orch     Answerer
	deadline time.Duration
	logger   *zap.Logger
}

func NewHandler(orch Answerer, deadline time.Duration, logger *zap.Logger) *Handler {
	return &Handler{orch: orch, deadline: deadline, logger: logger}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/query", h.handleQuery)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.deadline)
	defer cancel()

	answer, err := h.orch.Handle(ctx, models.Query{
		RawText:     req.Query,
		Language:    req.Language,
		Intent:      models.Intent(req.Intent),
		SourceID:    req.SourceID,
		TopicTags:   req.TopicTags,
		SessionID:   req.SessionID,
		Tier:        models.QualityTier(req.Tier),
		Attachments: req.Attachments,
	})
	if err != nil {
		status := http.StatusBadGateway
		var failure *cascade.Failure
		if errors.As(err, &failure) && failure.Fatal {
			status = http.StatusServiceUnavailable
		}
		h.logger.Warn("query failed",
			zap.String("session_id", req.SessionID),
			zap.Error(err),
		)
		h.writeError(w, status, "generation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, QueryResponse{
		Answer:     answer.Text,
		Provenance: answer.Provenance,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, map[string]string{"error": msg})
}
