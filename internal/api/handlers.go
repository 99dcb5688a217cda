package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/semcache/semcache/internal/auth"
	"github.com/semcache/semcache/internal/core"
	"github.com/semcache/semcache/internal/logger"
	"github.com/semcache/semcache/internal/store"
)

type APIHandler struct {
	cacheService *core.CacheService
	llmService   *core.LLMService // nil when no API key is configured
	log          *logger.Logger
	adminSecret  string
}

func NewAPIHandler(cs *core.CacheService, llm *core.LLMService, log *logger.Logger, adminSecret string) *APIHandler {
	return &APIHandler{
		cacheService: cs,
		llmService:   llm,
		log:          log,
		adminSecret:  adminSecret,
	}
}

// AdminAuthMiddleware guards the destructive endpoints with a shared-secret
// bearer token. This authenticates an operator only; conversation owner tags
// are opaque and never checked here.
func (h *APIHandler) AdminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if _, err := auth.ValidateAdminToken(h.adminSecret, tokenString); err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type SaveConversationRequest struct {
	Query     string         `json:"query"`
	Response  string         `json:"response"`
	UserID    *string        `json:"user_id,omitempty"`
	SessionID *string        `json:"session_id,omitempty"`
	Metadata  store.Metadata `json:"metadata,omitempty"`
}

type SaveConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

func (h *APIHandler) SaveConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req SaveConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.cacheService.Save(r.Context(), core.SaveRequest{
		Query:     req.Query,
		Response:  req.Response,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		if errors.Is(err, core.ErrEmptyQuery) || errors.Is(err, core.ErrEmptyResponse) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error("failed to save conversation", "error", err)
		http.Error(w, "Failed to save conversation", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(SaveConversationResponse{ConversationID: id})
}

type QueryRequest struct {
	Query         string  `json:"query"`
	Limit         int     `json:"limit,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
	Generate      bool    `json:"generate,omitempty"`
	UserID        *string `json:"user_id,omitempty"`
	SessionID     *string `json:"session_id,omitempty"`
}

type GeneratedResponse struct {
	ConversationID string `json:"conversation_id"`
	Response       string `json:"response"`
}

type QueryResponse struct {
	Matches   []core.Match       `json:"matches"`
	Generated *GeneratedResponse `json:"generated,omitempty"`
}

func (h *APIHandler) QueryHandler(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "Query cannot be empty", http.StatusBadRequest)
		return
	}

	matches, err := h.cacheService.FindSimilar(r.Context(), core.FindRequest{
		Query:         req.Query,
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
		UserID:        req.UserID,
		SessionID:     req.SessionID,
	})
	if err != nil {
		h.log.Error("cache lookup failed", "error", err)
		http.Error(w, "Failed to query cache", http.StatusInternalServerError)
		return
	}

	resp := QueryResponse{Matches: matches}
	if len(matches) == 0 && req.Generate && h.llmService != nil {
		generated, err := h.generateAndSave(r, req)
		if err != nil {
			h.log.Error("generate-on-miss failed", "error", err)
			http.Error(w, "Failed to generate response", http.StatusBadGateway)
			return
		}
		resp.Generated = generated
	}
	if resp.Matches == nil {
		resp.Matches = []core.Match{}
	}
	json.NewEncoder(w).Encode(resp)
}

func (h *APIHandler) generateAndSave(r *http.Request, req QueryRequest) (*GeneratedResponse, error) {
	answer, err := h.llmService.GenerateResponse(r.Context(), req.Query)
	if err != nil {
		return nil, err
	}
	id, err := h.cacheService.Save(r.Context(), core.SaveRequest{
		Query:     req.Query,
		Response:  answer,
		UserID:    req.UserID,
		SessionID: req.SessionID,
	})
	if err != nil {
		return nil, err
	}
	return &GeneratedResponse{ConversationID: id, Response: answer}, nil
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	conv, err := h.cacheService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		h.log.Error("failed to get conversation", "conversation_id", id, "error", err)
		http.Error(w, "Failed to get conversation", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(conv)
}

type DeleteConversationResponse struct {
	Removed int64 `json:"removed"`
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	removed, err := h.cacheService.DeleteByID(r.Context(), id)
	if err != nil {
		h.log.Error("failed to delete conversation", "conversation_id", id, "error", err)
		http.Error(w, "Failed to delete conversation", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(DeleteConversationResponse{Removed: removed})
}

type PurgeRequest struct {
	MaxAgeDays int   `json:"max_age_days"`
	MinUsage   int64 `json:"min_usage"`
}

type PurgeResponse struct {
	Removed int64 `json:"removed"`
}

func (h *APIHandler) PurgeHandler(w http.ResponseWriter, r *http.Request) {
	var req PurgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.MaxAgeDays < 0 {
		http.Error(w, "max_age_days cannot be negative", http.StatusBadRequest)
		return
	}
	if req.MinUsage <= 0 {
		req.MinUsage = 2
	}

	removed, err := h.cacheService.Purge(r.Context(), req.MaxAgeDays, req.MinUsage)
	if err != nil {
		h.log.Error("purge failed", "error", err)
		http.Error(w, "Failed to purge conversations", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(PurgeResponse{Removed: removed})
}

func (h *APIHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cacheService.Stats(r.Context())
	if err != nil {
		h.log.Error("failed to read stats", "error", err)
		http.Error(w, "Failed to read stats", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(stats)
}
