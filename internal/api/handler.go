// Package api provides HTTP handlers for the Movi backend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transitops/movi/internal/fleet"
	"github.com/transitops/movi/internal/orchestrator"
)

// maxChatBodySize bounds chat request bodies (64KB).
const maxChatBodySize = 64 << 10

// degradedReply is returned when the reasoning path fails; the conversation
// keeps working even when the agent cannot.
const degradedReply = "Sorry, I could not process that request right now. Please try again in a moment."

// TurnRunner is the orchestrator surface the chat handler needs.
type TurnRunner interface {
	Turn(ctx context.Context, req orchestrator.TurnRequest) (orchestrator.TurnResult, error)
}

// Handler serves the chat turn endpoint and the fleet dashboard reads.
type Handler struct {
	engine TurnRunner
	repo   fleet.Repository
}

// NewHandler creates a Handler.
func NewHandler(engine TurnRunner, repo fleet.Repository) *Handler {
	return &Handler{engine: engine, repo: repo}
}

// RegisterRoutes attaches all API routes to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Get("/routes", h.Routes)
		r.Get("/trips", h.Trips)
		r.Get("/vehicles", h.Vehicles)
		r.Get("/stops", h.Stops)
		r.Get("/health", h.Health)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ChatRequest is the caller-facing turn request.
type ChatRequest struct {
	Message     string `json:"message"`
	ThreadID    string `json:"thread_id"`
	CurrentPage string `json:"current_page"`
}

// ChatResponse is the caller-facing turn result.
type ChatResponse struct {
	Response             string `json:"response"`
	ThreadID             string `json:"thread_id"`
	AwaitingConfirmation bool   `json:"awaiting_confirmation"`
}

// Chat handles POST /api/chat: one conversation turn.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChatBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message cannot be empty")
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}

	result, err := h.engine.Turn(r.Context(), orchestrator.TurnRequest{
		ThreadID:    req.ThreadID,
		Message:     req.Message,
		CurrentPage: req.CurrentPage,
	})
	if err != nil {
		slog.Error("Chat turn failed", "thread_id", req.ThreadID, "error", err)

		switch {
		case errors.Is(err, orchestrator.ErrCheckpoint):
			// State was not mutated; the caller can retry the whole turn.
			Error(w, http.StatusServiceUnavailable, "conversation state unavailable, please retry")
		case errors.Is(err, orchestrator.ErrLoopCeiling):
			Error(w, http.StatusInternalServerError, "the agent could not complete the request: too many tool steps")
		default:
			// Gateway failures degrade to a fixed reply so the UI keeps
			// working.
			JSON(w, http.StatusOK, ChatResponse{
				Response: degradedReply,
				ThreadID: req.ThreadID,
			})
		}
		return
	}

	JSON(w, http.StatusOK, ChatResponse{
		Response:             result.Reply,
		ThreadID:             req.ThreadID,
		AwaitingConfirmation: result.AwaitingConfirmation,
	})
}

// Routes handles GET /api/routes.
func (h *Handler) Routes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.repo.ListRoutes(r.Context())
	if err != nil {
		slog.Error("Failed to list routes", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list routes")
		return
	}
	JSON(w, http.StatusOK, routes)
}

// Trips handles GET /api/trips.
func (h *Handler) Trips(w http.ResponseWriter, r *http.Request) {
	trips, err := h.repo.ListTodaysTrips(r.Context())
	if err != nil {
		slog.Error("Failed to list trips", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list trips")
		return
	}
	JSON(w, http.StatusOK, trips)
}

// Vehicles handles GET /api/vehicles.
func (h *Handler) Vehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.repo.ListVehicles(r.Context())
	if err != nil {
		slog.Error("Failed to list vehicles", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list vehicles")
		return
	}
	JSON(w, http.StatusOK, vehicles)
}

// Stops handles GET /api/stops.
func (h *Handler) Stops(w http.ResponseWriter, r *http.Request) {
	stops, err := h.repo.ListStops(r.Context())
	if err != nil {
		slog.Error("Failed to list stops", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list stops")
		return
	}
	JSON(w, http.StatusOK, stops)
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"db":     err.Error(),
		})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
