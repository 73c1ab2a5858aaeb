package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"confidencePoolAPI/internal/pool"
	"confidencePoolAPI/middleware"
	"confidencePoolAPI/services"
)

type ConfidenceHandler struct {
	compat  *services.CompatService
	manager *services.ConfidenceManager
}

func NewConfidenceHandler(compat *services.CompatService, manager *services.ConfidenceManager) *ConfidenceHandler {
	return &ConfidenceHandler{
		compat:  compat,
		manager: manager,
	}
}

// GetLeaderboard serves the weekly leaderboard, or the season leaderboard
// when no week query parameter is given.
func (h *ConfidenceHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var week *int
	if raw := r.URL.Query().Get("week"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, http.StatusBadRequest, "Query parameter 'week' must be a positive integer")
			return
		}
		week = &n
	}

	opts := services.DisplayOptions{
		ForceRefresh: r.URL.Query().Get("refresh") == "true",
		Type:         r.URL.Query().Get("type"),
	}

	res := h.compat.ComputeLeaderboard(ctx, week, opts)
	if !res.Success {
		respondWithError(w, http.StatusServiceUnavailable, "Leaderboard temporarily unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, res)
}

type submitPicksRequest struct {
	Week        int                  `json:"week"`
	DisplayName string               `json:"display_name"`
	Picks       map[string]pool.Pick `json:"picks"`
}

func (h *ConfidenceHandler) SubmitPicks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	userID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req submitPicksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Week < 1 {
		respondWithError(w, http.StatusBadRequest, "Field 'week' must be a positive integer")
		return
	}

	res := h.compat.SaveUserPicks(ctx, req.Week, userID, req.Picks, req.DisplayName)
	if !res.Success {
		if res.Rejected {
			respondWithError(w, http.StatusBadRequest, res.Error)
			return
		}
		respondWithJSON(w, http.StatusBadGateway, res)
		return
	}

	respondWithJSON(w, http.StatusOK, res)
}

func (h *ConfidenceHandler) GetMyPicks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	week, err := strconv.Atoi(r.URL.Query().Get("week"))
	if err != nil || week < 1 {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'week' is required and must be a positive integer")
		return
	}

	picks, err := h.manager.GetUserPicks(ctx, week, userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Unable to load picks")
		return
	}

	respondWithJSON(w, http.StatusOK, picks)
}

func (h *ConfidenceHandler) GetPoolMetrics(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.manager.GetMetrics())
}

func (h *ConfidenceHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	report := h.manager.HealthCheck(ctx)
	code := http.StatusOK
	if report.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	respondWithJSON(w, code, report)
}

func (h *ConfidenceHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.manager.ClearCache()
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Cache cleared"})
}

func (h *ConfidenceHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	week, err := strconv.Atoi(r.URL.Query().Get("week"))
	if err != nil || week < 1 {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'week' is required and must be a positive integer")
		return
	}
	h.manager.InvalidateCache(week)
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Cache invalidated for week " + strconv.Itoa(week)})
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

// SetMode flips the shim between the unified and legacy paths. Operational
// escape hatch for when the unified path is suspected faulty.
func (h *ConfidenceHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	switch services.Mode(req.Mode) {
	case services.ModeUnified, services.ModeLegacy:
		h.compat.SetMode(services.Mode(req.Mode))
	default:
		respondWithError(w, http.StatusBadRequest, "Field 'mode' must be 'unified' or 'legacy'")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"mode": req.Mode})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
