// Package votes exposes resolution voting and arbitration over HTTP.
package votes

import (
	"encoding/json"
	"net/http"

	"cloutcast/handlers"
	"cloutcast/middleware"
	"cloutcast/models"

	"github.com/gorilla/mux"
)

// CastVoteRequest is one participant's resolution ballot.
type CastVoteRequest struct {
	Vote string `json:"vote" validate:"required,oneof=yes no"`
}

// CastVoteHandler handles POST /v0/markets/{id}/vote.
func CastVoteHandler(env *handlers.Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, httpErr := middleware.ValidateTokenAndGetUser(r, env.DB, env.Cfg.JWTSecret)
		if httpErr != nil {
			http.Error(w, httpErr.Message, httpErr.StatusCode)
			return
		}
		marketID := mux.Vars(r)["id"]

		var req CastVoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handlers.WriteBadRequest(w, "invalid request body")
			return
		}
		if err := handlers.Validate.Struct(req); err != nil {
			handlers.WriteBadRequest(w, err.Error())
			return
		}

		summary, err := env.Coordinator.CastVote(marketID, user.ID, req.Vote)
		if err != nil {
			handlers.WriteError(w, err)
			return
		}

		handlers.WriteJSON(w, http.StatusCreated, map[string]interface{}{
			"accepted":    true,
			"yourVote":    req.Vote,
			"voteSummary": summary,
		})
	}
}

// VoteSummaryHandler handles GET /v0/markets/{id}/votes. Only aggregate
// counts and the caller's own ballot are exposed.
func VoteSummaryHandler(env *handlers.Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, httpErr := middleware.ValidateTokenAndGetUser(r, env.DB, env.Cfg.JWTSecret)
		if httpErr != nil {
			http.Error(w, httpErr.Message, httpErr.StatusCode)
			return
		}
		marketID := mux.Vars(r)["id"]

		summary, err := env.Coordinator.VoteSummary(marketID, user.ID)
		if err != nil {
			handlers.WriteError(w, err)
			return
		}
		handlers.WriteJSON(w, http.StatusOK, summary)
	}
}

// ArbitrationRequest carries the external adjudicator's binding ruling.
type ArbitrationRequest struct {
	Ruling    string `json:"ruling" validate:"required,oneof=yes no"`
	Reasoning string `json:"reasoning" validate:"max=2000"`
}

// ArbitrateHandler handles POST /v0/markets/{id}/arbitrate. Restricted to
// room admins, who front for the dispute-resolution collaborator.
func ArbitrateHandler(env *handlers.Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, httpErr := middleware.ValidateTokenAndGetUser(r, env.DB, env.Cfg.JWTSecret)
		if httpErr != nil {
			http.Error(w, httpErr.Message, httpErr.StatusCode)
			return
		}
		marketID := mux.Vars(r)["id"]

		var market models.Market
		if err := env.DB.Where("id = ?", marketID).First(&market).Error; err != nil {
			http.Error(w, "market not found", http.StatusNotFound)
			return
		}

		role, err := middleware.RoleInRoom(env.DB, user.ID, market.RoomID)
		if err != nil {
			handlers.WriteError(w, err)
			return
		}
		if role != models.RoleAdmin {
			handlers.WriteJSON(w, http.StatusForbidden, map[string]string{"error": "only room admins can submit arbitration"})
			return
		}

		var req ArbitrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handlers.WriteBadRequest(w, "invalid request body")
			return
		}
		if err := handlers.Validate.Struct(req); err != nil {
			handlers.WriteBadRequest(w, err.Error())
			return
		}

		if err := env.Coordinator.Arbitrate(marketID, req.Ruling, req.Reasoning); err != nil {
			handlers.WriteError(w, err)
			return
		}

		handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"resolved": true,
			"ruling":   req.Ruling,
		})
	}
}

// AdvanceLifecycleHandler handles POST /v0/lifecycle/advance, the
// idempotent scheduler tick. External schedulers may call it on their own
// cadence alongside the in-process loop.
func AdvanceLifecycleHandler(env *handlers.Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		advanced, err := env.Coordinator.AdvanceLifecycle()
		if err != nil {
			handlers.WriteError(w, err)
			return
		}
		handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{"advanced": advanced})
	}
}
