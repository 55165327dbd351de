package markets

import (
	"encoding/json"
	"net/http"

	"cloutcast/handlers"
	"cloutcast/middleware"
	"cloutcast/models"

	"github.com/gorilla/mux"
)

// TradeRequest stakes an amount on one side of a market.
type TradeRequest struct {
	Side   string  `json:"side" validate:"required,oneof=yes no"`
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

// TradeResponse mirrors the ledger result plus the no price for clients
// that do not derive it.
type TradeResponse struct {
	SharesReceived float64      `json:"sharesReceived"`
	NewPriceYes    float64      `json:"newPriceYes"`
	NewPriceNo     float64      `json:"newPriceNo"`
	NewBalance     float64      `json:"newBalance"`
	Trade          models.Trade `json:"trade"`
}

// TradeHandler handles POST /v0/markets/{id}/trade.
func TradeHandler(env *handlers.Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, httpErr := middleware.ValidateTokenAndGetUser(r, env.DB, env.Cfg.JWTSecret)
		if httpErr != nil {
			http.Error(w, httpErr.Message, httpErr.StatusCode)
			return
		}
		marketID := mux.Vars(r)["id"]

		var req TradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handlers.WriteBadRequest(w, "invalid request body")
			return
		}
		if err := handlers.Validate.Struct(req); err != nil {
			handlers.WriteBadRequest(w, err.Error())
			return
		}

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
		if role == models.RoleSpectator {
			handlers.WriteJSON(w, http.StatusForbidden, map[string]string{"error": "spectators cannot trade"})
			return
		}

		result, err := env.Ledger.ApplyTrade(marketID, user.ID, req.Side, req.Amount)
		if err != nil {
			handlers.WriteError(w, err)
			return
		}

		handlers.WriteJSON(w, http.StatusCreated, TradeResponse{
			SharesReceived: result.Trade.SharesReceived,
			NewPriceYes:    result.NewPriceYes,
			NewPriceNo:     result.NewPriceNo,
			NewBalance:     result.NewBalance,
			Trade:          result.Trade,
		})
	}
}

// CancelMarketHandler handles POST /v0/markets/{id}/cancel (room admins
// only). All stakes are refunded.
func CancelMarketHandler(env *handlers.Env) http.HandlerFunc {
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
			handlers.WriteJSON(w, http.StatusForbidden, map[string]string{"error": "only room admins can cancel markets"})
			return
		}

		if err := env.Ledger.Cancel(marketID); err != nil {
			handlers.WriteError(w, err)
			return
		}

		handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"marketId": marketID,
			"status":   models.StatusCancelled,
			"refunded": true,
		})
	}
}
