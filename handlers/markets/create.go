package markets

import (
	"encoding/json"
	"net/http"
	"time"

	"cloutcast/handlers"
	"cloutcast/middleware"
	"cloutcast/models"
	"cloutcast/security"

	"gorm.io/gorm"
)

// CreateMarketRequest opens a new market in a room. Chain fields are
// optional; when ParentMarketID is set the market starts pending and only
// activates if the parent resolves matching the trigger.
type CreateMarketRequest struct {
	RoomID      string `json:"roomId" validate:"required"`
	Question    string `json:"question" validate:"required"`
	Description string `json:"description"`

	LiquidityB float64    `json:"liquidityB"`
	ExpiresAt  *time.Time `json:"expiresAt"`

	ParentMarketID   string `json:"parentMarketId,omitempty"`
	TriggerCondition string `json:"triggerCondition,omitempty"`
}

// CreateMarketHandler handles POST /v0/markets.
func CreateMarketHandler(env *handlers.Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, httpErr := middleware.ValidateTokenAndGetUser(r, env.DB, env.Cfg.JWTSecret)
		if httpErr != nil {
			http.Error(w, httpErr.Message, httpErr.StatusCode)
			return
		}

		var req CreateMarketRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handlers.WriteBadRequest(w, "invalid request body")
			return
		}
		if err := handlers.Validate.Struct(req); err != nil {
			handlers.WriteBadRequest(w, err.Error())
			return
		}

		var room models.Room
		if err := env.DB.Where("id = ?", req.RoomID).First(&room).Error; err != nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		role, err := middleware.RoleInRoom(env.DB, user.ID, req.RoomID)
		if err != nil {
			handlers.WriteError(w, err)
			return
		}
		if role == models.RoleSpectator {
			handlers.WriteJSON(w, http.StatusForbidden, map[string]string{"error": "spectators cannot open markets"})
			return
		}

		sanitized, err := env.Sanitizer.SanitizeMarketInput(security.MarketInput{
			Question:    req.Question,
			Description: req.Description,
		})
		if err != nil {
			handlers.WriteBadRequest(w, err.Error())
			return
		}

		expiresAt := time.Now().Add(7 * 24 * time.Hour)
		if req.ExpiresAt != nil {
			expiresAt = *req.ExpiresAt
		}
		if expiresAt.Before(time.Now().Add(time.Hour)) {
			handlers.WriteBadRequest(w, "expiry must be at least one hour out")
			return
		}

		liquidity := req.LiquidityB
		if liquidity <= 0 {
			liquidity = room.DefaultLiquidityB
		}

		market := models.Market{
			RoomID:          req.RoomID,
			Question:        sanitized.Question,
			Description:     sanitized.Description,
			DescriptionHTML: sanitized.DescriptionHTML,
			CreatorID:       user.ID,
			LiquidityB:      liquidity,
			PriceYes:        0.5,
			Status:          models.StatusActive,
			ExpiresAt:       expiresAt,
		}

		if req.ParentMarketID != "" {
			if err := applyChainFields(env.DB, &market, req.ParentMarketID, req.TriggerCondition); err != nil {
				handlers.WriteBadRequest(w, err.Error())
				return
			}
		}

		if err := env.DB.Create(&market).Error; err != nil {
			env.Log.WithError(err).Error("create market failed")
			http.Error(w, "failed to create market", http.StatusInternalServerError)
			return
		}

		handlers.WriteJSON(w, http.StatusCreated, market)
	}
}

// applyChainFields validates and sets the chained-market fields: the parent
// must exist, must not be terminal, and the chain may only be two levels
// deep. A chained child starts pending.
func applyChainFields(db *gorm.DB, market *models.Market, parentID, trigger string) error {
	if trigger != models.TriggerParentYes && trigger != models.TriggerParentNo {
		return errInvalidTrigger
	}

	var parent models.Market
	if err := db.Where("id = ?", parentID).First(&parent).Error; err != nil {
		return errParentNotFound
	}
	if parent.Terminal() {
		return errParentTerminal
	}
	if parent.ChainDepth+1 >= models.MaxChainDepth {
		return errChainTooDeep
	}

	market.ParentMarketID = parentID
	market.TriggerCondition = trigger
	market.ChainDepth = parent.ChainDepth + 1
	market.Status = models.StatusPending
	return nil
}
