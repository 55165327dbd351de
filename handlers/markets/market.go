// Package markets exposes the market-facing HTTP surface: creation, state
// reads, trading, the trade log, and admin cancellation.
package markets

import (
	"errors"
	"net/http"
	"strconv"

	"cloutcast/handlers"
	"cloutcast/models"

	"github.com/gorilla/mux"
)

var (
	errInvalidTrigger = errors.New("trigger must be parent_resolves_yes or parent_resolves_no")
	errParentNotFound = errors.New("parent market not found")
	errParentTerminal = errors.New("cannot chain to a finished market")
	errChainTooDeep   = errors.New("chains may only be two levels deep")
)

// GetMarketHandler handles GET /v0/markets/{id}.
func GetMarketHandler(env *handlers.Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var market models.Market
		if err := env.DB.Where("id = ?", id).First(&market).Error; err != nil {
			http.Error(w, "market not found", http.StatusNotFound)
			return
		}

		handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"market":  market,
			"priceNo": market.PriceNo(),
		})
	}
}

// ListTradesHandler handles GET /v0/markets/{id}/trades, paginated in
// sequence order for deterministic replay.
func ListTradesHandler(env *handlers.Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var market models.Market
		if err := env.DB.Where("id = ?", id).First(&market).Error; err != nil {
			http.Error(w, "market not found", http.StatusNotFound)
			return
		}

		limit := 50
		if l := r.URL.Query().Get("limit"); l != "" {
			if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
				limit = parsed
			}
		}
		offset := 0
		if o := r.URL.Query().Get("offset"); o != "" {
			if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
				offset = parsed
			}
		}

		var trades []models.Trade
		if err := env.DB.Where("market_id = ?", id).
			Order("seq").Limit(limit).Offset(offset).
			Find(&trades).Error; err != nil {
			http.Error(w, "failed to fetch trades", http.StatusInternalServerError)
			return
		}

		var total int64
		env.DB.Model(&models.Trade{}).Where("market_id = ?", id).Count(&total)

		handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"trades": trades,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}
