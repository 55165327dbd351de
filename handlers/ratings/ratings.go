// Package ratings serves the read-only rating surface consumed by
// leaderboard and profile collaborators.
package ratings

import (
	"net/http"
	"strconv"

	"cloutcast/handlers"
	"cloutcast/models"

	"github.com/gorilla/mux"
)

// GetRatingHandler handles GET /v0/users/{id}/rating.
func GetRatingHandler(env *handlers.Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var user models.User
		if err := env.DB.Where("id = ?", id).First(&user).Error; err != nil {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}

		handlers.WriteJSON(w, http.StatusOK, user.ToRatingRecord())
	}
}

// LeaderboardHandler handles GET /v0/leaderboard, users ordered by clout.
func LeaderboardHandler(env *handlers.Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 25
		if l := r.URL.Query().Get("limit"); l != "" {
			if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
				limit = parsed
			}
		}
		page := 1
		if p := r.URL.Query().Get("page"); p != "" {
			if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
				page = parsed
			}
		}

		var users []models.User
		if err := env.DB.Order("clout_score DESC, total_wins DESC").
			Limit(limit).Offset((page - 1) * limit).
			Find(&users).Error; err != nil {
			http.Error(w, "failed to fetch leaderboard", http.StatusInternalServerError)
			return
		}

		entries := make([]models.RatingRecord, len(users))
		for i := range users {
			entries[i] = users[i].ToRatingRecord()
		}

		var total int64
		env.DB.Model(&models.User{}).Count(&total)

		handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"leaderboard": entries,
			"total":       total,
			"page":        page,
			"limit":       limit,
		})
	}
}
