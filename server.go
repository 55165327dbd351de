package main

import (
	"net/http"

	"cloutcast/handlers"
	"cloutcast/handlers/markets"
	"cloutcast/handlers/ratings"
	"cloutcast/handlers/users"
	"cloutcast/handlers/votes"
	"cloutcast/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// newRouter wires the engine's HTTP surface.
func newRouter(env *handlers.Env) http.Handler {
	r := mux.NewRouter()

	v0 := r.PathPrefix("/v0").Subrouter()

	v0.HandleFunc("/users/register", users.RegisterHandler(env)).Methods(http.MethodPost)
	v0.HandleFunc("/users/login", users.LoginHandler(env)).Methods(http.MethodPost)
	v0.HandleFunc("/users/{id}/rating", ratings.GetRatingHandler(env)).Methods(http.MethodGet)
	v0.HandleFunc("/leaderboard", ratings.LeaderboardHandler(env)).Methods(http.MethodGet)

	v0.HandleFunc("/markets", markets.CreateMarketHandler(env)).Methods(http.MethodPost)
	v0.HandleFunc("/markets/{id}", markets.GetMarketHandler(env)).Methods(http.MethodGet)
	v0.HandleFunc("/markets/{id}/trade", markets.TradeHandler(env)).Methods(http.MethodPost)
	v0.HandleFunc("/markets/{id}/trades", markets.ListTradesHandler(env)).Methods(http.MethodGet)
	v0.HandleFunc("/markets/{id}/cancel", markets.CancelMarketHandler(env)).Methods(http.MethodPost)

	v0.HandleFunc("/markets/{id}/vote", votes.CastVoteHandler(env)).Methods(http.MethodPost)
	v0.HandleFunc("/markets/{id}/votes", votes.VoteSummaryHandler(env)).Methods(http.MethodGet)
	v0.HandleFunc("/markets/{id}/arbitrate", votes.ArbitrateHandler(env)).Methods(http.MethodPost)

	v0.HandleFunc("/lifecycle/advance", votes.AdvanceLifecycleHandler(env)).Methods(http.MethodPost)

	v0.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	limited := middleware.RateLimit(env.Cfg.Server.RateLimitRPS, env.Cfg.Server.RateLimitBurst)(r)
	return cors.Default().Handler(limited)
}
