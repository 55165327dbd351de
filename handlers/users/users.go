// Package users covers account bootstrap: registration and login. Session
// management beyond token issuance is an external collaborator.
package users

import (
	"encoding/json"
	"net/http"

	"cloutcast/handlers"
	"cloutcast/middleware"
	"cloutcast/models"

	"golang.org/x/crypto/bcrypt"
)

// RegisterRequest creates an account with the configured starting balance
// and clout.
type RegisterRequest struct {
	DisplayName string `json:"displayName" validate:"required,min=1,max=50"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
}

// RegisterHandler handles POST /v0/users/register.
func RegisterHandler(env *handlers.Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handlers.WriteBadRequest(w, "invalid request body")
			return
		}
		if err := handlers.Validate.Struct(req); err != nil {
			handlers.WriteBadRequest(w, err.Error())
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			http.Error(w, "failed to hash password", http.StatusInternalServerError)
			return
		}

		user := models.User{
			DisplayName:  req.DisplayName,
			Email:        req.Email,
			PasswordHash: string(hash),
			CloutScore:   env.Cfg.Economics.InitialClout,
			CloutRank:    models.RankForScore(env.Cfg.Economics.InitialClout),
			Balance:      env.Cfg.Economics.InitialBalance,
		}
		if err := env.DB.Create(&user).Error; err != nil {
			handlers.WriteBadRequest(w, "email already registered")
			return
		}

		token, err := middleware.IssueToken(env.Cfg.JWTSecret, user.ID)
		if err != nil {
			http.Error(w, "failed to issue token", http.StatusInternalServerError)
			return
		}

		handlers.WriteJSON(w, http.StatusCreated, map[string]interface{}{
			"user":  user,
			"token": token,
		})
	}
}

// LoginRequest authenticates an existing account.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginHandler handles POST /v0/users/login.
func LoginHandler(env *handlers.Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handlers.WriteBadRequest(w, "invalid request body")
			return
		}
		if err := handlers.Validate.Struct(req); err != nil {
			handlers.WriteBadRequest(w, err.Error())
			return
		}

		var user models.User
		if err := env.DB.Where("email = ?", req.Email).First(&user).Error; err != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		token, err := middleware.IssueToken(env.Cfg.JWTSecret, user.ID)
		if err != nil {
			http.Error(w, "failed to issue token", http.StatusInternalServerError)
			return
		}

		handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"user":  user,
			"token": token,
		})
	}
}
