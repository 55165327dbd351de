package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloutcast/models"

	"github.com/golang-jwt/jwt/v4"
	"gorm.io/gorm"
)

// HTTPError carries a status code alongside the user-facing message.
type HTTPError struct {
	StatusCode int
	Message    string
}

// Claims is the JWT payload: just the user id. Room roles live in the
// memberships table and are looked up per request, so a role change takes
// effect without re-issuing tokens.
type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// IssueToken signs a 24h token for the given user.
func IssueToken(secret, userID string) (string, error) {
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateTokenAndGetUser authenticates the request and loads the user.
func ValidateTokenAndGetUser(r *http.Request, db *gorm.DB, secret string) (*models.User, *HTTPError) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Bearer token required",
		}
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Invalid or expired token",
		}
	}

	var user models.User
	result := db.Where("id = ?", claims.UserID).First(&user)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, &HTTPError{
				StatusCode: http.StatusUnauthorized,
				Message:    "Unknown user",
			}
		}
		return nil, &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Database error validating user",
		}
	}

	return &user, nil
}

// RoleInRoom returns the user's membership role in a room, or the spectator
// role when no membership exists (non-members may watch, nothing else).
func RoleInRoom(db *gorm.DB, userID, roomID string) (string, error) {
	var membership models.Membership
	result := db.Where("user_id = ? AND room_id = ?", userID, roomID).First(&membership)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return models.RoleSpectator, nil
		}
		return "", result.Error
	}
	return membership.Role, nil
}
