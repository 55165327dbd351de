package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Membership roles. The role is a capability carried with each request;
// spectators can watch but never trade or vote.
const (
	RoleAdmin       = "admin"
	RoleParticipant = "participant"
	RoleSpectator   = "spectator"
)

// Room holds the trading policy every market in it inherits. Room CRUD
// itself (invites, membership management) is an external collaborator; the
// engine only reads these limits.
type Room struct {
	ID   string `json:"id" gorm:"primaryKey;size:36"`
	Name string `json:"name" gorm:"not null;size:80"`

	MinBet                float64 `json:"minBet" gorm:"not null;default:10"`
	MaxBet                float64 `json:"maxBet" gorm:"not null;default:500"`
	DefaultLiquidityB     float64 `json:"defaultLiquidityB" gorm:"not null;default:100"`
	ResolutionWindowHours int     `json:"resolutionWindowHours" gorm:"not null;default:24"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (r *Room) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// ResolutionWindow converts the configured hours into a duration.
func (r *Room) ResolutionWindow() time.Duration {
	return time.Duration(r.ResolutionWindowHours) * time.Hour
}

// Membership ties a user to a room with a role.
type Membership struct {
	ID     string `json:"id" gorm:"primaryKey;size:36"`
	RoomID string `json:"roomId" gorm:"not null;size:36;uniqueIndex:idx_membership_room_user,priority:1"`
	UserID string `json:"userId" gorm:"not null;size:36;uniqueIndex:idx_membership_room_user,priority:2"`
	Role   string `json:"role" gorm:"not null;default:participant"`

	CreatedAt time.Time `json:"createdAt"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (m *Membership) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// CanWager reports whether this membership may trade and vote.
func (m *Membership) CanWager() bool {
	return m.Role == RoleAdmin || m.Role == RoleParticipant
}
