package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Clout rank tiers, derived from the scalar score.
const (
	RankBronze  = "Bronze"
	RankSilver  = "Silver"
	RankGold    = "Gold"
	RankDiamond = "Diamond"
)

// User carries a participant's balance and rating record. The clout fields
// are mutated only by the rating updater after a market resolves.
type User struct {
	ID           string `json:"id" gorm:"primaryKey;size:36"`
	DisplayName  string `json:"displayName" gorm:"not null;size:50"`
	Email        string `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string `json:"-" gorm:"not null"`

	// Rating record.
	CloutScore    float64 `json:"cloutScore" gorm:"not null;default:1000"`
	CloutRank     string  `json:"cloutRank" gorm:"default:Silver"`
	TotalBets     int64   `json:"totalBets" gorm:"default:0"`
	TotalWins     int64   `json:"totalWins" gorm:"default:0"`
	TotalLosses   int64   `json:"totalLosses" gorm:"default:0"`
	StreakCurrent int64   `json:"streakCurrent" gorm:"default:0"`
	StreakBest    int64   `json:"streakBest" gorm:"default:0"`

	// Virtual coin balance; cash settlement is an external collaborator.
	Balance float64 `json:"balance" gorm:"not null;default:1000"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// RankForScore maps a clout score onto its display tier.
func RankForScore(score float64) string {
	switch {
	case score >= 1500:
		return RankDiamond
	case score >= 1200:
		return RankGold
	case score >= 800:
		return RankSilver
	default:
		return RankBronze
	}
}

// WinRate is the fraction of resolved bets this user won.
func (u *User) WinRate() float64 {
	resolved := u.TotalWins + u.TotalLosses
	if resolved == 0 {
		return 0
	}
	return float64(u.TotalWins) / float64(resolved)
}

// RatingRecord is the read-only view served to leaderboard collaborators.
type RatingRecord struct {
	UserID      string  `json:"userId"`
	DisplayName string  `json:"displayName"`
	Score       float64 `json:"score"`
	Rank        string  `json:"rank"`
	Wins        int64   `json:"wins"`
	Losses      int64   `json:"losses"`
	Streak      int64   `json:"streak"`
	BestStreak  int64   `json:"bestStreak"`
}

// ToRatingRecord projects the user onto its public rating view.
func (u *User) ToRatingRecord() RatingRecord {
	return RatingRecord{
		UserID:      u.ID,
		DisplayName: u.DisplayName,
		Score:       u.CloutScore,
		Rank:        u.CloutRank,
		Wins:        u.TotalWins,
		Losses:      u.TotalLosses,
		Streak:      u.StreakCurrent,
		BestStreak:  u.StreakBest,
	}
}
