package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Payout policies stamped on a resolved market.
const (
	PayoutDistributed = "distributed"
	PayoutForfeited   = "forfeited" // winning pool empty, stakes kept
	PayoutRefunded    = "refunded"  // cancellation path
	PayoutNone        = "none"      // no trades existed
)

// Payout records one participant's settlement for one market. The unique
// (market, user) index backs the exactly-once distribution guarantee; the
// cash collaborator consumes these rows as settlement instructions.
type Payout struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"`
	MarketID string `json:"marketId" gorm:"not null;size:36;uniqueIndex:idx_payout_market_user,priority:1"`
	UserID   string `json:"userId" gorm:"not null;size:36;uniqueIndex:idx_payout_market_user,priority:2"`

	Side   string  `json:"side" gorm:"not null;size:3"`
	Shares float64 `json:"shares" gorm:"not null"`
	Amount float64 `json:"amount" gorm:"not null"`

	CreatedAt time.Time `json:"createdAt"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (p *Payout) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
