package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Trade sides.
const (
	SideYes = "yes"
	SideNo  = "no"
)

// ValidSide reports whether s is a tradeable side.
func ValidSide(s string) bool {
	return s == SideYes || s == SideNo
}

// Trade is an immutable, append-only record of one stake. Seq is a
// per-market monotonic sequence number; together with CreatedAt it gives
// deterministic replay ordering for the trade log.
type Trade struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"`
	MarketID string `json:"marketId" gorm:"not null;index;size:36;uniqueIndex:idx_trade_market_seq,priority:1"`
	UserID   string `json:"userId" gorm:"not null;index;size:36"`

	Side           string  `json:"side" gorm:"not null;size:3"`
	Amount         float64 `json:"amount" gorm:"not null"`
	SharesReceived float64 `json:"sharesReceived" gorm:"not null"`
	// PriceAtTrade snapshots the yes price immediately before this trade
	// was applied.
	PriceAtTrade float64 `json:"priceAtTrade" gorm:"not null"`
	Seq          int64   `json:"seq" gorm:"not null;uniqueIndex:idx_trade_market_seq,priority:2"`

	CreatedAt time.Time `json:"createdAt" gorm:"index"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (t *Trade) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// Position is a participant's net shares on one side of a market, folded
// from the trade log. It is derived state, never stored.
type Position struct {
	UserID string
	Side   string
	Shares float64
	Staked float64
}

// FoldPositions collapses a trade log into per-(user, side) positions.
// Trade order does not matter for the fold itself, but callers that care
// about price history must pass trades in seq order.
func FoldPositions(trades []Trade) map[string]map[string]*Position {
	byUser := make(map[string]map[string]*Position)
	for _, tr := range trades {
		sides, ok := byUser[tr.UserID]
		if !ok {
			sides = make(map[string]*Position)
			byUser[tr.UserID] = sides
		}
		pos, ok := sides[tr.Side]
		if !ok {
			pos = &Position{UserID: tr.UserID, Side: tr.Side}
			sides[tr.Side] = pos
		}
		pos.Shares += tr.SharesReceived
		pos.Staked += tr.Amount
	}
	return byUser
}
