package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ResolutionVote is one participant's ballot on a market outcome. The unique
// index enforces at most one vote per (market, participant); individual
// ballots stay private until the voting deadline, only aggregates are exposed.
type ResolutionVote struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"`
	MarketID string `json:"marketId" gorm:"not null;size:36;uniqueIndex:idx_vote_market_user,priority:1"`
	UserID   string `json:"userId" gorm:"not null;size:36;uniqueIndex:idx_vote_market_user,priority:2"`

	Vote string `json:"vote" gorm:"not null;size:3"`

	// BondAmount is reserved for bonded voting in cash rooms; always zero
	// in virtual-currency rooms.
	BondAmount float64 `json:"bondAmount" gorm:"default:0"`

	CreatedAt time.Time `json:"createdAt"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (v *ResolutionVote) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return nil
}

// VoteSummary is the aggregate exposed before the voting deadline.
type VoteSummary struct {
	MarketID   string `json:"marketId"`
	YesVotes   int64  `json:"yesVotes"`
	NoVotes    int64  `json:"noVotes"`
	TotalVotes int64  `json:"totalVotes"`
	HasVoted   bool   `json:"hasVoted"`
	MyVote     string `json:"myVote,omitempty"`
}
