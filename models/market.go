package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Market lifecycle states. Transitions are one-directional; resolved and
// cancelled are terminal.
const (
	StatusPending   = "pending" // chained child waiting on its parent
	StatusActive    = "active"
	StatusVoting    = "voting"
	StatusDisputed  = "disputed"
	StatusResolved  = "resolved"
	StatusCancelled = "cancelled"
)

// Resolution methods recorded on a resolved market.
const (
	MethodCommunity  = "community"
	MethodArbitrated = "arbitrated"
)

// Trigger conditions for chained markets.
const (
	TriggerParentYes = "parent_resolves_yes"
	TriggerParentNo  = "parent_resolves_no"
)

// MaxChainDepth limits chained markets to root -> child.
const MaxChainDepth = 2

// Market is a single yes/no wager priced by the LMSR market maker.
// Rows are never deleted; resolved markets are retained for audit and
// rating recomputation.
type Market struct {
	ID     string `json:"id" gorm:"primaryKey;size:36"`
	RoomID string `json:"roomId" gorm:"not null;index;size:36"`

	Question        string `json:"question" gorm:"not null"`
	Description     string `json:"description"`
	DescriptionHTML string `json:"descriptionHtml"`
	CreatorID       string `json:"creatorId" gorm:"size:36"`

	// LMSR trading state. Pools only grow while the market is active and
	// TotalStaked is monotonically non-decreasing.
	PoolYes     float64 `json:"poolYes" gorm:"not null;default:0"`
	PoolNo      float64 `json:"poolNo" gorm:"not null;default:0"`
	LiquidityB  float64 `json:"liquidityB" gorm:"not null;default:100"`
	TotalStaked float64 `json:"totalStaked" gorm:"not null;default:0"`
	PriceYes    float64 `json:"priceYes" gorm:"not null;default:0.5"`

	Status           string `json:"status" gorm:"not null;default:active;index"`
	ResolutionResult string `json:"resolutionResult,omitempty"`
	ResolutionMethod string `json:"resolutionMethod,omitempty"`
	ArbitrationNote  string `json:"arbitrationNote,omitempty" gorm:"size:2000"`
	PayoutPolicy     string `json:"payoutPolicy,omitempty"`
	RatingsApplied   bool   `json:"ratingsApplied" gorm:"default:false"`

	// Chained market fields: a child is created pending and activates only
	// when the parent resolves matching the trigger condition.
	ParentMarketID   string `json:"parentMarketId,omitempty" gorm:"index;size:36"`
	TriggerCondition string `json:"triggerCondition,omitempty"`
	ChainDepth       int    `json:"chainDepth" gorm:"default:0"`

	ExpiresAt      time.Time  `json:"expiresAt" gorm:"not null"`
	VotingDeadline *time.Time `json:"votingDeadline,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (m *Market) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// PriceNo is derived; the database stores only the yes price.
func (m *Market) PriceNo() float64 {
	return 1.0 - m.PriceYes
}

// Terminal reports whether the market can never change state again.
func (m *Market) Terminal() bool {
	return m.Status == StatusResolved || m.Status == StatusCancelled
}
