// Package payout computes settlement amounts for a resolved market from its
// immutable trade log. It is pure arithmetic; committing the results is the
// resolution coordinator's job.
package payout

import (
	"sort"

	"cloutcast/models"
)

// Share is one participant's cut of the total pool.
type Share struct {
	UserID string
	Side   string
	Shares float64
	Amount float64
}

// Distribution is the full settlement plan for one market.
type Distribution struct {
	Policy  string
	Winners []Share
	// WinningPool is the total shares issued on the winning side.
	WinningPool float64
}

// Distribute splits totalPool across winning-side participants in proportion
// to their share of the winning pool. Losing positions receive nothing.
//
// If nobody traded at all the policy is "none". If the winning pool is empty
// (only possible when arbitration ruled against every bettor) the pool is
// forfeited: no payouts, stakes are kept.
func Distribute(trades []models.Trade, outcome string, totalPool float64) Distribution {
	if len(trades) == 0 {
		return Distribution{Policy: models.PayoutNone}
	}

	byUser := models.FoldPositions(trades)

	winningPool := 0.0
	for _, sides := range byUser {
		if pos, ok := sides[outcome]; ok {
			winningPool += pos.Shares
		}
	}

	if winningPool <= 0 {
		return Distribution{Policy: models.PayoutForfeited}
	}

	winners := make([]Share, 0, len(byUser))
	for userID, sides := range byUser {
		pos, ok := sides[outcome]
		if !ok || pos.Shares <= 0 {
			continue
		}
		winners = append(winners, Share{
			UserID: userID,
			Side:   outcome,
			Shares: pos.Shares,
			Amount: totalPool * (pos.Shares / winningPool),
		})
	}

	// Deterministic settlement order regardless of map iteration.
	sort.Slice(winners, func(i, j int) bool { return winners[i].UserID < winners[j].UserID })

	return Distribution{
		Policy:      models.PayoutDistributed,
		Winners:     winners,
		WinningPool: winningPool,
	}
}

// Refunds returns every participant's total stake, used on cancellation.
func Refunds(trades []models.Trade) []Share {
	staked := make(map[string]float64)
	for _, tr := range trades {
		staked[tr.UserID] += tr.Amount
	}

	refunds := make([]Share, 0, len(staked))
	for userID, amount := range staked {
		refunds = append(refunds, Share{UserID: userID, Amount: amount})
	}
	sort.Slice(refunds, func(i, j int) bool { return refunds[i].UserID < refunds[j].UserID })
	return refunds
}
