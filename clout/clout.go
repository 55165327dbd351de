// Package clout recomputes participant skill ratings after a market
// resolves. The update is ELO-style: the rating moves by K times the gap
// between what happened and what the participant's own entry odds implied.
package clout

import (
	"sort"
	"sync"

	engerr "cloutcast/errors"
	"cloutcast/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultK is the rating step size when no configuration overrides it.
const DefaultK = 32.0

// Updater applies rating changes exactly once per resolved market.
type Updater struct {
	db  *gorm.DB
	log *logrus.Logger
	k   float64

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// New builds an updater with the given K factor.
func New(db *gorm.DB, log *logrus.Logger, k float64) *Updater {
	if k <= 0 {
		k = DefaultK
	}
	return &Updater{db: db, log: log, k: k, userLocks: make(map[string]*sync.Mutex)}
}

// lockUsers serializes rating writes per participant. Markets hold only
// their own lock, so two resolutions sharing a participant would otherwise
// race on the same user row. IDs are locked in sorted order so overlapping
// resolutions cannot deadlock.
func (u *Updater) lockUsers(ids []string) func() {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	locks := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		u.mu.Lock()
		lock, ok := u.userLocks[id]
		if !ok {
			lock = &sync.Mutex{}
			u.userLocks[id] = lock
		}
		u.mu.Unlock()
		lock.Lock()
		locks = append(locks, lock)
	}

	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// stake aggregates one participant's exposure on the market.
type stake struct {
	side         string
	shares       map[string]float64
	staked       map[string]float64
	oddsWeighted map[string]float64
}

// ApplyForMarket updates every trading participant's rating, win/loss
// counters, and streaks for the given outcome. Guarded by the market's
// ratings_applied flag: re-running after a retry is a no-op.
//
// Caller must hold the market lock.
func (u *Updater) ApplyForMarket(marketID, outcome string) error {
	var market models.Market
	if err := u.db.Where("id = ?", marketID).First(&market).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return engerr.Wrap(engerr.ErrNotFound, "market %s", marketID)
		}
		return engerr.Wrap(engerr.ErrInternal, "load market: %v", err)
	}
	if market.RatingsApplied {
		return nil
	}

	var trades []models.Trade
	if err := u.db.Where("market_id = ?", marketID).Order("seq").Find(&trades).Error; err != nil {
		return engerr.Wrap(engerr.ErrInternal, "load trades: %v", err)
	}

	stakes := foldStakes(trades)

	userIDs := make([]string, 0, len(stakes))
	for userID := range stakes {
		userIDs = append(userIDs, userID)
	}
	unlock := u.lockUsers(userIDs)
	defer unlock()

	tx := u.db.Begin()
	for _, userID := range userIDs {
		st := stakes[userID]

		var user models.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			tx.Rollback()
			return engerr.Wrap(engerr.ErrInternal, "load user %s: %v", userID, err)
		}

		expected := st.oddsWeighted[st.side] / st.staked[st.side]
		won := st.side == outcome
		actual := 0.0
		if won {
			actual = 1.0
		}

		score := user.CloutScore + u.k*(actual-expected)
		if score < 0 {
			score = 0
		}

		updates := map[string]interface{}{
			"clout_score": score,
			"clout_rank":  models.RankForScore(score),
		}
		if won {
			streak := user.StreakCurrent + 1
			updates["total_wins"] = gorm.Expr("total_wins + 1")
			updates["streak_current"] = streak
			if streak > user.StreakBest {
				updates["streak_best"] = streak
			}
		} else {
			updates["total_losses"] = gorm.Expr("total_losses + 1")
			updates["streak_current"] = 0
		}

		// Rating columns only; the balance column belongs to the ledger and
		// the payout path, which mutate it with atomic increments.
		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			Updates(updates).Error; err != nil {
			tx.Rollback()
			return engerr.Wrap(engerr.ErrInternal, "persist rating %s: %v", userID, err)
		}

		u.log.WithFields(logrus.Fields{
			"market_id": marketID,
			"user_id":   userID,
			"expected":  expected,
			"won":       won,
			"score":     score,
		}).Debug("clout updated")
	}

	if err := tx.Model(&models.Market{}).Where("id = ?", marketID).
		Update("ratings_applied", true).Error; err != nil {
		tx.Rollback()
		return engerr.Wrap(engerr.ErrInternal, "flag ratings applied: %v", err)
	}
	if err := tx.Commit().Error; err != nil {
		return engerr.Wrap(engerr.ErrInternal, "commit ratings: %v", err)
	}
	return nil
}

// foldStakes groups trades per participant and settles which side they
// "took": the side holding more of their shares (stake total breaks ties).
// The expected score is the volume-weighted mean probability of that side
// at their trade times.
func foldStakes(trades []models.Trade) map[string]*stake {
	stakes := make(map[string]*stake)
	for _, tr := range trades {
		st, ok := stakes[tr.UserID]
		if !ok {
			st = &stake{
				shares:       make(map[string]float64),
				staked:       make(map[string]float64),
				oddsWeighted: make(map[string]float64),
			}
			stakes[tr.UserID] = st
		}

		sideOdds := tr.PriceAtTrade
		if tr.Side == models.SideNo {
			sideOdds = 1.0 - tr.PriceAtTrade
		}
		st.shares[tr.Side] += tr.SharesReceived
		st.staked[tr.Side] += tr.Amount
		st.oddsWeighted[tr.Side] += tr.Amount * sideOdds
	}

	for _, st := range stakes {
		st.side = models.SideYes
		if st.shares[models.SideNo] > st.shares[models.SideYes] ||
			(st.shares[models.SideNo] == st.shares[models.SideYes] &&
				st.staked[models.SideNo] > st.staked[models.SideYes]) {
			st.side = models.SideNo
		}
	}
	return stakes
}
