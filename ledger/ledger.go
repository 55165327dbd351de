// Package ledger owns a market's mutable trading state: share pools, pool
// total, and lifecycle status. Every mutation of one market runs under that
// market's lock, so trades are applied strictly in acceptance order and the
// price a trader locks in reflects every trade accepted before theirs.
package ledger

import (
	"time"

	engerr "cloutcast/errors"
	"cloutcast/handlers/math/payout"
	"cloutcast/handlers/math/probabilities/lmsr"
	"cloutcast/metrics"
	"cloutcast/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Ledger applies trades and lifecycle transitions for all markets, one lock
// per market id.
type Ledger struct {
	db    *gorm.DB
	log   *logrus.Logger
	locks *lockRegistry
}

// New builds a ledger over the given store.
func New(db *gorm.DB, log *logrus.Logger) *Ledger {
	return &Ledger{db: db, log: log, locks: newLockRegistry()}
}

// WithLock runs fn while holding the market's lock. The resolution
// coordinator uses it so lifecycle transitions and trades never interleave
// on the same market.
func (l *Ledger) WithLock(marketID string, fn func() error) error {
	lock := l.locks.forMarket(marketID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// TradeResult is what an accepted trade returns to the caller.
type TradeResult struct {
	Trade       models.Trade `json:"trade"`
	NewPriceYes float64      `json:"newPriceYes"`
	NewPriceNo  float64      `json:"newPriceNo"`
	NewBalance  float64      `json:"newBalance"`
}

// ApplyTrade prices amount against the current pool snapshot, then
// atomically increments the pool, bumps totalStaked, debits the buyer, and
// appends the trade record with the pre-trade price and the next sequence
// number. The durable write happens only after pricing succeeded, so a
// convergence fault leaves no partial state.
func (l *Ledger) ApplyTrade(marketID, userID, side string, amount float64) (*TradeResult, error) {
	var result *TradeResult
	err := l.WithLock(marketID, func() error {
		started := time.Now()

		market, err := l.loadMarket(marketID)
		if err != nil {
			return err
		}
		if market.Status != models.StatusActive {
			metrics.TradesRejected.WithLabelValues("invalid_state").Inc()
			return engerr.Wrap(engerr.ErrInvalidState, "market %s is %s, not active", marketID, market.Status)
		}
		if !models.ValidSide(side) {
			metrics.TradesRejected.WithLabelValues("invalid_input").Inc()
			return engerr.Wrap(engerr.ErrInvalidInput, "side must be yes or no")
		}

		var room models.Room
		if err := l.db.Where("id = ?", market.RoomID).First(&room).Error; err != nil {
			return engerr.Wrap(engerr.ErrNotFound, "room %s", market.RoomID)
		}
		if amount <= 0 || amount < room.MinBet || amount > room.MaxBet {
			metrics.TradesRejected.WithLabelValues("invalid_amount").Inc()
			return engerr.Wrap(engerr.ErrInvalidAmount, "amount %.2f outside [%.2f, %.2f]", amount, room.MinBet, room.MaxBet)
		}

		// Pre-read is advisory: the authoritative balance check is the
		// conditional debit below, because a resolution of another market
		// may credit this user concurrently.
		var user models.User
		if err := l.db.Where("id = ?", userID).First(&user).Error; err != nil {
			return engerr.Wrap(engerr.ErrNotFound, "user %s", userID)
		}
		if user.Balance < amount {
			metrics.TradesRejected.WithLabelValues("insufficient_balance").Inc()
			return engerr.Wrap(engerr.ErrInsufficientBalance, "balance %.2f < stake %.2f", user.Balance, amount)
		}

		maker := lmsr.New(market.LiquidityB)
		priceBefore := maker.PriceYes(market.PoolYes, market.PoolNo)
		shares, err := maker.SharesForAmount(market.PoolYes, market.PoolNo, side, amount)
		if err != nil {
			metrics.TradesRejected.WithLabelValues("internal").Inc()
			l.log.WithFields(logrus.Fields{
				"market_id": marketID,
				"side":      side,
				"amount":    amount,
			}).WithError(err).Error("share pricing did not converge")
			return engerr.Wrap(engerr.ErrInternal, "trade pricing failed")
		}

		if side == models.SideYes {
			market.PoolYes += shares
		} else {
			market.PoolNo += shares
		}
		market.TotalStaked += amount
		market.PriceYes = maker.PriceYes(market.PoolYes, market.PoolNo)

		trade := models.Trade{
			MarketID:       marketID,
			UserID:         userID,
			Side:           side,
			Amount:         amount,
			SharesReceived: shares,
			PriceAtTrade:   priceBefore,
			Seq:            l.nextSeq(marketID),
			CreatedAt:      time.Now(),
		}

		tx := l.db.Begin()
		if err := tx.Save(market).Error; err != nil {
			tx.Rollback()
			return engerr.Wrap(engerr.ErrInternal, "persist market: %v", err)
		}
		if err := tx.Create(&trade).Error; err != nil {
			tx.Rollback()
			return engerr.Wrap(engerr.ErrInternal, "persist trade: %v", err)
		}

		// Single-column increments so a concurrent payout credit from
		// another market's resolution is never overwritten. The WHERE
		// clause re-checks the balance against races the pre-read missed.
		debit := tx.Model(&models.User{}).
			Where("id = ? AND balance >= ?", userID, amount).
			Updates(map[string]interface{}{
				"balance":    gorm.Expr("balance - ?", amount),
				"total_bets": gorm.Expr("total_bets + 1"),
			})
		if debit.Error != nil {
			tx.Rollback()
			return engerr.Wrap(engerr.ErrInternal, "debit balance: %v", debit.Error)
		}
		if debit.RowsAffected == 0 {
			tx.Rollback()
			metrics.TradesRejected.WithLabelValues("insufficient_balance").Inc()
			return engerr.Wrap(engerr.ErrInsufficientBalance, "stake %.2f no longer covered", amount)
		}

		var newBalance float64
		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			Select("balance").Scan(&newBalance).Error; err != nil {
			tx.Rollback()
			return engerr.Wrap(engerr.ErrInternal, "read balance: %v", err)
		}
		if err := tx.Commit().Error; err != nil {
			return engerr.Wrap(engerr.ErrInternal, "commit trade: %v", err)
		}

		metrics.TradesExecuted.WithLabelValues(side).Inc()
		metrics.TradeDuration.Observe(time.Since(started).Seconds())

		l.log.WithFields(logrus.Fields{
			"market_id": marketID,
			"user_id":   userID,
			"side":      side,
			"amount":    amount,
			"shares":    shares,
			"seq":       trade.Seq,
			"price_yes": market.PriceYes,
		}).Info("trade applied")

		result = &TradeResult{
			Trade:       trade,
			NewPriceYes: market.PriceYes,
			NewPriceNo:  market.PriceNo(),
			NewBalance:  newBalance,
		}
		return nil
	})
	return result, err
}

// CloseForTrading moves an active market into voting once its trading
// window has elapsed, stamping the voting deadline. Calling it on a market
// already past active is a no-op; calling it early reports false.
func (l *Ledger) CloseForTrading(marketID string, window time.Duration) (bool, error) {
	closed := false
	err := l.WithLock(marketID, func() error {
		market, err := l.loadMarket(marketID)
		if err != nil {
			return err
		}
		if market.Status != models.StatusActive {
			return nil // already transitioned
		}
		now := time.Now()
		if now.Before(market.ExpiresAt) {
			return nil
		}

		deadline := now.Add(window)
		market.Status = models.StatusVoting
		market.VotingDeadline = &deadline
		if err := l.db.Save(market).Error; err != nil {
			return engerr.Wrap(engerr.ErrInternal, "persist voting transition: %v", err)
		}

		l.log.WithFields(logrus.Fields{
			"market_id":       marketID,
			"voting_deadline": deadline,
		}).Info("market closed for trading")
		closed = true
		return nil
	})
	return closed, err
}

// Cancel terminates a non-resolved market and refunds every stake. Used for
// admin overrides and for chained children whose trigger never fired.
func (l *Ledger) Cancel(marketID string) error {
	return l.WithLock(marketID, func() error {
		market, err := l.loadMarket(marketID)
		if err != nil {
			return err
		}
		if market.Terminal() {
			return engerr.Wrap(engerr.ErrInvalidState, "market %s is already %s", marketID, market.Status)
		}

		var trades []models.Trade
		if err := l.db.Where("market_id = ?", marketID).Find(&trades).Error; err != nil {
			return engerr.Wrap(engerr.ErrInternal, "load trades: %v", err)
		}

		refunds := payout.Refunds(trades)

		now := time.Now()
		market.Status = models.StatusCancelled
		market.PayoutPolicy = models.PayoutRefunded
		market.ResolvedAt = &now

		tx := l.db.Begin()
		if err := tx.Save(market).Error; err != nil {
			tx.Rollback()
			return engerr.Wrap(engerr.ErrInternal, "persist cancellation: %v", err)
		}
		for _, refund := range refunds {
			if err := tx.Model(&models.User{}).Where("id = ?", refund.UserID).
				Update("balance", gorm.Expr("balance + ?", refund.Amount)).Error; err != nil {
				tx.Rollback()
				return engerr.Wrap(engerr.ErrInternal, "refund %s: %v", refund.UserID, err)
			}
		}
		if err := tx.Commit().Error; err != nil {
			return engerr.Wrap(engerr.ErrInternal, "commit cancellation: %v", err)
		}

		l.log.WithFields(logrus.Fields{
			"market_id": marketID,
			"refunds":   len(refunds),
		}).Info("market cancelled, stakes refunded")
		return nil
	})
}

// Snapshot is the immutable final pool view handed to the resolution
// coordinator. Taking it while the market still trades is a caller bug.
type Snapshot struct {
	State       lmsr.State
	TotalStaked float64
}

// Snapshot returns final pools and prices once the market has left active.
func (l *Ledger) Snapshot(marketID string) (*Snapshot, error) {
	market, err := l.loadMarket(marketID)
	if err != nil {
		return nil, err
	}
	if market.Status == models.StatusActive {
		return nil, engerr.Wrap(engerr.ErrInvalidState, "market %s is still trading", marketID)
	}
	maker := lmsr.New(market.LiquidityB)
	return &Snapshot{
		State:       maker.StateOf(market.PoolYes, market.PoolNo),
		TotalStaked: market.TotalStaked,
	}, nil
}

func (l *Ledger) loadMarket(marketID string) (*models.Market, error) {
	var market models.Market
	result := l.db.Where("id = ?", marketID).First(&market)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, engerr.Wrap(engerr.ErrNotFound, "market %s", marketID)
		}
		return nil, engerr.Wrap(engerr.ErrInternal, "load market: %v", result.Error)
	}
	return &market, nil
}

// nextSeq allocates the next per-market sequence number. Safe because the
// caller holds the market lock.
func (l *Ledger) nextSeq(marketID string) int64 {
	var max int64
	l.db.Model(&models.Trade{}).Where("market_id = ?", marketID).
		Select("COALESCE(MAX(seq), 0)").Scan(&max)
	return max + 1
}
