// Package resolution drives a market from voting through tally, dispute
// escalation, payout distribution, and rating updates. All transitions for
// one market run under that market's ledger lock; deadlines are checked by
// an external scheduler calling the idempotent AdvanceLifecycle entry
// points, so a crash and restart of the host cannot lose a transition.
package resolution

import (
	"time"

	"cloutcast/clout"
	engerr "cloutcast/errors"
	"cloutcast/handlers/math/payout"
	"cloutcast/ledger"
	"cloutcast/metrics"
	"cloutcast/middleware"
	"cloutcast/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Coordinator is the per-market resolution state machine.
type Coordinator struct {
	db            *gorm.DB
	log           *logrus.Logger
	ledger        *ledger.Ledger
	ratings       *clout.Updater
	supermajority float64
}

// New builds a coordinator. supermajority is the vote share one side needs
// to resolve without arbitration (0.75 in the default economy).
func New(db *gorm.DB, log *logrus.Logger, led *ledger.Ledger, ratings *clout.Updater, supermajority float64) *Coordinator {
	if supermajority <= 0.5 || supermajority > 1 {
		supermajority = 0.75
	}
	return &Coordinator{db: db, log: log, ledger: led, ratings: ratings, supermajority: supermajority}
}

// CastVote records one participant's ballot. Spectators are refused, and
// the unique (market, participant) index backs the duplicate check against
// races the pre-read misses.
func (c *Coordinator) CastVote(marketID, userID, choice string) (*models.VoteSummary, error) {
	if !models.ValidSide(choice) {
		return nil, engerr.Wrap(engerr.ErrInvalidInput, "vote must be yes or no")
	}

	var summary *models.VoteSummary
	err := c.ledger.WithLock(marketID, func() error {
		market, err := c.loadMarket(marketID)
		if err != nil {
			return err
		}
		if market.Status != models.StatusVoting {
			return engerr.Wrap(engerr.ErrInvalidState, "market %s is %s, not voting", marketID, market.Status)
		}

		role, err := middleware.RoleInRoom(c.db, userID, market.RoomID)
		if err != nil {
			return engerr.Wrap(engerr.ErrInternal, "load membership: %v", err)
		}
		if role == models.RoleSpectator {
			return engerr.Wrap(engerr.ErrForbidden, "spectators cannot vote")
		}

		var existing models.ResolutionVote
		if err := c.db.Where("market_id = ? AND user_id = ?", marketID, userID).
			First(&existing).Error; err == nil {
			return engerr.Wrap(engerr.ErrDuplicateVote, "user %s already voted on %s", userID, marketID)
		}

		vote := models.ResolutionVote{
			MarketID:  marketID,
			UserID:    userID,
			Vote:      choice,
			CreatedAt: time.Now(),
		}
		if err := c.db.Create(&vote).Error; err != nil {
			return engerr.Wrap(engerr.ErrInternal, "persist vote: %v", err)
		}
		metrics.VotesCast.Inc()

		summary, err = c.voteSummary(marketID, userID)
		return err
	})
	return summary, err
}

// VoteSummary exposes aggregate counts plus the caller's own ballot.
// Individual ballots stay private until the deadline.
func (c *Coordinator) VoteSummary(marketID, userID string) (*models.VoteSummary, error) {
	if _, err := c.loadMarket(marketID); err != nil {
		return nil, err
	}
	return c.voteSummary(marketID, userID)
}

func (c *Coordinator) voteSummary(marketID, userID string) (*models.VoteSummary, error) {
	type row struct {
		Vote  string
		Count int64
	}
	var rows []row
	if err := c.db.Model(&models.ResolutionVote{}).
		Select("vote, COUNT(*) AS count").
		Where("market_id = ?", marketID).
		Group("vote").Scan(&rows).Error; err != nil {
		return nil, engerr.Wrap(engerr.ErrInternal, "tally votes: %v", err)
	}

	summary := &models.VoteSummary{MarketID: marketID}
	for _, r := range rows {
		switch r.Vote {
		case models.SideYes:
			summary.YesVotes = r.Count
		case models.SideNo:
			summary.NoVotes = r.Count
		}
	}
	summary.TotalVotes = summary.YesVotes + summary.NoVotes

	if userID != "" {
		var mine models.ResolutionVote
		if err := c.db.Where("market_id = ? AND user_id = ?", marketID, userID).
			First(&mine).Error; err == nil {
			summary.HasVoted = true
			summary.MyVote = mine.Vote
		}
	}
	return summary, nil
}

// AdvanceLifecycle is the scheduler tick: closes every active market whose
// trading window elapsed and tallies every voting market past its deadline.
// Safe to call repeatedly; each pass only moves markets that are due.
func (c *Coordinator) AdvanceLifecycle() (int, error) {
	now := time.Now()
	advanced := 0

	var due []models.Market
	if err := c.db.Where("status = ? AND expires_at <= ?", models.StatusActive, now).
		Find(&due).Error; err != nil {
		return 0, engerr.Wrap(engerr.ErrInternal, "scan active markets: %v", err)
	}
	for i := range due {
		window := c.resolutionWindow(due[i].RoomID)
		closed, err := c.ledger.CloseForTrading(due[i].ID, window)
		if err != nil {
			c.log.WithError(err).WithField("market_id", due[i].ID).Error("close for trading failed")
			continue
		}
		if closed {
			advanced++
		}
	}

	var voting []models.Market
	if err := c.db.Where("status = ? AND voting_deadline <= ?", models.StatusVoting, now).
		Find(&voting).Error; err != nil {
		return advanced, engerr.Wrap(engerr.ErrInternal, "scan voting markets: %v", err)
	}
	for i := range voting {
		if err := c.Tally(voting[i].ID); err != nil {
			c.log.WithError(err).WithField("market_id", voting[i].ID).Error("tally failed")
			continue
		}
		advanced++
	}

	// Resolution commits first, then ratings and child activation. A crash
	// between the two leaves the market resolved with ratings pending or
	// children stuck, so each tick re-drives that tail until it lands.
	pendingChildren := c.db.Model(&models.Market{}).
		Select("parent_market_id").Where("status = ?", models.StatusPending)
	var unsettled []models.Market
	if err := c.db.Where("status = ? AND (ratings_applied = ? OR id IN (?))",
		models.StatusResolved, false, pendingChildren).
		Find(&unsettled).Error; err != nil {
		return advanced, engerr.Wrap(engerr.ErrInternal, "scan unsettled markets: %v", err)
	}
	for i := range unsettled {
		if err := c.settle(unsettled[i].ID); err != nil {
			c.log.WithError(err).WithField("market_id", unsettled[i].ID).Error("settlement retry failed")
			continue
		}
		advanced++
	}

	return advanced, nil
}

// settle re-runs the post-resolution tail for a resolved market: rating
// updates (no-op once ratings_applied is set) and chained-child activation
// (no-op once no pending children remain).
func (c *Coordinator) settle(marketID string) error {
	return c.ledger.WithLock(marketID, func() error {
		market, err := c.loadMarket(marketID)
		if err != nil {
			return err
		}
		if market.Status != models.StatusResolved {
			return nil
		}
		if err := c.ratings.ApplyForMarket(market.ID, market.ResolutionResult); err != nil {
			return err
		}
		return c.activateChildren(market, market.ResolutionResult)
	})
}

// Tally counts the ballots for a voting market. A supermajority on either
// side resolves it by community vote; anything else, including zero votes,
// escalates to arbitration so the market can never stall unresolved.
func (c *Coordinator) Tally(marketID string) error {
	return c.ledger.WithLock(marketID, func() error {
		market, err := c.loadMarket(marketID)
		if err != nil {
			return err
		}
		if market.Status != models.StatusVoting {
			return engerr.Wrap(engerr.ErrInvalidState, "market %s is %s, not voting", marketID, market.Status)
		}

		summary, err := c.voteSummary(marketID, "")
		if err != nil {
			return err
		}

		outcome := ""
		if summary.TotalVotes > 0 {
			yesShare := float64(summary.YesVotes) / float64(summary.TotalVotes)
			noShare := float64(summary.NoVotes) / float64(summary.TotalVotes)
			switch {
			case yesShare >= c.supermajority:
				outcome = models.SideYes
			case noShare >= c.supermajority:
				outcome = models.SideNo
			}
		}

		if outcome == "" {
			market.Status = models.StatusDisputed
			if err := c.db.Save(market).Error; err != nil {
				return engerr.Wrap(engerr.ErrInternal, "persist dispute: %v", err)
			}
			metrics.MarketsDisputed.Inc()
			c.log.WithFields(logrus.Fields{
				"market_id":   marketID,
				"yes_votes":   summary.YesVotes,
				"no_votes":    summary.NoVotes,
				"total_votes": summary.TotalVotes,
			}).Info("no supermajority, market disputed")
			return nil
		}

		return c.resolveLocked(market, outcome, models.MethodCommunity, "")
	})
}

// Arbitrate applies a binding external ruling to a disputed market.
func (c *Coordinator) Arbitrate(marketID, ruling, reasoning string) error {
	if !models.ValidSide(ruling) {
		return engerr.Wrap(engerr.ErrInvalidInput, "ruling must be yes or no")
	}
	return c.ledger.WithLock(marketID, func() error {
		market, err := c.loadMarket(marketID)
		if err != nil {
			return err
		}
		if market.Status == models.StatusResolved {
			return engerr.Wrap(engerr.ErrAlreadyResolved, "market %s", marketID)
		}
		if market.Status != models.StatusDisputed {
			return engerr.Wrap(engerr.ErrInvalidState, "market %s is %s, not disputed", marketID, market.Status)
		}
		return c.resolveLocked(market, ruling, models.MethodArbitrated, reasoning)
	})
}

// resolveLocked finalizes the market: status, payouts, ratings, and child
// activation. Payouts are computed once from the immutable trade log and
// committed with the status flip in one transaction; a second call sees the
// resolved status and fails with AlreadyResolved before touching balances.
//
// Caller must hold the market lock.
func (c *Coordinator) resolveLocked(market *models.Market, outcome, method, note string) error {
	if market.Status == models.StatusResolved {
		return engerr.Wrap(engerr.ErrAlreadyResolved, "market %s", market.ID)
	}

	var trades []models.Trade
	if err := c.db.Where("market_id = ?", market.ID).Order("seq").Find(&trades).Error; err != nil {
		return engerr.Wrap(engerr.ErrInternal, "load trades: %v", err)
	}

	dist := payout.Distribute(trades, outcome, market.TotalStaked)

	now := time.Now()
	market.Status = models.StatusResolved
	market.ResolutionResult = outcome
	market.ResolutionMethod = method
	market.ArbitrationNote = note
	market.PayoutPolicy = dist.Policy
	market.ResolvedAt = &now

	tx := c.db.Begin()
	if err := tx.Save(market).Error; err != nil {
		tx.Rollback()
		return engerr.Wrap(engerr.ErrInternal, "persist resolution: %v", err)
	}
	total := 0.0
	for _, w := range dist.Winners {
		record := models.Payout{
			MarketID:  market.ID,
			UserID:    w.UserID,
			Side:      w.Side,
			Shares:    w.Shares,
			Amount:    w.Amount,
			CreatedAt: now,
		}
		if err := tx.Create(&record).Error; err != nil {
			tx.Rollback()
			return engerr.Wrap(engerr.ErrInternal, "persist payout: %v", err)
		}
		if err := tx.Model(&models.User{}).Where("id = ?", w.UserID).
			Update("balance", gorm.Expr("balance + ?", w.Amount)).Error; err != nil {
			tx.Rollback()
			return engerr.Wrap(engerr.ErrInternal, "credit payout: %v", err)
		}
		total += w.Amount
	}
	if err := tx.Commit().Error; err != nil {
		return engerr.Wrap(engerr.ErrInternal, "commit resolution: %v", err)
	}

	metrics.MarketsResolved.WithLabelValues(method).Inc()
	metrics.PayoutsDistributed.Add(total)

	c.log.WithFields(logrus.Fields{
		"market_id": market.ID,
		"outcome":   outcome,
		"method":    method,
		"policy":    dist.Policy,
		"winners":   len(dist.Winners),
		"paid_out":  total,
	}).Info("market resolved")

	if err := c.ratings.ApplyForMarket(market.ID, outcome); err != nil {
		return err
	}

	return c.activateChildren(market, outcome)
}

// activateChildren wakes pending chained markets whose trigger matched the
// parent outcome and cancels the rest (refunds are trivially empty, pending
// markets cannot trade).
func (c *Coordinator) activateChildren(parent *models.Market, outcome string) error {
	var children []models.Market
	if err := c.db.Where("parent_market_id = ? AND status = ?", parent.ID, models.StatusPending).
		Find(&children).Error; err != nil {
		return engerr.Wrap(engerr.ErrInternal, "load children: %v", err)
	}

	matched := models.TriggerParentYes
	if outcome == models.SideNo {
		matched = models.TriggerParentNo
	}

	for i := range children {
		child := &children[i]
		if child.TriggerCondition == matched {
			child.Status = models.StatusActive
			// A child that waited past its own window gets the parent's
			// room resolution window to trade in.
			if !child.ExpiresAt.After(time.Now()) {
				child.ExpiresAt = time.Now().Add(c.resolutionWindow(child.RoomID))
			}
			if err := c.db.Save(child).Error; err != nil {
				return engerr.Wrap(engerr.ErrInternal, "activate child %s: %v", child.ID, err)
			}
			c.log.WithFields(logrus.Fields{
				"market_id": child.ID,
				"parent_id": parent.ID,
			}).Info("chained market activated")
		} else {
			if err := c.ledger.Cancel(child.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Coordinator) resolutionWindow(roomID string) time.Duration {
	var room models.Room
	if err := c.db.Where("id = ?", roomID).First(&room).Error; err != nil {
		return 24 * time.Hour
	}
	return room.ResolutionWindow()
}

func (c *Coordinator) loadMarket(marketID string) (*models.Market, error) {
	var market models.Market
	result := c.db.Where("id = ?", marketID).First(&market)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, engerr.Wrap(engerr.ErrNotFound, "market %s", marketID)
		}
		return nil, engerr.Wrap(engerr.ErrInternal, "load market: %v", result.Error)
	}
	return &market, nil
}
