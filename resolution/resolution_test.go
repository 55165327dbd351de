package resolution

import (
	"fmt"
	"testing"
	"time"

	"cloutcast/clout"
	engerr "cloutcast/errors"
	"cloutcast/ledger"
	"cloutcast/models"
	"cloutcast/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db          *gorm.DB
	ledger      *ledger.Ledger
	coordinator *Coordinator
	room        models.Room
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrate(db))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	room := models.Room{
		Name:                  "test room",
		MinBet:                10,
		MaxBet:                500,
		DefaultLiquidityB:     100,
		ResolutionWindowHours: 24,
	}
	require.NoError(t, db.Create(&room).Error)

	led := ledger.New(db, log)
	ratings := clout.New(db, log, 32)
	return &fixture{
		db:          db,
		ledger:      led,
		coordinator: New(db, log, led, ratings, 0.75),
		room:        room,
	}
}

func (f *fixture) newMember(t *testing.T, role string) models.User {
	t.Helper()
	user := models.User{
		DisplayName:  "member",
		Email:        fmt.Sprintf("member-%s@example.com", uuid.NewString()),
		PasswordHash: "x",
		CloutScore:   1000,
		Balance:      1000,
	}
	require.NoError(t, f.db.Create(&user).Error)
	m := models.Membership{RoomID: f.room.ID, UserID: user.ID, Role: role}
	require.NoError(t, f.db.Create(&m).Error)
	return user
}

func (f *fixture) newMarket(t *testing.T, status string) models.Market {
	t.Helper()
	deadline := time.Now().Add(24 * time.Hour)
	market := models.Market{
		RoomID:     f.room.ID,
		Question:   "will it resolve?",
		Status:     status,
		LiquidityB: 100,
		PriceYes:   0.5,
		ExpiresAt:  time.Now().Add(-time.Minute),
	}
	if status == models.StatusVoting {
		market.VotingDeadline = &deadline
	}
	require.NoError(t, f.db.Create(&market).Error)
	return market
}

func (f *fixture) reload(t *testing.T, id string) models.Market {
	t.Helper()
	var m models.Market
	require.NoError(t, f.db.Where("id = ?", id).First(&m).Error)
	return m
}

func (f *fixture) balance(t *testing.T, userID string) float64 {
	t.Helper()
	var u models.User
	require.NoError(t, f.db.Where("id = ?", userID).First(&u).Error)
	return u.Balance
}

func TestCastVote(t *testing.T) {
	f := newFixture(t)
	market := f.newMarket(t, models.StatusVoting)
	voter := f.newMember(t, models.RoleParticipant)

	summary, err := f.coordinator.CastVote(market.ID, voter.ID, models.SideYes)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.YesVotes)
	assert.Equal(t, int64(1), summary.TotalVotes)
	assert.True(t, summary.HasVoted)
	assert.Equal(t, models.SideYes, summary.MyVote)

	_, err = f.coordinator.CastVote(market.ID, voter.ID, models.SideNo)
	assert.True(t, engerr.Is(err, engerr.ErrDuplicateVote), "one ballot per participant")
}

func TestCastVoteRejectsWrongState(t *testing.T) {
	f := newFixture(t)
	voter := f.newMember(t, models.RoleParticipant)

	active := f.newMarket(t, models.StatusActive)
	_, err := f.coordinator.CastVote(active.ID, voter.ID, models.SideYes)
	assert.True(t, engerr.Is(err, engerr.ErrInvalidState))

	voting := f.newMarket(t, models.StatusVoting)
	_, err = f.coordinator.CastVote(voting.ID, voter.ID, "maybe")
	assert.True(t, engerr.Is(err, engerr.ErrInvalidInput), "bad choice is malformed input, not a state conflict")
}

func TestCastVoteRejectsSpectators(t *testing.T) {
	f := newFixture(t)
	market := f.newMarket(t, models.StatusVoting)

	spectator := f.newMember(t, models.RoleSpectator)
	_, err := f.coordinator.CastVote(market.ID, spectator.ID, models.SideYes)
	assert.True(t, engerr.Is(err, engerr.ErrForbidden))

	// No membership at all is treated as spectating.
	outsider := models.User{
		DisplayName:  "outsider",
		Email:        fmt.Sprintf("outsider-%s@example.com", uuid.NewString()),
		PasswordHash: "x",
		Balance:      1000,
	}
	require.NoError(t, f.db.Create(&outsider).Error)
	_, err = f.coordinator.CastVote(market.ID, outsider.ID, models.SideYes)
	assert.True(t, engerr.Is(err, engerr.ErrForbidden))
}

func TestTallyZeroVotesDisputes(t *testing.T) {
	f := newFixture(t)
	market := f.newMarket(t, models.StatusVoting)

	require.NoError(t, f.coordinator.Tally(market.ID))

	m := f.reload(t, market.ID)
	assert.Equal(t, models.StatusDisputed, m.Status)
	assert.Empty(t, m.ResolutionResult)
}

func TestTallyNoSupermajorityDisputes(t *testing.T) {
	f := newFixture(t)
	market := f.newMarket(t, models.StatusVoting)

	// 2 yes vs 2 no: 0.5 < 0.75 on both sides.
	for i := 0; i < 2; i++ {
		voter := f.newMember(t, models.RoleParticipant)
		_, err := f.coordinator.CastVote(market.ID, voter.ID, models.SideYes)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		voter := f.newMember(t, models.RoleParticipant)
		_, err := f.coordinator.CastVote(market.ID, voter.ID, models.SideNo)
		require.NoError(t, err)
	}

	require.NoError(t, f.coordinator.Tally(market.ID))
	assert.Equal(t, models.StatusDisputed, f.reload(t, market.ID).Status)
}

func TestTallySupermajorityResolves(t *testing.T) {
	f := newFixture(t)
	market := f.newMarket(t, models.StatusVoting)

	// 3 of 4 is exactly the 0.75 threshold.
	for i := 0; i < 3; i++ {
		voter := f.newMember(t, models.RoleParticipant)
		_, err := f.coordinator.CastVote(market.ID, voter.ID, models.SideYes)
		require.NoError(t, err)
	}
	dissenter := f.newMember(t, models.RoleParticipant)
	_, err := f.coordinator.CastVote(market.ID, dissenter.ID, models.SideNo)
	require.NoError(t, err)

	require.NoError(t, f.coordinator.Tally(market.ID))

	m := f.reload(t, market.ID)
	assert.Equal(t, models.StatusResolved, m.Status)
	assert.Equal(t, models.SideYes, m.ResolutionResult)
	assert.Equal(t, models.MethodCommunity, m.ResolutionMethod)
	assert.True(t, m.RatingsApplied)
	assert.NotNil(t, m.ResolvedAt)
}

func TestArbitrate(t *testing.T) {
	f := newFixture(t)
	market := f.newMarket(t, models.StatusVoting)
	require.NoError(t, f.coordinator.Tally(market.ID)) // zero votes -> disputed

	err := f.coordinator.Arbitrate(market.ID, "maybe", "")
	assert.True(t, engerr.Is(err, engerr.ErrInvalidInput))

	require.NoError(t, f.coordinator.Arbitrate(market.ID, models.SideNo, "sources confirmed"))

	m := f.reload(t, market.ID)
	assert.Equal(t, models.StatusResolved, m.Status)
	assert.Equal(t, models.SideNo, m.ResolutionResult)
	assert.Equal(t, models.MethodArbitrated, m.ResolutionMethod)
	assert.Equal(t, "sources confirmed", m.ArbitrationNote)

	err = f.coordinator.Arbitrate(market.ID, models.SideYes, "")
	assert.True(t, engerr.Is(err, engerr.ErrAlreadyResolved), "a ruling is final")
	assert.Equal(t, models.SideNo, f.reload(t, market.ID).ResolutionResult)
}

func TestArbitrateRequiresDispute(t *testing.T) {
	f := newFixture(t)
	market := f.newMarket(t, models.StatusVoting)

	err := f.coordinator.Arbitrate(market.ID, models.SideYes, "")
	assert.True(t, engerr.Is(err, engerr.ErrInvalidState), "voting market escalates via tally, not fiat")
}

func TestResolutionPaysWinnersProportionally(t *testing.T) {
	f := newFixture(t)
	market := f.newMarket(t, models.StatusActive)
	require.NoError(t, f.db.Model(&models.Market{}).Where("id = ?", market.ID).
		Update("expires_at", time.Now().Add(time.Hour)).Error)

	alice := f.newMember(t, models.RoleParticipant)
	bob := f.newMember(t, models.RoleParticipant)

	// Alice stakes 50 on yes at even odds, Bob 30 on no at the moved price.
	aliceTrade, err := f.ledger.ApplyTrade(market.ID, alice.ID, models.SideYes, 50)
	require.NoError(t, err)
	_, err = f.ledger.ApplyTrade(market.ID, bob.ID, models.SideNo, 30)
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.Market{}).Where("id = ?", market.ID).
		Update("status", models.StatusVoting).Error)

	for i := 0; i < 3; i++ {
		voter := f.newMember(t, models.RoleParticipant)
		_, err := f.coordinator.CastVote(market.ID, voter.ID, models.SideYes)
		require.NoError(t, err)
	}
	require.NoError(t, f.coordinator.Tally(market.ID))

	m := f.reload(t, market.ID)
	assert.Equal(t, models.PayoutDistributed, m.PayoutPolicy)

	// Alice is the only yes holder, so the whole 80 coin pool is hers.
	assert.InDelta(t, 1000-50+80, f.balance(t, alice.ID), 1e-9)
	assert.InDelta(t, 1000-30, f.balance(t, bob.ID), 1e-9)

	var payouts []models.Payout
	require.NoError(t, f.db.Where("market_id = ?", market.ID).Find(&payouts).Error)
	require.Len(t, payouts, 1)
	assert.Equal(t, alice.ID, payouts[0].UserID)
	assert.InDelta(t, 80, payouts[0].Amount, 1e-9)
	assert.InDelta(t, aliceTrade.Trade.SharesReceived, payouts[0].Shares, 1e-9)
}

func TestResolutionForfeitsEmptyWinningPool(t *testing.T) {
	f := newFixture(t)
	market := f.newMarket(t, models.StatusActive)
	require.NoError(t, f.db.Model(&models.Market{}).Where("id = ?", market.ID).
		Update("expires_at", time.Now().Add(time.Hour)).Error)

	bob := f.newMember(t, models.RoleParticipant)
	_, err := f.ledger.ApplyTrade(market.ID, bob.ID, models.SideNo, 40)
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.Market{}).Where("id = ?", market.ID).
		Update("status", models.StatusDisputed).Error)
	require.NoError(t, f.coordinator.Arbitrate(market.ID, models.SideYes, "it happened"))

	m := f.reload(t, market.ID)
	assert.Equal(t, models.StatusResolved, m.Status)
	assert.Equal(t, models.PayoutForfeited, m.PayoutPolicy)

	var count int64
	require.NoError(t, f.db.Model(&models.Payout{}).Where("market_id = ?", market.ID).Count(&count).Error)
	assert.Zero(t, count, "nobody held the winning side")
	assert.InDelta(t, 1000-40, f.balance(t, bob.ID), 1e-9, "losing stake stays in the house")
}

func TestAdvanceLifecycle(t *testing.T) {
	f := newFixture(t)

	expired := f.newMarket(t, models.StatusActive) // ExpiresAt already past
	fresh := f.newMarket(t, models.StatusActive)
	require.NoError(t, f.db.Model(&models.Market{}).Where("id = ?", fresh.ID).
		Update("expires_at", time.Now().Add(time.Hour)).Error)

	advanced, err := f.coordinator.AdvanceLifecycle()
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	assert.Equal(t, models.StatusVoting, f.reload(t, expired.ID).Status)
	assert.Equal(t, models.StatusActive, f.reload(t, fresh.ID).Status)

	// Push the new voting deadline into the past; the next tick tallies and,
	// with no ballots, disputes.
	past := time.Now().Add(-time.Minute)
	require.NoError(t, f.db.Model(&models.Market{}).Where("id = ?", expired.ID).
		Update("voting_deadline", past).Error)

	advanced, err = f.coordinator.AdvanceLifecycle()
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)
	assert.Equal(t, models.StatusDisputed, f.reload(t, expired.ID).Status)

	advanced, err = f.coordinator.AdvanceLifecycle()
	require.NoError(t, err)
	assert.Zero(t, advanced, "nothing left to move")
}

func TestAdvanceLifecycleRecoversUnsettledMarket(t *testing.T) {
	f := newFixture(t)
	trader := f.newMember(t, models.RoleParticipant)

	// A market that resolved but crashed before the settlement tail ran:
	// ratings never applied, chained children still pending.
	market := f.newMarket(t, models.StatusResolved)
	require.NoError(t, f.db.Model(&models.Market{}).Where("id = ?", market.ID).
		Update("resolution_result", models.SideYes).Error)
	trade := models.Trade{
		MarketID:       market.ID,
		UserID:         trader.ID,
		Side:           models.SideYes,
		Amount:         50,
		SharesReceived: 90,
		PriceAtTrade:   0.5,
		Seq:            1,
	}
	require.NoError(t, f.db.Create(&trade).Error)

	onYes := models.Market{
		RoomID:           f.room.ID,
		Question:         "and then?",
		Status:           models.StatusPending,
		LiquidityB:       100,
		ExpiresAt:        time.Now().Add(48 * time.Hour),
		ParentMarketID:   market.ID,
		TriggerCondition: models.TriggerParentYes,
		ChainDepth:       1,
	}
	require.NoError(t, f.db.Create(&onYes).Error)
	onNo := models.Market{
		RoomID:           f.room.ID,
		Question:         "or instead?",
		Status:           models.StatusPending,
		LiquidityB:       100,
		ExpiresAt:        time.Now().Add(48 * time.Hour),
		ParentMarketID:   market.ID,
		TriggerCondition: models.TriggerParentNo,
		ChainDepth:       1,
	}
	require.NoError(t, f.db.Create(&onNo).Error)

	advanced, err := f.coordinator.AdvanceLifecycle()
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	assert.True(t, f.reload(t, market.ID).RatingsApplied)
	var u models.User
	require.NoError(t, f.db.Where("id = ?", trader.ID).First(&u).Error)
	assert.Equal(t, int64(1), u.TotalWins)
	assert.Equal(t, models.StatusActive, f.reload(t, onYes.ID).Status)
	assert.Equal(t, models.StatusCancelled, f.reload(t, onNo.ID).Status)

	advanced, err = f.coordinator.AdvanceLifecycle()
	require.NoError(t, err)
	assert.Zero(t, advanced, "settled market is not picked up again")
}

func TestChainedChildrenFollowParentOutcome(t *testing.T) {
	f := newFixture(t)
	parent := f.newMarket(t, models.StatusVoting)

	onYes := models.Market{
		RoomID:           f.room.ID,
		Question:         "and then?",
		Status:           models.StatusPending,
		LiquidityB:       100,
		ExpiresAt:        time.Now().Add(48 * time.Hour),
		ParentMarketID:   parent.ID,
		TriggerCondition: models.TriggerParentYes,
		ChainDepth:       1,
	}
	require.NoError(t, f.db.Create(&onYes).Error)

	onNo := models.Market{
		RoomID:           f.room.ID,
		Question:         "or instead?",
		Status:           models.StatusPending,
		LiquidityB:       100,
		ExpiresAt:        time.Now().Add(48 * time.Hour),
		ParentMarketID:   parent.ID,
		TriggerCondition: models.TriggerParentNo,
		ChainDepth:       1,
	}
	require.NoError(t, f.db.Create(&onNo).Error)

	for i := 0; i < 3; i++ {
		voter := f.newMember(t, models.RoleParticipant)
		_, err := f.coordinator.CastVote(parent.ID, voter.ID, models.SideYes)
		require.NoError(t, err)
	}
	require.NoError(t, f.coordinator.Tally(parent.ID))

	assert.Equal(t, models.StatusActive, f.reload(t, onYes.ID).Status)
	assert.Equal(t, models.StatusCancelled, f.reload(t, onNo.ID).Status)
}

func TestChainedChildExpiryExtendedOnActivation(t *testing.T) {
	f := newFixture(t)
	parent := f.newMarket(t, models.StatusVoting)

	child := models.Market{
		RoomID:           f.room.ID,
		Question:         "stale child",
		Status:           models.StatusPending,
		LiquidityB:       100,
		ExpiresAt:        time.Now().Add(-time.Hour),
		ParentMarketID:   parent.ID,
		TriggerCondition: models.TriggerParentNo,
		ChainDepth:       1,
	}
	require.NoError(t, f.db.Create(&child).Error)

	require.NoError(t, f.db.Model(&models.Market{}).Where("id = ?", parent.ID).
		Update("status", models.StatusDisputed).Error)
	require.NoError(t, f.coordinator.Arbitrate(parent.ID, models.SideNo, ""))

	c := f.reload(t, child.ID)
	assert.Equal(t, models.StatusActive, c.Status)
	assert.True(t, c.ExpiresAt.After(time.Now()), "activated child gets a fresh trading window")
}
