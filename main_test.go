package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloutcast/clout"
	"cloutcast/handlers"
	"cloutcast/ledger"
	"cloutcast/models"
	"cloutcast/resolution"
	"cloutcast/security"
	"cloutcast/setup"
	"cloutcast/storage"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testAPI struct {
	t      *testing.T
	server *httptest.Server
	db     *gorm.DB
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db, err := storage.OpenMemory()
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrate(db))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	cfg := setup.Defaults()
	cfg.JWTSecret = "test-secret"
	cfg.Server.RateLimitRPS = 10000
	cfg.Server.RateLimitBurst = 10000

	led := ledger.New(db, log)
	ratings := clout.New(db, log, cfg.Economics.CloutK)
	coordinator := resolution.New(db, log, led, ratings, cfg.Economics.Supermajority)

	env := &handlers.Env{
		DB:          db,
		Log:         log,
		Cfg:         cfg,
		Ledger:      led,
		Coordinator: coordinator,
		Sanitizer:   security.NewService(),
	}

	server := httptest.NewServer(newRouter(env))
	t.Cleanup(server.Close)
	return &testAPI{t: t, server: server, db: db}
}

func (a *testAPI) do(method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	a.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(a.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.server.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// register creates an account through the API and returns its id and token.
func (a *testAPI) register(name string) (string, string) {
	a.t.Helper()
	resp, body := a.do(http.MethodPost, "/v0/users/register", "", map[string]string{
		"displayName": name,
		"email":       fmt.Sprintf("%s@example.com", name),
		"password":    "hunter2hunter2",
	})
	require.Equal(a.t, http.StatusCreated, resp.StatusCode, "register %s: %v", name, body)
	user := body["user"].(map[string]interface{})
	return user["id"].(string), body["token"].(string)
}

func (a *testAPI) createRoom(userIDs []string, adminID string) models.Room {
	a.t.Helper()
	room := models.Room{
		Name:                  "api test room",
		MinBet:                10,
		MaxBet:                500,
		DefaultLiquidityB:     100,
		ResolutionWindowHours: 24,
	}
	require.NoError(a.t, a.db.Create(&room).Error)
	for _, id := range userIDs {
		role := models.RoleParticipant
		if id == adminID {
			role = models.RoleAdmin
		}
		m := models.Membership{RoomID: room.ID, UserID: id, Role: role}
		require.NoError(a.t, a.db.Create(&m).Error)
	}
	return room
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	adminID, adminToken := api.register("admin")
	aliceID, aliceToken := api.register("alice")
	bobID, bobToken := api.register("bob")
	carolID, carolToken := api.register("carol")
	room := api.createRoom([]string{adminID, aliceID, bobID, carolID}, adminID)

	// Open a market.
	resp, body := api.do(http.MethodPost, "/v0/markets", aliceToken, map[string]interface{}{
		"roomId":      room.ID,
		"question":    "Will the demo go smoothly?",
		"description": "Judged by **audience** reaction.",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "%v", body)
	marketID := body["id"].(string)
	assert.Equal(t, models.StatusActive, body["status"])
	assert.InDelta(t, 0.5, body["priceYes"].(float64), 1e-9)

	// Alice backs yes, Bob backs no at the moved price.
	resp, body = api.do(http.MethodPost, "/v0/markets/"+marketID+"/trade", aliceToken,
		map[string]interface{}{"side": "yes", "amount": 50})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "%v", body)
	assert.Greater(t, body["newPriceYes"].(float64), 0.5)
	assert.InDelta(t, 950, body["newBalance"].(float64), 1e-9)

	resp, body = api.do(http.MethodPost, "/v0/markets/"+marketID+"/trade", bobToken,
		map[string]interface{}{"side": "no", "amount": 30})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "%v", body)

	// Trade log is served in acceptance order.
	resp, body = api.do(http.MethodGet, "/v0/markets/"+marketID+"/trades", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	trades := body["trades"].([]interface{})
	require.Len(t, trades, 2)
	assert.Equal(t, float64(1), trades[0].(map[string]interface{})["seq"])

	// Close the trading window and advance.
	require.NoError(t, api.db.Model(&models.Market{}).Where("id = ?", marketID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)
	resp, body = api.do(http.MethodPost, "/v0/lifecycle/advance", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["advanced"])

	// 3 of 4 vote yes: exactly the supermajority.
	for _, token := range []string{adminToken, aliceToken, carolToken} {
		resp, body = api.do(http.MethodPost, "/v0/markets/"+marketID+"/vote", token,
			map[string]string{"vote": "yes"})
		require.Equal(t, http.StatusCreated, resp.StatusCode, "%v", body)
	}
	resp, body = api.do(http.MethodPost, "/v0/markets/"+marketID+"/vote", bobToken,
		map[string]string{"vote": "no"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "%v", body)

	resp, body = api.do(http.MethodGet, "/v0/markets/"+marketID+"/votes", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["yesVotes"])
	assert.Equal(t, float64(1), body["noVotes"])
	assert.Equal(t, "no", body["myVote"])

	// Voting deadline passes; the next tick resolves by community vote.
	require.NoError(t, api.db.Model(&models.Market{}).Where("id = ?", marketID).
		Update("voting_deadline", time.Now().Add(-time.Minute)).Error)
	resp, _ = api.do(http.MethodPost, "/v0/lifecycle/advance", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = api.do(http.MethodGet, "/v0/markets/"+marketID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	market := body["market"].(map[string]interface{})
	assert.Equal(t, models.StatusResolved, market["status"])
	assert.Equal(t, "yes", market["resolutionResult"])
	assert.Equal(t, models.MethodCommunity, market["resolutionMethod"])

	// Alice held the whole winning pool: 1000 - 50 + 80.
	var alice models.User
	require.NoError(t, api.db.Where("id = ?", aliceID).First(&alice).Error)
	assert.InDelta(t, 1030, alice.Balance, 1e-9)

	// Ratings moved and show up on the public surfaces.
	resp, body = api.do(http.MethodGet, "/v0/users/"+aliceID+"/rating", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Greater(t, body["score"].(float64), 1000.0)
	assert.Equal(t, float64(1), body["wins"])

	resp, body = api.do(http.MethodGet, "/v0/leaderboard", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := body["leaderboard"].([]interface{})
	require.NotEmpty(t, entries)
	assert.Equal(t, aliceID, entries[0].(map[string]interface{})["userId"], "winner leads the board")
}

func TestDisputeAndArbitrationOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	adminID, adminToken := api.register("admin")
	aliceID, aliceToken := api.register("alice")
	bobID, bobToken := api.register("bob")
	room := api.createRoom([]string{adminID, aliceID, bobID}, adminID)

	resp, body := api.do(http.MethodPost, "/v0/markets", adminToken, map[string]interface{}{
		"roomId":   room.ID,
		"question": "Contentious question?",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "%v", body)
	marketID := body["id"].(string)

	resp, _ = api.do(http.MethodPost, "/v0/markets/"+marketID+"/trade", aliceToken,
		map[string]interface{}{"side": "yes", "amount": 40})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Split vote, no supermajority.
	require.NoError(t, api.db.Model(&models.Market{}).Where("id = ?", marketID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)
	api.do(http.MethodPost, "/v0/lifecycle/advance", "", nil)
	api.do(http.MethodPost, "/v0/markets/"+marketID+"/vote", aliceToken, map[string]string{"vote": "yes"})
	api.do(http.MethodPost, "/v0/markets/"+marketID+"/vote", bobToken, map[string]string{"vote": "no"})
	require.NoError(t, api.db.Model(&models.Market{}).Where("id = ?", marketID).
		Update("voting_deadline", time.Now().Add(-time.Minute)).Error)
	api.do(http.MethodPost, "/v0/lifecycle/advance", "", nil)

	resp, body = api.do(http.MethodGet, "/v0/markets/"+marketID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, models.StatusDisputed, body["market"].(map[string]interface{})["status"])

	// Non-admins cannot arbitrate.
	resp, _ = api.do(http.MethodPost, "/v0/markets/"+marketID+"/arbitrate", bobToken,
		map[string]string{"ruling": "no"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = api.do(http.MethodPost, "/v0/markets/"+marketID+"/arbitrate", adminToken,
		map[string]interface{}{"ruling": "yes", "reasoning": "verified externally"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)

	resp, body = api.do(http.MethodGet, "/v0/markets/"+marketID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := body["market"].(map[string]interface{})
	assert.Equal(t, models.StatusResolved, resolved["status"])
	assert.Equal(t, models.MethodArbitrated, resolved["resolutionMethod"])

	// A second ruling bounces off the resolved market.
	resp, _ = api.do(http.MethodPost, "/v0/markets/"+marketID+"/arbitrate", adminToken,
		map[string]interface{}{"ruling": "no", "reasoning": "changed my mind"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAuthAndRoleChecksOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	adminID, adminToken := api.register("admin")
	_, outsiderToken := api.register("outsider")
	room := api.createRoom([]string{adminID}, adminID)

	// No token at all.
	resp, _ := api.do(http.MethodPost, "/v0/markets", "", map[string]interface{}{
		"roomId": room.ID, "question": "anyone?",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := api.do(http.MethodPost, "/v0/markets", adminToken, map[string]interface{}{
		"roomId": room.ID, "question": "members only?",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "%v", body)
	marketID := body["id"].(string)

	// Non-members spectate: no trading, no market creation.
	resp, _ = api.do(http.MethodPost, "/v0/markets/"+marketID+"/trade", outsiderToken,
		map[string]interface{}{"side": "yes", "amount": 50})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = api.do(http.MethodPost, "/v0/markets", outsiderToken, map[string]interface{}{
		"roomId": room.ID, "question": "outsiders too?",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Markup is stripped from questions before persisting.
	resp, body = api.do(http.MethodPost, "/v0/markets", adminToken, map[string]interface{}{
		"roomId":   room.ID,
		"question": "<script>alert(1)</script>Clean question?",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "%v", body)
	assert.Equal(t, "Clean question?", body["question"])

	resp, _ = api.do(http.MethodGet, "/v0/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = api.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCancelRefundsOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	adminID, adminToken := api.register("admin")
	aliceID, aliceToken := api.register("alice")
	room := api.createRoom([]string{adminID, aliceID}, adminID)

	resp, body := api.do(http.MethodPost, "/v0/markets", adminToken, map[string]interface{}{
		"roomId": room.ID, "question": "doomed market?",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	marketID := body["id"].(string)

	resp, _ = api.do(http.MethodPost, "/v0/markets/"+marketID+"/trade", aliceToken,
		map[string]interface{}{"side": "no", "amount": 60})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Participants cannot cancel, admins can.
	resp, _ = api.do(http.MethodPost, "/v0/markets/"+marketID+"/cancel", aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = api.do(http.MethodPost, "/v0/markets/"+marketID+"/cancel", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)

	var alice models.User
	require.NoError(t, api.db.Where("id = ?", aliceID).First(&alice).Error)
	assert.InDelta(t, 1000, alice.Balance, 1e-9, "stake refunded in full")

	resp, _ = api.do(http.MethodPost, "/v0/markets/"+marketID+"/trade", aliceToken,
		map[string]interface{}{"side": "yes", "amount": 20})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "cancelled market refuses trades")
}

func TestChainedMarketCreationOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	adminID, adminToken := api.register("admin")
	room := api.createRoom([]string{adminID}, adminID)

	resp, body := api.do(http.MethodPost, "/v0/markets", adminToken, map[string]interface{}{
		"roomId": room.ID, "question": "root?",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rootID := body["id"].(string)

	resp, body = api.do(http.MethodPost, "/v0/markets", adminToken, map[string]interface{}{
		"roomId":           room.ID,
		"question":         "and if yes?",
		"parentMarketId":   rootID,
		"triggerCondition": models.TriggerParentYes,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "%v", body)
	childID := body["id"].(string)
	assert.Equal(t, models.StatusPending, body["status"])
	assert.Equal(t, float64(1), body["chainDepth"])

	// Grandchildren exceed the depth limit.
	resp, body = api.do(http.MethodPost, "/v0/markets", adminToken, map[string]interface{}{
		"roomId":           room.ID,
		"question":         "and then what?",
		"parentMarketId":   childID,
		"triggerCondition": models.TriggerParentYes,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "%v", body)

	// Pending markets do not trade.
	resp, _ = api.do(http.MethodPost, "/v0/markets/"+childID+"/trade", adminToken,
		map[string]interface{}{"side": "yes", "amount": 20})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
