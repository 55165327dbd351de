// Package seed fills an empty database with demo data for local
// development: a couple of rooms, a handful of funded users, and active
// markets with some trade history so prices are off 0.5.
package seed

import (
	"fmt"
	"strings"
	"time"

	"cloutcast/ledger"
	"cloutcast/models"
	"cloutcast/setup"

	"github.com/brianvoe/gofakeit"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const demoPassword = "demo-password"

// Run seeds demo data. It refuses to touch a database that already has
// users.
func Run(db *gorm.DB, cfg setup.Config, log *logrus.Logger) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("database already has %d users, refusing to seed", count)
	}

	gofakeit.Seed(42)

	hash, err := bcrypt.GenerateFromPassword([]byte(demoPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash demo password: %w", err)
	}

	users := make([]models.User, 8)
	for i := range users {
		name := gofakeit.Name()
		users[i] = models.User{
			DisplayName:  name,
			Email:        fmt.Sprintf("%s%d@example.com", strings.ToLower(strings.Fields(name)[0]), i),
			PasswordHash: string(hash),
			CloutScore:   cfg.Economics.InitialClout,
			CloutRank:    models.RankForScore(cfg.Economics.InitialClout),
			Balance:      cfg.Economics.InitialBalance,
		}
		if err := db.Create(&users[i]).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
	}

	rooms := []models.Room{
		{
			Name:                  "General",
			MinBet:                cfg.Economics.DefaultMinBet,
			MaxBet:                cfg.Economics.DefaultMaxBet,
			DefaultLiquidityB:     cfg.Economics.DefaultLiquidityB,
			ResolutionWindowHours: cfg.Economics.ResolutionWindowHours,
		},
		{
			Name:                  "High Stakes",
			MinBet:                50,
			MaxBet:                1000,
			DefaultLiquidityB:     250,
			ResolutionWindowHours: cfg.Economics.ResolutionWindowHours,
		},
	}
	for i := range rooms {
		if err := db.Create(&rooms[i]).Error; err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		for j := range users {
			role := models.RoleParticipant
			if j == 0 {
				role = models.RoleAdmin
			}
			m := models.Membership{RoomID: rooms[i].ID, UserID: users[j].ID, Role: role}
			if err := db.Create(&m).Error; err != nil {
				return fmt.Errorf("create membership: %w", err)
			}
		}
	}

	led := ledger.New(db, log)
	questions := []string{
		"Will the next release ship before the end of the quarter?",
		"Will it rain on launch day?",
		"Will the office espresso machine survive the month?",
		"Will the standup finish in under fifteen minutes tomorrow?",
	}
	for i, q := range questions {
		room := rooms[i%len(rooms)]
		market := models.Market{
			RoomID:      room.ID,
			CreatorID:   users[i%len(users)].ID,
			Question:    q,
			Description: gofakeit.Sentence(12),
			Status:      models.StatusActive,
			LiquidityB:  room.DefaultLiquidityB,
			PriceYes:    0.5,
			ExpiresAt:   time.Now().Add(time.Duration(24*(i+1)) * time.Hour),
		}
		if err := db.Create(&market).Error; err != nil {
			return fmt.Errorf("create market: %w", err)
		}

		for j := 0; j < 3+i; j++ {
			trader := users[(i+j+1)%len(users)]
			side := models.SideYes
			if gofakeit.Number(0, 1) == 1 {
				side = models.SideNo
			}
			amount := float64(gofakeit.Number(int(room.MinBet), int(room.MinBet)*4))
			if _, err := led.ApplyTrade(market.ID, trader.ID, side, amount); err != nil {
				return fmt.Errorf("seed trade on %s: %w", market.ID, err)
			}
		}
	}

	log.WithFields(logrus.Fields{
		"users":   len(users),
		"rooms":   len(rooms),
		"markets": len(questions),
	}).Info("demo data seeded")
	return nil
}
