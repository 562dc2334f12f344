package bots

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"sportfolio/internal/store"
)

// Bot bankroll in cents: $10,000.00 each.
const botBankroll = 1_000_000

// SeedFleet creates n market-maker bots with randomized profiles. Existing
// bot usernames are left alone, so reseeding a live database only fills
// gaps.
func SeedFleet(st *store.Store, n int, log *logrus.Logger) (int, error) {
	created := 0
	for i := 1; i <= n; i++ {
		username := fmt.Sprintf("mm_bot_%02d", i)
		if existing, err := st.GetUserByUsername(username); err == nil && existing != nil {
			continue
		} else if err != nil && err != store.ErrUserNotFound {
			return created, err
		}

		user, err := st.CreateBotUser(username, botBankroll)
		if err != nil {
			return created, err
		}

		aggressiveness := 0.2 + rand.Float64()*0.7
		profile := &store.BotProfile{
			UserID:                  user.ID,
			Aggressiveness:          aggressiveness,
			SpreadPercent:           2 + rand.Float64()*6,
			MinOrderSize:            1 + rand.Int63n(3),
			MaxOrderSize:            10 + rand.Int63n(40),
			MaxDailyOrders:          200 + rand.Int63n(300),
			MaxDailyVolume:          2000 + rand.Int63n(8000),
			ContestEntryBudget:      5000,
			MaxContestEntriesPerDay: 1 + rand.Int63n(3),
			MinActionCooldownMs:     5000,
			MaxActionCooldownMs:     60000,
			IsActive:                true,
		}
		if err := st.CreateBotProfile(profile); err != nil {
			return created, err
		}
		created++
		log.WithFields(logrus.Fields{
			"bot":            username,
			"aggressiveness": fmt.Sprintf("%.2f", aggressiveness),
		}).Info("bot seeded")
	}
	return created, nil
}
