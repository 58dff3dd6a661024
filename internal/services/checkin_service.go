package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fortunepoints/backend/internal/config"
	"github.com/fortunepoints/backend/internal/models"
)

// CheckinResult is returned by a successful daily check-in.
type CheckinResult struct {
	Streak      int                      `json:"streak"`
	Bonus       int64                    `json:"bonus"`
	Transaction models.TransactionRecord `json:"transaction"`
	NewBalance  int64                    `json:"newBalance"`
}

type checkinState struct {
	Streak  int    `json:"streak"`
	LastDay string `json:"lastDay"` // YYYY-MM-DD in UTC
}

// CheckinService credits a daily bonus that grows with consecutive-day streaks.
// Streak state lives in Redis with a TTL of two days: missing a day lets the
// key expire, which resets the streak naturally.
type CheckinService struct {
	redis  *redis.Client
	points *PointsService
	cfg    *config.PointsConfig
	now    func() time.Time
}

func NewCheckinService(redisClient *redis.Client, points *PointsService, cfg *config.PointsConfig) *CheckinService {
	return &CheckinService{redis: redisClient, points: points, cfg: cfg, now: time.Now}
}

func checkinKey(accountID string) string {
	return fmt.Sprintf("points:checkin:%s", accountID)
}

func checkinClaimKey(accountID, day string) string {
	return fmt.Sprintf("points:checkin:claim:%s:%s", accountID, day)
}

// CheckIn records today's check-in for the account and credits the streak bonus.
func (s *CheckinService) CheckIn(ctx context.Context, accountID string) (*CheckinResult, error) {
	today := s.now().UTC().Format("2006-01-02")
	yesterday := s.now().UTC().AddDate(0, 0, -1).Format("2006-01-02")

	state := checkinState{}
	data, err := s.redis.Get(ctx, checkinKey(accountID)).Bytes()
	if err == nil {
		if err := json.Unmarshal(data, &state); err != nil {
			state = checkinState{}
		}
	} else if err != redis.Nil {
		return nil, storageErr("read check-in state", err)
	}

	if state.LastDay == today {
		return nil, ErrAlreadyCheckedIn
	}

	if state.LastDay == yesterday {
		state.Streak++
	} else {
		state.Streak = 1
	}
	state.LastDay = today

	bonus := s.cfg.CheckinBaseBonus + int64(state.Streak-1)*s.cfg.CheckinStreakBonus
	maxBonus := s.cfg.CheckinBaseBonus + int64(s.cfg.CheckinStreakCap-1)*s.cfg.CheckinStreakBonus
	if bonus > maxBonus {
		bonus = maxBonus
	}

	// The state read above is advisory; SET NX on the day key is the arbiter,
	// so two requests racing past a stale LastDay cannot both credit the bonus.
	claimed, err := s.redis.SetNX(ctx, checkinClaimKey(accountID, today), 1, 48*time.Hour).Result()
	if err != nil {
		return nil, storageErr("claim check-in", err)
	}
	if !claimed {
		return nil, ErrAlreadyCheckedIn
	}

	result, err := s.points.Earn(ctx, accountID, bonus, fmt.Sprintf("daily check-in (streak %d)", state.Streak))
	if err != nil {
		// Release the claim so a ledger failure does not burn the day.
		s.redis.Del(ctx, checkinClaimKey(accountID, today))
		return nil, err
	}

	// Persisting the streak after the credit means a failed write costs the user
	// nothing; worst case the next check-in starts a fresh streak.
	newState, _ := json.Marshal(state)
	if err := s.redis.Set(ctx, checkinKey(accountID), newState, 48*time.Hour).Err(); err != nil {
		log.Printf("[CHECKIN] Failed to persist streak for %s: %v", accountID, err)
	}

	return &CheckinResult{
		Streak:      state.Streak,
		Bonus:       bonus,
		Transaction: result.Transaction,
		NewBalance:  result.NewBalance,
	}, nil
}
