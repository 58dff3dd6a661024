package config

import (
	"os"
	"strconv"
	"time"
)

type PointsConfig struct {
	CacheTTL           time.Duration
	SignupBonus        int64
	CheckinBaseBonus   int64
	CheckinStreakBonus int64
	CheckinStreakCap   int
	TransferQRTimeout  time.Duration
}

func LoadPointsConfig() *PointsConfig {
	return &PointsConfig{
		CacheTTL:           getEnvAsDuration("POINTS_CACHE_TTL", 5*time.Minute),
		SignupBonus:        getEnvAsInt64("POINTS_SIGNUP_BONUS", 1000),
		CheckinBaseBonus:   getEnvAsInt64("POINTS_CHECKIN_BASE_BONUS", 10),
		CheckinStreakBonus: getEnvAsInt64("POINTS_CHECKIN_STREAK_BONUS", 5),
		CheckinStreakCap:   getEnvAsInt("POINTS_CHECKIN_STREAK_CAP", 7),
		TransferQRTimeout:  getEnvAsDuration("POINTS_QR_TIMEOUT", 5*time.Minute),
	}
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
