package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	JWTSecret   string
	JudgeURL    string
	DatabaseURL string

	JudgeTimeout time.Duration
	TimeLimit    time.Duration
	GraceWindow  time.Duration
	ChatCooldown time.Duration
	ChatMaxLen   int

	DevLog bool
}

// Load reads .env if present, then the environment. Durations are given in
// seconds (TIME_LIMIT=1800).
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:         envStr("ADDR", ":8080"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		JudgeURL:     envStr("JUDGE_URL", "http://localhost:9000"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		JudgeTimeout: envSeconds("JUDGE_TIMEOUT", 10*time.Second),
		TimeLimit:    envSeconds("TIME_LIMIT", 1800*time.Second),
		GraceWindow:  envSeconds("GRACE_WINDOW", 30*time.Second),
		ChatCooldown: envSeconds("CHAT_COOLDOWN", 60*time.Second),
		ChatMaxLen:   envInt("CHAT_MAX_LEN", 100),
		DevLog:       envBool("DEV_LOG", false),
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
