package accounts

import (
	"encoding/hex"
	"os"
	"strconv"

	goerrors "github.com/goliatone/go-errors"
)

// Config carries everything the server binary needs. Values come from
// the environment; cmd/server loads .env first via godotenv.
type Config struct {
	HTTPAddr          string
	DatabaseURL       string
	SessionKey        []byte
	SessionCookieName string
	SessionTTLHours   int
	PolicyFile        string

	MailHost     string
	MailPort     int
	MailUsername string
	MailPassword string
	MailFrom     string
	MailBaseURL  string
}

// LoadConfig reads the environment. SESSION_KEY is hex, 32+ bytes once
// decoded; the server refuses to start with a weaker key.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		HTTPAddr:          envOr("HTTP_ADDR", ":3000"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SessionCookieName: envOr("SESSION_COOKIE_NAME", "session"),
		SessionTTLHours:   envIntOr("SESSION_TTL_HOURS", 24),
		PolicyFile:        envOr("POLICY_FILE", "config/policy.csv"),
		MailHost:          os.Getenv("MAIL_HOST"),
		MailPort:          envIntOr("MAIL_PORT", 587),
		MailUsername:      os.Getenv("MAIL_USERNAME"),
		MailPassword:      os.Getenv("MAIL_PASSWORD"),
		MailFrom:          os.Getenv("MAIL_FROM"),
		MailBaseURL:       envOr("MAIL_BASE_URL", "http://localhost:3000"),
	}

	if cfg.DatabaseURL == "" {
		return nil, goerrors.New("DATABASE_URL is required", goerrors.CategoryBadInput)
	}

	rawKey := os.Getenv("SESSION_KEY")
	if rawKey == "" {
		return nil, goerrors.New("SESSION_KEY is required", goerrors.CategoryBadInput)
	}

	key, err := hex.DecodeString(rawKey)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "SESSION_KEY must be hex encoded")
	}
	if len(key) < 32 {
		return nil, goerrors.New("SESSION_KEY must decode to at least 32 bytes", goerrors.CategoryBadInput)
	}
	cfg.SessionKey = key

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
