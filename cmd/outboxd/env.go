package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/graniteshield/outbox"
)

// env is the process configuration read from the environment.
type env struct {
	Addr        string
	StoreDriver string
	DatabaseURL string
	RedisURL    string
	LogLevel    string

	Outbox outbox.Config
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func loadEnv() (env, error) {
	cfg := outbox.DefaultConfig()
	e := env{
		Addr:        getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		RedisURL:    getenv("REDIS_URL", ""),
		LogLevel:    getenv("LOG_LEVEL", "info"),
	}
	e.StoreDriver = getenv("STORE_DRIVER", driverFromURL(e.DatabaseURL))

	cfg.WebhookSecret = getenv("GHL_WEBHOOK_SECRET", "")

	cfg.SMS.APIKey = getenv("OPENPHONE_API_KEY", "")
	cfg.SMS.PhoneNumberID = getenv("OPENPHONE_PHONE_NUMBER_ID", "")

	cfg.Call.APIKey = getenv("BLAND_AI_API_KEY", "")
	cfg.Call.PathwayID = getenv("BLAND_AI_PATHWAY_ID", "")

	cfg.Attribution.MetaPixelID = getenv("META_PIXEL_ID", "")
	cfg.Attribution.MetaAccessToken = getenv("META_ACCESS_TOKEN", "")
	cfg.Attribution.GoogleCustomerID = getenv("GOOGLE_ADS_CUSTOMER_ID", "")
	cfg.Attribution.GoogleDeveloperToken = getenv("GOOGLE_ADS_DEVELOPER_TOKEN", "")
	cfg.Attribution.GoogleOAuthToken = getenv("GOOGLE_ADS_OAUTH_TOKEN", "")
	cfg.Attribution.GoogleConversionActionID = getenv("GOOGLE_ADS_CONVERSION_ACTION_ID", "")

	cfg.Notify.APIKey = getenv("RESEND_API_KEY", "")
	cfg.Notify.TeamEmail = getenv("TEAM_NOTIFICATION_EMAIL", "")
	cfg.Notify.From = getenv("NOTIFICATION_FROM_EMAIL", "")

	var err error
	if cfg.RetryBaseDelay, err = durationEnv("OUTBOX_RETRY_BASE_DELAY", cfg.RetryBaseDelay); err != nil {
		return e, err
	}
	if cfg.RetryMaxDelay, err = durationEnv("OUTBOX_RETRY_MAX_DELAY", cfg.RetryMaxDelay); err != nil {
		return e, err
	}
	if cfg.Sweep.Interval, err = durationEnv("OUTBOX_SWEEP_INTERVAL", cfg.Sweep.Interval); err != nil {
		return e, err
	}
	if v := getenv("OUTBOX_RETRY_JITTER", ""); v != "" {
		if cfg.RetryJitter, err = strconv.ParseFloat(v, 64); err != nil {
			return e, fmt.Errorf("%w: OUTBOX_RETRY_JITTER: %v", outbox.ErrInvalidConfig, err)
		}
	}
	if v := getenv("OUTBOX_CONCURRENCY", ""); v != "" {
		if cfg.Concurrency, err = strconv.Atoi(v); err != nil {
			return e, fmt.Errorf("%w: OUTBOX_CONCURRENCY: %v", outbox.ErrInvalidConfig, err)
		}
	}
	if v := getenv("OUTBOX_SIMULATE", ""); v != "" {
		if cfg.Simulate, err = strconv.ParseBool(v); err != nil {
			return e, fmt.Errorf("%w: OUTBOX_SIMULATE: %v", outbox.ErrInvalidConfig, err)
		}
	}

	e.Outbox = cfg
	return e, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s: %v", outbox.ErrInvalidConfig, key, err)
	}
	return d, nil
}

// driverFromURL guesses the store driver from the database URL scheme.
func driverFromURL(u string) string {
	switch {
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(u, "mongodb://"), strings.HasPrefix(u, "mongodb+srv://"):
		return "mongo"
	case strings.HasPrefix(u, "redis://"), strings.HasPrefix(u, "rediss://"):
		return "redis"
	case strings.HasPrefix(u, "file:"), strings.HasSuffix(u, ".db"):
		return "sqlite"
	default:
		return "memory"
	}
}
