// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken  string
	UploadChatID      int64
	DatabasePath      string
	SubscriptionsPath string
	LogLevel          string
	LogFormat         string
	AllowedUsers      []int64

	UpstreamURL      string
	SiteCode         string
	DataFetchers     int
	MediaFetchers    int
	MaxAwaitingMedia int
	RefreshLimit     int
	GatherInterval   time.Duration
	SendRate         float64
	StatusAddr       string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	rawChat := os.Getenv("UPLOAD_CHAT_ID")
	if rawChat == "" {
		return nil, fmt.Errorf("UPLOAD_CHAT_ID is required")
	}
	uploadChat, err := strconv.ParseInt(strings.TrimSpace(rawChat), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_CHAT_ID %q: %w", rawChat, err)
	}

	var allowedUsers []int64
	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			allowedUsers = append(allowedUsers, uid)
		}
	}

	logFormat := envOr("LOG_FORMAT", "text")
	if logFormat != "text" && logFormat != "json" {
		return nil, fmt.Errorf("invalid LOG_FORMAT %q, use text or json", logFormat)
	}

	cfg := &Config{
		TelegramBotToken:  token,
		UploadChatID:      uploadChat,
		DatabasePath:      envOr("DATABASE_PATH", "./data/cache.db"),
		SubscriptionsPath: envOr("SUBSCRIPTIONS_PATH", "./data/subscriptions.json"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         logFormat,
		AllowedUsers:      allowedUsers,
		UpstreamURL:       envOr("UPSTREAM_URL", "https://faexport.spangle.org.uk"),
		SiteCode:          envOr("SITE_CODE", "fa"),
		StatusAddr:        os.Getenv("STATUS_ADDR"),
	}

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"DATA_FETCHERS", 2, &cfg.DataFetchers},
		{"MEDIA_FETCHERS", 2, &cfg.MediaFetchers},
		{"MAX_AWAITING_MEDIA", 100, &cfg.MaxAwaitingMedia},
		{"REFRESH_LIMIT", 5, &cfg.RefreshLimit},
	}
	for _, v := range ints {
		n, err := positiveInt(v.key, v.def)
		if err != nil {
			return nil, err
		}
		*v.dst = n
	}

	if cfg.GatherInterval, err = positiveDuration("GATHER_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.SendRate = 20
	if raw := os.Getenv("SEND_RATE"); raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil || rate <= 0 {
			return nil, fmt.Errorf("invalid SEND_RATE %q, must be a positive number", raw)
		}
		cfg.SendRate = rate
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func positiveInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q, must be a positive integer", key, raw)
	}
	return n, nil
}

func positiveDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q, must be a positive duration", key, raw)
	}
	return d, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(c.AllowedUsers, userID)
}
