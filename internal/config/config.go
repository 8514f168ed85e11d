// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionSecret     string
	LoginSessionTTL   time.Duration
	AccessTokenTTL    time.Duration
	TransferInviteTTL time.Duration

	// Cloudflare
	CloudflareAPIToken string
	CloudflareBaseURL  string
	DomainZonesFile    string

	// Discord
	DiscordBotToken        string
	DiscordPublicKey       string
	DiscordVerifyChannelID string
	DiscordVerifyRoleID    string
	DiscordLogChannelID    string
	DiscordBaseURL         string

	// Email
	EmailAPIKey        string
	EmailSenderAddress string
	EmailBaseURL       string

	// Domain
	UserDomainLimit int

	// Upstream
	UpstreamTimeout time.Duration

	// Queue
	QueueWorkers  int
	QueueCapacity int

	// Rate Limit
	RateLimitGeneral  int
	RateLimitRegister int

	// Cleanup
	CleanupInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// LoadDotEnv はカレントディレクトリの.envを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.GoogleClientID = required("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = required("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = required("GOOGLE_REDIRECT_URL")
	cfg.SessionSecret = required("SESSION_SECRET")
	cfg.BaseURL = required("BASE_URL")
	cfg.CloudflareAPIToken = required("CLOUDFLARE_API_TOKEN")
	cfg.DiscordBotToken = required("DISCORD_BOT_TOKEN")
	cfg.DiscordPublicKey = required("DISCORD_PUBLIC_KEY")
	cfg.DiscordVerifyChannelID = required("DISCORD_VERIFY_CHANNEL_ID")
	cfg.DiscordVerifyRoleID = required("DISCORD_VERIFY_ROLE_ID")
	cfg.DiscordLogChannelID = required("DISCORD_LOG_CHANNEL_ID")
	cfg.EmailAPIKey = required("EMAIL_API_KEY")
	cfg.EmailSenderAddress = required("EMAIL_SENDER_ADDRESS")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.LoginSessionTTL = getEnvDuration("LOGIN_SESSION_TTL", 5*time.Minute)
	cfg.AccessTokenTTL = getEnvDuration("ACCESS_TOKEN_TTL", 10*7*24*time.Hour)
	cfg.TransferInviteTTL = getEnvDuration("TRANSFER_INVITE_TTL", 7*24*time.Hour)
	cfg.CloudflareBaseURL = getEnvString("CLOUDFLARE_BASE_URL", "https://api.cloudflare.com/client/v4")
	cfg.DomainZonesFile = getEnvString("DOMAIN_ZONES_FILE", "domain.json")
	cfg.DiscordBaseURL = getEnvString("DISCORD_BASE_URL", "https://discord.com/api/v10")
	cfg.EmailBaseURL = getEnvString("EMAIL_BASE_URL", "https://api.forwardemail.net")
	cfg.UserDomainLimit = getEnvInt("USER_DOMAIN_LIMIT", 5)
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.QueueWorkers = getEnvInt("QUEUE_WORKERS", 4)
	cfg.QueueCapacity = getEnvInt("QUEUE_CAPACITY", 128)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitRegister = getEnvInt("RATE_LIMIT_REGISTER", 20)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
