package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Token
	JWTSecret string
	AdminID   string

	// Password
	BcryptCost int

	// Mail
	EmailUsername    string
	EmailPassword    string
	MailFrom         string
	SMTPHost         string
	SMTPPort         int
	SMTPSkipVerify   bool
	MailSendInterval time.Duration

	// Join code cleanup
	JoinCodeMaxAge  time.Duration
	CleanupInterval time.Duration

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.AdminID = os.Getenv("ADMIN_ID")
	if cfg.AdminID == "" {
		missing = append(missing, "ADMIN_ID")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.EmailUsername = getEnvString("EMAIL_USERNAME", "")
	cfg.EmailPassword = getEnvString("EMAIL_PASSWORD", "")
	cfg.MailFrom = getEnvString("MAIL_FROM", cfg.EmailUsername)
	cfg.SMTPHost = getEnvString("SMTP_HOST", "smtp.office365.com")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPSkipVerify = getEnvBool("SMTP_SKIP_VERIFY", false)
	cfg.MailSendInterval = getEnvDuration("MAIL_SEND_INTERVAL", time.Second)
	cfg.JoinCodeMaxAge = getEnvDuration("JOIN_CODE_MAX_AGE", 7*24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// MailEnabled はSMTP認証情報が揃っている場合にtrueを返す。
func (c *Config) MailEnabled() bool {
	return c.EmailUsername != "" && c.EmailPassword != "" && c.SMTPHost != ""
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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
