// Package config reads runtime configuration from the environment, optionally
// seeded from a .env file.
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	DBPath    string
	BaseURL   string
	LogLevel  string
	LogFormat string

	SessionTimeout time.Duration
	SessionSecret  []byte
	SessionBackend string // "cookie" or "redis"
	SecureCookies  bool
	RedisAddr      string
	RedisPassword  string

	PostmarkToken string
	MailFrom      string

	S3Endpoint       string
	S3Bucket         string
	S3Region         string
	S3AccessKey      string
	S3SecretKey      string
	BackupPassphrase string
	BackupInterval   time.Duration
	BackupKeep       int

	AdminEmail    string
	AdminPassword string
	AdminName     string

	WSOrigins []string
	// peers allowed to set CF-Connecting-IP and X-Forwarded-For
	TrustedProxies []string

	// set when no session secret was configured and one was generated
	GeneratedSecret bool
}

// Load applies envFiles (default ".env") without overriding variables that
// are already set, then reads the environment. Missing env files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Port:      getEnv("CAMPUSKUBO_PORT", "8080"),
		DBPath:    getEnv("CAMPUSKUBO_DB_PATH", "campuskubo.db"),
		LogLevel:  getEnv("CAMPUSKUBO_LOG_LEVEL", "info"),
		LogFormat: getEnv("CAMPUSKUBO_LOG_FORMAT", "text"),

		SessionBackend: strings.ToLower(getEnv("CAMPUSKUBO_SESSION_BACKEND", "cookie")),
		RedisAddr:      os.Getenv("CAMPUSKUBO_REDIS_ADDR"),
		RedisPassword:  os.Getenv("CAMPUSKUBO_REDIS_PASSWORD"),

		PostmarkToken: os.Getenv("CAMPUSKUBO_POSTMARK_TOKEN"),
		MailFrom:      getEnv("CAMPUSKUBO_MAIL_FROM", "noreply@campuskubo.ph"),

		S3Endpoint:       os.Getenv("CAMPUSKUBO_S3_ENDPOINT"),
		S3Bucket:         os.Getenv("CAMPUSKUBO_S3_BUCKET"),
		S3Region:         getEnv("CAMPUSKUBO_S3_REGION", "us-east-1"),
		S3AccessKey:      os.Getenv("CAMPUSKUBO_S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("CAMPUSKUBO_S3_SECRET_KEY"),
		BackupPassphrase: os.Getenv("CAMPUSKUBO_BACKUP_PASSPHRASE"),

		AdminEmail:    os.Getenv("CAMPUSKUBO_ADMIN_EMAIL"),
		AdminPassword: os.Getenv("CAMPUSKUBO_ADMIN_PASSWORD"),
		AdminName:     getEnv("CAMPUSKUBO_ADMIN_NAME", "Administrator"),
	}
	cfg.BaseURL = strings.TrimRight(getEnv("CAMPUSKUBO_BASE_URL", "http://localhost:"+cfg.Port), "/")
	cfg.SecureCookies = strings.HasPrefix(cfg.BaseURL, "https://")

	minutes, err := strconv.Atoi(getEnv("SESSION_TIMEOUT_MINUTES", "60"))
	if err != nil || minutes <= 0 {
		return nil, fmt.Errorf("invalid SESSION_TIMEOUT_MINUTES %q: must be a positive integer", os.Getenv("SESSION_TIMEOUT_MINUTES"))
	}
	cfg.SessionTimeout = time.Duration(minutes) * time.Minute

	switch cfg.SessionBackend {
	case "cookie":
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("CAMPUSKUBO_REDIS_ADDR is required when CAMPUSKUBO_SESSION_BACKEND=redis")
		}
	default:
		return nil, fmt.Errorf("invalid CAMPUSKUBO_SESSION_BACKEND %q: must be cookie or redis", cfg.SessionBackend)
	}

	if secret := os.Getenv("CAMPUSKUBO_SESSION_SECRET"); secret != "" {
		if len(secret) < 32 {
			return nil, fmt.Errorf("CAMPUSKUBO_SESSION_SECRET must be at least 32 characters long")
		}
		cfg.SessionSecret = []byte(secret)
	} else {
		cfg.SessionSecret = make([]byte, 32)
		if _, err := rand.Read(cfg.SessionSecret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		cfg.GeneratedSecret = true
	}

	if v := os.Getenv("CAMPUSKUBO_BACKUP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid CAMPUSKUBO_BACKUP_INTERVAL %q", v)
		}
		cfg.BackupInterval = d
	}
	keep, err := strconv.Atoi(getEnv("CAMPUSKUBO_BACKUP_KEEP", "30"))
	if err != nil || keep < 0 {
		return nil, fmt.Errorf("invalid CAMPUSKUBO_BACKUP_KEEP %q", os.Getenv("CAMPUSKUBO_BACKUP_KEEP"))
	}
	cfg.BackupKeep = keep

	cfg.WSOrigins = splitList(os.Getenv("CAMPUSKUBO_WS_ORIGINS"))
	cfg.TrustedProxies = splitList(os.Getenv("CAMPUSKUBO_TRUSTED_PROXIES"))

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
