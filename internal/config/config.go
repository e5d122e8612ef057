package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Log struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type OTP struct {
	Secret            string
	TestCode          string
	TTL               time.Duration
	ResendCooldown    time.Duration
	SendRatePerMinute int
}

type Config struct {
	EnvFilePath     string
	HTTPPort        string
	DatabaseURL     string
	JWTSecret       string
	JWTIssuer       string
	SessionTTL      time.Duration
	OTP             OTP
	Redis           Redis
	NATSURL         string
	WheelConfigPath string
	WheelCacheTTL   time.Duration
	SpinLocation    *time.Location
	AdminPassword   string
	AdminAllowedIPs []string
	AdminTOTPSecret string
	CORSOrigins     []string
	SweepInterval   time.Duration
	DemoMode        bool
	Receipt         Receipt
	Log             Log
}

// Receipt selects the analyzer: an OCR endpoint when URL is set, otherwise
// the simulated one.
type Receipt struct {
	URL          string
	Token        string
	Timeout      time.Duration
	SimulatedFor time.Duration
}

func Load() (*Config, error) {
	envPath := resolveEnvPath()
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		envPath = ".env"
		_ = godotenv.Load()
	}

	cfg := &Config{
		EnvFilePath: getEnv("ENV_FILE_PATH", envPath),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   getEnv("JWT_ISSUER", "taoo-rewards"),
		SessionTTL:  getDuration("SESSION_TTL", 30*24*time.Hour),
		OTP: OTP{
			Secret:            os.Getenv("OTP_SECRET"),
			TestCode:          getEnv("OTP_TEST_CODE", "1234"),
			TTL:               getDuration("OTP_TTL", 5*time.Minute),
			ResendCooldown:    getDuration("OTP_RESEND_COOLDOWN", 60*time.Second),
			SendRatePerMinute: getInt("OTP_SEND_RATE_PER_MINUTE", 10),
		},
		Redis: Redis{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		NATSURL:         os.Getenv("NATS_URL"),
		WheelConfigPath: os.Getenv("WHEEL_CONFIG_PATH"),
		WheelCacheTTL:   getDuration("WHEEL_CACHE_TTL", 30*time.Second),
		AdminPassword:   os.Getenv("ADMIN_PASSWORD"),
		AdminAllowedIPs: splitCSV(os.Getenv("ADMIN_ALLOWED_IPS")),
		AdminTOTPSecret: os.Getenv("ADMIN_TOTP_SECRET"),
		CORSOrigins:     splitCSV(getEnv("CORS_ORIGINS", "*")),
		SweepInterval:   getDuration("SWEEP_INTERVAL", time.Minute),
		DemoMode:        getBool("DEMO_MODE", false),
		Receipt: Receipt{
			URL:          os.Getenv("RECEIPT_OCR_URL"),
			Token:        os.Getenv("RECEIPT_OCR_TOKEN"),
			Timeout:      getDuration("RECEIPT_OCR_TIMEOUT", 15*time.Second),
			SimulatedFor: getDuration("RECEIPT_SIMULATED_DELAY", 2*time.Second),
		},
		Log: Log{
			Level:      getEnv("LOG_LEVEL", "info"),
			Path:       os.Getenv("LOG_PATH"),
			MaxSizeMB:  getInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getInt("LOG_MAX_AGE_DAYS", 7),
			Compress:   getBool("LOG_COMPRESS", false),
		},
	}

	loc, err := time.LoadLocation(getEnv("SPIN_TIMEZONE", "Africa/Tunis"))
	if err != nil {
		return nil, fmt.Errorf("SPIN_TIMEZONE: %w", err)
	}
	cfg.SpinLocation = loc

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.OTP.Secret == "" {
		return nil, errors.New("OTP_SECRET is required")
	}
	if cfg.AdminPassword != "" && cfg.AdminTOTPSecret == "" {
		return nil, errors.New("ADMIN_TOTP_SECRET is required for admin login")
	}
	return cfg, nil
}

// AdminEnabled reports whether the admin endpoints can authenticate anyone.
func (c *Config) AdminEnabled() bool {
	return c.AdminPassword != "" && c.AdminTOTPSecret != ""
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return time.Duration(v) * time.Second
	}
	return def
}

func getInt(key string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return def
}

func resolveEnvPath() string {
	if path := os.Getenv("ENV_FILE_PATH"); path != "" {
		return path
	}
	candidates := []string{".env", "local-only/.env"}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
