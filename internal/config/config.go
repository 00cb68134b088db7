package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

type Config struct {
	HTTP            HTTPConfig
	API             APIConfig
	Storage         StorageConfig
	Forms           FormsConfig
	Login           LoginConfig
	FrontendDistDir string
	AuditLogFile    string
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// APIConfig points the console at the remote e-commerce API.
type APIConfig struct {
	BaseURL          string
	Timeout          time.Duration
	RefreshTimeout   time.Duration
	BootstrapTimeout time.Duration
}

// StorageConfig selects where durable console state (form snapshots, UI
// preferences) lives. The return path is always process-scoped.
type StorageConfig struct {
	Driver      string
	StateFile   string
	DatabaseURL string
}

type FormsConfig struct {
	Debounce time.Duration
	TTL      time.Duration
}

type LoginConfig struct {
	RatePerMinute int
	Burst         int
}

func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ReadTimeout:     time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SEC", 10)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SEC", 30)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("HTTP_SHUTDOWN_TIMEOUT_SEC", 20)) * time.Second,
		},
		API: APIConfig{
			BaseURL:          getEnv("API_BASE_URL", "http://localhost:8081"),
			Timeout:          time.Duration(getEnvInt("API_TIMEOUT_SEC", 15)) * time.Second,
			RefreshTimeout:   time.Duration(getEnvInt("API_REFRESH_TIMEOUT_SEC", 15)) * time.Second,
			BootstrapTimeout: time.Duration(getEnvInt("API_BOOTSTRAP_TIMEOUT_SEC", 30)) * time.Second,
		},
		Storage: StorageConfig{
			Driver:      getEnv("STORAGE_DRIVER", StorageFile),
			StateFile:   getEnv("STORAGE_STATE_FILE", "./data/console_state.json"),
			DatabaseURL: getEnv("DATABASE_URL", ""),
		},
		Forms: FormsConfig{
			Debounce: time.Duration(getEnvInt("FORMS_DEBOUNCE_MS", 500)) * time.Millisecond,
			TTL:      time.Duration(getEnvInt("FORMS_TTL_SEC", 3600)) * time.Second,
		},
		Login: LoginConfig{
			RatePerMinute: getEnvInt("LOGIN_RATE_PER_MIN", 10),
			Burst:         getEnvInt("LOGIN_BURST", 5),
		},
		FrontendDistDir: getEnv("FRONTEND_DIST_DIR", "./web/dist"),
		AuditLogFile:    getEnv("AUDIT_LOG_FILE", "./data/audit.log"),
	}

	if cfg.HTTP.Addr == "" {
		return Config{}, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("API_BASE_URL must be an absolute http(s) URL")
	}
	if cfg.API.Timeout <= 0 {
		return Config{}, fmt.Errorf("API_TIMEOUT_SEC must be > 0")
	}
	if cfg.API.RefreshTimeout <= 0 {
		return Config{}, fmt.Errorf("API_REFRESH_TIMEOUT_SEC must be > 0")
	}
	if cfg.API.BootstrapTimeout <= 0 {
		return Config{}, fmt.Errorf("API_BOOTSTRAP_TIMEOUT_SEC must be > 0")
	}
	switch cfg.Storage.Driver {
	case StorageMemory:
	case StorageFile:
		if cfg.Storage.StateFile == "" {
			return Config{}, fmt.Errorf("STORAGE_STATE_FILE must not be empty")
		}
	case StoragePostgres:
		if cfg.Storage.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER=postgres")
		}
	default:
		return Config{}, fmt.Errorf("STORAGE_DRIVER must be one of memory, file, postgres")
	}
	if cfg.Forms.Debounce <= 0 {
		return Config{}, fmt.Errorf("FORMS_DEBOUNCE_MS must be > 0")
	}
	if cfg.Forms.TTL <= 0 {
		return Config{}, fmt.Errorf("FORMS_TTL_SEC must be > 0")
	}
	if cfg.Login.RatePerMinute <= 0 {
		return Config{}, fmt.Errorf("LOGIN_RATE_PER_MIN must be > 0")
	}
	if cfg.Login.Burst <= 0 {
		return Config{}, fmt.Errorf("LOGIN_BURST must be > 0")
	}
	if cfg.AuditLogFile == "" {
		return Config{}, fmt.Errorf("AUDIT_LOG_FILE must not be empty")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}
