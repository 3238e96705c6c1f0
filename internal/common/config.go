package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Storage  StorageConfig
	OCR      OCRConfig
	LLM      LLMConfig
	Trend    TrendConfig
	Cache    CacheConfig
	Auth     AuthConfig
	Queue    QueueConfig
	LogLevel string
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // postgres | sqlite
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	PublicBaseURL   string
	RateLimitPerMin int
}

// StorageConfig holds upload storage configuration
type StorageConfig struct {
	Dir           string
	UploadTTL     time.Duration
	SweepInterval time.Duration
	MaxFileMB     int
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Pdftotext   string
	Pdftoppm    string
	Tesseract   string
	Lang        string
	DPI         int
	MaxPages    int
	TessdataDir string
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Mode        string // regex | llm
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float32
	Timeout     time.Duration
	MaxVisionMB int
}

// TrendConfig holds the position thresholds, in percentage points.
type TrendConfig struct {
	GreenPct  float64
	YellowPct float64
}

// CacheConfig holds the zone aggregate cache configuration
type CacheConfig struct {
	RedisURL string
	ZoneTTL  time.Duration
}

// AuthConfig holds admin authentication configuration
type AuthConfig struct {
	AdminPasswordHash string
	JWTSecret         string
	TokenTTL          time.Duration
}

// QueueConfig holds analysis worker configuration
type QueueConfig struct {
	Workers int
	Size    int
	Timeout time.Duration
}

// fileOverlay is the subset of settings that may be tuned from CONFIG_FILE.
type fileOverlay struct {
	Trend struct {
		GreenPct  *float64 `yaml:"green_pct"`
		YellowPct *float64 `yaml:"yellow_pct"`
	} `yaml:"trend"`
	Zone struct {
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"zone"`
}

// LoadConfig loads configuration from environment variables, then applies CONFIG_FILE if set.
func LoadConfig() (*Config, error) {
	driver := getEnv("DB_DRIVER", "postgres")
	defaultDSN := ""
	if driver == "sqlite" {
		defaultDSN = "file:billtrends.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	cfg := &Config{
		Database: DatabaseConfig{
			Driver:           driver,
			DSN:              getEnv("DB_URL", defaultDSN),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8000"),
			GRPCAddr:        getEnv("GRPC_ADDR", ":8081"),
			PublicBaseURL:   getEnv("PUBLIC_BASE_URL", "http://localhost:3000"),
			RateLimitPerMin: getEnvAsInt("RATE_LIMIT_PER_MIN", 30),
		},
		Storage: StorageConfig{
			Dir:           getEnv("STORAGE_DIR", "./data/uploads"),
			UploadTTL:     getEnvAsDuration("UPLOAD_TTL", 24*time.Hour),
			SweepInterval: getEnvAsDuration("SWEEP_INTERVAL", time.Hour),
			MaxFileMB:     getEnvAsInt("MAX_FILE_MB", 15),
		},
		OCR: OCRConfig{
			Pdftotext:   getEnv("PDFTOTEXT_BIN", "pdftotext"),
			Pdftoppm:    getEnv("PDFTOPPM_BIN", "pdftoppm"),
			Tesseract:   getEnv("TESSERACT_BIN", "tesseract"),
			Lang:        getEnv("OCR_LANG", "ita"),
			DPI:         getEnvAsInt("OCR_DPI", 300),
			MaxPages:    getEnvAsInt("OCR_MAX_PAGES", 3),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
		},
		LLM: LLMConfig{
			Mode:        getEnv("EXTRACTOR", "regex"),
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
			MaxVisionMB: getEnvAsInt("MAX_VISION_MB", 8),
		},
		Trend: TrendConfig{
			GreenPct:  getEnvAsFloat64("TREND_GREEN_THRESHOLD_PCT", 15),
			YellowPct: getEnvAsFloat64("TREND_YELLOW_THRESHOLD_PCT", 30),
		},
		Cache: CacheConfig{
			RedisURL: getEnv("REDIS_URL", ""),
			ZoneTTL:  getEnvAsDuration("ZONE_CACHE_TTL", 5*time.Minute),
		},
		Auth: AuthConfig{
			AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
			JWTSecret:         getEnv("JWT_SECRET", ""),
			TokenTTL:          getEnvAsDuration("ADMIN_TOKEN_TTL", 12*time.Hour),
		},
		Queue: QueueConfig{
			Workers: getEnvAsInt("ANALYSIS_WORKERS", 2),
			Size:    getEnvAsInt("ANALYSIS_QUEUE_SIZE", 64),
			Timeout: getEnvAsDuration("ANALYSIS_TIMEOUT", 3*time.Minute),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.applyOverlay(data); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) applyOverlay(data []byte) error {
	var o fileOverlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if o.Trend.GreenPct != nil {
		c.Trend.GreenPct = *o.Trend.GreenPct
	}
	if o.Trend.YellowPct != nil {
		c.Trend.YellowPct = *o.Trend.YellowPct
	}
	if o.Zone.CacheTTL != "" {
		d, err := time.ParseDuration(o.Zone.CacheTTL)
		if err != nil {
			return fmt.Errorf("parse zone.cache_ttl: %w", err)
		}
		c.Cache.ZoneTTL = d
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate rejects configurations the daemon cannot run with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("DB_DRIVER %q is not supported", c.Database.Driver), ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	switch c.LLM.Mode {
	case "regex":
	case "llm":
		if c.LLM.APIKey == "" {
			return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required when EXTRACTOR=llm", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("EXTRACTOR %q is not supported", c.LLM.Mode), ErrInvalidInput)
	}
	if c.Trend.GreenPct < 0 || c.Trend.YellowPct < c.Trend.GreenPct {
		return NewAppError("CONFIG_ERROR", "trend thresholds must satisfy 0 <= green <= yellow", ErrInvalidInput)
	}
	if c.Storage.MaxFileMB <= 0 {
		return NewAppError("CONFIG_ERROR", "MAX_FILE_MB must be positive", ErrInvalidInput)
	}
	if c.Auth.AdminPasswordHash != "" && c.Auth.JWTSecret == "" {
		return NewAppError("CONFIG_ERROR", "JWT_SECRET is required when ADMIN_PASSWORD_HASH is set", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	return nil
}
