package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Broker     BrokerConfig
	JWT        JWTConfig
	Server     ServerConfig
	Engine     EngineConfig
	Session    SessionConfig
	Log        LogConfig
	SelfHosted bool
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BrokerMemory = "memory"
	BrokerRedis  = "redis"
)

// DatabaseConfig selects the repository backend and its connection settings.
type DatabaseConfig struct {
	Driver     string
	Host       string
	Port       int
	User       string
	Password   string //nolint:gosec // G117: DB connection config
	DBName     string
	SSLMode    string
	MaxConns   int
	SQLitePath string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// BrokerConfig selects how board traffic is fanned out.
type BrokerConfig struct {
	Mode   string
	Buffer int
}

// JWTConfig holds identity token settings.
type JWTConfig struct {
	Secret string //nolint:gosec // G117: JWT signing secret config
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	RateLimit       float64
	RateBurst       int
}

// EngineConfig tunes the per-board sync engine.
type EngineConfig struct {
	HistoryDepth   int
	EventRetention int
	QueueSize      int
	CommitTimeout  time.Duration
}

// SessionConfig tunes websocket sessions.
type SessionConfig struct {
	OutboxSize    int
	PingInterval  time.Duration
	CursorRate    float64
	CursorBurst   int
	MutationRate  float64
	MutationBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret, DB password) must be set explicitly.
func Load() (*Config, error) {
	l := loader{}

	cfg := &Config{
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("INKBOARD_DB_DRIVER", DriverSQLite)),
			Host:       getEnv("INKBOARD_DB_HOST", "localhost"),
			Port:       l.int("INKBOARD_DB_PORT", 5432),
			User:       getEnv("INKBOARD_DB_USER", "inkboard"),
			Password:   getEnv("INKBOARD_DB_PASSWORD", ""),
			DBName:     getEnv("INKBOARD_DB_NAME", "inkboard_dev"),
			SSLMode:    getEnv("INKBOARD_DB_SSLMODE", "disable"),
			MaxConns:   l.int("INKBOARD_DB_MAX_CONNS", 25),
			SQLitePath: getEnv("INKBOARD_SQLITE_PATH", "inkboard.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("INKBOARD_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("INKBOARD_REDIS_PASSWORD", ""),
			DB:       l.int("INKBOARD_REDIS_DB", 0),
		},
		Broker: BrokerConfig{
			Mode:   strings.ToLower(getEnv("INKBOARD_BROKER", BrokerMemory)),
			Buffer: l.int("INKBOARD_BROKER_BUFFER", 256),
		},
		JWT: JWTConfig{
			Secret: getEnv("INKBOARD_JWT_SECRET", ""),
		},
		Server: ServerConfig{
			Addr:            getEnv("INKBOARD_SERVER_ADDR", ":8080"),
			ReadTimeout:     l.duration("INKBOARD_SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    l.duration("INKBOARD_SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: l.duration("INKBOARD_SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			CORSOrigins:     getEnvList("INKBOARD_CORS_ORIGINS", []string{"http://localhost:5173"}),
			RateLimit:       l.float("INKBOARD_RATE_LIMIT", 100),
			RateBurst:       l.int("INKBOARD_RATE_BURST", 200),
		},
		Engine: EngineConfig{
			HistoryDepth:   l.int("INKBOARD_HISTORY_DEPTH", 100),
			EventRetention: l.int("INKBOARD_EVENT_RETENTION", 1000),
			QueueSize:      l.int("INKBOARD_QUEUE_SIZE", 256),
			CommitTimeout:  l.duration("INKBOARD_COMMIT_TIMEOUT", 5*time.Second),
		},
		Session: SessionConfig{
			OutboxSize:    l.int("INKBOARD_OUTBOX_SIZE", 256),
			PingInterval:  l.duration("INKBOARD_PING_INTERVAL", 30*time.Second),
			CursorRate:    l.float("INKBOARD_CURSOR_RATE", 60),
			CursorBurst:   l.int("INKBOARD_CURSOR_BURST", 120),
			MutationRate:  l.float("INKBOARD_MUTATION_RATE", 30),
			MutationBurst: l.int("INKBOARD_MUTATION_BURST", 60),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("INKBOARD_LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("INKBOARD_LOG_FORMAT", "json")),
		},
		SelfHosted: l.bool("INKBOARD_SELF_HOSTED", false),
	}
	if l.err != nil {
		return nil, fmt.Errorf("config.Load: %w", l.err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("INKBOARD_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("INKBOARD_JWT_SECRET must be at least 32 characters")
	}

	switch c.Database.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Database.SSLMode == "disable" && !c.SelfHosted {
			log.Warn().Msg("INKBOARD_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("INKBOARD_DB_PORT must be 1-65535, got %d", c.Database.Port)
		}
	default:
		return fmt.Errorf("INKBOARD_DB_DRIVER must be memory, sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.Driver == DriverSQLite && c.Database.SQLitePath == "" {
		return errors.New("INKBOARD_SQLITE_PATH is required for the sqlite driver")
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("INKBOARD_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}

	switch c.Broker.Mode {
	case BrokerMemory, BrokerRedis:
	default:
		return fmt.Errorf("INKBOARD_BROKER must be memory or redis, got %q", c.Broker.Mode)
	}
	if c.Broker.Buffer < 1 {
		return fmt.Errorf("INKBOARD_BROKER_BUFFER must be >= 1, got %d", c.Broker.Buffer)
	}

	// Bounds checks.
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("INKBOARD_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("INKBOARD_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("INKBOARD_SERVER_SHUTDOWN_TIMEOUT must be positive, got %s", c.Server.ShutdownTimeout)
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst < 1 {
		return fmt.Errorf("INKBOARD_RATE_LIMIT and INKBOARD_RATE_BURST must be positive, got %g/%d", c.Server.RateLimit, c.Server.RateBurst)
	}
	if c.Engine.HistoryDepth < 1 {
		return fmt.Errorf("INKBOARD_HISTORY_DEPTH must be >= 1, got %d", c.Engine.HistoryDepth)
	}
	if c.Engine.EventRetention < 1 {
		return fmt.Errorf("INKBOARD_EVENT_RETENTION must be >= 1, got %d", c.Engine.EventRetention)
	}
	if c.Engine.QueueSize < 1 {
		return fmt.Errorf("INKBOARD_QUEUE_SIZE must be >= 1, got %d", c.Engine.QueueSize)
	}
	if c.Engine.CommitTimeout <= 0 {
		return fmt.Errorf("INKBOARD_COMMIT_TIMEOUT must be positive, got %s", c.Engine.CommitTimeout)
	}
	if c.Session.OutboxSize < 1 {
		return fmt.Errorf("INKBOARD_OUTBOX_SIZE must be >= 1, got %d", c.Session.OutboxSize)
	}
	if c.Session.PingInterval <= 0 {
		return fmt.Errorf("INKBOARD_PING_INTERVAL must be positive, got %s", c.Session.PingInterval)
	}
	if c.Session.CursorRate <= 0 || c.Session.CursorBurst < 1 {
		return fmt.Errorf("INKBOARD_CURSOR_RATE and INKBOARD_CURSOR_BURST must be positive, got %g/%d", c.Session.CursorRate, c.Session.CursorBurst)
	}
	if c.Session.MutationRate <= 0 || c.Session.MutationBurst < 1 {
		return fmt.Errorf("INKBOARD_MUTATION_RATE and INKBOARD_MUTATION_BURST must be positive, got %g/%d", c.Session.MutationRate, c.Session.MutationBurst)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("INKBOARD_LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// loader keeps the first parse error so Load can read every variable in one
// pass.
type loader struct {
	err error
}

func (l *loader) int(key string, fallback int) int {
	n, err := getEnvInt(key, fallback)
	l.keep(err)
	return n
}

func (l *loader) float(key string, fallback float64) float64 {
	f, err := getEnvFloat(key, fallback)
	l.keep(err)
	return f
}

func (l *loader) bool(key string, fallback bool) bool {
	b, err := getEnvBool(key, fallback)
	l.keep(err)
	return b
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	d, err := getEnvDuration(key, fallback)
	l.keep(err)
	return d
}

func (l *loader) keep(err error) {
	if l.err == nil {
		l.err = err
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
