package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-at-least-32ch"

// ---------------------------------------------------------------------------
// Helper function tests
// ---------------------------------------------------------------------------

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string // nil = don't set; pointer to distinguish "" from unset
		fallback string
		want     string
	}{
		{name: "returns fallback when unset", key: "INKBOARD_TEST_GETENV_UNSET", setVal: nil, fallback: "default", want: "default"},
		{name: "returns env value when set", key: "INKBOARD_TEST_GETENV_SET", setVal: strPtr("custom"), fallback: "default", want: "custom"},
		{name: "returns fallback when empty string", key: "INKBOARD_TEST_GETENV_EMPTY", setVal: strPtr(""), fallback: "default", want: "default"},
		{name: "preserves whitespace", key: "INKBOARD_TEST_GETENV_WS", setVal: strPtr("  spaced  "), fallback: "x", want: "  spaced  "},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got := getEnv(tc.key, tc.fallback)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "INKBOARD_TEST_INT_UNSET", setVal: nil, fallback: 42, want: 42},
		{name: "parses valid int", key: "INKBOARD_TEST_INT_VALID", setVal: strPtr("8080"), fallback: 0, want: 8080},
		{name: "parses negative int", key: "INKBOARD_TEST_INT_NEG", setVal: strPtr("-1"), fallback: 0, want: -1},
		{name: "returns fallback for empty string", key: "INKBOARD_TEST_INT_EMPTY", setVal: strPtr(""), fallback: 25, want: 25},
		{name: "errors on non-numeric", key: "INKBOARD_TEST_INT_NAN", setVal: strPtr("abc"), fallback: 0, wantErr: true},
		{name: "errors on float", key: "INKBOARD_TEST_INT_FLOAT", setVal: strPtr("3.14"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvInt(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback float64
		want     float64
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "INKBOARD_TEST_FLOAT_UNSET", setVal: nil, fallback: 2.5, want: 2.5},
		{name: "parses integer form", key: "INKBOARD_TEST_FLOAT_INT", setVal: strPtr("60"), fallback: 0, want: 60},
		{name: "parses fraction", key: "INKBOARD_TEST_FLOAT_FRAC", setVal: strPtr("0.5"), fallback: 0, want: 0.5},
		{name: "errors on junk", key: "INKBOARD_TEST_FLOAT_BAD", setVal: strPtr("fast"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvFloat(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback bool
		want     bool
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "INKBOARD_TEST_BOOL_UNSET", setVal: nil, fallback: true, want: true},
		{name: "parses true", key: "INKBOARD_TEST_BOOL_TRUE", setVal: strPtr("true"), fallback: false, want: true},
		{name: "parses 0", key: "INKBOARD_TEST_BOOL_ZERO", setVal: strPtr("0"), fallback: true, want: false},
		{name: "errors on invalid", key: "INKBOARD_TEST_BOOL_INV", setVal: strPtr("yes"), fallback: false, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvBool(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "INKBOARD_TEST_DUR_UNSET", setVal: nil, fallback: 5 * time.Second, want: 5 * time.Second},
		{name: "parses composite", key: "INKBOARD_TEST_DUR_COMP", setVal: strPtr("1h30m"), fallback: 0, want: 90 * time.Minute},
		{name: "errors on bare number", key: "INKBOARD_TEST_DUR_BARE", setVal: strPtr("30"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvDuration(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvList(t *testing.T) {
	tests := []struct {
		name   string
		setVal *string
		want   []string
	}{
		{name: "fallback when unset", setVal: nil, want: []string{"a"}},
		{name: "splits and trims", setVal: strPtr(" https://a.test , https://b.test "), want: []string{"https://a.test", "https://b.test"}},
		{name: "drops empty entries", setVal: strPtr("x,,y,"), want: []string{"x", "y"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv("INKBOARD_TEST_LIST", *tc.setVal)
			}
			assert.Equal(t, tc.want, getEnvList("INKBOARD_TEST_LIST", []string{"a"}))
		})
	}
}

// ---------------------------------------------------------------------------
// Load() error cases
// ---------------------------------------------------------------------------

func TestLoad_MissingJWTSecret(t *testing.T) {
	// All defaults apply; JWT secret is empty => must fail.
	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "INKBOARD_JWT_SECRET")
}

func TestLoad_InvalidEnvVars(t *testing.T) {
	tests := []struct {
		name   string
		envs   map[string]string
		errMsg string
	}{
		{name: "DB_PORT not a number", envs: map[string]string{"INKBOARD_DB_PORT": "abc"}, errMsg: "INKBOARD_DB_PORT"},
		{name: "DB_PORT zero on postgres", envs: map[string]string{"INKBOARD_DB_DRIVER": "postgres", "INKBOARD_DB_PORT": "0"}, errMsg: "INKBOARD_DB_PORT"},
		{name: "DB_PORT too high on postgres", envs: map[string]string{"INKBOARD_DB_DRIVER": "postgres", "INKBOARD_DB_PORT": "65536"}, errMsg: "INKBOARD_DB_PORT"},
		{name: "DB_DRIVER unknown", envs: map[string]string{"INKBOARD_DB_DRIVER": "mysql"}, errMsg: "INKBOARD_DB_DRIVER"},
		{name: "DB_MAX_CONNS zero", envs: map[string]string{"INKBOARD_DB_MAX_CONNS": "0"}, errMsg: "INKBOARD_DB_MAX_CONNS"},
		{name: "BROKER unknown", envs: map[string]string{"INKBOARD_BROKER": "nats"}, errMsg: "INKBOARD_BROKER"},
		{name: "BROKER_BUFFER zero", envs: map[string]string{"INKBOARD_BROKER_BUFFER": "0"}, errMsg: "INKBOARD_BROKER_BUFFER"},
		{name: "SERVER_READ_TIMEOUT invalid", envs: map[string]string{"INKBOARD_SERVER_READ_TIMEOUT": "soon"}, errMsg: "INKBOARD_SERVER_READ_TIMEOUT"},
		{name: "SERVER_WRITE_TIMEOUT zero", envs: map[string]string{"INKBOARD_SERVER_WRITE_TIMEOUT": "0s"}, errMsg: "INKBOARD_SERVER_WRITE_TIMEOUT"},
		{name: "SHUTDOWN_TIMEOUT negative", envs: map[string]string{"INKBOARD_SERVER_SHUTDOWN_TIMEOUT": "-1s"}, errMsg: "INKBOARD_SERVER_SHUTDOWN_TIMEOUT"},
		{name: "RATE_LIMIT not a number", envs: map[string]string{"INKBOARD_RATE_LIMIT": "lots"}, errMsg: "INKBOARD_RATE_LIMIT"},
		{name: "HISTORY_DEPTH zero", envs: map[string]string{"INKBOARD_HISTORY_DEPTH": "0"}, errMsg: "INKBOARD_HISTORY_DEPTH"},
		{name: "EVENT_RETENTION zero", envs: map[string]string{"INKBOARD_EVENT_RETENTION": "0"}, errMsg: "INKBOARD_EVENT_RETENTION"},
		{name: "QUEUE_SIZE negative", envs: map[string]string{"INKBOARD_QUEUE_SIZE": "-1"}, errMsg: "INKBOARD_QUEUE_SIZE"},
		{name: "OUTBOX_SIZE zero", envs: map[string]string{"INKBOARD_OUTBOX_SIZE": "0"}, errMsg: "INKBOARD_OUTBOX_SIZE"},
		{name: "PING_INTERVAL invalid", envs: map[string]string{"INKBOARD_PING_INTERVAL": "often"}, errMsg: "INKBOARD_PING_INTERVAL"},
		{name: "CURSOR_RATE zero", envs: map[string]string{"INKBOARD_CURSOR_RATE": "0"}, errMsg: "INKBOARD_CURSOR_RATE"},
		{name: "MUTATION_BURST zero", envs: map[string]string{"INKBOARD_MUTATION_BURST": "0"}, errMsg: "INKBOARD_MUTATION_BURST"},
		{name: "LOG_FORMAT unknown", envs: map[string]string{"INKBOARD_LOG_FORMAT": "xml"}, errMsg: "INKBOARD_LOG_FORMAT"},
		{name: "REDIS_DB not a number", envs: map[string]string{"INKBOARD_REDIS_DB": "abc"}, errMsg: "INKBOARD_REDIS_DB"},
		{name: "SELF_HOSTED not a bool", envs: map[string]string{"INKBOARD_SELF_HOSTED": "yes"}, errMsg: "INKBOARD_SELF_HOSTED"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// Always set JWT secret so failures are from the var under test.
			t.Setenv("INKBOARD_JWT_SECRET", testSecret)
			for k, v := range tc.envs {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

// ---------------------------------------------------------------------------
// Load() happy paths
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("INKBOARD_JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "inkboard.db", cfg.Database.SQLitePath)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 25, cfg.Database.MaxConns)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, BrokerMemory, cfg.Broker.Mode)
	assert.Equal(t, 256, cfg.Broker.Buffer)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)

	assert.Equal(t, 100, cfg.Engine.HistoryDepth)
	assert.Equal(t, 1000, cfg.Engine.EventRetention)
	assert.Equal(t, 5*time.Second, cfg.Engine.CommitTimeout)

	assert.Equal(t, 256, cfg.Session.OutboxSize)
	assert.Equal(t, 30*time.Second, cfg.Session.PingInterval)
	assert.InDelta(t, 60.0, cfg.Session.CursorRate, 1e-9)
	assert.Equal(t, 60, cfg.Session.MutationBurst)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.SelfHosted)
}

func TestLoad_AllCustomValues(t *testing.T) {
	envs := map[string]string{
		"INKBOARD_DB_DRIVER":               "Postgres",
		"INKBOARD_DB_HOST":                 "db.prod.internal",
		"INKBOARD_DB_PORT":                 "5433",
		"INKBOARD_DB_USER":                 "prod_user",
		"INKBOARD_DB_PASSWORD":             "s3cret!",
		"INKBOARD_DB_NAME":                 "inkboard_prod",
		"INKBOARD_DB_SSLMODE":              "require",
		"INKBOARD_DB_MAX_CONNS":            "50",
		"INKBOARD_REDIS_ADDR":              "redis.prod:6380",
		"INKBOARD_REDIS_PASSWORD":          "redis-pass",
		"INKBOARD_REDIS_DB":                "3",
		"INKBOARD_BROKER":                  "redis",
		"INKBOARD_BROKER_BUFFER":           "1024",
		"INKBOARD_JWT_SECRET":              "prod-jwt-secret-256-bits-long!!!",
		"INKBOARD_SERVER_ADDR":             ":9090",
		"INKBOARD_SERVER_READ_TIMEOUT":     "5s",
		"INKBOARD_SERVER_WRITE_TIMEOUT":    "15s",
		"INKBOARD_SERVER_SHUTDOWN_TIMEOUT": "20s",
		"INKBOARD_CORS_ORIGINS":            "https://ink.example.com,https://admin.example.com",
		"INKBOARD_RATE_LIMIT":              "12.5",
		"INKBOARD_RATE_BURST":              "25",
		"INKBOARD_HISTORY_DEPTH":           "50",
		"INKBOARD_EVENT_RETENTION":         "5000",
		"INKBOARD_QUEUE_SIZE":              "64",
		"INKBOARD_COMMIT_TIMEOUT":          "2s",
		"INKBOARD_OUTBOX_SIZE":             "32",
		"INKBOARD_PING_INTERVAL":           "10s",
		"INKBOARD_CURSOR_RATE":             "20",
		"INKBOARD_CURSOR_BURST":            "40",
		"INKBOARD_MUTATION_RATE":           "5",
		"INKBOARD_MUTATION_BURST":          "10",
		"INKBOARD_LOG_LEVEL":               "DEBUG",
		"INKBOARD_LOG_FORMAT":              "text",
		"INKBOARD_SELF_HOSTED":             "true",
	}
	for k, v := range envs {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "db.prod.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "s3cret!", cfg.Database.Password)
	assert.Equal(t, 50, cfg.Database.MaxConns)

	assert.Equal(t, "redis.prod:6380", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, BrokerRedis, cfg.Broker.Mode)
	assert.Equal(t, 1024, cfg.Broker.Buffer)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 20*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"https://ink.example.com", "https://admin.example.com"}, cfg.Server.CORSOrigins)
	assert.InDelta(t, 12.5, cfg.Server.RateLimit, 1e-9)
	assert.Equal(t, 25, cfg.Server.RateBurst)

	assert.Equal(t, 50, cfg.Engine.HistoryDepth)
	assert.Equal(t, 5000, cfg.Engine.EventRetention)
	assert.Equal(t, 64, cfg.Engine.QueueSize)
	assert.Equal(t, 2*time.Second, cfg.Engine.CommitTimeout)

	assert.Equal(t, 32, cfg.Session.OutboxSize)
	assert.Equal(t, 10*time.Second, cfg.Session.PingInterval)
	assert.Equal(t, 40, cfg.Session.CursorBurst)
	assert.InDelta(t, 5.0, cfg.Session.MutationRate, 1e-9)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.True(t, cfg.SelfHosted)
}

// ---------------------------------------------------------------------------
// DSN() output format
// ---------------------------------------------------------------------------

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "default dev values",
			cfg: DatabaseConfig{
				Host: "localhost", Port: 5432, User: "inkboard",
				Password: "", DBName: "inkboard_dev", SSLMode: "disable",
			},
			want: "host=localhost port=5432 user=inkboard password= dbname=inkboard_dev sslmode=disable",
		},
		{
			name: "production values",
			cfg: DatabaseConfig{
				Host: "db.prod", Port: 5433, User: "admin",
				Password: "p@ss!", DBName: "inkboard_prod", SSLMode: "require",
			},
			want: "host=db.prod port=5433 user=admin password=p@ss! dbname=inkboard_prod sslmode=require",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.cfg.DSN())
		})
	}
}

// ---------------------------------------------------------------------------
// validate() direct tests
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	t.Parallel()

	// validBase returns a Config that passes validation.
	validBase := func() *Config {
		return &Config{
			Database: DatabaseConfig{Driver: DriverMemory, Port: 5432, MaxConns: 25},
			Broker:   BrokerConfig{Mode: BrokerMemory, Buffer: 16},
			JWT:      JWTConfig{Secret: testSecret},
			Server: ServerConfig{
				ReadTimeout:     10 * time.Second,
				WriteTimeout:    30 * time.Second,
				ShutdownTimeout: 15 * time.Second,
				RateLimit:       10,
				RateBurst:       20,
			},
			Engine: EngineConfig{HistoryDepth: 10, EventRetention: 100, QueueSize: 8, CommitTimeout: time.Second},
			Session: SessionConfig{
				OutboxSize: 8, PingInterval: time.Second,
				CursorRate: 1, CursorBurst: 1, MutationRate: 1, MutationBurst: 1,
			},
			Log: LogConfig{Level: "info", Format: "json"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid config passes", mutate: func(*Config) {}},
		{name: "empty JWT secret", mutate: func(c *Config) { c.JWT.Secret = "" }, wantErr: "INKBOARD_JWT_SECRET"},
		{name: "JWT secret too short", mutate: func(c *Config) { c.JWT.Secret = "only-31-characters-long-secret!" }, wantErr: "INKBOARD_JWT_SECRET"},
		{name: "JWT secret exactly 32 chars", mutate: func(c *Config) { c.JWT.Secret = "exactly-32-characters-long-sec!!" }},
		{name: "port ignored for memory driver", mutate: func(c *Config) { c.Database.Port = 0 }},
		{name: "port checked for postgres", mutate: func(c *Config) { c.Database.Driver, c.Database.Port = DriverPostgres, 0 }, wantErr: "INKBOARD_DB_PORT"},
		{name: "port 65535 on postgres", mutate: func(c *Config) { c.Database.Driver, c.Database.Port = DriverPostgres, 65535 }},
		{name: "sqlite without path", mutate: func(c *Config) { c.Database.Driver = DriverSQLite }, wantErr: "INKBOARD_SQLITE_PATH"},
		{name: "sqlite with path", mutate: func(c *Config) { c.Database.Driver, c.Database.SQLitePath = DriverSQLite, "x.db" }},
		{name: "MaxConns 0", mutate: func(c *Config) { c.Database.MaxConns = 0 }, wantErr: "INKBOARD_DB_MAX_CONNS"},
		{name: "broker empty", mutate: func(c *Config) { c.Broker.Mode = "" }, wantErr: "INKBOARD_BROKER"},
		{name: "ReadTimeout negative", mutate: func(c *Config) { c.Server.ReadTimeout = -time.Second }, wantErr: "INKBOARD_SERVER_READ_TIMEOUT"},
		{name: "RateBurst 0", mutate: func(c *Config) { c.Server.RateBurst = 0 }, wantErr: "INKBOARD_RATE_BURST"},
		{name: "CommitTimeout 0", mutate: func(c *Config) { c.Engine.CommitTimeout = 0 }, wantErr: "INKBOARD_COMMIT_TIMEOUT"},
		{name: "PingInterval 0", mutate: func(c *Config) { c.Session.PingInterval = 0 }, wantErr: "INKBOARD_PING_INTERVAL"},
		{name: "MutationRate 0", mutate: func(c *Config) { c.Session.MutationRate = 0 }, wantErr: "INKBOARD_MUTATION_RATE"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := validBase()
			tc.mutate(c)
			err := c.validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

// ---------------------------------------------------------------------------
// Test helper
// ---------------------------------------------------------------------------

func strPtr(s string) *string {
	return &s
}
