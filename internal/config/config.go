package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service. It is built once at
// startup and handed to every component that needs it.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Telegram    TelegramConfig            `json:"telegram"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	AdminSecret       string `json:"admin_secret"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout"` // seconds
	JobTimeout        int    `json:"job_timeout"`         // seconds
	StatsSchedule     string `json:"stats_schedule"`
}

type TelegramConfig struct {
	BotToken        string `json:"bot_token"`
	BotUsername     string `json:"bot_username"`
	ForceChannel    string `json:"force_channel"`
	ForceChannelURL string `json:"force_channel_url"`
	APIBase         string `json:"api_base"`
	RequestTimeout  int    `json:"request_timeout"` // seconds
	GateTimeout     int    `json:"gate_timeout"`    // seconds
	GateCacheTTL    int    `json:"gate_cache_ttl"`  // seconds, negative disables
	GateCacheSize   int    `json:"gate_cache_size"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

const (
	DefaultServerAddress = ":8090"
	DefaultAPIBase       = "https://api.telegram.org"
	DefaultSQLiteDSN     = "./data/codedrop.db"
)

// Load reads configuration from the provided path, then applies .env and
// environment overrides. A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// env-only deployment
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}
	applyEnv(cfg)
	applyDefaults(cfg)

	if sq, ok := cfg.Databases["sqlite3"]; ok && sq.DSN != "" && !isMemoryDSN(sq.DSN) && !filepath.IsAbs(sq.DSN) && !strings.HasPrefix(sq.DSN, "file:") {
		sq.DSN = filepath.Join(filepath.Dir(absPath), sq.DSN)
		cfg.Databases["sqlite3"] = sq
	}
	return cfg, nil
}

// Validate reports configuration errors that prevent talking to the platform.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.BotToken) == "" {
		return errors.New("bot token must be configured (BOT_TOKEN)")
	}
	if strings.TrimSpace(c.Telegram.BotUsername) == "" {
		return errors.New("bot username must be configured (BOT_USERNAME)")
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Telegram.BotToken, "BOT_TOKEN")
	setString(&cfg.Telegram.BotUsername, "BOT_USERNAME")
	setString(&cfg.Telegram.ForceChannel, "FORCE_CHANNEL")
	setString(&cfg.Telegram.ForceChannelURL, "FORCE_CHANNEL_URL")
	setString(&cfg.Telegram.APIBase, "TELEGRAM_API_BASE")
	setString(&cfg.BasicConfig.AdminSecret, "ADMIN_SECRET")
	setString(&cfg.BasicConfig.ServerAddress, "CODEDROP_ADDR")
	setString(&cfg.BasicConfig.StatsSchedule, "CODEDROP_STATS_SCHEDULE")

	if dsn := os.Getenv("CODEDROP_DB_DSN"); dsn != "" {
		driver := os.Getenv("CODEDROP_DB")
		if driver == "" {
			driver = "sqlite3"
		}
		if cfg.Databases == nil {
			cfg.Databases = make(map[string]DatabaseConfig)
		}
		db := cfg.Databases[driver]
		db.DSN = dsn
		cfg.Databases[driver] = db
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Host = host
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = port
		} else {
			log.Printf("ignore REDIS_PORT %q: %v", v, err)
		}
	}
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
}

func applyDefaults(cfg *Config) {
	b := &cfg.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = DefaultServerAddress
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = 16
		if b.MaxWorkers < b.MinWorkers {
			b.MaxWorkers = b.MinWorkers
		}
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 256
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 30
	}
	if b.JobTimeout <= 0 {
		b.JobTimeout = 30
	}

	t := &cfg.Telegram
	t.BotUsername = strings.TrimPrefix(strings.TrimSpace(t.BotUsername), "@")
	if t.APIBase == "" {
		t.APIBase = DefaultAPIBase
	}
	t.APIBase = strings.TrimRight(t.APIBase, "/")
	if t.RequestTimeout <= 0 {
		t.RequestTimeout = 10
	}
	if t.GateTimeout <= 0 {
		t.GateTimeout = 5
	}
	if t.GateCacheTTL == 0 {
		t.GateCacheTTL = 60
	}
	if t.GateCacheSize <= 0 {
		t.GateCacheSize = 4096
	}

	if cfg.Databases == nil {
		cfg.Databases = make(map[string]DatabaseConfig)
	}
	if sq, ok := cfg.Databases["sqlite3"]; !ok || sq.DSN == "" {
		sq.DSN = DefaultSQLiteDSN
		cfg.Databases["sqlite3"] = sq
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}
