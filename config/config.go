package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"binance-spot-executor/internal/scoring"
)

type Config struct {
	BinanceConfig   BinanceConfig   `json:"binance"`
	EngineConfig    EngineConfig    `json:"engine"`
	SchedulerConfig SchedulerConfig `json:"scheduler"`
	OracleConfig    OracleConfig    `json:"oracle"`
	LoggingConfig   LoggingConfig   `json:"logging"`
	ServerConfig    ServerConfig    `json:"server"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	VaultConfig     VaultConfig     `json:"vault"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

type BinanceConfig struct {
	APIKey     string `json:"api_key"`
	SecretKey  string `json:"secret_key"`
	BaseURL    string `json:"base_url"`
	StreamURL  string `json:"stream_url"`
	TestNet    bool   `json:"testnet"`
	MockMode   bool   `json:"mock_mode"` // Simulated prices, balances and fills
	QuoteAsset string `json:"quote_asset"`
	// MockBalance seeds the simulated quote balance
	MockBalance float64 `json:"mock_balance"`
}

// EngineConfig holds position engine parameters
type EngineConfig struct {
	AllocationDivisor float64 `json:"allocation_divisor"` // Total value / divisor = base lot size in quote
	FeeRate           float64 `json:"fee_rate"`
	BreakEvenSlack    float64 `json:"break_even_slack"`
	MaxCoef           float64 `json:"max_coef"`
	CandleInterval    string  `json:"candle_interval"`
	CandleLimit       int     `json:"candle_limit"`

	Shrink scoring.ShrinkParams `json:"shrink"`
}

// SchedulerConfig holds execution scheduler parameters
type SchedulerConfig struct {
	EntryNotionalMultiplier float64       `json:"entry_notional_multiplier"`
	PollInterval            time.Duration `json:"poll_interval"` // Price polling in mock mode
}

// OracleConfig holds prediction oracle configuration
type OracleConfig struct {
	Enabled      bool          `json:"enabled"`
	Provider     string        `json:"provider"` // claude, openai, deepseek
	APIKey       string        `json:"api_key"`
	Model        string        `json:"model"`
	Endpoint     string        `json:"endpoint"`
	Temperature  float64       `json:"temperature"`
	MaxTokens    int           `json:"max_tokens"`
	Timeout      time.Duration `json:"timeout"`
	ZigZagWindow int           `json:"zigzag_window"`
}

type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins, comma separated
	PassphraseHash  string `json:"passphrase_hash"` // bcrypt hash of the alert passphrase
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
}

// RedisConfig holds Redis configuration for the shared pending-order set
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV v2 secrets engine mount path
	SecretPath string `json:"secret_path"` // Path prefix for exchange credentials
}

// Default returns the production defaults
func Default() *Config {
	return &Config{
		BinanceConfig: BinanceConfig{
			BaseURL:     "https://api.binance.com",
			StreamURL:   "wss://stream.binance.com:9443/ws",
			QuoteAsset:  "USDT",
			MockBalance: 10000,
		},
		EngineConfig: EngineConfig{
			AllocationDivisor: 30,
			FeeRate:           0.001,
			BreakEvenSlack:    1.0002,
			MaxCoef:           64,
			CandleInterval:    "1m",
			CandleLimit:       720,
			Shrink:            scoring.DefaultShrinkParams(),
		},
		SchedulerConfig: SchedulerConfig{
			EntryNotionalMultiplier: 2,
			PollInterval:            2 * time.Second,
		},
		OracleConfig: OracleConfig{
			Enabled:      true,
			Provider:     "openai",
			Model:        "gpt-4",
			Temperature:  0.2,
			MaxTokens:    200,
			Timeout:      30 * time.Second,
			ZigZagWindow: 2,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "spot_executor",
			Name:     "spot_executor",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		VaultConfig: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "spot-executor",
		},
	}
}

// Load reads config.json when present and applies environment overrides
func Load() (*Config, error) {
	return LoadFile("config.json")
}

// LoadFile is Load with an explicit file name
func LoadFile(filename string) (*Config, error) {
	cfg := Default()
	if err := loadFromFile(filename, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	// Environment variables take precedence over the file
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Binance config
	cfg.BinanceConfig.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.BinanceConfig.APIKey)
	cfg.BinanceConfig.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.BinanceConfig.SecretKey)
	cfg.BinanceConfig.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", cfg.BinanceConfig.BaseURL)
	cfg.BinanceConfig.StreamURL = getEnvOrDefault("BINANCE_STREAM_URL", cfg.BinanceConfig.StreamURL)
	cfg.BinanceConfig.TestNet = getEnvBoolOrDefault("BINANCE_TESTNET", cfg.BinanceConfig.TestNet)
	cfg.BinanceConfig.MockMode = getEnvBoolOrDefault("MOCK_MODE", cfg.BinanceConfig.MockMode)
	cfg.BinanceConfig.QuoteAsset = getEnvOrDefault("QUOTE_ASSET", cfg.BinanceConfig.QuoteAsset)
	cfg.BinanceConfig.MockBalance = getEnvFloatOrDefault("MOCK_BALANCE", cfg.BinanceConfig.MockBalance)
	if cfg.BinanceConfig.TestNet && os.Getenv("BINANCE_BASE_URL") == "" {
		cfg.BinanceConfig.BaseURL = "https://testnet.binance.vision"
		cfg.BinanceConfig.StreamURL = "wss://stream.testnet.binance.vision/ws"
	}

	// Engine config
	cfg.EngineConfig.AllocationDivisor = getEnvFloatOrDefault("ENGINE_ALLOCATION_DIVISOR", cfg.EngineConfig.AllocationDivisor)
	cfg.EngineConfig.FeeRate = getEnvFloatOrDefault("ENGINE_FEE_RATE", cfg.EngineConfig.FeeRate)
	cfg.EngineConfig.BreakEvenSlack = getEnvFloatOrDefault("ENGINE_BREAK_EVEN_SLACK", cfg.EngineConfig.BreakEvenSlack)
	cfg.EngineConfig.MaxCoef = getEnvFloatOrDefault("ENGINE_MAX_COEF", cfg.EngineConfig.MaxCoef)
	cfg.EngineConfig.CandleInterval = getEnvOrDefault("ENGINE_CANDLE_INTERVAL", cfg.EngineConfig.CandleInterval)
	cfg.EngineConfig.CandleLimit = getEnvIntOrDefault("ENGINE_CANDLE_LIMIT", cfg.EngineConfig.CandleLimit)

	// Scheduler config
	cfg.SchedulerConfig.EntryNotionalMultiplier = getEnvFloatOrDefault("SCHEDULER_ENTRY_NOTIONAL_MULTIPLIER", cfg.SchedulerConfig.EntryNotionalMultiplier)
	cfg.SchedulerConfig.PollInterval = getEnvDurationOrDefault("SCHEDULER_POLL_INTERVAL", cfg.SchedulerConfig.PollInterval)

	// Oracle config
	cfg.OracleConfig.Enabled = getEnvBoolOrDefault("ORACLE_ENABLED", cfg.OracleConfig.Enabled)
	cfg.OracleConfig.Provider = getEnvOrDefault("ORACLE_PROVIDER", cfg.OracleConfig.Provider)
	cfg.OracleConfig.APIKey = getEnvOrDefault("ORACLE_API_KEY", getEnvOrDefault("OPENAI_API_KEY", cfg.OracleConfig.APIKey))
	cfg.OracleConfig.Model = getEnvOrDefault("ORACLE_MODEL", cfg.OracleConfig.Model)
	cfg.OracleConfig.Endpoint = getEnvOrDefault("ORACLE_ENDPOINT", cfg.OracleConfig.Endpoint)
	cfg.OracleConfig.Temperature = getEnvFloatOrDefault("ORACLE_TEMPERATURE", cfg.OracleConfig.Temperature)
	cfg.OracleConfig.MaxTokens = getEnvIntOrDefault("ORACLE_MAX_TOKENS", cfg.OracleConfig.MaxTokens)
	cfg.OracleConfig.Timeout = getEnvDurationOrDefault("ORACLE_TIMEOUT", cfg.OracleConfig.Timeout)
	cfg.OracleConfig.ZigZagWindow = getEnvIntOrDefault("ORACLE_ZIGZAG_WINDOW", cfg.OracleConfig.ZigZagWindow)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.PassphraseHash = getEnvOrDefault("ALERT_PASSPHRASE_HASH", cfg.ServerConfig.PassphraseHash)
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", cfg.ServerConfig.ReadTimeout)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", cfg.ServerConfig.WriteTimeout)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", cfg.ServerConfig.ShutdownTimeout)

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Name = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Name)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)
	cfg.DatabaseConfig.MaxConns = getEnvIntOrDefault("DB_MAX_CONNS", cfg.DatabaseConfig.MaxConns)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", cfg.RedisConfig.PoolSize)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
}

// Validate rejects configurations the engine cannot trade with
func (c *Config) Validate() error {
	e := c.EngineConfig
	if e.AllocationDivisor <= 0 {
		return fmt.Errorf("engine.allocation_divisor must be positive, got %v", e.AllocationDivisor)
	}
	if e.FeeRate < 0 || e.FeeRate >= 0.1 {
		return fmt.Errorf("engine.fee_rate must be in [0, 0.1), got %v", e.FeeRate)
	}
	if e.MaxCoef <= 0 {
		return fmt.Errorf("engine.max_coef must be positive, got %v", e.MaxCoef)
	}
	if e.Shrink.MinK > e.Shrink.MaxK {
		return fmt.Errorf("engine.shrink.min_k (%v) exceeds engine.shrink.max_k (%v)", e.Shrink.MinK, e.Shrink.MaxK)
	}
	if c.SchedulerConfig.EntryNotionalMultiplier <= 0 {
		return fmt.Errorf("scheduler.entry_notional_multiplier must be positive")
	}
	if c.BinanceConfig.QuoteAsset == "" {
		return fmt.Errorf("binance.quote_asset is required")
	}
	return nil
}

// HasCredentials reports whether exchange keys are configured
func (b BinanceConfig) HasCredentials() bool {
	return b.APIKey != "" && b.SecretKey != ""
}

// Origins splits the CORS origin list
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func loadFromFile(filename string, cfg *Config) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := json.Unmarshal(file, cfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true"
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes the defaults as a starting config file
func GenerateSampleConfig(filename string) error {
	cfg := Default()
	cfg.BinanceConfig.APIKey = "your_api_key_here"
	cfg.BinanceConfig.SecretKey = "your_secret_key_here"
	cfg.BinanceConfig.TestNet = true

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
