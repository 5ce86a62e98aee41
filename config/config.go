package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	SentinelConfig     SentinelConfig     `json:"sentinel"`
	DecisionConfig     DecisionConfig     `json:"decision"`
	ExecutorConfig     ExecutorConfig     `json:"executor"`
	RPCConfig          RPCConfig          `json:"rpc"`
	PriceFeedConfig    PriceFeedConfig    `json:"price_feed"`
	WalletConfig       WalletConfig       `json:"wallet"`
	NotificationConfig NotificationConfig `json:"notification"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	ServerConfig       ServerConfig       `json:"server"`
	VaultConfig        VaultConfig        `json:"vault"`
	RedisConfig        RedisConfig        `json:"redis"`
	PostgresConfig     PostgresConfig     `json:"postgres"`
}

// SentinelConfig holds the control loop settings
type SentinelConfig struct {
	TickInterval        time.Duration `json:"tick_interval"`        // Evaluation cadence
	MaxConcurrentExits  int           `json:"max_concurrent_exits"` // Simultaneous exit submissions
	PriceWorkers        int           `json:"price_workers"`        // Concurrent price refreshes per tick
	HealthcheckInterval time.Duration `json:"healthcheck_interval"` // Endpoint probe cadence
}

// DecisionConfig holds the exit rule settings
type DecisionConfig struct {
	StalePriceAfter time.Duration `json:"stale_price_after"` // Treat older quotes as unusable; 0 disables
}

// ExecutorConfig holds exit submission and fee settings
type ExecutorConfig struct {
	MaxAttempts             int           `json:"max_attempts"`              // Submissions before a position is marked FAILED
	ConfirmTimeout          time.Duration `json:"confirm_timeout"`           // Per-attempt confirmation wait
	PollInterval            time.Duration `json:"poll_interval"`             // Confirmation polling cadence
	BaseTipLamports         uint64        `json:"base_tip_lamports"`         // Tip floor
	MaxTipLamports          uint64        `json:"max_tip_lamports"`          // Tip ceiling
	MaxCongestionMultiplier float64       `json:"max_congestion_multiplier"` // Cap on the congestion scaling
	HardExitMultiplier      float64       `json:"hard_exit_multiplier"`      // Safety-rule exits
	SoftExitMultiplier      float64       `json:"soft_exit_multiplier"`      // Advisory exits
	EscalationFactor        float64       `json:"escalation_factor"`         // Per-retry tip growth
}

// RPCEndpointConfig names one submission endpoint
type RPCEndpointConfig struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// RPCConfig holds the endpoint pool settings
type RPCConfig struct {
	Endpoints      []RPCEndpointConfig `json:"endpoints"`
	DegradedAfter  int                 `json:"degraded_after"`  // Consecutive failures before DEGRADED
	UnhealthyAfter int                 `json:"unhealthy_after"` // Consecutive failures before UNHEALTHY
	ProbeTimeout   time.Duration       `json:"probe_timeout"`   // Healthcheck probe timeout
	RequestTimeout time.Duration       `json:"request_timeout"` // RPC call timeout
}

// PriceFeedConfig holds the market data stream settings
type PriceFeedConfig struct {
	URL string `json:"url"` // Websocket quote stream
}

// WalletConfig holds the exit-signing wallet settings
type WalletConfig struct {
	SecretName string `json:"secret_name"` // Vault secret name for the signing key
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int    `json:"port"`
	Host           string `json:"host"`
	AllowedOrigins string `json:"allowed_origins"` // CORS allowed origins, comma separated
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path prefix for wallet secrets
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// RedisConfig holds the position store connection settings
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// PostgresConfig holds the audit database connection settings.
// The audit trail is optional: an empty host disables it.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// Enabled reports whether the audit database is configured.
func (c PostgresConfig) Enabled() bool {
	return c.Host != ""
}

// AllowedOriginList splits the comma separated origins setting.
func (c ServerConfig) AllowedOriginList() []string {
	if c.AllowedOrigins == "" || c.AllowedOrigins == "*" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Note: WALLET_PRIVATE_KEY is not part of the config surface; the wallet
// package reads it directly as the non-Vault fallback.
func applyEnvOverrides(cfg *Config) {
	// Sentinel config
	cfg.SentinelConfig.TickInterval = getEnvDurationOrDefault("SENTINEL_TICK_INTERVAL", 200*time.Millisecond)
	cfg.SentinelConfig.MaxConcurrentExits = getEnvIntOrDefault("SENTINEL_MAX_CONCURRENT_EXITS", 4)
	cfg.SentinelConfig.PriceWorkers = getEnvIntOrDefault("SENTINEL_PRICE_WORKERS", 8)
	cfg.SentinelConfig.HealthcheckInterval = getEnvDurationOrDefault("SENTINEL_HEALTHCHECK_INTERVAL", 10*time.Second)

	// Decision config
	cfg.DecisionConfig.StalePriceAfter = getEnvDurationOrDefault("DECISION_STALE_PRICE_AFTER", 5*time.Second)

	// Executor config
	cfg.ExecutorConfig.MaxAttempts = getEnvIntOrDefault("EXECUTOR_MAX_ATTEMPTS", 3)
	cfg.ExecutorConfig.ConfirmTimeout = getEnvDurationOrDefault("EXECUTOR_CONFIRM_TIMEOUT", 8*time.Second)
	cfg.ExecutorConfig.PollInterval = getEnvDurationOrDefault("EXECUTOR_POLL_INTERVAL", 500*time.Millisecond)
	cfg.ExecutorConfig.BaseTipLamports = uint64(getEnvIntOrDefault("EXECUTOR_BASE_TIP_LAMPORTS", 1_000_000))
	cfg.ExecutorConfig.MaxTipLamports = uint64(getEnvIntOrDefault("EXECUTOR_MAX_TIP_LAMPORTS", 50_000_000))
	cfg.ExecutorConfig.MaxCongestionMultiplier = getEnvFloatOrDefault("EXECUTOR_MAX_CONGESTION_MULTIPLIER", 3.0)
	cfg.ExecutorConfig.HardExitMultiplier = getEnvFloatOrDefault("EXECUTOR_HARD_EXIT_MULTIPLIER", 1.5)
	cfg.ExecutorConfig.SoftExitMultiplier = getEnvFloatOrDefault("EXECUTOR_SOFT_EXIT_MULTIPLIER", 1.0)
	cfg.ExecutorConfig.EscalationFactor = getEnvFloatOrDefault("EXECUTOR_ESCALATION_FACTOR", 1.5)

	// RPC config
	cfg.RPCConfig.DegradedAfter = getEnvIntOrDefault("RPC_DEGRADED_AFTER", 3)
	cfg.RPCConfig.UnhealthyAfter = getEnvIntOrDefault("RPC_UNHEALTHY_AFTER", 6)
	cfg.RPCConfig.ProbeTimeout = getEnvDurationOrDefault("RPC_PROBE_TIMEOUT", 2*time.Second)
	cfg.RPCConfig.RequestTimeout = getEnvDurationOrDefault("RPC_REQUEST_TIMEOUT", 10*time.Second)
	if urls := os.Getenv("RPC_ENDPOINTS"); urls != "" {
		cfg.RPCConfig.Endpoints = parseEndpointList(urls)
	}
	if len(cfg.RPCConfig.Endpoints) == 0 {
		cfg.RPCConfig.Endpoints = []RPCEndpointConfig{
			{Name: "mainnet", URL: "https://api.mainnet-beta.solana.com"},
		}
	}

	// Price feed config
	cfg.PriceFeedConfig.URL = getEnvOrDefault("PRICE_FEED_URL", cfg.PriceFeedConfig.URL)

	// Wallet config
	cfg.WalletConfig.SecretName = getEnvOrDefault("WALLET_SECRET_NAME", "exit-signer")

	// Notification config
	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvOrDefault("DISCORD_ENABLED", "false") == "true"
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "trading-bot/wallets")
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CA_CERT", cfg.VaultConfig.CACert)

	// Redis config
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	// Postgres config
	cfg.PostgresConfig.Host = getEnvOrDefault("POSTGRES_HOST", cfg.PostgresConfig.Host)
	cfg.PostgresConfig.Port = getEnvIntOrDefault("POSTGRES_PORT", 5432)
	cfg.PostgresConfig.User = getEnvOrDefault("POSTGRES_USER", "trading")
	cfg.PostgresConfig.Password = getEnvOrDefault("POSTGRES_PASSWORD", cfg.PostgresConfig.Password)
	cfg.PostgresConfig.Database = getEnvOrDefault("POSTGRES_DB", "trading")
	cfg.PostgresConfig.SSLMode = getEnvOrDefault("POSTGRES_SSLMODE", "disable")
}

// parseEndpointList parses "name=url,name=url" or a bare comma separated
// URL list into endpoint configs.
func parseEndpointList(raw string) []RPCEndpointConfig {
	parts := strings.Split(raw, ",")
	endpoints := make([]RPCEndpointConfig, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if name, url, found := strings.Cut(part, "="); found {
			endpoints = append(endpoints, RPCEndpointConfig{Name: name, URL: url})
		} else {
			endpoints = append(endpoints, RPCEndpointConfig{Name: fmt.Sprintf("rpc-%d", i+1), URL: part})
		}
	}
	return endpoints
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		SentinelConfig: SentinelConfig{
			TickInterval:        200 * time.Millisecond,
			MaxConcurrentExits:  4,
			PriceWorkers:        8,
			HealthcheckInterval: 10 * time.Second,
		},
		DecisionConfig: DecisionConfig{
			StalePriceAfter: 5 * time.Second,
		},
		ExecutorConfig: ExecutorConfig{
			MaxAttempts:             3,
			ConfirmTimeout:          8 * time.Second,
			PollInterval:            500 * time.Millisecond,
			BaseTipLamports:         1_000_000,
			MaxTipLamports:          50_000_000,
			MaxCongestionMultiplier: 3.0,
			HardExitMultiplier:      1.5,
			SoftExitMultiplier:      1.0,
			EscalationFactor:        1.5,
		},
		RPCConfig: RPCConfig{
			Endpoints: []RPCEndpointConfig{
				{Name: "mainnet", URL: "https://api.mainnet-beta.solana.com"},
				{Name: "backup", URL: "https://solana.example-rpc.com"},
			},
			DegradedAfter:  3,
			UnhealthyAfter: 6,
			ProbeTimeout:   2 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		PriceFeedConfig: PriceFeedConfig{
			URL: "wss://quotes.example.com/stream",
		},
		WalletConfig: WalletConfig{
			SecretName: "exit-signer",
		},
		NotificationConfig: NotificationConfig{
			Enabled: false,
			Telegram: TelegramConfig{
				Enabled:  false,
				BotToken: "",
				ChatID:   "",
			},
			Discord: DiscordConfig{
				Enabled:    false,
				WebhookURL: "",
			},
		},
		LoggingConfig: LoggingConfig{
			Level:       "INFO",
			Output:      "stdout",
			JSONFormat:  true,
			IncludeFile: false,
		},
		ServerConfig: ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			AllowedOrigins: "*",
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
