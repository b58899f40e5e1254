package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Kafka       KafkaConfig
	Redis       RedisConfig
	Oracle      OracleConfig
	MarketData  MarketDataConfig
	UserService UserServiceConfig
	Simulation  SimulationConfig
	Logging     LoggingConfig
	ServiceKey  string
}

// ServerConfig holds server specific configuration
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database specific configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// KafkaConfig holds Kafka specific configuration for run-task dispatch
type KafkaConfig struct {
	Brokers       []string
	RunTasksTopic string
	ConsumerGroup string
}

// RedisConfig holds Redis specific configuration
type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
	CacheTTL time.Duration
}

// OracleConfig holds decision oracle (LLM gateway) configuration
type OracleConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// MarketDataConfig holds market data service configuration
type MarketDataConfig struct {
	URL        string
	ServiceKey string
	Timeout    time.Duration
	MaxRetries int
}

// UserServiceConfig holds user service configuration
type UserServiceConfig struct {
	URL string
}

// SimulationConfig holds engine defaults
type SimulationConfig struct {
	LookbackDays  int
	OutputSize    int
	MinDataPoints int
	MinWindowDays int
	FallbackDays  int
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads the configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Read from environment variables
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "10s")
	v.SetDefault("server.idleTimeout", "120s")

	// Database defaults
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", "30m")

	// Kafka defaults
	v.SetDefault("kafka.runTasksTopic", "simulation-run-tasks")
	v.SetDefault("kafka.consumerGroup", "trading-simulation-workers")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.cacheTTL", "15m")

	// Oracle defaults
	v.SetDefault("oracle.timeout", "60s")
	v.SetDefault("oracle.maxTokens", 500)
	v.SetDefault("oracle.temperature", 0.7)

	// Market data defaults
	v.SetDefault("marketdata.timeout", "30s")
	v.SetDefault("marketdata.maxRetries", 3)

	// Simulation engine defaults
	v.SetDefault("simulation.lookbackDays", 20)
	v.SetDefault("simulation.outputSize", 100)
	v.SetDefault("simulation.minDataPoints", 20)
	v.SetDefault("simulation.minWindowDays", 10)
	v.SetDefault("simulation.fallbackDays", 60)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
