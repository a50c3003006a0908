package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"quietend-server/internal/shared/utils"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Logging   LoggingConfig
	RateLimit RateLimitConfig
	Game      GameConfig
}

type ServerConfig struct {
	Port           string
	URL            string
	Environment    string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
	CORSDebug      bool
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsPath  string
	BusyTimeout     time.Duration
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Host     string
	Port     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	TokenExpiration time.Duration
}

type LoggingConfig struct {
	Level      string
	Format     string
	JSONFormat bool
}

// RateLimitConfig paces outbound chat-platform calls. The platform enforces
// its own per-bot limits; staying under them avoids retry storms.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
}

// GameConfig holds the runtime knobs of the game engine. Per-guild rows in
// server_config may override MaxLocationChannels and ChannelTimeoutHours.
type GameConfig struct {
	HomeGuildID             string
	MaxLocationChannels     int
	ChannelTimeoutHours     int
	IdleGrace               time.Duration
	IdleGraceUnderPressure  time.Duration
	CleanupBatchSize        int
	AutoCleanupEnabled      bool
	VoteDuration            time.Duration
	InviteDuration          time.Duration
	CaptureCooldown         time.Duration
	PostCaptureTravelBan    time.Duration
	MinTravelTime           time.Duration
	TransitCleanupGrace     time.Duration
	LogoutChannelCheckDelay time.Duration
	ReaperInterval          time.Duration
	GuildSweepTimeout       time.Duration
	NewsHopDelay            time.Duration
}

var GlobalConfig *Config

func Init() error {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using system environment variables")
	}

	config := load()

	if err := config.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	GlobalConfig = config
	return nil
}

func load() *Config {
	return &Config{
		Server:    loadServerConfig(),
		Database:  loadDatabaseConfig(),
		Redis:     loadRedisConfig(),
		Auth:      loadAuthConfig(),
		Logging:   loadLoggingConfig(),
		RateLimit: loadRateLimitConfig(),
		Game:      loadGameConfig(),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:         utils.GetEnv("SERVER_PORT", "8080"),
		URL:          utils.GetEnv("SERVER_URL", "http://localhost:8080"),
		Environment:  utils.GetEnv("ENVIRONMENT", "development"),
		ReadTimeout:  utils.GetEnvDuration("SERVER_READ_TIMEOUT_SECONDS", 15),
		WriteTimeout: utils.GetEnvDuration("SERVER_WRITE_TIMEOUT_SECONDS", 15),
		IdleTimeout:  utils.GetEnvDuration("SERVER_IDLE_TIMEOUT_SECONDS", 60),
		AllowedOrigins: strings.Split(
			utils.GetEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		CORSDebug: utils.GetEnvBool("CORS_DEBUG", false),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	connMaxLifetime, _ := strconv.Atoi(utils.GetEnv("DB_CONN_MAX_LIFETIME_MINUTES", "5"))

	return DatabaseConfig{
		Host:            utils.GetEnv("DB_HOST", "localhost"),
		Port:            utils.GetEnv("DB_PORT", "5432"),
		User:            utils.GetEnv("DB_USER", "postgres"),
		Password:        utils.GetEnv("DB_PASSWORD", "postgres"),
		Name:            utils.GetEnv("DB_NAME", "quietend"),
		SSLMode:         utils.GetEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    utils.GetEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    utils.GetEnvInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: time.Duration(connMaxLifetime) * time.Minute,
		MigrationsPath:  utils.GetEnv("DB_MIGRATIONS_PATH", "migrations"),
		BusyTimeout:     utils.GetEnvDuration("DB_BUSY_TIMEOUT_SECONDS", 5),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  utils.GetEnvBool("REDIS_ENABLED", false),
		URL:      utils.GetEnv("REDIS_URL", ""),
		Host:     utils.GetEnv("REDIS_HOST", "localhost"),
		Port:     utils.GetEnv("REDIS_PORT", "6379"),
		Password: utils.GetEnv("REDIS_PASSWORD", ""),
		DB:       utils.GetEnvInt("REDIS_DB", 0),
	}
}

func loadAuthConfig() AuthConfig {
	tokenExpiration, _ := strconv.Atoi(utils.GetEnv("JWT_EXPIRATION_HOURS", "24"))

	return AuthConfig{
		JWTSecret:       utils.GetEnv("JWT_SECRET", ""),
		TokenExpiration: time.Duration(tokenExpiration) * time.Hour,
	}
}

func loadLoggingConfig() LoggingConfig {
	environment := utils.GetEnv("ENVIRONMENT", "development")

	return LoggingConfig{
		Level:      utils.GetEnv("LOG_LEVEL", "debug"),
		Format:     utils.GetEnv("LOG_FORMAT", "text"),
		JSONFormat: environment == "production",
	}
}

func loadRateLimitConfig() RateLimitConfig {
	requestsPerSecond, _ := strconv.ParseFloat(utils.GetEnv("GATEWAY_RATE_LIMIT_PER_SECOND", "4"), 64)

	return RateLimitConfig{
		Enabled:           utils.GetEnvBool("GATEWAY_RATE_LIMIT_ENABLED", true),
		RequestsPerSecond: requestsPerSecond,
		BurstSize:         utils.GetEnvInt("GATEWAY_RATE_LIMIT_BURST", 8),
	}
}

func loadGameConfig() GameConfig {
	return GameConfig{
		HomeGuildID:             utils.GetEnv("GAME_HOME_GUILD_ID", ""),
		MaxLocationChannels:     utils.GetEnvInt("GAME_MAX_LOCATION_CHANNELS", 50),
		ChannelTimeoutHours:     utils.GetEnvInt("GAME_CHANNEL_TIMEOUT_HOURS", 48),
		IdleGrace:               time.Duration(utils.GetEnvInt("GAME_IDLE_GRACE_MINUTES", 120)) * time.Minute,
		IdleGraceUnderPressure:  time.Duration(utils.GetEnvInt("GAME_IDLE_GRACE_PRESSURE_MINUTES", 30)) * time.Minute,
		CleanupBatchSize:        utils.GetEnvInt("GAME_CLEANUP_BATCH_SIZE", 5),
		AutoCleanupEnabled:      utils.GetEnvBool("GAME_AUTO_CLEANUP_ENABLED", true),
		VoteDuration:            time.Duration(utils.GetEnvInt("GAME_VOTE_DURATION_MINUTES", 10)) * time.Minute,
		InviteDuration:          time.Duration(utils.GetEnvInt("GAME_INVITE_DURATION_MINUTES", 10)) * time.Minute,
		CaptureCooldown:         utils.GetEnvDuration("GAME_CAPTURE_COOLDOWN_SECONDS", 30),
		PostCaptureTravelBan:    utils.GetEnvDuration("GAME_POST_CAPTURE_BAN_SECONDS", 60),
		MinTravelTime:           utils.GetEnvDuration("GAME_MIN_TRAVEL_TIME_SECONDS", 60),
		TransitCleanupGrace:     utils.GetEnvDuration("GAME_TRANSIT_CLEANUP_GRACE_SECONDS", 45),
		LogoutChannelCheckDelay: time.Duration(utils.GetEnvInt("GAME_LOGOUT_CHECK_DELAY_MS", 1500)) * time.Millisecond,
		ReaperInterval:          utils.GetEnvDuration("GAME_REAPER_INTERVAL_SECONDS", 60),
		GuildSweepTimeout:       utils.GetEnvDuration("GAME_GUILD_SWEEP_TIMEOUT_SECONDS", 30),
		NewsHopDelay:            time.Duration(utils.GetEnvInt("GAME_NEWS_HOP_DELAY_MINUTES", 10)) * time.Minute,
	}
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}

	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}

	if c.Game.CleanupBatchSize < 1 {
		return fmt.Errorf("GAME_CLEANUP_BATCH_SIZE must be at least 1")
	}

	return nil
}

func (c *Config) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
