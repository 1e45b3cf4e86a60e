package services

import (
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	AI        AIConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	Interview InterviewConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	URL          string
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
}

type AIConfig struct {
	GeminiAPIKey   string
	SpeechProvider string // "gemini" or "google"
}

type JWTConfig struct {
	Secret string
}

type WebSocketConfig struct {
	AllowedOrigins string
}

// InterviewConfig carries the session-engine tunables. Defaults mirror the
// constants observed in production; all are overridable per deployment.
type InterviewConfig struct {
	MaxQuestions int
	AITimeout    time.Duration
	ChunkGrace   time.Duration
	IdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("websocket.allowed_origins", "")
	viper.SetDefault("gemini.api_key", "")
	viper.SetDefault("speech.provider", "gemini")
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.log_level", "silent")
	viper.SetDefault("database.max_idle_conns", "10")
	viper.SetDefault("database.max_open_conns", "100")
	viper.SetDefault("interview.max_questions", "5")
	viper.SetDefault("interview.ai_timeout_seconds", "10")
	viper.SetDefault("interview.chunk_grace_seconds", "30")
	viper.SetDefault("interview.idle_timeout_minutes", "30")

	// Map environment variables to config keys
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("websocket.allowed_origins", "WEBSOCKET_ALLOWED_ORIGINS")
	viper.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	viper.BindEnv("speech.provider", "SPEECH_PROVIDER")
	viper.BindEnv("jwt.secret", "JWT_SECRET")
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.log_level", "DATABASE_LOG_LEVEL")
	viper.BindEnv("database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS")
	viper.BindEnv("database.max_open_conns", "DATABASE_MAX_OPEN_CONNS")
	viper.BindEnv("interview.max_questions", "INTERVIEW_MAX_QUESTIONS")
	viper.BindEnv("interview.ai_timeout_seconds", "INTERVIEW_AI_TIMEOUT_SECONDS")
	viper.BindEnv("interview.chunk_grace_seconds", "INTERVIEW_CHUNK_GRACE_SECONDS")
	viper.BindEnv("interview.idle_timeout_minutes", "INTERVIEW_IDLE_TIMEOUT_MINUTES")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Error reading config file", "error", err)
		}
	}

	return &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
		},
		Database: DatabaseConfig{
			URL:          viper.GetString("database.url"),
			LogLevel:     viper.GetString("database.log_level"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
		},
		AI: AIConfig{
			GeminiAPIKey:   viper.GetString("gemini.api_key"),
			SpeechProvider: viper.GetString("speech.provider"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: viper.GetString("websocket.allowed_origins"),
		},
		Interview: InterviewConfig{
			MaxQuestions: viper.GetInt("interview.max_questions"),
			AITimeout:    time.Duration(viper.GetInt("interview.ai_timeout_seconds")) * time.Second,
			ChunkGrace:   time.Duration(viper.GetInt("interview.chunk_grace_seconds")) * time.Second,
			IdleTimeout:  time.Duration(viper.GetInt("interview.idle_timeout_minutes")) * time.Minute,
		},
	}
}
