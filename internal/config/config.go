package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config 애플리케이션 전체 설정
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Sync      SyncConfig
	CORS      CORSConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Drivers   DriverConfig
	Log       LogConfig
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimit       int
}

// WebSocketConfig WebSocket 관련 설정
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteTimeout    time.Duration
}

// SyncConfig 보드 동기화 설정
type SyncConfig struct {
	HeartbeatInterval time.Duration
	SendQueueLimit    int
	StoreTimeout      time.Duration
	PresenceTTL       time.Duration
	InstanceID        string
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// AuthConfig 인증 설정
type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
}

// RedisConfig Redis 설정
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DatabaseConfig PostgreSQL 설정
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	TimeZone string

	// STORE_DRIVER=sqlite 일 때 사용
	SQLitePath string
}

// DSN gorm/pgx 공용 접속 문자열
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.TimeZone,
	)
}

// DriverConfig 저장소/presence/pubsub 구현 선택
type DriverConfig struct {
	Store    string // postgres | sqlite | memory
	Presence string // memory | redis
	Pubsub   string // memory | redis | postgres
}

// UsesRedis Redis 연결이 필요한지
func (d DriverConfig) UsesRedis() bool {
	return d.Presence == "redis" || d.Pubsub == "redis"
}

// UsesPostgres PostgreSQL 연결이 필요한지
func (d DriverConfig) UsesPostgres() bool {
	return d.Store == "postgres" || d.Pubsub == "postgres"
}

// LogConfig 로깅 설정
type LogConfig struct {
	Level       string
	Development bool
}

var ErrMissingJWTSecret = errors.New("JWT_SECRET is not set")

// Load 환경 변수에서 설정 로드 (실패 시 Fatal)
func Load() *Config {
	// .env 파일 로드 (없어도 에러 무시)
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using environment variables")
	}

	cfg, err := FromEnv()
	if err != nil {
		log.Fatalf("🚨 CRITICAL: %v", err)
	}
	return cfg
}

// FromEnv 현재 환경 변수로 설정 구성 및 검증
func FromEnv() (*Config, error) {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, ErrMissingJWTSecret
	}
	if jwtSecret == "change-this-secret-in-production" {
		return nil, errors.New("JWT_SECRET must be changed from the default value")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", ":8080"),
			ReadTimeout:     getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getDuration("IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			RateLimit:       getInt("RATE_LIMIT_PER_MINUTE", 100),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getInt("WS_READ_BUFFER_SIZE", 16*1024),
			WriteBufferSize: getInt("WS_WRITE_BUFFER_SIZE", 16*1024),
			WriteTimeout:    getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
		},
		Sync: SyncConfig{
			HeartbeatInterval: getMillis("HEARTBEAT_INTERVAL_MS", getDuration("HEARTBEAT_INTERVAL", 30*time.Second)),
			SendQueueLimit:    getInt("SEND_QUEUE_LIMIT", 256),
			StoreTimeout:      getMillis("STORE_TIMEOUT_MS", getDuration("STORE_TIMEOUT", 5*time.Second)),
			PresenceTTL:       getDuration("PRESENCE_TTL", 60*time.Second),
			InstanceID:        getEnv("INSTANCE_ID", uuid.NewString()),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept, Authorization"),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getDuration("ACCESS_TOKEN_EXPIRY", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "postgres"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			TimeZone: getEnv("DB_TIMEZONE", "UTC"),

			SQLitePath: getEnv("SQLITE_PATH", "whiteboard.db"),
		},
		Drivers: DriverConfig{
			Store:    strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
			Presence: strings.ToLower(getEnv("PRESENCE_DRIVER", "memory")),
			Pubsub:   strings.ToLower(getEnv("PUBSUB_DRIVER", "memory")),
		},
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getBool("LOG_DEVELOPMENT", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !oneOf(c.Drivers.Store, "postgres", "sqlite", "memory") {
		return fmt.Errorf("STORE_DRIVER %q: want postgres, sqlite or memory", c.Drivers.Store)
	}
	if !oneOf(c.Drivers.Presence, "memory", "redis") {
		return fmt.Errorf("PRESENCE_DRIVER %q: want memory or redis", c.Drivers.Presence)
	}
	if !oneOf(c.Drivers.Pubsub, "memory", "redis", "postgres") {
		return fmt.Errorf("PUBSUB_DRIVER %q: want memory, redis or postgres", c.Drivers.Pubsub)
	}
	if c.Sync.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if c.Sync.SendQueueLimit < 1 {
		return errors.New("SEND_QUEUE_LIMIT must be at least 1")
	}
	if c.Sync.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}
	if c.Sync.PresenceTTL <= c.Sync.HeartbeatInterval {
		return errors.New("PRESENCE_TTL must be longer than the heartbeat interval")
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// getEnv 환경 변수 조회 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt 정수형 환경 변수 조회
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getBool 불리언 환경 변수 조회
func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getDuration 시간 환경 변수 조회
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// 숫자만 있으면 초로 간주
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getMillis 밀리초 단위 정수 환경 변수 조회
func getMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
