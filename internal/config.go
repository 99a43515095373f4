package internal

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	// DevJWTSecret is only accepted outside production.
	DevJWTSecret = "oneflow-dev-secret-change-me"

	minProductionSecretLen = 32

	DefaultAccessTokenExpiresIn  = "7d"
	DefaultRefreshTokenExpiresIn = "30d"
	DefaultIssuer                = "oneflow-api"
	DefaultAudience              = "oneflow-client"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"http_server"`
	Database DatabaseConfig `mapstructure:"database"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Events   EventsConfig   `mapstructure:"events"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ValidateRequests  bool          `mapstructure:"validate_requests"`
}

type DatabaseConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Name           string        `mapstructure:"name"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	Source         string        `mapstructure:"source"`
}

type SecurityConfig struct {
	JWTSecret             string `mapstructure:"jwt_secret"`
	AccessTokenExpiresIn  string `mapstructure:"jwt_expires_in"`
	RefreshTokenExpiresIn string `mapstructure:"jwt_refresh_expires_in"`
	Issuer                string `mapstructure:"issuer"`
	Audience              string `mapstructure:"audience"`
	BCryptCost            int    `mapstructure:"bcrypt_cost"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type EventsConfig struct {
	AMQPURL string `mapstructure:"amqp_url"`
	Queue   string `mapstructure:"queue"`
}

// LoadConfigFromEnv builds the configuration for container deployments.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		App: AppConfig{
			Env: getEnv("APP_ENV", EnvProduction),
		},
		Server: ServerConfig{
			Port:              getEnvAsInt("PORT", 8080),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", ""),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			ValidateRequests:  getEnv("VALIDATE_REQUESTS", "true") == "true",
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnvAsInt("DB_PORT", 5432),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", ""),
			Name:           getEnv("DB_NAME", "oneflow"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:   getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			ConnectTimeout: getEnvAsDuration("DB_CONNECT_TIMEOUT", 2*time.Second),
			IdleTimeout:    getEnvAsDuration("DB_IDLE_TIMEOUT", 30*time.Second),
			Source:         getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			JWTSecret:             os.Getenv("JWT_SECRET"),
			AccessTokenExpiresIn:  getEnv("JWT_EXPIRES_IN", DefaultAccessTokenExpiresIn),
			RefreshTokenExpiresIn: getEnv("JWT_REFRESH_EXPIRES_IN", DefaultRefreshTokenExpiresIn),
			BCryptCost:            getEnvAsInt("BCRYPT_COST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Events: EventsConfig{
			AMQPURL: getEnv("AMQP_URL", ""),
			Queue:   getEnv("AMQP_QUEUE", "oneflow.user-events"),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values. In development an unset JWT secret falls
// back to DevJWTSecret; production is left empty so Validate rejects it.
func (c *Config) ApplyDefaults() {
	if c.App.Env == "" {
		c.App.Env = EnvDevelopment
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.ConnectTimeout == 0 {
		c.Database.ConnectTimeout = 2 * time.Second
	}
	if c.Database.IdleTimeout == 0 {
		c.Database.IdleTimeout = 30 * time.Second
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Security.AccessTokenExpiresIn == "" {
		c.Security.AccessTokenExpiresIn = DefaultAccessTokenExpiresIn
	}
	if c.Security.RefreshTokenExpiresIn == "" {
		c.Security.RefreshTokenExpiresIn = DefaultRefreshTokenExpiresIn
	}
	if c.Security.Issuer == "" {
		c.Security.Issuer = DefaultIssuer
	}
	if c.Security.Audience == "" {
		c.Security.Audience = DefaultAudience
	}
	if c.Security.BCryptCost == 0 {
		c.Security.BCryptCost = 10
	}
	if c.Security.JWTSecret == "" && !c.IsProduction() {
		c.Security.JWTSecret = DevJWTSecret
	}
	if c.Events.Queue == "" {
		c.Events.Queue = "oneflow.user-events"
	}
}

func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// UsesDevSecret reports whether the placeholder secret is active, so callers can warn.
func (c *Config) UsesDevSecret() bool {
	return c.Security.JWTSecret == DevJWTSecret
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ParseDuration accepts Go durations plus a "d" day suffix ("7d", "30d").
// A bare integer is read as seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q: %w", s, err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	return time.ParseDuration(s)
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(c.IsProduction()); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

// Origins splits AllowedOrigins. Empty means no cross-origin access.
func (c *ServerConfig) Origins() []string {
	var out []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxOpenConns < 1 {
		return errors.New("max_open_conns must be at least 1")
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("connect_timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("idle_timeout must be positive")
	}
	if c.Source == "" && (c.Host == "" || c.Name == "") {
		return errors.New("either source or host and name are required")
	}
	return nil
}

// GetDSN returns Source when set, otherwise a postgres URL built from the parts.
func (c *DatabaseConfig) GetDSN() string {
	if c.Source != "" {
		return c.Source
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:   "/" + c.Name,
	}
	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// validateTTL requires a parseable, strictly positive token lifetime.
func validateTTL(name, value string) error {
	d, err := ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %q", name, value)
	}
	return nil
}

func (c *SecurityConfig) Validate(production bool) error {
	if c.JWTSecret == "" {
		return errors.New("jwt_secret is required")
	}
	if production {
		if c.JWTSecret == DevJWTSecret {
			return errors.New("jwt_secret must not be the development placeholder in production")
		}
		if len(c.JWTSecret) < minProductionSecretLen {
			return fmt.Errorf("jwt_secret must be at least %d bytes in production", minProductionSecretLen)
		}
	}
	if err := validateTTL("jwt_expires_in", c.AccessTokenExpiresIn); err != nil {
		return err
	}
	if err := validateTTL("jwt_refresh_expires_in", c.RefreshTokenExpiresIn); err != nil {
		return err
	}
	if c.BCryptCost < 4 || c.BCryptCost > 31 {
		return errors.New("bcrypt_cost must be between 4 and 31")
	}
	return nil
}
