package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the dashboard gateway.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Backend   BackendConfig
	Stream    StreamConfig
	Reconcile ReconcileConfig
	Quality   QualityConfig
	Calls     CallsConfig
}

type AppConfig struct {
	Env  string
	Port int

	// WorkspaceID is the workspace this gateway deployment serves. Stream
	// events carry no workspace, so persisted calls are stamped with it;
	// it must match the workspace claim in the dashboard's tokens.
	WorkspaceID string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// BackendConfig points at the calling platform's REST API. The token is
// held server-side only and never reaches a browser.
type BackendConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// StreamConfig selects and tunes the push-event transport.
type StreamConfig struct {
	// Transport is "websocket" or "redis".
	Transport string
	URL       string
	Token     string

	PingInterval  time.Duration
	RetryInterval time.Duration
	MaxRetries    int
}

type ReconcileConfig struct {
	PollInterval        time.Duration
	InactivityThreshold time.Duration
	RecentLimit         int
}

// QualityConfig tunes the connection quality classifier. Zero values fall
// back to the monitor's built-in thresholds.
type QualityConfig struct {
	ExcellentBelow time.Duration
	GoodBelow      time.Duration
	PoorBelow      time.Duration
	SampleWindow   int
}

type CallsConfig struct {
	// MaxConcurrent caps outbound dials per workspace. 0 disables the cap.
	MaxConcurrent int
}

const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.WorkspaceID = strings.TrimSpace(os.Getenv("WORKSPACE_ID"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	if c.DB.SSLMode == "" && !isProductionEnv(c.App.Env) {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = durationOr("JWT_ACCESS_TTL", 15*time.Minute)
	c.Auth.RefreshTokenTTL = durationOr("JWT_REFRESH_TTL", 30*24*time.Hour)

	c.Backend.BaseURL = strings.TrimSpace(os.Getenv("BACKEND_BASE_URL"))
	c.Backend.Token = os.Getenv("BACKEND_API_TOKEN")
	c.Backend.Timeout = durationOr("BACKEND_TIMEOUT", 10*time.Second)

	c.Stream.Transport = strings.TrimSpace(os.Getenv("STREAM_TRANSPORT"))
	if c.Stream.Transport == "" {
		c.Stream.Transport = TransportWebSocket
	}
	c.Stream.URL = strings.TrimSpace(os.Getenv("STREAM_URL"))
	c.Stream.Token = os.Getenv("STREAM_TOKEN")
	c.Stream.PingInterval = durationOr("STREAM_PING_INTERVAL", 15*time.Second)
	c.Stream.RetryInterval = durationOr("STREAM_RETRY_INTERVAL", 5*time.Second)
	c.Stream.MaxRetries = intOr("STREAM_MAX_RETRIES", 0)

	c.Reconcile.PollInterval = durationOr("RECONCILE_POLL_INTERVAL", 30*time.Second)
	c.Reconcile.InactivityThreshold = durationOr("RECONCILE_INACTIVITY_THRESHOLD", 45*time.Second)
	c.Reconcile.RecentLimit = intOr("RECONCILE_RECENT_LIMIT", 200)

	c.Quality.ExcellentBelow = durationOr("QUALITY_EXCELLENT_BELOW", 0)
	c.Quality.GoodBelow = durationOr("QUALITY_GOOD_BELOW", 0)
	c.Quality.PoorBelow = durationOr("QUALITY_POOR_BELOW", 0)
	c.Quality.SampleWindow = intOr("QUALITY_SAMPLE_WINDOW", 0)

	c.Calls.MaxConcurrent = intOr("CALLS_MAX_CONCURRENT", 0)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.WorkspaceID == "" {
		errs = append(errs, errors.New("WORKSPACE_ID is required"))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" && c.IsProduction() {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("BACKEND_BASE_URL is required"))
	} else if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("BACKEND_BASE_URL must be an http(s) URL, got %q", c.Backend.BaseURL))
	}
	if c.Backend.Token == "" {
		errs = append(errs, errors.New("BACKEND_API_TOKEN is required"))
	}

	switch c.Stream.Transport {
	case TransportWebSocket:
		if c.Stream.URL == "" {
			errs = append(errs, errors.New("STREAM_URL is required for the websocket transport"))
		} else if !strings.HasPrefix(c.Stream.URL, "ws://") && !strings.HasPrefix(c.Stream.URL, "wss://") {
			errs = append(errs, fmt.Errorf("STREAM_URL must be a ws(s) URL, got %q", c.Stream.URL))
		}
	case TransportRedis:
		// The redis transport reuses the REDIS_* connection.
	default:
		errs = append(errs, fmt.Errorf("STREAM_TRANSPORT must be websocket or redis, got %q", c.Stream.Transport))
	}
	if c.Stream.MaxRetries < 0 {
		errs = append(errs, errors.New("STREAM_MAX_RETRIES must be >= 0"))
	}

	if c.Reconcile.PollInterval <= 0 {
		errs = append(errs, errors.New("RECONCILE_POLL_INTERVAL must be positive"))
	}
	if c.Reconcile.InactivityThreshold <= 0 {
		errs = append(errs, errors.New("RECONCILE_INACTIVITY_THRESHOLD must be positive"))
	}
	if c.Quality.ExcellentBelow > 0 && c.Quality.GoodBelow > 0 && c.Quality.GoodBelow <= c.Quality.ExcellentBelow {
		errs = append(errs, errors.New("QUALITY_GOOD_BELOW must be greater than QUALITY_EXCELLENT_BELOW"))
	}
	if c.Quality.GoodBelow > 0 && c.Quality.PoorBelow > 0 && c.Quality.PoorBelow <= c.Quality.GoodBelow {
		errs = append(errs, errors.New("QUALITY_POOR_BELOW must be greater than QUALITY_GOOD_BELOW"))
	}
	if c.Calls.MaxConcurrent < 0 {
		errs = append(errs, errors.New("CALLS_MAX_CONCURRENT must be >= 0"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return isProductionEnv(c.App.Env)
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func intOr(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durationOr(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isProductionEnv(v string) bool { return v == "production" }

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
