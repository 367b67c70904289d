package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App: AppConfig{Env: "local", Port: 8080, WorkspaceID: "ws-1"},
		DB: DBConfig{
			Host: "localhost", Port: 5432, User: "voicedash",
			Name: "voicedash", SSLMode: "disable",
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth: AuthConfig{
			JWTSecret:       "secret",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 30 * 24 * time.Hour,
		},
		Backend: BackendConfig{
			BaseURL: "https://api.example.com",
			Token:   "backend-token",
			Timeout: 10 * time.Second,
		},
		Stream: StreamConfig{
			Transport:     TransportWebSocket,
			URL:           "wss://stream.example.com/ws",
			RetryInterval: 5 * time.Second,
		},
		Reconcile: ReconcileConfig{
			PollInterval:        30 * time.Second,
			InactivityThreshold: 45 * time.Second,
		},
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidate_AccumulatesErrors(t *testing.T) {
	c := validConfig()
	c.App.Env = ""
	c.App.WorkspaceID = ""
	c.DB.Host = ""
	c.Auth.JWTSecret = ""
	err := c.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"APP_ENV", "WORKSPACE_ID", "DB_HOST", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %s: %v", want, err)
		}
	}
}

func TestValidate_ProductionRequiresIssuerAudience(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	err := c.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	if !strings.Contains(err.Error(), "JWT_ISSUER") || !strings.Contains(err.Error(), "JWT_AUDIENCE") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate_BackendURLScheme(t *testing.T) {
	c := validConfig()
	c.Backend.BaseURL = "ftp://api.example.com"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "BACKEND_BASE_URL") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate_StreamTransport(t *testing.T) {
	c := validConfig()
	c.Stream.Transport = "carrier-pigeon"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "STREAM_TRANSPORT") {
		t.Fatalf("err = %v", err)
	}

	// The redis transport does not need a stream URL.
	c = validConfig()
	c.Stream.Transport = TransportRedis
	c.Stream.URL = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("redis transport rejected: %v", err)
	}

	c = validConfig()
	c.Stream.URL = "https://not-a-ws-url"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "STREAM_URL") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate_RefreshMustOutliveAccess(t *testing.T) {
	c := validConfig()
	c.Auth.RefreshTokenTTL = c.Auth.AccessTokenTTL
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "JWT_REFRESH_TTL") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate_QualityThresholdOrdering(t *testing.T) {
	c := validConfig()
	c.Quality = QualityConfig{
		ExcellentBelow: 300 * time.Millisecond,
		GoodBelow:      100 * time.Millisecond,
	}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "QUALITY_GOOD_BELOW") {
		t.Fatalf("err = %v", err)
	}

	// Unset thresholds fall back to monitor defaults and pass.
	c.Quality = QualityConfig{}
	if err := c.Validate(); err != nil {
		t.Fatalf("zero quality config rejected: %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	env := map[string]string{
		"APP_ENV":           "dev",
		"APP_PORT":          "8080",
		"WORKSPACE_ID":      "ws-1",
		"DB_HOST":           "localhost",
		"DB_PORT":           "5432",
		"DB_USER":           "voicedash",
		"DB_NAME":           "voicedash",
		"REDIS_HOST":        "localhost",
		"REDIS_PORT":        "6379",
		"JWT_SECRET":        "secret",
		"BACKEND_BASE_URL":  "https://api.example.com",
		"BACKEND_API_TOKEN": "tok",
		"STREAM_URL":        "wss://stream.example.com/ws",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("sslmode default = %q", c.DB.SSLMode)
	}
	if c.Stream.Transport != TransportWebSocket {
		t.Fatalf("transport default = %q", c.Stream.Transport)
	}
	if c.Reconcile.PollInterval != 30*time.Second {
		t.Fatalf("poll default = %v", c.Reconcile.PollInterval)
	}
	if c.Backend.Timeout != 10*time.Second {
		t.Fatalf("backend timeout default = %v", c.Backend.Timeout)
	}
}

func TestLoad_BadPortFailsBeforeValidate(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "not-a-number")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("REDIS_PORT", "6379")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "APP_PORT") {
		t.Fatalf("err = %v", err)
	}
}
