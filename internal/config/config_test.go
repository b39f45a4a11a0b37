package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	unsetenv(t, "APP_ENV", "JWT_SECRET", "ACCESS_TOKEN_TTL", "REFRESH_TOKEN_TTL",
		"RESET_TOKEN_TTL", "VERIFICATION_TOKEN_TTL", "BCRYPT_COST", "TRUST_PROXY_HEADERS")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.AppEnv)
	assert.Equal(t, 24*time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, time.Hour, cfg.ResetTokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.VerificationTokenTTL)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.False(t, cfg.TrustProxyHeaders)
	assert.Len(t, cfg.JWTSecret, 64, "development gets a generated secret")
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", EnvProduction)
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("TRUST_PROXY_HEADERS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.TrustProxyHeaders)
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("APP_ENV", EnvProduction)
	unsetenv(t, "JWT_SECRET")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			AppEnv:               EnvDevelopment,
			JWTSecret:            "secret",
			AccessTokenTTL:       time.Hour,
			RefreshTokenTTL:      time.Hour,
			ResetTokenTTL:        time.Hour,
			VerificationTokenTTL: time.Hour,
			BcryptCost:           10,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown env", mutate: func(c *Config) { c.AppEnv = "staging" }, wantErr: true},
		{name: "short production secret", mutate: func(c *Config) { c.AppEnv = EnvProduction }, wantErr: true},
		{name: "zero access ttl", mutate: func(c *Config) { c.AccessTokenTTL = 0 }, wantErr: true},
		{name: "zero reset ttl", mutate: func(c *Config) { c.ResetTokenTTL = 0 }, wantErr: true},
		{name: "bcrypt cost too low", mutate: func(c *Config) { c.BcryptCost = 2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
