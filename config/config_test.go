package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("SCHOOL_AUTH_JWT_SECRET", "test-secret-key-for-unit-testing")
	t.Setenv("SCHOOL_LIFECYCLE_DECISION_BATCH_SIZE", "200")

	// 显式指定的文件不存在时 viper 返回 PathError 而非 ConfigFileNotFoundError
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 200, cfg.Lifecycle.DecisionBatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Lifecycle.LockTTL)
	assert.Equal(t, "12", cfg.Lifecycle.DefaultTerminalClass)
	assert.Contains(t, cfg.Permissions["admin"], "academic_year.close")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Port: 8080},
			Auth:   AuthConfig{JWTSecret: "0123456789abcdef"},
			Lifecycle: LifecycleConfig{
				LockTTL:              time.Minute,
				DecisionBatchSize:    100,
				ExamFetchConcurrency: 4,
				StaleRunAfter:        time.Hour,
				DefaultTerminalClass: "12",
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "short secret", mutate: func(c *Config) { c.Auth.JWTSecret = "short" }, wantErr: true},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "zero batch", mutate: func(c *Config) { c.Lifecycle.DecisionBatchSize = 0 }, wantErr: true},
		{name: "stale before lock ttl", mutate: func(c *Config) { c.Lifecycle.StaleRunAfter = time.Second }, wantErr: true},
		{name: "no terminal class", mutate: func(c *Config) { c.Lifecycle.DefaultTerminalClass = "" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
