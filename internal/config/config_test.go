package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setBaseEnv は .env の読み込みを避け、全ての設定キーを空にします。
func setBaseEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	for _, key := range []string{"PORT", "DATABASE_URL", "JWT_SECRET", "SUPABASE_JWT_SECRET", "BYPASS_AUTH", "ALLOWED_ORIGINS", "GRID_ROWS", "GRID_COLS"} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, "secret", cfg.JWTSecret)
	assert.False(t, cfg.BypassAuth)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, 20, cfg.GridRows)
	assert.Equal(t, 12, cfg.GridCols)
	assert.True(t, cfg.Production)
}

func TestLoad_FromEnv(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("DATABASE_URL", "postgres://localhost/tetris?sslmode=disable")
	t.Setenv("SUPABASE_JWT_SECRET", "supabase-secret")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("GRID_ROWS", "24")
	t.Setenv("GRID_COLS", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "postgres://localhost/tetris?sslmode=disable", cfg.DatabaseURL)
	assert.Equal(t, "supabase-secret", cfg.JWTSecret, "JWT_SECRETがなければSUPABASE_JWT_SECRETを使う")
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 24, cfg.GridRows)
	assert.Equal(t, 10, cfg.GridCols)
}

func TestLoad_BypassAuthWithoutSecret(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("BYPASS_AUTH", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.BypassAuth)
	assert.Empty(t, cfg.JWTSecret)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"シークレットなし", map[string]string{}},
		{"行数が数値でない", map[string]string{"JWT_SECRET": "s", "GRID_ROWS": "abc"}},
		{"列数が0", map[string]string{"JWT_SECRET": "s", "GRID_COLS": "0"}},
		{"列数が狭すぎる", map[string]string{"JWT_SECRET": "s", "GRID_COLS": "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
