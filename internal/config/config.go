package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/models/tetris"
)

// Config はサーバーの設定値です。全て環境変数（開発時は .env）から読み込みます。
type Config struct {
	Port           string   // PORT (既定: 8080)
	DatabaseURL    string   // DATABASE_URL (空ならメモリ上のリポジトリを使う)
	JWTSecret      string   // JWT_SECRET、なければ SUPABASE_JWT_SECRET
	BypassAuth     bool     // BYPASS_AUTH=true でJWT検証を省略（開発・テスト用）
	AllowedOrigins []string // ALLOWED_ORIGINS (カンマ区切り)
	GridRows       int      // GRID_ROWS (既定: 20)
	GridCols       int      // GRID_COLS (既定: 12)
	Production     bool     // APP_ENV=production
}

// defaultAllowedOrigins はALLOWED_ORIGINSが未設定のときに許可するオリジンです。
var defaultAllowedOrigins = []string{"http://localhost:3000"}

// Load は環境変数から設定を読み込みます。
// APP_ENV が production 以外の場合は、先に .env ファイルを読み込みます（存在しなくてもエラーにしません）。
//
// Returns:
//   *Config: 読み込んだ設定
//   error  : 値の形式が不正な場合
func Load() (*Config, error) {
	production := os.Getenv("APP_ENV") == "production"
	if !production {
		if err := godotenv.Load(); err != nil {
			log.Printf("[Config] warning: Error loading .env file (this is fine in production): %v", err)
		}
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecret:      getEnv("JWT_SECRET", os.Getenv("SUPABASE_JWT_SECRET")),
		BypassAuth:     os.Getenv("BYPASS_AUTH") == "true",
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
		Production:     production,
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = defaultAllowedOrigins
	}

	var err error
	if cfg.GridRows, err = getPositiveInt("GRID_ROWS", tetris.DefaultRows); err != nil {
		return nil, err
	}
	if cfg.GridCols, err = getPositiveInt("GRID_COLS", tetris.DefaultCols); err != nil {
		return nil, err
	}
	// 出現位置 {cols/2-2, 0} に4マス幅のI-ミノが収まる必要がある
	if cfg.GridCols < 4 {
		return nil, fmt.Errorf("GRID_COLS は4以上である必要があります: %d", cfg.GridCols)
	}

	if cfg.JWTSecret == "" && !cfg.BypassAuth {
		return nil, fmt.Errorf("JWT_SECRET が設定されていません（開発時は BYPASS_AUTH=true も使えます）")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getPositiveInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s は正の整数である必要があります: %q", key, v)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
