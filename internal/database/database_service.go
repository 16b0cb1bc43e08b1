package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQLドライバー
)

// schemaStatements はアプリケーションが使うテーブルの定義です。
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS player_scores (
		user_id     TEXT PRIMARY KEY,
		best_score  INTEGER NOT NULL DEFAULT 0,
		total_lines INTEGER NOT NULL DEFAULT 0,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS results (
		id            BIGSERIAL PRIMARY KEY,
		user_id       TEXT NOT NULL,
		score         INTEGER NOT NULL,
		lines_cleared INTEGER NOT NULL DEFAULT 0,
		hard_mode     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS results_score_idx ON results (score DESC, created_at ASC)`,
}

// DatabaseService はデータベース接続を保持し、スキーマ管理を行います。
type DatabaseService struct {
	DB *sql.DB
}

// NewDatabaseService はPostgreSQLへの接続を確立し、新しい DatabaseService を返します。
//
// Parameters:
//   ctx         : Pingに使うコンテキスト
//   databaseURL : 接続文字列（DATABASE_URL）
// Returns:
//   *DatabaseService: 接続済みのサービス
//   error: 接続オブジェクトの作成やPingに失敗した場合
func NewDatabaseService(ctx context.Context, databaseURL string) (*DatabaseService, error) {
	log.Printf("[Database] データベース接続を試行中: URLの最初の20文字: %s...", databaseURL[:min(len(databaseURL), 20)])
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("データベースへの接続オブジェクト作成に失敗しました: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースのPingに失敗しました。接続情報やネットワークを確認してください: %w", err)
	}

	log.Println("[Database] データベースに正常に接続しました。")
	return &DatabaseService{DB: db}, nil
}

// EnsureSchema は必要なテーブルが存在しなければ作成します。
func (s *DatabaseService) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("スキーマの作成に失敗しました: %w", err)
		}
	}
	return nil
}

// Ping はデータベースに接続できるかを確認します（ヘルスチェック用）。
func (s *DatabaseService) Ping(ctx context.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("データベースのPingに失敗しました: %w", err)
	}
	return nil
}

// Close はデータベース接続を閉じます。
func (s *DatabaseService) Close() error {
	return s.DB.Close()
}
