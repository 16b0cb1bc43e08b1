package models

import (
	"time"
)

// Result はresultsテーブルのレコードに対応する構造体です。
// ゲームオーバーになった1ゲーム分の結果を表します。
type Result struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"` // UUID
	Score        int       `json:"score"`
	LinesCleared int       `json:"lines_cleared"`
	HardMode     bool      `json:"hard_mode"`
	CreatedAt    time.Time `json:"created_at"`
}

// ResultResponse はAPI レスポンス用の構造体です。
type ResultResponse struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	Score        int       `json:"score"`
	LinesCleared int       `json:"lines_cleared"`
	HardMode     bool      `json:"hard_mode"`
	CreatedAt    time.Time `json:"created_at"`
	Rank         int       `json:"rank"` // ランキング順位
}
