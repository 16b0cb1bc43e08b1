package tetris

import (
	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/models/tetris"
)

// GameState は単一プレイヤーのゲーム状態のスナップショットです。
// 値は不変として扱い、全ての遷移は新しい GameState を返します。
// Grid や Piece の中身を直接書き換えてはいけません。
type GameState struct {
	Grid         tetris.Grid     `json:"grid"`          // 固定済みブロックの盤面
	CurrentPiece *tetris.Piece   `json:"current_piece"` // 操作中のテトリミノ（固定直後から次の出現まではnil）
	NextPiece    tetris.Piece    `json:"next_piece"`    // 次に出現するテトリミノ
	Position     tetris.Position `json:"position"`      // CurrentPiece の形状原点の座標
	Score        int             `json:"score"`
	BestScore    int             `json:"best_score"`
	LinesCleared int             `json:"lines_cleared"` // このゲームで消したライン数
	TotalLines   int             `json:"total_lines"`   // 永続化されている累計ライン数
	IsGameOver   bool            `json:"is_game_over"`
	IsPaused     bool            `json:"is_paused"`
	Speed        int             `json:"speed"` // 自動落下間隔（ミリ秒）
	IsHardMode   bool            `json:"is_hard_mode"`
	Points       *int            `json:"points"` // 直前のライン消去で獲得した点（表示用）
}

// Status はフラグから導出したゲームの状態名です。
type Status string

const (
	StatusPlaying  Status = "playing"
	StatusPaused   Status = "paused"
	StatusGameOver Status = "game_over"
)

// Status は IsGameOver と IsPaused から現在の状態を返します。ゲームオーバーが優先されます。
func (s GameState) Status() Status {
	switch {
	case s.IsGameOver:
		return StatusGameOver
	case s.IsPaused:
		return StatusPaused
	default:
		return StatusPlaying
	}
}

// RenderedGrid は盤面に落下中のピースを重ねた描画用の盤面を返します。
// 元の Grid は変更しません。
func (s GameState) RenderedGrid() tetris.Grid {
	if s.CurrentPiece == nil {
		return s.Grid.Clone()
	}
	return s.Grid.MergePiece(s.CurrentPiece.Shape, s.Position, s.CurrentPiece.Color)
}

// LightweightGameState は描画側へ送信するための軽量な状態です。
type LightweightGameState struct {
	RenderedGrid    tetris.Grid     `json:"rendered_grid"`
	NextPiece       tetris.Piece    `json:"next_piece"`
	CurrentPiece    *tetris.Piece   `json:"current_piece,omitempty"`
	Position        tetris.Position `json:"position"`
	Score           int             `json:"score"`
	BestScore       int             `json:"best_score"`
	LinesCleared    int             `json:"lines_cleared"`
	TotalLines      int             `json:"total_lines"`
	Status          Status          `json:"status"`
	IsGameOver      bool            `json:"is_game_over"`
	IsPaused        bool            `json:"is_paused"`
	IsHardMode      bool            `json:"is_hard_mode"`
	Speed           int             `json:"speed"`
	SpeedMultiplier float64         `json:"speed_multiplier"`
	Points          *int            `json:"points,omitempty"`
}

// ToLightweight は GameState から描画用の軽量な構造体に変換します。
func (s GameState) ToLightweight() *LightweightGameState {
	return &LightweightGameState{
		RenderedGrid:    s.RenderedGrid(),
		NextPiece:       s.NextPiece,
		CurrentPiece:    s.CurrentPiece,
		Position:        s.Position,
		Score:           s.Score,
		BestScore:       s.BestScore,
		LinesCleared:    s.LinesCleared,
		TotalLines:      s.TotalLines,
		Status:          s.Status(),
		IsGameOver:      s.IsGameOver,
		IsPaused:        s.IsPaused,
		IsHardMode:      s.IsHardMode,
		Speed:           s.Speed,
		SpeedMultiplier: SpeedMultiplier(s.Speed),
		Points:          s.Points,
	}
}
