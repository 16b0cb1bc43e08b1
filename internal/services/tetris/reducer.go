package tetris

import (
	"math/rand"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/models/tetris"
)

// Engine はコマンドをゲーム状態に適用する状態遷移機械です。
// 盤面の寸法、永続化ストア、ピース抽選用の乱数生成器を保持します。
// 乱数生成器はゴルーチンセーフではないため、1つの Engine は1つのセッションからだけ使います。
type Engine struct {
	rows  int
	cols  int
	store ScoreStore
	rand  *rand.Rand
}

// NewEngine は新しい Engine を作成します。
//
// Parameters:
//   rows, cols : 盤面の寸法（0以下なら既定の 20 × 12）
//   store      : 永続化ストア（nilなら何も保存しない）
//   r          : ピース抽選用の乱数生成器（nilなら現在時刻で初期化）
// Returns:
//   *Engine: 初期化された Engine
func NewEngine(rows, cols int, store ScoreStore, r *rand.Rand) *Engine {
	if rows <= 0 {
		rows = tetris.DefaultRows
	}
	if cols <= 0 {
		cols = tetris.DefaultCols
	}
	if store == nil {
		store = nopScoreStore{}
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{rows: rows, cols: cols, store: store, rand: r}
}

// SpawnPosition はピースの出現位置（列の中央付近、0行目）を返します。
func (e *Engine) SpawnPosition() tetris.Position {
	return tetris.Position{X: max(e.cols/2-2, 0), Y: 0}
}

func (e *Engine) randomPiece() tetris.Piece {
	return tetris.NewPiece(tetris.RandomPieceType(e.rand))
}

// InitialState はプログラム開始時のゲーム状態を返します。
// 保存済みの記録を1度だけ読み込み、ピースを2つ抽選します。ゲームは一時停止状態で始まります。
func (e *Engine) InitialState() GameState {
	saved := e.store.GetSavedScores().Sanitize()
	current := e.randomPiece()
	return GameState{
		Grid:         tetris.NewGrid(e.rows, e.cols),
		CurrentPiece: &current,
		NextPiece:    e.randomPiece(),
		Position:     e.SpawnPosition(),
		BestScore:    saved.BestScore,
		TotalLines:   saved.TotalLines,
		IsPaused:     true,
		Speed:        InitialSpeed,
	}
}

// Reduce はコマンドを1つ適用した新しいゲーム状態を返します。
// 引数の state は変更しません。不明なコマンドの場合は state をそのまま返します。
//
// Parameters:
//   state : 現在のゲーム状態
//   cmd   : 適用するコマンド
// Returns:
//   GameState: 適用後のゲーム状態
func (e *Engine) Reduce(state GameState, cmd Command) GameState {
	switch cmd.Type {
	case CommandReset:
		return e.reset(state)
	case CommandSpawnPiece:
		return e.spawnPiece(state)
	case CommandUpdatePosition:
		return e.updatePosition(state, cmd.X, cmd.Y)
	case CommandRotatePiece:
		return e.rotatePiece(state)
	case CommandClearRows:
		return e.clearRows(state)
	case CommandTogglePause:
		state.IsPaused = !state.IsPaused
		return state
	case CommandToggleMode:
		state.IsHardMode = !state.IsHardMode
		return state
	case CommandResetPoints:
		state.Points = nil
		return state
	default:
		return state
	}
}

// reset は盤面・ピース・スコアを初期化します。ベストスコア・累計ライン数・ハードモードは引き継ぎます。
func (e *Engine) reset(state GameState) GameState {
	current := e.randomPiece()
	return GameState{
		Grid:         tetris.NewGrid(e.rows, e.cols),
		CurrentPiece: &current,
		NextPiece:    e.randomPiece(),
		Position:     e.SpawnPosition(),
		BestScore:    state.BestScore,
		TotalLines:   state.TotalLines,
		Speed:        InitialSpeed,
		IsHardMode:   state.IsHardMode,
	}
}

// spawnPiece は次のピースを出現位置に置き、新しい次のピースを抽選します。
// 出現位置で既に衝突する場合はゲームオーバーにします。
func (e *Engine) spawnPiece(state GameState) GameState {
	if state.IsGameOver {
		return state
	}

	piece := state.NextPiece.Clone()
	spawn := e.SpawnPosition()
	if state.Grid.IsCollision(piece.Shape, spawn) {
		state.IsGameOver = true
		return state
	}

	state.CurrentPiece = &piece
	state.NextPiece = e.randomPiece()
	state.Position = spawn
	return state
}

// updatePosition はピースを (dx, dy) だけ移動させます。
// 一時停止中は移動せずに再開だけを行います（方向入力での再開）。
// 下方向への移動が衝突した場合は、直前の位置でピースを盤面に固定します。
func (e *Engine) updatePosition(state GameState, dx, dy int) GameState {
	if state.IsGameOver || state.CurrentPiece == nil {
		return state
	}
	if state.IsPaused {
		state.IsPaused = false
		return state
	}

	piece := state.CurrentPiece
	next := tetris.Position{X: state.Position.X + dx, Y: state.Position.Y + dy}
	collision := state.Grid.IsCollision(piece.Shape, next)

	if collision && dy > 0 {
		state.Grid = state.Grid.MergePiece(piece.Shape, state.Position, piece.Color)
		state.CurrentPiece = nil
		state.Position = e.SpawnPosition()
		return state
	}
	if collision {
		return state // 横方向の衝突は何もしない
	}

	state.Position = next
	return state
}

// rotatePiece はピースを時計回りに回転させます。回転後に衝突する場合は何もしません（壁蹴りなし）。
// 一時停止中は回転せずに再開だけを行います。
func (e *Engine) rotatePiece(state GameState) GameState {
	if state.IsGameOver || state.CurrentPiece == nil {
		return state
	}
	if state.IsPaused {
		state.IsPaused = false
		return state
	}

	rotated := state.CurrentPiece.Rotated()
	if state.Grid.IsCollision(rotated.Shape, state.Position) {
		return state
	}
	state.CurrentPiece = &rotated
	return state
}

// clearRows は揃った行を消し、スコア・ベストスコア・累計ライン数・落下速度を更新します。
func (e *Engine) clearRows(state GameState) GameState {
	grid, rowsCleared := state.Grid.ClearFullRows()
	if rowsCleared > 0 {
		e.store.UpdateLinesCleared(rowsCleared)
	}

	points := ScoreClear(rowsCleared, state.Speed, state.IsHardMode)
	score := state.Score + points

	bestScore := state.BestScore
	if score > bestScore {
		bestScore = score
		e.store.UpdateBestScore(bestScore)
	}

	state.Grid = grid
	state.Score = score
	state.BestScore = bestScore
	state.Speed = SpeedForScore(score)
	state.LinesCleared += rowsCleared
	state.TotalLines += rowsCleared
	if rowsCleared > 0 {
		state.Points = &points
	} else {
		state.Points = nil
	}
	return state
}
