package tetris

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CommandType はゲーム状態に適用できるコマンドの種類です。閉じた集合で、これ以外は存在しません。
type CommandType string

const (
	CommandReset          CommandType = "RESET"
	CommandSpawnPiece     CommandType = "SPAWN_PIECE"
	CommandUpdatePosition CommandType = "UPDATE_POSITION"
	CommandRotatePiece    CommandType = "ROTATE_PIECE"
	CommandClearRows      CommandType = "CLEAR_ROWS"
	CommandTogglePause    CommandType = "TOGGLE_PAUSE"
	CommandToggleMode     CommandType = "TOGGLE_MODE"
	CommandResetPoints    CommandType = "RESET_POINTS"
)

// ErrUnknownCommand は不明なコマンド種別やアクション名を受け取ったときに返されます。
var ErrUnknownCommand = errors.New("不明なコマンドです")

// Command はリデューサーに渡すコマンドです。
// X, Y は UPDATE_POSITION のときだけ使う移動量です。
type Command struct {
	Type CommandType `json:"type"`
	X    int         `json:"x,omitempty"`
	Y    int         `json:"y,omitempty"`
}

// Reset などは各コマンドを生成するためのヘルパーです。
func Reset() Command       { return Command{Type: CommandReset} }
func SpawnPiece() Command  { return Command{Type: CommandSpawnPiece} }
func Rotate() Command      { return Command{Type: CommandRotatePiece} }
func ClearRows() Command   { return Command{Type: CommandClearRows} }
func TogglePause() Command { return Command{Type: CommandTogglePause} }
func ToggleMode() Command  { return Command{Type: CommandToggleMode} }
func ResetPoints() Command { return Command{Type: CommandResetPoints} }

// Move は (dx, dy) だけ移動する UPDATE_POSITION コマンドを返します。
func Move(dx, dy int) Command {
	return Command{Type: CommandUpdatePosition, X: dx, Y: dy}
}

// Validate は外部から受け取ったコマンドが既知の種類かどうかを検証します。
func (c Command) Validate() error {
	switch c.Type {
	case CommandReset, CommandSpawnPiece, CommandRotatePiece, CommandClearRows,
		CommandTogglePause, CommandToggleMode, CommandResetPoints:
		return nil
	case CommandUpdatePosition:
		if c.X < -1 || c.X > 1 || c.Y < 0 || c.Y > 1 {
			return fmt.Errorf("移動量が範囲外です (x=%d, y=%d): %w", c.X, c.Y, ErrUnknownCommand)
		}
		return nil
	default:
		return fmt.Errorf("%q: %w", c.Type, ErrUnknownCommand)
	}
}

// IsInput はプレイヤー入力として外部から送ってよいコマンドかどうかを返します。
// CLEAR_ROWS, SPAWN_PIECE, RESET_POINTS はセッションのループだけが発行します。
func (c Command) IsInput() bool {
	switch c.Type {
	case CommandReset, CommandUpdatePosition, CommandRotatePiece, CommandTogglePause, CommandToggleMode:
		return true
	default:
		return false
	}
}

// CommandFromAction は入力側のアクション名（"move_left" など）をコマンドに変換します。
//
// Parameters:
//   action : クライアントから送られたアクション名
// Returns:
//   Command: 対応するコマンド
//   error  : 不明なアクション名の場合は ErrUnknownCommand
func CommandFromAction(action string) (Command, error) {
	switch action {
	case "move_left":
		return Move(-1, 0), nil
	case "move_right":
		return Move(1, 0), nil
	case "move_down", "soft_drop":
		return Move(0, 1), nil
	case "rotate", "rotate_right":
		return Rotate(), nil
	case "pause":
		return TogglePause(), nil
	case "restart":
		return Reset(), nil
	case "toggle_mode":
		return ToggleMode(), nil
	default:
		return Command{}, fmt.Errorf("%q: %w", action, ErrUnknownCommand)
	}
}

// commandMessage は外部から届くコマンドメッセージです。
// {"action":"move_left"} 形式と {"type":"UPDATE_POSITION","x":-1} 形式のどちらも受け付けます。
type commandMessage struct {
	Action string `json:"action"`
	Command
}

// ParseCommandMessage はWebSocketやHTTPで受け取ったJSONをコマンドに変換します。
// action があればそれを優先し、なければ type を検証して返します。
func ParseCommandMessage(data []byte) (Command, error) {
	var msg commandMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Command{}, fmt.Errorf("コマンドのJSONが不正です: %w", err)
	}
	if msg.Action != "" {
		return CommandFromAction(msg.Action)
	}
	if err := msg.Command.Validate(); err != nil {
		return Command{}, err
	}
	return msg.Command, nil
}
