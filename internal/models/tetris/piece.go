package tetris

import (
	"fmt"
	"math/rand"
)

// PieceType はテトリミノの種類を表します。
// 7種類に閉じた列挙型で、カタログに存在しない種類は作れません。
type PieceType int

const (
	TypeI PieceType = iota // 0: I-ミノ
	TypeO                  // 1: O-ミノ
	TypeT                  // 2: T-ミノ
	TypeL                  // 3: L-ミノ
	TypeJ                  // 4: J-ミノ
	TypeS                  // 5: S-ミノ
	TypeZ                  // 6: Z-ミノ
)

// pieceTypeCount はカタログに登録されたテトリミノの種類数です。
const pieceTypeCount = 7

// Shape はテトリミノの形状を表す2値行列です（1: ブロックあり, 0: なし）。
// Shape[row][col] でアクセスします。
type Shape [][]int

// Piece はテトリミノの種類・現在の形状・色をまとめたものです。
// 回転は回転角度ではなく Shape そのものを回転させて表現します。
type Piece struct {
	Type  PieceType `json:"type"`
	Shape Shape     `json:"shape"`
	Color string    `json:"color"`
}

// pieceCatalog は各PieceTypeの初期形状と色の定義です。
// 色は描画側が解釈する識別子で、エンジンは値の意味に関知しません。
var pieceCatalog = [pieceTypeCount]struct {
	shape Shape
	color string
}{
	TypeI: {Shape{{1, 1, 1, 1}}, "DarkRed"},
	TypeO: {Shape{{1, 1}, {1, 1}}, "Brown"},
	TypeT: {Shape{{0, 1, 0}, {1, 1, 1}}, "DarkGreen"},
	TypeL: {Shape{{1, 0}, {1, 0}, {1, 1}}, "Purple"},
	TypeJ: {Shape{{0, 1}, {0, 1}, {1, 1}}, "SaddleBrown"},
	TypeS: {Shape{{0, 1, 1}, {1, 1, 0}}, "Crimson"},
	TypeZ: {Shape{{1, 1, 0}, {0, 1, 1}}, "OrangeRed"},
}

// AllPieceTypes はカタログ順に全てのPieceTypeを返します。
func AllPieceTypes() []PieceType {
	return []PieceType{TypeI, TypeO, TypeT, TypeL, TypeJ, TypeS, TypeZ}
}

// Valid はPieceTypeがカタログに存在するかどうかを返します。
func (t PieceType) Valid() bool {
	return t >= 0 && t < pieceTypeCount
}

// NewPiece はカタログから指定された種類のテトリミノを生成します。
// 形状はコピーされるため、返されたPieceを変更してもカタログには影響しません。
func NewPiece(t PieceType) Piece {
	if !t.Valid() {
		t = TypeI
	}
	def := pieceCatalog[t]
	return Piece{
		Type:  t,
		Shape: def.shape.Clone(),
		Color: def.color,
	}
}

// RandomPieceType は7種類から一様ランダムに1つを選びます。
// 7-bagのような偏り防止は行わず、毎回独立した抽選です。
func RandomPieceType(r *rand.Rand) PieceType {
	return PieceType(r.Intn(pieceTypeCount))
}

// Clone は形状をディープコピーしたPieceを返します。
func (p Piece) Clone() Piece {
	p.Shape = p.Shape.Clone()
	return p
}

// Rotated は形状を時計回りに90度回転させたPieceを返します。元のPieceは変更しません。
func (p Piece) Rotated() Piece {
	p.Shape = RotateMatrix(p.Shape)
	return p
}

// Clone はShapeのディープコピーを返します。
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	for i, row := range s {
		out[i] = append([]int(nil), row...)
	}
	return out
}

// Equal は2つのShapeが同じ寸法・同じ値かどうかを返します。
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if len(s[i]) != len(o[i]) {
			return false
		}
		for j := range s[i] {
			if s[i][j] != o[i][j] {
				return false
			}
		}
	}
	return true
}

// RotateMatrix は形状を時計回りに90度回転させます。
// R行C列の入力に対して C行R列を返し、out[i][j] = in[R-1-j][i] です。
// 壁蹴り（Wall Kick）や位置補正は一切行いません。
//
// Parameters:
//   shape : 回転させる形状（矩形であること）
// Returns:
//   Shape: 回転後の新しい形状
func RotateMatrix(shape Shape) Shape {
	rows := len(shape)
	if rows == 0 {
		return Shape{}
	}
	cols := len(shape[0])
	out := make(Shape, cols)
	for i := 0; i < cols; i++ {
		out[i] = make([]int, rows)
		for j := 0; j < rows; j++ {
			out[i][j] = shape[rows-1-j][i]
		}
	}
	return out
}

// ParsePieceType は文字列のテトリミノタイプ（"I", "O", "T"など）をPieceTypeに変換します。
func ParsePieceType(s string) (PieceType, bool) {
	switch s {
	case "I":
		return TypeI, true
	case "O":
		return TypeO, true
	case "T":
		return TypeT, true
	case "L":
		return TypeL, true
	case "J":
		return TypeJ, true
	case "S":
		return TypeS, true
	case "Z":
		return TypeZ, true
	default:
		return TypeI, false
	}
}

// String はPieceTypeを文字列表現に変換します。
func (t PieceType) String() string {
	switch t {
	case TypeI:
		return "I"
	case TypeO:
		return "O"
	case TypeT:
		return "T"
	case TypeL:
		return "L"
	case TypeJ:
		return "J"
	case TypeS:
		return "S"
	case TypeZ:
		return "Z"
	default:
		return fmt.Sprintf("PieceType(%d)", int(t))
	}
}

// MarshalText はJSONなどでPieceTypeを "T" のような文字列として出力します。
func (t PieceType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("不明なテトリミノタイプです: %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText は "T" のような文字列からPieceTypeを復元します。
func (t *PieceType) UnmarshalText(text []byte) error {
	parsed, ok := ParsePieceType(string(text))
	if !ok {
		return fmt.Errorf("不明なテトリミノタイプです: %q", string(text))
	}
	*t = parsed
	return nil
}
