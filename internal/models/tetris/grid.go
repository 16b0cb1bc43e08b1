package tetris

const (
	DefaultRows = 20 // 盤面の高さ（表示部分）
	DefaultCols = 12 // 盤面の幅
)

// Cell は盤面の1マスです。Color が空文字列のときは色なしを表します。
type Cell struct {
	Filled bool   `json:"filled"`
	Color  string `json:"color"`
}

// Position は形状行列の原点（左上）を盤面上のどこに置くかを表します。
// Xは列、Yは行です。Yは負の値（盤面より上）も取り得ます。
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Grid はゲーム盤面を表す2次元スライスです。
// Grid[y][x] でアクセスします。yは行、xは列です。
// 生成後に寸法が変わることはなく、各操作は新しいGridを返して元のGridを変更しません。
type Grid [][]Cell

// NewGrid は rows × cols の空の盤面を生成して返します。
func NewGrid(rows, cols int) Grid {
	if rows < 0 {
		rows = 0
	}
	if cols < 0 {
		cols = 0
	}
	grid := make(Grid, rows)
	for y := range grid {
		grid[y] = make([]Cell, cols)
	}
	return grid
}

// Rows は盤面の行数を返します。
func (g Grid) Rows() int {
	return len(g)
}

// Cols は盤面の列数を返します。
func (g Grid) Cols() int {
	if len(g) == 0 {
		return 0
	}
	return len(g[0])
}

// Clone は盤面のディープコピーを返します。
func (g Grid) Clone() Grid {
	out := make(Grid, len(g))
	for y, row := range g {
		out[y] = append([]Cell(nil), row...)
	}
	return out
}

// Equal は2つの盤面の寸法と全マスが一致するかどうかを返します。
func (g Grid) Equal(o Grid) bool {
	if len(g) != len(o) {
		return false
	}
	for y := range g {
		if len(g[y]) != len(o[y]) {
			return false
		}
		for x := range g[y] {
			if g[y][x] != o[y][x] {
				return false
			}
		}
	}
	return true
}

// FilledCount は埋まっているマスの数を返します。
func (g Grid) FilledCount() int {
	n := 0
	for _, row := range g {
		for _, cell := range row {
			if cell.Filled {
				n++
			}
		}
	}
	return n
}

// IsCollision は形状を position に置いたときに、壁・床・既存ブロックと衝突するかを判定します。
//
// 値が1のマスだけを判定対象とし、x < 0, x >= 列数, y >= 行数 のいずれか、
// または y >= 0 かつそのマスが埋まっている場合に衝突とみなします。
// y < 0（盤面より上）のマスは左右の境界のみ判定し、盤面の上に一部はみ出した出現を許可します。
//
// Parameters:
//   shape    : 判定する形状
//   position : 形状の原点を置く盤面上の座標
// Returns:
//   bool: 衝突する場合はtrue、しない場合はfalse
func (g Grid) IsCollision(shape Shape, position Position) bool {
	rows, cols := g.Rows(), g.Cols()
	for r, line := range shape {
		for c, v := range line {
			if v != 1 {
				continue
			}
			x := position.X + c
			y := position.Y + r

			if x < 0 || x >= cols || y >= rows {
				return true // 左右の壁、または床との衝突
			}
			if y >= 0 && g[y][x].Filled {
				return true // 既存のブロックとの衝突
			}
		}
	}
	return false
}

// MergePiece は形状を position に color で書き込んだ新しい盤面を返します。
// 落下中ピースの描画用プレビューと、着地したピースの固定の両方に使います。
// 値が0のマスは変更せず、盤面の外にはみ出したマスは黙って無視します。
//
// Parameters:
//   shape    : 書き込む形状
//   position : 形状の原点を置く盤面上の座標
//   color    : 書き込むマスの色
// Returns:
//   Grid: 形状を書き込んだ新しい盤面
func (g Grid) MergePiece(shape Shape, position Position, color string) Grid {
	out := g.Clone()
	rows, cols := out.Rows(), out.Cols()
	for r, line := range shape {
		for c, v := range line {
			if v != 1 {
				continue
			}
			x := position.X + c
			y := position.Y + r

			// ボードの有効な範囲内でのみマージ
			if x >= 0 && x < cols && y >= 0 && y < rows {
				out[y][x] = Cell{Filled: true, Color: color}
			}
		}
	}
	return out
}

// ClearFullRows は全マスが埋まった行を取り除き、上に空行を補充した新しい盤面を返します。
// 行数は変わりません。揃った行がない場合は元と等しい盤面と0を返します。
//
// Returns:
//   Grid: クリア後の新しい盤面
//   int : クリアされた行数
func (g Grid) ClearFullRows() (Grid, int) {
	rows, cols := g.Rows(), g.Cols()
	kept := make(Grid, 0, rows)
	for _, row := range g {
		if !isRowFull(row) {
			kept = append(kept, append([]Cell(nil), row...))
		}
	}

	cleared := rows - len(kept)
	if cleared == 0 {
		return kept, 0
	}

	out := make(Grid, 0, rows)
	for i := 0; i < cleared; i++ {
		out = append(out, make([]Cell, cols))
	}
	out = append(out, kept...)
	return out, cleared
}

func isRowFull(row []Cell) bool {
	for _, cell := range row {
		if !cell.Filled {
			return false
		}
	}
	return true
}
