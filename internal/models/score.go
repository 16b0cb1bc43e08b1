package models

// SavedScores はプレイヤーごとに永続化される累計記録です。
// 読み込みに失敗した場合や壊れたデータの場合はゼロ値（0, 0）として扱います。
type SavedScores struct {
	BestScore  int `json:"best_score"`
	TotalLines int `json:"total_lines"`
}

// Sanitize は負の値などの不正な記録を安全な値に補正して返します。
func (s SavedScores) Sanitize() SavedScores {
	if s.BestScore < 0 {
		s.BestScore = 0
	}
	if s.TotalLines < 0 {
		s.TotalLines = 0
	}
	return s
}
