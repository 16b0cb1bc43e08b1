package tetris

import (
	"math"
	"time"
)

// SpeedLevel はスコアの閾値と、その閾値以上で使う自動落下間隔（ミリ秒）の組です。
type SpeedLevel struct {
	Score int `json:"score"`
	Speed int `json:"speed"`
}

const (
	InitialSpeed      = 1000                    // 最初の自動落下間隔（ミリ秒）
	PointsDisplayTime = 1500 * time.Millisecond // 獲得点の表示時間
)

// SpeedLevels はスコアの昇順に並んだ難易度テーブルです。
var SpeedLevels = []SpeedLevel{
	{Score: 0, Speed: 1000},
	{Score: 1000, Speed: 875},
	{Score: 5000, Speed: 775},
	{Score: 10000, Speed: 675},
	{Score: 20000, Speed: 590},
	{Score: 30000, Speed: 500},
	{Score: 35000, Speed: 400},
	{Score: 40000, Speed: 335},
	{Score: 45000, Speed: 270},
	{Score: 50000, Speed: 220},
}

// BasePoints は1回の固定で消えたライン数に対する基本点を返します。
func BasePoints(rowsCleared int) int {
	switch rowsCleared {
	case 1:
		return 100
	case 2:
		return 300
	case 3:
		return 500
	case 4:
		return 800
	default:
		return 0
	}
}

// speedMultiplierTenths は落下速度倍率を10倍した整数で返します（1.1倍 -> 11）。
// スコア計算を整数で行うために使います。
func speedMultiplierTenths(speed int) int {
	if speed <= 0 {
		speed = SpeedLevels[len(SpeedLevels)-1].Speed
	}
	return int(math.Round(float64(InitialSpeed) * 10 / float64(speed)))
}

// SpeedMultiplier は落下間隔から求めたスコア倍率を返します（小数第1位まで）。
// 落下が速い（間隔が短い）ほど大きくなり、1000msで1.0倍です。UIの「Nx」表示にも使います。
func SpeedMultiplier(speed int) float64 {
	return float64(speedMultiplierTenths(speed)) / 10
}

// ScoreClear はライン消去1回分の獲得点を計算します。
//
// Parameters:
//   rowsCleared : 消えたライン数
//   speed       : 現在の自動落下間隔（ミリ秒）
//   hardMode    : ハードモードかどうか（trueなら1.5倍）
// Returns:
//   int: 獲得点
func ScoreClear(rowsCleared, speed int, hardMode bool) int {
	points := BasePoints(rowsCleared) * speedMultiplierTenths(speed) / 10
	if hardMode {
		points = points * 3 / 2
	}
	return points
}

// SpeedForScore はスコアに応じた自動落下間隔を返します。
// 閾値がスコア以下のレベルのうち、最も後ろ（最も速い）レベルの間隔を選びます。
func SpeedForScore(score int) int {
	speed := InitialSpeed
	for _, level := range SpeedLevels {
		if score >= level.Score {
			speed = level.Speed
		}
	}
	return speed
}

// FallInterval はミリ秒の落下間隔をタイマー用の time.Duration に変換します。
func FallInterval(speed int) time.Duration {
	if speed <= 0 {
		speed = InitialSpeed
	}
	return time.Duration(speed) * time.Millisecond
}
