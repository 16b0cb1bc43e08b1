package tetris

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBasePoints(t *testing.T) {
	assert.Equal(t, 0, BasePoints(0))
	assert.Equal(t, 100, BasePoints(1))
	assert.Equal(t, 300, BasePoints(2))
	assert.Equal(t, 500, BasePoints(3))
	assert.Equal(t, 800, BasePoints(4))
	assert.Equal(t, 0, BasePoints(5), "5ライン以上は起こり得ないため0点")
}

func TestScoreClear(t *testing.T) {
	tests := []struct {
		name     string
		rows     int
		speed    int
		hardMode bool
		want     int
	}{
		{"1ライン・初期速度", 1, 1000, false, 100},
		{"4ライン・初期速度", 4, 1000, false, 800},
		{"4ライン・ハードモード", 4, 1000, true, 1200},
		{"1ライン・875ms", 1, 875, false, 110},
		{"2ライン・500ms", 2, 500, false, 600},
		{"3ライン・220msハード", 3, 220, true, 3375},
		{"0ライン", 0, 220, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScoreClear(tt.rows, tt.speed, tt.hardMode))
		})
	}
}

func TestSpeedMultiplier(t *testing.T) {
	assert.Equal(t, 1.0, SpeedMultiplier(1000))
	assert.Equal(t, 1.1, SpeedMultiplier(875))
	assert.Equal(t, 2.0, SpeedMultiplier(500))
	assert.Equal(t, 4.5, SpeedMultiplier(220))
	assert.Equal(t, 4.5, SpeedMultiplier(0), "不正な速度は最速レベルとして扱う")
}

func TestSpeedForScore(t *testing.T) {
	tests := []struct {
		score int
		want  int
	}{
		{0, 1000},
		{999, 1000},
		{1000, 875},
		{4999, 875},
		{5000, 775},
		{19999, 675},
		{35000, 400},
		{49999, 270},
		{50000, 220},
		{1000000, 220},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SpeedForScore(tt.score), "score=%d", tt.score)
	}
}

func TestSpeedLevelsAreOrdered(t *testing.T) {
	for i := 1; i < len(SpeedLevels); i++ {
		assert.Greater(t, SpeedLevels[i].Score, SpeedLevels[i-1].Score)
		assert.Less(t, SpeedLevels[i].Speed, SpeedLevels[i-1].Speed)
	}
}

func TestFallInterval(t *testing.T) {
	assert.Equal(t, time.Second, FallInterval(1000))
	assert.Equal(t, 220*time.Millisecond, FallInterval(220))
	assert.Equal(t, time.Second, FallInterval(0))
}
