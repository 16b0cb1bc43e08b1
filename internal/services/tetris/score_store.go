package tetris

import (
	"context"
	"log"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/models"
)

// ScoreStore はエンジンから見た永続化ストアです。
// エンジンにエラーを返すことはなく、失敗時は安全な既定値を返します。
type ScoreStore interface {
	GetSavedScores() models.SavedScores
	UpdateBestScore(score int)
	UpdateLinesCleared(lines int)
}

// storeTimeout はストア操作1回あたりのタイムアウトです。
const storeTimeout = 3 * time.Second

// repositoryScoreStore は database.ScoreRepository を特定ユーザー用の ScoreStore に変換します。
type repositoryScoreStore struct {
	repo   database.ScoreRepository
	userID string
}

// NewRepositoryScoreStore は指定ユーザーの記録を repo に読み書きする ScoreStore を返します。
func NewRepositoryScoreStore(repo database.ScoreRepository, userID string) ScoreStore {
	return &repositoryScoreStore{repo: repo, userID: userID}
}

func (s *repositoryScoreStore) GetSavedScores() models.SavedScores {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	scores, err := s.repo.GetSavedScores(ctx, s.userID)
	if err != nil {
		log.Printf("[ScoreStore] Failed to load saved scores for user %s, using defaults: %v", s.userID, err)
		return models.SavedScores{}
	}
	return scores.Sanitize()
}

func (s *repositoryScoreStore) UpdateBestScore(score int) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := s.repo.UpdateBestScore(ctx, s.userID, score); err != nil {
		log.Printf("[ScoreStore] Failed to update best score for user %s: %v", s.userID, err)
	}
}

func (s *repositoryScoreStore) UpdateLinesCleared(lines int) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := s.repo.AddLinesCleared(ctx, s.userID, lines); err != nil {
		log.Printf("[ScoreStore] Failed to add cleared lines for user %s: %v", s.userID, err)
	}
}

// nopScoreStore は何も永続化しない ScoreStore です。
type nopScoreStore struct{}

func (nopScoreStore) GetSavedScores() models.SavedScores { return models.SavedScores{} }
func (nopScoreStore) UpdateBestScore(int)                {}
func (nopScoreStore) UpdateLinesCleared(int)             {}
