package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/lib/pq"

	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/models"
)

// ScoreRepository はプレイヤーごとの累計記録（ベストスコア・累計ライン数）の永続化を定義するインターフェースです。
type ScoreRepository interface {
	// GetSavedScores は保存済みの記録を取得します。記録がない場合はゼロ値を返します
	GetSavedScores(ctx context.Context, userID string) (models.SavedScores, error)

	// UpdateBestScore はベストスコアを更新します。保存済みの値より小さい場合は変更しません
	UpdateBestScore(ctx context.Context, userID string, score int) error

	// AddLinesCleared は累計ライン数に lines を加算します
	AddLinesCleared(ctx context.Context, userID string, lines int) error
}

// scoreRepositoryImpl はPostgreSQLを使ったScoreRepositoryの実装です。
type scoreRepositoryImpl struct {
	db *sql.DB
}

// NewScoreRepository はPostgreSQL用のScoreRepositoryを作成します。
func NewScoreRepository(db *sql.DB) ScoreRepository {
	return &scoreRepositoryImpl{db: db}
}

// GetSavedScores は保存済みの記録を取得します。
func (r *scoreRepositoryImpl) GetSavedScores(ctx context.Context, userID string) (models.SavedScores, error) {
	var scores models.SavedScores
	err := r.db.QueryRowContext(ctx,
		`SELECT best_score, total_lines FROM player_scores WHERE user_id = $1`,
		userID,
	).Scan(&scores.BestScore, &scores.TotalLines)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SavedScores{}, nil // まだ記録がない
	}
	if err != nil {
		return models.SavedScores{}, fmt.Errorf("保存済みスコアの取得に失敗しました: %w", describeError(err))
	}
	return scores.Sanitize(), nil
}

// UpdateBestScore はベストスコアを更新します。
func (r *scoreRepositoryImpl) UpdateBestScore(ctx context.Context, userID string, score int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO player_scores (user_id, best_score, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET best_score = GREATEST(player_scores.best_score, EXCLUDED.best_score),
		    updated_at = now()
	`, userID, score)
	if err != nil {
		return fmt.Errorf("ベストスコアの更新に失敗しました: %w", describeError(err))
	}
	return nil
}

// AddLinesCleared は累計ライン数を加算します。
func (r *scoreRepositoryImpl) AddLinesCleared(ctx context.Context, userID string, lines int) error {
	if lines <= 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO player_scores (user_id, total_lines, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET total_lines = player_scores.total_lines + EXCLUDED.total_lines,
		    updated_at = now()
	`, userID, lines)
	if err != nil {
		return fmt.Errorf("累計ライン数の更新に失敗しました: %w", describeError(err))
	}
	return nil
}

// describeError はPostgreSQLのエラーであればSQLSTATEコードを付けて返します。
func describeError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%w (code=%s, %s)", err, pqErr.Code, pqErr.Code.Name())
	}
	return err
}

// memoryScoreRepository はメモリ上で記録を保持するScoreRepositoryの実装です。
// DATABASE_URL が設定されていない開発環境やテストで使います。
type memoryScoreRepository struct {
	mu     sync.RWMutex
	scores map[string]models.SavedScores
}

// NewMemoryScoreRepository はメモリ上のScoreRepositoryを作成します。
func NewMemoryScoreRepository() ScoreRepository {
	return &memoryScoreRepository{scores: make(map[string]models.SavedScores)}
}

func (r *memoryScoreRepository) GetSavedScores(_ context.Context, userID string) (models.SavedScores, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scores[userID].Sanitize(), nil
}

func (r *memoryScoreRepository) UpdateBestScore(_ context.Context, userID string, score int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.scores[userID]
	if score > s.BestScore {
		s.BestScore = score
	}
	r.scores[userID] = s
	return nil
}

func (r *memoryScoreRepository) AddLinesCleared(_ context.Context, userID string, lines int) error {
	if lines <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.scores[userID]
	s.TotalLines += lines
	r.scores[userID] = s
	return nil
}
