package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/models"
)

// ResultRepository はゲーム結果関連のデータベース操作を定義するインターフェースです。
type ResultRepository interface {
	// CreateResult は新しいゲーム結果レコードを作成します
	CreateResult(ctx context.Context, result models.Result) (*models.Result, error)

	// GetTopResults は上位N件の結果を取得します（ランキング用）
	GetTopResults(ctx context.Context, limit int) ([]models.ResultResponse, error)

	// GetUserBestResult は指定したユーザーの最高スコアの結果を取得します。結果がない場合はnilを返します
	GetUserBestResult(ctx context.Context, userID string) (*models.Result, error)
}

// resultRepositoryImpl はResultRepositoryインターフェースの実装です。
type resultRepositoryImpl struct {
	db *sql.DB
}

// NewResultRepository はResultRepositoryの新しいインスタンスを作成します。
func NewResultRepository(db *sql.DB) ResultRepository {
	return &resultRepositoryImpl{db: db}
}

// CreateResult は新しいゲーム結果レコードを作成します。
func (r *resultRepositoryImpl) CreateResult(ctx context.Context, result models.Result) (*models.Result, error) {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO results (user_id, score, lines_cleared, hard_mode, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		result.UserID, result.Score, result.LinesCleared, result.HardMode, result.CreatedAt,
	).Scan(&result.ID)
	if err != nil {
		return nil, fmt.Errorf("ゲーム結果レコードの作成に失敗しました: %w", describeError(err))
	}
	return &result, nil
}

// GetTopResults は上位N件の結果を取得します（ランキング用）。
func (r *resultRepositoryImpl) GetTopResults(ctx context.Context, limit int) ([]models.ResultResponse, error) {
	query := `
		SELECT
			id, user_id, score, lines_cleared, hard_mode, created_at,
			ROW_NUMBER() OVER (ORDER BY score DESC, created_at ASC) as rank
		FROM results
		ORDER BY score DESC, created_at ASC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ゲーム結果取得に失敗しました: %w", describeError(err))
	}
	defer rows.Close()

	results := make([]models.ResultResponse, 0, limit)
	for rows.Next() {
		var res models.ResultResponse
		if err := rows.Scan(&res.ID, &res.UserID, &res.Score, &res.LinesCleared, &res.HardMode, &res.CreatedAt, &res.Rank); err != nil {
			return nil, fmt.Errorf("ゲーム結果データのスキャンに失敗しました: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ゲーム結果取得中にエラーが発生しました: %w", err)
	}
	return results, nil
}

// GetUserBestResult は指定したユーザーの最高スコアの結果を取得します。
func (r *resultRepositoryImpl) GetUserBestResult(ctx context.Context, userID string) (*models.Result, error) {
	query := `
		SELECT id, user_id, score, lines_cleared, hard_mode, created_at
		FROM results
		WHERE user_id = $1
		ORDER BY score DESC, created_at ASC
		LIMIT 1
	`

	var res models.Result
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&res.ID, &res.UserID, &res.Score, &res.LinesCleared, &res.HardMode, &res.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // ユーザーのスコアが存在しない場合はnilを返す
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの最高スコア取得に失敗しました: %w", describeError(err))
	}
	return &res, nil
}

// memoryResultRepository はメモリ上で結果を保持するResultRepositoryの実装です。
type memoryResultRepository struct {
	mu      sync.RWMutex
	nextID  int64
	results []models.Result
}

// NewMemoryResultRepository はメモリ上のResultRepositoryを作成します。
func NewMemoryResultRepository() ResultRepository {
	return &memoryResultRepository{nextID: 1}
}

func (r *memoryResultRepository) CreateResult(_ context.Context, result models.Result) (*models.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}
	result.ID = r.nextID
	r.nextID++
	r.results = append(r.results, result)
	return &result, nil
}

// sorted はスコアの降順（同点は古い順）に並べたコピーを返します。
func (r *memoryResultRepository) sorted() []models.Result {
	out := append([]models.Result(nil), r.results...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *memoryResultRepository) GetTopResults(_ context.Context, limit int) ([]models.ResultResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.sorted()
	if limit >= 0 && limit < len(all) {
		all = all[:limit]
	}
	results := make([]models.ResultResponse, 0, len(all))
	for i, res := range all {
		results = append(results, models.ResultResponse{
			ID:           res.ID,
			UserID:       res.UserID,
			Score:        res.Score,
			LinesCleared: res.LinesCleared,
			HardMode:     res.HardMode,
			CreatedAt:    res.CreatedAt,
			Rank:         i + 1,
		})
	}
	return results, nil
}

func (r *memoryResultRepository) GetUserBestResult(_ context.Context, userID string) (*models.Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, res := range r.sorted() {
		if res.UserID == userID {
			return &res, nil
		}
	}
	return nil, nil
}
