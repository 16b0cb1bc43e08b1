package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/models"
)

const (
	defaultResultLimit = 50
	maxResultLimit     = 100
)

// ResultHandler はゲーム結果とプレイヤーの記録に関するハンドラーを管理する構造体です。
type ResultHandler struct {
	resultRepo database.ResultRepository
	scoreRepo  database.ScoreRepository
}

// NewResultHandler は新しいResultHandlerインスタンスを作成します。
func NewResultHandler(resultRepo database.ResultRepository, scoreRepo database.ScoreRepository) *ResultHandler {
	return &ResultHandler{
		resultRepo: resultRepo,
		scoreRepo:  scoreRepo,
	}
}

// GetTopResults は上位ランキングを取得するハンドラーです。
// GET /api/results?limit=50
func (h *ResultHandler) GetTopResults(w http.ResponseWriter, r *http.Request) {
	// limitパラメータを取得（デフォルト50、範囲外は無視）
	limit := defaultResultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= maxResultLimit {
			limit = parsedLimit
		}
	}

	results, err := h.resultRepo.GetTopResults(r.Context(), limit)
	if err != nil {
		log.Printf("ゲーム結果取得エラー: %v", err)
		WriteErrorResponse(w, http.StatusInternalServerError, "ゲーム結果取得に失敗しました")
		return
	}

	WriteJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"results": results,
	})
}

// ScoresResponse はログイン中のプレイヤーの記録です。
type ScoresResponse struct {
	UserID string `json:"user_id"`
	models.SavedScores
	BestResult *models.Result `json:"best_result"` // まだゲームを終えていなければnull
}

// GetMyScores はログイン中のプレイヤーのベストスコア・累計ライン数・最高記録のゲームを返すハンドラーです。
// GET /api/protected/scores
func (h *ResultHandler) GetMyScores(w http.ResponseWriter, r *http.Request) {
	userID, err := ExtractUserIDFromContext(r)
	if err != nil {
		WriteErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}

	saved, err := h.scoreRepo.GetSavedScores(r.Context(), userID)
	if err != nil {
		log.Printf("スコア取得エラー (user %s): %v", userID, err)
		WriteErrorResponse(w, http.StatusInternalServerError, "スコア取得に失敗しました")
		return
	}

	best, err := h.resultRepo.GetUserBestResult(r.Context(), userID)
	if err != nil {
		log.Printf("ユーザー結果取得エラー (user %s): %v", userID, err)
		WriteErrorResponse(w, http.StatusInternalServerError, "ユーザー結果取得に失敗しました")
		return
	}

	WriteJSONResponse(w, http.StatusOK, ScoresResponse{
		UserID:      userID,
		SavedScores: saved.Sanitize(),
		BestResult:  best,
	})
}
