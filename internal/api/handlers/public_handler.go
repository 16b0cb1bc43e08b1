package handlers

import (
	"context"
	"log"
	"net/http"
	"time"
)

// Pinger はヘルスチェックで疎通を確認できる依存先です（*database.DatabaseService など）。
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter は稼働中のゲーム数を返します（*tetris.SessionManager など）。
type SessionCounter interface {
	ActiveSessions() int
}

// PublicHandler handles public API endpoints
type PublicHandler struct {
	db       Pinger // nil ならメモリ上のリポジトリで動作中
	sessions SessionCounter
}

// NewPublicHandler creates a new instance of PublicHandler
func NewPublicHandler(db Pinger, sessions SessionCounter) *PublicHandler {
	return &PublicHandler{
		db:       db,
		sessions: sessions,
	}
}

// Health はサーバーとデータベースの状態を返します。
// データベースに接続できない場合は 503 を返します。
// GET /api/health
func (h *PublicHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	dbStatus := "memory"
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			log.Printf("[Health] Database ping failed: %v", err)
			dbStatus = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			dbStatus = "ok"
		}
	}

	WriteJSONResponse(w, status, map[string]interface{}{
		"status":          http.StatusText(status),
		"database":        dbStatus,
		"active_sessions": h.sessions.ActiveSessions(),
	})
}
