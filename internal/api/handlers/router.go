package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/api/middleware"
)

// RouterConfig はルーターに登録するハンドラーと認証・CORSの設定です。
type RouterConfig struct {
	Games          *GameHandler
	Results        *ResultHandler
	Public         *PublicHandler
	Auth           *middleware.Authenticator
	AllowedOrigins []string
}

// NewRouter は全てのエンドポイントを登録し、CORSを適用したハンドラーを返します。
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// 認証不要な公開エンドポイント
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", cfg.Public.Health).Methods(http.MethodGet)
	api.HandleFunc("/results", cfg.Results.GetTopResults).Methods(http.MethodGet)
	// WebSocketはヘッダーを付けられないため、接続後の最初のメッセージで認証する
	api.HandleFunc("/games/{gameID}/ws", cfg.Games.HandleWebSocketConnection).Methods(http.MethodGet)

	// /api/protected/ で始まる全てのパスにAuthMiddlewareを適用
	protected := api.PathPrefix("/protected").Subrouter()
	protected.Use(cfg.Auth.Middleware)
	protected.HandleFunc("/games", cfg.Games.CreateGame).Methods(http.MethodPost)
	protected.HandleFunc("/games/{gameID}", cfg.Games.GetGame).Methods(http.MethodGet)
	protected.HandleFunc("/games/{gameID}", cfg.Games.EndGame).Methods(http.MethodDelete)
	protected.HandleFunc("/games/{gameID}/commands", cfg.Games.PostCommand).Methods(http.MethodPost)
	protected.HandleFunc("/scores", cfg.Results.GetMyScores).Methods(http.MethodGet)

	return middleware.CORSHandler(cfg.AllowedOrigins)(r)
}
