package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket" // WebSocketライブラリ

	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/api/middleware"
	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/services/tetris" // SessionManager をインポート
)

const (
	authTimeout     = 10 * time.Second // WebSocket接続後、認証メッセージを待つ時間
	maxCommandBytes = 1024
)

// GameHandler はゲーム関連のHTTPリクエスト（作成、状態取得、コマンド送信、WebSocket接続）を処理します。
type GameHandler struct {
	sessionManager *tetris.SessionManager    // ゲームセッションの管理サービス
	auth           *middleware.Authenticator // WebSocketの認証メッセージ検証用
	upgrader       websocket.Upgrader
}

// NewGameHandler は新しい GameHandler インスタンスを作成します。
//
// Parameters:
//   sm             : セッションマネージャーへのポインタ
//   auth           : JWT検証に使う Authenticator
//   allowedOrigins : WebSocket接続を許可するオリジン（"*" で全て許可）
// Returns:
//   *GameHandler: 新しく作成された GameHandler のポインタ
func NewGameHandler(sm *tetris.SessionManager, auth *middleware.Authenticator, allowedOrigins []string) *GameHandler {
	return &GameHandler{
		sessionManager: sm,
		auth:           auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// ブラウザ以外のクライアントはOriginを送らない
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// WriteErrorResponse はエラーレスポンスをJSON形式で書き込みます。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// WriteJSONResponse はJSONレスポンスを書き込みます。
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeSessionError はセッション操作のエラーを対応するHTTPステータスに変換して書き込みます。
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tetris.ErrSessionNotFound):
		WriteErrorResponse(w, http.StatusNotFound, "指定されたゲームは見つかりませんでした")
	case errors.Is(err, tetris.ErrUnknownCommand):
		WriteErrorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tetris.ErrCommandQueueFull):
		WriteErrorResponse(w, http.StatusTooManyRequests, "コマンドが多すぎます。しばらく待ってから再送してください")
	case errors.Is(err, tetris.ErrSessionClosed):
		WriteErrorResponse(w, http.StatusGone, "ゲームは既に終了しています")
	default:
		log.Printf("[GameHandler] Unexpected session error: %v", err)
		WriteErrorResponse(w, http.StatusInternalServerError, "ゲームの操作に失敗しました")
	}
}

// CreateGame は新しいゲームセッションを作成するためのHTTPハンドラーです。
// POST /api/protected/games
func (h *GameHandler) CreateGame(w http.ResponseWriter, r *http.Request) {
	userID, err := ExtractUserIDFromContext(r)
	if err != nil {
		WriteErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}

	session, err := h.sessionManager.CreateSession(userID)
	if err != nil {
		log.Printf("[GameHandler] Failed to create game for user %s: %v", userID, err)
		writeSessionError(w, err)
		return
	}

	WriteJSONResponse(w, http.StatusCreated, map[string]interface{}{
		"game_id": session.ID,
		"state":   session.Snapshot().ToLightweight(),
	})
}

// GetGame は自分のゲームの現在の状態を返すハンドラーです。
// GET /api/protected/games/{gameID}
func (h *GameHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	userID, err := ExtractUserIDFromContext(r)
	if err != nil {
		WriteErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}

	session, err := h.sessionManager.GetUserSession(mux.Vars(r)["gameID"], userID)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	WriteJSONResponse(w, http.StatusOK, session.Snapshot().ToLightweight())
}

// PostCommand はプレイヤー入力をゲームに送るハンドラーです。
// ボディは {"action":"move_left"} か {"type":"UPDATE_POSITION","x":-1,"y":0} の形式です。
// コマンドは非同期に処理されるため、202 と受付時点の状態を返します。
// POST /api/protected/games/{gameID}/commands
func (h *GameHandler) PostCommand(w http.ResponseWriter, r *http.Request) {
	userID, err := ExtractUserIDFromContext(r)
	if err != nil {
		WriteErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteErrorResponse(w, http.StatusRequestEntityTooLarge, "リクエストボディが大きすぎます")
			return
		}
		WriteErrorResponse(w, http.StatusBadRequest, "リクエストボディの読み込みに失敗しました")
		return
	}
	cmd, err := tetris.ParseCommandMessage(body)
	if err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	gameID := mux.Vars(r)["gameID"]
	session, err := h.sessionManager.DispatchInput(r.Context(), gameID, userID, cmd)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	WriteJSONResponse(w, http.StatusAccepted, map[string]interface{}{
		"game_id": gameID,
		"command": cmd,
		"state":   session.Snapshot().ToLightweight(),
	})
}

// EndGame は自分のゲームセッションを終了させるハンドラーです。
// DELETE /api/protected/games/{gameID}
func (h *GameHandler) EndGame(w http.ResponseWriter, r *http.Request) {
	userID, err := ExtractUserIDFromContext(r)
	if err != nil {
		WriteErrorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}

	gameID := mux.Vars(r)["gameID"]
	if _, err := h.sessionManager.GetUserSession(gameID, userID); err != nil {
		writeSessionError(w, err)
		return
	}
	h.sessionManager.EndGameSession(gameID)

	WriteJSONResponse(w, http.StatusOK, map[string]string{"message": "ゲームを終了しました", "game_id": gameID})
}

// HandleWebSocketConnection はHTTP接続をWebSocketプロトコルにアップグレードし、
// 認証メッセージを検証した後、WebSocketメッセージの送受信をセッションマネージャーに引き渡します。
// GET /api/games/{gameID}/ws
func (h *GameHandler) HandleWebSocketConnection(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["gameID"]
	if gameID == "" {
		WriteErrorResponse(w, http.StatusBadRequest, "WebSocket接続にはゲームIDが必要です")
		return
	}

	// HTTP接続をWebSocket接続にアップグレード
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[GameHandler] Failed to upgrade to websocket for game %s: %v", gameID, err)
		return // アップグレード失敗時はエラーログのみ
	}

	userID, err := h.authenticate(conn)
	if err != nil {
		log.Printf("[GameHandler] WebSocket auth failed for game %s: %v", gameID, err)
		conn.WriteJSON(map[string]string{"error": err.Error()})
		conn.Close()
		return
	}
	conn.WriteJSON(map[string]string{"type": "auth_success", "message": "Authentication successful"})

	// SessionManager に新しいWebSocket接続を登録
	if err := h.sessionManager.RegisterClient(gameID, userID, conn); err != nil {
		log.Printf("[GameHandler] Failed to register client %s to game %s: %v", userID, gameID, err)
		conn.WriteJSON(map[string]string{"error": "指定されたゲームは見つかりませんでした"})
		conn.Close()
		return
	}
	// 以降の読み書きは SessionManager の readPump / writePump が担当する
}

// authenticate は最初のメッセージ {"type":"auth","token":"..."} を読み、ユーザーIDを返します。
func (h *GameHandler) authenticate(conn *websocket.Conn) (string, error) {
	conn.SetReadDeadline(time.Now().Add(authTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var authMsg struct {
		Type  string `json:"type"`
		Token string `json:"token"`
	}
	if err := conn.ReadJSON(&authMsg); err != nil {
		return "", errors.New("認証メッセージを読み込めませんでした")
	}
	if authMsg.Type != "auth" {
		return "", errors.New("Expected auth message")
	}

	userID, err := h.auth.ParseUserIDFromToken(authMsg.Token)
	if err != nil {
		return "", errors.New("Invalid token")
	}
	log.Printf("[GameHandler] Successfully authenticated user via WebSocket: %s", userID)
	return userID, nil
}
