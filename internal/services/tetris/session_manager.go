package tetris

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket" // WebSocketライブラリのインポート

	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/models"
)

const (
	clientSendBufferSize = 64
	readTimeout          = 300 * time.Second // Pongを受け取るまでの猶予
	writeTimeout         = 10 * time.Second
	pingInterval         = 60 * time.Second
	maxMessageSize       = 1024
	resultTimeout        = 5 * time.Second
	pauseTimeout         = time.Second

	sweepInterval = time.Minute
	idleTimeout   = 10 * time.Minute // 接続も入力もないセッションを破棄するまでの時間
	gameOverGrace = 2 * time.Minute  // ゲームオーバー後に結果画面を表示しておく時間
)

// Client はWebSocket接続を持つ単一のクライアントを表します。
type Client struct {
	UserID string          // このクライアントに紐づくユーザーのID
	GameID string          // 観戦・操作しているゲームセッションのID
	Conn   *websocket.Conn // クライアントとの実際のWebSocketコネクション
	Send   chan []byte     // クライアントへメッセージを送信するためのバッファ付きチャネル

	unsubscribe func()     // ゲームセッションの購読解除
	closed      bool       // チャネルが閉じられたかどうかのフラグ
	mu          sync.Mutex // closedフラグ保護用
}

// SafeSend は安全にチャネルにメッセージを送信します（closedチェック付き）
func (c *Client) SafeSend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false // 既に閉じられている
	}

	select {
	case c.Send <- message:
		return true // 送信成功
	default:
		return false // チャネルがフル
	}
}

// SafeClose は安全にチャネルを閉じます
func (c *Client) SafeClose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.Send)
		c.closed = true
	}
}

// SessionManager はゲームセッションとWebSocketクライアント接続の全体を管理します。
// これはアプリケーション内でシングルトンとして動作することが想定されます。
type SessionManager struct {
	sessions map[string]*GameSession // gameID -> GameSession のマップ
	clients  map[string]*Client      // userID -> Client のマップ (現在接続中の全WebSocketクライアント)
	mu       sync.RWMutex            // sessions と clients マップへのアクセスを保護するためのRWMutex

	scoreRepo  database.ScoreRepository  // プレイヤーごとのベストスコアと累計ライン数
	resultRepo database.ResultRepository // 終了したゲームの結果（ランキング用）
	rows, cols int

	idleTimeout   time.Duration
	gameOverGrace time.Duration

	ctx    context.Context // 全セッションのループの親コンテキスト
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSessionManager は新しい SessionManager インスタンスを作成し、
// 放置・終了済みのセッションを定期的に破棄するゴルーチンを開始します。
//
// Parameters:
//   scoreRepo  : 保存済みスコアのリポジトリ
//   resultRepo : ゲーム結果のリポジトリ
//   rows, cols : 盤面の寸法（0以下なら既定値）
// Returns:
//   *SessionManager: 初期化されたセッションマネージャーのポインタ
func NewSessionManager(scoreRepo database.ScoreRepository, resultRepo database.ResultRepository, rows, cols int) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	sm := &SessionManager{
		sessions:      make(map[string]*GameSession),
		clients:       make(map[string]*Client),
		scoreRepo:     scoreRepo,
		resultRepo:    resultRepo,
		rows:          rows,
		cols:          cols,
		idleTimeout:   idleTimeout,
		gameOverGrace: gameOverGrace,
		ctx:           ctx,
		cancel:        cancel,
	}

	sm.wg.Add(1)
	go sm.sweepLoop(sweepInterval)
	return sm
}

// CreateSession は新しいゲームセッションを作成し、そのループをバックグラウンドで開始します。
// ゲームは一時停止状態で始まり、最初の入力（移動・回転・一時停止解除・リスタート）で動き出します。
// 1ユーザーが持てるセッションは1つだけで、同じユーザーの既存のセッションは終了させます。
//
// Parameters:
//   userID : プレイヤーのユーザーID
// Returns:
//   *GameSession: 作成されたセッション
//   error       : シャットダウン済みの場合
func (sm *SessionManager) CreateSession(userID string) (*GameSession, error) {
	store := NewRepositoryScoreStore(sm.scoreRepo, userID)
	engine := NewEngine(sm.rows, sm.cols, store, nil)
	session := NewGameSession(uuid.New().String(), userID, engine)
	session.OnGameOver(sm.recordResult)

	// Shutdown と競合しないよう、停止確認・登録・wg.Add は同じロックの中で行う
	sm.mu.Lock()
	if err := sm.ctx.Err(); err != nil {
		sm.mu.Unlock()
		return nil, fmt.Errorf("セッションマネージャーは停止しています: %w", ErrSessionClosed)
	}
	var replaced []*GameSession
	for gameID, existing := range sm.sessions {
		if existing.UserID == userID {
			replaced = append(replaced, sm.detachLocked(gameID))
		}
	}
	sm.sessions[session.ID] = session
	sm.wg.Add(1)
	sm.mu.Unlock()

	for _, old := range replaced {
		old.Close()
		log.Printf("[SessionManager] Ended previous game session %s of user %s", old.ID, userID)
	}

	go func() {
		defer sm.wg.Done()
		session.Run(sm.ctx)
	}()

	log.Printf("[SessionManager] Created new game session: %s for user %s", session.ID, userID)
	return session, nil
}

// GetGameSession は指定されたIDのゲームセッションを取得します。
// 主にハンドラーからセッション情報を取得するために使用されます。
func (sm *SessionManager) GetGameSession(gameID string) (*GameSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	session, ok := sm.sessions[gameID]
	return session, ok
}

// GetUserSession はユーザー本人のセッションだけを返します。他人のセッションは存在しないものとして扱います。
func (sm *SessionManager) GetUserSession(gameID, userID string) (*GameSession, error) {
	session, ok := sm.GetGameSession(gameID)
	if !ok || session.UserID != userID {
		return nil, fmt.Errorf("game %s: %w", gameID, ErrSessionNotFound)
	}
	return session, nil
}

// DispatchInput はプレイヤー入力をセッションに送ります。
// CLEAR_ROWS などセッション内部専用のコマンドは受け付けません。
//
// Parameters:
//   ctx    : キャンセル用コンテキスト
//   gameID : 対象のゲームID
//   userID : 入力したユーザーのID
//   cmd    : 入力コマンド
// Returns:
//   *GameSession: 対象のセッション
//   error       : ErrSessionNotFound, ErrUnknownCommand, ErrSessionClosed, ErrCommandQueueFull
func (sm *SessionManager) DispatchInput(ctx context.Context, gameID, userID string, cmd Command) (*GameSession, error) {
	if !cmd.IsInput() {
		return nil, fmt.Errorf("%s は入力として送信できません: %w", cmd.Type, ErrUnknownCommand)
	}
	session, err := sm.GetUserSession(gameID, userID)
	if err != nil {
		return nil, err
	}
	if err := session.Dispatch(ctx, cmd); err != nil {
		return session, fmt.Errorf("game %s: %w", gameID, err)
	}
	return session, nil
}

// ActiveSessions は現在管理しているセッション数を返します。
func (sm *SessionManager) ActiveSessions() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// recordResult はゲームオーバーになったセッションの結果をデータベースに記録します。
// セッションのループを止めないよう、書き込みは別ゴルーチンで行います。
func (sm *SessionManager) recordResult(session *GameSession, final GameState) {
	if sm.resultRepo == nil {
		return
	}
	result := models.Result{
		UserID:       session.UserID,
		Score:        final.Score,
		LinesCleared: final.LinesCleared,
		HardMode:     final.IsHardMode,
		CreatedAt:    time.Now(),
	}

	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), resultTimeout)
		defer cancel()

		saved, err := sm.resultRepo.CreateResult(ctx, result)
		if err != nil {
			log.Printf("[SessionManager] Failed to record result for game %s: %v", session.ID, err)
			return
		}
		log.Printf("[SessionManager] Recorded result %d for game %s (user %s, score %d)", saved.ID, session.ID, saved.UserID, saved.Score)
	}()
}

// EndGameSession はゲームセッションを終了させ、接続中のクライアントを切断してクリーンアップします。
//
// Parameters:
//   gameID : 終了するゲームのID
// Returns:
//   bool: セッションが存在した場合は true
func (sm *SessionManager) EndGameSession(gameID string) bool {
	sm.mu.Lock()
	session := sm.detachLocked(gameID)
	sm.mu.Unlock()
	if session == nil {
		log.Printf("[SessionManager] EndGameSession called for non-existent game: %s", gameID)
		return false
	}

	// ループが終了すると購読チャネルが閉じられ、各クライアントの writePump も終了する
	session.Close()
	log.Printf("[SessionManager] Game session %s ended.", gameID)
	return true
}

// detachLocked はセッションとそのクライアントをマップから外します。sm.mu を保持して呼び出します。
// ループの停止は呼び出し側が返されたセッションの Close で行います。
func (sm *SessionManager) detachLocked(gameID string) *GameSession {
	session, ok := sm.sessions[gameID]
	if !ok {
		return nil
	}
	delete(sm.sessions, gameID)

	// セッションに関連するクライアントのクリーンアップ
	for userID, client := range sm.clients {
		if client.GameID == gameID {
			delete(sm.clients, userID)
			log.Printf("[SessionManager] Cleaned up client %s from ended game %s", userID, gameID)
		}
	}
	return session
}

// sweepLoop は一定間隔で evictStale を呼び出します。
func (sm *SessionManager) sweepLoop(interval time.Duration) {
	defer sm.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.ctx.Done():
			return
		case now := <-ticker.C:
			if n := sm.evictStale(now); n > 0 {
				log.Printf("[SessionManager] Evicted %d stale game sessions", n)
			}
		}
	}
}

// evictStale は次のセッションを終了させ、その数を返します。
//   - ゲームオーバーから gameOverGrace 以上経過したもの
//   - クライアントが接続しておらず、最後の活動から idleTimeout 以上経過したもの
func (sm *SessionManager) evictStale(now time.Time) int {
	sm.mu.Lock()
	connected := make(map[string]bool, len(sm.clients))
	for _, client := range sm.clients {
		connected[client.GameID] = true
	}
	var stale []*GameSession
	for gameID, session := range sm.sessions {
		lastActive, gameOverAt := session.Activity()
		finished := !gameOverAt.IsZero() && now.Sub(gameOverAt) >= sm.gameOverGrace
		idle := !connected[gameID] && now.Sub(lastActive) >= sm.idleTimeout
		if finished || idle {
			stale = append(stale, sm.detachLocked(gameID))
		}
	}
	sm.mu.Unlock()

	for _, session := range stale {
		session.Close()
		log.Printf("[SessionManager] Game session %s of user %s evicted", session.ID, session.UserID)
	}
	return len(stale)
}

// RegisterClient は新しいWebSocketクライアントをSessionManagerに登録し、
// セッションの状態更新をクライアントへ転送し始めます。
//
// Parameters:
//   gameID : クライアントが接続するゲームのID
//   userID : 認証済みのユーザーID
//   conn   : WebSocketコネクション
// Returns:
//   error: セッションが存在しない、または他人のセッションの場合
func (sm *SessionManager) RegisterClient(gameID, userID string, conn *websocket.Conn) error {
	session, err := sm.GetUserSession(gameID, userID)
	if err != nil {
		return err
	}

	session.Touch()
	events, unsubscribe := session.Subscribe()
	client := &Client{
		UserID:      userID,
		GameID:      gameID,
		Conn:        conn,
		Send:        make(chan []byte, clientSendBufferSize),
		unsubscribe: unsubscribe,
	}

	// 既存の接続があれば先にクリーンアップ（再接続対応）
	sm.mu.Lock()
	if existing, ok := sm.clients[userID]; ok {
		log.Printf("[SessionManager] Replacing existing connection for user %s", userID)
		sm.closeClient(existing)
	}
	sm.clients[userID] = client
	sm.mu.Unlock()

	go forwardEvents(client, events)
	go sm.readPump(client)
	go client.writePump()

	log.Printf("[SessionManager] Client %s registered for game %s", userID, gameID)
	return nil
}

// closeClient はクライアントの購読を解除して接続を閉じます。
func (sm *SessionManager) closeClient(client *Client) {
	if client.unsubscribe != nil {
		client.unsubscribe()
	}
	client.SafeClose()
	if client.Conn != nil {
		client.Conn.Close()
	}
}

// unregister は切断されたクライアントを登録解除します。
// 入れ替え済みの古いクライアントの場合はマップを変更しません。
func (sm *SessionManager) unregister(client *Client) {
	sm.mu.Lock()
	registered, ok := sm.clients[client.UserID]
	active := ok && registered == client
	if active {
		delete(sm.clients, client.UserID)
		log.Printf("[SessionManager] Client unregistered: %s (Game: %s)", client.UserID, client.GameID)
	}
	sm.mu.Unlock()

	if client.unsubscribe != nil {
		client.unsubscribe()
	}
	client.SafeClose()
	if !active {
		return
	}

	// 切断された時点でプレイ中なら一時停止しておく。
	// 判定はセッションのループがキュー内の入力を処理した後に行う
	if session, ok := sm.GetGameSession(client.GameID); ok {
		session.Touch()
		ctx, cancel := context.WithTimeout(context.Background(), pauseTimeout)
		defer cancel()
		if err := session.Pause(ctx); err != nil {
			log.Printf("[SessionManager] Failed to pause game %s after disconnect: %v", client.GameID, err)
		} else {
			log.Printf("[SessionManager] Player %s left game %s. Pausing if still playing.", client.UserID, client.GameID)
		}
	}
}

// forwardEvents はセッションの状態更新をJSONにしてクライアントの Send チャネルへ流します。
// 購読チャネルが閉じられたら Send も閉じ、writePump に切断させます。
func forwardEvents(client *Client, events <-chan *GameStateEvent) {
	defer client.SafeClose()
	for event := range events {
		stateJSON, err := json.Marshal(event)
		if err != nil {
			log.Printf("[SessionManager] Error marshaling game state for game %s: %v", event.GameID, err)
			continue
		}
		if !client.SafeSend(stateJSON) {
			log.Printf("[SessionManager] Failed to send to client %s (channel closed or full)", client.UserID)
		}
	}
}

// readPump はクライアントからのWebSocketメッセージを読み込み、コマンドとしてセッションへ送ります。
func (sm *SessionManager) readPump(client *Client) {
	defer func() {
		// パニック回復処理
		if r := recover(); r != nil {
			log.Printf("[SessionManager] Panic in readPump for user %s: %v", client.UserID, r)
		}

		log.Printf("[SessionManager] Client %s disconnecting from game %s", client.UserID, client.GameID)
		sm.unregister(client)

		if err := client.Conn.Close(); err != nil {
			log.Printf("[SessionManager] Error closing WebSocket connection for user %s: %v", client.UserID, err)
		}
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[SessionManager] WebSocket unexpected close error for user %s: %v", client.UserID, err)
			} else {
				log.Printf("[SessionManager] WebSocket closed for user %s: %v", client.UserID, err)
			}
			return
		}

		if len(message) == 0 {
			continue
		}

		cmd, err := ParseCommandMessage(message)
		if err != nil {
			log.Printf("[SessionManager] Failed to parse input message from %s: %v, message: %s", client.UserID, err, message)
			continue // パース失敗時はこのメッセージをスキップ
		}

		// ユーザーIDは接続時の認証結果を使う（メッセージの内容は信用しない）
		if _, err := sm.DispatchInput(context.Background(), client.GameID, client.UserID, cmd); err != nil {
			log.Printf("[SessionManager] Dropped input %s from user %s: %v", cmd.Type, client.UserID, err)
		}
	}
}

// writePump は Client の Send チャネルからのメッセージをWebSocketコネクションに書き込みます。
// クライアントごとにこのゴルーチンが動作します。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		// パニック回復処理
		if r := recover(); r != nil {
			log.Printf("[Client] Panic in writePump for user %s: %v", c.UserID, r)
		}
		c.Conn.Close()
		log.Printf("[Client] WritePump ended for user %s", c.UserID)
	}()

	// 連続エラーカウンター
	consecutiveErrors := 0
	const maxConsecutiveErrors = 3

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// セッション終了や登録解除でチャネルが閉じられた
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "game ended"))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				consecutiveErrors++
				log.Printf("[Client] Error writing message for user %s (attempt %d/%d): %v", c.UserID, consecutiveErrors, maxConsecutiveErrors, err)
				if consecutiveErrors >= maxConsecutiveErrors {
					log.Printf("[Client] Too many consecutive errors for user %s, terminating connection", c.UserID)
					return
				}
				continue
			}
			consecutiveErrors = 0

		case <-ticker.C:
			// ピングメッセージを定期的に送信してコネクションの生存確認
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[Client] Error sending ping for user %s: %v", c.UserID, err)
				return
			}
		}
	}
}

// Shutdown はSessionManagerを安全にシャットダウンします
// 全セッションのループを止め、全クライアントを切断し、結果の書き込みが終わるのを待ちます。
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	log.Printf("[SessionManager] シャットダウン開始...")

	sm.mu.Lock()
	sm.cancel()
	for userID, client := range sm.clients {
		log.Printf("[SessionManager] クライアント %s を切断中...", userID)
		sm.closeClient(client)
	}
	sm.clients = make(map[string]*Client)
	sm.sessions = make(map[string]*GameSession)
	sm.mu.Unlock()

	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[SessionManager] シャットダウン完了")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("セッションマネージャーのシャットダウンがタイムアウトしました: %w", ctx.Err())
	}
}
