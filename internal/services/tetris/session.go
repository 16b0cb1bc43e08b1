package tetris

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/kamstrup/intmap"
)

var (
	ErrSessionNotFound  = errors.New("ゲームセッションが見つかりません")
	ErrSessionClosed    = errors.New("ゲームセッションは終了しています")
	ErrCommandQueueFull = errors.New("コマンドキューが一杯です")
)

const (
	commandBufferSize    = 64 // Dispatch で受け付けられる未処理コマンドの上限
	subscriberBufferSize = 16
)

// commandPauseIfPlaying はセッション内部専用のコマンドです。
// キューの順番どおりに処理され、その時点でプレイ中の場合だけ一時停止します。
const commandPauseIfPlaying CommandType = "PAUSE_IF_PLAYING"

// Sound は状態遷移から導出される効果音イベントの名前です。
// エンジン自体は音を扱わず、セッションがスナップショットと一緒に配信します。
type Sound string

const (
	SoundMove     Sound = "move"
	SoundRotate   Sound = "rotate"
	SoundDrop     Sound = "drop"
	SoundClear    Sound = "clear"
	SoundPause    Sound = "pause"
	SoundGameOver Sound = "gameOver"
)

// GameStateEvent は購読者へ配信される状態更新イベントです。
type GameStateEvent struct {
	GameID string                `json:"game_id"`
	State  *LightweightGameState `json:"state"`
	Sounds []Sound               `json:"sounds,omitempty"`
}

// GameOverFunc はゲームオーバーに遷移したときに呼ばれるフックです。
type GameOverFunc func(session *GameSession, final GameState)

// GameSession は1人のプレイヤーの1ゲームを表します。
// 状態を書き換えるのは Run のゴルーチンだけで、他のゴルーチンは Dispatch でコマンドを送るか、
// Snapshot / Subscribe で公開された状態を読むだけです。
type GameSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	engine   *Engine
	commands chan Command
	done     chan struct{}
	once     sync.Once

	fallInterval func(speed int) time.Duration
	pointsDelay  time.Duration

	mu          sync.RWMutex // state, subscribers, onGameOver, lastActive, gameOverAt を保護
	state       GameState
	subscribers *intmap.Map[int, chan *GameStateEvent] // 購読ID -> 購読チャネル
	nextSubID   int
	onGameOver  GameOverFunc
	lastActive  time.Time // 最後にプレイヤーの入力か接続があった時刻
	gameOverAt  time.Time // ゲームオーバーになった時刻（プレイ中はゼロ値）
}

// NewGameSession は初期状態（一時停止中）のゲームセッションを作成します。
// ループは Run を呼ぶまで動きません。
//
// Parameters:
//   id     : セッションID
//   userID : プレイヤーのユーザーID
//   engine : このセッション専用の Engine
// Returns:
//   *GameSession: 作成されたセッション
func NewGameSession(id, userID string, engine *Engine) *GameSession {
	now := time.Now()
	return &GameSession{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		engine:       engine,
		commands:     make(chan Command, commandBufferSize),
		done:         make(chan struct{}),
		fallInterval: FallInterval,
		pointsDelay:  PointsDisplayTime,
		state:        engine.InitialState(),
		subscribers:  intmap.New[int, chan *GameStateEvent](4),
		lastActive:   now,
	}
}

// OnGameOver はゲームオーバー時に呼ばれるフックを設定します。
// フックは Run のゴルーチンから呼ばれるため、時間のかかる処理は別ゴルーチンで行ってください。
func (s *GameSession) OnGameOver(fn GameOverFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onGameOver = fn
}

// Snapshot は現在のゲーム状態を返します。
func (s *GameSession) Snapshot() GameState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Activity は最後に活動があった時刻と、ゲームオーバーになった時刻（プレイ中ならゼロ値）を返します。
func (s *GameSession) Activity() (lastActive, gameOverAt time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive, s.gameOverAt
}

// Touch は活動時刻を現在時刻に更新します。
func (s *GameSession) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// Done はセッションが終了すると閉じられるチャネルを返します。
func (s *GameSession) Done() <-chan struct{} {
	return s.done
}

// Close はセッションを終了させます。複数回呼んでも安全です。
func (s *GameSession) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Dispatch はコマンドをセッションのキューに積みます。処理は Run のゴルーチンで非同期に行われます。
//
// Parameters:
//   ctx : キャンセル用コンテキスト
//   cmd : 適用するコマンド
// Returns:
//   error: 不正なコマンドなら ErrUnknownCommand、終了済みなら ErrSessionClosed、
//          キューが一杯なら ErrCommandQueueFull
func (s *GameSession) Dispatch(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.commands <- cmd:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrCommandQueueFull
	}
}

// Pause はプレイ中であればゲームを一時停止させます。既に一時停止中やゲームオーバーなら何もしません。
// 判定はキューに積まれた先行コマンドを全て処理した後で行われます。
// キューが一杯の場合は ctx が終わるまで待ちます。
func (s *GameSession) Pause(ctx context.Context) error {
	select {
	case s.commands <- Command{Type: commandPauseIfPlaying}:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe は状態更新イベントを受け取るチャネルを返します。
// 最初に現在の状態が1度送られます。受信が遅れた購読者へのイベントは破棄されます。
// 返された関数で購読を解除するとチャネルは閉じられます。セッション終了時にも閉じられます。
func (s *GameSession) Subscribe() (<-chan *GameStateEvent, func()) {
	ch := make(chan *GameStateEvent, subscriberBufferSize)

	s.mu.Lock()
	ch <- s.newEvent(s.state, nil)
	select {
	case <-s.done:
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := s.nextSubID
	s.nextSubID++
	s.subscribers.Put(id, ch)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers.Get(id); ok {
			s.subscribers.Del(id)
			close(sub)
		}
	}
	return ch, cancel
}

// Run はセッションのメインループです。ctx がキャンセルされるか Close が呼ばれるまでブロックします。
// キューのコマンド、自動落下のティッカー、獲得点表示のタイマーを1つのゴルーチンで順番に処理します。
func (s *GameSession) Run(ctx context.Context) {
	var (
		fall    *time.Ticker
		fallC   <-chan time.Time
		points  *time.Timer
		pointsC <-chan time.Time
	)
	stopFall := func() {
		if fall != nil {
			fall.Stop()
			fall, fallC = nil, nil
		}
	}
	stopPoints := func() {
		if points != nil {
			points.Stop()
			points, pointsC = nil, nil
		}
	}
	scheduleFall := func(state GameState) {
		stopFall()
		if state.IsPaused || state.IsGameOver {
			return
		}
		fall = time.NewTicker(s.fallInterval(state.Speed))
		fallC = fall.C
	}

	defer func() {
		stopFall()
		stopPoints()
		s.Close()
		s.closeSubscribers()
		log.Printf("[GameSession] Session %s loop stopped", s.ID)
	}()

	scheduleFall(s.Snapshot())
	log.Printf("[GameSession] Session %s loop started for user %s", s.ID, s.UserID)

	for {
		var (
			cmd   Command
			input bool
		)
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case cmd = <-s.commands:
			input = true
			if cmd.Type == commandPauseIfPlaying {
				if state := s.Snapshot(); state.IsPaused || state.IsGameOver {
					continue
				}
				cmd, input = TogglePause(), false
			}
		case <-fallC:
			cmd = Move(0, 1)
		case <-pointsC:
			points, pointsC = nil, nil
			cmd = ResetPoints()
		}

		prev, next := s.apply(cmd, input)

		if cmd.Type == CommandReset || prev.IsPaused != next.IsPaused ||
			prev.IsGameOver != next.IsGameOver || prev.Speed != next.Speed {
			scheduleFall(next)
		}
		switch {
		case next.Points == nil:
			stopPoints()
		case next.Points != prev.Points:
			stopPoints()
			points = time.NewTimer(s.pointsDelay)
			pointsC = points.C
		}
	}
}

// apply はコマンドを適用し、ピースが固定されていればライン消去と次のピースの出現まで進めます。
// 新しい状態を公開し、遷移前後の状態を返します。
func (s *GameSession) apply(cmd Command, input bool) (GameState, GameState) {
	prev := s.state // 書き込みはこのゴルーチンだけなのでロック不要
	next := s.engine.Reduce(prev, cmd)
	sounds := soundsFor(prev, next, cmd)

	if next.CurrentPiece == nil && !next.IsGameOver {
		cleared := s.engine.Reduce(next, ClearRows())
		if cleared.LinesCleared > next.LinesCleared {
			sounds = append(sounds, SoundClear)
		}
		next = s.engine.Reduce(cleared, SpawnPiece())
	}

	gameOver := !prev.IsGameOver && next.IsGameOver
	if gameOver {
		sounds = append(sounds, SoundGameOver)
		log.Printf("[GameSession] Game over in session %s (user %s, score %d)", s.ID, s.UserID, next.Score)
	}

	s.mu.Lock()
	s.state = next
	if input {
		s.lastActive = time.Now()
	}
	switch {
	case gameOver:
		s.gameOverAt = time.Now()
	case !next.IsGameOver:
		s.gameOverAt = time.Time{}
	}
	hook := s.onGameOver
	event := s.newEvent(next, sounds)
	s.subscribers.ForEach(func(id int, ch chan *GameStateEvent) bool {
		select {
		case ch <- event:
		default:
			log.Printf("[GameSession] Subscriber %d of session %s is slow, dropping update", id, s.ID)
		}
		return true
	})
	s.mu.Unlock()

	if gameOver && hook != nil {
		hook(s, next)
	}
	return prev, next
}

// soundsFor は1回の遷移から効果音イベントを導出します。
// 自動落下も入力による移動と同じく move を鳴らします。
func soundsFor(prev, next GameState, cmd Command) []Sound {
	var sounds []Sound
	switch cmd.Type {
	case CommandUpdatePosition:
		if prev.CurrentPiece != nil && next.CurrentPiece == nil {
			sounds = append(sounds, SoundDrop)
		} else if next.Position != prev.Position {
			sounds = append(sounds, SoundMove)
		}
	case CommandRotatePiece:
		if prev.CurrentPiece != nil && next.CurrentPiece != nil &&
			!prev.CurrentPiece.Shape.Equal(next.CurrentPiece.Shape) {
			sounds = append(sounds, SoundRotate)
		}
	case CommandTogglePause:
		sounds = append(sounds, SoundPause)
	}
	return sounds
}

func (s *GameSession) newEvent(state GameState, sounds []Sound) *GameStateEvent {
	return &GameStateEvent{
		GameID: s.ID,
		State:  state.ToLightweight(),
		Sounds: sounds,
	}
}

func (s *GameSession) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers.ForEach(func(_ int, ch chan *GameStateEvent) bool {
		close(ch)
		return true
	})
	s.subscribers.Clear()
}
