package tetris

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/database"
)

func newTestManager(t *testing.T) (*SessionManager, database.ResultRepository) {
	t.Helper()
	results := database.NewMemoryResultRepository()
	sm := NewSessionManager(database.NewMemoryScoreRepository(), results, 0, 0)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sm.Shutdown(ctx)
	})
	return sm, results
}

func TestSessionManager_CreateAndGet(t *testing.T) {
	sm, _ := newTestManager(t)

	session, err := sm.CreateSession("user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, 1, sm.ActiveSessions())

	got, ok := sm.GetGameSession(session.ID)
	require.True(t, ok)
	assert.Same(t, session, got)

	_, err = sm.GetUserSession(session.ID, "user-1")
	assert.NoError(t, err)
	_, err = sm.GetUserSession(session.ID, "someone-else")
	assert.ErrorIs(t, err, ErrSessionNotFound, "他人のセッションは見えないこと")
	_, err = sm.GetUserSession("missing", "user-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionManager_DispatchInput(t *testing.T) {
	sm, _ := newTestManager(t)
	session, err := sm.CreateSession("user-1")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = sm.DispatchInput(ctx, session.ID, "user-1", ClearRows())
	assert.ErrorIs(t, err, ErrUnknownCommand, "内部専用コマンドは入力として受け付けないこと")

	_, err = sm.DispatchInput(ctx, session.ID, "intruder", Reset())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	got, err := sm.DispatchInput(ctx, session.ID, "user-1", Reset())
	require.NoError(t, err)
	assert.Same(t, session, got)
	require.Eventually(t, func() bool {
		return session.Snapshot().Status() == StatusPlaying
	}, time.Second, 5*time.Millisecond)

	_, err = sm.DispatchInput(ctx, session.ID, "user-1", ToggleMode())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return session.Snapshot().IsHardMode }, time.Second, 5*time.Millisecond)
}

func TestSessionManager_EndGameSession(t *testing.T) {
	sm, _ := newTestManager(t)
	session, err := sm.CreateSession("user-1")
	require.NoError(t, err)

	assert.True(t, sm.EndGameSession(session.ID))
	assert.False(t, sm.EndGameSession(session.ID), "2回目は存在しないこと")
	assert.Equal(t, 0, sm.ActiveSessions())

	select {
	case <-session.Done():
	case <-time.After(time.Second):
		t.Fatal("セッションが終了しませんでした")
	}

	_, err = sm.DispatchInput(context.Background(), session.ID, "user-1", Reset())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionManager_RecordsResultOnGameOver(t *testing.T) {
	sm, results := newTestManager(t)
	session, err := sm.CreateSession("user-1")
	require.NoError(t, err)

	final := session.Snapshot()
	final.Score = 2400
	final.LinesCleared = 12
	final.IsHardMode = true
	final.IsGameOver = true
	sm.recordResult(session, final)

	require.Eventually(t, func() bool {
		best, err := results.GetUserBestResult(context.Background(), "user-1")
		return err == nil && best != nil
	}, time.Second, 5*time.Millisecond)

	best, err := results.GetUserBestResult(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2400, best.Score)
	assert.Equal(t, 12, best.LinesCleared)
	assert.True(t, best.HardMode)
}

func TestSessionManager_Shutdown(t *testing.T) {
	sm := NewSessionManager(database.NewMemoryScoreRepository(), database.NewMemoryResultRepository(), 0, 0)
	first, err := sm.CreateSession("user-1")
	require.NoError(t, err)
	second, err := sm.CreateSession("user-2")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sm.Shutdown(ctx))

	for _, s := range []*GameSession{first, second} {
		select {
		case <-s.Done():
		default:
			t.Fatalf("セッション %s のループが止まっていません", s.ID)
		}
	}
	assert.Equal(t, 0, sm.ActiveSessions())

	_, err = sm.CreateSession("user-3")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

// connectFakeClient は接続なしのクライアントを登録済みの状態にします。
func connectFakeClient(sm *SessionManager, session *GameSession) *Client {
	client := &Client{UserID: session.UserID, GameID: session.ID, Send: make(chan []byte, 1)}
	sm.mu.Lock()
	sm.clients[session.UserID] = client
	sm.mu.Unlock()
	return client
}

func startPlaying(t *testing.T, sm *SessionManager, userID string) *GameSession {
	t.Helper()
	session, err := sm.CreateSession(userID)
	require.NoError(t, err)
	_, err = sm.DispatchInput(context.Background(), session.ID, userID, Reset())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return session.Snapshot().Status() == StatusPlaying
	}, time.Second, 5*time.Millisecond)
	return session
}

// waitProcessed は後続のコマンドが処理されるまで待ち、その時点の状態を返します。
func waitProcessed(t *testing.T, session *GameSession) GameState {
	t.Helper()
	require.NoError(t, session.Dispatch(context.Background(), ToggleMode()))
	require.Eventually(t, func() bool { return session.Snapshot().IsHardMode }, time.Second, 5*time.Millisecond)
	return session.Snapshot()
}

func TestSessionManager_DisconnectPausesGame(t *testing.T) {
	sm, _ := newTestManager(t)
	session := startPlaying(t, sm, "user-1")
	client := connectFakeClient(sm, session)

	sm.unregister(client)

	state := waitProcessed(t, session)
	assert.True(t, state.IsPaused, "切断されたらゲームは一時停止すること")
	_, ok := sm.GetGameSession(session.ID)
	assert.True(t, ok, "切断だけではセッションは残ること")
}

func TestSessionManager_DisconnectAfterQueuedPause(t *testing.T) {
	sm, _ := newTestManager(t)
	session := startPlaying(t, sm, "user-1")
	client := connectFakeClient(sm, session)

	// 最後の入力が一時停止で、それがまだキューに残っているうちに切断される
	_, err := sm.DispatchInput(context.Background(), session.ID, "user-1", TogglePause())
	require.NoError(t, err)
	sm.unregister(client)

	state := waitProcessed(t, session)
	assert.True(t, state.IsPaused, "切断時の一時停止で再開してしまわないこと")
}

func TestSessionManager_ReplacedClientDoesNotPause(t *testing.T) {
	sm, _ := newTestManager(t)
	session := startPlaying(t, sm, "user-1")
	old := connectFakeClient(sm, session)
	connectFakeClient(sm, session)

	sm.unregister(old)

	state := waitProcessed(t, session)
	assert.False(t, state.IsPaused, "入れ替え済みの古い接続の切断では一時停止しないこと")
}

func TestSessionManager_OneSessionPerUser(t *testing.T) {
	sm, _ := newTestManager(t)

	var sessions []*GameSession
	for i := 0; i < 100; i++ {
		session, err := sm.CreateSession("same-user")
		require.NoError(t, err)
		sessions = append(sessions, session)
	}
	other, err := sm.CreateSession("other-user")
	require.NoError(t, err)

	assert.Equal(t, 2, sm.ActiveSessions())
	latest := sessions[len(sessions)-1]
	_, ok := sm.GetGameSession(latest.ID)
	assert.True(t, ok)
	_, ok = sm.GetGameSession(other.ID)
	assert.True(t, ok, "他のユーザーのセッションは残ること")

	for _, s := range sessions[:len(sessions)-1] {
		select {
		case <-s.Done():
		case <-time.After(time.Second):
			t.Fatalf("置き換えられたセッション %s のループが止まっていません", s.ID)
		}
	}
}

func TestSessionManager_EvictStale(t *testing.T) {
	sm, _ := newTestManager(t)
	sm.idleTimeout = time.Minute
	sm.gameOverGrace = 30 * time.Second

	idle, err := sm.CreateSession("idle-user")
	require.NoError(t, err)
	watched, err := sm.CreateSession("watching-user")
	require.NoError(t, err)
	connectFakeClient(sm, watched)
	finished, err := sm.CreateSession("finished-user")
	require.NoError(t, err)
	connectFakeClient(sm, finished)
	justFinished, err := sm.CreateSession("just-finished-user")
	require.NoError(t, err)

	now := time.Now()
	finished.mu.Lock()
	finished.gameOverAt = now.Add(-time.Minute)
	finished.mu.Unlock()
	justFinished.mu.Lock()
	justFinished.gameOverAt = now.Add(-time.Second)
	justFinished.mu.Unlock()

	assert.Equal(t, 1, sm.evictStale(now), "ゲームオーバーから猶予を過ぎたものだけ")
	_, ok := sm.GetGameSession(finished.ID)
	assert.False(t, ok)
	select {
	case <-finished.Done():
	case <-time.After(time.Second):
		t.Fatal("破棄されたセッションのループが止まっていません")
	}

	// 1分以上入力がない状態。接続中のセッションは残る
	later := now.Add(2 * time.Minute)
	assert.Equal(t, 2, sm.evictStale(later))
	_, ok = sm.GetGameSession(idle.ID)
	assert.False(t, ok)
	_, ok = sm.GetGameSession(justFinished.ID)
	assert.False(t, ok)
	_, ok = sm.GetGameSession(watched.ID)
	assert.True(t, ok, "クライアントが接続中のセッションは放置扱いにしないこと")
}

func TestSessionManager_CreateDuringShutdown(t *testing.T) {
	sm := NewSessionManager(database.NewMemoryScoreRepository(), database.NewMemoryResultRepository(), 0, 0)

	var created []*GameSession
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if session, err := sm.CreateSession("user-" + string(rune('a'+i%26))); err == nil {
				created = append(created, session)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sm.Shutdown(ctx))
	<-done

	for _, s := range created {
		select {
		case <-s.Done():
		case <-time.After(time.Second):
			t.Fatalf("セッション %s のループが止まっていません", s.ID)
		}
	}
	assert.Equal(t, 0, sm.ActiveSessions(), "停止後にセッションが登録されていないこと")
}
