package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/api/middleware"
	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/models"
	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/services/tetris"
)

const testSecret = "handler-test-secret"

type testServer struct {
	*httptest.Server
	sessions *tetris.SessionManager
	results  database.ResultRepository
	scores   database.ScoreRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	scores := database.NewMemoryScoreRepository()
	results := database.NewMemoryResultRepository()
	sm := tetris.NewSessionManager(scores, results, 0, 0)
	auth := middleware.NewAuthenticator(testSecret, false)

	router := NewRouter(RouterConfig{
		Games:          NewGameHandler(sm, auth, []string{"*"}),
		Results:        NewResultHandler(results, scores),
		Public:         NewPublicHandler(nil, sm),
		Auth:           auth,
		AllowedOrigins: []string{"http://localhost:3000"},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sm.Shutdown(ctx)
		srv.Close()
	})
	return &testServer{Server: srv, sessions: sm, results: results, scores: scores}
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

// do はリクエストを送り、ステータスコードとJSONボディを返します。
func (s *testServer) do(t *testing.T, method, path, userID, body string) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func (s *testServer) createGame(t *testing.T, userID string) string {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/protected/games", userID, "")
	require.Equal(t, http.StatusCreated, status)
	gameID, ok := body["game_id"].(string)
	require.True(t, ok)
	return gameID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/api/health", "", "")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "memory", body["database"])
	assert.Equal(t, float64(0), body["active_sessions"])
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return assert.AnError }

func TestHealth_DatabaseDown(t *testing.T) {
	sm := tetris.NewSessionManager(database.NewMemoryScoreRepository(), nil, 0, 0)
	defer sm.Shutdown(context.Background())
	h := NewPublicHandler(failingPinger{}, sm)
	rr := httptest.NewRecorder()

	h.Health(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"unavailable"`)
}

func TestGetTopResults(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	for i, score := range []int{300, 1200, 800} {
		_, err := s.results.CreateResult(ctx, models.Result{
			UserID:    "player",
			Score:     score,
			CreatedAt: time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	status, body := s.do(t, http.MethodGet, "/api/results?limit=2", "", "")
	require.Equal(t, http.StatusOK, status)
	results := body["results"].([]interface{})
	require.Len(t, results, 2)
	assert.Equal(t, float64(1200), results[0].(map[string]interface{})["score"])
	assert.Equal(t, float64(1), results[0].(map[string]interface{})["rank"])

	_, body = s.do(t, http.MethodGet, "/api/results?limit=abc", "", "")
	assert.Len(t, body["results"].([]interface{}), 3, "不正なlimitは既定値を使う")
}

func TestGameLifecycle(t *testing.T) {
	s := newTestServer(t)
	gameID := s.createGame(t, "alice")

	status, body := s.do(t, http.MethodGet, "/api/protected/games/"+gameID, "alice", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paused", body["status"])
	assert.Equal(t, float64(1000), body["speed"])
	assert.Equal(t, float64(1), body["speed_multiplier"])

	status, body = s.do(t, http.MethodPost, "/api/protected/games/"+gameID+"/commands", "alice", `{"action":"restart"}`)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "RESET", body["command"].(map[string]interface{})["type"])

	require.Eventually(t, func() bool {
		_, body := s.do(t, http.MethodGet, "/api/protected/games/"+gameID, "alice", "")
		return body["status"] == "playing"
	}, 2*time.Second, 10*time.Millisecond)

	status, _ = s.do(t, http.MethodPost, "/api/protected/games/"+gameID+"/commands", "alice", `{"type":"UPDATE_POSITION","x":-1,"y":0}`)
	assert.Equal(t, http.StatusAccepted, status)

	status, _ = s.do(t, http.MethodPost, "/api/protected/games/"+gameID+"/commands", "alice", `{"type":"CLEAR_ROWS"}`)
	assert.Equal(t, http.StatusBadRequest, status, "内部専用コマンドは拒否")

	status, _ = s.do(t, http.MethodPost, "/api/protected/games/"+gameID+"/commands", "alice", `{"action":"teleport"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	oversized := `{"action":"move_left","padding":"` + strings.Repeat("x", maxCommandBytes) + `"}`
	status, _ = s.do(t, http.MethodPost, "/api/protected/games/"+gameID+"/commands", "alice", oversized)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)

	status, _ = s.do(t, http.MethodGet, "/api/protected/games/"+gameID, "mallory", "")
	assert.Equal(t, http.StatusNotFound, status, "他人のゲームは見えない")

	status, _ = s.do(t, http.MethodDelete, "/api/protected/games/"+gameID, "mallory", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodDelete, "/api/protected/games/"+gameID, "alice", "")
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodGet, "/api/protected/games/"+gameID, "alice", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/api/protected/games", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, body, "error")

	status, _ = s.do(t, http.MethodGet, "/api/protected/scores", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestGetMyScores(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.scores.UpdateBestScore(ctx, "bob", 4200))
	require.NoError(t, s.scores.AddLinesCleared(ctx, "bob", 37))
	_, err := s.results.CreateResult(ctx, models.Result{UserID: "bob", Score: 4200, LinesCleared: 20})
	require.NoError(t, err)

	status, body := s.do(t, http.MethodGet, "/api/protected/scores", "bob", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "bob", body["user_id"])
	assert.Equal(t, float64(4200), body["best_score"])
	assert.Equal(t, float64(37), body["total_lines"])
	require.NotNil(t, body["best_result"])
	assert.Equal(t, float64(20), body["best_result"].(map[string]interface{})["lines_cleared"])

	_, body = s.do(t, http.MethodGet, "/api/protected/scores", "newcomer", "")
	assert.Equal(t, float64(0), body["best_score"])
	assert.Nil(t, body["best_result"])
}

func dialGame(t *testing.T, s *testServer, gameID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/games/" + gameID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func TestWebSocketStream(t *testing.T) {
	s := newTestServer(t)
	gameID := s.createGame(t, "carol")
	conn := dialGame(t, s, gameID)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": tokenFor(t, "carol")}))
	var ack map[string]string
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "auth_success", ack["type"])

	var first tetris.GameStateEvent
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, gameID, first.GameID)
	require.NotNil(t, first.State)
	assert.Equal(t, tetris.StatusPaused, first.State.Status)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "restart"}))
	for {
		var ev tetris.GameStateEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.State.Status == tetris.StatusPlaying {
			assert.Equal(t, 0, ev.State.Score)
			assert.Len(t, ev.State.RenderedGrid, 20)
			break
		}
	}

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "pause"}))
	for {
		var ev tetris.GameStateEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.State.Status == tetris.StatusPaused {
			assert.Contains(t, ev.Sounds, tetris.SoundPause)
			break
		}
	}
}

func TestWebSocketRejectsBadAuth(t *testing.T) {
	s := newTestServer(t)
	gameID := s.createGame(t, "dave")

	tests := []struct {
		name string
		msg  map[string]string
	}{
		{"不正なトークン", map[string]string{"type": "auth", "token": "garbage"}},
		{"認証以外のメッセージ", map[string]string{"action": "restart"}},
		{"他人のゲーム", map[string]string{"type": "auth", "token": tokenFor(t, "eve")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dialGame(t, s, gameID)
			require.NoError(t, conn.WriteJSON(tt.msg))

			// 他人のゲームの場合は auth_success の後にエラーが届く
			for {
				var msg map[string]interface{}
				require.NoError(t, conn.ReadJSON(&msg))
				if _, ok := msg["error"]; ok {
					break
				}
				require.Equal(t, "auth_success", msg["type"])
			}
			_, _, err := conn.ReadMessage()
			assert.Error(t, err, "エラーの後は切断されること")
		})
	}
}
