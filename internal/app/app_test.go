package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liveclass/config"
	"github.com/aura-webinar/liveclass/internal/auth"
	"github.com/aura-webinar/liveclass/internal/realtime"
	"github.com/aura-webinar/liveclass/internal/store/memory"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
}

type harness struct {
	t      *testing.T
	app    *App
	router *gin.Engine
	admin  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		JWT:    config.JWTConfig{Secret: "test-secret", ExpireHours: 1},
		WebRTC: config.WebRTCConfig{ICEUrls: []string{"stun:stun.example:3478"}},
		Live: config.LiveConfig{
			StoreDriver:      "memory",
			HeartbeatTimeout: time.Minute,
			SweepInterval:    time.Minute,
			ChatMaxLength:    500,
		},
	}
	a := New(cfg, Deps{Stores: MemoryStores(memory.New())})
	token, err := a.JWT.Generate("admin-1", "ada@example.com", auth.RoleAdmin, "Ada")
	require.NoError(t, err)
	return &harness{t: t, app: a, router: a.Handler(), admin: token}
}

func (h *harness) do(method, path string, body interface{}, headers map[string]string) (int, envelope) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (h *harness) asAdmin() map[string]string {
	return map[string]string{"Authorization": "Bearer " + h.admin}
}

func (h *harness) liveSessionWithStudent() (sessionID, key string) {
	h.t.Helper()
	code, env := h.do(http.MethodPost, "/live/sessions", map[string]interface{}{"course_id": "go-101", "title": "Go 101"}, h.asAdmin())
	require.Equal(h.t, http.StatusCreated, code)
	var sess struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		HostSecret string `json:"host_secret"`
	}
	require.NoError(h.t, json.Unmarshal(env.Data, &sess))
	assert.Equal(h.t, "scheduled", sess.Status)
	assert.NotEmpty(h.t, sess.HostSecret)

	code, _ = h.do(http.MethodPost, "/live/sessions/"+sess.ID+"/start", nil, h.asAdmin())
	require.Equal(h.t, http.StatusOK, code)

	code, env = h.do(http.MethodPost, "/live/sessions/"+sess.ID+"/join", map[string]string{"role": "student", "display_name": "Kim"}, nil)
	require.Equal(h.t, http.StatusCreated, code)
	var joined struct {
		SignalingKey string `json:"signaling_key"`
	}
	require.NoError(h.t, json.Unmarshal(env.Data, &joined))
	require.NotEmpty(h.t, joined.SignalingKey)
	return sess.ID, joined.SignalingKey
}

func TestClassroomFlow(t *testing.T) {
	h := newHarness(t)
	sessionID, key := h.liveSessionWithStudent()
	asStudent := map[string]string{"X-Signaling-Key": key}

	code, env := h.do(http.MethodGet, "/live/me", nil, asStudent)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"display_name":"Kim"`)

	code, _ = h.do(http.MethodPost, "/live/me/chat", map[string]string{"body": "hello"}, asStudent)
	assert.Equal(t, http.StatusCreated, code)
	code, env = h.do(http.MethodPost, "/live/me/chat", map[string]string{"body": "   "}, asStudent)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "invalid_message", env.Code)

	code, env = h.do(http.MethodGet, "/live/sessions/"+sessionID+"/chat", nil, h.asAdmin())
	require.Equal(t, http.StatusOK, code)
	var messages []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0]["body"])

	code, _ = h.do(http.MethodPost, "/live/me/hand", nil, asStudent)
	require.Equal(t, http.StatusOK, code)
	code, env = h.do(http.MethodGet, "/live/sessions/"+sessionID+"/hands", nil, h.asAdmin())
	require.Equal(t, http.StatusOK, code)
	var hands []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &hands))
	assert.Len(t, hands, 1)

	code, env = h.do(http.MethodGet, "/live/sessions/"+sessionID+"/events", nil, h.asAdmin())
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"kind":"join"`)

	code, _ = h.do(http.MethodPost, "/live/sessions/"+sessionID+"/end", nil, h.asAdmin())
	require.Equal(t, http.StatusOK, code)
	code, env = h.do(http.MethodPost, "/live/me/chat", map[string]string{"body": "late"}, asStudent)
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, "session_ended", env.Code)
}

func TestAuthFailures(t *testing.T) {
	h := newHarness(t)

	code, env := h.do(http.MethodGet, "/live/me", nil, map[string]string{"X-Signaling-Key": "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid_signaling_key", env.Code)

	code, _ = h.do(http.MethodGet, "/live/sessions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = h.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestSignalingSocket(t *testing.T) {
	h := newHarness(t)
	_, key := h.liveSessionWithStudent()
	srv := httptest.NewServer(h.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/live/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?key=bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?key="+key, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg realtime.Envelope
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg.Event)

	require.NoError(t, conn.WriteJSON(realtime.Envelope{Event: "ping"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Event)

	require.NoError(t, conn.WriteJSON(realtime.Envelope{Event: "chat:message", Data: json.RawMessage(`{"body":"over the socket"}`)}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "chat:message", msg.Event)
	assert.Contains(t, string(msg.Data), "over the socket")
}

func TestICEServers(t *testing.T) {
	servers := ICEServers(config.WebRTCConfig{
		ICEUrls:        []string{"stun:stun.example:3478", "", "turn:turn.example:3478"},
		TURNUsername:   "u",
		TURNCredential: "p",
	})
	require.Len(t, servers, 2)
	assert.Empty(t, servers[0].Username)
	assert.Equal(t, "u", servers[1].Username)
	assert.Equal(t, "p", servers[1].Credential)
}
