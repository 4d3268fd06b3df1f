package recognitionHandler

import (
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashindibhagya/GestureConnect/internal/entity"
)

func (e *testEnv) listen(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go e.app.Listener(ln)
	t.Cleanup(func() { e.app.Shutdown() })

	return "ws://" + ln.Addr().String() + "/api/v1/ws"
}

type streamClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialStream(t *testing.T, url string) (*streamClient, map[string]interface{}) {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &streamClient{t: t, conn: conn}
	return c, c.read()
}

func (c *streamClient) read() map[string]interface{} {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]interface{}
	require.NoError(c.t, c.conn.ReadJSON(&msg))
	return msg
}

func (c *streamClient) send(raw string) map[string]interface{} {
	c.t.Helper()

	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(raw)))
	return c.read()
}

func predictionAction(t *testing.T, msg map[string]interface{}) string {
	t.Helper()

	require.Equal(t, "prediction", msg["type"], msg)
	data, ok := msg["data"].(map[string]interface{})
	require.True(t, ok)
	action, _ := data["action"].(string)
	return action
}

func TestStream_SessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	url := env.listen(t)

	client, status := dialStream(t, url)
	assert.Equal(t, "connection_status", status["type"])
	assert.Equal(t, "connected", status["status"])
	assert.Equal(t, "Connected to GestureConnect WebSocket server", status["message"])
	sessionID, _ := status["session_id"].(string)
	require.NotEmpty(t, sessionID)

	_, err := env.registry.Get(sessionID)
	require.NoError(t, err)

	assert.Equal(t, entity.ActionInsufficientData, predictionAction(t, client.send(`{"type":"frame","data":[1,2,3]}`)))

	msg := client.send(`{"type":"frame","data":[4,5,6]}`)
	assert.Equal(t, "hello", predictionAction(t, msg))
	data := msg["data"].(map[string]interface{})
	assert.InDelta(t, 0.7, data["confidence"], 1e-6)

	reset := client.send(`{"type":"reset"}`)
	assert.Equal(t, "reset_status", reset["type"])
	resetData := reset["data"].(map[string]interface{})
	assert.Equal(t, "success", resetData["status"])
	assert.Equal(t, "Sequence buffer reset", resetData["message"])

	// The next reply answers the next request, so reset produced exactly one message.
	actions := client.send(`{"type":"get_actions"}`)
	assert.Equal(t, "actions", actions["type"])
	actionsData := actions["data"].(map[string]interface{})
	assert.Equal(t, []interface{}{"hello", "thanks", "unknown"}, actionsData["actions"])

	// Nothing from before the reset survives.
	assert.Equal(t, entity.ActionInsufficientData, predictionAction(t, client.send(`{"type":"frame","data":[7,8,9]}`)))

	require.NoError(t, client.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	require.Eventually(t, func() bool {
		_, err := env.registry.Get(sessionID)
		return err != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStream_ErrorsKeepSessionOpen(t *testing.T) {
	env := newTestEnv(t)
	url := env.listen(t)

	client, _ := dialStream(t, url)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "unknown type", raw: `{"type":"dance"}`},
		{name: "malformed json", raw: `not json`},
		{name: "wrong keypoint length", raw: `{"type":"frame","data":[1]}`},
		{name: "frame without data", raw: `{"type":"frame"}`},
		{name: "frame with object data", raw: `{"type":"frame","data":{"x":1}}`},
		{name: "bad base64 image", raw: `{"type":"frame","data":"***"}`},
	}

	for _, tt := range tests {
		msg := client.send(tt.raw)
		assert.Equal(t, "error", msg["type"], tt.name)
		assert.NotEmpty(t, msg["message"], tt.name)
	}

	require.NoError(t, client.conn.WriteMessage(websocket.BinaryMessage, []byte{0xff, 0xd8}))
	msg := client.read()
	assert.Equal(t, "error", msg["type"])

	assert.Equal(t, entity.ActionInsufficientData, predictionAction(t, client.send(`{"type":"frame","data":[1,2,3]}`)))
	assert.Equal(t, "hello", predictionAction(t, client.send(`{"type":"frame","data":[1,2,3]}`)))
}

func TestStream_SessionsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	url := env.listen(t)

	a, statusA := dialStream(t, url)
	b, statusB := dialStream(t, url)
	assert.NotEqual(t, statusA["session_id"], statusB["session_id"])
	assert.Equal(t, 2, env.registry.Len())

	a.send(`{"type":"frame","data":[1,2,3]}`)
	assert.Equal(t, "hello", predictionAction(t, a.send(`{"type":"frame","data":[1,2,3]}`)))

	assert.Equal(t, entity.ActionInsufficientData, predictionAction(t, b.send(`{"type":"frame","data":[1,2,3]}`)))

	b.send(`{"type":"reset"}`)
	assert.Equal(t, 2, env.registry.Len())

	sess, err := env.registry.Get(statusA["session_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Len())
}

func TestStream_WindowUnreachableThroughDiscreteRoutes(t *testing.T) {
	env := newTestEnv(t)
	url := env.listen(t)

	client, status := dialStream(t, url)
	streamID := status["session_id"].(string)
	assert.Equal(t, entity.ActionInsufficientData, predictionAction(t, client.send(`{"type":"frame","data":[1,2,3]}`)))

	code, body := env.postKeypoints(t, streamID, `{"keypoints":[4,5,6]}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.NotEmpty(t, body["error"])

	code, _ = env.do(t, http.MethodPost, "/api/v1/reset", streamID, "", "")
	assert.Equal(t, http.StatusConflict, code)

	code, _ = env.do(t, http.MethodGet, "/api/v1/predict", streamID, "", "")
	assert.Equal(t, http.StatusConflict, code)

	sess, err := env.registry.Get(streamID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Len())

	// The stream carries on from its own single frame.
	assert.Equal(t, "hello", predictionAction(t, client.send(`{"type":"frame","data":[1,2,3]}`)))
}
