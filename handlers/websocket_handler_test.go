package handlers

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidly-labs/aidly-go-sdk/models"
)

type clientMessage struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

func dialSocket(t *testing.T, session *TriageSession, chat *ChatHandler) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		sock := &triageSocket{conn: conn, session: session, chat: chat}
		sock.sendState()
		sock.listen()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Swallow the initial state announcement.
	var initial clientMessage
	require.NoError(t, conn.ReadJSON(&initial))
	require.Equal(t, "state", initial.Type)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) clientMessage {
	t.Helper()
	var msg clientMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": msgType, "data": data}))
}

func TestSocketPingPong(t *testing.T) {
	conn := dialSocket(t, newSession(&mockAnalyzer{}, &mockGenerator{}, &mockLocator{}), nil)

	sendMessage(t, conn, "ping", nil)
	assert.Equal(t, "pong", readMessage(t, conn).Type)
}

func TestSocketUploadAnalyzeEscalate(t *testing.T) {
	analyzer := &mockAnalyzer{result: &models.AnalysisResult{Condition: "deep laceration", Severity: 9}}
	generator := &mockGenerator{guidance: &models.FirstAidGuidance{Text: "apply firm pressure"}}
	locator := &mockLocator{hospitals: []models.Hospital{{Name: "City Hospital", Distance: "1.2 km"}}}
	session := newSession(analyzer, generator, locator)
	conn := dialSocket(t, session, nil)

	sendMessage(t, conn, "upload_image", map[string]string{
		"image": base64.StdEncoding.EncodeToString(jpegFixture(t)),
	})

	ready := readMessage(t, conn)
	assert.Equal(t, "image_ready", ready.Type)
	assert.Equal(t, "rgb", ready.Data["color_mode"])
	state := readMessage(t, conn)
	assert.Equal(t, "state", state.Type)
	assert.Equal(t, string(models.StateImageReady), state.Data["state"])

	sendMessage(t, conn, "analyze", nil)

	analysis := readMessage(t, conn)
	assert.Equal(t, "analysis", analysis.Type)
	assert.Equal(t, "apply firm pressure", analysis.Data["first_aid"])
	state = readMessage(t, conn)
	assert.Equal(t, string(models.StateEscalated), state.Data["state"])
	escalation := readMessage(t, conn)
	assert.Equal(t, "escalation", escalation.Type)
	assert.Equal(t, float64(9), escalation.Data["severity"])

	// Escalation only surfaces the search; it runs on explicit request.
	assert.Equal(t, 0, locator.calls)
	sendMessage(t, conn, "find_hospitals", map[string]float64{"radius_km": 5})

	hospitals := readMessage(t, conn)
	assert.Equal(t, "hospitals", hospitals.Type)
	assert.Equal(t, float64(1), hospitals.Data["count"])
	assert.Equal(t, string(models.StateHospitalsReady), readMessage(t, conn).Data["state"])
}

func TestSocketUploadErrors(t *testing.T) {
	session := newSession(&mockAnalyzer{}, &mockGenerator{}, &mockLocator{})
	conn := dialSocket(t, session, nil)

	sendMessage(t, conn, "upload_image", map[string]string{"image": "!!!not base64!!!"})
	errMsg := readMessage(t, conn)
	assert.Equal(t, "error", errMsg.Type)
	assert.Equal(t, "invalid_image", errMsg.Data["kind"])
	assert.Equal(t, "upload_image", errMsg.Data["action"])
	assert.Equal(t, models.StateIdle, session.State())
}

func TestSocketRadiusValidation(t *testing.T) {
	locator := &mockLocator{}
	conn := dialSocket(t, newSession(&mockAnalyzer{}, &mockGenerator{}, locator), nil)

	sendMessage(t, conn, "find_hospitals", map[string]float64{"radius_km": 50})
	errMsg := readMessage(t, conn)
	assert.Equal(t, "error", errMsg.Type)
	assert.Equal(t, "invalid_request", errMsg.Data["kind"])
	assert.Equal(t, 0, locator.calls)
}

func TestSocketChatStreaming(t *testing.T) {
	session := newSession(&mockAnalyzer{}, &mockGenerator{}, &mockLocator{})
	chat := NewChatHandler(session.Logger, &mockResponder{reply: "Cool the burn under water"}, nil, nil)
	conn := dialSocket(t, session, chat)

	sendMessage(t, conn, "chat", map[string]string{"text": "What do I do for a burn?"})

	var fragments []string
	for {
		msg := readMessage(t, conn)
		if msg.Type == "chat_done" {
			assert.Equal(t, "Cool the burn under water", msg.Data["text"])
			break
		}
		require.Equal(t, "chat_fragment", msg.Type)
		fragments = append(fragments, msg.Data["text"].(string))
	}
	assert.Equal(t, "Cool the burn under water", strings.Join(fragments, " "))
}

func TestSocketSetLocationAndDenial(t *testing.T) {
	session := newSession(&mockAnalyzer{}, &mockGenerator{}, &mockLocator{})
	conn := dialSocket(t, session, nil)

	sendMessage(t, conn, "location_denied", nil)
	denied := readMessage(t, conn)
	assert.Equal(t, "location_updated", denied.Type)
	assert.Equal(t, models.DefaultLatitude, denied.Data["lat"])

	sendMessage(t, conn, "set_location", map[string]float64{"lat": 19.07, "lng": 72.87})
	updated := readMessage(t, conn)
	assert.Equal(t, "location_updated", updated.Type)
	assert.Equal(t, 19.07, updated.Data["lat"])
	assert.Equal(t, models.UserLocation{Lat: 19.07, Lng: 72.87}, session.Location())
}

func TestSocketStop(t *testing.T) {
	conn := dialSocket(t, newSession(&mockAnalyzer{}, &mockGenerator{}, &mockLocator{}), nil)

	sendMessage(t, conn, "stop", nil)
	assert.Equal(t, "stop_confirmation", readMessage(t, conn).Type)
}
