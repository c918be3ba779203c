package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aidly-labs/aidly-go-sdk/models"
	"github.com/aidly-labs/aidly-go-sdk/utils"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow connections from any origin
	},
}

// Inter-fragment pacing for the chat typing effect. Presentation only;
// the chat contract does not depend on it.
const defaultFragmentDelay = 20 * time.Millisecond

type WebSocketMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outboundMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// triageSocket binds one websocket connection to one session. All actions
// are handled inline on the read loop, so at most one pipeline action
// is in flight for a session.
type triageSocket struct {
	conn          *websocket.Conn
	session       *TriageSession
	chat          *ChatHandler
	camera        *utils.CameraCapture
	fragmentDelay time.Duration
	writeMu       sync.Mutex
}

// HandleTriageSession upgrades the connection and serves one triage
// session until the client stops or disconnects.
func HandleTriageSession(w http.ResponseWriter, r *http.Request, redisClient *redis.Client) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Error("Failed to upgrade to websocket", zap.Error(err))
		return
	}
	defer conn.Close()

	sessionID := uuid.New().String()

	gemini := utils.NewGeminiClient()
	locator := utils.NewHospitalLocator(redisClient)

	session := NewTriageSession(sessionID, gemini, gemini, locator)
	session.Logger.Info("New triage session started")

	knowledgeIdx, err := utils.GetKnowledgeIndex()
	if err != nil {
		session.Logger.Warn("Failed to connect first-aid knowledge index", zap.Error(err))
		// Continue without reference context - chat still works
	}
	chat := NewChatHandler(session.Logger, gemini, knowledgeIdx, gemini)

	sock := &triageSocket{
		conn:          conn,
		session:       session,
		chat:          chat,
		camera:        utils.NewCameraCapture(),
		fragmentDelay: defaultFragmentDelay,
	}

	sock.sendState()
	sock.listen()
	session.Logger.Info("Triage session ended")
}

func (t *triageSocket) listen() {
	for {
		var msg WebSocketMessage
		if err := t.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				t.session.Logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}
		if stop := t.dispatch(msg); stop {
			return
		}
	}
}

// dispatch handles one client message. Returns true when the session
// should end.
func (t *triageSocket) dispatch(msg WebSocketMessage) bool {
	switch msg.Type {
	case "upload_image":
		t.handleUploadImage(msg.Data)
	case "capture_image":
		t.handleCaptureImage()
	case "analyze":
		t.handleAnalyze()
	case "set_location":
		t.handleSetLocation(msg.Data)
	case "location_denied":
		t.session.Logger.Info("Geolocation denied, keeping default location")
		t.send("location_updated", t.session.Location())
	case "find_hospitals":
		t.handleFindHospitals(msg.Data)
	case "chat":
		t.handleChat(msg.Data)
	case "reset":
		t.session.Reset()
		t.sendState()
	case "ping":
		t.send("pong", nil)
	case "stop":
		t.session.Logger.Info("Received stop command from client")
		t.send("stop_confirmation", map[string]interface{}{
			"session_id": t.session.ID,
		})
		return true
	default:
		t.session.Logger.Warn("Unknown message type", zap.String("type", msg.Type))
	}
	return false
}

func (t *triageSocket) handleUploadImage(data json.RawMessage) {
	var payload struct {
		Image string `json:"image"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Image == "" {
		t.sendError("upload_image", &models.InvalidImageError{
			Reason: models.ErrImageUndecodable,
			Detail: "missing image payload",
		})
		return
	}

	raw, err := base64.StdEncoding.DecodeString(payload.Image)
	if err != nil {
		t.sendError("upload_image", &models.InvalidImageError{
			Reason: models.ErrImageUndecodable,
			Detail: "invalid base64 encoding",
		})
		return
	}

	t.installImage("upload_image", raw)
}

func (t *triageSocket) handleCaptureImage() {
	frame, err := t.camera.CaptureFrame()
	if err != nil {
		t.sendError("capture_image", &models.InvalidImageError{
			Reason: models.ErrImageUndecodable,
			Detail: err.Error(),
		})
		return
	}
	t.installImage("capture_image", frame)
}

func (t *triageSocket) installImage(action string, raw []byte) {
	img, err := t.session.UploadImage(raw)
	if err != nil {
		t.sendError(action, err)
		return
	}
	t.send("image_ready", map[string]interface{}{
		"width":      img.Width,
		"height":     img.Height,
		"color_mode": img.ColorMode,
	})
	t.sendState()
}

func (t *triageSocket) handleAnalyze() {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	result, guidance, err := t.session.Analyze(ctx)
	if err != nil {
		t.sendError("analyze", err)
		t.sendState()
		return
	}

	t.send("analysis", map[string]interface{}{
		"result":    result,
		"first_aid": guidance.Text,
	})
	t.sendState()

	if result.Escalated() {
		t.send("escalation", map[string]interface{}{
			"severity": result.Severity,
			"message":  "HIGH SEVERITY: Seek immediate medical attention. You can search for nearby hospitals now.",
		})
	}
}

func (t *triageSocket) handleSetLocation(data json.RawMessage) {
	var payload struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.sendError("set_location", err)
		return
	}
	t.session.SetLocation(payload.Lat, payload.Lng)
	t.send("location_updated", t.session.Location())
}

func (t *triageSocket) handleFindHospitals(data json.RawMessage) {
	var payload struct {
		RadiusKm float64 `json:"radius_km"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			t.sendError("find_hospitals", err)
			return
		}
	}
	if payload.RadiusKm == 0 {
		payload.RadiusKm = models.DefaultRadiusKm
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hospitals, err := t.session.FindHospitals(ctx, payload.RadiusKm)
	if err != nil {
		t.sendError("find_hospitals", err)
		return
	}

	t.send("hospitals", map[string]interface{}{
		"hospitals": hospitals,
		"count":     len(hospitals),
		"center":    t.session.Location(),
	})
	t.sendState()
}

func (t *triageSocket) handleChat(data json.RawMessage) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Text == "" {
		t.sendError("chat", errors.New("missing chat text"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	err := t.chat.Submit(ctx, payload.Text, func(fragment string, done bool) {
		if done {
			t.send("chat_done", map[string]interface{}{"text": fragment})
			return
		}
		t.send("chat_fragment", map[string]interface{}{"text": fragment})
		if t.fragmentDelay > 0 {
			time.Sleep(t.fragmentDelay)
		}
	})
	if err != nil {
		t.sendError("chat", err)
	}
}

func (t *triageSocket) sendState() {
	t.send("state", map[string]interface{}{
		"state": t.session.State(),
	})
}

func (t *triageSocket) sendError(action string, err error) {
	t.send("error", map[string]interface{}{
		"action":  action,
		"kind":    errorKind(err),
		"message": err.Error(),
	})
}

func (t *triageSocket) send(msgType string, data interface{}) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	msg := outboundMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now(),
	}
	if err := t.conn.WriteJSON(msg); err != nil {
		t.session.Logger.Error("Failed to send websocket message", zap.Error(err), zap.String("type", msgType))
	}
}

// errorKind maps an error to its client-facing taxonomy kind.
func errorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrImageTooLarge), errors.Is(err, models.ErrImageUndecodable):
		return "invalid_image"
	case errors.Is(err, models.ErrAnalysisUnavailable):
		return "analysis_unavailable"
	case errors.Is(err, models.ErrGuidanceUnavailable):
		return "guidance_unavailable"
	case errors.Is(err, models.ErrLocationServiceUnavailable):
		return "location_service_unavailable"
	case errors.Is(err, models.ErrChatUnavailable):
		return "chat_unavailable"
	case errors.Is(err, ErrNoImage), errors.Is(err, ErrAnalysisInProgress), errors.Is(err, ErrRadiusOutOfRange):
		return "invalid_request"
	default:
		return "internal"
	}
}
