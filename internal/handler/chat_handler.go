package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"learnmate-go/internal/engine"
	"learnmate-go/internal/model"
	"learnmate-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatHandler serves the streaming chat WebSocket.
type ChatHandler struct {
	engine *engine.Engine
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(eng *engine.Engine) *ChatHandler {
	return &ChatHandler{engine: eng}
}

// chatFrame is one client message on the socket.
type chatFrame struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
	Scope     string `json:"scope"`
}

// doneMarker closes each streamed answer on the wire.
const doneMarker = "[DONE]"

// Handle upgrades the connection and answers each incoming question as a
// token stream, terminated by a done marker.
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("[ChatHandler] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// One session per connection unless the client supplies its own.
	defaultSession := uuid.NewString()
	log.Infof("[ChatHandler] connection opened, default session: %s", defaultSession)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("[ChatHandler] connection closed unexpectedly: %v", err)
			}
			return
		}

		var frame chatFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			// Bare text is treated as the question.
			frame = chatFrame{Question: string(payload)}
		}
		scope, err := model.ParseScope(frame.Scope)
		if err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte("error: "+err.Error()))
			continue
		}
		sessionID := frame.SessionID
		if sessionID == "" {
			sessionID = defaultSession
		}

		if err := h.engine.StreamAnswer(c.Request.Context(), frame.Question, sessionID, scope, conn); err != nil {
			log.Errorf("[ChatHandler] stream failed, session: %s: %v", sessionID, err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte("error: answer generation failed"))
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(doneMarker)); err != nil {
			return
		}
	}
}
