package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/robertroutledge/pccf-converter/internal/jobs"
)

// WebSocket message types for job progress
const (
	// Client -> Server messages
	MsgTypeCancel = "cancel"
	MsgTypePing   = "ping"

	// Server -> Client messages
	MsgTypeProgress = "progress"
	MsgTypeComplete = "complete"
	MsgTypeError    = "error"
	MsgTypePong     = "pong"
)

const wsWriteWait = 10 * time.Second

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocket error payload
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ProgressSocket pushes job snapshots to WebSocket clients until the job
// finishes or the client goes away.
type ProgressSocket struct {
	upgrader       websocket.Upgrader
	maxMessageSize int64
}

// NewProgressSocket creates the progress endpoint. maxMessageKB limits
// client messages.
func NewProgressSocket(maxMessageKB int) *ProgressSocket {
	if maxMessageKB <= 0 {
		maxMessageKB = 64
	}
	return &ProgressSocket{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		maxMessageSize: int64(maxMessageKB) * 1024,
	}
}

// wsConn serialises writes from the update loop and the reader goroutine.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) send(msg WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg.Timestamp = time.Now().UnixMilli()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) sendError(id, message, code string) error {
	return c.send(WSMessage{
		Type:    MsgTypeError,
		ID:      id,
		Payload: mustJSON(WSErrorResponse{Message: message, Code: code}),
	})
}

func (c *wsConn) close(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(wsWriteWait)
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

// Serve subscribes to the job named by the :id path parameter and upgrades
// the connection. Unknown jobs are rejected before the upgrade.
func (p *ProgressSocket) Serve(c echo.Context, mgr JobManager) error {
	id := c.Param("id")
	updates, unsubscribe, err := mgr.Subscribe(id)
	if err != nil {
		return jobError(err, id)
	}
	defer unsubscribe()

	ws, err := p.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already replied.
		return nil
	}
	defer ws.Close()
	ws.SetReadLimit(p.maxMessageSize)

	conn := &wsConn{ws: ws}
	slog.Debug("[WebSocket] client subscribed", "job", id)

	gone := make(chan struct{})
	go p.readLoop(conn, mgr, id, gone)

	for {
		select {
		case job, ok := <-updates:
			if !ok {
				conn.close(websocket.CloseNormalClosure, "job finished")
				return nil
			}
			if err := conn.send(jobMessage(job)); err != nil {
				slog.Debug("[WebSocket] send failed", "job", id, "error", err)
				return nil
			}
			if job.Status.Done() {
				conn.close(websocket.CloseNormalClosure, "job "+string(job.Status))
				return nil
			}
		case <-gone:
			slog.Debug("[WebSocket] client disconnected", "job", id)
			return nil
		}
	}
}

// readLoop handles client messages and detects disconnects.
func (p *ProgressSocket) readLoop(conn *wsConn, mgr JobManager, id string, gone chan<- struct{}) {
	defer close(gone)
	for {
		var msg WSMessage
		if err := conn.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("[WebSocket] read error", "job", id, "error", err)
			}
			return
		}

		switch msg.Type {
		case MsgTypePing:
			conn.send(WSMessage{Type: MsgTypePong, ID: id})
		case MsgTypeCancel:
			if err := mgr.Cancel(id); err != nil {
				conn.sendError(id, err.Error(), "CANCEL_FAILED")
			}
		default:
			conn.sendError(id, "Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}
}

// jobMessage wraps a job snapshot in the message type matching its status.
func jobMessage(job jobs.Job) WSMessage {
	msgType := MsgTypeProgress
	switch job.Status {
	case jobs.StatusComplete:
		msgType = MsgTypeComplete
	case jobs.StatusError, jobs.StatusCanceled:
		msgType = MsgTypeError
	}
	return WSMessage{Type: msgType, ID: job.ID, Payload: mustJSON(job)}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
