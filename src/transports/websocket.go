// Package transports hosts the telephony side of the system: a
// WebSocket server the session provider connects to, one connection per
// call. Inbound wire events are validated and degraded here so the
// dialog layers only ever see well-formed values.
package transports

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bluewing-labs/tablevoice/src/events"
	"github.com/bluewing-labs/tablevoice/src/logger"
)

// CallHandler consumes call events from the transport. The session
// controller implements it.
type CallHandler interface {
	HandleSessionStart(ctx context.Context, sess events.Session)
	HandleRecognition(ctx context.Context, sess events.Session, rec events.Recognition)
	HandleStatus(ctx context.Context, sess events.Session, status string)
	HandleSessionClose(sess events.Session)
	HandleSessionError(sess events.Session, err error)
}

// WebSocketConfig holds configuration for the WebSocket server
type WebSocketConfig struct {
	Port int    // Port to listen on (e.g., 8080)
	Path string // Upgrade path (default "/voice")
}

// WebSocketServer accepts provider connections and pumps their events
// into a CallHandler
type WebSocketServer struct {
	port     int
	path     string
	handler  CallHandler
	upgrader websocket.Upgrader
	server   *http.Server
	log      *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*wsSession
}

// NewWebSocketServer creates a new WebSocket transport server
func NewWebSocketServer(config WebSocketConfig, handler CallHandler) *WebSocketServer {
	path := config.Path
	if path == "" {
		path = "/voice"
	}
	return &WebSocketServer{
		port:    config.Port,
		path:    path,
		handler: handler,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // provider sends no browser origin
			},
		},
		log:      logger.WithPrefix("VoiceWS"),
		sessions: make(map[string]*wsSession),
	}
}

// Start binds the listener and serves in the background. A bind
// failure is returned synchronously; it is the one error that should
// stop the process.
func (t *WebSocketServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(t.path, func(w http.ResponseWriter, r *http.Request) {
		t.handleUpgrade(ctx, w, r)
	})

	addr := fmt.Sprintf(":%d", t.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	t.server = &http.Server{Handler: mux}

	go func() {
		t.log.Info("listening on %s%s", addr, t.path)
		if err := t.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.log.Error("server error: %v", err)
		}
	}()

	return nil
}

// Stop closes all live sessions and shuts the server down
func (t *WebSocketServer) Stop() error {
	t.mu.Lock()
	for _, sess := range t.sessions {
		sess.conn.Close()
	}
	t.sessions = make(map[string]*wsSession)
	t.mu.Unlock()

	if t.server != nil {
		return t.server.Shutdown(context.Background())
	}
	return nil
}

// ActiveSessions returns the number of live provider connections
func (t *WebSocketServer) ActiveSessions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *WebSocketServer) handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	t.log.Info("new connection from %s", r.RemoteAddr)

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Error("failed to upgrade connection: %v", err)
		return
	}

	sess := &wsSession{conn: conn}
	go t.receiveEvents(ctx, sess)
}

func (t *WebSocketServer) receiveEvents(ctx context.Context, sess *wsSession) {
	defer func() {
		sess.conn.Close()
		if sess.callID != "" {
			t.mu.Lock()
			delete(t.sessions, sess.callID)
			t.mu.Unlock()
			t.handler.HandleSessionClose(sess)
		}
		t.log.Info("connection closed (call %q)", sess.callID)
	}()

	for {
		_, message, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				if sess.callID != "" {
					t.handler.HandleSessionError(sess, err)
				} else {
					t.log.Error("read error before start: %v", err)
				}
			}
			return
		}
		t.dispatch(ctx, sess, message)
	}
}

// wireEvent is the inbound envelope. Every field besides Event is
// optional; anything missing degrades to the empty-transcript or
// unknown-status case instead of failing the call.
type wireEvent struct {
	Event       string           `json:"event"`
	CallID      string           `json:"callId"`
	Recognition *wireRecognition `json:"recognition"`
	Status      *wireStatus      `json:"status"`
}

type wireRecognition struct {
	Alternatives []events.Alternative `json:"alternatives"`
}

type wireStatus struct {
	State string `json:"state"`
}

func (t *WebSocketServer) dispatch(ctx context.Context, sess *wsSession, message []byte) {
	var msg wireEvent
	if err := json.Unmarshal(message, &msg); err != nil {
		t.log.Warn("unparseable event, ignored: %v", err)
		return
	}

	switch msg.Event {
	case "start":
		if sess.callID != "" {
			t.log.Warn("second start on call %s, ignored", sess.callID)
			return
		}
		sess.callID = msg.CallID
		if sess.callID == "" {
			sess.callID = uuid.NewString()
			t.log.Warn("start without callId, assigned %s", sess.callID)
		}
		t.mu.Lock()
		t.sessions[sess.callID] = sess
		t.mu.Unlock()
		t.handler.HandleSessionStart(ctx, sess)

	case "recognition":
		if sess.callID == "" {
			t.log.Warn("recognition before start, ignored")
			return
		}
		var rec events.Recognition
		if msg.Recognition != nil {
			rec.Alternatives = msg.Recognition.Alternatives
		}
		t.handler.HandleRecognition(ctx, sess, rec)

	case "status":
		if sess.callID == "" {
			return
		}
		state := ""
		if msg.Status != nil {
			state = msg.Status.State
		}
		t.handler.HandleStatus(ctx, sess, state)

	case "stop":
		if sess.callID != "" {
			t.handler.HandleStatus(ctx, sess, events.StatusCompleted)
		}

	default:
		t.log.Debug("unknown event %q, ignored", msg.Event)
	}
}

// wireCommand is the outbound envelope
type wireCommand struct {
	Event  string                `json:"event"`
	Config *events.SessionConfig `json:"config,omitempty"`
	Say    *events.SayRequest    `json:"say,omitempty"`
	Token  string                `json:"token,omitempty"`
}

// wsSession is one provider connection, adapted to events.Session.
// Writes are serialized; gorilla connections allow one writer at a time.
type wsSession struct {
	conn    *websocket.Conn
	callID  string
	writeMu sync.Mutex
}

func (s *wsSession) CallID() string {
	return s.callID
}

func (s *wsSession) Configure(cfg events.SessionConfig) error {
	return s.write(wireCommand{Event: "configure", Config: &cfg})
}

func (s *wsSession) Say(req events.SayRequest) error {
	return s.write(wireCommand{Event: "say", Say: &req})
}

func (s *wsSession) StreamText(text string) error {
	return s.write(wireCommand{Event: "token", Token: text})
}

func (s *wsSession) Flush() error {
	return s.write(wireCommand{Event: "flush"})
}

func (s *wsSession) Hangup() error {
	return s.write(wireCommand{Event: "hangup"})
}

func (s *wsSession) write(cmd wireCommand) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(cmd)
}
