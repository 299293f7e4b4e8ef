package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"inspectwatch/logging"
	"inspectwatch/types"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ActionResetCounters is the client command that zeroes the session counters
const ActionResetCounters = "reset_counters"

const (
	clientBuffer = 32
	writeWait    = 5 * time.Second
)

// Command is a message sent by a websocket client
type Command struct {
	Action string `json:"action"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WebsocketSink broadcasts events as JSON to clients connected on /events
type WebsocketSink struct {
	upgrader websocket.Upgrader
	logger   *logrus.Entry

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	onReset func()
	server  *http.Server
}

// NewWebsocketSink creates a sink with no clients
func NewWebsocketSink() *WebsocketSink {
	return &WebsocketSink{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logging.NewLogger("websocket"),
		clients: make(map[*wsClient]struct{}),
	}
}

// OnReset sets the function called when a client asks for a counters reset
func (s *WebsocketSink) OnReset(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReset = fn
}

// Name implements Sink
func (s *WebsocketSink) Name() string { return "websocket" }

// Handler returns the HTTP handler serving /events
func (s *WebsocketSink) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.serveEvents)
	return mux
}

// ListenAndServe starts serving on addr and returns once the listener is open
func (s *WebsocketSink) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("Websocket server stopped")
		}
	}()
	s.logger.WithField("addr", ln.Addr().String()).Info("Serving events over websocket")
	return nil
}

// ClientCount returns the number of connected clients
func (s *WebsocketSink) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Handle implements Sink. Slow clients miss events rather than stall the others.
func (s *WebsocketSink) Handle(_ context.Context, ev types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.logger.WithField("remote", c.conn.RemoteAddr().String()).Debug("Client too slow, event dropped")
		}
	}
	return nil
}

// Close stops the server and disconnects every client
func (s *WebsocketSink) Close() error {
	s.mu.Lock()
	server := s.server
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	var err error
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = server.Shutdown(ctx)
	}
	for _, c := range clients {
		s.remove(c)
	}
	return err
}

func (s *WebsocketSink) serveEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.logger.WithField("remote", conn.RemoteAddr().String()).Info("Websocket client connected")

	go s.writeLoop(c)
	s.readLoop(c)
}

func (s *WebsocketSink) readLoop(c *wsClient) {
	defer s.remove(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.logger.WithError(err).Debug("Ignoring malformed client command")
			continue
		}

		switch cmd.Action {
		case ActionResetCounters:
			s.mu.Lock()
			fn := s.onReset
			s.mu.Unlock()
			if fn != nil {
				s.logger.Info("Counters reset requested by client")
				fn()
			}
		default:
			s.logger.WithField("action", cmd.Action).Debug("Ignoring unknown client command")
		}
	}
}

func (s *WebsocketSink) writeLoop(c *wsClient) {
	defer c.conn.Close()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *WebsocketSink) remove(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
	s.logger.WithField("remote", c.conn.RemoteAddr().String()).Info("Websocket client disconnected")
}
