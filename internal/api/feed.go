package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"acs-event-bridge/internal/types"
)

// feedMessage is the envelope sent to live-feed subscribers.
type feedMessage struct {
	Type      string              `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Event     types.CanonicalEvent `json:"event"`
}

// EventFeed fans normalized events out to WebSocket subscribers. Slow
// subscribers are dropped rather than allowed to stall the pipeline.
type EventFeed struct {
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]chan feedMessage
}

// NewEventFeed creates a feed with no subscribers.
func NewEventFeed(logger *logrus.Logger) *EventFeed {
	return &EventFeed{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]chan feedMessage),
	}
}

// Broadcast delivers an accepted event to every connected subscriber.
// It never blocks: a subscriber whose send buffer is full misses the event.
func (f *EventFeed) Broadcast(ev types.CanonicalEvent) {
	msg := feedMessage{Type: "event", Timestamp: time.Now().UTC(), Event: ev}

	f.mu.Lock()
	defer f.mu.Unlock()
	for conn, send := range f.conns {
		select {
		case send <- msg:
		default:
			f.logger.WithField("remote_addr", conn.RemoteAddr().String()).
				Warn("Live feed subscriber too slow, dropping event")
		}
	}
}

// HandleWS upgrades the request and streams events until the client
// disconnects.
func (f *EventFeed) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	send := make(chan feedMessage, 64)
	f.mu.Lock()
	f.conns[conn] = send
	f.mu.Unlock()

	f.logger.WithField("remote_addr", conn.RemoteAddr().String()).Info("Live feed subscriber connected")

	go f.writeLoop(conn, send)
	f.readLoop(conn)
}

func (f *EventFeed) writeLoop(conn *websocket.Conn, send chan feedMessage) {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				f.remove(conn)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.remove(conn)
				return
			}
		}
	}
}

// readLoop drains control frames and detects disconnects.
func (f *EventFeed) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			f.remove(conn)
			return
		}
	}
}

func (f *EventFeed) remove(conn *websocket.Conn) {
	f.mu.Lock()
	send, ok := f.conns[conn]
	if ok {
		delete(f.conns, conn)
		close(send)
	}
	f.mu.Unlock()
	if ok {
		conn.Close()
		f.logger.WithField("remote_addr", conn.RemoteAddr().String()).Info("Live feed subscriber disconnected")
	}
}

// Close disconnects all subscribers.
func (f *EventFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn, send := range f.conns {
		close(send)
		conn.Close()
		delete(f.conns, conn)
	}
}
