package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrNoSession = errors.New("no websocket session for recipient")

// wsSession wraps one connection; gorilla conns allow a single concurrent writer.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// WSGateway delivers messages over live websocket sessions keyed by the
// recipient's contact channel.
type WSGateway struct {
	mu       sync.RWMutex
	sessions map[string]*wsSession
}

func NewWSGateway() *WSGateway {
	return &WSGateway{sessions: make(map[string]*wsSession)}
}

func (g *WSGateway) Add(recipient string, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.sessions[recipient]; ok {
		_ = old.conn.Close()
	}
	g.sessions[recipient] = &wsSession{conn: conn}
}

func (g *WSGateway) Remove(recipient string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sessions[recipient]; ok {
		_ = s.conn.Close()
		delete(g.sessions, recipient)
	}
}

func (g *WSGateway) Notify(ctx context.Context, recipient string, msg Message) error {
	g.mu.RLock()
	s, ok := g.sessions[recipient]
	g.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(msg)
}
