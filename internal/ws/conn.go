package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Session 是一条已认证的连接：持有传输句柄、绑定的用户身份，
// 以及自己订阅的频道集合（由 Hub 在锁内维护）。
type Session struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	userID   string
	name     string
	channels map[string]struct{}

	// mu 串行化 send 通道的写入与关闭：广播在 Hub 锁外投递，
	// 快照里的会话可能已被并发的剔除关掉。
	mu     sync.Mutex
	closed bool
}

func newSession(hub *Hub, conn *websocket.Conn, userID, name string) *Session {
	return &Session{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		userID:   userID,
		name:     name,
		channels: make(map[string]struct{}),
	}
}

// trySend 非阻塞投递；缓冲满或会话已关闭返回 false，由调用方决定剔除。
func (s *Session) trySend(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

func (s *Session) readPump(r *Router) {
	defer func() {
		s.hub.Unregister(s)
		_ = s.conn.Close()
	}()
	s.conn.SetReadLimit(1 << 20) // 1MB
	s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		env, err := decodeEnvelope(data)
		if err != nil {
			s.trySend(eventPayload(EvtError, map[string]interface{}{"message": "malformed event"}))
			continue
		}
		r.Handle(s, env)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
