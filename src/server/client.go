package server

import (
	"time"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // control frames are small
)

// socket is the part of *websocket.Conn a session uses.
type socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ socket = (*websocket.Conn)(nil)

// -----------------------------------------------------------------------------
// Serve starts both pumps. The session must be initialized.
// -----------------------------------------------------------------------------

func (s *ClientSession) Serve() {
	go s.writePump()
	go s.readPump()
}

// -----------------------------------------------------------------------------
// readPump - handles control messages from the client
// Act as a Watchdog for the connection
// -----------------------------------------------------------------------------

func (s *ClientSession) readPump() {
	s.stateMu.RLock()
	conn := s.conn
	s.stateMu.RUnlock()

	defer func() {
		s.HandleDisconnection()
		s.Logger.Info("Client %s disconnected", s.id)
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.Logger.Info("WebSocket error: %v", err)
			}
			break
		}
		s.HandleMessage(message)
	}
}

// -----------------------------------------------------------------------------
// writePump - sends queued frames to the client
// -----------------------------------------------------------------------------

func (s *ClientSession) writePump() {
	s.stateMu.RLock()
	conn := s.conn
	s.stateMu.RUnlock()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-s.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.Logger.Debug("Write error on %s: %v", s.id, err)
				s.registry.RemoveClient(s.id)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			return
		}
	}
}
