// internal/server/ws.go
package server

import (
	"net/http"
	"time"

	"fitpro/internal/apperr"
	"fitpro/internal/notify"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const pingInterval = 25 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// stream sends the caller's own realtime events until the client goes
// away.
func (s *Server) stream(c echo.Context) error {
	if s.deps.Hub == nil {
		return apperr.NotFound("realtime stream")
	}
	u, err := currentUser(c)
	if err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Debugw("websocket upgrade failed", "userId", u.ID, "error", err)
		return nil
	}
	client := &notify.Client{UserID: u.ID, Conn: conn}
	s.deps.Hub.Register(client)
	s.logger.Debugw("websocket connected", "userId", u.ID)

	done := make(chan struct{})
	defer close(done)

	go func() {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := client.Ping(); err != nil {
					s.deps.Hub.Unregister(client)
					return
				}
			}
		}
	}()

	// read loop ends on client close/error
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.deps.Hub.Unregister(client)
			return nil
		}
	}
}
