package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/datasync/cmd/datasync/container"
	"github.com/lyzr/datasync/cmd/datasync/session"
	"github.com/lyzr/datasync/common/bootstrap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Sessions carry no credentials; any origin may open one
		return true
	},
}

// SessionHandler upgrades dataset requests to websocket sessions
type SessionHandler struct {
	components *bootstrap.Components
	sessions   *session.Driver
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(c *container.Container) *SessionHandler {
	return &SessionHandler{
		components: c.Components,
		sessions:   c.Sessions,
	}
}

// GetDatasets runs one websocket session
// GET /dataset/get
func (h *SessionHandler) GetDatasets(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.components.Logger.Warn("websocket upgrade failed", "error", err, "remote", c.RealIP())
		return nil
	}

	h.components.Logger.Debug("websocket session opened", "remote", c.RealIP())
	h.sessions.Run(c.Request().Context(), conn)
	return nil
}
