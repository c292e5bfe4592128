// Package ws serves the realtime collaboration channel. Each websocket
// connection multiplexes two logical streams: a request/response stream
// (join, leave, submit operation) and a fire-and-forget notification stream
// pushed when other collaborators change a joined document. The only
// ordering guarantee between them is that the sender's acknowledgement is
// written before the corresponding broadcast goes to anyone else.
package ws

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/splitsync/splitsync/internal/collab"
	"github.com/splitsync/splitsync/internal/metrics"
	"github.com/splitsync/splitsync/internal/middleware"
	"github.com/splitsync/splitsync/internal/room"
	"github.com/splitsync/splitsync/internal/storage"
)

// Handler upgrades authenticated HTTP requests to websocket connections and
// runs the collaboration protocol on them.
type Handler struct {
	engine   *collab.Engine
	rooms    *room.Manager
	store    storage.Store
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler wired to the sync engine and room
// manager.
func NewHandler(engine *collab.Engine, rooms *room.Manager, store storage.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine: engine,
		rooms:  rooms,
		store:  store,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection. Authentication happens before the
// upgrade via middleware.RequireAuth.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:     uuid.New().String(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		h:      h,
	}

	metrics.ConnectedClients.Inc()
	h.logger.Info("client connected", "conn_id", c.id, "user_id", userID)

	go c.writePump()
	c.readPump(r.Context())

	h.rooms.LeaveAll(c.id)
	metrics.ConnectedClients.Dec()
	h.logger.Info("client disconnected", "conn_id", c.id, "user_id", userID)
}
