package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/splitsync/splitsync/internal/collab"
	"github.com/splitsync/splitsync/internal/models"
	"github.com/splitsync/splitsync/internal/room"
	"github.com/splitsync/splitsync/internal/storage"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// clientMessage is the envelope for client-to-server requests.
type clientMessage struct {
	Type        string          `json:"type"`
	DocumentID  string          `json:"documentId,omitempty"`
	ClientID    string          `json:"clientId,omitempty"`
	OpType      models.OpType   `json:"opType,omitempty"`
	TargetID    string          `json:"targetId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	BaseVersion int64           `json:"baseVersion"`
}

// serverMessage is the envelope for server-to-client responses and errors.
// Change notifications use room.Notification directly.
type serverMessage struct {
	Type       string            `json:"type"`
	DocumentID string            `json:"documentId,omitempty"`
	Success    *bool             `json:"success,omitempty"`
	Operation  *models.Operation `json:"operation,omitempty"`
	Rejected   *collab.Rejection `json:"rejected,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// client is one websocket connection. All reads happen on readPump's
// goroutine and all writes on writePump's, with the send channel in between;
// the connection itself is never shared.
type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	h      *Handler
}

// Notify implements room.Subscriber. Delivery is best-effort: if the client
// cannot keep up the notification is dropped and the client catches up from
// its own stale version on the next pull.
func (c *client) Notify(n room.Notification) {
	b, err := json.Marshal(n)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

// enqueue queues a direct response. Unlike notifications, responses are not
// droppable: losing an acknowledgement would leave the caller waiting on an
// operation that already committed. A connection too backed up to take the
// response is closed instead, so the client reconnects and catches up.
func (c *client) enqueue(msg serverMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
		c.h.logger.Warn("client stalled, closing connection", "conn_id", c.id, "user_id", c.userID)
		c.conn.Close()
	}
}

func (c *client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.h.logger.Debug("websocket read error", "conn_id", c.id, "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.enqueue(serverMessage{Type: "error", Error: "invalid message format"})
			continue
		}

		switch msg.Type {
		case "join":
			c.handleJoin(ctx, msg)
		case "leave":
			c.h.rooms.Leave(msg.DocumentID, c.id)
			c.enqueue(serverMessage{Type: "left", DocumentID: msg.DocumentID})
		case "op":
			c.handleOp(ctx, msg)
		default:
			c.enqueue(serverMessage{Type: "error", Error: "unknown message type: " + msg.Type})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case b, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleJoin re-checks participant authorization with the same rule used for
// mutations; room membership is not itself an authorization grant.
func (c *client) handleJoin(ctx context.Context, msg clientMessage) {
	if msg.DocumentID == "" {
		c.enqueue(serverMessage{Type: "error", Error: "documentId required"})
		return
	}
	ok, err := c.h.store.IsParticipant(ctx, msg.DocumentID, c.userID)
	if err != nil {
		c.h.logger.Error("join authorization check failed", "document_id", msg.DocumentID, "error", err)
		c.enqueue(serverMessage{Type: "error", DocumentID: msg.DocumentID, Error: "internal error"})
		return
	}
	if !ok {
		c.enqueue(serverMessage{Type: "error", DocumentID: msg.DocumentID, Error: "not a participant"})
		return
	}
	c.h.rooms.Join(msg.DocumentID, c.id, c)
	c.enqueue(serverMessage{Type: "joined", DocumentID: msg.DocumentID})
}

// handleOp runs one live operation through the engine. The acknowledgement is
// enqueued on the sender's connection before the broadcast goes out, so a
// client can pipeline operation N+1 right after the ack for N without racing
// its own write.
func (c *client) handleOp(ctx context.Context, msg clientMessage) {
	ok, err := c.h.store.IsParticipant(ctx, msg.DocumentID, c.userID)
	if err != nil {
		c.enqueue(serverMessage{Type: "error", DocumentID: msg.DocumentID, Error: "internal error"})
		return
	}
	if !ok {
		c.enqueue(serverMessage{Type: "error", DocumentID: msg.DocumentID, Error: "not a participant"})
		return
	}

	clientID := msg.ClientID
	if clientID == "" {
		clientID = c.id
	}

	res, err := c.h.engine.Submit(ctx, collab.SubmitRequest{
		DocumentID:  msg.DocumentID,
		ClientID:    clientID,
		UserID:      c.userID,
		Type:        msg.OpType,
		TargetID:    msg.TargetID,
		Payload:     msg.Payload,
		BaseVersion: msg.BaseVersion,
	})
	if err != nil {
		switch {
		case errors.Is(err, collab.ErrValidation):
			c.enqueue(serverMessage{Type: "error", DocumentID: msg.DocumentID, Error: err.Error()})
		case errors.Is(err, storage.ErrNotFound):
			c.enqueue(serverMessage{Type: "error", DocumentID: msg.DocumentID, Error: "document not found"})
		default:
			c.h.logger.Error("operation failed", "document_id", msg.DocumentID, "error", err)
			c.enqueue(serverMessage{Type: "error", DocumentID: msg.DocumentID, Error: "internal error"})
		}
		return
	}

	success := res.Accepted()
	c.enqueue(serverMessage{
		Type:       "op_result",
		DocumentID: msg.DocumentID,
		Success:    &success,
		Operation:  res.Operation,
		Rejected:   res.Rejected,
	})

	if res.Accepted() {
		c.h.rooms.Broadcast(msg.DocumentID, room.Notification{
			Type:       room.NotificationType,
			DocumentID: msg.DocumentID,
			NewVersion: res.Operation.Version,
			UpdatedBy:  c.userID,
		}, c.id)
	}
}
