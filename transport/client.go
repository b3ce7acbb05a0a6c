package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dashsync/common"
)

// Client is one WebSocket connection scoped to a (dashboard, user) pair.
type Client struct {
	conn        *websocket.Conn
	dashboardID string
	userID      string
	gateway     *Gateway
	logger      *zap.Logger
	sendMutex   sync.Mutex
	closeMutex  sync.Mutex
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
}

func newClient(conn *websocket.Conn, dashboardID, userID string, gateway *Gateway, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:        conn,
		dashboardID: dashboardID,
		userID:      userID,
		gateway:     gateway,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// receiveLoop reads wire frames until the connection drops or the client
// is closed.
func (c *Client) receiveLoop() {
	defer c.gateway.disconnect(c)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, msgBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error",
					zap.String("dashboard_id", c.dashboardID),
					zap.String("user_id", c.userID),
					zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			c.logger.Warn("failed to parse websocket message",
				zap.String("dashboard_id", c.dashboardID),
				zap.String("user_id", c.userID),
				zap.Error(err))
			c.sendError("malformed message")
			continue
		}

		if err := c.handleMessage(&msg); err != nil {
			c.logger.Warn("failed to handle websocket message",
				zap.String("dashboard_id", c.dashboardID),
				zap.String("user_id", c.userID),
				zap.String("message_type", msg.Type),
				zap.Error(err))
			c.sendError(err.Error())
		}
	}
}

func (c *Client) handleMessage(msg *Message) error {
	switch msg.Type {
	case MessageTypeOperation:
		return c.handleOperation(msg)
	case MessageTypeSyncRequest:
		return c.handleSyncRequest(msg)
	case MessageTypeCursorUpdate:
		return c.handleCursorUpdate(msg)
	case MessageTypeActivityUpdate:
		return c.handleActivityUpdate(msg)
	case MessageTypeLeave:
		c.gateway.disconnect(c)
		return nil
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (c *Client) handleOperation(msg *Message) error {
	if msg.Operation == nil {
		return common.ErrInvalidOperation{Message: "operation message without operation body"}
	}
	op := msg.Operation
	// The connection scope is authoritative for identity, whatever the
	// frame claims.
	op.DashboardID = c.dashboardID
	op.UserID = c.userID

	result, err := c.gateway.engine.SubmitOperation(c.ctx, op)
	if err != nil {
		return err
	}
	return c.send(&Message{
		Type:         MessageTypeSubmitResult,
		DashboardID:  c.dashboardID,
		SubmitResult: result,
	})
}

func (c *Client) handleSyncRequest(msg *Message) error {
	result, err := c.gateway.engine.SyncUserState(c.dashboardID, c.userID, msg.FromVersion)
	if err != nil {
		return err
	}
	// Sync replies are targeted at the requesting client only.
	return c.send(&Message{
		Type:        MessageTypeSyncResponse,
		DashboardID: c.dashboardID,
		SyncResult:  result,
	})
}

func (c *Client) handleCursorUpdate(msg *Message) error {
	if msg.Cursor == nil {
		return common.ErrInvalidOperation{Message: "cursor_update message without cursor"}
	}
	result, err := c.gateway.tracker.UpdateCursorPosition(c.ctx, c.dashboardID, c.userID, *msg.Cursor)
	if err != nil {
		return err
	}
	return c.send(&Message{
		Type:         MessageTypeCursorResult,
		DashboardID:  c.dashboardID,
		CursorResult: result,
	})
}

func (c *Client) handleActivityUpdate(msg *Message) error {
	result, err := c.gateway.tracker.UpdateUserActivity(c.ctx, c.dashboardID, c.userID, msg.Action, msg.ElementID)
	if err != nil {
		return err
	}
	return c.send(&Message{
		Type:        MessageTypeActivity,
		DashboardID: c.dashboardID,
		Activity:    result,
	})
}

// send writes one frame. Writes are serialized; gorilla connections do not
// allow concurrent writers.
func (c *Client) send(msg *Message) error {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	if c.isClosed() {
		return fmt.Errorf("client is closed")
	}
	return c.conn.WriteJSON(msg)
}

func (c *Client) sendError(message string) {
	if err := c.send(&Message{Type: MessageTypeError, Error: message}); err != nil {
		c.logger.Debug("failed to send error frame",
			zap.String("user_id", c.userID),
			zap.Error(err))
	}
}

func (c *Client) isClosed() bool {
	c.closeMutex.Lock()
	defer c.closeMutex.Unlock()
	return c.closed
}

// close tears the connection down once.
func (c *Client) close() {
	c.closeMutex.Lock()
	if c.closed {
		c.closeMutex.Unlock()
		return
	}
	c.closed = true
	c.closeMutex.Unlock()

	c.cancel()
	if err := c.conn.Close(); err != nil {
		c.logger.Debug("failed to close websocket connection",
			zap.String("user_id", c.userID),
			zap.Error(err))
	}
}
