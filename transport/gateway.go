package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dashsync/common"
	"dashsync/presence"
	"dashsync/pubsub"
	"dashsync/syncengine"
)

// Gateway terminates WebSocket connections and routes their messages onto
// the engine and tracker. Cross-instance fan-out rides the pubsub
// boundary: the gateway subscribes to each dashboard's topic while it has
// local clients and forwards received envelopes to them.
type Gateway struct {
	// engine is the synchronization engine.
	engine *syncengine.Engine
	// tracker is the presence tracker.
	tracker *presence.Tracker
	// bus is the notification fabric shared with the core components.
	bus pubsub.PubSub
	// logger logs connection lifecycle and delivery failures.
	logger *zap.Logger
	// upgrader upgrades HTTP requests to WebSocket connections.
	upgrader websocket.Upgrader
	// instanceID identifies this gateway's pubsub subscriptions.
	instanceID string
	// clients maps dashboardID to userID to connection.
	clients map[string]map[string]*Client
	// mutex protects the clients map.
	mutex sync.RWMutex
	// ctx scopes the gateway's pubsub subscriptions.
	ctx context.Context
}

// NewGateway creates a gateway. ctx scopes the gateway's subscriptions;
// cancel it to detach from the bus.
func NewGateway(ctx context.Context, engine *syncengine.Engine, tracker *presence.Tracker, bus pubsub.PubSub, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		engine:  engine,
		tracker: tracker,
		bus:     bus,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		instanceID: uuid.NewString(),
		clients:    make(map[string]map[string]*Client),
		ctx:        ctx,
	}
}

// Router returns the HTTP routes the gateway serves.
func (g *Gateway) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws/dashboards/{dashboardID}", g.handleWS)
	r.HandleFunc("/dashboards/{dashboardID}/state", g.handleState).Methods(http.MethodGet)
	r.HandleFunc("/dashboards/{dashboardID}/presence", g.handlePresence).Methods(http.MethodGet)
	r.HandleFunc("/dashboards/{dashboardID}/stats", g.handleStats).Methods(http.MethodGet)
	return r
}

// handleWS upgrades the connection and joins the user into both
// components before entering the receive loop.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	dashboardID := mux.Vars(r)["dashboardID"]
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("displayName")
	avatarURL := r.URL.Query().Get("avatarUrl")
	if userID == "" {
		http.Error(w, "userId query parameter is required", http.StatusBadRequest)
		return
	}
	if displayName == "" {
		displayName = userID
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed",
			zap.String("dashboard_id", dashboardID),
			zap.Error(err))
		return
	}

	client := newClient(conn, dashboardID, userID, g, g.logger)

	syncJoin, err := g.engine.JoinSession(r.Context(), dashboardID, userID)
	if err != nil {
		g.logger.Error("failed to join sync session",
			zap.String("dashboard_id", dashboardID),
			zap.String("user_id", userID),
			zap.Error(err))
		client.close()
		return
	}
	presenceJoin, err := g.tracker.JoinSession(r.Context(), dashboardID, userID, displayName, avatarURL)
	if err != nil {
		g.logger.Error("failed to join presence session",
			zap.String("dashboard_id", dashboardID),
			zap.String("user_id", userID),
			zap.Error(err))
		g.rollbackSyncJoin(r.Context(), dashboardID, userID)
		client.close()
		return
	}

	g.register(client)

	if err := client.send(&Message{
		Type:        MessageTypeJoined,
		DashboardID: dashboardID,
		UserID:      userID,
		Join:        &joinedPayload{Sync: syncJoin, Presence: presenceJoin},
	}); err != nil {
		g.logger.Warn("failed to send join message",
			zap.String("dashboard_id", dashboardID),
			zap.String("user_id", userID),
			zap.Error(err))
		g.disconnect(client)
		return
	}

	g.logger.Info("client connected",
		zap.String("dashboard_id", dashboardID),
		zap.String("user_id", userID))

	go client.receiveLoop()
}

// rollbackSyncJoin removes the user from the sync session roster after a
// failed presence join, so a half-joined user is not left behind.
func (g *Gateway) rollbackSyncJoin(ctx context.Context, dashboardID, userID string) {
	if _, err := g.engine.LeaveSession(ctx, dashboardID, userID); err != nil && !common.IsSessionNotFound(err) {
		g.logger.Warn("failed to roll back sync join",
			zap.String("dashboard_id", dashboardID),
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// register adds the client to the local registry and attaches the gateway
// to the dashboard's topic on the first client.
func (g *Gateway) register(c *Client) {
	topic := pubsub.DashboardTopic(c.dashboardID)

	g.mutex.Lock()
	byUser, ok := g.clients[c.dashboardID]
	if !ok {
		byUser = make(map[string]*Client)
		g.clients[c.dashboardID] = byUser
	}
	if prev, ok := byUser[c.userID]; ok && prev != c {
		// A reconnect replaces the previous connection.
		prev.close()
	}
	byUser[c.userID] = c
	first := len(byUser) == 1 && !ok
	g.mutex.Unlock()

	if first && g.bus != nil {
		if err := g.bus.Subscribe(g.ctx, topic, g.instanceID, g.handleEnvelope); err != nil {
			g.logger.Warn("failed to subscribe to dashboard topic",
				zap.String("topic", topic),
				zap.Error(err))
		}
	}
}

// disconnect tears a client down: leaves both sessions, removes it from
// the registry and detaches from the topic when no local client remains.
func (g *Gateway) disconnect(c *Client) {
	topic := pubsub.DashboardTopic(c.dashboardID)

	g.mutex.Lock()
	byUser, ok := g.clients[c.dashboardID]
	removed := false
	if ok && byUser[c.userID] == c {
		delete(byUser, c.userID)
		removed = true
		if len(byUser) == 0 {
			delete(g.clients, c.dashboardID)
		}
	}
	last := removed && len(byUser) == 0
	g.mutex.Unlock()

	c.close()
	if !removed {
		return
	}

	if _, err := g.engine.LeaveSession(context.Background(), c.dashboardID, c.userID); err != nil && !common.IsSessionNotFound(err) {
		g.logger.Warn("failed to leave sync session",
			zap.String("dashboard_id", c.dashboardID),
			zap.String("user_id", c.userID),
			zap.Error(err))
	}
	if _, err := g.tracker.LeaveSession(context.Background(), c.dashboardID, c.userID); err != nil && !common.IsSessionNotFound(err) {
		g.logger.Warn("failed to leave presence session",
			zap.String("dashboard_id", c.dashboardID),
			zap.String("user_id", c.userID),
			zap.Error(err))
	}

	if last && g.bus != nil {
		if err := g.bus.Unsubscribe(g.ctx, topic, g.instanceID); err != nil {
			g.logger.Debug("failed to unsubscribe from dashboard topic",
				zap.String("topic", topic),
				zap.Error(err))
		}
	}

	g.logger.Info("client disconnected",
		zap.String("dashboard_id", c.dashboardID),
		zap.String("user_id", c.userID))
}

// handleEnvelope forwards a bus notification to every local client of the
// dashboard except the author.
func (g *Gateway) handleEnvelope(ctx context.Context, topic string, env *pubsub.Envelope) error {
	g.mutex.RLock()
	byUser := g.clients[env.DashboardID]
	targets := make([]*Client, 0, len(byUser))
	for userID, client := range byUser {
		if userID == env.OriginUserID {
			continue
		}
		targets = append(targets, client)
	}
	g.mutex.RUnlock()

	msg := &Message{
		Type:        string(env.Type),
		DashboardID: env.DashboardID,
		UserID:      env.OriginUserID,
		Payload:     env.Payload,
	}
	for _, client := range targets {
		if err := client.send(msg); err != nil {
			g.logger.Debug("failed to forward envelope",
				zap.String("dashboard_id", env.DashboardID),
				zap.String("user_id", client.userID),
				zap.Error(err))
		}
	}
	return nil
}

func (g *Gateway) handleState(w http.ResponseWriter, r *http.Request) {
	snapshot, err := g.engine.GetSessionState(mux.Vars(r)["dashboardID"])
	g.writeJSON(w, snapshot, err)
}

func (g *Gateway) handlePresence(w http.ResponseWriter, r *http.Request) {
	snapshot, err := g.tracker.GetSessionPresence(mux.Vars(r)["dashboardID"])
	g.writeJSON(w, snapshot, err)
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := g.tracker.GetSessionStatistics(mux.Vars(r)["dashboardID"])
	g.writeJSON(w, stats, err)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, body any, err error) {
	if err != nil {
		if common.IsSessionNotFound(err) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Debug("failed to encode response", zap.Error(err))
	}
}

// ClientCount returns the number of locally connected clients.
func (g *Gateway) ClientCount() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	count := 0
	for _, byUser := range g.clients {
		count += len(byUser)
	}
	return count
}
