package session

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// the scene API is CORS-open as well
		return true
	},
}

// RegisterRoutes - WebSocket, session info, metrics and admin cleanup
func (sm *Manager) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", sm.HandleWebSocket)
	r.HandleFunc("/session/{sessionId}", sm.handleSessionInfo).Methods("GET")
	r.HandleFunc("/metrics", sm.handleMetrics).Methods("GET")
	r.HandleFunc("/admin/cleanup", sm.handleForceCleanup).Methods("POST")
}

// HandleWebSocket - GET /ws?session=<id>[&client=<id>]
func (sm *Manager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionId := r.URL.Query().Get("session")
	if sessionId == "" {
		http.Error(w, "missing session parameter", http.StatusBadRequest)
		return
	}
	clientId := r.URL.Query().Get("client")
	if clientId == "" {
		clientId = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sm.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{
		conn:      conn,
		sessionId: sessionId,
		clientId:  clientId,
		send:      make(chan []byte, 64),
	}

	session := sm.getOrCreateSession(sessionId)
	clientCount := session.addClient(client)

	sm.metricsMutex.Lock()
	sm.metrics.TotalConnections++
	totalConnections := sm.metrics.TotalConnections
	sm.metricsMutex.Unlock()

	sm.log.Info().Msgf("👤 Client %s joined session %s (Clients: %d, Total Connections: %d)",
		clientId, sessionId, clientCount, totalConnections)

	go client.writePump()
	go client.readPump(sm, session)

	session.broadcastToAll(Message{Type: TypeJoined, SessionId: sessionId}, sm.log)
}

// readPump - clients only listen; reads keep the pong deadline and detect close
func (c *Client) readPump(sm *Manager, session *Session) {
	defer func() {
		session.removeClient(c.clientId, sm.log)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				sm.log.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func (sm *Manager) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["sessionId"]

	sm.mutex.RLock()
	session, exists := sm.sessions[sessionId]
	sm.mutex.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "Session not found"})
		return
	}

	json.NewEncoder(w).Encode(session.info())
}

func (s *Session) info() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return map[string]interface{}{
		"sessionId":    s.id,
		"clientCount":  len(s.clients),
		"createdAt":    s.createdAt,
		"lastActivity": s.lastActivity,
		"age":          time.Since(s.createdAt).String(),
		"inactive":     time.Since(s.lastActivity).String(),
	}
}

func (sm *Manager) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := sm.Metrics()

	sm.mutex.RLock()
	sessionDetails := make([]map[string]interface{}, 0, len(sm.sessions))
	totalClients := 0
	for _, session := range sm.sessions {
		info := session.info()
		totalClients += info["clientCount"].(int)
		sessionDetails = append(sessionDetails, info)
	}
	sm.mutex.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"server": map[string]interface{}{
			"uptime":            time.Since(metrics.StartTime).String(),
			"startTime":         metrics.StartTime,
			"totalSessions":     metrics.TotalSessions,
			"activeSessions":    metrics.ActiveSessions,
			"totalConnections":  metrics.TotalConnections,
			"currentClients":    totalClients,
			"totalAttempts":     metrics.TotalAttempts,
			"succeededAttempts": metrics.SucceededAttempts,
			"failedAttempts":    metrics.FailedAttempts,
		},
		"sessions": sessionDetails,
	})
}

func (sm *Manager) handleForceCleanup(w http.ResponseWriter, r *http.Request) {
	cleaned := sm.cleanupSessions()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "Cleanup completed",
		"cleaned": cleaned,
	})
}
