// Package session tracks browser sessions and pushes attempt progress to their WebSockets.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Message types pushed to clients
const (
	TypeProgress = "progress"
	TypeWarning  = "warning"
	TypeDone     = "done"
	TypeError    = "error"
	TypeJoined   = "joined"
)

// Message - one WebSocket frame
type Message struct {
	Type      string `json:"type"`
	SessionId string `json:"sessionId"`
	AttemptId string `json:"attemptId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Client - one connected socket
type Client struct {
	conn      *websocket.Conn
	sessionId string
	clientId  string
	send      chan []byte
}

// Session - clients sharing a session id
type Session struct {
	id           string
	clients      map[string]*Client
	mutex        sync.RWMutex
	createdAt    time.Time
	lastActivity time.Time
}

// Metrics - server counters, served on /metrics
type Metrics struct {
	TotalSessions     int       `json:"totalSessions"`
	ActiveSessions    int       `json:"activeSessions"`
	TotalConnections  int       `json:"totalConnections"`
	TotalAttempts     int       `json:"totalAttempts"`
	SucceededAttempts int       `json:"succeededAttempts"`
	FailedAttempts    int       `json:"failedAttempts"`
	StartTime         time.Time `json:"startTime"`
}

// Manager - session registry and progress hub
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex

	metrics      Metrics
	metricsMutex sync.RWMutex

	onRemove []func(sessionId string)
	now      func() time.Time
	log      zerolog.Logger

	emptyThreshold    time.Duration
	inactiveThreshold time.Duration
	expiredThreshold  time.Duration
}

// NewManager - empty registry
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		sessions:          make(map[string]*Session),
		metrics:           Metrics{StartTime: time.Now()},
		now:               time.Now,
		log:               log,
		emptyThreshold:    30 * time.Minute,
		inactiveThreshold: 2 * time.Hour,
		expiredThreshold:  24 * time.Hour,
	}
}

// OnRemove - register a hook run after a session is cleaned up
func (sm *Manager) OnRemove(fn func(sessionId string)) {
	sm.mutex.Lock()
	sm.onRemove = append(sm.onRemove, fn)
	sm.mutex.Unlock()
}

// Touch - get or create the session and mark it active
func (sm *Manager) Touch(sessionId string) {
	sm.getOrCreateSession(sessionId)
}

// Exists - session is registered
func (sm *Manager) Exists(sessionId string) bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	_, ok := sm.sessions[sessionId]
	return ok
}

func (sm *Manager) getOrCreateSession(sessionId string) *Session {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	now := sm.now()
	session, exists := sm.sessions[sessionId]
	if !exists {
		session = &Session{
			id:           sessionId,
			clients:      make(map[string]*Client),
			createdAt:    now,
			lastActivity: now,
		}
		sm.sessions[sessionId] = session

		sm.metricsMutex.Lock()
		sm.metrics.TotalSessions++
		sm.metrics.ActiveSessions++
		total, active := sm.metrics.TotalSessions, sm.metrics.ActiveSessions
		sm.metricsMutex.Unlock()

		sm.log.Info().Msgf("✅ Created new session: %s (Total: %d, Active: %d)", sessionId, total, active)
	}

	session.mutex.Lock()
	session.lastActivity = now
	session.mutex.Unlock()
	return session
}

// Publish - send a message to every client of the session; no-op when nobody listens
func (sm *Manager) Publish(sessionId string, message Message) {
	sm.mutex.RLock()
	session, exists := sm.sessions[sessionId]
	sm.mutex.RUnlock()
	if !exists {
		return
	}

	message.SessionId = sessionId
	session.broadcastToAll(message, sm.log)
}

// Progress - callback publishing progress for one attempt
func (sm *Manager) Progress(sessionId, attemptId string) func(string) {
	return func(msg string) {
		sm.Publish(sessionId, Message{Type: TypeProgress, AttemptId: attemptId, Message: msg})
	}
}

// RecordAttempt - count a finished attempt
func (sm *Manager) RecordAttempt(succeeded bool) {
	sm.metricsMutex.Lock()
	defer sm.metricsMutex.Unlock()

	sm.metrics.TotalAttempts++
	if succeeded {
		sm.metrics.SucceededAttempts++
	} else {
		sm.metrics.FailedAttempts++
	}
}

// Metrics - snapshot of the counters
func (sm *Manager) Metrics() Metrics {
	sm.metricsMutex.RLock()
	defer sm.metricsMutex.RUnlock()
	return sm.metrics
}

func (s *Session) addClient(client *Client) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.clients[client.clientId] = client
	s.lastActivity = time.Now()
	return len(s.clients)
}

func (s *Session) removeClient(clientId string, log zerolog.Logger) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if client, exists := s.clients[clientId]; exists {
		close(client.send)
		delete(s.clients, clientId)
		s.lastActivity = time.Now()

		log.Info().Msgf("👋 Client %s left session %s (Remaining: %d)", clientId, s.id, len(s.clients))
	}
}

// broadcastToAll - slow clients with a full buffer are dropped
func (s *Session) broadcastToAll(message Message, log zerolog.Logger) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling message")
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	for clientId, client := range s.clients {
		select {
		case client.send <- messageBytes:
			log.Debug().Msgf("Sent message type '%s' to client %s", message.Type, clientId)
		default:
			close(client.send)
			delete(s.clients, clientId)
			log.Warn().Msgf("⚠️  Dropped slow client %s from session %s", clientId, s.id)
		}
	}
}

// cleanupSessions - drop idle empty sessions and anything past the hard expiry
func (sm *Manager) cleanupSessions() int {
	sm.mutex.Lock()

	now := sm.now()
	removed := make([]string, 0)
	for sessionId, session := range sm.sessions {
		session.mutex.Lock()
		idle := now.Sub(session.lastActivity)
		isEmpty := len(session.clients) == 0
		isExpired := now.Sub(session.createdAt) > sm.expiredThreshold
		isInactive := isEmpty && idle > sm.inactiveThreshold
		isIdleEmpty := isEmpty && idle > sm.emptyThreshold

		if isExpired || isInactive || isIdleEmpty {
			for clientId, client := range session.clients {
				close(client.send)
				sm.log.Info().Msgf("🔌 Disconnecting client %s from expired session %s", clientId, sessionId)
			}
			session.clients = map[string]*Client{}
			session.mutex.Unlock()

			delete(sm.sessions, sessionId)
			removed = append(removed, sessionId)

			reason := "expired"
			if !isExpired {
				reason = "inactive"
			}
			sm.log.Info().Msgf("⏰ Cleaned up %s session: %s (Age: %v, Inactive: %v)",
				reason, sessionId, now.Sub(session.createdAt), idle)
			continue
		}
		session.mutex.Unlock()
	}
	hooks := append([]func(string){}, sm.onRemove...)
	sm.mutex.Unlock()

	if len(removed) > 0 {
		sm.metricsMutex.Lock()
		sm.metrics.ActiveSessions -= len(removed)
		active := sm.metrics.ActiveSessions
		sm.metricsMutex.Unlock()

		sm.log.Info().Msgf("🧼 Cleaned up %d sessions (Active: %d)", len(removed), active)
	}

	for _, sessionId := range removed {
		for _, hook := range hooks {
			hook(sessionId)
		}
	}
	return len(removed)
}

// StartCleanupRoutine - periodic cleanup until ctx is done
func (sm *Manager) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sm.cleanupSessions()
			}
		}
	}()

	sm.log.Info().Msgf("🔄 Started session cleanup routine (every %v)", interval)
}
