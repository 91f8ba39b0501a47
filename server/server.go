// Package server holds the live side of the relay: websocket handshake
// authentication, the per-connection pumps, presence registration with
// eviction on reconnect, and the private-message relay pipeline.
package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"whisper/models"
	"whisper/presence"
	"whisper/token"
)

const maxFrameSize = 64 * 1024

// Store is the durable-store collaborator the relay needs. Satisfied by
// *store.DB.
type Store interface {
	FindUserByID(id string) (*models.User, error)
	AddContact(owner, contact string) error
	CreateMessage(sender, recipient, body string) (*models.Message, error)
}

// Verifier checks a handshake credential. Satisfied by *token.Issuer.
type Verifier interface {
	Verify(raw string) (*token.Claims, error)
}

type Config struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	store    Store
	verifier Verifier
	presence *presence.Registry
	config   *Config
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*Client // connection id -> client
}

func New(store Store, verifier Verifier, registry *presence.Registry, config *Config) *Server {
	return &Server{
		store:    store,
		verifier: verifier,
		presence: registry,
		config:   config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*Client),
	}
}

// handshakeToken pulls the bearer credential from the upgrade request. The
// token query parameter is the primary channel; an Authorization header is
// accepted as a fallback.
func handshakeToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// HandleWS upgrades the connection and runs the handshake authentication.
// Verification runs exactly once, before any relay event is accepted; a
// failed handshake closes the socket with a reason and the connection
// never reaches the authenticated state.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := newClient(uuid.NewString(), conn, s)

	claims, err := s.verifier.Verify(handshakeToken(r))
	if err != nil {
		reason := "authentication error: invalid token"
		if err == token.ErrNoToken {
			reason = "authentication error: no token provided"
		}
		logrus.WithFields(logrus.Fields{
			"conn":   client.id,
			"remote": r.RemoteAddr,
		}).WithError(err).Warn("Handshake rejected")
		client.state = stateClosed
		client.forceClose(websocket.ClosePolicyViolation, reason)
		return
	}

	client.userID = claims.UserID
	client.state = stateAuthenticated
	s.admit(client)
}

// admit registers the authenticated connection and starts its pumps.
// Registration happens before the old connection is evicted, so the
// registry never has a gap for this user while an old socket is still
// open.
func (s *Server) admit(client *Client) {
	s.mu.Lock()
	s.conns[client.id] = client
	s.mu.Unlock()

	prevID, had := s.presence.Register(client.userID, client.id)

	logrus.WithFields(logrus.Fields{
		"conn":   client.id,
		"user":   client.userID,
		"online": s.presence.Count(),
	}).Info("Client connected")

	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.WithField("users", s.presence.Snapshot()).Debug("Online users")
	}

	if had && prevID != client.id {
		if old := s.clientByID(prevID); old != nil {
			logrus.WithFields(logrus.Fields{
				"user":     client.userID,
				"old_conn": prevID,
				"new_conn": client.id,
			}).Info("User reconnected, evicting old connection")
			old.forceClose(websocket.ClosePolicyViolation, "superseded by a new connection")
		}
	}

	go client.writePump()
	go client.readPump()
}

func (s *Server) clientByID(connID string) *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[connID]
}

// dropClient runs once per connection when its read pump exits. The
// presence unregister is pointer-matched, so a connection that was already
// superseded by a reconnect leaves the newer registration alone.
func (s *Server) dropClient(c *Client) {
	s.mu.Lock()
	_, tracked := s.conns[c.id]
	delete(s.conns, c.id)
	s.mu.Unlock()
	if !tracked {
		return
	}

	c.state = stateClosed
	close(c.send)

	if c.userID != "" {
		removed := s.presence.Unregister(c.userID, c.id)
		logrus.WithFields(logrus.Fields{
			"conn":       c.id,
			"user":       c.userID,
			"deregister": removed,
			"online":     s.presence.Count(),
		}).Info("Client disconnected")
	}
}

// deliver forwards a persisted message to the recipient's registered
// connection. Delivery is best effort; persistence already happened. The
// lock is held across the enqueue so a concurrent dropClient cannot close
// the send channel mid-send.
func (s *Server) deliver(connID string, msg *models.Message) {
	frame, err := marshalEvent(EventReceiveMessage, IncomingMessage{
		SenderUserID: msg.Sender,
		MessageID:    msg.ID,
		Message:      msg.Body,
		CreatedAt:    msg.CreatedAt,
	})
	if err != nil {
		logrus.WithField("message", msg.ID).WithError(err).Error("Failed to marshal delivery")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.conns[connID]
	if !ok {
		return
	}
	client.enqueue(frame)
}

// Shutdown force-closes every live connection with a going-away frame.
func (s *Server) Shutdown() {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.conns))
	for _, c := range s.conns {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		c.forceClose(websocket.CloseGoingAway, "server shutting down")
	}
	logrus.WithField("count", len(clients)).Info("Closed client connections")
}
