package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Connection lifecycle states. A connection that fails the handshake goes
// straight from connecting to closed without ever being authenticated.
type connState int

const (
	stateConnecting connState = iota
	stateAuthenticated
	stateClosed
)

// Client is one live websocket connection. After a successful handshake it
// carries exactly one authenticated user identity for its whole lifetime;
// the identity and state fields are only written by the connection's own
// handling goroutines.
type Client struct {
	id     string
	userID string
	state  connState
	conn   *websocket.Conn
	server *Server
	send   chan []byte
	once   sync.Once
}

func newClient(id string, conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:     id,
		state:  stateConnecting,
		conn:   conn,
		server: server,
		send:   make(chan []byte, 64),
	}
}

// enqueue hands a frame to the write pump without blocking the caller.
// A full buffer means the peer is not draining its socket: the connection
// is treated as dead and closed rather than silently losing the frame, so
// a healthy connection can never miss an ack for a persisted message.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"conn": c.id,
			"user": c.userID,
		}).Warn("Send buffer full, closing connection")
		c.forceClose(websocket.CloseTryAgainLater, "send buffer full")
		return false
	}
}

func (c *Client) sendEvent(event string, data interface{}) {
	frame, err := marshalEvent(event, data)
	if err != nil {
		logrus.WithFields(logrus.Fields{"conn": c.id, "event": event}).
			WithError(err).Error("Failed to marshal event")
		return
	}
	c.enqueue(frame)
}

// forceClose writes a close frame with the given reason and tears the
// connection down. Safe to call from any goroutine and more than once.
func (c *Client) forceClose(code int, reason string) {
	c.once.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(c.server.config.WriteTimeout)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			logrus.WithFields(logrus.Fields{"conn": c.id}).
				WithError(err).Debug("Failed to write close frame")
		}
		c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.server.dropClient(c)
		c.forceClose(websocket.CloseNormalClosure, "")
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(c.server.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.server.config.ReadTimeout))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				logrus.WithFields(logrus.Fields{
					"conn": c.id,
					"user": c.userID,
				}).WithError(err).Warn("Websocket read error")
			}
			return
		}

		c.handleFrame(frame)
	}
}

// handleFrame dispatches one inbound envelope. Every private_message gets
// an ack; malformed frames and unknown events are nacked without touching
// the connection.
func (c *Client) handleFrame(frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		logrus.WithFields(logrus.Fields{"conn": c.id, "user": c.userID}).
			WithError(err).Warn("Dropping malformed frame")
		c.sendEvent(EventAck, nack(ErrCodeInvalidPayload))
		return
	}

	switch env.Event {
	case EventPrivateMessage:
		// Authentication happens before the pumps start, so an
		// unauthenticated relay event should be impossible. Reject it
		// anyway.
		if c.state != stateAuthenticated || c.userID == "" {
			c.sendEvent(EventAck, nack(ErrCodeInvalidPayload))
			return
		}

		var pm PrivateMessage
		if err := json.Unmarshal(env.Data, &pm); err != nil {
			c.sendEvent(EventAck, nack(ErrCodeInvalidPayload))
			return
		}
		c.sendEvent(EventAck, c.server.relay(c.userID, &pm))

	default:
		logrus.WithFields(logrus.Fields{"conn": c.id, "event": env.Event}).
			Debug("Unknown event")
		c.sendEvent(EventAck, nack(ErrCodeUnknownEvent))
	}
}

func (c *Client) writePump() {
	pingInterval := c.server.config.ReadTimeout * 9 / 10
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logrus.WithFields(logrus.Fields{"conn": c.id, "user": c.userID}).
					WithError(err).Debug("Websocket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
