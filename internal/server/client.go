// Package server manages individual WebSocket sessions, handling read/write
// pumps, rate limiting, and the CONNECTING -> OPEN -> CLOSED lifecycle.
package server

import (
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
	closeWait      = time.Second
)

var (
	// ErrConnectionClosed is returned when sending to a closed session.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendTimeout is returned when a session's send queue stays full
	// for longer than the configured send timeout.
	ErrSendTimeout = errors.New("send timed out")
)

// SessionState is the lifecycle state of a Client.
type SessionState int32

// Session states.
const (
	StateConnecting SessionState = iota
	StateOpen
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Client is one WebSocket session bound to a user id. It implements Handle.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	done           chan struct{}
	closeOnce      sync.Once
	state          atomic.Int32
	dispatcher     *Dispatcher
	userID         string
	addr           string
	maxMessageSize int64
	sendTimeout    time.Duration
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient creates a session in the CONNECTING state. conn may be nil in
// tests that only exercise the send queue.
func NewClient(conn *websocket.Conn, dispatcher *Dispatcher, userID, addr string, cfg Config) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		done:           make(chan struct{}),
		dispatcher:     dispatcher,
		userID:         userID,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		sendTimeout:    cfg.SendTimeout,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
}

// UserID returns the identity this session is registered under.
func (c *Client) UserID() string {
	return c.userID
}

// State returns the current lifecycle state.
func (c *Client) State() SessionState {
	return SessionState(c.state.Load())
}

// GetSendChan returns the client's outgoing queue.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Send queues payload for the write pump, waiting at most the send timeout
// for room in the queue.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	timer := time.NewTimer(c.sendTimeout)
	defer timer.Stop()

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-timer.C:
		return ErrSendTimeout
	}
}

// Close stops the session. It is safe to call more than once and from any
// goroutine; the read pump notices the closed socket and finishes the
// session.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.writeCloseMessage()
			err = c.conn.Close()
		}
	})
	return err
}

// Run drives the session until the transport goes away. It registers the
// client, sends the welcome notice, starts the write pump and then blocks in
// the read pump.
func (c *Client) Run() {
	if err := c.dispatcher.Open(c.userID, c); err != nil {
		log.Printf("Error opening session for %s: %v", c.userID, err)
	}
	c.state.Store(int32(StateOpen))
	log.Printf("Session %s (%s) is %s", c.userID, c.addr, c.State())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readPump()
	<-writerDone

	c.state.Store(int32(StateClosed))
	c.dispatcher.Close(c.userID, c)
	log.Printf("Session %s (%s) is %s", c.userID, c.addr, c.State())
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// logReadError reports why the read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("Message from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		log.Printf("Client %s disconnected: %v", c.userID, err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Printf("Client %s connection closed: %v", c.userID, err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		log.Printf("Unexpected WebSocket error from %s: %v", c.userID, err)
	default:
		log.Printf("WebSocket read error from %s: %v", c.userID, err)
	}
}

// checkRateLimit reports whether the next frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		log.Printf("Rate limit exceeded for %s (%d messages per %s); discarding message", c.userID, c.rateLimit.Burst, c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// readPump is the session's only inbound suspension point. Malformed frames
// are logged and skipped; any transport error ends the session.
func (c *Client) readPump() {
	defer func() {
		if err := c.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing connection in readPump: %v", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		if err := c.dispatcher.Dispatch(c.userID, rawMessage); err != nil {
			log.Printf("Invalid message from %s: %v", c.userID, err)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message := <-c.send:
		return c.writeTextMessage(message)
	case <-ticker.C:
		return c.handlePing()
	case <-c.done:
		return false
	}
}

// closeConnection closes the session, which also unblocks the read pump.
func (c *Client) closeConnection() {
	if err := c.Close(); err != nil && !isExpectedCloseError(err) {
		log.Printf("Error closing connection in writePump: %v", err)
	}
}

// writeCloseMessage sends a close frame on a best-effort basis. WriteControl
// may run concurrently with the write pump.
func (c *Client) writeCloseMessage() {
	deadline := time.Now().Add(closeWait)
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	if err != nil && !isExpectedCloseError(err) {
		log.Printf("Error writing close message to %s: %v", c.userID, err)
	}
}

// writeTextMessage writes one event as one text frame.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Error setting write deadline for %s: %v", c.userID, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing message to %s: %v", c.userID, err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Error setting write deadline for ping to %s: %v", c.userID, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		log.Printf("Error writing ping message to %s: %v", c.userID, err)
		return false
	}
	return true
}
