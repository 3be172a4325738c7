package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"chat-fanout/internal/middleware"
	"chat-fanout/internal/types"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 10 * time.Second
)

var (
	ErrPeerClosed     = errors.New("peer closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Client is the session of one WebSocket connection. It owns a read pump
// that classifies and dispatches inbound frames and a write pump that drains
// the outbound queue.
type Client struct {
	id       string
	userID   int64
	conn     *websocket.Conn
	hub      *Hub
	classify func([]byte) Event
	limiter  *middleware.RateLimiter
	log      *zap.Logger

	readLimit int64
	send      chan []byte
	mu        sync.Mutex
	closed    bool
	state     atomic.Int32

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	endOnce   sync.Once
}

func newClient(conn *websocket.Conn, hub *Hub, classify func([]byte) Event, opts SessionOptions, userID int64, log *zap.Logger) *Client {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:        id,
		userID:    userID,
		conn:      conn,
		hub:       hub,
		classify:  classify,
		limiter:   middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		log:       log.With(zap.String("peer", id), zap.Int64("user", userID)),
		readLimit: opts.ReadLimit,
		send:      make(chan []byte, opts.SendBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) State() State { return State(c.state.Load()) }

// Send queues payload without blocking. A full queue counts as a failed
// send so a slow reader cannot stall fan-out to everyone else.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrPeerClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops accepting frames and lets the write pump send a close frame.
// It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		c.state.Store(int32(StateClosed))
		c.cancel()
	})
	return nil
}

// open admits the client and starts both pumps.
func (c *Client) open() {
	c.hub.registry.Admit(c)
	c.state.Store(int32(StateOpen))
	c.log.Info("session opened", zap.Int("active", c.hub.registry.Len()))

	go c.writePump()
	go c.readPump()
}

// end runs once per session no matter which side failed first.
func (c *Client) end() {
	c.endOnce.Do(func() {
		c.hub.registry.Remove(c)
		_ = c.Close()
		c.log.Info("session closed", zap.Int("active", c.hub.registry.Len()))
	})
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
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer c.end()

	c.conn.SetReadLimit(c.readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Info("unexpected close", zap.Error(err))
			}
			return
		}

		if !c.limiter.Allow() {
			if c.limiter.ShouldWarn() {
				_ = c.Send(types.NewErrorFrame(types.CodeRateLimited, "", "rate limit exceeded, frame dropped"))
			}
			continue
		}

		c.hub.Dispatch(c.ctx, c, c.classify(frame))
	}
}
