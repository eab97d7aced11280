package signal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/OjDrez/tander-app-sub004/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "signal")

const (
	methodAuth         = "AUTH"
	methodAuthResponse = "AUTH_RESPONSE"
	methodTransmit     = "TRANSMIT"
	methodResponse     = "RESPONSE"
)

// envelope is the generic WebSocket message envelope.
type envelope struct {
	Method      string             `json:"method"`
	Code        *int               `json:"code,omitempty"`
	Message     string             `json:"message,omitempty"`
	AccessToken string             `json:"accessToken,omitempty"`
	ClientID    string             `json:"clientId,omitempty"`
	TraceID     string             `json:"traceId,omitempty"`
	Kind        domain.MessageKind `json:"kind,omitempty"`
	RoomID      string             `json:"roomId,omitempty"`
	SenderID    string             `json:"senderId,omitempty"`
	TargetID    string             `json:"targetId,omitempty"`
	Timestamp   int64              `json:"timestamp,omitempty"`
	Payload     json.RawMessage    `json:"payload,omitempty"`
}

// Options configures a Client.
type Options struct {
	URL          string
	SelfID       string
	Token        string
	PingInterval time.Duration
	Header       http.Header

	// RedialInterval spaces reconnect attempts after the connection drops.
	// Negative disables reconnecting.
	RedialInterval time.Duration
}

// Client manages the WebSocket connection to the signaling server. Handlers
// run on the read goroutine and must not block.
type Client struct {
	opts   Options
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	connID uint64
	closed chan struct{}

	subsMu sync.RWMutex
	subs   map[domain.MessageKind]map[uint64]func(domain.Message)
	nextID uint64
}

// NewClient creates a new signaling client.
func NewClient(opts Options) *Client {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 20 * time.Second
	}
	if opts.RedialInterval == 0 {
		opts.RedialInterval = 2 * time.Second
	}
	return &Client{
		opts:   opts,
		dialer: websocket.DefaultDialer,
		closed: make(chan struct{}),
		subs:   make(map[domain.MessageKind]map[uint64]func(domain.Message)),
	}
}

// SelfID returns the identifier stamped on outgoing messages.
func (c *Client) SelfID() string { return c.opts.SelfID }

// Connect dials the signaling WebSocket if it is not connected and starts
// the read and ping loops.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return fmt.Errorf("connect: %w: client closed", domain.ErrSignalingDelivery)
	default:
	}
	if c.conn != nil {
		return nil
	}

	log.Infof("connecting to %s", c.opts.URL)
	conn, _, err := c.dialer.Dial(c.opts.URL, c.opts.Header)
	if err != nil {
		return fmt.Errorf("websocket dial: %w: %v", domain.ErrSignalingDelivery, err)
	}
	c.conn = conn
	c.connID++
	id := c.connID

	if err := c.writeLocked(envelope{
		Method:      methodAuth,
		ClientID:    c.opts.SelfID,
		AccessToken: c.opts.Token,
		TraceID:     uuid.NewString(),
	}); err != nil {
		c.dropLocked(id)
		return err
	}

	go c.readLoop(conn, id)
	go c.pingLoop(conn, id)
	return nil
}

// Close shuts down the WebSocket connection. Subscriptions are kept so a
// caller holding unsubscribe funcs can still call them.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return
	default:
		close(c.closed)
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Send transmits msg. It fails with ErrSignalingDelivery when the channel is
// not connected; there is no delivery acknowledgement.
func (c *Client) Send(msg domain.Message) error {
	if msg.Payload == nil {
		return fmt.Errorf("send: empty payload")
	}
	body, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Kind(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("send %s: %w: not connected", msg.Kind(), domain.ErrSignalingDelivery)
	}
	return c.writeLocked(envelope{
		Method:    methodTransmit,
		Kind:      msg.Kind(),
		RoomID:    msg.RoomID,
		SenderID:  c.opts.SelfID,
		TargetID:  msg.TargetID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   body,
	})
}

// Subscribe registers handler for messages of kind. Messages sent by this
// client are never delivered back to it.
func (c *Client) Subscribe(kind domain.MessageKind, handler func(domain.Message)) func() {
	c.subsMu.Lock()
	c.nextID++
	id := c.nextID
	if c.subs[kind] == nil {
		c.subs[kind] = make(map[uint64]func(domain.Message))
	}
	c.subs[kind][id] = handler
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs[kind], id)
			c.subsMu.Unlock()
		})
	}
}

func (c *Client) writeLocked(env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	log.Debugf(">>> %s", string(data))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.dropLocked(c.connID)
		return fmt.Errorf("write: %w: %v", domain.ErrSignalingDelivery, err)
	}
	return nil
}

// dropLocked forgets connection id so the next Connect dials again.
func (c *Client) dropLocked(id uint64) {
	if c.conn != nil && c.connID == id {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) drop(id uint64) {
	c.mu.Lock()
	c.dropLocked(id)
	c.mu.Unlock()
}

func (c *Client) readLoop(conn *websocket.Conn, id uint64) {
	defer c.drop(id)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				log.Warnf("read error: %v", err)
				if c.opts.RedialInterval > 0 {
					go c.redial()
				}
			}
			return
		}

		log.Debugf("<<< %s", string(data))

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warnf("unmarshal error: %v", err)
			continue
		}
		c.dispatch(env)
	}
}

// redial reconnects until it succeeds or the client is closed, so incoming
// calls keep arriving while the session is idle.
func (c *Client) redial() {
	ticker := time.NewTicker(c.opts.RedialInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
		}
		if err := c.Connect(); err != nil {
			log.Warnf("reconnect: %v", err)
			continue
		}
		log.Infof("reconnected")
		return
	}
}

func (c *Client) dispatch(env envelope) {
	switch env.Method {
	case methodAuthResponse:
		if env.Code != nil && *env.Code == 0 {
			log.Infof("auth successful")
		} else {
			code := -1
			if env.Code != nil {
				code = *env.Code
			}
			log.Errorf("auth failed: code=%d msg=%s", code, env.Message)
		}

	case methodTransmit:
		if env.SenderID != "" && env.SenderID == c.opts.SelfID {
			return
		}
		payload, err := domain.DecodePayload(env.Kind, env.Payload)
		if err != nil {
			log.Warnf("drop message: %v", err)
			return
		}
		msg := domain.Message{
			RoomID:   env.RoomID,
			SenderID: env.SenderID,
			TargetID: env.TargetID,
			SentAt:   time.UnixMilli(env.Timestamp),
			Payload:  payload,
		}

		c.subsMu.RLock()
		handlers := make([]func(domain.Message), 0, len(c.subs[env.Kind]))
		for _, h := range c.subs[env.Kind] {
			handlers = append(handlers, h)
		}
		c.subsMu.RUnlock()

		if len(handlers) == 0 {
			log.Debugf("no subscriber for %s", env.Kind)
		}
		for _, h := range handlers {
			h(msg)
		}

	case methodResponse:
		// no-op

	default:
		log.Debugf("unhandled method: %s", env.Method)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, id uint64) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != conn || c.connID != id {
				c.mu.Unlock()
				return
			}
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second))
			c.mu.Unlock()
			if err != nil {
				log.Warnf("ping error: %v", err)
				c.drop(id)
				return
			}
		}
	}
}
