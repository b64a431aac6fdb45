package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/segmentio/ksuid"

	"parlor/internal/metrics"
	"parlor/internal/types"
	"parlor/pkg/protocol"
)

const (
	authTimeout  = 5 * time.Second
	pingInterval = 30 * time.Second
	sendBufSize  = 256
)

// Conn is one authenticated WebSocket session. It satisfies the registry's
// connection interface; everything outbound goes through the buffered send
// channel and one writer goroutine.
type Conn struct {
	hub    *Hub
	sock   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	id   string
	user types.User

	closeOnce sync.Once
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.user.ID }

// Send queues a frame. A full buffer means the client cannot keep up with the
// event stream; the session is dropped rather than letting it stall fan-out.
func (c *Conn) Send(msg []byte) {
	select {
	case c.send <- msg:
	default:
		c.Close()
	}
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.sock.Close(websocket.StatusNormalClosure, "")
	})
}

// HandleWebSocket upgrades the request and runs the session until the
// connection dies. Blocks for the lifetime of the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.devMode,
	})
	if err != nil {
		log.Printf("hub: ws accept: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		hub:    h,
		sock:   sock,
		send:   make(chan []byte, sendBufSize),
		ctx:    ctx,
		cancel: cancel,
		id:     ksuid.New().String(),
	}

	c.readPump()
}

func (c *Conn) readPump() {
	authed := false
	defer func() {
		if authed {
			c.hub.disconnected(c)
		}
		c.Close()
	}()

	user, err := c.authenticate()
	if err != nil {
		log.Printf("hub: auth failed on %s: %v", c.id, err)
		return
	}
	c.user = *user
	authed = true

	// Register before the snapshot so no broadcast can fall between the two:
	// anything fanned out after this point sits in the send buffer until the
	// write pump starts, which only happens once ready is on the wire.
	c.hub.connected(c)

	if err := c.sendReady(); err != nil {
		log.Printf("hub: send ready to %s: %v", c.user.ID, err)
		return
	}

	go c.writePump()

	for {
		_, data, err := c.sock.Read(c.ctx)
		if err != nil {
			return
		}

		if !c.hub.limiter.Allow(c.id) {
			metrics.RateLimitDrops.Inc()
			log.Printf("hub: rate limit exceeded, closing %s (user %s)", c.id, c.user.ID)
			return
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		c.hub.dispatch(c, &env)
	}
}

type authenticateData struct {
	Token string `json:"token"`
}

// authenticate enforces the auth-first contract: the very first frame must be
// a valid authenticate op, and it must arrive within the timeout.
func (c *Conn) authenticate() (*types.User, error) {
	authCtx, authCancel := context.WithTimeout(c.ctx, authTimeout)
	defer authCancel()

	_, data, err := c.sock.Read(authCtx)
	if err != nil {
		c.sock.Close(websocket.StatusPolicyViolation, "auth timeout")
		return nil, err
	}

	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.sock.Close(websocket.StatusPolicyViolation, "invalid frame")
		return nil, err
	}
	if env.Op != protocol.OpAuthenticate {
		c.sock.Close(websocket.StatusPolicyViolation, "expected authenticate")
		return nil, errors.New("first frame was " + env.Op)
	}

	var auth authenticateData
	if err := json.Unmarshal(env.Data, &auth); err != nil {
		c.sock.Close(websocket.StatusPolicyViolation, "invalid auth data")
		return nil, err
	}

	user, err := c.hub.store.UserByToken(auth.Token)
	if err != nil {
		c.sock.Close(websocket.StatusPolicyViolation, "invalid token")
		return nil, err
	}
	return user, nil
}

func (c *Conn) sendReady() error {
	ready, err := c.hub.buildReady(c.user)
	if err != nil {
		return err
	}
	msg, err := types.NewEnvelope(protocol.OpReady, ready)
	if err != nil {
		return err
	}
	return c.sock.Write(c.ctx, websocket.MessageText, msg)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.sock.Write(c.ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.sock.Ping(c.ctx); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
