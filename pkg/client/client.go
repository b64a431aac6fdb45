// Package client is a small Go client for the parlor wire protocol. It covers
// the session handshake and the common operations; anything it does not wrap
// can be sent with Send and received with Next.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"

	cidpkg "parlor/internal/cid"
	"parlor/internal/types"
	"parlor/pkg/protocol"
)

// ErrNotConnected is returned for any operation before Dial succeeds.
var ErrNotConnected = errors.New("client: not connected")

type Client struct {
	conn      *websocket.Conn
	userAgent string
}

type Option func(*Client)

// WithUserAgent overrides the User-Agent header sent on dial.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// Dial opens the WebSocket. A correlation id in the context is propagated to
// the server as a header.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{userAgent: "parlor-client/1.0"}
	for _, opt := range opts {
		opt(c)
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: buildDialHeaders(ctx, c.userAgent),
	})
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}
	c.conn = conn
	return c, nil
}

func buildDialHeaders(ctx context.Context, userAgent string) map[string][]string {
	headers := map[string][]string{"User-Agent": {userAgent}}
	cidpkg.AddHeaderFromContext(headers, ctx)
	return headers
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// Send marshals payload into an envelope and writes it.
func (c *Client) Send(ctx context.Context, op string, payload any) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	msg, err := types.NewEnvelope(op, payload)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, msg)
}

// Next reads one envelope, skipping frames that do not parse.
func (c *Client) Next(ctx context.Context) (*types.Envelope, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		return &env, nil
	}
}

// WaitFor reads envelopes until one matches op. Everything else is discarded,
// so use it only when intermediate events do not matter.
func (c *Client) WaitFor(ctx context.Context, op string) (*types.Envelope, error) {
	for {
		env, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		if env.Op == op {
			return env, nil
		}
	}
}

// Authenticate performs the auth-first handshake and decodes the ready
// snapshot.
func (c *Client) Authenticate(ctx context.Context, token string) (*types.Ready, error) {
	if err := c.Send(ctx, protocol.OpAuthenticate, map[string]string{"token": token}); err != nil {
		return nil, err
	}
	env, err := c.Next(ctx)
	if err != nil {
		return nil, err
	}
	if env.Op != protocol.OpReady {
		return nil, fmt.Errorf("client: expected ready, got %q", env.Op)
	}
	var ready types.Ready
	if err := json.Unmarshal(env.Data, &ready); err != nil {
		return nil, err
	}
	return &ready, nil
}

// Ping sends a ping; the pong arrives on the event stream.
func (c *Client) Ping(ctx context.Context) error {
	return c.Send(ctx, protocol.OpPing, nil)
}

func (c *Client) SendMessage(ctx context.Context, channelID, content string) error {
	return c.Send(ctx, protocol.OpSendMessage, map[string]string{
		"channel_id": channelID,
		"content":    content,
	})
}

func (c *Client) AddReaction(ctx context.Context, messageID, emoji string) error {
	return c.Send(ctx, protocol.OpAddReaction, map[string]string{
		"message_id": messageID,
		"emoji":      emoji,
	})
}

func (c *Client) JoinVoice(ctx context.Context, channelID string) error {
	return c.Send(ctx, protocol.OpJoinVoice, map[string]string{"channel_id": channelID})
}

func (c *Client) LeaveVoice(ctx context.Context) error {
	return c.Send(ctx, protocol.OpLeaveVoice, nil)
}

func (c *Client) RadioTune(ctx context.Context, stationID string) error {
	return c.Send(ctx, protocol.OpRadioTune, map[string]string{"station_id": stationID})
}

func (c *Client) RadioUntune(ctx context.Context) error {
	return c.Send(ctx, protocol.OpRadioUntune, nil)
}

func (c *Client) RadioPlay(ctx context.Context, stationID, playlistID string) error {
	return c.Send(ctx, protocol.OpRadioPlay, map[string]string{
		"station_id":  stationID,
		"playlist_id": playlistID,
	})
}

func (c *Client) RadioPause(ctx context.Context, stationID string) error {
	return c.Send(ctx, protocol.OpRadioPause, map[string]string{"station_id": stationID})
}
