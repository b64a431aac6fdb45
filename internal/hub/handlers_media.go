package hub

import (
	"encoding/json"

	"parlor/pkg/protocol"
)

type mediaPlayData struct {
	MediaID  string  `json:"media_id"`
	Position float64 `json:"position"`
}

type mediaSeekData struct {
	Position float64 `json:"position"`
}

// The shared-media surface is admin-driven: only admins steer it, everyone
// receives it. Pause carries no position for the same reason radio pause does
// not; the session recomputes it from the anchor.

func (h *Hub) handleMediaPlay(c *Conn, data json.RawMessage) {
	if !c.user.IsAdmin {
		return
	}
	var d mediaPlayData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if d.Position < 0 {
		d.Position = 0
	}
	state := h.media.Play(d.MediaID, d.Position)
	h.broadcast(protocol.OpMediaPlayback, state)
}

func (h *Hub) handleMediaPause(c *Conn) {
	if !c.user.IsAdmin {
		return
	}
	state := h.media.Pause()
	if state == nil {
		return
	}
	h.broadcast(protocol.OpMediaPlayback, state)
}

func (h *Hub) handleMediaSeek(c *Conn, data json.RawMessage) {
	if !c.user.IsAdmin {
		return
	}
	var d mediaSeekData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	state := h.media.Seek(d.Position)
	if state == nil {
		return
	}
	h.broadcast(protocol.OpMediaPlayback, state)
}

func (h *Hub) handleMediaStop(c *Conn) {
	if !c.user.IsAdmin {
		return
	}
	h.media.Stop()
	h.broadcast(protocol.OpMediaPlayback, nil)
}
