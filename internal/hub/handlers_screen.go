package hub

import (
	"encoding/json"
	"errors"
	"log"

	"parlor/internal/relay"
	"parlor/internal/types"
	"parlor/pkg/protocol"
)

type screenShareErrorPayload struct {
	Error string `json:"error"`
}

func (h *Hub) handleScreenShareStart(c *Conn) {
	if h.relay == nil {
		return
	}

	room := h.relay.UserRoom(c.UserID())
	if room == nil {
		h.send(c, protocol.OpScreenShareError, screenShareErrorPayload{
			Error: protocol.ErrScreenShareNotInVoice,
		})
		return
	}

	if _, err := h.relay.StartScreenShare(room.ChannelID, c.UserID()); err != nil {
		log.Printf("hub: screen share start: %v", err)
		reason := err.Error()
		if errors.Is(err, relay.ErrShareActive) {
			reason = protocol.ErrScreenShareActive
		}
		h.send(c, protocol.OpScreenShareError, screenShareErrorPayload{Error: reason})
		return
	}

	h.broadcast(protocol.OpScreenShareStarted, types.ScreenShare{
		UserID:    c.UserID(),
		ChannelID: room.ChannelID,
	})
}

func (h *Hub) handleScreenShareStop(c *Conn) {
	if h.relay == nil {
		return
	}
	sess := h.relay.PresenterSession(c.UserID())
	if sess == nil {
		return
	}
	// Teardown broadcasts screen_share_stopped via the relay callback.
	h.relay.StopScreenShare(sess.ChannelID)
}

func (h *Hub) handleScreenShareSubscribe(c *Conn, data json.RawMessage) {
	if h.relay == nil {
		return
	}
	var d channelIDData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}

	sess := h.relay.ScreenSessionFor(d.ChannelID)
	if sess == nil {
		h.send(c, protocol.OpScreenShareError, screenShareErrorPayload{
			Error: protocol.ErrScreenShareNone,
		})
		return
	}

	if err := sess.AddViewer(c.UserID()); err != nil {
		log.Printf("hub: screen share subscribe: %v", err)
	}
}

func (h *Hub) handleScreenShareUnsubscribe(c *Conn, data json.RawMessage) {
	if h.relay == nil {
		return
	}
	var d channelIDData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if sess := h.relay.ScreenSessionFor(d.ChannelID); sess != nil {
		sess.RemoveViewer(c.UserID())
	}
}

func (h *Hub) handleWebRTCScreenAnswer(c *Conn, data json.RawMessage) {
	if h.relay == nil {
		return
	}
	var d sdpData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	h.relay.HandleScreenAnswer(c.UserID(), d.SDP)
}

func (h *Hub) handleWebRTCScreenICE(c *Conn, data json.RawMessage) {
	if h.relay == nil {
		return
	}
	var d iceData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	h.relay.HandleScreenICE(c.UserID(), d.Candidate)
}
