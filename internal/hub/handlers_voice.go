package hub

import (
	"encoding/json"
	"log"

	"github.com/pion/webrtc/v4"

	"parlor/internal/relay"
	"parlor/internal/types"
	"parlor/pkg/protocol"
)

type joinVoiceData struct {
	ChannelID string `json:"channel_id"`
}

type sdpData struct {
	SDP string `json:"sdp"`
}

type iceData struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type muteData struct {
	Muted bool `json:"muted"`
}

type deafenData struct {
	Deafened bool `json:"deafened"`
}

type speakingData struct {
	Speaking bool `json:"speaking"`
}

type serverMuteData struct {
	UserID string `json:"user_id"`
	Muted  bool   `json:"muted"`
}

func (h *Hub) handleJoinVoice(c *Conn, data json.RawMessage) {
	if h.relay == nil {
		return
	}

	var d joinVoiceData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}

	ch, err := h.store.ChannelByID(d.ChannelID)
	if err != nil || ch.Type != "voice" {
		return
	}

	// Moving between channels: the old leg goes first so clients never see a
	// user in two rooms.
	if current := h.relay.UserRoom(c.UserID()); current != nil {
		current.Leave(c.UserID())
		h.broadcast(protocol.OpVoiceStateUpdate, types.VoiceState{UserID: c.UserID()})
	}

	room := h.relay.RoomFor(d.ChannelID)
	if _, err := room.Join(c.UserID()); err != nil {
		log.Printf("hub: join voice %s in %s: %v", c.UserID(), d.ChannelID, err)
		return
	}

	h.broadcast(protocol.OpVoiceStateUpdate, types.VoiceState{
		UserID:    c.UserID(),
		ChannelID: d.ChannelID,
	})
}

func (h *Hub) handleLeaveVoice(c *Conn) {
	if h.relay == nil {
		return
	}

	// A presenter leaving voice takes their screen share down with them.
	if sess := h.relay.PresenterSession(c.UserID()); sess != nil {
		h.relay.StopScreenShare(sess.ChannelID)
	}

	if room := h.relay.UserRoom(c.UserID()); room != nil {
		room.Leave(c.UserID())
	}

	// Broadcast the leave unconditionally; the leg may already be gone after
	// a connection failure callback.
	h.broadcast(protocol.OpVoiceStateUpdate, types.VoiceState{UserID: c.UserID()})
}

func (h *Hub) handleWebRTCAnswer(c *Conn, data json.RawMessage) {
	if h.relay == nil {
		return
	}
	var d sdpData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if room := h.relay.UserRoom(c.UserID()); room != nil {
		room.HandleAnswer(c.UserID(), d.SDP)
	}
}

func (h *Hub) handleWebRTCICE(c *Conn, data json.RawMessage) {
	if h.relay == nil {
		return
	}
	var d iceData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if room := h.relay.UserRoom(c.UserID()); room != nil {
		room.HandleICE(c.UserID(), d.Candidate)
	}
}

// participantOf finds the caller's active voice leg, if any.
func (h *Hub) participantOf(userID string) *relay.Participant {
	room := h.relay.UserRoom(userID)
	if room == nil {
		return nil
	}
	return room.Participant(userID)
}

func (h *Hub) handleVoiceSelfMute(c *Conn, data json.RawMessage) {
	if h.relay == nil {
		return
	}
	var d muteData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	p := h.participantOf(c.UserID())
	if p == nil {
		return
	}
	p.SetSelfMute(d.Muted)
	h.broadcast(protocol.OpVoiceStateUpdate, p.VoiceState())
}

func (h *Hub) handleVoiceSelfDeafen(c *Conn, data json.RawMessage) {
	if h.relay == nil {
		return
	}
	var d deafenData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	p := h.participantOf(c.UserID())
	if p == nil {
		return
	}
	p.SetSelfDeafen(d.Deafened)
	h.broadcast(protocol.OpVoiceStateUpdate, p.VoiceState())
}

func (h *Hub) handleVoiceSpeaking(c *Conn, data json.RawMessage) {
	if h.relay == nil {
		return
	}
	var d speakingData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	p := h.participantOf(c.UserID())
	if p == nil {
		return
	}
	p.SetSpeaking(d.Speaking)
	h.broadcast(protocol.OpVoiceStateUpdate, p.VoiceState())
}

// handleVoiceServerMute is the moderation mute: admin only, targets another
// user, and silences their audio at the relay rather than at their client.
func (h *Hub) handleVoiceServerMute(c *Conn, data json.RawMessage) {
	if h.relay == nil || !c.user.IsAdmin {
		return
	}
	var d serverMuteData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	p := h.participantOf(d.UserID)
	if p == nil {
		return
	}
	p.SetServerMute(d.Muted)
	h.broadcast(protocol.OpVoiceStateUpdate, p.VoiceState())
}
