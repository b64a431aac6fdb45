package hub

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/google/uuid"

	"parlor/internal/types"
	"parlor/pkg/protocol"
)

const maxChannelNameLen = 32

type createChannelData struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type channelIDData struct {
	ChannelID string `json:"channel_id"`
}

type renameChannelData struct {
	ChannelID string `json:"channel_id"`
	Name      string `json:"name"`
}

type reorderChannelsData struct {
	ChannelIDs []string `json:"channel_ids"`
}

// canManageChannel: admins manage everything, others only channels they are a
// manager of.
func (h *Hub) canManageChannel(c *Conn, channelID string) bool {
	if c.user.IsAdmin {
		return true
	}
	ok, err := h.store.IsChannelManager(channelID, c.UserID())
	return err == nil && ok
}

func (h *Hub) handleCreateChannel(c *Conn, data json.RawMessage) {
	var d createChannelData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}

	name := strings.TrimSpace(d.Name)
	if name == "" || len(name) > maxChannelNameLen {
		return
	}
	if d.Type != "text" && d.Type != "voice" {
		return
	}

	ch, err := h.store.CreateChannel(uuid.New().String(), name, d.Type, c.UserID())
	if err != nil {
		log.Printf("hub: create channel: %v", err)
		return
	}

	h.broadcast(protocol.OpChannelCreate, ch)
}

func (h *Hub) handleDeleteChannel(c *Conn, data json.RawMessage) {
	var d channelIDData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if !h.canManageChannel(c, d.ChannelID) {
		return
	}

	// Evict voice occupants and any running screen share before the channel
	// disappears from under them.
	if h.relay != nil {
		if room := h.relay.Room(d.ChannelID); room != nil {
			for _, vs := range room.VoiceStates() {
				room.Leave(vs.UserID)
				h.broadcast(protocol.OpVoiceStateUpdate, types.VoiceState{UserID: vs.UserID})
			}
		}
		h.relay.StopScreenShare(d.ChannelID)
	}

	if err := h.store.DeleteChannel(d.ChannelID); err != nil {
		log.Printf("hub: delete channel: %v", err)
		return
	}

	h.broadcast(protocol.OpChannelDelete, map[string]string{"channel_id": d.ChannelID})
}

func (h *Hub) handleRenameChannel(c *Conn, data json.RawMessage) {
	var d renameChannelData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}

	name := strings.TrimSpace(d.Name)
	if name == "" || len(name) > maxChannelNameLen {
		return
	}
	if !h.canManageChannel(c, d.ChannelID) {
		return
	}

	if err := h.store.RenameChannel(d.ChannelID, name); err != nil {
		log.Printf("hub: rename channel: %v", err)
		return
	}

	ch, err := h.store.ChannelByID(d.ChannelID)
	if err != nil {
		return
	}
	h.broadcast(protocol.OpChannelUpdate, ch)
}

func (h *Hub) handleReorderChannels(c *Conn, data json.RawMessage) {
	if !c.user.IsAdmin {
		return
	}

	var d reorderChannelsData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}

	if err := h.store.ReorderChannels(d.ChannelIDs); err != nil {
		log.Printf("hub: reorder channels: %v", err)
		return
	}

	h.broadcast(protocol.OpChannelReorder, map[string][]string{"channel_ids": d.ChannelIDs})
}
