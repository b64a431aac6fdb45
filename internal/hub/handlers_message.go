package hub

import (
	"encoding/json"
	"log"
	"regexp"

	"github.com/google/uuid"

	"parlor/internal/types"
	"parlor/pkg/protocol"
)

const maxMessageLen = 4000

var mentionPattern = regexp.MustCompile(`<@([a-f0-9-]{36})>`)

type sendMessageData struct {
	ChannelID string  `json:"channel_id"`
	Content   string  `json:"content"`
	ReplyToID *string `json:"reply_to_id"`
}

type editMessageData struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type messageIDData struct {
	MessageID string `json:"message_id"`
}

type reactionData struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type typingData struct {
	ChannelID string `json:"channel_id"`
}

func (h *Hub) handleSendMessage(c *Conn, data json.RawMessage) {
	var d sendMessageData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if d.Content == "" || len(d.Content) > maxMessageLen {
		return
	}

	ch, err := h.store.ChannelByID(d.ChannelID)
	if err != nil || ch.Type != "text" {
		return
	}

	msgID := uuid.New().String()
	rec, err := h.store.CreateMessage(msgID, d.ChannelID, c.UserID(), d.Content, d.ReplyToID)
	if err != nil {
		log.Printf("hub: create message: %v", err)
		return
	}

	h.notifyMentions(c, ch, rec.ID, d.Content, rec.CreatedAt)

	h.broadcast(protocol.OpMessageCreate, types.Message{
		ID:        rec.ID,
		ChannelID: rec.ChannelID,
		Author:    c.user,
		Content:   rec.Content,
		ReplyToID: rec.ReplyToID,
		CreatedAt: rec.CreatedAt,
	})
}

// notifyMentions persists a notification per mentioned user and pushes it to
// their live connections. The author never notifies themselves.
func (h *Hub) notifyMentions(c *Conn, ch *types.Channel, messageID, content, createdAt string) {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return
	}

	// Truncate on runes so a multi-byte character is never split.
	preview := content
	if r := []rune(preview); len(r) > 80 {
		preview = string(r[:80]) + "..."
	}

	seen := make(map[string]bool)
	for _, m := range matches {
		mentionedID := m[1]
		if mentionedID == c.UserID() || seen[mentionedID] {
			continue
		}
		seen[mentionedID] = true

		payload := map[string]any{
			"message_id":      messageID,
			"channel_id":      ch.ID,
			"channel_name":    ch.Name,
			"author_id":       c.user.ID,
			"author_username": c.user.Username,
			"content_preview": preview,
		}
		payloadJSON, _ := json.Marshal(payload)

		notifID := uuid.New().String()
		if _, err := h.store.CreateNotification(notifID, mentionedID, "mention", payloadJSON); err != nil {
			log.Printf("hub: create notification: %v", err)
			continue
		}

		h.sendToUser(mentionedID, protocol.OpNotificationCreate, types.Notification{
			ID:        notifID,
			Type:      "mention",
			Data:      payloadJSON,
			CreatedAt: createdAt,
		})
	}
}

func (h *Hub) handleEditMessage(c *Conn, data json.RawMessage) {
	var d editMessageData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if d.Content == "" || len(d.Content) > maxMessageLen {
		return
	}

	rec, err := h.store.MessageByID(d.MessageID)
	if err != nil || rec.Deleted {
		return
	}
	if rec.AuthorID != c.UserID() {
		return
	}

	editedAt, err := h.store.EditMessage(d.MessageID, d.Content)
	if err != nil {
		log.Printf("hub: edit message: %v", err)
		return
	}

	h.broadcast(protocol.OpMessageUpdate, map[string]string{
		"id":         rec.ID,
		"channel_id": rec.ChannelID,
		"content":    d.Content,
		"edited_at":  editedAt,
	})
}

func (h *Hub) handleDeleteMessage(c *Conn, data json.RawMessage) {
	var d messageIDData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}

	rec, err := h.store.MessageByID(d.MessageID)
	if err != nil {
		return
	}
	if rec.AuthorID != c.UserID() && !c.user.IsAdmin {
		return
	}

	if err := h.store.DeleteMessage(d.MessageID); err != nil {
		log.Printf("hub: delete message: %v", err)
		return
	}

	h.broadcast(protocol.OpMessageDelete, map[string]string{
		"id":         d.MessageID,
		"channel_id": rec.ChannelID,
	})
}

// isValidEmoji bounds a reaction key: 1 to 10 runes and at most 32 bytes, so
// composed emoji sequences pass while arbitrary strings do not.
func isValidEmoji(s string) bool {
	r := []rune(s)
	return len(r) >= 1 && len(r) <= 10 && len(s) <= 32
}

func (h *Hub) handleAddReaction(c *Conn, data json.RawMessage) {
	var d reactionData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if !isValidEmoji(d.Emoji) {
		return
	}

	rec, err := h.store.MessageByID(d.MessageID)
	if err != nil || rec.Deleted {
		return
	}

	if err := h.store.AddReaction(d.MessageID, c.UserID(), d.Emoji); err != nil {
		log.Printf("hub: add reaction: %v", err)
		return
	}

	h.broadcast(protocol.OpReactionAdd, types.Reaction{
		MessageID: d.MessageID,
		UserID:    c.UserID(),
		Emoji:     d.Emoji,
	})
}

func (h *Hub) handleRemoveReaction(c *Conn, data json.RawMessage) {
	var d reactionData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}

	if err := h.store.RemoveReaction(d.MessageID, c.UserID(), d.Emoji); err != nil {
		log.Printf("hub: remove reaction: %v", err)
		return
	}

	h.broadcast(protocol.OpReactionRemove, types.Reaction{
		MessageID: d.MessageID,
		UserID:    c.UserID(),
		Emoji:     d.Emoji,
	})
}

func (h *Hub) handleTypingStart(c *Conn, data json.RawMessage) {
	var d typingData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}

	h.broadcastExcept(protocol.OpTypingStart, map[string]string{
		"channel_id": d.ChannelID,
		"user_id":    c.UserID(),
	}, c.UserID())
}
