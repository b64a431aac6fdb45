package hub

import (
	"encoding/json"
	"log"
)

type notificationIDData struct {
	ID string `json:"id"`
}

// Read-state changes are scoped to the caller's own notifications and produce
// no broadcast; other sessions converge on their next ready snapshot.

func (h *Hub) handleMarkNotificationRead(c *Conn, data json.RawMessage) {
	var d notificationIDData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if err := h.store.MarkNotificationRead(d.ID, c.UserID()); err != nil {
		log.Printf("hub: mark notification read: %v", err)
	}
}

func (h *Hub) handleMarkAllNotificationsRead(c *Conn) {
	if err := h.store.MarkAllNotificationsRead(c.UserID()); err != nil {
		log.Printf("hub: mark all notifications read: %v", err)
	}
}
