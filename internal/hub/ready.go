package hub

import (
	"parlor/internal/types"
)

// buildReady assembles the full state snapshot a client needs to render
// without further round trips. Deleted channels are included for admins only.
func (h *Hub) buildReady(user types.User) (*types.Ready, error) {
	channels, err := h.store.AllChannels()
	if err != nil {
		return nil, err
	}

	var deleted []types.Channel
	if user.IsAdmin {
		deleted, _ = h.store.DeletedChannels()
	}

	allUsers, err := h.store.AllUsers()
	if err != nil {
		return nil, err
	}

	notifications, _ := h.store.UnreadNotifications(user.ID, 50)
	if notifications == nil {
		notifications = []types.Notification{}
	}

	voiceStates := []types.VoiceState{}
	screenShares := []types.ScreenShare{}
	if h.relay != nil {
		if vs := h.relay.VoiceStates(); vs != nil {
			voiceStates = vs
		}
		screenShares = h.relay.ScreenShares()
	}

	stations, _ := h.store.AllRadioStations()
	playlists, _ := h.store.AllPlaylists()
	media, _ := h.store.AllMedia()
	if media == nil {
		media = []types.MediaItem{}
	}

	return &types.Ready{
		User:            user,
		Channels:        channels,
		DeletedChannels: deleted,
		OnlineUsers:     h.registry.OnlineUsers(),
		AllUsers:        allUsers,
		VoiceStates:     voiceStates,
		Notifications:   notifications,
		ScreenShares:    screenShares,
		MediaList:       media,
		MediaPlayback:   h.media.Snapshot(),
		RadioStations:   stations,
		RadioPlaylists:  playlists,
		RadioPlayback:   h.engine.Snapshot(),
		RadioListeners:  h.engine.AllListeners(),
		ServerTime:      h.nowUnix(),
	}, nil
}
