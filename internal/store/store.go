package store

import (
	"errors"

	"parlor/internal/types"
)

var ErrNotFound = errors.New("not found")

// MessageRecord is the durable shape of a message, including fields the wire
// payloads never carry (author id for authorization, soft-delete flag).
type MessageRecord struct {
	ID        string
	ChannelID string
	AuthorID  string
	Content   string
	ReplyToID *string
	CreatedAt string
	EditedAt  *string
	Deleted   bool
}

// Store is the durable persistence collaborator the hub consumes. Every call
// is synchronous and fallible; the hub aborts an operation before any
// broadcast when a store call fails, so observers never see a state change
// unaccompanied by a persisted fact.
type Store interface {
	// users
	UserByToken(token string) (*types.User, error)
	AllUsers() ([]types.User, error)

	// channels
	AllChannels() ([]types.Channel, error)
	DeletedChannels() ([]types.Channel, error)
	ChannelByID(id string) (*types.Channel, error)
	CreateChannel(id, name, channelType, createdBy string) (*types.Channel, error)
	DeleteChannel(id string) error
	RenameChannel(id, name string) error
	ReorderChannels(ids []string) error
	IsChannelManager(channelID, userID string) (bool, error)

	// messages and reactions
	CreateMessage(id, channelID, authorID, content string, replyToID *string) (*MessageRecord, error)
	MessageByID(id string) (*MessageRecord, error)
	EditMessage(id, content string) (editedAt string, err error)
	DeleteMessage(id string) error
	AddReaction(messageID, userID, emoji string) error
	RemoveReaction(messageID, userID, emoji string) error

	// notifications
	CreateNotification(id, userID, notifType string, data []byte) (createdAt string, err error)
	UnreadNotifications(userID string, limit int) ([]types.Notification, error)
	MarkNotificationRead(id, userID string) error
	MarkAllNotificationsRead(userID string) error

	// radio catalog
	AllRadioStations() ([]types.RadioStation, error)
	RadioStationByID(id string) (*types.RadioStation, error)
	CreateRadioStation(id, name, createdBy string) (*types.RadioStation, error)
	DeleteRadioStation(id string) error
	SetRadioStationMode(id, mode string) error
	IsRadioStationManager(stationID, userID string) (bool, error)
	AllPlaylists() ([]types.RadioPlaylist, error)
	PlaylistsByStation(stationID string) ([]types.RadioPlaylist, error)
	TracksByPlaylist(playlistID string) ([]types.RadioTrack, error)

	// media catalog
	AllMedia() ([]types.MediaItem, error)

	Close() error
}
