package types

import "encoding/json"

// Envelope is the single wire frame: one JSON object per WebSocket message.
// Unknown op values are ignored by both sides for forward compatibility.
type Envelope struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d"`
}

// NewEnvelope marshals data into a ready-to-send envelope.
func NewEnvelope(op string, data any) ([]byte, error) {
	d, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Op: op, Data: d})
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
}

type Channel struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Type       string   `json:"type"` // "text" or "voice"
	Position   int      `json:"position"`
	ManagerIDs []string `json:"manager_ids"`
}

// VoiceState mirrors one VoiceParticipant. An empty ChannelID is the
// client-visible "left voice" signal.
type VoiceState struct {
	UserID     string `json:"user_id"`
	ChannelID  string `json:"channel_id"`
	SelfMute   bool   `json:"self_mute"`
	SelfDeafen bool   `json:"self_deafen"`
	ServerMute bool   `json:"server_mute"`
	Speaking   bool   `json:"speaking"`
}

type ScreenShare struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
}

type Message struct {
	ID        string  `json:"id"`
	ChannelID string  `json:"channel_id"`
	Author    User    `json:"author"`
	Content   string  `json:"content"`
	ReplyToID *string `json:"reply_to_id,omitempty"`
	CreatedAt string  `json:"created_at"`
	EditedAt  *string `json:"edited_at,omitempty"`
}

type Reaction struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

type Notification struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Read      bool            `json:"read"`
	CreatedAt string          `json:"created_at"`
}

type RadioStation struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	CreatedBy    string   `json:"created_by"`
	Position     int      `json:"position"`
	PlaybackMode string   `json:"playback_mode"`
	ManagerIDs   []string `json:"manager_ids"`
}

type RadioPlaylist struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	UserID    string       `json:"user_id"`
	StationID string       `json:"station_id"`
	Tracks    []RadioTrack `json:"tracks"`
}

type RadioTrack struct {
	ID       string  `json:"id"`
	Filename string  `json:"filename"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration"` // seconds
	Position int     `json:"position"`
}

type MediaItem struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt string `json:"created_at"`
}

// RadioPlayback is the authoritative state of one station surface as seen on
// the wire. Clients derive live position as Position + (serverNow − UpdatedAt)
// while Playing; they never receive a ticking clock.
type RadioPlayback struct {
	StationID  string     `json:"station_id"`
	PlaylistID string     `json:"playlist_id,omitempty"`
	TrackIndex int        `json:"track_index"`
	Track      RadioTrack `json:"track"`
	Playing    bool       `json:"playing"`
	Position   float64    `json:"position"`
	UpdatedAt  float64    `json:"updated_at"` // server unix seconds, the anchor
	UserID     string     `json:"user_id"`
	Stopped    bool       `json:"stopped,omitempty"`
}

// MediaPlayback is the shared-media surface equivalent of RadioPlayback.
type MediaPlayback struct {
	MediaID   string  `json:"media_id"`
	Playing   bool    `json:"playing"`
	Position  float64 `json:"position"`
	UpdatedAt float64 `json:"updated_at"`
}

// Ready is the one-shot snapshot sent immediately after authentication so a
// client can render without further round trips.
type Ready struct {
	User            User                `json:"user"`
	Channels        []Channel           `json:"channels"`
	DeletedChannels []Channel           `json:"deleted_channels,omitempty"`
	OnlineUsers     []User              `json:"online_users"`
	AllUsers        []User              `json:"all_users"`
	VoiceStates     []VoiceState        `json:"voice_states"`
	Notifications   []Notification      `json:"notifications"`
	ScreenShares    []ScreenShare       `json:"screen_shares"`
	MediaList       []MediaItem         `json:"media_list"`
	MediaPlayback   *MediaPlayback      `json:"media_playback"`
	RadioStations   []RadioStation      `json:"radio_stations"`
	RadioPlaylists  []RadioPlaylist     `json:"radio_playlists"`
	RadioPlayback   []RadioPlayback     `json:"radio_playback"`
	RadioListeners  map[string][]string `json:"radio_listeners"`
	ServerTime      float64             `json:"server_time"`
}
