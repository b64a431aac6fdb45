package store

import (
	"sort"
	"sync"
	"time"

	"parlor/internal/types"
)

// Memory is an in-memory Store used by unit tests and by the hub's own test
// suite. It mirrors the SQLite implementation's semantics, including reaction
// idempotency and soft deletes.
type Memory struct {
	mu sync.Mutex

	UsersByToken map[string]types.User
	Channels     map[string]*types.Channel
	Deleted      map[string]*types.Channel
	Managers     map[string]map[string]bool // channelID → userID set
	Messages     map[string]*MessageRecord
	Reactions    map[string]map[[2]string]bool // messageID → {userID, emoji} set
	Notifs       map[string][]types.Notification
	Stations     map[string]*types.RadioStation
	StationMgrs  map[string]map[string]bool
	Playlists    map[string]*types.RadioPlaylist
	Media        []types.MediaItem

	// FailWrites makes every mutating call return an error, for testing the
	// abort-before-broadcast contract.
	FailWrites error
}

func NewMemory() *Memory {
	return &Memory{
		UsersByToken: make(map[string]types.User),
		Channels:     make(map[string]*types.Channel),
		Deleted:      make(map[string]*types.Channel),
		Managers:     make(map[string]map[string]bool),
		Messages:     make(map[string]*MessageRecord),
		Reactions:    make(map[string]map[[2]string]bool),
		Notifs:       make(map[string][]types.Notification),
		Stations:     make(map[string]*types.RadioStation),
		StationMgrs:  make(map[string]map[string]bool),
		Playlists:    make(map[string]*types.RadioPlaylist),
	}
}

func (m *Memory) UserByToken(token string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.UsersByToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *Memory) AllUsers() ([]types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := []types.User{}
	for _, u := range m.UsersByToken {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (m *Memory) AllChannels() ([]types.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channels := []types.Channel{}
	for _, ch := range m.Channels {
		c := *ch
		c.ManagerIDs = m.managerList(m.Managers, c.ID)
		channels = append(channels, c)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Position < channels[j].Position })
	return channels, nil
}

func (m *Memory) DeletedChannels() ([]types.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channels := []types.Channel{}
	for _, ch := range m.Deleted {
		channels = append(channels, *ch)
	}
	return channels, nil
}

func (m *Memory) ChannelByID(id string) (*types.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.Channels[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *ch
	c.ManagerIDs = m.managerList(m.Managers, id)
	return &c, nil
}

func (m *Memory) managerList(set map[string]map[string]bool, id string) []string {
	ids := []string{}
	for uid := range set[id] {
		ids = append(ids, uid)
	}
	sort.Strings(ids)
	return ids
}

func (m *Memory) CreateChannel(id, name, channelType, createdBy string) (*types.Channel, error) {
	if m.FailWrites != nil {
		return nil, m.FailWrites
	}
	m.mu.Lock()
	ch := &types.Channel{ID: id, Name: name, Type: channelType, Position: len(m.Channels)}
	m.Channels[id] = ch
	m.Managers[id] = map[string]bool{createdBy: true}
	m.mu.Unlock()
	return m.ChannelByID(id)
}

func (m *Memory) DeleteChannel(id string) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.Channels[id]; ok {
		m.Deleted[id] = ch
		delete(m.Channels, id)
	}
	return nil
}

func (m *Memory) RenameChannel(id, name string) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.Channels[id]; ok {
		ch.Name = name
	}
	return nil
}

func (m *Memory) ReorderChannels(ids []string) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		if ch, ok := m.Channels[id]; ok {
			ch.Position = i
		}
	}
	return nil
}

func (m *Memory) IsChannelManager(channelID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Managers[channelID][userID], nil
}

func (m *Memory) CreateMessage(id, channelID, authorID, content string, replyToID *string) (*MessageRecord, error) {
	if m.FailWrites != nil {
		return nil, m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := &MessageRecord{
		ID:        id,
		ChannelID: channelID,
		AuthorID:  authorID,
		Content:   content,
		ReplyToID: replyToID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	m.Messages[id] = rec
	return rec, nil
}

func (m *Memory) MessageByID(id string) (*MessageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.Messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) EditMessage(id, content string) (string, error) {
	if m.FailWrites != nil {
		return "", m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.Messages[id]
	if !ok {
		return "", ErrNotFound
	}
	editedAt := time.Now().UTC().Format(time.RFC3339Nano)
	rec.Content = content
	rec.EditedAt = &editedAt
	return editedAt, nil
}

func (m *Memory) DeleteMessage(id string) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.Messages[id]; ok {
		rec.Deleted = true
	}
	return nil
}

func (m *Memory) AddReaction(messageID, userID, emoji string) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.Reactions[messageID]
	if !ok {
		set = make(map[[2]string]bool)
		m.Reactions[messageID] = set
	}
	set[[2]string{userID, emoji}] = true
	return nil
}

func (m *Memory) RemoveReaction(messageID, userID, emoji string) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Reactions[messageID], [2]string{userID, emoji})
	return nil
}

// ReactionCount reports the number of distinct reactions on a message. Test
// helper, not part of the Store interface.
func (m *Memory) ReactionCount(messageID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Reactions[messageID])
}

func (m *Memory) CreateNotification(id, userID, notifType string, data []byte) (string, error) {
	if m.FailWrites != nil {
		return "", m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	m.Notifs[userID] = append(m.Notifs[userID], types.Notification{
		ID: id, Type: notifType, Data: data, CreatedAt: createdAt,
	})
	return createdAt, nil
}

func (m *Memory) UnreadNotifications(userID string, limit int) ([]types.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	notifs := []types.Notification{}
	for _, n := range m.Notifs[userID] {
		if !n.Read && len(notifs) < limit {
			notifs = append(notifs, n)
		}
	}
	return notifs, nil
}

func (m *Memory) MarkNotificationRead(id, userID string) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Notifs[userID] {
		if m.Notifs[userID][i].ID == id {
			m.Notifs[userID][i].Read = true
		}
	}
	return nil
}

func (m *Memory) MarkAllNotificationsRead(userID string) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Notifs[userID] {
		m.Notifs[userID][i].Read = true
	}
	return nil
}

func (m *Memory) AllRadioStations() ([]types.RadioStation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stations := []types.RadioStation{}
	for _, st := range m.Stations {
		s := *st
		s.ManagerIDs = m.managerList(m.StationMgrs, s.ID)
		stations = append(stations, s)
	}
	sort.Slice(stations, func(i, j int) bool { return stations[i].Position < stations[j].Position })
	return stations, nil
}

func (m *Memory) RadioStationByID(id string) (*types.RadioStation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.Stations[id]
	if !ok {
		return nil, ErrNotFound
	}
	s := *st
	s.ManagerIDs = m.managerList(m.StationMgrs, id)
	return &s, nil
}

func (m *Memory) CreateRadioStation(id, name, createdBy string) (*types.RadioStation, error) {
	if m.FailWrites != nil {
		return nil, m.FailWrites
	}
	m.mu.Lock()
	m.Stations[id] = &types.RadioStation{
		ID: id, Name: name, CreatedBy: createdBy,
		Position: len(m.Stations), PlaybackMode: "play_all",
	}
	m.StationMgrs[id] = map[string]bool{createdBy: true}
	m.mu.Unlock()
	return m.RadioStationByID(id)
}

func (m *Memory) DeleteRadioStation(id string) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Stations, id)
	delete(m.StationMgrs, id)
	return nil
}

func (m *Memory) SetRadioStationMode(id, mode string) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.Stations[id]
	if !ok {
		return ErrNotFound
	}
	st.PlaybackMode = mode
	return nil
}

func (m *Memory) IsRadioStationManager(stationID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StationMgrs[stationID][userID], nil
}

func (m *Memory) AllPlaylists() ([]types.RadioPlaylist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	playlists := []types.RadioPlaylist{}
	for _, p := range m.Playlists {
		playlists = append(playlists, *p)
	}
	sort.Slice(playlists, func(i, j int) bool { return playlists[i].ID < playlists[j].ID })
	return playlists, nil
}

func (m *Memory) PlaylistsByStation(stationID string) ([]types.RadioPlaylist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	playlists := []types.RadioPlaylist{}
	for _, p := range m.Playlists {
		if p.StationID == stationID {
			playlists = append(playlists, *p)
		}
	}
	sort.Slice(playlists, func(i, j int) bool { return playlists[i].ID < playlists[j].ID })
	return playlists, nil
}

func (m *Memory) TracksByPlaylist(playlistID string) ([]types.RadioTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Playlists[playlistID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]types.RadioTrack{}, p.Tracks...), nil
}

func (m *Memory) AllMedia() ([]types.MediaItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.MediaItem{}, m.Media...), nil
}

func (m *Memory) Close() error { return nil }
