package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"parlor/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	token TEXT NOT NULL UNIQUE,
	is_admin INTEGER NOT NULL DEFAULT 0,
	approved INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS channels (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	created_by TEXT,
	deleted_at TEXT
);
CREATE TABLE IF NOT EXISTS channel_managers (
	channel_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (channel_id, user_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL,
	author_id TEXT,
	content TEXT,
	reply_to_id TEXT,
	created_at TEXT NOT NULL,
	edited_at TEXT,
	deleted_at TEXT
);
CREATE TABLE IF NOT EXISTS reactions (
	message_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	emoji TEXT NOT NULL,
	PRIMARY KEY (message_id, user_id, emoji)
);
CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL,
	data TEXT NOT NULL,
	read INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS radio_stations (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_by TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	playback_mode TEXT NOT NULL DEFAULT 'play_all'
);
CREATE TABLE IF NOT EXISTS radio_station_managers (
	station_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (station_id, user_id)
);
CREATE TABLE IF NOT EXISTS radio_playlists (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	user_id TEXT NOT NULL,
	station_id TEXT,
	position INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS radio_tracks (
	id TEXT PRIMARY KEY,
	playlist_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	url TEXT NOT NULL,
	duration REAL NOT NULL DEFAULT 0,
	position INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS media (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	url TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
`

type writeOp struct {
	fn     func(*sql.DB) error
	result chan error
}

// SQLite is the production Store backed by mattn/go-sqlite3. Reads run on the
// connection pool; all writes are funneled through a single goroutine, which
// keeps SQLite write contention out of the hub's hot path.
type SQLite struct {
	db     *sql.DB
	writes chan writeOp
	done   chan struct{}
	wg     sync.WaitGroup
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &SQLite{
		db:     db,
		writes: make(chan writeOp, 100),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *SQLite) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writes:
			op.result <- op.fn(s.db)
		case <-s.done:
			return
		}
	}
}

func (s *SQLite) write(fn func(*sql.DB) error) error {
	result := make(chan error, 1)
	select {
	case s.writes <- writeOp{fn: fn, result: result}:
		return <-result
	case <-s.done:
		return fmt.Errorf("store is closed")
	}
}

func (s *SQLite) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// --- users ---

func (s *SQLite) UserByToken(token string) (*types.User, error) {
	var u types.User
	err := s.db.QueryRow(
		`SELECT id, username, is_admin FROM users WHERE token = ? AND approved = 1`, token,
	).Scan(&u.ID, &u.Username, &u.IsAdmin)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLite) AllUsers() ([]types.User, error) {
	rows, err := s.db.Query(`SELECT id, username, is_admin FROM users WHERE approved = 1 ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []types.User{}
	for rows.Next() {
		var u types.User
		if err := rows.Scan(&u.ID, &u.Username, &u.IsAdmin); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- channels ---

func (s *SQLite) queryChannels(where string, args ...any) ([]types.Channel, error) {
	rows, err := s.db.Query(
		`SELECT id, name, type, position FROM channels `+where+` ORDER BY position, name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := []types.Channel{}
	for rows.Next() {
		var ch types.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Type, &ch.Position); err != nil {
			return nil, err
		}
		ch.ManagerIDs, err = s.managerIDs(`SELECT user_id FROM channel_managers WHERE channel_id = ?`, ch.ID)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

func (s *SQLite) managerIDs(query, id string) ([]string, error) {
	rows, err := s.db.Query(query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		ids = append(ids, uid)
	}
	return ids, rows.Err()
}

func (s *SQLite) AllChannels() ([]types.Channel, error) {
	return s.queryChannels(`WHERE deleted_at IS NULL`)
}

func (s *SQLite) DeletedChannels() ([]types.Channel, error) {
	return s.queryChannels(`WHERE deleted_at IS NOT NULL`)
}

func (s *SQLite) ChannelByID(id string) (*types.Channel, error) {
	channels, err := s.queryChannels(`WHERE id = ? AND deleted_at IS NULL`, id)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, ErrNotFound
	}
	return &channels[0], nil
}

func (s *SQLite) CreateChannel(id, name, channelType, createdBy string) (*types.Channel, error) {
	err := s.write(func(db *sql.DB) error {
		var pos int
		if err := db.QueryRow(`SELECT COALESCE(MAX(position)+1, 0) FROM channels`).Scan(&pos); err != nil {
			return err
		}
		if _, err := db.Exec(
			`INSERT INTO channels (id, name, type, position, created_by) VALUES (?, ?, ?, ?, ?)`,
			id, name, channelType, pos, createdBy,
		); err != nil {
			return err
		}
		_, err := db.Exec(
			`INSERT INTO channel_managers (channel_id, user_id) VALUES (?, ?)`, id, createdBy)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.ChannelByID(id)
}

func (s *SQLite) DeleteChannel(id string) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.Exec(`UPDATE channels SET deleted_at = ? WHERE id = ?`, nowRFC3339(), id)
		return err
	})
}

func (s *SQLite) RenameChannel(id, name string) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.Exec(`UPDATE channels SET name = ? WHERE id = ?`, name, id)
		return err
	})
}

func (s *SQLite) ReorderChannels(ids []string) error {
	return s.write(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		for i, id := range ids {
			if _, err := tx.Exec(`UPDATE channels SET position = ? WHERE id = ?`, i, id); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *SQLite) IsChannelManager(channelID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM channel_managers WHERE channel_id = ? AND user_id = ?`,
		channelID, userID,
	).Scan(&n)
	return n > 0, err
}

// --- messages ---

func (s *SQLite) CreateMessage(id, channelID, authorID, content string, replyToID *string) (*MessageRecord, error) {
	createdAt := nowRFC3339()
	err := s.write(func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT INTO messages (id, channel_id, author_id, content, reply_to_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, channelID, authorID, content, replyToID, createdAt,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &MessageRecord{
		ID:        id,
		ChannelID: channelID,
		AuthorID:  authorID,
		Content:   content,
		ReplyToID: replyToID,
		CreatedAt: createdAt,
	}, nil
}

func (s *SQLite) MessageByID(id string) (*MessageRecord, error) {
	var (
		m         MessageRecord
		authorID  sql.NullString
		content   sql.NullString
		deletedAt sql.NullString
	)
	err := s.db.QueryRow(
		`SELECT id, channel_id, author_id, content, reply_to_id, created_at, edited_at, deleted_at
		 FROM messages WHERE id = ?`, id,
	).Scan(&m.ID, &m.ChannelID, &authorID, &content, &m.ReplyToID, &m.CreatedAt, &m.EditedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.AuthorID = authorID.String
	m.Content = content.String
	m.Deleted = deletedAt.Valid
	return &m, nil
}

func (s *SQLite) EditMessage(id, content string) (string, error) {
	editedAt := nowRFC3339()
	err := s.write(func(db *sql.DB) error {
		_, err := db.Exec(
			`UPDATE messages SET content = ?, edited_at = ? WHERE id = ? AND deleted_at IS NULL`,
			content, editedAt, id,
		)
		return err
	})
	return editedAt, err
}

func (s *SQLite) DeleteMessage(id string) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.Exec(`UPDATE messages SET deleted_at = ? WHERE id = ?`, nowRFC3339(), id)
		return err
	})
}

// AddReaction is idempotent: re-adding the same (message, user, emoji) triple
// is a no-op at the schema level.
func (s *SQLite) AddReaction(messageID, userID, emoji string) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT OR IGNORE INTO reactions (message_id, user_id, emoji) VALUES (?, ?, ?)`,
			messageID, userID, emoji,
		)
		return err
	})
}

func (s *SQLite) RemoveReaction(messageID, userID, emoji string) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.Exec(
			`DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?`,
			messageID, userID, emoji,
		)
		return err
	})
}

// --- notifications ---

func (s *SQLite) CreateNotification(id, userID, notifType string, data []byte) (string, error) {
	createdAt := nowRFC3339()
	err := s.write(func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT INTO notifications (id, user_id, type, data, created_at) VALUES (?, ?, ?, ?, ?)`,
			id, userID, notifType, string(data), createdAt,
		)
		return err
	})
	return createdAt, err
}

func (s *SQLite) UnreadNotifications(userID string, limit int) ([]types.Notification, error) {
	rows, err := s.db.Query(
		`SELECT id, type, data, read, created_at FROM notifications
		 WHERE user_id = ? AND read = 0 ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifs := []types.Notification{}
	for rows.Next() {
		var (
			n    types.Notification
			data string
		)
		if err := rows.Scan(&n.ID, &n.Type, &data, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Data = []byte(data)
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

func (s *SQLite) MarkNotificationRead(id, userID string) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.Exec(`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID)
		return err
	})
}

func (s *SQLite) MarkAllNotificationsRead(userID string) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.Exec(`UPDATE notifications SET read = 1 WHERE user_id = ?`, userID)
		return err
	})
}

// --- radio catalog ---

func (s *SQLite) AllRadioStations() ([]types.RadioStation, error) {
	rows, err := s.db.Query(
		`SELECT id, name, created_by, position, playback_mode FROM radio_stations ORDER BY position, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stations := []types.RadioStation{}
	for rows.Next() {
		var st types.RadioStation
		if err := rows.Scan(&st.ID, &st.Name, &st.CreatedBy, &st.Position, &st.PlaybackMode); err != nil {
			return nil, err
		}
		st.ManagerIDs, err = s.managerIDs(`SELECT user_id FROM radio_station_managers WHERE station_id = ?`, st.ID)
		if err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

func (s *SQLite) RadioStationByID(id string) (*types.RadioStation, error) {
	var st types.RadioStation
	err := s.db.QueryRow(
		`SELECT id, name, created_by, position, playback_mode FROM radio_stations WHERE id = ?`, id,
	).Scan(&st.ID, &st.Name, &st.CreatedBy, &st.Position, &st.PlaybackMode)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st.ManagerIDs, err = s.managerIDs(`SELECT user_id FROM radio_station_managers WHERE station_id = ?`, st.ID)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SQLite) CreateRadioStation(id, name, createdBy string) (*types.RadioStation, error) {
	err := s.write(func(db *sql.DB) error {
		var pos int
		if err := db.QueryRow(`SELECT COALESCE(MAX(position)+1, 0) FROM radio_stations`).Scan(&pos); err != nil {
			return err
		}
		if _, err := db.Exec(
			`INSERT INTO radio_stations (id, name, created_by, position) VALUES (?, ?, ?, ?)`,
			id, name, createdBy, pos,
		); err != nil {
			return err
		}
		_, err := db.Exec(
			`INSERT INTO radio_station_managers (station_id, user_id) VALUES (?, ?)`, id, createdBy)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.RadioStationByID(id)
}

func (s *SQLite) DeleteRadioStation(id string) error {
	return s.write(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range []string{
			`DELETE FROM radio_station_managers WHERE station_id = ?`,
			`UPDATE radio_playlists SET station_id = NULL WHERE station_id = ?`,
			`DELETE FROM radio_stations WHERE id = ?`,
		} {
			if _, err := tx.Exec(stmt, id); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *SQLite) SetRadioStationMode(id, mode string) error {
	return s.write(func(db *sql.DB) error {
		res, err := db.Exec(`UPDATE radio_stations SET playback_mode = ? WHERE id = ?`, mode, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLite) IsRadioStationManager(stationID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM radio_station_managers WHERE station_id = ? AND user_id = ?`,
		stationID, userID,
	).Scan(&n)
	return n > 0, err
}

func (s *SQLite) queryPlaylists(where string, args ...any) ([]types.RadioPlaylist, error) {
	rows, err := s.db.Query(
		`SELECT id, name, user_id, COALESCE(station_id, '') FROM radio_playlists `+where+` ORDER BY position, name`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	playlists := []types.RadioPlaylist{}
	for rows.Next() {
		var p types.RadioPlaylist
		if err := rows.Scan(&p.ID, &p.Name, &p.UserID, &p.StationID); err != nil {
			return nil, err
		}
		playlists = append(playlists, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range playlists {
		playlists[i].Tracks, err = s.TracksByPlaylist(playlists[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return playlists, nil
}

func (s *SQLite) AllPlaylists() ([]types.RadioPlaylist, error) {
	return s.queryPlaylists(``)
}

func (s *SQLite) PlaylistsByStation(stationID string) ([]types.RadioPlaylist, error) {
	return s.queryPlaylists(`WHERE station_id = ?`, stationID)
}

func (s *SQLite) TracksByPlaylist(playlistID string) ([]types.RadioTrack, error) {
	rows, err := s.db.Query(
		`SELECT id, filename, url, duration, position FROM radio_tracks
		 WHERE playlist_id = ? ORDER BY position`, playlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tracks := []types.RadioTrack{}
	for rows.Next() {
		var t types.RadioTrack
		if err := rows.Scan(&t.ID, &t.Filename, &t.URL, &t.Duration, &t.Position); err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// --- media catalog ---

func (s *SQLite) AllMedia() ([]types.MediaItem, error) {
	rows, err := s.db.Query(
		`SELECT id, filename, url, mime_type, size_bytes, created_at FROM media ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []types.MediaItem{}
	for rows.Next() {
		var m types.MediaItem
		if err := rows.Scan(&m.ID, &m.Filename, &m.URL, &m.MimeType, &m.SizeBytes, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
