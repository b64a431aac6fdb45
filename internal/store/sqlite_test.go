package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "parlor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *SQLite, id, username, token string, admin, approved bool) {
	t.Helper()
	_, err := s.db.Exec(
		`INSERT INTO users (id, username, token, is_admin, approved) VALUES (?, ?, ?, ?, ?)`,
		id, username, token, admin, approved,
	)
	require.NoError(t, err)
}

func TestUserLookupByToken(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, "u1", "alice", "tok-alice", false, true)
	seedUser(t, s, "u2", "bob", "tok-bob", true, true)
	seedUser(t, s, "u3", "mallory", "tok-mallory", false, false)

	u, err := s.UserByToken("tok-alice")
	require.NoError(t, err)
	require.Equal(t, "u1", u.ID)
	require.Equal(t, "alice", u.Username)
	require.False(t, u.IsAdmin)

	u, err = s.UserByToken("tok-bob")
	require.NoError(t, err)
	require.True(t, u.IsAdmin)

	_, err = s.UserByToken("tok-nobody")
	require.ErrorIs(t, err, ErrNotFound)

	// Unapproved accounts cannot authenticate.
	_, err = s.UserByToken("tok-mallory")
	require.ErrorIs(t, err, ErrNotFound)

	users, err := s.AllUsers()
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "alice", users[0].Username)
}

func TestChannelLifecycle(t *testing.T) {
	s := openTestStore(t)

	ch, err := s.CreateChannel("ch1", "general", "text", "u1")
	require.NoError(t, err)
	require.Equal(t, 0, ch.Position)
	require.Equal(t, []string{"u1"}, ch.ManagerIDs)

	ch2, err := s.CreateChannel("ch2", "voice lounge", "voice", "u2")
	require.NoError(t, err)
	require.Equal(t, 1, ch2.Position)

	ok, err := s.IsChannelManager("ch1", "u1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.IsChannelManager("ch1", "u2")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.RenameChannel("ch1", "lobby"))
	ch, err = s.ChannelByID("ch1")
	require.NoError(t, err)
	require.Equal(t, "lobby", ch.Name)

	require.NoError(t, s.ReorderChannels([]string{"ch2", "ch1"}))
	channels, err := s.AllChannels()
	require.NoError(t, err)
	require.Equal(t, "ch2", channels[0].ID)

	// Deletion is soft: the channel leaves the live list but stays queryable
	// for admin restore.
	require.NoError(t, s.DeleteChannel("ch1"))
	_, err = s.ChannelByID("ch1")
	require.ErrorIs(t, err, ErrNotFound)

	deleted, err := s.DeletedChannels()
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	require.Equal(t, "ch1", deleted[0].ID)
}

func TestMessageLifecycle(t *testing.T) {
	s := openTestStore(t)

	rec, err := s.CreateMessage("m1", "ch1", "u1", "first", nil)
	require.NoError(t, err)
	require.NotEmpty(t, rec.CreatedAt)

	got, err := s.MessageByID("m1")
	require.NoError(t, err)
	require.Equal(t, "first", got.Content)
	require.Nil(t, got.EditedAt)
	require.False(t, got.Deleted)

	editedAt, err := s.EditMessage("m1", "first, edited")
	require.NoError(t, err)
	require.NotEmpty(t, editedAt)

	got, err = s.MessageByID("m1")
	require.NoError(t, err)
	require.Equal(t, "first, edited", got.Content)
	require.NotNil(t, got.EditedAt)

	require.NoError(t, s.DeleteMessage("m1"))
	got, err = s.MessageByID("m1")
	require.NoError(t, err)
	require.True(t, got.Deleted)

	replyTo := "m1"
	rec, err = s.CreateMessage("m2", "ch1", "u2", "reply", &replyTo)
	require.NoError(t, err)
	require.Equal(t, &replyTo, rec.ReplyToID)
}

func TestReactionIdempotency(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.AddReaction("m1", "u1", "👍"))
	require.NoError(t, s.AddReaction("m1", "u1", "👍"))
	require.NoError(t, s.AddReaction("m1", "u2", "👍"))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM reactions WHERE message_id = 'm1'`).Scan(&n))
	require.Equal(t, 2, n)

	require.NoError(t, s.RemoveReaction("m1", "u1", "👍"))
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM reactions WHERE message_id = 'm1'`).Scan(&n))
	require.Equal(t, 1, n)
}

func TestNotificationReadState(t *testing.T) {
	s := openTestStore(t)

	_, err := s.CreateNotification("n1", "u1", "mention", []byte(`{"message_id":"m1"}`))
	require.NoError(t, err)
	_, err = s.CreateNotification("n2", "u1", "mention", []byte(`{"message_id":"m2"}`))
	require.NoError(t, err)
	_, err = s.CreateNotification("n3", "u2", "mention", []byte(`{"message_id":"m3"}`))
	require.NoError(t, err)

	notifs, err := s.UnreadNotifications("u1", 50)
	require.NoError(t, err)
	require.Len(t, notifs, 2)

	// Marking is scoped to the owner; another user's id is a no-op.
	require.NoError(t, s.MarkNotificationRead("n1", "u2"))
	notifs, err = s.UnreadNotifications("u1", 50)
	require.NoError(t, err)
	require.Len(t, notifs, 2)

	require.NoError(t, s.MarkNotificationRead("n1", "u1"))
	notifs, err = s.UnreadNotifications("u1", 50)
	require.NoError(t, err)
	require.Len(t, notifs, 1)

	require.NoError(t, s.MarkAllNotificationsRead("u1"))
	notifs, err = s.UnreadNotifications("u1", 50)
	require.NoError(t, err)
	require.Empty(t, notifs)

	notifs, err = s.UnreadNotifications("u2", 50)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
}

func TestRadioCatalog(t *testing.T) {
	s := openTestStore(t)

	st, err := s.CreateRadioStation("st1", "late night", "u1")
	require.NoError(t, err)
	require.Equal(t, "play_all", st.PlaybackMode)
	require.Equal(t, []string{"u1"}, st.ManagerIDs)

	ok, err := s.IsRadioStationManager("st1", "u1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.SetRadioStationMode("st1", "loop_one"))
	st, err = s.RadioStationByID("st1")
	require.NoError(t, err)
	require.Equal(t, "loop_one", st.PlaybackMode)
	require.ErrorIs(t, s.SetRadioStationMode("nope", "loop_one"), ErrNotFound)

	_, err = s.db.Exec(
		`INSERT INTO radio_playlists (id, name, user_id, station_id, position) VALUES ('pl1', 'mix', 'u1', 'st1', 0)`)
	require.NoError(t, err)
	_, err = s.db.Exec(
		`INSERT INTO radio_tracks (id, playlist_id, filename, url, duration, position)
		 VALUES ('t1', 'pl1', 'one.opus', '/radio/one.opus', 180, 0),
		        ('t2', 'pl1', 'two.opus', '/radio/two.opus', 240, 1)`)
	require.NoError(t, err)

	playlists, err := s.PlaylistsByStation("st1")
	require.NoError(t, err)
	require.Len(t, playlists, 1)
	require.Len(t, playlists[0].Tracks, 2)
	require.Equal(t, "t1", playlists[0].Tracks[0].ID)

	tracks, err := s.TracksByPlaylist("pl1")
	require.NoError(t, err)
	require.Equal(t, 240.0, tracks[1].Duration)

	// Deleting a station detaches its playlists instead of dropping them.
	require.NoError(t, s.DeleteRadioStation("st1"))
	_, err = s.RadioStationByID("st1")
	require.ErrorIs(t, err, ErrNotFound)

	playlists, err = s.AllPlaylists()
	require.NoError(t, err)
	require.Len(t, playlists, 1)
	require.Empty(t, playlists[0].StationID)
}
