package hub_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"parlor/internal/config"
	"parlor/internal/hub"
	"parlor/internal/playback"
	"parlor/internal/relay"
	"parlor/internal/store"
	"parlor/internal/types"
	"parlor/pkg/client"
	"parlor/pkg/protocol"
)

const (
	aliceID    = "a1111111-1111-1111-1111-111111111111"
	bobID      = "b2222222-2222-2222-2222-222222222222"
	aliceToken = "alice-token"
	bobToken   = "bob-token"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.DevMode = true
	cfg.Limits.MessagesPerWindow = 100
	cfg.Limits.WindowSeconds = 1
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*hub.Hub, *store.Memory, string) {
	t.Helper()

	mem := store.NewMemory()
	mem.UsersByToken[aliceToken] = types.User{ID: aliceID, Username: "alice"}
	mem.UsersByToken[bobToken] = types.User{ID: bobID, Username: "bob", IsAdmin: true}
	mem.Channels["ch1"] = &types.Channel{ID: "ch1", Name: "general", Type: "text"}

	h := hub.New(cfg, mem, nil, playback.RealClock{})

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)

	return h, mem, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// newTestServerWithRelay is newTestServer plus a real relay and a voice
// channel, for tests that exercise the media legs.
func newTestServerWithRelay(t *testing.T, cfg *config.Config) (*relay.Relay, *store.Memory, string) {
	t.Helper()

	mem := store.NewMemory()
	mem.UsersByToken[aliceToken] = types.User{ID: aliceID, Username: "alice"}
	mem.UsersByToken[bobToken] = types.User{ID: bobID, Username: "bob", IsAdmin: true}
	mem.Channels["ch1"] = &types.Channel{ID: "ch1", Name: "general", Type: "text"}
	mem.Channels["ch2"] = &types.Channel{ID: "ch2", Name: "lounge", Type: "voice"}

	rl := relay.New("", "", 0)
	h := hub.New(cfg, mem, rl, playback.RealClock{})

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)

	return rl, mem, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func connect(t *testing.T, url, token string) (*client.Client, *types.Ready) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cl, err := client.Dial(ctx, url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { cl.Close() })

	ready, err := cl.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	return cl, ready
}

// expectNext fails unless the next frame carries the given op.
func expectNext(t *testing.T, cl *client.Client, op string) *types.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := cl.Next(ctx)
	if err != nil {
		t.Fatalf("read while waiting for %s: %v", op, err)
	}
	if env.Op != op {
		t.Fatalf("expected op %s, got %s", op, env.Op)
	}
	return env
}

// sync round-trips a ping so every prior frame from this client has been
// dispatched and every prior broadcast has been queued.
func sync(t *testing.T, cl *client.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cl.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	expectNext(t, cl, protocol.OpPong)
}

func TestAuthHandshakeAndReady(t *testing.T) {
	_, _, url := newTestServer(t, testConfig())

	_, ready := connect(t, url, aliceToken)

	if ready.User.ID != aliceID || ready.User.Username != "alice" {
		t.Fatalf("unexpected ready user: %+v", ready.User)
	}
	if len(ready.Channels) != 1 || ready.Channels[0].ID != "ch1" {
		t.Fatalf("unexpected ready channels: %+v", ready.Channels)
	}
	if ready.ServerTime <= 0 {
		t.Fatal("ready must carry a server clock sample")
	}
	if len(ready.AllUsers) != 2 {
		t.Fatalf("expected both provisioned users, got %+v", ready.AllUsers)
	}
	// The connection registers before the snapshot is taken, so the online
	// list always contains at least the connecting user.
	if len(ready.OnlineUsers) != 1 || ready.OnlineUsers[0].ID != aliceID {
		t.Fatalf("expected self in online users, got %+v", ready.OnlineUsers)
	}
}

func TestFirstFrameMustAuthenticate(t *testing.T) {
	_, _, url := newTestServer(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cl, err := client.Dial(ctx, url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cl.Close()

	if err := cl.Ping(ctx); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := cl.Next(ctx); err == nil {
		t.Fatal("expected the connection to be closed")
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	_, _, url := newTestServer(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cl, err := client.Dial(ctx, url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cl.Close()

	if _, err := cl.Authenticate(ctx, "no-such-token"); err == nil {
		t.Fatal("expected authentication failure")
	}
}

func TestPresenceIsReferenceCounted(t *testing.T) {
	_, _, url := newTestServer(t, testConfig())

	alice, _ := connect(t, url, aliceToken)

	bob1, _ := connect(t, url, bobToken)
	sync(t, bob1)
	env := expectNext(t, alice, protocol.OpUserOnline)
	var online struct {
		User types.User `json:"user"`
	}
	if err := json.Unmarshal(env.Data, &online); err != nil {
		t.Fatalf("decode user_online: %v", err)
	}
	if online.User.ID != bobID {
		t.Fatalf("expected bob online, got %+v", online.User)
	}

	// A second connection for the same user must not re-announce.
	bob2, _ := connect(t, url, bobToken)
	sync(t, bob2)
	sync(t, alice)

	// Dropping one of two connections must not announce offline.
	bob2.Close()
	time.Sleep(100 * time.Millisecond)
	sync(t, alice)

	// Dropping the last connection does.
	bob1.Close()
	env = expectNext(t, alice, protocol.OpUserOffline)
	var offline struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(env.Data, &offline); err != nil {
		t.Fatalf("decode user_offline: %v", err)
	}
	if offline.UserID != bobID {
		t.Fatalf("expected bob offline, got %s", offline.UserID)
	}
}

func TestMessageBroadcastAndMentionNotification(t *testing.T) {
	_, mem, url := newTestServer(t, testConfig())

	alice, _ := connect(t, url, aliceToken)
	bob, _ := connect(t, url, bobToken)
	sync(t, bob)
	expectNext(t, alice, protocol.OpUserOnline)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := alice.SendMessage(ctx, "ch1", "hey <@"+bobID+"> look at this"); err != nil {
		t.Fatalf("send message: %v", err)
	}

	// The mentioned user sees the notification before the message broadcast.
	env := expectNext(t, bob, protocol.OpNotificationCreate)
	var notif types.Notification
	if err := json.Unmarshal(env.Data, &notif); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if notif.Type != "mention" {
		t.Fatalf("expected mention notification, got %s", notif.Type)
	}
	var notifData struct {
		ChannelName    string `json:"channel_name"`
		AuthorUsername string `json:"author_username"`
		ContentPreview string `json:"content_preview"`
	}
	if err := json.Unmarshal(notif.Data, &notifData); err != nil {
		t.Fatalf("decode notification data: %v", err)
	}
	if notifData.ChannelName != "general" || notifData.AuthorUsername != "alice" {
		t.Fatalf("unexpected notification data: %+v", notifData)
	}

	env = expectNext(t, bob, protocol.OpMessageCreate)
	var msg types.Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Author.ID != aliceID || msg.ChannelID != "ch1" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	expectNext(t, alice, protocol.OpMessageCreate)

	if len(mem.Notifs[bobID]) != 1 {
		t.Fatalf("expected one stored notification, got %d", len(mem.Notifs[bobID]))
	}
}

func TestOversizedMessageDropped(t *testing.T) {
	_, _, url := newTestServer(t, testConfig())

	alice, _ := connect(t, url, aliceToken)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := alice.SendMessage(ctx, "ch1", strings.Repeat("x", 4001)); err != nil {
		t.Fatalf("send message: %v", err)
	}
	sync(t, alice)
}

func TestReactionIdempotentInStore(t *testing.T) {
	_, mem, url := newTestServer(t, testConfig())
	mem.Messages["m1"] = &store.MessageRecord{
		ID: "m1", ChannelID: "ch1", AuthorID: bobID, Content: "hello",
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}

	alice, _ := connect(t, url, aliceToken)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := alice.AddReaction(ctx, "m1", "👍"); err != nil {
		t.Fatalf("add reaction: %v", err)
	}
	expectNext(t, alice, protocol.OpReactionAdd)

	if err := alice.AddReaction(ctx, "m1", "👍"); err != nil {
		t.Fatalf("add reaction again: %v", err)
	}
	expectNext(t, alice, protocol.OpReactionAdd)

	if got := mem.ReactionCount("m1"); got != 1 {
		t.Fatalf("expected one stored reaction, got %d", got)
	}
}

func TestInvalidEmojiDropped(t *testing.T) {
	_, mem, url := newTestServer(t, testConfig())
	mem.Messages["m1"] = &store.MessageRecord{
		ID: "m1", ChannelID: "ch1", AuthorID: bobID, Content: "hello",
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}

	alice, _ := connect(t, url, aliceToken)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := alice.AddReaction(ctx, "m1", strings.Repeat("a", 33)); err != nil {
		t.Fatalf("add reaction: %v", err)
	}
	sync(t, alice)
	if got := mem.ReactionCount("m1"); got != 0 {
		t.Fatalf("invalid emoji was stored, count %d", got)
	}
}

func TestUnauthorizedOpIsSilentNoOp(t *testing.T) {
	_, _, url := newTestServer(t, testConfig())

	alice, _ := connect(t, url, aliceToken)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Channel reorder is admin-only; alice is not an admin. No error frame,
	// no broadcast, and the connection stays up.
	err := alice.Send(ctx, protocol.OpReorderChannels, map[string][]string{
		"channel_ids": {"ch1"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	sync(t, alice)
}

func TestStoreFaultAbortsBroadcast(t *testing.T) {
	_, mem, url := newTestServer(t, testConfig())

	alice, _ := connect(t, url, aliceToken)
	mem.FailWrites = errors.New("disk full")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := alice.SendMessage(ctx, "ch1", "this will not persist"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	sync(t, alice)
}

func TestUnknownOpIgnored(t *testing.T) {
	_, _, url := newTestServer(t, testConfig())

	alice, _ := connect(t, url, aliceToken)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := alice.Send(ctx, "definitely_not_an_op", map[string]string{"x": "y"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	sync(t, alice)
}

func TestRateLimitClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.MessagesPerWindow = 5
	_, _, url := newTestServer(t, cfg)

	alice, _ := connect(t, url, aliceToken)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 20; i++ {
		if err := alice.Ping(ctx); err != nil {
			return // write failed, server already closed us
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := alice.Next(ctx); err != nil {
			return
		}
	}
	t.Fatal("expected the server to drop the connection")
}

func TestRadioPlaybackReachesListenersOnly(t *testing.T) {
	_, mem, url := newTestServer(t, testConfig())
	mem.Stations["st1"] = &types.RadioStation{ID: "st1", Name: "late night", PlaybackMode: "play_all"}
	mem.StationMgrs["st1"] = map[string]bool{aliceID: true}
	mem.Playlists["pl1"] = &types.RadioPlaylist{
		ID: "pl1", Name: "mix", UserID: aliceID, StationID: "st1",
		Tracks: []types.RadioTrack{{ID: "t1", Filename: "one.opus", Duration: 180}},
	}

	alice, _ := connect(t, url, aliceToken)
	bob, _ := connect(t, url, bobToken)
	sync(t, bob)
	expectNext(t, alice, protocol.OpUserOnline)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := alice.RadioTune(ctx, "st1"); err != nil {
		t.Fatalf("tune: %v", err)
	}
	expectNext(t, alice, protocol.OpRadioListeners)
	expectNext(t, bob, protocol.OpRadioListeners)

	if err := alice.RadioPlay(ctx, "st1", "pl1"); err != nil {
		t.Fatalf("play: %v", err)
	}

	env := expectNext(t, alice, protocol.OpRadioPlayback)
	var pb types.RadioPlayback
	if err := json.Unmarshal(env.Data, &pb); err != nil {
		t.Fatalf("decode playback: %v", err)
	}
	if !pb.Playing || pb.StationID != "st1" || pb.Track.ID != "t1" {
		t.Fatalf("unexpected playback state: %+v", pb)
	}
	if pb.UpdatedAt <= 0 {
		t.Fatal("playback must carry its anchor")
	}

	// Bob never tuned in, so the playback event must not reach him.
	sync(t, bob)

	if err := alice.RadioPause(ctx, "st1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	env = expectNext(t, alice, protocol.OpRadioPlayback)
	if err := json.Unmarshal(env.Data, &pb); err != nil {
		t.Fatalf("decode playback: %v", err)
	}
	if pb.Playing {
		t.Fatal("expected paused state")
	}
}

func TestRadioControlsRequireManager(t *testing.T) {
	_, mem, url := newTestServer(t, testConfig())
	mem.Stations["st1"] = &types.RadioStation{ID: "st1", Name: "late night", PlaybackMode: "play_all"}
	mem.StationMgrs["st1"] = map[string]bool{bobID: true}
	mem.Playlists["pl1"] = &types.RadioPlaylist{
		ID: "pl1", Name: "mix", UserID: bobID, StationID: "st1",
		Tracks: []types.RadioTrack{{ID: "t1", Duration: 180}},
	}

	alice, _ := connect(t, url, aliceToken)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := alice.RadioTune(ctx, "st1"); err != nil {
		t.Fatalf("tune: %v", err)
	}
	expectNext(t, alice, protocol.OpRadioListeners)

	// Alice manages nothing, so play is silently dropped even though she is
	// tuned in and would receive the broadcast.
	if err := alice.RadioPlay(ctx, "st1", "pl1"); err != nil {
		t.Fatalf("play: %v", err)
	}
	sync(t, alice)
}

func TestMediaPlaybackAdminOnly(t *testing.T) {
	_, _, url := newTestServer(t, testConfig())

	alice, _ := connect(t, url, aliceToken)
	bob, _ := connect(t, url, bobToken)
	sync(t, bob)
	expectNext(t, alice, protocol.OpUserOnline)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Non-admin steering is ignored.
	err := alice.Send(ctx, protocol.OpMediaPlay, map[string]any{"media_id": "m1", "position": 0})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	sync(t, alice)

	// Admin steering reaches everyone.
	err = bob.Send(ctx, protocol.OpMediaPlay, map[string]any{"media_id": "m1", "position": 30})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, cl := range []*client.Client{alice, bob} {
		env := expectNext(t, cl, protocol.OpMediaPlayback)
		var mp types.MediaPlayback
		if err := json.Unmarshal(env.Data, &mp); err != nil {
			t.Fatalf("decode media playback: %v", err)
		}
		if mp.MediaID != "m1" || !mp.Playing || mp.Position != 30 {
			t.Fatalf("unexpected media state: %+v", mp)
		}
	}

	if err := bob.Send(ctx, protocol.OpMediaStop, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	env := expectNext(t, alice, protocol.OpMediaPlayback)
	if string(env.Data) != "null" {
		t.Fatalf("expected null media payload, got %s", env.Data)
	}
}

func TestReadyIncludesExistingOnlineUsers(t *testing.T) {
	_, _, url := newTestServer(t, testConfig())

	connect(t, url, aliceToken)
	_, ready := connect(t, url, bobToken)

	ids := map[string]bool{}
	for _, u := range ready.OnlineUsers {
		ids[u.ID] = true
	}
	if !ids[aliceID] || !ids[bobID] {
		t.Fatalf("expected both users in the second ready, got %+v", ready.OnlineUsers)
	}
}

func TestUserApprovedAnnouncement(t *testing.T) {
	h, _, url := newTestServer(t, testConfig())

	alice, _ := connect(t, url, aliceToken)

	h.AnnounceUserApproved(types.User{ID: bobID, Username: "bob"})

	env := expectNext(t, alice, protocol.OpUserApproved)
	var approved struct {
		User types.User `json:"user"`
	}
	if err := json.Unmarshal(env.Data, &approved); err != nil {
		t.Fatalf("decode user_approved: %v", err)
	}
	if approved.User.ID != bobID {
		t.Fatalf("expected bob approved, got %+v", approved.User)
	}
}

func TestMentionPreviewTruncatesOnRunes(t *testing.T) {
	_, _, url := newTestServer(t, testConfig())

	alice, _ := connect(t, url, aliceToken)
	bob, _ := connect(t, url, bobToken)
	sync(t, bob)
	expectNext(t, alice, protocol.OpUserOnline)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	content := "<@" + bobID + "> " + strings.Repeat("é", 100)
	if err := alice.SendMessage(ctx, "ch1", content); err != nil {
		t.Fatalf("send message: %v", err)
	}

	env := expectNext(t, bob, protocol.OpNotificationCreate)
	var notif types.Notification
	if err := json.Unmarshal(env.Data, &notif); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	var notifData struct {
		ContentPreview string `json:"content_preview"`
	}
	if err := json.Unmarshal(notif.Data, &notifData); err != nil {
		t.Fatalf("decode notification data: %v", err)
	}

	if !utf8.ValidString(notifData.ContentPreview) {
		t.Fatal("preview is not valid UTF-8")
	}
	if !strings.HasSuffix(notifData.ContentPreview, "...") {
		t.Fatalf("long content must be truncated, got %q", notifData.ContentPreview)
	}
	if got := utf8.RuneCountInString(notifData.ContentPreview); got != 83 {
		t.Fatalf("expected 80 runes plus ellipsis, got %d", got)
	}
	if !strings.HasPrefix(content, strings.TrimSuffix(notifData.ContentPreview, "...")) {
		t.Fatal("preview must be a clean prefix of the content")
	}
}

func TestDisconnectedViewerLeavesScreenSession(t *testing.T) {
	rl, _, url := newTestServerWithRelay(t, testConfig())

	alice, _ := connect(t, url, aliceToken)
	bob, _ := connect(t, url, bobToken)
	sync(t, bob)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := alice.JoinVoice(ctx, "ch2"); err != nil {
		t.Fatalf("join voice: %v", err)
	}
	if _, err := alice.WaitFor(ctx, protocol.OpWebRTCOffer); err != nil {
		t.Fatalf("voice offer: %v", err)
	}

	if err := alice.Send(ctx, protocol.OpScreenShareStart, nil); err != nil {
		t.Fatalf("share start: %v", err)
	}
	if _, err := alice.WaitFor(ctx, protocol.OpWebRTCScreenOffer); err != nil {
		t.Fatalf("presenter offer: %v", err)
	}

	if err := bob.Send(ctx, protocol.OpScreenShareSubscribe, map[string]string{"channel_id": "ch2"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := bob.WaitFor(ctx, protocol.OpWebRTCScreenOffer); err != nil {
		t.Fatalf("viewer offer: %v", err)
	}

	sess := rl.ScreenSessionFor("ch2")
	if sess == nil || sess.ViewerCount() != 1 {
		t.Fatal("expected one viewer before the disconnect")
	}

	bob.Close()

	deadline := time.Now().Add(5 * time.Second)
	for sess.ViewerCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("viewer leg survived the disconnect, count %d", sess.ViewerCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStationModeControlsPlaylistEnd(t *testing.T) {
	_, mem, url := newTestServer(t, testConfig())
	mem.Stations["st1"] = &types.RadioStation{ID: "st1", Name: "late night", PlaybackMode: "play_all"}
	mem.StationMgrs["st1"] = map[string]bool{aliceID: true}
	mem.Playlists["pl1"] = &types.RadioPlaylist{
		ID: "pl1", Name: "mix", UserID: aliceID, StationID: "st1",
		Tracks: []types.RadioTrack{{ID: "t1", Filename: "one.opus", Duration: 180}},
	}

	alice, _ := connect(t, url, aliceToken)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := alice.Send(ctx, protocol.OpSetRadioStationMode, map[string]string{
		"station_id": "st1", "mode": "loop_one",
	})
	if err != nil {
		t.Fatalf("set mode: %v", err)
	}
	env := expectNext(t, alice, protocol.OpRadioStationUpdate)
	var station types.RadioStation
	if err := json.Unmarshal(env.Data, &station); err != nil {
		t.Fatalf("decode station update: %v", err)
	}
	if station.ID != "st1" || station.PlaybackMode != "loop_one" {
		t.Fatalf("unexpected station update: %+v", station)
	}

	if err := alice.RadioTune(ctx, "st1"); err != nil {
		t.Fatalf("tune: %v", err)
	}
	expectNext(t, alice, protocol.OpRadioListeners)
	if err := alice.RadioPlay(ctx, "st1", "pl1"); err != nil {
		t.Fatalf("play: %v", err)
	}
	expectNext(t, alice, protocol.OpRadioPlayback)

	// Skipping past the only track restarts the playlist instead of stopping.
	err = alice.Send(ctx, protocol.OpRadioSkip, map[string]string{"station_id": "st1"})
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	env = expectNext(t, alice, protocol.OpRadioPlayback)
	var pb types.RadioPlayback
	if err := json.Unmarshal(env.Data, &pb); err != nil {
		t.Fatalf("decode playback: %v", err)
	}
	if pb.Stopped || !pb.Playing || pb.TrackIndex != 0 || pb.Track.ID != "t1" {
		t.Fatalf("expected the playlist to loop, got %+v", pb)
	}
}

func TestStationModeValidation(t *testing.T) {
	_, mem, url := newTestServer(t, testConfig())
	mem.Stations["st1"] = &types.RadioStation{ID: "st1", Name: "late night", PlaybackMode: "play_all"}
	mem.StationMgrs["st1"] = map[string]bool{bobID: true}

	alice, _ := connect(t, url, aliceToken)
	bob, _ := connect(t, url, bobToken)
	sync(t, bob)
	expectNext(t, alice, protocol.OpUserOnline)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Alice manages nothing; her request is silently dropped.
	err := alice.Send(ctx, protocol.OpSetRadioStationMode, map[string]string{
		"station_id": "st1", "mode": "loop_all",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	sync(t, alice)

	// An unknown mode never reaches the store, manager or not.
	err = bob.Send(ctx, protocol.OpSetRadioStationMode, map[string]string{
		"station_id": "st1", "mode": "shuffle",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	sync(t, bob)

	if got, _ := mem.RadioStationByID("st1"); got.PlaybackMode != "play_all" {
		t.Fatalf("station mode changed to %q", got.PlaybackMode)
	}
}

func TestTypingExcludesSender(t *testing.T) {
	_, _, url := newTestServer(t, testConfig())

	alice, _ := connect(t, url, aliceToken)
	bob, _ := connect(t, url, bobToken)
	sync(t, bob)
	expectNext(t, alice, protocol.OpUserOnline)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := alice.Send(ctx, protocol.OpTypingStart, map[string]string{"channel_id": "ch1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	expectNext(t, bob, protocol.OpTypingStart)
	sync(t, alice)
}
