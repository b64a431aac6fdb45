package playback_test

import (
	"sync"
	"testing"
	"time"

	"parlor/internal/playback"
	"parlor/internal/types"
)

func testTracks() []types.RadioTrack {
	return []types.RadioTrack{
		{ID: "t1", Filename: "one.opus", Duration: 180, Position: 0},
		{ID: "t2", Filename: "two.opus", Duration: 240, Position: 1},
	}
}

// collector records every emitted playback state so tests can assert on the
// broadcast stream.
type collector struct {
	mu     sync.Mutex
	states []types.RadioPlayback
}

func (c *collector) record(state types.RadioPlayback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, state)
}

func (c *collector) last() types.RadioPlayback {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.states) == 0 {
		return types.RadioPlayback{}
	}
	return c.states[len(c.states)-1]
}

func newTestEngine(t *testing.T) (*playback.Engine, *playback.MockClock, *collector) {
	t.Helper()
	clock := playback.NewMockClock(time.Unix(1_700_000_000, 0))
	eng := playback.NewEngine(clock)
	col := &collector{}
	eng.OnChange = col.record
	// Tests drive advancement explicitly.
	eng.SetAfterFunc(func(d time.Duration, f func()) *time.Timer {
		return time.AfterFunc(time.Hour, func() {})
	})
	return eng, clock, col
}

func TestPositionDerivedFromAnchor(t *testing.T) {
	eng, clock, _ := newTestEngine(t)
	eng.Play("st1", "pl1", "u1", testTracks())

	eng.Seek("st1", 60)
	clock.Advance(10 * time.Second)

	pos, ok := eng.Position("st1")
	if !ok {
		t.Fatal("expected active surface")
	}
	if pos != 70 {
		t.Fatalf("expected derived position 70, got %v", pos)
	}
}

func TestPauseFreezesPosition(t *testing.T) {
	eng, clock, col := newTestEngine(t)
	eng.Play("st1", "pl1", "u1", testTracks())

	clock.Advance(60 * time.Second)
	eng.Pause("st1")

	state := col.last()
	if state.Playing {
		t.Fatal("expected paused state")
	}
	if state.Position != 60 {
		t.Fatalf("expected server-computed position 60, got %v", state.Position)
	}

	clock.Advance(30 * time.Second)
	pos, _ := eng.Position("st1")
	if pos != 60 {
		t.Fatalf("paused position must not drift, got %v", pos)
	}
}

func TestResumeRestartsFromFrozenPosition(t *testing.T) {
	eng, clock, _ := newTestEngine(t)
	eng.Play("st1", "pl1", "u1", testTracks())

	clock.Advance(45 * time.Second)
	eng.Pause("st1")
	clock.Advance(5 * time.Minute)
	eng.Resume("st1")
	clock.Advance(15 * time.Second)

	pos, _ := eng.Position("st1")
	if pos != 60 {
		t.Fatalf("expected position 60 after resume, got %v", pos)
	}
}

func TestResumeWhilePlayingIsNoAnchorReset(t *testing.T) {
	eng, clock, _ := newTestEngine(t)
	eng.Play("st1", "pl1", "u1", testTracks())

	clock.Advance(20 * time.Second)
	eng.Resume("st1")
	clock.Advance(10 * time.Second)

	pos, _ := eng.Position("st1")
	if pos != 30 {
		t.Fatalf("resume on a playing surface must not rewind, got %v", pos)
	}
}

func TestSeekClampsNegative(t *testing.T) {
	eng, _, col := newTestEngine(t)
	eng.Play("st1", "pl1", "u1", testTracks())

	eng.Seek("st1", -12)
	if col.last().Position != 0 {
		t.Fatalf("expected seek clamped to 0, got %v", col.last().Position)
	}
}

func TestSkipAdvancesTrack(t *testing.T) {
	eng, clock, col := newTestEngine(t)
	eng.Play("st1", "pl1", "u1", testTracks())
	clock.Advance(30 * time.Second)

	eng.Skip("st1")

	state := col.last()
	if state.TrackIndex != 1 {
		t.Fatalf("expected track index 1, got %d", state.TrackIndex)
	}
	if state.Position != 0 || !state.Playing {
		t.Fatalf("next track must start playing at 0, got %+v", state)
	}
	if state.Track.ID != "t2" {
		t.Fatalf("expected track t2, got %s", state.Track.ID)
	}
}

func TestSkipPastLastTrackReportsPlaylistEnded(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	var endedStation, endedPlaylist, endedUser string
	eng.OnPlaylistEnded = func(stationID, playlistID, userID string) {
		endedStation, endedPlaylist, endedUser = stationID, playlistID, userID
	}

	eng.Play("st1", "pl1", "u1", testTracks())
	eng.Skip("st1")
	eng.Skip("st1")

	if endedStation != "st1" || endedPlaylist != "pl1" || endedUser != "u1" {
		t.Fatalf("expected playlist-ended callback for st1/pl1/u1, got %s/%s/%s",
			endedStation, endedPlaylist, endedUser)
	}
}

func TestAutoAdvanceAtTrackEnd(t *testing.T) {
	clock := playback.NewMockClock(time.Unix(1_700_000_000, 0))
	eng := playback.NewEngine(clock)
	col := &collector{}
	eng.OnChange = col.record

	var pending func()
	eng.SetAfterFunc(func(d time.Duration, f func()) *time.Timer {
		pending = f
		return time.AfterFunc(time.Hour, func() {})
	})

	eng.Play("st1", "pl1", "u1", testTracks())
	if pending == nil {
		t.Fatal("expected auto-advance timer armed on play")
	}

	clock.Advance(180 * time.Second)
	pending()

	state := col.last()
	if state.TrackIndex != 1 {
		t.Fatalf("expected auto-advance to track 1, got %d", state.TrackIndex)
	}
}

func TestStaleTimerDoesNotAdvance(t *testing.T) {
	clock := playback.NewMockClock(time.Unix(1_700_000_000, 0))
	eng := playback.NewEngine(clock)
	col := &collector{}
	eng.OnChange = col.record

	var fires []func()
	eng.SetAfterFunc(func(d time.Duration, f func()) *time.Timer {
		fires = append(fires, f)
		return time.AfterFunc(time.Hour, func() {})
	})

	eng.Play("st1", "pl1", "u1", testTracks())
	clock.Advance(90 * time.Second)
	eng.Seek("st1", 0)

	// The first timer belongs to the pre-seek schedule. Track time is now 90s
	// short of the end, so firing it must be a no-op.
	fires[0]()

	if col.last().TrackIndex != 0 {
		t.Fatalf("stale timer advanced the track, index %d", col.last().TrackIndex)
	}
}

func TestSeekSupersedesArmedTimer(t *testing.T) {
	clock := playback.NewMockClock(time.Unix(1_700_000_000, 0))
	eng := playback.NewEngine(clock)
	col := &collector{}
	eng.OnChange = col.record

	var fires []func()
	eng.SetAfterFunc(func(d time.Duration, f func()) *time.Timer {
		fires = append(fires, f)
		return time.AfterFunc(time.Hour, func() {})
	})

	eng.Play("st1", "pl1", "u1", testTracks())
	// The seek lands inside the end epsilon, so a position check alone would
	// still let the pre-seek timer advance the track.
	eng.Seek("st1", 179.97)

	fires[0]()

	if col.last().TrackIndex != 0 {
		t.Fatalf("superseded timer advanced the track, index %d", col.last().TrackIndex)
	}

	// The schedule armed by the seek is current and advances normally.
	clock.Advance(time.Second)
	fires[len(fires)-1]()
	if col.last().TrackIndex != 1 {
		t.Fatalf("expected the current timer to advance, index %d", col.last().TrackIndex)
	}
}

func TestStopBroadcastsStoppedState(t *testing.T) {
	eng, _, col := newTestEngine(t)
	eng.Play("st1", "pl1", "u1", testTracks())

	eng.Stop("st1")

	state := col.last()
	if !state.Stopped || state.StationID != "st1" {
		t.Fatalf("expected stopped broadcast for st1, got %+v", state)
	}
	if _, ok := eng.Position("st1"); ok {
		t.Fatal("surface must be gone after stop")
	}
}

func TestMutationsOnUnknownStationAreNoOps(t *testing.T) {
	eng, _, col := newTestEngine(t)

	eng.Pause("nope")
	eng.Resume("nope")
	eng.Seek("nope", 10)
	eng.Skip("nope")
	eng.Stop("nope")

	if len(col.states) != 0 {
		t.Fatalf("expected no broadcasts, got %d", len(col.states))
	}
}

func TestClearIfPlaylist(t *testing.T) {
	eng, _, col := newTestEngine(t)
	eng.Play("st1", "pl1", "u1", testTracks())
	eng.Play("st2", "pl2", "u1", testTracks())

	cleared := eng.ClearIfPlaylist("pl1")

	if len(cleared) != 1 || cleared[0] != "st1" {
		t.Fatalf("expected st1 cleared, got %v", cleared)
	}
	if !col.last().Stopped || col.last().StationID != "st1" {
		t.Fatalf("expected stopped broadcast for st1, got %+v", col.last())
	}
	if _, ok := eng.Position("st2"); !ok {
		t.Fatal("st2 must keep playing")
	}
}

func TestSnapshotSorted(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Play("st2", "pl2", "u1", testTracks())
	eng.Play("st1", "pl1", "u1", testTracks())

	states := eng.Snapshot()
	if len(states) != 2 {
		t.Fatalf("expected 2 surfaces, got %d", len(states))
	}
	if states[0].StationID != "st1" || states[1].StationID != "st2" {
		t.Fatalf("snapshot not sorted: %s, %s", states[0].StationID, states[1].StationID)
	}
}

func TestTuneMovesListenerBetweenStations(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	changed := eng.Tune("u1", "st1")
	if len(changed) != 1 || changed[0] != "st1" {
		t.Fatalf("expected only st1 changed, got %v", changed)
	}

	changed = eng.Tune("u1", "st2")
	if len(changed) != 2 {
		t.Fatalf("expected both stations changed, got %v", changed)
	}

	if got := eng.ListenersOf("st1"); len(got) != 0 {
		t.Fatalf("st1 should have no listeners, got %v", got)
	}
	if got := eng.ListenersOf("st2"); len(got) != 1 || got[0] != "u1" {
		t.Fatalf("st2 should have u1, got %v", got)
	}
}

func TestUntune(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Tune("u1", "st1")

	stationID, ok := eng.Untune("u1")
	if !ok || stationID != "st1" {
		t.Fatalf("expected untune from st1, got %q %v", stationID, ok)
	}
	if _, ok := eng.Untune("u1"); ok {
		t.Fatal("second untune must report no station")
	}
}

func TestAllListenersGroupsByStation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Tune("u2", "st1")
	eng.Tune("u1", "st1")
	eng.Tune("u3", "st2")

	all := eng.AllListeners()
	if got := all["st1"]; len(got) != 2 || got[0] != "u1" || got[1] != "u2" {
		t.Fatalf("expected sorted [u1 u2] on st1, got %v", got)
	}
	if got := all["st2"]; len(got) != 1 || got[0] != "u3" {
		t.Fatalf("expected [u3] on st2, got %v", got)
	}
}

func TestPlayEmptyTrackListIgnored(t *testing.T) {
	eng, _, col := newTestEngine(t)
	eng.Play("st1", "pl1", "u1", nil)

	if len(col.states) != 0 {
		t.Fatal("empty playlist must not start playback")
	}
}
