package playback

import (
	"log"
	"sort"
	"sync"
	"time"

	"parlor/internal/types"
)

// Station end-of-playlist modes.
const (
	ModePlayAll = "play_all"
	ModeLoopOne = "loop_one"
	ModeLoopAll = "loop_all"
	ModeSingle  = "single"
)

type surface struct {
	playlistID string
	trackIndex int
	playing    bool
	position   float64 // seconds, authoritative at anchor
	anchor     time.Time
	userID     string
	tracks     []types.RadioTrack
	timer      *time.Timer

	// gen is bumped on every mutation; an armed timer carries the generation
	// it was scheduled under and is a no-op once they diverge.
	gen uint64
}

// livePosition derives the current position without mutating the anchor.
// Position is only ever read this way while playing; a paused surface reports
// its frozen position.
func (s *surface) livePosition(now time.Time) float64 {
	if !s.playing {
		return s.position
	}
	return s.position + now.Sub(s.anchor).Seconds()
}

func (s *surface) track() types.RadioTrack {
	if s.trackIndex >= 0 && s.trackIndex < len(s.tracks) {
		return s.tracks[s.trackIndex]
	}
	return types.RadioTrack{}
}

// Engine owns the authoritative play/pause/position state for every radio
// station surface, plus the station listener sets. All mutation happens under
// one mutex held only for the duration of the state change; broadcast
// callbacks run after the lock is released so slow consumers cannot stall the
// mutation path.
type Engine struct {
	mu        sync.Mutex
	clock     Clock
	surfaces  map[string]*surface // stationID → state
	listeners map[string]string   // userID → stationID

	// OnChange is invoked with the new wire state after every mutation;
	// Stopped=true signals a cleared surface.
	OnChange func(state types.RadioPlayback)
	// OnPlaylistEnded fires when auto-advance exhausts the current track list.
	// The owner resolves the station's end-of-track mode and either starts the
	// next playlist or stops the surface.
	OnPlaylistEnded func(stationID, playlistID, userID string)

	// afterFunc is swappable so tests can intercept auto-advance scheduling.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewEngine(clock Clock) *Engine {
	return &Engine{
		clock:     clock,
		surfaces:  make(map[string]*surface),
		listeners: make(map[string]string),
		afterFunc: time.AfterFunc,
	}
}

// SetAfterFunc replaces the auto-advance scheduler. Test hook.
func (e *Engine) SetAfterFunc(f func(d time.Duration, f func()) *time.Timer) {
	e.afterFunc = f
}

// Play replaces the surface's state with the given playlist starting at track
// zero and broadcasts it.
func (e *Engine) Play(stationID, playlistID, userID string, tracks []types.RadioTrack) {
	if len(tracks) == 0 {
		return
	}
	e.mu.Lock()
	e.stopTimerLocked(stationID)
	var gen uint64
	if prev, ok := e.surfaces[stationID]; ok {
		gen = prev.gen + 1
	}
	s := &surface{
		playlistID: playlistID,
		trackIndex: 0,
		playing:    true,
		position:   0,
		anchor:     e.clock.Now(),
		userID:     userID,
		tracks:     tracks,
		gen:        gen,
	}
	e.surfaces[stationID] = s
	e.scheduleLocked(stationID, s)
	state := e.wireStateLocked(stationID, s)
	e.mu.Unlock()

	e.emit(state)
}

// Pause freezes the derived position. The server recomputes it from the
// anchor; clients never supply positions.
func (e *Engine) Pause(stationID string) {
	e.mutate(stationID, func(s *surface, now time.Time) {
		s.position = s.livePosition(now)
		s.playing = false
		s.anchor = now
	})
}

func (e *Engine) Resume(stationID string) {
	e.mutate(stationID, func(s *surface, now time.Time) {
		if !s.playing {
			s.playing = true
			s.anchor = now
		}
	})
}

func (e *Engine) Seek(stationID string, position float64) {
	if position < 0 {
		position = 0
	}
	e.mutate(stationID, func(s *surface, now time.Time) {
		s.position = position
		s.anchor = now
	})
}

// Skip advances to the next track, or reports playlist exhaustion to the
// owner when the current track was the last.
func (e *Engine) Skip(stationID string) {
	e.advance(stationID, nil)
}

// Stop clears the surface and broadcasts a stopped payload.
func (e *Engine) Stop(stationID string) {
	e.mu.Lock()
	_, ok := e.surfaces[stationID]
	if !ok {
		e.mu.Unlock()
		return
	}
	e.stopTimerLocked(stationID)
	delete(e.surfaces, stationID)
	e.mu.Unlock()

	e.emit(types.RadioPlayback{StationID: stationID, Stopped: true})
}

// ClearIfPlaylist stops every surface currently playing the given playlist
// and returns the affected station ids. Used when the active playlist is
// deleted out from under a station.
func (e *Engine) ClearIfPlaylist(playlistID string) []string {
	e.mu.Lock()
	var cleared []string
	for stationID, s := range e.surfaces {
		if s.playlistID == playlistID {
			e.stopTimerLocked(stationID)
			delete(e.surfaces, stationID)
			cleared = append(cleared, stationID)
		}
	}
	e.mu.Unlock()

	for _, stationID := range cleared {
		e.emit(types.RadioPlayback{StationID: stationID, Stopped: true})
	}
	return cleared
}

// Position reports the derived live position of a surface.
func (e *Engine) Position(stationID string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.surfaces[stationID]
	if !ok {
		return 0, false
	}
	return s.livePosition(e.clock.Now()), true
}

// Snapshot returns the wire state of every active surface, for the ready
// payload.
func (e *Engine) Snapshot() []types.RadioPlayback {
	e.mu.Lock()
	defer e.mu.Unlock()
	states := []types.RadioPlayback{}
	for stationID, s := range e.surfaces {
		states = append(states, e.wireStateLocked(stationID, s))
	}
	sort.Slice(states, func(i, j int) bool { return states[i].StationID < states[j].StationID })
	return states
}

func (e *Engine) State(stationID string) (types.RadioPlayback, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.surfaces[stationID]
	if !ok {
		return types.RadioPlayback{}, false
	}
	return e.wireStateLocked(stationID, s), true
}

// --- listeners ---

// Tune moves a user onto a station, leaving any previous one. It returns the
// stations whose listener sets changed.
func (e *Engine) Tune(userID, stationID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := []string{stationID}
	if prev, ok := e.listeners[userID]; ok && prev != stationID {
		changed = append(changed, prev)
	}
	e.listeners[userID] = stationID
	return changed
}

// Untune removes a user's listener entry, returning the station they left,
// if any.
func (e *Engine) Untune(userID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stationID, ok := e.listeners[userID]
	if ok {
		delete(e.listeners, userID)
	}
	return stationID, ok
}

func (e *Engine) ListenersOf(stationID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := []string{}
	for userID, sid := range e.listeners {
		if sid == stationID {
			ids = append(ids, userID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) AllListeners() map[string][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string][]string)
	for userID, stationID := range e.listeners {
		out[stationID] = append(out[stationID], userID)
	}
	for _, ids := range out {
		sort.Strings(ids)
	}
	return out
}

// --- internals ---

func (e *Engine) mutate(stationID string, fn func(s *surface, now time.Time)) {
	e.mu.Lock()
	s, ok := e.surfaces[stationID]
	if !ok {
		e.mu.Unlock()
		return
	}
	fn(s, e.clock.Now())
	s.gen++
	e.stopTimerLocked(stationID)
	e.scheduleLocked(stationID, s)
	state := e.wireStateLocked(stationID, s)
	e.mu.Unlock()

	e.emit(state)
}

// advance moves a surface to its next track; at the end of the track list it
// defers to OnPlaylistEnded. A non-nil gen is the generation the caller
// observed; the advance is dropped when a concurrent mutation has bumped it.
func (e *Engine) advance(stationID string, gen *uint64) {
	e.mu.Lock()
	s, ok := e.surfaces[stationID]
	if !ok || (gen != nil && s.gen != *gen) {
		e.mu.Unlock()
		return
	}
	e.stopTimerLocked(stationID)

	next := s.trackIndex + 1
	if next < len(s.tracks) {
		s.trackIndex = next
		s.position = 0
		s.playing = true
		s.anchor = e.clock.Now()
		s.gen++
		e.scheduleLocked(stationID, s)
		state := e.wireStateLocked(stationID, s)
		e.mu.Unlock()
		e.emit(state)
		return
	}

	playlistID, userID := s.playlistID, s.userID
	e.mu.Unlock()

	if e.OnPlaylistEnded != nil {
		e.OnPlaylistEnded(stationID, playlistID, userID)
	} else {
		e.Stop(stationID)
	}
}

// scheduleLocked arms the auto-advance timer for the moment the current track
// would end. Caller holds the mutex.
func (e *Engine) scheduleLocked(stationID string, s *surface) {
	if !s.playing {
		return
	}
	track := s.track()
	if track.Duration <= 0 {
		return
	}
	remaining := track.Duration - s.livePosition(e.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	gen := s.gen
	s.timer = e.afterFunc(time.Duration(remaining*float64(time.Second)), func() {
		e.onTrackEnd(stationID, gen)
	})
}

// onTrackEnd re-validates before advancing: a seek or pause may have landed
// after the timer was armed. The generation carries through to advance so a
// mutation slipping in between the two lock acquisitions also voids the fire.
func (e *Engine) onTrackEnd(stationID string, gen uint64) {
	e.mu.Lock()
	s, ok := e.surfaces[stationID]
	if !ok || s.gen != gen {
		e.mu.Unlock()
		return
	}
	track := s.track()
	ended := s.playing && track.Duration > 0 &&
		s.livePosition(e.clock.Now()) >= track.Duration-0.05
	e.mu.Unlock()

	if ended {
		e.advance(stationID, &gen)
	}
}

func (e *Engine) stopTimerLocked(stationID string) {
	if s, ok := e.surfaces[stationID]; ok && s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (e *Engine) wireStateLocked(stationID string, s *surface) types.RadioPlayback {
	return types.RadioPlayback{
		StationID:  stationID,
		PlaylistID: s.playlistID,
		TrackIndex: s.trackIndex,
		Track:      s.track(),
		Playing:    s.playing,
		Position:   s.position,
		UpdatedAt:  unix(s.anchor),
		UserID:     s.userID,
	}
}

func (e *Engine) emit(state types.RadioPlayback) {
	if e.OnChange == nil {
		return
	}
	e.OnChange(state)
	if state.Stopped {
		log.Printf("playback: station %s stopped", state.StationID)
	}
}
