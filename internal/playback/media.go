package playback

import (
	"sync"

	"parlor/internal/types"
)

// MediaSession is the single shared-media playback surface. Same anchor
// discipline as the station surfaces, without a track list: the catalog item
// carries no duration, so there is no auto-advance.
type MediaSession struct {
	mu    sync.RWMutex
	clock Clock
	state *types.MediaPlayback
}

func NewMediaSession(clock Clock) *MediaSession {
	return &MediaSession{clock: clock}
}

func (m *MediaSession) Play(mediaID string, position float64) *types.MediaPlayback {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &types.MediaPlayback{
		MediaID:   mediaID,
		Playing:   true,
		Position:  position,
		UpdatedAt: unix(m.clock.Now()),
	}
	cp := *m.state
	return &cp
}

func (m *MediaSession) Pause() *types.MediaPlayback {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil
	}
	now := m.clock.Now()
	if m.state.Playing {
		m.state.Position += unix(now) - m.state.UpdatedAt
		m.state.Playing = false
	}
	m.state.UpdatedAt = unix(now)
	cp := *m.state
	return &cp
}

func (m *MediaSession) Seek(position float64) *types.MediaPlayback {
	if position < 0 {
		position = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil
	}
	m.state.Position = position
	m.state.UpdatedAt = unix(m.clock.Now())
	cp := *m.state
	return &cp
}

func (m *MediaSession) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
}

// ClearIf clears the session when it is playing the given media item,
// reporting whether anything changed. Hook for catalog deletions.
func (m *MediaSession) ClearIf(mediaID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil || m.state.MediaID != mediaID {
		return false
	}
	m.state = nil
	return true
}

func (m *MediaSession) Snapshot() *types.MediaPlayback {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil
	}
	cp := *m.state
	return &cp
}
