package relay

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"parlor/internal/types"
)

// Participant is one user's leg in a voice room: their peer connection, the
// outbound track carrying their audio to the rest of the room, and their
// mute/deafen/speaking flags.
type Participant struct {
	UserID    string
	ChannelID string

	mu                   sync.RWMutex
	pc                   *webrtc.PeerConnection
	outbound             *webrtc.TrackLocalStaticRTP
	room                 *Room
	pendingRenegotiation bool

	selfMute   bool
	selfDeafen bool
	serverMute bool
	speaking   bool
}

// forward copies RTP from the participant's remote track to the shared
// outbound track. A server mute drops packets here, at the source, so no
// other leg ever carries the audio.
func (p *Participant) forward(remote *webrtc.TrackRemote, outbound *webrtc.TrackLocalStaticRTP) {
	buf := make([]byte, 1500)
	for {
		n, _, err := remote.Read(buf)
		if err != nil {
			return
		}

		p.mu.RLock()
		muted := p.serverMute
		p.mu.RUnlock()
		if muted {
			continue
		}

		if _, err := outbound.Write(buf[:n]); err != nil {
			return
		}
	}
}

func (p *Participant) VoiceState() types.VoiceState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return types.VoiceState{
		UserID:     p.UserID,
		ChannelID:  p.ChannelID,
		SelfMute:   p.selfMute,
		SelfDeafen: p.selfDeafen,
		ServerMute: p.serverMute,
		Speaking:   p.speaking,
	}
}

func (p *Participant) SetSelfMute(muted bool) {
	p.mu.Lock()
	p.selfMute = muted
	p.mu.Unlock()
}

func (p *Participant) SetSelfDeafen(deafened bool) {
	p.mu.Lock()
	p.selfDeafen = deafened
	p.mu.Unlock()
}

func (p *Participant) SetServerMute(muted bool) {
	p.mu.Lock()
	p.serverMute = muted
	p.mu.Unlock()
}

func (p *Participant) SetSpeaking(speaking bool) {
	p.mu.Lock()
	p.speaking = speaking
	p.mu.Unlock()
}

func (p *Participant) ServerMuted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.serverMute
}
