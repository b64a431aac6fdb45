package relay

import (
	"log"
	"sync"

	"github.com/pion/webrtc/v4"

	"parlor/internal/types"
	"parlor/pkg/protocol"
)

// Room fans every participant's audio out to every other participant in one
// voice channel.
type Room struct {
	ChannelID string

	relay        *Relay
	mu           sync.RWMutex
	participants map[string]*Participant // userID
}

func newRoom(channelID string, relay *Relay) *Room {
	return &Room{
		ChannelID:    channelID,
		relay:        relay,
		participants: make(map[string]*Participant),
	}
}

// Join creates the participant's peer connection, wires forwarding in both
// directions and sends the initial offer. The participant is published to the
// map only after the local offer is set, so concurrent renegotiation attempts
// observe a non-stable signaling state and defer.
func (r *Room) Join(userID string) (*Participant, error) {
	pc, err := r.relay.voiceAPI.NewPeerConnection(r.relay.config)
	if err != nil {
		return nil, err
	}

	p := &Participant{
		UserID:    userID,
		ChannelID: r.ChannelID,
		pc:        pc,
		room:      r,
	}

	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		pc.Close()
		return nil, err
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("relay: room %s receiving audio from %s", r.ChannelID, userID)

		outbound, err := webrtc.NewTrackLocalStaticRTP(
			remote.Codec().RTPCodecCapability, remote.ID(), remote.StreamID(),
		)
		if err != nil {
			log.Printf("relay: outbound track for %s: %v", userID, err)
			return
		}

		p.mu.Lock()
		p.outbound = outbound
		p.mu.Unlock()

		r.fanOut(userID, outbound)

		go p.forward(remote, outbound)
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		r.relay.signalICE(userID, protocol.OpWebRTCICE, c)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("relay: room %s participant %s: %s", r.ChannelID, userID, state)
		if state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			r.Leave(userID)
		}
	})

	// Give the newcomer every track already flowing in the room.
	r.mu.RLock()
	for otherID, other := range r.participants {
		if otherID == userID {
			continue
		}
		other.mu.RLock()
		outbound := other.outbound
		other.mu.RUnlock()
		if outbound == nil {
			continue
		}
		sender, err := pc.AddTrack(outbound)
		if err != nil {
			log.Printf("relay: add track from %s to %s: %v", otherID, userID, err)
			continue
		}
		go drainRTCP(sender)
	}
	r.mu.RUnlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, err
	}

	r.mu.Lock()
	r.participants[userID] = p
	r.mu.Unlock()

	r.relay.signalOffer(userID, protocol.OpWebRTCOffer, offer.SDP)
	r.relay.watchNegotiation("voice", userID, pc)
	return p, nil
}

// Leave tears down one participant, renegotiates the rest so the departed
// track disappears, and drops the room once it is empty.
func (r *Room) Leave(userID string) {
	r.mu.Lock()
	p, ok := r.participants[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.participants, userID)
	empty := len(r.participants) == 0
	r.mu.Unlock()

	p.pc.Close()

	if r.relay.OnParticipantRemoved != nil {
		r.relay.OnParticipantRemoved(userID)
	}

	r.mu.RLock()
	for _, other := range r.participants {
		r.renegotiate(other)
	}
	r.mu.RUnlock()

	if empty {
		r.relay.removeRoom(r.ChannelID)
	}
}

// fanOut attaches a newly published track to every other participant.
func (r *Room) fanOut(fromUserID string, track *webrtc.TrackLocalStaticRTP) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for uid, p := range r.participants {
		if uid == fromUserID {
			continue
		}
		sender, err := p.pc.AddTrack(track)
		if err != nil {
			log.Printf("relay: add track from %s to %s: %v", fromUserID, uid, err)
			continue
		}
		go drainRTCP(sender)

		r.renegotiate(p)
	}
}

// renegotiate sends a fresh offer when the signaling state allows it. While
// an earlier offer is still outstanding the attempt is recorded on the
// participant and replayed from HandleAnswer.
func (r *Room) renegotiate(p *Participant) {
	p.mu.Lock()
	if p.pc.SignalingState() != webrtc.SignalingStateStable {
		p.pendingRenegotiation = true
		p.mu.Unlock()
		log.Printf("relay: renegotiation for %s deferred (state=%s)", p.UserID, p.pc.SignalingState())
		return
	}
	p.pendingRenegotiation = false
	p.mu.Unlock()

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		log.Printf("relay: renegotiate offer for %s: %v", p.UserID, err)
		return
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		log.Printf("relay: set local description for %s: %v", p.UserID, err)
		return
	}
	r.relay.signalOffer(p.UserID, protocol.OpWebRTCOffer, offer.SDP)
}

func (r *Room) HandleAnswer(userID, sdp string) {
	r.mu.RLock()
	p, ok := r.participants[userID]
	r.mu.RUnlock()
	if !ok {
		log.Printf("relay: answer from %s but no participant", userID)
		return
	}

	err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		log.Printf("relay: set remote description for %s: %v", userID, err)
		return
	}

	p.mu.Lock()
	pending := p.pendingRenegotiation
	p.pendingRenegotiation = false
	p.mu.Unlock()

	if pending {
		r.renegotiate(p)
	}
}

func (r *Room) HandleICE(userID string, candidate webrtc.ICECandidateInit) {
	r.mu.RLock()
	p, ok := r.participants[userID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := p.pc.AddICECandidate(candidate); err != nil {
		log.Printf("relay: add ICE for %s: %v", userID, err)
	}
}

func (r *Room) Participant(userID string) *Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.participants[userID]
}

func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

func (r *Room) VoiceStates() []types.VoiceState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make([]types.VoiceState, 0, len(r.participants))
	for _, p := range r.participants {
		states = append(states, p.VoiceState())
	}
	return states
}

// drainRTCP keeps a sender's RTCP stream flowing; the interceptors need the
// reports read even though the relay ignores them.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
