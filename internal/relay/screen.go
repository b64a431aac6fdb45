package relay

import (
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"

	"parlor/pkg/protocol"
)

// ScreenSession carries one presenter's capture to any number of viewers.
// Video and screen audio arrive on the presenter leg and are re-published on
// two shared local tracks; viewer legs only ever receive.
type ScreenSession struct {
	ChannelID   string
	PresenterID string

	relay       *Relay
	mu          sync.RWMutex
	presenterPC *webrtc.PeerConnection
	videoTrack  *webrtc.TrackLocalStaticRTP
	audioTrack  *webrtc.TrackLocalStaticRTP
	viewers     map[string]*viewer // userID
	stopped     bool
}

type viewer struct {
	userID string
	pc     *webrtc.PeerConnection

	mu                   sync.Mutex
	pendingRenegotiation bool
}

func newScreenSession(channelID, presenterID string, relay *Relay) *ScreenSession {
	return &ScreenSession{
		ChannelID:   channelID,
		PresenterID: presenterID,
		relay:       relay,
		viewers:     make(map[string]*viewer),
	}
}

// negotiatePresenter builds the presenter's recv-only peer connection and
// sends the initial offer.
func (s *ScreenSession) negotiatePresenter() error {
	pc, err := s.relay.screenAPI.NewPeerConnection(s.relay.config)
	if err != nil {
		return fmt.Errorf("presenter peer connection: %w", err)
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		_, err = pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			pc.Close()
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("relay/screen: channel %s got %s track from %s", s.ChannelID, remote.Kind(), s.PresenterID)

		outbound, err := webrtc.NewTrackLocalStaticRTP(
			remote.Codec().RTPCodecCapability, remote.ID(), remote.StreamID(),
		)
		if err != nil {
			log.Printf("relay/screen: outbound track: %v", err)
			return
		}

		s.mu.Lock()
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			s.videoTrack = outbound
		} else {
			s.audioTrack = outbound
		}
		s.mu.Unlock()

		s.fanOutToViewers(outbound)

		go func() {
			buf := make([]byte, 1500)
			for {
				n, _, err := remote.Read(buf)
				if err != nil {
					return
				}
				if _, err := outbound.Write(buf[:n]); err != nil {
					return
				}
			}
		}()
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		s.relay.signalICE(s.PresenterID, protocol.OpWebRTCScreenICE, c)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("relay/screen: presenter %s: %s", s.PresenterID, state)
		if state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			s.relay.StopScreenShare(s.ChannelID)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("presenter offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return fmt.Errorf("presenter local description: %w", err)
	}

	s.mu.Lock()
	s.presenterPC = pc
	s.mu.Unlock()

	s.relay.signalOffer(s.PresenterID, protocol.OpWebRTCScreenOffer, offer.SDP)
	s.relay.watchNegotiation("screen presenter", s.PresenterID, pc)
	return nil
}

// AddViewer negotiates a recv-only leg for a watcher. Tracks that already
// exist are attached before the offer; later tracks arrive via
// fanOutToViewers and renegotiation.
func (s *ScreenSession) AddViewer(userID string) error {
	pc, err := s.relay.screenAPI.NewPeerConnection(s.relay.config)
	if err != nil {
		return fmt.Errorf("viewer peer connection: %w", err)
	}

	v := &viewer{userID: userID, pc: pc}

	s.mu.RLock()
	tracks := []*webrtc.TrackLocalStaticRTP{s.videoTrack, s.audioTrack}
	s.mu.RUnlock()

	for _, track := range tracks {
		if track == nil {
			continue
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			log.Printf("relay/screen: add track to viewer %s: %v", userID, err)
			continue
		}
		go drainRTCP(sender)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		s.relay.signalICE(userID, protocol.OpWebRTCScreenICE, c)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("relay/screen: viewer %s: %s", userID, state)
		if state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			s.removeViewerLeg(v)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("viewer offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return fmt.Errorf("viewer local description: %w", err)
	}

	s.mu.Lock()
	prev := s.viewers[userID]
	s.viewers[userID] = v
	s.mu.Unlock()

	// A resubscribe replaces the leg; the displaced peer connection must not
	// outlive its map entry.
	if prev != nil {
		prev.pc.Close()
	}

	s.relay.signalOffer(userID, protocol.OpWebRTCScreenOffer, offer.SDP)
	s.relay.watchNegotiation("screen viewer", userID, pc)
	return nil
}

func (s *ScreenSession) RemoveViewer(userID string) {
	s.mu.Lock()
	v, ok := s.viewers[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.viewers, userID)
	s.mu.Unlock()

	v.pc.Close()
}

// removeViewerLeg drops one specific leg. A leg displaced by a resubscribe no
// longer owns the map entry and must not evict its replacement.
func (s *ScreenSession) removeViewerLeg(v *viewer) {
	s.mu.Lock()
	cur, ok := s.viewers[v.userID]
	if !ok || cur != v {
		s.mu.Unlock()
		return
	}
	delete(s.viewers, v.userID)
	s.mu.Unlock()

	v.pc.Close()
}

// stop closes every leg exactly once.
func (s *ScreenSession) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	closing := make([]*viewer, 0, len(s.viewers))
	for _, v := range s.viewers {
		closing = append(closing, v)
	}
	s.viewers = make(map[string]*viewer)
	pc := s.presenterPC
	s.presenterPC = nil
	s.mu.Unlock()

	for _, v := range closing {
		v.pc.Close()
	}
	if pc != nil {
		pc.Close()
	}
}

func (s *ScreenSession) handleAnswer(userID, sdp string) {
	s.mu.RLock()
	var pc *webrtc.PeerConnection
	var v *viewer
	if userID == s.PresenterID {
		pc = s.presenterPC
	} else if vw, ok := s.viewers[userID]; ok {
		v, pc = vw, vw.pc
	}
	s.mu.RUnlock()

	if pc == nil {
		return
	}

	err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		log.Printf("relay/screen: set remote description for %s: %v", userID, err)
		return
	}

	if v != nil {
		v.mu.Lock()
		pending := v.pendingRenegotiation
		v.pendingRenegotiation = false
		v.mu.Unlock()
		if pending {
			s.renegotiateViewer(v)
		}
	}
}

func (s *ScreenSession) handleICE(userID string, candidate webrtc.ICECandidateInit) {
	s.mu.RLock()
	var pc *webrtc.PeerConnection
	if userID == s.PresenterID {
		pc = s.presenterPC
	} else if v, ok := s.viewers[userID]; ok {
		pc = v.pc
	}
	s.mu.RUnlock()

	if pc == nil {
		return
	}
	if err := pc.AddICECandidate(candidate); err != nil {
		log.Printf("relay/screen: add ICE for %s: %v", userID, err)
	}
}

func (s *ScreenSession) hasViewer(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.viewers[userID]
	return ok
}

func (s *ScreenSession) ViewerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.viewers)
}

func (s *ScreenSession) fanOutToViewers(track *webrtc.TrackLocalStaticRTP) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for uid, v := range s.viewers {
		sender, err := v.pc.AddTrack(track)
		if err != nil {
			log.Printf("relay/screen: add track to viewer %s: %v", uid, err)
			continue
		}
		go drainRTCP(sender)

		s.renegotiateViewer(v)
	}
}

func (s *ScreenSession) renegotiateViewer(v *viewer) {
	v.mu.Lock()
	if v.pc.SignalingState() != webrtc.SignalingStateStable {
		v.pendingRenegotiation = true
		v.mu.Unlock()
		log.Printf("relay/screen: renegotiation for viewer %s deferred (state=%s)", v.userID, v.pc.SignalingState())
		return
	}
	v.pendingRenegotiation = false
	v.mu.Unlock()

	offer, err := v.pc.CreateOffer(nil)
	if err != nil {
		log.Printf("relay/screen: renegotiate offer for viewer %s: %v", v.userID, err)
		return
	}
	if err := v.pc.SetLocalDescription(offer); err != nil {
		log.Printf("relay/screen: set local description for viewer %s: %v", v.userID, err)
		return
	}
	s.relay.signalOffer(v.userID, protocol.OpWebRTCScreenOffer, offer.SDP)
}
