// Package relay forwards RTP between clients in a star topology. Each voice
// channel gets a Room; each active screen share gets a ScreenSession. The
// relay never decodes media, it only re-publishes packets on local tracks.
package relay

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/webrtc/v4"

	"parlor/internal/types"
)

var ErrShareActive = errors.New("relay: screen share already active in channel")

// SignalFunc delivers a signaling envelope to a single user over whatever
// transport the owner runs. Called from relay goroutines.
type SignalFunc func(userID, op string, data any)

type Relay struct {
	mu       sync.RWMutex
	rooms    map[string]*Room          // channelID
	sessions map[string]*ScreenSession // channelID
	config   webrtc.Configuration

	negotiationTimeout time.Duration

	voiceAPI  *webrtc.API
	screenAPI *webrtc.API

	// Signal must be set before the first join.
	Signal SignalFunc
	// OnParticipantRemoved fires after a participant's connection is torn
	// down, whatever the cause.
	OnParticipantRemoved func(userID string)
	// OnScreenShareEnded fires once per session teardown.
	OnScreenShareEnded func(presenterID, channelID string)
}

// New builds the two webrtc APIs the relay uses: an Opus-only engine for
// voice and a VP8+Opus engine for screen shares, both with NACK
// retransmission.
func New(stunServer, publicIP string, negotiationTimeout time.Duration) *Relay {
	voiceME := &webrtc.MediaEngine{}
	if err := voiceME.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1;usedtx=1;maxaveragebitrate=128000",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		log.Printf("relay: register opus: %v", err)
	}

	voiceIR := &interceptor.Registry{}
	if responder, err := nack.NewResponderInterceptor(); err == nil {
		voiceIR.Add(responder)
	}
	if generator, err := nack.NewGeneratorInterceptor(); err == nil {
		voiceIR.Add(generator)
	}

	screenME := &webrtc.MediaEngine{}
	if err := screenME.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		log.Printf("relay: register vp8: %v", err)
	}
	if err := screenME.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		log.Printf("relay: register screen opus: %v", err)
	}

	screenIR := &interceptor.Registry{}
	if responder, err := nack.NewResponderInterceptor(); err == nil {
		screenIR.Add(responder)
	}
	if generator, err := nack.NewGeneratorInterceptor(); err == nil {
		screenIR.Add(generator)
	}
	if err := webrtc.RegisterDefaultInterceptors(screenME, screenIR); err != nil {
		log.Printf("relay: register screen interceptors: %v", err)
	}

	voiceSE := webrtc.SettingEngine{}
	screenSE := webrtc.SettingEngine{}
	if publicIP != "" {
		voiceSE.SetNAT1To1IPs([]string{publicIP}, webrtc.ICECandidateTypeHost)
		screenSE.SetNAT1To1IPs([]string{publicIP}, webrtc.ICECandidateTypeHost)
	}

	var iceServers []webrtc.ICEServer
	if stunServer != "" {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{stunServer}})
	}

	return &Relay{
		rooms:              make(map[string]*Room),
		sessions:           make(map[string]*ScreenSession),
		config:             webrtc.Configuration{ICEServers: iceServers},
		negotiationTimeout: negotiationTimeout,
		voiceAPI: webrtc.NewAPI(
			webrtc.WithMediaEngine(voiceME),
			webrtc.WithInterceptorRegistry(voiceIR),
			webrtc.WithSettingEngine(voiceSE),
		),
		screenAPI: webrtc.NewAPI(
			webrtc.WithMediaEngine(screenME),
			webrtc.WithInterceptorRegistry(screenIR),
			webrtc.WithSettingEngine(screenSE),
		),
	}
}

func (rl *Relay) RoomFor(channelID string) *Room {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if room, ok := rl.rooms[channelID]; ok {
		return room
	}
	room := newRoom(channelID, rl)
	rl.rooms[channelID] = room
	return room
}

func (rl *Relay) Room(channelID string) *Room {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.rooms[channelID]
}

func (rl *Relay) removeRoom(channelID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.rooms, channelID)
}

// UserRoom finds the room the user currently occupies, if any.
func (rl *Relay) UserRoom(userID string) *Room {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	for _, room := range rl.rooms {
		if room.Participant(userID) != nil {
			return room
		}
	}
	return nil
}

// VoiceStates collects the wire voice state of every participant in every
// room, for the ready snapshot.
func (rl *Relay) VoiceStates() []types.VoiceState {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	var states []types.VoiceState
	for _, room := range rl.rooms {
		states = append(states, room.VoiceStates()...)
	}
	return states
}

// StartScreenShare creates the channel's screen session and negotiates with
// the presenter. One session per channel; a second start is refused.
func (rl *Relay) StartScreenShare(channelID, presenterID string) (*ScreenSession, error) {
	rl.mu.Lock()
	if _, exists := rl.sessions[channelID]; exists {
		rl.mu.Unlock()
		return nil, ErrShareActive
	}
	sess := newScreenSession(channelID, presenterID, rl)
	rl.sessions[channelID] = sess
	rl.mu.Unlock()

	if err := sess.negotiatePresenter(); err != nil {
		rl.mu.Lock()
		delete(rl.sessions, channelID)
		rl.mu.Unlock()
		return nil, err
	}
	return sess, nil
}

// StopScreenShare tears down the channel's screen session, closing the
// presenter leg and every viewer leg, then reports the end to the owner.
func (rl *Relay) StopScreenShare(channelID string) {
	rl.mu.Lock()
	sess, ok := rl.sessions[channelID]
	if !ok {
		rl.mu.Unlock()
		return
	}
	delete(rl.sessions, channelID)
	rl.mu.Unlock()

	presenterID := sess.PresenterID
	sess.stop()

	if rl.OnScreenShareEnded != nil {
		rl.OnScreenShareEnded(presenterID, channelID)
	}
}

func (rl *Relay) ScreenSessionFor(channelID string) *ScreenSession {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.sessions[channelID]
}

// PresenterSession finds the session a user is presenting, if any.
func (rl *Relay) PresenterSession(userID string) *ScreenSession {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	for _, sess := range rl.sessions {
		if sess.PresenterID == userID {
			return sess
		}
	}
	return nil
}

// ScreenShares reports the active sessions for the ready snapshot.
func (rl *Relay) ScreenShares() []types.ScreenShare {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	shares := make([]types.ScreenShare, 0, len(rl.sessions))
	for _, sess := range rl.sessions {
		shares = append(shares, types.ScreenShare{
			UserID:    sess.PresenterID,
			ChannelID: sess.ChannelID,
		})
	}
	return shares
}

// HandleScreenAnswer routes a screen-leg SDP answer to whichever session the
// user participates in, presenter or viewer.
func (rl *Relay) HandleScreenAnswer(userID, sdp string) {
	if sess := rl.screenSessionOf(userID); sess != nil {
		sess.handleAnswer(userID, sdp)
	}
}

func (rl *Relay) HandleScreenICE(userID string, candidate webrtc.ICECandidateInit) {
	if sess := rl.screenSessionOf(userID); sess != nil {
		sess.handleICE(userID, candidate)
	}
}

// DropViewer removes the user's viewer leg from every session they watch.
// Called when the user's last connection goes away.
func (rl *Relay) DropViewer(userID string) {
	rl.mu.RLock()
	sessions := make([]*ScreenSession, 0, len(rl.sessions))
	for _, sess := range rl.sessions {
		sessions = append(sessions, sess)
	}
	rl.mu.RUnlock()

	for _, sess := range sessions {
		sess.RemoveViewer(userID)
	}
}

func (rl *Relay) screenSessionOf(userID string) *ScreenSession {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	for _, sess := range rl.sessions {
		if sess.PresenterID == userID || sess.hasViewer(userID) {
			return sess
		}
	}
	return nil
}

// watchNegotiation logs an offer that stays unanswered past the timeout. The
// leg is left absent; the client can rejoin to negotiate again.
func (rl *Relay) watchNegotiation(label, userID string, pc *webrtc.PeerConnection) {
	if rl.negotiationTimeout <= 0 {
		return
	}
	time.AfterFunc(rl.negotiationTimeout, func() {
		if pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
			log.Printf("relay: %s offer to %s unanswered after %s", label, userID, rl.negotiationTimeout)
		}
	})
}

func (rl *Relay) signal(userID, op string, data any) {
	if rl.Signal != nil {
		rl.Signal(userID, op, data)
	}
}

func (rl *Relay) signalOffer(userID, op, sdp string) {
	rl.signal(userID, op, map[string]string{"sdp": sdp})
}

func (rl *Relay) signalICE(userID, op string, c *webrtc.ICECandidate) {
	rl.signal(userID, op, map[string]any{"candidate": c.ToJSON()})
}
