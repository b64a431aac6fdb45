// Package hub owns the realtime session fabric: it authenticates WebSocket
// connections, fans events out to them, and routes every client operation to
// the store, the media relay, or the playback engine.
package hub

import (
	"log"

	"parlor/internal/config"
	"parlor/internal/metrics"
	"parlor/internal/playback"
	"parlor/internal/ratelimit"
	"parlor/internal/relay"
	"parlor/internal/state"
	"parlor/internal/store"
	"parlor/internal/types"
	"parlor/pkg/protocol"
)

type Hub struct {
	store    store.Store
	registry *state.Registry
	relay    *relay.Relay
	engine   *playback.Engine
	media    *playback.MediaSession
	limiter  *ratelimit.Limiter
	clock    playback.Clock
	devMode  bool
}

// New wires the hub to its collaborators. The relay may be nil, in which case
// every voice and screen operation is a silent no-op.
func New(cfg *config.Config, st store.Store, rl *relay.Relay, clock playback.Clock) *Hub {
	h := &Hub{
		store:    st,
		registry: state.NewRegistry(),
		relay:    rl,
		engine:   playback.NewEngine(clock),
		media:    playback.NewMediaSession(clock),
		limiter:  ratelimit.New(cfg.Limits.MessagesPerWindow, cfg.RateWindow()),
		clock:    clock,
		devMode:  cfg.Server.DevMode,
	}

	h.engine.OnChange = func(st types.RadioPlayback) {
		h.broadcastToListeners(st.StationID, protocol.OpRadioPlayback, st)
	}
	h.engine.OnPlaylistEnded = h.resolvePlaylistEnded

	if rl != nil {
		rl.Signal = func(userID, op string, data any) {
			h.sendToUser(userID, op, data)
		}
		rl.OnParticipantRemoved = func(userID string) {
			h.broadcast(protocol.OpVoiceStateUpdate, types.VoiceState{UserID: userID})
		}
		rl.OnScreenShareEnded = func(presenterID, channelID string) {
			h.broadcast(protocol.OpScreenShareStopped, types.ScreenShare{
				UserID:    presenterID,
				ChannelID: channelID,
			})
		}
	}
	return h
}

func (h *Hub) Registry() *state.Registry { return h.registry }

// Engine exposes the playback engine for snapshot endpoints and tests.
func (h *Hub) Engine() *playback.Engine { return h.engine }

// dispatch routes one decoded envelope. Unknown ops are logged and dropped so
// newer clients can talk to older servers.
func (h *Hub) dispatch(c *Conn, env *types.Envelope) {
	metrics.EventsTotal.WithLabelValues(env.Op).Inc()

	switch env.Op {
	case protocol.OpPing:
		h.send(c, protocol.OpPong, nil)

	case protocol.OpSendMessage:
		h.handleSendMessage(c, env.Data)
	case protocol.OpEditMessage:
		h.handleEditMessage(c, env.Data)
	case protocol.OpDeleteMessage:
		h.handleDeleteMessage(c, env.Data)
	case protocol.OpAddReaction:
		h.handleAddReaction(c, env.Data)
	case protocol.OpRemoveReaction:
		h.handleRemoveReaction(c, env.Data)
	case protocol.OpTypingStart:
		h.handleTypingStart(c, env.Data)

	case protocol.OpCreateChannel:
		h.handleCreateChannel(c, env.Data)
	case protocol.OpDeleteChannel:
		h.handleDeleteChannel(c, env.Data)
	case protocol.OpRenameChannel:
		h.handleRenameChannel(c, env.Data)
	case protocol.OpReorderChannels:
		h.handleReorderChannels(c, env.Data)

	case protocol.OpJoinVoice:
		h.handleJoinVoice(c, env.Data)
	case protocol.OpLeaveVoice:
		h.handleLeaveVoice(c)
	case protocol.OpWebRTCAnswer:
		h.handleWebRTCAnswer(c, env.Data)
	case protocol.OpWebRTCICE:
		h.handleWebRTCICE(c, env.Data)
	case protocol.OpVoiceSelfMute:
		h.handleVoiceSelfMute(c, env.Data)
	case protocol.OpVoiceSelfDeafen:
		h.handleVoiceSelfDeafen(c, env.Data)
	case protocol.OpVoiceSpeaking:
		h.handleVoiceSpeaking(c, env.Data)
	case protocol.OpVoiceServerMute:
		h.handleVoiceServerMute(c, env.Data)

	case protocol.OpScreenShareStart:
		h.handleScreenShareStart(c)
	case protocol.OpScreenShareStop:
		h.handleScreenShareStop(c)
	case protocol.OpScreenShareSubscribe:
		h.handleScreenShareSubscribe(c, env.Data)
	case protocol.OpScreenShareUnsubscribe:
		h.handleScreenShareUnsubscribe(c, env.Data)
	case protocol.OpWebRTCScreenAnswer:
		h.handleWebRTCScreenAnswer(c, env.Data)
	case protocol.OpWebRTCScreenICE:
		h.handleWebRTCScreenICE(c, env.Data)

	case protocol.OpRadioTune:
		h.handleRadioTune(c, env.Data)
	case protocol.OpRadioUntune:
		h.handleRadioUntune(c)
	case protocol.OpRadioPlay:
		h.handleRadioPlay(c, env.Data)
	case protocol.OpRadioPause:
		h.handleRadioPause(c, env.Data)
	case protocol.OpRadioResume:
		h.handleRadioResume(c, env.Data)
	case protocol.OpRadioSeek:
		h.handleRadioSeek(c, env.Data)
	case protocol.OpRadioSkip:
		h.handleRadioSkip(c, env.Data)
	case protocol.OpRadioStop:
		h.handleRadioStop(c, env.Data)
	case protocol.OpCreateRadioStation:
		h.handleCreateRadioStation(c, env.Data)
	case protocol.OpDeleteRadioStation:
		h.handleDeleteRadioStation(c, env.Data)
	case protocol.OpSetRadioStationMode:
		h.handleSetRadioStationMode(c, env.Data)

	case protocol.OpMediaPlay:
		h.handleMediaPlay(c, env.Data)
	case protocol.OpMediaPause:
		h.handleMediaPause(c)
	case protocol.OpMediaSeek:
		h.handleMediaSeek(c, env.Data)
	case protocol.OpMediaStop:
		h.handleMediaStop(c)

	case protocol.OpMarkNotificationRead:
		h.handleMarkNotificationRead(c, env.Data)
	case protocol.OpMarkAllNotificationsRead:
		h.handleMarkAllNotificationsRead(c)

	default:
		log.Printf("hub: unhandled op %q from user %s", env.Op, c.UserID())
	}
}

// --- fan-out helpers ---

func (h *Hub) broadcast(op string, payload any) {
	msg, err := types.NewEnvelope(op, payload)
	if err != nil {
		log.Printf("hub: encode %s: %v", op, err)
		return
	}
	h.registry.Broadcast(msg)
}

func (h *Hub) broadcastExcept(op string, payload any, excludeUserID string) {
	msg, err := types.NewEnvelope(op, payload)
	if err != nil {
		log.Printf("hub: encode %s: %v", op, err)
		return
	}
	h.registry.BroadcastExcept(msg, excludeUserID)
}

func (h *Hub) sendToUser(userID, op string, payload any) {
	msg, err := types.NewEnvelope(op, payload)
	if err != nil {
		log.Printf("hub: encode %s: %v", op, err)
		return
	}
	h.registry.SendToUser(userID, msg)
}

func (h *Hub) send(c *Conn, op string, payload any) {
	msg, err := types.NewEnvelope(op, payload)
	if err != nil {
		log.Printf("hub: encode %s: %v", op, err)
		return
	}
	c.Send(msg)
}

// broadcastToListeners delivers a station event only to users tuned in.
func (h *Hub) broadcastToListeners(stationID, op string, payload any) {
	msg, err := types.NewEnvelope(op, payload)
	if err != nil {
		log.Printf("hub: encode %s: %v", op, err)
		return
	}
	for _, userID := range h.engine.ListenersOf(stationID) {
		h.registry.SendToUser(userID, msg)
	}
}

// --- session lifecycle ---

// connected registers an authenticated connection and announces presence when
// it is the user's first.
func (h *Hub) connected(c *Conn) {
	first, err := h.registry.Register(c, c.user)
	if err != nil {
		log.Printf("hub: register %s: %v", c.id, err)
		return
	}
	metrics.ConnectionsActive.Inc()
	if first {
		metrics.UsersOnline.Inc()
		h.broadcastExcept(protocol.OpUserOnline, map[string]types.User{"user": c.user}, c.UserID())
	}
}

// disconnected tears down one connection. Voice, screen and radio cleanup
// only happens on the user's last connection going away.
func (h *Hub) disconnected(c *Conn) {
	h.limiter.Forget(c.id)

	last, err := h.registry.Unregister(c)
	if err != nil {
		return
	}
	metrics.ConnectionsActive.Dec()
	if !last {
		return
	}
	metrics.UsersOnline.Dec()
	userID := c.UserID()

	if h.relay != nil {
		if sess := h.relay.PresenterSession(userID); sess != nil {
			h.relay.StopScreenShare(sess.ChannelID)
		}
		h.relay.DropViewer(userID)
		if room := h.relay.UserRoom(userID); room != nil {
			room.Leave(userID)
			h.broadcast(protocol.OpVoiceStateUpdate, types.VoiceState{UserID: userID})
		}
	}

	if stationID, ok := h.engine.Untune(userID); ok {
		h.broadcastListeners(stationID)
	}

	h.broadcast(protocol.OpUserOffline, map[string]string{"user_id": userID})
}

// --- moderation hooks ---

// DisconnectUser force-closes every connection a user holds.
func (h *Hub) DisconnectUser(userID string) {
	h.registry.CloseUser(userID)
}

// AnnounceUserApproved tells every session a pending account was approved, so
// user pickers refresh without a reconnect.
func (h *Hub) AnnounceUserApproved(user types.User) {
	h.broadcast(protocol.OpUserApproved, map[string]types.User{"user": user})
}

// ClearMediaPlayback stops the shared-media surface when the given item is
// being played, for catalog deletions.
func (h *Hub) ClearMediaPlayback(mediaID string) {
	if h.media.ClearIf(mediaID) {
		h.broadcast(protocol.OpMediaPlayback, nil)
	}
}

func (h *Hub) nowUnix() float64 {
	return float64(h.clock.Now().UnixMilli()) / 1000.0
}
