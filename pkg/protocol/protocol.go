package protocol

// Operation names carried in the "op" field of every envelope. Both sides
// ignore names they do not recognize.
const (
	// client → server
	OpAuthenticate = "authenticate"
	OpPing         = "ping"

	OpSendMessage    = "send_message"
	OpEditMessage    = "edit_message"
	OpDeleteMessage  = "delete_message"
	OpTypingStart    = "typing_start"
	OpAddReaction    = "add_reaction"
	OpRemoveReaction = "remove_reaction"

	OpCreateChannel   = "create_channel"
	OpDeleteChannel   = "delete_channel"
	OpRenameChannel   = "rename_channel"
	OpReorderChannels = "reorder_channels"

	OpJoinVoice       = "join_voice"
	OpLeaveVoice      = "leave_voice"
	OpVoiceSelfMute   = "voice_self_mute"
	OpVoiceSelfDeafen = "voice_self_deafen"
	OpVoiceSpeaking   = "voice_speaking"
	OpVoiceServerMute = "voice_server_mute"
	OpWebRTCAnswer    = "webrtc_answer"
	OpWebRTCICE       = "webrtc_ice"

	OpScreenShareStart       = "screen_share_start"
	OpScreenShareStop        = "screen_share_stop"
	OpScreenShareSubscribe   = "screen_share_subscribe"
	OpScreenShareUnsubscribe = "screen_share_unsubscribe"
	OpWebRTCScreenAnswer     = "webrtc_screen_answer"
	OpWebRTCScreenICE        = "webrtc_screen_ice"

	OpRadioTune   = "radio_tune"
	OpRadioUntune = "radio_untune"
	OpRadioPlay   = "radio_play"
	OpRadioPause  = "radio_pause"
	OpRadioResume = "radio_resume"
	OpRadioSeek   = "radio_seek"
	OpRadioSkip   = "radio_skip"
	OpRadioStop   = "radio_stop"

	OpCreateRadioStation  = "create_radio_station"
	OpDeleteRadioStation  = "delete_radio_station"
	OpSetRadioStationMode = "set_radio_station_mode"

	OpMediaPlay  = "media_play"
	OpMediaPause = "media_pause"
	OpMediaSeek  = "media_seek"
	OpMediaStop  = "media_stop"

	OpMarkNotificationRead     = "mark_notification_read"
	OpMarkAllNotificationsRead = "mark_all_notifications_read"
)

const (
	// server → client
	OpReady = "ready"
	OpPong  = "pong"

	OpMessageCreate  = "message_create"
	OpMessageUpdate  = "message_update"
	OpMessageDelete  = "message_delete"
	OpReactionAdd    = "reaction_add"
	OpReactionRemove = "reaction_remove"

	OpChannelCreate  = "channel_create"
	OpChannelUpdate  = "channel_update"
	OpChannelDelete  = "channel_delete"
	OpChannelReorder = "channel_reorder"

	OpUserOnline   = "user_online"
	OpUserOffline  = "user_offline"
	OpUserApproved = "user_approved"

	OpVoiceStateUpdate = "voice_state_update"
	OpWebRTCOffer      = "webrtc_offer"

	OpScreenShareStarted = "screen_share_started"
	OpScreenShareStopped = "screen_share_stopped"
	OpScreenShareError   = "screen_share_error"
	OpWebRTCScreenOffer  = "webrtc_screen_offer"

	OpNotificationCreate = "notification_create"

	OpRadioPlayback      = "radio_playback"
	OpRadioListeners     = "radio_listeners"
	OpRadioStationCreate = "radio_station_create"
	OpRadioStationUpdate = "radio_station_update"
	OpRadioStationDelete = "radio_station_delete"

	OpMediaPlayback = "media_playback"
)

// Error strings sent in screen_share_error payloads.
const (
	ErrScreenShareNotInVoice = "must be in a voice channel to share screen"
	ErrScreenShareActive     = "screen share already active in this channel"
	ErrScreenShareNone       = "no active screen share in this channel"
)
