package hub

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/google/uuid"

	"parlor/internal/playback"
	"parlor/internal/types"
	"parlor/pkg/protocol"
)

type stationIDData struct {
	StationID string `json:"station_id"`
}

type radioPlayData struct {
	StationID  string `json:"station_id"`
	PlaylistID string `json:"playlist_id"`
}

type radioSeekData struct {
	StationID string  `json:"station_id"`
	Position  float64 `json:"position"`
}

type createRadioStationData struct {
	Name string `json:"name"`
}

type stationModeData struct {
	StationID string `json:"station_id"`
	Mode      string `json:"mode"`
}

var validPlaybackModes = map[string]bool{
	playback.ModePlayAll: true,
	playback.ModeLoopOne: true,
	playback.ModeLoopAll: true,
	playback.ModeSingle:  true,
}

func (h *Hub) canManageStation(c *Conn, stationID string) bool {
	if c.user.IsAdmin {
		return true
	}
	ok, err := h.store.IsRadioStationManager(stationID, c.UserID())
	return err == nil && ok
}

// --- listeners ---

func (h *Hub) handleRadioTune(c *Conn, data json.RawMessage) {
	var d stationIDData
	if err := json.Unmarshal(data, &d); err != nil || d.StationID == "" {
		return
	}
	for _, stationID := range h.engine.Tune(c.UserID(), d.StationID) {
		h.broadcastListeners(stationID)
	}
}

func (h *Hub) handleRadioUntune(c *Conn) {
	if stationID, ok := h.engine.Untune(c.UserID()); ok {
		h.broadcastListeners(stationID)
	}
}

func (h *Hub) broadcastListeners(stationID string) {
	h.broadcast(protocol.OpRadioListeners, map[string]any{
		"station_id": stationID,
		"user_ids":   h.engine.ListenersOf(stationID),
	})
}

// --- transport controls ---

func (h *Hub) handleRadioPlay(c *Conn, data json.RawMessage) {
	var d radioPlayData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if !h.canManageStation(c, d.StationID) {
		return
	}
	if _, err := h.store.RadioStationByID(d.StationID); err != nil {
		return
	}

	tracks, err := h.store.TracksByPlaylist(d.PlaylistID)
	if err != nil || len(tracks) == 0 {
		return
	}

	h.engine.Play(d.StationID, d.PlaylistID, c.UserID(), tracks)
}

// Pause carries no position: the engine computes it from the anchor, so a
// stale or malicious client cannot move the surface.
func (h *Hub) handleRadioPause(c *Conn, data json.RawMessage) {
	var d stationIDData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if !h.canManageStation(c, d.StationID) {
		return
	}
	h.engine.Pause(d.StationID)
}

func (h *Hub) handleRadioResume(c *Conn, data json.RawMessage) {
	var d stationIDData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if !h.canManageStation(c, d.StationID) {
		return
	}
	h.engine.Resume(d.StationID)
}

func (h *Hub) handleRadioSeek(c *Conn, data json.RawMessage) {
	var d radioSeekData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if !h.canManageStation(c, d.StationID) {
		return
	}
	h.engine.Seek(d.StationID, d.Position)
}

func (h *Hub) handleRadioSkip(c *Conn, data json.RawMessage) {
	var d stationIDData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if !h.canManageStation(c, d.StationID) {
		return
	}
	h.engine.Skip(d.StationID)
}

func (h *Hub) handleRadioStop(c *Conn, data json.RawMessage) {
	var d stationIDData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if !h.canManageStation(c, d.StationID) {
		return
	}
	h.engine.Stop(d.StationID)
}

// resolvePlaylistEnded is the engine's callback for an exhausted track list.
// The station's end-of-playlist mode decides what plays next.
func (h *Hub) resolvePlaylistEnded(stationID, playlistID, userID string) {
	station, err := h.store.RadioStationByID(stationID)
	if err != nil {
		h.engine.Stop(stationID)
		return
	}

	switch station.PlaybackMode {
	case playback.ModeLoopOne:
		tracks, err := h.store.TracksByPlaylist(playlistID)
		if err != nil || len(tracks) == 0 {
			h.engine.Stop(stationID)
			return
		}
		h.engine.Play(stationID, playlistID, userID, tracks)

	case playback.ModePlayAll:
		nextID, tracks, ok := h.nextPlaylistTracks(stationID, playlistID, false)
		if !ok {
			h.engine.Stop(stationID)
			return
		}
		h.engine.Play(stationID, nextID, userID, tracks)

	case playback.ModeLoopAll:
		nextID, tracks, ok := h.nextPlaylistTracks(stationID, playlistID, true)
		if !ok {
			// Only one playlist on the station; loop it.
			tracks, err := h.store.TracksByPlaylist(playlistID)
			if err != nil || len(tracks) == 0 {
				h.engine.Stop(stationID)
				return
			}
			nextID = playlistID
			h.engine.Play(stationID, nextID, userID, tracks)
			return
		}
		h.engine.Play(stationID, nextID, userID, tracks)

	default: // single or unknown
		h.engine.Stop(stationID)
	}
}

// nextPlaylistTracks scans the station's playlists after the current one for
// the next with at least one track, optionally wrapping around.
func (h *Hub) nextPlaylistTracks(stationID, currentID string, wrap bool) (string, []types.RadioTrack, bool) {
	playlists, err := h.store.PlaylistsByStation(stationID)
	if err != nil || len(playlists) == 0 {
		return "", nil, false
	}

	currentIdx := -1
	for i, p := range playlists {
		if p.ID == currentID {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 {
		return "", nil, false
	}

	for i := 1; i < len(playlists); i++ {
		idx := currentIdx + i
		if idx >= len(playlists) {
			if !wrap {
				return "", nil, false
			}
			idx %= len(playlists)
		}
		tracks, err := h.store.TracksByPlaylist(playlists[idx].ID)
		if err == nil && len(tracks) > 0 {
			return playlists[idx].ID, tracks, true
		}
	}
	return "", nil, false
}

// --- station management ---

func (h *Hub) handleCreateRadioStation(c *Conn, data json.RawMessage) {
	var d createRadioStationData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}

	name := strings.TrimSpace(d.Name)
	if name == "" || len(name) > 32 {
		return
	}

	station, err := h.store.CreateRadioStation(uuid.New().String(), name, c.UserID())
	if err != nil {
		log.Printf("hub: create radio station: %v", err)
		return
	}

	h.broadcast(protocol.OpRadioStationCreate, station)
}

// handleSetRadioStationMode changes what happens when the station's current
// track list runs out. Takes effect on the next playlist end; the running
// surface is left alone.
func (h *Hub) handleSetRadioStationMode(c *Conn, data json.RawMessage) {
	var d stationModeData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if !validPlaybackModes[d.Mode] {
		return
	}
	if !h.canManageStation(c, d.StationID) {
		return
	}

	if err := h.store.SetRadioStationMode(d.StationID, d.Mode); err != nil {
		log.Printf("hub: set station mode: %v", err)
		return
	}

	station, err := h.store.RadioStationByID(d.StationID)
	if err != nil {
		return
	}
	h.broadcast(protocol.OpRadioStationUpdate, station)
}

func (h *Hub) handleDeleteRadioStation(c *Conn, data json.RawMessage) {
	var d stationIDData
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}
	if _, err := h.store.RadioStationByID(d.StationID); err != nil {
		return
	}
	if !h.canManageStation(c, d.StationID) {
		return
	}

	h.engine.Stop(d.StationID)

	if err := h.store.DeleteRadioStation(d.StationID); err != nil {
		log.Printf("hub: delete radio station: %v", err)
		return
	}

	h.broadcast(protocol.OpRadioStationDelete, map[string]string{"station_id": d.StationID})
}
