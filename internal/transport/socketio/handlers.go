package socketio

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"

	"github.com/edumarques81/kittunes-backend/internal/domain/nowplaying"
	"github.com/edumarques81/kittunes-backend/internal/domain/player"
	"github.com/edumarques81/kittunes-backend/internal/domain/search"
	"github.com/edumarques81/kittunes-backend/internal/infra/playlist"
	"github.com/edumarques81/kittunes-backend/internal/infra/session"
	"github.com/edumarques81/kittunes-backend/internal/playback"
)

// storeTimeout bounds playlist store calls made from event handlers.
const storeTimeout = 5 * time.Second

// HistoryStore provides the recently played list.
type HistoryStore interface {
	GetHistory(limit int) ([]session.HistoryEntry, error)
}

// PlaylistStore is the playlist browsing surface.
type PlaylistStore interface {
	CreatePlaylist(ctx context.Context, name string) (playlist.Playlist, error)
	ListPlaylists(ctx context.Context) ([]playlist.Playlist, error)
	Tracks(ctx context.Context, playlistID string) ([]player.Song, error)
	DeletePlaylist(ctx context.Context, playlistID string) error
}

// ConnStatus reports the playback connector state.
type ConnStatus interface {
	State() playback.ConnState
	OnStateChange(fn func(playback.ConnState))
}

type replyFunc func(event string, payload any)

type route func(args []any, reply replyFunc)

// Handlers maps Host UI events onto the search component, the now-playing
// host and the shared state.
type Handlers struct {
	state        *player.State
	host         *nowplaying.Host
	search       *search.Service
	conn         ConnStatus
	history      HistoryStore
	historyLimit int
	playlists    PlaylistStore
	broadcast    func(event string, payload any)
}

// Register attaches every event handler to client.
func (h *Handlers) Register(client *socket.Socket) {
	clientID := string(client.Id())
	reply := func(event string, payload any) {
		client.Emit(event, payload)
	}

	for event, fn := range h.routes() {
		client.On(event, func(args ...any) {
			log.Debug().Str("id", clientID).Str("event", event).Interface("data", args).Msg("Event received")
			fn(args, reply)
		})
	}
}

func (h *Handlers) routes() map[string]route {
	return map[string]route{
		"getState":          h.handleGetState,
		"getQueue":          h.handleGetQueue,
		"toggle":            h.handleToggle,
		"removeFromQueue":   h.handleRemoveFromQueue,
		"clearQueue":        h.handleClearQueue,
		"moveQueue":         h.handleMoveQueue,
		"search":            h.handleSearch,
		"getSearchResults":  h.handleGetSearchResults,
		"selectSong":        h.handleSelectSong,
		"addToQueue":        h.handleAddToQueue,
		"addToPlaylist":     h.handleAddToPlaylist,
		"getHistory":        h.handleGetHistory,
		"getPlaylists":      h.handleGetPlaylists,
		"createPlaylist":    h.handleCreatePlaylist,
		"getPlaylistTracks": h.handleGetPlaylistTracks,
		"deletePlaylist":    h.handleDeletePlaylist,
	}
}

// statePayload is the pushState body: the state snapshot, the bar and the
// connector state.
func (h *Handlers) statePayload() map[string]interface{} {
	out := h.state.Snapshot().ToJSON()
	if h.host != nil {
		out["bar"] = h.host.Bar()
	} else {
		out["bar"] = nowplaying.BarFromSnapshot(h.state.Snapshot())
	}
	out["connection"] = playback.Unbound.String()
	if h.conn != nil {
		out["connection"] = h.conn.State().String()
	}
	return out
}

func (h *Handlers) queuePayload() []map[string]interface{} {
	return player.SongsToJSON(h.state.Queue())
}

func (h *Handlers) searchPayload(songs []player.Song) map[string]interface{} {
	query := ""
	if h.search != nil {
		query = h.search.Query()
	}
	return map[string]interface{}{
		"query":   query,
		"results": player.SongsToJSON(songs),
	}
}

func (h *Handlers) handleGetState(args []any, reply replyFunc) {
	reply("pushState", h.statePayload())
}

func (h *Handlers) handleGetQueue(args []any, reply replyFunc) {
	reply("pushQueue", h.queuePayload())
}

func (h *Handlers) handleToggle(args []any, reply replyFunc) {
	if h.host == nil {
		log.Warn().Msg("Now-playing host not available for toggle")
		return
	}
	if err := h.host.TogglePlayPause(); err != nil {
		if errors.Is(err, player.ErrNoCurrentSong) {
			log.Debug().Msg("Toggle ignored, nothing is playing")
			return
		}
		log.Error().Err(err).Msg("Toggle failed")
	}
}

func (h *Handlers) handleRemoveFromQueue(args []any, reply replyFunc) {
	pos := intArg(args, "index")
	if pos < 0 {
		return
	}
	if err := h.state.RemoveFromQueue(pos); err != nil {
		log.Error().Err(err).Int("position", pos).Msg("RemoveFromQueue failed")
	}
}

func (h *Handlers) handleClearQueue(args []any, reply replyFunc) {
	h.state.ClearQueue()
}

func (h *Handlers) handleMoveQueue(args []any, reply replyFunc) {
	m := mapArg(args)
	from := getIntFromMap(m, "from", -1)
	to := getIntFromMap(m, "to", -1)
	if from < 0 || to < 0 {
		return
	}
	if err := h.state.MoveQueueItem(from, to); err != nil {
		log.Error().Err(err).Int("from", from).Int("to", to).Msg("MoveQueue failed")
	}
}

func (h *Handlers) handleSearch(args []any, reply replyFunc) {
	if h.search == nil {
		log.Warn().Msg("Search not available")
		return
	}
	h.search.Search(stringArg(args, "query"))
}

func (h *Handlers) handleGetSearchResults(args []any, reply replyFunc) {
	if h.search == nil {
		reply("pushSearchResults", h.searchPayload(nil))
		return
	}
	reply("pushSearchResults", h.searchPayload(h.search.Results()))
}

func (h *Handlers) handleSelectSong(args []any, reply replyFunc) {
	if h.search == nil {
		return
	}
	index := intArg(args, "index")
	if err := h.search.Select(index); err != nil {
		log.Warn().Err(err).Int("index", index).Msg("SelectSong ignored")
	}
}

func (h *Handlers) handleAddToQueue(args []any, reply replyFunc) {
	if h.search == nil {
		return
	}
	index := intArg(args, "index")
	if err := h.search.AddToQueue(index); err != nil {
		log.Warn().Err(err).Int("index", index).Msg("AddToQueue ignored")
	}
}

func (h *Handlers) handleAddToPlaylist(args []any, reply replyFunc) {
	if h.search == nil {
		return
	}
	m := mapArg(args)
	index := getIntFromMap(m, "index", -1)
	playlistID, _ := m["playlistId"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := h.search.AddToPlaylist(ctx, index, playlistID); err != nil {
		if errors.Is(err, search.ErrIndexOutOfRange) {
			log.Warn().Err(err).Msg("AddToPlaylist ignored")
		}
		return
	}
	h.broadcastPlaylists(ctx)
}

func (h *Handlers) handleGetHistory(args []any, reply replyFunc) {
	if h.history == nil {
		reply("pushHistory", []session.HistoryEntry{})
		return
	}
	limit := getIntFromMap(mapArg(args), "limit", h.historyLimit)
	if limit <= 0 {
		limit = session.DefaultHistoryLimit
	}
	entries, err := h.history.GetHistory(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read history")
		return
	}
	reply("pushHistory", entries)
}

func (h *Handlers) handleGetPlaylists(args []any, reply replyFunc) {
	if h.playlists == nil {
		reply("pushPlaylists", []playlist.Playlist{})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	lists, err := h.playlists.ListPlaylists(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list playlists")
		return
	}
	reply("pushPlaylists", lists)
}

func (h *Handlers) handleCreatePlaylist(args []any, reply replyFunc) {
	if h.playlists == nil {
		return
	}
	name := stringArg(args, "name")

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if _, err := h.playlists.CreatePlaylist(ctx, name); err != nil {
		log.Warn().Err(err).Str("name", name).Msg("CreatePlaylist failed")
		reply("pushToast", map[string]interface{}{"message": "Could not create playlist"})
		return
	}
	h.broadcastPlaylists(ctx)
}

func (h *Handlers) handleGetPlaylistTracks(args []any, reply replyFunc) {
	if h.playlists == nil {
		return
	}
	id := stringArg(args, "id")

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	songs, err := h.playlists.Tracks(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("playlist", id).Msg("GetPlaylistTracks failed")
		return
	}
	reply("pushPlaylistTracks", map[string]interface{}{
		"id":     id,
		"tracks": player.SongsToJSON(songs),
	})
}

func (h *Handlers) handleDeletePlaylist(args []any, reply replyFunc) {
	if h.playlists == nil {
		return
	}
	id := stringArg(args, "id")

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := h.playlists.DeletePlaylist(ctx, id); err != nil {
		log.Warn().Err(err).Str("playlist", id).Msg("DeletePlaylist failed")
		reply("pushToast", map[string]interface{}{"message": "Could not delete playlist"})
		return
	}
	h.broadcastPlaylists(ctx)
}

func (h *Handlers) broadcastPlaylists(ctx context.Context) {
	if h.playlists == nil || h.broadcast == nil {
		return
	}
	lists, err := h.playlists.ListPlaylists(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list playlists for broadcast")
		return
	}
	h.broadcast("pushPlaylists", lists)
}

// mapArg returns the first argument as an object, or nil.
func mapArg(args []any) map[string]interface{} {
	if len(args) == 0 {
		return nil
	}
	m, _ := args[0].(map[string]interface{})
	return m
}

// intArg accepts either a bare number or an object carrying key.
func intArg(args []any, key string) int {
	if len(args) == 0 {
		return -1
	}
	switch v := args[0].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case map[string]interface{}:
		return getIntFromMap(v, key, -1)
	}
	return -1
}

// stringArg accepts either a bare string or an object carrying key.
func stringArg(args []any, key string) string {
	if len(args) == 0 {
		return ""
	}
	switch v := args[0].(type) {
	case string:
		return v
	case map[string]interface{}:
		s, _ := v[key].(string)
		return s
	}
	return ""
}

// getIntFromMap safely extracts an integer from a map.
func getIntFromMap(m map[string]interface{}, key string, defaultVal int) int {
	if m == nil {
		return defaultVal
	}
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case int64:
		return int(v)
	}
	return defaultVal
}
