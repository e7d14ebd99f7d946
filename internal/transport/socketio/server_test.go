package socketio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edumarques81/kittunes-backend/internal/domain/nowplaying"
	"github.com/edumarques81/kittunes-backend/internal/domain/player"
	"github.com/edumarques81/kittunes-backend/internal/domain/search"
	"github.com/edumarques81/kittunes-backend/internal/infra/playlist"
	"github.com/edumarques81/kittunes-backend/internal/infra/session"
	"github.com/edumarques81/kittunes-backend/internal/playback"
	"github.com/edumarques81/kittunes-backend/internal/playback/playbacktest"
)

var (
	imagine   = player.Song{ID: "1", Title: "Imagine", Artist: "John Lennon", PreviewURL: "https://cdn/imagine.mp3"}
	yesterday = player.Song{ID: "2", Title: "Yesterday", Artist: "The Beatles", PreviewURL: "https://cdn/yesterday.mp3"}
)

type emitted struct {
	event   string
	payload any
}

type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) record(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{event, payload})
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (r *recorder) last(event string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].event == event {
			return r.events[i].payload, true
		}
	}
	return nil, false
}

func (r *recorder) waitFor(t *testing.T, event string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.count(event) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s events, got %d", n, event, r.count(event))
}

type fakeLookup struct {
	songs []player.Song
}

func (f *fakeLookup) SearchTracks(ctx context.Context, query string) ([]player.Song, error) {
	return f.songs, nil
}

type fakeHistory struct {
	limit int
}

func (f *fakeHistory) GetHistory(limit int) ([]session.HistoryEntry, error) {
	f.limit = limit
	return []session.HistoryEntry{{Song: imagine}}, nil
}

type fakePlaylists struct {
	mu     sync.Mutex
	lists  []playlist.Playlist
	tracks map[string][]player.Song
}

func newFakePlaylists() *fakePlaylists {
	return &fakePlaylists{tracks: map[string][]player.Song{}}
}

func (f *fakePlaylists) CreatePlaylist(_ context.Context, name string) (playlist.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "" {
		return playlist.Playlist{}, playlist.ErrEmptyName
	}
	p := playlist.Playlist{ID: "p" + name, Name: name}
	f.lists = append(f.lists, p)
	return p, nil
}

func (f *fakePlaylists) ListPlaylists(context.Context) ([]playlist.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]playlist.Playlist(nil), f.lists...)
	for i := range out {
		out[i].TrackCount = len(f.tracks[out[i].ID])
	}
	return out, nil
}

func (f *fakePlaylists) Tracks(_ context.Context, id string) ([]player.Song, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	songs, ok := f.tracks[id]
	if !ok {
		return nil, playlist.ErrPlaylistNotFound
	}
	return songs, nil
}

func (f *fakePlaylists) DeletePlaylist(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.lists {
		if p.ID == id {
			f.lists = append(f.lists[:i:i], f.lists[i+1:]...)
			delete(f.tracks, id)
			return nil
		}
	}
	return playlist.ErrPlaylistNotFound
}

func (f *fakePlaylists) AddTrack(_ context.Context, id string, song player.Song) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "" {
		id = "default"
	}
	f.tracks[id] = append(f.tracks[id], song)
	return nil
}

type fixture struct {
	server    *Server
	state     *player.State
	conn      *playback.Connector
	backend   *playbacktest.Backend
	search    *search.Service
	history   *fakeHistory
	playlists *fakePlaylists
	out       *recorder
}

func newFixture(t *testing.T, results ...player.Song) *fixture {
	t.Helper()
	f := &fixture{
		state:     player.NewState(),
		backend:   playbacktest.New(),
		history:   &fakeHistory{},
		playlists: newFakePlaylists(),
		out:       &recorder{},
	}
	f.conn = playback.NewConnector(f.backend)
	host := nowplaying.NewHost(f.state, f.conn)
	t.Cleanup(host.Close)

	server, err := NewServer(f.state, host,
		WithConnector(f.conn),
		WithHistory(f.history, 20),
		WithPlaylists(f.playlists),
		WithDebounceWindow(20*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	server.emit = f.out.record
	t.Cleanup(func() { server.Close() })

	f.search = search.NewService(&fakeLookup{songs: results}, f.state, f.conn,
		search.WithNotifier(server), search.WithPlaylists(f.playlists))
	t.Cleanup(f.search.Close)
	server.AttachSearch(f.search)

	f.server = server
	return f
}

func (f *fixture) call(t *testing.T, event string, args ...any) *recorder {
	t.Helper()
	fn, ok := f.server.handlers.routes()[event]
	if !ok {
		t.Fatalf("no handler for %q", event)
	}
	reply := &recorder{}
	fn(args, reply.record)
	return reply
}

func (f *fixture) searchFor(t *testing.T, query string) {
	t.Helper()
	f.call(t, "search", map[string]interface{}{"query": query})
	f.search.Wait()
}

func TestNewServer(t *testing.T) {
	state := player.NewState()
	server, err := NewServer(state, nil)
	if err != nil {
		t.Fatalf("NewServer should not return error: %v", err)
	}
	if server == nil {
		t.Fatal("NewServer should return a non-nil server")
	}
	if err := server.Close(); err != nil {
		t.Errorf("Close should not error: %v", err)
	}
}

func TestServerBroadcastWithoutClients(t *testing.T) {
	server, err := NewServer(player.NewState(), nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	// Should not panic with no clients
	server.BroadcastState()
	server.BroadcastQueue()
	server.Notify("hello")

	if got := server.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}
}

func TestSelectSongPushesOneStateAndOneQueue(t *testing.T) {
	f := newFixture(t, imagine, yesterday)
	f.searchFor(t, "imagine")

	f.call(t, "selectSong", map[string]interface{}{"index": float64(0)})

	f.out.waitFor(t, "pushQueue", 1)
	f.out.waitFor(t, "pushState", 1)
	time.Sleep(60 * time.Millisecond)

	if got := f.out.count("pushQueue"); got != 1 {
		t.Errorf("pushQueue count = %d, want 1", got)
	}

	payload, _ := f.out.last("pushState")
	state := payload.(map[string]interface{})
	if state["title"] != "Imagine" || state["playing"] != true {
		t.Errorf("pushState = %v", state)
	}
	bar := state["bar"].(nowplaying.Bar)
	if !bar.Visible || bar.Title != "Imagine" {
		t.Errorf("bar = %+v", bar)
	}
	if state["connection"] != playback.Bound.String() {
		t.Errorf("connection = %v, want bound", state["connection"])
	}
}

func TestSearchPushesResults(t *testing.T) {
	f := newFixture(t, imagine)

	f.searchFor(t, "imagine")

	f.out.waitFor(t, "pushSearchResults", 1)
	payload, _ := f.out.last("pushSearchResults")
	body := payload.(map[string]interface{})
	if body["query"] != "imagine" {
		t.Errorf("query = %v", body["query"])
	}
	if results := body["results"].([]map[string]interface{}); len(results) != 1 || results[0]["title"] != "Imagine" {
		t.Errorf("results = %v", results)
	}

	reply := f.call(t, "getSearchResults")
	if reply.count("pushSearchResults") != 1 {
		t.Error("getSearchResults should reply to the caller")
	}
}

func TestSearchAcceptsBareString(t *testing.T) {
	f := newFixture(t, imagine)

	f.call(t, "search", "imagine")
	f.search.Wait()

	if got := f.search.Query(); got != "imagine" {
		t.Errorf("Query() = %q", got)
	}
}

func TestAddToQueueAndQueueEditing(t *testing.T) {
	f := newFixture(t, imagine, yesterday)
	f.searchFor(t, "beatles")

	f.call(t, "addToQueue", map[string]interface{}{"index": float64(0)})
	f.call(t, "addToQueue", float64(1))
	f.call(t, "addToQueue", map[string]interface{}{"index": float64(9)})

	if got := len(f.state.Queue()); got != 2 {
		t.Fatalf("queue length = %d, want 2", got)
	}

	f.call(t, "moveQueue", map[string]interface{}{"from": float64(1), "to": float64(0)})
	if q := f.state.Queue(); q[0].ID != yesterday.ID {
		t.Errorf("queue[0] = %s, want %s", q[0].ID, yesterday.ID)
	}

	f.call(t, "removeFromQueue", map[string]interface{}{"index": float64(0)})
	if q := f.state.Queue(); len(q) != 1 || q[0].ID != imagine.ID {
		t.Errorf("queue after remove = %v", q)
	}

	reply := f.call(t, "getQueue")
	payload, _ := reply.last("pushQueue")
	if got := len(payload.([]map[string]interface{})); got != 1 {
		t.Errorf("getQueue returned %d songs", got)
	}

	f.call(t, "clearQueue")
	if got := len(f.state.Queue()); got != 0 {
		t.Errorf("queue length after clear = %d", got)
	}
}

func TestToggle(t *testing.T) {
	f := newFixture(t)

	// Nothing playing: ignored.
	f.call(t, "toggle")
	if f.state.IsPlaying() {
		t.Fatal("toggle without a song must not start playing")
	}

	f.state.SetCurrentSong(&imagine)
	if err := f.state.SetPlayingState(true); err != nil {
		t.Fatal(err)
	}

	f.call(t, "toggle")
	if f.state.IsPlaying() {
		t.Error("toggle should pause")
	}
}

func TestToastOnSearchSideEffects(t *testing.T) {
	f := newFixture(t, imagine)
	f.searchFor(t, "imagine")

	f.call(t, "addToPlaylist", map[string]interface{}{"index": float64(0), "playlistId": ""})

	payload, ok := f.out.last("pushToast")
	if !ok {
		t.Fatal("expected a toast")
	}
	if msg := payload.(map[string]interface{})["message"]; msg != "Added Imagine to playlist" {
		t.Errorf("toast = %v", msg)
	}
	if f.out.count("pushPlaylists") != 1 {
		t.Error("playlists should be broadcast after a successful add")
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)

	reply := f.call(t, "getHistory")
	if f.history.limit != 20 {
		t.Errorf("default limit = %d, want 20", f.history.limit)
	}
	payload, _ := reply.last("pushHistory")
	if entries := payload.([]session.HistoryEntry); len(entries) != 1 {
		t.Errorf("history = %v", entries)
	}

	f.call(t, "getHistory", map[string]interface{}{"limit": float64(5)})
	if f.history.limit != 5 {
		t.Errorf("requested limit = %d, want 5", f.history.limit)
	}
}

func TestPlaylists(t *testing.T) {
	f := newFixture(t)

	f.call(t, "createPlaylist", map[string]interface{}{"name": "Road Trip"})
	if f.out.count("pushPlaylists") != 1 {
		t.Fatal("createPlaylist should broadcast the playlists")
	}

	reply := f.call(t, "createPlaylist", map[string]interface{}{"name": ""})
	if reply.count("pushToast") != 1 {
		t.Error("a failed create should toast the caller")
	}

	reply = f.call(t, "getPlaylists")
	payload, _ := reply.last("pushPlaylists")
	if lists := payload.([]playlist.Playlist); len(lists) != 1 || lists[0].Name != "Road Trip" {
		t.Errorf("playlists = %v", lists)
	}

	if err := f.playlists.AddTrack(context.Background(), "pRoad Trip", imagine); err != nil {
		t.Fatal(err)
	}
	reply = f.call(t, "getPlaylistTracks", map[string]interface{}{"id": "pRoad Trip"})
	payload, _ = reply.last("pushPlaylistTracks")
	body := payload.(map[string]interface{})
	if tracks := body["tracks"].([]map[string]interface{}); len(tracks) != 1 {
		t.Errorf("tracks = %v", tracks)
	}

	reply = f.call(t, "getPlaylistTracks", map[string]interface{}{"id": "missing"})
	if reply.count("pushPlaylistTracks") != 0 {
		t.Error("unknown playlist should not reply")
	}
}

func TestDeletePlaylist(t *testing.T) {
	f := newFixture(t)
	f.call(t, "createPlaylist", map[string]interface{}{"name": "Temp"})

	f.call(t, "deletePlaylist", map[string]interface{}{"id": "pTemp"})
	if f.out.count("pushPlaylists") != 2 {
		t.Fatalf("deletePlaylist should broadcast the playlists, got %d pushes", f.out.count("pushPlaylists"))
	}
	payload, _ := f.out.last("pushPlaylists")
	if lists := payload.([]playlist.Playlist); len(lists) != 0 {
		t.Errorf("playlists after delete = %v", lists)
	}

	reply := f.call(t, "deletePlaylist", "pTemp")
	if reply.count("pushToast") != 1 {
		t.Error("deleting an unknown playlist should toast the caller")
	}
	if f.out.count("pushPlaylists") != 2 {
		t.Error("a failed delete should not broadcast")
	}
}

func TestConnectorTransitionPushesState(t *testing.T) {
	f := newFixture(t)
	f.backend.ConnectErr = errors.New("refused")

	f.conn.Bind(context.Background(), nil)

	f.out.waitFor(t, "pushState", 2)
	payload, _ := f.out.last("pushState")
	if got := payload.(map[string]interface{})["connection"]; got != playback.Unbound.String() {
		t.Errorf("connection = %v, want unbound", got)
	}
}
