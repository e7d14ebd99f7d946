// Package socketio provides the Socket.io server the Host UI talks to.
package socketio

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/edumarques81/kittunes-backend/internal/domain/nowplaying"
	"github.com/edumarques81/kittunes-backend/internal/domain/player"
	"github.com/edumarques81/kittunes-backend/internal/domain/search"
	"github.com/edumarques81/kittunes-backend/internal/metrics"
	"github.com/edumarques81/kittunes-backend/internal/playback"
)

// Option configures a Server.
type Option func(*Server)

// WithHistory serves getHistory from store, returning up to limit entries
// unless the client asks for fewer.
func WithHistory(store HistoryStore, limit int) Option {
	return func(s *Server) {
		s.handlers.history = store
		s.handlers.historyLimit = limit
	}
}

// WithPlaylists serves the playlist events from store.
func WithPlaylists(store PlaylistStore) Option {
	return func(s *Server) {
		s.handlers.playlists = store
	}
}

// WithConnector includes the connector state in pushState and pushes on
// every connector transition.
func WithConnector(conn ConnStatus) Option {
	return func(s *Server) {
		s.handlers.conn = conn
	}
}

// WithMaxClientsPerAddress sets the connection limit per remote address.
func WithMaxClientsPerAddress(n int) Option {
	return func(s *Server) {
		s.limiter = NewConnectionLimiter(n)
	}
}

// WithDebounceWindow sets how long state and queue pushes are coalesced.
func WithDebounceWindow(d time.Duration) Option {
	return func(s *Server) {
		s.window = d
	}
}

// Server handles Socket.io connections and events.
type Server struct {
	io          *socket.Server
	state       *player.State
	handlers    *Handlers
	limiter     *ConnectionLimiter
	debouncer   *BroadcastDebouncer
	window      time.Duration
	emit        func(event string, payload any)
	unsubscribe func()

	mu      sync.RWMutex
	clients map[string]*socket.Socket
}

// NewServer creates a new Socket.io server pushing state changes to every
// connected client.
func NewServer(state *player.State, host *nowplaying.Host, opts ...Option) (*Server, error) {
	// Configure Socket.io server options
	ioOpts := socket.DefaultServerOptions()
	ioOpts.SetPingTimeout(20 * time.Second)
	ioOpts.SetPingInterval(25 * time.Second)
	ioOpts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{
		io:      socket.NewServer(nil, ioOpts),
		state:   state,
		limiter: NewConnectionLimiter(DefaultMaxPerAddress),
		window:  DefaultDebounceWindow,
		clients: make(map[string]*socket.Socket),
	}
	s.emit = func(event string, payload any) {
		s.io.Emit(event, payload)
	}
	s.handlers = &Handlers{
		state:     state,
		host:      host,
		broadcast: s.broadcast,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.debouncer = NewBroadcastDebouncer(s.window, s.BroadcastState, s.BroadcastQueue)
	s.unsubscribe = state.Subscribe(func(c player.Change) {
		s.debouncer.Trigger(c.Field)
	})
	if s.handlers.conn != nil {
		s.handlers.conn.OnStateChange(func(playback.ConnState) {
			s.BroadcastState()
		})
	}

	s.setupHandlers()

	return s, nil
}

// AttachSearch serves the search events from svc and pushes its result
// list to every client when it changes.
func (s *Server) AttachSearch(svc *search.Service) {
	s.handlers.search = svc
	svc.OnResults(func(songs []player.Song) {
		s.broadcast("pushSearchResults", s.handlers.searchPayload(songs))
	})
}

// Notify pushes a transient message to every client.
func (s *Server) Notify(message string) {
	log.Debug().Str("message", message).Msg("Toast")
	s.broadcast("pushToast", map[string]interface{}{"message": message})
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())
		addr := client.Handshake().Address

		log.Info().Str("id", clientID).Str("addr", addr).Msg("Client connected")

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()
		metrics.ClientConnected()

		if evicted := s.limiter.TryAdd(clientID, addr); evicted != "" {
			s.evict(evicted)
		}

		// Send initial state after small delay
		go func() {
			time.Sleep(100 * time.Millisecond)
			client.Emit("pushState", s.handlers.statePayload())
			client.Emit("pushQueue", s.handlers.queuePayload())
		}()

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.limiter.Remove(clientID)
			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
			metrics.ClientDisconnected()
		})

		s.handlers.Register(client)
	})
}

func (s *Server) evict(clientID string) {
	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	log.Info().Str("id", clientID).Msg("Evicting stale client")
	client.Disconnect(true)
}

func (s *Server) broadcast(event string, payload any) {
	s.emit(event, payload)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// BroadcastState sends state to all connected clients.
func (s *Server) BroadcastState() {
	state := s.handlers.statePayload()
	s.broadcast("pushState", state)

	if log.Debug().Enabled() {
		data, _ := json.Marshal(state)
		log.Debug().RawJSON("state", data).Int("clients", s.ClientCount()).Msg("Broadcast state")
	}
}

// BroadcastQueue sends queue to all connected clients.
func (s *Server) BroadcastQueue() {
	s.broadcast("pushQueue", s.handlers.queuePayload())
}

// StatePayload returns the current pushState body.
func (s *Server) StatePayload() map[string]interface{} {
	return s.handlers.statePayload()
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close stops pushes and closes the Socket.io server.
func (s *Server) Close() error {
	s.unsubscribe()
	s.debouncer.Stop()
	s.io.Close(nil)
	return nil
}
