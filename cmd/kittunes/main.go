// Package main is the entry point for the KitTunes backend.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/kittunes-backend/internal/config"
	"github.com/edumarques81/kittunes-backend/internal/domain/nowplaying"
	"github.com/edumarques81/kittunes-backend/internal/domain/player"
	"github.com/edumarques81/kittunes-backend/internal/domain/search"
	"github.com/edumarques81/kittunes-backend/internal/infra/deezer"
	"github.com/edumarques81/kittunes-backend/internal/infra/mpd"
	"github.com/edumarques81/kittunes-backend/internal/infra/mpv"
	"github.com/edumarques81/kittunes-backend/internal/infra/playlist"
	"github.com/edumarques81/kittunes-backend/internal/infra/session"
	"github.com/edumarques81/kittunes-backend/internal/metrics"
	"github.com/edumarques81/kittunes-backend/internal/playback"
	"github.com/edumarques81/kittunes-backend/internal/transport/socketio"
	"github.com/edumarques81/kittunes-backend/internal/version"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	setupLogging(cfg.Log.Debug)

	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Song search and playback sync backend")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("port", cfg.Server.Port).
		Str("backend", cfg.Player.Backend).
		Str("mpd_host", cfg.MPD.Host).
		Int("mpd_port", cfg.MPD.Port).
		Str("deezer", cfg.Deezer.BaseURL).
		Bool("rapidapi", cfg.Deezer.APIKey != "").
		Str("data_dir", cfg.Data.Dir).
		Msg("Configuration")

	if err := os.MkdirAll(cfg.Data.Dir, 0755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Data.Dir).Msg("Failed to create data directory")
	}

	// Stores
	sessionStore, err := session.Open(cfg.SessionPath(), cfg.History.Limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open session store")
	}
	defer sessionStore.Close()

	playlists := playlist.NewStore(cfg.PlaylistPath())
	if err := playlists.Open(); err != nil {
		log.Fatal().Err(err).Msg("Failed to open playlist store")
	}
	defer playlists.Close()

	// Shared state, seeded from the previous session
	state := player.NewState()
	if snap, ok, err := sessionStore.LoadSnapshot(); err != nil {
		log.Warn().Err(err).Msg("Ignoring unreadable session snapshot")
	} else if ok {
		state.Restore(snap)
		log.Info().Str("status", state.Snapshot().Status()).Int("queue", len(snap.Queue)).Msg("Session restored")
	}
	stopRecording := session.NewRecorder(sessionStore).Attach(state)
	defer stopRecording()

	// Playback
	conn := playback.NewConnector(newBackend(cfg))
	conn.OnStateChange(func(s playback.ConnState) {
		metrics.SetConnectorState(int(s))
	})

	host := nowplaying.NewHost(state, conn)
	defer host.Close()

	socketServer, err := socketio.NewServer(state, host,
		socketio.WithConnector(conn),
		socketio.WithHistory(sessionStore, cfg.History.Limit),
		socketio.WithPlaylists(playlists),
		socketio.WithMaxClientsPerAddress(cfg.Server.MaxClientsPerAddress),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Socket.io server")
	}
	defer socketServer.Close()

	lookup := deezer.NewClient(
		deezer.WithBaseURL(cfg.Deezer.BaseURL),
		deezer.WithRapidAPI(cfg.Deezer.APIKey, cfg.Deezer.APIHost),
		deezer.WithLimit(cfg.Deezer.Limit),
		deezer.WithHTTPClient(&http.Client{Timeout: cfg.Deezer.Timeout}),
		deezer.WithUserAgent(versionInfo.Name+"/"+versionInfo.Version),
	)
	searchService := search.NewService(lookup, state, conn,
		search.WithNotifier(socketServer),
		search.WithPlaylists(playlists),
	)
	defer searchService.Close()
	socketServer.AttachSearch(searchService)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Restore runs again once the connector reaches Bound.
	host.Restore()
	conn.Bind(ctx, nil)

	mux := newMux(socketServer, conn, socketServer.StatePayload)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	if err := conn.Unbind(); err != nil {
		log.Warn().Err(err).Msg("Failed to unbind playback service")
	}
	log.Info().Msg("Server stopped")
}

func setupLogging(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// newBackend builds the playback backend selected in cfg.
func newBackend(cfg *config.Config) playback.Backend {
	switch cfg.Player.Backend {
	case config.BackendMPV:
		return mpv.NewPlayer(cfg.Player.MPVSocket, cfg.Player.MPVBinary)
	default:
		return mpd.NewClient(cfg.MPD.Host, cfg.MPD.Port, cfg.MPD.Password)
	}
}

// connStatus is the connector surface the health check reads.
type connStatus interface {
	State() playback.ConnState
	IsBound() bool
}

// newMux wires the Socket.io endpoint, metrics and the REST fallbacks.
func newMux(socketHandler http.Handler, conn connStatus, statePayload func() map[string]interface{}) *http.ServeMux {
	mux := http.NewServeMux()

	// Socket.io endpoint
	mux.Handle("/socket.io/", socketHandler)
	mux.Handle("/metrics", metrics.Handler())

	mux.Handle("/health", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok", "playback": conn.State().String()}
		if !conn.IsBound() {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
		writeJSON(w, status, body)
	})))

	mux.Handle("/api/v1/version", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, version.GetInfo())
	})))

	mux.Handle("/api/v1/state", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statePayload())
	})))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
