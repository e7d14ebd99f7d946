// Package playlist provides a SQLite-backed playlist store.
package playlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/kittunes-backend/internal/domain/player"
)

const (
	// CurrentSchemaVersion is the current database schema version.
	CurrentSchemaVersion = "1"

	// DefaultDBPath is the default path for the playlist database.
	DefaultDBPath = "data/playlists.db"

	// DefaultPlaylistName is used when a song is added without choosing a playlist.
	DefaultPlaylistName = "Liked Songs"
)

var (
	// ErrPlaylistNotFound is returned for unknown playlist IDs.
	ErrPlaylistNotFound = errors.New("playlist not found")

	// ErrNotOpen is returned when the database has not been opened.
	ErrNotOpen = errors.New("database not open")

	// ErrEmptyName is returned when creating a playlist without a name.
	ErrEmptyName = errors.New("playlist name is empty")
)

// Playlist is a named list of songs.
type Playlist struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	TrackCount int       `json:"trackCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store represents the SQLite playlist database.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewStore creates a new playlist store instance.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultDBPath
	}
	return &Store{
		path: path,
	}
}

// Open opens the database and initializes the schema.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create playlist directory: %w", err)
	}

	db, err := sql.Open("sqlite3", s.path+"?_journal=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("failed to open playlist database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s.db = db

	if err := s.initSchema(); err != nil {
		s.db.Close()
		s.db = nil
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", s.path).Msg("Playlist database opened")
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS playlist_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS playlists (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS playlist_tracks (
		playlist_id TEXT NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		song_id TEXT NOT NULL,
		title TEXT NOT NULL,
		artist TEXT NOT NULL,
		album TEXT,
		cover_url TEXT,
		preview_url TEXT,
		duration INTEGER DEFAULT 0,
		added_at TEXT NOT NULL,
		PRIMARY KEY (playlist_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_playlist_tracks_song ON playlist_tracks(song_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	var version string
	err := s.db.QueryRow("SELECT value FROM playlist_meta WHERE key = 'schema_version'").Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if version != CurrentSchemaVersion {
		_, err = s.db.Exec(`
			INSERT INTO playlist_meta (key, value) VALUES ('schema_version', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, CurrentSchemaVersion)
		return err
	}
	return nil
}

func (s *Store) conn() (*sql.DB, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}
	return s.db, nil
}

// CreatePlaylist creates an empty playlist.
func (s *Store) CreatePlaylist(ctx context.Context, name string) (Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(ctx, name)
}

func (s *Store) createLocked(ctx context.Context, name string) (Playlist, error) {
	db, err := s.conn()
	if err != nil {
		return Playlist{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Playlist{}, ErrEmptyName
	}

	p := Playlist{ID: uuid.New().String(), Name: name, CreatedAt: time.Now().UTC()}
	_, err = db.ExecContext(ctx,
		"INSERT INTO playlists (id, name, created_at) VALUES (?, ?, ?)",
		p.ID, p.Name, p.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Playlist{}, fmt.Errorf("create playlist %q: %w", name, err)
	}

	log.Info().Str("id", p.ID).Str("name", p.Name).Msg("Playlist created")
	return p, nil
}

// ListPlaylists returns all playlists ordered by name.
func (s *Store) ListPlaylists(ctx context.Context) ([]Playlist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT p.id, p.name, p.created_at, COUNT(t.position)
		FROM playlists p
		LEFT JOIN playlist_tracks t ON t.playlist_id = p.id
		GROUP BY p.id
		ORDER BY p.name COLLATE NOCASE
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	playlists := []Playlist{}
	for rows.Next() {
		var p Playlist
		var created string
		if err := rows.Scan(&p.ID, &p.Name, &created, &p.TrackCount); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		playlists = append(playlists, p)
	}
	return playlists, rows.Err()
}

// AddTrack appends song to the playlist. An empty playlistID targets the
// default playlist, which is created on first use.
func (s *Store) AddTrack(ctx context.Context, playlistID string, song player.Song) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return err
	}

	if playlistID == "" {
		playlistID, err = s.defaultPlaylistLocked(ctx)
		if err != nil {
			return err
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM playlists WHERE id = ?", playlistID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrPlaylistNotFound, playlistID)
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(position) + 1, 0) FROM playlist_tracks WHERE playlist_id = ?",
		playlistID).Scan(&next); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO playlist_tracks
			(playlist_id, position, song_id, title, artist, album, cover_url, preview_url, duration, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, playlistID, next, song.ID, song.Title, song.Artist, song.Album, song.CoverURL, song.PreviewURL,
		song.Duration, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Debug().Str("playlist", playlistID).Str("song", song.ID).Int("position", next).Msg("Track added to playlist")
	return nil
}

func (s *Store) defaultPlaylistLocked(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM playlists WHERE name = ?", DefaultPlaylistName).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	p, err := s.createLocked(ctx, DefaultPlaylistName)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

// Tracks returns the songs of a playlist in insertion order.
func (s *Store) Tracks(ctx context.Context, playlistID string) ([]player.Song, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var exists int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM playlists WHERE id = ?", playlistID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPlaylistNotFound, playlistID)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT song_id, title, artist, COALESCE(album, ''), COALESCE(cover_url, ''), COALESCE(preview_url, ''), duration
		FROM playlist_tracks
		WHERE playlist_id = ?
		ORDER BY position
	`, playlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	songs := []player.Song{}
	for rows.Next() {
		var song player.Song
		if err := rows.Scan(&song.ID, &song.Title, &song.Artist, &song.Album, &song.CoverURL, &song.PreviewURL, &song.Duration); err != nil {
			return nil, err
		}
		songs = append(songs, song)
	}
	return songs, rows.Err()
}

// DeletePlaylist removes a playlist and its tracks.
func (s *Store) DeletePlaylist(ctx context.Context, playlistID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, "DELETE FROM playlists WHERE id = ?", playlistID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrPlaylistNotFound, playlistID)
	}

	log.Info().Str("id", playlistID).Msg("Playlist deleted")
	return nil
}
