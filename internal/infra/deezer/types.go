package deezer

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/edumarques81/kittunes-backend/internal/domain/player"
)

var (
	// ErrTemporaryFailure indicates a temporary upstream failure.
	ErrTemporaryFailure = errors.New("temporary failure")

	// ErrRateLimited indicates rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is a non-success answer from the API. Message carries the
// server-provided text meant for the user. Err is ErrRateLimited or
// ErrTemporaryFailure when the answer falls in one of those classes.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
	Code       int
	Err        error
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("deezer %s (status %d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("deezer status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// SearchResponse represents a Deezer track search response.
type SearchResponse struct {
	Data  []Track    `json:"data"`
	Total int        `json:"total"`
	Next  string     `json:"next,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the error object Deezer embeds in 200 responses.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Track represents a track from Deezer API.
type Track struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Duration int    `json:"duration"`
	Preview  string `json:"preview"`
	Artist   struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"artist"`
	Album struct {
		ID          int64  `json:"id"`
		Title       string `json:"title"`
		Cover       string `json:"cover"`
		CoverMedium string `json:"cover_medium"`
		CoverBig    string `json:"cover_big"`
	} `json:"album"`
}

// Song converts the track to the domain song.
func (t Track) Song() player.Song {
	cover := t.Album.CoverMedium
	if cover == "" {
		cover = t.Album.Cover
	}
	return player.Song{
		ID:         strconv.FormatInt(t.ID, 10),
		Title:      t.Title,
		Artist:     t.Artist.Name,
		Album:      t.Album.Title,
		CoverURL:   cover,
		PreviewURL: t.Preview,
		Duration:   t.Duration,
	}
}
