package player

// Song is a track returned by the remote lookup service.
// It is treated as an immutable value once fetched.
type Song struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album,omitempty"`
	CoverURL   string `json:"albumart,omitempty"`
	PreviewURL string `json:"uri,omitempty"`
	Duration   int    `json:"duration,omitempty"` // Duration in seconds
}

// Playable reports whether the song carries a stream the playback service can load.
func (s Song) Playable() bool {
	return s.PreviewURL != ""
}

// ToJSON returns the song as a map suitable for socket.io payloads.
func (s Song) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"id":       s.ID,
		"title":    s.Title,
		"artist":   s.Artist,
		"album":    s.Album,
		"albumart": s.CoverURL,
		"uri":      s.PreviewURL,
		"duration": s.Duration,
	}
}

// SongsToJSON converts a list of songs to socket.io payload maps.
func SongsToJSON(songs []Song) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(songs))
	for _, s := range songs {
		out = append(out, s.ToJSON())
	}
	return out
}
