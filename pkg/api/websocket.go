package api

import (
	"net/url"

	"github.com/coder/websocket"
)

// acceptOptions derives websocket origin rules from the CORS origin
// list. A "*" entry disables the origin check entirely; otherwise each
// configured origin's host becomes an allowed pattern. Same-origin
// upgrades always pass.
func (s *Server) acceptOptions() *websocket.AcceptOptions {
	patterns := make([]string, 0, len(s.corsOrigins))
	for _, origin := range s.corsOrigins {
		if origin == "*" {
			return &websocket.AcceptOptions{InsecureSkipVerify: true}
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}
