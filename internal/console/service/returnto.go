package service

import (
	"net/url"
	"strings"
	"sync"
)

// Destination is a UI location: a path plus its query string.
type Destination struct {
	Path   string `json:"path"`
	Search string `json:"search"`
}

// Root is the default post-login destination.
var Root = Destination{Path: "/"}

// ParseDestination splits a relative URL into a Destination. Absolute URLs
// and anything that is not a plain path fall back to Root so the value
// cannot send the user off-site.
func ParseDestination(raw string) Destination {
	if raw == "" {
		return Root
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") {
		return Root
	}
	d := Destination{Path: u.Path}
	if u.RawQuery != "" {
		d.Search = "?" + u.RawQuery
	}
	return d
}

func (d Destination) String() string { return d.Path + d.Search }

// ReturnTo remembers where the user was headed when a protected route found
// no session. It is captured once and consumed once.
type ReturnTo struct {
	mu   sync.Mutex
	dest *Destination
}

// Capture records d unless a destination is already pending. It reports
// whether d was recorded.
func (r *ReturnTo) Capture(d Destination) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dest != nil {
		return false
	}
	r.dest = &d
	return true
}

// Peek returns the pending destination without consuming it.
func (r *ReturnTo) Peek() (Destination, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dest == nil {
		return Destination{}, false
	}
	return *r.dest, true
}

// Consume returns the pending destination, or Root, and clears it.
func (r *ReturnTo) Consume() Destination {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dest == nil {
		return Root
	}
	d := *r.dest
	r.dest = nil
	return d
}
