package page

import (
	"errors"
	"net/url"
	"strings"
	"sync"
)

// ErrStorageDenied is returned by session stores that refuse access.
var ErrStorageDenied = errors.New("page: storage access denied")

// SessionStore is session-scoped key/value storage. Both operations may fail
// in restricted environments.
type SessionStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Environment is the read-only browsing context of a page view.
type Environment struct {
	ViewportWidth int
	URL           *url.URL
	Session       SessionStore

	// ScrollIntoView is called for deep-linked anchors. Optional.
	ScrollIntoView func(*Element)
}

// Fragment returns the URL fragment without '#'.
func (e Environment) Fragment() string {
	if e.URL == nil {
		return ""
	}
	return e.URL.Fragment
}

// Hostname returns the URL host without port.
func (e Environment) Hostname() string {
	if e.URL == nil {
		return ""
	}
	return e.URL.Hostname()
}

// IsLocal reports whether the page is served from a localhost origin.
func (e Environment) IsLocal() bool {
	return strings.Contains(e.Hostname(), "localhost")
}

// MemorySession is an in-memory SessionStore.
type MemorySession struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemorySession returns an empty MemorySession.
func NewMemorySession() *MemorySession {
	return &MemorySession{values: make(map[string]string)}
}

func (s *MemorySession) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

func (s *MemorySession) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// DeniedSession refuses every access, like storage in a sandboxed frame.
type DeniedSession struct{}

func (DeniedSession) Get(string) (string, error) { return "", ErrStorageDenied }
func (DeniedSession) Set(string, string) error   { return ErrStorageDenied }
