package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// Context holds the session currently being recorded.
type Context struct {
	mu      sync.RWMutex
	session *core.Session
}

// NewContext creates a Context with a fresh session started now.
func NewContext() *Context {
	return &Context{
		session: &core.Session{ID: uuid.New(), StartTime: time.Now()},
	}
}

// Get returns the current session.
func (c *Context) Get() *core.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// ID returns the current session id.
func (c *Context) ID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.ID
}

// Set replaces the current session.
func (c *Context) Set(s *core.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// End stamps the session end time.
func (c *Context) End(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.EndTime = &at
}

// LogAttrs tags log records with the current session id.
func (c *Context) LogAttrs() []slog.Attr {
	return []slog.Attr{slog.String("session_id", c.ID().String())}
}
