package studio

import (
	"context"
	"image"
	"io"
	"log"
	"sync"
	"time"

	"github.com/dunamismax/pixelframe/internal/cover"
	"github.com/dunamismax/pixelframe/internal/id"
	"github.com/dunamismax/pixelframe/internal/pipeline"
)

const (
	DefaultTTL            = 30 * time.Minute
	DefaultMaxUploadBytes = 25 << 20
)

type Options struct {
	Variant   cover.Variant
	Templates cover.TemplateSource
	// Cache is shared by every session so a template is fetched once.
	Cache *cover.TemplateCache
	Blobs BlobStore

	Decode func(data []byte) (image.Image, error)

	TTL                time.Duration
	MaxUploadBytes     int64
	PosterDisplayWidth float64
	PosterRasterScale  float64

	Logger *log.Logger
	Now    func() time.Time
}

func (o *Options) withDefaults() {
	if o.Variant == "" {
		o.Variant = cover.Overlay
	}
	if o.Cache == nil {
		o.Cache = cover.NewTemplateCache()
	}
	if o.Blobs == nil {
		o.Blobs = NewMemoryBlobStore()
	}
	if o.Decode == nil {
		o.Decode = pipeline.Decode
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
}

// Manager owns the live sessions and expires idle ones.
type Manager struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(opts Options) *Manager {
	opts.withDefaults()
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Options() Options {
	return m.opts
}

func (m *Manager) Create() *Session {
	s := newSession(id.New(), &m.opts)

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	return s
}

// Get returns a live session and marks it as used.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}

	s.touch()
	return s, true
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) Close(ctx context.Context, sessionID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Close(ctx)
	return true
}

// Sweep closes sessions idle for longer than the TTL and reports how many
// it closed.
func (m *Manager) Sweep(ctx context.Context) int {
	cutoff := m.opts.Now().Add(-m.opts.TTL)

	m.mu.Lock()
	var expired []*Session
	for sid, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, sid)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Close(ctx)
	}
	if len(expired) > 0 {
		m.opts.Logger.Printf("expired sessions count=%d live=%d", len(expired), m.Len())
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close(ctx)
	}
}
