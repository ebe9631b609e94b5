package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"agroscan/internal/config"
	"agroscan/internal/logger"
	"agroscan/internal/model"
	"agroscan/internal/service/camera"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// ReapPeriod is how often expired sessions are torn down.
const ReapPeriod = time.Minute

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// Session is the signed-in user's context. It owns the user's camera loop.
type Session struct {
	Token     string
	User      *model.User
	Camera    *camera.Loop
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Close releases everything the session owns.
func (s *Session) Close() error {
	if s.Camera == nil {
		return nil
	}
	return s.Camera.Close()
}

// LoopFactory builds the camera loop for a new session.
type LoopFactory func(user *model.User) *camera.Loop

// Manager creates, resolves and tears down sessions.
type Manager struct {
	sessions map[string]*Session
	ttl      time.Duration
	clock    clock.Clock
	newLoop  LoopFactory
	mu       sync.Mutex
	logger   *logger.Logger
}

func NewManager(config *config.Config, logger *logger.Logger, clk clock.Clock, newLoop LoopFactory) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      config.SessionTTL,
		clock:    clk,
		newLoop:  newLoop,
		logger:   logger,
	}
}

// Create starts a session for a freshly authenticated user.
func (m *Manager) Create(user *model.User) *Session {
	now := m.clock.Now()
	s := &Session{
		Token:     uuid.NewString(),
		User:      user,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if m.newLoop != nil {
		s.Camera = m.newLoop(user)
	}

	m.mu.Lock()
	m.sessions[s.Token] = s
	m.mu.Unlock()

	m.logger.Info("Session created for %s", user.Email)
	return s
}

// Get resolves a token. Expired sessions are torn down on access.
func (m *Manager) Get(token string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[token]
	if ok && !m.clock.Now().Before(s.ExpiresAt) {
		delete(m.sessions, token)
		m.mu.Unlock()
		m.closeSession(s)
		return nil, ErrSessionExpired
	}
	m.mu.Unlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Destroy ends the session and closes its camera.
func (m *Manager) Destroy(token string) error {
	m.mu.Lock()
	s, ok := m.sessions[token]
	delete(m.sessions, token)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	m.logger.Info("Session ended for %s", s.User.Email)
	return m.closeSession(s)
}

// Reap tears down expired sessions and returns how many were removed.
func (m *Manager) Reap() int {
	now := m.clock.Now()

	m.mu.Lock()
	var expired []*Session
	for token, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			expired = append(expired, s)
			delete(m.sessions, token)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.closeSession(s)
	}
	return len(expired)
}

// Run reaps expired sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := m.clock.Ticker(ReapPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Reap(); n > 0 {
				m.logger.Info("Reaped %d expired sessions", n)
			}
		}
	}
}

// Close tears down every session. Used on shutdown.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var err error
	for _, s := range sessions {
		err = multierr.Append(err, s.Close())
	}
	return err
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) closeSession(s *Session) error {
	err := s.Close()
	if err != nil {
		m.logger.Warning("Error closing session for %s: %v", s.User.Email, err)
	}
	return err
}

type contextKey struct{}

// WithSession stores the session in the request context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored by WithSession.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}
