package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinquery/clinquery/internal/ledger"
	"github.com/clinquery/clinquery/internal/observability"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrClosed          = errors.New("session is closed")
	ErrTooManySessions = errors.New("session limit reached")
)

// Session owns one ledger and admits one turn at a time.
type Session struct {
	ID        string
	CreatedAt time.Time
	Ledger    *ledger.Ledger

	turn   chan struct{}
	mu     sync.Mutex
	closed bool
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		CreatedAt: now.UTC(),
		Ledger:    ledger.New(id),
		turn:      make(chan struct{}, 1),
	}
}

// acquire blocks until no other turn is running or ctx is done.
func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.Closed() {
		s.release()
		return ErrClosed
	}
	return nil
}

func (s *Session) release() {
	<-s.turn
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type Summary struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Turns     int       `json:"turns"`
}

func (s *Session) Summary() Summary {
	return Summary{ID: s.ID, CreatedAt: s.CreatedAt, Turns: s.Ledger.Len()}
}

// Manager tracks live sessions. Sessions share nothing but the read-only store
// and schema descriptor.
type Manager struct {
	MaxSessions int
	Archiver    *Archiver
	Logger      *slog.Logger
	Clock       func() time.Time
	NewID       func() string

	mu       sync.Mutex
	sessions map[string]*Session
}

func (m *Manager) ensureDefaults() {
	if m.Clock == nil {
		m.Clock = time.Now
	}
	if m.NewID == nil {
		m.NewID = uuid.NewString
	}
	if m.sessions == nil {
		m.sessions = map[string]*Session{}
	}
}

func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureDefaults()

	if m.MaxSessions > 0 && len(m.sessions) >= m.MaxSessions {
		return nil, ErrTooManySessions
	}
	s := newSession(m.NewID(), m.Clock())
	m.sessions[s.ID] = s
	observability.SetActiveSessions(len(m.sessions))
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureDefaults()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) List() []Summary {
	m.mu.Lock()
	m.ensureDefaults()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Close waits for any running turn, archives the ledger when an archiver is
// configured, and destroys the session.
func (m *Manager) Close(ctx context.Context, id string) (CloseResult, error) {
	s, err := m.Get(id)
	if err != nil {
		return CloseResult{}, err
	}
	if err := s.acquire(ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			return CloseResult{}, ErrNotFound
		}
		return CloseResult{}, fmt.Errorf("wait for running turn: %w", err)
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.release()

	m.mu.Lock()
	delete(m.sessions, id)
	observability.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	result := CloseResult{SessionID: s.ID, Turns: s.Ledger.Len()}
	if m.Archiver != nil && result.Turns > 0 {
		archive, err := m.Archiver.Archive(ctx, s.ID, s.Ledger.All())
		if err != nil {
			if m.Logger != nil {
				m.Logger.ErrorContext(ctx, "session archive failed", slog.String("session_id", s.ID), slog.Any("error", err))
			}
		} else {
			result.ArchiveKey = archive.ObjectKey
		}
	}
	s.Ledger.Clear()
	return result, nil
}

// CloseAll closes every live session, used at shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	for _, summary := range m.List() {
		if _, err := m.Close(ctx, summary.ID); err != nil && m.Logger != nil {
			m.Logger.WarnContext(ctx, "session close failed", slog.String("session_id", summary.ID), slog.Any("error", err))
		}
	}
}

type CloseResult struct {
	SessionID  string `json:"session_id"`
	Turns      int    `json:"turns"`
	ArchiveKey string `json:"archive_key,omitempty"`
}
