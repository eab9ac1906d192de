// Package session keeps each user's bounded conversation history and model
// selection in memory for the life of the process.
package session

import (
	"sync"

	ctxpkg "github.com/stupiduntilnot/tgrelay/internal/context"
	"github.com/stupiduntilnot/tgrelay/internal/model"
	"github.com/stupiduntilnot/tgrelay/internal/stats"
)

// MaxHistory is the number of entries (ten turns) retained per user.
const MaxHistory = 20

// Session is a copy of one user's state as returned by the Store.
type Session struct {
	UserID  int64
	History []ctxpkg.Message
	Model   string // registry label
}

type session struct {
	history []ctxpkg.Message
	model   string
}

// Store owns every user's session. Sessions are created lazily and never
// evicted, so memory grows with the number of distinct users.
type Store struct {
	registry   *model.Registry
	counters   *stats.Counters
	compressor ctxpkg.Compressor

	mu       sync.RWMutex
	sessions map[int64]*session
}

// NewStore creates an empty store. counters may be nil.
func NewStore(registry *model.Registry, counters *stats.Counters) *Store {
	return &Store{
		registry:   registry,
		counters:   counters,
		compressor: &ctxpkg.SimpleCompressor{MaxMessages: MaxHistory},
		sessions:   make(map[int64]*session),
	}
}

// GetOrCreate returns the user's session, creating it with empty history
// and the registry's default label on first use.
func (s *Store) GetOrCreate(userID int64) Session {
	sess, _ := s.Open(userID)
	return sess
}

// Open is GetOrCreate that also reports whether userID was seen for the
// first time.
func (s *Store) Open(userID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.sessions[userID]
	isNew := !existed
	if s.counters != nil {
		isNew = s.counters.AddUser(userID)
	}
	return s.copyOf(userID, s.ensure(userID)), isNew
}

// AppendTurn records a completed turn and trims the oldest entries beyond
// MaxHistory.
func (s *Store) AppendTurn(userID int64, userText, assistantText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.ensure(userID)
	history := append(sess.history, ctxpkg.UserMessage(userText), ctxpkg.AssistantMessage(assistantText))
	sess.history = s.compressor.Compress(history)
}

// Reset clears the user's history, keeping the selected model. It returns
// how many entries were removed.
func (s *Store) Reset(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.ensure(userID)
	cleared := len(sess.history)
	sess.history = nil
	return cleared
}

// SetModel selects label for the user. Unknown labels leave the session
// untouched and return an error matching model.ErrInvalidModelLabel.
func (s *Store) SetModel(userID int64, label string) (model.Entry, error) {
	entry, err := s.registry.Resolve(label)
	if err != nil {
		return model.Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(userID).model = entry.Label
	return entry, nil
}

// Stats summarises the store for reporting.
type Stats struct {
	Sessions            int
	ActiveConversations int
}

// Snapshot counts sessions, and those with any retained history.
func (s *Store) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Sessions: len(s.sessions)}
	for _, sess := range s.sessions {
		if len(sess.history) > 0 {
			st.ActiveConversations++
		}
	}
	return st
}

// ensure must be called with mu held for writing.
func (s *Store) ensure(userID int64) *session {
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &session{model: s.registry.DefaultLabel()}
		s.sessions[userID] = sess
	}
	return sess
}

func (s *Store) copyOf(userID int64, sess *session) Session {
	history := make([]ctxpkg.Message, len(sess.history))
	copy(history, sess.history)
	return Session{UserID: userID, History: history, Model: sess.model}
}
