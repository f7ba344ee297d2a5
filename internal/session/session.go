package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Message is one turn of conversation kept in session history.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Session holds the history of one conversation. All methods are safe for
// concurrent use.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	messages []Message
}

// AddMessage appends a turn to the session history.
func (s *Session) AddMessage(role, content string, metadata map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  metadata,
	})
}

// History returns up to limit most recent messages, oldest first. A limit
// of zero or less returns everything.
func (s *Session) History(limit int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Len reports the number of stored messages.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear drops the session history but keeps the session alive.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// Store keeps sessions in a bounded LRU cache so long-running gateways do
// not accumulate history without limit.
type Store struct {
	cache *lru.Cache[string, *Session]
}

// NewStore creates a store bounded to maxSessions entries.
func NewStore(maxSessions int) (*Store, error) {
	cache, err := lru.New[string, *Session](maxSessions)
	if err != nil {
		return nil, err
	}
	return &Store{cache: cache}, nil
}

// GetOrCreate fetches an existing session or creates one. An empty id gets
// a fresh UUID.
func (st *Store) GetOrCreate(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	if s, ok := st.cache.Get(id); ok {
		return s
	}
	s := &Session{ID: id, CreatedAt: time.Now()}
	st.cache.Add(id, s)
	return s
}

// Get fetches a session without creating one.
func (st *Store) Get(id string) (*Session, bool) {
	return st.cache.Get(id)
}

// Delete removes a session. Returns true if it existed.
func (st *Store) Delete(id string) bool {
	return st.cache.Remove(id)
}

// Count reports the number of live sessions.
func (st *Store) Count() int {
	return st.cache.Len()
}

// Stats summarizes the store for diagnostics.
func (st *Store) Stats() map[string]any {
	keys := st.cache.Keys()
	totalMessages := 0
	for _, k := range keys {
		if s, ok := st.cache.Peek(k); ok {
			totalMessages += s.Len()
		}
	}
	return map[string]any{
		"active_sessions": len(keys),
		"total_messages":  totalMessages,
	}
}
