package convo

import (
	"context"
	"slices"
	"sync"
	"time"

	"taskpilot/pkg/logx"
)

// DefaultWindow is the number of turns kept per user.
const DefaultWindow = 20

// Journal persists contexts so they survive restarts.
type Journal interface {
	Load(ctx context.Context, userID string) (Context, bool, error)
	Save(ctx context.Context, c Context) error
}

type userState struct {
	mu     sync.Mutex
	conv   Context
	lane   *lane
	loaded sync.Once
}

// Store keeps one Context per user. Every mutation of a user's context happens under that user's lock.
type Store struct {
	window  int
	journal Journal
	logger  *logx.Logger
	now     func() time.Time

	mu    sync.Mutex
	users map[string]*userState
}

// NewStore creates a store keeping at most window turns per user. journal may be nil.
func NewStore(window int, journal Journal) *Store {
	if window < 1 {
		window = DefaultWindow
	}
	return &Store{
		window:  window,
		journal: journal,
		logger:  logx.NewLogger("convo"),
		now:     time.Now,
		users:   make(map[string]*userState),
	}
}

// Window returns the per-user turn limit.
func (s *Store) Window() int {
	return s.window
}

func (s *Store) user(userID string) *userState {
	s.mu.Lock()
	u, ok := s.users[userID]
	if !ok {
		u = &userState{conv: Context{UserID: userID}, lane: newLane()}
		s.users[userID] = u
	}
	s.mu.Unlock()

	// Journal I/O only holds up callers for this user.
	u.loaded.Do(func() { s.load(u, userID) })
	return u
}

func (s *Store) load(u *userState, userID string) {
	if s.journal == nil {
		return
	}
	loaded, found, err := s.journal.Load(context.Background(), userID)
	switch {
	case err != nil:
		s.logger.Warn("journal load failed for %s: %v", logx.UserRef(userID), err)
	case found:
		loaded.UserID = userID
		u.mu.Lock()
		u.conv = s.truncate(loaded)
		u.mu.Unlock()
	}
}

// Acquire takes the caller's place in the user's receipt-order lane and blocks until it is
// the caller's turn or ctx ends. On success the returned release func must be called once the
// request is finished; on error the place has already been given up.
func (s *Store) Acquire(ctx context.Context, userID string) (release func(), err error) {
	l := s.user(userID).lane
	return l.wait(ctx, l.ticket())
}

// Get returns a snapshot of the user's context, creating an empty one on first access.
func (s *Store) Get(userID string) Context {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conv.Clone()
}

// AppendTurn records a turn, evicting the oldest turns beyond the window.
func (s *Store) AppendTurn(userID string, turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now()
	}
	s.mutate(userID, func(c *Context) {
		c.Turns = append(c.Turns, turn)
		*c = s.truncate(*c)
	})
}

// SetPendingClarification remembers which intent is waiting for which fields.
func (s *Store) SetPendingClarification(userID, intent string, missing []string, entities map[string]string) {
	s.mutate(userID, func(c *Context) {
		c.Pending = (&Clarification{Intent: intent, MissingFields: missing, Entities: entities}).Clone()
	})
}

// ClearPendingClarification drops any pending clarification.
func (s *Store) ClearPendingClarification(userID string) {
	s.mutate(userID, func(c *Context) {
		c.Pending = nil
	})
}

// SetLastEntityRef records the task the user last referred to. An empty ref clears it.
func (s *Store) SetLastEntityRef(userID, ref string) {
	s.mutate(userID, func(c *Context) {
		c.LastEntityRef = ref
	})
}

func (s *Store) mutate(userID string, fn func(c *Context)) {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	fn(&u.conv)

	if s.journal != nil {
		if err := s.journal.Save(context.Background(), u.conv.Clone()); err != nil {
			s.logger.Warn("journal save failed for %s: %v", logx.UserRef(userID), err)
		}
	}
}

func (s *Store) truncate(c Context) Context {
	if over := len(c.Turns) - s.window; over > 0 {
		c.Turns = slices.Clone(c.Turns[over:])
	}
	return c
}
