// Package session keeps the continuation state of interactive runs.
//
// A Store is an owned, lifecycle-scoped registry: create it with NewStore,
// call Start to begin reaping expired entries and Close when the process shuts
// down. Nothing is persisted; a restart forgets every session.
//
// Each session id is logically single-writer. Lock serializes continuations
// on the same id so two inputs never race through one suspended run.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/autofix-playground/internal/apperror"
	"github.com/sakif/autofix-playground/internal/model"
)

// Config bounds the store.
type Config struct {
	// TTL is how long a session may sit idle before it is dropped.
	TTL time.Duration
	// MaxSessions caps live sessions; Create fails beyond it.
	MaxSessions int
	// ReapInterval is how often the janitor sweeps expired entries.
	ReapInterval time.Duration
}

// DefaultConfig returns limits suited to a single playground server.
func DefaultConfig() Config {
	return Config{
		TTL:          10 * time.Minute,
		MaxSessions:  256,
		ReapInterval: time.Minute,
	}
}

type entry struct {
	mu      sync.Mutex // held for the duration of a continuation
	session model.Session
	expires time.Time
}

// Store is the registry of in-flight interactive sessions.
type Store struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewStore creates an empty store. It does not reap until Start is called.
func NewStore(cfg Config, logger *slog.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultConfig().ReapInterval
	}
	return &Store{
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
}

// Start launches the background janitor.
func (s *Store) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.janitor()
	})
}

// Close stops the janitor and forgets every session.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		s.mu.Lock()
		n := len(s.entries)
		s.entries = make(map[string]*entry)
		s.mu.Unlock()
		s.logger.Info("session store closed", slog.Int("dropped", n))
	})
}

// Create registers sess under a freshly generated id and returns the id.
// Any ID already set on sess is ignored: ids are never reused.
func (s *Store) Create(sess model.Session) (string, error) {
	now := s.now()
	sess.ID = xid.New().String()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.MaxSessions > 0 && s.liveLocked(now) >= s.config.MaxSessions {
		return "", apperror.Conflict("session", "limit")
	}
	s.entries[sess.ID] = &entry{session: sess, expires: now.Add(s.config.TTL)}

	s.logger.Debug("session created",
		slog.String("id", sess.ID),
		slog.String("language", sess.Language),
	)
	return sess.ID, nil
}

// Get returns a copy of the session, or false if it is unknown or expired.
func (s *Store) Get(id string) (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || s.now().After(e.expires) {
		return model.Session{}, false
	}
	return copySession(e.session), true
}

// Update applies patch to the live session and refreshes its expiry.
func (s *Store) Update(id string, patch func(*model.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[id]
	if !ok || now.After(e.expires) {
		return apperror.NotFound("session", id)
	}
	patch(&e.session)
	e.session.ID = id
	e.session.UpdatedAt = now
	e.expires = now.Add(s.config.TTL)
	return nil
}

// Delete drops the session. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if ok {
		s.logger.Debug("session deleted", slog.String("id", id))
	}
}

// Lock acquires the per-session mutex. It blocks while another continuation
// holds it and returns false if the session is gone by the time it is
// acquired. Callers must call unlock exactly once.
func (s *Store) Lock(id string) (unlock func(), ok bool) {
	s.mu.RLock()
	e, found := s.entries[id]
	s.mu.RUnlock()
	if !found {
		return nil, false
	}

	e.mu.Lock()

	s.mu.RLock()
	live := s.entries[id] == e && !s.now().After(e.expires)
	s.mu.RUnlock()
	if !live {
		e.mu.Unlock()
		return nil, false
	}
	return e.mu.Unlock, true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveLocked(s.now())
}

func (s *Store) liveLocked(now time.Time) int {
	n := 0
	for _, e := range s.entries {
		if !now.After(e.expires) {
			n++
		}
	}
	return n
}

// janitor periodically reaps expired sessions until Close.
func (s *Store) janitor() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.reap()
		}
	}
}

// reap removes expired entries. Sessions with a continuation in flight are
// left for the next sweep.
func (s *Store) reap() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := 0
	for id, e := range s.entries {
		if !now.After(e.expires) {
			continue
		}
		if !e.mu.TryLock() {
			continue
		}
		delete(s.entries, id)
		e.mu.Unlock()
		reaped++
	}
	if reaped > 0 {
		s.logger.Info("expired sessions reaped", slog.Int("count", reaped))
	}
	return reaped
}

func copySession(sess model.Session) model.Session {
	sess.PendingInput = append([]string(nil), sess.PendingInput...)
	return sess
}
