// Package registry owns the mapping from session id to document session. It
// enforces id uniqueness, the Open → Closing → Closed lifecycle, and the
// pairing between engine handles and backing files.
package registry

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pagedock/pagedock/internal/document"
	"github.com/pagedock/pagedock/internal/engine"
	"github.com/pagedock/pagedock/internal/storage"
)

// State is a session's lifecycle phase. Transitions are monotonic: a session
// moves Open → Closing → Closed exactly once and never backward.
type State int

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

// session is the registry's internal record. The handle may only be touched
// while state is Open; inflight counts engine operations using the handle so
// Delete can wait them out before closing it.
type session struct {
	id          string
	filename    string
	storagePath string
	pageCount   int
	metadata    map[string]string
	handle      engine.Handle

	mu       sync.Mutex
	state    State
	inflight sync.WaitGroup
}

// Registry is the shared session registry. The map lock is scoped to map
// mutations only and is never held across an engine or storage call, so
// opening or closing a large document cannot stall unrelated sessions.
type Registry struct {
	engine  engine.Engine
	storage *storage.Manager
	logger  zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	order    []string
}

// New creates an empty registry.
func New(eng engine.Engine, store *storage.Manager, logger zerolog.Logger) *Registry {
	return &Registry{
		engine:   eng,
		storage:  store,
		logger:   logger.With().Str("component", "registry").Logger(),
		sessions: make(map[string]*session),
	}
}

// Register persists data, opens it with the engine and creates an Open
// session. On a parse failure the partially written file is removed; no
// orphaned storage survives a failed registration.
func (r *Registry) Register(data []byte, displayName string) (document.Info, error) {
	id := uuid.NewString()
	path, err := r.storage.WriteUpload(id, data)
	if err != nil {
		return document.Info{}, err
	}
	handle, err := r.engine.Open(data)
	if err != nil {
		if rmErr := r.storage.Remove(path); rmErr != nil {
			r.logger.Error().Err(rmErr).Str("path", path).Msg("cleanup after failed open")
		}
		return document.Info{}, err
	}
	info, err := r.describe(handle)
	if err != nil {
		r.discard(handle, path)
		return document.Info{}, err
	}

	s := &session{
		id:          id,
		filename:    displayName,
		storagePath: path,
		pageCount:   info.PageCount,
		metadata:    info.Metadata,
		handle:      handle,
		state:       StateOpen,
	}
	if err := r.insert(s); err != nil {
		r.discard(handle, path)
		return document.Info{}, err
	}
	r.logger.Info().Str("id", id).Str("filename", displayName).Int("pages", s.pageCount).Msg("document registered")

	info.ID = id
	info.Filename = displayName
	return info, nil
}

// Insert registers a fully built session, used by merge. The caller owns the
// handle and the file at storagePath until Insert returns nil.
func (r *Registry) Insert(id, filename, storagePath string, pageCount int, metadata map[string]string, handle engine.Handle) error {
	return r.insert(&session{
		id:          id,
		filename:    filename,
		storagePath: storagePath,
		pageCount:   pageCount,
		metadata:    metadata,
		handle:      handle,
		state:       StateOpen,
	})
}

// Get returns an immutable snapshot of an Open session.
func (r *Registry) Get(id string) (document.Info, error) {
	s, err := r.open(id)
	if err != nil {
		return document.Info{}, err
	}
	meta := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		meta[k] = v
	}
	return document.Info{ID: s.id, Filename: s.filename, PageCount: s.pageCount, Metadata: meta}, nil
}

// Acquire returns the session's engine handle for one operation. The caller
// must invoke release when the engine call completes; Delete blocks on
// outstanding acquisitions before closing the handle, so a held handle can
// never be closed underneath its user.
func (r *Registry) Acquire(id string) (engine.Handle, func(), error) {
	r.mu.RLock()
	s := r.sessions[id]
	r.mu.RUnlock()
	if s == nil {
		return nil, nil, fmt.Errorf("%w: %s", document.ErrNotFound, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return nil, nil, fmt.Errorf("%w: %s", document.ErrNotFound, id)
	}
	s.inflight.Add(1)
	return s.handle, func() { s.inflight.Done() }, nil
}

// File resolves an Open session to its backing file path and display name.
func (r *Registry) File(id string) (path, filename string, err error) {
	s, err := r.open(id)
	if err != nil {
		return "", "", err
	}
	return s.storagePath, s.filename, nil
}

// List returns a point-in-time snapshot of Open sessions in insertion order.
func (r *Registry) List() []document.Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]document.Summary, 0, len(r.order))
	for _, id := range r.order {
		s := r.sessions[id]
		if s == nil {
			continue
		}
		s.mu.Lock()
		open := s.state == StateOpen
		s.mu.Unlock()
		if open {
			out = append(out, document.Summary{ID: s.id, Filename: s.filename, PageCount: s.pageCount})
		}
	}
	return out
}

// Delete tears a session down: it moves the session to Closing so no new
// Acquire can succeed, waits for in-flight operations to drain, closes the
// engine handle, removes the backing file and drops the entry. A concurrent
// or repeated Delete observes ErrNotFound.
func (r *Registry) Delete(id string) error {
	r.mu.RLock()
	s := r.sessions[id]
	r.mu.RUnlock()
	if s == nil {
		return fmt.Errorf("%w: %s", document.ErrNotFound, id)
	}

	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", document.ErrNotFound, id)
	}
	s.state = StateClosing
	s.mu.Unlock()

	s.inflight.Wait()

	if err := r.engine.Close(s.handle); err != nil {
		r.logger.Error().Err(err).Str("id", id).Msg("closing engine handle")
	}
	rmErr := r.storage.Remove(s.storagePath)

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	r.mu.Lock()
	delete(r.sessions, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.logger.Info().Str("id", id).Msg("document deleted")
	return rmErr
}

// Len reports the number of live (Open or Closing) sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) insert(s *session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.id]; exists {
		return fmt.Errorf("session id %s already registered", s.id)
	}
	r.sessions[s.id] = s
	r.order = append(r.order, s.id)
	return nil
}

// open resolves an id to its session iff the session is Open.
func (r *Registry) open(id string) (*session, error) {
	r.mu.RLock()
	s := r.sessions[id]
	r.mu.RUnlock()
	if s == nil {
		return nil, fmt.Errorf("%w: %s", document.ErrNotFound, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return nil, fmt.Errorf("%w: %s", document.ErrNotFound, id)
	}
	return s, nil
}

// describe captures page count and metadata for a freshly opened handle.
func (r *Registry) describe(handle engine.Handle) (document.Info, error) {
	count, err := r.engine.PageCount(handle)
	if err != nil {
		return document.Info{}, err
	}
	meta, err := r.engine.Metadata(handle)
	if err != nil {
		return document.Info{}, err
	}
	return document.Info{PageCount: count, Metadata: meta}, nil
}

// discard releases a handle and its file after a partial registration.
func (r *Registry) discard(handle engine.Handle, path string) {
	if err := r.engine.Close(handle); err != nil {
		r.logger.Error().Err(err).Msg("discarding handle")
	}
	if err := r.storage.Remove(path); err != nil {
		r.logger.Error().Err(err).Str("path", path).Msg("discarding file")
	}
}
