// Package artifact stores binary attachments carried by conversation
// messages. Attachments are keyed by (session id, artifact id) and scoped to
// their session: deleting a session drops its artifacts with it.
//
// Callers depend on the Store interface rather than a concrete type so a
// durable backend can replace the in-memory one without touching the
// workflow code.
package artifact

import (
	"errors"
	"sync"

	"github.com/hupe1980/convflow/core"
)

// ErrNotFound is returned when no artifact exists for the session/id pair.
var ErrNotFound = errors.New("artifact not found")

// Artifact is one stored attachment with its metadata.
type Artifact struct {
	ID       string
	Name     string
	MimeType string
	Data     []byte
}

// Store is the attachment storage contract used by the file-processing
// branch.
type Store interface {
	// Save stores the attachment and returns its artifact id.
	Save(sessionID string, part core.FilePart) (string, error)
	// Get returns a copy of the stored artifact or ErrNotFound.
	Get(sessionID, artifactID string) (Artifact, error)
	// List returns the artifact ids stored for the session.
	List(sessionID string) ([]string, error)
	// Delete removes one artifact or returns ErrNotFound.
	Delete(sessionID, artifactID string) error
	// DeleteSession removes every artifact of the session.
	DeleteSession(sessionID string)
}

// InMemoryStore keeps artifacts in a nested map guarded by an RWMutex. Bytes
// are copied on save and retrieval so callers never alias internal buffers.
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]map[string]Artifact // sessionID -> artifactID
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{artifacts: make(map[string]map[string]Artifact)}
}

// Save implements Store. An empty part.ArtifactID gets a generated id.
func (s *InMemoryStore) Save(sessionID string, part core.FilePart) (string, error) {
	id := part.ArtifactID
	if id == "" {
		id = core.NewID()
	}
	data := make([]byte, len(part.Data))
	copy(data, part.Data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[sessionID]; !ok {
		s.artifacts[sessionID] = make(map[string]Artifact)
	}
	s.artifacts[sessionID][id] = Artifact{
		ID:       id,
		Name:     part.Name,
		MimeType: part.MimeType,
		Data:     data,
	}
	return id, nil
}

// Get implements Store.
func (s *InMemoryStore) Get(sessionID, artifactID string) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.artifacts[sessionID]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	art, ok := m[artifactID]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	data := make([]byte, len(art.Data))
	copy(data, art.Data)
	art.Data = data
	return art, nil
}

// List implements Store. The slice is a snapshot safe for caller mutation.
func (s *InMemoryStore) List(sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.artifacts[sessionID]
	if !ok {
		return []string{}, nil
	}
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(sessionID, artifactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.artifacts[sessionID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m[artifactID]; !ok {
		return ErrNotFound
	}
	delete(m, artifactID)
	return nil
}

// DeleteSession implements Store.
func (s *InMemoryStore) DeleteSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, sessionID)
}
