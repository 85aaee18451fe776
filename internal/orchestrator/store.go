package orchestrator

// Store is the storage abstraction for the session table. Implementations are
// not required to be concurrency-safe; the SessionTable serializes all access.
type Store interface {
	Get(path StreamPath) (*StreamSession, bool)
	Set(s *StreamSession)
	Delete(path StreamPath)
	Paths() []StreamPath
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	sessions map[StreamPath]*StreamSession
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[StreamPath]*StreamSession),
	}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(path StreamPath) (*StreamSession, bool) {
	sess, ok := s.sessions[path]
	return sess, ok
}

// Set implements Store.Set.
func (s *InMemoryStore) Set(sess *StreamSession) {
	s.sessions[sess.Path] = sess
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(path StreamPath) {
	delete(s.sessions, path)
}

// Paths implements Store.Paths.
func (s *InMemoryStore) Paths() []StreamPath {
	paths := make([]StreamPath, 0, len(s.sessions))
	for p := range s.sessions {
		paths = append(paths, p)
	}
	return paths
}
