package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/dennisdiepolder/monti/wallboard/internal/types"
)

// MemoryStore keeps installs in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	installs map[string]types.Install
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{installs: make(map[string]types.Install)}
}

func (s *MemoryStore) SaveInstall(_ context.Context, install types.Install) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installs[install.MemberID] = install
	return nil
}

func (s *MemoryStore) GetInstall(_ context.Context, memberID string) (types.Install, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	install, ok := s.installs[memberID]
	if !ok {
		return types.Install{}, ErrNotFound
	}
	return install, nil
}

func (s *MemoryStore) ListInstalls(_ context.Context) ([]types.Install, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Install, 0, len(s.installs))
	for _, in := range s.installs {
		out = append(out, redact(in))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
