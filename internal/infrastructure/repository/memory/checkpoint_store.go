package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/miocrobos/habicht-directory/internal/domain/checkpoint"
)

type CheckpointStore struct {
	mu   sync.RWMutex
	runs map[string]map[string]checkpoint.Entry
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{runs: make(map[string]map[string]checkpoint.Entry)}
}

func (s *CheckpointStore) Load(_ context.Context, runName string) (map[string]checkpoint.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.runs[runName]
	out := make(map[string]checkpoint.Entry, len(entries))
	for id, e := range entries {
		out[id] = e
	}
	return out, nil
}

func (s *CheckpointStore) Save(_ context.Context, entries ...checkpoint.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if strings.TrimSpace(e.RunName) == "" || strings.TrimSpace(e.RecordID) == "" {
			return fmt.Errorf("checkpoint entry requires run name and record id")
		}
		run := s.runs[e.RunName]
		if run == nil {
			run = make(map[string]checkpoint.Entry)
			s.runs[e.RunName] = run
		}
		run[e.RecordID] = e
	}
	return nil
}

func (s *CheckpointStore) Close() error {
	return nil
}
