package capability

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kode4food/agentflow/pkg/api"
)

// Examples is a process-local versioned ExampleStore. Records are copied on
// read and write so callers never share state with the store
type Examples struct {
	records map[string][]byte
	mu      sync.Mutex
}

var _ api.ExampleStore = (*Examples)(nil)

// NewExamples creates an empty in-memory example store
func NewExamples() *Examples {
	return &Examples{records: map[string][]byte{}}
}

// Read returns the record under key and its version. A missing record reads
// as nil at version zero
func (s *Examples) Read(
	_ context.Context, key string,
) (*api.ExampleRecord, int64, error) {
	s.mu.Lock()
	data, ok := s.records[key]
	s.mu.Unlock()
	if !ok {
		return nil, 0, nil
	}
	return decodeRecord(data)
}

// WriteIfVersion stores rec only if the stored version still equals version
func (s *Examples) WriteIfVersion(
	_ context.Context, key string, version int64, rec *api.ExampleRecord,
) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var current int64
	if cur, ok := s.records[key]; ok {
		_, v, err := decodeRecord(cur)
		if err != nil {
			return false, err
		}
		current = v
	}
	if current != version {
		return false, nil
	}
	s.records[key] = data
	return true, nil
}

func decodeRecord(data []byte) (*api.ExampleRecord, int64, error) {
	var rec api.ExampleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, 0, err
	}
	return &rec, rec.Version, nil
}
