package datasource

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MemorySource is an in-process Provider used by tests and the CLI's local
// mode. Streaming honors cancellation between features like a real driver.
type MemorySource struct {
	mu          sync.RWMutex
	path        string
	layers      map[string][]*Feature
	schemas     map[string][]FieldDef
	keysSupport bool
}

func NewMemorySource(supportsKeys bool) *MemorySource {
	return &MemorySource{
		layers:      make(map[string][]*Feature),
		schemas:     make(map[string][]FieldDef),
		keysSupport: supportsKeys,
	}
}

// AddLayer registers a layer with its schema and features.
func (m *MemorySource) AddLayer(name string, schema []FieldDef, features []*Feature) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[name] = schema
	m.layers[name] = features
}

func (m *MemorySource) Initialize(_ context.Context, sourcePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.path = sourcePath
	return nil
}

func (m *MemorySource) Layers(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.layers))
	for name := range m.layers {
		names = append(names, name)
	}
	return names, nil
}

func (m *MemorySource) Schema(_ context.Context, layer string) ([]FieldDef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	schema, ok := m.schemas[layer]
	if !ok {
		return nil, fmt.Errorf("layer %q not found", layer)
	}
	return schema, nil
}

func (m *MemorySource) Stream(_ context.Context, layer string, _ string) (FeatureIterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	features, ok := m.layers[layer]
	if !ok {
		return nil, fmt.Errorf("layer %q not found", layer)
	}
	return &memoryIterator{features: features}, nil
}

func (m *MemorySource) SupportsKeys() bool { return m.keysSupport }

func (m *MemorySource) Close() error { return nil }

type memoryIterator struct {
	features []*Feature
	pos      int
}

func (it *memoryIterator) Next(ctx context.Context) (*Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.pos >= len(it.features) {
		return nil, io.EOF
	}
	f := it.features[it.pos]
	it.pos++
	return f, nil
}

func (it *memoryIterator) Close() error { return nil }
