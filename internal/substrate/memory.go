package substrate

import (
	"context"
	"fmt"
	"sync"

	"github.com/TheSeeker/Sone-sub000/internal/sone"
)

type memoryEdition struct {
	document []byte
	entries  map[string]sone.ManifestEntry
}

// MemorySubstrate is an in-memory implementation of sone.Substrate.
// It keeps every published edition, making it useful for testing.
// This implementation is safe for concurrent use.
type MemorySubstrate struct {
	mu         sync.RWMutex
	editions   map[string][]memoryEdition // address -> editions, index 0 is edition 1
	publishErr error
	fetchErr   error
	notifier   *notifier
}

// NewMemorySubstrate creates an empty in-memory substrate.
func NewMemorySubstrate() *MemorySubstrate {
	return &MemorySubstrate{
		editions: make(map[string][]memoryEdition),
		notifier: newNotifier(),
	}
}

// Fetch returns the latest edition published at address.
func (m *MemorySubstrate) Fetch(ctx context.Context, address string) (*sone.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", sone.ErrSubstrate, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fetchErr != nil {
		return nil, fmt.Errorf("%w: %v", sone.ErrSubstrate, m.fetchErr)
	}
	eds := m.editions[address]
	if len(eds) == 0 {
		return nil, fmt.Errorf("%w: %s", sone.ErrDocumentNotFound, address)
	}
	latest := eds[len(eds)-1]
	return &sone.Document{
		Address: address,
		Edition: int64(len(eds)),
		Data:    append([]byte(nil), latest.document...),
	}, nil
}

// Publish stores a new edition at address and notifies subscribers.
func (m *MemorySubstrate) Publish(ctx context.Context, address string, document []byte, manifest []sone.ManifestEntry) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", sone.ErrSubstrate, err)
	}

	m.mu.Lock()
	if m.publishErr != nil {
		err := m.publishErr
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: %v", sone.ErrSubstrate, err)
	}
	ed := memoryEdition{
		document: append([]byte(nil), document...),
		entries:  make(map[string]sone.ManifestEntry, len(manifest)),
	}
	for _, e := range manifest {
		e.Data = append([]byte(nil), e.Data...)
		ed.entries[e.Name] = e
	}
	m.editions[address] = append(m.editions[address], ed)
	edition := int64(len(m.editions[address]))
	m.mu.Unlock()

	m.notifier.notify(address, edition)
	return edition, nil
}

// Subscribe delivers new editions of address, starting with the current one.
func (m *MemorySubstrate) Subscribe(ctx context.Context, address string) (<-chan int64, error) {
	m.mu.RLock()
	current := int64(len(m.editions[address]))
	m.mu.RUnlock()
	return m.notifier.subscribe(ctx, address, current), nil
}

// SetPublishError makes every following Publish fail with err until reset with nil.
func (m *MemorySubstrate) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

// SetFetchError makes every following Fetch fail with err until reset with nil.
func (m *MemorySubstrate) SetFetchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// PutDocument stores raw document data as a new edition, bypassing encoding.
// Tests use it to plant remote documents.
func (m *MemorySubstrate) PutDocument(address string, data []byte) int64 {
	edition, _ := m.Publish(context.Background(), address, data, nil)
	return edition
}

// Editions returns the number of editions published at address.
func (m *MemorySubstrate) Editions(address string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.editions[address]))
}

// Entry returns a manifest entry of the latest edition at address.
func (m *MemorySubstrate) Entry(address, name string) (sone.ManifestEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	eds := m.editions[address]
	if len(eds) == 0 {
		return sone.ManifestEntry{}, false
	}
	e, ok := eds[len(eds)-1].entries[name]
	return e, ok
}

// Compile-time check that MemorySubstrate implements sone.Substrate interface
var _ sone.Substrate = (*MemorySubstrate)(nil)
