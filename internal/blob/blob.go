// Package blob implements the content-addressed blob store that every
// ticket in the runtime references instead of carrying payload bytes
// directly through the ECS world. Grounded on the reference
// implementation's store/blob.rs: a Provider interface with a default
// in-memory implementation, TTL-based garbage collection, and a
// metadata side-channel used to mark entries pinned against GC.
package blob

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long an unclaimed, unpinned blob survives before
// garbage collection reclaims it.
const DefaultTTL = 15 * time.Minute

// PinnedKey is the metadata key that, when set to "true", exempts an
// entry from garbage collection regardless of age.
const PinnedKey = "pinned"

// Entry is a single stored blob: its payload and side-channel metadata.
type Entry struct {
	Data      []byte
	Metadata  map[string]string
	CreatedAt time.Time
}

// Provider is the storage backend a Store delegates to. Implementations
// must be safe for concurrent use.
type Provider interface {
	Store(ctx context.Context, id uuid.UUID, data []byte, metadata map[string]string) error
	Retrieve(ctx context.Context, id uuid.UUID) (Entry, error)
	Delete(ctx context.Context, id uuid.UUID) error
	UpdateMetadata(ctx context.Context, id uuid.UUID, metadata map[string]string) error
	ListExpired(ctx context.Context, olderThan time.Time) ([]uuid.UUID, error)
}

// ErrNotFound is returned by Provider/Store lookups for a missing ID.
var ErrNotFound = fmt.Errorf("blob: not found")

// MemoryProvider is the default in-process Provider, backed by a
// mutex-guarded map — the Go analog of the reference implementation's
// RwLock<HashMap<Uuid, BlobEntry>>.
type MemoryProvider struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
}

// NewMemoryProvider returns an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{entries: make(map[uuid.UUID]Entry)}
}

func (p *MemoryProvider) Store(_ context.Context, id uuid.UUID, data []byte, metadata map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}

	p.entries[id] = Entry{Data: data, Metadata: md, CreatedAt: time.Now()}
	return nil
}

func (p *MemoryProvider) Retrieve(_ context.Context, id uuid.UUID) (Entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (p *MemoryProvider) Delete(_ context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, id)
	return nil
}

func (p *MemoryProvider) UpdateMetadata(_ context.Context, id uuid.UUID, metadata map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.Metadata == nil {
		e.Metadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		e.Metadata[k] = v
	}
	p.entries[id] = e
	return nil
}

func (p *MemoryProvider) ListExpired(_ context.Context, olderThan time.Time) ([]uuid.UUID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []uuid.UUID
	for id, e := range p.entries {
		if e.Metadata[PinnedKey] == "true" {
			continue
		}
		if e.CreatedAt.Before(olderThan) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Store is the public blob-store API used by node workers: check data
// in, claim (retrieve) it by ticket ID, recover a ticket's raw ID for
// re-delivery, and garbage collect expired unpinned entries.
type Store struct {
	provider Provider
	ttl      time.Duration
}

// New returns a Store backed by provider, using DefaultTTL.
func New(provider Provider) *Store {
	return &Store{provider: provider, ttl: DefaultTTL}
}

// WithTTL overrides the garbage-collection TTL.
func (s *Store) WithTTL(ttl time.Duration) *Store {
	s.ttl = ttl
	return s
}

// CheckIn stores data and returns a freshly minted blob ID.
func (s *Store) CheckIn(ctx context.Context, data []byte) (uuid.UUID, error) {
	return s.CheckInWithMetadata(ctx, data, nil)
}

// CheckInWithMetadata stores data with initial side-channel metadata
// and returns a freshly minted blob ID.
func (s *Store) CheckInWithMetadata(ctx context.Context, data []byte, metadata map[string]string) (uuid.UUID, error) {
	id := uuid.New()
	if err := s.provider.Store(ctx, id, data, metadata); err != nil {
		return uuid.Nil, fmt.Errorf("blob: check in: %w", err)
	}
	return id, nil
}

// Claim retrieves a blob's payload by ID without deleting it — claims
// are read-only; the entry still ages out normally via GC unless
// pinned.
func (s *Store) Claim(ctx context.Context, id uuid.UUID) ([]byte, error) {
	e, err := s.provider.Retrieve(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("blob: claim %s: %w", id, err)
	}
	return e.Data, nil
}

// RecoverTicket retrieves a blob's full entry (payload + metadata),
// used when a node needs both, e.g. resuming a checkpoint.
func (s *Store) RecoverTicket(ctx context.Context, id uuid.UUID) (Entry, error) {
	e, err := s.provider.Retrieve(ctx, id)
	if err != nil {
		return Entry{}, fmt.Errorf("blob: recover %s: %w", id, err)
	}
	return e, nil
}

// UpdateMetadata merges additional metadata onto an existing entry,
// e.g. setting pinned=true from the Pinning control-plane command.
func (s *Store) UpdateMetadata(ctx context.Context, id uuid.UUID, metadata map[string]string) error {
	if err := s.provider.UpdateMetadata(ctx, id, metadata); err != nil {
		return fmt.Errorf("blob: update metadata %s: %w", id, err)
	}
	return nil
}

// Pin sets pinned=true on an entry's metadata so garbage collection
// never reclaims it.
func (s *Store) Pin(ctx context.Context, id uuid.UUID) error {
	return s.UpdateMetadata(ctx, id, map[string]string{PinnedKey: "true"})
}

// RunGarbageCollection deletes every entry older than the configured
// TTL whose metadata does not contain pinned=true. It returns the
// number of entries reclaimed.
func (s *Store) RunGarbageCollection(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.ttl)

	expired, err := s.provider.ListExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("blob: list expired: %w", err)
	}

	for _, id := range expired {
		if err := s.provider.Delete(ctx, id); err != nil {
			return 0, fmt.Errorf("blob: delete %s: %w", id, err)
		}
	}

	return len(expired), nil
}
