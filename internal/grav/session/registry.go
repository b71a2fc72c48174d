package session

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Registry is the guarded collection of live session entries.
//
// One exclusive lock covers the whole collection. Every control operation
// and every iteration pass holds it for its full duration. Entries are kept
// in insertion order.
type Registry struct {
	mu      sync.Mutex
	entries []*entry

	factory   Factory
	listeners map[Kind]Listener

	videoCount atomic.Int32
	audioCount atomic.Int32
}

// NewRegistry creates a registry that builds handles with factory and hands
// the per-kind listener to every handle it creates.
func NewRegistry(factory Factory, video, audio Listener) *Registry {
	return &Registry{
		factory: factory,
		listeners: map[Kind]Listener{
			KindVideo: video,
			KindAudio: audio,
		},
	}
}

// Create brings up a session for address carrying only kind.
func (r *Registry) Create(address string, kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOfKind(address, kind) >= 0 {
		slog.Warn("[Registry] Session already exists", "address", address, "kind", kind)
		return fmt.Errorf("%s session %s: %w", kind, address, ErrDuplicateAddress)
	}

	h := r.factory.NewHandle(address, CapabilitiesFor(kind), r.listeners[kind])
	if err := h.Initialise(); err != nil {
		h.Destroy()
		slog.Error("[Registry] Failed to initialise session", "address", address, "kind", kind, "error", err)
		return fmt.Errorf("%s session %s: %w: %v", kind, address, ErrInitialisationFailed, err)
	}

	e := newEntry(address, kind, h)
	r.entries = append(r.entries, e)
	r.counter(kind).Add(1)

	slog.Info("[Registry] Session created",
		"id", e.id,
		"address", address,
		"kind", kind,
		"seed", e.counter)
	return nil
}

// Remove destroys the first entry matching address, of either kind.
func (r *Registry) Remove(address string) error {
	r.mu.Lock()
	idx := r.indexOf(address)
	if idx < 0 {
		r.mu.Unlock()
		slog.Warn("[Registry] Session not found", "address", address)
		return fmt.Errorf("session %s: %w", address, ErrNotFound)
	}
	e := r.detach(idx)
	r.mu.Unlock()

	r.destroy(e)
	return nil
}

// RemoveKind destroys the entry for (address, kind).
func (r *Registry) RemoveKind(address string, kind Kind) error {
	r.mu.Lock()
	idx := r.indexOfKind(address, kind)
	if idx < 0 {
		r.mu.Unlock()
		slog.Warn("[Registry] Session not found", "address", address, "kind", kind)
		return fmt.Errorf("%s session %s: %w", kind, address, ErrNotFound)
	}
	e := r.detach(idx)
	r.mu.Unlock()

	r.destroy(e)
	return nil
}

// detach erases entries[idx] and adjusts the kind counter. Caller holds mu.
func (r *Registry) detach(idx int) *entry {
	e := r.entries[idx]
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	r.counter(e.kind).Add(-1)
	return e
}

// destroy runs outside the lock: a detached entry is unreachable from
// IterateOnce and every other operation.
func (r *Registry) destroy(e *entry) {
	e.handle.Destroy()
	e.handle = nil
	slog.Info("[Registry] Session destroyed", "id", e.id, "address", e.address, "kind", e.kind)
}

// SetEnabled toggles whether the driver iterates the entry for address.
func (r *Registry) SetEnabled(address string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.find(address)
	if e == nil {
		return fmt.Errorf("session %s: %w", address, ErrNotFound)
	}
	e.enabled = enabled
	slog.Debug("[Registry] Session enable changed", "address", address, "enabled", enabled)
	return nil
}

// IsEnabled reports whether the entry for address is enabled.
func (r *Registry) IsEnabled(address string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.find(address)
	if e == nil {
		return false, fmt.Errorf("session %s: %w", address, ErrNotFound)
	}
	return e.enabled, nil
}

// SetEncryptionKey enables encryption for address and forwards key to its handle.
func (r *Registry) SetEncryptionKey(address, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.find(address)
	if e == nil {
		return fmt.Errorf("session %s: %w", address, ErrNotFound)
	}
	e.encryptionKey = key
	e.encryptionEnabled = true
	e.handle.SetEncryptionKey(key)
	slog.Info("[Registry] Encryption enabled", "address", address)
	return nil
}

// DisableEncryption turns encryption off for address and clears its handle's key.
// The stored key is kept.
func (r *Registry) DisableEncryption(address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.find(address)
	if e == nil {
		return fmt.Errorf("session %s: %w", address, ErrNotFound)
	}
	e.encryptionEnabled = false
	e.handle.ClearEncryptionKey()
	slog.Info("[Registry] Encryption disabled", "address", address)
	return nil
}

// IsEncryptionEnabled reports whether encryption is on for address.
// An absent address reports false rather than an error.
func (r *Registry) IsEncryptionEnabled(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.find(address)
	if e == nil {
		return false
	}
	return e.encryptionEnabled
}

// VideoCount returns the number of live video entries.
func (r *Registry) VideoCount() int {
	return int(r.videoCount.Load())
}

// AudioCount returns the number of live audio entries.
func (r *Registry) AudioCount() int {
	return int(r.audioCount.Load())
}

// IterateOnce runs one pass over the entries in insertion order. Each enabled
// entry's handle is iterated with the current counter, which then advances
// by one. Reports whether at least one entry is enabled.
func (r *Registry) IterateOnce() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := false
	for _, e := range r.entries {
		if !e.enabled {
			continue
		}
		e.handle.Iterate(e.counter)
		e.counter++
		active = true
	}
	return active
}

// Entries returns a snapshot of every entry in insertion order.
func (r *Registry) Entries() []EntryInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EntryInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info())
	}
	return out
}

// Lookup returns a snapshot of the first entry matching address.
func (r *Registry) Lookup(address string) (EntryInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.find(address)
	if e == nil {
		return EntryInfo{}, fmt.Errorf("session %s: %w", address, ErrNotFound)
	}
	return e.info(), nil
}

// LookupKind returns a snapshot of the entry for (address, kind).
func (r *Registry) LookupKind(address string, kind Kind) (EntryInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOfKind(address, kind)
	if idx < 0 {
		return EntryInfo{}, fmt.Errorf("%s session %s: %w", kind, address, ErrNotFound)
	}
	return r.entries[idx].info(), nil
}

// Close removes every entry. The driver must be stopped first.
func (r *Registry) Close() {
	r.mu.Lock()
	drained := r.entries
	r.entries = nil
	r.videoCount.Store(0)
	r.audioCount.Store(0)
	r.mu.Unlock()

	for _, e := range drained {
		r.destroy(e)
	}
	slog.Info("[Registry] All sessions closed", "count", len(drained))
}

func (r *Registry) counter(k Kind) *atomic.Int32 {
	if k == KindAudio {
		return &r.audioCount
	}
	return &r.videoCount
}

func (r *Registry) find(address string) *entry {
	if idx := r.indexOf(address); idx >= 0 {
		return r.entries[idx]
	}
	return nil
}

func (r *Registry) indexOf(address string) int {
	for i, e := range r.entries {
		if e.address == address {
			return i
		}
	}
	return -1
}

func (r *Registry) indexOfKind(address string, kind Kind) int {
	for i, e := range r.entries {
		if e.address == address && e.kind == kind {
			return i
		}
	}
	return -1
}
