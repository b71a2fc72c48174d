// Package sessiontest provides an in-memory media collaborator for tests.
package sessiontest

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sebas/grav/internal/grav/session"
)

// ErrRefused is returned by Initialise for addresses registered with Fail.
var ErrRefused = errors.New("refused by fake factory")

// Factory records every handle it creates.
type Factory struct {
	mu      sync.Mutex
	handles []*Handle
	failing map[string]bool

	Creates  atomic.Int64
	Destroys atomic.Int64
}

// NewFactory returns an empty fake factory.
func NewFactory() *Factory {
	return &Factory{failing: make(map[string]bool)}
}

// Fail makes Initialise fail for address.
func (f *Factory) Fail(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[address] = true
}

// NewHandle implements session.Factory.
func (f *Factory) NewHandle(address string, caps session.Capabilities, l session.Listener) session.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()

	h := &Handle{
		Address:  address,
		Caps:     caps,
		Listener: l,
		fail:     f.failing[address],
		factory:  f,
	}
	f.handles = append(f.handles, h)
	f.Creates.Add(1)
	return h
}

// Handles returns every handle created so far, in creation order.
func (f *Factory) Handles() []*Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Handle(nil), f.handles...)
}

// Last returns the most recent handle created for address, or nil.
func (f *Factory) Last(address string) *Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.handles) - 1; i >= 0; i-- {
		if f.handles[i].Address == address {
			return f.handles[i]
		}
	}
	return nil
}

// Handle is a fake session handle.
type Handle struct {
	Address  string
	Caps     session.Capabilities
	Listener session.Listener

	fail    bool
	factory *Factory

	mu          sync.Mutex
	initialised bool
	destroyed   int
	iterations  []uint32
	key         string
	keyed       bool
}

// Initialise implements session.Handle.
func (h *Handle) Initialise() error {
	if h.fail {
		return ErrRefused
	}
	h.mu.Lock()
	h.initialised = true
	h.mu.Unlock()
	return nil
}

// Iterate implements session.Handle.
func (h *Handle) Iterate(ts uint32) {
	h.mu.Lock()
	h.iterations = append(h.iterations, ts)
	h.mu.Unlock()
}

// SetEncryptionKey implements session.Handle.
func (h *Handle) SetEncryptionKey(key string) {
	h.mu.Lock()
	h.key, h.keyed = key, true
	h.mu.Unlock()
}

// ClearEncryptionKey implements session.Handle.
func (h *Handle) ClearEncryptionKey() {
	h.mu.Lock()
	h.key, h.keyed = "", false
	h.mu.Unlock()
}

// Destroy implements session.Handle.
func (h *Handle) Destroy() {
	h.mu.Lock()
	h.destroyed++
	h.mu.Unlock()
	h.factory.Destroys.Add(1)
}

// Iterations returns the ts values passed to Iterate.
func (h *Handle) Iterations() []uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint32(nil), h.iterations...)
}

// DestroyCount returns how many times Destroy was called.
func (h *Handle) DestroyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

// Key returns the forwarded encryption key and whether one is set.
func (h *Handle) Key() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.key, h.keyed
}

// Listener counts callbacks.
type Listener struct {
	Created atomic.Int64
	Deleted atomic.Int64
}

func (l *Listener) SourceCreated(string, uint32, uint8)      { l.Created.Add(1) }
func (l *Listener) SourceDeleted(string, uint32, string)     { l.Deleted.Add(1) }
func (l *Listener) SourceDescription(string, uint32, string) {}
func (l *Listener) SourceApp(string, uint32, string, []byte) {}
