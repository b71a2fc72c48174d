package media

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sebas/grav/internal/grav/session"
)

// SourceInfo describes one remote stream source seen in a session.
type SourceInfo struct {
	Address     string    `json:"address"`
	Kind        string    `json:"kind"`
	SSRC        uint32    `json:"ssrc"`
	PayloadType uint8     `json:"payload_type"`
	Codec       string    `json:"codec"`
	CNAME       string    `json:"cname,omitempty"`
	AppPackets  int       `json:"app_packets"`
	FirstSeen   time.Time `json:"first_seen"`
}

type sourceKey struct {
	address string
	ssrc    uint32
}

// SourceTable is a session.Listener that keeps the live sources of one
// media kind for display.
type SourceTable struct {
	kind session.Kind

	mu      sync.RWMutex
	sources map[sourceKey]*SourceInfo
}

// NewSourceTable creates an empty table for kind.
func NewSourceTable(kind session.Kind) *SourceTable {
	return &SourceTable{
		kind:    kind,
		sources: make(map[sourceKey]*SourceInfo),
	}
}

// SourceCreated implements session.Listener.
func (t *SourceTable) SourceCreated(address string, ssrc uint32, pt uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := sourceKey{address, ssrc}
	if _, ok := t.sources[k]; ok {
		return
	}
	t.sources[k] = &SourceInfo{
		Address:     address,
		Kind:        t.kind.String(),
		SSRC:        ssrc,
		PayloadType: pt,
		Codec:       CodecName(pt),
		FirstSeen:   time.Now(),
	}
	slog.Info("[Media] Source created", "kind", t.kind, "address", address, "ssrc", ssrc, "codec", CodecName(pt))
}

// SourceDeleted implements session.Listener.
func (t *SourceTable) SourceDeleted(address string, ssrc uint32, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.sources, sourceKey{address, ssrc})
	slog.Info("[Media] Source deleted", "kind", t.kind, "address", address, "ssrc", ssrc, "reason", reason)
}

// SourceDescription implements session.Listener.
func (t *SourceTable) SourceDescription(address string, ssrc uint32, cname string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if src, ok := t.sources[sourceKey{address, ssrc}]; ok && src.CNAME != cname {
		src.CNAME = cname
		slog.Debug("[Media] Source described", "address", address, "ssrc", ssrc, "cname", cname)
	}
}

// SourceApp implements session.Listener.
func (t *SourceTable) SourceApp(address string, ssrc uint32, app string, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if src, ok := t.sources[sourceKey{address, ssrc}]; ok {
		src.AppPackets++
	}
	slog.Debug("[Media] Source app data", "address", address, "ssrc", ssrc, "app", app, "len", len(data))
}

// List returns the sources ordered by address, then SSRC.
func (t *SourceTable) List() []SourceInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]SourceInfo, 0, len(t.sources))
	for _, src := range t.sources {
		out = append(out, *src)
	}
	slices.SortFunc(out, func(a, b SourceInfo) int {
		if c := cmp.Compare(a.Address, b.Address); c != 0 {
			return c
		}
		return cmp.Compare(a.SSRC, b.SSRC)
	})
	return out
}

// Count returns the number of live sources.
func (t *SourceTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sources)
}
