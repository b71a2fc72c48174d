// Package rotation cycles a single active video session through a larger
// list of candidate addresses.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sebas/grav/internal/grav/session"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrDuplicateCandidate indicates the address is already in the playlist.
	ErrDuplicateCandidate = errors.New("candidate already in playlist")

	// ErrUnknownCandidate indicates the address is not in the playlist.
	ErrUnknownCandidate = errors.New("candidate not in playlist")

	// ErrEmptyCandidate indicates an empty candidate address.
	ErrEmptyCandidate = errors.New("candidate address is empty")
)

// Registry is the subset of session.Registry the playlist drives.
type Registry interface {
	Create(address string, kind session.Kind) error
	RemoveKind(address string, kind session.Kind) error
}

// Playlist holds the ordered candidate list and the rotation cursor.
//
// At most one candidate has a live entry created by rotation: the active
// address. The playlist lock is held across registry calls, so the lock
// order is always playlist then registry.
type Playlist struct {
	mu         sync.Mutex
	reg        Registry
	candidates []string
	cursor     int // -1 before the first rotation
	active     string
	last       string
	rotations  uint64
	onAdvance  func()
}

// NewPlaylist creates an empty playlist driving reg.
func NewPlaylist(reg Registry) *Playlist {
	return &Playlist{reg: reg, cursor: -1}
}

// AddCandidate appends address to the playlist. No session is created.
// "" is reserved for "no active session" and is rejected.
func (p *Playlist) AddCandidate(address string) error {
	if address == "" {
		return ErrEmptyCandidate
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.indexOf(address) >= 0 {
		return fmt.Errorf("%s: %w", address, ErrDuplicateCandidate)
	}
	p.candidates = append(p.candidates, address)
	slog.Info("[Rotation] Candidate added", "address", address, "candidates", len(p.candidates))
	return nil
}

// RemoveCandidate drops address from the playlist, removing its session if
// rotation made it active. The cursor moves back when the removed index is
// at or before it, so the next Advance does not skip a candidate.
func (p *Playlist) RemoveCandidate(address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.indexOf(address)
	if idx < 0 {
		return fmt.Errorf("%s: %w", address, ErrUnknownCandidate)
	}
	p.candidates = append(p.candidates[:idx], p.candidates[idx+1:]...)
	if idx <= p.cursor {
		p.cursor--
	}

	if address == p.active {
		p.active = ""
		if err := p.reg.RemoveKind(address, session.KindVideo); err != nil {
			slog.Warn("[Rotation] Active session already gone", "address", address, "error", err)
		}
	}

	slog.Info("[Rotation] Candidate removed", "address", address, "cursor", p.cursor, "candidates", len(p.candidates))
	return nil
}

// Advance moves the cursor to the next candidate and swaps the active
// session over to it. It is a no-op on an empty playlist.
func (p *Playlist) Advance() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.candidates)
	if n == 0 {
		return nil
	}

	previous := p.active
	p.cursor = (p.cursor + 1) % n
	next := p.candidates[p.cursor]
	p.rotations++
	if p.onAdvance != nil {
		p.onAdvance()
	}

	slog.Debug("[Rotation] Advancing", "cursor", p.cursor, "next", next, "previous", previous)

	var err error
	switch {
	case previous == next:
		// Single candidate, or the cursor wrapped onto the active one.
	case previous != "":
		if rmErr := p.reg.RemoveKind(previous, session.KindVideo); rmErr != nil {
			slog.Warn("[Rotation] Previous session already gone", "address", previous, "error", rmErr)
		}
		p.active = ""
		err = p.activate(next)
	default:
		err = p.activate(next)
	}
	p.last = previous
	return err
}

func (p *Playlist) activate(address string) error {
	if err := p.reg.Create(address, session.KindVideo); err != nil {
		slog.Error("[Rotation] Failed to activate candidate", "address", address, "error", err)
		return fmt.Errorf("rotate to %s: %w", address, err)
	}
	p.active = address
	slog.Info("[Rotation] Rotated", "address", address)
	return nil
}

// OnAdvance registers fn to run each time Advance moves the cursor.
func (p *Playlist) OnAdvance(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAdvance = fn
}

// Current returns the rotation-active address, or "" if none.
func (p *Playlist) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Last returns the address that was active before the latest Advance.
func (p *Playlist) Last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Candidates returns a copy of the candidate list.
func (p *Playlist) Candidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.candidates...)
}

// Rotations returns how many times Advance moved the cursor.
func (p *Playlist) Rotations() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rotations
}

// Run calls Advance every interval until ctx is done.
func (p *Playlist) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("[Rotation] Auto-rotation started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("[Rotation] Auto-rotation stopped")
			return
		case <-ticker.C:
			if err := p.Advance(); err != nil {
				slog.Warn("[Rotation] Auto-rotation step failed", "error", err)
			}
		}
	}
}

func (p *Playlist) indexOf(address string) int {
	for i, c := range p.candidates {
		if c == address {
			return i
		}
	}
	return -1
}
