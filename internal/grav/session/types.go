// Package session owns the set of live media sessions and serializes every
// mutation of that set against the iteration pass that drives them.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrInitialisationFailed indicates the media collaborator could not bring up a session.
	ErrInitialisationFailed = errors.New("session initialisation failed")

	// ErrDuplicateAddress indicates an entry for the (address, kind) pair already exists.
	ErrDuplicateAddress = errors.New("session already exists")

	// ErrNotFound indicates no entry matches the address.
	ErrNotFound = errors.New("session not found")
)

// Kind is the media kind a session carries.
type Kind int

const (
	// KindVideo carries video streams only.
	KindVideo Kind = iota
	// KindAudio carries audio streams only.
	KindAudio
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseKind parses "video" or "audio".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "video":
		return KindVideo, nil
	case "audio":
		return KindAudio, nil
	default:
		return 0, fmt.Errorf("unknown session kind %q", s)
	}
}

// Capabilities selects the stream types a handle carries.
type Capabilities struct {
	Video bool
	Audio bool
	Other bool
}

// CapabilitiesFor returns the single-kind capability set for k.
func CapabilitiesFor(k Kind) Capabilities {
	return Capabilities{Video: k == KindVideo, Audio: k == KindAudio}
}

// Handle is one live protocol session owned by the media collaborator.
// The registry calls every method while holding its lock, except Destroy.
type Handle interface {
	// Initialise brings the session up. No other method is called on a
	// handle whose Initialise failed, apart from Destroy.
	Initialise() error

	// Iterate advances protocol state by one step. ts is a per-entry
	// monotonically increasing nonce.
	Iterate(ts uint32)

	// SetEncryptionKey enables payload decryption with key.
	SetEncryptionKey(key string)

	// ClearEncryptionKey disables payload decryption.
	ClearEncryptionKey()

	// Destroy releases the session. Called exactly once.
	Destroy()
}

// Factory creates handles for an address.
type Factory interface {
	NewHandle(address string, caps Capabilities, l Listener) Handle
}

// Listener receives source events from handles of one media kind.
// Callbacks run on the iteration path with the registry lock held, so
// implementations must not call back into the registry.
type Listener interface {
	SourceCreated(address string, ssrc uint32, payloadType uint8)
	SourceDeleted(address string, ssrc uint32, reason string)
	SourceDescription(address string, ssrc uint32, cname string)
	SourceApp(address string, ssrc uint32, app string, data []byte)
}

// Stats are receive statistics reported by a handle.
type Stats struct {
	Packets       uint64  `json:"packets"`
	Bytes         uint64  `json:"bytes"`
	Lost          uint64  `json:"lost"`
	Dropped       uint64  `json:"dropped"`
	DecryptErrors uint64  `json:"decrypt_errors"`
	Frames        uint64  `json:"frames"`
	PeakLevel     float64 `json:"peak_level"`
	Sources       int     `json:"sources"`
}

// StatsReporter is implemented by handles that expose receive statistics.
type StatsReporter interface {
	Stats() Stats
}

// EntryInfo is a point-in-time copy of an entry, safe to use without the lock.
type EntryInfo struct {
	ID                string    `json:"id"`
	Address           string    `json:"address"`
	Kind              Kind      `json:"-"`
	KindName          string    `json:"kind"`
	Counter           uint32    `json:"counter"`
	Enabled           bool      `json:"enabled"`
	EncryptionEnabled bool      `json:"encryption_enabled"`
	CreatedAt         time.Time `json:"created_at"`
	Stats             *Stats    `json:"stats,omitempty"`
}
