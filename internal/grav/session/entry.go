package session

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// entry is one tracked session. All fields are guarded by the registry lock.
type entry struct {
	id                string
	address           string
	kind              Kind
	handle            Handle
	counter           uint32
	enabled           bool
	encryptionKey     string
	encryptionEnabled bool
	createdAt         time.Time
}

func newEntry(address string, kind Kind, h Handle) *entry {
	return &entry{
		id:        uuid.New().String(),
		address:   address,
		kind:      kind,
		handle:    h,
		counter:   randomSeed(),
		enabled:   true,
		createdAt: time.Now(),
	}
}

func (e *entry) info() EntryInfo {
	info := EntryInfo{
		ID:                e.id,
		Address:           e.address,
		Kind:              e.kind,
		KindName:          e.kind.String(),
		Counter:           e.counter,
		Enabled:           e.enabled,
		EncryptionEnabled: e.encryptionEnabled,
		CreatedAt:         e.createdAt,
	}
	if r, ok := e.handle.(StatsReporter); ok {
		st := r.Stats()
		info.Stats = &st
	}
	return info
}

// randomSeed returns a random 32-bit starting value for an entry counter.
func randomSeed() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(b[:])
}
