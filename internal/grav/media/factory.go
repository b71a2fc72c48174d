package media

import (
	"time"

	"github.com/sebas/grav/internal/grav/session"
)

// FactoryConfig tunes the handles a Factory creates.
type FactoryConfig struct {
	// QueueSize bounds packets buffered between the socket reader and Iterate.
	QueueSize int
	// MaxPacketsPerIterate bounds the work done by one Iterate call.
	MaxPacketsPerIterate int
	// SourceTimeout removes a source that has been silent this long.
	SourceTimeout time.Duration
}

// DefaultFactoryConfig returns the settings used when none are given.
func DefaultFactoryConfig() FactoryConfig {
	return FactoryConfig{
		QueueSize:            512,
		MaxPacketsPerIterate: 64,
		SourceTimeout:        30 * time.Second,
	}
}

// Factory creates RTP session handles. It implements session.Factory.
type Factory struct {
	cfg FactoryConfig
}

// NewFactory creates a factory; zero fields of cfg take their defaults.
func NewFactory(cfg FactoryConfig) *Factory {
	def := DefaultFactoryConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxPacketsPerIterate <= 0 {
		cfg.MaxPacketsPerIterate = def.MaxPacketsPerIterate
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = def.SourceTimeout
	}
	return &Factory{cfg: cfg}
}

// NewHandle implements session.Factory. Sockets are opened by Initialise.
func (f *Factory) NewHandle(address string, caps session.Capabilities, l session.Listener) session.Handle {
	if l == nil {
		l = nopListener{}
	}
	return newHandle(address, caps, l, f.cfg)
}

type nopListener struct{}

func (nopListener) SourceCreated(string, uint32, uint8)      {}
func (nopListener) SourceDeleted(string, uint32, string)     {}
func (nopListener) SourceDescription(string, uint32, string) {}
func (nopListener) SourceApp(string, uint32, string, []byte) {}
