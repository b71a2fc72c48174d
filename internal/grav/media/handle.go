package media

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/srtp/v3"

	"github.com/sebas/grav/internal/grav/session"
)

// expireEvery is how many ticks pass between silent-source sweeps.
const expireEvery = 256

const maxDatagram = 1500

// source is the receive state of one SSRC.
type source struct {
	ssrc        uint32
	payloadType uint8
	seq         SequenceTracker
	frames      uint64
	level       float64
	lastSeen    time.Time
}

// Handle receives one RTP session. Socket readers run in their own
// goroutines and hand datagrams to Iterate over bounded channels, so Iterate
// never blocks. Everything except the dropped counter is touched only from
// Initialise, Iterate, the key setters and Stats, which the registry
// serializes.
type Handle struct {
	address  string
	caps     session.Capabilities
	listener session.Listener
	cfg      FactoryConfig

	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn
	rtpCh    chan []byte
	rtcpCh   chan []byte
	wg       sync.WaitGroup
	once     sync.Once

	crypto  *srtp.Context
	sources map[uint32]*source
	tick    uint32

	packets       uint64
	bytes         uint64
	decryptErrors uint64
	dropped       atomic.Uint64
}

func newHandle(address string, caps session.Capabilities, l session.Listener, cfg FactoryConfig) *Handle {
	return &Handle{
		address:  address,
		caps:     caps,
		listener: l,
		cfg:      cfg,
		rtpCh:    make(chan []byte, cfg.QueueSize),
		rtcpCh:   make(chan []byte, cfg.QueueSize),
		sources:  make(map[uint32]*source),
	}
}

// Initialise opens the RTP socket, and the RTCP socket on port+1, and
// starts their readers.
func (h *Handle) Initialise() error {
	addr, err := ParseAddress(h.address)
	if err != nil {
		return err
	}

	h.rtpConn, err = listen(addr)
	if err != nil {
		return fmt.Errorf("listen rtp %s: %w", addr, err)
	}
	if ra := rtcpAddr(addr); ra != nil {
		h.rtcpConn, err = listen(ra)
		if err != nil {
			return fmt.Errorf("listen rtcp %s: %w", ra, err)
		}
	}

	h.wg.Add(1)
	go h.readLoop(h.rtpConn, h.rtpCh)
	if h.rtcpConn != nil {
		h.wg.Add(1)
		go h.readLoop(h.rtcpConn, h.rtcpCh)
	}

	slog.Debug("[Media] Session listening",
		"address", h.address,
		"local", h.rtpConn.LocalAddr().String(),
		"video", h.caps.Video,
		"audio", h.caps.Audio)
	return nil
}

// LocalAddr returns the bound RTP address, or nil before Initialise.
func (h *Handle) LocalAddr() net.Addr {
	if h.rtpConn == nil {
		return nil
	}
	return h.rtpConn.LocalAddr()
}

func (h *Handle) readLoop(conn *net.UDPConn, out chan<- []byte) {
	defer h.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Warn("[Media] Read failed", "address", h.address, "error", err)
			}
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])

		select {
		case out <- pkt:
		default:
			h.dropped.Add(1)
		}
	}
}

// Iterate processes queued datagrams without blocking.
func (h *Handle) Iterate(ts uint32) {
	h.tick = ts

drain:
	for i := 0; i < h.cfg.MaxPacketsPerIterate; i++ {
		select {
		case b := <-h.rtpCh:
			h.handleRTP(b)
		case b := <-h.rtcpCh:
			h.handleRTCP(b)
		default:
			break drain
		}
	}

	if ts%expireEvery == 0 {
		h.expire(time.Now())
	}
}

func (h *Handle) handleRTP(b []byte) {
	if h.crypto != nil {
		dec, err := h.crypto.DecryptRTP(nil, b, &rtp.Header{})
		if err != nil {
			h.decryptErrors++
			return
		}
		b = dec
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(b); err != nil {
		slog.Debug("[Media] Dropping malformed RTP", "address", h.address, "error", err)
		return
	}
	if !accepts(h.caps, pkt.PayloadType) {
		return
	}

	h.packets++
	h.bytes += uint64(len(pkt.Payload))

	src, ok := h.sources[pkt.SSRC]
	if !ok {
		src = &source{ssrc: pkt.SSRC, payloadType: pkt.PayloadType}
		h.sources[pkt.SSRC] = src
		h.listener.SourceCreated(h.address, pkt.SSRC, pkt.PayloadType)
	}
	src.seq.Update(pkt.SequenceNumber)
	src.lastSeen = time.Now()
	if pkt.Marker {
		src.frames++
	}
	if c, ok := CodecFor(pkt.PayloadType); ok && c.Kind == session.KindAudio {
		if lvl, ok := PeakLevel(c, pkt.Payload); ok {
			src.level = lvl
		}
	}
}

func (h *Handle) handleRTCP(b []byte) {
	if h.crypto != nil {
		dec, err := h.crypto.DecryptRTCP(nil, b, &rtcp.Header{})
		if err != nil {
			h.decryptErrors++
			return
		}
		b = dec
	}

	pkts, err := rtcp.Unmarshal(b)
	if err != nil {
		slog.Debug("[Media] Dropping malformed RTCP", "address", h.address, "error", err)
		return
	}

	for _, p := range pkts {
		switch p := p.(type) {
		case *rtcp.SourceDescription:
			for _, chunk := range p.Chunks {
				for _, item := range chunk.Items {
					if item.Type == rtcp.SDESCNAME {
						h.listener.SourceDescription(h.address, chunk.Source, item.Text)
					}
				}
			}
		case *rtcp.Goodbye:
			for _, ssrc := range p.Sources {
				h.dropSource(ssrc, byeReason(p.Reason))
			}
		case *rtcp.ApplicationDefined:
			h.listener.SourceApp(h.address, p.SSRC, p.Name, p.Data)
		}
	}
}

func byeReason(r string) string {
	if r == "" {
		return "bye"
	}
	return r
}

func (h *Handle) expire(now time.Time) {
	for ssrc, src := range h.sources {
		if now.Sub(src.lastSeen) > h.cfg.SourceTimeout {
			h.dropSource(ssrc, "timeout")
		}
	}
}

func (h *Handle) dropSource(ssrc uint32, reason string) {
	if _, ok := h.sources[ssrc]; !ok {
		return
	}
	delete(h.sources, ssrc)
	h.listener.SourceDeleted(h.address, ssrc, reason)
}

// SetEncryptionKey decrypts subsequent packets with an SRTP context keyed
// from key. A key that cannot build a context leaves decryption off.
func (h *Handle) SetEncryptionKey(key string) {
	ctx, err := newCryptoContext(key)
	if err != nil {
		slog.Error("[Media] Encryption key rejected", "address", h.address, "error", err)
		h.crypto = nil
		return
	}
	h.crypto = ctx
}

// ClearEncryptionKey stops decrypting packets.
func (h *Handle) ClearEncryptionKey() {
	h.crypto = nil
}

// Stats implements session.StatsReporter.
func (h *Handle) Stats() session.Stats {
	var lost, frames uint64
	var peak float64
	for _, src := range h.sources {
		_, l := src.seq.Stats()
		lost += l
		frames += src.frames
		peak = max(peak, src.level)
	}
	return session.Stats{
		Packets:       h.packets,
		Bytes:         h.bytes,
		Lost:          lost,
		Dropped:       h.dropped.Load(),
		DecryptErrors: h.decryptErrors,
		Frames:        frames,
		PeakLevel:     peak,
		Sources:       len(h.sources),
	}
}

// Destroy closes the sockets and waits for the readers to exit. Safe to
// call after a failed Initialise, and more than once.
func (h *Handle) Destroy() {
	h.once.Do(func() {
		if h.rtpConn != nil {
			_ = h.rtpConn.Close()
		}
		if h.rtcpConn != nil {
			_ = h.rtcpConn.Close()
		}
		h.wg.Wait()
		for ssrc := range h.sources {
			h.dropSource(ssrc, "session closed")
		}
	})
}
