package media

import (
	"encoding/binary"

	"github.com/zaf/g711"

	"github.com/sebas/grav/internal/grav/session"
)

// Codec describes a static RTP payload type.
type Codec struct {
	Name        string
	PayloadType uint8
	ClockRate   uint32
	Kind        session.Kind
	decode      func([]byte) []byte // to 16-bit little-endian PCM, audio only
}

// Static payload types from RFC 3551 seen on Access Grid venues.
var (
	CodecPCMU = Codec{"PCMU", 0, 8000, session.KindAudio, g711.DecodeUlaw}
	CodecPCMA = Codec{"PCMA", 8, 8000, session.KindAudio, g711.DecodeAlaw}
	CodecG722 = Codec{"G722", 9, 8000, session.KindAudio, nil}
	CodecL16  = Codec{"L16", 11, 44100, session.KindAudio, swapL16}
	CodecJPEG = Codec{"JPEG", 26, 90000, session.KindVideo, nil}
	CodecH261 = Codec{"H261", 31, 90000, session.KindVideo, nil}
	CodecMPV  = Codec{"MPV", 32, 90000, session.KindVideo, nil}
	CodecH263 = Codec{"H263", 34, 90000, session.KindVideo, nil}
)

var staticCodecs = map[uint8]Codec{}

func init() {
	for _, c := range []Codec{CodecPCMU, CodecPCMA, CodecG722, CodecL16, CodecJPEG, CodecH261, CodecMPV, CodecH263} {
		staticCodecs[c.PayloadType] = c
	}
}

// CodecFor returns the static codec for pt. Dynamic payload types (96-127)
// and unassigned values report false.
func CodecFor(pt uint8) (Codec, bool) {
	c, ok := staticCodecs[pt]
	return c, ok
}

// CodecName returns a display name for pt.
func CodecName(pt uint8) string {
	if c, ok := CodecFor(pt); ok {
		return c.Name
	}
	if pt >= 96 && pt <= 127 {
		return "dynamic"
	}
	return "unknown"
}

// accepts reports whether a handle with caps should process payload type pt.
// Unknown payload types are accepted; their kind cannot be told from the header.
func accepts(caps session.Capabilities, pt uint8) bool {
	c, ok := CodecFor(pt)
	if !ok {
		return true
	}
	if c.Kind == session.KindVideo {
		return caps.Video
	}
	return caps.Audio
}

// PeakLevel decodes an audio payload and returns its peak amplitude in
// [0, 1]. Codecs without a decoder report false.
func PeakLevel(c Codec, payload []byte) (float64, bool) {
	if c.decode == nil || len(payload) == 0 {
		return 0, false
	}
	pcm := c.decode(payload)

	var peak int32
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return float64(peak) / 32768.0, true
}

// swapL16 converts network-order L16 samples to little-endian.
func swapL16(b []byte) []byte {
	out := make([]byte, len(b)&^1)
	for i := 0; i+1 < len(b); i += 2 {
		out[i], out[i+1] = b[i+1], b[i]
	}
	return out
}
