package media

import (
	"encoding/binary"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/zaf/g711"

	"github.com/sebas/grav/internal/grav/session"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		ip      string
		port    int
		wantErr bool
	}{
		{"224.2.224.225:20002", "224.2.224.225", 20002, false},
		{"224.2.224.225/20002", "224.2.224.225", 20002, false},
		{"[ff0e::1]:5000", "ff0e::1", 5000, false},
		{"ff0e::1/5000", "ff0e::1", 5000, false},
		{"127.0.0.1:0", "127.0.0.1", 0, false},
		{"224.2.224.225", "", 0, true},
		{"224.2.224.225:abc", "", 0, true},
		{"224.2.224.225:65535", "", 0, true},
		{"localhost:5004", "", 0, true},
		{"venue.example.org/20002", "", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseAddress(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAddress(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if got.IP.String() != tt.ip || got.Port != tt.port {
			t.Errorf("ParseAddress(%q) = %s, want %s port %d", tt.in, got, tt.ip, tt.port)
		}
	}
}

func TestRTCPAddr(t *testing.T) {
	a, _ := ParseAddress("224.2.224.225:20002")
	if got := rtcpAddr(a); got == nil || got.Port != 20003 {
		t.Errorf("rtcpAddr = %v, want port 20003", got)
	}
	z, _ := ParseAddress("127.0.0.1:0")
	if rtcpAddr(z) != nil {
		t.Error("rtcpAddr for port 0 should be nil")
	}
}

func TestCodecLookup(t *testing.T) {
	if CodecName(0) != "PCMU" || CodecName(31) != "H261" {
		t.Errorf("static names wrong: %s %s", CodecName(0), CodecName(31))
	}
	if CodecName(96) != "dynamic" || CodecName(72) != "unknown" {
		t.Errorf("non-static names wrong: %s %s", CodecName(96), CodecName(72))
	}

	video := session.CapabilitiesFor(session.KindVideo)
	audio := session.CapabilitiesFor(session.KindAudio)
	if !accepts(video, 31) || accepts(video, 0) {
		t.Error("video handle payload filter wrong")
	}
	if !accepts(audio, 8) || accepts(audio, 34) {
		t.Error("audio handle payload filter wrong")
	}
	if !accepts(video, 96) || !accepts(audio, 96) {
		t.Error("dynamic payload types should pass")
	}
}

func TestPeakLevel(t *testing.T) {
	pcm := make([]byte, 320)
	for i := 0; i < 160; i++ {
		v := int16(0)
		if i == 80 {
			v = -16384
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	lvl, ok := PeakLevel(CodecPCMU, g711.EncodeUlaw(pcm))
	if !ok {
		t.Fatal("PeakLevel reported no decoder for PCMU")
	}
	if lvl < 0.45 || lvl > 0.55 {
		t.Errorf("PeakLevel = %f, want ~0.5", lvl)
	}

	if _, ok := PeakLevel(CodecH261, []byte{1, 2, 3}); ok {
		t.Error("PeakLevel decoded a video payload")
	}
}

func TestSequenceTracker(t *testing.T) {
	var s SequenceTracker

	s.Update(65533)
	if _, lost := s.Update(65535); lost != 1 {
		t.Errorf("lost = %d, want 1", lost)
	}
	ext, lost := s.Update(1)
	if lost != 1 {
		t.Errorf("lost across rollover = %d, want 1", lost)
	}
	if ext != 1<<16|1 {
		t.Errorf("extended = %#x, want %#x", ext, 1<<16|1)
	}
	// Late packet from before the rollover.
	if _, lost := s.Update(65534); lost != 0 {
		t.Errorf("late packet counted as loss: %d", lost)
	}

	received, lostTotal := s.Stats()
	if received != 4 || lostTotal != 2 {
		t.Errorf("Stats() = %d, %d; want 4, 2", received, lostTotal)
	}
	if r := s.LossRate(); r <= 0 || r >= 1 {
		t.Errorf("LossRate() = %f", r)
	}
}

func TestSourceTable(t *testing.T) {
	tbl := NewSourceTable(session.KindVideo)

	tbl.SourceCreated("b:1", 7, 31)
	tbl.SourceCreated("a:1", 9, 34)
	tbl.SourceCreated("a:1", 3, 96)
	tbl.SourceCreated("a:1", 3, 96)
	tbl.SourceDescription("a:1", 3, "alice@venue")
	tbl.SourceApp("a:1", 3, "GRAV", []byte("x"))

	list := tbl.List()
	if len(list) != 3 {
		t.Fatalf("len(List()) = %d, want 3", len(list))
	}
	if list[0].SSRC != 3 || list[1].SSRC != 9 || list[2].Address != "b:1" {
		t.Errorf("List() order = %+v", list)
	}
	if list[0].CNAME != "alice@venue" || list[0].AppPackets != 1 || list[0].Codec != "dynamic" {
		t.Errorf("source 3 = %+v", list[0])
	}

	tbl.SourceDeleted("a:1", 9, "bye")
	if tbl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", tbl.Count())
	}
}

func TestDescribe(t *testing.T) {
	info := session.EntryInfo{
		Address:   "224.2.224.225/20002",
		Kind:      session.KindVideo,
		CreatedAt: time.Unix(1700000000, 0),
	}
	out, err := Describe(info, "192.0.2.10")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	s := string(out)
	for _, want := range []string{
		"o=grav 1700000000 1700000000 IN IP4 192.0.2.10",
		"c=IN IP4 224.2.224.225/127",
		"m=video 20002 RTP/AVP 31 34 26",
		"a=rtpmap:31 H261/90000",
		"a=recvonly",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("SDP missing %q:\n%s", want, s)
		}
	}

	info.Kind = session.KindAudio
	info.Address = "127.0.0.1:5004"
	out, err = Describe(info, "192.0.2.10")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "m=audio 5004 RTP/AVP 0 8 11") {
		t.Errorf("audio SDP:\n%s", out)
	}
}

func marshalRTP(t *testing.T, ssrc uint32, seq uint16, pt uint8, payload []byte) []byte {
	t.Helper()
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    pt,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 3000,
			SSRC:           ssrc,
			Marker:         true,
		},
		Payload: payload,
	}
	b, err := pkt.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func openLoopback(t *testing.T, kind session.Kind, tbl *SourceTable) (*Handle, net.Conn) {
	t.Helper()
	h := NewFactory(FactoryConfig{}).NewHandle("127.0.0.1:0", session.CapabilitiesFor(kind), tbl).(*Handle)
	if err := h.Initialise(); err != nil {
		t.Fatalf("Initialise: %v", err)
	}
	t.Cleanup(h.Destroy)

	conn, err := net.Dial("udp", h.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return h, conn
}

func iterateUntil(t *testing.T, h *Handle, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var ts uint32 = 1
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		h.Iterate(ts)
		ts++
		time.Sleep(time.Millisecond)
	}
}

func TestHandleReceivesRTP(t *testing.T) {
	tbl := NewSourceTable(session.KindVideo)
	h, conn := openLoopback(t, session.KindVideo, tbl)

	// Audio payload on a video session is filtered out.
	if _, err := conn.Write(marshalRTP(t, 0xA0D10, 1, 0, make([]byte, 160))); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(marshalRTP(t, 0xBEEF, 10, 31, []byte{1, 2, 3, 4})); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(marshalRTP(t, 0xBEEF, 12, 31, []byte{5, 6, 7, 8})); err != nil {
		t.Fatal(err)
	}

	iterateUntil(t, h, func() bool { return h.Stats().Packets == 2 })

	st := h.Stats()
	if st.Sources != 1 || st.Bytes != 8 || st.Lost != 1 || st.Frames != 2 {
		t.Errorf("Stats() = %+v", st)
	}
	list := tbl.List()
	if len(list) != 1 || list[0].SSRC != 0xBEEF || list[0].Codec != "H261" {
		t.Errorf("sources = %+v", list)
	}

	h.Destroy()
	if tbl.Count() != 0 {
		t.Errorf("sources left after Destroy: %d", tbl.Count())
	}
}

func TestHandleDecryptsSRTP(t *testing.T) {
	tbl := NewSourceTable(session.KindAudio)
	h, conn := openLoopback(t, session.KindAudio, tbl)
	h.SetEncryptionKey("venue-secret")

	sender, err := newCryptoContext("venue-secret")
	if err != nil {
		t.Fatal(err)
	}
	enc, err := sender.EncryptRTP(nil, marshalRTP(t, 0xCAFE, 100, 0, make([]byte, 160)), &rtp.Header{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(enc); err != nil {
		t.Fatal(err)
	}
	iterateUntil(t, h, func() bool { return tbl.Count() == 1 })

	// Cleartext traffic fails authentication while a key is set.
	if _, err := conn.Write(marshalRTP(t, 0xD00D, 1, 0, make([]byte, 160))); err != nil {
		t.Fatal(err)
	}
	iterateUntil(t, h, func() bool { return h.Stats().DecryptErrors == 1 })

	h.ClearEncryptionKey()
	if _, err := conn.Write(marshalRTP(t, 0xD00D, 2, 0, make([]byte, 160))); err != nil {
		t.Fatal(err)
	}
	iterateUntil(t, h, func() bool { return tbl.Count() == 2 })
}

func TestHandleDestroyAfterFailedInitialise(t *testing.T) {
	h := NewFactory(FactoryConfig{}).NewHandle("not-an-address", session.CapabilitiesFor(session.KindVideo), nil)
	if err := h.Initialise(); err == nil {
		t.Fatal("Initialise succeeded on a bad address")
	}
	h.Destroy()
	h.Destroy()
}

func TestHandleRejectsHostnameWithoutLookup(t *testing.T) {
	h := NewFactory(FactoryConfig{}).NewHandle("localhost:5004", session.CapabilitiesFor(session.KindAudio), nil)
	defer h.Destroy()

	err := h.Initialise()
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("Initialise(localhost:5004) = %v, want ErrInvalidAddress", err)
	}
}
