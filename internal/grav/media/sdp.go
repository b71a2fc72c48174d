package media

import (
	"fmt"
	"strconv"

	"github.com/pion/sdp/v3"

	"github.com/sebas/grav/internal/grav/session"
)

const multicastTTL = 127

// Describe builds an SDP description of a session so other tools can join
// the same group. origin is the address advertised in the o= line.
func Describe(info session.EntryInfo, origin string) ([]byte, error) {
	addr, err := ParseAddress(info.Address)
	if err != nil {
		return nil, err
	}

	addrType := "IP4"
	if addr.IP.To4() == nil {
		addrType = "IP6"
	}
	conn := &sdp.Address{Address: addr.IP.String()}
	if addr.IP.IsMulticast() && addrType == "IP4" {
		ttl := multicastTTL
		conn.TTL = &ttl
	}

	codecs := []Codec{CodecH261, CodecH263, CodecJPEG}
	media := "video"
	if info.Kind == session.KindAudio {
		codecs = []Codec{CodecPCMU, CodecPCMA, CodecL16}
		media = "audio"
	}
	formats := make([]string, 0, len(codecs))
	attrs := make([]sdp.Attribute, 0, len(codecs)+1)
	for _, c := range codecs {
		pt := strconv.Itoa(int(c.PayloadType))
		formats = append(formats, pt)
		attrs = append(attrs, sdp.Attribute{
			Key:   "rtpmap",
			Value: fmt.Sprintf("%s %s/%d", pt, c.Name, c.ClockRate),
		})
	}
	attrs = append(attrs, sdp.Attribute{Key: "recvonly"})

	version := uint64(info.CreatedAt.Unix())
	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "grav",
			SessionID:      version,
			SessionVersion: version,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: origin,
		},
		SessionName: sdp.SessionName(fmt.Sprintf("grav %s session %s", media, info.Address)),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType,
			Address:     conn,
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   media,
					Port:    sdp.RangedPort{Value: addr.Port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: attrs,
			},
		},
	}

	return desc.Marshal()
}
