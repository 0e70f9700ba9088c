// Package sipleg implements the SIP adapter: an outbound-only leg that
// originates an INVITE toward a fixed SIP peer and tracks it through
// ringing, answer, and release (§4.7).
package sipleg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// clockRate is the RTP clock rate for every codec this bridge speaks —
// narrowband telephony audio (§6, grounded on the original send_invite's
// fixed "/8000" rtpmap suffix).
const clockRate = 8000

// BuildOffer constructs the SDP offer body advertised in the outbound
// INVITE (§4.7, grounded on services/rtpmanager/sdp/builder.go's
// pion/sdp session layout and the original send_invite's wire template).
func BuildOffer(advertiseAddr string, port uint16, payloadType uint8, codecName string) ([]byte, error) {
	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "Osmocom",
			SessionID:      0,
			SessionVersion: 0,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: advertiseAddr,
		},
		SessionName: "GSM Call",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: advertiseAddr},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: int(port)},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{strconv.Itoa(int(payloadType))},
				},
				Attributes: []sdp.Attribute{
					sdp.NewAttribute("rtpmap", fmt.Sprintf("%d %s/%d", payloadType, codecName, clockRate)),
				},
			},
		},
	}
	return desc.Marshal()
}

// Answer is the media endpoint and payload type parsed out of a SIP
// answer's SDP body.
type Answer struct {
	Addr        string
	Port        uint16
	PayloadType uint8
}

// ParseAnswer scans an SDP answer body for the first IPv4 connection
// address and the first audio media matching wantedCodec by name
// (case-insensitively), mirroring the original src/sip.c:extract_sdp —
// codec compatibility is checked by rtpmap name only, never transcoded
// (Non-goal).
func ParseAnswer(body []byte, wantedCodec string) (Answer, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return Answer{}, fmt.Errorf("sipleg: parse sdp answer: %w", err)
	}

	addr := ""
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.AddressType == "IP4" && desc.ConnectionInformation.Address != nil {
		addr = desc.ConnectionInformation.Address.Address
	}

	for _, media := range desc.MediaDescriptions {
		if media.MediaName.Media != "audio" {
			continue
		}
		if !containsRTPAVP(media.MediaName.Protos) {
			continue
		}
		if media.ConnectionInformation != nil && media.ConnectionInformation.AddressType == "IP4" && media.ConnectionInformation.Address != nil {
			addr = media.ConnectionInformation.Address.Address
		}
		if addr == "" {
			continue
		}
		pt, ok := matchRTPMap(media, wantedCodec)
		if !ok {
			continue
		}
		return Answer{Addr: addr, Port: uint16(media.MediaName.Port.Value), PayloadType: pt}, nil
	}

	return Answer{}, fmt.Errorf("sipleg: no compatible %q media found in answer", wantedCodec)
}

func containsRTPAVP(protos []string) bool {
	joined := strings.ToUpper(strings.Join(protos, "/"))
	return strings.Contains(joined, "RTP") && strings.Contains(joined, "AVP")
}

func matchRTPMap(media *sdp.MediaDescription, wantedCodec string) (uint8, bool) {
	for _, attr := range media.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		fields := strings.SplitN(attr.Value, " ", 2)
		if len(fields) != 2 {
			continue
		}
		ptVal, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		name := strings.SplitN(fields[1], "/", 2)[0]
		if strings.EqualFold(name, wantedCodec) {
			return uint8(ptVal), true
		}
	}
	return 0, false
}
