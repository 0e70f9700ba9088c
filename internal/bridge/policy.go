// Package bridge hooks the MNCC and SIP adapters together (§4.8,
// grounded on the original app.c, which exists solely to wire
// mncc_connection.on_disconnect and nothing else). Every exported
// function here is a callback registered onto the MNCC connection and
// is only ever invoked from the event loop goroutine.
package bridge

import (
	"log/slog"

	"github.com/anttila/ccbridge/internal/call"
	"github.com/anttila/ccbridge/internal/mncc"
	"github.com/anttila/ccbridge/internal/sipleg"
)

// codecName maps an MNCC payload_msg_type onto the codec name
// advertised in SDP rtpmap attributes. The original resolves this via
// app_media_name, whose table lived outside the retrieved sources; this
// is a minimal reimplementation covering the codecs osmo-bts commonly
// negotiates over MNCC.
func codecName(payloadMsgType uint8) string {
	switch payloadMsgType {
	case 1:
		return "GSM"
	case 2:
		return "GSM-EFR"
	case 3:
		return "AMR"
	default:
		return "GSM"
	}
}

// Policy routes freshly-arrived MNCC calls to an outbound SIP leg and
// tears every call with an MNCC component down when the MNCC socket is
// lost.
type Policy struct {
	registry *call.Registry
	sip      *sipleg.Agent
}

// NewPolicy builds a Policy bound to the given registry and SIP agent.
func NewPolicy(registry *call.Registry, sipAgent *sipleg.Agent) *Policy {
	return &Policy{registry: registry, sip: sipAgent}
}

// RouteCall is registered via mncc.Connection.SetRouteHandler (§4.8,
// grounded on send_invite): once an inbound MNCC call has an allocated
// RTP endpoint, originate the matching outbound SIP leg and attach it
// as the call's remote leg.
func (p *Policy) RouteCall(c *call.Call, source, dest string) {
	initial := c.Initial()
	if initial == nil {
		slog.Error("bridge: routing call with no initial leg", "call_id", c.ID)
		return
	}
	endpoint := initial.Endpoint()
	if endpoint.IsZero() {
		slog.Error("bridge: routing call before RTP endpoint is known", "call_id", c.ID)
		initial.ReleaseCall()
		return
	}

	codec := codecName(endpoint.PayloadMsgType)
	leg, err := p.sip.Originate(c, endpoint, codec)
	if err != nil {
		slog.Error("bridge: failed to originate sip leg", "call_id", c.ID, "err", err)
		initial.ReleaseCall()
		return
	}
	c.SetRemote(leg)

	slog.Info("bridge: routed call", "call_id", c.ID, "source", source, "dest", dest, "codec", codec)
}

// OnDisconnect is registered via mncc.Connection.OnDisconnect (§4.8,
// grounded on app_mncc_disconnected): release every call that has an
// MNCC leg on either side, since the MNCC socket is the only source of
// GSM-side call state.
func (p *Policy) OnDisconnect() {
	for _, c := range p.registry.All() {
		hasMNCC := false
		for _, leg := range c.Legs() {
			if _, ok := leg.(*mncc.Leg); ok {
				hasMNCC = true
				break
			}
		}
		if !hasMNCC {
			continue
		}

		slog.Info("bridge: releasing call due to mncc disconnect", "call_id", c.ID)
		if initial := c.Initial(); initial != nil {
			initial.ReleaseCall()
		}
		if remote := c.Remote(); remote != nil {
			remote.ReleaseCall()
		}
	}
}
