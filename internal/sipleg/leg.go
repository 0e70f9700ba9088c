package sipleg

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"

	"github.com/anttila/ccbridge/internal/call"
)

// Leg sub-states (§4.7): mirrors the original's SIP_CC_INITIAL/DLG_CNFD/
// CONNECTED.
const (
	sipInitial      = "initial"
	sipDlgConfirmed = "dlg_confirmed"
	sipConnected    = "connected"
)

// Leg is the SIP side of a call (§3, §4.7): an outbound-only leg that
// originated an INVITE and is tracked to ringing, answer, or failure.
// Only ever touched from the event loop goroutine.
type Leg struct {
	call.ReleaseLatch

	agent   *Agent
	owner   *call.Call
	callID  string
	invite  *sip.Request
	tx      sip.ClientTransaction

	wantedCodec string
	endpoint    call.MediaEndpoint

	sm *fsm.FSM
}

func newLeg(agent *Agent, callID string, wantedCodec string) *Leg {
	l := &Leg{agent: agent, callID: callID, wantedCodec: wantedCodec}
	l.sm = fsm.NewFSM(
		sipInitial,
		fsm.Events{
			{Name: "dialog_confirmed", Src: []string{sipInitial}, Dst: sipDlgConfirmed},
			{Name: "connect", Src: []string{sipInitial, sipDlgConfirmed}, Dst: sipConnected},
		},
		fsm.Callbacks{},
	)
	return l
}

// Call returns the owning call.
func (l *Leg) Call() *call.Call {
	return l.owner
}

// Endpoint returns the remote RTP endpoint parsed from the SIP answer, or
// a zero value before one has arrived.
func (l *Leg) Endpoint() call.MediaEndpoint {
	return l.endpoint
}

// SetEndpoint is unused by this leg in normal operation — its own
// endpoint is always parsed directly from the SDP answer — but is kept
// to satisfy call.Leg for symmetry with the MNCC adapter.
func (l *Leg) SetEndpoint(e call.MediaEndpoint) {
	l.endpoint = e
}

// State returns the leg's sub-state name.
func (l *Leg) State() string {
	return l.sm.Current()
}

// Destroy forgets the leg. Any outstanding SIP transaction is expected to
// have already been torn down by ReleaseCall.
func (l *Leg) Destroy() {
	delete(l.agent.legs, l.callID)
	if l.owner != nil {
		l.owner.LegDestroyed(l)
	}
}

// ConnectCall and RingCall are never invoked in this bridge's topology —
// a SIP leg is always the answering side, and only the MNCC leg ever
// receives connect/ring (§4.7, grounded on the original leaving
// call_leg.connect_call/ring_call unset for CALL_TYPE_SIP). They exist
// only to satisfy call.Capabilities.
func (l *Leg) ConnectCall() {
	slog.Warn("sipleg: ConnectCall invoked on outbound-only leg, ignoring", "call_id", l.callID)
}

func (l *Leg) RingCall() {
	slog.Warn("sipleg: RingCall invoked on outbound-only leg, ignoring", "call_id", l.callID)
}

// ReleaseCall implements call.Capabilities (§4.7, grounded on
// sip_release_call): branches on dialog sub-state to decide between
// dropping a pending transaction, CANCEL, or BYE.
func (l *Leg) ReleaseCall() {
	if !l.SetInRelease() {
		return
	}
	switch l.sm.Current() {
	case sipInitial:
		l.agent.cancelInvite(l)
		l.Destroy()
	case sipDlgConfirmed:
		l.agent.cancelInvite(l)
	case sipConnected:
		l.agent.sendBye(l)
	}
}

func (l *Leg) advance(event string) {
	if err := l.sm.Event(context.Background(), event); err != nil {
		slog.Debug("sipleg: leg state transition rejected", "call_id", l.callID, "event", event, "err", err)
	}
}

// onRinging handles a 180/181 response (§4.7, grounded on call_progress):
// tell the other leg it should start ringback.
func (l *Leg) onRinging() {
	if l.sm.Current() == sipInitial {
		l.advance("dialog_confirmed")
	}
	if other := l.owner.OtherLeg(l); other != nil {
		other.RingCall()
	}
}

// onAnswered handles a 2xx response (§4.7, grounded on call_connect):
// parse the SDP answer, connect the other leg, send ACK.
func (l *Leg) onAnswered(body []byte) error {
	if l.sm.Current() == sipInitial {
		l.advance("dialog_confirmed")
	}
	if len(body) == 0 {
		return ErrNoAnswerBody
	}
	answer, err := ParseAnswer(body, l.wantedCodec)
	if err != nil {
		return err
	}
	l.endpoint = call.MediaEndpoint{
		IP:          ipToUint32(answer.Addr),
		Port:        answer.Port,
		PayloadType: answer.PayloadType,
	}
	l.advance("connect")

	other := l.owner.OtherLeg(l)
	if other == nil {
		return nil
	}
	other.ConnectCall()
	return nil
}

// ipToUint32 packs a dotted-quad IPv4 address into the same big-endian
// uint32 form call.MediaEndpoint.IP uses everywhere else (§3, mirroring
// the MNCC wire frames' network-byte-order IP field). Returns 0 for an
// unparsable or non-IPv4 address.
func ipToUint32(addr string) uint32 {
	ip := net.ParseIP(addr)
	if ip == nil {
		return 0
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}

// onFailedOrBye handles a >=300 final response, a local BYE/CANCEL
// response, or a remote BYE (§4.7, grounded on nua_callback's err/bye
// branches): release the other leg and forget this one.
func (l *Leg) onFailedOrBye() {
	if other := l.owner.OtherLeg(l); other != nil {
		other.ReleaseCall()
	}
	l.Destroy()
}
