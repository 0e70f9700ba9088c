package mncc

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/anttila/ccbridge/internal/call"
)

// Leg sub-states (§3): mirrors the original's MNCC_CC_INITIAL/PROCEEDING/
// CONNECTED.
const (
	legInitial    = "initial"
	legProceeding = "proceeding"
	legConnected  = "connected"
)

// Direction is which side originated the leg (§3): MO legs arrive as a
// SETUP_IND from the mobile network, MT legs are originated by this
// bridge with a SETUP_REQ (§4.4, grounded on mncc_create_remote_leg).
type Direction string

const (
	DirMO Direction = "mo"
	DirMT Direction = "mt"
)

// Leg is the MNCC side of a call (§3, §4.3-§4.6). Only ever touched from
// the event loop goroutine.
type Leg struct {
	call.ReleaseLatch

	conn    *Connection
	callref uint32
	owner   *call.Call
	dir     Direction

	sm *fsm.FSM

	calling Address
	called  Address
	imsi    string

	endpoint call.MediaEndpoint
	timer    *cmdTimer
}

func newLeg(conn *Connection, callref uint32, dir Direction) *Leg {
	l := &Leg{
		conn:    conn,
		callref: callref,
		dir:     dir,
		timer:   newCmdTimer(conn.loop),
	}
	l.sm = fsm.NewFSM(
		legInitial,
		fsm.Events{
			{Name: "proceed", Src: []string{legInitial}, Dst: legProceeding},
			{Name: "connect", Src: []string{legInitial, legProceeding}, Dst: legConnected},
		},
		fsm.Callbacks{},
	)
	return l
}

// Call returns the owning call.
func (l *Leg) Call() *call.Call {
	return l.owner
}

// Endpoint returns the media quadruple learned for this leg.
func (l *Leg) Endpoint() call.MediaEndpoint {
	return l.endpoint
}

// SetEndpoint records this leg's media quadruple.
func (l *Leg) SetEndpoint(e call.MediaEndpoint) {
	l.endpoint = e
}

// State returns the leg's sub-state name.
func (l *Leg) State() string {
	return l.sm.Current()
}

// Direction reports whether this leg was mobile-originated or is a
// terminating leg this bridge created (§3).
func (l *Leg) Direction() Direction {
	return l.dir
}

// Destroy stops any outstanding timer and forgets the leg. The MNCC
// socket protocol has no separate destructor message; release already
// handles the protocol side.
func (l *Leg) Destroy() {
	l.timer.StopAny()
	delete(l.conn.legs, l.callref)
	if l.owner != nil {
		l.owner.LegDestroyed(l)
	}
}

func (l *Leg) onConnectionLost() {
	l.timer.StopAny()
}

// ConnectCall implements call.Capabilities (§4.5): tell the mobile side
// where to send RTP for the other leg, then confirm the call.
func (l *Leg) ConnectCall() {
	other := l.owner.OtherLeg(l)
	if other == nil {
		slog.Error("mncc: connect_call with no other leg", "callref", l.callref)
		return
	}
	if !l.sendRTPConnect(other.Endpoint()) {
		return
	}
	l.timer.Start(MsgSetupComplInd, func() { l.onCmdTimeout(MsgSetupComplInd) })
	l.conn.send((&Frame{MsgType: MsgSetupRsp, Callref: l.callref}).Marshal())
}

// RingCall implements call.Capabilities (§4.5): send ALERT_REQ with the
// standard in-band-tone progress indicator, and opportunistically connect
// RTP early if the other leg's endpoint is already known.
func (l *Leg) RingCall() {
	out := &Frame{
		MsgType: MsgAlertReq,
		Callref: l.callref,
		Fields:  FieldProgress,
		Progress: Progress{
			Coding:   3,
			Location: 1,
			Descr:    8,
		},
	}
	l.conn.send(out.Marshal())

	if other := l.owner.OtherLeg(l); other != nil {
		if ep := other.Endpoint(); !ep.IsZero() {
			l.sendRTPConnect(ep)
		}
	}
}

// ReleaseCall implements call.Capabilities (§4.6): branches on connection
// readiness and leg sub-state, matching mncc_call_leg_release.
func (l *Leg) ReleaseCall() {
	if l.conn.State() != connReady {
		l.Destroy()
		return
	}

	switch l.sm.Current() {
	case legInitial:
		if l.dir == DirMT {
			if !l.SetInRelease() {
				return
			}
			l.timer.Start(MsgRelCnf, func() { l.onCmdTimeout(MsgRelCnf) })
			l.conn.send((&Frame{MsgType: MsgRelReq, Callref: l.callref}).Marshal())
			return
		}
		l.conn.send((&Frame{MsgType: MsgRejReq, Callref: l.callref}).Marshal())
		l.Destroy()
	case legProceeding, legConnected:
		if !l.SetInRelease() {
			return
		}
		l.timer.Start(MsgRelInd, func() { l.onCmdTimeout(MsgRelInd) })
		l.conn.send((&Frame{MsgType: MsgDiscReq, Callref: l.callref}).Marshal())
	}
}

func (l *Leg) sendRTPConnect(ep call.MediaEndpoint) bool {
	out := &RTPFrame{
		MsgType:        MsgRTPConnect,
		Callref:        l.callref,
		IP:             ep.IP,
		Port:           ep.Port,
		PayloadType:    ep.PayloadType,
		PayloadMsgType: ep.PayloadMsgType,
	}
	if err := l.conn.send(out.Marshal()); err != nil {
		slog.Error("mncc: rtp connect failed", "callref", l.callref, "err", err)
		return false
	}
	return true
}

func (l *Leg) onCmdTimeout(expected MsgType) {
	slog.Error("mncc: response never arrived", "callref", l.callref, "expected", expected)
	if other := l.owner.OtherLeg(l); other != nil {
		other.ReleaseCall()
	}
	l.Destroy()
}

func (l *Leg) advance(event string) {
	if err := l.sm.Event(context.Background(), event); err != nil {
		slog.Debug("mncc: leg state transition rejected", "callref", l.callref, "event", event, "err", err)
	}
}
