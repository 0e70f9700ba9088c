package mncc

import (
	"log/slog"

	"github.com/anttila/ccbridge/internal/call"
)

// ISDN address plan/type values referenced by §4.3's screening checks.
const (
	addrPlanISDN          uint8 = 1
	addrTypeInternational uint8 = 1
)

func (c *Connection) findLeg(callref uint32) *Leg {
	leg, ok := c.legs[callref]
	if !ok {
		slog.Error("mncc: no leg for callref", "callref", callref)
		return nil
	}
	return leg
}

// dispatch routes a decoded control frame to its handler (§4.2's dispatch
// table), covering both mobile-originated legs (SETUP_IND and onward) and
// mobile-terminated legs this bridge originates itself with SETUP_REQ
// (CALL_CONF_IND, ALERT_IND, SETUP_CNF).
func (c *Connection) dispatch(f *Frame) {
	switch f.MsgType {
	case MsgSetupInd:
		c.handleSetupInd(f)
	case MsgCallConfInd:
		c.handleCallConfInd(f)
	case MsgAlertInd:
		c.handleAlertInd(f)
	case MsgSetupCnf:
		c.handleSetupCnf(f)
	case MsgDiscInd:
		c.handleDiscInd(f)
	case MsgRelInd:
		c.handleRelInd(f)
	case MsgRelCnf:
		c.handleRelCnf(f)
	case MsgRejInd:
		c.handleRejInd(f)
	case MsgSetupComplInd:
		c.handleSetupComplInd(f)
	case MsgHoldInd:
		c.handleHoldInd(f)
	case MsgStartDtmfInd:
		c.handleDTMFStart(f)
	case MsgStopDtmfInd:
		c.handleDTMFStop(f)
	default:
		slog.Warn("mncc: unhandled message type", "msg_type", f.MsgType, "callref", f.Callref)
	}
}

func (c *Connection) dispatchRTP(r *RTPFrame) {
	switch r.MsgType {
	case MsgRTPCreate:
		c.handleRTPCreate(r)
	case MsgRTPConnect:
		c.handleRTPConnect(r)
	default:
		slog.Warn("mncc: unhandled rtp message type", "msg_type", r.MsgType, "callref", r.Callref)
	}
}

// handleSetupInd creates a new call+leg for a mobile-originated setup
// (§4.3, grounded on check_setup/continue_setup).
func (c *Connection) handleSetupInd(f *Frame) {
	if f.Fields&FieldCalled == 0 {
		slog.Error("mncc: setup without called address", "callref", f.Callref)
		c.send((&Frame{MsgType: MsgRejReq, Callref: f.Callref}).Marshal())
		return
	}
	if f.Fields&FieldCalling == 0 {
		slog.Error("mncc: setup without calling address", "callref", f.Callref)
		c.send((&Frame{MsgType: MsgRejReq, Callref: f.Callref}).Marshal())
		return
	}
	if f.Called.Plan != addrPlanISDN {
		slog.Error("mncc: unsupported dial plan", "callref", f.Callref, "plan", f.Called.Plan)
		c.send((&Frame{MsgType: MsgRejReq, Callref: f.Callref}).Marshal())
		return
	}

	leg := newLeg(c, f.Callref, DirMO)
	leg.calling = f.Calling
	leg.called = f.Called
	leg.imsi = f.Imsi

	dest := leg.called.Number
	if leg.called.Type == addrTypeInternational {
		dest = "+" + dest
	}
	source := leg.calling.Number
	if c.useIMSI {
		source = leg.imsi
	}

	owner := call.NewCall(c.registry.NextID(), source, dest, leg)
	leg.owner = owner
	owner.OnDestroyed(func(done *call.Call) { c.registry.Remove(done.ID) })
	c.registry.Add(owner)
	c.legs[f.Callref] = leg

	slog.Debug("mncc: created call", "call_id", owner.ID, "callref", f.Callref)

	leg.timer.Start(MsgRTPCreate, func() { leg.onCmdTimeout(MsgRTPCreate) })
	c.send((&RTPFrame{MsgType: MsgRTPCreate, Callref: f.Callref}).Marshal())
}

// handleRTPCreate records the leg's allocated local RTP endpoint and
// continues the call setup, branching on direction (§4.3-§4.4, grounded
// on check_rtp_create/continue_call/continue_mo_call/continue_mt_call).
func (c *Connection) handleRTPCreate(r *RTPFrame) {
	leg := c.findLeg(r.Callref)
	if leg == nil {
		c.send((&Frame{MsgType: MsgRejReq, Callref: r.Callref}).Marshal())
		return
	}
	leg.SetEndpoint(call.MediaEndpoint{
		IP:             r.IP,
		Port:           r.Port,
		PayloadType:    r.PayloadType,
		PayloadMsgType: r.PayloadMsgType,
	})
	leg.timer.Stop(MsgRTPCreate)

	if leg.dir == DirMT {
		c.continueMTCall(leg)
		return
	}

	c.send((&Frame{MsgType: MsgCallProcReq, Callref: r.Callref}).Marshal())
	leg.advance("proceed")

	if c.onRoute != nil {
		c.onRoute(leg.owner, leg.owner.Source, leg.owner.Dest)
	}
}

// continueMTCall forwards the RTP payload type this leg learned onto the
// other leg, the only action continue_mt_call takes: the channel and
// state were already fixed when this leg was originated.
func (c *Connection) continueMTCall(leg *Leg) {
	other := leg.owner.OtherLeg(leg)
	if other == nil {
		return
	}
	ep := other.Endpoint()
	ep.PayloadType = leg.Endpoint().PayloadType
	other.SetEndpoint(ep)
}

// handleCallConfInd starts RTP allocation for a leg the network has
// confirmed (§4.2, grounded on check_cnf_ind).
func (c *Connection) handleCallConfInd(f *Frame) {
	leg := c.findLeg(f.Callref)
	if leg == nil {
		return
	}
	leg.timer.Start(MsgRTPCreate, func() { leg.onCmdTimeout(MsgRTPCreate) })
	c.send((&RTPFrame{MsgType: MsgRTPCreate, Callref: f.Callref}).Marshal())
}

// handleAlertInd forwards an alerting (ringing) indication to the other
// leg, or releases this leg if the other leg is already gone (§4.2,
// grounded on check_alrt_ind).
func (c *Connection) handleAlertInd(f *Frame) {
	leg := c.findLeg(f.Callref)
	if leg == nil {
		return
	}
	other := leg.owner.OtherLeg(leg)
	if other == nil {
		slog.Error("mncc: alert with no other leg", "callref", f.Callref)
		leg.ReleaseCall()
		return
	}
	other.RingCall()
}

// handleSetupCnf connects RTP to the other leg and confirms this leg as
// connected once the network accepts the call it set up (§4.2, grounded
// on check_stp_cnf).
func (c *Connection) handleSetupCnf(f *Frame) {
	leg := c.findLeg(f.Callref)
	if leg == nil {
		return
	}
	other := leg.owner.OtherLeg(leg)
	if other == nil {
		slog.Error("mncc: setup confirmed with no other leg", "callref", f.Callref)
		leg.ReleaseCall()
		return
	}
	if !leg.sendRTPConnect(other.Endpoint()) {
		return
	}
	leg.advance("connect")
	c.send((&Frame{MsgType: MsgSetupComplReq, Callref: f.Callref}).Marshal())
	other.ConnectCall()
}

// handleRTPConnect processes an asynchronous RTP_CONNECT report. A
// non-zero endpoint is just an echo of success and needs no action; an
// all-zero endpoint signals failure and both legs are released (§4.3,
// grounded on check_rtp_connect).
func (c *Connection) handleRTPConnect(r *RTPFrame) {
	leg := c.findLeg(r.Callref)
	if leg == nil {
		c.send((&Frame{MsgType: MsgRejReq, Callref: r.Callref}).Marshal())
		return
	}
	ep := call.MediaEndpoint{IP: r.IP, Port: r.Port, PayloadType: r.PayloadType}
	if !ep.IsZero() {
		return
	}
	slog.Error("mncc: rtp connect failed", "callref", r.Callref)
	if other := leg.owner.OtherLeg(leg); other != nil {
		other.ReleaseCall()
	}
	leg.ReleaseCall()
}

// handleDiscInd handles a network-initiated disconnect (§4.6, grounded on
// check_disc_ind).
func (c *Connection) handleDiscInd(f *Frame) {
	leg := c.findLeg(f.Callref)
	if leg == nil {
		return
	}
	leg.SetInRelease()
	leg.timer.Start(MsgRelCnf, func() { leg.onCmdTimeout(MsgRelCnf) })
	c.send((&Frame{MsgType: MsgRelReq, Callref: f.Callref}).Marshal())

	if other := leg.owner.OtherLeg(leg); other != nil {
		other.ReleaseCall()
	}
}

// handleRelInd handles a network release indication (§4.6, grounded on
// check_rel_ind).
func (c *Connection) handleRelInd(f *Frame) {
	leg := c.findLeg(f.Callref)
	if leg == nil {
		return
	}
	if leg.InRelease() {
		leg.timer.Stop(MsgRelInd)
	} else if other := leg.owner.OtherLeg(leg); other != nil {
		other.ReleaseCall()
	}
	leg.Destroy()
}

// handleRelCnf confirms our own release request (§4.6, grounded on
// check_rel_cnf).
func (c *Connection) handleRelCnf(f *Frame) {
	leg := c.findLeg(f.Callref)
	if leg == nil {
		return
	}
	leg.timer.Stop(MsgRelCnf)
	leg.Destroy()
}

// handleRejInd handles a network rejection of the call (§4.6, grounded
// on check_rej_ind).
func (c *Connection) handleRejInd(f *Frame) {
	leg := c.findLeg(f.Callref)
	if leg == nil {
		return
	}
	if other := leg.owner.OtherLeg(leg); other != nil {
		other.ReleaseCall()
	}
	leg.Destroy()
}

// handleSetupComplInd confirms the call as fully connected (§4.5,
// grounded on check_stp_cmpl_ind).
func (c *Connection) handleSetupComplInd(f *Frame) {
	leg := c.findLeg(f.Callref)
	if leg == nil {
		return
	}
	leg.timer.Stop(MsgSetupComplInd)
	leg.advance("connect")
}

// handleHoldInd always rejects hold (Non-goal: no hold/transfer/
// multiparty), grounded on check_hold_ind.
func (c *Connection) handleHoldInd(f *Frame) {
	leg := c.findLeg(f.Callref)
	if leg == nil {
		return
	}
	c.send((&Frame{MsgType: MsgHoldRej, Callref: f.Callref}).Marshal())
}

// handleDTMFStart forwards the digit to the peer's optional DTMF
// capability, if it has one, and echoes acknowledgement (§4.2, grounded
// on check_dtmf_start).
func (c *Connection) handleDTMFStart(f *Frame) {
	leg := c.findLeg(f.Callref)
	if leg == nil {
		return
	}
	if other := leg.owner.OtherLeg(leg); other != nil {
		if sender, ok := other.(call.DTMFSender); ok {
			sender.SendDTMF(f.Keypad)
		}
	}
	out := &Frame{MsgType: MsgStartDtmfRsp, Callref: f.Callref, Fields: FieldKeypad, Keypad: f.Keypad}
	c.send(out.Marshal())
}

// handleDTMFStop echoes acknowledgement of a DTMF digit stop, grounded on
// check_dtmf_stop.
func (c *Connection) handleDTMFStop(f *Frame) {
	leg := c.findLeg(f.Callref)
	if leg == nil {
		return
	}
	out := &Frame{MsgType: MsgStopDtmfRsp, Callref: f.Callref, Fields: FieldKeypad, Keypad: f.Keypad}
	c.send(out.Marshal())
}
