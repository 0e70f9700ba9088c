// Package mncc implements the MNCC adapter: the unixpacket control
// connection to the mobile network call control socket, its per-call leg
// state machine, and the wire framing the two speak over the socket.
package mncc

import (
	"encoding/binary"
	"fmt"
)

// MsgType is a control message type (§4.2). These are not the host
// kernel's gsm_mncc numbering — §3 of the expanded spec explains why the
// wire layout here is a Go-native encoding we own end to end, rather than
// a reproduction of a platform-specific C struct layout.
type MsgType uint32

const (
	MsgSetupReq MsgType = iota + 1
	MsgSetupInd
	MsgSetupRsp
	MsgSetupCnf
	MsgSetupComplReq
	MsgSetupComplInd
	MsgCallProcReq
	MsgCallConfInd
	MsgAlertReq
	MsgAlertInd
	MsgDiscReq
	MsgDiscInd
	MsgRelReq
	MsgRelInd
	MsgRelCnf
	MsgRejReq
	MsgRejInd
	MsgHoldInd
	MsgHoldRej
	MsgStartDtmfInd
	MsgStartDtmfRsp
	MsgStopDtmfInd
	MsgStopDtmfRsp
	MsgRTPCreate
	MsgRTPConnect
)

func (m MsgType) String() string {
	switch m {
	case MsgSetupReq:
		return "SETUP_REQ"
	case MsgSetupInd:
		return "SETUP_IND"
	case MsgSetupRsp:
		return "SETUP_RSP"
	case MsgSetupCnf:
		return "SETUP_CNF"
	case MsgSetupComplReq:
		return "SETUP_COMPL_REQ"
	case MsgSetupComplInd:
		return "SETUP_COMPL_IND"
	case MsgCallProcReq:
		return "CALL_PROC_REQ"
	case MsgCallConfInd:
		return "CALL_CONF_IND"
	case MsgAlertReq:
		return "ALERT_REQ"
	case MsgAlertInd:
		return "ALERT_IND"
	case MsgDiscReq:
		return "DISC_REQ"
	case MsgDiscInd:
		return "DISC_IND"
	case MsgRelReq:
		return "REL_REQ"
	case MsgRelInd:
		return "REL_IND"
	case MsgRelCnf:
		return "REL_CNF"
	case MsgRejReq:
		return "REJ_REQ"
	case MsgRejInd:
		return "REJ_IND"
	case MsgHoldInd:
		return "HOLD_IND"
	case MsgHoldRej:
		return "HOLD_REJ"
	case MsgStartDtmfInd:
		return "START_DTMF_IND"
	case MsgStartDtmfRsp:
		return "START_DTMF_RSP"
	case MsgStopDtmfInd:
		return "STOP_DTMF_IND"
	case MsgStopDtmfRsp:
		return "STOP_DTMF_RSP"
	case MsgRTPCreate:
		return "RTP_CREATE"
	case MsgRTPConnect:
		return "RTP_CONNECT"
	default:
		return fmt.Sprintf("MsgType(%d)", uint32(m))
	}
}

// Field bits (§4.2/§4.3): which optional members of Frame are populated,
// matching the original's MNCC_F_* usage.
const (
	FieldCalled uint32 = 1 << iota
	FieldCalling
	FieldKeypad
	FieldProgress
)

// SockVersion is the handshake version both ends must agree on (§4.1).
const SockVersion uint32 = 1

// Frame-kind discriminator byte. Every datagram on the socket starts with
// one of these so the reader can tell the three frame shapes apart
// without depending on datagram length alone.
const (
	kindHello byte = iota + 1
	kindMNCC
	kindRTP
)

const numberMaxLen = 32
const imsiMaxLen = 16

// Address is an ISDN address/number sub-record (§4.2, §9 GLOSSARY).
type Address struct {
	Plan   uint8
	Type   uint8
	Number string
}

func (a Address) marshal(buf []byte) {
	buf[0] = a.Plan
	buf[1] = a.Type
	n := a.Number
	if len(n) > numberMaxLen {
		n = n[:numberMaxLen]
	}
	buf[2] = byte(len(n))
	copy(buf[3:3+numberMaxLen], n)
}

func (a *Address) unmarshal(buf []byte) {
	a.Plan = buf[0]
	a.Type = buf[1]
	n := int(buf[2])
	if n > numberMaxLen {
		n = numberMaxLen
	}
	a.Number = string(buf[3 : 3+n])
}

const addressLen = 3 + numberMaxLen

// Progress carries the ALERT_REQ progress indicator fields the original
// hard-codes as coding=3, location=1, descr=8 (§4.4).
type Progress struct {
	Coding   uint8
	Location uint8
	Descr    uint8
}

// Frame is the gsm_mncc control message shape (§3, §4.2): used for every
// message except the RTP endpoint exchange and the initial hello.
type Frame struct {
	MsgType MsgType
	Callref uint32
	Fields  uint32
	Calling Address
	Called  Address
	Imsi    string
	Keypad  byte
	Progress Progress
}

const frameLen = 1 /*kind*/ + 4 /*msgtype*/ + 4 /*callref*/ + 4 /*fields*/ + addressLen*2 + imsiMaxLen + 1 /*keypad*/ + 3 /*progress*/

func marshalImsi(buf []byte, imsi string) {
	if len(imsi) > imsiMaxLen {
		imsi = imsi[:imsiMaxLen]
	}
	copy(buf[:imsiMaxLen], imsi)
}

func unmarshalImsi(buf []byte) string {
	n := 0
	for n < imsiMaxLen && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

// Marshal encodes f as a control frame datagram.
func (f *Frame) Marshal() []byte {
	buf := make([]byte, frameLen)
	off := 0
	buf[off] = kindMNCC
	off++
	binary.BigEndian.PutUint32(buf[off:], uint32(f.MsgType))
	off += 4
	binary.BigEndian.PutUint32(buf[off:], f.Callref)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], f.Fields)
	off += 4
	f.Calling.marshal(buf[off:])
	off += addressLen
	f.Called.marshal(buf[off:])
	off += addressLen
	marshalImsi(buf[off:], f.Imsi)
	off += imsiMaxLen
	buf[off] = f.Keypad
	off++
	buf[off] = f.Progress.Coding
	buf[off+1] = f.Progress.Location
	buf[off+2] = f.Progress.Descr
	return buf
}

// unmarshalFrame decodes a control frame datagram, assuming buf[0] has
// already been checked to be kindMNCC.
func unmarshalFrame(buf []byte) (*Frame, error) {
	if len(buf) != frameLen {
		return nil, &FrameError{Reason: fmt.Sprintf("control frame of wrong size %d vs %d", len(buf), frameLen)}
	}
	f := &Frame{}
	off := 1
	f.MsgType = MsgType(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	f.Callref = binary.BigEndian.Uint32(buf[off:])
	off += 4
	f.Fields = binary.BigEndian.Uint32(buf[off:])
	off += 4
	f.Calling.unmarshal(buf[off:])
	off += addressLen
	f.Called.unmarshal(buf[off:])
	off += addressLen
	f.Imsi = unmarshalImsi(buf[off:])
	off += imsiMaxLen
	f.Keypad = buf[off]
	off++
	f.Progress = Progress{Coding: buf[off], Location: buf[off+1], Descr: buf[off+2]}
	return f, nil
}

// RTPFrame is the gsm_mncc_rtp shape (§3, §4.2): the RTP endpoint
// exchange (RTP_CREATE/RTP_CONNECT).
type RTPFrame struct {
	MsgType        MsgType
	Callref        uint32
	IP             uint32
	Port           uint16
	PayloadType    uint8
	PayloadMsgType uint8
}

const rtpFrameLen = 1 + 4 + 4 + 4 + 2 + 1 + 1

// Marshal encodes an RTP endpoint exchange frame.
func (r *RTPFrame) Marshal() []byte {
	buf := make([]byte, rtpFrameLen)
	off := 0
	buf[off] = kindRTP
	off++
	binary.BigEndian.PutUint32(buf[off:], uint32(r.MsgType))
	off += 4
	binary.BigEndian.PutUint32(buf[off:], r.Callref)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], r.IP)
	off += 4
	binary.BigEndian.PutUint16(buf[off:], r.Port)
	off += 2
	buf[off] = r.PayloadType
	off++
	buf[off] = r.PayloadMsgType
	return buf
}

func unmarshalRTPFrame(buf []byte) (*RTPFrame, error) {
	if len(buf) != rtpFrameLen {
		return nil, &FrameError{Reason: fmt.Sprintf("rtp frame of wrong size %d vs %d", len(buf), rtpFrameLen)}
	}
	r := &RTPFrame{}
	off := 1
	r.MsgType = MsgType(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	r.Callref = binary.BigEndian.Uint32(buf[off:])
	off += 4
	r.IP = binary.BigEndian.Uint32(buf[off:])
	off += 4
	r.Port = binary.BigEndian.Uint16(buf[off:])
	off += 2
	r.PayloadType = buf[off]
	off++
	r.PayloadMsgType = buf[off]
	return r, nil
}

// HelloFrame is the connection handshake message (§4.1).
type HelloFrame struct {
	Version uint32
}

const helloFrameLen = 1 + 4

// Marshal encodes the hello frame.
func (h *HelloFrame) Marshal() []byte {
	buf := make([]byte, helloFrameLen)
	buf[0] = kindHello
	binary.BigEndian.PutUint32(buf[1:], h.Version)
	return buf
}

func unmarshalHello(buf []byte) (*HelloFrame, error) {
	if len(buf) != helloFrameLen {
		return nil, &FrameError{Reason: fmt.Sprintf("hello frame of wrong size %d vs %d", len(buf), helloFrameLen)}
	}
	return &HelloFrame{Version: binary.BigEndian.Uint32(buf[1:])}, nil
}

// Decode inspects the leading kind byte and parses buf into whichever of
// Frame, RTPFrame, or HelloFrame it represents.
func Decode(buf []byte) (any, error) {
	if len(buf) == 0 {
		return nil, &FrameError{Reason: "empty datagram"}
	}
	switch buf[0] {
	case kindHello:
		return unmarshalHello(buf)
	case kindMNCC:
		return unmarshalFrame(buf)
	case kindRTP:
		return unmarshalRTPFrame(buf)
	default:
		return nil, &FrameError{Reason: fmt.Sprintf("unknown frame kind %d", buf[0])}
	}
}
