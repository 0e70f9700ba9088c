package call

import "sync/atomic"

// MediaEndpoint is the RTP quadruple exchanged between legs (§3, §6): the
// address a leg's party can be reached at for RTP. IP is big-endian
// (network byte order), matching the MNCC wire frames' IP field.
type MediaEndpoint struct {
	IP             uint32
	Port           uint16
	PayloadType    uint8
	PayloadMsgType uint8
}

// IsZero reports that no endpoint has been learned yet, or that the far
// end reported an all-zero endpoint (§4.2's RTP_CONNECT failure signal).
func (e MediaEndpoint) IsZero() bool {
	return e.IP == 0 && e.Port == 0 && e.PayloadType == 0
}

// Capabilities is the capability set every leg exposes to its peer (§3):
// the three operations the bridging policy and the adapters drive on the
// *other* leg when something happens on this one.
type Capabilities interface {
	ConnectCall()
	RingCall()
	ReleaseCall()
}

// DTMFSender is the optional fourth capability (§3). Legs that cannot
// carry DTMF simply do not implement it; dispatch sites use a type
// assertion rather than emulating an interface hierarchy (§9).
type DTMFSender interface {
	SendDTMF(key byte)
}

// Leg is the polymorphic call leg (§3, §9). MnccLeg and SipLeg are the two
// variants; dispatch sites type-switch on the concrete type rather than
// relying on virtual dispatch beyond Capabilities.
type Leg interface {
	Capabilities

	// Call returns the owning call.
	Call() *Call

	// InRelease reports whether a local release has already been issued
	// for this leg and a confirmation is pending (§3).
	InRelease() bool

	// SetInRelease transitions the leg into the releasing state. Returns
	// false if the leg was already in_release, so callers never fire a
	// second local release command against it (§3 invariant).
	SetInRelease() bool

	// Endpoint returns the RTP quadruple this leg currently exposes.
	Endpoint() MediaEndpoint

	// SetEndpoint records this leg's own media endpoint, or the peer's
	// endpoint once forwarded to it (§3).
	SetEndpoint(MediaEndpoint)

	// Destroy releases any adapter-side resources. Idempotent.
	Destroy()
}

// ReleaseLatch is an atomic one-shot latch shared by both leg variants so
// the "no second local release" invariant (§3) is enforced the same way
// in both adapters. Embed it and delegate InRelease/SetInRelease to it.
type ReleaseLatch struct {
	flag atomic.Bool
}

// InRelease reports whether SetInRelease has already succeeded once.
func (r *ReleaseLatch) InRelease() bool {
	return r.flag.Load()
}

// SetInRelease latches the flag. Returns false if it was already set.
func (r *ReleaseLatch) SetInRelease() bool {
	return r.flag.CompareAndSwap(false, true)
}
