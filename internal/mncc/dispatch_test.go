package mncc

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anttila/ccbridge/internal/call"
)

// readOneDatagram reads exactly one write-sized datagram from conn. Since
// net.Pipe synchronizes a Write against a matching Read, a buffer larger
// than any frame we emit captures exactly one logical message.
func readOneDatagram(t *testing.T, conn net.Conn) any {
	t.Helper()
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	msg, err := Decode(buf[:n])
	require.NoError(t, err)
	return msg
}

func TestHandleSetupIndRejectsMissingCalled(t *testing.T) {
	c, remote := newTestConnection(t)
	defer remote.Close()

	done := make(chan any, 1)
	go func() { done <- readOneDatagram(t, remote) }()

	c.handleSetupInd(&Frame{MsgType: MsgSetupInd, Callref: 1, Fields: FieldCalling})

	got := (<-done).(*Frame)
	assert.Equal(t, MsgRejReq, got.MsgType)
	assert.Empty(t, c.legs)
}

func TestHandleSetupIndRejectsNonISDNPlan(t *testing.T) {
	c, remote := newTestConnection(t)
	defer remote.Close()

	done := make(chan any, 1)
	go func() { done <- readOneDatagram(t, remote) }()

	c.handleSetupInd(&Frame{
		MsgType: MsgSetupInd,
		Callref: 1,
		Fields:  FieldCalled | FieldCalling,
		Called:  Address{Plan: 7, Number: "123"},
		Calling: Address{Number: "456"},
	})

	got := (<-done).(*Frame)
	assert.Equal(t, MsgRejReq, got.MsgType)
}

func TestHandleSetupIndCreatesLegAndSendsRTPCreate(t *testing.T) {
	c, remote := newTestConnection(t)
	defer remote.Close()

	done := make(chan any, 1)
	go func() { done <- readOneDatagram(t, remote) }()

	c.handleSetupInd(&Frame{
		MsgType: MsgSetupInd,
		Callref: 9,
		Fields:  FieldCalled | FieldCalling,
		Called:  Address{Plan: addrPlanISDN, Type: addrTypeInternational, Number: "491234"},
		Calling: Address{Plan: addrPlanISDN, Number: "491111"},
	})

	got := (<-done).(*RTPFrame)
	assert.Equal(t, MsgRTPCreate, got.MsgType)
	assert.Equal(t, uint32(9), got.Callref)

	require.Contains(t, c.legs, uint32(9))
	leg := c.legs[9]
	assert.Equal(t, legInitial, leg.State())
	assert.Equal(t, "+491234", leg.owner.Dest)
	assert.Equal(t, "491111", leg.owner.Source)
}

func TestHandleRTPCreateAdvancesLegAndRoutes(t *testing.T) {
	c, remote := newTestConnection(t)
	defer remote.Close()

	leg := newLeg(c, 3, DirMO)
	owner := call.NewCall(c.registry.NextID(), "src", "dst", leg)
	leg.owner = owner
	c.registry.Add(owner)
	c.legs[3] = leg

	var routedCall *call.Call
	var routedSource, routedDest string
	c.SetRouteHandler(func(cc *call.Call, source, dest string) {
		routedCall, routedSource, routedDest = cc, source, dest
	})

	done := make(chan any, 1)
	go func() { done <- readOneDatagram(t, remote) }()

	c.handleRTPCreate(&RTPFrame{MsgType: MsgRTPCreate, Callref: 3, IP: 0x7f000001, Port: 5000, PayloadType: 8})

	got := (<-done).(*Frame)
	assert.Equal(t, MsgCallProcReq, got.MsgType)
	assert.Equal(t, legProceeding, leg.State())
	assert.Same(t, owner, routedCall)
	assert.Equal(t, "src", routedSource)
	assert.Equal(t, "dst", routedDest)
	assert.False(t, leg.Endpoint().IsZero())
}

func TestHandleDiscIndReleasesOtherLeg(t *testing.T) {
	c, remote := newTestConnection(t)
	defer remote.Close()

	leg := newLeg(c, 5, DirMO)
	other := &stubLeg{}
	owner := call.NewCall(c.registry.NextID(), "s", "d", leg)
	leg.owner = owner
	owner.SetRemote(other)
	c.registry.Add(owner)
	c.legs[5] = leg

	done := make(chan any, 1)
	go func() { done <- readOneDatagram(t, remote) }()

	c.handleDiscInd(&Frame{MsgType: MsgDiscInd, Callref: 5})

	got := (<-done).(*Frame)
	assert.Equal(t, MsgRelReq, got.MsgType)
	assert.True(t, leg.InRelease())
	assert.True(t, other.released)
}

// stubLeg is a minimal call.Leg used to observe cascade calls without
// pulling in the sipleg package.
type stubLeg struct {
	call.ReleaseLatch
	owner     *call.Call
	endpoint  call.MediaEndpoint
	released  bool
	rang      bool
	connected bool
}

func (s *stubLeg) Call() *call.Call                { return s.owner }
func (s *stubLeg) Endpoint() call.MediaEndpoint     { return s.endpoint }
func (s *stubLeg) SetEndpoint(e call.MediaEndpoint) { s.endpoint = e }
func (s *stubLeg) Destroy() {
	if s.owner != nil {
		s.owner.LegDestroyed(s)
	}
}
func (s *stubLeg) ConnectCall()                     { s.connected = true }
func (s *stubLeg) RingCall()                        { s.rang = true }
func (s *stubLeg) ReleaseCall()                     { s.released = true }

func TestHandleHoldIndAlwaysRejects(t *testing.T) {
	c, remote := newTestConnection(t)
	defer remote.Close()

	leg := newLeg(c, 2, DirMO)
	leg.owner = call.NewCall(c.registry.NextID(), "s", "d", leg)
	c.legs[2] = leg

	done := make(chan any, 1)
	go func() { done <- readOneDatagram(t, remote) }()

	c.handleHoldInd(&Frame{MsgType: MsgHoldInd, Callref: 2})

	got := (<-done).(*Frame)
	assert.Equal(t, MsgHoldRej, got.MsgType)
}

func TestHandleDTMFStartEchoesKeypad(t *testing.T) {
	c, remote := newTestConnection(t)
	defer remote.Close()

	leg := newLeg(c, 4, DirMO)
	leg.owner = call.NewCall(c.registry.NextID(), "s", "d", leg)
	c.legs[4] = leg

	done := make(chan any, 1)
	go func() { done <- readOneDatagram(t, remote) }()

	c.handleDTMFStart(&Frame{MsgType: MsgStartDtmfInd, Callref: 4, Fields: FieldKeypad, Keypad: '7'})

	got := (<-done).(*Frame)
	assert.Equal(t, MsgStartDtmfRsp, got.MsgType)
	assert.Equal(t, byte('7'), got.Keypad)
}

func TestSetupIndThenFullReleaseRemovesCallFromRegistry(t *testing.T) {
	c, remote := newTestConnection(t)
	defer remote.Close()

	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := remote.Read(buf); err != nil {
				return
			}
		}
	}()

	c.handleSetupInd(&Frame{
		MsgType: MsgSetupInd,
		Callref: 11,
		Fields:  FieldCalled | FieldCalling,
		Called:  Address{Plan: addrPlanISDN, Number: "101"},
		Calling: Address{Plan: addrPlanISDN, Number: "200"},
	})

	leg := c.legs[11]
	require.NotNil(t, leg)
	owner := leg.owner
	require.Same(t, owner, c.registry.Find(owner.ID))

	other := &stubLeg{owner: owner}
	owner.SetRemote(other)

	leg.Destroy()
	assert.Same(t, owner, c.registry.Find(owner.ID), "call stays until both legs are destroyed")

	other.Destroy()
	assert.Nil(t, c.registry.Find(owner.ID), "call must be removed once every leg has destroyed")
}

func TestHandleCallConfIndStartsRTPCreate(t *testing.T) {
	c, remote := newTestConnection(t)
	defer remote.Close()

	leg := newLeg(c, 6, DirMT)
	leg.owner = call.NewCall(c.registry.NextID(), "s", "d", leg)
	c.legs[6] = leg

	done := make(chan any, 1)
	go func() { done <- readOneDatagram(t, remote) }()

	c.handleCallConfInd(&Frame{MsgType: MsgCallConfInd, Callref: 6})

	got := (<-done).(*RTPFrame)
	assert.Equal(t, MsgRTPCreate, got.MsgType)
	assert.Equal(t, uint32(6), got.Callref)
}

func TestHandleAlertIndRingsOtherLeg(t *testing.T) {
	c, remote := newTestConnection(t)
	defer remote.Close()

	leg := newLeg(c, 7, DirMT)
	other := &stubLeg{}
	owner := call.NewCall(c.registry.NextID(), "s", "d", leg)
	leg.owner = owner
	owner.SetRemote(other)
	c.legs[7] = leg

	c.handleAlertInd(&Frame{MsgType: MsgAlertInd, Callref: 7})

	assert.True(t, other.rang)
}

func TestHandleAlertIndReleasesSelfWhenOtherLegGone(t *testing.T) {
	c, remote := newTestConnection(t)
	defer remote.Close()

	leg := newLeg(c, 8, DirMT)
	leg.owner = call.NewCall(c.registry.NextID(), "s", "d", leg)
	c.legs[8] = leg

	done := make(chan any, 1)
	go func() { done <- readOneDatagram(t, remote) }()

	c.handleAlertInd(&Frame{MsgType: MsgAlertInd, Callref: 8})

	got := (<-done).(*Frame)
	assert.Equal(t, MsgRelReq, got.MsgType)
}

func TestHandleSetupCnfConnectsRTPAndOtherLeg(t *testing.T) {
	c, remote := newTestConnection(t)
	defer remote.Close()

	leg := newLeg(c, 9, DirMT)
	other := &stubLeg{endpoint: call.MediaEndpoint{IP: 1, Port: 2, PayloadType: 8}}
	owner := call.NewCall(c.registry.NextID(), "s", "d", leg)
	leg.owner = owner
	owner.SetRemote(other)
	c.legs[9] = leg

	sawRTPConnect := make(chan *RTPFrame, 1)
	sawSetupCompl := make(chan *Frame, 1)
	go func() {
		sawRTPConnect <- readOneDatagram(t, remote).(*RTPFrame)
		sawSetupCompl <- readOneDatagram(t, remote).(*Frame)
	}()

	c.handleSetupCnf(&Frame{MsgType: MsgSetupCnf, Callref: 9})

	rtp := <-sawRTPConnect
	assert.Equal(t, MsgRTPConnect, rtp.MsgType)
	compl := <-sawSetupCompl
	assert.Equal(t, MsgSetupComplReq, compl.MsgType)
	assert.Equal(t, legConnected, leg.State())
	assert.True(t, other.connected)
}

func TestHandleRTPCreateMTForwardsPayloadTypeWithoutRouting(t *testing.T) {
	c, remote := newTestConnection(t)
	defer remote.Close()

	leg := newLeg(c, 10, DirMT)
	other := &stubLeg{}
	owner := call.NewCall(c.registry.NextID(), "s", "d", leg)
	leg.owner = owner
	owner.SetRemote(other)
	c.legs[10] = leg

	routed := false
	c.SetRouteHandler(func(cc *call.Call, source, dest string) { routed = true })

	c.handleRTPCreate(&RTPFrame{MsgType: MsgRTPCreate, Callref: 10, PayloadType: 3})

	assert.Equal(t, uint8(3), other.endpoint.PayloadType)
	assert.False(t, routed)
	assert.Equal(t, legInitial, leg.State(), "MT leg state is unchanged by RTP allocation")
}

func TestFindLegMissingReturnsNil(t *testing.T) {
	c, remote := newTestConnection(t)
	defer remote.Close()
	assert.Nil(t, c.findLeg(999))
}
