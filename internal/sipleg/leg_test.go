package sipleg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anttila/ccbridge/internal/call"
)

// fakeLeg is a minimal call.Leg double for observing cascade calls.
type fakeLeg struct {
	call.ReleaseLatch
	owner     *call.Call
	endpoint  call.MediaEndpoint
	released  bool
	rang      bool
	connected bool
}

func (f *fakeLeg) Call() *call.Call                { return f.owner }
func (f *fakeLeg) Endpoint() call.MediaEndpoint     { return f.endpoint }
func (f *fakeLeg) SetEndpoint(e call.MediaEndpoint) { f.endpoint = e }
func (f *fakeLeg) Destroy()                         {}
func (f *fakeLeg) ConnectCall()                     { f.connected = true }
func (f *fakeLeg) RingCall()                        { f.rang = true }
func (f *fakeLeg) ReleaseCall()                     { f.released = true }

func newTestAgent() *Agent {
	return &Agent{legs: make(map[string]*Leg)}
}

func TestConnectCallAndRingCallAreNoOps(t *testing.T) {
	agent := newTestAgent()
	l := newLeg(agent, "call-1", "GSM")
	assert.NotPanics(t, func() {
		l.ConnectCall()
		l.RingCall()
	})
}

func TestReleaseCallInInitialStateDestroysWithoutNetwork(t *testing.T) {
	agent := newTestAgent()
	l := newLeg(agent, "call-1", "GSM")
	agent.legs["call-1"] = l

	l.ReleaseCall()

	assert.True(t, l.InRelease())
	assert.NotContains(t, agent.legs, "call-1")
}

func TestReleaseCallIsOneShot(t *testing.T) {
	agent := newTestAgent()
	l := newLeg(agent, "call-1", "GSM")
	agent.legs["call-1"] = l

	l.ReleaseCall()
	l.ReleaseCall()

	assert.True(t, l.InRelease())
}

func TestOnRingingAdvancesStateAndRingsOtherLeg(t *testing.T) {
	agent := newTestAgent()
	l := newLeg(agent, "call-1", "GSM")
	other := &fakeLeg{}
	owner := call.NewCall(1, "s", "d", other)
	owner.SetRemote(l)
	l.owner = owner

	l.onRinging()

	assert.Equal(t, sipDlgConfirmed, l.State())
	assert.True(t, other.rang)
}

func TestOnAnsweredParsesSDPAndConnectsOtherLeg(t *testing.T) {
	agent := newTestAgent()
	l := newLeg(agent, "call-1", "GSM")
	other := &fakeLeg{}
	owner := call.NewCall(1, "s", "d", other)
	owner.SetRemote(l)
	l.owner = owner

	body, err := BuildOffer("192.168.1.10", 20000, 3, "GSM")
	require.NoError(t, err)

	err = l.onAnswered(body)

	require.NoError(t, err)
	assert.Equal(t, sipConnected, l.State())
	assert.True(t, other.connected)
	assert.False(t, l.Endpoint().IsZero())
}

func TestOnAnsweredRejectsIncompatibleCodec(t *testing.T) {
	agent := newTestAgent()
	l := newLeg(agent, "call-1", "AMR")
	owner := call.NewCall(1, "s", "d", &fakeLeg{})
	l.owner = owner

	body, err := BuildOffer("192.168.1.10", 20000, 3, "GSM")
	require.NoError(t, err)

	err = l.onAnswered(body)

	assert.Error(t, err)
}

func TestOnAnsweredRejectsEmptyBody(t *testing.T) {
	agent := newTestAgent()
	l := newLeg(agent, "call-1", "GSM")
	l.owner = call.NewCall(1, "s", "d", &fakeLeg{})

	err := l.onAnswered(nil)

	assert.ErrorIs(t, err, ErrNoAnswerBody)
}

func TestOnFailedOrByeReleasesOtherLegAndDestroys(t *testing.T) {
	agent := newTestAgent()
	l := newLeg(agent, "call-1", "GSM")
	agent.legs["call-1"] = l
	other := &fakeLeg{}
	owner := call.NewCall(1, "s", "d", other)
	owner.SetRemote(l)
	l.owner = owner

	l.onFailedOrBye()

	assert.True(t, other.released)
	assert.NotContains(t, agent.legs, "call-1")
}

func TestIPToUint32RoundTripsLoopback(t *testing.T) {
	assert.Equal(t, uint32(0x7f000001), ipToUint32("127.0.0.1"))
}

func TestIPToUint32RejectsGarbage(t *testing.T) {
	assert.Equal(t, uint32(0), ipToUint32("not-an-ip"))
}
