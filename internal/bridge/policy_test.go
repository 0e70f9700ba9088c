package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anttila/ccbridge/internal/call"
)

// fakeLeg is a minimal call.Leg double used to observe release
// cascades without constructing a real mncc/sipleg leg.
type fakeLeg struct {
	call.ReleaseLatch
	owner    *call.Call
	endpoint call.MediaEndpoint
	released bool
}

func (f *fakeLeg) Call() *call.Call                { return f.owner }
func (f *fakeLeg) Endpoint() call.MediaEndpoint     { return f.endpoint }
func (f *fakeLeg) SetEndpoint(e call.MediaEndpoint) { f.endpoint = e }
func (f *fakeLeg) Destroy()                         {}
func (f *fakeLeg) ConnectCall()                     {}
func (f *fakeLeg) RingCall()                        {}
func (f *fakeLeg) ReleaseCall()                     { f.released = true }

func TestOnDisconnectSkipsCallsWithoutMNCCLeg(t *testing.T) {
	registry := call.NewRegistry()
	initial := &fakeLeg{}
	remote := &fakeLeg{}
	c := call.NewCall(registry.NextID(), "s", "d", initial)
	c.SetRemote(remote)
	initial.owner = c
	remote.owner = c
	registry.Add(c)

	p := NewPolicy(registry, nil)
	p.OnDisconnect()

	assert.False(t, initial.released)
	assert.False(t, remote.released)
}

func TestCodecNameMapsKnownPayloadTypes(t *testing.T) {
	assert.Equal(t, "GSM", codecName(1))
	assert.Equal(t, "GSM-EFR", codecName(2))
	assert.Equal(t, "AMR", codecName(3))
	assert.Equal(t, "GSM", codecName(99))
}

func TestRouteCallRejectsWhenEndpointUnknown(t *testing.T) {
	registry := call.NewRegistry()
	initial := &fakeLeg{}
	c := call.NewCall(registry.NextID(), "s", "d", initial)
	initial.owner = c
	registry.Add(c)

	p := NewPolicy(registry, nil)
	p.RouteCall(c, "s", "d")

	assert.True(t, initial.released, "call should be rejected when the initial leg has no endpoint yet")
}
