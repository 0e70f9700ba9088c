package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLeg is a minimal Leg for exercising Call/Registry without pulling in
// either adapter package.
type fakeLeg struct {
	ReleaseLatch
	call     *Call
	endpoint MediaEndpoint
	events   []string
}

func (f *fakeLeg) Call() *Call                { return f.call }
func (f *fakeLeg) Endpoint() MediaEndpoint     { return f.endpoint }
func (f *fakeLeg) SetEndpoint(e MediaEndpoint) { f.endpoint = e }
func (f *fakeLeg) Destroy()                    { f.events = append(f.events, "destroy") }
func (f *fakeLeg) ConnectCall()                { f.events = append(f.events, "connect") }
func (f *fakeLeg) RingCall()                   { f.events = append(f.events, "ring") }
func (f *fakeLeg) ReleaseCall()                { f.events = append(f.events, "release") }

func TestCallOtherReturnsPeer(t *testing.T) {
	initial := &fakeLeg{}
	remote := &fakeLeg{}
	c := NewCall(1, "1234", "5678", initial)
	initial.call = c
	remote.call = c

	assert.Nil(t, c.OtherLeg(initial), "no remote leg attached yet")

	c.SetRemote(remote)
	assert.Same(t, remote, c.OtherLeg(initial))
	assert.Same(t, initial, c.OtherLeg(remote))
}

func TestCallOtherUnknownLegReturnsNil(t *testing.T) {
	c := NewCall(1, "1234", "5678", &fakeLeg{})
	stranger := &fakeLeg{}
	assert.Nil(t, c.OtherLeg(stranger))
}

func TestCallLegsOmitsNilRemote(t *testing.T) {
	initial := &fakeLeg{}
	c := NewCall(1, "", "", initial)
	require.Len(t, c.Legs(), 1)

	remote := &fakeLeg{}
	c.SetRemote(remote)
	assert.Len(t, c.Legs(), 2)
}

func TestInReleaseIsOneShot(t *testing.T) {
	leg := &fakeLeg{}
	assert.False(t, leg.InRelease())
	assert.True(t, leg.SetInRelease(), "first release should succeed")
	assert.True(t, leg.InRelease())
	assert.False(t, leg.SetInRelease(), "second release must be rejected")
}

func TestMediaEndpointIsZero(t *testing.T) {
	assert.True(t, MediaEndpoint{}.IsZero())
	assert.False(t, MediaEndpoint{IP: 1}.IsZero())
	assert.False(t, MediaEndpoint{Port: 1}.IsZero())
	assert.False(t, MediaEndpoint{PayloadType: 1}.IsZero())
}
