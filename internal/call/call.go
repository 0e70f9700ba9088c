package call

// Call is a single bridged call: exactly one initial leg (always present;
// the MNCC side for every call created from SETUP_IND) and at most one
// remote leg (absent until attached: the outbound SIP leg the bridging
// policy creates, or an MT leg from mncc.Connection.CreateMTLeg) (§3).
type Call struct {
	ID     uint32
	Source string
	Dest   string

	initial Leg
	remote  Leg

	initialDestroyed bool
	remoteDestroyed  bool
	onDestroyed      func(*Call)
}

// NewCall allocates a call around its initial leg. The remote leg is
// attached later via SetRemote once the bridging policy creates it.
func NewCall(id uint32, source, dest string, initial Leg) *Call {
	return &Call{
		ID:      id,
		Source:  source,
		Dest:    dest,
		initial: initial,
	}
}

// Initial returns the call's initial (MNCC) leg.
func (c *Call) Initial() Leg {
	return c.initial
}

// Remote returns the call's remote leg, or nil if none has been
// created yet.
func (c *Call) Remote() Leg {
	return c.remote
}

// SetRemote attaches the remote leg. Called once: by the bridging policy
// when it originates the outbound SIP leg for this call, or by
// mncc.Connection.CreateMTLeg when it attaches a mobile-terminated leg.
func (c *Call) SetRemote(leg Leg) {
	c.remote = leg
}

// OtherLeg returns the leg paired with the given one. A leg never holds a
// direct reference to its peer; it always asks the call (§9), so that a
// leg replaced mid-call (there is none in this bridge, but the rule holds
// generally) is picked up by every caller without a stale pointer.
func (c *Call) OtherLeg(leg Leg) Leg {
	switch leg {
	case c.initial:
		return c.remote
	case c.remote:
		return c.initial
	default:
		return nil
	}
}

// Legs returns both legs currently attached to the call, omitting a nil
// remote.
func (c *Call) Legs() []Leg {
	if c.remote == nil {
		return []Leg{c.initial}
	}
	return []Leg{c.initial, c.remote}
}

// OnDestroyed registers the callback fired once every leg the call has
// (initial always, remote only if it was ever attached) has reported
// itself destroyed via LegDestroyed. The registry uses this to drop the
// call once its lifecycle (§3: "destroyed only after both legs have
// released") completes.
func (c *Call) OnDestroyed(fn func(*Call)) {
	c.onDestroyed = fn
}

// LegDestroyed records that leg has torn itself down. Call.Destroy is
// implicit: once every leg the call ever had has reported in, the
// registered OnDestroyed callback fires exactly once.
func (c *Call) LegDestroyed(leg Leg) {
	switch leg {
	case c.initial:
		c.initialDestroyed = true
	case c.remote:
		c.remoteDestroyed = true
	default:
		return
	}
	if !c.initialDestroyed {
		return
	}
	if c.remote != nil && !c.remoteDestroyed {
		return
	}
	if c.onDestroyed != nil {
		fn := c.onDestroyed
		c.onDestroyed = nil
		fn(c)
	}
}
