package mncc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/looplab/fsm"

	"github.com/anttila/ccbridge/internal/call"
	"github.com/anttila/ccbridge/internal/eventloop"
)

// Connection states (§3, §4.1).
const (
	connDisconnected = "disconnected"
	connWaitVersion  = "wait_version"
	connReady        = "ready"
)

// reconnectDelay is the fixed backoff after a lost connection (§4.1).
const reconnectDelay = 5 * time.Second

// Connection is the MNCC control socket (§3, §4.1). All state is only
// ever touched from the event loop goroutine; readLoop runs on its own
// goroutine purely to absorb the blocking socket Read and immediately
// Posts the decoded frame back.
type Connection struct {
	loop         *eventloop.Loop
	registry     *call.Registry
	socketPath   string
	useIMSI      bool
	onDisconnect func()
	onRoute      func(c *call.Call, source, dest string)

	sm   *fsm.FSM
	conn net.Conn

	legs    map[uint32]*Leg
	nextRef uint32

	reconnectTimer *time.Timer
}

// NewConnection builds an MNCC connection bound to socketPath. Dial is
// not attempted until Start is called.
func NewConnection(loop *eventloop.Loop, registry *call.Registry, socketPath string, useIMSI bool) *Connection {
	c := &Connection{
		loop:       loop,
		registry:   registry,
		socketPath: socketPath,
		useIMSI:    useIMSI,
		legs:       make(map[uint32]*Leg),
	}
	c.sm = fsm.NewFSM(
		connDisconnected,
		fsm.Events{
			{Name: "dial", Src: []string{connDisconnected}, Dst: connWaitVersion},
			{Name: "hello_ack", Src: []string{connWaitVersion}, Dst: connReady},
			{Name: "lost", Src: []string{connWaitVersion, connReady}, Dst: connDisconnected},
		},
		fsm.Callbacks{
			"enter_" + connDisconnected: func(ctx context.Context, e *fsm.Event) { c.onEnterDisconnected() },
			"enter_" + connReady:        func(ctx context.Context, e *fsm.Event) { c.onEnterReady() },
		},
	)
	return c
}

// State returns the current connection state name.
func (c *Connection) State() string {
	return c.sm.Current()
}

// OnDisconnect registers the callback fired every time the connection
// drops (§4.1: used by the bridging policy to release every call with an
// MNCC leg).
func (c *Connection) OnDisconnect(fn func()) {
	c.onDisconnect = fn
}

// SetRouteHandler registers the bridging policy's callback for routing a
// freshly set-up MO call onward (§4.3: invoked once the MNCC leg's RTP
// endpoint is known and MNCC_CALL_PROC_REQ has been sent).
func (c *Connection) SetRouteHandler(fn func(c *call.Call, source, dest string)) {
	c.onRoute = fn
}

// Start begins the dial/reconnect loop. Call it once. It touches no
// connection state itself (the dial result is posted onto the event
// loop), so it may be called from any goroutine.
func (c *Connection) Start() {
	c.dial()
}

func (c *Connection) dial() {
	go func() {
		conn, err := net.Dial("unixpacket", c.socketPath)
		c.loop.Post(func() {
			if err != nil {
				slog.Warn("mncc: dial failed, retrying", "socket", c.socketPath, "err", err, "delay", reconnectDelay)
				c.scheduleReconnect()
				return
			}
			c.conn = conn
			if err := c.sm.Event(context.Background(), "dial"); err != nil {
				slog.Error("mncc: unexpected dial event rejected", "err", err)
			}
			go c.readLoop(conn)
		})
	}()
}

func (c *Connection) scheduleReconnect() {
	c.reconnectTimer = time.AfterFunc(reconnectDelay, func() {
		c.loop.Post(c.dial)
	})
}

func (c *Connection) readLoop(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			c.loop.Post(func() { c.onSocketLost(err) })
			return
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		c.loop.Post(func() { c.onDatagram(frame) })
	}
}

func (c *Connection) onSocketLost(err error) {
	if c.sm.Current() == connDisconnected {
		return
	}
	slog.Warn("mncc: connection lost", "err", err)
	if evErr := c.sm.Event(context.Background(), "lost"); evErr != nil {
		slog.Error("mncc: unexpected lost event rejected", "err", evErr)
	}
}

func (c *Connection) onEnterDisconnected() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	for ref, leg := range c.legs {
		leg.onConnectionLost()
		delete(c.legs, ref)
	}
	if c.onDisconnect != nil {
		c.onDisconnect()
	}
	c.scheduleReconnect()
}

func (c *Connection) onEnterReady() {
	slog.Info("mncc: connection ready")
}

func (c *Connection) onDatagram(buf []byte) {
	msg, err := Decode(buf)
	if err != nil {
		slog.Error("mncc: dropping malformed datagram", "err", err)
		c.onSocketLost(err)
		return
	}
	if c.sm.Current() == connWaitVersion {
		h, ok := msg.(*HelloFrame)
		if !ok {
			slog.Error("mncc: non-hello frame received before handshake, closing connection")
			c.onSocketLost(ErrConnectionNotReady)
			return
		}
		c.handleHello(h)
		return
	}
	switch v := msg.(type) {
	case *HelloFrame:
		c.handleHello(v)
	case *Frame:
		c.dispatch(v)
	case *RTPFrame:
		c.dispatchRTP(v)
	}
}

func (c *Connection) handleHello(h *HelloFrame) {
	if h.Version != SockVersion {
		slog.Error("mncc: version mismatch, closing connection", "got", h.Version, "want", SockVersion)
		c.onSocketLost(ErrConnectionNotReady)
		return
	}
	if err := c.sm.Event(context.Background(), "hello_ack"); err != nil {
		slog.Error("mncc: unexpected hello_ack event rejected", "err", err)
	}
}

// send writes a pre-marshalled datagram. Only valid once the connection
// is ready; callers that can run before then (there are none in normal
// operation) get ErrConnectionNotReady. A write failure closes the
// connection (§5 partial-failure, grounded on mncc_write/mncc_rtp_send
// both calling close_connection on a short write).
func (c *Connection) send(buf []byte) error {
	if c.sm.Current() != connReady || c.conn == nil {
		return ErrConnectionNotReady
	}
	_, err := c.conn.Write(buf)
	if err != nil {
		slog.Error("mncc: write failed, closing connection", "err", err)
		c.onSocketLost(err)
	}
	return err
}

func (c *Connection) newCallref() uint32 {
	c.nextRef++
	return c.nextRef
}

// CreateMTLeg originates the MNCC side of a mobile-terminated call: an
// existing call already has its other leg (e.g. a freshly arrived SIP
// INVITE) and needs a matching GSM leg paged and set up (§4.4, grounded
// on mncc_create_remote_leg). It sends SETUP_REQ carrying the calling
// number and either the called number or the IMSI, depending on
// useIMSI, and attaches the new leg as the call's remote leg.
func (c *Connection) CreateMTLeg(owner *call.Call, source, dest string) (*Leg, error) {
	if c.sm.Current() != connReady {
		return nil, ErrConnectionNotReady
	}

	callref := c.newCallref()
	leg := newLeg(c, callref, DirMT)
	leg.owner = owner

	out := &Frame{
		MsgType: MsgSetupReq,
		Callref: callref,
		Fields:  FieldCalling,
		Calling: Address{Plan: addrPlanISDN, Number: source},
	}
	if c.useIMSI {
		out.Imsi = dest
	} else {
		out.Fields |= FieldCalled
		out.Called = Address{Plan: addrPlanISDN, Number: dest}
	}

	if err := c.send(out.Marshal()); err != nil {
		return nil, err
	}

	c.legs[callref] = leg
	owner.SetRemote(leg)
	return leg, nil
}
