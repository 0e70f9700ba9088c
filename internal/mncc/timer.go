package mncc

import (
	"time"

	"github.com/anttila/ccbridge/internal/eventloop"
)

// cmdTimeout is the per-leg response deadline (§4.6).
const cmdTimeout = 5 * time.Second

// cmdTimer enforces the single-outstanding-response-per-leg discipline
// (§4.6, grounded on the original's start_cmd_timer/stop_cmd_timer/
// cmd_timeout): at most one expected confirmation is armed per leg at a
// time, and arming a new one implicitly cancels whatever was pending.
type cmdTimer struct {
	loop    *eventloop.Loop
	timer   *time.Timer
	pending MsgType
	armed   bool
}

func newCmdTimer(loop *eventloop.Loop) *cmdTimer {
	return &cmdTimer{loop: loop}
}

// Start arms the timer to fire onTimeout if `expect` has not arrived
// within cmdTimeout. Replaces any timer already running.
func (t *cmdTimer) Start(expect MsgType, onTimeout func()) {
	t.stopLocked()
	t.pending = expect
	t.armed = true
	t.timer = time.AfterFunc(cmdTimeout, func() {
		t.loop.Post(onTimeout)
	})
}

// Stop cancels the timer if it is currently armed and waiting on exactly
// msgType. A response for some other message type leaves the real
// pending timer running, matching the original's behaviour of ignoring
// stop_cmd_timer calls for a type that isn't what was started.
func (t *cmdTimer) Stop(msgType MsgType) bool {
	if !t.armed || t.pending != msgType {
		return false
	}
	t.stopLocked()
	return true
}

// StopAny cancels whatever timer is armed, regardless of expected type.
// Used when a leg is released and any outstanding expectation becomes
// moot.
func (t *cmdTimer) StopAny() {
	t.stopLocked()
}

func (t *cmdTimer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.armed = false
}
