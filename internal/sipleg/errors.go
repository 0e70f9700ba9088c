package sipleg

import "errors"

// ErrDialTimeout names the case where no final response arrives before
// the dial timeout expires (§4.7). executeInvite handles that case by
// logging it and releasing the leg, without returning this error.
var ErrDialTimeout = errors.New("sipleg: dial timed out")

// ErrNoAnswerBody is returned when a 2xx response carries no SDP body.
var ErrNoAnswerBody = errors.New("sipleg: 2xx response had no body")
