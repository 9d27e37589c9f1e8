package trafficlight

import "errors"

var (
	ErrAlreadyStarted = errors.New("traffic light is already simulating")
	ErrStopped        = errors.New("traffic light is stopped")
	ErrMailboxClosed  = errors.New("mailbox is closed")
)
