// Package actuator performs the physical side of a switch action: sending a
// 433 MHz code through an external sender program or driving a GPIO pin.
package actuator

import (
	"context"
	"fmt"
)

// Transmitter sends a radio code.
type Transmitter interface {
	Transmit(ctx context.Context, code string, protocol, pulseLength int) error
}

// Pins drives GPIO output pins by BCM number.
type Pins interface {
	// Setup prepares pin as an output without changing its level.
	Setup(pin int) error
	// Write drives pin high or low.
	Write(ctx context.Context, pin int, high bool) error
}

// Error is returned when an actuator could not perform an action.
type Error struct {
	Op     string // "transmit", "gpio setup", "gpio write"
	Target string // code or pin name
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("actuator: %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
