// Package switches turns a switch name and a desired state into the actions
// that realize it on the switch's hardware.
package switches

import (
	"context"
	"fmt"

	"caltimer/internal/actuator"
	appLog "caltimer/internal/log"
)

// RadioTransmit sends one 433 MHz code.
type RadioTransmit struct {
	Switch      string
	On          bool
	Code        string
	Protocol    int
	PulseLength int

	tx actuator.Transmitter
}

func (a *RadioTransmit) Execute(ctx context.Context) error {
	return a.tx.Transmit(ctx, a.Code, a.Protocol, a.PulseLength)
}

func (a *RadioTransmit) String() string {
	return fmt.Sprintf("%s %s (rc code %s)", a.Switch, onOff(a.On), a.Code)
}

// PinSet drives a GPIO pin high or low. A pulse is two PinSets.
type PinSet struct {
	Switch string
	On     bool
	Pin    int
	High   bool

	pins actuator.Pins
}

func (a *PinSet) Execute(ctx context.Context) error {
	return a.pins.Write(ctx, a.Pin, a.High)
}

func (a *PinSet) String() string {
	level := "low"
	if a.High {
		level = "high"
	}
	return fmt.Sprintf("%s %s (GPIO%d %s)", a.Switch, onOff(a.On), a.Pin, level)
}

// LogOnly has no physical effect.
type LogOnly struct {
	Switch string
	On     bool
}

func (a *LogOnly) Execute(ctx context.Context) error {
	appLog.Ctx(ctx).Info("dummy switch", "switch", a.Switch, "state", onOff(a.On))
	return nil
}

func (a *LogOnly) String() string {
	return fmt.Sprintf("%s %s (dummy)", a.Switch, onOff(a.On))
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
