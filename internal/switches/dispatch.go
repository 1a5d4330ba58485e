package switches

import (
	"context"
	"fmt"
	"time"

	"caltimer/internal/actuator"
	"caltimer/internal/config"
	appLog "caltimer/internal/log"
	"caltimer/internal/scheduler"
)

// Registry resolves switch names to their configuration.
// *config.Config satisfies it.
type Registry interface {
	Switch(name string) (config.SwitchConfig, error)
}

// Scheduled is an action paired with its fire time.
type Scheduled struct {
	At     time.Time
	Action scheduler.Action
}

// Dispatcher maps switch types to actions.
type Dispatcher struct {
	registry Registry
	radio    actuator.Transmitter
	pins     actuator.Pins
	maxPulse time.Duration
}

// NewDispatcher returns a Dispatcher. A maxPulse of zero disables the pulse
// cap.
func NewDispatcher(registry Registry, radio actuator.Transmitter, pins actuator.Pins, maxPulse time.Duration) *Dispatcher {
	return &Dispatcher{registry: registry, radio: radio, pins: pins, maxPulse: maxPulse}
}

// Dispatch returns the actions that switch name on or off at at. Any
// returned error is a *config.ConfigError and means nothing should be
// scheduled for this side of the event.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, on bool, at time.Time) ([]Scheduled, error) {
	sw, err := d.registry.Switch(name)
	if err != nil {
		return nil, err
	}
	if err := sw.Validate(); err != nil {
		return nil, &config.ConfigError{Switch: name, Err: err}
	}

	lg := appLog.Ctx(ctx)
	switch sw.Type {
	case config.TypeRC:
		return []Scheduled{{At: at, Action: &RadioTransmit{
			Switch:      name,
			On:          on,
			Code:        sw.Code(on),
			Protocol:    sw.Protocol,
			PulseLength: sw.PulseLength,
			tx:          d.radio,
		}}}, nil

	case config.TypeGPIO:
		pin := *sw.Pin
		if err := d.pins.Setup(pin); err != nil {
			lg.Warn("gpio setup failed, scheduling anyway", "switch", name, "pin", pin, "error", err)
		}
		return []Scheduled{{At: at, Action: &PinSet{Switch: name, On: on, Pin: pin, High: on, pins: d.pins}}}, nil

	case config.TypePulse:
		pin := *sw.Pin
		if err := d.pins.Setup(pin); err != nil {
			lg.Warn("gpio setup failed, scheduling anyway", "switch", name, "pin", pin, "error", err)
		}
		dur := sw.PulseDuration(on)
		if d.maxPulse > 0 && dur > d.maxPulse {
			lg.Warn("pulse longer than max_pulse, clamping", "switch", name, "pulse", dur, "max_pulse", d.maxPulse)
			dur = d.maxPulse
		}
		return []Scheduled{
			{At: at, Action: &PinSet{Switch: name, On: on, Pin: pin, High: true, pins: d.pins}},
			{At: at.Add(dur), Action: &PinSet{Switch: name, On: on, Pin: pin, High: false, pins: d.pins}},
		}, nil

	case config.TypeDummy:
		return []Scheduled{{At: at, Action: &LogOnly{Switch: name, On: on}}}, nil
	}

	return nil, &config.ConfigError{Switch: name, Err: fmt.Errorf("%w %q", config.ErrUnknownType, sw.Type)}
}
