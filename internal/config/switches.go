package config

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// SwitchType is the hardware kind behind a switch name.
type SwitchType string

const (
	TypeRC    SwitchType = "rc"    // 433 MHz socket, driven by an external sender
	TypeGPIO  SwitchType = "gpio"  // pin held high (on) or low (off)
	TypePulse SwitchType = "pulse" // pin pulsed high for On/Off seconds
	TypeDummy SwitchType = "dummy" // log only
)

var (
	ErrSwitchNotFound = errors.New("switch not declared")
	ErrUnknownType    = errors.New("unknown switch type")
	ErrInvalidSwitch  = errors.New("invalid switch definition")
)

// ConfigError reports a switch that cannot be dispatched.
type ConfigError struct {
	Switch string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("switch %q: %v", e.Switch, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// SwitchConfig is one entry of the switch registry. Which fields apply
// depends on Type.
type SwitchConfig struct {
	Type SwitchType `yaml:"type" json:"type"`

	// rc
	OnCode      string `yaml:"on_code,omitempty" json:"on_code,omitempty"`
	OffCode     string `yaml:"off_code,omitempty" json:"off_code,omitempty"`
	Protocol    int    `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	PulseLength int    `yaml:"pulse_length,omitempty" json:"pulse_length,omitempty"`

	// gpio, pulse: BCM pin number
	Pin *int `yaml:"pin,omitempty" json:"pin,omitempty"`

	// pulse: high time in seconds when switching on / off
	On  float64 `yaml:"on,omitempty" json:"on,omitempty"`
	Off float64 `yaml:"off,omitempty" json:"off,omitempty"`
}

// Validate checks the fields required by Type.
func (s SwitchConfig) Validate() error {
	switch s.Type {
	case TypeRC:
		if s.OnCode == "" || s.OffCode == "" {
			return fmt.Errorf("%w: rc needs on_code and off_code", ErrInvalidSwitch)
		}
	case TypeGPIO:
		if s.Pin == nil || *s.Pin < 0 {
			return fmt.Errorf("%w: gpio needs a pin", ErrInvalidSwitch)
		}
	case TypePulse:
		if s.Pin == nil || *s.Pin < 0 {
			return fmt.Errorf("%w: pulse needs a pin", ErrInvalidSwitch)
		}
		if s.On <= 0 || s.Off <= 0 {
			return fmt.Errorf("%w: pulse needs positive on and off durations", ErrInvalidSwitch)
		}
	case TypeDummy:
	default:
		return fmt.Errorf("%w %q", ErrUnknownType, s.Type)
	}
	return nil
}

// Code returns the rc code for the requested state.
func (s SwitchConfig) Code(on bool) string {
	if on {
		return s.OnCode
	}
	return s.OffCode
}

// PulseDuration returns the configured pulse length for the requested
// state, without applying the global cap.
func (s SwitchConfig) PulseDuration(on bool) time.Duration {
	if on {
		return seconds(s.On)
	}
	return seconds(s.Off)
}

// Switch looks name up in the registry.
func (c *Config) Switch(name string) (SwitchConfig, error) {
	sw, ok := c.Switches[name]
	if !ok {
		return SwitchConfig{}, &ConfigError{Switch: name, Err: ErrSwitchNotFound}
	}
	return sw, nil
}

// SwitchNames returns the registry keys in sorted order.
func (c *Config) SwitchNames() []string {
	names := make([]string, 0, len(c.Switches))
	for name := range c.Switches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateSwitches returns one *ConfigError per broken registry entry, in
// name order.
func (c *Config) ValidateSwitches() []error {
	var errs []error
	for _, name := range c.SwitchNames() {
		if err := c.Switches[name].Validate(); err != nil {
			errs = append(errs, &ConfigError{Switch: name, Err: err})
		}
	}
	return errs
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
