package actuator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIO drives pins through periph.io. Pins are named "GPIO<n>" (BCM
// numbering on a Raspberry Pi). The host drivers are initialized on first
// use, so constructing a GPIO on a machine without pins is harmless.
type GPIO struct {
	initOnce sync.Once
	initErr  error
	init     func() error
	lookup   func(name string) gpio.PinIO

	mu   sync.Mutex
	pins map[int]gpio.PinIO
}

func NewGPIO() *GPIO {
	return &GPIO{
		init: func() error {
			_, err := host.Init()
			return err
		},
		lookup: gpioreg.ByName,
		pins:   make(map[int]gpio.PinIO),
	}
}

func pinName(n int) string {
	return fmt.Sprintf("GPIO%d", n)
}

func (g *GPIO) pin(n int) (gpio.PinIO, error) {
	g.initOnce.Do(func() {
		if g.init != nil {
			g.initErr = g.init()
		}
	})
	if g.initErr != nil {
		return nil, fmt.Errorf("periph host init failed: %w", g.initErr)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.pins[n]; ok {
		return p, nil
	}
	p := g.lookup(pinName(n))
	if p == nil {
		return nil, errors.New("pin not found")
	}
	g.pins[n] = p
	return p, nil
}

// Setup resolves the pin and keeps it for later writes. The current level
// is left alone so that an output that is already on stays on.
func (g *GPIO) Setup(n int) error {
	if _, err := g.pin(n); err != nil {
		return &Error{Op: "gpio setup", Target: pinName(n), Err: err}
	}
	return nil
}

func (g *GPIO) Write(_ context.Context, n int, high bool) error {
	p, err := g.pin(n)
	if err != nil {
		return &Error{Op: "gpio write", Target: pinName(n), Err: err}
	}
	level := gpio.Low
	if high {
		level = gpio.High
	}
	if err := p.Out(level); err != nil {
		return &Error{Op: "gpio write", Target: pinName(n), Err: err}
	}
	return nil
}
