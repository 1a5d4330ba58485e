package actuator

import (
	"context"

	appLog "caltimer/internal/log"
)

// DryRun implements Transmitter and Pins by logging what would happen.
type DryRun struct{}

func (DryRun) Transmit(ctx context.Context, code string, protocol, pulseLength int) error {
	appLog.Ctx(ctx).Info("dry-run: would transmit", "code", code, "protocol", protocol, "pulse_length", pulseLength)
	return nil
}

func (DryRun) Setup(pin int) error {
	return nil
}

func (DryRun) Write(ctx context.Context, pin int, high bool) error {
	appLog.Ctx(ctx).Info("dry-run: would set pin", "pin", pinName(pin), "high", high)
	return nil
}
