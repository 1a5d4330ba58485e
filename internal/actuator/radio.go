package actuator

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	appLog "caltimer/internal/log"
)

// CommandTransmitter sends codes by running an external sender such as
// 433Utils' codesend:
//
//	<path> <code> <protocol> <pulse_length>
type CommandTransmitter struct {
	Path string

	// run executes the command and returns its combined output. Replaced in
	// tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewCommandTransmitter(path string) *CommandTransmitter {
	return &CommandTransmitter{Path: path, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (t *CommandTransmitter) Transmit(ctx context.Context, code string, protocol, pulseLength int) error {
	if t.Path == "" {
		return &Error{Op: "transmit", Target: code, Err: errors.New("no sender command configured")}
	}
	run := t.run
	if run == nil {
		run = runCommand
	}

	args := []string{code, strconv.Itoa(protocol), strconv.Itoa(pulseLength)}
	out, err := run(ctx, t.Path, args...)
	output := strings.TrimSpace(string(out))
	if err != nil {
		if output != "" {
			err = fmt.Errorf("%w: %s", err, output)
		}
		return &Error{Op: "transmit", Target: code, Err: err}
	}
	appLog.Ctx(ctx).Debug("code sent", "command", t.Path, "args", strings.Join(args, " "), "output", output)
	return nil
}
