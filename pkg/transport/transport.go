// Package transport carries command lines to the arm and returns its
// responses.
package transport

import (
	"context"
	"errors"
	"strings"

	"go.bug.st/serial"
)

var (
	// ErrTimeout is returned when no acknowledgement arrives in time.
	ErrTimeout = errors.New("timed out waiting for ok")
	// ErrDisconnected is returned after the connection is gone.
	ErrDisconnected = errors.New("transport disconnected")
)

// Transport sends one command line and blocks until the arm answers.
// Implementations allow a single request in flight at a time.
type Transport interface {
	Send(ctx context.Context, line string) (string, error)
}

// Interrupter is implemented by transports that can push a line out of band,
// bypassing a request that is still waiting for its answer.
type Interrupter interface {
	Interrupt(line string) error
}

// ListPorts returns candidate serial ports, skipping Bluetooth pseudo-ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(p, "Bluetooth") {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
