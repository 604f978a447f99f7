package serialmux

import (
	"errors"
	"fmt"

	"go.bug.st/serial"
)

// ErrNoPort is returned when none of the candidate ports could be opened.
var ErrNoPort = errors.New("no serial port candidate could be opened")

// OpenReal opens a hardware serial port with go.bug.st/serial.
func OpenReal(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// OpenFirst tries each candidate path in order and returns a mux for the
// first port that opens, together with its path. A nil opener uses OpenReal.
func OpenFirst(candidates []string, opts PortOptions, open PortOpener) (*SerialMux[SerialPorter], string, error) {
	if open == nil {
		open = OpenReal
	}
	var errs []error
	for _, path := range candidates {
		port, err := open(path, opts)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		return NewSerialMux(port), path, nil
	}
	if len(errs) == 0 {
		return nil, "", ErrNoPort
	}
	return nil, "", fmt.Errorf("%w: %w", ErrNoPort, errors.Join(errs...))
}
