package portscan

import (
	"fmt"

	"go.bug.st/serial/enumerator"
)

// Enumerator lists the serial ports that could host a board.
type Enumerator interface {
	Ports() ([]string, error)
}

// EnumeratorFunc adapts a plain function to Enumerator.
type EnumeratorFunc func() ([]string, error)

// Ports implements Enumerator.
func (f EnumeratorFunc) Ports() ([]string, error) { return f() }

// SerialEnumerator lists the serial ports known to the operating system.
type SerialEnumerator struct {
	// USBOnly drops ports without USB hardware details; on-board UARTs and
	// virtual terminals never carry a bootloader-based board.
	USBOnly bool
}

// Ports implements Enumerator.
func (e SerialEnumerator) Ports() ([]string, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	ports := make([]string, 0, len(details))
	for _, d := range details {
		if d == nil || d.Name == "" {
			continue
		}
		if e.USBOnly && !d.IsUSB {
			continue
		}
		ports = append(ports, d.Name)
	}
	return ports, nil
}
