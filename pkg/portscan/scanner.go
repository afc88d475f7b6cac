// Package portscan finds the serial port a board is attached to.
//
// Every candidate port is probed concurrently; the first port whose device
// answers with the expected signature wins. The search is bounded by a
// deadline and fails with ErrNoPortFound when nothing answers in time.
package portscan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds a whole scan.
	DefaultTimeout = 30 * time.Second

	// DefaultProbeTimeout bounds a single probe, including probes abandoned
	// after the scan returned.
	DefaultProbeTimeout = 30 * time.Second
)

// ErrNoPortFound is returned when no candidate answered before the deadline.
var ErrNoPortFound = errors.New("no port found")

// Prober checks whether a device with the given mcu answers on port.
type Prober interface {
	Probe(ctx context.Context, port, mcu string, baud int) (bool, error)
}

// ProberFunc adapts a plain function to Prober.
type ProberFunc func(ctx context.Context, port, mcu string, baud int) (bool, error)

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, port, mcu string, baud int) (bool, error) {
	return f(ctx, port, mcu, baud)
}

// Options configures a Scanner.
type Options struct {
	Timeout      time.Duration
	ProbeTimeout time.Duration

	// Include and Exclude are doublestar patterns matched against port
	// names. An empty Include admits every port.
	Include []string
	Exclude []string

	Logger *zap.Logger
}

// Scanner probes candidate ports concurrently.
type Scanner struct {
	enum   Enumerator
	prober Prober
	opts   Options
	logger *zap.Logger
}

// New returns a Scanner reading candidates from enum and probing them with prober.
func New(enum Enumerator, prober Prober, opts Options) (*Scanner, error) {
	if enum == nil {
		return nil, fmt.Errorf("port enumerator cannot be nil")
	}
	if prober == nil {
		return nil, fmt.Errorf("port prober cannot be nil")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	for _, pattern := range append(append([]string{}, opts.Include...), opts.Exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid port pattern %q", pattern)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{enum: enum, prober: prober, opts: opts, logger: logger}, nil
}

// Candidates returns the filtered candidate ports, preferred first when present.
func (s *Scanner) Candidates(preferred string) ([]string, error) {
	ports, err := s.enum.Ports()
	if err != nil {
		return nil, err
	}
	filtered := make([]string, 0, len(ports))
	for _, port := range ports {
		if s.admit(port) {
			filtered = append(filtered, port)
		}
	}
	return OrderCandidates(filtered, preferred), nil
}

func (s *Scanner) admit(port string) bool {
	if len(s.opts.Include) > 0 && !matchAny(s.opts.Include, port) {
		return false
	}
	return !matchAny(s.opts.Exclude, port)
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// OrderCandidates moves preferred to the front of ports when it is present
// and drops duplicates; the remaining order is kept.
func OrderCandidates(ports []string, preferred string) []string {
	out := make([]string, 0, len(ports))
	seen := make(map[string]bool, len(ports))
	if preferred != "" {
		for _, port := range ports {
			if port == preferred {
				out = append(out, port)
				seen[port] = true
				break
			}
		}
	}
	for _, port := range ports {
		if seen[port] {
			continue
		}
		seen[port] = true
		out = append(out, port)
	}
	return out
}

type probeResult struct {
	port string
	ok   bool
	err  error
}

// FindPort returns the first candidate port on which a device with mcu answers.
//
// The scan returns as soon as one probe succeeds. Remaining probes keep
// running in the background until they finish or hit the probe timeout;
// their results are discarded.
func (s *Scanner) FindPort(ctx context.Context, mcu string, baud int, preferred string) (string, error) {
	candidates, err := s.Candidates(preferred)
	if err != nil {
		s.logger.Warn("Serial port enumeration failed", zap.Error(err))
		return "", fmt.Errorf("%w: enumerate serial ports: %w", ErrNoPortFound, err)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no candidate serial ports", ErrNoPortFound)
	}

	s.logger.Debug("Scanning ports",
		zap.Strings("candidates", candidates),
		zap.String("mcu", mcu),
		zap.Int("baud", baud))

	// One slot per probe: abandoned probes never block on send.
	results := make(chan probeResult, len(candidates))
	probeCtx := context.WithoutCancel(ctx)
	for _, port := range candidates {
		go func(port string) {
			pctx, cancel := context.WithTimeout(probeCtx, s.opts.ProbeTimeout)
			defer cancel()
			ok, err := s.prober.Probe(pctx, port, mcu, baud)
			results <- probeResult{port: port, ok: ok, err: err}
		}(port)
	}

	timer := time.NewTimer(s.opts.Timeout)
	defer timer.Stop()

	for pending := len(candidates); pending > 0; {
		select {
		case r := <-results:
			pending--
			if r.err != nil {
				s.logger.Debug("Probe failed", zap.String("port", r.port), zap.Error(r.err))
				continue
			}
			if r.ok {
				s.logger.Debug("Port found", zap.String("port", r.port))
				return r.port, nil
			}
		case <-timer.C:
			return "", fmt.Errorf("%w: no answer within %s", ErrNoPortFound, s.opts.Timeout)
		case <-ctx.Done():
			return "", fmt.Errorf("port scan: %w", ctx.Err())
		}
	}
	return "", fmt.Errorf("%w: %d candidate ports, none answered", ErrNoPortFound, len(candidates))
}
