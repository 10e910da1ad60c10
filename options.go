// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coreloop

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

// defaultDiagnosticRates bound the diagnostic logging of dropped events, per
// category.
var defaultDiagnosticRates = map[time.Duration]int{
	time.Second: 10,
	time.Minute: 100,
}

// loopOptions holds configuration options for EventLoop creation.
type loopOptions struct {
	logger          *logiface.Logger[logiface.Event]
	pollerFactory   func() (Poller, error)
	diagnosticRates map[time.Duration]int
	metricsEnabled  bool
}

// LoopOption configures an EventLoop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger attaches a logger to the loop. A nil logger disables logging,
// which is also the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithPoller overrides the platform poller. The factory is called by [New],
// and again by [EventLoop.NotifyForked].
func WithPoller(factory func() (Poller, error)) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if factory == nil {
			return errors.New("coreloop: nil poller factory")
		}
		opts.pollerFactory = factory
		return nil
	}}
}

// WithMetrics enables the counters returned by [EventLoop.Metrics].
func WithMetrics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithDiagnosticRates sets the rate limits, as accepted by
// catrate.NewLimiter, applied to diagnostic logs about dropped events and
// timers. Each kind of drop is limited independently. A nil or empty map
// disables limiting.
func WithDiagnosticRates(rates map[time.Duration]int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		for d, n := range rates {
			if d <= 0 || n <= 0 {
				return errors.New("coreloop: diagnostic rates must be positive")
			}
		}
		opts.diagnosticRates = rates
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		pollerFactory:   newDefaultPoller,
		diagnosticRates: defaultDiagnosticRates,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
