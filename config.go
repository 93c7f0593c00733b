// Copyright 2024 The zgc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zgc

import "time"

// Config holds the tunables spec'd in component design §4: page size,
// relocation candidate threshold, tenure age, and the forwarding-map
// retention delay before a relocated page's memory is reclaimed.
type Config struct {
	// PageSize is the fixed region size carved out of the heap, in bytes.
	// Must be a power of two. Default 2 MiB, matching the illustrative
	// page layout in the interface spec.
	PageSize int

	// RelocationThreshold is the live_bytes/capacity fraction below which
	// a retired page becomes a relocation candidate. Default 0.75.
	RelocationThreshold float64

	// TenureThreshold is the number of evacuations a young Body must
	// survive to be promoted: the evacuation that brings its age to this
	// value copies it into the old generation. Default 2.
	TenureThreshold uint32

	// ReclamationDelayCycles is how many full mark-relocate cycles a
	// relocated page's forwarding map must survive before the page's
	// memory is actually reclaimed. Default 2 (see DESIGN.md Open
	// Question decision).
	ReclamationDelayCycles int

	// OccupancyTrigger is the fraction of reserved heap capacity that
	// triggers a background collection cycle. Default 0.6.
	OccupancyTrigger float64

	// HandshakeInterval bounds how often the scheduler polls mutator ack
	// counters while waiting for a phase handshake to complete.
	HandshakeInterval time.Duration
}

// Option mutates a Config during New. The functional-options idiom keeps
// New's signature stable as tunables are added.
type Option func(*Config)

func WithPageSize(bytes int) Option {
	return func(c *Config) { c.PageSize = bytes }
}

func WithRelocationThreshold(frac float64) Option {
	return func(c *Config) { c.RelocationThreshold = frac }
}

func WithTenureThreshold(age uint32) Option {
	return func(c *Config) { c.TenureThreshold = age }
}

func WithReclamationDelayCycles(cycles int) Option {
	return func(c *Config) { c.ReclamationDelayCycles = cycles }
}

func WithOccupancyTrigger(frac float64) Option {
	return func(c *Config) { c.OccupancyTrigger = frac }
}

func WithHandshakeInterval(d time.Duration) Option {
	return func(c *Config) { c.HandshakeInterval = d }
}

func defaultConfig() Config {
	return Config{
		PageSize:                2 << 20,
		RelocationThreshold:     0.75,
		TenureThreshold:         2,
		ReclamationDelayCycles:  2,
		OccupancyTrigger:        0.6,
		HandshakeInterval:       200 * time.Microsecond,
	}
}
