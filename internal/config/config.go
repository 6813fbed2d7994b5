// Package config holds the functional-options configuration shared by the
// log and multilog engines (spec §9 open questions: chunk size and
// MinLogAreaSize are both named as values an implementer should pick and
// expose, rather than leaving hard-coded as the original source does).
package config

import "github.com/crashlog/pmlog/internal/logging"

// DefaultChunkSize is the persistence chunk size used unless overridden.
const DefaultChunkSize = 8

// DefaultMinLogAreaSize is the minimum log area length enforced unless
// overridden. The original source uses 1; spec §9 calls that impractical
// and leaves the practical value to the implementer. 64 bytes is chosen
// here: large enough that a log area can hold at least one CRC-guarded
// record of any of the layout's own metadata sizes, small enough not to
// waste space on tiny test regions.
const DefaultMinLogAreaSize = 64

// Options is the resolved configuration for a log or multilog instance.
type Options struct {
	ChunkSize      uint64
	MinLogAreaSize uint64
	Logger         logging.Logger
}

// Option mutates an Options during construction.
type Option func(*Options)

// WithChunkSize declares the persistence chunk size the caller built its
// device with. Setup and Start validate it against the device's actual
// ChunkSize and reject a mismatch: the chunk size determines which
// partial-flush states a crash can produce, so a wrong declaration here
// would invalidate every Permission the engine reasons about without
// otherwise being observable.
func WithChunkSize(n uint64) Option {
	return func(o *Options) { o.ChunkSize = n }
}

// WithMinLogAreaSize overrides the minimum log area length enforced at
// setup and start.
func WithMinLogAreaSize(n uint64) Option {
	return func(o *Options) { o.MinLogAreaSize = n }
}

// WithLogger installs a logger. Defaults to logging.Discard.
func WithLogger(l logging.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Resolve applies opts over the documented defaults.
func Resolve(opts ...Option) Options {
	o := Options{
		ChunkSize:      DefaultChunkSize,
		MinLogAreaSize: DefaultMinLogAreaSize,
		Logger:         logging.Discard,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if logging.IsNil(o.Logger) {
		o.Logger = logging.Discard
	}
	return o
}
