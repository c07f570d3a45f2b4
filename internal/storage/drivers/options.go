package drivers

import (
	"time"

	"github.com/sashko-guz/ferry/internal/storage"
)

type options struct {
	now     func() time.Time
	keyOpts []storage.KeyOption
}

// Option customises a driver at construction time.
type Option func(*options)

// WithClock fixes the clock used for credential expiry and time based keys.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
		o.keyOpts = append(o.keyOpts, storage.WithKeyClock(now))
	}
}

// WithKeyOptions passes options through to the key generator.
func WithKeyOptions(opts ...storage.KeyOption) Option {
	return func(o *options) {
		o.keyOpts = append(o.keyOpts, opts...)
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
