package httpx

import (
	"time"

	"github.com/proxchat/relay/pkg/logger"
)

type (
	Options struct {
		Https             bool
		HttpsCert         string
		HttpsKey          string
		PortRoll          bool
		IdleTimeout       time.Duration
		ReadHeaderTimeout time.Duration
		Logger            *logger.Logger
	}
	Option func(*Options)
)

func (o *Options) override(options ...Option) {
	for _, opt := range options {
		opt(o)
	}
}

func WithTLS(cert, key string) Option {
	return func(opts *Options) { opts.Https, opts.HttpsCert, opts.HttpsKey = true, cert, key }
}
func WithPortRoll(roll bool) Option        { return func(opts *Options) { opts.PortRoll = roll } }
func WithLogger(log *logger.Logger) Option { return func(opts *Options) { opts.Logger = log } }
