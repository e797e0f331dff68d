package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/proxchat/relay/pkg/config"
	"github.com/proxchat/relay/pkg/logger"
	"github.com/proxchat/relay/pkg/network/demux"
	"github.com/proxchat/relay/pkg/network/httpx"
)

const loopback = "127.0.0.1"

// Frontend serves the relay on the public port with both the plain
// and TLS traffic. Each kind has its own loopback HTTP server
// and the public port is shared by a demux in front of them.
type Frontend struct {
	plain *httpx.Server
	tls   *httpx.Server
	demux *demux.Demux
	log   *logger.Logger
}

func NewFrontend(conf config.Server, handler http.Handler, log *logger.Logger) (*Frontend, error) {
	log = log.Extend(log.With().Str("m", "frontend"))
	h := func(*httpx.Server) httpx.Handler { return handler }

	f := &Frontend{log: log}
	var err error
	f.plain, err = httpx.NewServer(net.JoinHostPort(loopback, strconv.Itoa(conf.PlainPort)), h, httpx.WithLogger(log))
	if err != nil {
		return nil, err
	}
	tlsAddr := ""
	if conf.Tls.Enabled {
		f.tls, err = httpx.NewServer(
			net.JoinHostPort(loopback, strconv.Itoa(conf.Tls.Port)), h,
			httpx.WithTLS(conf.Tls.Cert, conf.Tls.Key),
			httpx.WithLogger(log),
		)
		if err != nil {
			_ = f.plain.Shutdown(context.Background())
			return nil, err
		}
		tlsAddr = f.tls.Addr
	}

	ls, err := httpx.NewListener(conf.GetAddr(), false, log)
	if err != nil {
		_ = f.shutdownBackends(context.Background())
		return nil, err
	}
	f.demux = demux.New(ls, f.plain.Addr, tlsAddr, log)
	f.demux.OnRoute = func(r demux.Route) { demuxTotal.WithLabelValues(string(r)).Inc() }
	return f, nil
}

func (f *Frontend) Run() {
	f.plain.Run()
	if f.tls != nil {
		f.tls.Run()
	}
	f.log.Info().Msgf("Listening on %v (tls: %v)", f.demux.Addr(), f.tls != nil)
	f.demux.Run()
}

// Shutdown stops accepting the public connections first.
func (f *Frontend) Shutdown(ctx context.Context) error {
	err := f.demux.Close()
	return errors.Join(err, f.shutdownBackends(ctx))
}

func (f *Frontend) shutdownBackends(ctx context.Context) error {
	var err error
	if f.tls != nil {
		err = f.tls.Shutdown(ctx)
	}
	return errors.Join(err, f.plain.Shutdown(ctx))
}

// Addr returns the public address.
func (f *Frontend) Addr() net.Addr { return f.demux.Addr() }

func (f *Frontend) String() string { return f.demux.String() }
