package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/proxchat/relay/pkg/logger"
)

type Server struct {
	http.Server

	opts     Options
	listener *Listener
	certs    *CertWatcher
	log      *logger.Logger
}

type (
	Handler        = http.Handler
	HandlerFunc    = http.HandlerFunc
	ResponseWriter = http.ResponseWriter
	Request        = http.Request
)

func NewServer(address string, handler func(*Server) Handler, options ...Option) (*Server, error) {
	opts := &Options{
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	opts.override(options...)
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}

	server := &Server{
		Server: http.Server{
			Addr:              address,
			IdleTimeout:       opts.IdleTimeout,
			ReadHeaderTimeout: opts.ReadHeaderTimeout,
		},
		opts: *opts,
		log:  opts.Logger,
	}
	// (╯°□°)╯︵ ┻━┻
	server.Handler = handler(server)

	if opts.Https {
		certs, err := NewCertWatcher(opts.HttpsCert, opts.HttpsKey, opts.Logger)
		if err != nil {
			return nil, err
		}
		server.certs = certs
		server.TLSConfig = certs.TLSConfig()
	}

	listener, err := NewListener(address, opts.PortRoll, opts.Logger)
	if err != nil {
		if server.certs != nil {
			_ = server.certs.Close()
		}
		return nil, err
	}
	server.listener = listener
	server.Addr = listener.Addr().String()
	opts.Logger.Debug().Msgf("httpx %v (%v)", server.Addr, address)

	return server, nil
}

func (s *Server) Run() { go s.run() }

func (s *Server) run() {
	protocol := s.GetProtocol()
	s.log.Debug().Msgf("Starting %s server on %s", protocol, s.Addr)

	var err error
	if s.opts.Https {
		err = s.ServeTLS(s.listener, "", "")
	} else {
		err = s.Serve(s.listener)
	}
	if errors.Is(err, http.ErrServerClosed) {
		s.log.Debug().Msgf("%s server was closed", protocol)
		return
	}
	s.log.Error().Err(err).Msgf("%s server", protocol)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.certs != nil {
		_ = s.certs.Close()
	}
	err := s.Server.Shutdown(ctx)
	// not served listeners are not closed by the shutdown
	_ = s.listener.Close()
	return err
}

func (s *Server) GetPort() int { return s.listener.GetPort() }

func (s *Server) GetProtocol() string {
	if s.opts.Https {
		return "https"
	}
	return "http"
}

func (s *Server) String() string { return s.GetProtocol() + "://" + s.Addr }
