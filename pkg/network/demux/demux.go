// Package demux shares one TCP port between the plain and TLS traffic.
//
// Each accepted connection is routed by its first byte: the TLS handshake
// record type (0x16) goes to the TLS backend, anything else goes to the plain
// one. Nothing else of the stream is parsed, after the routing decision both
// sides are glued together byte for byte.
package demux

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/proxchat/relay/pkg/com"
	"github.com/proxchat/relay/pkg/logger"
)

const (
	tlsHandshake = 0x16
	dialTimeout  = 5 * time.Second
	peekTimeout  = 30 * time.Second
)

var ErrBackendUnavailable = errors.New("backend unavailable")

type Route string

const (
	RoutePlain  Route = "plain"
	RouteTLS    Route = "tls"
	RouteFailed Route = "failed"
)

type Demux struct {
	ls    net.Listener
	plain string
	tls   string

	active *com.Map[net.Conn, struct{}]
	// mu orders the handler wg additions with the close
	mu     sync.Mutex
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool
	log    *logger.Logger

	// OnRoute is called after a routing decision, mostly for metrics.
	OnRoute func(Route)
}

// New makes a demultiplexer over the listener.
// Empty tls address disables TLS routing.
func New(ls net.Listener, plain, tls string, log *logger.Logger) *Demux {
	return &Demux{
		ls:     ls,
		plain:  plain,
		tls:    tls,
		active: com.NewMap[net.Conn, struct{}](),
		log:    log,
	}
}

func (d *Demux) Addr() net.Addr { return d.ls.Addr() }

// Serve accepts connections until the listener is closed.
func (d *Demux) Serve() error {
	for {
		conn, err := d.ls.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}
		if !d.start(conn) {
			_ = conn.Close()
			return nil
		}
	}
}

// start runs the connection handler unless the demux is closed.
func (d *Demux) start(conn net.Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return false
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.handle(conn)
	}()
	return true
}

// Run starts serving in a goroutine.
func (d *Demux) Run() {
	go func() {
		if err := d.Serve(); err != nil {
			d.log.Error().Err(err).Msg("demux")
		}
	}()
}

func (d *Demux) handle(client net.Conn) {
	d.track(client)
	defer d.untrack(client)

	target, head, route, err := d.route(client)
	if err != nil {
		d.log.Debug().Err(err).Msg("demux: no data from the client")
		d.notify(RouteFailed)
		_ = client.Close()
		return
	}

	backend, err := net.DialTimeout("tcp", target, dialTimeout)
	if err != nil {
		d.log.Error().Err(ErrBackendUnavailable).Str("backend", target).Msgf("demux: %v", err)
		d.notify(RouteFailed)
		_ = client.Close()
		return
	}
	d.track(backend)
	defer d.untrack(backend)
	d.notify(route)

	if len(head) > 0 {
		if _, err = backend.Write(head); err != nil {
			_ = backend.Close()
			_ = client.Close()
			return
		}
	}
	pipe(client, backend)
}

// route picks the backend by the first byte of the stream.
// It returns the bytes it had to read so they could be forwarded.
func (d *Demux) route(client net.Conn) (target string, head []byte, route Route, err error) {
	if d.tls == "" {
		return d.plain, nil, RoutePlain, nil
	}
	_ = client.SetReadDeadline(time.Now().Add(peekTimeout))
	br := bufio.NewReader(client)
	first, err := br.Peek(1)
	_ = client.SetReadDeadline(time.Time{})
	if err != nil {
		return "", nil, RouteFailed, err
	}
	// whatever came with the first read, the reader is dropped after
	head, _ = br.Peek(br.Buffered())
	target, route = d.plain, RoutePlain
	if first[0] == tlsHandshake {
		target, route = d.tls, RouteTLS
	}
	return target, head, route, nil
}

func (d *Demux) notify(r Route) {
	if d.OnRoute != nil {
		d.OnRoute(r)
	}
}

func (d *Demux) track(c net.Conn) {
	d.active.Put(c, struct{}{})
	if d.closed.Load() {
		_ = c.Close()
	}
}

func (d *Demux) untrack(c net.Conn) { d.active.Remove(c) }

// pipe copies the data both ways until any side stops,
// then closes both connections.
func pipe(a, b net.Conn) {
	var once sync.Once
	closeAll := func() { _ = a.Close(); _ = b.Close() }

	var wg sync.WaitGroup
	wg.Add(2)
	cp := func(dst, src net.Conn) {
		defer wg.Done()
		_, _ = io.Copy(dst, src)
		once.Do(closeAll)
	}
	go cp(a, b)
	go cp(b, a)
	wg.Wait()
}

// Close stops accepting new connections and breaks all the active ones.
func (d *Demux) Close() error {
	var err error
	d.once.Do(func() {
		d.mu.Lock()
		d.closed.Store(true)
		d.mu.Unlock()
		err = d.ls.Close()
		for _, c := range d.activeConns() {
			_ = c.Close()
		}
		d.wg.Wait()
	})
	return err
}

func (d *Demux) activeConns() []net.Conn {
	var conns []net.Conn
	d.active.ForEach(func(c net.Conn, _ struct{}) { conns = append(conns, c) })
	return conns
}

func (d *Demux) String() string { return "demux://" + d.ls.Addr().String() }
