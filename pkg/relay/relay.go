// Package relay links game client bridges with their browser peers
// and keeps the browsers updated with the player positions.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v3"
	"github.com/proxchat/relay/pkg/api"
	"github.com/proxchat/relay/pkg/com"
	"github.com/proxchat/relay/pkg/config"
	"github.com/proxchat/relay/pkg/logger"
)

type Relay struct {
	conf     config.Relay
	name     string
	password string
	ice      []webrtc.ICEServer

	reg   *registry
	bus   *Bus
	conns *com.Map[*Conn, struct{}]

	ctx    context.Context
	cancel context.CancelFunc
	// mu guards stopped against the wg and conns additions
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	log     *logger.Logger
}

func New(conf config.Config, log *logger.Logger) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		conf:     conf.Relay,
		name:     conf.Server.Name,
		password: conf.Server.Password,
		ice:      conf.Webrtc.IceServers,
		reg:      newRegistry(),
		bus:      NewBus(),
		conns:    com.NewMap[*Conn, struct{}](),
		ctx:      ctx,
		cancel:   cancel,
		log:      log.Extend(log.With().Str("m", "relay")),
	}
	r.routes()
	return r
}

// Subscribe adds a frame handler, see Bus.
func (r *Relay) Subscribe(key string, h Handler) { r.bus.Subscribe(key, h) }

// Accept registers a new peer connection. Unless it logs in
// as a browser, it becomes a bridge after the classification timeout.
func (r *Relay) Accept(t Transport) *Conn {
	c := newConn(t, r.log)
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		c.close()
		t.Close()
		return c
	}
	r.conns.Put(c, struct{}{})
	r.mu.Unlock()
	c.arm(r.conf.ClassifyTimeout, func() { r.classify(c) })
	c.log.Debug().Msg("new connection")
	return c
}

func (r *Relay) classify(c *Conn) {
	if r.reg.get(c) != nil {
		return
	}
	s := newBridgeSession(c, r.conf.CommandTimeout)
	if err := r.reg.add(s); err != nil {
		c.log.Debug().Err(err).Msg("no bridge")
		return
	}
	s.log.Info().Str("code", s.code).Msg("bridge session")

	if !r.spawn(func() { r.greet(s) }) {
		s.log.Debug().Msg("no greet after shutdown")
	}
}

// spawn runs fn in a goroutine Shutdown waits for.
// Nothing is run once the relay stopped.
func (r *Relay) spawn(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
	return true
}

// greet asks for the player name and shows the link code
// while the name is on its way.
func (r *Relay) greet(s *Session) {
	body, err := r.runCommand(r.ctx, s, api.CmdLocalPlayerName, func() {
		if err := r.SendChatMessage(s, "Your link code is "+s.code); err != nil {
			s.log.Debug().Err(err).Msg("no link code message")
		}
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("no player name")
		return
	}
	rs := api.Unwrap[api.LocalPlayerNameResponse](body)
	if rs == nil || rs.LocalPlayerName == "" {
		s.log.Warn().Msgf("bad player name response: %s", body)
		return
	}
	s.setName(rs.LocalPlayerName)
	s.log.Info().Str("name", rs.LocalPlayerName).Msg("player")
}

// Dispatch handles a raw inbound message of the connection.
// Frames are routed by their bridge event name for the bridges
// and by their type for everyone else. Garbage is sent back as is.
func (r *Relay) Dispatch(c *Conn, raw []byte) {
	var f api.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.log.Debug().Err(fmt.Errorf("%w: %v", ErrMalformedFrame, err)).Msg("echo")
		c.Write(raw)
		return
	}
	defer func() {
		if err := recover(); err != nil {
			c.log.Error().Msgf("frame handler panic: %v", err)
		}
	}()
	s := r.reg.get(c)
	key := f.Type
	if s != nil && s.kind == Bridge {
		key = f.EventName()
	}
	r.bus.Publish(key, c, s, &f)
}

// Disconnect ends the connection along with its session.
// The surviving bridge of a link is told its link code again.
func (r *Relay) Disconnect(c *Conn) {
	if !c.close() {
		return
	}
	r.conns.Remove(c)
	c.t.Close()
	s, peer := r.reg.remove(c)
	if s == nil {
		c.log.Debug().Msg("connection closed")
		return
	}
	if s.bridge != nil {
		s.calls.Drain(com.ErrClosed)
	}
	s.log.Info().Msg("session closed")
	if peer != nil && peer.bridge != nil {
		if err := r.SendChatMessage(peer, "Your link has been disconnected. Your link code is: "+peer.code); err != nil {
			peer.log.Debug().Err(err).Msg("no unlink message")
		}
	}
}

// Session returns the session of the connection if any.
func (r *Relay) Session(c *Conn) *Session { return r.reg.get(c) }

// Sessions returns the number of the live sessions.
func (r *Relay) Sessions() int { return r.reg.len() }

// FindByLinkCode returns the bridge with the code in any letter case.
func (r *Relay) FindByLinkCode(code string) *Session { return r.reg.findByLinkCode(code) }

// Run starts the position broadcast loop.
func (r *Relay) Run() {
	if !r.spawn(func() { r.Broadcast(r.ctx) }) {
		r.log.Warn().Msg("run after shutdown")
	}
}

// Shutdown stops the broadcast loop and closes all the connections.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.cancel()
	var conns []*Conn
	r.conns.ForEach(func(c *Conn, _ struct{}) { conns = append(conns, c) })
	for _, c := range conns {
		r.Disconnect(c)
	}
	done := make(chan struct{})
	go func() { r.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(ctx.Err(), fmt.Errorf("relay has %v connections left", r.conns.Len()))
	}
}

func (r *Relay) String() string { return "relay" }

// message makes an outbound browser message.
func (r *Relay) message(typ string, data any) []byte {
	out, err := json.Marshal(api.Out{Type: typ, Server: api.Server{Name: r.name}, Data: data})
	if err != nil {
		r.log.Error().Err(err).Str("type", typ).Msg("message encode")
		return nil
	}
	return out
}

func (r *Relay) send(c *Conn, typ string, data any) {
	if out := r.message(typ, data); out != nil {
		c.Write(out)
	}
}
