package relay

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/proxchat/relay/pkg/api"
	"github.com/proxchat/relay/pkg/com"
	"golang.org/x/crypto/bcrypt"
)

var ErrAuth = errors.New("wrong password")

func (r *Relay) routes() {
	r.Subscribe(Wildcard, r.resolveCommand)
	r.Subscribe(api.LoginRequest, r.handleLogin)
	r.Subscribe(api.Join, r.handleJoin)
	r.Subscribe(api.SendSignal, r.handleSignal(api.SendSignal))
	r.Subscribe(api.ReceiveSignal, r.handleSignal(api.ReceiveSignal))
}

func (r *Relay) handleLogin(c *Conn, _ *Session, f *api.Frame) {
	rq := api.Unwrap[api.LoginRequestData](f.Data)
	if rq == nil {
		rq = &api.LoginRequestData{}
	}
	s, bridge, err := r.Login(c, rq.Password, rq.LinkCode)
	if err != nil {
		c.log.Info().Err(err).Str("code", rq.LinkCode).Msg("login failed")
		r.send(c, api.LoginFailed, api.LoginFailedData{Reason: loginFailReason(err, rq.LinkCode)})
		return
	}

	if err = r.SendChatMessage(bridge, "You are now linked"); err != nil {
		bridge.log.Debug().Err(err).Msg("no link message")
	}
	r.send(c, api.LoginSuccess, api.LoginSuccessData{
		Name: s.Name(),
		Id:   s.id.String(),
		Config: api.ClientConfig{
			MaxDistance:       r.conf.MaxDistance,
			SpectatorToPlayer: r.conf.SpectatorToPlayer,
			IceServers:        r.ice,
		},
		Client: s.Info(),
	})
}

// Login links a new browser session of the connection
// with the bridge that has the code.
func (r *Relay) Login(c *Conn, password, code string) (s, bridge *Session, err error) {
	if !r.checkPassword(password) {
		return nil, nil, ErrAuth
	}
	s, bridge, err = r.reg.claim(c, code, func(b *Session) *Session { return newBrowserSession(c, b.Name()) })
	if err != nil {
		return nil, bridge, err
	}
	s.log.Info().Str("bridge", bridge.id.String()).Msg("linked")
	return s, bridge, nil
}

func loginFailReason(err error, code string) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "The password is incorrect"
	case errors.Is(err, ErrNotFound):
		return "Couldn't find a minecraft connection with link code: " + code
	case errors.Is(err, ErrAlreadyLinked):
		return fmt.Sprintf("The Minecraft client with the link code '%v' is already linked to another client", code)
	case errors.Is(err, ErrSessionExists):
		return "This connection is already logged in"
	case errors.Is(err, com.ErrClosed):
		return "The connection is closed"
	default:
		return err.Error()
	}
}

// checkPassword compares the password with the server one,
// which may be a bcrypt hash.
func (r *Relay) checkPassword(password string) bool {
	if r.password == "" {
		return true
	}
	if isBcryptHash(r.password) {
		return bcrypt.CompareHashAndPassword([]byte(r.password), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(r.password), []byte(password)) == 1
}

func isBcryptHash(s string) bool {
	for _, p := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func (r *Relay) handleJoin(_ *Conn, s *Session, _ *api.Frame) {
	if s == nil || s.kind != Browser {
		return
	}
	s.log.Info().Msg("joined")
	data := api.AddClientData{Client: s.Info()}
	for _, peer := range r.reg.browsers() {
		if peer != s {
			r.send(peer.conn, api.AddClient, data)
		}
	}
}

// handleSignal forwards opaque WebRTC signaling data to another browser.
func (r *Relay) handleSignal(typ string) Handler {
	return func(c *Conn, s *Session, f *api.Frame) {
		rq := api.Unwrap[api.SignalRequest](f.Data)
		if rq == nil {
			c.log.Debug().Err(ErrMalformedFrame).Str("type", typ).Send()
			return
		}
		to := r.reg.findById(com.UidFromString(rq.To))
		if s == nil || to == nil || to.kind != Browser {
			c.log.Debug().Err(ErrNotFound).Str("type", typ).Str("to", rq.To).Msg("signal dropped")
			return
		}
		r.send(to.conn, typ, api.SignalData{Client: to.Info(), From: s.Info(), SignalData: rq.SignalData})
	}
}
