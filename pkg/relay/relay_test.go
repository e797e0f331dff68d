package relay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/proxchat/relay/pkg/api"
	"github.com/proxchat/relay/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestClassification(t *testing.T) {
	r := newTestRelay(t)
	g := newGameClient(t, r, "Steve")

	s := g.session()
	require.Equal(t, Bridge, s.Kind())
	require.Len(t, s.LinkCode(), 8)
	require.Equal(t, 1, r.Sessions())

	g.whisper(t, "Your link code is "+s.LinkCode())
	require.Eventually(t, func() bool { return s.Name() == "Steve" }, waitTime, time.Millisecond)
}

func TestClassificationOfClosed(t *testing.T) {
	r := newTestRelay(t)
	p := newPipe()
	c := r.Accept(p)
	r.Disconnect(c)

	time.Sleep(3 * r.conf.ClassifyTimeout)
	require.Nil(t, r.Session(c))
	require.Zero(t, r.Sessions())
	require.True(t, p.closed.Load())
}

func TestUnknownName(t *testing.T) {
	r := newTestRelay(t, func(c *config.Config) { c.Relay.CommandTimeout = 20 * time.Millisecond })
	p := newPipe()
	c := r.Accept(p)
	require.Eventually(t, func() bool { return r.Session(c) != nil }, waitTime, time.Millisecond)
	// nobody answers
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, unknownName, r.Session(c).Name())
}

func TestLogin(t *testing.T) {
	r := newTestRelay(t)
	g := newGameClient(t, r, "Alex")
	require.Eventually(t, func() bool { return g.session().Name() == "Alex" }, waitTime, time.Millisecond)

	b := newBrowser(r)
	b.login(t, "", strings.ToUpper(g.code()))

	m := b.next(t, api.LoginSuccess)
	require.Equal(t, "test server", m.Server.Name)
	var rs api.LoginSuccessData
	require.NoError(t, json.Unmarshal(m.Data, &rs))

	s := b.session()
	require.NotNil(t, s)
	assert.Equal(t, Browser, s.Kind())
	assert.Equal(t, "Alex", rs.Name)
	assert.Equal(t, s.Id().String(), rs.Id)
	assert.Equal(t, 25.0, rs.Config.MaxDistance)
	assert.False(t, rs.Config.SpectatorToPlayer)
	assert.Equal(t, []string{config.DefaultStun}, rs.Config.IceServers[0].URLs)
	assert.Equal(t, api.PeerInfo{Name: "Alex", IsLinked: true, Id: s.Id().String()}, rs.Client)

	g.whisper(t, "You are now linked")
	require.Same(t, g.session(), s.Linked())
	require.Same(t, s, g.session().Linked())
	require.Equal(t, 2, r.Sessions())
}

func TestLoginFailures(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name     string
		server   string
		password string
		code     func(g *gameClient) string
		reason   string
	}{
		{
			name:     "wrong password",
			server:   "secret",
			password: "Secret",
			reason:   "The password is incorrect",
		},
		{
			name:     "wrong bcrypt password",
			server:   string(hash),
			password: "secrets",
			reason:   "The password is incorrect",
		},
		{
			name:   "unknown code",
			code:   func(*gameClient) string { return "deadbeef" },
			reason: "Couldn't find a minecraft connection with link code: deadbeef",
		},
		{
			name:   "empty code",
			code:   func(*gameClient) string { return "" },
			reason: "Couldn't find a minecraft connection with link code: ",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := newTestRelay(t, func(c *config.Config) { c.Server.Password = test.server })
			g := newGameClient(t, r, "Steve")
			code := g.code()
			if test.code != nil {
				code = test.code(g)
			}

			b := newBrowser(r)
			b.login(t, test.password, code)
			m := b.next(t, api.LoginFailed)
			var rs api.LoginFailedData
			require.NoError(t, json.Unmarshal(m.Data, &rs))
			require.Equal(t, test.reason, rs.Reason)
			require.Nil(t, b.session())
			require.Nil(t, g.session().Linked())
		})
	}
}

func TestLoginPasswords(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	for name, server := range map[string]string{"plain": "secret", "bcrypt": string(hash)} {
		t.Run(name, func(t *testing.T) {
			r := newTestRelay(t, func(c *config.Config) { c.Server.Password = server })
			g := newGameClient(t, r, "Steve")
			b := newBrowser(r)
			b.login(t, "secret", g.code())
			b.next(t, api.LoginSuccess)
		})
	}
}

func TestLoginAlreadyLinked(t *testing.T) {
	r := newTestRelay(t)
	g := newGameClient(t, r, "Steve")

	first := newBrowser(r)
	first.login(t, "", g.code())
	first.next(t, api.LoginSuccess)

	second := newBrowser(r)
	second.login(t, "", g.code())
	m := second.next(t, api.LoginFailed)
	require.Contains(t, string(m.Data), "already linked")
	require.Equal(t, "The Minecraft client with the link code '"+g.code()+"' is already linked to another client",
		loginFailReason(ErrAlreadyLinked, g.code()))

	require.Nil(t, second.session())
	require.Equal(t, 2, r.Sessions())
	require.Same(t, first.session(), g.session().Linked())
}

func TestLoginTwice(t *testing.T) {
	r := newTestRelay(t)
	g1 := newGameClient(t, r, "Steve")
	g2 := newGameClient(t, r, "Alex")

	b := newBrowser(r)
	b.login(t, "", g1.code())
	b.next(t, api.LoginSuccess)

	b.login(t, "", g2.code())
	m := b.next(t, api.LoginFailed)
	require.Contains(t, string(m.Data), "This connection is already logged in")
	require.Nil(t, g2.session().Linked())
	require.Same(t, g1.session(), b.session().Linked())
}

func TestUnlinkByBridge(t *testing.T) {
	r := newTestRelay(t)
	g := newGameClient(t, r, "Steve")
	g.setTarget(position(1, 2, 3, 0, 90))
	b := newBrowser(r)
	b.login(t, "", g.code())
	b.next(t, api.LoginSuccess)

	bridge := g.session()
	r.Disconnect(g.c)

	require.Nil(t, g.session())
	require.Nil(t, r.FindByLinkCode(bridge.LinkCode()))
	require.Nil(t, bridge.Linked())
	require.Nil(t, b.session().Linked())
	require.Equal(t, 1, r.Sessions())
	require.True(t, g.closed.Load())

	// the browser is alone, nothing is sent to it
	r.Run()
	b.quiet(t, api.UpdatePlayer, 50*time.Millisecond)
}

func TestUnlinkByBrowser(t *testing.T) {
	r := newTestRelay(t)
	g := newGameClient(t, r, "Steve")
	b := newBrowser(r)
	b.login(t, "", g.code())
	b.next(t, api.LoginSuccess)
	g.whisper(t, "You are now linked")

	r.Disconnect(b.c)

	g.whisper(t, "Your link has been disconnected. Your link code is: "+g.code())
	require.Nil(t, g.session().Linked())
	require.Equal(t, 1, r.Sessions())

	// and the code works again
	b2 := newBrowser(r)
	b2.login(t, "", g.code())
	b2.next(t, api.LoginSuccess)
}

func TestJoin(t *testing.T) {
	r := newTestRelay(t)
	g1 := newGameClient(t, r, "Steve")
	g2 := newGameClient(t, r, "Alex")
	b1, b2 := newBrowser(r), newBrowser(r)
	b1.login(t, "", g1.code())
	b1.next(t, api.LoginSuccess)
	b2.login(t, "", g2.code())
	b2.next(t, api.LoginSuccess)

	b1.sendMessage(t, api.Join, nil)

	m := b2.next(t, api.AddClient)
	var rs api.AddClientData
	require.NoError(t, json.Unmarshal(m.Data, &rs))
	require.Equal(t, b1.session().Info(), rs.Client)
	b1.quiet(t, api.AddClient, 20*time.Millisecond)
}

func TestSignals(t *testing.T) {
	r := newTestRelay(t)
	g1 := newGameClient(t, r, "Steve")
	g2 := newGameClient(t, r, "Alex")
	g2.whisper(t, "Your link code is "+g2.code())
	b1, b2 := newBrowser(r), newBrowser(r)
	b1.login(t, "", g1.code())
	b1.next(t, api.LoginSuccess)
	b2.login(t, "", g2.code())
	b2.next(t, api.LoginSuccess)
	g2.whisper(t, "You are now linked")

	signal := json.RawMessage(`{"sdp":"v=0...","type":"offer"}`)
	for _, typ := range []string{api.SendSignal, api.ReceiveSignal} {
		t.Run(typ, func(t *testing.T) {
			b1.sendMessage(t, typ, api.SignalRequest{To: b2.session().Id().String(), SignalData: signal})
			m := b2.next(t, typ)
			var rs api.SignalData
			require.NoError(t, json.Unmarshal(m.Data, &rs))
			require.Equal(t, b2.session().Info(), rs.Client)
			require.Equal(t, b1.session().Info(), rs.From)
			require.JSONEq(t, string(signal), string(rs.SignalData))
		})
	}

	t.Run("dropped", func(t *testing.T) {
		stranger := newBrowser(r)
		for _, to := range []string{"", "garbage", g2.session().Id().String(), "cfv68irdrc3ifu3jn6bg"} {
			b1.sendMessage(t, api.SendSignal, api.SignalRequest{To: to, SignalData: signal})
			// not logged in senders have no session
			stranger.sendMessage(t, api.SendSignal, api.SignalRequest{To: b2.session().Id().String(), SignalData: signal})
		}
		b2.quiet(t, api.SendSignal, 30*time.Millisecond)
		g2.quiet(t)
	})
}

// quiet checks that the bridge gets nothing but position queries.
func (g *gameClient) quiet(t *testing.T) {
	t.Helper()
	select {
	case w := <-g.whispers:
		require.FailNow(t, "unexpected whisper", w)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestMalformedEcho(t *testing.T) {
	r := newTestRelay(t)
	b := newBrowser(r)

	for _, raw := range []string{"{oops", "not json", `[1,2`, `"str"`} {
		r.Dispatch(b.c, []byte(raw))
		select {
		case echo := <-b.out:
			require.Equal(t, raw, string(echo))
		case <-time.After(waitTime):
			require.FailNow(t, "no echo", raw)
		}
	}
}

func TestShutdown(t *testing.T) {
	r := newTestRelay(t)
	g := newGameClient(t, r, "Steve")
	b := newBrowser(r)
	b.login(t, "", g.code())
	b.next(t, api.LoginSuccess)
	lonely := newPipe()
	c := r.Accept(lonely)
	r.Run()

	require.NoError(t, r.Shutdown(context.Background()))
	require.Zero(t, r.Sessions())
	require.True(t, g.closed.Load())
	require.True(t, b.closed.Load())
	require.True(t, lonely.closed.Load())
	require.True(t, c.IsClosed())
}

func TestShutdownWhileClassifying(t *testing.T) {
	r := newTestRelay(t, func(c *config.Config) { c.Relay.ClassifyTimeout = time.Millisecond })
	r.Run()

	var pipes []*pipe
	for range 50 {
		p := newPipe()
		pipes = append(pipes, p)
		r.Accept(p)
	}
	require.NoError(t, r.Shutdown(context.Background()))
	for _, p := range pipes {
		require.True(t, p.closed.Load())
	}

	// the stopped relay takes nothing new
	late := newPipe()
	c := r.Accept(late)
	require.True(t, c.IsClosed())
	require.True(t, late.closed.Load())
	require.False(t, r.spawn(func() {}))
	time.Sleep(10 * time.Millisecond)
	require.Zero(t, r.Sessions())
}
