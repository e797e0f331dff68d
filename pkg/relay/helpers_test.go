package relay

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v3"
	"github.com/proxchat/relay/pkg/api"
	"github.com/proxchat/relay/pkg/config"
	"github.com/proxchat/relay/pkg/logger"
	"github.com/stretchr/testify/require"
)

const waitTime = 3 * time.Second

func testConfig() config.Config {
	return config.Config{
		Server: config.Server{Name: "test server"},
		Relay: config.Relay{
			MaxDistance:     25,
			ClassifyTimeout: 30 * time.Millisecond,
			CommandTimeout:  500 * time.Millisecond,
			PollInterval:    5 * time.Millisecond,
		},
		Webrtc: config.Webrtc{IceServers: []webrtc.ICEServer{{URLs: []string{config.DefaultStun}}}},
	}
}

func newTestRelay(t *testing.T, mods ...func(*config.Config)) *Relay {
	t.Helper()
	conf := testConfig()
	for _, mod := range mods {
		mod(&conf)
	}
	r := New(conf, logger.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTime)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

// pipe is an in-memory transport.
type pipe struct {
	out    chan []byte
	closed atomic.Bool
}

func newPipe() *pipe { return &pipe{out: make(chan []byte, 1024)} }

func (p *pipe) Write(data []byte) {
	select {
	case p.out <- data:
	default:
	}
}

func (p *pipe) Close() { p.closed.Store(true) }

type message struct {
	Type   string          `json:"type"`
	Server api.Server      `json:"server"`
	Data   json.RawMessage `json:"data"`
}

// browser is a fake browser peer.
type browser struct {
	*pipe
	c *Conn
	r *Relay
}

func newBrowser(r *Relay) *browser {
	p := newPipe()
	return &browser{pipe: p, c: r.Accept(p), r: r}
}

func (b *browser) sendMessage(t *testing.T, typ string, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"type": typ, "data": data})
	require.NoError(t, err)
	b.r.Dispatch(b.c, raw)
}

func (b *browser) login(t *testing.T, password, code string) {
	t.Helper()
	b.sendMessage(t, api.LoginRequest, api.LoginRequestData{Password: password, LinkCode: code})
}

// next skips messages until one of the type.
func (b *browser) next(t *testing.T, typ string) message {
	t.Helper()
	timeout := time.After(waitTime)
	for {
		select {
		case raw := <-b.out:
			var m message
			require.NoError(t, json.Unmarshal(raw, &m), "bad message %s", raw)
			if m.Type == typ {
				return m
			}
		case <-timeout:
			require.FailNow(t, "no message", "type %v", typ)
		}
	}
}

// quiet checks that no message of the type comes for some time.
func (b *browser) quiet(t *testing.T, typ string, d time.Duration) {
	t.Helper()
	timeout := time.After(d)
	for {
		select {
		case raw := <-b.out:
			var m message
			require.NoError(t, json.Unmarshal(raw, &m))
			require.NotEqual(t, typ, m.Type, "unexpected message %s", raw)
		case <-timeout:
			return
		}
	}
}

func (b *browser) session() *Session { return b.r.Session(b.c) }

// gameClient is a fake game client bridge which
// answers the relay commands.
type gameClient struct {
	*pipe
	c *Conn
	r *Relay

	name     string
	whispers chan string
	// target is the querytarget response body, nil means no answer
	target atomic.Pointer[string]
	done   chan struct{}
}

func newGameClient(t *testing.T, r *Relay, name string) *gameClient {
	t.Helper()
	p := newPipe()
	g := &gameClient{pipe: p, r: r, name: name, whispers: make(chan string, 100), done: make(chan struct{})}
	g.c = r.Accept(p)
	go g.serve()
	t.Cleanup(func() { close(g.done) })
	require.Eventually(t, func() bool { return g.session() != nil }, waitTime, time.Millisecond)
	return g
}

func (g *gameClient) serve() {
	for {
		var raw []byte
		select {
		case raw = <-g.out:
		case <-g.done:
			return
		}
		var rq struct {
			Header api.Header      `json:"header"`
			Body   api.CommandBody `json:"body"`
		}
		if err := json.Unmarshal(raw, &rq); err != nil {
			continue
		}
		line := rq.Body.CommandLine
		switch {
		case line == api.CmdLocalPlayerName:
			g.respond(rq.Header.RequestId, fmt.Sprintf(`{"localplayername":%q}`, g.name))
		case line == api.CmdQueryTarget:
			if body := g.target.Load(); body != nil {
				g.respond(rq.Header.RequestId, *body)
			}
		case strings.HasPrefix(line, api.CmdWhisper):
			g.whispers <- strings.TrimPrefix(line, api.CmdWhisper)
			g.respond(rq.Header.RequestId, `{"statusCode":0}`)
		}
	}
}

func (g *gameClient) respond(id, body string) { g.r.Dispatch(g.c, response(id, body)) }

func (g *gameClient) setTarget(body string) { g.target.Store(&body) }

// whisper waits for the chat message.
func (g *gameClient) whisper(t *testing.T, text string) {
	t.Helper()
	timeout := time.After(waitTime)
	for {
		select {
		case w := <-g.whispers:
			if w == text {
				return
			}
		case <-timeout:
			require.FailNow(t, "no whisper", "%q", text)
		}
	}
}

func (g *gameClient) session() *Session { return g.r.Session(g.c) }

func (g *gameClient) code() string { return g.session().LinkCode() }

func position(x, y, z float64, dimension int, yRot float64) string {
	details := fmt.Sprintf(`[{"dimension":%d,"position":{"x":%v,"y":%v,"z":%v},"yRot":%v}]`, dimension, x, y, z, yRot)
	raw, _ := json.Marshal(map[string]string{"details": details})
	return string(raw)
}
