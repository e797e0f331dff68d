package relay

import (
	"errors"
	"sync"

	"github.com/proxchat/relay/pkg/api"
)

// Wildcard handlers get every frame.
const Wildcard = "*"

var ErrMalformedFrame = errors.New("malformed frame")

// Handler processes an inbound frame of the connection.
// The session is nil for the connections not classified yet.
type Handler func(c *Conn, s *Session, f *api.Frame)

// Bus routes frames to the handlers subscribed for their keys.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler
}

func NewBus() *Bus { return &Bus{subs: make(map[string][]Handler)} }

func (b *Bus) Subscribe(key string, h Handler) {
	b.mu.Lock()
	b.subs[key] = append(b.subs[key], h)
	b.mu.Unlock()
}

// handlers returns the wildcard handlers followed by the handlers of the key.
func (b *Bus) handlers(key string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	all := b.subs[Wildcard]
	if key == "" || key == Wildcard {
		return all
	}
	out := make([]Handler, 0, len(all)+len(b.subs[key]))
	return append(append(out, all...), b.subs[key]...)
}

// Publish calls all the handlers of the key in their order.
func (b *Bus) Publish(key string, c *Conn, s *Session, f *api.Frame) {
	for _, h := range b.handlers(key) {
		h(c, s, f)
	}
}
