package relay

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/proxchat/relay/pkg/com"
	"github.com/proxchat/relay/pkg/logger"
)

// Transport is the outbound side of a peer connection.
// Writes should not block.
type Transport interface {
	Write(data []byte)
	Close()
}

// Conn is an accepted peer connection which may or may not
// have a session yet.
type Conn struct {
	id  com.Uid
	t   Transport
	log *logger.Logger

	mu     sync.Mutex
	closed bool
	timer  *time.Timer
}

func newConn(t Transport, log *logger.Logger) *Conn {
	id := com.NewUid()
	return &Conn{
		id:  id,
		t:   t,
		log: log.Extend(log.With().Str(logger.ConnField, id.Short())),
	}
}

func (c *Conn) Id() com.Uid { return c.id }

// arm calls fn once after d unless the connection is closed before.
func (c *Conn) arm(d time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.timer = time.AfterFunc(d, fn)
}

// close marks the connection as closed and stops its timer.
// Returns false if it was closed already.
func (c *Conn) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	return true
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Write sends raw data, closed connections drop it.
func (c *Conn) Write(data []byte) {
	if c.IsClosed() {
		return
	}
	c.t.Write(data)
}

func (c *Conn) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if c.IsClosed() {
		return com.ErrClosed
	}
	c.t.Write(data)
	return nil
}
