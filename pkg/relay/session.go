package relay

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/proxchat/relay/pkg/api"
	"github.com/proxchat/relay/pkg/com"
	"github.com/proxchat/relay/pkg/logger"
)

// Kind is the kind of the peer behind a session.
type Kind uint8

const (
	Bridge Kind = iota + 1
	Browser
)

func (k Kind) String() string {
	switch k {
	case Bridge:
		return "bridge"
	case Browser:
		return "browser"
	default:
		return "unknown"
	}
}

const unknownName = "Unknown"

// Session is a classified peer connection.
type Session struct {
	id   com.Uid
	kind Kind
	conn *Conn
	log  *logger.Logger

	mu   sync.RWMutex
	name string
	// linked is changed only with the registry lock held
	linked *Session

	*bridge
}

// bridge keeps the state only the game client sessions have.
type bridge struct {
	code  string
	calls *com.Calls[json.RawMessage]

	pos       [3]float64
	yRot      float64
	dimension int
}

func newSession(kind Kind, conn *Conn, name string) *Session {
	id := com.NewUid()
	return &Session{
		id:   id,
		kind: kind,
		conn: conn,
		name: name,
		log:  conn.log.Extend(conn.log.With().Str(logger.KindField, kind.String()).Str("sid", id.Short())),
	}
}

func newBridgeSession(conn *Conn, timeout time.Duration) *Session {
	s := newSession(Bridge, conn, unknownName)
	s.bridge = &bridge{calls: com.NewCalls[json.RawMessage](timeout)}
	return s
}

func newBrowserSession(conn *Conn, name string) *Session { return newSession(Browser, conn, name) }

func (s *Session) Id() com.Uid    { return s.id }
func (s *Session) Kind() Kind     { return s.kind }
func (s *Session) Conn() *Conn    { return s.conn }
func (s *Session) IsBridge() bool { return s.kind == Bridge }

func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

func (s *Session) Linked() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.linked
}

func (s *Session) setLinked(peer *Session) {
	s.mu.Lock()
	s.linked = peer
	s.mu.Unlock()
}

// LinkCode returns the code of a bridge session, browsers have none.
func (s *Session) LinkCode() string {
	if s.bridge == nil {
		return ""
	}
	return s.code
}

// Position returns the last known position of a bridge session.
func (s *Session) Position() (pos [3]float64, dimension int, yRot float64) {
	if s.bridge == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pos, s.dimension, s.yRot
}

func (s *Session) setPosition(t *api.QueryTarget) {
	s.mu.Lock()
	s.pos = [3]float64{t.Position.X, t.Position.Y, t.Position.Z}
	s.dimension = t.Dimension
	s.yRot = t.YRot
	s.mu.Unlock()
}

// Info returns the public info of the session peer.
func (s *Session) Info() api.PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return api.PeerInfo{
		Name:       s.name,
		IsMCClient: s.kind == Bridge,
		IsLinked:   s.linked != nil,
		Id:         s.id.String(),
	}
}

func (s *Session) String() string { return s.kind.String() + ":" + s.id.String() }
