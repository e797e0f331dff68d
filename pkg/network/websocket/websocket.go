package websocket

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/proxchat/relay/pkg/logger"
)

const (
	maxMessageSize = 64 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
	sendQueue      = 64
)

type WS struct {
	sock *websocket.Conn
	send chan []byte

	OnMessage MessageHandler

	pingPong bool
	log      *logger.Logger

	once   sync.Once
	closed chan struct{}
	Done   chan struct{}
}

type MessageHandler func(message []byte, err error)

type Upgrader struct {
	websocket.Upgrader
}

// DefaultUpgrader accepts any origin, both browsers of any site
// and the game client connect to the same endpoint.
var DefaultUpgrader = Upgrader{
	Upgrader: websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteBufferPool: &sync.Pool{},
		CheckOrigin:     func(*http.Request) bool { return true },
	},
}

// NewServer upgrades an HTTP request into a websocket peer connection.
func NewServer(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*WS, error) {
	conn, err := DefaultUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, true, log), nil
}

func NewClient(address url.URL, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, log), nil
}

func newSocket(conn *websocket.Conn, pingPong bool, log *logger.Logger) *WS {
	if log == nil {
		log = logger.Default()
	}
	return &WS{
		sock:     conn,
		send:     make(chan []byte, sendQueue),
		pingPong: pingPong,
		log:      log,
		closed:   make(chan struct{}),
		Done:     make(chan struct{}),
	}
}

// Listen starts the read and write pumps.
// The returned channel is closed when the connection is completely shut.
func (ws *WS) Listen() chan struct{} {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); ws.writer() }()
	go func() { defer wg.Done(); ws.reader() }()
	go func() {
		wg.Wait()
		_ = ws.sock.Close()
		close(ws.Done)
	}()
	return ws.Done
}

// reader pumps messages from the websocket connection to the OnMessage callback.
// Blocking, must be called as goroutine. Serializes all websocket reads.
func (ws *WS) reader() {
	defer ws.Close()
	ws.sock.SetReadLimit(maxMessageSize)
	if ws.pingPong {
		_ = ws.sock.SetReadDeadline(time.Now().Add(pongTime))
		ws.sock.SetPongHandler(func(string) error { return ws.sock.SetReadDeadline(time.Now().Add(pongTime)) })
	}
	for {
		_, message, err := ws.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.Warn().Err(err).Msg("WebSocket read fail")
			}
			return
		}
		if ws.OnMessage != nil {
			ws.OnMessage(message, nil)
		}
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Blocking, must be called as goroutine. Serializes all websocket writes.
func (ws *WS) writer() {
	var ping <-chan time.Time
	if ws.pingPong {
		ticker := time.NewTicker(pingTime)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer ws.Close()
	for {
		select {
		case message := <-ws.send:
			if err := ws.write(websocket.TextMessage, message); err != nil {
				ws.log.Debug().Err(err).Msg("WebSocket write fail")
				return
			}
		case <-ping:
			if err := ws.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ws.closed:
			_ = ws.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			// unblocks the reader
			_ = ws.sock.Close()
			return
		}
	}
}

// Write queues the data for sending, the data is dropped
// when the connection is closed or its queue is full.
func (ws *WS) Write(data []byte) {
	select {
	case <-ws.closed:
		return
	default:
	}
	select {
	case ws.send <- data:
	case <-ws.closed:
	default:
		ws.log.Warn().Msg("WebSocket send queue is full, message dropped")
	}
}

// Close initiates the connection shutdown.
func (ws *WS) Close() { ws.once.Do(func() { close(ws.closed) }) }

func (ws *WS) IsClosed() bool {
	select {
	case <-ws.closed:
		return true
	default:
		return false
	}
}

func (ws *WS) RemoteAddr() string { return ws.sock.RemoteAddr().String() }

// write sends a message of the type t, only the writer pump writes.
func (ws *WS) write(t int, data []byte) error {
	if err := ws.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.sock.WriteMessage(t, data)
}
