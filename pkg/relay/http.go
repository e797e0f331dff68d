package relay

import (
	"net/http"

	"github.com/proxchat/relay/pkg/network/websocket"
)

// Handler returns the HTTP routes of the relay.
func (r *Relay) Handler() http.Handler {
	h := http.NewServeMux()
	h.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	h.HandleFunc("/", r.handleWebsocket)
	return h
}

// handleWebsocket serves both kinds of the peers.
func (r *Relay) handleWebsocket(w http.ResponseWriter, rq *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			r.log.Error().Msgf("websocket handler panic: %v", err)
		}
	}()

	ws, err := websocket.NewServer(w, rq, r.log)
	if err != nil {
		r.log.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	c := r.Accept(ws)
	c.log.Debug().Str("addr", ws.RemoteAddr()).Msg("websocket")
	ws.OnMessage = func(message []byte, _ error) { r.Dispatch(c, message) }
	<-ws.Listen()
	r.Disconnect(c)
}
