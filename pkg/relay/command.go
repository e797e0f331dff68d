package relay

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/gofrs/uuid"
	"github.com/proxchat/relay/pkg/api"
	"github.com/proxchat/relay/pkg/com"
)

var ErrNotBridge = errors.New("not a bridge session")

func newRequestId() string { return uuid.Must(uuid.NewV4()).String() }

// RunCommand executes a command on the bridge and waits
// for its response body.
func (r *Relay) RunCommand(ctx context.Context, s *Session, line string) (json.RawMessage, error) {
	return r.runCommand(ctx, s, line, nil)
}

// runCommand calls sent, if any, once the command is out
// and before its response is awaited.
func (r *Relay) runCommand(ctx context.Context, s *Session, line string, sent func()) (json.RawMessage, error) {
	if s.bridge == nil {
		return nil, ErrNotBridge
	}
	id := newRequestId()
	body, err := s.calls.Call(ctx, id, func() error {
		if err := s.conn.send(api.NewCommand(id, line)); err != nil {
			return err
		}
		if sent != nil {
			sent()
		}
		return nil
	})
	commandsTotal.WithLabelValues(commandResult(err)).Inc()
	return body, err
}

func commandResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, com.ErrTimeout):
		return "timeout"
	case errors.Is(err, com.ErrClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// SendChatMessage whispers the text to the bridge player
// without waiting for any response.
func (r *Relay) SendChatMessage(s *Session, text string) error {
	if s.bridge == nil {
		return ErrNotBridge
	}
	return s.conn.send(api.NewCommand(newRequestId(), api.CmdWhisper+text))
}

// resolveCommand completes a pending bridge command
// with the same request id as the frame has.
func (r *Relay) resolveCommand(_ *Conn, s *Session, f *api.Frame) {
	if s == nil || s.bridge == nil {
		return
	}
	if id := f.RequestId(); id != "" {
		s.calls.Resolve(id, f.Body)
	}
}
