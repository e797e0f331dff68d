package relay

import (
	"context"
	"time"

	"github.com/proxchat/relay/pkg/api"
)

// Broadcast polls the bridges for their player positions one by one
// and sends them to the linked browsers until the context is done.
func (r *Relay) Broadcast(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		for _, b := range r.reg.bridges() {
			if ctx.Err() != nil {
				return
			}
			if r.poll(ctx, b) {
				r.publish(b)
			}
		}
		timer.Reset(r.conf.PollInterval)
	}
}

// poll updates the position of the bridge, keeps the old one on any error.
func (r *Relay) poll(ctx context.Context, b *Session) bool {
	body, err := r.RunCommand(ctx, b, api.CmdQueryTarget)
	if err != nil {
		b.log.Debug().Err(err).Msg("querytarget")
		return false
	}
	t, err := api.ParseQueryTarget(body)
	if err != nil {
		b.log.Debug().Err(err).Msgf("bad querytarget: %s", body)
		return false
	}
	b.setPosition(t)
	return true
}

// publish sends the bridge position to all the linked browsers.
// The position goes under the id of the browser linked to the bridge.
func (r *Relay) publish(b *Session) {
	peer := b.Linked()
	if peer == nil {
		return
	}
	pos, dimension, yRot := b.Position()
	out := r.message(api.UpdatePlayer, api.UpdatePlayerData{
		Id:        peer.id.String(),
		Pos:       pos,
		Dimension: dimension,
		YRot:      yRot,
	})
	if out == nil {
		return
	}
	for _, s := range r.reg.browsers() {
		if s.Linked() != nil {
			s.conn.Write(out)
		}
	}
}
