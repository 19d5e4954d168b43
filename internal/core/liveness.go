package core

import (
	"context"
	"time"
)

// Run drives the liveness monitor until ctx ends, then closes every connection.
// Each tick reaps connections that missed the previous probe and probes the rest,
// so a dead peer is dropped within two intervals.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	h.log.Info().Dur("interval", h.opts.PingInterval).Msg("liveness monitor started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll(CloseReasonShutdown)
			h.log.Info().Msg("liveness monitor stopped")
			return
		case <-ticker.C:
			h.sweep(ctx)
		}
	}
}

func (h *Hub) sweep(ctx context.Context) {
	for _, c := range h.openConns() {
		if !c.Alive() {
			h.reap(ctx, c)
			continue
		}
		c.alive.Store(false)
		go h.probe(ctx, c)
	}
}

func (h *Hub) reap(ctx context.Context, c *Conn) {
	id, wasCurrent, ok := h.detach(c, CloseReasonTimeout)
	if !ok {
		return
	}
	h.metrics.Reaped()
	h.log.Info().Str("conn_id", c.ID).Str("user_id", id.UserID).Msg("reaped unresponsive connection")
	if wasCurrent {
		go h.announceOffline(context.WithoutCancel(ctx), id)
	}
}

func (h *Hub) probe(ctx context.Context, c *Conn) {
	if c.link == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, h.opts.PingInterval)
	defer cancel()

	if err := c.link.Ping(pctx); err != nil {
		h.log.Debug().Err(err).Str("conn_id", c.ID).Msg("liveness probe failed")
		return
	}
	c.MarkAlive()
}
