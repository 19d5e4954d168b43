package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-realtime/internal/config"
	"github.com/vovakirdan/wirechat-realtime/internal/core"
	"github.com/vovakirdan/wirechat-realtime/internal/proto"
)

// inboxSize bounds envelopes read but not yet dispatched on one connection.
const inboxSize = 32

// inbound is one read frame queued for the dispatcher; a non-empty rejectCode
// answers it with an error instead of dispatching.
type inbound struct {
	env        proto.Inbound
	rejectCode string
	rejectMsg  string
}

// WSHandler upgrades HTTP connections and bridges them to core.Conn.
type WSHandler struct {
	hub            *core.Hub
	log            *zerolog.Logger
	originPatterns []string
	readLimit      int64
	writeTimeout   time.Duration
	ratePerMinute  int
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:            hub,
		log:            logger,
		originPatterns: cfg.AllowedOrigins,
		readLimit:      cfg.MaxMessageBytes,
		writeTimeout:   cfg.WriteTimeout,
		ratePerMinute:  cfg.RateLimitPerMinute,
	}
}

// wsLink exposes a websocket to the core as a liveness-probable, terminable link.
type wsLink struct {
	conn *websocket.Conn
}

func (l *wsLink) Ping(ctx context.Context) error {
	return l.conn.Ping(ctx)
}

// Terminate starts a close handshake in the background; Close itself waits for
// the peer and force-closes after its own timeout.
func (l *wsLink) Terminate(reason string) {
	status := websocket.StatusPolicyViolation
	switch reason {
	case core.CloseReasonShutdown:
		status = websocket.StatusGoingAway
	case core.CloseReasonDisconnected:
		status = websocket.StatusNormalClosure
	}
	go func() {
		_ = l.conn.Close(status, reason)
	}()
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
	if len(h.originPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("ws accept error")
		return
	}
	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	client := h.hub.Attach(&wsLink{conn: conn})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Handlers run off the read goroutine so control frames, pongs included,
	// keep being processed while a handler waits on the datastore.
	inbox := make(chan inbound, inboxSize)
	var dispatching sync.WaitGroup
	dispatching.Add(1)
	go func() {
		defer dispatching.Done()
		h.dispatchLoop(ctx, client, inbox)
	}()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, inbox)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutines
	<-errCh
	dispatching.Wait()

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "internal error"
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		}
	}

	_ = conn.Close(status, reason)
	h.hub.Disconnect(context.WithoutCancel(r.Context()), client)
}

// readLoop decodes frames itself so a malformed envelope is answered with an
// error instead of tearing the connection down.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn, inbox chan<- inbound) error {
	limiter := newRateLimiter(h.ratePerMinute)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("read ws inbound")
			return err
		}

		var item inbound
		switch {
		case !limiter.allow():
			item = inbound{rejectCode: core.ErrCodeRateLimited, rejectMsg: "Rate limit exceeded"}
		case json.Unmarshal(data, &item.env) != nil || item.env.Type == "":
			item = inbound{rejectCode: core.ErrCodeBadRequest, rejectMsg: "Invalid message format"}
		}

		select {
		case inbox <- item:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.hub.Reject(client, core.ErrCodeRateLimited, "Too many pending messages")
		}
	}
}

// dispatchLoop hands queued envelopes to the hub one at a time, preserving
// the order they were read in.
func (h *WSHandler) dispatchLoop(ctx context.Context, client *core.Conn, inbox <-chan inbound) {
	for {
		select {
		case item := <-inbox:
			if item.rejectCode != "" {
				h.hub.Reject(client, item.rejectCode, item.rejectMsg)
				continue
			}
			h.hub.Dispatch(ctx, client, item.env)
		case <-ctx.Done():
			return
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn) error {
	for {
		select {
		case env := <-client.Outbound():
			if err := h.write(ctx, conn, env); err != nil {
				h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("write ws envelope")
				return err
			}
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, env proto.Outbound) error {
	if h.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.writeTimeout)
		defer cancel()
	}
	return wsjson.Write(ctx, conn, env)
}
