package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vovakirdan/wirechat-realtime/internal/proto"
)

type handlerFunc func(ctx context.Context, c *Conn, data json.RawMessage) error

func (h *Hub) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		proto.InboundTypeAuthenticate:      h.handleAuthenticate,
		proto.InboundTypeJoinGuildChat:     h.handleJoinGuildChat,
		proto.InboundTypeLeaveGuildChat:    h.handleLeaveGuildChat,
		proto.InboundTypeGuildChatMessage:  h.handleGuildChatMessage,
		proto.InboundTypeFriendStatus:      h.handleFriendStatus,
		proto.InboundTypeCompanionActivity: h.handleCompanionActivity,
		proto.InboundTypePing:              h.handlePing,
	}
}

// Dispatch routes one inbound envelope to its handler. It never closes the
// connection: unknown types, handler errors and panics become error envelopes.
// Envelopes of one connection must be dispatched sequentially.
func (h *Hub) Dispatch(ctx context.Context, c *Conn, in proto.Inbound) {
	h.metrics.Inbound(in.Type)

	handler, ok := h.handlers[in.Type]
	if !ok {
		h.log.Debug().Str("conn_id", c.ID).Str("type", in.Type).Msg("unknown message type")
		h.sendError(c, coreError(ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", in.Type)))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.log.Error().
				Str("conn_id", c.ID).
				Str("type", in.Type).
				Interface("panic", r).
				Msg("handler panicked")
			h.sendError(c, coreError(ErrCodeInternal, "Internal server error"))
		}
	}()

	if err := handler(ctx, c, in.Data); err != nil {
		h.replyError(c, in.Type, err)
	}
}

// Reject answers the connection with a protocol error outside of a handler,
// e.g. for undecodable frames or rate limiting.
func (h *Hub) Reject(c *Conn, code, msg string) {
	h.sendError(c, coreError(code, msg))
}

func (h *Hub) replyError(c *Conn, envelopeType string, err error) {
	var ce *CoreError
	if errors.As(err, &ce) {
		h.log.Debug().Str("conn_id", c.ID).Str("type", envelopeType).Str("code", ce.Code).Msg(ce.Message)
		h.sendError(c, ce)
		return
	}
	h.log.Error().Err(err).Str("conn_id", c.ID).Str("type", envelopeType).Msg("handler failed")
	h.sendError(c, coreError(ErrCodeInternal, "Internal server error"))
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return coreError(ErrCodeBadRequest, "Invalid message format")
	}
	return nil
}
