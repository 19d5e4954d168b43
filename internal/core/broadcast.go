package core

import (
	"context"
	"errors"
	"time"

	"github.com/vovakirdan/wirechat-realtime/internal/proto"
)

// send queues one envelope for a single connection.
// Transport faults are not reported to anyone; the transport runs Disconnect.
func (h *Hub) send(c *Conn, envelopeType string, data any) {
	err := c.Send(proto.Outbound{Type: envelopeType, Data: data})
	switch {
	case err == nil:
		h.metrics.Outbound(envelopeType)
	case errors.Is(err, ErrSlowConsumer):
		h.log.Warn().Str("conn_id", c.ID).Str("type", envelopeType).Msg("outbound buffer full, closing connection")
	default:
		h.log.Debug().Err(err).Str("conn_id", c.ID).Str("type", envelopeType).Msg("send skipped")
	}
}

func (h *Hub) sendError(c *Conn, e *CoreError) {
	h.metrics.ErrorSent(e.Code)
	h.send(c, proto.OutboundTypeError, proto.Error{Error: e.Message, Code: e.Code})
}

// sendTo resolves each identity through the connection registry at send time
// and delivers to those currently connected. Unreachable identities are skipped.
func (h *Hub) sendTo(userIDs []string, envelopeType string, data any) int {
	delivered := 0
	for _, userID := range userIDs {
		c, ok := h.registry.Lookup(userID)
		if !ok {
			h.metrics.BroadcastSkipped()
			continue
		}
		h.send(c, envelopeType, data)
		delivered++
	}
	return delivered
}

// broadcastRoom delivers to every member of roomID except the excluded identity.
func (h *Hub) broadcastRoom(roomID, exclude, envelopeType string, data any) int {
	members := h.registry.RoomMembers(roomID)
	targets := members[:0]
	for _, id := range members {
		if id != exclude {
			targets = append(targets, id)
		}
	}
	return h.sendTo(targets, envelopeType, data)
}

// broadcastFriends delivers to each accepted friend of userID, one recipient at a time.
func (h *Hub) broadcastFriends(ctx context.Context, userID, envelopeType string, data any) error {
	friendIDs, err := h.friends.FriendIDs(ctx, userID)
	if err != nil {
		return err
	}
	for _, friendID := range friendIDs {
		h.sendTo([]string{friendID}, envelopeType, data)
	}
	return nil
}

func (h *Hub) broadcastPresence(ctx context.Context, id Identity, status string) error {
	return h.broadcastFriends(ctx, id.UserID, proto.OutboundTypeFriendStatus, proto.FriendStatus{
		UserID:    id.UserID,
		Username:  id.Username,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}
