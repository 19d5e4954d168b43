package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-realtime/internal/metrics"
	"github.com/vovakirdan/wirechat-realtime/internal/proto"
	"github.com/vovakirdan/wirechat-realtime/internal/store"
	"github.com/vovakirdan/wirechat-realtime/internal/utils"
)

// TokenVerifier validates bearer tokens and returns the user ID they carry.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Datastore is the slice of the persistent store the hub reads and writes.
type Datastore interface {
	GetProfile(ctx context.Context, userID string) (*store.Profile, error)
	SaveGuildMessage(ctx context.Context, msg *store.GuildMessage) error
	ListGuildMessages(ctx context.Context, guildID string, limit int) ([]*store.GuildMessage, error)
	GetOwnedCompanion(ctx context.Context, companionID, ownerID string) (*store.Companion, error)
}

// FriendResolver lists the accepted friends of a user.
type FriendResolver interface {
	FriendIDs(ctx context.Context, userID string) ([]string, error)
}

// Options tunes hub behavior.
type Options struct {
	PingInterval     time.Duration
	HistoryLimit     int
	MaxMessageLength int
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = 500
	}
	return o
}

// Deps are the collaborators a hub needs.
type Deps struct {
	Verifier TokenVerifier
	Store    Datastore
	Friends  FriendResolver
	Logger   *zerolog.Logger
	Metrics  *metrics.Metrics
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Rooms       int `json:"rooms"`
}

// Hub routes envelopes between connections and owns the process-wide registries.
type Hub struct {
	registry *Registry
	verifier TokenVerifier
	store    Datastore
	friends  FriendResolver
	opts     Options
	log      *zerolog.Logger
	metrics  *metrics.Metrics
	handlers map[string]handlerFunc

	openMu sync.Mutex
	open   map[*Conn]struct{}
}

// NewHub creates a hub with empty registries.
func NewHub(deps Deps, opts Options) *Hub {
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	h := &Hub{
		registry: NewRegistry(),
		verifier: deps.Verifier,
		store:    deps.Store,
		friends:  deps.Friends,
		opts:     opts.withDefaults(),
		log:      logger,
		metrics:  deps.Metrics,
		open:     make(map[*Conn]struct{}),
	}
	h.handlers = h.routes()
	return h
}

// Registry exposes the registries for read-only inspection.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Attach creates a connection for a freshly opened transport and greets it.
func (h *Hub) Attach(link Link) *Conn {
	c := NewConn(utils.NewID(), link)

	h.openMu.Lock()
	h.open[c] = struct{}{}
	h.openMu.Unlock()
	h.metrics.ConnectionOpened()

	h.log.Info().Str("conn_id", c.ID).Msg("connection opened")
	h.send(c, proto.OutboundTypeConnectionEstablished, proto.ConnectionEstablished{
		ConnectionID: c.ID,
		Message:      "Connected to realtime server",
	})
	return c
}

// Disconnect cleans up after a closed transport. It is idempotent and safe to
// call from the transport and from the liveness monitor.
func (h *Hub) Disconnect(ctx context.Context, c *Conn) {
	id, wasCurrent, ok := h.detach(c, CloseReasonDisconnected)
	if !ok || !wasCurrent {
		return
	}
	h.announceOffline(context.WithoutCancel(ctx), id)
}

// detach removes c from every registry. ok is false when c was already detached.
// c is closed before Remove takes the registry lock, so an authenticate racing
// with detach either lands first and is undone here, or sees a closed handle.
func (h *Hub) detach(c *Conn, reason string) (id Identity, wasCurrent, ok bool) {
	if !c.markDetached() {
		return Identity{}, false, false
	}
	c.Close(reason)

	h.openMu.Lock()
	delete(h.open, c)
	h.openMu.Unlock()
	h.metrics.ConnectionClosed()

	roomID, removed := h.registry.Remove(c)
	id, authenticated := c.Identity()
	if !authenticated {
		h.log.Info().Str("conn_id", c.ID).Msg("connection closed")
		return id, false, true
	}

	h.refreshGauges()
	h.log.Info().
		Str("conn_id", c.ID).
		Str("user_id", id.UserID).
		Str("room_id", roomID).
		Bool("was_current", removed).
		Msg("connection closed")
	return id, removed, true
}

func (h *Hub) announceOffline(ctx context.Context, id Identity) {
	if err := h.broadcastPresence(ctx, id, proto.StatusOffline); err != nil {
		h.log.Error().Err(err).Str("user_id", id.UserID).Msg("offline presence broadcast failed")
	}
}

// Stats returns current connection and room counts.
func (h *Hub) Stats() Stats {
	users, rooms := h.registry.Stats()
	h.openMu.Lock()
	open := len(h.open)
	h.openMu.Unlock()
	return Stats{Connections: open, Users: users, Rooms: rooms}
}

func (h *Hub) openConns() []*Conn {
	h.openMu.Lock()
	defer h.openMu.Unlock()

	conns := make([]*Conn, 0, len(h.open))
	for c := range h.open {
		conns = append(conns, c)
	}
	return conns
}

func (h *Hub) refreshGauges() {
	users, rooms := h.registry.Stats()
	h.metrics.SetRegistrySize(users, rooms)
}

// closeAll closes every open connection; transports then run Disconnect.
func (h *Hub) closeAll(reason string) {
	for _, c := range h.openConns() {
		c.Close(reason)
	}
}
