package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-realtime/internal/proto"
	"github.com/vovakirdan/wirechat-realtime/internal/store"
)

type fakeLink struct {
	mu         sync.Mutex
	terminated bool
	reason     string
	answer     atomic.Bool
}

func newFakeLink(answer bool) *fakeLink {
	l := &fakeLink{}
	l.answer.Store(answer)
	return l
}

func (l *fakeLink) Ping(ctx context.Context) error {
	if l.answer.Load() {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (l *fakeLink) Terminate(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.terminated = true
	l.reason = reason
}

func (l *fakeLink) Terminated() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.terminated, l.reason
}

// fakeVerifier accepts tokens of the form "token-<userID>".
type fakeVerifier struct{}

func (fakeVerifier) Verify(token string) (string, error) {
	userID, ok := strings.CutPrefix(token, "token-")
	if !ok || userID == "" {
		return "", errors.New("bad token")
	}
	return userID, nil
}

type fakeStore struct {
	mu         sync.Mutex
	profiles   map[string]*store.Profile
	companions map[string]*store.Companion
	messages   []*store.GuildMessage
	friends    map[string][]string
	saveCalls  int
	historyErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:   make(map[string]*store.Profile),
		companions: make(map[string]*store.Companion),
		friends:    make(map[string][]string),
	}
}

func (s *fakeStore) addUser(id, username, guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &store.Profile{ID: id, Username: username, Level: 1}
	if guildID != "" {
		g := guildID
		p.GuildID = &g
	}
	s.profiles[id] = p
}

func (s *fakeStore) befriend(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friends[a] = append(s.friends[a], b)
	s.friends[b] = append(s.friends[b], a)
}

func (s *fakeStore) GetProfile(_ context.Context, userID string) (*store.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) SaveGuildMessage(_ context.Context, msg *store.GuildMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	msg.ID = int64(len(s.messages) + 1)
	msg.CreatedAt = time.Now().UTC()
	if p, ok := s.profiles[msg.UserID]; ok {
		msg.Username = p.Username
		msg.UserLevel = p.Level
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeStore) ListGuildMessages(_ context.Context, guildID string, limit int) ([]*store.GuildMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	var out []*store.GuildMessage
	for _, m := range s.messages {
		if m.GuildID == guildID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fakeStore) GetOwnedCompanion(_ context.Context, companionID, ownerID string) (*store.Companion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companions[companionID]
	if !ok || c.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (s *fakeStore) FriendIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.friends[userID]...), nil
}

func (s *fakeStore) saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCalls
}

func newTestHub(t *testing.T, st *fakeStore, opts Options) *Hub {
	t.Helper()
	return NewHub(Deps{Verifier: fakeVerifier{}, Store: st, Friends: st}, opts)
}

// attach opens a connection and drains its greeting.
func attach(t *testing.T, h *Hub, link Link) *Conn {
	t.Helper()
	c := h.Attach(link)
	mustEnvelope(t, c, proto.OutboundTypeConnectionEstablished)
	return c
}

func dispatch(t *testing.T, h *Hub, c *Conn, envelopeType string, data any) {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal %s: %v", envelopeType, err)
		}
		raw = b
	}
	h.Dispatch(context.Background(), c, proto.Inbound{Type: envelopeType, Data: raw})
}

// login attaches and authenticates a connection for userID.
func login(t *testing.T, h *Hub, userID string) *Conn {
	t.Helper()
	c := attach(t, h, newFakeLink(true))
	dispatch(t, h, c, proto.InboundTypeAuthenticate, proto.AuthenticateData{Token: "token-" + userID})
	mustEnvelope(t, c, proto.OutboundTypeAuthenticated)
	return c
}

// mustEnvelope waits for the next envelope of the given type, discarding others.
func mustEnvelope(t *testing.T, c *Conn, envelopeType string) proto.Outbound {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case env := <-c.Outbound():
			if env.Type == envelopeType {
				return env
			}
		case <-timeout:
			t.Fatalf("expected %q envelope not received", envelopeType)
			return proto.Outbound{}
		}
	}
}

// mustError waits for an error envelope and checks its code.
func mustError(t *testing.T, c *Conn, code string) proto.Error {
	t.Helper()
	env := mustEnvelope(t, c, proto.OutboundTypeError)
	e, ok := env.Data.(proto.Error)
	if !ok {
		t.Fatalf("unexpected error payload %T", env.Data)
	}
	if e.Code != code {
		t.Fatalf("expected error code %q, got %q (%s)", code, e.Code, e.Error)
	}
	return e
}

// noEnvelope asserts nothing of the given type is queued.
func noEnvelope(t *testing.T, c *Conn, envelopeType string) {
	t.Helper()
	for {
		select {
		case env := <-c.Outbound():
			if env.Type == envelopeType {
				t.Fatalf("unexpected %q envelope: %+v", envelopeType, env.Data)
			}
		default:
			return
		}
	}
}
