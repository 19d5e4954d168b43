package friends

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/vovakirdan/wirechat-realtime/internal/store"
)

type fakeFriendStore struct {
	rows []*store.Friend
	err  error
}

func (f *fakeFriendStore) CreateFriendship(context.Context, string, string, store.FriendStatus) (*store.Friend, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeFriendStore) ListFriends(_ context.Context, userID string, status *store.FriendStatus) ([]*store.Friend, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*store.Friend
	for _, r := range f.rows {
		if r.UserID != userID && r.FriendID != userID {
			continue
		}
		if status != nil && r.Status != *status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func TestFriendIDsEitherDirection(t *testing.T) {
	svc := New(&fakeFriendStore{rows: []*store.Friend{
		{UserID: "a", FriendID: "b", Status: store.FriendStatusAccepted},
		{UserID: "c", FriendID: "a", Status: store.FriendStatusAccepted},
		{UserID: "b", FriendID: "a", Status: store.FriendStatusAccepted},
		{UserID: "a", FriendID: "d", Status: store.FriendStatusPending},
		{UserID: "e", FriendID: "a", Status: store.FriendStatusBlocked},
	}})

	ids, err := svc.FriendIDs(context.Background(), "a")
	if err != nil {
		t.Fatalf("friend ids: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "c" {
		t.Fatalf("expected [b c], got %v", ids)
	}
}

func TestFriendIDsPropagatesStoreError(t *testing.T) {
	boom := errors.New("db down")
	svc := New(&fakeFriendStore{err: boom})

	if _, err := svc.FriendIDs(context.Background(), "a"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}
