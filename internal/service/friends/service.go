package friends

import (
	"context"
	"fmt"

	"github.com/vovakirdan/wirechat-realtime/internal/store"
)

// Service resolves friendships for presence and activity fan-out.
type Service struct {
	store store.FriendStore
}

// New creates a new friends Service.
func New(st store.FriendStore) *Service {
	return &Service{
		store: st,
	}
}

// FriendIDs returns the IDs of all accepted friends of userID.
// Friendships count in either direction; duplicates are collapsed.
func (s *Service) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	status := store.FriendStatusAccepted
	rows, err := s.store.ListFriends(ctx, userID, &status)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}

	seen := make(map[string]struct{}, len(rows))
	ids := make([]string, 0, len(rows))
	for _, f := range rows {
		other := f.FriendID
		if f.FriendID == userID {
			other = f.UserID
		}
		if other == userID {
			continue
		}
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		ids = append(ids, other)
	}
	return ids, nil
}
