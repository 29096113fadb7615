package lb

import (
	"context"
	"time"

	redisClient "github.com/flowmesh/core/internal/common/redis"
)

// StickyStore is the subset of the shared Redis client sticky sessions need,
// narrowed for testability.
type StickyStore interface {
	GetStickySession(ctx context.Context, sessionID string) (string, error)
	SetStickySession(ctx context.Context, sessionID, serverID string, ttl time.Duration) error
}

var _ StickyStore = (*redisClient.Client)(nil)

// Sticky wraps an Algorithm so that once a session is bound to a server, it
// keeps returning that server for the session's lifetime (as long as the
// server stays healthy), falling back to the wrapped algorithm otherwise.
type Sticky struct {
	Inner     Algorithm
	Store     StickyStore
	TTL       time.Duration
	SessionOf func(key string) string // extracts the session id from the selection key
}

func (s *Sticky) Select(servers []*Server, key string) (*Server, bool) {
	ctx := context.Background()
	sessionID := key
	if s.SessionOf != nil {
		sessionID = s.SessionOf(key)
	}

	if sessionID != "" {
		if boundID, err := s.Store.GetStickySession(ctx, sessionID); err == nil && boundID != "" {
			for _, srv := range servers {
				if srv.ID == boundID && srv.Healthy() {
					return srv, true
				}
			}
		}
	}

	chosen, ok := s.Inner.Select(servers, key)
	if !ok {
		return nil, false
	}

	if sessionID != "" {
		ttl := s.TTL
		if ttl == 0 {
			ttl = time.Hour
		}
		s.Store.SetStickySession(ctx, sessionID, chosen.ID, ttl)
	}

	return chosen, true
}
