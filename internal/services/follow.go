// Package services implements the write-through mutation layer: every
// mutation lands in the local cache first, and only on local success is the
// homeserver call issued. The remote store is the durability boundary, but
// local cache correctness must never regress behind it.
package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pubsync/pubsync/internal/homeserver"
	"github.com/pubsync/pubsync/internal/store/users"
)

// FollowRequest carries one follow-graph event: the HTTP verb to replay
// against the homeserver plus the relationship it encodes.
type FollowRequest struct {
	// EventType is the HTTP verb. PUT and DELETE mutate the local
	// relationship first; GET is forwarded untouched (idempotent replay).
	EventType string

	FollowURL  string
	FollowJSON []byte

	Follower string
	Followee string
}

// FollowService applies follow/unfollow events write-through.
type FollowService struct {
	users users.Repository
	hs    homeserver.Service
	now   func() time.Time
}

func NewFollowService(u users.Repository, hs homeserver.Service) *FollowService {
	return &FollowService{users: u, hs: hs, now: time.Now}
}

// Follow processes one event. A local mutation failure is a hard stop: the
// homeserver is never called with the cache in an unknown state. The remote
// call is always forwarded, whatever the verb.
func (s *FollowService) Follow(ctx context.Context, req FollowRequest) error {
	switch req.EventType {
	case http.MethodPut:
		if err := s.users.PutRelationship(ctx, req.Follower, req.Followee, s.now().UnixMilli()); err != nil {
			return fmt.Errorf("recording relationship: %w", err)
		}
	case http.MethodDelete:
		if err := s.users.DeleteRelationship(ctx, req.Follower, req.Followee); err != nil {
			return fmt.Errorf("removing relationship: %w", err)
		}
	}

	if _, err := s.hs.Request(ctx, req.EventType, req.FollowURL, req.FollowJSON); err != nil {
		return fmt.Errorf("forwarding follow event: %w", err)
	}
	return nil
}
