package bootstrap

import (
	"context"
	"errors"

	"github.com/pubsync/pubsync/internal/common"
	"github.com/pubsync/pubsync/internal/logging"
	"github.com/pubsync/pubsync/internal/models"
	"github.com/pubsync/pubsync/internal/nexus"
	"github.com/pubsync/pubsync/internal/store/users"
)

// Flattener turns the indexer's raw notification list into persistable,
// UI-ready entries for one viewer, resolving any referenced entities that
// are missing from the local cache.
type Flattener interface {
	Flatten(ctx context.Context, viewer string, raw []models.Notification) ([]models.Notification, error)
}

// resolver is the default Flattener. Its gap-filling pass fetches and caches
// sender profiles referenced by notifications but unknown locally; a profile
// that cannot be resolved does not drop its notification.
type resolver struct {
	nexus nexus.Service
	users users.Repository
	log   logging.Logger
}

func NewFlattener(n nexus.Service, u users.Repository, log logging.Logger) Flattener {
	if log == nil {
		log = logging.Noop()
	}
	return &resolver{nexus: n, users: u, log: log}
}

func (r *resolver) Flatten(ctx context.Context, viewer string, raw []models.Notification) ([]models.Notification, error) {
	out := make([]models.Notification, 0, len(raw))
	for _, n := range raw {
		if n.Pubky == "" {
			n.Pubky = viewer
		}
		if n.Sender != "" {
			if err := r.ensureUser(ctx, n.Sender); err != nil {
				return nil, err
			}
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *resolver) ensureUser(ctx context.Context, pubky string) error {
	_, err := r.users.Get(ctx, pubky)
	if err == nil {
		return nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return err
	}

	user, err := r.nexus.FetchUser(ctx, pubky)
	if err != nil {
		// The indexer may not know the sender yet; keep the notification
		// and let a later pass fill the profile in.
		r.log.Warn(ctx, "could not resolve notification sender", "pubky", pubky, "error", err)
		return nil
	}
	return r.users.Upsert(ctx, user)
}
