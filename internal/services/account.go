package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/pubsync/pubsync/internal/homeserver"
	"github.com/pubsync/pubsync/internal/logging"
	"github.com/pubsync/pubsync/internal/models"
	"github.com/pubsync/pubsync/internal/store"
)

// ProgressFunc receives integer percent progress during account deletion.
type ProgressFunc func(percent int)

// AccountService deletes accounts: the local wipe first, then the remote
// records, the profile marker always last.
type AccountService struct {
	repos *store.Repositories
	hs    homeserver.Service
	log   logging.Logger
}

func NewAccountService(repos *store.Repositories, hs homeserver.Service, log logging.Logger) *AccountService {
	if log == nil {
		log = logging.Noop()
	}
	return &AccountService{repos: repos, hs: hs, log: log}
}

// DeleteAccount removes every trace of the identity. Local data goes first;
// remote files are then deleted in reverse lexicographic order so the most
// deeply nested paths fall before anything referencing them, and the profile
// marker falls last — an interrupted deletion always leaves the account
// discoverable, so the operation can be retried against a known point.
// Progress is reported after each remote deletion; any failure aborts
// immediately, with no compensation for files already gone.
func (s *AccountService) DeleteAccount(ctx context.Context, pubky string, progress ProgressFunc) error {
	if err := s.repos.DeleteAllForUser(ctx, pubky); err != nil {
		return fmt.Errorf("wiping local data: %w", err)
	}

	urls, err := s.hs.List(ctx, models.BaseDirURL(pubky))
	if err != nil {
		return fmt.Errorf("listing remote files: %w", err)
	}

	markerURL := models.ProfileURL(pubky)
	var marker string
	rest := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == markerURL {
			marker = u
			continue
		}
		rest = append(rest, u)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(rest)))

	emit := newProgressEmitter(progress)
	for i, u := range rest {
		if err := s.hs.Delete(ctx, u); err != nil {
			return fmt.Errorf("deleting %s: %w", u, err)
		}
		emit((i + 1) * 100 / len(rest))
	}

	if marker != "" {
		if err := s.hs.Delete(ctx, marker); err != nil {
			return fmt.Errorf("deleting profile marker: %w", err)
		}
	}
	emit(100)

	s.log.Info(ctx, "account deleted", "pubky", pubky, "files", len(urls))
	return nil
}

// newProgressEmitter suppresses consecutive duplicate values so callers see
// each percentage step once.
func newProgressEmitter(fn ProgressFunc) func(int) {
	last := -1
	return func(p int) {
		if fn == nil || p == last {
			return
		}
		last = p
		fn(p)
	}
}
