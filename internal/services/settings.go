package services

import (
	"context"
	"fmt"
	"time"

	"github.com/pubsync/pubsync/internal/homeserver"
	"github.com/pubsync/pubsync/internal/models"
	"github.com/pubsync/pubsync/internal/store/settings"
)

// SettingsService syncs the per-identity settings document write-through.
type SettingsService struct {
	settings settings.Repository
	hs       homeserver.Service
	now      func() time.Time
}

func NewSettingsService(repo settings.Repository, hs homeserver.Service) *SettingsService {
	return &SettingsService{settings: repo, hs: hs, now: time.Now}
}

// Sync persists the settings document locally, then mirrors it to the
// homeserver. A local failure stops the sync before any remote write.
func (s *SettingsService) Sync(ctx context.Context, pubky string, data []byte) error {
	rec := &models.UserSettings{Pubky: pubky, Data: data, UpdatedAt: s.now().UnixMilli()}
	if err := s.settings.Put(ctx, rec); err != nil {
		return fmt.Errorf("persisting settings: %w", err)
	}
	if err := s.hs.Put(ctx, models.SettingsURL(pubky), data); err != nil {
		return fmt.Errorf("mirroring settings: %w", err)
	}
	return nil
}

// Get returns the locally cached settings document.
func (s *SettingsService) Get(ctx context.Context, pubky string) (*models.UserSettings, error) {
	return s.settings.Get(ctx, pubky)
}
