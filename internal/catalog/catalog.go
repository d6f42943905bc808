/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog resolves library items to their candidate track paths.
// Tracks live in the database; an optional YAML theme file overrides the
// database per item.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/themeline/internal/cache"
	"github.com/friendsincode/themeline/internal/engine"
	"github.com/friendsincode/themeline/internal/models"
)

// Store is the database-backed track catalog. An unknown item resolves to
// an empty track list, not an error; the engine treats that as "use the
// fallback track".
type Store struct {
	db     *gorm.DB
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewStore creates the catalog store. cache may be nil.
func NewStore(db *gorm.DB, c *cache.Cache, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		cache:  c,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

// TracksFor returns the ordered candidate paths for an item plus its
// optional primary.
func (s *Store) TracksFor(ctx context.Context, itemID string) (engine.TrackList, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetItemTracks(ctx, itemID); ok {
			return engine.TrackList{Paths: cached.Paths, Primary: cached.Primary}, nil
		}
	}

	var tracks []models.Track
	err := s.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("position asc").
		Find(&tracks).Error
	if err != nil {
		return engine.TrackList{}, fmt.Errorf("query tracks for %s: %w", itemID, err)
	}

	list := engine.TrackList{Paths: make([]string, 0, len(tracks))}
	for _, t := range tracks {
		list.Paths = append(list.Paths, t.Path)
		if t.IsPrimary {
			list.Primary = t.Path
		}
	}

	if s.cache != nil {
		_ = s.cache.SetItemTracks(ctx, itemID, cache.CachedTrackList{
			Paths:   list.Paths,
			Primary: list.Primary,
		})
	}

	return list, nil
}

// UpsertItem creates or updates an item record.
func (s *Store) UpsertItem(ctx context.Context, item *models.Item) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "updated_at"}),
		}).
		Create(item).Error
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", item.ID, err)
	}
	return nil
}

// ReplaceTracks swaps an item's track set atomically.
func (s *Store) ReplaceTracks(ctx context.Context, itemID string, tracks []models.Track) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("item_id = ?", itemID).Delete(&models.Track{}).Error; err != nil {
			return fmt.Errorf("delete tracks for %s: %w", itemID, err)
		}
		if len(tracks) == 0 {
			return nil
		}
		for i := range tracks {
			tracks[i].ItemID = itemID
			tracks[i].Position = i
		}
		if err := tx.Create(&tracks).Error; err != nil {
			return fmt.Errorf("create tracks for %s: %w", itemID, err)
		}
		return nil
	})
}

// Item returns one item with its tracks, or gorm.ErrRecordNotFound.
func (s *Store) Item(ctx context.Context, itemID string) (*models.Item, error) {
	var item models.Item
	err := s.db.WithContext(ctx).
		Preload("Tracks", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		First(&item, "id = ?", itemID).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Items lists all items with their tracks.
func (s *Store) Items(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	err := s.db.WithContext(ctx).
		Preload("Tracks", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// Invalidate drops the cached track list for an item.
func (s *Store) Invalidate(ctx context.Context, itemID string) {
	if s.cache != nil {
		_ = s.cache.InvalidateItemTracks(ctx, itemID)
	}
}

// Layered puts a theme-file provider in front of the store: items declared
// in the theme file win, everything else falls through to the database.
type Layered struct {
	theme *ThemeProvider
	store engine.Catalog
}

// NewLayered builds the layered provider. Either layer may be nil.
func NewLayered(theme *ThemeProvider, store engine.Catalog) *Layered {
	return &Layered{theme: theme, store: store}
}

// TracksFor implements engine.Catalog.
func (l *Layered) TracksFor(ctx context.Context, itemID string) (engine.TrackList, error) {
	if l.theme != nil && l.theme.Has(itemID) {
		return l.theme.TracksFor(ctx, itemID)
	}
	if l.store == nil {
		return engine.TrackList{}, nil
	}
	list, err := l.store.TracksFor(ctx, itemID)
	if err != nil && errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.TrackList{}, nil
	}
	return list, err
}
