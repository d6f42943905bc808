/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/themeline/internal/models"
)

// audio extensions recognized by the import scanner.
var audioExts = map[string]bool{
	".ogg":  true,
	".oga":  true,
	".opus": true,
	".mp3":  true,
	".flac": true,
	".wav":  true,
	".m4a":  true,
	".aac":  true,
}

// ScannedItem is one directory of the media root: the directory name is the
// item id, its audio files are the candidate tracks.
type ScannedItem struct {
	ID     string
	Tracks []models.Track
}

// ScanMediaRoot walks one level of the media root. A file whose base name
// (without extension) is "primary" becomes the item's primary track.
func ScanMediaRoot(root string, logger zerolog.Logger) ([]ScannedItem, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read media root %s: %w", root, err)
	}

	var items []ScannedItem
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(root, entry.Name())
		tracks, err := scanItemDir(dir)
		if err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("skipping unreadable item directory")
			continue
		}
		if len(tracks) == 0 {
			continue
		}

		items = append(items, ScannedItem{ID: entry.Name(), Tracks: tracks})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func scanItemDir(dir string) ([]models.Track, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !audioExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	tracks := make([]models.Track, 0, len(names))
	for i, name := range names {
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		tracks = append(tracks, models.Track{
			ID:        uuid.New().String(),
			Path:      filepath.Join(dir, name),
			Position:  i,
			IsPrimary: strings.EqualFold(stem, "primary"),
		})
	}
	return tracks, nil
}
