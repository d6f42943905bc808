/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/themeline/internal/engine"
)

// themeDocument is the on-disk shape of a theme file.
//
//	items:
//	  - id: book-1234
//	    primary: book-1234/main.ogg
//	    tracks:
//	      - book-1234/main.ogg
//	      - book-1234/alt.ogg
type themeDocument struct {
	Items []themeItem `yaml:"items"`
}

type themeItem struct {
	ID      string   `yaml:"id"`
	Primary string   `yaml:"primary"`
	Tracks  []string `yaml:"tracks"`
}

// ThemeProvider serves track lists from a static YAML file. Relative track
// paths resolve against the media root.
type ThemeProvider struct {
	mu    sync.RWMutex
	path  string
	root  string
	items map[string]engine.TrackList
}

// LoadTheme reads and validates a theme file.
func LoadTheme(path, mediaRoot string) (*ThemeProvider, error) {
	p := &ThemeProvider{path: path, root: mediaRoot}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the theme file, replacing the item set on success and
// keeping the previous set on failure.
func (p *ThemeProvider) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read theme file: %w", err)
	}

	var doc themeDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse theme file %s: %w", p.path, err)
	}

	items := make(map[string]engine.TrackList, len(doc.Items))
	for _, it := range doc.Items {
		if it.ID == "" {
			return fmt.Errorf("theme file %s: item with empty id", p.path)
		}
		list := engine.TrackList{Paths: make([]string, 0, len(it.Tracks))}
		for _, t := range it.Tracks {
			list.Paths = append(list.Paths, p.resolve(t))
		}
		if it.Primary != "" {
			list.Primary = p.resolve(it.Primary)
		}
		items[it.ID] = list
	}

	p.mu.Lock()
	p.items = items
	p.mu.Unlock()
	return nil
}

// Has reports whether the theme file declares the item.
func (p *ThemeProvider) Has(itemID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.items[itemID]
	return ok
}

// TracksFor implements engine.Catalog.
func (p *ThemeProvider) TracksFor(_ context.Context, itemID string) (engine.TrackList, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.items[itemID], nil
}

// Len returns the number of declared items.
func (p *ThemeProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

func (p *ThemeProvider) resolve(track string) string {
	if filepath.IsAbs(track) || p.root == "" {
		return track
	}
	return filepath.Join(p.root, track)
}
