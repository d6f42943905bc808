package models

import "time"

// Item is a selectable library entry owning zero or more theme tracks.
// The ID is the host application's library identifier, opaque to us.
type Item struct {
	ID        string `gorm:"primaryKey"`
	Title     string `gorm:"index"`
	Tracks    []Track
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Track is a candidate theme for an item. Duration is only known after a
// scan or a successful load and may be zero.
type Track struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	ItemID    string `gorm:"index"`
	Path      string
	Position  int  // declared order within the item
	IsPrimary bool // preferred track, played on first selection
	Duration  time.Duration
	CreatedAt time.Time
	UpdatedAt time.Time
}
