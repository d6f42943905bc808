package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestScanMediaRoot(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "book-1", "primary.ogg"))
	touch(t, filepath.Join(root, "book-1", "alt.mp3"))
	touch(t, filepath.Join(root, "book-1", "cover.jpg")) // not audio
	touch(t, filepath.Join(root, "book-2", "theme.flac"))
	touch(t, filepath.Join(root, "empty", "readme.txt"))
	touch(t, filepath.Join(root, "stray.ogg")) // not inside an item dir

	items, err := ScanMediaRoot(root, zerolog.Nop())
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	book1 := items[0]
	if book1.ID != "book-1" {
		t.Fatalf("expected book-1 first, got %s", book1.ID)
	}
	if len(book1.Tracks) != 2 {
		t.Fatalf("expected 2 audio tracks, got %d", len(book1.Tracks))
	}

	var sawPrimary bool
	for _, track := range book1.Tracks {
		if track.IsPrimary {
			sawPrimary = true
			if filepath.Base(track.Path) != "primary.ogg" {
				t.Fatalf("wrong primary: %s", track.Path)
			}
		}
		if track.ID == "" {
			t.Fatal("track id must be assigned")
		}
	}
	if !sawPrimary {
		t.Fatal("primary.* file should be flagged as the primary track")
	}

	if items[1].ID != "book-2" || len(items[1].Tracks) != 1 {
		t.Fatalf("unexpected second item: %+v", items[1])
	}
}

func TestScanMediaRootMissingDir(t *testing.T) {
	if _, err := ScanMediaRoot(filepath.Join(t.TempDir(), "nope"), zerolog.Nop()); err == nil {
		t.Fatal("expected an error for a missing media root")
	}
}
