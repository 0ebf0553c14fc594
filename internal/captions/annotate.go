package captions

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// captionSeparator joins multiple captions in one annotation file.
const captionSeparator = "\n\n"

// AnnotateStats counts the outcomes of one Annotate pass.
type AnnotateStats struct {
	ImagesFound     int // recognized image files seen in the directory
	TxtCreated      int // annotation files written
	AlreadyExists   int // annotation file was already present, left untouched
	MissingCaption  int // image had no entry in the lookup
	NonImageSkipped int // directory entries that are not recognized images
	WriteErrors     int // annotation files that could not be written
}

// Annotate walks the flat directory imageDir and, for every recognized
// image file with at least one caption in lookup, writes <base>.txt next
// to it containing all captions joined by a blank line. Existing .txt
// files are never overwritten. Per-file write failures are logged and
// counted, never fatal.
func Annotate(ctx context.Context, lookup Lookup, imageDir string) (AnnotateStats, error) {
	var st AnnotateStats

	entries, err := os.ReadDir(imageDir)
	if err != nil {
		return st, fmt.Errorf("read image directory %q: %w", imageDir, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			st.NonImageSkipped++
			continue
		}
		name := entry.Name()
		if !isPairableImage(name) {
			st.NonImageSkipped++
			continue
		}
		st.ImagesFound++

		caps, ok := lookup[name]
		if !ok {
			st.MissingCaption++
			continue
		}

		base := strings.TrimSuffix(name, filepath.Ext(name))
		txtPath := filepath.Join(imageDir, base+".txt")
		if _, err := os.Stat(txtPath); err == nil {
			st.AlreadyExists++
			continue
		}

		content := strings.Join(caps, captionSeparator)
		if err := os.WriteFile(txtPath, []byte(content), 0o644); err != nil {
			st.WriteErrors++
			slog.Warn("annotate: write caption file", "path", txtPath, "error", err)
			continue
		}
		st.TxtCreated++
	}

	return st, nil
}
