// Package captions implements the dataset caption tooling: loading the
// quilt lookup CSV and materializing caption text files next to (or paired
// with copies of) the image files. It is independent of the statistics
// pipeline; the two only share a directory on disk.
package captions

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// pairExts is the extension set the caption tools accept. Unlike the
// statistics engine it also takes .tif, which occurs in the lookup CSV.
var pairExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {},
	".bmp": {}, ".tif": {}, ".tiff": {}, ".webp": {},
}

func isPairableImage(name string) bool {
	_, ok := pairExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Lookup maps an image filename (base name, no directory) to every caption
// recorded for it, in CSV row order.
type Lookup map[string][]string

// row is one usable CSV record.
type row struct {
	Index    int // 0-based data-row index, header excluded
	Filename string
	Caption  string
}

// forEachRow streams the CSV at path, calling fn for every row with a
// non-empty image path and caption. Rows missing either field are counted
// in skipped. The header must contain image_path and caption columns;
// their absence is a fatal error.
func forEachRow(path string, fn func(row) error) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open csv %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate ragged rows; they just come up blank

	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("read csv header %q: %w", path, err)
	}
	pathIdx, captionIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case "image_path":
			pathIdx = i
		case "caption":
			captionIdx = i
		}
	}
	if pathIdx < 0 || captionIdx < 0 {
		return 0, fmt.Errorf("csv %q must contain image_path and caption columns", path)
	}

	for index := 0; ; index++ {
		record, err := r.Read()
		if err == io.EOF {
			return skipped, nil
		}
		if err != nil {
			return skipped, fmt.Errorf("read csv row %d: %w", index, err)
		}

		var imgPath, caption string
		if pathIdx < len(record) {
			imgPath = strings.TrimSpace(record[pathIdx])
		}
		if captionIdx < len(record) {
			caption = strings.TrimSpace(record[captionIdx])
		}
		if imgPath == "" || caption == "" {
			skipped++
			continue
		}

		if err := fn(row{Index: index, Filename: filepath.Base(imgPath), Caption: caption}); err != nil {
			return skipped, err
		}
	}
}

// LoadLookup reads the whole CSV into memory as a filename → captions map.
// Returns the map, the number of data rows read, and the number skipped
// for blank fields.
func LoadLookup(path string) (Lookup, int, int, error) {
	lookup := Lookup{}
	rows := 0
	skipped, err := forEachRow(path, func(r row) error {
		rows++
		lookup[r.Filename] = append(lookup[r.Filename], r.Caption)
		return nil
	})
	if err != nil {
		return nil, 0, 0, err
	}
	return lookup, rows + skipped, skipped, nil
}
