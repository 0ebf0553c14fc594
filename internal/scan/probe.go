package scan

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	// Header decoders for every recognized extension. DecodeConfig reads
	// dimensions from the header without decoding pixel data.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Prober reads image dimensions from file headers. The zero value probes
// with no time bound; set Timeout to cap how long a single file may take.
type Prober struct {
	Timeout time.Duration
}

// Probe returns the (width, height) of the image at path. Any failure —
// open error, truncated file, unsupported or corrupt format — comes back
// as an error for the caller to count; Probe never panics or aborts the
// run. For JPEG and TIFF files an EXIF orientation that rotates the image
// a quarter turn swaps the reported axes, so dimensions reflect the image
// as displayed.
func (p Prober) Probe(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	if p.Timeout > 0 {
		// Closing the file unblocks any read a pathological input might
		// be stuck in, failing the decode instead of stalling the worker.
		watchdog := time.AfterFunc(p.Timeout, func() { f.Close() })
		defer watchdog.Stop()
	}

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("non-positive dimensions %dx%d", cfg.Width, cfg.Height)
	}

	w, h := cfg.Width, cfg.Height
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".tiff":
		if exifSwapsAxes(f) {
			w, h = h, w
		}
	}
	return w, h, nil
}

// exifSwapsAxes reports whether f carries an EXIF orientation (5–8) that
// rotates the image by 90 degrees, i.e. displayed width and height are
// swapped relative to the stored ones. Missing or unreadable EXIF data is
// simply "no swap".
func exifSwapsAxes(f *os.File) bool {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false
	}
	x, err := exif.Decode(f)
	if err != nil {
		return false
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return false
	}
	o, err := tag.Int(0)
	if err != nil {
		return false
	}
	return o >= 5 && o <= 8
}
