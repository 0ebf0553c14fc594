package captions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// PairStats counts the outcomes of one Pair pass.
type PairStats struct {
	PairsCreated int // image copy + caption file pairs written
	MissingImage int // CSV rows whose source image does not exist
	Skipped      int // rows with blank fields or unrecognized extensions
	Errors       int // rows that failed while copying or writing
}

// Pair reads the CSV at csvPath row by row and, for each usable row,
// copies <imageDir>/<filename> to <outDir>/<base>_pair<row><ext> and
// writes the row's caption to <outDir>/<base>_pair<row>.txt. One image
// referenced by several rows yields several independent pairs. Row-level
// failures are counted and logged; only CSV-level problems are fatal.
func Pair(ctx context.Context, csvPath, imageDir, outDir string) (PairStats, error) {
	var st PairStats

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return st, fmt.Errorf("create output directory %q: %w", outDir, err)
	}

	skipped, err := forEachRow(csvPath, func(r row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !isPairableImage(r.Filename) {
			st.Skipped++
			return nil
		}

		src := filepath.Join(imageDir, r.Filename)
		if _, err := os.Stat(src); err != nil {
			st.MissingImage++
			return nil
		}

		ext := filepath.Ext(r.Filename)
		base := strings.TrimSuffix(r.Filename, ext)
		pairID := fmt.Sprintf("%s_pair%d", base, r.Index)
		dstImg := filepath.Join(outDir, pairID+ext)
		dstTxt := filepath.Join(outDir, pairID+".txt")

		if err := copyFile(src, dstImg); err != nil {
			st.Errors++
			slog.Warn("pair: copy image", "src", src, "error", err)
			return nil
		}
		if err := os.WriteFile(dstTxt, []byte(r.Caption), 0o644); err != nil {
			st.Errors++
			slog.Warn("pair: write caption", "path", dstTxt, "error", err)
			os.Remove(dstImg) // don't leave a caption-less half pair behind
			return nil
		}
		st.PairsCreated++
		return nil
	})
	st.Skipped += skipped
	return st, err
}

// copyFile copies src to dst, preserving the source's modification time.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}

	if info, err := in.Stat(); err == nil {
		_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	}
	return nil
}
