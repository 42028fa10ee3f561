package imagestore

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// ThumbnailWidth is the width of list page previews.
const ThumbnailWidth = 200

// Thumbnail returns a JPEG of filename scaled to width, keeping the aspect
// ratio. EXIF orientation is applied.
func (s *Store) Thumbnail(filename string, width int) ([]byte, error) {
	p, err := s.Path(filename)
	if err != nil {
		return nil, err
	}
	if width <= 0 {
		width = ThumbnailWidth
	}
	img, err := imaging.Open(p, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("imagestore: decode %s: %w", filename, err)
	}
	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, fmt.Errorf("imagestore: encode thumbnail %s: %w", filename, err)
	}
	return buf.Bytes(), nil
}

// WriteArchive writes a zip of every image to w and returns the number of
// files included.
func (s *Store) WriteArchive(w io.Writer) (int, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("imagestore: read dir: %w", err)
	}

	zw := zip.NewWriter(w)
	n := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name()[0] == '.' {
			continue
		}
		if err := addToZip(zw, filepath.Join(s.Dir, e.Name()), e.Name()); err != nil {
			zw.Close()
			return n, err
		}
		n++
	}
	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("imagestore: finish archive: %w", err)
	}
	return n, nil
}

func addToZip(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("imagestore: archive %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("imagestore: archive %s: %w", name, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("imagestore: archive %s: %w", name, err)
	}
	// Images are already compressed.
	hdr.Method = zip.Store
	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("imagestore: archive %s: %w", name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("imagestore: archive %s: %w", name, err)
	}
	return nil
}
