// Package imagestore keeps request photos in a flat directory.
package imagestore

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// MaxUploadSize is the largest accepted image, in bytes.
const MaxUploadSize int64 = 5 * 1024 * 1024

const stampLayout = "20060102_150405"

// sniffLen is how many leading bytes decide the stored format.
const sniffLen = 512

// allowedTypes maps the sniffed content types that may be stored to their
// file extension. The extension never comes from the client.
var allowedTypes = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// dataURLFormats are the formats accepted in data:image/<fmt> headers.
var dataURLFormats = map[string]bool{"png": true, "jpeg": true, "jpg": true, "gif": true, "webp": true}

var (
	// ErrInvalidImage is returned for uploads that are not images or are too
	// large. The wrapping error carries the reason.
	ErrInvalidImage = errors.New("invalid image")
	// ErrInvalidName is returned for filenames that are not a bare name
	// inside the image directory.
	ErrInvalidName = errors.New("invalid image filename")
)

// Store saves and serves image files under Dir.
type Store struct {
	Dir string
	Now func() time.Time
}

// New returns a Store rooted at dir. The directory is created on first save.
func New(dir string) *Store {
	return &Store{Dir: dir, Now: time.Now}
}

// Upload describes a multipart file part.
type Upload struct {
	Size        int64
	ContentType string
	Filename    string
}

// SaveDataURL decodes a data:image/<fmt>;base64,<payload> URL and writes it
// as <timestamp>_<item name>.<ext>, ext following the decoded content. It
// returns the stored filename.
func (s *Store) SaveDataURL(dataURL, itemName string) (string, error) {
	_, payload, err := parseDataURL(dataURL)
	if err != nil {
		return "", err
	}
	data, err := decodeBase64(payload)
	if err != nil {
		return "", fmt.Errorf("%w: decode base64: %v", ErrInvalidImage, err)
	}
	if int64(len(data)) > MaxUploadSize {
		return "", fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrInvalidImage, len(data), MaxUploadSize)
	}

	ext, err := sniffExt(data)
	if err != nil {
		return "", err
	}

	base := s.Now().Format(stampLayout) + "_" + sanitizeName(itemName)
	name, err := s.write(base, ext, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	return name, nil
}

// SaveUpload stores an uploaded file for request id as
// material_<id>_<timestamp>.<ext>. Only png, jpeg, gif and webp content is
// accepted and ext follows the content, whatever the client named the file.
func (s *Store) SaveUpload(r io.Reader, up Upload, requestID uint) (string, error) {
	if !strings.HasPrefix(strings.ToLower(up.ContentType), "image/") {
		return "", fmt.Errorf("%w: content type %q is not an image", ErrInvalidImage, up.ContentType)
	}
	if up.Size > MaxUploadSize {
		return "", fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrInvalidImage, up.Size, MaxUploadSize)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("imagestore: read upload: %w", err)
	}
	head = head[:n]
	ext, err := sniffExt(head)
	if err != nil {
		return "", err
	}

	base := fmt.Sprintf("material_%d_%s", requestID, s.Now().Format(stampLayout))
	body := io.MultiReader(bytes.NewReader(head), r)
	return s.write(base, ext, io.LimitReader(body, MaxUploadSize+1))
}

// sniffExt returns the stored extension for data, or ErrInvalidImage when
// the content is not an allowed image type.
func sniffExt(data []byte) (string, error) {
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}
	ct := http.DetectContentType(data)
	ext, ok := allowedTypes[ct]
	if !ok {
		return "", fmt.Errorf("%w: content is %s, want png, jpeg, gif or webp", ErrInvalidImage, ct)
	}
	return ext, nil
}

// write creates base.ext, or base_N.ext when the name is taken, and copies r
// into it.
func (s *Store) write(base, ext string, r io.Reader) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("imagestore: create dir: %w", err)
	}

	var (
		f    *os.File
		name string
		err  error
	)
	for i := 0; i < 100; i++ {
		name = base + "." + ext
		if i > 0 {
			name = fmt.Sprintf("%s_%d.%s", base, i, ext)
		}
		f, err = os.OpenFile(filepath.Join(s.Dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil || !errors.Is(err, fs.ErrExist) {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("imagestore: create %s: %w", name, err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxUploadSize {
		err = fmt.Errorf("%w: upload exceeds the %d byte limit", ErrInvalidImage, MaxUploadSize)
	}
	if err != nil {
		os.Remove(filepath.Join(s.Dir, name))
		if errors.Is(err, ErrInvalidImage) {
			return "", err
		}
		return "", fmt.Errorf("imagestore: write %s: %w", name, err)
	}
	return name, nil
}

// Delete removes filename. A missing file is not an error.
func (s *Store) Delete(filename string) error {
	p, err := s.Path(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("imagestore: delete %s: %w", filename, err)
	}
	return nil
}

// Path returns the location of filename inside the image directory. Names
// with separators or parent references are rejected.
func (s *Store) Path(filename string) (string, error) {
	if filename == "" || filename == "." || filename == ".." ||
		strings.ContainsAny(filename, `/\`) || filepath.Base(filename) != filename ||
		strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("imagestore: %w: %q", ErrInvalidName, filename)
	}
	return filepath.Join(s.Dir, filename), nil
}

// Exists reports whether filename is a regular file in the image directory.
func (s *Store) Exists(filename string) bool {
	p, err := s.Path(filename)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func parseDataURL(dataURL string) (format, payload string, err error) {
	const prefix = "data:image/"
	if !strings.HasPrefix(dataURL, prefix) {
		return "", "", fmt.Errorf("%w: not an image data url", ErrInvalidImage)
	}
	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok {
		return "", "", fmt.Errorf("%w: data url has no payload", ErrInvalidImage)
	}
	format, params, _ := strings.Cut(strings.TrimPrefix(header, prefix), ";")
	format = strings.ToLower(format)
	if !dataURLFormats[format] {
		return "", "", fmt.Errorf("%w: image format %q", ErrInvalidImage, format)
	}
	if params != "base64" {
		return "", "", fmt.Errorf("%w: data url is not base64 encoded", ErrInvalidImage)
	}
	return format, payload, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	return data, nil
}

// sanitizeName keeps letters, digits, spaces, '-' and '_' and truncates to
// 20 runes.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	runes := []rune(strings.TrimSpace(b.String()))
	if len(runes) > 20 {
		runes = runes[:20]
	}
	if len(runes) == 0 {
		return "image"
	}
	return string(runes)
}
