package display

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/sarchlab/corevm/devices/vga"
)

// Format is an image file format for screenshots.
type Format int

// Supported screenshot formats.
const (
	FormatPNG Format = iota
	FormatBMP
	FormatTIFF
)

// FormatForPath picks the format from a file extension, defaulting to PNG.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bmp":
		return FormatBMP
	case ".tif", ".tiff":
		return FormatTIFF
	}
	return FormatPNG
}

// Encode renders a snapshot and writes it in the given format.
func Encode(w io.Writer, s *vga.Snapshot, format Format) error {
	return encodeImage(w, Render(s), format)
}

func encodeImage(w io.Writer, img image.Image, format Format) error {
	switch format {
	case FormatBMP:
		return bmp.Encode(w, img)
	case FormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return png.Encode(w, img)
	}
}

// SaveScreenshot writes the snapshot to path, choosing the format from its
// extension.
func SaveScreenshot(path string, s *vga.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create screenshot: %w", err)
	}

	if err := Encode(f, s, FormatForPath(path)); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode screenshot: %w", err)
	}
	return f.Close()
}
