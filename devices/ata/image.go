package ata

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// ErrReadOnly is returned when writing to an image opened read-only.
var ErrReadOnly = errors.New("image is read-only")

// Image is the backing store of a drive. Its size is rounded down to a
// whole number of sectors by the controller.
type Image interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
	Flush() error
	Close() error
}

// MemImage is an Image held in host memory.
type MemImage struct {
	data []byte
}

// NewMemImage wraps data as a disk image. The slice is used in place.
func NewMemImage(data []byte) *MemImage {
	return &MemImage{data: data}
}

// Bytes returns the image contents.
func (m *MemImage) Bytes() []byte {
	return m.data
}

// Size returns the image length in bytes.
func (m *MemImage) Size() int64 {
	return int64(len(m.data))
}

// ReadAt implements io.ReaderAt.
func (m *MemImage) ReadAt(p []byte, off int64) (int, error) {
	return readAt(m.data, p, off)
}

// WriteAt implements io.WriterAt.
func (m *MemImage) WriteAt(p []byte, off int64) (int, error) {
	return writeAt(m.data, p, off)
}

// Flush is a no-op.
func (m *MemImage) Flush() error { return nil }

// Close is a no-op.
func (m *MemImage) Close() error { return nil }

func readAt(data, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func writeAt(data, p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(data)) {
		return 0, fmt.Errorf("write of %d bytes at %d: beyond image end %d", len(p), off, len(data))
	}
	return copy(data[off:], p), nil
}

// FileImage is an Image backed by a host file mapped into memory.
type FileImage struct {
	file     *os.File
	data     []byte
	readOnly bool
}

// OpenFileImage maps the file at path. Writes reach the file through the
// shared mapping; Flush forces them to disk.
func OpenFileImage(path string, readOnly bool) (*FileImage, error) {
	flag, prot := os.O_RDWR, unix.PROT_READ|unix.PROT_WRITE
	if readOnly {
		flag, prot = os.O_RDONLY, unix.PROT_READ
	}

	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open disk image: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat disk image: %w", err)
	}
	if info.Size() < SectorSize {
		_ = f.Close()
		return nil, fmt.Errorf("disk image %s: %d bytes is smaller than one sector", path, info.Size())
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), prot, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("map disk image: %w", err)
	}

	return &FileImage{file: f, data: data, readOnly: readOnly}, nil
}

// Size returns the file length in bytes.
func (f *FileImage) Size() int64 {
	return int64(len(f.data))
}

// ReadAt implements io.ReaderAt.
func (f *FileImage) ReadAt(p []byte, off int64) (int, error) {
	return readAt(f.data, p, off)
}

// WriteAt implements io.WriterAt.
func (f *FileImage) WriteAt(p []byte, off int64) (int, error) {
	if f.readOnly {
		return 0, ErrReadOnly
	}
	return writeAt(f.data, p, off)
}

// Flush synchronously writes dirty pages back to the file.
func (f *FileImage) Flush() error {
	if f.readOnly || f.data == nil {
		return nil
	}
	if err := unix.Msync(f.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("sync disk image: %w", err)
	}
	return nil
}

// Close flushes, unmaps and closes the file.
func (f *FileImage) Close() error {
	if f.data == nil {
		return nil
	}
	flushErr := f.Flush()
	unmapErr := unix.Munmap(f.data)
	f.data = nil
	closeErr := f.file.Close()
	return errors.Join(flushErr, unmapErr, closeErr)
}
